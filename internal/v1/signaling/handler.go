package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telemeet/sfu/internal/v1/lifecycle"
	"github.com/telemeet/sfu/internal/v1/logging"
	"github.com/telemeet/sfu/internal/v1/media"
	"github.com/telemeet/sfu/internal/v1/metrics"
	"github.com/telemeet/sfu/internal/v1/protocol"
	"github.com/telemeet/sfu/internal/v1/registry"
	"github.com/telemeet/sfu/internal/v1/room"
)

// Handler executes signaling verbs against the registries and the media
// router. One instance serves every connection; per-connection ordering is
// guaranteed by the connection's read loop calling Dispatch serially.
//
// Handler also keeps the clientID → session index and implements
// lifecycle.Presence so the disconnect cascade can clear it.
type Handler struct {
	router media.Router
	reg    *registry.Registry
	rooms  *room.Rooms
	sup    *lifecycle.Supervisor

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHandler builds the handler and binds it to the supervisor as the
// presence index.
func NewHandler(router media.Router, reg *registry.Registry, rooms *room.Rooms, sup *lifecycle.Supervisor) *Handler {
	h := &Handler{
		router:   router,
		reg:      reg,
		rooms:    rooms,
		sup:      sup,
		sessions: make(map[string]*Session),
	}
	sup.BindPresence(h)
	return h
}

// NewSession creates the state for a fresh connection.
func (h *Handler) NewSession(emitter room.Emitter) *Session {
	return &Session{
		ConnectionID: uuid.NewString(),
		CreatedAt:    time.Now(),
		emitter:      emitter,
	}
}

// Session returns the live session for a joined client, if any.
func (h *Handler) Session(clientID string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[clientID]
	return s, ok
}

// Forget removes the client from the session index. Called by the
// supervisor at the end of the disconnect cascade.
func (h *Handler) Forget(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, clientID)
}

// HandleDisconnect runs the cleanup cascade for a closed connection. Safe to
// call for sessions that never joined.
func (h *Handler) HandleDisconnect(ctx context.Context, sess *Session) {
	clientID := sess.ClientID()
	if clientID == "" {
		return
	}

	// A superseded session has already been evicted from the index; its
	// resources were torn down by the supersession cascade and the clientID
	// now belongs to the new session.
	h.mu.Lock()
	current := h.sessions[clientID]
	h.mu.Unlock()
	if current != sess {
		return
	}

	h.sup.OnDisconnect(ctx, clientID)
}

// Dispatch executes one request and returns the ack body. Expected failures
// come back as protocol.ErrorAck; panics are contained per-request and
// surface the same way.
func (h *Handler) Dispatch(ctx context.Context, sess *Session, env protocol.Envelope) (body any) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.Error(ctx, "Panic while processing signaling event",
				zap.String("event", string(env.Event)),
				zap.Any("panic", r))
			body = protocol.Errorf("internal error")
		}
		status := "ok"
		if _, failed := body.(protocol.ErrorAck); failed {
			status = "error"
		}
		metrics.SignalingEvents.WithLabelValues(string(env.Event), status).Inc()
		metrics.MessageProcessingDuration.WithLabelValues(string(env.Event)).Observe(time.Since(start).Seconds())
	}()

	switch env.Event {
	case protocol.EventGetRtpCapabilities:
		return h.getRtpCapabilities()
	case protocol.EventJoinRoom:
		return h.joinRoom(ctx, sess, env.Data)
	case protocol.EventCreateTransport:
		return h.createTransport(ctx, sess, env.Data)
	case protocol.EventConnectTransport:
		return h.connectTransport(ctx, sess, env.Data)
	case protocol.EventProduce:
		return h.produce(ctx, sess, env.Data)
	case protocol.EventConsume:
		return h.consume(ctx, sess, env.Data)
	case protocol.EventCloseAllScreenShares:
		return h.closeAllScreenShares(ctx, sess, env.Data)
	case protocol.EventGetStats:
		return h.getStats(sess)
	default:
		return protocol.Errorf("unknown event %q", env.Event)
	}
}

// --- Verbs ---

func (h *Handler) getRtpCapabilities() any {
	return protocol.RtpCapabilitiesAck{RTPCapabilities: h.router.RTPCapabilities()}
}

func (h *Handler) joinRoom(ctx context.Context, sess *Session, data json.RawMessage) any {
	var req protocol.JoinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.Errorf("invalid joinRoom payload: %v", err)
	}
	if err := req.Validate(); err != nil {
		return protocol.Errorf("%v", err)
	}
	if sess.Joined() {
		return protocol.Errorf("already joined room %s", sess.RoomID())
	}

	// A reconnect with an id that is still registered supersedes the prior
	// session: its connection is closed and its resources torn down before
	// the new session takes the id over.
	h.mu.Lock()
	prev := h.sessions[req.ClientID]
	h.mu.Unlock()
	if prev != nil {
		logging.Info(ctx, "Superseding existing session",
			zap.String("clientId", req.ClientID),
			zap.String("oldConnectionId", prev.ConnectionID),
			zap.String("newConnectionId", sess.ConnectionID))
		prev.Emitter().Disconnect()
		h.sup.OnDisconnect(ctx, req.ClientID)
	}

	h.mu.Lock()
	if _, taken := h.sessions[req.ClientID]; taken {
		// Lost a concurrent join race for the same id.
		h.mu.Unlock()
		return protocol.Errorf("clientId %s is already in use", req.ClientID)
	}
	h.sessions[req.ClientID] = sess
	h.mu.Unlock()

	sess.markJoined(req.ClientID, req.RoomID)

	// Membership before the producer snapshot: a produce racing this join
	// either lands in the snapshot or broadcasts newProducer to the member
	// already registered here. A duplicate is possible, a miss is not.
	h.rooms.Join(req.RoomID, req.ClientID, sess.Emitter())
	producers := h.listProducerInfos(req.ClientID)
	h.rooms.Broadcast(req.RoomID, protocol.EventClientJoined,
		protocol.ClientJoinedEvent{ClientID: req.ClientID}, req.ClientID)

	logging.Info(ctx, "Client joined room",
		zap.String("clientId", req.ClientID),
		zap.String("roomId", req.RoomID),
		zap.Int("existingProducers", len(producers)))

	return protocol.JoinRoomAck{Producers: producers}
}

func (h *Handler) createTransport(ctx context.Context, sess *Session, data json.RawMessage) any {
	var req protocol.CreateTransportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.Errorf("invalid createTransport payload: %v", err)
	}
	if !sess.Joined() {
		return protocol.Errorf("must join a room first")
	}
	direction, err := media.ParseDirection(req.Type)
	if err != nil {
		return protocol.Errorf("%v", err)
	}
	if id := sess.TransportID(direction); id != "" {
		if _, ok := h.reg.GetTransport(id); ok {
			return protocol.Errorf("%s transport already exists", direction)
		}
		// The transport was removed out of band (reaper, DTLS close); let
		// the client allocate a replacement.
		sess.setTransportID(direction, "")
	}

	info, err := h.router.CreateTransport(ctx, direction)
	if err != nil {
		logging.Error(ctx, "Transport creation failed",
			zap.String("clientId", sess.ClientID()), zap.Error(err))
		return protocol.Errorf("failed to create transport")
	}

	if err := h.reg.PutTransport(registry.Transport{
		ID:        info.ID,
		Owner:     sess.ClientID(),
		Direction: direction,
	}); err != nil {
		h.router.CloseTransport(info.ID)
		return protocol.Errorf("failed to register transport")
	}
	sess.setTransportID(direction, info.ID)
	h.sup.WatchTransport(info.ID)

	return protocol.CreateTransportAck{TransportOptions: info}
}

func (h *Handler) connectTransport(ctx context.Context, sess *Session, data json.RawMessage) any {
	var req protocol.ConnectTransportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.Errorf("invalid connectTransport payload: %v", err)
	}
	if err := req.Validate(); err != nil {
		return protocol.Errorf("%v", err)
	}
	if !sess.Joined() {
		return protocol.Errorf("must join a room first")
	}

	t, ok := h.reg.GetTransport(req.TransportID)
	if !ok {
		return protocol.Errorf("transport not found")
	}
	if t.Owner != sess.ClientID() {
		return protocol.Errorf("transport not owned by client")
	}

	if err := h.router.ConnectTransport(ctx, req.TransportID, req.DTLSParameters); err != nil {
		logging.Error(ctx, "Transport connect failed",
			zap.String("transportId", req.TransportID), zap.Error(err))
		return protocol.Errorf("failed to connect transport")
	}
	if err := h.reg.MarkConnected(req.TransportID); err != nil {
		// Closed between connect and registration; treat as gone.
		return protocol.Errorf("transport not found")
	}

	return protocol.ConnectTransportAck{}
}

func (h *Handler) produce(ctx context.Context, sess *Session, data json.RawMessage) any {
	var req protocol.ProduceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.Errorf("invalid produce payload: %v", err)
	}
	if err := req.Validate(); err != nil {
		return protocol.Errorf("%v", err)
	}
	if !sess.Joined() {
		return protocol.Errorf("must join a room first")
	}

	t, ok := h.reg.GetTransport(req.TransportID)
	if !ok {
		return protocol.Errorf("transport not found")
	}
	if t.Owner != sess.ClientID() || t.Direction != media.DirectionSend {
		return protocol.Errorf("produce requires the client's send transport")
	}
	if !t.Connected {
		return protocol.Errorf("transport not connected")
	}

	kind, _ := media.ParseKind(req.Kind)

	var body any
	publish := func() {
		producerID, err := h.router.Produce(ctx, req.TransportID, kind, req.RTPParameters, req.AppData)
		if err != nil {
			logging.Error(ctx, "Produce failed",
				zap.String("clientId", sess.ClientID()), zap.Error(err))
			body = protocol.Errorf("failed to produce")
			return
		}
		if err := h.reg.PutProducer(registry.Producer{
			ID:     producerID,
			Owner:  sess.ClientID(),
			Kind:   kind,
			Source: req.AppData.Source,
		}); err != nil {
			h.router.CloseProducer(producerID)
			body = protocol.Errorf("failed to register producer")
			return
		}
		if req.AppData.Source == media.SourceScreen {
			sess.setScreenProducerID(producerID)
		}

		h.rooms.Broadcast(sess.RoomID(), protocol.EventNewProducer, protocol.ProducerInfo{
			ProducerID: producerID,
			ClientID:   sess.ClientID(),
			Kind:       string(kind),
			AppData:    req.AppData,
		}, sess.ClientID())

		logging.Info(ctx, "Producer created",
			zap.String("clientId", sess.ClientID()),
			zap.String("producerId", producerID),
			zap.String("kind", string(kind)),
			zap.String("source", string(req.AppData.Source)))

		body = protocol.ProduceAck{ProducerID: producerID}
	}

	// Screen publishes serialize with the room's screen-share arbitration so
	// a new share cannot slip in while another client is sweeping.
	if req.AppData.Source == media.SourceScreen {
		h.rooms.WithScreenLock(sess.RoomID(), publish)
	} else {
		publish()
	}
	return body
}

func (h *Handler) consume(ctx context.Context, sess *Session, data json.RawMessage) any {
	var req protocol.ConsumeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return protocol.Errorf("invalid consume payload: %v", err)
	}
	if err := req.Validate(); err != nil {
		return protocol.Errorf("%v", err)
	}
	if !sess.Joined() {
		return protocol.Errorf("must join a room first")
	}

	t, ok := h.reg.GetTransport(req.TransportID)
	if !ok {
		return protocol.Errorf("transport not found")
	}
	if t.Owner != sess.ClientID() || t.Direction != media.DirectionRecv {
		return protocol.Errorf("consume requires the client's recv transport")
	}
	if !t.Connected {
		return protocol.Errorf("transport not connected")
	}
	if _, ok := h.reg.GetProducer(req.ProducerID); !ok {
		return protocol.Errorf("producer not found")
	}

	res, err := h.router.Consume(ctx, req.TransportID, req.ProducerID, req.RTPCapabilities)
	if err != nil {
		if err == media.ErrCannotConsume {
			return protocol.Errorf("client capabilities cannot consume this producer")
		}
		if err == media.ErrProducerNotFound {
			return protocol.Errorf("producer not found")
		}
		logging.Error(ctx, "Consume failed",
			zap.String("producerId", req.ProducerID), zap.Error(err))
		return protocol.Errorf("failed to consume")
	}

	if err := h.reg.PutConsumer(registry.Consumer{
		ID:         res.ConsumerID,
		ProducerID: req.ProducerID,
		Owner:      sess.ClientID(),
		Kind:       res.Kind,
	}); err != nil {
		// Producer closed while the consumer was being negotiated; the
		// registry already discarded the engine-side consumer.
		return protocol.Errorf("producer not found")
	}

	return protocol.ConsumeAck{
		ConsumerID:    res.ConsumerID,
		ProducerID:    req.ProducerID,
		Kind:          string(res.Kind),
		RTPParameters: res.RTPParameters,
	}
}

func (h *Handler) closeAllScreenShares(ctx context.Context, sess *Session, data json.RawMessage) any {
	var req protocol.CloseAllScreenSharesRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return protocol.Errorf("invalid closeAllScreenShares payload: %v", err)
		}
	}
	if !sess.Joined() {
		return protocol.Errorf("must join a room first")
	}

	caller := sess.ClientID()
	roomID := sess.RoomID()

	closed := 0
	h.rooms.WithScreenLock(roomID, func() {
		for member := range h.rooms.Members(roomID) {
			if member == caller {
				continue
			}
			for _, p := range h.reg.ListClientProducers(member) {
				if p.Source != media.SourceScreen {
					continue
				}
				if entry, ok := h.reg.CloseProducer(p.ID); ok {
					closed++
					h.rooms.Broadcast(roomID, protocol.EventProducerClosed,
						protocol.ProducerClosedEvent{ProducerID: entry.ID}, caller)
				}
			}
		}
	})

	logging.Info(ctx, "Closed competing screen shares",
		zap.String("clientId", caller),
		zap.String("roomId", roomID),
		zap.Int("closedCount", closed))

	return protocol.CloseAllScreenSharesAck{ClosedCount: closed}
}

func (h *Handler) getStats(sess *Session) any {
	if !sess.Joined() {
		return protocol.Errorf("must join a room first")
	}
	roomID := sess.RoomID()

	stats := protocol.RoomStats{RoomID: roomID}
	for member := range h.rooms.Members(roomID) {
		stats.Members++
		for _, p := range h.reg.ListClientProducers(member) {
			if p.Source == media.SourceScreen {
				stats.ScreenProducers++
			} else {
				stats.CameraProducers++
			}
		}
		stats.Consumers += len(h.reg.ListClientConsumers(member))
	}
	return stats
}

func (h *Handler) listProducerInfos(excludeClientID string) []protocol.ProducerInfo {
	producers := h.reg.ListProducers(excludeClientID)
	infos := make([]protocol.ProducerInfo, 0, len(producers))
	for _, p := range producers {
		infos = append(infos, protocol.ProducerInfo{
			ProducerID: p.ID,
			ClientID:   p.Owner,
			Kind:       string(p.Kind),
			AppData:    media.AppData{Source: p.Source},
		})
	}
	return infos
}
