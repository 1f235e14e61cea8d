// Package lifecycle owns the asynchronous side of the control plane: the
// engine's cascade events, the disconnect cleanup sequence, and the
// unconnected-transport reaper.
package lifecycle

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/telemeet/sfu/internal/v1/logging"
	"github.com/telemeet/sfu/internal/v1/media"
	"github.com/telemeet/sfu/internal/v1/metrics"
	"github.com/telemeet/sfu/internal/v1/protocol"
	"github.com/telemeet/sfu/internal/v1/registry"
	"github.com/telemeet/sfu/internal/v1/room"
)

// Presence is the session index kept by the signaling handler. The
// supervisor removes a client from it as the final step of the disconnect
// cascade.
type Presence interface {
	Forget(clientID string)
}

// Supervisor applies cleanup to the registries under the same discipline as
// the request handlers. Exactly one instance runs per process.
type Supervisor struct {
	router media.Router
	reg    *registry.Registry
	rooms  *room.Rooms

	transportTimeout time.Duration
	presence         Presence

	// exit is swapped out in tests; in production a dead engine ends the
	// process so clients reconnect to a fresh one.
	exit func()
}

// NewSupervisor creates a supervisor. BindPresence must be called before
// any disconnect can be processed.
func NewSupervisor(router media.Router, reg *registry.Registry, rooms *room.Rooms, transportTimeout time.Duration) *Supervisor {
	return &Supervisor{
		router:           router,
		reg:              reg,
		rooms:            rooms,
		transportTimeout: transportTimeout,
		exit:             func() { os.Exit(1) },
	}
}

// BindPresence wires the session index. Done after construction because the
// signaling handler is built on top of the supervisor.
func (s *Supervisor) BindPresence(p Presence) {
	s.presence = p
}

// Run drains the engine's event stream until the context is cancelled or
// the stream closes. Must run in its own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.router.Events():
			if !ok {
				return
			}
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, ev media.Event) {
	switch ev.Kind {
	case media.EventDTLSStateChange:
		if ev.State == "closed" {
			logging.Info(ctx, "Transport DTLS closed, cleaning up",
				zap.String("transportId", ev.ID))
			s.reg.CloseTransport(ev.ID)
		}

	case media.EventTransportClosed:
		s.reg.CloseTransport(ev.ID)

	case media.EventProducerClosed:
		// Engine-originated close (transport teardown, DTLS close). When
		// the registry entry is still present this event is the first
		// closer and owns the room notification.
		if p, ok := s.reg.CloseProducer(ev.ID); ok {
			if roomID, ok := s.rooms.RoomOf(p.Owner); ok {
				s.rooms.Broadcast(roomID, protocol.EventProducerClosed,
					protocol.ProducerClosedEvent{ProducerID: p.ID}, "")
			}
		}

	case media.EventConsumerClosed, media.EventConsumerProducerClosed:
		s.reg.CloseConsumer(ev.ID)

	case media.EventEngineDied:
		logging.Error(ctx, "media engine died, exiting")
		s.exit()
	}
}

// OnDisconnect runs the full cleanup sequence for a departed client: close
// every owned resource, notify the room about each closed producer and the
// departure itself, drop the room membership and forget the session.
func (s *Supervisor) OnDisconnect(ctx context.Context, clientID string) {
	roomID, inRoom := s.rooms.RoomOf(clientID)

	closed := s.reg.CloseClient(clientID)

	if inRoom {
		for _, p := range closed.Producers {
			s.rooms.Broadcast(roomID, protocol.EventProducerClosed,
				protocol.ProducerClosedEvent{ProducerID: p.ID}, clientID)
		}
		s.rooms.Broadcast(roomID, protocol.EventClientDisconnected,
			protocol.ClientDisconnectedEvent{ClientID: clientID}, clientID)
		s.rooms.Leave(roomID, clientID)
	}

	if s.presence != nil {
		s.presence.Forget(clientID)
	}

	logging.Info(ctx, "Client cleanup complete",
		zap.String("clientId", clientID),
		zap.Int("transports", len(closed.Transports)),
		zap.Int("producers", len(closed.Producers)),
		zap.Int("consumers", len(closed.Consumers)))
}

// WatchTransport arms the unconnected-transport timer. A transport still
// unconnected when it fires is closed and removed; once connected, the
// timer is dropped by the registry.
func (s *Supervisor) WatchTransport(transportID string) {
	s.reg.ArmReaper(transportID, s.transportTimeout, func(id string) {
		if _, ok := s.reg.CloseTransport(id); ok {
			metrics.ReapedTransports.Inc()
			logging.Warn(context.Background(), "Reaped unconnected transport",
				zap.String("transportId", id),
				zap.Duration("timeout", s.transportTimeout))
		}
	})
}
