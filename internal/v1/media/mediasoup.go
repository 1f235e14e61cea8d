package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jiyeyuran/mediasoup-go"
	"github.com/jiyeyuran/mediasoup-go/h264"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/telemeet/sfu/internal/v1/logging"
)

// Config carries the engine settings taken from the environment.
type Config struct {
	// AnnouncedIP is the IP written into ICE candidates. Defaults to
	// loopback for local development.
	AnnouncedIP string

	// RTCMinPort and RTCMaxPort bound the UDP/TCP port range the worker
	// binds for ICE, DTLS and RTP.
	RTCMinPort uint16
	RTCMaxPort uint16
}

// defaultMediaCodecs is the codec set offered by the router: Opus for audio,
// VP8/VP9/H264 for video with standard parameters.
func defaultMediaCodecs() []*mediasoup.RtpCodecCapability {
	return []*mediasoup.RtpCodecCapability{
		{
			Kind:      mediasoup.MediaKind_Audio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      mediasoup.MediaKind_Video,
			MimeType:  "video/VP8",
			ClockRate: 90000,
		},
		{
			Kind:      mediasoup.MediaKind_Video,
			MimeType:  "video/VP9",
			ClockRate: 90000,
		},
		{
			Kind:      mediasoup.MediaKind_Video,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: mediasoup.RtpCodecSpecificParameters{
				RtpParameter: h264.RtpParameter{
					PacketizationMode:     1,
					ProfileLevelId:        "42e01f",
					LevelAsymmetryAllowed: 1,
				},
			},
		},
	}
}

// MediasoupRouter is the production Router backed by a mediasoup worker
// subprocess. One instance serves the whole process.
type MediasoupRouter struct {
	cfg    Config
	worker *mediasoup.Worker
	router *mediasoup.Router

	rtpCapabilities json.RawMessage

	mu         sync.Mutex
	transports map[string]*mediasoup.WebRtcTransport
	producers  map[string]*mediasoup.Producer
	consumers  map[string]*mediasoup.Consumer

	breaker *gobreaker.CircuitBreaker
	events  chan Event

	closeOnce sync.Once
}

// NewMediasoupRouter spawns the worker, creates the router with the default
// codec set and wires the died handler into the event stream.
func NewMediasoupRouter(cfg Config) (*MediasoupRouter, error) {
	if cfg.AnnouncedIP == "" {
		cfg.AnnouncedIP = "127.0.0.1"
	}
	if cfg.RTCMinPort == 0 {
		cfg.RTCMinPort = 10000
	}
	if cfg.RTCMaxPort == 0 {
		cfg.RTCMaxPort = 59999
	}

	worker, err := mediasoup.NewWorker(
		mediasoup.Option(func(s *mediasoup.WorkerSettings) {
			s.LogLevel = mediasoup.WorkerLogLevel_Warn
			s.RtcMinPort = cfg.RTCMinPort
			s.RtcMaxPort = cfg.RTCMaxPort
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn media worker: %w", err)
	}

	router, err := worker.CreateRouter(mediasoup.RouterOptions{
		MediaCodecs: defaultMediaCodecs(),
	})
	if err != nil {
		worker.Close()
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	caps, err := json.Marshal(router.RtpCapabilities())
	if err != nil {
		worker.Close()
		return nil, fmt.Errorf("failed to encode router rtp capabilities: %w", err)
	}

	m := &MediasoupRouter{
		cfg:             cfg,
		worker:          worker,
		router:          router,
		rtpCapabilities: caps,
		transports:      make(map[string]*mediasoup.WebRtcTransport),
		producers:       make(map[string]*mediasoup.Producer),
		consumers:       make(map[string]*mediasoup.Consumer),
		events:          make(chan Event, 1024),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "media-engine",
			Timeout: 10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn(context.Background(), "media engine breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
	}

	// Worker death is fatal for the process; the supervisor turns this
	// event into a logged exit.
	worker.On("died", func(err error) {
		logging.Error(context.Background(), "media worker died", zap.Error(err))
		m.emit(Event{Kind: EventEngineDied})
	})

	return m, nil
}

func (m *MediasoupRouter) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		logging.Error(context.Background(), "media event stream full, dropping event",
			zap.String("kind", string(ev.Kind)), zap.String("id", ev.ID))
	}
}

// RTPCapabilities implements Router.
func (m *MediasoupRouter) RTPCapabilities() json.RawMessage {
	return m.rtpCapabilities
}

// CreateTransport implements Router. Transports listen on all interfaces
// with the configured announced IP, UDP preferred with TCP fallback.
func (m *MediasoupRouter) CreateTransport(ctx context.Context, direction Direction) (*TransportInfo, error) {
	enableUdp := true
	res, err := m.breaker.Execute(func() (any, error) {
		return m.router.CreateWebRtcTransport(mediasoup.WebRtcTransportOptions{
			ListenIps: []mediasoup.TransportListenIp{
				{Ip: "0.0.0.0", AnnouncedIp: m.cfg.AnnouncedIP},
			},
			EnableUdp: &enableUdp,
			EnableTcp: true,
			PreferUdp: true,
			AppData:   mediasoup.H{"direction": string(direction)},
		})
	})
	if err != nil {
		return nil, err
	}
	transport := res.(*mediasoup.WebRtcTransport)

	id := transport.Id()
	m.mu.Lock()
	m.transports[id] = transport
	m.mu.Unlock()

	transport.On("dtlsstatechange", func(state mediasoup.DtlsState) {
		m.emit(Event{Kind: EventDTLSStateChange, ID: id, State: string(state)})
	})
	transport.Observer().On("close", func() {
		m.mu.Lock()
		delete(m.transports, id)
		m.mu.Unlock()
		m.emit(Event{Kind: EventTransportClosed, ID: id})
	})

	iceParams, err := json.Marshal(transport.IceParameters())
	if err != nil {
		transport.Close()
		return nil, err
	}
	iceCandidates, err := json.Marshal(transport.IceCandidates())
	if err != nil {
		transport.Close()
		return nil, err
	}
	dtlsParams, err := json.Marshal(transport.DtlsParameters())
	if err != nil {
		transport.Close()
		return nil, err
	}

	return &TransportInfo{
		ID:             id,
		ICEParameters:  iceParams,
		ICECandidates:  iceCandidates,
		DTLSParameters: dtlsParams,
	}, nil
}

// ConnectTransport implements Router.
func (m *MediasoupRouter) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	m.mu.Lock()
	transport, ok := m.transports[transportID]
	m.mu.Unlock()
	if !ok {
		return ErrTransportNotFound
	}

	var dtls mediasoup.DtlsParameters
	if err := json.Unmarshal(dtlsParameters, &dtls); err != nil {
		return fmt.Errorf("bad dtls parameters: %w", err)
	}

	_, err := m.breaker.Execute(func() (any, error) {
		return nil, transport.Connect(mediasoup.TransportConnectOptions{
			DtlsParameters: &dtls,
		})
	})
	return err
}

// Produce implements Router.
func (m *MediasoupRouter) Produce(ctx context.Context, transportID string, kind Kind, rtpParameters json.RawMessage, appData AppData) (string, error) {
	m.mu.Lock()
	transport, ok := m.transports[transportID]
	m.mu.Unlock()
	if !ok {
		return "", ErrTransportNotFound
	}

	var rtp mediasoup.RtpParameters
	if err := json.Unmarshal(rtpParameters, &rtp); err != nil {
		return "", fmt.Errorf("bad rtp parameters: %w", err)
	}

	res, err := m.breaker.Execute(func() (any, error) {
		return transport.Produce(mediasoup.ProducerOptions{
			Kind:          mediasoup.MediaKind(kind),
			RtpParameters: rtp,
			AppData:       mediasoup.H{"source": string(appData.Source)},
		})
	})
	if err != nil {
		return "", err
	}
	producer := res.(*mediasoup.Producer)

	id := producer.Id()
	m.mu.Lock()
	m.producers[id] = producer
	m.mu.Unlock()

	producer.Observer().On("close", func() {
		m.mu.Lock()
		delete(m.producers, id)
		m.mu.Unlock()
		m.emit(Event{Kind: EventProducerClosed, ID: id})
	})

	return id, nil
}

// Consume implements Router.
func (m *MediasoupRouter) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*ConsumeResult, error) {
	m.mu.Lock()
	transport, ok := m.transports[transportID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrTransportNotFound
	}

	var caps mediasoup.RtpCapabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return nil, fmt.Errorf("bad rtp capabilities: %w", err)
	}
	if !m.router.CanConsume(producerID, caps) {
		return nil, ErrCannotConsume
	}

	res, err := m.breaker.Execute(func() (any, error) {
		return transport.Consume(mediasoup.ConsumerOptions{
			ProducerId:      producerID,
			RtpCapabilities: caps,
		})
	})
	if err != nil {
		return nil, err
	}
	consumer := res.(*mediasoup.Consumer)

	id := consumer.Id()
	m.mu.Lock()
	m.consumers[id] = consumer
	m.mu.Unlock()

	consumer.On("producerclose", func() {
		m.emit(Event{Kind: EventConsumerProducerClosed, ID: id})
	})
	consumer.Observer().On("close", func() {
		m.mu.Lock()
		delete(m.consumers, id)
		m.mu.Unlock()
		m.emit(Event{Kind: EventConsumerClosed, ID: id})
	})

	rtp, err := json.Marshal(consumer.RtpParameters())
	if err != nil {
		consumer.Close()
		return nil, err
	}

	return &ConsumeResult{
		ConsumerID:    id,
		Kind:          Kind(consumer.Kind()),
		RTPParameters: rtp,
	}, nil
}

// CanConsume implements Router.
func (m *MediasoupRouter) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	var caps mediasoup.RtpCapabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	return m.router.CanConsume(producerID, caps)
}

// CloseTransport implements Router.
func (m *MediasoupRouter) CloseTransport(transportID string) {
	m.mu.Lock()
	transport, ok := m.transports[transportID]
	m.mu.Unlock()
	if ok {
		transport.Close()
	}
}

// CloseProducer implements Router.
func (m *MediasoupRouter) CloseProducer(producerID string) {
	m.mu.Lock()
	producer, ok := m.producers[producerID]
	m.mu.Unlock()
	if ok {
		producer.Close()
	}
}

// CloseConsumer implements Router.
func (m *MediasoupRouter) CloseConsumer(consumerID string) {
	m.mu.Lock()
	consumer, ok := m.consumers[consumerID]
	m.mu.Unlock()
	if ok {
		consumer.Close()
	}
}

// Events implements Router.
func (m *MediasoupRouter) Events() <-chan Event {
	return m.events
}

// Healthy reports whether the worker process is still alive and the breaker
// closed. Used by the readiness probe.
func (m *MediasoupRouter) Healthy() bool {
	return !m.worker.Closed() && m.breaker.State() != gobreaker.StateOpen
}

// Close implements Router.
func (m *MediasoupRouter) Close() error {
	m.closeOnce.Do(func() {
		m.worker.Close()
		close(m.events)
	})
	return nil
}
