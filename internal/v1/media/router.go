package media

import (
	"context"
	"encoding/json"
	"errors"
)

// Errors reported by Router implementations. The signaling layer maps these
// onto synchronous error acks.
var (
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrAlreadyConnected  = errors.New("transport already connected")
	ErrClosed            = errors.New("closed")
	ErrCannotConsume     = errors.New("cannot consume producer with given rtp capabilities")
)

// EventKind discriminates the engine's asynchronous lifecycle events.
type EventKind string

const (
	// EventDTLSStateChange fires on every DTLS state transition of a
	// transport. State carries the new DTLS state ("connected", "closed"...).
	EventDTLSStateChange EventKind = "dtls-state-change"

	// EventTransportClosed fires when a transport has been torn down inside
	// the engine, whatever the trigger.
	EventTransportClosed EventKind = "transport-closed"

	// EventProducerClosed fires when a producer is gone (transport close,
	// explicit close, owner disconnect).
	EventProducerClosed EventKind = "producer-closed"

	// EventConsumerClosed fires when a consumer is gone for any reason other
	// than its producer closing.
	EventConsumerClosed EventKind = "consumer-closed"

	// EventConsumerProducerClosed fires per consumer when the producer it is
	// keyed to closes. ID is the consumer id.
	EventConsumerProducerClosed EventKind = "consumer-producer-closed"

	// EventEngineDied fires when the underlying worker process dies. This is
	// fatal: the supervisor logs and exits the process.
	EventEngineDied EventKind = "engine-died"
)

// Event is one entry of the engine's asynchronous event stream.
type Event struct {
	Kind  EventKind
	ID    string
	State string
}

// Router is the control-plane contract with the SFU engine.
//
// All blocking calls take a context; the engine may suspend on its IPC
// channel. The opaque RTP/ICE/DTLS blobs are passed through as raw JSON so
// that the control plane never depends on the engine's parameter model.
type Router interface {
	// RTPCapabilities returns the router's capability descriptor. Stable for
	// the process lifetime.
	RTPCapabilities() json.RawMessage

	// CreateTransport allocates a WebRTC transport of the given direction.
	CreateTransport(ctx context.Context, direction Direction) (*TransportInfo, error)

	// ConnectTransport finishes DTLS setup with the client-supplied
	// parameters.
	ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error

	// Produce installs an upstream media stream on a send transport.
	Produce(ctx context.Context, transportID string, kind Kind, rtpParameters json.RawMessage, appData AppData) (producerID string, err error)

	// Consume installs a downstream media stream on a recv transport, keyed
	// to an existing producer.
	Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*ConsumeResult, error)

	// CanConsume reports whether the given capabilities are compatible with
	// the producer's parameters.
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool

	// CloseTransport, CloseProducer and CloseConsumer are idempotent;
	// closing an id the engine no longer knows is a no-op.
	CloseTransport(transportID string)
	CloseProducer(producerID string)
	CloseConsumer(consumerID string)

	// Events exposes the engine's asynchronous lifecycle stream. Exactly one
	// consumer (the lifecycle supervisor) drains it.
	Events() <-chan Event

	// Close tears the engine down. Used on graceful shutdown.
	Close() error
}
