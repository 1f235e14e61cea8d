package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/telemeet/sfu/internal/v1/media"
	"github.com/telemeet/sfu/internal/v1/protocol"
)

// fakeRouter implements media.Router with configurable failures and a hook
// to interleave work mid-consume.
type fakeRouter struct {
	mu     sync.Mutex
	nextID int
	events chan media.Event

	createErr  error
	connectErr error
	produceErr error
	consumeErr error
	canConsume bool

	// onConsume runs inside Consume before it returns, used to race
	// producer closes against consumer registration.
	onConsume func()

	producedAppData []media.AppData
	closedProducers []string
	closedConsumers []string
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		events:     make(chan media.Event, 64),
		canConsume: true,
	}
}

func (f *fakeRouter) id(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeRouter) RTPCapabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":["opus","vp8"]}`)
}

func (f *fakeRouter) CreateTransport(ctx context.Context, direction media.Direction) (*media.TransportInfo, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &media.TransportInfo{
		ID:             f.id("transport"),
		ICEParameters:  json.RawMessage(`{}`),
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`{}`),
	}, nil
}

func (f *fakeRouter) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	return f.connectErr
}

func (f *fakeRouter) Produce(ctx context.Context, transportID string, kind media.Kind, rtpParameters json.RawMessage, appData media.AppData) (string, error) {
	if f.produceErr != nil {
		return "", f.produceErr
	}
	id := f.id("producer")
	f.mu.Lock()
	f.producedAppData = append(f.producedAppData, appData)
	f.mu.Unlock()
	return id, nil
}

func (f *fakeRouter) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*media.ConsumeResult, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	if !f.canConsume {
		return nil, media.ErrCannotConsume
	}
	if f.onConsume != nil {
		f.onConsume()
	}
	return &media.ConsumeResult{
		ConsumerID:    f.id("consumer"),
		Kind:          media.KindVideo,
		RTPParameters: json.RawMessage(`{}`),
	}, nil
}

func (f *fakeRouter) CanConsume(string, json.RawMessage) bool { return f.canConsume }

func (f *fakeRouter) CloseTransport(string) {}

func (f *fakeRouter) CloseProducer(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedProducers = append(f.closedProducers, id)
}

func (f *fakeRouter) CloseConsumer(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedConsumers = append(f.closedConsumers, id)
}

func (f *fakeRouter) Events() <-chan media.Event { return f.events }
func (f *fakeRouter) Close() error               { return nil }

// recordedEvent is one delivery captured by a mock emitter.
type recordedEvent struct {
	Event protocol.EventName
	Data  any
}

// mockEmitter records pushed events and whether Disconnect was called.
type mockEmitter struct {
	mu           sync.Mutex
	events       []recordedEvent
	disconnected bool
}

func (m *mockEmitter) SendEvent(event protocol.EventName, data any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{Event: event, Data: data})
	return true
}

func (m *mockEmitter) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

func (m *mockEmitter) received() []recordedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedEvent(nil), m.events...)
}

func (m *mockEmitter) wasDisconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}
