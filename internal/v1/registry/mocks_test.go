package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/telemeet/sfu/internal/v1/media"
)

// fakeRouter implements media.Router and records engine-side close calls.
type fakeRouter struct {
	mu     sync.Mutex
	nextID int
	events chan media.Event

	closedTransports []string
	closedProducers  []string
	closedConsumers  []string
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{events: make(chan media.Event, 64)}
}

func (f *fakeRouter) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeRouter) RTPCapabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":[]}`)
}

func (f *fakeRouter) CreateTransport(ctx context.Context, direction media.Direction) (*media.TransportInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &media.TransportInfo{ID: f.id("transport")}, nil
}

func (f *fakeRouter) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	return nil
}

func (f *fakeRouter) Produce(ctx context.Context, transportID string, kind media.Kind, rtpParameters json.RawMessage, appData media.AppData) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id("producer"), nil
}

func (f *fakeRouter) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*media.ConsumeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &media.ConsumeResult{ConsumerID: f.id("consumer"), Kind: media.KindVideo}, nil
}

func (f *fakeRouter) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	return true
}

func (f *fakeRouter) CloseTransport(transportID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedTransports = append(f.closedTransports, transportID)
}

func (f *fakeRouter) CloseProducer(producerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedProducers = append(f.closedProducers, producerID)
}

func (f *fakeRouter) CloseConsumer(consumerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedConsumers = append(f.closedConsumers, consumerID)
}

func (f *fakeRouter) Events() <-chan media.Event { return f.events }

func (f *fakeRouter) Close() error { return nil }

func (f *fakeRouter) engineClosedTransports() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closedTransports...)
}

func (f *fakeRouter) engineClosedProducers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closedProducers...)
}

func (f *fakeRouter) engineClosedConsumers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closedConsumers...)
}
