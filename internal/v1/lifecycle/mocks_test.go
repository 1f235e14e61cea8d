package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/telemeet/sfu/internal/v1/media"
	"github.com/telemeet/sfu/internal/v1/protocol"
)

type fakeRouter struct {
	mu     sync.Mutex
	nextID int
	events chan media.Event
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{events: make(chan media.Event, 64)}
}

func (f *fakeRouter) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeRouter) RTPCapabilities() json.RawMessage { return json.RawMessage(`{}`) }

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

func (f *fakeRouter) CanConsume(string, json.RawMessage) bool { return true }
func (f *fakeRouter) CloseTransport(string)                   {}
func (f *fakeRouter) CloseProducer(string)                    {}
func (f *fakeRouter) CloseConsumer(string)                    {}
func (f *fakeRouter) Events() <-chan media.Event              { return f.events }
func (f *fakeRouter) Close() error                            { return nil }

// recordingEmitter captures delivered events per member.
type recordingEmitter struct {
	mu     sync.Mutex
	events []protocol.EventName
	bodies []any
}

func (r *recordingEmitter) SendEvent(event protocol.EventName, data any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.bodies = append(r.bodies, data)
	return true
}

func (r *recordingEmitter) Disconnect() {}

func (r *recordingEmitter) received() []protocol.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.EventName(nil), r.events...)
}

type fakePresence struct {
	mu        sync.Mutex
	forgotten []string
}

func (p *fakePresence) Forget(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgotten = append(p.forgotten, clientID)
}

func (p *fakePresence) got() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.forgotten...)
}
