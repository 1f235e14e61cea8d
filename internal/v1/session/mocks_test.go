package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/telemeet/sfu/internal/v1/media"
)

// mockConn is a scriptable wsConnection. Incoming frames are queued through
// push; written frames are recorded for assertions.
type mockConn struct {
	incoming chan []byte

	mu      sync.Mutex
	written [][]byte
	closed  bool

	closeCh   chan struct{}
	closeOnce sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		incoming: make(chan []byte, 16),
		closeCh:  make(chan struct{}),
	}
}

func (m *mockConn) push(frame []byte) {
	m.incoming <- frame
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-m.incoming:
		return 1, frame, nil // websocket.TextMessage
	case <-m.closeCh:
		return 0, nil, errors.New("connection closed")
	}
}

func (m *mockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("connection closed")
	}
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.closeCh)
	})
	return nil
}

func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func (m *mockConn) frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

// waitClosed blocks until the connection is closed or the timeout elapses.
func (m *mockConn) waitClosed(timeout time.Duration) bool {
	select {
	case <-m.closeCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// fakeRouter is a minimal in-memory media.Router for end-to-end pump tests.
type fakeRouter struct {
	mu     sync.Mutex
	nextID int
	events chan media.Event
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{events: make(chan media.Event, 64)}
}

func (f *fakeRouter) id(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeRouter) RTPCapabilities() json.RawMessage {
	return json.RawMessage(`{"codecs":["opus"]}`)
}

func (f *fakeRouter) CreateTransport(ctx context.Context, direction media.Direction) (*media.TransportInfo, error) {
	return &media.TransportInfo{
		ID:             f.id("transport"),
		ICEParameters:  json.RawMessage(`{}`),
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`{}`),
	}, nil
}

func (f *fakeRouter) ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error {
	return nil
}

func (f *fakeRouter) Produce(ctx context.Context, transportID string, kind media.Kind, rtpParameters json.RawMessage, appData media.AppData) (string, error) {
	return f.id("producer"), nil
}

func (f *fakeRouter) Consume(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (*media.ConsumeResult, error) {
	return &media.ConsumeResult{
		ConsumerID:    f.id("consumer"),
		Kind:          media.KindVideo,
		RTPParameters: json.RawMessage(`{}`),
	}, nil
}

func (f *fakeRouter) CanConsume(string, json.RawMessage) bool { return true }
func (f *fakeRouter) CloseTransport(string)                   {}
func (f *fakeRouter) CloseProducer(string)                    {}
func (f *fakeRouter) CloseConsumer(string)                    {}
func (f *fakeRouter) Events() <-chan media.Event              { return f.events }
func (f *fakeRouter) Close() error                            { return nil }
