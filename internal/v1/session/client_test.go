package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemeet/sfu/internal/v1/lifecycle"
	"github.com/telemeet/sfu/internal/v1/protocol"
	"github.com/telemeet/sfu/internal/v1/registry"
	"github.com/telemeet/sfu/internal/v1/room"
	"github.com/telemeet/sfu/internal/v1/signaling"
)

func newTestHub(t *testing.T) (*Hub, *room.Rooms, *registry.Registry) {
	t.Helper()
	router := newFakeRouter()
	reg := registry.New(router)
	rooms := room.New()
	sup := lifecycle.NewSupervisor(router, reg, rooms, time.Minute)
	handler := signaling.NewHandler(router, reg, rooms, sup)
	return NewHub(handler, nil, []string{"http://localhost:3000"}), rooms, reg
}

func request(t *testing.T, event protocol.EventName, requestID string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(protocol.OutEnvelope{Event: event, RequestID: requestID, Data: json.RawMessage(data)})
	require.NoError(t, err)
	return frame
}

// waitForAck polls the mock connection for an ack matching the request id.
func waitForAck(t *testing.T, conn *mockConn, requestID string) protocol.Envelope {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		for _, frame := range conn.frames() {
			var env protocol.Envelope
			if json.Unmarshal(frame, &env) == nil && env.Event == protocol.EventAck && env.RequestID == requestID {
				return env
			}
		}
		select {
		case <-deadline:
			t.Fatalf("no ack for request %s; frames: %d", requestID, len(conn.frames()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestClientRequestResponse(t *testing.T) {
	t.Run("dispatches a request and acks with the request id", func(t *testing.T) {
		hub, _, _ := newTestHub(t)
		conn := newMockConn()
		client := hub.HandleConnection(conn)
		defer client.Disconnect()

		conn.push(request(t, protocol.EventGetRtpCapabilities, "r1", struct{}{}))

		env := waitForAck(t, conn, "r1")
		var caps protocol.RtpCapabilitiesAck
		require.NoError(t, json.Unmarshal(env.Data, &caps))
		assert.JSONEq(t, `{"codecs":["opus"]}`, string(caps.RTPCapabilities))
	})

	t.Run("malformed frame gets an error ack and keeps the connection", func(t *testing.T) {
		hub, _, _ := newTestHub(t)
		conn := newMockConn()
		client := hub.HandleConnection(conn)
		defer client.Disconnect()

		conn.push([]byte(`{not json`))
		conn.push(request(t, protocol.EventGetRtpCapabilities, "r2", struct{}{}))

		// The good request after the bad frame still succeeds.
		waitForAck(t, conn, "r2")

		var sawError bool
		for _, frame := range conn.frames() {
			var env protocol.Envelope
			if json.Unmarshal(frame, &env) == nil && env.Event == protocol.EventAck && env.RequestID == "" {
				var errAck protocol.ErrorAck
				if json.Unmarshal(env.Data, &errAck) == nil && errAck.Error != "" {
					sawError = true
				}
			}
		}
		assert.True(t, sawError)
	})

	t.Run("failed verb acks with an error body", func(t *testing.T) {
		hub, _, _ := newTestHub(t)
		conn := newMockConn()
		client := hub.HandleConnection(conn)
		defer client.Disconnect()

		conn.push(request(t, protocol.EventCreateTransport, "r3", protocol.CreateTransportRequest{Type: "send"}))

		env := waitForAck(t, conn, "r3")
		var errAck protocol.ErrorAck
		require.NoError(t, json.Unmarshal(env.Data, &errAck))
		assert.NotEmpty(t, errAck.Error, "createTransport before join must fail")
	})
}

func TestClientDisconnect(t *testing.T) {
	t.Run("peer close runs the cleanup cascade", func(t *testing.T) {
		hub, rooms, reg := newTestHub(t)
		conn := newMockConn()
		hub.HandleConnection(conn)

		conn.push(request(t, protocol.EventJoinRoom, "r1", protocol.JoinRoomRequest{RoomID: "room-a", ClientID: "alice"}))
		waitForAck(t, conn, "r1")
		conn.push(request(t, protocol.EventCreateTransport, "r2", protocol.CreateTransportRequest{Type: "send"}))
		waitForAck(t, conn, "r2")

		conn.Close()

		deadline := time.After(time.Second)
		for {
			if _, inRoom := rooms.RoomOf("alice"); !inRoom && len(reg.ListClientTransports("alice")) == 0 {
				break
			}
			select {
			case <-deadline:
				t.Fatal("cleanup cascade never completed")
			case <-time.After(5 * time.Millisecond):
			}
		}
	})

	t.Run("Disconnect closes the socket", func(t *testing.T) {
		hub, _, _ := newTestHub(t)
		conn := newMockConn()
		client := hub.HandleConnection(conn)

		client.Disconnect()
		assert.True(t, conn.waitClosed(time.Second))

		// Sends after disconnect are dropped, not panicking.
		assert.False(t, client.SendEvent(protocol.EventClientJoined, protocol.ClientJoinedEvent{ClientID: "x"}))
	})

	t.Run("Disconnect is idempotent", func(t *testing.T) {
		hub, _, _ := newTestHub(t)
		conn := newMockConn()
		client := hub.HandleConnection(conn)

		assert.NotPanics(t, func() {
			client.Disconnect()
			client.Disconnect()
		})
	})
}

func TestSendEvent(t *testing.T) {
	t.Run("events reach the socket without a request id", func(t *testing.T) {
		hub, _, _ := newTestHub(t)
		conn := newMockConn()
		client := hub.HandleConnection(conn)
		defer client.Disconnect()

		require.True(t, client.SendEvent(protocol.EventNewProducer, protocol.ProducerInfo{ProducerID: "p1", ClientID: "alice"}))

		deadline := time.After(time.Second)
		for {
			var found bool
			for _, frame := range conn.frames() {
				var env protocol.Envelope
				if json.Unmarshal(frame, &env) == nil && env.Event == protocol.EventNewProducer {
					assert.Empty(t, env.RequestID)
					found = true
				}
			}
			if found {
				return
			}
			select {
			case <-deadline:
				t.Fatal("event never written")
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
}

func TestHubShutdown(t *testing.T) {
	hub, _, _ := newTestHub(t)
	conns := []*mockConn{newMockConn(), newMockConn(), newMockConn()}
	for _, conn := range conns {
		hub.HandleConnection(conn)
	}

	require.NoError(t, hub.Shutdown(context.Background()))
	for i, conn := range conns {
		assert.True(t, conn.waitClosed(time.Second), "connection %d not closed", i)
	}
}
