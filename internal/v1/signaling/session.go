// Package signaling implements the request/ack protocol of the control
// plane: per-connection session state, verb dispatch, and the screen-share
// arbitration.
package signaling

import (
	"sync"
	"time"

	"github.com/telemeet/sfu/internal/v1/media"
	"github.com/telemeet/sfu/internal/v1/room"
)

// Session is the per-connection state machine. It is owned by its
// connection's dispatch loop; requests from one connection are processed in
// order, so only cross-goroutine readers (supervisor, broadcasts) need the
// mutex.
//
// Lifecycle: NEW (connected, not joined) → JOINED (clientID/roomID set) →
// transports attached and connected → producing/consuming → CLOSED on
// disconnect.
type Session struct {
	ConnectionID string
	CreatedAt    time.Time

	emitter room.Emitter

	mu               sync.RWMutex
	clientID         string
	roomID           string
	sendTransportID  string
	recvTransportID  string
	screenProducerID string
}

// Joined reports whether joinRoom completed for this session.
func (s *Session) Joined() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID != ""
}

// ClientID returns the client identifier claimed at join, or "".
func (s *Session) ClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID
}

// RoomID returns the room joined by this session, or "".
func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// Emitter returns the outbound side of the connection.
func (s *Session) Emitter() room.Emitter {
	return s.emitter
}

func (s *Session) markJoined(clientID, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientID = clientID
	s.roomID = roomID
}

// TransportID returns the session's transport id for the direction, or "".
func (s *Session) TransportID(direction media.Direction) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if direction == media.DirectionSend {
		return s.sendTransportID
	}
	return s.recvTransportID
}

func (s *Session) setTransportID(direction media.Direction, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if direction == media.DirectionSend {
		s.sendTransportID = id
	} else {
		s.recvTransportID = id
	}
}

// ScreenProducerID returns the session's active screen producer id, or "".
func (s *Session) ScreenProducerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.screenProducerID
}

func (s *Session) setScreenProducerID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenProducerID = id
}
