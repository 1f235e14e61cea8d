// Package room tracks room membership and fans events out to members.
//
// Rooms are created on first join and destroyed when the last member
// leaves. Broadcast delivery is best-effort: a peer with a full send buffer
// is skipped, and the drop is counted so tests and operators can observe it.
package room

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/telemeet/sfu/internal/v1/logging"
	"github.com/telemeet/sfu/internal/v1/metrics"
	"github.com/telemeet/sfu/internal/v1/protocol"
)

// Emitter is the outbound side of one member's connection. Implemented by
// the session client; mocked in tests.
type Emitter interface {
	// SendEvent queues a server-pushed event. Returns false when the event
	// was dropped because the peer's buffer was full or the peer is gone.
	SendEvent(event protocol.EventName, data any) bool

	// Disconnect forcefully closes the connection (used on supersession).
	Disconnect()
}

type roomEntry struct {
	members map[string]Emitter

	// screenMu serializes screen-share arbitration for this room: the
	// snapshot of current screen producers, their closes and the
	// producerClosed broadcasts happen under it, as does any competing
	// produce of a screen source.
	screenMu sync.Mutex
}

// Rooms maps room ids to member sets and keeps the reverse client → room
// index. One instance serves the whole process.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[string]*roomEntry
	roomOf map[string]string
}

// New creates an empty room registry.
func New() *Rooms {
	return &Rooms{
		rooms:  make(map[string]*roomEntry),
		roomOf: make(map[string]string),
	}
}

// Join adds the client to the room, creating the room if it does not exist.
func (r *Rooms) Join(roomID, clientID string, emitter Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomID]
	if !ok {
		logging.Info(context.Background(), "Creating new room", zap.String("roomId", roomID))
		entry = &roomEntry{members: make(map[string]Emitter)}
		r.rooms[roomID] = entry
		metrics.ActiveRooms.Inc()
	}
	entry.members[clientID] = emitter
	r.roomOf[clientID] = roomID
	metrics.RoomMembers.WithLabelValues(roomID).Set(float64(len(entry.members)))
}

// Leave removes the client from the room, destroying the room when the last
// member leaves. Unknown memberships are a no-op.
func (r *Rooms) Leave(roomID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(entry.members, clientID)
	if r.roomOf[clientID] == roomID {
		delete(r.roomOf, clientID)
	}

	if len(entry.members) == 0 {
		logging.Info(context.Background(), "Removing empty room", zap.String("roomId", roomID))
		delete(r.rooms, roomID)
		metrics.ActiveRooms.Dec()
		metrics.RoomMembers.DeleteLabelValues(roomID)
		return
	}
	metrics.RoomMembers.WithLabelValues(roomID).Set(float64(len(entry.members)))
}

// Members returns the set of client ids currently in the room.
func (r *Rooms) Members(roomID string) set.Set[string] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := set.New[string]()
	if entry, ok := r.rooms[roomID]; ok {
		for id := range entry.members {
			members.Insert(id)
		}
	}
	return members
}

// RoomOf returns the room the client currently belongs to.
func (r *Rooms) RoomOf(clientID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.roomOf[clientID]
	return roomID, ok
}

// Broadcast delivers an event to every member's emitter except the optional
// excluded client. Delivery is best-effort; the number of dropped
// deliveries is returned for observability.
func (r *Rooms) Broadcast(roomID string, event protocol.EventName, data any, excludeClientID string) (dropped int) {
	r.mu.RLock()
	entry, ok := r.rooms[roomID]
	if !ok {
		r.mu.RUnlock()
		return 0
	}
	emitters := make(map[string]Emitter, len(entry.members))
	for id, e := range entry.members {
		emitters[id] = e
	}
	r.mu.RUnlock()

	for id, emitter := range emitters {
		if excludeClientID != "" && id == excludeClientID {
			continue
		}
		if !emitter.SendEvent(event, data) {
			dropped++
			metrics.DroppedBroadcasts.Inc()
			logging.Warn(context.Background(), "Dropped broadcast delivery",
				zap.String("roomId", roomID),
				zap.String("clientId", id),
				zap.String("event", string(event)))
		}
	}
	return dropped
}

// WithScreenLock runs fn under the room's screen-share arbitration mutex.
// The lock survives the room itself being empty: locking an unknown room
// executes fn without arbitration, which is harmless because there is
// nothing to arbitrate.
func (r *Rooms) WithScreenLock(roomID string, fn func()) {
	r.mu.RLock()
	entry, ok := r.rooms[roomID]
	r.mu.RUnlock()

	if !ok {
		fn()
		return
	}
	entry.screenMu.Lock()
	defer entry.screenMu.Unlock()
	fn()
}
