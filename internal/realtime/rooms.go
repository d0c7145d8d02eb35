package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/mhelail/real-time-communication-platform/internal/metrics"
)

// Rooms tracks the live membership of conversation rooms for fan-out. It holds
// no authoritative conversation data; participation is validated by the caller
// before Join.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]Conn     // roomID -> connID -> conn
	joined  map[string]map[string]struct{} // connID -> roomIDs, for LeaveAll
	logger  zerolog.Logger
}

// NewRooms creates an empty room set.
func NewRooms(logger zerolog.Logger) *Rooms {
	return &Rooms{
		members: make(map[string]map[string]Conn),
		joined:  make(map[string]map[string]struct{}),
		logger:  logger.With().Str("component", "rooms").Logger(),
	}
}

// Join adds conn to the room's live membership. Idempotent.
func (r *Rooms) Join(roomID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.members[roomID]
	if !ok {
		room = make(map[string]Conn)
		r.members[roomID] = room
	}
	room[conn.ID()] = conn

	rooms, ok := r.joined[conn.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[conn.ID()] = rooms
	}
	rooms[roomID] = struct{}{}
}

// Leave removes the connection from one room.
func (r *Rooms) Leave(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(roomID, connID)
}

// LeaveAll removes the connection from every room it joined. Called on
// disconnect.
func (r *Rooms) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.joined[connID] {
		r.leaveLocked(roomID, connID)
	}
}

func (r *Rooms) leaveLocked(roomID, connID string) {
	if room, ok := r.members[roomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.members, roomID)
		}
	}
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.joined, connID)
		}
	}
}

// MemberCount returns the number of live connections in a room.
func (r *Rooms) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[roomID])
}

// Broadcast delivers the event to every current member of the room except
// excludeConnID, if given. Delivery is best-effort per connection: one
// member's failure never aborts delivery to the rest. Returns the number of
// successful deliveries.
func (r *Rooms) Broadcast(roomID, event string, payload any, excludeConnID string) int {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.members[roomID]))
	for connID, conn := range r.members[roomID] {
		if connID == excludeConnID {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	// Deliver outside the lock so a slow connection cannot stall joins or
	// other rooms' broadcasts.
	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(event, payload); err != nil {
			metrics.FanoutFailures.Inc()
			r.logger.Warn().Err(err).Str("room", roomID).Str("event", event).
				Str("conn", conn.ID()).Msg("fan-out delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}
