// Package presence tracks which connection is joined to which room.
package presence

import (
	"sync"
	"time"

	"github.com/weiawesome/blog-chat/internal/domain"
)

// Registry maps connection ids to sessions and rooms to their member
// connections. Every method is safe for concurrent use and returns copies.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	rooms    map[string]map[string]struct{}
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]domain.Session),
		rooms:    make(map[string]map[string]struct{}),
		now:      time.Now,
	}
}

// Register joins connID to room. When connID was already joined to a
// different room it is taken out of that room first and the old session is
// returned with moved set, so the caller can announce the departure.
// Re-joining the same room refreshes the identity and keeps the membership.
func (r *Registry) Register(connID, userID, username, room string) (prev domain.Session, moved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, existed := r.sessions[connID]
	if existed && old.Room != room {
		r.removeMemberLocked(old.Room, connID)
		moved = true
		prev = old
	}

	s := domain.Session{
		ConnectionID: connID,
		UserID:       userID,
		Username:     username,
		Room:         room,
		JoinedAt:     r.now(),
	}
	if existed && old.Room == room {
		s.JoinedAt = old.JoinedAt
	}
	r.sessions[connID] = s

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[connID] = struct{}{}

	return prev, moved
}

// Unregister drops connID. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) (domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return domain.Session{}, false
	}
	delete(r.sessions, connID)
	r.removeMemberLocked(s.Room, connID)
	return s, true
}

// removeMemberLocked deletes the room entry once it has no members left.
func (r *Registry) removeMemberLocked(room, connID string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

func (r *Registry) Lookup(connID string) (domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// ListRoom returns the sessions currently joined to room in no particular
// order.
func (r *Registry) ListRoom(room string) []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]domain.Session, 0, len(members))
	for connID := range members {
		out = append(out, r.sessions[connID])
	}
	return out
}

// Members returns the connection ids joined to room.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]string, 0, len(members))
	for connID := range members {
		out = append(out, connID)
	}
	return out
}

func (r *Registry) Count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// RoomCount is the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
