// Package rooms tracks ad-hoc, in-memory room membership of live connections.
// Rooms exist only while they have members.
package rooms

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/nfrund/pulse/internal/presence"
)

// PersonalPrefix marks the implicit per-user rooms. Clients cannot join or leave them.
const PersonalPrefix = "user:"

// ErrReservedRoom is returned when a client addresses a personal room.
var ErrReservedRoom = errors.New("room id is reserved")

// PersonalRoom returns the implicit room of userID.
func PersonalRoom(userID string) string {
	return PersonalPrefix + userID
}

// IsReserved reports whether roomID is a personal room.
func IsReserved(roomID string) bool {
	return strings.HasPrefix(roomID, PersonalPrefix)
}

// Tracker owns every room membership. It never learns about disconnects on
// its own; the gateway must call LeaveAll when a connection closes.
type Tracker struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]presence.Handle // roomID -> handleID -> handle
	member map[string]map[string]struct{}        // handleID -> roomIDs
	logger *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		rooms:  make(map[string]map[string]presence.Handle),
		member: make(map[string]map[string]struct{}),
		logger: slog.Default().With("service", "rooms"),
	}
}

// Join adds h to roomID, creating the room on first join. It reports whether
// h was newly added.
func (t *Tracker) Join(roomID string, h presence.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	members, ok := t.rooms[roomID]
	if !ok {
		members = make(map[string]presence.Handle)
		t.rooms[roomID] = members
		t.logger.Debug("Room created", "room_id", roomID)
	}
	if _, already := members[h.ID()]; already {
		return false
	}
	members[h.ID()] = h

	joined, ok := t.member[h.ID()]
	if !ok {
		joined = make(map[string]struct{})
		t.member[h.ID()] = joined
	}
	joined[roomID] = struct{}{}
	return true
}

// Leave removes h from roomID. Leaving a room h is not in is a no-op that
// returns false. An emptied room is dropped.
func (t *Tracker) Leave(roomID string, h presence.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.leaveUnsafe(roomID, h.ID())
}

// LeaveAll removes h from every room it joined and returns those room ids, sorted.
func (t *Tracker) LeaveAll(h presence.Handle) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	joined := t.member[h.ID()]
	left := make([]string, 0, len(joined))
	for roomID := range joined {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		t.leaveUnsafe(roomID, h.ID())
	}
	sort.Strings(left)
	return left
}

// MembersOf returns a snapshot of the connections in roomID.
func (t *Tracker) MembersOf(roomID string) []presence.Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members := t.rooms[roomID]
	out := make([]presence.Handle, 0, len(members))
	for _, h := range members {
		out = append(out, h)
	}
	return out
}

// RoomsOf returns the sorted room ids h belongs to.
func (t *Tracker) RoomsOf(h presence.Handle) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.member[h.ID()]))
	for roomID := range t.member[h.ID()] {
		out = append(out, roomID)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of live rooms.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}

func (t *Tracker) leaveUnsafe(roomID, handleID string) bool {
	members, ok := t.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := members[handleID]; !ok {
		return false
	}
	delete(members, handleID)
	if len(members) == 0 {
		delete(t.rooms, roomID)
		t.logger.Debug("Room removed", "room_id", roomID)
	}

	if joined, ok := t.member[handleID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(t.member, handleID)
		}
	}
	return true
}
