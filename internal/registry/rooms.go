package registry

import (
	"errors"
	"sort"
	"sync"
)

// ErrAlreadyInRoom is returned when a client joins a room it is a member of.
var ErrAlreadyInRoom = errors.New("registry: client is already in room")

// ErrEmptyRoomName is returned when a join names no room.
var ErrEmptyRoomName = errors.New("registry: room name is empty")

// Member is one client of a room together with the user snapshot taken when
// it joined.
type Member struct {
	ClientID string `json:"clientId"`
	User     *User  `json:"user,omitempty"`
}

// Rooms mirrors logical room membership. Rooms exist only while they have
// members.
type Rooms struct {
	mu       sync.RWMutex
	multiple bool
	rooms    map[string]map[string]*User
	byClient map[string]map[string]struct{}
}

// NewRooms returns an empty room registry. With multiple false a client
// belongs to at most one room at a time.
func NewRooms(multiple bool) *Rooms {
	return &Rooms{
		multiple: multiple,
		rooms:    make(map[string]map[string]*User),
		byClient: make(map[string]map[string]struct{}),
	}
}

// MultipleRooms reports the membership policy.
func (r *Rooms) MultipleRooms() bool {
	return r.multiple
}

// AddClientToRoom adds the client to room. Under the single-room policy the
// client is first removed from its current room; those rooms are returned so
// the caller can update its own bookkeeping. No leave event is implied.
func (r *Rooms) AddClientToRoom(clientID string, user *User, room string) ([]string, error) {
	if room == "" {
		return nil, ErrEmptyRoomName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room][clientID]; ok {
		return nil, ErrAlreadyInRoom
	}

	var left []string
	if !r.multiple {
		for name := range r.byClient[clientID] {
			r.removeLocked(name, clientID)
			left = append(left, name)
		}
		sort.Strings(left)
	}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*User)
		r.rooms[room] = members
	}
	members[clientID] = user.Clone()

	joined, ok := r.byClient[clientID]
	if !ok {
		joined = make(map[string]struct{})
		r.byClient[clientID] = joined
	}
	joined[room] = struct{}{}
	return left, nil
}

// RemoveClientFromRoom removes the client from room and reports whether it was
// a member. Removing an absent member is a no-op.
func (r *Rooms) RemoveClientFromRoom(room, clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(room, clientID)
}

func (r *Rooms) removeLocked(room, clientID string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[clientID]; !ok {
		return false
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if joined := r.byClient[clientID]; joined != nil {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.byClient, clientID)
		}
	}
	return true
}

// RemoveClientFromAllRooms removes the client everywhere and returns the rooms
// it left, sorted.
func (r *Rooms) RemoveClientFromAllRooms(clientID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for room := range r.byClient[clientID] {
		left = append(left, room)
	}
	for _, room := range left {
		r.removeLocked(room, clientID)
	}
	sort.Strings(left)
	return left
}

// IsClientInRoom reports membership.
func (r *Rooms) IsClientInRoom(clientID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[room][clientID]
	return ok
}

// Members returns the members of room sorted by client id.
func (r *Rooms) Members(room string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked(room)
}

func (r *Rooms) membersLocked(room string) []Member {
	members := r.rooms[room]
	out := make([]Member, 0, len(members))
	for id, u := range members {
		out = append(out, Member{ClientID: id, User: u.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// RoomsOf returns the rooms the client is in, sorted.
func (r *Rooms) RoomsOf(clientID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byClient[clientID]))
	for room := range r.byClient[clientID] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Rooms returns a read-only snapshot of every room and its members.
func (r *Rooms) Rooms() map[string][]Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]Member, len(r.rooms))
	for room := range r.rooms {
		out[room] = r.membersLocked(room)
	}
	return out
}

// Cleanup drops all state.
func (r *Rooms) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rooms = make(map[string]map[string]*User)
	r.byClient = make(map[string]map[string]struct{})
}
