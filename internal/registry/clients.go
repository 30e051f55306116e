package registry

import (
	"sync"
	"time"
)

// Clients is the connection registry for one process.
type Clients struct {
	mu       sync.RWMutex
	byID     map[string]*Connection
	bySocket map[Socket]string
}

// NewClients returns an empty connection registry.
func NewClients() *Clients {
	return &Clients{
		byID:     make(map[string]*Connection),
		bySocket: make(map[Socket]string),
	}
}

// AddClient stores c, replacing any previous record with the same ID. A
// connection without a socket is recorded as a ghost.
func (r *Clients) AddClient(c Connection) {
	if c.ID == "" {
		return
	}
	if c.Socket == nil {
		c.State = StateRemote
	}
	if c.LastActivity.IsZero() {
		c.LastActivity = time.Now()
	}
	c.User = c.User.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byID[c.ID]; ok && prev.Socket != nil {
		delete(r.bySocket, prev.Socket)
	}
	r.byID[c.ID] = &c
	if c.Socket != nil {
		r.bySocket[c.Socket] = c.ID
	}
}

// RemoveClient deletes the record for id and reports whether one existed.
func (r *Clients) RemoveClient(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id) != nil
}

func (r *Clients) removeLocked(id string) *Connection {
	c, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	if c.Socket != nil {
		delete(r.bySocket, c.Socket)
	}
	return c
}

// GetClient returns a snapshot of the connection with the given id.
func (r *Clients) GetClient(id string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[id]
	if !ok {
		return Connection{}, false
	}
	return c.snapshot(), true
}

// GetClientID is the reverse lookup from a live socket to its client id.
func (r *Clients) GetClientID(s Socket) (string, bool) {
	if s == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySocket[s]
	return id, ok
}

// UpdateClient applies fn to the stored connection under the registry lock.
// fn must not retain the pointer. The ID and Socket fields are restored after
// fn returns so the indexes stay consistent.
func (r *Clients) UpdateClient(id string, fn func(c *Connection)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[id]
	if !ok {
		return false
	}
	origID, origSocket := c.ID, c.Socket
	fn(c)
	c.ID, c.Socket = origID, origSocket
	return true
}

// Touch records inbound activity for id.
func (r *Clients) Touch(id string, at time.Time) bool {
	return r.UpdateClient(id, func(c *Connection) { c.LastActivity = at })
}

// MergeUser shallow merges u into the connection's user, creating it if absent.
func (r *Clients) MergeUser(id string, u User) bool {
	return r.UpdateClient(id, func(c *Connection) {
		if c.User == nil {
			c.User = &User{}
		}
		c.User.Merge(u)
	})
}

// SetRoom records the connection's current room. An empty name clears it.
func (r *Clients) SetRoom(id, room string) bool {
	return r.UpdateClient(id, func(c *Connection) { c.RoomName = room })
}

// DisconnectClient closes the socket of a local connection, leaving removal to
// the socket's close path, or removes a ghost outright. It reports whether the
// client was known.
func (r *Clients) DisconnectClient(id string) bool {
	r.mu.Lock()
	c, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if c.Socket == nil {
		r.removeLocked(id)
		r.mu.Unlock()
		return true
	}
	c.State = StateClosing
	socket := c.Socket
	r.mu.Unlock()

	_ = socket.Close()
	return true
}

// GetClients returns a snapshot of every connection, optionally limited to
// users of the given type. An empty userType matches everything, including
// anonymous connections.
func (r *Clients) GetClients(userType string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.byID))
	for _, c := range r.byID {
		if userType != "" && (c.User == nil || c.User.Type != userType) {
			continue
		}
		out = append(out, c.snapshot())
	}
	return out
}

// LocalClients returns a snapshot of connections whose socket lives here.
func (r *Clients) LocalClients() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.bySocket))
	for _, id := range r.bySocket {
		out = append(out, r.byID[id].snapshot())
	}
	return out
}

// Count returns the number of known connections, ghosts included.
func (r *Clients) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Cleanup drops all state.
func (r *Clients) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = make(map[string]*Connection)
	r.bySocket = make(map[Socket]string)
}
