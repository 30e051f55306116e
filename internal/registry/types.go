package registry

import "time"

// State tracks where a Connection is in its lifecycle.
type State int

const (
	// StateOpen is a live socket owned by this process.
	StateOpen State = iota
	// StateClosing is a live socket whose close has been requested.
	StateClosing
	// StateRemote is a ghost: the socket is owned by another worker.
	StateRemote
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Socket is the part of a live connection the registry needs. The server's
// websocket client implements it.
type Socket interface {
	// Send queues an already encoded frame. It reports false when the frame
	// could not be queued.
	Send(frame []byte) bool
	// Close closes the underlying transport. It must be idempotent.
	Close() error
}

// User is the identity attached to a connection after authentication or a
// room join enriched it with a profile.
type User struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type,omitempty"`
	Username    string         `json:"username,omitempty"`
	DisplayName string         `json:"displayName,omitempty"`
	Email       string         `json:"email,omitempty"`
	Claims      map[string]any `json:"claims,omitempty"`
}

// Clone returns a deep enough copy for snapshots. Nil stays nil.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Claims != nil {
		c.Claims = make(map[string]any, len(u.Claims))
		for k, v := range u.Claims {
			c.Claims[k] = v
		}
	}
	return &c
}

// Merge copies every non-empty field of other into u.
func (u *User) Merge(other User) {
	if other.ID != "" {
		u.ID = other.ID
	}
	if other.Type != "" {
		u.Type = other.Type
	}
	if other.Username != "" {
		u.Username = other.Username
	}
	if other.DisplayName != "" {
		u.DisplayName = other.DisplayName
	}
	if other.Email != "" {
		u.Email = other.Email
	}
	if len(other.Claims) > 0 {
		if u.Claims == nil {
			u.Claims = make(map[string]any, len(other.Claims))
		}
		for k, v := range other.Claims {
			u.Claims[k] = v
		}
	}
}

// Connection is one client known to this process. Socket is nil for ghosts.
type Connection struct {
	ID           string
	Socket       Socket
	WorkerID     string
	LastActivity time.Time
	User         *User
	RoomName     string
	State        State
}

// Local reports whether this process owns the connection's socket.
func (c Connection) Local() bool {
	return c.Socket != nil
}

func (c Connection) snapshot() Connection {
	c.User = c.User.Clone()
	return c
}
