// Package profile looks up the minimal user profile used to enrich room
// membership.
package profile

import (
	"context"
	"errors"
	"sync"

	"github.com/Tyrowin/gocluster/internal/registry"
)

// ErrNotFound is returned when no profile exists for the id.
var ErrNotFound = errors.New("profile: not found")

// Profile is the public part of a user record.
type Profile struct {
	ID          string `json:"id"`
	Type        string `json:"type,omitempty"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// User converts p into the identity stored on connections and members.
func (p Profile) User() registry.User {
	return registry.User{
		ID:          p.ID,
		Type:        p.Type,
		Username:    p.Username,
		DisplayName: p.DisplayName,
		Email:       p.Email,
	}
}

// Store resolves profiles by user id.
type Store interface {
	Lookup(ctx context.Context, id string) (Profile, error)
}

// Memory is a map backed Store.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemory returns a store holding profiles.
func NewMemory(profiles ...Profile) *Memory {
	m := &Memory{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
	return m
}

// Put adds or replaces a profile.
func (m *Memory) Put(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

// Lookup implements Store.
func (m *Memory) Lookup(_ context.Context, id string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}
