package registry_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gocluster/internal/registry"
)

type fakeSocket struct {
	closed atomic.Int32
	frames [][]byte
}

func (s *fakeSocket) Send(frame []byte) bool {
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSocket) Close() error {
	s.closed.Add(1)
	return nil
}

func TestAddAndGetClient(t *testing.T) {
	t.Parallel()

	r := registry.NewClients()
	sock := &fakeSocket{}
	now := time.Now()
	r.AddClient(registry.Connection{ID: "c1", Socket: sock, LastActivity: now, User: &registry.User{ID: "u1"}})

	c, ok := r.GetClient("c1")
	require.True(t, ok)
	assert.Equal(t, "c1", c.ID)
	assert.True(t, c.Local())
	assert.Equal(t, registry.StateOpen, c.State)
	assert.Equal(t, now, c.LastActivity)
	assert.Equal(t, "u1", c.User.ID)

	id, ok := r.GetClientID(sock)
	require.True(t, ok)
	assert.Equal(t, "c1", id)
}

func TestGhostClient(t *testing.T) {
	t.Parallel()

	r := registry.NewClients()
	r.AddClient(registry.Connection{ID: "g1", WorkerID: "other"})

	c, ok := r.GetClient("g1")
	require.True(t, ok)
	assert.False(t, c.Local())
	assert.Equal(t, registry.StateRemote, c.State)
	assert.False(t, c.LastActivity.IsZero())
	assert.Empty(t, r.LocalClients())
}

func TestRemoveClientIsIdempotent(t *testing.T) {
	t.Parallel()

	r := registry.NewClients()
	sock := &fakeSocket{}
	r.AddClient(registry.Connection{ID: "c1", Socket: sock})

	assert.True(t, r.RemoveClient("c1"))
	assert.False(t, r.RemoveClient("c1"))
	assert.False(t, r.RemoveClient("missing"))

	_, ok := r.GetClientID(sock)
	assert.False(t, ok)
}

func TestMissingClientNeverFails(t *testing.T) {
	t.Parallel()

	r := registry.NewClients()
	_, ok := r.GetClient("nope")
	assert.False(t, ok)
	assert.False(t, r.Touch("nope", time.Now()))
	assert.False(t, r.MergeUser("nope", registry.User{ID: "x"}))
	assert.False(t, r.SetRoom("nope", "lobby"))
	assert.False(t, r.DisconnectClient("nope"))
	_, ok = r.GetClientID(nil)
	assert.False(t, ok)
}

func TestUpdateClientKeepsIdentity(t *testing.T) {
	t.Parallel()

	r := registry.NewClients()
	sock := &fakeSocket{}
	r.AddClient(registry.Connection{ID: "c1", Socket: sock})

	ok := r.UpdateClient("c1", func(c *registry.Connection) {
		c.ID = "hijacked"
		c.Socket = nil
		c.RoomName = "lobby"
	})
	require.True(t, ok)

	c, ok := r.GetClient("c1")
	require.True(t, ok)
	assert.Equal(t, "lobby", c.RoomName)
	assert.True(t, c.Local())
}

func TestMergeUser(t *testing.T) {
	t.Parallel()

	r := registry.NewClients()
	r.AddClient(registry.Connection{ID: "c1", Socket: &fakeSocket{}})

	require.True(t, r.MergeUser("c1", registry.User{ID: "u1", Claims: map[string]any{"a": 1}}))
	require.True(t, r.MergeUser("c1", registry.User{Username: "alice", Claims: map[string]any{"b": 2}}))

	c, _ := r.GetClient("c1")
	require.NotNil(t, c.User)
	assert.Equal(t, "u1", c.User.ID)
	assert.Equal(t, "alice", c.User.Username)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, c.User.Claims)
}

func TestSnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	r := registry.NewClients()
	r.AddClient(registry.Connection{ID: "c1", Socket: &fakeSocket{}, User: &registry.User{ID: "u1"}})

	c, _ := r.GetClient("c1")
	c.User.ID = "mutated"

	again, _ := r.GetClient("c1")
	assert.Equal(t, "u1", again.User.ID)
}

func TestDisconnectClient(t *testing.T) {
	t.Parallel()

	r := registry.NewClients()
	sock := &fakeSocket{}
	r.AddClient(registry.Connection{ID: "local", Socket: sock})
	r.AddClient(registry.Connection{ID: "ghost"})

	assert.True(t, r.DisconnectClient("local"))
	assert.Equal(t, int32(1), sock.closed.Load())
	c, ok := r.GetClient("local")
	require.True(t, ok, "local removal is left to the socket close path")
	assert.Equal(t, registry.StateClosing, c.State)

	assert.True(t, r.DisconnectClient("ghost"))
	_, ok = r.GetClient("ghost")
	assert.False(t, ok)
}

func TestGetClientsByUserType(t *testing.T) {
	t.Parallel()

	r := registry.NewClients()
	r.AddClient(registry.Connection{ID: "a", Socket: &fakeSocket{}, User: &registry.User{Type: "admin"}})
	r.AddClient(registry.Connection{ID: "b", Socket: &fakeSocket{}, User: &registry.User{Type: "member"}})
	r.AddClient(registry.Connection{ID: "c", Socket: &fakeSocket{}})

	assert.Len(t, r.GetClients(""), 3)
	admins := r.GetClients("admin")
	require.Len(t, admins, 1)
	assert.Equal(t, "a", admins[0].ID)
	assert.Empty(t, r.GetClients("guest"))
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	r := registry.NewClients()
	r.AddClient(registry.Connection{ID: "a", Socket: &fakeSocket{}})
	r.AddClient(registry.Connection{ID: "b"})
	r.Cleanup()

	assert.Zero(t, r.Count())
	assert.Empty(t, r.LocalClients())
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := registry.NewClients()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			r.AddClient(registry.Connection{ID: id, Socket: &fakeSocket{}})
			r.Touch(id, time.Now())
			_ = r.GetClients("")
			r.RemoveClient(id)
		}(i)
	}
	wg.Wait()
}
