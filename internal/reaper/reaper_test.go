package reaper_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gocluster/internal/reaper"
	"github.com/Tyrowin/gocluster/internal/registry"
)

type socket struct{ closed atomic.Int32 }

func (s *socket) Send([]byte) bool { return true }
func (s *socket) Close() error     { s.closed.Add(1); return nil }

func TestSweepDisconnectsOnlyIdleLocalClients(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clients := registry.NewClients()
	idle, fresh := &socket{}, &socket{}
	clients.AddClient(registry.Connection{ID: "idle", Socket: idle, LastActivity: now.Add(-2 * time.Minute)})
	clients.AddClient(registry.Connection{ID: "fresh", Socket: fresh, LastActivity: now.Add(-30 * time.Second)})
	clients.AddClient(registry.Connection{ID: "ghost", WorkerID: "other", LastActivity: now.Add(-time.Hour)})

	r := reaper.New(reaper.Config{Enabled: true, InactiveTime: time.Minute, IntervalCheckTime: time.Second}, clients, nil)
	reaped := r.Sweep(now)

	assert.Equal(t, []string{"idle"}, reaped)
	assert.Equal(t, int32(1), idle.closed.Load())
	assert.Zero(t, fresh.closed.Load())
	_, ok := clients.GetClient("ghost")
	assert.True(t, ok, "ghosts are owned elsewhere")
}

func TestSweepThresholdIsExclusive(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clients := registry.NewClients()
	s := &socket{}
	clients.AddClient(registry.Connection{ID: "edge", Socket: s, LastActivity: now.Add(-time.Minute)})

	r := reaper.New(reaper.Config{InactiveTime: time.Minute}, clients, nil)
	assert.Empty(t, r.Sweep(now))
	assert.Equal(t, []string{"edge"}, r.Sweep(now.Add(time.Millisecond)))
}

func TestSweepSkipsClosing(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clients := registry.NewClients()
	s := &socket{}
	clients.AddClient(registry.Connection{ID: "c", Socket: s, LastActivity: now.Add(-time.Hour)})

	r := reaper.New(reaper.Config{InactiveTime: time.Minute}, clients, nil)
	require.Len(t, r.Sweep(now), 1)
	assert.Empty(t, r.Sweep(now), "already closing")
	assert.Equal(t, int32(1), s.closed.Load())
}

func TestRunTicksUntilCancelled(t *testing.T) {
	t.Parallel()

	clients := registry.NewClients()
	s := &socket{}
	clients.AddClient(registry.Connection{ID: "c", Socket: s, LastActivity: time.Now().Add(-time.Hour)})

	r := reaper.New(reaper.Config{InactiveTime: time.Minute, IntervalCheckTime: 10 * time.Millisecond}, clients, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
