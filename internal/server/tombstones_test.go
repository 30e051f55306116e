package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gocluster/internal/broker"
	"github.com/Tyrowin/gocluster/internal/bus"
	"github.com/Tyrowin/gocluster/internal/logger"
)

func TestTombstonesExpire(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	ts := newTombstones(time.Minute)

	ts.add("a", now)
	assert.True(t, ts.has("a", now.Add(59*time.Second)))
	assert.False(t, ts.has("a", now.Add(time.Minute)))
	assert.False(t, ts.has("b", now))

	ts.add("b", now.Add(2*time.Minute))
	assert.NotContains(t, ts.at, "a")
	assert.Contains(t, ts.at, "b")

	var nilSet *tombstones
	nilSet.add("a", now)
	assert.False(t, nilSet.has("a", now))
}

// applyingServer returns a stopped server whose event handling can be driven
// directly from the test goroutine.
func applyingServer(t *testing.T, now *time.Time) *Server {
	t.Helper()

	srv, err := New(NewConfig(), bus.New(broker.NewMemory(), "w1"),
		WithLogger(logger.Nop()),
		WithClock(func() time.Time { return *now }))
	require.NoError(t, err)
	srv.gone = newTombstones(goneTTL)
	return srv
}

func TestLateRemoteEventsDoNotResurrectDisconnectedClient(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	srv := applyingServer(t, &now)
	ctx := context.Background()

	left := &bus.ClientDisconnected{ClientID: "c1"}
	left.WorkerID = "w2"
	srv.apply(ctx, left)

	join := &bus.ClientJoinedRoom{ClientID: "c1", RoomName: "lobby"}
	join.WorkerID = "w2"
	srv.apply(ctx, join)

	connected := &bus.ClientConnected{ClientID: "c1", LastActivity: now}
	connected.WorkerID = "w2"
	srv.apply(ctx, connected)

	_, ok := srv.Client("c1")
	assert.False(t, ok)
	assert.Empty(t, srv.Rooms())

	other := &bus.ClientJoinedRoom{ClientID: "c2", RoomName: "lobby"}
	other.WorkerID = "w2"
	srv.apply(ctx, other)

	c2, ok := srv.Client("c2")
	require.True(t, ok)
	assert.Equal(t, "w2", c2.WorkerID)
	assert.True(t, srv.IsClientInRoom("c2", "lobby"))
}

func TestRemoteJoinAfterTombstoneExpiryCreatesGhost(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	srv := applyingServer(t, &now)
	ctx := context.Background()

	left := &bus.ClientDisconnected{ClientID: "c1"}
	left.WorkerID = "w2"
	srv.apply(ctx, left)

	now = now.Add(goneTTL)
	join := &bus.ClientJoinedRoom{ClientID: "c1", RoomName: "lobby"}
	join.WorkerID = "w2"
	srv.apply(ctx, join)

	assert.True(t, srv.IsClientInRoom("c1", "lobby"))
}
