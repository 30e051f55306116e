package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gocluster/internal/broker"
)

func receive(t *testing.T, sub broker.Subscription) broker.Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return broker.Message{}
	}
}

func assertSilent(t *testing.T, sub broker.Subscription) {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message on %s", msg.Channel)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryFanOut(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := broker.NewMemory()
	defer m.Close()

	a, err := m.Subscribe(ctx, "x", "y")
	require.NoError(t, err)
	b, err := m.Subscribe(ctx, "x")
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "x", []byte("hello")))
	assert.Equal(t, broker.Message{Channel: "x", Payload: []byte("hello")}, receive(t, a))
	assert.Equal(t, "hello", string(receive(t, b).Payload))

	require.NoError(t, m.Publish(ctx, "y", []byte("only-a")))
	assert.Equal(t, "only-a", string(receive(t, a).Payload))
	assertSilent(t, b)
}

func TestMemoryUnsubscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := broker.NewMemory()
	defer m.Close()

	sub, err := m.Subscribe(ctx, "x")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, m.Publish(ctx, "x", []byte("late")))
	_, ok := <-sub.Messages()
	assert.False(t, ok)
}

func TestMemoryClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := broker.NewMemory()
	sub, err := m.Subscribe(ctx, "x")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	_, ok := <-sub.Messages()
	assert.False(t, ok)

	assert.ErrorIs(t, m.Publish(ctx, "x", nil), broker.ErrClosed)
	_, err = m.Subscribe(ctx, "x")
	assert.ErrorIs(t, err, broker.ErrClosed)
	assert.ErrorIs(t, m.Ping(ctx), broker.ErrClosed)
}

func TestSubscribeNeedsChannels(t *testing.T) {
	t.Parallel()

	_, err := broker.NewMemory().Subscribe(context.Background())
	assert.ErrorIs(t, err, broker.ErrNoChannels)
}

func TestOpenMemoryAndUnknown(t *testing.T) {
	t.Parallel()

	b, err := broker.Open(context.Background(), broker.Config{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &broker.Memory{}, b)

	_, err = broker.Open(context.Background(), broker.Config{Driver: "carrier-pigeon"})
	assert.ErrorIs(t, err, broker.ErrUnknownDriver)
}
