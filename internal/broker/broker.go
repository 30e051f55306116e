// Package broker adapts shared publish/subscribe systems to the small contract
// the event bus needs: publish a payload on a channel, subscribe to a fixed set
// of channels, unsubscribe.
//
// Drivers are provided for Redis, NATS, and an in-process memory broker used
// by tests and single-process deployments.
package broker

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when a closed broker or subscription is used.
	ErrClosed = errors.New("broker: closed")
	// ErrNoChannels is returned when Subscribe is called with no channels.
	ErrNoChannels = errors.New("broker: no channels to subscribe to")
	// ErrUnknownDriver is returned by Open for an unsupported driver name.
	ErrUnknownDriver = errors.New("broker: unknown driver")
)

// Message is one payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Subscription delivers messages for the channels it was created with.
type Subscription interface {
	// Messages returns the delivery channel. It is closed after Close.
	Messages() <-chan Message
	// Close unsubscribes. It is idempotent.
	Close() error
}

// Broker is a shared publish/subscribe system. A Broker value belongs to one
// process; other processes reach the same system through their own Broker.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
	Close() error
}

// Pinger is implemented by brokers that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
