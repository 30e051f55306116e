package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig holds the NATS connection settings.
type NATSConfig struct {
	URL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Name          string        `env:"NATS_CLIENT_NAME" envDefault:"gocluster"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"500ms"`
	Timeout       time.Duration `env:"NATS_TIMEOUT" envDefault:"3s"`
}

// ConnectNATS dials NATS with unlimited reconnects.
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	return nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	)
}

// NATS is a Broker over core NATS subjects. Channel names are used as
// subjects verbatim.
type NATS struct {
	nc *nats.Conn
}

// NewNATS wraps a connection. Close drains and closes it.
func NewNATS(nc *nats.Conn) *NATS {
	return &NATS{nc: nc}
}

// Publish implements Broker.
func (n *NATS) Publish(_ context.Context, channel string, payload []byte) error {
	return n.nc.Publish(channel, payload)
}

// Subscribe implements Broker. The subscriptions are flushed to the server
// before it returns.
func (n *NATS) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	s := &natsSubscription{ch: make(chan Message, defaultMemoryBuffer)}
	for _, channel := range channels {
		sub, err := n.nc.Subscribe(channel, s.deliver)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.subs = append(s.subs, sub)
	}
	if err := n.nc.FlushWithContext(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Ping implements Pinger.
func (n *NATS) Ping(ctx context.Context) error {
	if !n.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return n.nc.FlushWithContext(ctx)
}

// Close implements Broker.
func (n *NATS) Close() error {
	if n.nc.IsClosed() {
		return nil
	}
	return n.nc.Drain()
}

type natsSubscription struct {
	mu     sync.RWMutex
	subs   []*nats.Subscription
	ch     chan Message
	closed bool
}

func (s *natsSubscription) deliver(m *nats.Msg) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- Message{Channel: m.Subject, Payload: m.Data}:
	default:
	}
}

func (s *natsSubscription) Messages() <-chan Message {
	return s.ch
}

func (s *natsSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	close(s.ch)
	return errors.Join(errs...)
}
