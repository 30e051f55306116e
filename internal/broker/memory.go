package broker

import (
	"context"
	"sync"
)

const defaultMemoryBuffer = 256

// Memory is an in-process broker. Every Subscribe call behaves like a
// separate process attached to the same shared system, so several event buses
// can be wired to one Memory to simulate a cluster.
type Memory struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	buffer int
	closed bool
}

// NewMemory returns an empty in-process broker. Slow subscribers whose buffer
// is full drop messages.
func NewMemory() *Memory {
	return &Memory{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: defaultMemoryBuffer,
	}
}

// Publish fans the payload out to every subscription listening on channel.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	for s := range m.subs {
		if _, ok := s.channels[channel]; ok {
			s.deliver(Message{Channel: channel, Payload: append([]byte(nil), payload...)})
		}
	}
	return nil
}

// Subscribe registers interest in channels.
func (m *Memory) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	s := &memorySubscription{
		broker:   m,
		channels: make(map[string]struct{}, len(channels)),
		ch:       make(chan Message, m.buffer),
	}
	for _, c := range channels {
		s.channels[c] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	m.subs[s] = struct{}{}
	return s, nil
}

// Ping implements Pinger.
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close closes every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*memorySubscription, 0, len(m.subs))
	for s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[*memorySubscription]struct{})
	m.mu.Unlock()

	for _, s := range subs {
		s.closeChannel()
	}
	return nil
}

type memorySubscription struct {
	broker   *Memory
	channels map[string]struct{}

	mu     sync.RWMutex
	ch     chan Message
	closed bool
}

func (s *memorySubscription) Messages() <-chan Message {
	return s.ch
}

func (s *memorySubscription) deliver(msg Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()

	s.closeChannel()
	return nil
}

func (s *memorySubscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}
