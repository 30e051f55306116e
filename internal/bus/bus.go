package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Tyrowin/gocluster/internal/broker"
	"github.com/Tyrowin/gocluster/internal/logger"
)

const defaultBuffer = 256

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.log = logger.OrNop(l) }
}

// WithPrefix namespaces every channel on the broker, e.g. "chat:v1:".
func WithPrefix(prefix string) Option {
	return func(b *Bus) { b.prefix = prefix }
}

// WithBuffer sets the size of the channel returned by Subscribe.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// Bus publishes and receives typed events for one worker.
type Bus struct {
	broker   broker.Broker
	workerID string
	prefix   string
	buffer   int
	log      *slog.Logger

	mu   sync.Mutex
	sub  broker.Subscription
	done chan struct{}
}

// New returns a Bus publishing as workerID.
func New(b broker.Broker, workerID string, opts ...Option) *Bus {
	bus := &Bus{
		broker:   b,
		workerID: workerID,
		buffer:   defaultBuffer,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(bus)
	}
	bus.log = bus.log.With(logger.Component("bus"), logger.WorkerID(workerID))
	return bus
}

// WorkerID returns the identity stamped on published events.
func (b *Bus) WorkerID() string {
	return b.workerID
}

// Broker returns the underlying broker.
func (b *Bus) Broker() broker.Broker {
	return b.broker
}

// Publish stamps ev with this worker's id and publishes it.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev == nil {
		return ErrNilEvent
	}
	ev.meta().WorkerID = b.workerID

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: encode %s: %w", ev.Channel(), err)
	}
	if err := b.broker.Publish(ctx, b.prefix+string(ev.Channel()), payload); err != nil {
		return fmt.Errorf("bus: publish %s: %w", ev.Channel(), err)
	}
	return nil
}

// Subscribe listens on every channel of the set and returns the events this
// worker should apply. Payloads that do not decode are logged and dropped;
// events published by this worker are dropped unless they set includeSender.
// The returned channel is closed after Unsubscribe or when ctx is done.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		return nil, ErrAlreadySubscribed
	}

	channels := Channels()
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = b.prefix + string(c)
	}
	sub, err := b.broker.Subscribe(ctx, names...)
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe: %w", err)
	}

	b.sub = sub
	b.done = make(chan struct{})
	out := make(chan Event, b.buffer)
	go b.forward(ctx, sub, b.done, out)
	return out, nil
}

// Unsubscribe stops delivery. It is idempotent and a later Subscribe starts
// afresh.
func (b *Bus) Unsubscribe() error {
	b.mu.Lock()
	sub, done := b.sub, b.done
	b.sub, b.done = nil, nil
	b.mu.Unlock()

	if sub == nil {
		return nil
	}
	close(done)
	return sub.Close()
}

func (b *Bus) forward(ctx context.Context, sub broker.Subscription, done <-chan struct{}, out chan<- Event) {
	defer close(out)

	msgs := sub.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, err := b.Decode(msg)
			if err != nil {
				b.log.Warn("dropping bus payload", logger.Channel(msg.Channel), logger.Error(err))
				continue
			}
			if !b.Accept(ev) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}
}

// Decode turns a broker message into an event.
func (b *Bus) Decode(msg broker.Message) (Event, error) {
	name, ok := strings.CutPrefix(msg.Channel, b.prefix)
	if !ok {
		return nil, &DecodeError{Channel: msg.Channel, Err: ErrUnknownChannel}
	}
	ev := newEvent(Channel(name))
	if ev == nil {
		return nil, &DecodeError{Channel: msg.Channel, Err: ErrUnknownChannel}
	}
	if err := json.Unmarshal(msg.Payload, ev); err != nil {
		return nil, &DecodeError{Channel: msg.Channel, Err: err}
	}
	if ev.meta().WorkerID == "" {
		return nil, &DecodeError{Channel: msg.Channel, Err: ErrMissingWorkerID}
	}
	return ev, nil
}

// Accept applies self-origin filtering.
func (b *Bus) Accept(ev Event) bool {
	m := ev.meta()
	return m.WorkerID != b.workerID || m.IncludeSender
}
