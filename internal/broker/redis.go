package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrFailedToParseRedisConnString is returned for a malformed REDIS_URL.
	ErrFailedToParseRedisConnString = errors.New("broker: failed to parse redis connection string")
	// ErrRedisNotReady is returned when every connection attempt failed.
	ErrRedisNotReady = errors.New("broker: redis did not become ready within the given time period")
)

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

// ConnectRedis opens a Redis client and pings it, retrying RetryAttempts
// times with RetryInterval between attempts.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	attempts := max(cfg.RetryAttempts, 1)
	for range attempts {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}
	return nil, ErrRedisNotReady
}

// Redis is a Broker over Redis PUBLISH/SUBSCRIBE. Subscriptions use dedicated
// connections from the client's pool.
type Redis struct {
	client redis.UniversalClient
	owned  bool
}

// NewRedis wraps an existing client. Close does not close it.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// NewRedisOwned wraps a client that Close should close.
func NewRedisOwned(client redis.UniversalClient) *Redis {
	return &Redis{client: client, owned: true}
}

// Client returns the underlying client so other components can share its
// pool.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// Publish implements Broker.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe implements Broker. It waits for the subscription confirmation so
// that messages published after Subscribe returns are delivered.
func (r *Redis) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	ps := r.client.Subscribe(ctx, channels...)
	for confirmed := 0; confirmed < len(channels); {
		reply, err := ps.Receive(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, err
		}
		if _, ok := reply.(*redis.Subscription); ok {
			confirmed++
		}
	}

	s := &redisSubscription{
		ps:       ps,
		channels: channels,
		ch:       make(chan Message, defaultMemoryBuffer),
		done:     make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// Ping implements Pinger.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Broker.
func (r *Redis) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}

type redisSubscription struct {
	ps       *redis.PubSub
	channels []string
	ch       chan Message
	done     chan struct{}
	once     sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.ch)

	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.ch <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.ch
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = errors.Join(s.ps.Unsubscribe(ctx, s.channels...), s.ps.Close())
	})
	return err
}
