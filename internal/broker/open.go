package broker

import (
	"context"
	"fmt"
	"strings"
)

// Driver names accepted by Open.
const (
	DriverRedis  = "redis"
	DriverNATS   = "nats"
	DriverMemory = "memory"
)

// Config selects and configures a driver.
type Config struct {
	Driver string `env:"BROKER_DRIVER" envDefault:"redis"`
	Redis  RedisConfig
	NATS   NATSConfig
}

// Open connects the configured driver. The returned broker owns its
// connection and closes it on Close.
func Open(ctx context.Context, cfg Config) (Broker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverRedis, "":
		client, err := ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedisOwned(client), nil
	case DriverNATS:
		nc, err := ConnectNATS(cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("broker: connect nats: %w", err)
		}
		return NewNATS(nc), nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
