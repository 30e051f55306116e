package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/gocluster/internal/config"
	"github.com/Tyrowin/gocluster/internal/reaper"
)

const (
	defaultPort            = ":8080"
	defaultPath            = "/ws"
	defaultMaxMessageSize  = 4096
	defaultBurst           = 5
	defaultRefillInterval  = time.Second
	defaultTokenParam      = "token"
	defaultShutdownTimeout = 10 * time.Second
	defaultSendBuffer      = 256
)

// RateLimitConfig defines per-connection frame rate limiting: Burst frames
// are allowed at once and one more token is added every RefillInterval.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the settings of one worker process.
type Config struct {
	Port            string        `env:"SERVER_PORT" envDefault:":8080"`
	Path            string        `env:"WS_PATH" envDefault:"/ws"`
	WorkerID        string        `env:"WORKER_ID"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	MultipleRooms   bool          `env:"WS_MULTIPLE_ROOMS" envDefault:"true"`
	TokenParam      string        `env:"WS_TOKEN_PARAM" envDefault:"token"`
	ChannelPrefix   string        `env:"BUS_CHANNEL_PREFIX"`
	SendBuffer      int           `env:"WS_SEND_BUFFER" envDefault:"256"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimit       RateLimitConfig
	Inactivity      reaper.Config
}

// NewConfig returns a Config populated with defaults.
func NewConfig() Config {
	return Config{
		Port:            defaultPort,
		Path:            defaultPath,
		AllowedOrigins:  []string{"http://localhost:8080"},
		MaxMessageSize:  defaultMaxMessageSize,
		RateLimit:       RateLimitConfig{Burst: defaultBurst, RefillInterval: defaultRefillInterval},
		MultipleRooms:   true,
		TokenParam:      defaultTokenParam,
		SendBuffer:      defaultSendBuffer,
		ShutdownTimeout: defaultShutdownTimeout,
		Inactivity: reaper.Config{
			InactiveTime:      10 * time.Minute,
			IntervalCheckTime: time.Minute,
		},
	}
}

// NewConfigFromEnv reads Config from the environment and an optional .env file.
func NewConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.sanitize(), nil
}

// sanitize replaces unusable values with defaults.
func (c Config) sanitize() Config {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.Path == "" {
		c.Path = defaultPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	if c.WorkerID == "" {
		c.WorkerID = defaultWorkerID()
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = defaultBurst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = defaultRefillInterval
	}
	if c.TokenParam == "" {
		c.TokenParam = defaultTokenParam
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
