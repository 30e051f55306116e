// Package reaper periodically disconnects local connections that have been
// idle for too long.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/Tyrowin/gocluster/internal/logger"
	"github.com/Tyrowin/gocluster/internal/registry"
)

// Config controls the sweep.
type Config struct {
	Enabled           bool          `env:"INACTIVITY_ENABLED" envDefault:"false"`
	InactiveTime      time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"10m"`
	IntervalCheckTime time.Duration `env:"INACTIVITY_CHECK_INTERVAL" envDefault:"1m"`
	Log               bool          `env:"INACTIVITY_LOG" envDefault:"false"`
}

// Clients is the registry view the reaper needs.
type Clients interface {
	LocalClients() []registry.Connection
	DisconnectClient(id string) bool
}

// Reaper disconnects idle local connections.
type Reaper struct {
	cfg     Config
	clients Clients
	now     func() time.Time
	log     *slog.Logger
}

// New returns a reaper. Non-positive durations fall back to the defaults.
func New(cfg Config, clients Clients, log *slog.Logger) *Reaper {
	if cfg.InactiveTime <= 0 {
		cfg.InactiveTime = 10 * time.Minute
	}
	if cfg.IntervalCheckTime <= 0 {
		cfg.IntervalCheckTime = time.Minute
	}
	return &Reaper{
		cfg:     cfg,
		clients: clients,
		now:     time.Now,
		log:     logger.OrNop(log).With(logger.Component("reaper")),
	}
}

// WithClock replaces the time source.
func (r *Reaper) WithClock(now func() time.Time) *Reaper {
	r.now = now
	return r
}

// Run sweeps every IntervalCheckTime until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.IntervalCheckTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Sweep disconnects every local connection idle for longer than InactiveTime
// at now and returns their ids. Ghost connections are never touched.
func (r *Reaper) Sweep(now time.Time) []string {
	var reaped []string
	for _, c := range r.clients.LocalClients() {
		if !c.Local() || c.State != registry.StateOpen {
			continue
		}
		idle := now.Sub(c.LastActivity)
		if idle <= r.cfg.InactiveTime {
			continue
		}
		if r.clients.DisconnectClient(c.ID) {
			reaped = append(reaped, c.ID)
			if r.cfg.Log {
				r.log.Info("disconnected inactive client", logger.ClientID(c.ID), slog.Duration("idle", idle))
			}
		}
	}
	return reaped
}
