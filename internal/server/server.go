package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gocluster/internal/auth"
	"github.com/Tyrowin/gocluster/internal/bus"
	"github.com/Tyrowin/gocluster/internal/logger"
	"github.com/Tyrowin/gocluster/internal/profile"
	"github.com/Tyrowin/gocluster/internal/reaper"
	"github.com/Tyrowin/gocluster/internal/registry"
	"github.com/Tyrowin/gocluster/internal/router"
)

var (
	// ErrAlreadyStarted is returned by Start on a running server.
	ErrAlreadyStarted = errors.New("server: already started")
	// ErrNilBus is returned by New without a bus.
	ErrNilBus = errors.New("server: nil bus")
	// ErrInvalidFrame is returned when an outbound frame is not JSON.
	ErrInvalidFrame = errors.New("server: frame is not valid JSON")
	// ErrUnknownClient is returned for room operations on a client that is
	// not registered.
	ErrUnknownClient = errors.New("server: unknown client")
)

// CustomHandler receives custom events published by any worker.
type CustomHandler func(ctx context.Context, ev *bus.Custom)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = logger.OrNop(l) }
}

// WithModules mounts application handler modules next to the built-ins.
func WithModules(mods ...router.Module) Option {
	return func(s *Server) { s.modules = append(s.modules, mods...) }
}

// WithVerifier enables token authentication on the upgrade.
func WithVerifier(v auth.Verifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithProfiles sets the store used to enrich room members.
func WithProfiles(p profile.Store) Option {
	return func(s *Server) { s.profiles = p }
}

// WithCustomHandler sets the receiver of custom events.
func WithCustomHandler(h CustomHandler) Option {
	return func(s *Server) { s.onCustom = h }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server is one worker of the cluster.
type Server struct {
	cfg      Config
	bus      *bus.Bus
	router   *router.Router
	gate     *auth.Gate
	verifier auth.Verifier
	profiles profile.Store
	onCustom CustomHandler
	modules  []router.Module
	clients  *registry.Clients
	rooms    *registry.Rooms
	origins  originPolicy
	upgrader websocket.Upgrader
	now      func() time.Time
	log      *slog.Logger

	mu         sync.Mutex
	state      State
	ctx        context.Context
	cancel     context.CancelFunc
	loopDone   chan struct{}
	reaperDone chan struct{}
	pumps      *sync.WaitGroup
	gone       *tombstones
}

// New builds a Server that relays its state through b. The worker id of b is
// the worker id of the server.
func New(cfg Config, b *bus.Bus, opts ...Option) (*Server, error) {
	if b == nil {
		return nil, ErrNilBus
	}

	s := &Server{
		bus: b,
		now: time.Now,
		log: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg.WorkerID = b.WorkerID()
	s.cfg = cfg.sanitize()
	s.log = s.log.With(logger.Component("server"), logger.WorkerID(s.cfg.WorkerID))
	s.clients = registry.NewClients()
	s.rooms = registry.NewRooms(s.cfg.MultipleRooms)
	s.gate = auth.NewGate(s.verifier, s.cfg.TokenParam)
	s.origins = newOriginPolicy(s.cfg.AllowedOrigins, s.log)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// Origins are checked before the gate runs.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	s.router = router.New(s.log)
	s.router.Mount(s.systemRoutes())
	for _, m := range s.modules {
		s.router.Mount(m)
	}
	return s, nil
}

// Mount registers an application module. It panics on a duplicate route.
func (s *Server) Mount(m router.Module) {
	s.router.Mount(m)
}

// Routes lists every registered route key.
func (s *Server) Routes() []string {
	return s.router.Routes()
}

// Config returns the sanitized configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// WorkerID identifies this worker on the bus.
func (s *Server) WorkerID() string {
	return s.cfg.WorkerID
}

// State returns the lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start subscribes to the bus and begins accepting connections. The server
// keeps running until Stop; cancelling ctx does not stop it, but its values
// reach every handler.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStarted {
		return ErrAlreadyStarted
	}

	s.clients.Cleanup()
	s.rooms.Cleanup()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := s.bus.Subscribe(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("server: start: %w", err)
	}

	s.ctx, s.cancel = runCtx, cancel
	s.pumps = &sync.WaitGroup{}
	s.gone = newTombstones(goneTTL)
	s.loopDone = make(chan struct{})
	go s.eventLoop(runCtx, events, s.loopDone)

	s.reaperDone = make(chan struct{})
	if s.cfg.Inactivity.Enabled {
		r := reaper.New(s.cfg.Inactivity, s.clients, s.log).WithClock(s.now)
		go func(done chan struct{}) {
			defer close(done)
			r.Run(runCtx)
		}(s.reaperDone)
	} else {
		close(s.reaperDone)
	}

	s.state = StateStarted
	s.log.Info("server started",
		slog.String("path", s.cfg.Path),
		slog.Bool("multiple_rooms", s.cfg.MultipleRooms),
		slog.Bool("reaper", s.cfg.Inactivity.Enabled),
		slog.Any("routes", s.router.Routes()))
	return nil
}

// Stop closes every local socket, waits for their pumps to finish the frame
// they are handling, then unsubscribes from the bus and resets the
// registries. It is idempotent. The wait is bounded by ctx and by the
// configured shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStarted {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	cancel, loopDone, reaperDone, pumps := s.cancel, s.loopDone, s.reaperDone, s.pumps
	s.mu.Unlock()

	// Each read pump announces its own disconnect once the handler it is
	// running returns, so peers see the handler's events first.
	local := s.clients.LocalClients()
	for _, c := range local {
		_ = c.Socket.Close()
	}

	var errs []error
	waitCtx, cancelWait := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancelWait()

	drained := make(chan struct{})
	go func() {
		pumps.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-waitCtx.Done():
		errs = append(errs, fmt.Errorf("server: waiting for connections: %w", waitCtx.Err()))
	}

	// Pumps that outlived the wait.
	for _, c := range s.clients.LocalClients() {
		s.dropClient(ctx, c.ID)
	}

	if err := s.bus.Unsubscribe(); err != nil {
		errs = append(errs, fmt.Errorf("server: unsubscribe: %w", err))
	}
	cancel()
	<-loopDone
	<-reaperDone

	s.clients.Cleanup()
	s.rooms.Cleanup()
	s.gone = nil

	s.log.Info("server stopped", slog.Int("closed_connections", len(local)))
	return errors.Join(errs...)
}

// context returns the context of the current run.
func (s *Server) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// register records an upgraded connection and starts its pumps. It returns
// false when the server stopped while the handshake was in progress.
func (s *Server) register(id string, conn *websocket.Conn, user *registry.User, remote string) bool {
	s.mu.Lock()
	if s.state != StateStarted {
		s.mu.Unlock()
		return false
	}
	ctx := s.ctx
	c := newClient(s, id, conn, remote, s.pumps)
	s.pumps.Add(2)
	now := s.now()
	s.clients.AddClient(registry.Connection{
		ID:           id,
		Socket:       c,
		WorkerID:     s.cfg.WorkerID,
		LastActivity: now,
		User:         user,
		State:        registry.StateOpen,
	})
	s.mu.Unlock()

	// Announce before the read pump can announce the disconnect.
	s.publish(ctx, &bus.ClientConnected{ClientID: id, User: user, LastActivity: now})

	go c.writePump()
	go c.readPump()

	c.log.Info("client connected", slog.Bool("authenticated", user != nil))
	return true
}

// onClose runs once when a local socket's read pump exits.
func (s *Server) onClose(c *client) {
	if s.dropClient(s.context(), c.id) {
		c.log.Info("client disconnected")
	}
}

// dropClient removes a local client from both registries and announces it.
// Only the first caller for an id publishes.
func (s *Server) dropClient(ctx context.Context, id string) bool {
	if !s.clients.RemoveClient(id) {
		return false
	}
	s.rooms.RemoveClientFromAllRooms(id)
	s.publish(ctx, &bus.ClientDisconnected{ClientID: id})
	return true
}

func (s *Server) publish(ctx context.Context, ev bus.Event) {
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Warn("publish failed", logger.Channel(string(ev.Channel())), logger.Error(err))
	}
}
