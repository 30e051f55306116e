// Package router dispatches parsed client envelopes to handlers registered by
// route key at startup.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Tyrowin/gocluster/internal/logger"
	"github.com/Tyrowin/gocluster/internal/protocol"
	"github.com/Tyrowin/gocluster/internal/registry"
)

// ErrHandlerNotFound is returned by Dispatch when no handler matches.
var ErrHandlerNotFound = errors.New("router: handler not found")

// HandlerError wraps a failure raised by a handler.
type HandlerError struct {
	Route protocol.Route
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("router: handler %s failed: %v", e.Route, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Request is what a handler receives for one inbound envelope.
type Request struct {
	ClientID string
	User     *registry.User
	Envelope protocol.Envelope
}

// HandlerFunc answers a request. A nil result sends nothing back.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Entry is one line of a declarative route table.
type Entry struct {
	Type    string
	Action  string
	Handler HandlerFunc
}

// Module is a set of handlers supplied by application code.
type Module interface {
	Routes() []Entry
}

// Table is a Module backed by a literal slice.
type Table []Entry

// Routes implements Module.
func (t Table) Routes() []Entry { return t }

// Router maps route keys to handlers. Registration happens before the server
// starts; Dispatch is safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	routes map[protocol.Route]HandlerFunc
	log    *slog.Logger
}

// New returns an empty router.
func New(log *slog.Logger) *Router {
	return &Router{
		routes: make(map[protocol.Route]HandlerFunc),
		log:    logger.OrNop(log).With(logger.Component("router")),
	}
}

// Handle registers h for type:action. It panics on an empty key, a nil
// handler, or a duplicate registration.
func (r *Router) Handle(typ, action string, h HandlerFunc) {
	if typ == "" || action == "" {
		panic("router: empty route key")
	}
	if h == nil {
		panic("router: nil handler for " + typ + ":" + action)
	}
	key := protocol.Route{Type: typ, Action: action}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.routes[key]; exists {
		panic("router: duplicate handler for " + key.String())
	}
	r.routes[key] = h
}

// Mount registers every entry of m.
func (r *Router) Mount(m Module) {
	for _, e := range m.Routes() {
		r.Handle(e.Type, e.Action, e.Handler)
	}
}

// Routes lists the registered route keys, sorted.
func (r *Router) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.routes))
	for k := range r.routes {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return keys
}

// Dispatch runs the handler for req. It returns the response to send to the
// originating client, nil when the handler returned nothing, or an error:
// ErrHandlerNotFound for an unknown route and *HandlerError when the handler
// failed or panicked.
func (r *Router) Dispatch(ctx context.Context, req Request) (resp *protocol.Response, err error) {
	route := req.Envelope.Route()

	r.mu.RLock()
	h, ok := r.routes[route]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, route)
	}

	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			err = &HandlerError{Route: route, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	result, err := h(ctx, req)
	if err != nil {
		return nil, &HandlerError{Route: route, Err: err}
	}
	if result == nil {
		return nil, nil
	}
	if msg := protocol.ResponseError(result); msg != "" {
		r.log.Warn("handler responded with error",
			logger.Route(route.String()),
			logger.ClientID(req.ClientID),
			slog.String("response_error", msg))
	}
	return &protocol.Response{Type: route.Type, Action: route.Action, Response: result}, nil
}
