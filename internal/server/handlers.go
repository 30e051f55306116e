package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/gocluster/internal/broker"
	"github.com/Tyrowin/gocluster/internal/bus"
	"github.com/Tyrowin/gocluster/internal/logger"
	"github.com/Tyrowin/gocluster/internal/protocol"
	"github.com/Tyrowin/gocluster/internal/router"
)

// ServeHTTP is the upgrade handler. Requests outside the configured path have
// their transport closed without a response; everything else must be a GET
// from an allowed origin carrying either no token or a valid one.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.matchPath(r.URL.Path) {
		s.refuse(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	if s.State() != StateStarted {
		http.Error(w, "Server is not accepting connections.", http.StatusServiceUnavailable)
		return
	}

	if !s.origins.allow(r) {
		s.log.Warn("blocked websocket connection from disallowed origin", slog.String("origin", r.Header.Get("Origin")))
		http.Error(w, "Origin not allowed.", http.StatusForbidden)
		return
	}

	user, err := s.gate.Authenticate(r)
	if err != nil {
		s.log.Warn("rejected websocket handshake", logger.Remote(r.RemoteAddr), logger.Error(err))
		w.Header().Set("Connection", "close")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", logger.Remote(r.RemoteAddr), logger.Error(err))
		return
	}

	if !s.register(uuid.NewString(), conn, user, r.RemoteAddr) {
		_ = conn.Close()
	}
}

func (s *Server) matchPath(path string) bool {
	return path == s.cfg.Path || strings.HasPrefix(path, strings.TrimSuffix(s.cfg.Path, "/")+"/")
}

// refuse drops the underlying transport of r.
func (s *Server) refuse(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("refusing upgrade on unknown path", slog.String("path", r.URL.Path), logger.Remote(r.RemoteAddr))

	hj, ok := w.(http.Hijacker)
	if !ok {
		w.Header().Set("Connection", "close")
		http.NotFound(w, r)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}

// handleFrame runs on the read pump of c, so frames of one connection are
// handled in the order they arrived.
func (s *Server) handleFrame(c *client, raw []byte) {
	ctx := s.context()

	env, err := protocol.Parse(raw)
	if err != nil {
		c.log.Debug("invalid frame", logger.Error(err))
		s.reportProtocolError(ctx, c, err)
		return
	}

	req := router.Request{ClientID: c.id, Envelope: env}
	if conn, ok := s.clients.GetClient(c.id); ok {
		req.User = conn.User
	}

	resp, err := s.router.Dispatch(ctx, req)
	var herr *router.HandlerError
	switch {
	case errors.Is(err, router.ErrHandlerNotFound):
		c.log.Debug("no handler for frame", logger.Route(env.Route().String()))
	case errors.As(err, &herr):
		var perr *protocol.ProtocolError
		if errors.As(herr.Err, &perr) {
			c.log.Debug("invalid frame data", logger.Route(herr.Route.String()), logger.Error(perr))
			s.reportProtocolError(ctx, c, perr)
			return
		}
		c.log.Warn("handler failed", logger.Route(herr.Route.String()), logger.Error(herr.Err))
		c.Send(protocol.EncodeError(herr.Err.Error()))
	case err != nil:
		c.log.Warn("dispatch failed", logger.Error(err))
	case resp != nil:
		frame, err := protocol.EncodeResponse(*resp)
		if err != nil {
			c.log.Warn("encoding response failed", logger.Route(env.Route().String()), logger.Error(err))
			c.Send(protocol.EncodeError(fmt.Sprintf("cannot encode response for %s", env.Route())))
			return
		}
		c.Send(frame)
	}
}

// reportProtocolError sends err to c through the messageError channel. The
// owner of the socket is this worker, so the event must come back to it.
func (s *Server) reportProtocolError(ctx context.Context, c *client, err error) {
	ev := &bus.MessageError{ClientID: c.id, Error: err.Error()}
	ev.IncludeSender = true
	if pubErr := s.bus.Publish(ctx, ev); pubErr != nil {
		s.log.Warn("publish failed", logger.Channel(string(ev.Channel())), logger.Error(pubErr))
		c.Send(protocol.EncodeError(ev.Error))
	}
}

// HealthHandler reports that the process is up.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "gocluster worker is running!")
}

type readiness struct {
	Status   string `json:"status"`
	WorkerID string `json:"workerId"`
	State    string `json:"state"`
	Clients  int    `json:"clients"`
	Error    string `json:"error,omitempty"`
}

// ReadyHandler reports whether the server is started and its broker answers.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	body := readiness{
		Status:   "ok",
		WorkerID: s.cfg.WorkerID,
		State:    s.State().String(),
		Clients:  s.clients.Count(),
	}
	code := http.StatusOK

	if s.State() != StateStarted {
		body.Status, code = "unavailable", http.StatusServiceUnavailable
	} else if p, ok := s.bus.Broker().(broker.Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			body.Status, body.Error, code = "unavailable", err.Error(), http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
