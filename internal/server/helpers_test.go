package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gocluster/internal/broker"
	"github.com/Tyrowin/gocluster/internal/bus"
	"github.com/Tyrowin/gocluster/internal/chat"
	"github.com/Tyrowin/gocluster/internal/logger"
	"github.com/Tyrowin/gocluster/internal/server"
)

const readTimeout = 2 * time.Second

type node struct {
	srv  *server.Server
	http *httptest.Server
}

func (n *node) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(n.http.URL, "http") + n.srv.Config().Path
	if query != "" {
		u += "?" + query
	}
	return u
}

func testConfig() server.Config {
	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{"*"}
	cfg.RateLimit.Burst = 1000
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// startNode runs one worker on b behind an httptest server.
func startNode(t *testing.T, b broker.Broker, workerID string, mutate func(*server.Config), opts ...server.Option) *node {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := server.New(cfg, bus.New(b, workerID), append([]server.Option{server.WithLogger(logger.Nop())}, opts...)...)
	require.NoError(t, err)
	srv.Mount(chat.New(srv))
	require.NoError(t, srv.Start(context.Background()))

	hs := httptest.NewServer(srv.Mux())
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		hs.Close()
	})
	return &node{srv: srv, http: hs}
}

// observe subscribes a worker-less spectator to every bus channel.
func observe(t *testing.T, b broker.Broker) <-chan bus.Event {
	t.Helper()

	ob := bus.New(b, "observer")
	events, err := ob.Subscribe(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ob.Unsubscribe() })
	return events
}

// waitEvent returns the first event of type T matching match.
func waitEvent[T bus.Event](t *testing.T, events <-chan bus.Event, match func(T) bool) T {
	t.Helper()

	timeout := time.After(readTimeout)
	for {
		select {
		case ev := <-events:
			if e, ok := ev.(T); ok && (match == nil || match(e)) {
				return e
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// countEvents drains events for d and counts those of type T matching match.
func countEvents[T bus.Event](events <-chan bus.Event, d time.Duration, match func(T) bool) int {
	n := 0
	timeout := time.After(d)
	for {
		select {
		case ev := <-events:
			if e, ok := ev.(T); ok && (match == nil || match(e)) {
				n++
			}
		case <-timeout:
			return n
		}
	}
}

func dial(t *testing.T, n *node, query string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(n.wsURL(query), nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type frame struct {
	Type     string          `json:"type"`
	Action   string          `json:"action"`
	Data     json.RawMessage `json:"data,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

type result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func send(t *testing.T, conn *websocket.Conn, typ, action string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	msg, err := json.Marshal(frame{Type: typ, Action: action, Data: raw})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(raw, &f), string(raw))
	return f
}

func readRaw(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(raw)
}

// assertSilent fails if conn receives a frame within d. A read timeout breaks
// the connection, so this must be the last read on conn.
func assertSilent(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame: %s", raw)
	}
}

// call sends a request and decodes the response's result.
func call(t *testing.T, conn *websocket.Conn, typ, action string, data any) result {
	t.Helper()

	send(t, conn, typ, action, data)
	f := read(t, conn)
	require.Equal(t, typ, f.Type)
	require.Equal(t, action, f.Action)
	var r result
	require.NoError(t, json.Unmarshal(f.Response, &r))
	return r
}

type whoami struct {
	ClientID string          `json:"clientId"`
	WorkerID string          `json:"workerId"`
	User     json.RawMessage `json:"user,omitempty"`
	Rooms    []string        `json:"rooms"`
}

// identify returns the connection's id. A response also proves that the
// connection is registered.
func identify(t *testing.T, conn *websocket.Conn) whoami {
	t.Helper()

	r := call(t, conn, "system", "whoami", nil)
	require.True(t, r.Success)
	var w whoami
	require.NoError(t, json.Unmarshal(r.Data, &w))
	require.NotEmpty(t, w.ClientID)
	return w
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
