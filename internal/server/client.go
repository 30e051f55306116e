package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gocluster/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// client is the local end of one WebSocket connection. It implements
// registry.Socket: Send queues a frame for the write pump and Close asks the
// write pump to send a close frame and tear the transport down.
type client struct {
	id      string
	conn    *websocket.Conn
	srv     *Server
	pumps   *sync.WaitGroup
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	log     *slog.Logger
}

func newClient(srv *Server, id string, conn *websocket.Conn, remote string, pumps *sync.WaitGroup) *client {
	rl := srv.cfg.RateLimit
	conn.SetReadLimit(srv.cfg.MaxMessageSize)

	return &client{
		id:      id,
		conn:    conn,
		srv:     srv,
		pumps:   pumps,
		send:    make(chan []byte, srv.cfg.SendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Every(rl.RefillInterval), rl.Burst),
		log:     srv.log.With(logger.ClientID(id), logger.Remote(remote)),
	}
}

// Send queues frame without blocking. A client whose queue is full is a slow
// consumer and gets disconnected.
func (c *client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send buffer full; disconnecting slow client", slog.Int("buffer", cap(c.send)))
		_ = c.Close()
		return false
	}
}

// Close is idempotent and never blocks.
func (c *client) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("setting initial read deadline failed", logger.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", slog.Int64("max_bytes", c.srv.cfg.MaxMessageSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("client disconnected", logger.Error(err))
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		c.log.Debug("connection closed", logger.Error(err))
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Warn("unexpected websocket close", logger.Error(err))
	default:
		c.log.Debug("websocket read ended", logger.Error(err))
	}
}

// readPump handles frames in arrival order until the transport fails. On exit
// it runs the server's close path exactly once for this connection.
func (c *client) readPump() {
	defer func() {
		_ = c.Close()
		c.srv.onClose(c)
		c.pumps.Done()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		c.srv.clients.Touch(c.id, c.srv.now())

		if !c.limiter.Allow() {
			c.log.Warn("rate limit exceeded; discarding frame",
				slog.Int("burst", c.srv.cfg.RateLimit.Burst),
				slog.Duration("refill_interval", c.srv.cfg.RateLimit.RefillInterval))
			continue
		}

		c.srv.handleFrame(c, raw)
	}
}

// writePump owns every write on the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("closing connection failed", logger.Error(err))
		}
		c.pumps.Done()
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.writeFrames(frame) {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				_ = c.Close()
				return
			}
		case <-c.done:
			c.writeClose()
			return
		}
	}
}

// writeFrames writes frame and then whatever else is already queued, each as
// its own text message.
func (c *client) writeFrames(frame []byte) bool {
	for {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return false
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			if !isExpectedCloseError(err) {
				c.log.Debug("writing frame failed", logger.Error(err))
			}
			return false
		}
		select {
		case frame = <-c.send:
		default:
			return true
		}
	}
}

func (c *client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("writing ping failed", logger.Error(err))
		return false
	}
	return true
}

func (c *client) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("writing close frame failed", logger.Error(err))
	}
}
