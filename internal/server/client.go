package server

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/presencehub/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// wsConn is the part of *websocket.Conn a session uses.
type wsConn interface {
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one admitted websocket session. Its identity is fixed at
// admission. The liveness flag is flipped to unconfirmed by the sweep and back
// to alive by pongs, from different goroutines, so it is atomic.
type Client struct {
	id       string
	conn     wsConn
	send     chan []byte
	ping     chan struct{}
	hub      *Hub
	identity auth.Identity
	addr     string
	alive    atomic.Bool
	closed   bool // guarded by hub.mutex

	// While pending, broadcasts are held in backlog until the snapshot is queued.
	pendingMu sync.Mutex
	pending   bool
	backlog   [][]byte

	rateLimiter *rateLimiter
	log         *zap.Logger
}

func newClient(conn wsConn, hub *Hub, identity auth.Identity, addr string) *Client {
	c := &Client{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		ping:        make(chan struct{}, 1),
		hub:         hub,
		identity:    identity,
		addr:        addr,
		rateLimiter: newRateLimiter(hub.cfg.RateBurst, hub.cfg.RateInterval),
	}
	c.log = hub.log.With(zap.String("session", c.id), zap.String("addr", addr))
	c.alive.Store(true)
	conn.SetReadLimit(hub.cfg.MaxMessageSize)
	conn.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})
	return c
}

// ID returns the session id.
func (c *Client) ID() string { return c.id }

// Identity returns the identity verified at upgrade time.
func (c *Client) Identity() auth.Identity { return c.identity }

// Alive reports whether the session acknowledged the last probe.
func (c *Client) Alive() bool { return c.alive.Load() }

func (c *Client) markAlive() { c.alive.Store(true) }

// probe moves an alive session to unconfirmed and asks its write pump to
// ping it. It never waits on the transport. It returns false, without
// pinging, when the session was already unconfirmed.
func (c *Client) probe() bool {
	if !c.alive.CompareAndSwap(true, false) {
		return false
	}
	select {
	case c.ping <- struct{}{}:
	default:
		// a ping is already queued
	}
	return true
}

// hold queues payload in the backlog while the session is pending and
// reports whether it did.
func (c *Client) hold(payload []byte) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if !c.pending {
		return false
	}
	c.backlog = append(c.backlog, payload)
	return true
}

// activate queues the snapshot followed by the frames held while pending.
// Callers hold hub.mutex so the send queue cannot be closed meanwhile.
func (c *Client) activate(snapshot []byte) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	c.send <- snapshot
	for _, payload := range c.backlog {
		select {
		case c.send <- payload:
		default:
			c.hub.metrics.recordDrop()
		}
	}
	c.backlog = nil
	c.pending = false
}

func (c *Client) closeConn() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection", zap.Error(err))
	}
}

// handleReadError logs the read failure and reports whether the read loop should stop.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("frame exceeded maximum size", zap.Int64("limit", c.hub.cfg.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("connection closed", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
	return true
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.hub.metrics.recordChatRejected("rate_limited")
		c.log.Info("rate limit exceeded, discarding frame")
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Remove(c)
		c.closeConn()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			return
		}
		if !c.checkRateLimit() {
			continue
		}
		c.hub.relay.Handle(c.hub.ctx, c, raw)
	}
}

func (c *Client) writePump() {
	defer c.closeConn()

	for {
		select {
		case message, ok := <-c.send:
			if !c.handleMessage(message, ok) {
				return
			}
		case <-c.ping:
			if !c.writePing() {
				return
			}
		}
	}
}

func (c *Client) writePing() bool {
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("ping failed", zap.Error(err))
		}
		return false
	}
	return true
}

// handleMessage writes one outbound frame and returns false when the pump should stop.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("error setting write deadline", zap.Error(err))
		return false
	}
	if !ok {
		return c.writeCloseMessage()
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing frame", zap.Error(err))
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close frame to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("error writing close message", zap.Error(err))
		}
	}
	return false
}
