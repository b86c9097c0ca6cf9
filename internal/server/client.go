package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/session"
)

// Client is one WebSocket connection. It runs a read pump that dispatches
// inbound frames and a write pump that drains the send queue, and implements
// session.Conn so the registry and broadcast engine can address it.
type Client struct {
	id          string
	conn        *websocket.Conn
	hub         *Hub
	addr        string
	send        chan string
	done        chan struct{}
	closeOnce   sync.Once
	cleanupOnce sync.Once
	rateLimiter *rateLimiter
	cfg         Config
	log         zerolog.Logger

	mu       sync.Mutex
	state    ConnState
	username string
}

var _ session.Conn = (*Client)(nil)

// NewClient creates a Client for conn. conn may be nil in tests that only
// exercise the queueing and state logic.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:          id,
		conn:        conn,
		hub:         hub,
		addr:        addr,
		send:        make(chan string, cfg.SendBuffer),
		done:        make(chan struct{}),
		rateLimiter: newRateLimiter(cfg.RateLimit),
		cfg:         cfg,
		log:         hub.log.With().Str("conn_id", id).Str("addr", addr).Logger(),
	}
}

func (c *Client) ID() string         { return c.id }
func (c *Client) RemoteAddr() string { return c.addr }

// State returns the connection's lifecycle state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Username returns the user bound by the last successful login on this
// connection, or "" before login.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Client) authenticate(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateAuthenticated
	c.username = username
}

// Send queues payload for the write pump without blocking.
func (c *Client) Send(payload string) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close sends a close frame carrying code and reason, then closes the socket.
// Only the first call has any effect.
func (c *Client) Close(code int, reason string) error {
	return c.shutdown(websocket.FormatCloseMessage(code, reason))
}

// terminate closes the socket without a close frame; used once the peer has
// already gone away.
func (c *Client) terminate() {
	_ = c.shutdown(nil)
}

func (c *Client) shutdown(closeFrame []byte) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.done)

		if c.conn == nil {
			return
		}
		if closeFrame != nil {
			deadline := time.Now().Add(c.cfg.WriteWait)
			if werr := c.conn.WriteControl(websocket.CloseMessage, closeFrame, deadline); werr != nil && !isExpectedCloseError(werr) {
				c.log.Warn().Err(werr).Msg("Error writing close message")
			}
		}
		if cerr := c.conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
			err = cerr
		}
	})
	return err
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.log.Warn().Err(err).Msg("Error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
}

// handleReadError logs why the read loop is ending.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.cfg.MaxMessageSize).Msg("Frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Info().Err(err).Msg("Client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info().Err(err).Msg("Client connection closed")
	case websocket.IsUnexpectedCloseError(err):
		c.log.Warn().Err(err).Msg("Unexpected WebSocket close")
	default:
		c.log.Warn().Err(err).Msg("WebSocket read error")
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the frame should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn().Int("burst", c.cfg.RateLimit.Burst).Dur("interval", c.cfg.RateLimit.RefillInterval).
			Msg("Rate limit exceeded; discarding frame")
		return false
	}
	return true
}

// dispatch routes one inbound frame and returns false once the connection
// must stop reading.
func (c *Client) dispatch(raw string) bool {
	msg, err := protocol.Parse(raw)
	if err != nil {
		c.log.Warn().Err(err).Str("frame", raw).Msg("Malformed frame received")
		return true
	}

	switch m := msg.(type) {
	case protocol.LoginRequest:
		c.hub.login(c, m)
		return true
	case protocol.ChatMessage:
		return c.hub.relay(c, m)
	case protocol.UserListNotice:
		c.log.Warn().Str("frame", raw).Msg("Client sent a server-only user list frame; ignoring")
		return true
	default:
		c.log.Error().Str("command", string(msg.Command())).Msg("Unhandled command")
		return true
	}
}

func (c *Client) readPump() {
	defer c.cleanup()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() != StateClosed {
				c.handleReadError(err)
			}
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		if !c.dispatch(string(raw)) {
			return
		}
	}
}

// cleanup runs once per connection, whichever path ended it.
func (c *Client) cleanup() {
	c.cleanupOnce.Do(func() {
		c.terminate()
		c.hub.disconnect(c)
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.terminate()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		return false
	}
}

// writeTextMessage writes one queued payload as its own text frame.
func (c *Client) writeTextMessage(message string) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.log.Warn().Err(err).Msg("Error setting write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("Error writing message")
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.log.Warn().Err(err).Msg("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("Error writing ping message")
		}
		return false
	}
	return true
}
