package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/broadcast"
	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/session"
)

// Hub ties connections to the session registry and the broadcast engine. It
// also tracks every live client, logged in or not, so shutdown can reach them.
type Hub struct {
	cfg      Config
	registry *session.Registry
	engine   *broadcast.Engine
	log      zerolog.Logger

	mu       sync.Mutex
	clients  map[*Client]struct{}
	stopping bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub that authenticates logins against verifier.
func NewHub(cfg Config, verifier session.Verifier, log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      sanitizeConfig(cfg),
		registry: session.NewRegistry(verifier, log),
		engine:   broadcast.NewEngine(log),
		log:      log,
		clients:  make(map[*Client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register starts the pumps for client. Clients arriving after Shutdown has
// begun are closed immediately.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if h.stopping {
		h.mu.Unlock()
		_ = client.Close(session.CloseGoingAway, session.ReasonShutdown)
		return
	}
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.wg.Add(2)
	h.mu.Unlock()

	client.log.Info().Int("clients", clientCount).Msg("Client connected")

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// login handles a LoginRequest from client. The reply is always sent; on
// success the roster update follows.
func (h *Hub) login(client *Client, req protocol.LoginRequest) bool {
	result, err := h.registry.Login(req.Username, req.Secret, client)
	ok := err == nil

	if ok {
		client.authenticate(req.Username)
		client.log.Info().Str("user", req.Username).Msg("User logged in")
	} else {
		client.log.Warn().Err(err).Str("user", req.Username).Msg("Login failed")
	}

	if sendErr := client.Send(protocol.LoginResponse(ok)); sendErr != nil {
		client.log.Warn().Err(sendErr).Msg("Failed to send login response")
	}

	if ok {
		h.publish(result.Update)
	}
	return ok
}

// relay rebroadcasts a chat frame when its author is logged in. Otherwise the
// sending connection is closed and relay returns false.
func (h *Hub) relay(client *Client, msg protocol.ChatMessage) bool {
	if !h.registry.IsLoggedIn(msg.Username) {
		client.log.Warn().Str("user", msg.Username).Msg("Message received without valid login")
		if err := client.Close(session.CloseNormal, session.ReasonLogInFirst); err != nil {
			client.log.Warn().Err(err).Msg("Error closing unauthenticated connection")
		}
		return false
	}

	client.log.Info().Str("user", msg.Username).Str("text", msg.Text).Msg("Message received")
	h.engine.Broadcast(h.ctx, msg.Raw, h.registry.Snapshot())
	return true
}

// disconnect is the per-connection cleanup: it drops the client's session,
// if it still owns one, and tells everyone else.
func (h *Hub) disconnect(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mu.Unlock()

	username, update, ok := h.registry.Logout(client)
	if !ok {
		client.log.Info().Int("clients", clientCount).Msg("Client disconnected before login")
		return
	}

	client.log.Info().Str("user", username).Int("clients", clientCount).Msg("User disconnected")
	h.publish(update)
}

func (h *Hub) publish(update session.Update) {
	if update.Empty() || h.ctx.Err() != nil {
		return
	}
	h.engine.Broadcast(h.ctx, update.Payload, update.Recipients)
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Roster returns the logged-in usernames in login order.
func (h *Hub) Roster() []string {
	return h.registry.Roster()
}

// Registry exposes the session registry for read-only inspection.
func (h *Hub) Registry() *session.Registry {
	return h.registry
}

// shutdownClients closes every open connection with a going-away frame.
func (h *Hub) shutdownClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if err := client.Close(session.CloseGoingAway, session.ReasonShutdown); err != nil {
			client.log.Warn().Err(err).Msg("Error closing client connection")
		}
	}

	h.log.Info().Int("clients", len(clients)).Msg("Closed client connections")
}

// Shutdown closes all clients and waits for their goroutines, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("Initiating hub shutdown...")

	h.mu.Lock()
	alreadyStopping := h.stopping
	h.stopping = true
	h.mu.Unlock()

	if !alreadyStopping {
		h.cancel()
		h.shutdownClients()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// errHubStopped is reported by the WebSocket handler when shutdown has begun.
var errHubStopped = errors.New("hub is shutting down")

func (h *Hub) isStopping() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopping
}
