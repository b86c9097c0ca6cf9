package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-relay/internal/session"
)

// Server bundles the configuration, hub and WebSocket upgrader behind the
// HTTP handlers.
type Server struct {
	cfg      Config
	hub      *Hub
	upgrader websocket.Upgrader
	origins  *originPolicy
	log      zerolog.Logger
}

// New creates a Server that authenticates logins against verifier.
func New(cfg Config, verifier session.Verifier, log zerolog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	s := &Server{
		cfg:     cfg,
		hub:     NewHub(cfg, verifier, log),
		origins: newOriginPolicy(cfg.AllowedOrigins, log),
		log:     log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Hub returns the server's hub for shutdown coordination.
func (s *Server) Hub() *Hub {
	return s.hub
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer binds the listening socket and serves in the background. Bind
// failures are returned directly; later serve failures arrive on the channel,
// which is closed when the server stops.
func StartServer(server *http.Server) (<-chan error, error) {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", server.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh, nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func ShutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
