package server

import (
	"errors"
	"strings"
)

var (
	// ErrClientClosed is returned when sending to a connection that is closing.
	ErrClientClosed = errors.New("client connection closed")
	// ErrSendBufferFull is returned when a slow client's outbound queue is full.
	ErrSendBufferFull = errors.New("client send buffer full")
)

// ConnState is the position of a connection in its lifecycle. The only
// transitions are Unauthenticated -> Authenticated and any state -> Closed.
type ConnState int

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
