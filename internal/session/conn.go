//go:generate go run go.uber.org/mock/mockgen -source=conn.go -destination=mocks/mock_conn.go -package=mocks

package session

// Close codes sent to a peer when the server terminates its connection.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseReplaced  = 4000
)

// Close reasons paired with the codes above.
const (
	ReasonLogInFirst = "log in first"
	ReasonReplaced   = "connection replaced"
	ReasonShutdown   = "server shutting down"
)

// Conn is a live client connection as seen by the registry and the broadcast
// engine. Implementations must be safe for concurrent use.
type Conn interface {
	// ID uniquely identifies the connection for its whole lifetime.
	ID() string
	RemoteAddr() string
	// Send queues payload for delivery. It fails once the connection is closing.
	Send(payload string) error
	// Close terminates the connection with the given close code and reason.
	Close(code int, reason string) error
}
