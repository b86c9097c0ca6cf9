// Package session owns the table of logged-in users and their connections.
//
// Every read or write of the table happens inside a single critical section.
// Mutating operations hand back an Update describing the roster broadcast the
// caller must perform, so fan-out never runs while the lock is held.
package session

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
)

// ErrRejected is returned by Login when the username or secret is wrong.
var ErrRejected = errors.New("invalid username or secret")

// Verifier checks a username/secret pair against the credential source.
type Verifier interface {
	Verify(username, secret string) bool
}

// Update is a roster broadcast produced by a registry mutation. Recipients is
// a point-in-time snapshot taken together with Payload.
type Update struct {
	Payload    string
	Recipients []Conn
}

// Empty reports whether there is nothing to broadcast.
func (u Update) Empty() bool {
	return u.Payload == ""
}

// LoginResult describes a successful login.
type LoginResult struct {
	// Replaced is the connection evicted by this login, if any.
	Replaced Conn
	Update   Update
}

// Registry maps usernames to their live connection. At most one connection is
// registered per username and one username per connection.
type Registry struct {
	mu       sync.Mutex
	verifier Verifier
	log      zerolog.Logger

	order  []string
	byName map[string]Conn
	byConn map[string]string
}

// NewRegistry creates an empty registry that authenticates against verifier.
func NewRegistry(verifier Verifier, log zerolog.Logger) *Registry {
	return &Registry{
		verifier: verifier,
		log:      log,
		byName:   make(map[string]Conn),
		byConn:   make(map[string]string),
	}
}

// IsLoggedIn reports whether username currently has a live session.
func (r *Registry) IsLoggedIn(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.byName[username]
	return ok
}

// Login authenticates username and binds it to conn. When another connection
// already holds the name, conn takes its place and the old connection is
// closed with CloseReplaced before Login returns. The close happens after the
// registry lock is released, so a stalled peer never blocks other sessions.
// A wrong secret returns ErrRejected and leaves the registry untouched.
func (r *Registry) Login(username, secret string, conn Conn) (LoginResult, error) {
	if !r.verifier.Verify(username, secret) {
		return LoginResult{}, ErrRejected
	}

	result := r.bind(username, conn)

	if old := result.Replaced; old != nil {
		r.log.Warn().Str("user", username).Str("addr", old.RemoteAddr()).
			Msg("User already logged in; previous connection replaced")
		if err := old.Close(CloseReplaced, ReasonReplaced); err != nil {
			r.log.Warn().Err(err).Str("user", username).Str("conn_id", old.ID()).
				Msg("Error closing replaced connection")
		}
	}
	return result, nil
}

// bind installs conn under username. A connection it displaces is already
// out of every index, and so out of every snapshot, when bind returns.
func (r *Registry) bind(username string, conn Conn) LoginResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result LoginResult

	if prev, ok := r.byConn[conn.ID()]; ok && prev != username {
		r.removeLocked(prev)
	}

	if old, ok := r.byName[username]; ok {
		if old.ID() != conn.ID() {
			delete(r.byConn, old.ID())
			result.Replaced = old
		}
	} else {
		r.order = append(r.order, username)
	}

	r.byName[username] = conn
	r.byConn[conn.ID()] = username

	result.Update = r.updateLocked()
	return result
}

// Logout removes the session bound to conn, if any, and returns its username
// together with the roster update to broadcast. ok is false when conn never
// logged in or was already replaced.
func (r *Registry) Logout(conn Conn) (username string, update Update, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	username, ok = r.byConn[conn.ID()]
	if !ok {
		return "", Update{}, false
	}
	r.removeLocked(username)

	return username, r.updateLocked(), true
}

// Snapshot returns the registered connections in login order.
func (r *Registry) Snapshot() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

// Roster returns the logged-in usernames in login order.
func (r *Registry) Roster() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.order)
}

func (r *Registry) removeLocked(username string) {
	conn, ok := r.byName[username]
	if !ok {
		return
	}
	delete(r.byName, username)
	delete(r.byConn, conn.ID())
	r.order = lo.Without(r.order, username)
}

func (r *Registry) snapshotLocked() []Conn {
	return lo.Map(r.order, func(name string, _ int) Conn {
		return r.byName[name]
	})
}

func (r *Registry) updateLocked() Update {
	return Update{
		Payload:    protocol.UserList(r.order),
		Recipients: r.snapshotLocked(),
	}
}
