package server

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/session"
)

var sentAt = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func TestLogin_Succeeds(t *testing.T) {
	req := require.New(t)
	_, ts := startTestServer(t)
	conn := dial(t, ts)

	// When alice logs in with the right password
	send(t, conn, "log|alice|secret1")

	// Then the reply comes first, followed by the roster
	req.Equal("rlo|login succeeded", readFrame(t, conn))
	req.Equal("ele|alice", readFrame(t, conn))
}

func TestLogin_FailsAndKeepsConnectionOpen(t *testing.T) {
	req := require.New(t)
	srv, ts := startTestServer(t)
	conn := dial(t, ts)

	// When the password is wrong
	send(t, conn, "log|alice|wrong")

	// Then only the failure reply is sent
	req.Equal("rlo|login failed", readFrame(t, conn))
	req.Empty(srv.Hub().Roster())

	// And the same connection can still log in
	send(t, conn, "log|alice|secret1")
	req.Equal("rlo|login succeeded", readFrame(t, conn))
	req.Equal("ele|alice", readFrame(t, conn))
}

func TestLogin_UnknownUserFails(t *testing.T) {
	_, ts := startTestServer(t)
	conn := dial(t, ts)

	send(t, conn, "log|mallory|secret1")

	require.Equal(t, "rlo|login failed", readFrame(t, conn))
}

func TestLogin_RosterFollowsLoginOrder(t *testing.T) {
	req := require.New(t)
	_, ts := startTestServer(t)

	alice := login(t, ts, "alice", "secret1")
	bob := login(t, ts, "bob", "secret2")
	req.Equal("ele|alice,bob", readFrame(t, alice))

	carol := dial(t, ts)
	send(t, carol, "log|carol|secret3")
	req.Equal("rlo|login succeeded", readFrame(t, carol))
	req.Equal("ele|alice,bob,carol", readFrame(t, carol))
	req.Equal("ele|alice,bob,carol", readFrame(t, alice))
	req.Equal("ele|alice,bob,carol", readFrame(t, bob))
}

func TestChat_BroadcastIncludesSender(t *testing.T) {
	req := require.New(t)
	_, ts := startTestServer(t)

	alice := login(t, ts, "alice", "secret1")
	bob := login(t, ts, "bob", "secret2")
	readUntil(t, alice, "ele|alice,bob")

	// When bob sends a message
	frame := protocol.ChatFrame("bob", sentAt, "hello | world")
	send(t, bob, frame)

	// Then everyone, bob included, receives it verbatim
	req.Equal(frame, readFrame(t, alice))
	req.Equal(frame, readFrame(t, bob))
}

func TestChat_UnauthenticatedSenderIsDisconnected(t *testing.T) {
	req := require.New(t)
	srv, ts := startTestServer(t)

	carol := login(t, ts, "carol", "secret3")
	intruder := dial(t, ts)

	// When a connection sends a message for a user nobody logged in as
	send(t, intruder, protocol.ChatFrame("alice", sentAt, "hi"))

	// Then it is closed with a normal closure explaining why
	closeErr := expectClose(t, intruder)
	req.Equal(session.CloseNormal, closeErr.Code)
	req.Equal(session.ReasonLogInFirst, closeErr.Text)

	// And nothing reaches the logged-in users
	expectSilence(t, carol, 200*time.Millisecond)
	req.Equal([]string{"carol"}, srv.Hub().Roster())
}

func TestChat_MalformedFramesAreIgnored(t *testing.T) {
	req := require.New(t)
	_, ts := startTestServer(t)
	alice := login(t, ts, "alice", "secret1")

	send(t, alice, "msg|alice|yesterday|hello")
	send(t, alice, "garbage")
	send(t, alice, "ele|alice,bob")

	// The connection survives malformed frames and keeps relaying
	frame := protocol.ChatFrame("alice", sentAt, "still here")
	send(t, alice, frame)
	req.Equal(frame, readFrame(t, alice))
}

func TestDisconnect_UpdatesRoster(t *testing.T) {
	req := require.New(t)
	srv, ts := startTestServer(t)

	alice := login(t, ts, "alice", "secret1")
	bob := login(t, ts, "bob", "secret2")
	readUntil(t, alice, "ele|alice,bob")

	// When bob goes away
	req.NoError(bob.Close())

	// Then alice sees the shorter roster
	req.Equal("ele|alice", readFrame(t, alice))
	waitFor(t, func() bool { return srv.Hub().ClientCount() == 1 })
}

func TestDisconnect_BeforeLoginIsSilent(t *testing.T) {
	srv, ts := startTestServer(t)

	alice := login(t, ts, "alice", "secret1")
	anonymous := dial(t, ts)
	waitFor(t, func() bool { return srv.Hub().ClientCount() == 2 })

	require.NoError(t, anonymous.Close())

	waitFor(t, func() bool { return srv.Hub().ClientCount() == 1 })
	expectSilence(t, alice, 200*time.Millisecond)
}

func TestDuplicateLogin_ReplacesOldConnection(t *testing.T) {
	req := require.New(t)
	srv, ts := startTestServer(t)

	first := login(t, ts, "alice", "secret1")
	bob := login(t, ts, "bob", "secret2")
	readUntil(t, first, "ele|alice,bob")

	// When alice logs in again from a second connection
	second := dial(t, ts)
	send(t, second, "log|alice|secret1")

	// Then the first connection is closed as replaced
	closeErr := expectClose(t, first)
	req.Equal(session.CloseReplaced, closeErr.Code)
	req.Equal(session.ReasonReplaced, closeErr.Text)

	// And alice keeps the same roster position
	req.Equal("rlo|login succeeded", readFrame(t, second))
	req.Equal("ele|alice,bob", readFrame(t, second))
	req.Equal("ele|alice,bob", readFrame(t, bob))

	// And messages reach only the new connection
	frame := protocol.ChatFrame("bob", sentAt, "who is there?")
	send(t, bob, frame)
	req.Equal(frame, readFrame(t, second))
	req.Equal(frame, readFrame(t, bob))

	waitFor(t, func() bool { return srv.Hub().ClientCount() == 2 })
	req.Equal([]string{"alice", "bob"}, srv.Hub().Roster())
}

func TestRelogin_SwitchesUsername(t *testing.T) {
	req := require.New(t)
	srv, ts := startTestServer(t)

	conn := login(t, ts, "alice", "secret1")

	send(t, conn, "log|bob|secret2")
	req.Equal("rlo|login succeeded", readFrame(t, conn))
	req.Equal("ele|bob", readFrame(t, conn))
	req.Equal([]string{"bob"}, srv.Hub().Roster())
}

func TestRateLimit_DropsExcessFrames(t *testing.T) {
	req := require.New(t)
	_, ts := startTestServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Burst: 4, RefillInterval: time.Hour}
	})

	// login and its reply consume one token
	alice := login(t, ts, "alice", "secret1")

	frames := []string{
		protocol.ChatFrame("alice", sentAt, "one"),
		protocol.ChatFrame("alice", sentAt, "two"),
		protocol.ChatFrame("alice", sentAt, "three"),
		protocol.ChatFrame("alice", sentAt, "four"),
	}
	for _, frame := range frames {
		send(t, alice, frame)
	}

	for _, frame := range frames[:3] {
		req.Equal(frame, readFrame(t, alice))
	}
	expectSilence(t, alice, 200*time.Millisecond)
}

func TestOversizedFrame_ClosesConnection(t *testing.T) {
	_, ts := startTestServer(t, func(cfg *Config) {
		cfg.MaxMessageSize = 64
	})
	alice := login(t, ts, "alice", "secret1")

	send(t, alice, protocol.ChatFrame("alice", sentAt, strings.Repeat("x", 200)))

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := alice.ReadMessage()
	require.Error(t, err)
}

func TestOrigin_Blocked(t *testing.T) {
	req := require.New(t)
	_, ts := startTestServer(t, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"http://chat.example.com"}
	})

	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if conn != nil {
		_ = conn.Close()
	}
	req.Error(err)
	req.NotNil(resp)
	defer func() { _ = resp.Body.Close() }()
	req.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestOrigin_Allowed(t *testing.T) {
	_, ts := startTestServer(t, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"http://chat.example.com"}
	})

	header := http.Header{}
	header.Set("Origin", "HTTP://Chat.Example.com")
	conn := dialWithHeader(t, ts, header)

	send(t, conn, "log|alice|secret1")
	require.Equal(t, "rlo|login succeeded", readFrame(t, conn))
}

func TestWebSocketHandler_RejectsNonGet(t *testing.T) {
	_, ts := startTestServer(t)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			request, err := http.NewRequest(method, ts.URL+"/ws", http.NoBody)
			require.NoError(t, err)
			resp, err := ts.Client().Do(request)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		})
	}
}

func TestHealthHandler(t *testing.T) {
	req := require.New(t)
	_, ts := startTestServer(t)
	login(t, ts, "alice", "secret1")

	for _, path := range []string{"/", "/health"} {
		resp, err := ts.Client().Get(ts.URL + path)
		req.NoError(err)
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		req.NoError(err)

		req.Equal(http.StatusOK, resp.StatusCode)
		req.Equal("text/plain", resp.Header.Get("Content-Type"))
		req.Equal("GoChat relay is running! users=1 clients=1", string(body))
	}
}

func TestTestPageHandler(t *testing.T) {
	req := require.New(t)
	_, ts := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/test")
	req.NoError(err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	req.NoError(err)

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("text/html", resp.Header.Get("Content-Type"))
	req.Contains(string(body), "GoChat Relay Test")
}

func TestShutdown_ClosesClientsWithGoingAway(t *testing.T) {
	req := require.New(t)
	srv, ts := startTestServer(t)

	alice := login(t, ts, "alice", "secret1")
	anonymous := dial(t, ts)
	waitFor(t, func() bool { return srv.Hub().ClientCount() == 2 })

	req.NoError(srv.Hub().Shutdown(2 * time.Second))

	for _, conn := range []*websocket.Conn{alice, anonymous} {
		closeErr := expectClose(t, conn)
		req.Equal(session.CloseGoingAway, closeErr.Code)
		req.Equal(session.ReasonShutdown, closeErr.Text)
	}
	req.Zero(srv.Hub().ClientCount())

	// New upgrades are refused once shutdown has begun
	resp, err := ts.Client().Get(ts.URL + "/ws")
	req.NoError(err)
	defer func() { _ = resp.Body.Close() }()
	req.Equal(http.StatusServiceUnavailable, resp.StatusCode)
}
