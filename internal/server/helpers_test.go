package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/credentials"
	"github.com/Tyrowin/gochat-relay/internal/protocol"
)

const testUsers = "alice:secret1\nbob:secret2\ncarol:secret3\n"

const readTimeout = 2 * time.Second

func testConfig() Config {
	cfg := *NewConfig()
	cfg.LogDir = ""
	return cfg
}

func testStore() *credentials.Store {
	return credentials.Parse(strings.NewReader(testUsers))
}

// startTestServer serves the relay routes on an httptest server. Both the
// HTTP server and the hub are torn down when the test ends.
func startTestServer(t *testing.T, mutate ...func(*Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	srv := New(cfg, testStore(), zerolog.Nop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Hub().Shutdown(time.Second)
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// dial opens a WebSocket to the test server with no Origin header.
func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	return dialWithHeader(t, ts, nil)
}

func dialWithHeader(t *testing.T, ts *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL(ts), header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// readFrame returns the next text frame, failing the test on timeout.
func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	return string(data)
}

// readUntil discards frames until one equal to want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	for {
		if readFrame(t, conn) == want {
			return
		}
	}
}

// expectClose reads until the peer closes and returns the close frame.
func expectClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		return closeErr
	}
}

// expectSilence asserts that no frame arrives within d.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %q", string(data))
}

// login dials a new connection, logs in and drains the frames produced by
// the login itself, leaving the connection ready for assertions.
func login(t *testing.T, ts *httptest.Server, username, secret string) *websocket.Conn {
	t.Helper()
	conn := dial(t, ts)
	send(t, conn, protocol.LoginFrame(username, secret))
	require.Equal(t, protocol.LoginResponse(true), readFrame(t, conn))
	frame := readFrame(t, conn)
	require.True(t, strings.HasPrefix(frame, string(protocol.CommandUserList)+protocol.Separator), "frame %q", frame)
	return conn
}

// waitFor polls cond until it holds or the read timeout elapses.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, readTimeout, 10*time.Millisecond)
}

func loginRequest(username, secret string) protocol.LoginRequest {
	return protocol.LoginRequest{Username: username, Secret: secret}
}

// drain empties a detached client's send queue.
func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}
