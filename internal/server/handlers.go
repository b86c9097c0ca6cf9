package server

import (
	"fmt"
	"net/http"
)

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, creates a new Client instance, and hands it to the hub.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}
	if s.hub.isStopping() {
		http.Error(w, errHubStopped.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr)

	// The hub launches the pump goroutines.
	s.hub.Register(client)
}

// HealthHandler reports that the server is up along with its current load.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat relay is running! users=%d clients=%d",
		s.hub.Registry().Len(), s.hub.ClientCount())
}

// TestPageHandler serves an HTML page for exercising the chat protocol by hand:
// log in, send messages and watch the roster.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="password"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:disabled { background-color: #9bbfd3; cursor: default; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>GoChat Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>
    <div>Online: <span id="roster"></span></div>

    <div>
        <input type="text" id="username" placeholder="Username">
        <input type="password" id="secret" placeholder="Password">
        <button id="connectButton" onclick="connect()">Log in</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const statusDiv = document.getElementById('status');
        const rosterSpan = document.getElementById('roster');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function setLoggedIn(loggedIn) {
            statusDiv.textContent = loggedIn ? 'Logged in' : 'Disconnected';
            statusDiv.className = 'status ' + (loggedIn ? 'connected' : 'disconnected');
            messageInput.disabled = !loggedIn;
            sendButton.disabled = !loggedIn;
        }

        function handleFrame(frame) {
            const parts = frame.split('|');
            switch (parts[0]) {
            case 'rlo':
                setLoggedIn(parts[1] === 'login succeeded');
                addLine(parts[1]);
                break;
            case 'ele':
                rosterSpan.textContent = parts[1];
                break;
            case 'msg':
                addLine('[' + parts[2] + '] ' + parts[1] + ': ' + parts.slice(3).join('|'), 'green');
                break;
            default:
                addLine(frame);
            }
        }

        function connect() {
            if (ws) {
                ws.close();
            }
            const user = document.getElementById('username').value.trim();
            const secret = document.getElementById('secret').value;
            const sock = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            ws = sock;
            sock.onopen = function() { sock.send('log|' + user + '|' + secret); };
            sock.onmessage = function(event) { handleFrame(event.data); };
            sock.onclose = function(event) {
                addLine('Connection closed' + (event.reason ? ': ' + event.reason : ''));
                if (ws === sock) {
                    setLoggedIn(false);
                    rosterSpan.textContent = '';
                    ws = null;
                }
            };
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            const user = document.getElementById('username').value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                const stamp = new Date().toISOString().slice(0, 19);
                ws.send('msg|' + user + '|' + stamp + '|' + text);
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
