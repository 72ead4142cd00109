// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketHandler returns a handler that upgrades GET requests from allowed
// origins to WebSocket connections and registers them with hub.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     hub.checkOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)

		// The hub launches the pump goroutines once the client is registered.
		if !hub.Register(client) {
			_ = conn.Close()
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.origins.allows(r) {
		return true
	}

	h.logger.Warn("blocked WebSocket connection from disallowed origin", "origin", r.Header.Get("Origin"))
	return false
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Relay chat server is running!")
}

// TestPageHandler serves an HTML page that speaks the chat protocol: log in,
// send messages, and watch broadcasts and the viewer count arrive.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Relay Chat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input { padding: 5px; margin-right: 10px; }
    </style>
</head>
<body>
    <h1>Relay Chat Test</h1>
    <div>Viewers: <span id="viewers">0</span></div>
    <div>
        <input type="text" id="username" placeholder="username">
        <input type="password" id="password" placeholder="password">
        <button onclick="auth('signup')">Sign up</button>
        <button onclick="auth('login')">Log in</button>
    </div>
    <div>
        <input type="text" id="content" placeholder="Type a message..." style="width: 300px">
        <button onclick="chat()">Send</button>
    </div>
    <div id="log"></div>

    <script>
        const logDiv = document.getElementById('log');
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');

        function log(text) {
            const line = document.createElement('div');
            line.textContent = text;
            logDiv.appendChild(line);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function show(m) {
            const reply = m.replying_to ? ' (re ' + m.replying_to.username + ')' : '';
            log('[' + m.id + '] ' + m.username + reply + ': ' + m.content);
        }

        ws.onopen = () => {
            const token = localStorage.getItem('token');
            if (token) ws.send(JSON.stringify({ type: 'authenticate', token }));
        };

        ws.onmessage = (event) => {
            const data = JSON.parse(event.data);
            switch (data.type) {
            case 'viewer_count': document.getElementById('viewers').textContent = data.count; break;
            case 'login_success': localStorage.setItem('token', data.payload.token); log('Logged in as ' + data.payload.user.username); break;
            case 'signup_success': log('Signed up, now log in'); break;
            case 'chat_history': data.payload.forEach(show); break;
            case 'chat_message': show(data.payload); break;
            case 'auth_error': log('Auth error: ' + data.payload.message); break;
            case 'error': log('Error: ' + data.message); break;
            }
        };

        ws.onclose = () => log('Connection closed');

        function auth(type) {
            const username = document.getElementById('username').value;
            const password = document.getElementById('password').value;
            ws.send(JSON.stringify({ type, payload: { username, password } }));
        }

        function chat() {
            const input = document.getElementById('content');
            ws.send(JSON.stringify({ type: 'chat_message', payload: { content: input.value } }));
            input.value = '';
        }
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("error writing HTML response", "error", err)
	}
}
