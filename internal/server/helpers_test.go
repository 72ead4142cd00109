package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Tyrowin/relaychat/internal/identity"
	"github.com/Tyrowin/relaychat/internal/store"
)

const (
	testOrigin  = "http://localhost:8080"
	readTimeout = 2 * time.Second
)

// fakeClock is a manually advanced clock for cooldown tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv is a running hub behind an httptest server, backed by a SQLite
// database in the test's temp directory.
type testEnv struct {
	hub      *Hub
	db       *gorm.DB
	store    *store.Store
	identity *identity.Provider
	clock    *fakeClock
	server   *httptest.Server
	wsURL    string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, customize func(cfg *Config)) *testEnv {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	provider, err := identity.NewProvider(db, identity.Config{
		Domain:     "chat.test",
		BcryptCost: bcrypt.MinCost,
		Token:      identity.TokenConfig{SecretKey: "test-secret", TTL: time.Hour},
	})
	if err != nil {
		t.Fatalf("Failed to create identity provider: %v", err)
	}

	cfg := NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	if customize != nil {
		customize(cfg)
	}

	clock := newFakeClock()
	chatStore := store.New(db)
	hub := NewHub(*cfg, Options{
		Store:    chatStore,
		Identity: provider,
		Logger:   discardLogger(),
		Clock:    clock.Now,
	})
	StartHub(hub)

	srv := httptest.NewServer(SetupRoutes(hub))
	env := &testEnv{
		hub:      hub,
		db:       db,
		store:    chatStore,
		identity: provider,
		clock:    clock,
		server:   srv,
		wsURL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}

	t.Cleanup(func() {
		if err := hub.Shutdown(2 * time.Second); err != nil {
			t.Errorf("Hub shutdown failed: %v", err)
		}
		srv.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return env
}

// dial opens a WebSocket connection from the allowed test origin.
func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", testOrigin)
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// createUser registers an account and profile directly, bypassing the socket.
func (e *testEnv) createUser(t *testing.T, username, password string) string {
	t.Helper()

	ctx := context.Background()
	userID, err := e.identity.CreateAccount(ctx, username, password)
	if err != nil {
		t.Fatalf("Failed to create account %q: %v", username, err)
	}
	if _, err := e.store.CreateProfile(ctx, userID, username); err != nil {
		t.Fatalf("Failed to create profile %q: %v", username, err)
	}
	return userID
}

// login logs conn in and consumes the login_success and chat_history
// replies. It returns the session token and the replayed history.
func login(t *testing.T, conn *websocket.Conn, username, password string) (string, []ChatMessage) {
	t.Helper()

	sendJSON(t, conn, map[string]any{
		"type":    KindLogin,
		"payload": map[string]string{"username": username, "password": password},
	})

	success := expectEnvelope(t, conn, KindLoginSuccess)
	var payload loginSuccessPayload
	decodePayloadInto(t, success, &payload)
	if payload.User.Username != username {
		t.Fatalf("Expected login as %q, got %q", username, payload.User.Username)
	}

	return payload.Token, expectHistory(t, conn)
}

func expectHistory(t *testing.T, conn *websocket.Conn) []ChatMessage {
	t.Helper()

	env := expectEnvelope(t, conn, KindChatHistory)
	var history []ChatMessage
	decodePayloadInto(t, env, &history)
	return history
}

func sendChat(t *testing.T, conn *websocket.Conn, content string) {
	t.Helper()
	sendJSON(t, conn, map[string]any{
		"type":    KindChatMessage,
		"payload": map[string]string{"content": content},
	})
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to send envelope: %v", err)
	}
}

// wireEnvelope is the union of every outbound envelope shape.
type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Message string          `json:"message"`
	Count   int             `json:"count"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read envelope: %v", err)
	}

	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("Failed to decode envelope %s: %v", data, err)
	}
	return env
}

// nextEnvelope returns the next envelope that is not a viewer_count.
func nextEnvelope(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()
	for {
		env := readEnvelope(t, conn)
		if env.Type != KindViewerCount {
			return env
		}
	}
}

func expectEnvelope(t *testing.T, conn *websocket.Conn, kind string) wireEnvelope {
	t.Helper()
	env := nextEnvelope(t, conn)
	if env.Type != kind {
		t.Fatalf("Expected %s envelope, got %s (payload %s, message %q)", kind, env.Type, env.Payload, env.Message)
	}
	return env
}

func expectAuthError(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	env := expectEnvelope(t, conn, KindAuthError)
	var payload messagePayload
	decodePayloadInto(t, env, &payload)
	if payload.Message != message {
		t.Errorf("Expected auth_error %q, got %q", message, payload.Message)
	}
}

func expectError(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	env := expectEnvelope(t, conn, KindError)
	if env.Message != message {
		t.Errorf("Expected error %q, got %q", message, env.Message)
	}
}

func expectChatMessage(t *testing.T, conn *websocket.Conn) ChatMessage {
	t.Helper()
	env := expectEnvelope(t, conn, KindChatMessage)
	var msg ChatMessage
	decodePayloadInto(t, env, &msg)
	return msg
}

// waitForViewerCount reads viewer_count envelopes until one carries want.
// Any other envelope kind fails the test.
func waitForViewerCount(t *testing.T, conn *websocket.Conn, want int) {
	t.Helper()
	for {
		env := readEnvelope(t, conn)
		if env.Type != KindViewerCount {
			t.Fatalf("Expected viewer_count %d, got %s envelope", want, env.Type)
		}
		if env.Count == want {
			return
		}
	}
}

// expectSilence fails if anything other than a viewer_count arrives within
// timeout. The connection cannot be read again afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return
			}
			t.Fatalf("Unexpected error while waiting for silence: %v", err)
		}

		var env wireEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("Failed to decode envelope %s: %v", data, err)
		}
		if env.Type != KindViewerCount {
			t.Fatalf("Expected no envelope, got %s", data)
		}
	}
}

func decodePayloadInto(t *testing.T, env wireEnvelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Payload, v); err != nil {
		t.Fatalf("Failed to decode %s payload %s: %v", env.Type, env.Payload, err)
	}
}

// newDetachedClient registers a transport-less client with hub and waits
// until the hub has added it.
func newDetachedClient(t *testing.T, hub *Hub) *Client {
	t.Helper()

	client := NewClient(nil, hub, "detached")
	if !hub.Register(client) {
		t.Fatal("Hub refused registration")
	}
	waitFor(t, func() bool {
		_, ok := hub.Sessions().State(client.ID())
		return ok
	})
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func receive(t *testing.T, client *Client) wireEnvelope {
	t.Helper()
	select {
	case data, ok := <-client.GetSendChan():
		if !ok {
			t.Fatal("Send channel closed")
		}
		var env wireEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("Failed to decode envelope %s: %v", data, err)
		}
		return env
	case <-time.After(readTimeout):
		t.Fatal("Timed out waiting for envelope")
	}
	return wireEnvelope{}
}
