// Package server coordinates client registration, envelope fan-out, and
// connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/cooldown"
	"github.com/Tyrowin/relaychat/internal/store"
)

// MessageStore is the persistence the hub needs for profiles, messages, and
// mention notifications.
type MessageStore interface {
	CreateProfile(ctx context.Context, id, username string) (store.Profile, error)
	ProfileByID(ctx context.Context, id string) (store.Profile, error)
	ProfileByUsername(ctx context.Context, username string) (store.Profile, error)
	ProfilesByUsernames(ctx context.Context, usernames []string) ([]store.Profile, error)
	InsertMessage(ctx context.Context, authorID, content string, replyTo *int64) (store.Message, error)
	FetchRange(ctx context.Context) ([]store.Message, error)
	FetchByIDs(ctx context.Context, ids []int64) ([]store.ReplyRef, error)
	InsertNotifications(ctx context.Context, notifications []store.Notification) error
}

// IdentityProvider verifies credentials and session tokens.
type IdentityProvider interface {
	CreateAccount(ctx context.Context, handle, secret string) (string, error)
	VerifyCredentials(ctx context.Context, handle, secret string) (token, userID string, err error)
	ResolveToken(ctx context.Context, token string) (string, error)
	DeleteAccount(ctx context.Context, userID string) error
}

// Options carries the hub's collaborators. Store and Identity are required.
type Options struct {
	Store    MessageStore
	Identity IdentityProvider
	// Limiter defaults to an in-memory cooldown of cooldown.DefaultWindow.
	Limiter cooldown.Limiter
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
	// SweepInterval controls how often idle cooldown entries are dropped.
	SweepInterval time.Duration
}

type sweeper interface {
	Sweep(now time.Time) int
}

// Hub manages all WebSocket client connections and fans envelopes out to
// them. It owns the open-connection set and the session registry.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	cfg           Config
	origins       originPolicy
	sessions      *SessionRegistry
	store         MessageStore
	identity      IdentityProvider
	limiter       cooldown.Limiter
	logger        *slog.Logger
	now           func() time.Time
	sweepInterval time.Duration
}

// NewHub creates a Hub ready to be started with Run.
func NewHub(cfg Config, opts Options) *Hub {
	cfg = cfg.Sanitize()
	ctx, cancel := context.WithCancel(context.Background())

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = cooldown.NewMemory(cooldown.DefaultWindow)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	return &Hub{
		clients:       make(map[*Client]bool),
		broadcast:     make(chan []byte),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		cfg:           cfg,
		origins:       newOriginPolicy(cfg.AllowedOrigins, logger),
		sessions:      NewSessionRegistry(),
		store:         opts.Store,
		identity:      opts.Identity,
		limiter:       limiter,
		logger:        logger,
		now:           clock,
		sweepInterval: sweepInterval,
	}
}

// Sessions returns the hub's session registry.
func (h *Hub) Sessions() *SessionRegistry {
	return h.sessions
}

// Register hands a client to the running hub. It returns false if the hub
// has shut down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client from the running hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Broadcast queues payload for delivery to every open connection.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, fan-out, and cooldown housekeeping. It returns after
// Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case payload := <-h.broadcast:
			h.handleBroadcast(payload)

		case <-ticker.C:
			h.sweepCooldowns()
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.sessions.Register(client.id)
	client.logger.Info("client registered", "total_clients", clientCount)

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	h.announceViewerCount()
}

func (h *Hub) removeClient(client *Client) {
	if client == nil {
		return
	}

	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.sessions.Remove(client.id)
	client.logger.Info("client unregistered", "total_clients", clientCount)

	h.announceViewerCount()
}

// viewerCount is the number announced in viewer_count envelopes.
func (h *Hub) viewerCount() int {
	if h.cfg.CountUnauthenticated {
		return h.ClientCount()
	}
	return h.sessions.AuthenticatedCount()
}

// announceViewerCount sends the current viewer count to every open connection.
func (h *Hub) announceViewerCount() {
	payload, err := json.Marshal(newViewerCountEnvelope(h.viewerCount()))
	if err != nil {
		h.logger.Error("failed to encode viewer count", "error", err)
		return
	}
	h.handleBroadcast(payload)
}

// handleBroadcast delivers payload to a snapshot of the open connections.
// A connection whose buffer is full misses this payload; the rest are unaffected.
func (h *Hub) handleBroadcast(payload []byte) {
	clients := h.getClientSnapshot()

	dropped := 0
	for _, client := range clients {
		if !h.safeSend(client, payload) {
			dropped++
			client.logger.Warn("dropped broadcast for client")
		}
	}

	h.logger.Debug("broadcast delivered", "targets", len(clients), "dropped", dropped)
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) sweepCooldowns() {
	s, ok := h.limiter.(sweeper)
	if !ok {
		return
	}
	if removed := s.Sweep(h.now()); removed > 0 {
		h.logger.Debug("swept idle cooldown entries", "removed", removed)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	clients := h.getClientSnapshot()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					client.logger.Warn("error closing client connection", "error", err)
				}
			}
		}
	}

	h.logger.Info("closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
