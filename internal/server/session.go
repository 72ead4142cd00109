package server

import (
	"errors"
	"sync"

	"github.com/Tyrowin/relaychat/internal/store"
)

// ErrUnknownConnection is returned when attaching a profile to a connection
// that is not registered, typically because it has already closed.
var ErrUnknownConnection = errors.New("connection is not registered")

// ConnState is the authentication state of a live connection.
type ConnState int

const (
	// StateUnauthenticated is the state of a newly registered connection.
	StateUnauthenticated ConnState = iota
	// StateAuthenticated is the state after a successful login or token resume.
	StateAuthenticated
)

func (s ConnState) String() string {
	if s == StateAuthenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// UserProfile is the immutable snapshot of a user cached on a connection.
type UserProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

func profileFromStore(p store.Profile) UserProfile {
	return UserProfile{ID: p.ID, Username: p.Username, IsAdmin: p.IsAdmin}
}

type sessionEntry struct {
	state   ConnState
	profile UserProfile
}

// SessionRegistry maps live connection ids to their authentication state.
// All methods are safe for concurrent use.
type SessionRegistry struct {
	mu      sync.RWMutex
	entries map[string]sessionEntry
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{entries: make(map[string]sessionEntry)}
}

// Register creates an unauthenticated entry for connID. Registering an
// existing id resets it.
func (r *SessionRegistry) Register(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[connID] = sessionEntry{state: StateUnauthenticated}
}

// Attach marks connID authenticated with profile, replacing any earlier profile.
func (r *SessionRegistry) Attach(connID string, profile UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[connID]; !ok {
		return ErrUnknownConnection
	}
	r.entries[connID] = sessionEntry{state: StateAuthenticated, profile: profile}
	return nil
}

// Lookup returns the profile attached to connID, if the connection is
// registered and authenticated.
func (r *SessionRegistry) Lookup(connID string) (UserProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[connID]
	if !ok || entry.state != StateAuthenticated {
		return UserProfile{}, false
	}
	return entry.profile, true
}

// State returns the state of connID and whether it is registered.
func (r *SessionRegistry) State(connID string) (ConnState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[connID]
	return entry.state, ok
}

// Remove deletes the entry for connID.
func (r *SessionRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, connID)
}

// Len returns the number of registered connections.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// AuthenticatedCount returns the number of authenticated connections.
func (r *SessionRegistry) AuthenticatedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, entry := range r.entries {
		if entry.state == StateAuthenticated {
			count++
		}
	}
	return count
}
