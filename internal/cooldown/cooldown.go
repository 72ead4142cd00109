// Package cooldown gates how often a user may post chat messages and how
// fast a single connection may send frames.
package cooldown

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the minimum spacing between two accepted chat messages
// from the same user.
const DefaultWindow = 3000 * time.Millisecond

// Limiter decides whether a user may post at now. An allowed call records now
// as the user's last accepted message in the same atomic step. Cooling only
// reports whether the window is still running and records nothing.
type Limiter interface {
	Allow(ctx context.Context, userID string, now time.Time) (bool, error)
	Cooling(ctx context.Context, userID string, now time.Time) (bool, error)
}

// Memory is an in-process Limiter keyed by user id.
type Memory struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

// NewMemory creates a Memory limiter. A non-positive window uses DefaultWindow.
func NewMemory(window time.Duration) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Allow implements Limiter.
func (m *Memory) Allow(_ context.Context, userID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.last[userID]; ok && now.Sub(last) < m.window {
		return false, nil
	}
	m.last[userID] = now
	return true, nil
}

// Cooling implements Limiter.
func (m *Memory) Cooling(_ context.Context, userID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	last, ok := m.last[userID]
	return ok && now.Sub(last) < m.window, nil
}

// Sweep drops users whose cooldown has lapsed at now and returns how many
// entries were removed.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for userID, last := range m.last {
		if now.Sub(last) >= m.window {
			delete(m.last, userID)
			removed++
		}
	}
	return removed
}

// Len returns the number of users currently tracked.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}
