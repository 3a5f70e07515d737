// Package notify carries async events to connected clients. The operation
// core only ever talks to the Notifier interface; delivery guarantees are out
// of its hands.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/example/profile-sync-engine/internal/types"
)

// Event is one async notification for an account.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	AccountID types.AccountID `json:"accountId"`
	Payload   map[string]any  `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Notifier pushes an event toward an account's connected clients.
// Fire-and-forget: implementations log failures instead of surfacing them to
// the mutation path.
type Notifier interface {
	Push(ctx context.Context, accountID types.AccountID, event Event)
}

// Memory records pushed events for tests.
type Memory struct {
	mu     sync.Mutex
	events map[types.AccountID][]Event
}

// NewMemory constructs an empty in-memory notifier.
func NewMemory() *Memory {
	return &Memory{events: make(map[types.AccountID][]Event)}
}

// Push implements Notifier.
func (m *Memory) Push(_ context.Context, accountID types.AccountID, event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[accountID] = append(m.events[accountID], event)
}

// Events returns the events pushed for an account.
func (m *Memory) Events(accountID types.AccountID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events[accountID]))
	copy(out, m.events[accountID])
	return out
}
