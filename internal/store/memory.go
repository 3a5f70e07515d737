package store

import (
	"context"
	"sync"
	"time"

	"github.com/example/profile-sync-engine/internal/types"
)

// Memory is an in-memory Store and Journal used in tests and local
// development. Load returns deep copies so callers mutate private state, the
// same contract the Postgres store provides.
type Memory struct {
	mu       sync.RWMutex
	accounts map[types.AccountID]*types.Aggregate
	updated  map[types.AccountID]time.Time
	journal  []JournalEntry
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[types.AccountID]*types.Aggregate),
		updated:  make(map[types.AccountID]time.Time),
	}
}

// Load implements Store.
func (m *Memory) Load(_ context.Context, accountID types.AccountID) (*types.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return agg.Clone(), nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, agg *types.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[agg.AccountID]; !ok {
		return ErrNotFound
	}
	m.accounts[agg.AccountID] = agg.Clone()
	m.updated[agg.AccountID] = time.Now()
	return nil
}

// Create implements Store.
func (m *Memory) Create(_ context.Context, agg *types.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[agg.AccountID]; ok {
		return ErrAlreadyExists
	}
	m.accounts[agg.AccountID] = agg.Clone()
	m.updated[agg.AccountID] = time.Now()
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, accountID types.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return ErrNotFound
	}
	delete(m.accounts, accountID)
	delete(m.updated, accountID)
	return nil
}

// UpdatedSince implements Store.
func (m *Memory) UpdatedSince(_ context.Context, since time.Time) ([]types.AccountID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.AccountID
	for id, ts := range m.updated {
		if ts.After(since) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Append implements Journal.
func (m *Memory) Append(_ context.Context, entry JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.journal = append(m.journal, entry)
	return nil
}

// JournalEntries returns a copy of the appended journal, for assertions.
func (m *Memory) JournalEntries() []JournalEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]JournalEntry, len(m.journal))
	copy(out, m.journal)
	return out
}
