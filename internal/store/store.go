// Package store persists account aggregates. The aggregate is the unit of
// atomic persistence: every profile an operation touched is written in a
// single row update, never partially.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/example/profile-sync-engine/internal/types"
)

// ErrNotFound is returned when no aggregate exists for the account.
var ErrNotFound = errors.New("account aggregate not found")

// ErrAlreadyExists is returned when registering an account twice.
var ErrAlreadyExists = errors.New("account aggregate already exists")

// Store is the persistence interface the operation core consumes.
type Store interface {
	// Load returns a private copy of the aggregate; mutations to it are not
	// visible until Save.
	Load(ctx context.Context, accountID types.AccountID) (*types.Aggregate, error)
	// Save atomically replaces the whole aggregate.
	Save(ctx context.Context, agg *types.Aggregate) error
	// Create registers a new aggregate, failing with ErrAlreadyExists when one
	// is present.
	Create(ctx context.Context, agg *types.Aggregate) error
	// Delete removes the aggregate and everything hanging off it.
	Delete(ctx context.Context, accountID types.AccountID) error
	// UpdatedSince lists accounts whose aggregate was saved after the cutoff.
	UpdatedSince(ctx context.Context, since time.Time) ([]types.AccountID, error)
}

// JournalEntry is one audit record of a committed mutating operation.
type JournalEntry struct {
	AccountID types.AccountID
	ProfileID types.ProfileID
	Operation string
	Revision  int64
	CreatedAt time.Time
}

// Journal records committed operations for audit and support tooling.
type Journal interface {
	Append(ctx context.Context, entry JournalEntry) error
}
