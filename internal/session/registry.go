// Package session owns the per-process shared state that the original design
// kept in ambient globals: the per-account serialization locks and the
// online-presence roster. It is passed by reference into request handlers and
// exposed only through narrow methods.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/profile-sync-engine/internal/types"
)

// ErrAccountBusy is returned when a peer account's lock cannot be acquired in
// time, e.g. two accounts gifting each other simultaneously.
var ErrAccountBusy = errors.New("account is busy")

const (
	defaultPresenceTTL   = 45 * time.Second
	defaultPresencePref  = "presence:acct:"
	defaultPeerLockRetry = 25 * time.Millisecond
)

type accountLock struct {
	mu   sync.Mutex
	refs int
}

// Registry serializes operations per account and tracks which accounts have a
// live notification connection. Operations for different accounts proceed in
// parallel; two operations for one account never interleave their
// load-mutate-save cycles.
type Registry struct {
	mu    sync.Mutex
	locks map[types.AccountID]*accountLock

	client         *redis.Client
	logger         zerolog.Logger
	presenceTTL    time.Duration
	presencePrefix string
}

// NewRegistry constructs a Registry. The redis client may be nil, in which
// case presence tracking reports every account offline.
func NewRegistry(client *redis.Client, logger zerolog.Logger) *Registry {
	return &Registry{
		locks:          make(map[types.AccountID]*accountLock),
		client:         client,
		logger:         logger,
		presenceTTL:    defaultPresenceTTL,
		presencePrefix: defaultPresencePref,
	}
}

// Lock acquires the account's serialization lock, blocking until it is free.
// The returned function releases it.
func (r *Registry) Lock(accountID types.AccountID) func() {
	lock := r.acquireRef(accountID)
	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		r.releaseRef(accountID, lock)
	}
}

// TryLock attempts to take a second account's lock while the caller already
// holds one, retrying until the context deadline. Bounded retries instead of
// blocking avoid deadlocking two accounts that target each other.
func (r *Registry) TryLock(ctx context.Context, accountID types.AccountID) (func(), error) {
	lock := r.acquireRef(accountID)
	for {
		if lock.mu.TryLock() {
			return func() {
				lock.mu.Unlock()
				r.releaseRef(accountID, lock)
			}, nil
		}
		select {
		case <-ctx.Done():
			r.releaseRef(accountID, lock)
			return nil, ErrAccountBusy
		case <-time.After(defaultPeerLockRetry):
		}
	}
}

func (r *Registry) acquireRef(accountID types.AccountID) *accountLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[accountID]
	if !ok {
		lock = &accountLock{}
		r.locks[accountID] = lock
	}
	lock.refs++
	return lock
}

func (r *Registry) releaseRef(accountID types.AccountID, lock *accountLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(r.locks, accountID)
	}
}

// Heartbeat marks the account online for the presence TTL. Called by the
// notification gateway while a client connection is alive.
func (r *Registry) Heartbeat(ctx context.Context, accountID types.AccountID) {
	if r.client == nil {
		return
	}
	key := r.presenceKey(accountID)
	if err := r.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), r.presenceTTL).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to record presence heartbeat")
	}
}

// Offline clears the account's presence record immediately.
func (r *Registry) Offline(ctx context.Context, accountID types.AccountID) {
	if r.client == nil {
		return
	}
	key := r.presenceKey(accountID)
	if err := r.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to delete presence key")
	}
}

// IsOnline reports whether the account currently holds a live notification
// connection on any instance.
func (r *Registry) IsOnline(ctx context.Context, accountID types.AccountID) bool {
	if r.client == nil {
		return false
	}
	exists, err := r.client.Exists(ctx, r.presenceKey(accountID)).Result()
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to check presence")
		return false
	}
	return exists > 0
}

func (r *Registry) presenceKey(accountID types.AccountID) string {
	return r.presencePrefix + string(accountID)
}
