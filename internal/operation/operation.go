// Package operation executes named profile mutations: it loads the account
// aggregate under a per-account lock, runs the registered handler, bumps the
// revisions of every touched sub-document, reconciles the response shape per
// sub-document, and persists the aggregate atomically.
package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/profile-sync-engine/internal/apierr"
	"github.com/example/profile-sync-engine/internal/catalog"
	"github.com/example/profile-sync-engine/internal/delta"
	"github.com/example/profile-sync-engine/internal/notify"
	"github.com/example/profile-sync-engine/internal/progression"
	"github.com/example/profile-sync-engine/internal/types"
	"github.com/example/profile-sync-engine/internal/version"
)

// Request is one operation call against a primary sub-document.
type Request struct {
	AccountID      types.AccountID
	ProfileID      types.ProfileID
	Operation      string
	ClientRevision int64
	// ProfileRevisions optionally declares the client's last-known revision
	// for sub-documents other than the primary. Undeclared secondaries are
	// assumed in sync and receive deltas.
	ProfileRevisions map[types.ProfileID]int64
	Body             json.RawMessage
	Version          version.Context
}

// Notification is one operation-specific entry in the response notifications
// list, e.g. a level-up reward summary.
type Notification struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ProfileUpdate reports the changes of one sub-document other than the
// primary.
type ProfileUpdate struct {
	ProfileID                  types.ProfileID      `json:"profileId"`
	ProfileRevision            int64                `json:"profileRevision"`
	ProfileCommandRevision     int64                `json:"profileCommandRevision"`
	ProfileChangesBaseRevision int64                `json:"profileChangesBaseRevision"`
	ProfileChanges             []delta.ChangeRecord `json:"profileChanges"`
}

// Response is the wire shape returned for every operation call.
type Response struct {
	ProfileID                  types.ProfileID      `json:"profileId"`
	ProfileRevision            int64                `json:"profileRevision"`
	ProfileCommandRevision     int64                `json:"profileCommandRevision"`
	ProfileChangesBaseRevision int64                `json:"profileChangesBaseRevision"`
	ProfileChanges             []delta.ChangeRecord `json:"profileChanges"`
	MultiUpdate                []ProfileUpdate      `json:"multiUpdate,omitempty"`
	Notifications              []Notification       `json:"notifications,omitempty"`
	ServerTime                 time.Time            `json:"serverTime"`
}

// Handler executes one named operation against the loaded aggregate.
// Implementations mutate the aggregate and append change records through the
// Env; they never persist anything themselves.
type Handler interface {
	// Name is the operation name clients invoke.
	Name() string
	// Profiles lists the primary sub-documents the operation is valid on.
	// Empty means any.
	Profiles() []types.ProfileID
	// Execute applies the operation. Returned errors abort the call without
	// persisting.
	Execute(ctx context.Context, env *Env) error
}

// Registry maps operation names to handlers, replacing dispatch-by-switch.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, panicking on duplicate names since registration
// happens once at startup.
func (r *Registry) Register(h Handler) {
	if _, exists := r.handlers[h.Name()]; exists {
		panic(fmt.Sprintf("operation %q registered twice", h.Name()))
	}
	r.handlers[h.Name()] = h
}

// Lookup returns the handler for an operation name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// FriendChecker is the narrow social-subsystem interface gifting consumes.
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b types.AccountID) (bool, error)
}

// AllowAllFriends treats every pair of accounts as friends. Used when the
// social subsystem is validated upstream.
type AllowAllFriends struct{}

// AreFriends implements FriendChecker.
func (AllowAllFriends) AreFriends(context.Context, types.AccountID, types.AccountID) (bool, error) {
	return true, nil
}

// Peer is a second account's aggregate opened by a cross-account operation.
// Its lock is held and its aggregate saved by the service alongside the
// primary account's.
type Peer struct {
	AccountID types.AccountID
	Aggregate *types.Aggregate
	Deltas    *delta.Set
	release   func()
}

// Env is everything a handler may touch while executing.
type Env struct {
	AccountID types.AccountID
	Aggregate *types.Aggregate
	Deltas    *delta.Set
	Body      json.RawMessage
	Version   version.Context
	Now       time.Time

	Catalog     catalog.Resolver
	Progression *progression.Engine
	Friends     FriendChecker

	svc           *Service
	notifications []Notification
	pushes        []pendingPush
	peers         []*Peer
}

type pendingPush struct {
	accountID types.AccountID
	event     notify.Event
}

// Primary returns the sub-document named in the request.
func (e *Env) Primary() *types.Profile {
	return e.Aggregate.Profile(e.Deltas.PrimaryID())
}

// DecodeBody unmarshals the operation body, mapping malformed input to a
// validation failure.
func (e *Env) DecodeBody(v any) error {
	if len(e.Body) == 0 {
		return apierr.ValidationFailed("request body is required")
	}
	if err := json.Unmarshal(e.Body, v); err != nil {
		return apierr.ValidationFailed("malformed request body: %v", err)
	}
	return nil
}

// Notify appends an operation-specific notification to the response.
func (e *Env) Notify(notificationType string, payload map[string]any) {
	e.notifications = append(e.notifications, Notification{Type: notificationType, Payload: payload})
}

// PushEvent queues an async event for delivery after the operation commits.
// Delivery is fire-and-forget.
func (e *Env) PushEvent(accountID types.AccountID, event notify.Event) {
	e.pushes = append(e.pushes, pendingPush{accountID: accountID, event: event})
}

// Peer opens another account's aggregate for a cross-account mutation. The
// peer lock is taken with bounded retries; a busy peer maps to Conflict so the
// client can retry the whole call.
func (e *Env) Peer(ctx context.Context, accountID types.AccountID) (*Peer, error) {
	if accountID == e.AccountID {
		return nil, apierr.ValidationFailed("peer account must differ from the caller")
	}
	for _, p := range e.peers {
		if p.AccountID == accountID {
			return p, nil
		}
	}
	peer, err := e.svc.openPeer(ctx, accountID)
	if err != nil {
		return nil, err
	}
	e.peers = append(e.peers, peer)
	return peer, nil
}
