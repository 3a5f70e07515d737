package operation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/profile-sync-engine/internal/apierr"
	"github.com/example/profile-sync-engine/internal/catalog"
	"github.com/example/profile-sync-engine/internal/delta"
	"github.com/example/profile-sync-engine/internal/notify"
	"github.com/example/profile-sync-engine/internal/progression"
	"github.com/example/profile-sync-engine/internal/reconcile"
	"github.com/example/profile-sync-engine/internal/session"
	"github.com/example/profile-sync-engine/internal/store"
	"github.com/example/profile-sync-engine/internal/types"
	"github.com/example/profile-sync-engine/internal/version"
)

// peerLockTimeout bounds how long an operation waits for a second account's
// lock before giving up with Conflict.
const peerLockTimeout = 2 * time.Second

// Service runs the load-mutate-bump-reconcile-save cycle for every operation.
type Service struct {
	store    store.Store
	journal  store.Journal
	registry *Registry
	locks    *session.Registry

	catalog  catalog.Resolver
	progress *progression.Engine
	notifier notify.Notifier
	friends  FriendChecker

	logger zerolog.Logger
	now    func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithJournal records committed operations to the given audit journal.
func WithJournal(journal store.Journal) ServiceOption {
	return func(s *Service) { s.journal = journal }
}

// WithCatalog overrides the offer resolver.
func WithCatalog(resolver catalog.Resolver) ServiceOption {
	return func(s *Service) { s.catalog = resolver }
}

// WithProgression overrides the progression engine.
func WithProgression(engine *progression.Engine) ServiceOption {
	return func(s *Service) { s.progress = engine }
}

// WithNotifier delivers queued async events after operations commit.
func WithNotifier(notifier notify.Notifier) ServiceOption {
	return func(s *Service) { s.notifier = notifier }
}

// WithFriends overrides the social-subsystem check used by gifting.
func WithFriends(friends FriendChecker) ServiceOption {
	return func(s *Service) { s.friends = friends }
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires a Service over its persistence and dispatch collaborators.
func NewService(st store.Store, registry *Registry, locks *session.Registry, opts ...ServiceOption) *Service {
	s := &Service{
		store:    st,
		registry: registry,
		locks:    locks,
		catalog:  catalog.NewStaticResolver(catalog.DefaultOffers()),
		progress: progression.NewEngine(progression.DefaultTable()),
		friends:  AllowAllFriends{},
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs one operation end to end. On any handler or persistence error
// the loaded aggregate is discarded and nothing is saved; the stored state is
// never partially mutated.
func (s *Service) Execute(ctx context.Context, req Request) (*Response, error) {
	started := s.now()
	resp, err := s.execute(ctx, req)
	s.observe(req, started, err)
	return resp, err
}

func (s *Service) execute(ctx context.Context, req Request) (*Response, error) {
	if req.AccountID == "" || req.ProfileID == "" || req.Operation == "" {
		return nil, apierr.ValidationFailed("accountId, profileId and operation are required")
	}
	handler, ok := s.registry.Lookup(req.Operation)
	if !ok {
		return nil, apierr.NotFound("unknown operation %q", req.Operation)
	}
	if !handlerAllows(handler, req.ProfileID) {
		return nil, apierr.Forbidden("operation %q is not valid on profile %s", req.Operation, req.ProfileID)
	}

	unlock := s.locks.Lock(req.AccountID)
	defer unlock()

	agg, err := s.store.Load(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.NotFound("account %s does not exist", req.AccountID)
		}
		return nil, apierr.Internal(err)
	}
	if agg.Profile(req.ProfileID) == nil {
		return nil, apierr.NotFound("profile %s does not exist", req.ProfileID)
	}

	// Revisions the client could have last seen, captured before the handler
	// mutates anything. Reconciliation always compares against these.
	bases := make(map[types.ProfileID]types.RevisionPair, len(agg.Profiles))
	for id, profile := range agg.Profiles {
		bases[id] = profile.RevisionPair
	}

	now := s.now().UTC()
	env := &Env{
		AccountID:   req.AccountID,
		Aggregate:   agg,
		Deltas:      delta.NewSet(req.ProfileID),
		Body:        req.Body,
		Version:     req.Version,
		Now:         now,
		Catalog:     s.catalog,
		Progression: s.progress,
		Friends:     s.friends,
		svc:         s,
	}
	defer env.releasePeers()

	if err := handler.Execute(ctx, env); err != nil {
		return nil, apierr.From(err)
	}

	mutated := env.Deltas.MutatedProfiles()
	for _, id := range mutated {
		profile := agg.Profile(id)
		profile.Bump()
		profile.Updated = now
	}

	resp := &Response{
		ProfileID:     req.ProfileID,
		Notifications: env.notifications,
		ServerTime:    now,
	}

	primary := agg.Profile(req.ProfileID)
	decision := reconcile.Decide(bases[req.ProfileID], req.ClientRevision, req.Version)
	reconcile.Apply(decision, env.Deltas.Primary(), primary)
	if decision.OutOfSync {
		fullResyncTotal.WithLabelValues(string(req.ProfileID)).Inc()
	}
	resp.ProfileRevision = primary.Revision
	resp.ProfileCommandRevision = primary.CommandRevision
	resp.ProfileChangesBaseRevision = decision.Basis
	resp.ProfileChanges = recordsOrEmpty(env.Deltas.Primary().Records())

	for _, id := range env.Deltas.Secondaries() {
		builder := env.Deltas.For(id)
		if !builder.Mutated() {
			continue
		}
		profile := agg.Profile(id)
		declared, declaredOK := req.ProfileRevisions[id]
		secondary := reconcile.Decision{Basis: reconcile.Basis(bases[id], req.Version)}
		if declaredOK {
			secondary = reconcile.Decide(bases[id], declared, req.Version)
		}
		reconcile.Apply(secondary, builder, profile)
		if secondary.OutOfSync {
			fullResyncTotal.WithLabelValues(string(id)).Inc()
		}
		resp.MultiUpdate = append(resp.MultiUpdate, ProfileUpdate{
			ProfileID:                  id,
			ProfileRevision:            profile.Revision,
			ProfileCommandRevision:     profile.CommandRevision,
			ProfileChangesBaseRevision: secondary.Basis,
			ProfileChanges:             recordsOrEmpty(builder.Records()),
		})
	}

	if len(mutated) > 0 {
		if err := s.store.Save(ctx, agg); err != nil {
			return nil, apierr.Internal(err)
		}
		s.appendJournal(ctx, req, primary.Revision, now)
	}

	for _, peer := range env.peers {
		updates, err := s.commitPeer(ctx, peer, req.Version, now)
		if err != nil {
			return nil, err
		}
		resp.MultiUpdate = append(resp.MultiUpdate, updates...)
	}

	s.flushPushes(ctx, env)
	return resp, nil
}

// commitPeer bumps and persists a peer aggregate touched by a cross-account
// operation. The peer's client has declared nothing in this call, so its
// entries always carry change lists against the pre-mutation basis.
func (s *Service) commitPeer(ctx context.Context, peer *Peer, vctx version.Context, now time.Time) ([]ProfileUpdate, error) {
	mutated := peer.Deltas.MutatedProfiles()
	if len(mutated) == 0 {
		return nil, nil
	}
	updates := make([]ProfileUpdate, 0, len(mutated))
	for _, id := range mutated {
		profile := peer.Aggregate.Profile(id)
		base := reconcile.Basis(profile.RevisionPair, vctx)
		profile.Bump()
		profile.Updated = now
		updates = append(updates, ProfileUpdate{
			ProfileID:                  id,
			ProfileRevision:            profile.Revision,
			ProfileCommandRevision:     profile.CommandRevision,
			ProfileChangesBaseRevision: base,
			ProfileChanges:             recordsOrEmpty(peer.Deltas.For(id).Records()),
		})
	}
	if err := s.store.Save(ctx, peer.Aggregate); err != nil {
		return nil, apierr.Internal(err)
	}
	return updates, nil
}

func (s *Service) appendJournal(ctx context.Context, req Request, revision int64, now time.Time) {
	if s.journal == nil {
		return
	}
	entry := store.JournalEntry{
		AccountID: req.AccountID,
		ProfileID: req.ProfileID,
		Operation: req.Operation,
		Revision:  revision,
		CreatedAt: now,
	}
	if err := s.journal.Append(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("account_id", string(req.AccountID)).
			Str("operation", req.Operation).
			Msg("failed to append journal entry")
	}
}

func (s *Service) flushPushes(ctx context.Context, env *Env) {
	if s.notifier == nil {
		return
	}
	for _, push := range env.pushes {
		s.notifier.Push(ctx, push.accountID, push.event)
	}
}

func (s *Service) openPeer(ctx context.Context, accountID types.AccountID) (*Peer, error) {
	lockCtx, cancel := context.WithTimeout(ctx, peerLockTimeout)
	defer cancel()
	release, err := s.locks.TryLock(lockCtx, accountID)
	if err != nil {
		return nil, apierr.Conflict("account %s is busy", accountID).WithCause(err)
	}
	agg, err := s.store.Load(ctx, accountID)
	if err != nil {
		release()
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierr.NotFound("account %s does not exist", accountID)
		}
		return nil, apierr.Internal(err)
	}
	return &Peer{
		AccountID: accountID,
		Aggregate: agg,
		Deltas:    delta.NewSet(types.ProfileCurrency),
		release:   release,
	}, nil
}

func (e *Env) releasePeers() {
	for _, peer := range e.peers {
		peer.release()
	}
}

func (s *Service) observe(req Request, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		if apierr.IsBusiness(err) {
			outcome = "rejected"
		} else {
			outcome = "error"
		}
	}
	operationDuration.WithLabelValues(req.Operation, outcome).Observe(s.now().Sub(started).Seconds())
}

func handlerAllows(h Handler, profileID types.ProfileID) bool {
	allowed := h.Profiles()
	if len(allowed) == 0 {
		return true
	}
	for _, id := range allowed {
		if id == profileID {
			return true
		}
	}
	return false
}

func recordsOrEmpty(records []delta.ChangeRecord) []delta.ChangeRecord {
	if records == nil {
		return []delta.ChangeRecord{}
	}
	return records
}
