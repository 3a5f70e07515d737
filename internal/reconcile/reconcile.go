// Package reconcile decides the response shape for a sub-document: an
// incremental change list when the client-declared revision matches the
// server's comparison basis, or a single full-document snapshot when it does
// not.
package reconcile

import (
	"github.com/example/profile-sync-engine/internal/delta"
	"github.com/example/profile-sync-engine/internal/types"
	"github.com/example/profile-sync-engine/internal/version"
)

// Decision is the reconciler output for one profile.
type Decision struct {
	// Basis is the counter value the client revision was compared against.
	Basis int64
	// OutOfSync forces a full-document resync of the profile.
	OutOfSync bool
}

// Basis returns the comparison basis for the profile: commandRevision on
// client builds at or past the compatibility cutoff, the plain revision
// otherwise. Keeping the branch in one policy function is deliberate; handlers
// never inspect the build number themselves.
func Basis(pair types.RevisionPair, vctx version.Context) int64 {
	if vctx.UsesCommandRevision() {
		return pair.CommandRevision
	}
	return pair.Revision
}

// Decide compares the client-declared revision against the comparison basis.
// Any mismatch, including a negative declaration meaning "no baseline", is out
// of sync.
func Decide(pair types.RevisionPair, queryRevision int64, vctx version.Context) Decision {
	basis := Basis(pair, vctx)
	return Decision{Basis: basis, OutOfSync: queryRevision != basis}
}

// Apply runs the decision against a builder: when out of sync the accumulated
// records are replaced wholesale by a snapshot of the post-mutation profile,
// regardless of what the operation produced.
func Apply(d Decision, b *delta.Builder, profile *types.Profile) {
	if d.OutOfSync {
		b.ReplaceWithFullProfile(profile)
	}
}
