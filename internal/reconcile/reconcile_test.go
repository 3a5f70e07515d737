package reconcile

import (
	"testing"

	"github.com/example/profile-sync-engine/internal/delta"
	"github.com/example/profile-sync-engine/internal/types"
	"github.com/example/profile-sync-engine/internal/version"
)

var (
	legacyClient = version.Legacy
	modernClient = version.Context{Season: 12, Build: version.CommandRevisionMinBuild + 100}
)

func TestBasisFollowsClientBuild(t *testing.T) {
	pair := types.RevisionPair{Revision: 9, CommandRevision: 7}

	if got := Basis(pair, legacyClient); got != 9 {
		t.Fatalf("legacy basis = %d, want revision 9", got)
	}
	if got := Basis(pair, modernClient); got != 7 {
		t.Fatalf("modern basis = %d, want commandRevision 7", got)
	}
}

func TestDecide(t *testing.T) {
	pair := types.RevisionPair{Revision: 9, CommandRevision: 7}

	if d := Decide(pair, 7, modernClient); d.OutOfSync {
		t.Fatal("matching commandRevision must be in sync")
	}
	if d := Decide(pair, 5, modernClient); !d.OutOfSync {
		t.Fatal("rvn=5 against commandRevision=7 must be out of sync")
	}
	if d := Decide(pair, -1, legacyClient); !d.OutOfSync {
		t.Fatal("declaring no baseline must force a resync")
	}
}

func TestApplyReplacesDeltasWholesale(t *testing.T) {
	profile := &types.Profile{
		ProfileID:    types.ProfileCurrency,
		RevisionPair: types.RevisionPair{Revision: 8, CommandRevision: 8},
	}

	b := delta.NewBuilder(types.ProfileCurrency)
	b.ItemQuantityChanged("ledger", 250)

	Apply(Decision{Basis: 7, OutOfSync: true}, b, profile)

	records := b.Records()
	if len(records) != 1 || records[0].ChangeType != delta.FullProfileUpdate {
		t.Fatalf("expected exactly one fullProfileUpdate, got %v", records)
	}
	if records[0].Profile.Revision != 8 {
		t.Fatalf("snapshot must carry the post-mutation revision, got %d", records[0].Profile.Revision)
	}

	// In-sync decisions leave the accumulated records untouched.
	b2 := delta.NewBuilder(types.ProfileCurrency)
	b2.ItemQuantityChanged("ledger", 250)
	Apply(Decision{Basis: 8, OutOfSync: false}, b2, profile)
	if got := b2.Records(); len(got) != 1 || got[0].ChangeType != delta.ItemQuantityChanged {
		t.Fatalf("in-sync records were altered: %v", got)
	}
}
