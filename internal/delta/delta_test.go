package delta

import (
	"testing"

	"github.com/example/profile-sync-engine/internal/types"
)

func TestBuilderPreservesOrderWithoutDedup(t *testing.T) {
	b := NewBuilder(types.ProfileInventory)
	b.ItemAdded("item-1", &types.Item{TemplateID: "cosmetic:glider_basic", Quantity: 1})
	b.ItemAttrChanged("item-1", "seen", false)
	b.ItemAttrChanged("item-1", "seen", true)

	records := b.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].ChangeType != ItemAdded || records[1].ChangeType != ItemAttrChanged || records[2].ChangeType != ItemAttrChanged {
		t.Fatalf("unexpected record order: %v %v %v", records[0].ChangeType, records[1].ChangeType, records[2].ChangeType)
	}
	if records[2].AttributeValue != true {
		t.Fatalf("later record must carry the later value, got %v", records[2].AttributeValue)
	}
}

func TestFullProfileUpdateSupersedesDeltas(t *testing.T) {
	profile := &types.Profile{ProfileID: types.ProfileCurrency}
	b := NewBuilder(types.ProfileCurrency)
	b.ItemQuantityChanged("ledger", 500)
	b.StatModified(types.StatSeasonXPBoost, int64(10))

	b.ReplaceWithFullProfile(profile)
	b.ItemQuantityChanged("ledger", 700) // must be ignored after the snapshot

	records := b.Records()
	if len(records) != 1 {
		t.Fatalf("expected a single record after full update, got %d", len(records))
	}
	if records[0].ChangeType != FullProfileUpdate {
		t.Fatalf("expected fullProfileUpdate, got %v", records[0].ChangeType)
	}
	if !b.Mutated() {
		t.Fatal("pre-replacement mutations must still count as mutations")
	}
}

func TestSetTracksSecondariesInFirstTouchOrder(t *testing.T) {
	s := NewSet(types.ProfileCurrency)
	s.For(types.ProfileInventory).ItemAdded("i", &types.Item{TemplateID: "cosmetic:pickaxe", Quantity: 1})
	s.For(types.ProfileMirror).ItemQuantityChanged("ledger", 5)
	s.For(types.ProfileInventory).ItemAttrChanged("i", "favorite", true)

	secondaries := s.Secondaries()
	if len(secondaries) != 2 {
		t.Fatalf("expected 2 secondaries, got %d", len(secondaries))
	}
	if secondaries[0] != types.ProfileInventory || secondaries[1] != types.ProfileMirror {
		t.Fatalf("unexpected secondary order: %v", secondaries)
	}
	if got := len(s.For(types.ProfileInventory).Records()); got != 2 {
		t.Fatalf("expected inventory builder to keep both records, got %d", got)
	}

	if s.Primary().Mutated() {
		t.Fatal("primary was never touched")
	}
	if got := s.MutatedProfiles(); len(got) != 2 {
		t.Fatalf("expected 2 mutated profiles, got %v", got)
	}
}
