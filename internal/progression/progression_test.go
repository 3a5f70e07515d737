package progression

import (
	"reflect"
	"testing"
	"time"

	"github.com/example/profile-sync-engine/internal/catalog"
	"github.com/example/profile-sync-engine/internal/delta"
	"github.com/example/profile-sync-engine/internal/types"
)

func testTable() *Table {
	return &Table{
		XPPerLevel: 80_000,
		MaxLevel:   100,
		FreeTiers: map[int][]catalog.ItemGrant{
			1: {{TemplateID: types.CurrencyTemplate, Quantity: 100}},
			2: {{TemplateID: catalog.TemplateSeasonBoost, Quantity: 10}},
		},
		PremiumTiers: map[int][]catalog.ItemGrant{
			1: {{TemplateID: "cosmetic:outfit_tier1", Quantity: 1}},
			2: {{TemplateID: types.CurrencyTemplate, Quantity: 150}},
		},
	}
}

func TestApplyXPTwoLevelScenario(t *testing.T) {
	table := testTable()
	result := table.ApplyXP(State{XP: 0, Level: 1}, 170_000)

	if result.State.Level != 3 {
		t.Fatalf("level = %d, want 3", result.State.Level)
	}
	if result.State.XP != 10_000 {
		t.Fatalf("remaining xp = %d, want 10000", result.State.XP)
	}
	if len(result.Grants) != 2 {
		t.Fatalf("expected tier 1 and 2 grants, got %v", result.Grants)
	}
	if result.Grants[0].Tier != 1 || result.Grants[1].Tier != 2 {
		t.Fatalf("grants out of order: %v", result.Grants)
	}
}

func TestApplyXPIsDeterministic(t *testing.T) {
	table := testTable()
	state := State{XP: 40_000, Level: 1, PremiumTrack: true}

	first := table.ApplyXP(state, 200_000)
	second := table.ApplyXP(state, 200_000)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("two applications diverged:\n%+v\n%+v", first, second)
	}
}

func TestApplyXPBounds(t *testing.T) {
	table := testTable()

	for _, delta := range []int64{0, 1, 79_999, 80_000, 800_000} {
		result := table.ApplyXP(State{XP: 0, Level: 1}, delta)
		if result.State.Level < 1 {
			t.Fatalf("level decreased: %+v", result.State)
		}
		if result.State.Level < table.MaxLevel {
			if result.State.XP < 0 || result.State.XP >= table.XPPerLevel {
				t.Fatalf("remainder %d out of bounds for delta %d", result.State.XP, delta)
			}
		}
	}

	// Negative deltas are ignored rather than rolled back.
	result := table.ApplyXP(State{XP: 5_000, Level: 2}, -10_000)
	if result.State.XP != 5_000 || result.State.Level != 2 {
		t.Fatalf("negative delta mutated the state: %+v", result.State)
	}
}

func TestApplyXPStopsAtLevelCap(t *testing.T) {
	table := testTable()
	table.MaxLevel = 3

	result := table.ApplyXP(State{XP: 0, Level: 1}, 10*80_000)
	if result.State.Level != 3 {
		t.Fatalf("level = %d, want cap 3", result.State.Level)
	}
	// XP past the cap accumulates without further level-ups.
	if result.State.XP != 8*80_000 {
		t.Fatalf("xp after cap = %d", result.State.XP)
	}
}

func TestPremiumRewardsRequireTrack(t *testing.T) {
	table := testTable()

	free := table.ApplyXP(State{XP: 0, Level: 1}, 80_000)
	if len(free.Grants) != 1 || free.Grants[0].Premium {
		t.Fatalf("free track grants wrong: %v", free.Grants)
	}

	premium := table.ApplyXP(State{XP: 0, Level: 1, PremiumTrack: true}, 80_000)
	if len(premium.Grants) != 2 {
		t.Fatalf("expected free+premium grants, got %v", premium.Grants)
	}
	if !premium.Grants[1].Premium {
		t.Fatalf("second grant should be premium: %v", premium.Grants[1])
	}
}

func TestGrantXPAppliesRewardsAcrossProfiles(t *testing.T) {
	agg := types.NewAggregate("acct-1", time.Now())
	engine := NewEngine(testTable())
	deltas := delta.NewSet(types.ProfileProgression)

	result, err := engine.GrantXP(agg, deltas, 170_000)
	if err != nil {
		t.Fatalf("grant xp: %v", err)
	}
	if result.State.Level != 3 {
		t.Fatalf("level = %d, want 3", result.State.Level)
	}

	// Tier 1 currency lands on both ledgers as secondaries.
	_, ledger := agg.Profile(types.ProfileCurrency).FindByTemplate(types.CurrencyTemplate)
	if ledger.Quantity != 100 {
		t.Fatalf("primary ledger = %d, want 100", ledger.Quantity)
	}
	_, mirror := agg.Profile(types.ProfileMirror).FindByTemplate(types.CurrencyTemplate)
	if mirror.Quantity != 100 {
		t.Fatalf("mirror ledger = %d, want 100", mirror.Quantity)
	}

	// Tier 2 boost lands on the progression stats.
	if agg.Profile(types.ProfileProgression).Stats.SeasonXPBoost != 10 {
		t.Fatalf("season boost = %d, want 10", agg.Profile(types.ProfileProgression).Stats.SeasonXPBoost)
	}

	secondaries := deltas.Secondaries()
	if len(secondaries) != 2 {
		t.Fatalf("expected currency and mirror secondaries, got %v", secondaries)
	}
}

func TestGrantInventoryItemFlipsSeenWhenOwned(t *testing.T) {
	agg := types.NewAggregate("acct-1", time.Now())
	deltas := delta.NewSet(types.ProfileInventory)

	if err := GrantInventoryItem(agg, deltas, "cosmetic:spray_gg", 1); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if err := GrantInventoryItem(agg, deltas, "cosmetic:spray_gg", 1); err != nil {
		t.Fatalf("second grant: %v", err)
	}

	records := deltas.For(types.ProfileInventory).Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ChangeType != delta.ItemAdded || records[1].ChangeType != delta.ItemAttrChanged {
		t.Fatalf("unexpected record kinds: %v %v", records[0].ChangeType, records[1].ChangeType)
	}
	if got := len(agg.Profile(types.ProfileInventory).Items); got != 1 {
		t.Fatalf("duplicate grant created a second instance, items = %d", got)
	}
}

func TestUnlockPremiumRetroactiveGrants(t *testing.T) {
	agg := types.NewAggregate("acct-1", time.Now())
	progressionProfile := agg.Profile(types.ProfileProgression)
	progressionProfile.Stats.Level = 3 // tiers 1 and 2 already passed

	engine := NewEngine(testTable())
	deltas := delta.NewSet(types.ProfileCurrency)

	grants, err := engine.UnlockPremium(agg, deltas)
	if err != nil {
		t.Fatalf("unlock premium: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected retroactive grants for tiers 1 and 2, got %v", grants)
	}
	if !progressionProfile.Stats.PremiumTrack {
		t.Fatal("premium flag not set")
	}

	if _, err := engine.UnlockPremium(agg, deltas); err == nil {
		t.Fatal("second unlock must conflict")
	}
}
