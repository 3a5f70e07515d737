// Package progression converts XP increments into level-ups and the
// deterministic tier-reward grants unlocked by each level boundary crossed.
// The engine contains no randomness: identical inputs always yield the same
// ending level and the same grants in the same order.
package progression

import (
	"github.com/example/profile-sync-engine/internal/apierr"
	"github.com/example/profile-sync-engine/internal/catalog"
	"github.com/example/profile-sync-engine/internal/delta"
	"github.com/example/profile-sync-engine/internal/economy"
	"github.com/example/profile-sync-engine/internal/types"
)

// State is the progression snapshot ApplyXP consumes.
type State struct {
	XP           int64
	Level        int
	PremiumTrack bool
}

// Grant is one tier reward emitted by a level-up.
type Grant struct {
	Tier       int
	TemplateID types.TemplateID
	Quantity   int64
	Premium    bool
}

// Result is the outcome of folding an XP delta into a state.
type Result struct {
	State  State
	Grants []Grant
}

// Table is the per-product progression configuration: a constant per-level XP
// cost, a level cap, and the reward entries registered per tier. Tier N is
// the set of rewards unlocked when level N+1 is reached.
type Table struct {
	XPPerLevel   int64
	MaxLevel     int
	FreeTiers    map[int][]catalog.ItemGrant
	PremiumTiers map[int][]catalog.ItemGrant
}

// xpRequired returns the cost of leaving the given level. The step function
// is constant per configuration.
func (t *Table) xpRequired(level int) int64 {
	_ = level
	return t.XPPerLevel
}

// ApplyXP is a pure function of (state, delta): it loops level-ups while the
// accumulated XP covers the next level's cost, emitting that tier's rewards.
// Free-track rewards are unconditional; premium-track rewards require the
// premium flag. The remaining XP is always in [0, xpRequired(level)).
func (t *Table) ApplyXP(state State, xpDelta int64) Result {
	out := Result{State: state}
	if xpDelta < 0 {
		// XP never decreases outside admin correction; a negative delta is a
		// no-op rather than a rollback.
		return out
	}

	out.State.XP += xpDelta
	for out.State.Level < t.MaxLevel && out.State.XP >= t.xpRequired(out.State.Level) {
		out.State.XP -= t.xpRequired(out.State.Level)
		out.State.Level++

		tier := out.State.Level - 1
		for _, reward := range t.FreeTiers[tier] {
			out.Grants = append(out.Grants, Grant{Tier: tier, TemplateID: reward.TemplateID, Quantity: reward.Quantity})
		}
		if out.State.PremiumTrack {
			for _, reward := range t.PremiumTiers[tier] {
				out.Grants = append(out.Grants, Grant{Tier: tier, TemplateID: reward.TemplateID, Quantity: reward.Quantity, Premium: true})
			}
		}
	}
	return out
}

// PremiumGrantsThrough returns the premium-track rewards for every tier
// already reached, in tier order. Used when the premium track is unlocked
// after levels were earned.
func (t *Table) PremiumGrantsThrough(level int) []Grant {
	var grants []Grant
	for tier := 1; tier < level; tier++ {
		for _, reward := range t.PremiumTiers[tier] {
			grants = append(grants, Grant{Tier: tier, TemplateID: reward.TemplateID, Quantity: reward.Quantity, Premium: true})
		}
	}
	return grants
}

// Engine applies progression results to an account aggregate, expressing each
// grant as change records through the shared delta set.
type Engine struct {
	table *Table
}

// NewEngine builds an Engine over the given table.
func NewEngine(table *Table) *Engine {
	return &Engine{table: table}
}

// Table exposes the configured progression table.
func (e *Engine) Table() *Table {
	return e.table
}

// GrantXP folds an XP delta into the progression profile and applies every
// unlocked tier reward. The progression profile receives statModified records
// for xp and level; reward grants land in whichever profiles their category
// dictates.
func (e *Engine) GrantXP(agg *types.Aggregate, deltas *delta.Set, xpDelta int64) (Result, error) {
	profile := agg.Profile(types.ProfileProgression)
	if profile == nil {
		return Result{}, apierr.NotFound("profile %s does not exist", types.ProfileProgression)
	}

	state := State{XP: profile.Stats.XP, Level: profile.Stats.Level, PremiumTrack: profile.Stats.PremiumTrack}
	result := e.table.ApplyXP(state, xpDelta)

	builder := deltas.For(types.ProfileProgression)
	profile.Stats.XP = result.State.XP
	builder.StatModified(types.StatXP, result.State.XP)
	if result.State.Level != state.Level {
		profile.Stats.Level = result.State.Level
		builder.StatModified(types.StatLevel, result.State.Level)
	}

	if err := e.applyGrants(agg, deltas, result.Grants); err != nil {
		return Result{}, err
	}
	return result, nil
}

// UnlockPremium flips the premium-track flag and retroactively grants the
// premium rewards for tiers the account already passed.
func (e *Engine) UnlockPremium(agg *types.Aggregate, deltas *delta.Set) ([]Grant, error) {
	profile := agg.Profile(types.ProfileProgression)
	if profile == nil {
		return nil, apierr.NotFound("profile %s does not exist", types.ProfileProgression)
	}
	if profile.Stats.PremiumTrack {
		return nil, apierr.Conflict("premium track is already unlocked")
	}

	profile.Stats.PremiumTrack = true
	deltas.For(types.ProfileProgression).StatModified(types.StatPremiumTrack, true)

	grants := e.table.PremiumGrantsThrough(profile.Stats.Level)
	if err := e.applyGrants(agg, deltas, grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// applyGrants dispatches each grant by template category:
// currency rewards credit both ledgers, boost rewards bump the named stat
// accumulator, and cosmetics are added to the inventory or flipped to unseen
// when already owned.
func (e *Engine) applyGrants(agg *types.Aggregate, deltas *delta.Set, grants []Grant) error {
	for _, grant := range grants {
		switch catalog.Categorize(grant.TemplateID) {
		case catalog.CategoryCurrency:
			if _, err := economy.Credit(agg, deltas, grant.Quantity); err != nil {
				return err
			}
		case catalog.CategoryBoost:
			if err := e.applyBoost(agg, deltas, grant); err != nil {
				return err
			}
		case catalog.CategoryCosmetic:
			if err := GrantInventoryItem(agg, deltas, grant.TemplateID, grant.Quantity); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) applyBoost(agg *types.Aggregate, deltas *delta.Set, grant Grant) error {
	profile := agg.Profile(types.ProfileProgression)
	if profile == nil {
		return apierr.NotFound("profile %s does not exist", types.ProfileProgression)
	}
	builder := deltas.For(types.ProfileProgression)
	switch grant.TemplateID {
	case catalog.TemplateSeasonBoost:
		profile.Stats.SeasonXPBoost += grant.Quantity
		builder.StatModified(types.StatSeasonXPBoost, profile.Stats.SeasonXPBoost)
	case catalog.TemplateFriendBoost:
		profile.Stats.FriendXPBoost += grant.Quantity
		builder.StatModified(types.StatFriendXPBoost, profile.Stats.FriendXPBoost)
	default:
		return apierr.NotFound("unknown boost template %s", grant.TemplateID)
	}
	return nil
}

// GrantInventoryItem adds a cosmetic to the inventory profile. When the
// template is already owned the existing instance is flipped back to unseen
// instead of duplicating it.
func GrantInventoryItem(agg *types.Aggregate, deltas *delta.Set, templateID types.TemplateID, quantity int64) error {
	profile := agg.Profile(types.ProfileInventory)
	if profile == nil {
		return apierr.NotFound("profile %s does not exist", types.ProfileInventory)
	}
	builder := deltas.For(types.ProfileInventory)

	if itemID, owned := profile.FindByTemplate(templateID); owned != nil {
		if owned.Attributes == nil {
			owned.Attributes = make(map[string]any)
		}
		owned.Attributes["seen"] = false
		builder.ItemAttrChanged(itemID, "seen", false)
		return nil
	}

	itemID := string(types.ProfileInventory) + ":" + string(templateID)
	item := &types.Item{
		TemplateID: templateID,
		Quantity:   quantity,
		Attributes: map[string]any{"seen": false, "favorite": false},
	}
	profile.PutItem(itemID, item)
	builder.ItemAdded(itemID, item)
	return nil
}

// DefaultTable is the development-time progression configuration wired in
// cmd/server: a flat 80000 XP per level with a small reward table.
func DefaultTable() *Table {
	return &Table{
		XPPerLevel: 80_000,
		MaxLevel:   100,
		FreeTiers: map[int][]catalog.ItemGrant{
			1: {{TemplateID: types.CurrencyTemplate, Quantity: 100}},
			2: {{TemplateID: catalog.TemplateSeasonBoost, Quantity: 10}},
			3: {{TemplateID: "cosmetic:spray_gg", Quantity: 1}},
			4: {{TemplateID: types.CurrencyTemplate, Quantity: 100}},
			5: {{TemplateID: "cosmetic:glider_tier5", Quantity: 1}},
		},
		PremiumTiers: map[int][]catalog.ItemGrant{
			1: {{TemplateID: "cosmetic:outfit_tier1", Quantity: 1}},
			2: {{TemplateID: types.CurrencyTemplate, Quantity: 150}},
			3: {{TemplateID: catalog.TemplateFriendBoost, Quantity: 20}},
			4: {{TemplateID: "cosmetic:emote_tier4", Quantity: 1}},
			5: {{TemplateID: types.CurrencyTemplate, Quantity: 150}},
		},
	}
}
