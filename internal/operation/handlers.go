package operation

import (
	"context"
	"errors"

	"github.com/example/profile-sync-engine/internal/apierr"
	"github.com/example/profile-sync-engine/internal/catalog"
	"github.com/example/profile-sync-engine/internal/economy"
	"github.com/example/profile-sync-engine/internal/notify"
	"github.com/example/profile-sync-engine/internal/progression"
	"github.com/example/profile-sync-engine/internal/types"
)

// Built-in operation names.
const (
	OpQueryProfile       = "QueryProfile"
	OpSetItemSeen        = "MarkItemSeen"
	OpSetItemFavorite    = "SetItemFavorite"
	OpGrantXP            = "GrantXP"
	OpUnlockPremiumTrack = "UnlockPremiumTrack"
	OpPurchaseOffer      = "PurchaseCatalogEntry"
	OpGiftOffer          = "GiftCatalogEntry"
	OpRedeemCode         = "RedeemCode"
	OpClaimGiftBox       = "RemoveGiftBox"
)

// redeemedCodesStat is the Extra attribute holding the set of codes an
// account has already used.
const redeemedCodesStat = "redeemed_codes"

// DefaultRegistry returns a Registry with every built-in operation.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(QueryProfile{})
	r.Register(SetItemSeen{})
	r.Register(SetItemFavorite{})
	r.Register(GrantXP{})
	r.Register(UnlockPremiumTrack{})
	r.Register(PurchaseOffer{})
	r.Register(GiftOffer{})
	r.Register(RedeemCode{Codes: DefaultCodes()})
	r.Register(ClaimGiftBox{})
	return r
}

// QueryProfile mutates nothing. Clients call it to refresh a sub-document:
// in-sync callers get an empty change list, stale callers get the full
// snapshot from the reconciler.
type QueryProfile struct{}

func (QueryProfile) Name() string { return OpQueryProfile }

func (QueryProfile) Profiles() []types.ProfileID { return nil }

func (QueryProfile) Execute(context.Context, *Env) error {
	return nil
}

// SetItemSeen clears the "new item" badge on one or more owned items.
type SetItemSeen struct{}

func (SetItemSeen) Name() string { return OpSetItemSeen }

func (SetItemSeen) Profiles() []types.ProfileID { return nil }

func (SetItemSeen) Execute(_ context.Context, env *Env) error {
	var body struct {
		ItemIDs []string `json:"itemIds"`
	}
	if err := env.DecodeBody(&body); err != nil {
		return err
	}
	if len(body.ItemIDs) == 0 {
		return apierr.ValidationFailed("itemIds must not be empty")
	}
	profile := env.Primary()
	builder := env.Deltas.Primary()
	for _, itemID := range body.ItemIDs {
		item := profile.Item(itemID)
		if item == nil {
			return apierr.NotFound("item %s does not exist in profile %s", itemID, profile.ProfileID)
		}
		if item.Attributes == nil {
			item.Attributes = make(map[string]any)
		}
		item.Attributes["seen"] = true
		builder.ItemAttrChanged(itemID, "seen", true)
	}
	return nil
}

// SetItemFavorite toggles the favorite flag on an owned inventory item.
type SetItemFavorite struct{}

func (SetItemFavorite) Name() string { return OpSetItemFavorite }

func (SetItemFavorite) Profiles() []types.ProfileID {
	return []types.ProfileID{types.ProfileInventory}
}

func (SetItemFavorite) Execute(_ context.Context, env *Env) error {
	var body struct {
		ItemID   string `json:"itemId"`
		Favorite bool   `json:"favorite"`
	}
	if err := env.DecodeBody(&body); err != nil {
		return err
	}
	if body.ItemID == "" {
		return apierr.ValidationFailed("itemId is required")
	}
	profile := env.Primary()
	item := profile.Item(body.ItemID)
	if item == nil {
		return apierr.NotFound("item %s does not exist in profile %s", body.ItemID, profile.ProfileID)
	}
	if item.Attributes == nil {
		item.Attributes = make(map[string]any)
	}
	item.Attributes["favorite"] = body.Favorite
	env.Deltas.Primary().ItemAttrChanged(body.ItemID, "favorite", body.Favorite)
	return nil
}

// GrantXP folds earned XP into the progression profile and applies every
// unlocked tier reward. Level-ups are summarized in a response notification.
type GrantXP struct{}

func (GrantXP) Name() string { return OpGrantXP }

func (GrantXP) Profiles() []types.ProfileID {
	return []types.ProfileID{types.ProfileProgression}
}

func (GrantXP) Execute(_ context.Context, env *Env) error {
	var body struct {
		XPDelta int64 `json:"xpDelta"`
	}
	if err := env.DecodeBody(&body); err != nil {
		return err
	}
	if body.XPDelta <= 0 {
		return apierr.ValidationFailed("xpDelta must be positive")
	}

	before := env.Primary().Stats.Level
	result, err := env.Progression.GrantXP(env.Aggregate, env.Deltas, body.XPDelta)
	if err != nil {
		return err
	}
	if result.State.Level > before {
		env.Notify("levelUp", map[string]any{
			"level":   result.State.Level,
			"rewards": grantSummaries(result.Grants),
		})
	}
	return nil
}

// UnlockPremiumTrack debits the premium-track price and flips the premium
// flag, retroactively granting the premium rewards for tiers already passed.
type UnlockPremiumTrack struct{}

func (UnlockPremiumTrack) Name() string { return OpUnlockPremiumTrack }

func (UnlockPremiumTrack) Profiles() []types.ProfileID {
	return []types.ProfileID{types.ProfileCurrency}
}

func (UnlockPremiumTrack) Execute(ctx context.Context, env *Env) error {
	offer, err := env.Catalog.ResolveOffer(ctx, catalog.PremiumTrackOfferID)
	if err != nil {
		return apierr.Internal(err)
	}
	prog := env.Aggregate.Profile(types.ProfileProgression)
	if prog == nil {
		return apierr.NotFound("profile %s does not exist", types.ProfileProgression)
	}
	if prog.Stats.PremiumTrack {
		return apierr.Conflict("premium track is already unlocked")
	}
	if _, err := economy.Debit(env.Aggregate, env.Deltas, offer.Price); err != nil {
		return err
	}
	grants, err := env.Progression.UnlockPremium(env.Aggregate, env.Deltas)
	if err != nil {
		return err
	}
	env.Notify("premiumTrackUnlocked", map[string]any{
		"rewards": grantSummaries(grants),
	})
	return nil
}

// PurchaseOffer debits the caller and grants the offer's items.
type PurchaseOffer struct{}

func (PurchaseOffer) Name() string { return OpPurchaseOffer }

func (PurchaseOffer) Profiles() []types.ProfileID {
	return []types.ProfileID{types.ProfileCurrency}
}

func (PurchaseOffer) Execute(ctx context.Context, env *Env) error {
	var body struct {
		OfferID string `json:"offerId"`
	}
	if err := env.DecodeBody(&body); err != nil {
		return err
	}
	if body.OfferID == "" {
		return apierr.ValidationFailed("offerId is required")
	}
	offer, err := resolveOffer(ctx, env.Catalog, body.OfferID)
	if err != nil {
		return err
	}
	if _, err := economy.Debit(env.Aggregate, env.Deltas, offer.Price); err != nil {
		return err
	}
	if err := applyOfferGrants(env.Aggregate, env, offer); err != nil {
		return err
	}
	env.Notify("purchaseCompleted", map[string]any{
		"offerId": offer.OfferID,
		"price":   offer.Price,
	})
	return nil
}

// GiftOffer buys an offer on behalf of another account: the caller pays, the
// receiver's inventory gets the items and a claimable gift box records who
// sent what. The receiver is told asynchronously.
type GiftOffer struct{}

func (GiftOffer) Name() string { return OpGiftOffer }

func (GiftOffer) Profiles() []types.ProfileID {
	return []types.ProfileID{types.ProfileCurrency}
}

func (GiftOffer) Execute(ctx context.Context, env *Env) error {
	var body struct {
		OfferID     string          `json:"offerId"`
		ToAccountID types.AccountID `json:"toAccountId"`
		Message     string          `json:"userMessage"`
	}
	if err := env.DecodeBody(&body); err != nil {
		return err
	}
	if body.OfferID == "" || body.ToAccountID == "" {
		return apierr.ValidationFailed("offerId and toAccountId are required")
	}
	if body.ToAccountID == env.AccountID {
		return apierr.ValidationFailed("cannot gift to the purchasing account")
	}
	friends, err := env.Friends.AreFriends(ctx, env.AccountID, body.ToAccountID)
	if err != nil {
		return apierr.Internal(err)
	}
	if !friends {
		return apierr.Forbidden("accounts %s and %s are not friends", env.AccountID, body.ToAccountID)
	}

	offer, err := resolveOffer(ctx, env.Catalog, body.OfferID)
	if err != nil {
		return err
	}
	if _, err := economy.Debit(env.Aggregate, env.Deltas, offer.Price); err != nil {
		return err
	}

	peer, err := env.Peer(ctx, body.ToAccountID)
	if err != nil {
		return err
	}
	loot := make([]economy.LootEntry, 0, len(offer.Grants))
	for _, grant := range offer.Grants {
		if err := progression.GrantInventoryItem(peer.Aggregate, peer.Deltas, grant.TemplateID, grant.Quantity); err != nil {
			return err
		}
		loot = append(loot, economy.LootEntry{ItemType: grant.TemplateID, Quantity: grant.Quantity})
	}
	boxID, err := economy.PackageGiftBox(peer.Aggregate, peer.Deltas, economy.GiftBox{
		Source:  "gift",
		From:    env.AccountID,
		Message: body.Message,
		Loot:    loot,
	}, env.Now)
	if err != nil {
		return err
	}

	env.PushEvent(body.ToAccountID, notify.Event{
		Type:      "giftReceived",
		AccountID: body.ToAccountID,
		Payload: map[string]any{
			"fromAccountId": string(env.AccountID),
			"offerId":       offer.OfferID,
			"giftBoxItemId": boxID,
		},
		CreatedAt: env.Now,
	})
	env.Notify("giftSent", map[string]any{
		"toAccountId": string(body.ToAccountID),
		"offerId":     offer.OfferID,
	})
	return nil
}

// RedeemCode credits a one-time promotional code. Codes are tracked per
// account; reuse is a conflict.
type RedeemCode struct {
	// Codes maps a redemption code to the currency amount it grants.
	Codes map[string]int64
}

// DefaultCodes is the development-time code table wired in cmd/server.
func DefaultCodes() map[string]int64 {
	return map[string]int64{
		"WELCOME1000":  1000,
		"SEASONLAUNCH": 500,
		"COMEBACK250":  250,
	}
}

func (RedeemCode) Name() string { return OpRedeemCode }

func (RedeemCode) Profiles() []types.ProfileID {
	return []types.ProfileID{types.ProfileCurrency}
}

func (h RedeemCode) Execute(_ context.Context, env *Env) error {
	var body struct {
		Code string `json:"code"`
	}
	if err := env.DecodeBody(&body); err != nil {
		return err
	}
	if body.Code == "" {
		return apierr.ValidationFailed("code is required")
	}
	amount, ok := h.Codes[body.Code]
	if !ok {
		return apierr.NotFound("code %q does not exist", body.Code)
	}

	stats := &env.Primary().Stats
	redeemed := redeemedCodes(stats)
	for _, used := range redeemed {
		if used == body.Code {
			return apierr.Conflict("code %q was already redeemed", body.Code)
		}
	}

	if _, err := economy.Credit(env.Aggregate, env.Deltas, amount); err != nil {
		return err
	}
	redeemed = append(redeemed, body.Code)
	stats.SetExtra(redeemedCodesStat, redeemed)
	env.Deltas.Primary().StatModified(redeemedCodesStat, redeemed)

	if _, err := economy.PackageGiftBox(env.Aggregate, env.Deltas, economy.GiftBox{
		Source: "code_redemption",
		Loot:   []economy.LootEntry{{ItemType: types.CurrencyTemplate, Quantity: amount}},
	}, env.Now); err != nil {
		return err
	}
	return nil
}

// ClaimGiftBox removes a gift box the client has acknowledged.
type ClaimGiftBox struct{}

func (ClaimGiftBox) Name() string { return OpClaimGiftBox }

func (ClaimGiftBox) Profiles() []types.ProfileID {
	return []types.ProfileID{types.ProfileCurrency}
}

func (ClaimGiftBox) Execute(_ context.Context, env *Env) error {
	var body struct {
		GiftBoxItemID string `json:"giftBoxItemId"`
	}
	if err := env.DecodeBody(&body); err != nil {
		return err
	}
	if body.GiftBoxItemID == "" {
		return apierr.ValidationFailed("giftBoxItemId is required")
	}
	profile := env.Primary()
	item := profile.Item(body.GiftBoxItemID)
	if item == nil || item.TemplateID != economy.GiftBoxTemplate {
		return apierr.NotFound("gift box %s does not exist", body.GiftBoxItemID)
	}
	profile.RemoveItem(body.GiftBoxItemID)
	env.Deltas.Primary().ItemRemoved(body.GiftBoxItemID)
	return nil
}

// redeemedCodes reads the per-account used-code list, tolerating the []any
// shape the JSON round trip produces.
func redeemedCodes(stats *types.Stats) []string {
	raw, ok := stats.ExtraValue(redeemedCodesStat)
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if code, ok := entry.(string); ok {
				out = append(out, code)
			}
		}
		return out
	default:
		return nil
	}
}

func resolveOffer(ctx context.Context, resolver catalog.Resolver, offerID string) (catalog.OfferDefinition, error) {
	offer, err := resolver.ResolveOffer(ctx, offerID)
	if err != nil {
		if errors.Is(err, catalog.ErrOfferNotFound) {
			return catalog.OfferDefinition{}, apierr.NotFound("offer %q does not exist", offerID)
		}
		return catalog.OfferDefinition{}, apierr.Internal(err)
	}
	return offer, nil
}

// applyOfferGrants lands purchased items in whichever profile their category
// dictates. Offers never grant boosts; those come from the reward track.
func applyOfferGrants(agg *types.Aggregate, env *Env, offer catalog.OfferDefinition) error {
	for _, grant := range offer.Grants {
		switch catalog.Categorize(grant.TemplateID) {
		case catalog.CategoryCurrency:
			if _, err := economy.Credit(agg, env.Deltas, grant.Quantity); err != nil {
				return err
			}
		case catalog.CategoryBoost:
			return apierr.ValidationFailed("offer %q grants an unsupported boost item", offer.OfferID)
		default:
			if err := progression.GrantInventoryItem(agg, env.Deltas, grant.TemplateID, grant.Quantity); err != nil {
				return err
			}
		}
	}
	return nil
}

func grantSummaries(grants []progression.Grant) []map[string]any {
	out := make([]map[string]any, 0, len(grants))
	for _, grant := range grants {
		out = append(out, map[string]any{
			"tier":       grant.Tier,
			"templateId": string(grant.TemplateID),
			"quantity":   grant.Quantity,
			"premium":    grant.Premium,
		})
	}
	return out
}
