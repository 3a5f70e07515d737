// Package economy implements the reusable currency mutation routines every
// earning and spending operation composes: credits, debits, and gift-box
// packaging. Credits and debits always touch the primary currency ledger and
// its compatibility mirror together so the two stay equal.
package economy

import (
	"time"

	"github.com/google/uuid"

	"github.com/example/profile-sync-engine/internal/apierr"
	"github.com/example/profile-sync-engine/internal/delta"
	"github.com/example/profile-sync-engine/internal/types"
)

// ledgerProfiles are the sub-documents holding a copy of the core currency.
var ledgerProfiles = []types.ProfileID{types.ProfileCurrency, types.ProfileMirror}

// Balance reads the current core-currency quantity from the primary ledger.
func Balance(agg *types.Aggregate) int64 {
	profile := agg.Profile(types.ProfileCurrency)
	if profile == nil {
		return 0
	}
	_, item := profile.FindByTemplate(types.CurrencyTemplate)
	if item == nil {
		return 0
	}
	return item.Quantity
}

// Credit adds amount to the currency ledger on the primary currency profile
// and the compatibility mirror, emitting an itemQuantityChanged record per
// profile. It returns the new primary balance.
func Credit(agg *types.Aggregate, deltas *delta.Set, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apierr.ValidationFailed("credit amount must be positive, got %d", amount)
	}
	return adjust(agg, deltas, amount)
}

// Debit subtracts amount from both ledgers. It fails with InsufficientFunds
// and mutates nothing when the resulting quantity would go negative; balances
// are never clamped silently.
func Debit(agg *types.Aggregate, deltas *delta.Set, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, apierr.ValidationFailed("debit amount must be positive, got %d", amount)
	}
	if balance := Balance(agg); balance < amount {
		return 0, apierr.InsufficientFunds("balance %d is insufficient for debit of %d", balance, amount)
	}
	return adjust(agg, deltas, -amount)
}

func adjust(agg *types.Aggregate, deltas *delta.Set, amount int64) (int64, error) {
	var balance int64
	for _, profileID := range ledgerProfiles {
		profile := agg.Profile(profileID)
		if profile == nil {
			// The mirror is optional on legacy accounts.
			continue
		}
		itemID, item := profile.FindByTemplate(types.CurrencyTemplate)
		if item == nil {
			itemID = types.CurrencyItemID(profileID)
			item = &types.Item{TemplateID: types.CurrencyTemplate, Quantity: 0}
			profile.PutItem(itemID, item)
			deltas.For(profileID).ItemAdded(itemID, item)
		}
		item.Quantity += amount
		deltas.For(profileID).ItemQuantityChanged(itemID, item.Quantity)
		if profileID == types.ProfileCurrency {
			balance = item.Quantity
		}
	}
	return balance, nil
}

// LootEntry summarizes one granted item inside a gift box.
type LootEntry struct {
	ItemType types.TemplateID `json:"itemType"`
	Quantity int64            `json:"quantity"`
}

// GiftBox describes a claimable credit presented to the client as an item
// rather than a silent balance change.
type GiftBox struct {
	Source  string          `json:"source"`
	From    types.AccountID `json:"fromAccountId,omitempty"`
	Message string          `json:"userMessage,omitempty"`
	Loot    []LootEntry     `json:"lootList,omitempty"`
}

// GiftBoxTemplate is the template id of the synthetic gift-box item.
const GiftBoxTemplate types.TemplateID = "giftbox:default"

// PackageGiftBox synthesizes the claimable gift-box item on the primary
// currency profile and records the itemAdded change. The returned id lets the
// client address the box in a later claim operation.
func PackageGiftBox(agg *types.Aggregate, deltas *delta.Set, gift GiftBox, now time.Time) (string, error) {
	profile := agg.Profile(types.ProfileCurrency)
	if profile == nil {
		return "", apierr.NotFound("profile %s does not exist", types.ProfileCurrency)
	}

	loot := make([]any, 0, len(gift.Loot))
	for _, entry := range gift.Loot {
		loot = append(loot, map[string]any{"itemType": string(entry.ItemType), "quantity": entry.Quantity})
	}

	itemID := "giftbox:" + uuid.NewString()
	item := &types.Item{
		TemplateID: GiftBoxTemplate,
		Quantity:   1,
		Attributes: map[string]any{
			"source":        gift.Source,
			"fromAccountId": string(gift.From),
			"userMessage":   gift.Message,
			"lootList":      loot,
			"giftedOn":      now.UTC().Format(time.RFC3339),
		},
	}
	profile.PutItem(itemID, item)
	deltas.For(types.ProfileCurrency).ItemAdded(itemID, item)
	return itemID, nil
}
