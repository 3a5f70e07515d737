package operation

import (
	"context"
	"errors"
	"testing"

	"github.com/example/profile-sync-engine/internal/apierr"
	"github.com/example/profile-sync-engine/internal/delta"
	"github.com/example/profile-sync-engine/internal/economy"
	"github.com/example/profile-sync-engine/internal/store"
	"github.com/example/profile-sync-engine/internal/types"
)

// fund credits the account's ledgers directly in the backing store, without
// bumping any revision.
func fund(t *testing.T, mem *store.Memory, accountID types.AccountID, amount int64) {
	t.Helper()
	agg, err := mem.Load(context.Background(), accountID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := economy.Credit(agg, delta.NewSet(types.ProfileCurrency), amount); err != nil {
		t.Fatal(err)
	}
	if err := mem.Save(context.Background(), agg); err != nil {
		t.Fatal(err)
	}
}

func TestMarkItemSeen(t *testing.T) {
	svc, mem, _ := newTestService(t, "acct-1")
	fund(t, mem, "acct-1", 500)

	mustExecute(t, svc, Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileCurrency,
		Operation:      OpPurchaseOffer,
		ClientRevision: 0,
		Body:           body(t, map[string]any{"offerId": "offer:starter_pack"}),
		Version:        modern,
	})

	resp := mustExecute(t, svc, Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileInventory,
		Operation:      OpSetItemSeen,
		ClientRevision: 1,
		Body:           body(t, map[string]any{"itemIds": []string{"inventory:cosmetic:outfit_recruit"}}),
		Version:        modern,
	})

	if len(resp.ProfileChanges) != 1 || resp.ProfileChanges[0].ChangeType != delta.ItemAttrChanged {
		t.Fatalf("expected a single itemAttrChanged, got %v", resp.ProfileChanges)
	}

	stored, _ := mem.Load(context.Background(), "acct-1")
	item := stored.Profile(types.ProfileInventory).Item("inventory:cosmetic:outfit_recruit")
	if item == nil || item.Attributes["seen"] != true {
		t.Fatalf("item must be marked seen, got %+v", item)
	}
}

func TestMarkItemSeenUnknownItem(t *testing.T) {
	svc, _, _ := newTestService(t, "acct-1")

	_, err := svc.Execute(context.Background(), Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileInventory,
		Operation:      OpSetItemSeen,
		ClientRevision: 0,
		Body:           body(t, map[string]any{"itemIds": []string{"no-such-item"}}),
		Version:        modern,
	})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Fatalf("unknown item must be 404, got %v", err)
	}
}

func TestSetItemFavorite(t *testing.T) {
	svc, mem, _ := newTestService(t, "acct-1")
	fund(t, mem, "acct-1", 500)

	mustExecute(t, svc, Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileCurrency,
		Operation:      OpPurchaseOffer,
		ClientRevision: 0,
		Body:           body(t, map[string]any{"offerId": "offer:starter_pack"}),
		Version:        modern,
	})

	mustExecute(t, svc, Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileInventory,
		Operation:      OpSetItemFavorite,
		ClientRevision: 1,
		Body:           body(t, map[string]any{"itemId": "inventory:cosmetic:pickaxe_basic", "favorite": true}),
		Version:        modern,
	})

	stored, _ := mem.Load(context.Background(), "acct-1")
	item := stored.Profile(types.ProfileInventory).Item("inventory:cosmetic:pickaxe_basic")
	if item == nil || item.Attributes["favorite"] != true {
		t.Fatalf("item must be favorited, got %+v", item)
	}
}

func TestUnlockPremiumTrack(t *testing.T) {
	svc, mem, _ := newTestService(t, "acct-1")
	fund(t, mem, "acct-1", 1_000)

	// Earn two levels first so the unlock grants tiers 1 and 2 retroactively.
	mustExecute(t, svc, Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileProgression,
		Operation:      OpGrantXP,
		ClientRevision: 0,
		Body:           body(t, map[string]any{"xpDelta": 160_000}),
		Version:        modern,
	})

	stored, _ := mem.Load(context.Background(), "acct-1")
	currencyRvn := stored.Profile(types.ProfileCurrency).CommandRevision

	resp := mustExecute(t, svc, Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileCurrency,
		Operation:      OpUnlockPremiumTrack,
		ClientRevision: currencyRvn,
		Version:        modern,
	})

	if len(resp.Notifications) != 1 || resp.Notifications[0].Type != "premiumTrackUnlocked" {
		t.Fatalf("unlock must be notified, got %+v", resp.Notifications)
	}

	stored, _ = mem.Load(context.Background(), "acct-1")
	if !stored.Profile(types.ProfileProgression).Stats.PremiumTrack {
		t.Fatal("premium track flag must be set")
	}
	// 1000 + tier-1 free 100 - 950 premium price + tier-2 premium 150.
	if got := economy.Balance(stored); got != 300 {
		t.Fatalf("balance = %d, want 300", got)
	}
	if _, item := stored.Profile(types.ProfileInventory).FindByTemplate("cosmetic:outfit_tier1"); item == nil {
		t.Fatal("tier-1 premium cosmetic must be granted retroactively")
	}

	_, err := svc.Execute(context.Background(), Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileCurrency,
		Operation:      OpUnlockPremiumTrack,
		ClientRevision: stored.Profile(types.ProfileCurrency).CommandRevision,
		Version:        modern,
	})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Status != 409 {
		t.Fatalf("second unlock must be 409, got %v", err)
	}
}

func TestUnlockPremiumTrackWithoutProgressionProfile(t *testing.T) {
	svc, mem, _ := newTestService(t, "acct-1")
	fund(t, mem, "acct-1", 1_000)

	agg, err := mem.Load(context.Background(), "acct-1")
	if err != nil {
		t.Fatal(err)
	}
	delete(agg.Profiles, types.ProfileProgression)
	if err := mem.Save(context.Background(), agg); err != nil {
		t.Fatal(err)
	}

	_, err = svc.Execute(context.Background(), Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileCurrency,
		Operation:      OpUnlockPremiumTrack,
		ClientRevision: 0,
		Version:        modern,
	})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Fatalf("unlock without a progression profile must be 404, got %v", err)
	}
}

func TestRedeemCodeOncePerAccount(t *testing.T) {
	svc, mem, _ := newTestService(t, "acct-1")

	resp := mustExecute(t, svc, Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileCurrency,
		Operation:      OpRedeemCode,
		ClientRevision: 0,
		Body:           body(t, map[string]any{"code": "WELCOME1000"}),
		Version:        modern,
	})
	if len(resp.ProfileChanges) == 0 {
		t.Fatal("redeem must report changes")
	}

	stored, _ := mem.Load(context.Background(), "acct-1")
	if got := economy.Balance(stored); got != 1_000 {
		t.Fatalf("balance = %d, want 1000", got)
	}
	if _, box := stored.Profile(types.ProfileCurrency).FindByTemplate(economy.GiftBoxTemplate); box == nil {
		t.Fatal("redemption must package a gift box")
	} else if box.Attributes["source"] != "code_redemption" {
		t.Fatalf("gift box source = %v", box.Attributes["source"])
	}

	_, err := svc.Execute(context.Background(), Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileCurrency,
		Operation:      OpRedeemCode,
		ClientRevision: stored.Profile(types.ProfileCurrency).CommandRevision,
		Body:           body(t, map[string]any{"code": "WELCOME1000"}),
		Version:        modern,
	})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Status != 409 {
		t.Fatalf("code reuse must be 409, got %v", err)
	}

	_, err = svc.Execute(context.Background(), Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileCurrency,
		Operation:      OpRedeemCode,
		ClientRevision: stored.Profile(types.ProfileCurrency).CommandRevision,
		Body:           body(t, map[string]any{"code": "NOT-A-CODE"}),
		Version:        modern,
	})
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Fatalf("unknown code must be 404, got %v", err)
	}
}

func TestClaimGiftBox(t *testing.T) {
	svc, mem, _ := newTestService(t, "acct-1")

	mustExecute(t, svc, Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileCurrency,
		Operation:      OpRedeemCode,
		ClientRevision: 0,
		Body:           body(t, map[string]any{"code": "COMEBACK250"}),
		Version:        modern,
	})

	stored, _ := mem.Load(context.Background(), "acct-1")
	boxID, _ := stored.Profile(types.ProfileCurrency).FindByTemplate(economy.GiftBoxTemplate)
	if boxID == "" {
		t.Fatal("expected a gift box to claim")
	}

	resp := mustExecute(t, svc, Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileCurrency,
		Operation:      OpClaimGiftBox,
		ClientRevision: stored.Profile(types.ProfileCurrency).CommandRevision,
		Body:           body(t, map[string]any{"giftBoxItemId": boxID}),
		Version:        modern,
	})
	if len(resp.ProfileChanges) != 1 || resp.ProfileChanges[0].ChangeType != delta.ItemRemoved {
		t.Fatalf("claim must report itemRemoved, got %v", resp.ProfileChanges)
	}

	stored, _ = mem.Load(context.Background(), "acct-1")
	if stored.Profile(types.ProfileCurrency).Item(boxID) != nil {
		t.Fatal("claimed gift box must be gone")
	}

	// Claiming the ledger item is not a claim; only gift boxes are removable.
	_, err := svc.Execute(context.Background(), Request{
		AccountID:      "acct-1",
		ProfileID:      types.ProfileCurrency,
		Operation:      OpClaimGiftBox,
		ClientRevision: stored.Profile(types.ProfileCurrency).CommandRevision,
		Body:           body(t, map[string]any{"giftBoxItemId": types.CurrencyItemID(types.ProfileCurrency)}),
		Version:        modern,
	})
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Status != 404 {
		t.Fatalf("claiming a non gift box must be 404, got %v", err)
	}
}
