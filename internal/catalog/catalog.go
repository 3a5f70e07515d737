// Package catalog exposes the narrow offer/template interface the mutation
// core consumes. Loading real catalog content is a collaborator concern; the
// static resolver here serves tests and local development.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/example/profile-sync-engine/internal/types"
)

// ErrOfferNotFound is returned when an offer id resolves to nothing.
var ErrOfferNotFound = errors.New("offer not found")

// Category classifies a template for reward dispatch.
type Category string

const (
	CategoryCurrency Category = "currency"
	CategoryBoost    Category = "boost"
	CategoryCosmetic Category = "cosmetic"
)

// Boost template ids recognized by the progression engine.
const (
	TemplateSeasonBoost types.TemplateID = "boost:season_xp"
	TemplateFriendBoost types.TemplateID = "boost:friend_xp"
)

// Categorize dispatches a template id by its prefix. Anything that is neither
// currency nor boost is treated as an inventory cosmetic.
func Categorize(templateID types.TemplateID) Category {
	switch {
	case strings.HasPrefix(string(templateID), "currency:"):
		return CategoryCurrency
	case strings.HasPrefix(string(templateID), "boost:"):
		return CategoryBoost
	default:
		return CategoryCosmetic
	}
}

// ItemGrant is one (template, quantity) pair inside an offer or tier reward.
type ItemGrant struct {
	TemplateID types.TemplateID `json:"templateId"`
	Quantity   int64            `json:"quantity"`
}

// OfferDefinition describes a purchasable offer.
type OfferDefinition struct {
	OfferID string      `json:"offerId"`
	Title   string      `json:"title"`
	Price   int64       `json:"price"`
	Grants  []ItemGrant `json:"grants"`
}

// Resolver is the collaborator interface the operation core consumes.
type Resolver interface {
	ResolveOffer(ctx context.Context, offerID string) (OfferDefinition, error)
}

// StaticResolver serves offers from an in-memory table.
type StaticResolver struct {
	offers map[string]OfferDefinition
}

// NewStaticResolver builds a resolver over a fixed offer list.
func NewStaticResolver(offers []OfferDefinition) *StaticResolver {
	table := make(map[string]OfferDefinition, len(offers))
	for _, offer := range offers {
		table[offer.OfferID] = offer
	}
	return &StaticResolver{offers: table}
}

// ResolveOffer implements Resolver.
func (r *StaticResolver) ResolveOffer(_ context.Context, offerID string) (OfferDefinition, error) {
	offer, ok := r.offers[offerID]
	if !ok {
		return OfferDefinition{}, ErrOfferNotFound
	}
	return offer, nil
}

// PremiumTrackOfferID is the well-known offer that unlocks the premium reward
// track for the running season.
const PremiumTrackOfferID = "offer:premium_track"

// DefaultOffers is the development-time offer table wired in cmd/server.
func DefaultOffers() []OfferDefinition {
	return []OfferDefinition{
		{
			OfferID: PremiumTrackOfferID,
			Title:   "Premium Reward Track",
			Price:   950,
			Grants:  nil,
		},
		{
			OfferID: "offer:starter_pack",
			Title:   "Starter Pack",
			Price:   500,
			Grants: []ItemGrant{
				{TemplateID: "cosmetic:outfit_recruit", Quantity: 1},
				{TemplateID: "cosmetic:pickaxe_basic", Quantity: 1},
			},
		},
		{
			OfferID: "offer:glider_aurora",
			Title:   "Aurora Glider",
			Price:   800,
			Grants: []ItemGrant{
				{TemplateID: "cosmetic:glider_aurora", Quantity: 1},
			},
		},
	}
}
