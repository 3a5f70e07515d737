package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// AccountID identifies a player account.
type AccountID string

// ProfileID names one sub-document inside an account aggregate.
type ProfileID string

// TemplateID references an entry in the item catalog.
type TemplateID string

// Standard profiles created for every account at registration.
const (
	ProfileCurrency    ProfileID = "currency_core"
	ProfileMirror      ProfileID = "compat_mirror"
	ProfileProgression ProfileID = "progression"
	ProfileInventory   ProfileID = "inventory"
)

// RevisionPair carries the two monotonic counters used to detect stale client
// copies. Revision is the historical counter; CommandRevision was introduced
// later and is authoritative for newer client builds. Both are bumped together
// on every committed mutation.
type RevisionPair struct {
	Revision        int64 `json:"revision"`
	CommandRevision int64 `json:"commandRevision"`
}

// Bump increments both counters by one.
func (r *RevisionPair) Bump() {
	r.Revision++
	r.CommandRevision++
}

// Item is one item instance owned inside a profile. A quantity of zero is
// logically absent but the record may persist, e.g. for currency ledgers.
type Item struct {
	TemplateID TemplateID     `json:"templateId"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Quantity   int64          `json:"quantity"`
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	clone := &Item{TemplateID: i.TemplateID, Quantity: i.Quantity}
	if i.Attributes != nil {
		clone.Attributes = make(map[string]any, len(i.Attributes))
		for k, v := range i.Attributes {
			clone.Attributes[k] = v
		}
	}
	return clone
}

// Stats holds the durable per-profile state mutation handlers read and write.
// Progression and economy fields the engine reasons about are explicit; Extra
// keeps unknown attributes round-tripping for forward compatibility.
type Stats struct {
	XP            int64
	Level         int
	PremiumTrack  bool
	SeasonXPBoost int64
	FriendXPBoost int64
	Extra         map[string]any
}

// Attribute names used on the wire and in statModified change records.
const (
	StatXP            = "xp"
	StatLevel         = "level"
	StatPremiumTrack  = "premium_track"
	StatSeasonXPBoost = "season_xp_boost"
	StatFriendXPBoost = "friend_xp_boost"
)

// MarshalJSON flattens the known fields and the extension map into a single
// attributes object.
func (s Stats) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+5)
	for k, v := range s.Extra {
		out[k] = v
	}
	out[StatXP] = s.XP
	out[StatLevel] = s.Level
	out[StatPremiumTrack] = s.PremiumTrack
	out[StatSeasonXPBoost] = s.SeasonXPBoost
	out[StatFriendXPBoost] = s.FriendXPBoost
	return json.Marshal(out)
}

// UnmarshalJSON lifts the known fields out of the attributes object and keeps
// everything else in Extra.
func (s *Stats) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode stats attributes: %w", err)
	}

	take := func(name string, dst any) error {
		v, ok := raw[name]
		if !ok {
			return nil
		}
		delete(raw, name)
		return json.Unmarshal(v, dst)
	}

	if err := take(StatXP, &s.XP); err != nil {
		return fmt.Errorf("decode %s: %w", StatXP, err)
	}
	if err := take(StatLevel, &s.Level); err != nil {
		return fmt.Errorf("decode %s: %w", StatLevel, err)
	}
	if err := take(StatPremiumTrack, &s.PremiumTrack); err != nil {
		return fmt.Errorf("decode %s: %w", StatPremiumTrack, err)
	}
	if err := take(StatSeasonXPBoost, &s.SeasonXPBoost); err != nil {
		return fmt.Errorf("decode %s: %w", StatSeasonXPBoost, err)
	}
	if err := take(StatFriendXPBoost, &s.FriendXPBoost); err != nil {
		return fmt.Errorf("decode %s: %w", StatFriendXPBoost, err)
	}

	if len(raw) > 0 {
		s.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return fmt.Errorf("decode extra attribute %s: %w", k, err)
			}
			s.Extra[k] = val
		}
	}
	return nil
}

// Clone returns a deep copy of the stats block.
func (s Stats) Clone() Stats {
	clone := s
	if s.Extra != nil {
		clone.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			clone.Extra[k] = v
		}
	}
	return clone
}

// ExtraValue reads an extension attribute.
func (s Stats) ExtraValue(name string) (any, bool) {
	v, ok := s.Extra[name]
	return v, ok
}

// SetExtra writes an extension attribute, allocating the map on first use.
func (s *Stats) SetExtra(name string, value any) {
	if s.Extra == nil {
		s.Extra = make(map[string]any)
	}
	s.Extra[name] = value
}

// Profile is one independently revisioned sub-document of an account
// aggregate.
type Profile struct {
	ProfileID ProfileID
	RevisionPair
	Items   map[string]*Item
	Stats   Stats
	Updated time.Time
}

// MarshalJSON nests the stats block under "stats.attributes" the way clients
// expect it.
func (p *Profile) MarshalJSON() ([]byte, error) {
	type statsWrapper struct {
		Attributes Stats `json:"attributes"`
	}
	return json.Marshal(struct {
		ProfileID       ProfileID        `json:"profileId"`
		Revision        int64            `json:"revision"`
		CommandRevision int64            `json:"commandRevision"`
		Items           map[string]*Item `json:"items"`
		Stats           statsWrapper     `json:"stats"`
		Updated         time.Time        `json:"updated"`
	}{
		ProfileID:       p.ProfileID,
		Revision:        p.Revision,
		CommandRevision: p.CommandRevision,
		Items:           p.Items,
		Stats:           statsWrapper{Attributes: p.Stats},
		Updated:         p.Updated,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var wire struct {
		ProfileID       ProfileID        `json:"profileId"`
		Revision        int64            `json:"revision"`
		CommandRevision int64            `json:"commandRevision"`
		Items           map[string]*Item `json:"items"`
		Stats           struct {
			Attributes Stats `json:"attributes"`
		} `json:"stats"`
		Updated time.Time `json:"updated"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode profile: %w", err)
	}
	p.ProfileID = wire.ProfileID
	p.Revision = wire.Revision
	p.CommandRevision = wire.CommandRevision
	p.Items = wire.Items
	p.Stats = wire.Stats.Attributes
	p.Updated = wire.Updated
	return nil
}

// Item returns the item instance for the id, or nil when absent.
func (p *Profile) Item(itemID string) *Item {
	return p.Items[itemID]
}

// PutItem stores an item instance, allocating the map on first use.
func (p *Profile) PutItem(itemID string, item *Item) {
	if p.Items == nil {
		p.Items = make(map[string]*Item)
	}
	p.Items[itemID] = item
}

// RemoveItem deletes an item instance.
func (p *Profile) RemoveItem(itemID string) {
	delete(p.Items, itemID)
}

// FindByTemplate returns the first item instance matching the template, along
// with its id. Currency ledgers hold exactly one instance per template.
func (p *Profile) FindByTemplate(templateID TemplateID) (string, *Item) {
	for id, item := range p.Items {
		if item.TemplateID == templateID {
			return id, item
		}
	}
	return "", nil
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := &Profile{
		ProfileID:    p.ProfileID,
		RevisionPair: p.RevisionPair,
		Stats:        p.Stats.Clone(),
		Updated:      p.Updated,
	}
	if p.Items != nil {
		clone.Items = make(map[string]*Item, len(p.Items))
		for id, item := range p.Items {
			clone.Items[id] = item.Clone()
		}
	}
	return clone
}

// Aggregate is the unit of atomic persistence: every profile owned by one
// account. Partial writes of an aggregate are a correctness violation.
type Aggregate struct {
	AccountID AccountID              `json:"accountId"`
	Profiles  map[ProfileID]*Profile `json:"profiles"`
}

// Profile returns the named sub-document, or nil when the account has none.
func (a *Aggregate) Profile(id ProfileID) *Profile {
	return a.Profiles[id]
}

// Clone returns a deep copy of the whole aggregate.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	clone := &Aggregate{AccountID: a.AccountID, Profiles: make(map[ProfileID]*Profile, len(a.Profiles))}
	for id, profile := range a.Profiles {
		clone.Profiles[id] = profile.Clone()
	}
	return clone
}

// CurrencyTemplate is the template id of the core soft-currency ledger item.
const CurrencyTemplate TemplateID = "currency:gold"

// NewAggregate creates the registration-time aggregate from the standard
// template: empty inventory, level-1 progression, zeroed currency ledgers on
// both the primary currency profile and its compatibility mirror.
func NewAggregate(accountID AccountID, now time.Time) *Aggregate {
	agg := &Aggregate{
		AccountID: accountID,
		Profiles:  make(map[ProfileID]*Profile, 4),
	}
	for _, id := range []ProfileID{ProfileCurrency, ProfileMirror, ProfileProgression, ProfileInventory} {
		agg.Profiles[id] = &Profile{ProfileID: id, Items: make(map[string]*Item), Updated: now}
	}
	for _, id := range []ProfileID{ProfileCurrency, ProfileMirror} {
		agg.Profiles[id].PutItem(CurrencyItemID(id), &Item{TemplateID: CurrencyTemplate, Quantity: 0})
	}
	agg.Profiles[ProfileProgression].Stats = Stats{XP: 0, Level: 1}
	return agg
}

// CurrencyItemID returns the deterministic ledger item id used for the core
// currency inside the given profile.
func CurrencyItemID(profile ProfileID) string {
	return string(profile) + ":" + string(CurrencyTemplate)
}
