// Package delta accumulates the typed change records produced while an
// operation mutates profile sub-documents. Records are per-request and
// per-profile, strictly ordered, and consumed exactly once by the response
// serializer.
package delta

import (
	"github.com/example/profile-sync-engine/internal/types"
)

// ChangeType discriminates the change record variants.
type ChangeType string

const (
	ItemAdded           ChangeType = "itemAdded"
	ItemRemoved         ChangeType = "itemRemoved"
	ItemQuantityChanged ChangeType = "itemQuantityChanged"
	ItemAttrChanged     ChangeType = "itemAttrChanged"
	StatModified        ChangeType = "statModified"
	FullProfileUpdate   ChangeType = "fullProfileUpdate"
)

// ChangeRecord is one minimal mutation description. Exactly the fields
// relevant to its ChangeType are populated.
type ChangeRecord struct {
	ChangeType     ChangeType     `json:"changeType"`
	ItemID         string         `json:"itemId,omitempty"`
	Item           *types.Item    `json:"item,omitempty"`
	Quantity       *int64         `json:"quantity,omitempty"`
	AttributeName  string         `json:"attributeName,omitempty"`
	AttributeValue any            `json:"attributeValue,omitempty"`
	Name           string         `json:"name,omitempty"`
	Value          any            `json:"value,omitempty"`
	Profile        *types.Profile `json:"profile,omitempty"`
}

// Builder collects the ordered change records for one profile. Appends during
// operation execution are never deduplicated: an attribute changed twice
// produces two records, which clients apply in sequence.
type Builder struct {
	profileID types.ProfileID
	records   []ChangeRecord
	mutated   bool
	full      bool
}

// NewBuilder creates an empty builder for the named profile.
func NewBuilder(profileID types.ProfileID) *Builder {
	return &Builder{profileID: profileID}
}

// ProfileID names the profile these records belong to.
func (b *Builder) ProfileID() types.ProfileID {
	return b.profileID
}

// ItemAdded records a newly created item instance.
func (b *Builder) ItemAdded(itemID string, item *types.Item) {
	b.append(ChangeRecord{ChangeType: ItemAdded, ItemID: itemID, Item: item.Clone()})
}

// ItemRemoved records the removal of an item instance.
func (b *Builder) ItemRemoved(itemID string) {
	b.append(ChangeRecord{ChangeType: ItemRemoved, ItemID: itemID})
}

// ItemQuantityChanged records a new quantity for an existing item.
func (b *Builder) ItemQuantityChanged(itemID string, quantity int64) {
	q := quantity
	b.append(ChangeRecord{ChangeType: ItemQuantityChanged, ItemID: itemID, Quantity: &q})
}

// ItemAttrChanged records one attribute change on an existing item.
func (b *Builder) ItemAttrChanged(itemID, name string, value any) {
	b.append(ChangeRecord{ChangeType: ItemAttrChanged, ItemID: itemID, AttributeName: name, AttributeValue: value})
}

// StatModified records a change to a named stat attribute.
func (b *Builder) StatModified(name string, value any) {
	b.append(ChangeRecord{ChangeType: StatModified, Name: name, Value: value})
}

// ReplaceWithFullProfile discards all accumulated records and replaces them
// with a single full-document snapshot. Once set, the builder rejects further
// incremental records: a full update always supersedes deltas.
func (b *Builder) ReplaceWithFullProfile(profile *types.Profile) {
	b.records = []ChangeRecord{{ChangeType: FullProfileUpdate, Profile: profile.Clone()}}
	b.full = true
}

func (b *Builder) append(record ChangeRecord) {
	if b.full {
		return
	}
	b.mutated = true
	b.records = append(b.records, record)
}

// Mutated reports whether the operation appended at least one incremental
// record, even if a later full-update replacement superseded the record list.
// A full-update replacement alone does not count as a mutation.
func (b *Builder) Mutated() bool {
	return b.mutated
}

// Records returns the accumulated records in append order.
func (b *Builder) Records() []ChangeRecord {
	return b.records
}
