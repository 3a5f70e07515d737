package delta

import (
	"github.com/example/profile-sync-engine/internal/types"
)

// Set coordinates the change records of one operation across sub-documents.
// The request names a single primary profile; every other profile the
// operation touches gets its own builder reported through the multiUpdate
// list, each reconciled independently of the primary.
type Set struct {
	primary  types.ProfileID
	builders map[types.ProfileID]*Builder
	order    []types.ProfileID
}

// NewSet creates a Set for an operation whose request names the given primary
// profile.
func NewSet(primary types.ProfileID) *Set {
	s := &Set{
		primary:  primary,
		builders: make(map[types.ProfileID]*Builder),
	}
	s.builders[primary] = NewBuilder(primary)
	return s
}

// Primary returns the builder for the profile named in the request.
func (s *Set) Primary() *Builder {
	return s.builders[s.primary]
}

// PrimaryID returns the primary profile name.
func (s *Set) PrimaryID() types.ProfileID {
	return s.primary
}

// For returns the builder for a profile, opening a secondary change sequence
// on first touch. Secondary order is preserved for the multiUpdate list.
func (s *Set) For(profileID types.ProfileID) *Builder {
	if b, ok := s.builders[profileID]; ok {
		return b
	}
	b := NewBuilder(profileID)
	s.builders[profileID] = b
	s.order = append(s.order, profileID)
	return b
}

// Secondaries returns the non-primary profiles in first-touch order.
func (s *Set) Secondaries() []types.ProfileID {
	return s.order
}

// MutatedProfiles returns every profile, primary included, that accumulated at
// least one incremental record.
func (s *Set) MutatedProfiles() []types.ProfileID {
	var out []types.ProfileID
	if s.Primary().Mutated() {
		out = append(out, s.primary)
	}
	for _, id := range s.order {
		if s.builders[id].Mutated() {
			out = append(out, id)
		}
	}
	return out
}
