package orbit

import (
	"encoding/json"
	"fmt"
)

// Identity is the (type, id) pair that uniquely names a Record.
type Identity struct {
	Type string
	ID   string
}

// String renders the identity as "type:id", used in log messages and map keys.
func (i Identity) String() string {
	return fmt.Sprintf("%s:%s", i.Type, i.ID)
}

// Equal reports whether two identities name the same record.
func (i Identity) Equal(other Identity) bool {
	return i.Type == other.Type && i.ID == other.ID
}

// IdentitySet is an order-preserving set of identities, used for to-many
// relationship data and for fork/merge diffing.
type IdentitySet struct {
	order []Identity
	index map[Identity]int
}

// NewIdentitySet builds a set from a slice, preserving first-seen order and
// dropping duplicates.
func NewIdentitySet(ids []Identity) *IdentitySet {
	s := &IdentitySet{index: make(map[Identity]int, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id if absent. Returns true if it was newly added.
func (s *IdentitySet) Add(id Identity) bool {
	if s.index == nil {
		s.index = make(map[Identity]int)
	}
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = len(s.order)
	s.order = append(s.order, id)
	return true
}

// Remove deletes id if present. Returns true if it was present.
func (s *IdentitySet) Remove(id Identity) bool {
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.order = append(s.order[:pos], s.order[pos+1:]...)
	delete(s.index, id)
	for i := pos; i < len(s.order); i++ {
		s.index[s.order[i]] = i
	}
	return true
}

// Contains reports whether id is a member.
func (s *IdentitySet) Contains(id Identity) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[id]
	return ok
}

// Slice returns the members in insertion order. The caller must not mutate it.
func (s *IdentitySet) Slice() []Identity {
	if s == nil {
		return nil
	}
	return s.order
}

// Len returns the number of members.
func (s *IdentitySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Clone returns a deep copy.
func (s *IdentitySet) Clone() *IdentitySet {
	if s == nil {
		return NewIdentitySet(nil)
	}
	return NewIdentitySet(append([]Identity(nil), s.order...))
}

// MarshalJSON encodes the set as a plain array of identities, in insertion
// order. IdentitySet's fields are unexported (order/index are an
// implementation detail, not wire shape), so this is required for a
// to-many relationship to survive a JSON round trip at all.
func (s *IdentitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON rebuilds the set from an array of identities written by
// MarshalJSON.
func (s *IdentitySet) UnmarshalJSON(data []byte) error {
	var ids []Identity
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = *NewIdentitySet(ids)
	return nil
}

// Diff returns the identities present in next but not in s (added) and the
// identities present in s but not in next (removed). Used by
// replaceRelatedRecords to compute the inverse-edge delta.
func (s *IdentitySet) Diff(next *IdentitySet) (added, removed []Identity) {
	for _, id := range next.Slice() {
		if !s.Contains(id) {
			added = append(added, id)
		}
	}
	for _, id := range s.Slice() {
		if !next.Contains(id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}
