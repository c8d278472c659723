package orbit

// RelationshipKind distinguishes a to-one edge from a to-many edge.
type RelationshipKind int

const (
	ToOne RelationshipKind = iota
	ToMany
)

// RelationshipData describes one named relationship on a Record. Per
// spec.md §3, absence of data (Present == false) means "unknown", which is
// distinct from a to-one relationship whose data is explicitly nil
// ("known empty") or a to-many relationship whose set is empty.
type RelationshipData struct {
	Kind    RelationshipKind
	Present bool
	ToOneID *Identity    // valid when Kind == ToOne && Present
	ToMany  *IdentitySet // valid when Kind == ToMany && Present
}

// UnknownRelationship returns relationship data with no data key present.
func UnknownRelationship(kind RelationshipKind) *RelationshipData {
	return &RelationshipData{Kind: kind}
}

// ToOneRelationship returns known to-one relationship data. id may be nil
// ("known empty").
func ToOneRelationship(id *Identity) *RelationshipData {
	return &RelationshipData{Kind: ToOne, Present: true, ToOneID: id}
}

// ToManyRelationship returns known to-many relationship data.
func ToManyRelationship(ids []Identity) *RelationshipData {
	return &RelationshipData{Kind: ToMany, Present: true, ToMany: NewIdentitySet(ids)}
}

// Clone returns a deep copy of the relationship data.
func (r *RelationshipData) Clone() *RelationshipData {
	if r == nil {
		return nil
	}
	clone := &RelationshipData{Kind: r.Kind, Present: r.Present}
	if r.ToOneID != nil {
		id := *r.ToOneID
		clone.ToOneID = &id
	}
	if r.ToMany != nil {
		clone.ToMany = r.ToMany.Clone()
	}
	return clone
}

// Record is the value-object unit of the cache. Identity is (Type, ID).
// Records are cloned on every modification; callers never observe a record
// the cache still owns.
type Record struct {
	Type          string
	ID            string
	Keys          map[string]string
	Attributes    map[string]any
	Relationships map[string]*RelationshipData
}

// Identity returns the record's identity pair.
func (r *Record) Identity() Identity {
	return Identity{Type: r.Type, ID: r.ID}
}

// Clone returns a deep copy of the record, safe to hand to callers or store
// independently in a fork.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := &Record{Type: r.Type, ID: r.ID}
	if r.Keys != nil {
		clone.Keys = make(map[string]string, len(r.Keys))
		for k, v := range r.Keys {
			clone.Keys[k] = v
		}
	}
	if r.Attributes != nil {
		clone.Attributes = make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			clone.Attributes[k] = v
		}
	}
	if r.Relationships != nil {
		clone.Relationships = make(map[string]*RelationshipData, len(r.Relationships))
		for k, v := range r.Relationships {
			clone.Relationships[k] = v.Clone()
		}
	}
	return clone
}

// Shell returns the minimal record {Type, ID} used when an operation
// targets a record that does not exist yet (replaceKey, replaceAttribute,
// removeFromRelatedRecords per the resolved "missing base record" open
// question: the cache creates the shell uniformly rather than erroring).
func Shell(id Identity) *Record {
	return &Record{Type: id.Type, ID: id.ID}
}

// MergeRecord deep-merges src over dst: a key absent from src leaves dst
// unchanged; a key present in src with a nil value sets dst's value to
// nil; any other value overwrites. dst is mutated in place and returned.
func MergeRecord(dst, src *Record) *Record {
	if dst == nil {
		dst = &Record{Type: src.Type, ID: src.ID}
	}
	if src.Keys != nil {
		if dst.Keys == nil {
			dst.Keys = make(map[string]string, len(src.Keys))
		}
		for k, v := range src.Keys {
			dst.Keys[k] = v
		}
	}
	if src.Attributes != nil {
		if dst.Attributes == nil {
			dst.Attributes = make(map[string]any, len(src.Attributes))
		}
		for k, v := range src.Attributes {
			dst.Attributes[k] = v
		}
	}
	if src.Relationships != nil {
		if dst.Relationships == nil {
			dst.Relationships = make(map[string]*RelationshipData, len(src.Relationships))
		}
		for k, v := range src.Relationships {
			dst.Relationships[k] = v.Clone()
		}
	}
	return dst
}
