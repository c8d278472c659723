// Package cache implements the operation-sourced in-memory record store:
// a map-of-map keyed by (type, id) plus an inverse-relationship index,
// applying the nine record operations and producing the inverse operation
// for each one so a source can roll a transform back.
package cache

import (
	"fmt"

	orbit "github.com/orbitkit/orbit-go"
)

// Cache is a typed record graph: records, a reverse key index for
// resolving remote identifiers, and an inverse-relationship index that lets
// a relationship edit on one record cascade bookkeeping to the records it
// points at. When a Schema declares a relationship's inverse, the cascade
// also writes the edit into the opposite record's own Relationships data.
//
// Iteration order over a type's records is insertion order; all methods are
// safe only for a single goroutine at a time — callers serialize access
// (the source's task queue does this in practice).
type Cache struct {
	order   map[string][]string            // type -> ids in insertion order
	records map[string]map[string]*orbit.Record // type -> id -> record

	// inverseEdges[target][relationship] is the set of source identities
	// whose relationships[relationship] currently points at target.
	inverseEdges map[orbit.Identity]map[string]*orbit.IdentitySet

	// keyMap[type][keyName][keyValue] = id
	keyMap map[string]map[string]map[string]string

	// base is the immutable parent snapshot a forked cache falls through
	// to on a local miss. nil for a root cache.
	base *Cache
	// tombstoned marks identities a fork has locally removed, shadowing
	// whatever the base cache still holds for them.
	tombstoned map[orbit.Identity]bool

	// schema declares which relationships are inverses of one another, so
	// a relationship edit on one side can cascade into the opposite
	// side's own Relationships data. Nil means no declared inverses: the
	// private inverseEdges index still tracks remove-cascade cleanup, but
	// no record's Relationships data is ever written as a side effect of
	// editing another record's.
	schema Schema
}

// New returns an empty root cache with no declared relationship schema.
func New() *Cache {
	return NewWithSchema(nil)
}

// NewWithSchema returns an empty root cache that cascades relationship
// edits into their declared inverses per schema.
func NewWithSchema(schema Schema) *Cache {
	return &Cache{
		order:        make(map[string][]string),
		records:      make(map[string]map[string]*orbit.Record),
		inverseEdges: make(map[orbit.Identity]map[string]*orbit.IdentitySet),
		keyMap:       make(map[string]map[string]map[string]string),
		schema:       schema,
	}
}

// NewFork returns a cache whose reads fall through to base whenever the
// fork itself has no local record (and hasn't tombstoned it). base is
// treated as an immutable snapshot: the fork never mutates it. The fork
// inherits base's schema.
func NewFork(base *Cache) *Cache {
	c := NewWithSchema(base.schema)
	c.base = base
	c.tombstoned = make(map[orbit.Identity]bool)
	return c
}

// GetRecordSync returns a clone of the record at id, or (nil, false) if it
// is not present.
func (c *Cache) GetRecordSync(id orbit.Identity) (*orbit.Record, bool) {
	rec, ok := c.get(id)
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// RecordsSync returns every record of the given type, in insertion order.
// For a fork this is the base's records (minus anything the fork has
// tombstoned or overridden) followed by the fork's own additions.
func (c *Cache) RecordsSync(typ string) []*orbit.Record {
	seen := make(map[string]bool)
	var out []*orbit.Record
	if c.base != nil {
		for _, rec := range c.base.RecordsSync(typ) {
			id := rec.Identity()
			if c.tombstoned[id] {
				continue
			}
			if local, ok := c.records[typ][id.ID]; ok {
				out = append(out, local.Clone())
			} else {
				out = append(out, rec)
			}
			seen[id.ID] = true
		}
	}
	for _, id := range c.order[typ] {
		if seen[id] {
			continue
		}
		if rec, ok := c.records[typ][id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// SetRecordSync inserts or wholesale-replaces a record, bypassing the
// operation log. It returns the operation that would invert the change,
// for callers that want it in the log (most callers should prefer Patch
// with an explicit addRecord/updateRecord operation instead).
func (c *Cache) SetRecordSync(r *orbit.Record) orbit.Operation {
	inv, err := c.apply(orbit.AddRecordOp{Record: r})
	if err != nil {
		// apply never errors for addRecord.
		panic(err)
	}
	return inv
}

// ResolveKey looks up the local id registered under keys[keyName] == keyValue
// for the given type, used by remote sources to reconcile a server-assigned
// identifier with a client-generated one.
func (c *Cache) ResolveKey(typ, keyName, keyValue string) (string, bool) {
	if byValue, ok := c.keyMap[typ]; ok {
		if id, ok := byValue[keyName][keyValue]; ok {
			return id, true
		}
	}
	if c.base != nil {
		return c.base.ResolveKey(typ, keyName, keyValue)
	}
	return "", false
}

// Patch applies operations in order and returns their inverses in reverse
// application order, so replaying the returned slice undoes the patch.
// If an operation fails, already-applied operations are NOT rolled back;
// the caller owns deciding whether to discard the whole transform (the
// source layer's _update unwinds "any partial work in that operation only").
func (c *Cache) Patch(ops []orbit.Operation) ([]orbit.Operation, error) {
	inverses := make([]orbit.Operation, 0, len(ops))
	for _, op := range ops {
		inv, err := c.apply(op)
		if err != nil {
			return nil, err
		}
		inverses = append(inverses, inv)
	}
	// reverse so the sequence is directly replayable for rollback.
	for i, j := 0, len(inverses)-1; i < j; i, j = i+1, j-1 {
		inverses[i], inverses[j] = inverses[j], inverses[i]
	}
	return inverses, nil
}

func (c *Cache) get(id orbit.Identity) (*orbit.Record, bool) {
	if byID, ok := c.records[id.Type]; ok {
		if rec, ok := byID[id.ID]; ok {
			return rec, true
		}
	}
	if c.base != nil && !c.tombstoned[id] {
		return c.base.get(id)
	}
	return nil, false
}

func (c *Cache) put(rec *orbit.Record) {
	id := rec.Identity()
	byID, ok := c.records[id.Type]
	if !ok {
		byID = make(map[string]*orbit.Record)
		c.records[id.Type] = byID
	}
	if _, existed := byID[id.ID]; !existed {
		c.order[id.Type] = append(c.order[id.Type], id.ID)
	}
	byID[id.ID] = rec
	c.indexKeys(rec)
	if c.base != nil {
		delete(c.tombstoned, id)
	}
}

func (c *Cache) indexKeys(rec *orbit.Record) {
	if len(rec.Keys) == 0 {
		return
	}
	byName, ok := c.keyMap[rec.Type]
	if !ok {
		byName = make(map[string]map[string]string)
		c.keyMap[rec.Type] = byName
	}
	for k, v := range rec.Keys {
		byValue, ok := byName[k]
		if !ok {
			byValue = make(map[string]string)
			byName[k] = byValue
		}
		byValue[v] = rec.ID
	}
}

func (c *Cache) deleteRecord(id orbit.Identity) {
	if byID, ok := c.records[id.Type]; ok {
		delete(byID, id.ID)
	}
	ids := c.order[id.Type]
	for i, existing := range ids {
		if existing == id.ID {
			c.order[id.Type] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	delete(c.inverseEdges, id)
	if c.base != nil {
		c.tombstoned[id] = true
	}
}

// addInverseEdge records that source's relationship `rel` now points at
// target, and, if schema declares an inverse for (source.Type, rel),
// cascades the edit into target's own Relationships data.
func (c *Cache) addInverseEdge(target orbit.Identity, rel string, source orbit.Identity) {
	byRel, ok := c.inverseEdges[target]
	if !ok {
		byRel = make(map[string]*orbit.IdentitySet)
		c.inverseEdges[target] = byRel
	}
	set, ok := byRel[rel]
	if !ok {
		set = orbit.NewIdentitySet(nil)
		byRel[rel] = set
	}
	set.Add(source)
	c.cascadeSchemaEdge(target, rel, source, true)
}

func (c *Cache) removeInverseEdge(target orbit.Identity, rel string, source orbit.Identity) {
	byRel, ok := c.inverseEdges[target]
	if ok {
		if set, ok := byRel[rel]; ok {
			set.Remove(source)
		}
	}
	c.cascadeSchemaEdge(target, rel, source, false)
}

// cascadeSchemaEdge writes source into (or out of) target's Relationships
// data under whatever relationship schema declares as the inverse of
// (source.Type, rel). A no-op when no such inverse is declared.
func (c *Cache) cascadeSchemaEdge(target orbit.Identity, rel string, source orbit.Identity, add bool) {
	inv, ok := c.schema[SchemaKey{Type: source.Type, Relationship: rel}]
	if !ok {
		return
	}
	targetRec, existed := c.get(target)
	if !add && !existed {
		return
	}
	if existed {
		targetRec = targetRec.Clone()
	} else {
		targetRec = orbit.Shell(target)
	}
	data := c.relationshipOrNew(targetRec, inv.Relationship, inv.Kind)
	switch inv.Kind {
	case orbit.ToMany:
		if add {
			data.ToMany.Add(source)
		} else if data.ToMany != nil {
			data.ToMany.Remove(source)
		}
	case orbit.ToOne:
		if add {
			id := source
			data.ToOneID = &id
		} else if data.ToOneID != nil && data.ToOneID.Equal(source) {
			data.ToOneID = nil
		}
	}
	c.put(targetRec)
}

// cascadeEdgesFor registers every forward relationship edge currently on
// rec into the inverse index. Used after addRecord and after a wholesale
// relationship replacement.
func (c *Cache) cascadeEdgesFor(rec *orbit.Record) {
	for rel, data := range rec.Relationships {
		if data == nil || !data.Present {
			continue
		}
		switch data.Kind {
		case orbit.ToOne:
			if data.ToOneID != nil {
				c.addInverseEdge(*data.ToOneID, rel, rec.Identity())
			}
		case orbit.ToMany:
			for _, related := range data.ToMany.Slice() {
				c.addInverseEdge(related, rel, rec.Identity())
			}
		}
	}
}

func (c *Cache) uncascadeEdgesFor(rec *orbit.Record) {
	for rel, data := range rec.Relationships {
		if data == nil || !data.Present {
			continue
		}
		switch data.Kind {
		case orbit.ToOne:
			if data.ToOneID != nil {
				c.removeInverseEdge(*data.ToOneID, rel, rec.Identity())
			}
		case orbit.ToMany:
			for _, related := range data.ToMany.Slice() {
				c.removeInverseEdge(related, rel, rec.Identity())
			}
		}
	}
}

func (c *Cache) apply(op orbit.Operation) (orbit.Operation, error) {
	switch o := op.(type) {
	case orbit.AddRecordOp:
		return c.applyAddRecord(o)
	case orbit.UpdateRecordOp:
		return c.applyUpdateRecord(o)
	case orbit.RemoveRecordOp:
		return c.applyRemoveRecord(o)
	case orbit.ReplaceKeyOp:
		return c.applyReplaceKey(o)
	case orbit.ReplaceAttributeOp:
		return c.applyReplaceAttribute(o)
	case orbit.AddToRelatedRecordsOp:
		return c.applyAddToRelatedRecords(o)
	case orbit.RemoveFromRelatedRecordsOp:
		return c.applyRemoveFromRelatedRecords(o)
	case orbit.ReplaceRelatedRecordsOp:
		return c.applyReplaceRelatedRecords(o)
	case orbit.ReplaceRelatedRecordOp:
		return c.applyReplaceRelatedRecord(o)
	default:
		return nil, &orbit.AssertionError{Message: fmt.Sprintf("cache: unknown operation %T", op)}
	}
}

func (c *Cache) applyAddRecord(o orbit.AddRecordOp) (orbit.Operation, error) {
	clone := o.Record.Clone()
	c.put(clone)
	c.cascadeEdgesFor(clone)
	return orbit.RemoveRecordOp{Identity: clone.Identity()}, nil
}

func (c *Cache) applyUpdateRecord(o orbit.UpdateRecordOp) (orbit.Operation, error) {
	id := o.Record.Identity()
	existing, existed := c.get(id)
	var preImage *orbit.Record
	if existed {
		preImage = existing.Clone()
		c.uncascadeEdgesFor(existing)
	}

	var base *orbit.Record
	if existed {
		base = existing.Clone()
	}
	merged := orbit.MergeRecord(base, o.Record)
	c.put(merged)
	c.cascadeEdgesFor(merged)

	if !existed {
		return orbit.RemoveRecordOp{Identity: id}, nil
	}
	return orbit.UpdateRecordOp{Record: preImage}, nil
}

func (c *Cache) applyRemoveRecord(o orbit.RemoveRecordOp) (orbit.Operation, error) {
	existing, existed := c.get(o.Identity)
	if !existed {
		// Removing an absent record is a no-op whose inverse is itself a
		// no-op remove; callers should not expect to resurrect a record
		// from this inverse.
		return orbit.RemoveRecordOp{Identity: o.Identity}, nil
	}
	preImage := existing.Clone()
	c.uncascadeEdgesFor(existing)
	c.stripEdgesPointingAt(o.Identity)
	c.deleteRecord(o.Identity)
	return orbit.AddRecordOp{Record: preImage}, nil
}

// stripEdgesPointingAt removes target from every relationship that points
// at it, using the inverse index, and clears the index entries for target.
func (c *Cache) stripEdgesPointingAt(target orbit.Identity) {
	byRel, ok := c.inverseEdges[target]
	if !ok {
		return
	}
	for rel, sources := range byRel {
		for _, src := range sources.Slice() {
			rec, ok := c.get(src)
			if !ok {
				continue
			}
			data := rec.Relationships[rel]
			if data == nil {
				continue
			}
			switch data.Kind {
			case orbit.ToOne:
				if data.ToOneID != nil && data.ToOneID.Equal(target) {
					data.ToOneID = nil
				}
			case orbit.ToMany:
				if data.ToMany != nil {
					data.ToMany.Remove(target)
				}
			}
		}
	}
	delete(c.inverseEdges, target)
}

func (c *Cache) applyReplaceKey(o orbit.ReplaceKeyOp) (orbit.Operation, error) {
	rec, existed := c.get(o.Identity)
	if !existed {
		rec = orbit.Shell(o.Identity)
	} else {
		rec = rec.Clone()
	}
	var inverse orbit.Operation
	prior, had := rec.Keys[o.Key]
	if rec.Keys == nil {
		rec.Keys = make(map[string]string)
	}
	rec.Keys[o.Key] = o.Value
	c.put(rec)
	if had {
		inverse = orbit.ReplaceKeyOp{Identity: o.Identity, Key: o.Key, Value: prior}
	} else {
		inverse = orbit.ReplaceKeyOp{Identity: o.Identity, Key: o.Key, Value: ""}
	}
	return inverse, nil
}

func (c *Cache) applyReplaceAttribute(o orbit.ReplaceAttributeOp) (orbit.Operation, error) {
	rec, existed := c.get(o.Identity)
	if !existed {
		rec = orbit.Shell(o.Identity)
	} else {
		rec = rec.Clone()
	}
	prior, had := rec.Attributes[o.Attribute]
	if rec.Attributes == nil {
		rec.Attributes = make(map[string]any)
	}
	rec.Attributes[o.Attribute] = o.Value
	c.put(rec)
	var inverse orbit.Operation
	if had {
		inverse = orbit.ReplaceAttributeOp{Identity: o.Identity, Attribute: o.Attribute, Value: prior}
	} else {
		inverse = orbit.ReplaceAttributeOp{Identity: o.Identity, Attribute: o.Attribute, Value: nil}
	}
	return inverse, nil
}

func (c *Cache) relationshipOrNew(rec *orbit.Record, rel string, kind orbit.RelationshipKind) *orbit.RelationshipData {
	if rec.Relationships == nil {
		rec.Relationships = make(map[string]*orbit.RelationshipData)
	}
	data := rec.Relationships[rel]
	if data == nil || !data.Present {
		switch kind {
		case orbit.ToMany:
			data = orbit.ToManyRelationship(nil)
		default:
			data = orbit.ToOneRelationship(nil)
		}
		rec.Relationships[rel] = data
	}
	return data
}

func (c *Cache) applyAddToRelatedRecords(o orbit.AddToRelatedRecordsOp) (orbit.Operation, error) {
	rec, existed := c.get(o.Identity)
	if !existed {
		rec = orbit.Shell(o.Identity)
	} else {
		rec = rec.Clone()
	}
	data := c.relationshipOrNew(rec, o.Relationship, orbit.ToMany)
	added := data.ToMany.Add(o.RelatedRecord)
	c.put(rec)
	if added {
		c.addInverseEdge(o.RelatedRecord, o.Relationship, o.Identity)
		return orbit.RemoveFromRelatedRecordsOp{Identity: o.Identity, Relationship: o.Relationship, RelatedRecord: o.RelatedRecord}, nil
	}
	// Already a member: idempotent, inverse is itself a no-op add.
	return orbit.AddToRelatedRecordsOp{Identity: o.Identity, Relationship: o.Relationship, RelatedRecord: o.RelatedRecord}, nil
}

func (c *Cache) applyRemoveFromRelatedRecords(o orbit.RemoveFromRelatedRecordsOp) (orbit.Operation, error) {
	rec, existed := c.get(o.Identity)
	if !existed {
		rec = orbit.Shell(o.Identity)
	} else {
		rec = rec.Clone()
	}
	data := c.relationshipOrNew(rec, o.Relationship, orbit.ToMany)
	removed := data.ToMany.Remove(o.RelatedRecord)
	c.put(rec)
	if removed {
		c.removeInverseEdge(o.RelatedRecord, o.Relationship, o.Identity)
	}
	return orbit.AddToRelatedRecordsOp{Identity: o.Identity, Relationship: o.Relationship, RelatedRecord: o.RelatedRecord}, nil
}

func (c *Cache) applyReplaceRelatedRecords(o orbit.ReplaceRelatedRecordsOp) (orbit.Operation, error) {
	rec, existed := c.get(o.Identity)
	if !existed {
		rec = orbit.Shell(o.Identity)
	} else {
		rec = rec.Clone()
	}
	data := c.relationshipOrNew(rec, o.Relationship, orbit.ToMany)
	oldSet := data.ToMany.Clone()
	newSet := orbit.NewIdentitySet(o.RelatedRecords)

	added, removed := oldSet.Diff(newSet)
	for _, id := range added {
		c.addInverseEdge(id, o.Relationship, o.Identity)
	}
	for _, id := range removed {
		c.removeInverseEdge(id, o.Relationship, o.Identity)
	}
	rec.Relationships[o.Relationship] = orbit.ToManyRelationship(o.RelatedRecords)
	c.put(rec)

	return orbit.ReplaceRelatedRecordsOp{Identity: o.Identity, Relationship: o.Relationship, RelatedRecords: oldSet.Slice()}, nil
}

func (c *Cache) applyReplaceRelatedRecord(o orbit.ReplaceRelatedRecordOp) (orbit.Operation, error) {
	rec, existed := c.get(o.Identity)
	if !existed {
		rec = orbit.Shell(o.Identity)
	} else {
		rec = rec.Clone()
	}
	data := c.relationshipOrNew(rec, o.Relationship, orbit.ToOne)
	prior := data.ToOneID

	if prior != nil {
		c.removeInverseEdge(*prior, o.Relationship, o.Identity)
	}
	if o.RelatedRecord != nil {
		c.addInverseEdge(*o.RelatedRecord, o.Relationship, o.Identity)
	}
	rec.Relationships[o.Relationship] = orbit.ToOneRelationship(o.RelatedRecord)
	c.put(rec)

	return orbit.ReplaceRelatedRecordOp{Identity: o.Identity, Relationship: o.Relationship, RelatedRecord: prior}, nil
}
