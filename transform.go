package orbit

import "github.com/google/uuid"

// Transform is an immutable, identified bundle of record operations.
// Its ID must be stable for dedup: calling a source's update/sync/push
// twice with the same ID is a no-op the second time (spec.md §5,
// "Idempotent re-apply").
type Transform struct {
	ID         string
	Operations []Operation
	Options    map[string]any
}

// TransformBuilder accumulates operations fluently and produces an
// immutable Transform. It never mutates a Transform once built.
type TransformBuilder struct {
	ops []Operation
}

// NewTransformBuilder returns an empty builder.
func NewTransformBuilder() *TransformBuilder {
	return &TransformBuilder{}
}

func (b *TransformBuilder) push(op Operation) *TransformBuilder {
	b.ops = append(b.ops, op)
	return b
}

func (b *TransformBuilder) AddRecord(r *Record) *TransformBuilder {
	return b.push(AddRecordOp{Record: r})
}

func (b *TransformBuilder) UpdateRecord(r *Record) *TransformBuilder {
	return b.push(UpdateRecordOp{Record: r})
}

func (b *TransformBuilder) RemoveRecord(id Identity) *TransformBuilder {
	return b.push(RemoveRecordOp{Identity: id})
}

func (b *TransformBuilder) ReplaceKey(id Identity, key, value string) *TransformBuilder {
	return b.push(ReplaceKeyOp{Identity: id, Key: key, Value: value})
}

func (b *TransformBuilder) ReplaceAttribute(id Identity, attr string, value any) *TransformBuilder {
	return b.push(ReplaceAttributeOp{Identity: id, Attribute: attr, Value: value})
}

func (b *TransformBuilder) AddToRelatedRecords(id Identity, rel string, related Identity) *TransformBuilder {
	return b.push(AddToRelatedRecordsOp{Identity: id, Relationship: rel, RelatedRecord: related})
}

func (b *TransformBuilder) RemoveFromRelatedRecords(id Identity, rel string, related Identity) *TransformBuilder {
	return b.push(RemoveFromRelatedRecordsOp{Identity: id, Relationship: rel, RelatedRecord: related})
}

func (b *TransformBuilder) ReplaceRelatedRecords(id Identity, rel string, related []Identity) *TransformBuilder {
	return b.push(ReplaceRelatedRecordsOp{Identity: id, Relationship: rel, RelatedRecords: related})
}

func (b *TransformBuilder) ReplaceRelatedRecord(id Identity, rel string, related *Identity) *TransformBuilder {
	return b.push(ReplaceRelatedRecordOp{Identity: id, Relationship: rel, RelatedRecord: related})
}

// Build finalizes the transform. If id is empty a new UUID is generated,
// matching spec.md §3's "caller-provided or generated" ID rule.
func (b *TransformBuilder) Build(id string, options map[string]any) *Transform {
	if id == "" {
		id = uuid.NewString()
	}
	ops := make([]Operation, len(b.ops))
	copy(ops, b.ops)
	return &Transform{ID: id, Operations: ops, Options: options}
}

// NewTransform wraps a pre-built operation slice as a Transform, generating
// an ID when one isn't supplied. Used by sources building transforms from
// wire data rather than the fluent builder.
func NewTransform(id string, ops []Operation, options map[string]any) *Transform {
	if id == "" {
		id = uuid.NewString()
	}
	return &Transform{ID: id, Operations: ops, Options: options}
}
