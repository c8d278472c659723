package orbit

import "encoding/json"

// wireOperation is the discriminated-union JSON encoding for an Operation.
// Operation is a Go interface over nine struct types; json.Marshal on an
// interface value has no type tag of its own, so anything that crosses a
// serialization boundary (bbolt persistence, a sync transport) needs this
// explicit envelope to round-trip the operation's kind.
type wireOperation struct {
	Kind           OperationKind `json:"kind"`
	Record         *Record       `json:"record,omitempty"`
	Identity       Identity      `json:"identity,omitempty"`
	Key            string        `json:"key,omitempty"`
	KeyValue       string        `json:"keyValue,omitempty"`
	Attribute      string        `json:"attribute,omitempty"`
	AttributeValue any           `json:"attributeValue,omitempty"`
	Relationship   string        `json:"relationship,omitempty"`
	RelatedRecord  *Identity     `json:"relatedRecord,omitempty"`
	RelatedRecords []Identity    `json:"relatedRecords,omitempty"`
}

func encodeOperation(op Operation) (wireOperation, error) {
	switch o := op.(type) {
	case AddRecordOp:
		return wireOperation{Kind: OpAddRecord, Record: o.Record}, nil
	case UpdateRecordOp:
		return wireOperation{Kind: OpUpdateRecord, Record: o.Record}, nil
	case RemoveRecordOp:
		return wireOperation{Kind: OpRemoveRecord, Identity: o.Identity}, nil
	case ReplaceKeyOp:
		return wireOperation{Kind: OpReplaceKey, Identity: o.Identity, Key: o.Key, KeyValue: o.Value}, nil
	case ReplaceAttributeOp:
		return wireOperation{Kind: OpReplaceAttribute, Identity: o.Identity, Attribute: o.Attribute, AttributeValue: o.Value}, nil
	case AddToRelatedRecordsOp:
		related := o.RelatedRecord
		return wireOperation{Kind: OpAddToRelatedRecords, Identity: o.Identity, Relationship: o.Relationship, RelatedRecord: &related}, nil
	case RemoveFromRelatedRecordsOp:
		related := o.RelatedRecord
		return wireOperation{Kind: OpRemoveFromRelatedRecords, Identity: o.Identity, Relationship: o.Relationship, RelatedRecord: &related}, nil
	case ReplaceRelatedRecordsOp:
		return wireOperation{Kind: OpReplaceRelatedRecords, Identity: o.Identity, Relationship: o.Relationship, RelatedRecords: o.RelatedRecords}, nil
	case ReplaceRelatedRecordOp:
		return wireOperation{Kind: OpReplaceRelatedRecord, Identity: o.Identity, Relationship: o.Relationship, RelatedRecord: o.RelatedRecord}, nil
	default:
		return wireOperation{}, &AssertionError{Message: "unknown operation type for wire encoding"}
	}
}

func decodeOperation(w wireOperation) (Operation, error) {
	switch w.Kind {
	case OpAddRecord:
		return AddRecordOp{Record: w.Record}, nil
	case OpUpdateRecord:
		return UpdateRecordOp{Record: w.Record}, nil
	case OpRemoveRecord:
		return RemoveRecordOp{Identity: w.Identity}, nil
	case OpReplaceKey:
		return ReplaceKeyOp{Identity: w.Identity, Key: w.Key, Value: w.KeyValue}, nil
	case OpReplaceAttribute:
		return ReplaceAttributeOp{Identity: w.Identity, Attribute: w.Attribute, Value: w.AttributeValue}, nil
	case OpAddToRelatedRecords:
		if w.RelatedRecord == nil {
			return nil, &AssertionError{Message: "addToRelatedRecords: missing relatedRecord"}
		}
		return AddToRelatedRecordsOp{Identity: w.Identity, Relationship: w.Relationship, RelatedRecord: *w.RelatedRecord}, nil
	case OpRemoveFromRelatedRecords:
		if w.RelatedRecord == nil {
			return nil, &AssertionError{Message: "removeFromRelatedRecords: missing relatedRecord"}
		}
		return RemoveFromRelatedRecordsOp{Identity: w.Identity, Relationship: w.Relationship, RelatedRecord: *w.RelatedRecord}, nil
	case OpReplaceRelatedRecords:
		return ReplaceRelatedRecordsOp{Identity: w.Identity, Relationship: w.Relationship, RelatedRecords: w.RelatedRecords}, nil
	case OpReplaceRelatedRecord:
		return ReplaceRelatedRecordOp{Identity: w.Identity, Relationship: w.Relationship, RelatedRecord: w.RelatedRecord}, nil
	default:
		return nil, &AssertionError{Message: "unknown operation kind on the wire: " + string(w.Kind)}
	}
}

type wireTransform struct {
	ID         string          `json:"id"`
	Operations []wireOperation `json:"operations"`
	Options    map[string]any  `json:"options,omitempty"`
}

// MarshalJSON encodes t with each operation tagged by kind, so
// UnmarshalJSON can reconstruct the correct concrete Operation type.
func (t *Transform) MarshalJSON() ([]byte, error) {
	ops := make([]wireOperation, len(t.Operations))
	for i, op := range t.Operations {
		w, err := encodeOperation(op)
		if err != nil {
			return nil, err
		}
		ops[i] = w
	}
	return json.Marshal(wireTransform{ID: t.ID, Operations: ops, Options: t.Options})
}

// UnmarshalJSON decodes a transform previously written by MarshalJSON.
func (t *Transform) UnmarshalJSON(data []byte) error {
	var wire wireTransform
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	ops := make([]Operation, len(wire.Operations))
	for i, w := range wire.Operations {
		op, err := decodeOperation(w)
		if err != nil {
			return err
		}
		ops[i] = op
	}
	t.ID = wire.ID
	t.Operations = ops
	t.Options = wire.Options
	return nil
}
