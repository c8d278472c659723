package forkmerge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	orbit "github.com/orbitkit/orbit-go"
)

func id(t, i string) orbit.Identity { return orbit.Identity{Type: t, ID: i} }

func TestCoalesceKeepsLastReplaceAttribute(t *testing.T) {
	ops := []orbit.Operation{
		orbit.ReplaceAttributeOp{Identity: id("article", "a1"), Attribute: "title", Value: "one"},
		orbit.ReplaceAttributeOp{Identity: id("article", "a1"), Attribute: "title", Value: "two"},
	}
	out := Coalesce(ops)
	assert.Equal(t, []orbit.Operation{
		orbit.ReplaceAttributeOp{Identity: id("article", "a1"), Attribute: "title", Value: "two"},
	}, out)
}

func TestCoalesceMergesAddThenUpdate(t *testing.T) {
	ops := []orbit.Operation{
		orbit.AddRecordOp{Record: &orbit.Record{Type: "article", ID: "a1", Attributes: map[string]any{"title": "hi", "views": 1}}},
		orbit.UpdateRecordOp{Record: &orbit.Record{Type: "article", ID: "a1", Attributes: map[string]any{"title": "updated"}}},
	}
	out := Coalesce(ops)
	require := assert.New(t)
	require.Len(out, 1)
	add := out[0].(orbit.AddRecordOp)
	require.Equal("updated", add.Record.Attributes["title"])
	require.Equal(1, add.Record.Attributes["views"])
}

func TestCoalesceAnnihilatesAddThenRemove(t *testing.T) {
	ops := []orbit.Operation{
		orbit.AddRecordOp{Record: &orbit.Record{Type: "article", ID: "a1"}},
		orbit.RemoveRecordOp{Identity: id("article", "a1")},
	}
	assert.Empty(t, Coalesce(ops))
}

func TestCoalesceAnnihilatesMatchingRelatedRecordEdgePair(t *testing.T) {
	ops := []orbit.Operation{
		orbit.AddToRelatedRecordsOp{Identity: id("article", "a1"), Relationship: "tags", RelatedRecord: id("tag", "t1")},
		orbit.RemoveFromRelatedRecordsOp{Identity: id("article", "a1"), Relationship: "tags", RelatedRecord: id("tag", "t1")},
	}
	assert.Empty(t, Coalesce(ops))
}

func TestCoalesceReplaceRelatedRecordsSupersedesPriorEdit(t *testing.T) {
	ops := []orbit.Operation{
		orbit.AddToRelatedRecordsOp{Identity: id("article", "a1"), Relationship: "tags", RelatedRecord: id("tag", "t1")},
		orbit.ReplaceRelatedRecordsOp{Identity: id("article", "a1"), Relationship: "tags", RelatedRecords: []orbit.Identity{id("tag", "t2")}},
	}
	out := Coalesce(ops)
	assert.Equal(t, []orbit.Operation{
		orbit.ReplaceRelatedRecordsOp{Identity: id("article", "a1"), Relationship: "tags", RelatedRecords: []orbit.Identity{id("tag", "t2")}},
	}, out)
}

func TestCoalescePreservesUnrelatedOrder(t *testing.T) {
	ops := []orbit.Operation{
		orbit.AddRecordOp{Record: &orbit.Record{Type: "article", ID: "a1"}},
		orbit.AddRecordOp{Record: &orbit.Record{Type: "article", ID: "a2"}},
	}
	out := Coalesce(ops)
	assert.Equal(t, ops, out)
}
