package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orbit "github.com/orbitkit/orbit-go"
)

func ident(typ, id string) orbit.Identity { return orbit.Identity{Type: typ, ID: id} }

func TestAddRecordAndInverse(t *testing.T) {
	c := New()
	rec := &orbit.Record{Type: "article", ID: "1", Attributes: map[string]any{"title": "hello"}}

	inv, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: rec}})
	require.NoError(t, err)
	require.Len(t, inv, 1)
	assert.Equal(t, orbit.RemoveRecordOp{Identity: ident("article", "1")}, inv[0])

	got, ok := c.GetRecordSync(ident("article", "1"))
	require.True(t, ok)
	assert.Equal(t, "hello", got.Attributes["title"])
}

func TestUpdateRecordDeepMergePreservesAbsentKeys(t *testing.T) {
	c := New()
	base := &orbit.Record{Type: "article", ID: "1", Attributes: map[string]any{"title": "hello", "views": 1}}
	_, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: base}})
	require.NoError(t, err)

	update := &orbit.Record{Type: "article", ID: "1", Attributes: map[string]any{"title": "updated"}}
	_, err = c.Patch([]orbit.Operation{orbit.UpdateRecordOp{Record: update}})
	require.NoError(t, err)

	got, _ := c.GetRecordSync(ident("article", "1"))
	assert.Equal(t, "updated", got.Attributes["title"])
	assert.Equal(t, 1, got.Attributes["views"], "absent key in the update leaves the prior value unchanged")
}

func TestUpdateRecordNullSetsAttributeToNil(t *testing.T) {
	c := New()
	base := &orbit.Record{Type: "article", ID: "1", Attributes: map[string]any{"title": "hello"}}
	_, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: base}})
	require.NoError(t, err)

	update := &orbit.Record{Type: "article", ID: "1", Attributes: map[string]any{"title": nil}}
	_, err = c.Patch([]orbit.Operation{orbit.UpdateRecordOp{Record: update}})
	require.NoError(t, err)

	got, _ := c.GetRecordSync(ident("article", "1"))
	assert.Nil(t, got.Attributes["title"])
}

func TestRemoveRecordStripsInverseEdges(t *testing.T) {
	c := New()
	author := &orbit.Record{Type: "person", ID: "p1"}
	article := &orbit.Record{
		Type: "article", ID: "a1",
		Relationships: map[string]*orbit.RelationshipData{
			"author": orbit.ToOneRelationship(&orbit.Identity{Type: "person", ID: "p1"}),
		},
	}
	_, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: author}, orbit.AddRecordOp{Record: article}})
	require.NoError(t, err)

	_, err = c.Patch([]orbit.Operation{orbit.RemoveRecordOp{Identity: ident("person", "p1")}})
	require.NoError(t, err)

	got, ok := c.GetRecordSync(ident("article", "a1"))
	require.True(t, ok)
	assert.Nil(t, got.Relationships["author"].ToOneID, "removing the related record clears the to-one edge")
}

func TestReplaceKeyCreatesShellWhenMissing(t *testing.T) {
	c := New()
	_, err := c.Patch([]orbit.Operation{orbit.ReplaceKeyOp{Identity: ident("article", "a1"), Key: "remoteId", Value: "r1"}})
	require.NoError(t, err)

	got, ok := c.GetRecordSync(ident("article", "a1"))
	require.True(t, ok)
	assert.Equal(t, "r1", got.Keys["remoteId"])

	id, ok := c.ResolveKey("article", "remoteId", "r1")
	require.True(t, ok)
	assert.Equal(t, "a1", id)
}

func TestAddToRelatedRecordsIsIdempotent(t *testing.T) {
	c := New()
	tag := ident("tag", "t1")
	article := &orbit.Record{Type: "article", ID: "a1"}
	_, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: article}})
	require.NoError(t, err)

	_, err = c.Patch([]orbit.Operation{orbit.AddToRelatedRecordsOp{Identity: ident("article", "a1"), Relationship: "tags", RelatedRecord: tag}})
	require.NoError(t, err)
	_, err = c.Patch([]orbit.Operation{orbit.AddToRelatedRecordsOp{Identity: ident("article", "a1"), Relationship: "tags", RelatedRecord: tag}})
	require.NoError(t, err)

	got, _ := c.GetRecordSync(ident("article", "a1"))
	assert.Equal(t, 1, got.Relationships["tags"].ToMany.Len())
}

func TestReplaceRelatedRecordsDiffsAddedAndRemoved(t *testing.T) {
	c := New()
	article := &orbit.Record{
		Type: "article", ID: "a1",
		Relationships: map[string]*orbit.RelationshipData{
			"tags": orbit.ToManyRelationship([]orbit.Identity{ident("tag", "t1"), ident("tag", "t2")}),
		},
	}
	_, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: article}})
	require.NoError(t, err)

	inv, err := c.Patch([]orbit.Operation{orbit.ReplaceRelatedRecordsOp{
		Identity:       ident("article", "a1"),
		Relationship:   "tags",
		RelatedRecords: []orbit.Identity{ident("tag", "t2"), ident("tag", "t3")},
	}})
	require.NoError(t, err)
	require.Len(t, inv, 1)

	got, _ := c.GetRecordSync(ident("article", "a1"))
	ids := got.Relationships["tags"].ToMany.Slice()
	assert.ElementsMatch(t, []orbit.Identity{ident("tag", "t2"), ident("tag", "t3")}, ids)
}

func TestForkReadsFallThroughToBase(t *testing.T) {
	base := New()
	_, err := base.Patch([]orbit.Operation{orbit.AddRecordOp{Record: &orbit.Record{Type: "article", ID: "a1"}}})
	require.NoError(t, err)

	fork := NewFork(base)
	rec, ok := fork.GetRecordSync(ident("article", "a1"))
	require.True(t, ok)
	assert.Equal(t, "a1", rec.ID)

	_, err = fork.Patch([]orbit.Operation{orbit.AddRecordOp{Record: &orbit.Record{Type: "article", ID: "a2"}}})
	require.NoError(t, err)
	_, ok = base.GetRecordSync(ident("article", "a2"))
	assert.False(t, ok, "the fork must never mutate its base")

	all := fork.RecordsSync("article")
	assert.Len(t, all, 2)
}

func TestForkRemoveTombstonesBaseRecord(t *testing.T) {
	base := New()
	_, err := base.Patch([]orbit.Operation{orbit.AddRecordOp{Record: &orbit.Record{Type: "article", ID: "a1"}}})
	require.NoError(t, err)

	fork := NewFork(base)
	_, err = fork.Patch([]orbit.Operation{orbit.RemoveRecordOp{Identity: ident("article", "a1")}})
	require.NoError(t, err)

	_, ok := fork.GetRecordSync(ident("article", "a1"))
	assert.False(t, ok)
	_, ok = base.GetRecordSync(ident("article", "a1"))
	assert.True(t, ok, "removing through a fork must not affect the base")
}

func TestPatchInversesAreInReverseOrder(t *testing.T) {
	c := New()
	a := &orbit.Record{Type: "article", ID: "a1"}
	b := &orbit.Record{Type: "article", ID: "a2"}

	inv, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: a}, orbit.AddRecordOp{Record: b}})
	require.NoError(t, err)
	require.Len(t, inv, 2)
	assert.Equal(t, orbit.RemoveRecordOp{Identity: ident("article", "a2")}, inv[0])
	assert.Equal(t, orbit.RemoveRecordOp{Identity: ident("article", "a1")}, inv[1])
}

func planetMoonSchema() Schema {
	return NewSchema().Declare(
		"planet", "moons", orbit.ToMany,
		"moon", "planet", orbit.ToOne,
	)
}

func TestDeclaredInverseCascadesOnAdd(t *testing.T) {
	c := NewWithSchema(planetMoonSchema())
	jupiter := &orbit.Record{Type: "planet", ID: "jupiter"}
	_, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: jupiter}})
	require.NoError(t, err)

	io := &orbit.Record{
		Type: "moon", ID: "io",
		Relationships: map[string]*orbit.RelationshipData{
			"planet": orbit.ToOneRelationship(&orbit.Identity{Type: "planet", ID: "jupiter"}),
		},
	}
	_, err = c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: io}})
	require.NoError(t, err)

	got, ok := c.GetRecordSync(ident("planet", "jupiter"))
	require.True(t, ok)
	moons := got.Relationships["moons"]
	require.NotNil(t, moons)
	assert.True(t, moons.ToMany.Contains(ident("moon", "io")), "adding io with relationships.planet -> jupiter must auto-populate jupiter.relationships.moons")
}

func TestDeclaredInverseCascadesOnRemove(t *testing.T) {
	c := NewWithSchema(planetMoonSchema())
	jupiter := &orbit.Record{Type: "planet", ID: "jupiter"}
	io := &orbit.Record{
		Type: "moon", ID: "io",
		Relationships: map[string]*orbit.RelationshipData{
			"planet": orbit.ToOneRelationship(&orbit.Identity{Type: "planet", ID: "jupiter"}),
		},
	}
	_, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: jupiter}, orbit.AddRecordOp{Record: io}})
	require.NoError(t, err)

	_, err = c.Patch([]orbit.Operation{orbit.RemoveRecordOp{Identity: ident("moon", "io")}})
	require.NoError(t, err)

	got, ok := c.GetRecordSync(ident("planet", "jupiter"))
	require.True(t, ok)
	assert.False(t, got.Relationships["moons"].ToMany.Contains(ident("moon", "io")), "removing io must strip it from jupiter.relationships.moons")
}

func TestWithoutSchemaNoCascadeIntoOppositeSide(t *testing.T) {
	c := New()
	jupiter := &orbit.Record{Type: "planet", ID: "jupiter"}
	io := &orbit.Record{
		Type: "moon", ID: "io",
		Relationships: map[string]*orbit.RelationshipData{
			"planet": orbit.ToOneRelationship(&orbit.Identity{Type: "planet", ID: "jupiter"}),
		},
	}
	_, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: jupiter}, orbit.AddRecordOp{Record: io}})
	require.NoError(t, err)

	got, ok := c.GetRecordSync(ident("planet", "jupiter"))
	require.True(t, ok)
	assert.Nil(t, got.Relationships["moons"], "with no declared schema, jupiter's own relationship data is never touched")
}
