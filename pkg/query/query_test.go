package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/cache"
)

func seedArticles(t *testing.T) *cache.Cache {
	t.Helper()
	c := cache.New()
	articles := []*orbit.Record{
		{Type: "article", ID: "a1", Attributes: map[string]any{"title": "go basics", "views": 10}},
		{Type: "article", ID: "a2", Attributes: map[string]any{"title": "rust basics", "views": 30}},
		{Type: "article", ID: "a3", Attributes: map[string]any{"title": "go advanced", "views": 20}},
	}
	for _, a := range articles {
		_, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: a}})
		require.NoError(t, err)
	}
	return c
}

func TestFindRecordNotFoundRaises(t *testing.T) {
	c := cache.New()
	_, err := Evaluate(c, Query{Kind: FindRecord, Identity: orbit.Identity{Type: "article", ID: "missing"}})
	require.Error(t, err)
	assert.IsType(t, &orbit.RecordNotFoundError{}, err)
}

func TestFindRecordNotFoundSuppressed(t *testing.T) {
	c := cache.New()
	no := false
	res, err := Evaluate(c, Query{
		Kind:                    FindRecord,
		Identity:                orbit.Identity{Type: "article", ID: "missing"},
		RaiseNotFoundExceptions: &no,
	})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestFindRecordsByIDsDropsUnknown(t *testing.T) {
	c := seedArticles(t)
	res, err := Evaluate(c, Query{Kind: FindRecords, IDs: []orbit.Identity{
		{Type: "article", ID: "a1"},
		{Type: "article", ID: "missing"},
	}})
	require.NoError(t, err)
	records := res.([]*orbit.Record)
	require.Len(t, records, 1)
	assert.Equal(t, "a1", records[0].ID)
}

func TestFindRecordsFilterSortPage(t *testing.T) {
	c := seedArticles(t)
	res, err := Evaluate(c, Query{
		Kind:    FindRecords,
		Type:    "article",
		Filters: []FilterSpec{{Attribute: "views", Op: GTE, Value: 10.0}},
		Sorts:   []SortSpec{{Field: "views", Descending: true}},
		Page:    &PageSpec{Offset: 0, Limit: 2},
	})
	require.NoError(t, err)
	records := res.([]*orbit.Record)
	require.Len(t, records, 2)
	assert.Equal(t, "a2", records[0].ID)
	assert.Equal(t, "a3", records[1].ID)
}

func TestFindRelatedRecordAndRecords(t *testing.T) {
	c := cache.New()
	person := &orbit.Record{Type: "person", ID: "p1"}
	article := &orbit.Record{
		Type: "article", ID: "a1",
		Relationships: map[string]*orbit.RelationshipData{
			"author": orbit.ToOneRelationship(&orbit.Identity{Type: "person", ID: "p1"}),
			"tags":   orbit.ToManyRelationship([]orbit.Identity{{Type: "tag", ID: "t1"}}),
		},
	}
	_, err := c.Patch([]orbit.Operation{orbit.AddRecordOp{Record: person}, orbit.AddRecordOp{Record: article}})
	require.NoError(t, err)

	res, err := Evaluate(c, Query{Kind: FindRelatedRecord, Identity: orbit.Identity{Type: "article", ID: "a1"}, Relationship: "author"})
	require.NoError(t, err)
	assert.Equal(t, "p1", res.(*orbit.Record).ID)

	res, err = Evaluate(c, Query{Kind: FindRelatedRecords, Identity: orbit.Identity{Type: "article", ID: "a1"}, Relationship: "tags"})
	require.NoError(t, err)
	assert.Len(t, res.([]*orbit.Record), 0, "the tag record itself was never added to the cache")
}
