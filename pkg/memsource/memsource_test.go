package memsource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/query"
	"github.com/orbitkit/orbit-go/pkg/source"
)

func TestUpdateThenQueryRoundTrip(t *testing.T) {
	s := New("mem")
	tx := orbit.NewTransformBuilder().
		AddRecord(&orbit.Record{Type: "article", ID: "a1", Attributes: map[string]any{"title": "hi"}}).
		Build("tx1", nil)

	_, err := s.Update(context.Background(), tx, source.RequestOptions{})
	require.NoError(t, err)

	res, err := s.Query(context.Background(), query.Query{Kind: query.FindRecord, Identity: orbit.Identity{Type: "article", ID: "a1"}}, source.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.(*orbit.Record).Attributes["title"])
}

func TestForkDivergesFromParent(t *testing.T) {
	parent := New("parent")
	tx := orbit.NewTransformBuilder().AddRecord(&orbit.Record{Type: "article", ID: "a1"}).Build("tx1", nil)
	_, err := parent.Update(context.Background(), tx, source.RequestOptions{})
	require.NoError(t, err)

	child, forkPoint := parent.Fork("child")
	assert.Equal(t, "tx1", forkPoint)

	res, err := child.Query(context.Background(), query.Query{Kind: query.FindRecord, Identity: orbit.Identity{Type: "article", ID: "a1"}}, source.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "a1", res.(*orbit.Record).ID)

	tx2 := orbit.NewTransformBuilder().AddRecord(&orbit.Record{Type: "article", ID: "a2"}).Build("tx2", nil)
	_, err = child.Update(context.Background(), tx2, source.RequestOptions{})
	require.NoError(t, err)

	_, err = parent.Query(context.Background(), query.Query{Kind: query.FindRecord, Identity: orbit.Identity{Type: "article", ID: "a2"}}, source.RequestOptions{})
	assert.Error(t, err, "a transform applied to the fork must not reach the parent")
}

func TestRollbackDiscardsLaterTransformsAndUndoesThem(t *testing.T) {
	s := New("mem")

	t1 := orbit.NewTransformBuilder().
		AddRecord(&orbit.Record{Type: "article", ID: "a1", Attributes: map[string]any{"title": "one"}}).
		Build("t1", nil)
	t2 := orbit.NewTransformBuilder().
		AddRecord(&orbit.Record{Type: "article", ID: "a2", Attributes: map[string]any{"title": "two"}}).
		Build("t2", nil)
	t3 := orbit.NewTransformBuilder().
		UpdateRecord(&orbit.Record{Type: "article", ID: "a1", Attributes: map[string]any{"title": "one-updated"}}).
		Build("t3", nil)

	for _, tx := range []*orbit.Transform{t1, t2, t3} {
		_, err := s.Update(context.Background(), tx, source.RequestOptions{})
		require.NoError(t, err)
	}

	var rolledBack []string
	s.Bus.On("rollback", func(args ...any) error {
		rolledBack = args[0].([]string)
		return nil
	})

	discarded, err := s.Rollback("t1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t3"}, discarded)
	assert.Equal(t, []string{"t2", "t3"}, rolledBack, "rollback must emit the discarded ids in log order")

	assert.False(t, s.Log.Contains("t2"))
	assert.False(t, s.Log.Contains("t3"))
	assert.True(t, s.Log.Contains("t1"))

	_, ok := s.Cache.GetRecordSync(orbit.Identity{Type: "article", ID: "a2"})
	assert.False(t, ok, "rollback must undo t2's addRecord")

	got, ok := s.Cache.GetRecordSync(orbit.Identity{Type: "article", ID: "a1"})
	require.True(t, ok)
	assert.Equal(t, "one", got.Attributes["title"], "rollback must undo t3's update, leaving a1 as t1 left it")
}
