package kvsource

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/query"
	"github.com/orbitkit/orbit-go/pkg/source"
)

func TestUpdateThenQueryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orbit.kv")
	s, err := New("kv", path)
	require.NoError(t, err)

	tx := orbit.NewTransformBuilder().
		AddRecord(&orbit.Record{Type: "planet", ID: "earth", Attributes: map[string]any{"name": "Earth"}}).
		Build("tx1", nil)
	_, err = s.Update(context.Background(), tx, source.RequestOptions{})
	require.NoError(t, err)

	res, err := s.Query(context.Background(), query.Query{Kind: query.FindRecord, Identity: orbit.Identity{Type: "planet", ID: "earth"}}, source.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Earth", res.(*orbit.Record).Attributes["name"])
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orbit.kv")
	s, err := New("kv", path)
	require.NoError(t, err)

	tx := orbit.NewTransformBuilder().
		AddRecord(&orbit.Record{Type: "planet", ID: "venus", Attributes: map[string]any{"name": "Venus"}}).
		Build("tx1", nil)
	_, err = s.Update(context.Background(), tx, source.RequestOptions{})
	require.NoError(t, err)

	reopened, err := New("kv", path)
	require.NoError(t, err)

	rec, ok := reopened.Cache.GetRecordSync(orbit.Identity{Type: "planet", ID: "venus"})
	require.True(t, ok)
	assert.Equal(t, "Venus", rec.Attributes["name"])
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.kv")
	c, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, c.RecordsSync("planet"))
}
