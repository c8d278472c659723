package boltsource

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
	path := filepath.Join(t.TempDir(), "orbit.db")
	s, err := New("bolt", path)
	require.NoError(t, err)
	defer s.Close()

	tx := orbit.NewTransformBuilder().
		AddRecord(&orbit.Record{Type: "planet", ID: "jupiter", Attributes: map[string]any{"name": "Jupiter"}}).
		Build("tx1", nil)

	_, err = s.Update(context.Background(), tx, source.RequestOptions{})
	require.NoError(t, err)

	res, err := s.Query(context.Background(), query.Query{Kind: query.FindRecord, Identity: orbit.Identity{Type: "planet", ID: "jupiter"}}, source.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Jupiter", res.(*orbit.Record).Attributes["name"])
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orbit.db")
	s, err := New("bolt", path)
	require.NoError(t, err)

	tx := orbit.NewTransformBuilder().
		AddRecord(&orbit.Record{Type: "planet", ID: "mars", Attributes: map[string]any{"name": "Mars"}}).
		Build("tx1", nil)
	_, err = s.Update(context.Background(), tx, source.RequestOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New("bolt", path)
	require.NoError(t, err)
	defer reopened.Close()

	rec, ok := reopened.Cache.GetRecordSync(orbit.Identity{Type: "planet", ID: "mars"})
	require.True(t, ok)
	assert.Equal(t, "Mars", rec.Attributes["name"])

	ids, err := reopened.Cache.LoadTransformIDs()
	require.NoError(t, err)
	assert.Contains(t, ids, "tx1")
}

func TestRelationshipSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orbit.db")
	s, err := New("bolt", path)
	require.NoError(t, err)

	jupiter := orbit.Identity{Type: "planet", ID: "jupiter"}
	io := orbit.Identity{Type: "moon", ID: "io"}
	tx := orbit.NewTransformBuilder().
		AddRecord(&orbit.Record{Type: "planet", ID: "jupiter"}).
		AddRecord(&orbit.Record{Type: "moon", ID: "io", Relationships: map[string]*orbit.RelationshipData{
			"planet": orbit.ToOneRelationship(&jupiter),
		}}).
		AddToRelatedRecords(jupiter, "moons", io).
		Build("tx1", nil)
	_, err = s.Update(context.Background(), tx, source.RequestOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := New("bolt", path)
	require.NoError(t, err)
	defer reopened.Close()

	planet, ok := reopened.Cache.GetRecordSync(jupiter)
	require.True(t, ok)
	require.NotNil(t, planet.Relationships["moons"])
	assert.True(t, planet.Relationships["moons"].ToMany.Contains(io))
}
