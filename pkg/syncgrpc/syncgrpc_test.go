package syncgrpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/cache"
	"github.com/orbitkit/orbit-go/pkg/query"
	"github.com/orbitkit/orbit-go/pkg/source"
)

func startServer(t *testing.T, c *cache.Cache) (client *Source, stop func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	srv := grpc.NewServer()
	RegisterSyncServer(srv, &Server{
		Apply: func(ctx context.Context, transform *orbit.Transform) ([]*orbit.Transform, error) {
			if _, err := c.Patch(transform.Operations); err != nil {
				return nil, err
			}
			return nil, nil
		},
		Transforms: func(ctx context.Context, typ, since string) ([]*orbit.Transform, error) {
			var out []*orbit.Transform
			for _, rec := range c.RecordsSync(typ) {
				tx := orbit.NewTransformBuilder().AddRecord(rec).Build("", nil)
				out = append(out, tx)
			}
			return out, nil
		},
	})
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	s := &Source{client: NewSyncClient(conn), conn: conn}
	s.Source = source.New("remote", source.WithPushable(s.performPush), source.WithPullable(s.performPull))

	return s, func() {
		_ = conn.Close()
		srv.Stop()
	}
}

func TestPushAppliesOnServer(t *testing.T) {
	c := cache.New()
	s, stop := startServer(t, c)
	defer stop()

	tx := orbit.NewTransformBuilder().
		AddRecord(&orbit.Record{Type: "planet", ID: "mars", Attributes: map[string]any{"name": "Mars"}}).
		Build("tx1", nil)

	_, err := s.Push(context.Background(), tx, source.RequestOptions{})
	require.NoError(t, err)

	rec, ok := c.GetRecordSync(orbit.Identity{Type: "planet", ID: "mars"})
	require.True(t, ok)
	assert.Equal(t, "Mars", rec.Attributes["name"])
}

func TestPullStreamsServerState(t *testing.T) {
	c := cache.New()
	_, err := c.Patch([]orbit.Operation{
		orbit.AddRecordOp{Record: &orbit.Record{Type: "moon", ID: "luna"}},
		orbit.AddRecordOp{Record: &orbit.Record{Type: "moon", ID: "io"}},
	})
	require.NoError(t, err)

	s, stop := startServer(t, c)
	defer stop()

	transforms, err := s.Pull(context.Background(), query.Query{Kind: query.FindRecords, Type: "moon"}, source.RequestOptions{})
	require.NoError(t, err)
	assert.Len(t, transforms, 2)
}
