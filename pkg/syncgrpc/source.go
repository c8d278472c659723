package syncgrpc

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/query"
	"github.com/orbitkit/orbit-go/pkg/source"
)

// Source is a gRPC-backed orbit source: pushable (sends local transforms to
// a remote Sync server) and pullable (streams the remote's transforms for
// a given record type back and records them in this source's log).
type Source struct {
	*source.Source
	client SyncClient
	conn   *grpc.ClientConn
}

// Dial connects to a Sync server at addr and returns a source named name.
// The connection is plaintext (insecure.NewCredentials()), matching a
// local or already-tunneled deployment; production use should supply
// transport credentials the way the teacher's connectWithMTLS does.
func Dial(name, addr string) (*Source, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	s := &Source{client: NewSyncClient(conn), conn: conn}
	s.Source = source.New(name,
		source.WithPushable(s.performPush),
		source.WithPullable(s.performPull),
	)
	return s, nil
}

// Close tears down the gRPC connection.
func (s *Source) Close() error { return s.conn.Close() }

func (s *Source) performPush(ctx context.Context, transform *orbit.Transform, hints []*source.FullResponse) ([]*orbit.Transform, error) {
	resp, err := s.client.Push(ctx, &PushRequest{Transform: transform})
	if err != nil {
		return nil, &orbit.NetworkError{Err: err}
	}
	return resp.FollowOns, nil
}

func (s *Source) performPull(ctx context.Context, q query.Query, hints []*source.FullResponse) ([]*orbit.Transform, error) {
	stream, err := s.client.Pull(ctx, &PullRequest{Type: q.Type})
	if err != nil {
		return nil, &orbit.NetworkError{Err: err}
	}

	var transforms []*orbit.Transform
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &orbit.NetworkError{Err: err}
		}
		transforms = append(transforms, resp.Transform)
	}
	return transforms, nil
}
