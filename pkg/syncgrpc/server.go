package syncgrpc

import (
	"context"

	orbit "github.com/orbitkit/orbit-go"
)

// Server adapts a local updatable/queryable source to the SyncServer
// interface, so it can be registered on a *grpc.Server and driven by a
// remote Source's Push/Pull calls.
type Server struct {
	// Apply applies a pushed transform locally and reports any follow-on
	// transforms (remote-ID reconciliation) the caller should replay.
	Apply func(ctx context.Context, t *orbit.Transform) ([]*orbit.Transform, error)

	// Transforms returns every transform affecting typ recorded after
	// since (since == "" means "from the start").
	Transforms func(ctx context.Context, typ, since string) ([]*orbit.Transform, error)
}

// Push implements SyncServer.
func (s *Server) Push(ctx context.Context, req *PushRequest) (*PushResponse, error) {
	followOns, err := s.Apply(ctx, req.Transform)
	if err != nil {
		return nil, err
	}
	return &PushResponse{FollowOns: followOns}, nil
}

// Pull implements SyncServer.
func (s *Server) Pull(req *PullRequest, stream SyncPullServer) error {
	transforms, err := s.Transforms(stream.Context(), req.Type, req.Since)
	if err != nil {
		return err
	}
	for _, t := range transforms {
		if err := stream.Send(&PullResponse{Transform: t}); err != nil {
			return err
		}
	}
	return nil
}
