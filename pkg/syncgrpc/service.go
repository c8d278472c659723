package syncgrpc

import (
	"context"

	"google.golang.org/grpc"

	orbit "github.com/orbitkit/orbit-go"
)

// PushRequest carries one transform to the remote.
type PushRequest struct {
	Transform *orbit.Transform `json:"transform"`
}

// PushResponse carries the follow-on transforms the remote produced while
// applying the pushed one (remote-ID reconciliation and the like).
type PushResponse struct {
	FollowOns []*orbit.Transform `json:"followOns"`
}

// PullRequest asks the remote to stream every transform affecting typ.
// Since, when non-empty, asks for only the transforms after that
// watermark; an empty Since means "everything".
type PullRequest struct {
	Type  string `json:"type"`
	Since string `json:"since,omitempty"`
}

// PullResponse carries one transform from a Pull stream.
type PullResponse struct {
	Transform *orbit.Transform `json:"transform"`
}

// SyncServer is the service a syncgrpc client dials.
type SyncServer interface {
	Push(ctx context.Context, req *PushRequest) (*PushResponse, error)
	Pull(req *PullRequest, stream SyncPullServer) error
}

// SyncPullServer streams PullResponses back to the client.
type SyncPullServer interface {
	Send(*PullResponse) error
	grpc.ServerStream
}

type syncPullServer struct{ grpc.ServerStream }

func (x *syncPullServer) Send(m *PullResponse) error { return x.ServerStream.SendMsg(m) }

func _Sync_Push_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PushRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SyncServer).Push(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/orbit.syncgrpc.Sync/Push"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SyncServer).Push(ctx, req.(*PushRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Sync_Pull_Handler(srv any, stream grpc.ServerStream) error {
	m := new(PullRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SyncServer).Pull(m, &syncPullServer{stream})
}

// Sync_ServiceDesc is the hand-written equivalent of the *_grpc.pb.go
// ServiceDesc a protoc-gen-go-grpc run would produce.
var Sync_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "orbit.syncgrpc.Sync",
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Push", Handler: _Sync_Push_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Pull", Handler: _Sync_Pull_Handler, ServerStreams: true},
	},
	Metadata: "orbit/syncgrpc/sync.proto",
}

// RegisterSyncServer registers srv on s.
func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&Sync_ServiceDesc, srv)
}

// SyncClient is the client stub for SyncServer.
type SyncClient interface {
	Push(ctx context.Context, req *PushRequest, opts ...grpc.CallOption) (*PushResponse, error)
	Pull(ctx context.Context, req *PullRequest, opts ...grpc.CallOption) (SyncPullClient, error)
}

// SyncPullClient receives the PullResponse stream.
type SyncPullClient interface {
	Recv() (*PullResponse, error)
	grpc.ClientStream
}

type syncClient struct {
	cc grpc.ClientConnInterface
}

// NewSyncClient wraps cc as a SyncClient.
func NewSyncClient(cc grpc.ClientConnInterface) SyncClient {
	return &syncClient{cc: cc}
}

func (c *syncClient) Push(ctx context.Context, in *PushRequest, opts ...grpc.CallOption) (*PushResponse, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	out := new(PushResponse)
	if err := c.cc.Invoke(ctx, "/orbit.syncgrpc.Sync/Push", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncClient) Pull(ctx context.Context, in *PullRequest, opts ...grpc.CallOption) (SyncPullClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &Sync_ServiceDesc.Streams[0], "/orbit.syncgrpc.Sync/Pull", opts...)
	if err != nil {
		return nil, err
	}
	x := &syncPullClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type syncPullClient struct{ grpc.ClientStream }

func (x *syncPullClient) Recv() (*PullResponse, error) {
	m := new(PullResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
