// Package syncgrpc gives the pullable/pushable capability protocol
// (spec.md §4.5) a real network binding over gRPC, grounded on the
// teacher's pkg/client/client.go (typed client wrapping a generated
// *.pb.go stub) and pkg/worker/worker.go (the counterpart server side).
//
// There is no .proto/generated stub here: google.golang.org/protobuf's
// APIv2 message interface requires a ProtoReflect() method backed by a
// descriptor that only protoc-gen-go can produce correctly, and this
// module never invokes protoc. Instead syncgrpc registers a JSON
// grpc.Codec (google.golang.org/grpc/encoding.RegisterCodec) and hand-
// writes the service glue grpc-gateway/protoc-gen-go-grpc would normally
// generate — grpc.ServiceDesc, grpc.ClientConnInterface.Invoke/NewStream,
// ServerStream.SendMsg/RecvMsg — all public, documented grpc-go APIs built
// exactly for non-protobuf codecs. The wire format is JSON; the transport,
// multiplexing, and streaming are genuinely gRPC.
package syncgrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }
