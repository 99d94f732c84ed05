package mcsgw

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered as a grpc content-subtype. The MCS's gRPC
// surface predates this core and was never generated from a .proto checked
// into this module, so rather than vendor a protoc step we speak gRPC's
// documented custom-codec extension point with plain JSON messages instead
// of protobuf-generated ones. Wire framing, keepalive, and stream semantics
// are otherwise exactly grpc-go's.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return jsonCodecName }

const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
