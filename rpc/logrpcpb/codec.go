package logrpcpb

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype negotiated for this service's messages.
// Clients must set grpc.CallContentSubtype(CodecName) so the server selects
// this codec instead of the default protobuf one (this package's messages
// are plain structs, not protoreflect.Message implementations, since
// protoc is unavailable in this checkout — see logrpc.pb.go).
const CodecName = "logrpcjson"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("logrpcpb: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("logrpcpb: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
