package creditrpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype negotiated for credit.v1 calls ("application/grpc+json").
const CodecName = "json"

// Codec encodes messages as JSON.
type Codec struct{}

func init() {
	encoding.RegisterCodec(Codec{})
}

// Marshal implements encoding.Codec.
func (Codec) Marshal(value interface{}) ([]byte, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("creditrpc: marshal %T: %w", value, err)
	}
	return payload, nil
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, value interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("creditrpc: unmarshal %T: %w", value, err)
	}
	return nil
}

// Name implements encoding.Codec.
func (Codec) Name() string {
	return CodecName
}
