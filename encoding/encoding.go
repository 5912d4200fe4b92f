// Package encoding holds the value codecs used by key-value dialects to store records,
// association rows and keys as bytes.
package encoding

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshaler interface specifies encoding to byte array and back to the object.
type Marshaler interface {
	// Encodes any object to byte array.
	Marshal(v any) ([]byte, error)
	// Decodes byte array back to its Object type.
	Unmarshal(data []byte, v any) error
}

// DefaultMarshaler encodes with MsgPack; map keys are sorted so equal values encode to equal bytes.
var DefaultMarshaler Marshaler = NewMarshaler()

// JSONMarshaler is offered for backends or tools that want human readable values.
var JSONMarshaler Marshaler = jsonMarshaler{}

type msgpackMarshaler struct{}

// NewMarshaler returns the MsgPack marshaler. Integers decode as int64 (or uint64 when they do
// not fit), floats as float64, so values read back compare equal regardless of encoded width.
func NewMarshaler() Marshaler {
	return msgpackMarshaler{}
}

func (msgpackMarshaler) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return buf.Bytes(), nil
}

func (msgpackMarshaler) Unmarshal(data []byte, v any) error {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return fmt.Errorf("failed to decode MsgPack into %T: %w", v, err)
	}
	return nil
}

type jsonMarshaler struct{}

func (jsonMarshaler) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonMarshaler) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
