// Package wire converts the vault's JSON DTOs to and from
// google.protobuf.Struct, the envelope used for protobuf bodies on HTTP and
// for every gRPC message.
//
// Struct numbers are doubles, so ids and counters round-trip exactly only
// up to 2^53.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct encodes v through its JSON form.  v must marshal to a JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wire: %T is not an object: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into dst.  Fields dst does not declare are rejected.
// A nil s leaves dst untouched.
func FromStruct(s *structpb.Struct, dst any) error {
	if s == nil {
		return nil
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	return DecodeJSON(data, dst)
}

// DecodeJSON is the strict JSON decoder shared by every transport.  An
// empty body leaves dst untouched.
func DecodeJSON(data []byte, dst any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("wire: decode: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("wire: trailing data after object")
	}
	return nil
}
