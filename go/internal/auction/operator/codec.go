package operator

import (
	"encoding/json"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Codec is a Connect codec for the operator surface. Protobuf messages use protojson;
// plain Go request and response structs use encoding/json.
type Codec struct{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return protojson.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

// Timestamp is a protobuf timestamp carried in its RFC 3339 JSON form.
type Timestamp struct {
	*timestamppb.Timestamp
}

func NewTimestamp(ts *timestamppb.Timestamp) *Timestamp {
	return &Timestamp{Timestamp: ts}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Timestamp == nil {
		return []byte("null"), nil
	}
	return protojson.Marshal(t.Timestamp)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Timestamp = nil
		return nil
	}
	ts := &timestamppb.Timestamp{}
	if err := protojson.Unmarshal(data, ts); err != nil {
		return err
	}
	t.Timestamp = ts
	return nil
}
