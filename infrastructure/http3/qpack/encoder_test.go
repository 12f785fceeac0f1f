package qpack

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	fields := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/widgets/42"},
		{Name: "x-request-id", Value: "abc-123-def-456"},
	}
	data := EncodeFieldSection(fields)
	got, err := DecodeFieldSection(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, fields) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, fields)
	}
}

func TestEncodePrefersExactIndex(t *testing.T) {
	data := EncodeFieldSection([]HeaderField{{Name: ":method", Value: "GET"}})
	// prefix (2 bytes) + one indexed field line byte == 3 bytes total.
	if len(data) != 3 {
		t.Fatalf("expected a single indexed field line, got %d bytes: %x", len(data), data)
	}
	if data[2]&0xc0 != 0xc0 {
		t.Fatalf("expected indexed field line tag, got %08b", data[2])
	}
}

func TestEncodeUnknownHeaderUsesLiteralName(t *testing.T) {
	fields := []HeaderField{{Name: "x-totally-custom", Value: "v"}}
	data := EncodeFieldSection(fields)
	got, err := DecodeFieldSection(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, fields) {
		t.Fatalf("got %+v want %+v", got, fields)
	}
}
