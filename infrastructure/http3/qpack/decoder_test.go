package qpack

import "testing"

func TestDecodeFieldSectionIndexedStatic(t *testing.T) {
	// Required Insert Count = 0, Base sign+delta = 0, then an indexed
	// field line referencing static index 17 (:method GET).
	data := []byte{0x00, 0x00, 0xc0 | 17}
	fields, err := DecodeFieldSection(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fields) != 1 || fields[0].Name != ":method" || fields[0].Value != "GET" {
		t.Fatalf("got %+v", fields)
	}
}

func TestDecodeFieldSectionLiteralWithNameReference(t *testing.T) {
	var data []byte
	data = append(data, 0x00, 0x00) // prefix
	// Literal with name reference, static, index 1 (:path), not huffman, value "/index.html"
	data = append(data, 0x50|1)
	value := "/index.html"
	data = appendPrefixedInt(data, 0x00, 7, uint64(len(value)))
	data = append(data, []byte(value)...)

	fields, err := DecodeFieldSection(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fields) != 1 || fields[0].Name != ":path" || fields[0].Value != value {
		t.Fatalf("got %+v", fields)
	}
}

func TestDecodeFieldSectionLiteralWithLiteralName(t *testing.T) {
	var data []byte
	data = append(data, 0x00, 0x00) // prefix
	name := "x-custom"
	value := "hello"
	data = appendPrefixedInt(data, 0x20, 3, uint64(len(name)))
	data = append(data, []byte(name)...)
	data = appendPrefixedInt(data, 0x00, 7, uint64(len(value)))
	data = append(data, []byte(value)...)

	fields, err := DecodeFieldSection(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fields) != 1 || fields[0].Name != name || fields[0].Value != value {
		t.Fatalf("got %+v", fields)
	}
}

func TestDecodeFieldSectionRejectsDynamicReference(t *testing.T) {
	data := []byte{0x01, 0x00} // Required Insert Count = 1: dynamic table in use
	if _, err := DecodeFieldSection(data); err != ErrDynamicTableReference {
		t.Fatalf("expected ErrDynamicTableReference, got %v", err)
	}
}

func TestDecodeFieldSectionMultipleLines(t *testing.T) {
	var data []byte
	data = append(data, 0x00, 0x00)
	data = append(data, 0xc0|17) // :method GET
	data = append(data, 0xc0|23) // :scheme https
	fields, err := DecodeFieldSection(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("got %d fields", len(fields))
	}
}
