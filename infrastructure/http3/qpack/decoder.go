package qpack

import (
	"errors"

	"golang.org/x/net/http2/hpack"
)

// ErrDynamicTableReference is returned when an encoded field section
// references the dynamic table. With dynamic-table capacity fixed at 0
// (spec.md §4.14 Non-goals), no valid encoder-streamless instruction
// stream should ever do so; encountering one is a protocol violation.
var ErrDynamicTableReference = errors.New("qpack: dynamic table reference with zero capacity")

// HeaderField is one decoded (name, value) pair.
type HeaderField struct {
	Name  string
	Value string
}

// DecodeFieldSection decodes one QPACK-encoded HEADERS block (the field
// section prefix plus field lines). Dynamic-table capacity is always 0
// in this implementation, so the section prefix's Required Insert Count
// must be 0 and Base is irrelevant; both are still parsed and
// validated to reject ill-formed input.
func DecodeFieldSection(data []byte) ([]HeaderField, error) {
	ric, n, err := decodePrefixedInt(data[0]&0xff, 8, data[1:])
	if err != nil {
		return nil, err
	}
	if ric != 0 {
		return nil, ErrDynamicTableReference
	}
	data = data[1+n:]
	if len(data) == 0 {
		return nil, ErrShortBuffer
	}
	// Base: sign bit (bit 7) + 7-bit prefix delta base. Unused when
	// every reference is to the static table, but still consumed.
	_, n, err = decodePrefixedInt(data[0]&0x7f, 7, data[1:])
	if err != nil {
		return nil, err
	}
	data = data[1+n:]

	var fields []HeaderField
	for len(data) > 0 {
		f, consumed, err := decodeFieldLine(data)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		data = data[consumed:]
	}
	return fields, nil
}

func decodeFieldLine(data []byte) (HeaderField, int, error) {
	if len(data) == 0 {
		return HeaderField{}, 0, ErrShortBuffer
	}
	b := data[0]

	switch {
	case b&0x80 != 0: // Indexed Field Line: 1Txxxxxx
		if b&0x40 == 0 {
			return HeaderField{}, 0, ErrDynamicTableReference
		}
		idx, n, err := decodePrefixedInt(b, 6, data[1:])
		if err != nil {
			return HeaderField{}, 0, err
		}
		e, err := staticEntry(idx)
		if err != nil {
			return HeaderField{}, 0, err
		}
		return HeaderField{Name: e.Name, Value: e.Value}, 1 + n, nil

	case b&0x40 != 0: // Literal Field Line With Name Reference: 01NTxxxx
		if b&0x10 == 0 {
			return HeaderField{}, 0, ErrDynamicTableReference
		}
		idx, n, err := decodePrefixedInt(b, 4, data[1:])
		if err != nil {
			return HeaderField{}, 0, err
		}
		off := 1 + n
		e, err := staticEntry(idx)
		if err != nil {
			return HeaderField{}, 0, err
		}
		value, consumed, err := decodeString(data[off:])
		if err != nil {
			return HeaderField{}, 0, err
		}
		return HeaderField{Name: e.Name, Value: value}, off + consumed, nil

	case b&0x20 != 0: // Literal Field Line With Literal Name: 001NHxxx (3-bit name-length prefix)
		name, off, err := decodeNameLiteral(data)
		if err != nil {
			return HeaderField{}, 0, err
		}
		value, consumed, err := decodeString(data[off:])
		if err != nil {
			return HeaderField{}, 0, err
		}
		return HeaderField{Name: name, Value: value}, off + consumed, nil

	default: // Indexed Field Line With Post-Base Index, or Literal With
		// Post-Base Name Reference — both reference the dynamic table.
		return HeaderField{}, 0, ErrDynamicTableReference
	}
}

// decodeString decodes an RFC 7541 §5.2 string literal starting at a
// fresh byte: an H bit (0x80), a 7-bit prefix length, and that many
// bytes, Huffman-coded if H is set. Used for every value field and for
// a name referenced by the "literal with name reference" form.
func decodeString(data []byte) (string, int, error) {
	if len(data) == 0 {
		return "", 0, ErrShortBuffer
	}
	huff := data[0]&0x80 != 0
	length, n, err := decodePrefixedInt(data[0], 7, data[1:])
	if err != nil {
		return "", 0, err
	}
	return finishString(data, 1+n, int(length), huff)
}

// decodeNameLiteral decodes the name of a "Literal Field Line With
// Literal Name" (RFC 9204 §4.5.6): the first byte carries the 001N
// type tag plus an H bit (0x08) and a 3-bit length prefix, distinct
// from the 7-bit prefix every other string literal uses.
func decodeNameLiteral(data []byte) (string, int, error) {
	if len(data) == 0 {
		return "", 0, ErrShortBuffer
	}
	huff := data[0]&0x08 != 0
	length, n, err := decodePrefixedInt(data[0], 3, data[1:])
	if err != nil {
		return "", 0, err
	}
	return finishString(data, 1+n, int(length), huff)
}

func finishString(data []byte, off, length int, huff bool) (string, int, error) {
	if len(data)-off < length {
		return "", 0, ErrShortBuffer
	}
	raw := data[off : off+length]
	if !huff {
		return string(raw), off + length, nil
	}
	s, err := hpack.HuffmanDecodeToString(raw)
	if err != nil {
		return "", 0, err
	}
	return s, off + length, nil
}

func staticEntry(idx uint64) (Entry, error) {
	if idx >= uint64(len(StaticTable)) {
		return Entry{}, ErrDynamicTableReference
	}
	return StaticTable[idx], nil
}
