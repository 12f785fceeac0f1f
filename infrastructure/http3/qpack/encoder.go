package qpack

import "golang.org/x/net/http2/hpack"

// EncodeFieldSection encodes fields as a complete QPACK field section:
// the two-byte prefix (Required Insert Count and Base, both always 0
// since this encoder never uses the dynamic table) followed by one
// field line per field, in order. Per spec.md's Non-goals this encoder
// has no dynamic-table heuristics; it always prefers an indexed static
// line, falls back to a name reference, and only then a literal name.
func EncodeFieldSection(fields []HeaderField) []byte {
	out := make([]byte, 0, 32)
	out = append(out, 0x00) // Required Insert Count = 0
	out = append(out, 0x00) // Base sign + delta = 0
	for _, f := range fields {
		out = appendFieldLine(out, f)
	}
	return out
}

func appendFieldLine(dst []byte, f HeaderField) []byte {
	if idx, ok := FindExact(f.Name, f.Value); ok {
		return appendPrefixedInt(dst, 0xc0, 6, uint64(idx))
	}
	if idx, ok := FindName(f.Name); ok {
		dst = appendPrefixedInt(dst, 0x50, 4, uint64(idx))
		return appendString(dst, f.Value)
	}
	dst = appendNameLiteral(dst, f.Name)
	return appendString(dst, f.Value)
}

// appendString encodes v as an RFC 7541 §5.2 string literal with a
// 7-bit length prefix, Huffman-coding it when that is strictly
// shorter than the raw bytes.
func appendString(dst []byte, v string) []byte {
	if n := hpack.HuffmanEncodeLength(v); n < uint64(len(v)) {
		dst = appendPrefixedInt(dst, 0x80, 7, n)
		return hpack.AppendHuffmanString(dst, v)
	}
	dst = appendPrefixedInt(dst, 0x00, 7, uint64(len(v)))
	return append(dst, v...)
}

// appendNameLiteral encodes name as a "Literal Field Line With Literal
// Name" name field: the 001N type tag, an H bit, and a 3-bit length
// prefix (RFC 9204 §4.5.6), Huffman-coded when shorter.
func appendNameLiteral(dst []byte, name string) []byte {
	if n := hpack.HuffmanEncodeLength(name); n < uint64(len(name)) {
		dst = appendPrefixedInt(dst, 0x28, 3, n)
		return hpack.AppendHuffmanString(dst, name)
	}
	dst = appendPrefixedInt(dst, 0x20, 3, uint64(len(name)))
	return append(dst, name...)
}
