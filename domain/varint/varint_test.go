package varint

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestRoundTripVectors(t *testing.T) {
	cases := []struct {
		value uint64
		hex   string
	}{
		{151288809941952652, "c2197c5eff14e88c"},
		{494878333, "9d7f3e7d"},
		{15293, "7bbd"},
		{37, "25"},
	}

	for _, c := range cases {
		enc, err := Encode(nil, c.value)
		if err != nil {
			t.Fatalf("Encode(%d): %v", c.value, err)
		}
		if got := hexString(enc); got != c.hex {
			t.Errorf("Encode(%d) = %s, want %s", c.value, got, c.hex)
		}

		v, n, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode(%x): %v", enc, err)
		}
		if v != c.value || n != len(enc) {
			t.Errorf("Decode(%x) = (%d, %d), want (%d, %d)", enc, v, n, c.value, len(enc))
		}
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100000; i++ {
		v := uint64(rng.Int63n(MaxValue + 1))
		enc, err := Encode(nil, v)
		if err != nil {
			t.Fatalf("Encode(%d): %v", v, err)
		}

		wantLen, _ := Len(v)
		if len(enc) != wantLen {
			t.Fatalf("Encode(%d) produced %d bytes, want minimal %d", v, len(enc), wantLen)
		}

		got, n, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got != v || n != len(enc) {
			t.Fatalf("round trip mismatch: got (%d,%d) want (%d,%d)", got, n, v, len(enc))
		}
	}
}

func TestDecodeAcceptsNonCanonical(t *testing.T) {
	// 37 encoded in the 2-byte form instead of the canonical 1-byte form.
	nonCanonical := []byte{0x40, 37}
	v, n, err := Decode(nonCanonical)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v != 37 || n != 2 {
		t.Fatalf("Decode(non-canonical) = (%d,%d), want (37,2)", v, n)
	}
}

func TestEncodeValueTooLarge(t *testing.T) {
	if _, err := Encode(nil, MaxValue+1); err != ErrValueTooLarge {
		t.Fatalf("Encode(MaxValue+1) error = %v, want ErrValueTooLarge", err)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	cases := [][]byte{{}, {0x40}, {0x80, 0, 0}, {0xc0, 0, 0, 0, 0, 0, 0}}
	for _, c := range cases {
		if _, _, err := Decode(c); err != ErrShortBuffer {
			t.Errorf("Decode(%x) error = %v, want ErrShortBuffer", c, err)
		}
	}
}

func hexString(b []byte) string {
	var buf bytes.Buffer
	const hexdigits = "0123456789abcdef"
	for _, c := range b {
		buf.WriteByte(hexdigits[c>>4])
		buf.WriteByte(hexdigits[c&0xf])
	}
	return buf.String()
}
