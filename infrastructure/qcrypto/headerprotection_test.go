package qcrypto

import (
	"crypto/rand"
	"testing"
)

func TestHeaderProtectionRoundTripAES(t *testing.T) {
	key := make([]byte, 16)
	rand.Read(key)
	hp, err := NewAESHeaderProtector(key)
	if err != nil {
		t.Fatal(err)
	}
	testHeaderProtectionRoundTrip(t, hp)
}

func TestHeaderProtectionRoundTripChaCha(t *testing.T) {
	key := make([]byte, 32)
	rand.Read(key)
	hp, err := NewChaChaHeaderProtector(key)
	if err != nil {
		t.Fatal(err)
	}
	testHeaderProtectionRoundTrip(t, hp)
}

func testHeaderProtectionRoundTrip(t *testing.T, hp HeaderProtector) {
	t.Helper()
	for trial := 0; trial < 100; trial++ {
		sample := make([]byte, 16)
		rand.Read(sample)

		firstByte := byte(0xc3) // long header, fixed bit set
		pnLen := 1 + trial%4
		pn := make([]byte, pnLen)
		rand.Read(pn)

		origFirst := firstByte
		origPN := append([]byte(nil), pn...)

		mask, err := hp.Mask(sample)
		if err != nil {
			t.Fatalf("Mask: %v", err)
		}
		ApplyMask(&firstByte, pn, mask, true)
		if want := origFirst ^ (mask[0] & 0x0f); firstByte != want {
			t.Fatalf("protecting applied the wrong first-byte mask (pnLen=%d): got %x want %x", pnLen, firstByte, want)
		}

		// Unprotect: same mask derived from the same sample, XOR is its
		// own inverse.
		mask2, err := hp.Mask(sample)
		if err != nil {
			t.Fatalf("Mask: %v", err)
		}
		ApplyMask(&firstByte, pn, mask2, true)

		if firstByte != origFirst {
			t.Fatalf("round trip first byte mismatch: got %x want %x", firstByte, origFirst)
		}
		for i := range pn {
			if pn[i] != origPN[i] {
				t.Fatalf("round trip pn mismatch at %d: got %x want %x", i, pn[i], origPN[i])
			}
		}
	}
}

func TestHeaderProtectionShortSample(t *testing.T) {
	key := make([]byte, 16)
	hp, _ := NewAESHeaderProtector(key)
	if _, err := hp.Mask(make([]byte, 15)); err != ErrShortSample {
		t.Fatalf("err = %v, want ErrShortSample", err)
	}
}
