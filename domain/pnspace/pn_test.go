package pnspace

import (
	"math/rand"
	"testing"
)

func TestDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20000; i++ {
		truePN := rng.Int63n(1 << 40)
		largestAcked := truePN - rng.Int63n(1<<20)
		if largestAcked < -1 {
			largestAcked = -1
		}

		pnLen := EncodeLength(truePN, largestAcked)
		truncated := Truncate(truePN, pnLen)
		got := Decode(largestAckedOrMinusOne(largestAcked), truncated, pnLen)
		if got != truePN {
			t.Fatalf("Decode mismatch: true=%d largestAcked=%d pnLen=%d truncated=%d got=%d",
				truePN, largestAcked, pnLen, truncated, got)
		}
	}
}

// largestAcked in Decode is "largest received", not "largest acked"; the
// window is centred one past it, matching RFC 9000 Appendix A semantics
// where we feed (largest successfully processed packet number).
func largestAckedOrMinusOne(v int64) int64 {
	if v < -1 {
		return -1
	}
	return v
}

func TestEncodeLengthGrows(t *testing.T) {
	if got := EncodeLength(0, -1); got != 1 {
		t.Errorf("EncodeLength(0,-1) = %d, want 1", got)
	}
	if got := EncodeLength(1<<20, -1); got < 3 {
		t.Errorf("EncodeLength(2^20,-1) = %d, want >= 3", got)
	}
}
