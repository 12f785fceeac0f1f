package rekey

import (
	"bytes"
	"testing"
	"time"

	"quictransport/infrastructure/qcrypto"
	"quictransport/infrastructure/qcrypto/keyschedule"
)

func seedController(t *testing.T) *Controller {
	t.Helper()
	localSecret := make([]byte, 32)
	peerSecret := make([]byte, 32)
	for i := range localSecret {
		localSecret[i] = byte(i)
		peerSecret[i] = byte(255 - i)
	}
	writeKeys, err := keyschedule.DeriveLevelKeys(localSecret, qcrypto.SuiteAES128GCM)
	if err != nil {
		t.Fatal(err)
	}
	readKeys, err := keyschedule.DeriveLevelKeys(peerSecret, qcrypto.SuiteAES128GCM)
	if err != nil {
		t.Fatal(err)
	}
	return NewController(qcrypto.SuiteAES128GCM, localSecret, peerSecret, writeKeys, readKeys)
}

func TestInitiateSwitchesWriteKeysImmediately(t *testing.T) {
	c := seedController(t)
	before := c.WriteKeys()

	gen, err := c.Initiate()
	if err != nil {
		t.Fatal(err)
	}
	if gen != 1 {
		t.Fatalf("generation = %d, want 1", gen)
	}
	if c.State() != StateUpdating {
		t.Fatalf("state = %v, want Updating", c.State())
	}

	after := c.WriteKeys()
	if bytes.Equal(before.Key, after.Key) {
		t.Fatal("write keys did not rotate on Initiate")
	}
}

func TestInitiateRejectsSecondInFlight(t *testing.T) {
	c := seedController(t)
	if _, err := c.Initiate(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Initiate(); err != ErrUpdateInFlight {
		t.Fatalf("err = %v, want ErrUpdateInFlight", err)
	}
}

func TestResolveReadAcceptsOldAndNewPhaseDuringUpdate(t *testing.T) {
	c := seedController(t)
	oldGenPhase := Generation(0).KeyPhase()

	if _, _, ok := c.ResolveRead(oldGenPhase); !ok {
		t.Fatal("expected to resolve generation-0 read keys before any update")
	}

	if _, err := c.Initiate(); err != nil {
		t.Fatal(err)
	}

	// Old phase (generation 0) must still resolve: reordered packets
	// sent before the peer saw our phase flip.
	if _, g, ok := c.ResolveRead(oldGenPhase); !ok || g != 0 {
		t.Fatalf("ResolveRead(old) = (%v, %v), want (0, true)", g, ok)
	}
	newPhase := Generation(1).KeyPhase()
	if _, g, ok := c.ResolveRead(newPhase); !ok || g != 1 {
		t.Fatalf("ResolveRead(new) = (%v, %v), want (1, true)", g, ok)
	}
}

func TestConfirmFinalizesUpdate(t *testing.T) {
	c := seedController(t)
	gen, err := c.Initiate()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Confirm(gen); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateActive {
		t.Fatalf("state = %v, want Active", c.State())
	}
	if c.Generation() != gen {
		t.Fatalf("generation = %d, want %d", c.Generation(), gen)
	}
	// A new update can now be initiated.
	if _, err := c.Initiate(); err != nil {
		t.Fatalf("Initiate after Confirm: %v", err)
	}
}

func TestConfirmRejectsWrongGeneration(t *testing.T) {
	c := seedController(t)
	if _, err := c.Initiate(); err != nil {
		t.Fatal(err)
	}
	if err := c.Confirm(99); err != ErrNotUpdating {
		t.Fatalf("err = %v, want ErrNotUpdating", err)
	}
}

func TestAbortReturnsToActive(t *testing.T) {
	c := seedController(t)
	gen, err := c.Initiate()
	if err != nil {
		t.Fatal(err)
	}
	c.Abort()
	if c.State() != StateActive {
		t.Fatalf("state = %v, want Active", c.State())
	}
	if c.Generation() != gen {
		t.Fatalf("generation = %d, want %d (abort adopts the rotated generation)", c.Generation(), gen)
	}
}

func TestMaybeAbortTimesOut(t *testing.T) {
	c := seedController(t)
	c.SetPendingTimeout(10 * time.Millisecond)
	if _, err := c.Initiate(); err != nil {
		t.Fatal(err)
	}
	c.MaybeAbort(time.Now().Add(time.Hour))
	if c.State() != StateActive {
		t.Fatalf("state = %v, want Active after timeout", c.State())
	}
}

func TestOnPeerKeyPhaseFlipSynchronizesBothDirections(t *testing.T) {
	c := seedController(t)
	beforeWrite := c.WriteKeys()

	if err := c.OnPeerKeyPhaseFlip(1); err != nil {
		t.Fatal(err)
	}
	if c.Generation() != 1 {
		t.Fatalf("generation = %d, want 1", c.Generation())
	}
	if c.State() != StateActive {
		t.Fatalf("state = %v, want Active (peer-driven updates do not block local sends)", c.State())
	}
	afterWrite := c.WriteKeys()
	if bytes.Equal(beforeWrite.Key, afterWrite.Key) {
		t.Fatal("write keys should synchronize to the peer-driven generation")
	}
}

func TestOnPeerKeyPhaseFlipRejectsNonContiguous(t *testing.T) {
	c := seedController(t)
	if err := c.OnPeerKeyPhaseFlip(5); err == nil {
		t.Fatal("expected error for non-contiguous generation jump")
	}
}

func TestGenerationRingEvictsOldest(t *testing.T) {
	k0 := keyschedule.Keys{Key: []byte{0}, IV: []byte{0}, HP: []byte{0}}
	k1 := keyschedule.Keys{Key: []byte{1}, IV: []byte{1}, HP: []byte{1}}
	k2 := keyschedule.Keys{Key: []byte{2}, IV: []byte{2}, HP: []byte{2}}

	r := NewGenerationRing(k0)
	r.Insert(1, k1)
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2", r.Len())
	}
	r.Insert(2, k2)
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2 after eviction", r.Len())
	}
	if _, ok := r.Resolve(0); ok {
		t.Fatal("generation 0 should have been evicted")
	}
	if _, ok := r.Resolve(1); !ok {
		t.Fatal("generation 1 should still be retained")
	}
	if _, ok := r.Resolve(2); !ok {
		t.Fatal("generation 2 should be retained")
	}
}
