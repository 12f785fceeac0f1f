package streams

import "testing"

func TestReassembler_GapsThenFill(t *testing.T) {
	r := NewReassembler()
	if err := r.Insert(0, []byte("abc"), false); err != nil {
		t.Fatal(err)
	}
	if err := r.Insert(6, []byte("ghi"), true); err != nil {
		t.Fatal(err)
	}
	// The gap at offset 3 holds back "ghi": only the contiguous prefix is readable.
	if data, _ := r.Read(); string(data) != "abc" {
		t.Fatalf("expected only the contiguous prefix abc, got %q", data)
	}
	if err := r.Insert(3, []byte("def"), false); err != nil {
		t.Fatal(err)
	}
	data, fin := r.Read()
	if string(data) != "defghi" || !fin {
		t.Fatalf("got data=%q fin=%v, want defghi/true", data, fin)
	}
	// Second read: EOF, no more data, fin remains reported since we're at final size.
	data, fin = r.Read()
	if data != nil {
		t.Fatalf("expected no more data, got %q", data)
	}
	if !fin {
		t.Fatal("expected fin still true once final size is reached")
	}
}

func TestReassembler_OverlapConsistent(t *testing.T) {
	r := NewReassembler()
	if err := r.Insert(0, []byte("abcdef"), false); err != nil {
		t.Fatal(err)
	}
	// Overlapping re-send with identical bytes must succeed.
	if err := r.Insert(2, []byte("cdefgh"), false); err != nil {
		t.Fatalf("expected consistent overlap to succeed: %v", err)
	}
	data, _ := r.Read()
	if string(data) != "abcdefgh" {
		t.Fatalf("got %q, want abcdefgh", data)
	}
}

func TestReassembler_OverlapMismatch(t *testing.T) {
	r := NewReassembler()
	if err := r.Insert(0, []byte("abcdef"), false); err != nil {
		t.Fatal(err)
	}
	if err := r.Insert(2, []byte("XYdefg"), false); err == nil {
		t.Fatal("expected overlap mismatch error")
	}
}

func TestReassembler_FinalSizeMismatch(t *testing.T) {
	r := NewReassembler()
	if err := r.Insert(0, []byte("abc"), true); err != nil {
		t.Fatal(err)
	}
	if err := r.Insert(5, []byte("x"), true); err == nil {
		t.Fatal("expected final size mismatch")
	}
}

func TestReassembler_DuplicateDelivered(t *testing.T) {
	r := NewReassembler()
	_ = r.Insert(0, []byte("abc"), false)
	data, _ := r.Read()
	if string(data) != "abc" {
		t.Fatalf("got %q", data)
	}
	// Re-delivering already-read bytes must be silently dropped.
	if err := r.Insert(0, []byte("abc"), false); err != nil {
		t.Fatalf("expected duplicate of delivered data to be a no-op: %v", err)
	}
}
