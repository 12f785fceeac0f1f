package connid

import "testing"

func TestNewRejectsOverlong(t *testing.T) {
	if _, err := New(make([]byte, MaxLen+1)); err != ErrTooLong {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
}

func TestGenerateLength(t *testing.T) {
	id, err := Generate(8)
	if err != nil {
		t.Fatal(err)
	}
	if id.Len() != 8 {
		t.Fatalf("Len() = %d, want 8", id.Len())
	}
}

func TestEqualAndString(t *testing.T) {
	a, _ := New([]byte{0xde, 0xad, 0xbe, 0xef})
	b, _ := New([]byte{0xde, 0xad, 0xbe, 0xef})
	c, _ := New([]byte{0x01})
	if !a.Equal(b) {
		t.Fatal("identical byte slices should compare equal")
	}
	if a.Equal(c) {
		t.Fatal("different byte slices should not compare equal")
	}
	if a.String() != "deadbeef" {
		t.Fatalf("String() = %q, want %q", a.String(), "deadbeef")
	}
}

func TestPoolIssueAndRetire(t *testing.T) {
	p := NewPool()
	id1, _ := New([]byte{0x01})
	id2, _ := New([]byte{0x02})

	iss1 := p.Issue(id1, [16]byte{1})
	iss2 := p.Issue(id2, [16]byte{2})
	if iss1.Seq != 0 || iss2.Seq != 1 {
		t.Fatalf("sequences = %d, %d; want 0, 1", iss1.Seq, iss2.Seq)
	}
	if p.Active() != 2 {
		t.Fatalf("Active() = %d, want 2", p.Active())
	}

	if _, err := p.Retire(0); err != nil {
		t.Fatal(err)
	}
	if p.Active() != 1 {
		t.Fatalf("Active() = %d, want 1 after retire", p.Active())
	}
	if _, err := p.Retire(0); err != ErrSeqRetired {
		t.Fatalf("err = %v, want ErrSeqRetired", err)
	}
	if _, err := p.Retire(99); err != ErrSeqUnknown {
		t.Fatalf("err = %v, want ErrSeqUnknown", err)
	}
}

func TestPoolRetireBelow(t *testing.T) {
	p := NewPool()
	ids := make([]ID, 5)
	for i := range ids {
		ids[i], _ = New([]byte{byte(i)})
		p.Issue(ids[i], [16]byte{})
	}
	retired := p.RetireBelow(3)
	if len(retired) != 3 {
		t.Fatalf("RetireBelow(3) retired %d ids, want 3", len(retired))
	}
	if p.Active() != 2 {
		t.Fatalf("Active() = %d, want 2", p.Active())
	}
	// RetireBelow with a higher threshold does not report already-retired
	// sequences again (no duplicate retirement); only seq 3 is new.
	retiredAgain := p.RetireBelow(4)
	if len(retiredAgain) != 1 {
		t.Fatalf("RetireBelow(4) retired %d ids, want 1 (only seq 3)", len(retiredAgain))
	}
}
