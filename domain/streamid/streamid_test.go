package streamid

import "testing"

func TestNewAndAccessors(t *testing.T) {
	cases := []struct {
		seq       uint64
		initiator Initiator
		direction Direction
	}{
		{0, InitiatorClient, Bidirectional},
		{0, InitiatorServer, Bidirectional},
		{0, InitiatorClient, Unidirectional},
		{0, InitiatorServer, Unidirectional},
		{17, InitiatorClient, Bidirectional},
		{1<<58 - 1, InitiatorServer, Unidirectional},
	}
	for _, c := range cases {
		id := New(c.seq, c.initiator, c.direction)
		if id.Initiator() != c.initiator {
			t.Errorf("New(%d,%v,%v).Initiator() = %v", c.seq, c.initiator, c.direction, id.Initiator())
		}
		if id.Direction() != c.direction {
			t.Errorf("New(%d,%v,%v).Direction() = %v", c.seq, c.initiator, c.direction, id.Direction())
		}
		if id.Sequence() != c.seq {
			t.Errorf("New(%d,%v,%v).Sequence() = %d", c.seq, c.initiator, c.direction, id.Sequence())
		}
	}
}

func TestKnownIDs(t *testing.T) {
	// RFC 9000 §2.1 examples: 0 is client-initiated bidi, 1 is
	// server-initiated bidi, 2 is client-initiated uni, 3 is
	// server-initiated uni.
	if got := New(0, InitiatorClient, Bidirectional); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	if got := New(0, InitiatorServer, Bidirectional); got != 1 {
		t.Errorf("got %d, want 1", got)
	}
	if got := New(0, InitiatorClient, Unidirectional); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
	if got := New(0, InitiatorServer, Unidirectional); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
}

func TestLocalInitiated(t *testing.T) {
	clientStream := New(4, InitiatorClient, Bidirectional)
	if !clientStream.LocalInitiated(true) {
		t.Error("client-initiated stream should be local to the client")
	}
	if clientStream.LocalInitiated(false) {
		t.Error("client-initiated stream should not be local to the server")
	}
}
