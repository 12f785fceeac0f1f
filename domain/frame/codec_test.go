package frame

import (
	"bytes"
	"math/rand"
	"testing"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	encoded, err := f.AppendTo(nil)
	if err != nil {
		t.Fatalf("AppendTo: %v", err)
	}
	got, n, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("Parse consumed %d bytes, want %d", n, len(encoded))
	}
	return got
}

func TestRoundTripAllTypes(t *testing.T) {
	cases := []Frame{
		PingFrame{},
		ACKFrame{LargestAcked: 100, AckDelay: 5, FirstRange: 3},
		ACKFrame{LargestAcked: 100, AckDelay: 5, FirstRange: 3, Ranges: []AckRange{{Gap: 1, Length: 2}}},
		ACKFrame{LargestAcked: 100, AckDelay: 5, FirstRange: 3, ECN: true, ECT0: 1, ECT1: 2, ECNCE: 3},
		ResetStreamFrame{StreamID: 4, AppError: 1, FinalSize: 1000},
		StopSendingFrame{StreamID: 4, AppError: 2},
		CryptoFrame{Offset: 10, Data: []byte("hello")},
		NewTokenFrame{Token: []byte{1, 2, 3}},
		StreamFrame{StreamID: 4, Data: []byte("abc"), Fin: true},
		StreamFrame{StreamID: 8, Offset: 5, Data: []byte("def")},
		MaxDataFrame{MaximumData: 1 << 20},
		MaxStreamDataFrame{StreamID: 4, MaximumData: 1 << 10},
		MaxStreamsFrame{Bidi: true, MaxStreams: 100},
		MaxStreamsFrame{Bidi: false, MaxStreams: 50},
		DataBlockedFrame{MaximumData: 42},
		StreamDataBlockedFrame{StreamID: 4, MaximumData: 42},
		StreamsBlockedFrame{Bidi: true, MaxStreams: 10},
		NewConnectionIDFrame{SequenceNumber: 1, RetirePriorTo: 0, ConnectionID: []byte{1, 2, 3, 4}},
		RetireConnectionIDFrame{SequenceNumber: 2},
		PathChallengeFrame{Data: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}},
		PathResponseFrame{Data: [8]byte{8, 7, 6, 5, 4, 3, 2, 1}},
		ConnectionCloseFrame{ErrorCode: 7, FrameType: 0x1a, ReasonPhrase: "bad frame"},
		ConnectionCloseFrame{App: true, ErrorCode: 0x100, ReasonPhrase: "bye"},
		HandshakeDoneFrame{},
		DatagramFrame{Data: []byte("dg"), ExplicitLen: true},
	}

	for _, c := range cases {
		got := roundTrip(t, c)
		if got.Type() != c.Type() {
			t.Errorf("%#v: Type mismatch got %v want %v", c, got.Type(), c.Type())
		}
	}
}

func TestConnectionCloseAppRoundTrip(t *testing.T) {
	f := ConnectionCloseFrame{App: true, ErrorCode: 0x100, ReasonPhrase: "bye"}
	got := roundTrip(t, f).(ConnectionCloseFrame)
	if got.ErrorCode != 0x100 || got.ReasonPhrase != "bye" || !got.App {
		t.Fatalf("got %+v", got)
	}
}

func TestPaddingParsesRun(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x01}
	f, n, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n != 3 {
		t.Fatalf("Parse consumed %d, want 3", n)
	}
	pf, ok := f.(PaddingFrame)
	if !ok || pf.Length != 3 {
		t.Fatalf("got %+v", f)
	}
}

func TestShortBufferErrors(t *testing.T) {
	full, err := CryptoFrame{Offset: 1, Data: []byte("hello world")}.AppendTo(nil)
	if err != nil {
		t.Fatal(err)
	}
	for n := 0; n < len(full)-1; n++ {
		if _, _, err := Parse(full[:n]); err == nil {
			t.Errorf("Parse(truncated to %d bytes) succeeded, want error", n)
		}
	}
}

func TestUnknownFrameType(t *testing.T) {
	if _, _, err := Parse([]byte{0x21}); err != ErrUnknownFrameType {
		t.Fatalf("err = %v, want ErrUnknownFrameType", err)
	}
}

func TestStreamFrameRandomizedRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 2000; i++ {
		data := make([]byte, rng.Intn(200))
		rng.Read(data)
		f := StreamFrame{
			StreamID: uint64(rng.Intn(1 << 20)),
			Offset:   uint64(rng.Intn(1 << 30)),
			Data:     data,
			Fin:      rng.Intn(2) == 0,
		}
		got := roundTrip(t, f).(StreamFrame)
		if got.StreamID != f.StreamID || got.Offset != f.Offset || got.Fin != f.Fin || !bytes.Equal(got.Data, f.Data) {
			t.Fatalf("mismatch: got %+v want %+v", got, f)
		}
	}
}
