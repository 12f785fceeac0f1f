package streams

import (
	"quictransport/domain/streamid"
	"quictransport/infrastructure/flowcontrol"
	"testing"
)

func newTestStream(sendLimit, connLimit uint64) *Stream {
	flow := &flowcontrol.Controller{Conn: flowcontrol.NewSender(connLimit), Stream: flowcontrol.NewSender(sendLimit)}
	return NewStream(streamid.New(0, streamid.InitiatorClient, streamid.Bidirectional), flow, 1000)
}

func TestStream_WriteBlocksAtFlowLimit(t *testing.T) {
	s := newTestStream(10, 1000)
	n, err := s.Write([]byte("0123456789ABCDE")) // 15 bytes, limit 10
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("wrote %d bytes, want 10 (flow-limited)", n)
	}
	s.flow.Stream.OnMaxDataUpdate(20)
	n2, err := s.Write([]byte("ABCDE"))
	if err != nil {
		t.Fatal(err)
	}
	if n2 != 5 {
		t.Fatalf("wrote %d bytes after window update, want 5", n2)
	}
}

func TestStream_FinOnlyAfterAllBytesFramed(t *testing.T) {
	s := newTestStream(1000, 1000)
	s.Write([]byte("hello"))
	s.CloseSend()

	off, data, fin, ok := s.NextFrame(3)
	if !ok || fin {
		t.Fatalf("first partial frame should not carry fin: off=%d data=%q fin=%v", off, data, fin)
	}
	off, data, fin, ok = s.NextFrame(100)
	if !ok || !fin || string(data) != "lo" {
		t.Fatalf("final frame should carry fin with remaining bytes: off=%d data=%q fin=%v", off, data, fin)
	}
}

func TestStream_ReceiveAndReadInOrder(t *testing.T) {
	s := newTestStream(1000, 1000)
	_ = s.ReceiveFrame(0, []byte("abc"), false)
	_ = s.ReceiveFrame(3, []byte("def"), true)
	data, fin, err := s.Read()
	if err != nil || string(data) != "abcdef" || !fin {
		t.Fatalf("data=%q fin=%v err=%v", data, fin, err)
	}
}

func TestStream_ResetDiscardsAndSurfacesError(t *testing.T) {
	s := newTestStream(1000, 1000)
	_ = s.ReceiveFrame(0, []byte("abc"), false)
	s.OnReset(42)
	_, _, err := s.Read()
	var resetErr *ErrStreamReset
	if err == nil {
		t.Fatal("expected reset error")
	}
	if re, ok := err.(*ErrStreamReset); !ok || re.Code != 42 {
		resetErr = re
		t.Fatalf("expected ErrStreamReset{Code:42}, got %v (%v)", err, resetErr)
	}
}

func TestStream_DestroyableOnlyWhenBothSidesTerminalAndAcked(t *testing.T) {
	s := newTestStream(1000, 1000)
	s.Write([]byte("hi"))
	s.CloseSend()
	for {
		_, _, _, ok := s.NextFrame(1000)
		if !ok {
			break
		}
	}
	_ = s.ReceiveFrame(0, nil, true)
	s.Read()
	if s.Destroyable() {
		t.Fatal("should not be destroyable before the final send offset is acked")
	}
	s.OnSendAcked(2)
	if !s.Destroyable() {
		t.Fatal("expected destroyable once both directions are terminal and acked")
	}
}
