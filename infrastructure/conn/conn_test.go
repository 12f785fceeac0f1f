package conn

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"quictransport/domain/streamid"
	"quictransport/domain/transportparams"
	"quictransport/domain/wire"
	"quictransport/infrastructure/events"
)

func testConfig() Config {
	return Config{
		TLSConfig: &tls.Config{},
		Version:   wire.Version1,
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("expected error for missing TLSConfig/Version")
	}
}

func TestNewStartsIdle(t *testing.T) {
	c, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("got state %s", c.State())
	}
}

func TestCloseTransitionsToClosing(t *testing.T) {
	c, err := New(testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Close(0x100, "bye")
	if c.State() != StateClosing {
		t.Fatalf("got state %s", c.State())
	}
	ev, ok := c.Events().TryNext()
	if !ok || ev.Kind != events.KindConnectionClose {
		t.Fatalf("expected a ConnectionClose event, got %+v ok=%v", ev, ok)
	}
	if ev.CloseCode != 0x100 || ev.CloseReason != "bye" {
		t.Fatalf("got %+v", ev)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := New(testConfig(), nil)
	c.Close(1, "a")
	c.Close(2, "b")
	if c.Events().Len() != 1 {
		t.Fatalf("expected exactly one close event, got %d", c.Events().Len())
	}
}

func TestMaybeRetransmitCloseStopsAfter3PTO(t *testing.T) {
	c, _ := New(testConfig(), nil)
	c.Close(0, "bye")
	now := c.closeSentAt

	if !c.MaybeRetransmitClose(now.Add(time.Millisecond)) {
		t.Fatal("expected a retransmit shortly after close")
	}
	pto := c.rttEstimator.PTO()
	if c.MaybeRetransmitClose(now.Add(3*pto + time.Millisecond)) {
		t.Fatal("expected no retransmit past 3 PTO")
	}
	if c.State() != StateDraining {
		t.Fatalf("got state %s", c.State())
	}
}

// TestWriteStreamAccumulatesAcrossWindowRaise reproduces spec.md §8
// scenario S4: a 15-byte write against a 10-byte send window suspends
// after the first 10 bytes are admitted, then resolves with all 15 once
// the peer raises the stream's limit to 20.
func TestWriteStreamAccumulatesAcrossWindowRaise(t *testing.T) {
	cfg := testConfig()
	cfg.Params = transportparams.Defaults()
	cfg.Params.InitialMaxData = 1 << 20 // large enough that only the stream-level limit below binds
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.streams.SetPeerStreamLimits(1, 1)
	c.peerParams.InitialMaxStreamDataBidiRemote = 10

	s, err := c.OpenStream(streamid.Bidirectional)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	result := make(chan int, 1)
	errCh := make(chan error, 1)
	go func() {
		n, err := c.WriteStream(context.Background(), s.ID, make([]byte, 15))
		result <- n
		errCh <- err
	}()

	// Give the writer goroutine a chance to admit the first 10 bytes and
	// block waiting for the rest.
	time.Sleep(20 * time.Millisecond)
	select {
	case n := <-result:
		t.Fatalf("WriteStream returned early with n=%d, want it still blocked", n)
	default:
	}

	c.mu.Lock()
	s.RaiseSendLimit(20)
	c.rw.Broadcast()
	c.mu.Unlock()

	select {
	case n := <-result:
		if n != 15 {
			t.Fatalf("got n=%d, want 15", n)
		}
		if err := <-errCh; err != nil {
			t.Fatalf("got err=%v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WriteStream never resolved after the limit was raised")
	}
}

func TestAdvanceDrainingClosesEventQueue(t *testing.T) {
	c, _ := New(testConfig(), nil)
	c.Close(0, "bye")
	c.MaybeRetransmitClose(c.closeSentAt.Add(time.Hour))
	if c.State() != StateDraining {
		t.Fatalf("got state %s", c.State())
	}
	c.AdvanceDraining()
	if c.State() != StateClosed {
		t.Fatalf("got state %s", c.State())
	}
	c.Events().TryNext() // the close event pushed by Close
	if _, err := c.Events().Next(context.Background()); err != events.ErrQueueClosed {
		t.Fatalf("expected ErrQueueClosed once drained, got %v", err)
	}
}
