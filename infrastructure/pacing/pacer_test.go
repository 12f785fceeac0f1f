package pacing

import (
	"testing"
	"time"
)

func TestPacer_BurstsUpToCapacity(t *testing.T) {
	now := time.Now()
	p := NewPacer(1200, now)
	if !p.CanSend(now, 10*1200) {
		t.Fatal("expected full burst capacity to be available immediately")
	}
	if p.CanSend(now, 10*1200+1) {
		t.Fatal("expected bucket to reject more than its capacity")
	}
}

func TestPacer_RefillsOverTime(t *testing.T) {
	now := time.Now()
	p := NewPacer(1200, now)
	p.SetRate(1200*10, InitialCWND(), 100*time.Millisecond) // 12000 bytes/sec
	p.OnSent(now, 12000)
	if p.CanSend(now, 1) {
		t.Fatal("expected bucket to be empty immediately after draining it")
	}
	later := now.Add(time.Second)
	if !p.CanSend(later, 1000) {
		t.Fatal("expected bucket to refill after one second at 12000 B/s")
	}
}

func TestPacer_NextSendTime(t *testing.T) {
	now := time.Now()
	p := NewPacer(1200, now)
	p.SetRate(1200, InitialCWND(), 100*time.Millisecond)
	p.OnSent(now, int(p.capacity))
	next := p.NextSendTime(now, 1200)
	if !next.After(now) {
		t.Fatal("expected next send time to be in the future once the bucket is drained")
	}
}

// InitialCWND is a small test helper mirroring the congestion package's
// constant without importing it, to keep this package dependency-free.
func InitialCWND() int { return 12000 }
