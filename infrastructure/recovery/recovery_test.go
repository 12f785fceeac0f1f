package recovery

import (
	"testing"
	"time"
)

func TestRTTEstimator_FirstSample(t *testing.T) {
	e := NewRTTEstimator(25 * time.Millisecond)
	sent := time.Now()
	e.OnAck(sent, sent.Add(50*time.Millisecond), 0)
	if e.SmoothedRTT != 50*time.Millisecond {
		t.Fatalf("smoothed rtt = %v, want 50ms", e.SmoothedRTT)
	}
	if e.MinRTT != 50*time.Millisecond {
		t.Fatalf("min rtt = %v, want 50ms", e.MinRTT)
	}
}

func TestSpace_OnAck_MarksBytesAcked(t *testing.T) {
	rtt := NewRTTEstimator(25 * time.Millisecond)
	s := NewSpace(rtt)
	now := time.Now()
	s.OnPacketSent(SentPacket{PacketNumber: 0, SentAt: now, Size: 100, AckEliciting: true, InFlight: true})
	s.OnPacketSent(SentPacket{PacketNumber: 1, SentAt: now, Size: 100, AckEliciting: true, InFlight: true})

	result := s.OnAck([]int64{0}, 0, now.Add(10*time.Millisecond))
	if result.AckedBytes != 100 {
		t.Fatalf("acked bytes = %d, want 100", result.AckedBytes)
	}
	if s.BytesInFlight != 100 {
		t.Fatalf("bytes in flight = %d, want 100", s.BytesInFlight)
	}
}

func TestSpace_DetectLossByPacketThreshold(t *testing.T) {
	rtt := NewRTTEstimator(25 * time.Millisecond)
	s := NewSpace(rtt)
	now := time.Now()
	for i := int64(0); i < 5; i++ {
		s.OnPacketSent(SentPacket{PacketNumber: i, SentAt: now, Size: 100, AckEliciting: true, InFlight: true})
	}
	// Acking packet 4 (3 ahead of packet 0/1) must declare 0 and 1 lost
	// by packet-number threshold even though no time has passed.
	result := s.OnAck([]int64{4}, 0, now)
	lostPNs := map[int64]bool{}
	for _, p := range result.Lost {
		lostPNs[p.PacketNumber] = true
	}
	if !lostPNs[0] || !lostPNs[1] {
		t.Fatalf("expected packets 0 and 1 lost, got %+v", result.Lost)
	}
	if lostPNs[2] {
		t.Fatalf("packet 2 is only 2 behind, should not be lost yet")
	}
}

func TestSpace_PTODeadline_Backoff(t *testing.T) {
	rtt := NewRTTEstimator(25 * time.Millisecond)
	rtt.SmoothedRTT = 100 * time.Millisecond
	rtt.RTTVar = 10 * time.Millisecond
	s := NewSpace(rtt)
	now := time.Now()
	s.OnPacketSent(SentPacket{PacketNumber: 0, SentAt: now, Size: 100, AckEliciting: true, InFlight: true})

	d0, ok := s.PTODeadline()
	if !ok {
		t.Fatal("expected a PTO deadline with in-flight data")
	}
	base := d0.Sub(now)

	s.PTOCount = 1
	d1, _ := s.PTODeadline()
	if d1.Sub(now) != 2*base {
		t.Fatalf("pto backoff: got %v want %v", d1.Sub(now), 2*base)
	}
}

func TestSpace_NoInFlight_NoDeadline(t *testing.T) {
	rtt := NewRTTEstimator(25 * time.Millisecond)
	s := NewSpace(rtt)
	if _, ok := s.PTODeadline(); ok {
		t.Fatal("expected no PTO deadline with nothing in flight")
	}
}
