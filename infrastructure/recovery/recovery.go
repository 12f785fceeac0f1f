// Package recovery implements RFC 9002 loss detection and RTT
// estimation: one instance per packet-number space, tracking sent
// packets, inferring losses from acknowledgments, and arming the
// probe-timeout (PTO) timer.
package recovery

import "time"

// kGranularity is the system timer granularity RFC 9002 §6.1.2 assumes.
const kGranularity = time.Millisecond

// kPacketThreshold is the reordering threshold in packets (RFC 9002 §6.1.1).
const kPacketThreshold = 3

// kTimeThreshold scales the loss delay relative to the RTT (RFC 9002 §6.1.2).
const kTimeThresholdNum = 9
const kTimeThresholdDen = 8

// kPersistentCongestionThreshold is the number of PTOs that must elapse
// with nothing but losses before the congestion window collapses
// (RFC 9002 §7.6).
const kPersistentCongestionThreshold = 3

// InitialRTT is the smoothed RTT assumed before any sample is taken
// (RFC 9002 §5.3).
const InitialRTT = 333 * time.Millisecond

// SentPacket is a sent-packet record: everything needed to detect its
// loss and, if lost, reconstruct a retransmission.
type SentPacket struct {
	PacketNumber int64
	SentAt       time.Time
	Size         int
	AckEliciting bool
	InFlight     bool
	Frames       []any // opaque frame values the caller requeues on loss
}

// RTTEstimator tracks RFC 9002 §5 smoothed RTT statistics. Shared across
// every packet-number space of a connection (there is one RTT estimate
// per connection, not per space).
type RTTEstimator struct {
	MinRTT   time.Duration
	SmoothedRTT time.Duration
	RTTVar   time.Duration
	LatestRTT time.Duration
	hasSample bool

	MaxAckDelay time.Duration
}

// NewRTTEstimator builds an estimator with RFC 9002's initial values.
func NewRTTEstimator(maxAckDelay time.Duration) *RTTEstimator {
	return &RTTEstimator{
		SmoothedRTT: InitialRTT,
		RTTVar:      InitialRTT / 2,
		MaxAckDelay: maxAckDelay,
	}
}

// OnAck updates the estimator from a round-trip sample. ackDelay is the
// peer-reported, already-decoded ack delay (0 unless the acked packet
// was ack-eliciting and this is the first newly-acked packet in the
// frame, per RFC 9002 §5.3).
func (e *RTTEstimator) OnAck(sentAt, now time.Time, ackDelay time.Duration) {
	latest := now.Sub(sentAt)
	if latest < 0 {
		latest = 0
	}
	e.LatestRTT = latest

	if !e.hasSample {
		e.hasSample = true
		e.MinRTT = latest
		e.SmoothedRTT = latest
		e.RTTVar = latest / 2
		return
	}

	if latest < e.MinRTT {
		e.MinRTT = latest
	}

	adjusted := latest
	if ackDelay > e.MaxAckDelay {
		ackDelay = e.MaxAckDelay
	}
	if latest >= e.MinRTT+ackDelay {
		adjusted = latest - ackDelay
	}

	rttvarSample := e.SmoothedRTT - adjusted
	if rttvarSample < 0 {
		rttvarSample = -rttvarSample
	}
	e.RTTVar = (3*e.RTTVar + rttvarSample) / 4
	e.SmoothedRTT = (7*e.SmoothedRTT + adjusted) / 8
}

// PTO computes the current probe timeout interval (RFC 9002 §6.2.1),
// excluding the 2^pto_count backoff.
func (e *RTTEstimator) PTO() time.Duration {
	rttvar4 := 4 * e.RTTVar
	if rttvar4 < kGranularity {
		rttvar4 = kGranularity
	}
	return e.SmoothedRTT + rttvar4 + e.MaxAckDelay
}

// LossDelay returns the time-threshold window beyond which an unacked
// packet older than the largest acked is declared lost (RFC 9002 §6.1.2).
func (e *RTTEstimator) LossDelay() time.Duration {
	rtt := e.SmoothedRTT
	if e.LatestRTT > rtt {
		rtt = e.LatestRTT
	}
	delay := rtt * kTimeThresholdNum / kTimeThresholdDen
	if delay < kGranularity {
		delay = kGranularity
	}
	return delay
}

// Space tracks sent, unacked packets for one packet-number space and
// infers losses against the shared RTT estimator.
type Space struct {
	rtt *RTTEstimator

	sent map[int64]*SentPacket
	// ordered ascending by packet number, mirrors sent's keys for
	// deterministic loss-detection sweeps without a map iteration.
	order []int64

	LargestAcked int64
	hasLargest   bool

	BytesInFlight int
	PTOCount      int
	LossTime      time.Time
}

// NewSpace builds an empty tracker bound to a shared RTT estimator.
func NewSpace(rtt *RTTEstimator) *Space {
	return &Space{rtt: rtt, sent: make(map[int64]*SentPacket), LargestAcked: -1}
}

// OnPacketSent records a newly sent packet.
func (s *Space) OnPacketSent(p SentPacket) {
	rec := p
	s.sent[p.PacketNumber] = &rec
	s.order = append(s.order, p.PacketNumber)
	if p.InFlight {
		s.BytesInFlight += p.Size
	}
}

// AckResult summarises the effect of processing one ACK frame.
type AckResult struct {
	NewlyAcked []SentPacket
	Lost       []SentPacket
	AckedBytes int
	LostBytes  int
	// PersistentCongestion reports whether every packet sent across a
	// window wider than the persistent-congestion threshold was lost.
	PersistentCongestion bool
}

// OnAck processes the set of packet numbers the peer acknowledged
// (already expanded from the ACK frame's ranges), updates RTT from the
// largest newly-acked ack-eliciting packet, and runs loss detection.
func (s *Space) OnAck(ackedPNs []int64, ackDelay time.Duration, now time.Time) AckResult {
	var result AckResult
	var largestNewlyAckedTime time.Time
	var largestNewlyAcked int64 = -1
	sawRTTSample := false

	for _, pn := range ackedPNs {
		rec, ok := s.sent[pn]
		if !ok {
			continue
		}
		if pn > s.LargestAcked || !s.hasLargest {
			s.LargestAcked = pn
			s.hasLargest = true
		}
		result.NewlyAcked = append(result.NewlyAcked, *rec)
		result.AckedBytes += rec.Size
		if rec.InFlight {
			s.BytesInFlight -= rec.Size
		}
		if rec.AckEliciting && pn >= largestNewlyAcked {
			largestNewlyAcked = pn
			largestNewlyAckedTime = rec.SentAt
			sawRTTSample = true
		}
		s.remove(pn)
	}

	if sawRTTSample {
		s.rtt.OnAck(largestNewlyAckedTime, now, ackDelay)
		s.PTOCount = 0
	}

	if len(result.NewlyAcked) > 0 {
		lost, lostBytes, persistent := s.detectLosses(now)
		result.Lost = lost
		result.LostBytes = lostBytes
		result.PersistentCongestion = persistent
	}
	return result
}

func (s *Space) remove(pn int64) {
	delete(s.sent, pn)
	for i, v := range s.order {
		if v == pn {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// detectLosses implements RFC 9002 §6.1: a packet is lost if it is
// older than the loss delay or kPacketThreshold behind the largest
// acked. It also checks for persistent congestion across the lost set.
func (s *Space) detectLosses(now time.Time) (lost []SentPacket, lostBytes int, persistentCongestion bool) {
	if !s.hasLargest {
		return nil, 0, false
	}
	lossDelay := s.rtt.LossDelay()
	var lossTimePNs []int64
	earliestStillInFlight := time.Time{}

	for _, pn := range append([]int64(nil), s.order...) {
		rec := s.sent[pn]
		if rec == nil || pn > s.LargestAcked {
			continue
		}
		byCount := s.LargestAcked-pn >= kPacketThreshold
		byTime := now.Sub(rec.SentAt) >= lossDelay
		if byCount || byTime {
			lost = append(lost, *rec)
			lostBytes += rec.Size
			if rec.InFlight {
				s.BytesInFlight -= rec.Size
			}
			lossTimePNs = append(lossTimePNs, pn)
		} else if earliestStillInFlight.IsZero() || rec.SentAt.Before(earliestStillInFlight) {
			earliestStillInFlight = rec.SentAt
		}
	}
	for _, pn := range lossTimePNs {
		s.remove(pn)
	}

	if len(lost) >= 2 {
		persistentCongestion = s.isPersistentCongestion(lost, now)
	}
	return lost, lostBytes, persistentCongestion
}

// isPersistentCongestion reports whether every ack-eliciting packet
// sent in a window spanning at least
// (srtt + 4*rttvar + max_ack_delay) * kPersistentCongestionThreshold
// was declared lost, with no ack in between (RFC 9002 §7.6.2). The
// caller has already removed the lost packets from s.sent, so any
// packet that survived in that span (acked or still in flight) would
// have broken the streak; here we simply check the lost set's own
// span against the threshold.
func (s *Space) isPersistentCongestion(lost []SentPacket, now time.Time) bool {
	threshold := (s.rtt.SmoothedRTT + 4*s.rtt.RTTVar + s.rtt.MaxAckDelay) * kPersistentCongestionThreshold
	first, last := lost[0].SentAt, lost[0].SentAt
	for _, p := range lost[1:] {
		if p.SentAt.Before(first) {
			first = p.SentAt
		}
		if p.SentAt.After(last) {
			last = p.SentAt
		}
	}
	return last.Sub(first) >= threshold
}

// HasInFlight reports whether any ack-eliciting packet is outstanding
// in this space, a precondition for arming the PTO timer.
func (s *Space) HasInFlight() bool {
	for _, pn := range s.order {
		if s.sent[pn].AckEliciting {
			return true
		}
	}
	return false
}

// PTODeadline returns the absolute time the PTO timer should fire for
// this space, given the send time of the oldest in-flight ack-eliciting
// packet.
func (s *Space) PTODeadline() (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, pn := range s.order {
		rec := s.sent[pn]
		if !rec.AckEliciting {
			continue
		}
		if !found || rec.SentAt.Before(oldest) {
			oldest = rec.SentAt
			found = true
		}
	}
	if !found {
		return time.Time{}, false
	}
	pto := s.rtt.PTO()
	backoff := time.Duration(1)
	for i := 0; i < s.PTOCount; i++ {
		backoff *= 2
	}
	return oldest.Add(pto * backoff), true
}
