package congestion

import "time"

// BBRv2 wraps BBR with the loss-signal inflight cap spec.md §4.8
// describes: BBRv1's pure bandwidth/RTT model can over-drive a path
// that is actually loss-limited, so BBRv2 additionally tracks a loss
// rate and caps the congestion window in proportion to it.
type BBRv2 struct {
	*BBR

	lossRateEWMA float64
	inflightHi   float64
	inflightLo   float64

	ackedSinceEvent int
	lostSinceEvent  int
}

const (
	bbrv2LossThresh  = 0.02 // 2% loss triggers the cap, RFC draft guidance
	bbrv2CapGain     = 0.85
	bbrv2EWMAWeight  = 0.25
)

// NewBBRv2 builds a BBRv2 controller.
func NewBBRv2() *BBRv2 {
	return &BBRv2{BBR: NewBBR(), inflightHi: float64(1 << 30)}
}

func (b *BBRv2) OnAck(ev AckEvent) {
	b.ackedSinceEvent += ev.AckedBytes
	b.BBR.OnAck(ev)
	b.applyInflightCap()
}

func (b *BBRv2) OnLoss(ev LossEvent) {
	b.lostSinceEvent += ev.LostBytes
	b.BBR.OnLoss(ev)

	total := b.ackedSinceEvent + b.lostSinceEvent
	if total > 0 {
		sample := float64(b.lostSinceEvent) / float64(total)
		b.lossRateEWMA = bbrv2EWMAWeight*sample + (1-bbrv2EWMAWeight)*b.lossRateEWMA
		b.ackedSinceEvent = 0
		b.lostSinceEvent = 0
	}

	if b.lossRateEWMA > bbrv2LossThresh {
		// Shrink the inflight cap toward the current window: a
		// persistent loss signal means the path's true BDP is smaller
		// than the bandwidth filter currently believes.
		b.inflightHi = b.cwnd * bbrv2CapGain
	}
	if ev.Persistent {
		b.inflightHi = float64(MinimumWindow)
	}
	b.applyInflightCap()
}

func (b *BBRv2) applyInflightCap() {
	if b.cwnd > b.inflightHi {
		b.cwnd = b.inflightHi
	}
	if b.cwnd < MinimumWindow {
		b.cwnd = MinimumWindow
	}
}

func (b *BBRv2) CWND() int { return b.BBR.CWND() }

func (b *BBRv2) OnPacketSent(size int, now time.Time) { b.BBR.OnPacketSent(size, now) }
func (b *BBRv2) PacingRate() float64                  { return b.BBR.PacingRate() }
func (b *BBRv2) BytesInFlight() int                   { return b.BBR.BytesInFlight() }
func (b *BBRv2) InSlowStart() bool                    { return b.BBR.InSlowStart() }
