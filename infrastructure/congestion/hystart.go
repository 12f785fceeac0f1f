package congestion

import "time"

// hystart implements HyStart++ (RFC 9406): an early slow-start exit
// triggered by a sustained rise in per-round minimum RTT, used by CUBIC
// in place of loss as the only slow-start exit signal.
type hystart struct {
	active bool

	lastRoundMinRTT time.Duration
	currRoundMinRTT time.Duration
	sampleCount     int
	roundStart      time.Time
	windowAtRoundStart int

	// hystartNSampleMin sets the number of RTT samples required before a
	// round's minimum is trusted (RFC 9406 §4.2); there is no upper bound.
	cssBaselineMinRTT time.Duration
}

const (
	hystartNSampleMin       = 8
	hystartMinRTTThreshMin  = 4 * time.Millisecond
	hystartMinRTTThreshMax  = 16 * time.Millisecond
	hystartMinRTTDivisor    = 8
)

func newHystart() *hystart {
	return &hystart{active: true}
}

// OnRoundStart begins tracking a new RTT round; cwnd is the window size
// at the start of this round, used only for logging/diagnostics.
func (h *hystart) onRoundStart(now time.Time, cwnd int) {
	if !h.roundStart.IsZero() {
		h.lastRoundMinRTT = h.currRoundMinRTT
	}
	h.roundStart = now
	h.currRoundMinRTT = 0
	h.sampleCount = 0
	h.windowAtRoundStart = cwnd
}

// OnRTTSample folds one RTT sample into the current round's minimum and
// reports whether slow start should exit now.
func (h *hystart) OnRTTSample(rtt time.Duration) (exit bool) {
	if !h.active {
		return false
	}
	if h.currRoundMinRTT == 0 || rtt < h.currRoundMinRTT {
		h.currRoundMinRTT = rtt
	}
	h.sampleCount++

	if h.lastRoundMinRTT == 0 || h.sampleCount < hystartNSampleMin {
		return false
	}

	thresh := h.lastRoundMinRTT / hystartMinRTTDivisor
	if thresh < hystartMinRTTThreshMin {
		thresh = hystartMinRTTThreshMin
	}
	if thresh > hystartMinRTTThreshMax {
		thresh = hystartMinRTTThreshMax
	}

	if h.currRoundMinRTT >= h.lastRoundMinRTT+thresh {
		h.active = false
		return true
	}
	return false
}

func (h *hystart) Active() bool { return h.active }
