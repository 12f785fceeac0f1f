package congestion

import "time"

// BBRState is one of BBR's four pipe-estimation phases.
type BBRState uint8

const (
	BBRStartup BBRState = iota
	BBRDrain
	BBRProbeBW
	BBRProbeRTT
)

func (s BBRState) String() string {
	switch s {
	case BBRStartup:
		return "Startup"
	case BBRDrain:
		return "Drain"
	case BBRProbeBW:
		return "ProbeBW"
	case BBRProbeRTT:
		return "ProbeRTT"
	default:
		return "Unknown"
	}
}

// bbrCycleGains is the eight-phase ProbeBW pacing-gain cycle (BBR draft
// §4.3.3 / spec.md §4.8).
var bbrCycleGains = [8]float64{1.25, 0.75, 1, 1, 1, 1, 1, 1}

const (
	bbrStartupGain  = 2.885 // ~2/ln(2), the classic BBR startup pacing gain
	bbrCwndGain     = 2.0
	bbrBWWindow     = 10 // rounds of max-filter for bandwidth
	bbrRTpropWindow = 10 * time.Second
	bbrProbeRTTDuration = 200 * time.Millisecond
	bbrStartupGrowthThresh = 1.25
	bbrStartupFullBWRounds = 3
)

// BBR implements a single-active-path BBR congestion controller
// (spec.md §4.8): four states, a windowed-max delivery-rate filter, and
// a windowed-min RTT filter.
type BBR struct {
	bytesInFlightTracker

	state BBRState

	bwFilter     [bbrBWWindow]float64
	bwFilterIdx  int
	bwFilterLen  int

	rtProp       time.Duration
	rtPropStamp  time.Time
	rtPropExpired bool

	cwnd       float64
	pacingRate float64

	cycleIdx     int
	cycleStamp   time.Time

	probeRTTDoneAt time.Time
	priorCwnd      float64

	roundCount      int
	fullBWCount     int
	fullBWReached   bool
	lastRoundMaxBW  float64
}

// NewBBR builds a BBR controller starting in Startup.
func NewBBR() *BBR {
	return &BBR{
		state: BBRStartup,
		cwnd:  float64(InitialWindow()),
	}
}

func (b *BBR) OnPacketSent(size int, now time.Time) { b.onSent(size) }

func (b *BBR) InSlowStart() bool { return b.state == BBRStartup }

func (b *BBR) maxBW() float64 {
	max := 0.0
	for i := 0; i < b.bwFilterLen; i++ {
		if b.bwFilter[i] > max {
			max = b.bwFilter[i]
		}
	}
	return max
}

func (b *BBR) sampleBW(ackedBytes int, rtt time.Duration) {
	if rtt <= 0 || ackedBytes <= 0 {
		return
	}
	delivery := float64(ackedBytes) / rtt.Seconds()
	b.bwFilter[b.bwFilterIdx] = delivery
	b.bwFilterIdx = (b.bwFilterIdx + 1) % bbrBWWindow
	if b.bwFilterLen < bbrBWWindow {
		b.bwFilterLen++
	}
}

func (b *BBR) OnAck(ev AckEvent) {
	b.onAcked(ev.AckedBytes)
	b.roundCount++

	if ev.RTTSample > 0 {
		if b.rtProp == 0 || ev.RTTSample <= b.rtProp || time.Since(b.rtPropStamp) > bbrRTpropWindow {
			b.rtProp = ev.RTTSample
			b.rtPropStamp = ev.Now
		}
	}
	b.sampleBW(ev.AckedBytes, ev.RTTSample)

	switch b.state {
	case BBRStartup:
		bw := b.maxBW()
		if b.lastRoundMaxBW > 0 && bw < b.lastRoundMaxBW*bbrStartupGrowthThresh {
			b.fullBWCount++
		} else {
			b.fullBWCount = 0
		}
		b.lastRoundMaxBW = bw
		if b.fullBWCount >= bbrStartupFullBWRounds {
			b.fullBWReached = true
			b.state = BBRDrain
		}
		b.cwnd += float64(ev.AckedBytes)
	case BBRDrain:
		target := b.bdp()
		if b.cwnd <= target {
			b.state = BBRProbeBW
			b.cycleStamp = ev.Now
			b.cycleIdx = 0
		}
	case BBRProbeBW:
		b.advanceCycle(ev.Now)
		b.updateCwndProbeBW()
	case BBRProbeRTT:
		b.runProbeRTT(ev.Now)
	}

	b.updatePacingRate()
}

func (b *BBR) bdp() float64 {
	bw := b.maxBW()
	if bw <= 0 || b.rtProp <= 0 {
		return float64(InitialWindow())
	}
	return bw * b.rtProp.Seconds()
}

func (b *BBR) advanceCycle(now time.Time) {
	if b.cycleStamp.IsZero() {
		b.cycleStamp = now
		return
	}
	if now.Sub(b.cycleStamp) >= b.rtProp {
		b.cycleIdx = (b.cycleIdx + 1) % len(bbrCycleGains)
		b.cycleStamp = now
	}
	// Enter ProbeRTT if RTProp hasn't been refreshed recently.
	if !b.rtPropStamp.IsZero() && now.Sub(b.rtPropStamp) > bbrRTpropWindow {
		b.enterProbeRTT(now)
	}
}

func (b *BBR) updateCwndProbeBW() {
	target := b.bdp() * bbrCwndGain
	if target < MinimumWindow {
		target = MinimumWindow
	}
	b.cwnd = target
}

func (b *BBR) enterProbeRTT(now time.Time) {
	b.state = BBRProbeRTT
	b.priorCwnd = b.cwnd
	b.cwnd = MinimumWindow
	b.probeRTTDoneAt = now.Add(bbrProbeRTTDuration)
}

func (b *BBR) runProbeRTT(now time.Time) {
	if now.After(b.probeRTTDoneAt) {
		b.rtPropStamp = now
		b.cwnd = b.priorCwnd
		b.state = BBRProbeBW
		b.cycleStamp = now
		b.cycleIdx = 0
	}
}

func (b *BBR) updatePacingRate() {
	bw := b.maxBW()
	if bw <= 0 {
		b.pacingRate = float64(InitialWindow()) / InitialRTT.Seconds()
		return
	}
	gain := 1.0
	switch b.state {
	case BBRStartup:
		gain = bbrStartupGain
	case BBRProbeBW:
		gain = bbrCycleGains[b.cycleIdx]
	}
	b.pacingRate = bw * gain
}

func (b *BBR) OnLoss(ev LossEvent) {
	b.onLost(ev.LostBytes)
	if ev.Persistent {
		b.cwnd = MinimumWindow
	}
}

func (b *BBR) CWND() int {
	if b.cwnd < MinimumWindow {
		return MinimumWindow
	}
	return int(b.cwnd)
}

func (b *BBR) PacingRate() float64 { return b.pacingRate }

func (b *BBR) onAcked(n int) { b.bytesInFlightTracker.onAcked(n) }
func (b *BBR) onLost(n int)  { b.bytesInFlightTracker.onLost(n) }
