package congestion

import (
	"math"
	"time"
)

// Cubic-specific constants (RFC 9438 §4).
const (
	cubicC    = 0.4
	cubicBeta = 0.7
)

// Cubic implements RFC 9438 CUBIC congestion control with a HyStart++
// (RFC 9406) slow-start exit in place of CUBIC's own Hybrid Slow Start.
type Cubic struct {
	bytesInFlightTracker

	cwnd    float64
	ssthresh float64

	wMax      float64
	k         float64
	epochStart time.Time
	originPoint float64

	minRTT time.Duration

	hs *hystart

	pacingGainInSlowStart float64
}

// NewCubic builds a Cubic controller at the RFC 9002 initial window.
func NewCubic() *Cubic {
	return &Cubic{
		cwnd:                  float64(InitialWindow()),
		ssthresh:              math.MaxFloat64,
		hs:                    newHystart(),
		pacingGainInSlowStart: 2.0,
	}
}

func (c *Cubic) OnPacketSent(size int, now time.Time) {
	c.onSent(size)
}

func (c *Cubic) InSlowStart() bool {
	return c.cwnd < c.ssthresh
}

func (c *Cubic) OnAck(ev AckEvent) {
	c.onAcked(ev.AckedBytes)
	if ev.MinRTT > 0 {
		c.minRTT = ev.MinRTT
	}

	if c.InSlowStart() {
		if c.hs.roundStart.IsZero() {
			c.hs.onRoundStart(ev.Now, int(c.cwnd))
		}
		if ev.RTTSample > 0 && c.hs.OnRTTSample(ev.RTTSample) {
			// HyStart++ fired: exit slow start at the current window,
			// per RFC 9406 §4.3 (no window reduction, unlike a loss exit).
			c.ssthresh = c.cwnd
			return
		}
		// Slow start: exponential growth, one MSS per acked MSS.
		c.cwnd += float64(ev.AckedBytes)
		return
	}

	c.congestionAvoidance(ev)
}

// congestionAvoidance implements the RFC 9438 §4 cubic window function
// W(t) = C*(t-K)^3 + W_max, advanced by one estimated RTT per call using
// the elapsed wall-clock time since the last congestion event.
func (c *Cubic) congestionAvoidance(ev AckEvent) {
	if c.epochStart.IsZero() {
		c.epochStart = ev.Now
		if c.wMax <= c.cwnd {
			c.k = 0
			c.originPoint = c.cwnd
		} else {
			c.k = math.Cbrt((c.wMax - c.cwnd) / float64(MaxDatagramSize) / cubicC)
			c.originPoint = c.wMax
		}
	}

	t := ev.Now.Sub(c.epochStart).Seconds()
	rtt := c.minRTT.Seconds()
	if rtt <= 0 {
		rtt = InitialRTT.Seconds()
	}
	target := cubicC*math.Pow(t+rtt-c.k, 3)*float64(MaxDatagramSize) + c.originPoint
	if target < c.cwnd {
		target = c.cwnd
	}

	// Converge toward the cubic target over this RTT, scaled by the
	// fraction of cwnd this ACK's bytes represent (standard CUBIC
	// per-ACK update, RFC 9438 §4.3).
	if target > c.cwnd {
		c.cwnd += (target - c.cwnd) * float64(ev.AckedBytes) / c.cwnd
	} else {
		c.cwnd += float64(ev.AckedBytes) * float64(MaxDatagramSize) / c.cwnd / c.cwnd
	}
}

func (c *Cubic) OnLoss(ev LossEvent) {
	c.onLost(ev.LostBytes)
	if ev.Persistent {
		c.cwnd = MinimumWindow
		c.ssthresh = math.MaxFloat64
		c.wMax = 0
		c.epochStart = time.Time{}
		return
	}
	c.wMax = c.cwnd
	c.cwnd *= cubicBeta
	if c.cwnd < MinimumWindow {
		c.cwnd = MinimumWindow
	}
	c.ssthresh = c.cwnd
	c.epochStart = time.Time{} // re-derive K on the next ACK
}

func (c *Cubic) CWND() int { return int(c.cwnd) }

// PacingRate paces at a multiple of cwnd/rtt: 2x during slow start (to
// probe quickly without bursting beyond cwnd), 1.25x in congestion
// avoidance, matching common CUBIC pacing gains.
func (c *Cubic) PacingRate() float64 {
	rtt := c.minRTT
	if rtt <= 0 {
		rtt = InitialRTT
	}
	gain := 1.25
	if c.InSlowStart() {
		gain = c.pacingGainInSlowStart
	}
	return gain * c.cwnd / rtt.Seconds()
}

func (c *Cubic) onAcked(n int) { c.bytesInFlightTracker.onAcked(n) }
func (c *Cubic) onLost(n int)  { c.bytesInFlightTracker.onLost(n) }
