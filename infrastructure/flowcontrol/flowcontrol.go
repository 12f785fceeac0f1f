// Package flowcontrol implements the per-stream and connection-level
// flow controllers of spec.md §4.10: independent receive (advertise,
// consume) and send (permit, consume) budgets.
package flowcontrol

import "fmt"

// ErrFlowControlViolation is returned when a peer sends beyond the
// limit this endpoint advertised.
var ErrFlowControlViolation = fmt.Errorf("flowcontrol: received bytes exceed advertised limit")

// Receiver tracks bytes this endpoint has told its peer it will accept
// (MaxData/MaxStreamData) against bytes actually consumed by the
// application, auto-doubling the window once more than half is used.
type Receiver struct {
	advertised uint64
	consumed   uint64
	highestSeen uint64
}

// NewReceiver builds a Receiver starting with the given initial window.
func NewReceiver(initial uint64) *Receiver {
	return &Receiver{advertised: initial}
}

// OnDataReceived records receipt of data up to byteOffsetEnd (the
// offset one past the last received byte). Returns
// ErrFlowControlViolation if the peer exceeded the advertised limit.
func (r *Receiver) OnDataReceived(byteOffsetEnd uint64) error {
	if byteOffsetEnd > r.advertised {
		return ErrFlowControlViolation
	}
	if byteOffsetEnd > r.highestSeen {
		r.highestSeen = byteOffsetEnd
	}
	return nil
}

// OnConsumed records that the application has read n more bytes, and
// reports whether the advertised window should be extended (consumed
// has passed half of it) along with the new value to advertise.
func (r *Receiver) OnConsumed(n uint64) (newLimit uint64, shouldUpdate bool) {
	r.consumed += n
	if r.consumed > r.advertised/2 {
		r.advertised *= 2
		return r.advertised, true
	}
	return r.advertised, false
}

// Advertised returns the currently advertised limit.
func (r *Receiver) Advertised() uint64 { return r.advertised }

// Consumed returns bytes the application has read so far.
func (r *Receiver) Consumed() uint64 { return r.consumed }

// Sender tracks bytes this endpoint is permitted to send (as advertised
// by the peer's MaxData/MaxStreamData) against bytes already sent, and
// whether a DATA_BLOCKED/STREAM_DATA_BLOCKED has already been signaled
// for the current limit.
type Sender struct {
	limit     uint64
	sent      uint64
	blockedAt uint64 // limit value last reported via *_BLOCKED, 0 = none sent yet
	everBlocked bool
}

// NewSender builds a Sender starting with the given initial limit.
func NewSender(initial uint64) *Sender {
	return &Sender{limit: initial}
}

// Budget returns the number of additional bytes that may be sent right
// now without exceeding the limit.
func (s *Sender) Budget() uint64 {
	if s.sent >= s.limit {
		return 0
	}
	return s.limit - s.sent
}

// OnSent records that n more bytes were sent. The caller must never
// call this with n greater than Budget().
func (s *Sender) OnSent(n uint64) { s.sent += n }

// OnMaxDataUpdate raises the limit if newLimit is higher than the
// current one (MAX_DATA/MAX_STREAM_DATA frames may arrive out of order
// or be retransmitted; only a strictly higher value has any effect,
// RFC 9000 §4.1).
func (s *Sender) OnMaxDataUpdate(newLimit uint64) {
	if newLimit > s.limit {
		s.limit = newLimit
	}
}

// ShouldSignalBlocked reports whether a DATA_BLOCKED/STREAM_DATA_BLOCKED
// should be emitted now: the sender is at the limit and has not already
// signaled for this exact limit value (RFC 9000 §4.1: "at most once").
func (s *Sender) ShouldSignalBlocked() bool {
	return s.sent >= s.limit && s.blockedAt != s.limit
}

// MarkBlockedSignaled records that a blocked frame was just sent for
// the current limit, so it is not repeated until the limit changes.
func (s *Sender) MarkBlockedSignaled() {
	s.blockedAt = s.limit
	s.everBlocked = true
}

// Limit returns the current send limit.
func (s *Sender) Limit() uint64 { return s.limit }

// Sent returns bytes sent so far.
func (s *Sender) Sent() uint64 { return s.sent }

// Controller bundles a connection-level and a per-stream Sender, giving
// the effective send budget as their minimum (spec.md §4.10).
type Controller struct {
	Conn   *Sender
	Stream *Sender
}

// EffectiveBudget returns min(stream budget, connection budget).
func (c *Controller) EffectiveBudget() uint64 {
	b := c.Stream.Budget()
	if cb := c.Conn.Budget(); cb < b {
		b = cb
	}
	return b
}
