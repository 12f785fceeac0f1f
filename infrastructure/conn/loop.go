package conn

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"quictransport/domain/wire"
)

// readBufferSize bounds one ReadFrom call; it is sized well above any
// path MTU this module would actually use (maxBuildPayload plus header
// overhead), so a single read always captures one full datagram.
const readBufferSize = 65535

// timerTick is how often the timer goroutine reevaluates loss-detection,
// idle, and close-retransmission deadlines. The deadlines themselves are
// recomputed from live RTT samples on every tick; the tick interval only
// bounds how late the loop notices one has passed.
const timerTick = 25 * time.Millisecond

// Run drives the connection end to end (spec.md §5's "the connection
// owns its own I/O loop once Dial returns"): one goroutine reads
// datagrams off the socket and feeds them to HandleDatagram, a second
// wakes on a fixed tick to drive Send and the PTO/idle/close timers.
// Run returns once ctx is canceled or the connection reaches
// StateClosed, mirroring the teacher's paired-goroutine errgroup
// shape for its own TUN/transport read loops.
func (c *Connection) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.readLoop(ctx) })
	g.Go(func() error { return c.timerLoop(ctx) })

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// readLoop pulls datagrams off the socket until ctx is canceled, the
// socket errors, or the connection reaches StateClosed.
func (c *Connection) readLoop(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.State() == StateClosed {
			return nil
		}
		n, addr, err := c.socket.ReadFrom(buf)
		if err != nil {
			return err
		}
		if err := c.HandleDatagram(time.Now(), addr, buf[:n]); err != nil {
			return err
		}
		if err := c.Send(time.Now()); err != nil {
			return err
		}
	}
}

// timerLoop evaluates time-driven transitions on a fixed tick: PTO
// retransmission is left to the recovery package's own bookkeeping
// (probed for on the next Send call), while this loop owns the
// transitions recovery.Space cannot see by itself: handshake timeout,
// idle timeout, and the close/drain retransmit schedule.
func (c *Connection) timerLoop(ctx context.Context) error {
	ticker := time.NewTicker(timerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			done, err := c.onTick(now)
			if done {
				return err
			}
		}
	}
}

// onTick applies every timer-driven transition for one tick, reporting
// whether the loop should stop (the connection reached StateClosed).
func (c *Connection) onTick(now time.Time) (bool, error) {
	switch c.State() {
	case StateClosed:
		return true, nil
	case StateIdle:
		return false, nil

	case StateClosing:
		if c.MaybeRetransmitClose(now) {
			if err := c.Send(now); err != nil {
				return true, err
			}
		}
		return false, nil

	case StateDraining:
		if c.drainExpired(now) {
			c.AdvanceDraining()
		}
		return c.State() == StateClosed, nil

	case StateHandshaking:
		if c.handshakeTimedOut(now) {
			c.CloseTransport(wire.NewConnError(wire.ErrConnectionRefused, "handshake timed out", nil))
			return false, nil
		}
	}

	if c.idleTimedOut(now) {
		c.OnIdleTimeout()
		return true, nil
	}

	if err := c.Send(now); err != nil {
		return true, err
	}
	return false, nil
}

func (c *Connection) handshakeTimedOut(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.handshakeDeadline.IsZero() && now.After(c.handshakeDeadline)
}

func (c *Connection) idleTimedOut(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idleTimeoutDur > 0 && !c.idleDeadline.IsZero() && now.After(c.idleDeadline)
}

// drainExpired reports whether the Draining state's own silence period
// (3 PTO of the last known RTT, per RFC 9000 §10.2) has elapsed since
// the connection entered it.
func (c *Connection) drainExpired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pto := c.rttEstimator.PTO()
	return now.Sub(c.closeSentAt) > 3*pto
}
