package conn

import (
	"time"

	"quictransport/domain/frame"
	"quictransport/domain/wire"
	"quictransport/infrastructure/packetcodec"
	"quictransport/infrastructure/recovery"
)

// maxBuildPayload caps the frame payload this scheduler packs into one
// datagram at 1200 bytes, the same value as packetcodec.MinInitialSize.
const maxBuildPayload = 1200

// Send builds and transmits as many packets as the congestion window
// and pacer currently admit, across every encryption level with
// pending work (spec.md §4.9's scheduler, C12's send half). The
// connection's driving loop calls this after every HandleDatagram and
// on its own pacing/PTO timer.
func (c *Connection) Send(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosing {
		return c.sendCloseLocked(now)
	}
	if c.state == StateDraining || c.state == StateClosed || c.state == StateIdle {
		return nil
	}

	for _, lvl := range []wire.Level{wire.LevelInitial, wire.LevelHandshake, wire.LevelApplication} {
		for {
			sent, err := c.buildAndSendPacket(now, lvl)
			if err != nil {
				return err
			}
			if !sent {
				break
			}
		}
	}
	return nil
}

// buildAndSendPacket assembles and transmits at most one packet at the
// given level, returning false if there was nothing to send or the
// congestion/pacing budget is currently exhausted.
func (c *Connection) buildAndSendPacket(now time.Time, lvl wire.Level) (bool, error) {
	ls := c.levelFor(lvl)
	if !ls.haveWrite {
		return false, nil
	}

	payload, frames, ackEliciting := c.buildFrames(lvl, ls)
	if len(payload) == 0 {
		return false, nil
	}

	budget := c.congestion.CWND() - c.congestion.BytesInFlight()
	if budget <= 0 {
		return false, nil
	}
	if !c.pacer.CanSend(now, len(payload)) {
		return false, nil
	}
	if c.path != nil && !c.path.CanSend(len(payload)) {
		return false, nil
	}

	pn := ls.nextPN
	ls.nextPN++

	packet, err := c.encryptPacket(lvl, pn, payload, ls)
	if err != nil {
		return false, err
	}

	if c.socket != nil && c.path != nil {
		if _, err := c.socket.WriteTo(packet, c.path.Remote); err != nil {
			return false, err
		}
		c.path.OnSent(len(packet))
	}

	ls.space.OnPacketSent(recovery.SentPacket{
		PacketNumber: pn,
		SentAt:       now,
		Size:         len(packet),
		AckEliciting: ackEliciting,
		InFlight:     true,
		Frames:       frames,
	})
	c.congestion.OnPacketSent(len(packet), now)
	c.pacer.OnSent(now, len(packet))
	c.pacer.SetRate(c.congestion.PacingRate(), c.congestion.CWND(), c.rttEstimator.SmoothedRTT)

	return true, nil
}

// buildFrames appends as many pending frames as fit in one datagram's
// worth of payload at the given level, returning the serialized
// payload, the frame values (for loss/ack bookkeeping), and whether any
// of them is ack-eliciting.
func (c *Connection) buildFrames(lvl wire.Level, ls *levelState) ([]byte, []any, bool) {
	var payload []byte
	var frames []any
	ackEliciting := false

	if ls.ackElicited {
		if f, ok := c.buildACK(ls); ok {
			var err error
			payload, err = f.AppendTo(payload)
			if err == nil {
				frames = append(frames, f)
				ls.ackElicited = false
			}
		}
	}

	for len(ls.cryptoResend) > 0 && len(payload) < maxBuildPayload {
		f := ls.cryptoResend[0]
		ls.cryptoResend = ls.cryptoResend[1:]
		out, err := f.AppendTo(payload)
		if err != nil || len(out) > maxBuildPayload {
			break
		}
		payload = out
		frames = append(frames, f)
		ackEliciting = true
	}

	for len(ls.outCrypto) > 0 && len(payload) < maxBuildPayload {
		room := maxBuildPayload - len(payload) - 16 // leave room for offset/len varints
		if room <= 0 {
			break
		}
		n := len(ls.outCrypto)
		if n > room {
			n = room
		}
		f := frame.CryptoFrame{Offset: ls.cryptoSend, Data: ls.outCrypto[:n]}
		out, err := f.AppendTo(payload)
		if err != nil {
			break
		}
		payload = out
		frames = append(frames, f)
		ls.cryptoSend += uint64(n)
		ls.outCrypto = ls.outCrypto[n:]
		ackEliciting = true
	}

	if lvl == wire.LevelApplication {
		payload, frames, ackEliciting = c.buildAppFrames(payload, frames, ackEliciting)
	}

	if len(payload) == 0 {
		return nil, nil, false
	}
	return payload, frames, ackEliciting
}

// buildAppFrames appends Application-level-only frames: stream data,
// connection flow-control updates, datagrams, PATH_RESPONSE, and
// HANDSHAKE_DONE.
func (c *Connection) buildAppFrames(payload []byte, frames []any, ackEliciting bool) ([]byte, []any, bool) {
	if c.maxDataPending {
		f := frame.MaxDataFrame{MaximumData: c.connFlowRecv.Advertised()}
		if out, err := f.AppendTo(payload); err == nil {
			payload = out
			frames = append(frames, f)
			ackEliciting = true
			c.maxDataPending = false
		}
	}

	for id := range c.maxStreamDataPending {
		s, err := c.streams.Get(id)
		if err != nil {
			delete(c.maxStreamDataPending, id)
			continue
		}
		f := frame.MaxStreamDataFrame{StreamID: uint64(id), MaximumData: s.RecvAdvertised()}
		if out, err := f.AppendTo(payload); err == nil {
			payload = out
			frames = append(frames, f)
			ackEliciting = true
			delete(c.maxStreamDataPending, id)
		}
		if len(payload) >= maxBuildPayload {
			break
		}
	}

	if c.pendingPathResponse != nil {
		f := frame.PathResponseFrame{Data: *c.pendingPathResponse}
		if out, err := f.AppendTo(payload); err == nil {
			payload = out
			frames = append(frames, f)
			ackEliciting = true
			c.pendingPathResponse = nil
		}
	}

	if c.state == StateConnected && c.peerHandshakeConfirmed && !c.sentHandshakeDone {
		f := frame.HandshakeDoneFrame{}
		if out, err := f.AppendTo(payload); err == nil {
			payload = out
			frames = append(frames, f)
			ackEliciting = true
			c.sentHandshakeDone = true
		}
	}

	for len(c.pendingDatagrams) > 0 && len(payload) < maxBuildPayload {
		d := c.pendingDatagrams[0]
		f := frame.DatagramFrame{Data: d, ExplicitLen: true}
		out, err := f.AppendTo(payload)
		if err != nil || len(out) > maxBuildPayload {
			break
		}
		payload = out
		frames = append(frames, f)
		ackEliciting = true
		c.pendingDatagrams = c.pendingDatagrams[1:]
	}

	for len(payload) < maxBuildPayload {
		s, ok := c.streams.NextReady()
		if !ok {
			break
		}
		room := maxBuildPayload - len(payload) - 16
		if room <= 0 {
			break
		}
		off, data, fin, ok := s.NextFrame(room)
		if !ok {
			break
		}
		f := frame.StreamFrame{StreamID: uint64(s.ID), Offset: off, Data: data, Fin: fin}
		out, err := f.AppendTo(payload)
		if err != nil {
			break
		}
		payload = out
		frames = append(frames, f)
		ackEliciting = true
	}

	return payload, frames, ackEliciting
}

// buildACK constructs an ACK frame from a level's received-packet range
// set, or reports false if nothing is pending.
func (c *Connection) buildACK(ls *levelState) (frame.ACKFrame, bool) {
	ranges := ls.recvRanges.Ranges()
	if len(ranges) == 0 {
		return frame.ACKFrame{}, false
	}
	first := ranges[0]
	f := frame.ACKFrame{
		LargestAcked: uint64(first.Largest),
		AckDelay:     0,
		FirstRange:   uint64(first.Largest - first.Smallest),
	}
	prevSmallest := first.Smallest
	for _, r := range ranges[1:] {
		gap := uint64(prevSmallest-r.Largest) - 2
		length := uint64(r.Largest - r.Smallest)
		f.Ranges = append(f.Ranges, frame.AckRange{Gap: gap, Length: length})
		prevSmallest = r.Smallest
	}
	return f, true
}

// encryptPacket serializes and protects a built payload at the given
// level using the level's current write keys.
func (c *Connection) encryptPacket(lvl wire.Level, pn int64, payload []byte, ls *levelState) ([]byte, error) {
	largestAcked := ls.space.LargestAcked
	switch lvl {
	case wire.LevelInitial:
		return packetcodec.EncryptLong(packetcodec.LongTypeInitial, c.version, c.remoteCID, c.localCID, nil, pn, largestAcked, payload, ls.writeKeys)
	case wire.LevelHandshake:
		return packetcodec.EncryptLong(packetcodec.LongTypeHandshake, c.version, c.remoteCID, c.localCID, nil, pn, largestAcked, payload, ls.writeKeys)
	default:
		keyPhase := false
		if c.rekeyCtl != nil {
			keyPhase = c.rekeyCtl.WritePhase()
		}
		return packetcodec.EncryptShort(c.remoteCID, keyPhase, pn, largestAcked, payload, ls.writeKeys)
	}
}

// sendCloseLocked builds and transmits the single CONNECTION_CLOSE or
// APPLICATION_CLOSE packet for a connection in StateClosing, at the
// highest level whose keys are currently available (spec.md §4.12).
func (c *Connection) sendCloseLocked(now time.Time) error {
	lvl := wire.LevelApplication
	ls := c.levelFor(lvl)
	if !ls.haveWrite {
		lvl = wire.LevelHandshake
		ls = c.levelFor(lvl)
	}
	if !ls.haveWrite {
		lvl = wire.LevelInitial
		ls = c.levelFor(lvl)
	}
	if !ls.haveWrite || c.closeErr == nil {
		return nil
	}

	var f frame.ConnectionCloseFrame
	switch e := c.closeErr.(type) {
	case *wire.AppError:
		f = frame.ConnectionCloseFrame{App: true, ErrorCode: e.Code, ReasonPhrase: e.Reason}
	case *wire.ConnError:
		f = frame.ConnectionCloseFrame{App: false, ErrorCode: uint64(e.Code), ReasonPhrase: e.Reason}
	default:
		return nil
	}

	payload, err := f.AppendTo(nil)
	if err != nil {
		return err
	}
	pn := ls.nextPN
	ls.nextPN++
	packet, err := c.encryptPacket(lvl, pn, payload, ls)
	if err != nil {
		return err
	}
	if c.socket != nil && c.path != nil {
		if _, err := c.socket.WriteTo(packet, c.path.Remote); err != nil {
			return err
		}
		c.path.OnSent(len(packet))
	}
	return nil
}
