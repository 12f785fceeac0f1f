package conn

import (
	"crypto/tls"
	"errors"
	"net"
	"time"

	"quictransport/domain/connid"
	"quictransport/domain/frame"
	"quictransport/domain/streamid"
	"quictransport/domain/transportparams"
	"quictransport/domain/wire"
	"quictransport/infrastructure/congestion"
	"quictransport/infrastructure/events"
	"quictransport/infrastructure/flowcontrol"
	"quictransport/infrastructure/packetcodec"
	"quictransport/infrastructure/qcrypto"
	"quictransport/infrastructure/qcrypto/keyschedule"
	"quictransport/infrastructure/qcrypto/rekey"
	"quictransport/infrastructure/recovery"
	"quictransport/infrastructure/tlsadapter"
)

// HandleDatagram processes one UDP datagram received on the socket:
// it splits any coalesced QUIC packets (RFC 9000 §12.2), decrypts each
// in turn, and dispatches every contained frame (spec.md §4.12's
// central demultiplexing point, C12). The caller (the connection's
// read loop) is expected to call this for every datagram the socket
// yields.
func (c *Connection) HandleDatagram(now time.Time, from net.Addr, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}
	if c.path != nil {
		c.path.OnReceived(len(data))
	}
	if c.idleTimeoutDur > 0 {
		c.idleDeadline = now.Add(c.idleTimeoutDur)
	}

	anyProcessed := false
	for len(data) > 0 {
		n, processed, err := c.handleOnePacket(now, data)
		if err != nil || n == 0 {
			// A malformed packet ends processing of the datagram
			// (RFC 9000 §12.2): coalesced packets after it could only
			// be located through its length, which is unknown once
			// parsing has failed. An undecryptable packet whose length
			// is known is skipped without an error and the loop goes on.
			break
		}
		anyProcessed = anyProcessed || processed
		data = data[n:]
	}

	if anyProcessed {
		c.rw.Broadcast()
	}
	return nil
}

// handleOnePacket consumes exactly one QUIC packet from the front of
// data, returning its total on-wire size (for advancing past it in a
// coalesced datagram) and whether it was successfully decrypted and
// processed.
func (c *Connection) handleOnePacket(now time.Time, data []byte) (size int, processed bool, err error) {
	if packetcodec.IsLongHeader(data[0]) {
		return c.handleLongPacket(now, data)
	}
	return c.handleShortPacket(now, data)
}

func (c *Connection) handleLongPacket(now time.Time, data []byte) (int, bool, error) {
	hdr, err := packetcodec.ParseLongHeader(data)
	if err != nil {
		return 0, false, err
	}
	if hdr.Version == wire.VersionNegotiation || hdr.Type == packetcodec.LongTypeRetry {
		// Version negotiation and Retry are pre-handshake, rare-path
		// packets spec.md §4 Non-goals exclude full handling of
		// (retry token issuance is server-only); skip past them. Neither
		// carries a Length field, so each takes up the rest of the datagram.
		return len(data), false, nil
	}

	var lvl wire.Level
	var ls *levelState
	switch hdr.Type {
	case packetcodec.LongTypeInitial:
		lvl, ls = wire.LevelInitial, &c.initial
	case packetcodec.LongTypeHandshake:
		lvl, ls = wire.LevelHandshake, &c.handshake
	default: // 0-RTT: client never receives these (server role is a Non-goal)
		return hdr.HeaderLen + int(hdr.Length), false, nil
	}

	total := hdr.HeaderLen + int(hdr.Length)
	if total > len(data) {
		return 0, false, packetcodec.ErrShortHeader
	}
	if !ls.haveRead {
		return total, false, nil
	}

	largestRecv := int64(-1)
	if v, ok := ls.recvRanges.Largest(); ok {
		largestRecv = v
	}
	dec, err := packetcodec.DecryptLong(data[:total], largestRecv, ls.readKeys)
	if err != nil {
		return total, false, nil
	}
	c.onPacketDecrypted(now, lvl, ls, dec.PacketNum, dec.Payload)
	return total, true, nil
}

func (c *Connection) handleShortPacket(now time.Time, data []byte) (int, bool, error) {
	ls := &c.app
	if !ls.haveRead {
		return len(data), false, nil
	}
	largestRecv := int64(-1)
	if v, ok := ls.recvRanges.Largest(); ok {
		largestRecv = v
	}
	dec, err := packetcodec.DecryptShort(data, c.cfg.ConnectionIDLength, largestRecv, ls.readKeys)
	if err != nil {
		dec, err = c.tryNextGenerationLocked(data, largestRecv)
		if err != nil {
			return len(data), false, nil
		}
	}
	c.onPacketDecrypted(now, wire.LevelApplication, ls, dec.PacketNum, dec.Payload)
	return len(data), true, nil
}

// tryNextGenerationLocked is reached once the active generation's keys
// fail to open a short-header packet. It trial-decrypts against the
// next generation's candidate keys; success means the peer has flipped
// KEY_PHASE (RFC 9001 §6.2), so the key-update controller adopts that
// generation and both directions' installed keys follow it.
func (c *Connection) tryNextGenerationLocked(data []byte, largestRecv int64) (packetcodec.DecryptedShort, error) {
	if c.rekeyCtl == nil {
		return packetcodec.DecryptedShort{}, packetcodec.ErrShortSample
	}
	nextKeys, nextGen, err := c.rekeyCtl.PeekNextReadKeys()
	if err != nil {
		return packetcodec.DecryptedShort{}, err
	}
	nextDir, err := packetcodec.NewDirectionKeys(nextKeys, c.appSuite)
	if err != nil {
		return packetcodec.DecryptedShort{}, err
	}
	dec, err := packetcodec.DecryptShort(data, c.cfg.ConnectionIDLength, largestRecv, nextDir)
	if err != nil {
		return packetcodec.DecryptedShort{}, err
	}
	if err := c.rekeyCtl.OnPeerKeyPhaseFlip(nextGen); err != nil {
		return packetcodec.DecryptedShort{}, err
	}
	c.app.readKeys = nextDir
	if writeDir, err := packetcodec.NewDirectionKeys(c.rekeyCtl.WriteKeys(), c.appSuite); err == nil {
		c.app.writeKeys = writeDir
	}
	return dec, nil
}

// onPacketDecrypted records the packet as received for ACK purposes and
// dispatches every frame in its payload. c.mu is already held.
func (c *Connection) onPacketDecrypted(now time.Time, lvl wire.Level, ls *levelState, pn int64, payload []byte) {
	ls.lastRecvAt = now
	if !ls.recvRanges.Insert(pn) {
		return // duplicate packet number within this space; RFC 9000 §12.3
	}

	for len(payload) > 0 {
		f, n, err := frame.Parse(payload)
		if err != nil || n == 0 {
			return
		}
		if f.Type().IsAckEliciting() {
			ls.ackElicited = true
		}
		c.dispatchFrame(now, lvl, f)
		payload = payload[n:]
	}
}

func (c *Connection) dispatchFrame(now time.Time, lvl wire.Level, f frame.Frame) {
	switch v := f.(type) {
	case frame.PaddingFrame, frame.PingFrame:
		// no action required beyond the ack-eliciting bookkeeping above

	case frame.ACKFrame:
		c.onACK(lvl, v, now)

	case frame.CryptoFrame:
		c.onCrypto(lvl, v)

	case frame.StreamFrame:
		c.onStream(v)

	case frame.MaxDataFrame:
		c.connFlowSend.OnMaxDataUpdate(v.MaximumData)

	case frame.MaxStreamDataFrame:
		if s, err := c.streams.Get(streamIDFrom(v.StreamID)); err == nil {
			s.RaiseSendLimit(v.MaximumData)
		}

	case frame.MaxStreamsFrame:
		if v.Bidi {
			c.streams.SetPeerStreamLimits(v.MaxStreams, 0)
		} else {
			c.streams.SetPeerStreamLimits(0, v.MaxStreams)
		}

	case frame.DataBlockedFrame:
		// Informational: the peer is blocked on our connection-level
		// receive window; our own auto-tuning already keeps it ahead.

	case frame.StreamDataBlockedFrame:
		// Informational, per-stream analogue of DataBlockedFrame.

	case frame.ResetStreamFrame:
		if s, err := c.streams.Get(streamIDFrom(v.StreamID)); err == nil {
			s.OnReset(v.AppError)
			c.events.Push(events.Event{Kind: events.KindStreamReset, StreamID: streamIDFrom(v.StreamID), ErrorCode: v.AppError})
		}

	case frame.StopSendingFrame:
		if s, err := c.streams.Get(streamIDFrom(v.StreamID)); err == nil {
			s.SendReset()
		}

	case frame.NewConnectionIDFrame:
		id, err := connid.New(v.ConnectionID)
		if err == nil {
			c.cidPool.Issue(id, v.StatelessResetToken)
		}

	case frame.RetireConnectionIDFrame:
		c.cidPool.RetireBelow(v.SequenceNumber + 1)

	case frame.PathChallengeFrame:
		c.pendingPathResponse = &v.Data

	case frame.PathResponseFrame:
		if c.path != nil {
			c.path.OnPathResponse(v.Data)
			c.events.Push(events.Event{Kind: events.KindPathValidated})
		}

	case frame.ConnectionCloseFrame:
		c.onPeerClose(now, v)

	case frame.HandshakeDoneFrame:
		if c.state == StateHandshaking {
			c.HandshakeCompleteLocked()
		}

	case frame.DatagramFrame:
		cp := append([]byte(nil), v.Data...)
		c.events.Push(events.Event{Kind: events.KindDatagram, DatagramData: cp})
	}
}

// streamIDFrom reinterprets a raw varint stream id as a streamid.ID;
// the wire encoding and the in-memory representation share the same
// numeric space (domain/streamid's low two bits carry initiator/
// direction exactly as RFC 9000 §2.1 defines).
func streamIDFrom(raw uint64) streamid.ID { return streamid.ID(raw) }

// onACK processes a received ACK frame: expands the gap/length ranges
// into concrete packet numbers, updates RTT and loss detection for the
// space, and feeds the result into the congestion controller.
func (c *Connection) onACK(lvl wire.Level, f frame.ACKFrame, now time.Time) {
	ls := c.levelFor(lvl)
	acked := expandACKRanges(f)
	ackDelay := time.Duration(f.AckDelay) * time.Microsecond

	result := ls.space.OnAck(acked, ackDelay, now)
	if len(result.NewlyAcked) == 0 && len(result.Lost) == 0 {
		return
	}

	if result.AckedBytes > 0 {
		c.congestion.OnAck(congestion.AckEvent{
			AckedBytes: result.AckedBytes,
			RTTSample:  c.rttEstimator.LatestRTT,
			MinRTT:     c.rttEstimator.MinRTT,
			Now:        now,
		})
	}
	if result.LostBytes > 0 {
		c.packetsLost += uint64(len(result.Lost))
		largest := int64(-1)
		for _, p := range result.Lost {
			if p.PacketNumber > largest {
				largest = p.PacketNumber
			}
		}
		c.congestion.OnLoss(congestion.LossEvent{
			LostBytes:     result.LostBytes,
			LargestLostPN: largest,
			Persistent:    result.PersistentCongestion,
			Now:           now,
		})
	}

	for _, p := range result.NewlyAcked {
		c.onFrameAcked(p)
	}
	for _, p := range result.Lost {
		c.onFrameLost(lvl, p)
	}
}

// onFrameAcked applies a newly-confirmed send to the relevant stream's
// acked-offset bookkeeping.
func (c *Connection) onFrameAcked(p recovery.SentPacket) {
	for _, fr := range p.Frames {
		if sf, ok := fr.(frame.StreamFrame); ok {
			if s, err := c.streams.Get(streamIDFrom(sf.StreamID)); err == nil {
				s.OnSendAcked(sf.Offset + uint64(len(sf.Data)))
			}
		}
	}
}

// onFrameLost requeues a lost packet's retransmittable frames so the
// send scheduler reframes them.
func (c *Connection) onFrameLost(lvl wire.Level, p recovery.SentPacket) {
	for _, fr := range p.Frames {
		switch sf := fr.(type) {
		case frame.StreamFrame:
			if s, err := c.streams.Get(streamIDFrom(sf.StreamID)); err == nil {
				s.Requeue(sf.Offset, sf.Data)
			}
		case frame.CryptoFrame:
			ls := c.levelFor(lvl)
			ls.cryptoResend = append(ls.cryptoResend, sf)
		}
	}
}

// levelFor resolves the levelState backing a given encryption level.
func (c *Connection) levelFor(lvl wire.Level) *levelState {
	switch lvl {
	case wire.LevelInitial:
		return &c.initial
	case wire.LevelHandshake:
		return &c.handshake
	default:
		return &c.app
	}
}

// expandACKRanges turns an ACKFrame's largest-acked + gap/length
// encoding into the concrete list of acknowledged packet numbers.
func expandACKRanges(f frame.ACKFrame) []int64 {
	var out []int64
	largest := int64(f.LargestAcked)
	smallest := largest - int64(f.FirstRange)
	for pn := smallest; pn <= largest; pn++ {
		out = append(out, pn)
	}
	for _, r := range f.Ranges {
		largest = smallest - int64(r.Gap) - 2
		smallest = largest - int64(r.Length)
		for pn := smallest; pn <= largest; pn++ {
			out = append(out, pn)
		}
	}
	return out
}

// onCrypto reassembles a CRYPTO frame and, once it extends the
// contiguous prefix, hands the new bytes to the TLS adapter and drains
// every event the adapter then produces.
func (c *Connection) onCrypto(lvl wire.Level, f frame.CryptoFrame) {
	ls := c.levelFor(lvl)
	if err := ls.cryptoRecv.Insert(f.Offset, f.Data, false); err != nil {
		return
	}
	for {
		chunk, _ := ls.cryptoRecv.Read()
		if len(chunk) == 0 {
			break
		}
		if c.tls == nil {
			break
		}
		if err := c.tls.HandleData(lvl, chunk); err != nil {
			c.CloseTransportLocked(wire.NewConnError(wire.ErrProtocolViolation, "tls handshake error", err))
			return
		}
		c.drainTLSEvents()
	}
}

// drainTLSEvents loops NextEvent until the adapter reports none
// pending, applying each one (RFC 9001's documented driving protocol
// for crypto/tls's QUICConn).
func (c *Connection) drainTLSEvents() {
	for {
		ev := c.tls.NextEvent()
		switch ev.Kind {
		case tlsadapter.EventNone:
			return
		case tlsadapter.EventWriteData:
			c.appendCryptoOut(ev.Level, ev.Data)
		case tlsadapter.EventSetReadSecret:
			c.installReadSecret(ev.Level, ev.Suite, ev.Secret)
		case tlsadapter.EventSetWriteSecret:
			c.installWriteSecret(ev.Level, ev.Suite, ev.Secret)
		case tlsadapter.EventTransportParameters:
			_ = c.onPeerTransportParametersLocked(ev.Data)
		case tlsadapter.EventHandshakeDone:
			c.peerHandshakeConfirmed = true
		}
	}
}

// installReadSecret derives and installs this level's read (decrypt)
// keys from a TLS-exported secret.
func (c *Connection) installReadSecret(lvl wire.Level, tlsSuite uint16, secret []byte) {
	suite := suiteFromTLS(tlsSuite)
	keys, err := deriveDirectionKeys(secret, suite)
	if err != nil {
		return
	}
	ls := c.levelFor(lvl)
	ls.readKeys = keys
	ls.haveRead = true
	if lvl == wire.LevelApplication {
		c.appSuite = suite
		c.peerAppSecret = append([]byte(nil), secret...)
		c.maybeInitRekeyLocked()
	}
}

// installWriteSecret derives and installs this level's write (encrypt)
// keys from a TLS-exported secret.
func (c *Connection) installWriteSecret(lvl wire.Level, tlsSuite uint16, secret []byte) {
	suite := suiteFromTLS(tlsSuite)
	keys, err := deriveDirectionKeys(secret, suite)
	if err != nil {
		return
	}
	ls := c.levelFor(lvl)
	ls.writeKeys = keys
	ls.haveWrite = true
	if lvl == wire.LevelApplication {
		c.appSuite = suite
		c.localAppSecret = append([]byte(nil), secret...)
		c.maybeInitRekeyLocked()
	}
}

// maybeInitRekeyLocked constructs the key-update controller (C3a) once
// both of the application level's traffic secrets have been installed,
// seeding it with the generation-0 keys already in use so the first
// peer-initiated KEY_PHASE flip has a generation-1 candidate to derive
// against.
func (c *Connection) maybeInitRekeyLocked() {
	if c.rekeyCtl != nil || c.localAppSecret == nil || c.peerAppSecret == nil {
		return
	}
	writeKeys, err := keyschedule.DeriveLevelKeys(c.localAppSecret, c.appSuite)
	if err != nil {
		return
	}
	readKeys, err := keyschedule.DeriveLevelKeys(c.peerAppSecret, c.appSuite)
	if err != nil {
		return
	}
	c.rekeyCtl = rekey.NewController(c.appSuite, c.localAppSecret, c.peerAppSecret, writeKeys, readKeys)
}

// suiteFromTLS maps a TLS 1.3 cipher suite identifier (as exported by
// crypto/tls's QUICEvent.Suite) to this module's narrower Suite enum.
func suiteFromTLS(id uint16) qcrypto.Suite {
	switch id {
	case uint16(tls.TLS_AES_256_GCM_SHA384):
		return qcrypto.SuiteAES256GCM
	case uint16(tls.TLS_CHACHA20_POLY1305_SHA256):
		return qcrypto.SuiteChaCha20Poly1305
	default:
		return qcrypto.SuiteAES128GCM
	}
}

// onPeerClose records a peer-initiated CONNECTION_CLOSE/APPLICATION_CLOSE
// and begins the connection's own Draining transition (spec.md §4.12,
// RFC 9000 §10.2: no response frame is sent, the endpoint only drains).
func (c *Connection) onPeerClose(now time.Time, f frame.ConnectionCloseFrame) {
	if c.state == StateClosed || c.state == StateDraining {
		return
	}
	if f.App {
		c.closeErr = wire.NewAppError(f.ErrorCode, f.ReasonPhrase)
	} else {
		c.closeErr = wire.NewConnError(wire.TransportError(f.ErrorCode), f.ReasonPhrase, nil)
	}
	c.state = StateDraining
	c.closeSentAt = now
	c.events.Push(events.Event{Kind: events.KindConnectionClose, CloseCode: f.ErrorCode, CloseReason: f.ReasonPhrase})
}

// onStream routes a STREAM frame's payload to its stream, accepting a
// new peer-initiated stream on first sight, and notifies the event
// queue that new data is available for the application to pull via
// ReadStream.
func (c *Connection) onStream(f frame.StreamFrame) {
	id := streamIDFrom(f.StreamID)
	s, err := c.streams.Get(id)
	if err != nil {
		recvLimit := c.cfg.Params.InitialMaxStreamDataBidiRemote
		sendLimit := c.peerParams.InitialMaxStreamDataBidiLocal
		if id.IsUnidirectional() {
			recvLimit = c.cfg.Params.InitialMaxStreamDataUni
			sendLimit = 0 // peer-initiated unidirectional stream: we never write back
		}
		s = c.streams.AcceptStream(id, recvLimit, sendLimit)
		c.events.Push(events.Event{Kind: events.KindStreamOpened, StreamID: id, StreamDirection: id.Direction()})
	}
	if err := c.connFlowRecv.OnDataReceived(f.Offset + uint64(len(f.Data))); err != nil {
		c.CloseTransportLocked(wire.NewConnError(wire.ErrFlowControlError, "connection flow control violation", err))
		return
	}
	if err := s.ReceiveFrame(f.Offset, f.Data, f.Fin); err != nil {
		code := wire.ErrProtocolViolation
		if errors.Is(err, flowcontrol.ErrFlowControlViolation) {
			code = wire.ErrFlowControlError
		}
		c.CloseTransportLocked(wire.NewConnError(code, "stream reassembly error", err))
		return
	}
	c.events.Push(events.Event{Kind: events.KindStreamData, StreamID: id, Fin: f.Fin})
}

// appendCryptoOut queues TLS-produced handshake bytes for the send
// scheduler to wrap into CRYPTO frames at the given level.
func (c *Connection) appendCryptoOut(lvl wire.Level, data []byte) {
	ls := c.levelFor(lvl)
	ls.outCrypto = append(ls.outCrypto, append([]byte(nil), data...)...)
}

// HandshakeCompleteLocked is HandshakeComplete's body for callers that
// already hold c.mu (the dispatch path).
func (c *Connection) HandshakeCompleteLocked() {
	if c.state != StateHandshaking {
		return
	}
	c.state = StateConnected
	alpn := ""
	if c.tls != nil {
		alpn = c.tls.ConnectionState().NegotiatedProtocol
	}
	c.events.Push(events.Event{Kind: events.KindHandshakeComplete, ALPN: alpn})
}

// CloseTransportLocked is CloseTransport's body for callers that
// already hold c.mu.
func (c *Connection) CloseTransportLocked(err *wire.ConnError) {
	if c.state == StateClosing || c.state == StateDraining || c.state == StateClosed {
		return
	}
	c.closeErr = err
	c.state = StateClosing
	c.closeSentAt = time.Now()
	c.events.Push(events.Event{Kind: events.KindConnectionClose, CloseCode: uint64(err.Code), CloseReason: err.Reason})
}

// onPeerTransportParametersLocked is OnPeerTransportParameters's body
// for callers that already hold c.mu (the dispatch path, fed by the
// TLS adapter's EventTransportParameters).
func (c *Connection) onPeerTransportParametersLocked(raw []byte) error {
	params, err := transportparams.Parse(raw)
	if err != nil {
		return err
	}
	c.peerParams = params
	c.connFlowSend.OnMaxDataUpdate(params.InitialMaxData)
	c.streams.SetPeerStreamLimits(params.InitialMaxStreamsBidi, params.InitialMaxStreamsUni)
	if params.MaxIdleTimeout != 0 {
		remoteTimeout := idleTimeout(params)
		if c.idleTimeoutDur == 0 || remoteTimeout < c.idleTimeoutDur {
			c.idleTimeoutDur = remoteTimeout
		}
		c.idleDeadline = time.Now().Add(c.idleTimeoutDur)
	}
	return nil
}

// deriveDirectionKeys derives packet-protection keys for one direction
// of one level from a TLS-exported traffic secret.
func deriveDirectionKeys(secret []byte, suite qcrypto.Suite) (packetcodec.DirectionKeys, error) {
	lk, err := keyschedule.DeriveLevelKeys(secret, suite)
	if err != nil {
		return packetcodec.DirectionKeys{}, err
	}
	return packetcodec.NewDirectionKeys(lk, suite)
}
