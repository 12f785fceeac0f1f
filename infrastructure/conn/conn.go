package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"quictransport/domain/connid"
	"quictransport/domain/frame"
	"quictransport/domain/pnspace"
	"quictransport/domain/streamid"
	"quictransport/domain/transportparams"
	"quictransport/domain/wire"
	"quictransport/infrastructure/congestion"
	"quictransport/infrastructure/events"
	"quictransport/infrastructure/flowcontrol"
	"quictransport/infrastructure/pacing"
	"quictransport/infrastructure/packetcodec"
	"quictransport/infrastructure/qcrypto"
	"quictransport/infrastructure/qcrypto/keyschedule"
	"quictransport/infrastructure/qcrypto/rekey"
	"quictransport/infrastructure/recovery"
	"quictransport/infrastructure/streams"
	"quictransport/infrastructure/tlsadapter"
)

// levelState bundles the per-encryption-level keys, packet-number
// space, and CRYPTO-stream bookkeeping a connection needs for Initial,
// Handshake, and Application (RFC 9000 §4's "each level has its own
// keys and packet-number space" invariant, spec.md §3). Read and write
// keys are tracked separately: a client's Initial read secret (derived
// from "server in") never equals its write secret (from "client in"),
// and TLS delivers Handshake/Application read and write secrets as two
// distinct events.
type levelState struct {
	space *recovery.Space

	readKeys  packetcodec.DirectionKeys
	writeKeys packetcodec.DirectionKeys
	haveRead  bool
	haveWrite bool

	// cryptoRecv reassembles CRYPTO frame bytes for this level in
	// offset order before handing them to the TLS adapter; cryptoSend
	// is the next offset this connection will use when wrapping
	// TLS-produced handshake bytes into an outgoing CRYPTO frame.
	cryptoRecv *streams.Reassembler
	cryptoSend uint64

	// recvRanges tracks received packet numbers in this space for ACK
	// frame construction; ackElicited is set once a received packet in
	// this space requires an acknowledgment to be sent back.
	recvRanges  pnspace.RangeSet
	ackElicited bool
	lastRecvAt  time.Time

	// nextPN is the next packet number this connection will use when
	// sending in this space (RFC 9000 §12.3: strictly increasing,
	// starting at 0, per space).
	nextPN int64

	// outCrypto holds TLS-produced handshake bytes not yet wrapped
	// into an outgoing CRYPTO frame by the send scheduler.
	outCrypto []byte

	// cryptoResend holds CRYPTO frames declared lost that the send
	// scheduler must reframe ahead of any new outCrypto bytes.
	cryptoResend []frame.CryptoFrame
}

func newLevelState(rtt *recovery.RTTEstimator) levelState {
	return levelState{space: recovery.NewSpace(rtt), cryptoRecv: streams.NewReassembler()}
}

// Socket is the external collaborator spec.md §1 names: a datagram
// socket the connection reads and writes UDP payloads through. The
// core never opens an interface itself; a caller supplies one already
// bound and (for a client) connected or pre-addressed.
type Socket interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
}

// Connection is the C12 state machine: it owns the active path,
// per-level keys and packet-number spaces, the stream multiplexer, the
// congestion/pacing/recovery machinery, and the event queue consumed by
// the application facade.
type Connection struct {
	mu sync.Mutex

	cfg    Config
	socket Socket
	tls    *tlsadapter.Adapter

	state State

	localCID  connid.ID
	remoteCID connid.ID
	cidPool   *connid.Pool

	version wire.Version
	path    *Path

	initial   levelState
	handshake levelState
	app       levelState
	rekeyCtl  *rekey.Controller

	rttEstimator *recovery.RTTEstimator
	congestion   congestion.Controller
	pacer        *pacing.Pacer

	connFlowRecv *flowcontrol.Receiver
	connFlowSend *flowcontrol.Sender
	streams      *streams.Multiplexer

	peerParams transportparams.Params

	events *events.Queue

	closeErr    error // *wire.AppError (application close) or *wire.ConnError (transport close)
	closeSentAt time.Time
	closeCount  int

	// packetsLost accumulates every packet recovery.Space.OnAck declares
	// lost across all three spaces, for Stats().
	packetsLost uint64

	handshakeDeadline time.Time
	idleDeadline      time.Time
	idleTimeoutDur    time.Duration

	appSuite qcrypto.Suite

	// rw wakes blocking ReadStream/WriteStream/SendDatagram callers
	// whenever the dispatch loop deposits data, a flow-control window
	// opens, or the connection's lifecycle state changes (spec.md §5's
	// suspension points 3 and 4). It shares c.mu as its lock.
	rw *sync.Cond

	// pendingRead holds a stream's already-reassembled bytes that were
	// read out of the core Stream but not yet fully consumed by a
	// caller whose requested max was smaller than what was available.
	pendingRead map[streamid.ID]pendingChunk

	// pendingDatagrams holds unreliable DATAGRAM frame payloads queued
	// by SendDatagram, drained by the send scheduler (spec.md §4.14:
	// DATAGRAM frames are never retransmitted, so no recovery tracking
	// applies to them beyond the one send attempt).
	pendingDatagrams [][]byte

	// localAppSecret/peerAppSecret are the 1-RTT traffic secrets TLS
	// exported, retained so the key-update controller (C3a) can derive
	// "quic ku" generations once the handshake completes.
	localAppSecret []byte
	peerAppSecret  []byte

	// peerHandshakeConfirmed records that the TLS adapter has signaled
	// QUICHandshakeDone; HANDSHAKE_DONE is sent once this and the
	// local handshake completion are both true (spec.md §4.12).
	peerHandshakeConfirmed bool

	// pendingPathResponse, if non-nil, is the PATH_CHALLENGE payload
	// the send scheduler must echo back in the next outgoing packet
	// (RFC 9000 §8.2.2).
	pendingPathResponse *[8]byte

	// sentHandshakeDone records that HANDSHAKE_DONE has already gone
	// out, so the send scheduler emits it exactly once.
	sentHandshakeDone bool

	// maxDataPending records that connFlowRecv's window has grown since
	// the last MAX_DATA frame was sent; cleared once the send scheduler
	// frames one.
	maxDataPending bool

	// maxStreamDataPending records which streams' per-stream receive
	// windows have grown since their last MAX_STREAM_DATA frame; cleared
	// per-stream once the send scheduler frames one (scheduleMaxData's
	// per-stream twin).
	maxStreamDataPending map[streamid.ID]struct{}
}

// pendingChunk is a leftover reassembled chunk waiting to be handed to
// the application in (possibly several) smaller reads.
type pendingChunk struct {
	data []byte
	fin  bool
}

// New constructs a Connection in StateIdle. Dial (below) drives it
// through the handshake; New alone performs no I/O.
func New(cfg Config, socket Socket) (*Connection, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	localCID, err := connid.Generate(cfg.ConnectionIDLength)
	if err != nil {
		return nil, fmt.Errorf("conn: generate local connection id: %w", err)
	}

	rtt := recovery.NewRTTEstimator(time.Duration(cfg.Params.MaxAckDelay) * time.Millisecond)

	var cc congestion.Controller
	switch cfg.Congestion {
	case CongestionBBR:
		cc = congestion.NewBBR()
	case CongestionBBRv2:
		cc = congestion.NewBBRv2()
	default:
		cc = congestion.NewCubic()
	}

	c := &Connection{
		cfg:                  cfg,
		socket:               socket,
		state:                StateIdle,
		localCID:             localCID,
		cidPool:              connid.NewPool(),
		version:              cfg.Version,
		initial:              newLevelState(rtt),
		handshake:            newLevelState(rtt),
		app:                  newLevelState(rtt),
		rttEstimator:         rtt,
		congestion:           cc,
		pacer:                pacing.NewPacer(congestion.MaxDatagramSize, time.Now()),
		connFlowRecv:         flowcontrol.NewReceiver(cfg.Params.InitialMaxData),
		connFlowSend:         flowcontrol.NewSender(0), // raised once peer params arrive
		events:               events.NewQueue(),
		pendingRead:          make(map[streamid.ID]pendingChunk),
		maxStreamDataPending: make(map[streamid.ID]struct{}),
	}
	c.rw = sync.NewCond(&c.mu)
	c.streams = streams.NewMultiplexer(true, cfg.Params.InitialMaxData, cfg.Params.InitialMaxData,
		cfg.Params.InitialMaxStreamDataBidiLocal)
	return c, nil
}

// Dial begins the handshake against remote: derives Initial keys from
// the client's chosen destination connection ID (RFC 9001 §5.2),
// starts the TLS adapter, and transitions to StateHandshaking.
// Completion (transition to StateConnected) happens asynchronously as
// datagrams are processed by HandleDatagram; callers await it via
// Events().Next or by polling State().
func (c *Connection) Dial(ctx context.Context, remote net.Addr, tlsConfig *tls.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return fmt.Errorf("conn: Dial called in state %s", c.state)
	}

	remoteCID, err := connid.Generate(c.cfg.ConnectionIDLength)
	if err != nil {
		return fmt.Errorf("conn: generate initial destination connection id: %w", err)
	}
	c.remoteCID = remoteCID
	c.path = NewPath(nil, remote)

	clientSecret, serverSecret, err := keyschedule.InitialSecrets(c.version, remoteCID.Bytes())
	if err != nil {
		return fmt.Errorf("conn: derive initial secrets: %w", err)
	}
	// Initial secrets always use AEAD_AES_128_GCM regardless of the
	// negotiated application cipher suite, for both v1 and v2 (RFC 9001
	// §5.2, RFC 9369 §3.2). The client writes with its own secret and
	// reads with the server's.
	clientKeys, err := keyschedule.DeriveLevelKeys(clientSecret, qcrypto.SuiteAES128GCM)
	if err != nil {
		return fmt.Errorf("conn: derive initial write keys: %w", err)
	}
	serverKeys, err := keyschedule.DeriveLevelKeys(serverSecret, qcrypto.SuiteAES128GCM)
	if err != nil {
		return fmt.Errorf("conn: derive initial read keys: %w", err)
	}
	if c.initial.writeKeys, err = packetcodec.NewDirectionKeys(clientKeys, qcrypto.SuiteAES128GCM); err != nil {
		return fmt.Errorf("conn: build initial write keys: %w", err)
	}
	if c.initial.readKeys, err = packetcodec.NewDirectionKeys(serverKeys, qcrypto.SuiteAES128GCM); err != nil {
		return fmt.Errorf("conn: build initial read keys: %w", err)
	}
	c.initial.haveWrite, c.initial.haveRead = true, true

	tp := c.cfg.Params
	tp.InitialSourceConnectionID = c.localCID.Bytes()
	c.tls = tlsadapter.NewClient(withALPN(tlsConfig, c.cfg.ServerName), tp.Marshal())

	now := time.Now()
	c.handshakeDeadline = now.Add(c.cfg.HandshakeTimeout)
	c.idleTimeoutDur = idleTimeout(c.cfg.Params)
	c.idleDeadline = now.Add(c.idleTimeoutDur)
	c.state = StateHandshaking

	return c.tls.Start(ctx)
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats reports the live values spec.md §6's Connection::stats()
// exposes.
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		RTT:           c.rttEstimator.SmoothedRTT,
		PacketsLost:   c.packetsLost,
		BytesInFlight: c.congestion.BytesInFlight(),
		CWND:          c.congestion.CWND(),
		PacingRate:    c.congestion.PacingRate(),
		StreamCount:   c.streams.Count(),
	}
	if c.path != nil {
		s.BytesSent = c.path.bytesSent
		s.BytesReceived = c.path.bytesReceived
	}
	return s
}

// Events returns the connection's event queue, which the application
// facade polls or blocks on (spec.md C15).
func (c *Connection) Events() *events.Queue { return c.events }

// OpenStream allocates a new locally initiated stream (spec.md §6
// Connection::open_stream), honoring the peer's advertised stream-count
// limit.
func (c *Connection) OpenStream(dir streamid.Direction) (*streams.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams.OpenStream(dir, c.peerParams.InitialMaxStreamDataBidiRemote)
}

// Close begins an application-initiated close (spec.md §6
// Connection::close, §4.12): an APPLICATION_CLOSE frame with code and
// reason is scheduled, and the connection enters StateClosing. If the
// connection had not finished handshaking, the handshake is abandoned
// immediately.
func (c *Connection) Close(code uint64, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosing || c.state == StateDraining || c.state == StateClosed {
		return
	}
	c.closeErr = wire.NewAppError(code, reason)
	c.state = StateClosing
	c.closeSentAt = time.Now()
	c.events.Push(events.Event{Kind: events.KindConnectionClose, CloseCode: code, CloseReason: reason})
}

// CloseTransport closes the connection due to a locally detected
// protocol violation, sending CONNECTION_CLOSE (0x1c) instead of an
// application-level APPLICATION_CLOSE (0x1d), per spec.md §4.12/§7.
func (c *Connection) CloseTransport(err *wire.ConnError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosing || c.state == StateDraining || c.state == StateClosed {
		return
	}
	c.closeErr = err
	c.state = StateClosing
	c.closeSentAt = time.Now()
	c.events.Push(events.Event{Kind: events.KindConnectionClose, CloseCode: uint64(err.Code), CloseReason: err.Reason})
}

// OnIdleTimeout silently closes the connection (no CONNECTION_CLOSE is
// sent) when no packet has been successfully processed within the
// negotiated idle timeout, per spec.md §5/§7(e).
func (c *Connection) OnIdleTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.events.Push(events.Event{Kind: events.KindConnectionClose, CloseCode: 0, CloseReason: "idle timeout"})
	c.events.Close()
}

// MaybeRetransmitClose reports whether the close frame is due to be sent
// again: true while Closing and within 3 PTO of the first close. Once 3
// PTO have passed the connection transitions to Draining (spec.md §4.12,
// S6) and it returns false. The timer loop calls it on every tick.
func (c *Connection) MaybeRetransmitClose(now time.Time) (shouldSend bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateClosing {
		return false
	}
	pto := c.rttEstimator.PTO()
	if now.Sub(c.closeSentAt) > 3*pto {
		c.state = StateDraining
		c.closeSentAt = now
		return false
	}
	c.closeCount++
	return true
}

// AdvanceDraining transitions Draining to Closed once silence has
// elapsed; the caller (the connection's timer loop) calls this after
// its own drain deadline passes.
func (c *Connection) AdvanceDraining() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDraining {
		c.state = StateClosed
		c.events.Close()
	}
}

// HandshakeComplete installs application keys' availability flag and
// transitions Handshaking to Connected; called once the TLS adapter
// reports QUICHandshakeDone and HANDSHAKE_DONE has been both sent and
// received, per spec.md §4.12.
func (c *Connection) HandshakeComplete(alpn string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateHandshaking {
		return
	}
	c.state = StateConnected
	c.events.Push(events.Event{Kind: events.KindHandshakeComplete, ALPN: alpn})
}

// OnPeerTransportParameters records the peer's transport parameters
// once TLS delivers them, raising connection- and stream-level send
// limits accordingly (spec.md §4.13).
func (c *Connection) OnPeerTransportParameters(raw []byte) error {
	params, err := transportparams.Parse(raw)
	if err != nil {
		return fmt.Errorf("conn: parse peer transport parameters: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
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

// withALPN forces ALPN to "h3" regardless of caller-supplied
// TLSConfig.NextProtos, per spec.md §6.
func withALPN(cfg *tls.Config, serverName string) *tls.Config {
	out := cfg.Clone()
	out.NextProtos = []string{"h3"}
	if serverName != "" {
		out.ServerName = serverName
	}
	return out
}

// idleTimeout converts one side's max_idle_timeout parameter into a
// duration; zero means that side sets no cap. OnPeerTransportParameters
// takes the min(local, remote) of spec.md §5.
func idleTimeout(p transportparams.Params) time.Duration {
	if p.MaxIdleTimeout == 0 {
		return 0
	}
	return time.Duration(p.MaxIdleTimeout) * time.Millisecond
}

// waitLocked blocks on c.rw until the next wakeup or ctx cancellation.
// c.mu must be held on entry and is held again on return; it is
// released only while actually waiting, mirroring the pattern
// infrastructure/events.Queue.Next uses for a condition variable that
// must also honor context cancellation.
func (c *Connection) waitLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.rw.Broadcast()
			c.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)
	c.rw.Wait()
	return ctx.Err()
}

// ReadStream returns up to len(p) bytes from a stream's reassembled
// receive buffer, blocking until data (or the stream's FIN, reset, or
// ctx cancellation) is available, per spec.md §6 Connection::read.
func (c *Connection) ReadStream(ctx context.Context, id streamid.ID, p []byte) (n int, fin bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		if chunk, ok := c.pendingRead[id]; ok {
			n = copy(p, chunk.data)
			c.onStreamBytesConsumed(id, uint64(n))
			if n < len(chunk.data) {
				c.pendingRead[id] = pendingChunk{data: chunk.data[n:], fin: chunk.fin}
				return n, false, nil
			}
			delete(c.pendingRead, id)
			return n, chunk.fin, nil
		}

		s, err := c.streams.Get(id)
		if err != nil {
			return 0, false, err
		}
		data, fin, err := s.Read()
		if err != nil {
			return 0, false, err
		}
		if len(data) > 0 || fin {
			if len(data) == 0 {
				return 0, fin, nil
			}
			n = copy(p, data)
			c.onStreamBytesConsumed(id, uint64(n))
			if n < len(data) {
				c.pendingRead[id] = pendingChunk{data: data[n:], fin: fin}
				return n, false, nil
			}
			return n, fin, nil
		}

		if c.state == StateClosed || c.state == StateDraining {
			return 0, false, fmt.Errorf("conn: connection closed")
		}
		if err := c.waitLocked(ctx); err != nil {
			return 0, false, err
		}
	}
}

// onStreamBytesConsumed records that the application has consumed n more
// bytes off stream id, advancing both the connection-level and
// per-stream receive windows and scheduling whichever MAX_DATA/
// MAX_STREAM_DATA frames crossed their doubling threshold (spec.md
// §4.10). Called with c.mu held from every path that hands reassembled
// bytes to the caller, including draining a stashed pendingRead chunk.
func (c *Connection) onStreamBytesConsumed(id streamid.ID, n uint64) {
	if n == 0 {
		return
	}
	if _, upd := c.connFlowRecv.OnConsumed(n); upd {
		c.scheduleMaxData()
	}
	if s, err := c.streams.Get(id); err == nil {
		if _, upd := s.RecvConsumed(n); upd {
			c.scheduleMaxStreamData(id)
		}
	}
}

// WriteStream appends p to a stream's send buffer, blocking until every
// byte of p has been accepted by flow control (accumulating across
// however many MAX_STREAM_DATA/MAX_DATA windows that takes), or until the
// connection closes or ctx is canceled (spec.md §6 Connection::write,
// §8 scenario S4).
func (c *Connection) WriteStream(ctx context.Context, id streamid.ID, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	written := 0
	for written < len(p) {
		s, err := c.streams.Get(id)
		if err != nil {
			return written, err
		}
		n, err := s.Write(p[written:])
		if err != nil {
			return written, err
		}
		if n > 0 {
			written += n
			c.rw.Broadcast()
			continue
		}
		if c.state == StateClosed || c.state == StateDraining {
			return written, fmt.Errorf("conn: connection closed")
		}
		if err := c.waitLocked(ctx); err != nil {
			return written, err
		}
	}
	return written, nil
}

// CloseStream closes a stream's send side (FIN) once no further bytes
// will be written, per spec.md §6.
func (c *Connection) CloseStream(id streamid.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.streams.Get(id)
	if err != nil {
		return err
	}
	s.CloseSend()
	c.rw.Broadcast()
	return nil
}

// ResetStream abandons a stream's send side locally (spec.md §6
// Connection::reset_stream): buffered data is discarded and a
// KindStreamReset event is pushed to the local event queue. No
// RESET_STREAM frame is sent to the peer.
func (c *Connection) ResetStream(id streamid.ID, code uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.streams.Get(id)
	if err != nil {
		return err
	}
	s.SendReset()
	c.events.Push(events.Event{Kind: events.KindStreamReset, StreamID: id, ErrorCode: code})
	c.rw.Broadcast()
	return nil
}

// SendDatagram queues an unreliable QUIC DATAGRAM frame payload for the
// send scheduler, per spec.md §6 Connection::send_datagram. It does not
// block: datagrams are fire-and-forget, so there is no flow-control
// budget to wait on.
func (c *Connection) SendDatagram(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CanSend() {
		return fmt.Errorf("conn: SendDatagram called in state %s", c.state)
	}
	cp := append([]byte(nil), data...)
	c.pendingDatagrams = append(c.pendingDatagrams, cp)
	c.rw.Broadcast()
	return nil
}

// scheduleMaxData pushes an updated connection receive window to the
// peer; called with c.mu held whenever flowcontrol.Receiver.OnConsumed
// reports the window crossed its half-consumed threshold. The actual
// MAX_DATA frame is built by the send scheduler from connFlowRecv's
// current Advertised() value, so this only needs to wake it.
func (c *Connection) scheduleMaxData() {
	c.maxDataPending = true
	c.app.ackElicited = true
	c.rw.Broadcast()
}

// scheduleMaxStreamData is scheduleMaxData's per-stream twin: called with
// c.mu held whenever a stream's flowcontrol.Receiver.OnConsumed reports
// its window crossed its half-consumed threshold (spec.md §4.10).
func (c *Connection) scheduleMaxStreamData(id streamid.ID) {
	c.maxStreamDataPending[id] = struct{}{}
	c.app.ackElicited = true
	c.rw.Broadcast()
}
