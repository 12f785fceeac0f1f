package streams

import (
	"errors"

	"quictransport/domain/streamid"
	"quictransport/infrastructure/flowcontrol"
)

// ErrStreamLimit is returned when opening a stream would exceed the
// peer's advertised MAX_STREAMS cap.
var ErrStreamLimit = errors.New("streams: local stream limit reached")

// ErrUnknownStream is returned for operations against a stream ID this
// multiplexer never opened or accepted.
var ErrUnknownStream = errors.New("streams: unknown stream id")

// Multiplexer owns every open stream of one connection: ID allocation,
// the peer-imposed MAX_STREAMS caps, and a fair round-robin scheduler
// over streams with pending send data (spec.md §4.11).
type Multiplexer struct {
	isClient bool

	byID map[streamid.ID]*Stream

	nextBidiSeq uint64
	nextUniSeq  uint64

	localBidiLimit uint64 // peer's MAX_STREAMS(bidi) to us
	localUniLimit  uint64

	connFlow *flowcontrol.Sender // connection-level send budget, shared across streams

	// scheduleOrder preserves round-robin position across calls to
	// NextReady independent of map iteration order.
	scheduleOrder []streamid.ID
	scheduleIdx   int

	streamRecvWindow uint64 // initial per-stream receive window for newly accepted streams
}

// NewMultiplexer builds an empty multiplexer. isClient selects which
// stream-ID parity this endpoint allocates for locally opened streams.
func NewMultiplexer(isClient bool, connSendLimit, connRecvLimit, streamRecvWindow uint64) *Multiplexer {
	return &Multiplexer{
		isClient:         isClient,
		byID:             make(map[streamid.ID]*Stream),
		connFlow:         flowcontrol.NewSender(connSendLimit),
		streamRecvWindow: streamRecvWindow,
	}
}

// SetPeerStreamLimits installs the peer's initial_max_streams_{bidi,uni}
// transport parameters, or updates them on a MAX_STREAMS frame.
func (m *Multiplexer) SetPeerStreamLimits(bidi, uni uint64) {
	if bidi > m.localBidiLimit {
		m.localBidiLimit = bidi
	}
	if uni > m.localUniLimit {
		m.localUniLimit = uni
	}
}

func (m *Multiplexer) initiator() streamid.Initiator {
	if m.isClient {
		return streamid.InitiatorClient
	}
	return streamid.InitiatorServer
}

// OpenStream allocates the next locally-initiated stream ID of the
// requested direction, refusing the call if doing so would exceed the
// peer's advertised cap (spec.md §4.11: refused locally, not a wire
// error, until the cap increases).
func (m *Multiplexer) OpenStream(dir streamid.Direction, streamSendLimit uint64) (*Stream, error) {
	var seq, limit uint64
	if dir == streamid.Bidirectional {
		seq, limit = m.nextBidiSeq, m.localBidiLimit
	} else {
		seq, limit = m.nextUniSeq, m.localUniLimit
	}
	if seq >= limit {
		return nil, ErrStreamLimit
	}

	id := streamid.New(seq, m.initiator(), dir)
	if dir == streamid.Bidirectional {
		m.nextBidiSeq++
	} else {
		m.nextUniSeq++
	}

	flow := &flowcontrol.Controller{Conn: m.connFlow, Stream: flowcontrol.NewSender(streamSendLimit)}
	s := NewStream(id, flow, m.streamRecvWindow)
	m.byID[id] = s
	m.scheduleOrder = append(m.scheduleOrder, id)
	return s, nil
}

// AcceptStream registers a peer-initiated stream the first time data
// arrives for it, enforcing this endpoint's own advertised cap at the
// caller (the caller checks id's sequence against its own MAX_STREAMS
// before calling AcceptStream, per RFC 9000 §4.6). recvLimit is this
// endpoint's own advertised receive window for the stream (what it
// offers the peer to write); sendLimit is the peer's advertised limit
// for data this endpoint may write back (0 for a unidirectional stream
// this endpoint never writes to).
func (m *Multiplexer) AcceptStream(id streamid.ID, recvLimit, sendLimit uint64) *Stream {
	if s, ok := m.byID[id]; ok {
		return s
	}
	flow := &flowcontrol.Controller{Conn: m.connFlow, Stream: flowcontrol.NewSender(sendLimit)}
	s := NewStream(id, flow, recvLimit)
	m.byID[id] = s
	m.scheduleOrder = append(m.scheduleOrder, id)
	return s
}

// Get returns a stream by ID, or ErrUnknownStream.
func (m *Multiplexer) Get(id streamid.ID) (*Stream, error) {
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrUnknownStream
	}
	return s, nil
}

// NextReady returns the next stream with pending send data, advancing
// the round-robin cursor. Streams with pending data are visited in
// allocation order; Priority is not consulted.
func (m *Multiplexer) NextReady() (*Stream, bool) {
	n := len(m.scheduleOrder)
	for i := 0; i < n; i++ {
		idx := (m.scheduleIdx + i) % n
		id := m.scheduleOrder[idx]
		s, ok := m.byID[id]
		if !ok {
			continue
		}
		if s.PendingBytes() > 0 || (s.finSent && s.sendState == StateSendClosed && len(s.sendBuf) == 0 && s.ackedOffset < s.finalSendSize && s.finalSendSize == s.sendOffset) {
			m.scheduleIdx = (idx + 1) % n
			return s, true
		}
	}
	return nil, false
}

// Reap removes every stream that has become Destroyable, returning
// their IDs.
func (m *Multiplexer) Reap() []streamid.ID {
	var done []streamid.ID
	for id, s := range m.byID {
		if s.Destroyable() {
			done = append(done, id)
			delete(m.byID, id)
		}
	}
	if len(done) > 0 {
		filtered := m.scheduleOrder[:0]
		removed := make(map[streamid.ID]bool, len(done))
		for _, id := range done {
			removed[id] = true
		}
		for _, id := range m.scheduleOrder {
			if !removed[id] {
				filtered = append(filtered, id)
			}
		}
		m.scheduleOrder = filtered
	}
	return done
}

// Count returns the number of currently open streams.
func (m *Multiplexer) Count() int { return len(m.byID) }
