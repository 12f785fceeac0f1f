// Package streams implements QUIC stream multiplexing (spec.md §4.11):
// per-stream state machines, receive reassembly, an ordered send
// buffer, and a round-robin scheduler across the connection's open
// streams.
package streams

import (
	"errors"

	"quictransport/domain/streamid"
	"quictransport/infrastructure/flowcontrol"
)

// State is the small state machine spec.md §3 assigns to each
// direction-terminal view of a stream.
type State uint8

const (
	StateReady State = iota
	StateOpen
	StateSendClosed // FIN sent, not yet acked
	StateRecvClosed // FIN received and delivered to the application
	StateResetSent
	StateResetReceived
	StateClosed // both directions terminal; Destroyable also requires the final send offset acked
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateOpen:
		return "Open"
	case StateSendClosed:
		return "SendClosed"
	case StateRecvClosed:
		return "RecvClosed"
	case StateResetSent:
		return "ResetSent"
	case StateResetReceived:
		return "ResetReceived"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ErrStreamReset is surfaced to a reader once the peer has reset the
// stream; it carries the application error code RESET_STREAM sent.
type ErrStreamReset struct {
	Code uint64
}

func (e *ErrStreamReset) Error() string { return "streams: reset by peer" }

// ErrClosed is returned on any operation against a fully closed stream.
var ErrClosed = errors.New("streams: stream is closed")

// sendSegment is one unacknowledged write waiting to be framed or
// reframed after a loss.
type sendSegment struct {
	offset uint64
	data   []byte
}

// Stream is one QUIC stream: a bidirectional or unidirectional byte
// pipe with independent send/receive terminal state, framed by the
// connection's packetizer.
type Stream struct {
	ID streamid.ID

	sendState State
	recvState State

	// send side
	sendBuf      []sendSegment // pending, not yet framed
	sendOffset   uint64        // bytes appended by the application so far
	ackedOffset  uint64        // bytes the peer has acknowledged
	finSent      bool
	finalSendSize uint64

	flow *flowcontrol.Controller

	// recv side
	reassembler *Reassembler
	recv        *flowcontrol.Receiver
	resetErr    *ErrStreamReset

	// Priority is an application-set scheduling hint; round-robin is
	// the floor the scheduler guarantees regardless of this value
	// (spec.md §9 Open Questions — the teacher's own priority field is
	// declared but never consumed, and the spec permits but does not
	// require priority-aware scheduling).
	Priority int
}

// NewStream builds a stream in the Ready/Open state with the given send
// flow-control controller and receive window (the limit this endpoint
// advertises to the peer for data arriving on this stream).
func NewStream(id streamid.ID, flow *flowcontrol.Controller, recvWindow uint64) *Stream {
	return &Stream{
		ID:          id,
		sendState:   StateOpen,
		recvState:   StateOpen,
		flow:        flow,
		reassembler: NewReassembler(),
		recv:        flowcontrol.NewReceiver(recvWindow),
	}
}

// Write appends bytes to the send buffer subject to flow control,
// returning the number of bytes actually accepted (may be less than
// len(p) if the flow-control budget is smaller).
func (s *Stream) Write(p []byte) (int, error) {
	if s.sendState != StateOpen {
		return 0, ErrClosed
	}
	budget := s.flow.EffectiveBudget()
	n := len(p)
	if uint64(n) > budget {
		n = int(budget)
	}
	if n == 0 {
		return 0, nil
	}
	s.sendBuf = append(s.sendBuf, sendSegment{offset: s.sendOffset, data: append([]byte(nil), p[:n]...)})
	s.sendOffset += uint64(n)
	s.flow.Stream.OnSent(uint64(n))
	s.flow.Conn.OnSent(uint64(n))
	return n, nil
}

// PendingBytes reports how many unframed bytes are waiting to be sent.
func (s *Stream) PendingBytes() int {
	total := 0
	for _, seg := range s.sendBuf {
		total += len(seg.data)
	}
	return total
}

// NextFrame pops up to maxLen bytes of pending send data for framing,
// returning the offset, the bytes, and whether this chunk carries the
// stream's FIN (only true once every preceding byte has been framed
// and the application has closed the send side).
func (s *Stream) NextFrame(maxLen int) (offset uint64, data []byte, fin bool, ok bool) {
	if len(s.sendBuf) == 0 {
		if s.finSent && s.sendState == StateSendClosed {
			return 0, nil, false, false
		}
		return 0, nil, false, false
	}
	seg := s.sendBuf[0]
	n := len(seg.data)
	if n > maxLen {
		n = maxLen
	}
	chunk := seg.data[:n]
	off := seg.offset
	if n == len(seg.data) {
		s.sendBuf = s.sendBuf[1:]
	} else {
		s.sendBuf[0] = sendSegment{offset: seg.offset + uint64(n), data: seg.data[n:]}
	}
	isFin := s.finSent && len(s.sendBuf) == 0 && off+uint64(n) == s.finalSendSize
	return off, chunk, isFin, true
}

// CloseSend marks the send side closed: once every buffered byte has
// been framed, the next NextFrame call carrying the final byte sets
// fin=true.
func (s *Stream) CloseSend() {
	if s.sendState != StateOpen {
		return
	}
	s.finSent = true
	s.finalSendSize = s.sendOffset
	s.sendState = StateSendClosed
}

// OnSendAcked records that the peer has acknowledged up to newOffset
// bytes of the send stream.
func (s *Stream) OnSendAcked(newOffset uint64) {
	if newOffset > s.ackedOffset {
		s.ackedOffset = newOffset
	}
}

// RaiseSendLimit applies a MAX_STREAM_DATA update to this stream's send
// flow-control budget.
func (s *Stream) RaiseSendLimit(newLimit uint64) {
	s.flow.Stream.OnMaxDataUpdate(newLimit)
}

// Requeue puts a previously-framed, now-declared-lost segment back at
// the front of the send buffer for reframing, unless the peer has
// already acknowledged past it (a loss declaration racing a late ACK).
func (s *Stream) Requeue(offset uint64, data []byte) {
	if offset+uint64(len(data)) <= s.ackedOffset {
		return
	}
	if offset < s.ackedOffset {
		data = data[s.ackedOffset-offset:]
		offset = s.ackedOffset
	}
	s.sendBuf = append([]sendSegment{{offset: offset, data: data}}, s.sendBuf...)
}

// ReceiveFrame deposits a STREAM frame's payload into the reassembler,
// first checking it against this stream's advertised receive window
// (flowcontrol.ErrFlowControlViolation if the peer exceeded it).
func (s *Stream) ReceiveFrame(offset uint64, data []byte, fin bool) error {
	if s.recvState == StateResetReceived {
		return nil
	}
	if err := s.recv.OnDataReceived(offset + uint64(len(data))); err != nil {
		return err
	}
	return s.reassembler.Insert(offset, data, fin)
}

// Read returns the next contiguous chunk of received data and whether
// the stream's FIN has now been delivered. If the peer has reset the
// stream, it returns ErrStreamReset instead.
func (s *Stream) Read() (data []byte, fin bool, err error) {
	if s.resetErr != nil {
		return nil, false, s.resetErr
	}
	data, fin = s.reassembler.Read()
	if fin {
		s.recvState = StateRecvClosed
	}
	return data, fin, nil
}

// RecvConsumed records that the application has read n more bytes off
// this stream, reporting whether the advertised per-stream receive
// window should grow (and the new value to advertise) per spec.md
// §4.10's doubling rule.
func (s *Stream) RecvConsumed(n uint64) (newLimit uint64, shouldUpdate bool) {
	return s.recv.OnConsumed(n)
}

// RecvAdvertised returns this stream's currently advertised receive
// limit, the value a MAX_STREAM_DATA frame reports.
func (s *Stream) RecvAdvertised() uint64 {
	return s.recv.Advertised()
}

// OnReset records an incoming RESET_STREAM: all buffered data is
// discarded and the next Read reports the reset.
func (s *Stream) OnReset(appErrorCode uint64) {
	s.resetErr = &ErrStreamReset{Code: appErrorCode}
	s.recvState = StateResetReceived
	s.reassembler = NewReassembler()
}

// SendReset marks the send side reset locally (application called
// ResetStream); no further writes are accepted and any buffered data
// is discarded.
func (s *Stream) SendReset() {
	s.sendState = StateResetSent
	s.sendBuf = nil
}

// State reports the combined stream state per spec.md §3's single-value
// view: Closed only once both directions are terminal.
func (s *Stream) State() State {
	sendTerminal := s.sendState == StateSendClosed || s.sendState == StateResetSent
	recvTerminal := s.recvState == StateRecvClosed || s.recvState == StateResetReceived
	if sendTerminal && recvTerminal {
		return StateClosed
	}
	if s.sendState == StateResetSent {
		return StateResetSent
	}
	if s.recvState == StateResetReceived {
		return StateResetReceived
	}
	if sendTerminal {
		return StateSendClosed
	}
	if recvTerminal {
		return StateRecvClosed
	}
	return StateOpen
}

// Destroyable reports whether the stream may be garbage-collected: both
// directions terminal and any final offset/reset acknowledged.
func (s *Stream) Destroyable() bool {
	return s.State() == StateClosed && s.ackedOffset >= s.finalSendSize
}
