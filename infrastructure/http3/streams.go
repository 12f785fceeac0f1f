package http3

import "quictransport/domain/varint"

// Unidirectional stream types (RFC 9114 §6.2, RFC 9204 §4.2). Every
// unidirectional stream this client opens or accepts begins with one of
// these as its first varint.
const (
	UniStreamControl      uint64 = 0x00
	UniStreamPush         uint64 = 0x01
	UniStreamQPACKEncoder uint64 = 0x02
	UniStreamQPACKDecoder uint64 = 0x03
)

// isGreaseStreamType mirrors isGrease for the unidirectional stream type
// space (RFC 9114 §7.2.8 applies the same 0x1f*N+0x21 reservation here).
func isGreaseStreamType(t uint64) bool {
	return t >= 0x21 && (t-0x21)%0x1f == 0
}

// EncodeStreamType prefixes a unidirectional stream's payload with its
// type varint, per RFC 9114 §6.2.
func EncodeStreamType(t uint64) []byte {
	b, _ := varint.Encode(nil, t)
	return b
}

// DecodeStreamType reads the leading type varint off a newly accepted
// unidirectional stream's first bytes.
func DecodeStreamType(data []byte) (uint64, int, error) {
	t, n, err := varint.Decode(data)
	if err != nil {
		return 0, 0, ErrShortFrame
	}
	return t, n, nil
}

// RequestStreamState is the small state machine RFC 9114 §4.1 imposes on
// a bidirectional request stream: HEADERS must precede any DATA, and a
// second HEADERS block (trailers) is only valid once DATA has started
// (or directly after the first HEADERS, for a body-less request).
type RequestStreamState uint8

const (
	StateExpectHeaders RequestStreamState = iota
	StateExpectDataOrTrailers
	StateHalfClosed
)

// RequestStream tracks one HTTP/3 request's HEADERS/DATA/trailers
// sequencing atop a single bidirectional QUIC stream; spec.md §2 calls
// out this per-request state machine as distinct from the
// connection-wide control/QPACK streams.
type RequestStream struct {
	state       RequestStreamState
	sawTrailers bool
}

// NewRequestStream returns a stream awaiting its first HEADERS frame.
func NewRequestStream() *RequestStream {
	return &RequestStream{state: StateExpectHeaders}
}

// OnFrame validates frame against the current state and advances it.
// GREASE and other unknown frame types are always accepted and leave the
// state unchanged, per RFC 9114 §9.
func (r *RequestStream) OnFrame(f Frame) error {
	switch f.Type {
	case TypeHeaders:
		switch r.state {
		case StateExpectHeaders:
			r.state = StateExpectDataOrTrailers
			return nil
		case StateExpectDataOrTrailers:
			if r.sawTrailers {
				return ErrFrameUnexpected
			}
			r.sawTrailers = true
			return nil
		default:
			return ErrFrameUnexpected
		}
	case TypeData:
		if r.state != StateExpectDataOrTrailers || r.sawTrailers {
			return ErrFrameUnexpected
		}
		return nil
	case TypeCancelPush, TypeSettings, TypePushPromise, TypeGoaway, TypeMaxPushID:
		// These frame types are only valid on the control stream (RFC
		// 9114 §7.2.3-7.2.7); receiving one on a request stream is a
		// framing error.
		return ErrFrameUnexpected
	default:
		if isGrease(f.Type) {
			return nil
		}
		return nil // unknown, non-GREASE types are skipped per RFC 9114 §9
	}
}

// Close marks the stream's receive side fully processed after its FIN.
func (r *RequestStream) Close() { r.state = StateHalfClosed }
