// Package http3 implements RFC 9114 HTTP/3 framing (spec.md §4.14, C14):
// the unidirectional control/QPACK streams, DATA/HEADERS/SETTINGS/GOAWAY
// frame codec, and the small per-request-stream state machine that
// rejects a DATA frame arriving before HEADERS.
package http3

import (
	"errors"

	"quictransport/domain/varint"
)

// ErrShortFrame mirrors domain/frame's short-buffer sentinel for the
// HTTP/3 frame layer.
var ErrShortFrame = errors.New("http3: short buffer")

// ErrFrameUnexpected corresponds to the H3_FRAME_UNEXPECTED error code
// (RFC 9114 §8.1): a DATA frame arriving before any HEADERS frame on a
// request stream, among other out-of-order cases.
var ErrFrameUnexpected = errors.New("http3: frame unexpected")

// Type is an HTTP/3 frame type (RFC 9114 §7.2).
type Type uint64

const (
	TypeData        Type = 0x00
	TypeHeaders     Type = 0x01
	TypeCancelPush  Type = 0x03
	TypeSettings    Type = 0x04
	TypePushPromise Type = 0x05
	TypeGoaway      Type = 0x07
	TypeMaxPushID   Type = 0x0d
)

// isGrease reports whether t is a reserved frame type of the form
// 0x1f*N+0x21 (RFC 9114 §7.2.8), used by peers to exercise unknown-frame
// tolerance. Such frames are always skipped, never acted on.
func isGrease(t Type) bool {
	return uint64(t) >= 0x21 && (uint64(t)-0x21)%0x1f == 0
}

// Frame is one decoded HTTP/3 frame: its type, and the raw (still
// QPACK-encoded, for HEADERS) payload.
type Frame struct {
	Type    Type
	Payload []byte
}

// AppendTo serializes f as a length-prefixed HTTP/3 frame.
func (f Frame) AppendTo(dst []byte) []byte {
	dst, _ = varint.Encode(dst, uint64(f.Type))
	dst, _ = varint.Encode(dst, uint64(len(f.Payload)))
	return append(dst, f.Payload...)
}

// Parse decodes one frame from the front of data: a varint type, a
// varint length, and that many payload bytes. Unknown frame types
// (including GREASE) are returned like any other frame; the caller is
// responsible for skipping them, per RFC 9114 §9's extensibility rule.
func Parse(data []byte) (Frame, int, error) {
	t, tn, err := varint.Decode(data)
	if err != nil {
		return Frame{}, 0, ErrShortFrame
	}
	rest := data[tn:]
	length, ln, err := varint.Decode(rest)
	if err != nil {
		return Frame{}, 0, ErrShortFrame
	}
	rest = rest[ln:]
	if uint64(len(rest)) < length {
		return Frame{}, 0, ErrShortFrame
	}
	total := tn + ln + int(length)
	return Frame{Type: Type(t), Payload: rest[:length]}, total, nil
}

// NewDataFrame wraps body bytes in a DATA frame.
func NewDataFrame(body []byte) Frame { return Frame{Type: TypeData, Payload: body} }

// NewHeadersFrame wraps a QPACK-encoded field section in a HEADERS frame.
func NewHeadersFrame(fieldSection []byte) Frame {
	return Frame{Type: TypeHeaders, Payload: fieldSection}
}

// Setting is one SETTINGS identifier/value pair (RFC 9114 §7.2.4.1).
type Setting struct {
	ID    uint64
	Value uint64
}

// Well-known SETTINGS identifiers this implementation understands.
// QPACK's dynamic-table settings are always advertised as 0, per
// spec.md's Non-goals (encoder-streamless decoder).
const (
	SettingQPACKMaxTableCapacity uint64 = 0x01
	SettingMaxFieldSectionSize   uint64 = 0x06
	SettingQPACKBlockedStreams   uint64 = 0x07
)

// NewSettingsFrame encodes a SETTINGS frame from an ordered list of
// settings. Unknown/GREASE settings are never emitted by this
// implementation but are tolerated on decode (see ParseSettings).
func NewSettingsFrame(settings []Setting) Frame {
	var payload []byte
	for _, s := range settings {
		payload, _ = varint.Encode(payload, s.ID)
		payload, _ = varint.Encode(payload, s.Value)
	}
	return Frame{Type: TypeSettings, Payload: payload}
}

// ParseSettings decodes a SETTINGS frame payload into its identifier/value
// pairs. A peer may legally send the same identifier twice or include
// GREASE identifiers; both are passed through for the caller to ignore.
func ParseSettings(payload []byte) ([]Setting, error) {
	var out []Setting
	for len(payload) > 0 {
		id, n, err := varint.Decode(payload)
		if err != nil {
			return nil, ErrShortFrame
		}
		payload = payload[n:]
		v, n, err := varint.Decode(payload)
		if err != nil {
			return nil, ErrShortFrame
		}
		payload = payload[n:]
		out = append(out, Setting{ID: id, Value: v})
	}
	return out, nil
}

// NewGoawayFrame encodes a GOAWAY frame carrying the given stream or push
// ID, the last one the sender will process (RFC 9114 §5.2).
func NewGoawayFrame(id uint64) Frame {
	payload, _ := varint.Encode(nil, id)
	return Frame{Type: TypeGoaway, Payload: payload}
}

// ParseGoaway decodes a GOAWAY frame payload into its carried ID.
func ParseGoaway(payload []byte) (uint64, error) {
	id, n, err := varint.Decode(payload)
	if err != nil || n != len(payload) {
		return 0, ErrShortFrame
	}
	return id, nil
}

// NewMaxPushIDFrame encodes a MAX_PUSH_ID frame. Server push is a
// Non-goal (spec.md §1); this client does not send one itself; its
// control stream carries only SETTINGS (see NewOutboundControlStream).
func NewMaxPushIDFrame(id uint64) Frame {
	payload, _ := varint.Encode(nil, id)
	return Frame{Type: TypeMaxPushID, Payload: payload}
}
