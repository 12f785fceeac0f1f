package http3

import "errors"

// ErrMissingSettings is returned when a peer's control stream's first
// frame is not SETTINGS (RFC 9114 §7.2.4: "the SETTINGS frame ... MUST
// be the first frame").
var ErrMissingSettings = errors.New("http3: control stream did not open with SETTINGS")

// ErrDuplicateSettings is returned if a second SETTINGS frame arrives on
// a control stream (RFC 9114 §7.2.4: at most one per connection).
var ErrDuplicateSettings = errors.New("http3: duplicate SETTINGS frame")

// ControlStreamReader decodes frames off a peer's inbound control
// stream, enforcing that SETTINGS arrives exactly once and first.
type ControlStreamReader struct {
	sawSettings bool
	Settings    []Setting
}

// NewControlStreamReader returns a reader for a freshly accepted control
// stream (after its leading stream-type varint has already been
// consumed by the caller via DecodeStreamType).
func NewControlStreamReader() *ControlStreamReader {
	return &ControlStreamReader{}
}

// OnFrame feeds one decoded control-stream frame through the state
// machine. Frame types that are only valid on a request stream
// (HEADERS, DATA) are rejected with ErrFrameUnexpected; unknown and
// GREASE types are skipped.
func (r *ControlStreamReader) OnFrame(f Frame) error {
	if !r.sawSettings {
		if f.Type != TypeSettings {
			return ErrMissingSettings
		}
		settings, err := ParseSettings(f.Payload)
		if err != nil {
			return err
		}
		r.Settings = settings
		r.sawSettings = true
		return nil
	}

	switch f.Type {
	case TypeSettings:
		return ErrDuplicateSettings
	case TypeHeaders, TypeData:
		return ErrFrameUnexpected
	case TypeCancelPush, TypePushPromise, TypeMaxPushID:
		return nil // server push is a Non-goal; accept and ignore
	case TypeGoaway:
		_, err := ParseGoaway(f.Payload)
		return err
	default:
		return nil // unknown/GREASE frame types are skipped, RFC 9114 §9
	}
}

// Setting looks up a decoded SETTINGS value by identifier, reporting
// whether the peer sent it at all.
func (r *ControlStreamReader) Setting(id uint64) (uint64, bool) {
	for _, s := range r.Settings {
		if s.ID == id {
			return s.Value, true
		}
	}
	return 0, false
}

// NewOutboundControlStream builds the bytes a client writes immediately
// after opening its own unidirectional control stream: the stream-type
// varint, then a SETTINGS frame advertising zero dynamic QPACK table
// capacity (spec.md's Non-goals: static table + literal-only encoder),
// per spec.md §4.14.
func NewOutboundControlStream() []byte {
	out := EncodeStreamType(UniStreamControl)
	settings := NewSettingsFrame([]Setting{
		{ID: SettingQPACKMaxTableCapacity, Value: 0},
		{ID: SettingQPACKBlockedStreams, Value: 0},
	})
	return settings.AppendTo(out)
}
