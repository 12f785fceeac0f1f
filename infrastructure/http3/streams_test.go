package http3

import "testing"

func TestRequestStreamRejectsDataBeforeHeaders(t *testing.T) {
	rs := NewRequestStream()
	if err := rs.OnFrame(NewDataFrame([]byte("x"))); err != ErrFrameUnexpected {
		t.Fatalf("expected ErrFrameUnexpected, got %v", err)
	}
}

func TestRequestStreamHeadersThenData(t *testing.T) {
	rs := NewRequestStream()
	if err := rs.OnFrame(NewHeadersFrame(nil)); err != nil {
		t.Fatalf("headers: %v", err)
	}
	if err := rs.OnFrame(NewDataFrame([]byte("body"))); err != nil {
		t.Fatalf("data: %v", err)
	}
	if err := rs.OnFrame(NewDataFrame([]byte("more"))); err != nil {
		t.Fatalf("second data: %v", err)
	}
}

func TestRequestStreamTrailers(t *testing.T) {
	rs := NewRequestStream()
	if err := rs.OnFrame(NewHeadersFrame(nil)); err != nil {
		t.Fatalf("headers: %v", err)
	}
	if err := rs.OnFrame(NewDataFrame([]byte("body"))); err != nil {
		t.Fatalf("data: %v", err)
	}
	if err := rs.OnFrame(NewHeadersFrame(nil)); err != nil {
		t.Fatalf("trailers: %v", err)
	}
	if err := rs.OnFrame(NewHeadersFrame(nil)); err != ErrFrameUnexpected {
		t.Fatalf("expected ErrFrameUnexpected for second trailers, got %v", err)
	}
}

func TestRequestStreamRejectsControlFrames(t *testing.T) {
	rs := NewRequestStream()
	if err := rs.OnFrame(Frame{Type: TypeSettings}); err != ErrFrameUnexpected {
		t.Fatalf("expected ErrFrameUnexpected, got %v", err)
	}
}

func TestControlStreamRequiresSettingsFirst(t *testing.T) {
	c := NewControlStreamReader()
	if err := c.OnFrame(NewDataFrame(nil)); err != ErrMissingSettings {
		t.Fatalf("expected ErrMissingSettings, got %v", err)
	}
}

func TestControlStreamRejectsDuplicateSettings(t *testing.T) {
	c := NewControlStreamReader()
	f := NewSettingsFrame([]Setting{{ID: SettingQPACKMaxTableCapacity, Value: 0}})
	if err := c.OnFrame(f); err != nil {
		t.Fatalf("first settings: %v", err)
	}
	if err := c.OnFrame(f); err != ErrDuplicateSettings {
		t.Fatalf("expected ErrDuplicateSettings, got %v", err)
	}
}

func TestControlStreamTracksSettings(t *testing.T) {
	c := NewControlStreamReader()
	f := NewSettingsFrame([]Setting{{ID: SettingMaxFieldSectionSize, Value: 65536}})
	if err := c.OnFrame(f); err != nil {
		t.Fatalf("settings: %v", err)
	}
	v, ok := c.Setting(SettingMaxFieldSectionSize)
	if !ok || v != 65536 {
		t.Fatalf("got %d, %v", v, ok)
	}
}

func TestOutboundControlStreamStartsWithType(t *testing.T) {
	data := NewOutboundControlStream()
	typ, n, err := DecodeStreamType(data)
	if err != nil {
		t.Fatalf("decode stream type: %v", err)
	}
	if typ != UniStreamControl {
		t.Fatalf("got type %d", typ)
	}
	frame, _, err := Parse(data[n:])
	if err != nil {
		t.Fatalf("parse settings frame: %v", err)
	}
	if frame.Type != TypeSettings {
		t.Fatalf("expected SETTINGS first, got %v", frame.Type)
	}
}
