package transportparams

import (
	"bytes"
	"testing"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	tok := [16]byte{1, 2, 3, 4}
	dgram := uint64(1500)
	p := Params{
		MaxIdleTimeout:                 30000,
		StatelessResetToken:            &tok,
		MaxUDPPayloadSize:              1452,
		InitialMaxData:                 1 << 20,
		InitialMaxStreamDataBidiLocal:  65536,
		InitialMaxStreamDataBidiRemote: 65536,
		InitialMaxStreamDataUni:        65536,
		InitialMaxStreamsBidi:          100,
		InitialMaxStreamsUni:           3,
		AckDelayExponent:               5,
		MaxAckDelay:                    20,
		DisableActiveMigration:         true,
		ActiveConnectionIDLimit:        4,
		InitialSourceConnectionID:      []byte{0xaa, 0xbb},
		MaxDatagramFrameSize:           &dgram,
	}

	encoded := p.Marshal()
	got, err := Parse(encoded)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got.MaxIdleTimeout != p.MaxIdleTimeout {
		t.Errorf("MaxIdleTimeout = %d, want %d", got.MaxIdleTimeout, p.MaxIdleTimeout)
	}
	if got.StatelessResetToken == nil || *got.StatelessResetToken != *p.StatelessResetToken {
		t.Errorf("StatelessResetToken mismatch")
	}
	if got.MaxUDPPayloadSize != p.MaxUDPPayloadSize {
		t.Errorf("MaxUDPPayloadSize = %d, want %d", got.MaxUDPPayloadSize, p.MaxUDPPayloadSize)
	}
	if got.InitialMaxData != p.InitialMaxData {
		t.Errorf("InitialMaxData mismatch")
	}
	if got.InitialMaxStreamsBidi != p.InitialMaxStreamsBidi || got.InitialMaxStreamsUni != p.InitialMaxStreamsUni {
		t.Errorf("stream limits mismatch")
	}
	if got.AckDelayExponent != p.AckDelayExponent {
		t.Errorf("AckDelayExponent = %d, want %d", got.AckDelayExponent, p.AckDelayExponent)
	}
	if got.MaxAckDelay != p.MaxAckDelay {
		t.Errorf("MaxAckDelay = %d, want %d", got.MaxAckDelay, p.MaxAckDelay)
	}
	if !got.DisableActiveMigration {
		t.Errorf("DisableActiveMigration = false, want true")
	}
	if got.ActiveConnectionIDLimit != p.ActiveConnectionIDLimit {
		t.Errorf("ActiveConnectionIDLimit mismatch")
	}
	if !bytes.Equal(got.InitialSourceConnectionID, p.InitialSourceConnectionID) {
		t.Errorf("InitialSourceConnectionID mismatch")
	}
	if got.MaxDatagramFrameSize == nil || *got.MaxDatagramFrameSize != dgram {
		t.Errorf("MaxDatagramFrameSize mismatch")
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	got, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.AckDelayExponent != DefaultAckDelayExponent {
		t.Errorf("AckDelayExponent = %d, want default %d", got.AckDelayExponent, DefaultAckDelayExponent)
	}
	if got.MaxAckDelay != DefaultMaxAckDelay {
		t.Errorf("MaxAckDelay = %d, want default %d", got.MaxAckDelay, DefaultMaxAckDelay)
	}
	if got.MaxUDPPayloadSize != DefaultMaxUDPPayloadSize {
		t.Errorf("MaxUDPPayloadSize = %d, want default %d", got.MaxUDPPayloadSize, DefaultMaxUDPPayloadSize)
	}
	if got.ActiveConnectionIDLimit != MinActiveConnectionIDLimit {
		t.Errorf("ActiveConnectionIDLimit = %d, want default %d", got.ActiveConnectionIDLimit, MinActiveConnectionIDLimit)
	}
}

func TestParseRejectsDuplicateParameter(t *testing.T) {
	var b []byte
	b = appendVarint(b, uint64(IDMaxIdleTimeout))
	b = appendVarint(b, 1)
	b = append(b, 5)
	b = appendVarint(b, uint64(IDMaxIdleTimeout))
	b = appendVarint(b, 1)
	b = append(b, 6)

	if _, err := Parse(b); err == nil {
		t.Fatal("expected error for duplicate parameter")
	}
}

func TestParseSkipsUnknownID(t *testing.T) {
	var b []byte
	// An unassigned/GREASE-style ID (31*N+27 per RFC 9000 §18.1, here
	// just an arbitrary unallocated value) with a nonempty value.
	b = appendVarint(b, 0xbff4)
	b = appendVarint(b, 3)
	b = append(b, 'x', 'y', 'z')

	got, err := Parse(b)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.InitialMaxData != 0 {
		t.Errorf("unexpected field populated from unknown parameter")
	}
}

func TestValidateRejectsOutOfRangeValues(t *testing.T) {
	p := Defaults()
	p.AckDelayExponent = 21
	if err := p.Validate(); err == nil {
		t.Fatal("expected error for ack_delay_exponent > 20")
	}

	p2 := Defaults()
	p2.MaxAckDelay = 1 << 14
	if err := p2.Validate(); err == nil {
		t.Fatal("expected error for max_ack_delay >= 2^14")
	}

	p3 := Defaults()
	p3.ActiveConnectionIDLimit = 1
	if err := p3.Validate(); err == nil {
		t.Fatal("expected error for active_connection_id_limit < 2")
	}
}
