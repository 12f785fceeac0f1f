// Package transportparams defines the QUIC transport parameter set
// (RFC 9000 §18) exchanged in a dedicated TLS extension during the
// handshake, and its wire encoding as a sequence of (id, length, value)
// tuples where id and length are varints.
package transportparams

import (
	"errors"
	"fmt"

	"quictransport/domain/varint"
)

// ID identifies one transport parameter (RFC 9000 §18.2).
type ID uint64

const (
	IDOriginalDestinationConnectionID ID = 0x00
	IDMaxIdleTimeout                  ID = 0x01
	IDStatelessResetToken             ID = 0x02
	IDMaxUDPPayloadSize               ID = 0x03
	IDInitialMaxData                  ID = 0x04
	IDInitialMaxStreamDataBidiLocal   ID = 0x05
	IDInitialMaxStreamDataBidiRemote  ID = 0x06
	IDInitialMaxStreamDataUni         ID = 0x07
	IDInitialMaxStreamsBidi           ID = 0x08
	IDInitialMaxStreamsUni            ID = 0x09
	IDAckDelayExponent                ID = 0x0a
	IDMaxAckDelay                     ID = 0x0b
	IDDisableActiveMigration          ID = 0x0c
	IDActiveConnectionIDLimit         ID = 0x0e
	IDInitialSourceConnectionID       ID = 0x0f
	IDMaxDatagramFrameSize            ID = 0x20
)

// defaults per RFC 9000 §18.2.
const (
	DefaultAckDelayExponent     = 3
	DefaultMaxAckDelay          = 25 // milliseconds
	DefaultMaxUDPPayloadSize    = 65527
	MaxAckDelayExponent         = 20
	MaxMaxAckDelayMillis        = 1 << 14
	MinActiveConnectionIDLimit  = 2
	MinMaxUDPPayloadSizeAllowed = 1200
)

// Params holds the subset of transport parameters this implementation
// emits and parses (the core's §6 list). Fields left at their zero
// value are omitted from the wire encoding,
// except where RFC 9000 defines a default (applied by Defaults()).
type Params struct {
	OriginalDestinationConnectionID []byte // server only
	MaxIdleTimeout                  uint64 // milliseconds, 0 = disabled
	StatelessResetToken             *[16]byte
	MaxUDPPayloadSize               uint64
	InitialMaxData                  uint64
	InitialMaxStreamDataBidiLocal   uint64
	InitialMaxStreamDataBidiRemote  uint64
	InitialMaxStreamDataUni         uint64
	InitialMaxStreamsBidi           uint64
	InitialMaxStreamsUni            uint64
	AckDelayExponent                uint64
	MaxAckDelay                     uint64
	DisableActiveMigration          bool
	ActiveConnectionIDLimit         uint64
	InitialSourceConnectionID       []byte
	MaxDatagramFrameSize            *uint64
}

// Defaults returns a Params populated with every RFC 9000 §18.2 default
// value, suitable as a starting point before applying local config.
func Defaults() Params {
	return Params{
		MaxUDPPayloadSize:       DefaultMaxUDPPayloadSize,
		AckDelayExponent:        DefaultAckDelayExponent,
		MaxAckDelay:             DefaultMaxAckDelay,
		ActiveConnectionIDLimit: MinActiveConnectionIDLimit,
	}
}

// ErrDuplicateParameter is returned when a parameter ID appears more
// than once in a received extension, a protocol violation (RFC 9000
// §18.1).
var ErrDuplicateParameter = errors.New("transportparams: duplicate parameter")

// ErrInvalidValue is returned when a parameter's value violates its
// own constraint (e.g. ack_delay_exponent > 20).
var ErrInvalidValue = errors.New("transportparams: invalid value")

// Validate checks the constraints RFC 9000 §18.2 places on individual
// parameter values.
func (p Params) Validate() error {
	if p.AckDelayExponent > MaxAckDelayExponent {
		return fmt.Errorf("%w: ack_delay_exponent %d > %d", ErrInvalidValue, p.AckDelayExponent, MaxAckDelayExponent)
	}
	if p.MaxAckDelay >= MaxMaxAckDelayMillis {
		return fmt.Errorf("%w: max_ack_delay %d >= 2^14", ErrInvalidValue, p.MaxAckDelay)
	}
	if p.ActiveConnectionIDLimit != 0 && p.ActiveConnectionIDLimit < MinActiveConnectionIDLimit {
		return fmt.Errorf("%w: active_connection_id_limit %d < 2", ErrInvalidValue, p.ActiveConnectionIDLimit)
	}
	if p.MaxUDPPayloadSize != 0 && p.MaxUDPPayloadSize < MinMaxUDPPayloadSizeAllowed {
		return fmt.Errorf("%w: max_udp_payload_size %d < 1200", ErrInvalidValue, p.MaxUDPPayloadSize)
	}
	return nil
}

// Marshal encodes the parameter set as the body of the TLS transport
// parameters extension: a concatenation of varint(id) varint(len)
// value tuples, in the order listed below. Zero-value optional
// parameters that RFC 9000 allows omitting are skipped.
func (p Params) Marshal() []byte {
	var out []byte
	put := func(id ID, value []byte) {
		out = appendVarint(out, uint64(id))
		out = appendVarint(out, uint64(len(value)))
		out = append(out, value...)
	}
	putVarintParam := func(id ID, v uint64) {
		put(id, appendVarint(nil, v))
	}

	if len(p.OriginalDestinationConnectionID) > 0 {
		put(IDOriginalDestinationConnectionID, p.OriginalDestinationConnectionID)
	}
	if p.MaxIdleTimeout > 0 {
		putVarintParam(IDMaxIdleTimeout, p.MaxIdleTimeout)
	}
	if p.StatelessResetToken != nil {
		put(IDStatelessResetToken, p.StatelessResetToken[:])
	}
	if p.MaxUDPPayloadSize > 0 {
		putVarintParam(IDMaxUDPPayloadSize, p.MaxUDPPayloadSize)
	}
	if p.InitialMaxData > 0 {
		putVarintParam(IDInitialMaxData, p.InitialMaxData)
	}
	if p.InitialMaxStreamDataBidiLocal > 0 {
		putVarintParam(IDInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	}
	if p.InitialMaxStreamDataBidiRemote > 0 {
		putVarintParam(IDInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	}
	if p.InitialMaxStreamDataUni > 0 {
		putVarintParam(IDInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	}
	if p.InitialMaxStreamsBidi > 0 {
		putVarintParam(IDInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	}
	if p.InitialMaxStreamsUni > 0 {
		putVarintParam(IDInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	}
	if p.AckDelayExponent != DefaultAckDelayExponent {
		putVarintParam(IDAckDelayExponent, p.AckDelayExponent)
	}
	if p.MaxAckDelay != 0 && p.MaxAckDelay != DefaultMaxAckDelay {
		putVarintParam(IDMaxAckDelay, p.MaxAckDelay)
	}
	if p.DisableActiveMigration {
		put(IDDisableActiveMigration, nil)
	}
	if p.ActiveConnectionIDLimit > 0 {
		putVarintParam(IDActiveConnectionIDLimit, p.ActiveConnectionIDLimit)
	}
	if p.InitialSourceConnectionID != nil {
		put(IDInitialSourceConnectionID, p.InitialSourceConnectionID)
	}
	if p.MaxDatagramFrameSize != nil {
		putVarintParam(IDMaxDatagramFrameSize, *p.MaxDatagramFrameSize)
	}
	return out
}

// Parse decodes a transport parameters extension body. Duplicate
// parameter IDs are a protocol violation. Unknown IDs (including
// GREASE ranges, RFC 9000 §18.1) are skipped, not errors.
func Parse(b []byte) (Params, error) {
	p := Params{}
	seen := make(map[ID]bool)

	for len(b) > 0 {
		id64, n, err := varint.Decode(b)
		if err != nil {
			return Params{}, fmt.Errorf("transportparams: id: %w", err)
		}
		b = b[n:]
		id := ID(id64)

		length, n, err := varint.Decode(b)
		if err != nil {
			return Params{}, fmt.Errorf("transportparams: length: %w", err)
		}
		b = b[n:]
		if uint64(len(b)) < length {
			return Params{}, fmt.Errorf("transportparams: value shorter than declared length %d", length)
		}
		value := b[:length]
		b = b[length:]

		if seen[id] {
			return Params{}, fmt.Errorf("%w: id %#x", ErrDuplicateParameter, id)
		}
		seen[id] = true

		if err := applyParam(&p, id, value); err != nil {
			return Params{}, err
		}
	}

	if !seen[IDAckDelayExponent] {
		p.AckDelayExponent = DefaultAckDelayExponent
	}
	if !seen[IDMaxAckDelay] {
		p.MaxAckDelay = DefaultMaxAckDelay
	}
	if !seen[IDMaxUDPPayloadSize] {
		p.MaxUDPPayloadSize = DefaultMaxUDPPayloadSize
	}
	if !seen[IDActiveConnectionIDLimit] {
		p.ActiveConnectionIDLimit = MinActiveConnectionIDLimit
	}
	return p, p.Validate()
}

func applyParam(p *Params, id ID, value []byte) error {
	asVarint := func() (uint64, error) {
		v, n, err := varint.Decode(value)
		if err != nil || n != len(value) {
			return 0, fmt.Errorf("%w: id %#x malformed varint value", ErrInvalidValue, id)
		}
		return v, nil
	}

	switch id {
	case IDOriginalDestinationConnectionID:
		p.OriginalDestinationConnectionID = append([]byte(nil), value...)
	case IDMaxIdleTimeout:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.MaxIdleTimeout = v
	case IDStatelessResetToken:
		if len(value) != 16 {
			return fmt.Errorf("%w: stateless_reset_token must be 16 bytes", ErrInvalidValue)
		}
		var tok [16]byte
		copy(tok[:], value)
		p.StatelessResetToken = &tok
	case IDMaxUDPPayloadSize:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.MaxUDPPayloadSize = v
	case IDInitialMaxData:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxData = v
	case IDInitialMaxStreamDataBidiLocal:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataBidiLocal = v
	case IDInitialMaxStreamDataBidiRemote:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataBidiRemote = v
	case IDInitialMaxStreamDataUni:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataUni = v
	case IDInitialMaxStreamsBidi:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamsBidi = v
	case IDInitialMaxStreamsUni:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.InitialMaxStreamsUni = v
	case IDAckDelayExponent:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.AckDelayExponent = v
	case IDMaxAckDelay:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.MaxAckDelay = v
	case IDDisableActiveMigration:
		p.DisableActiveMigration = true
	case IDActiveConnectionIDLimit:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.ActiveConnectionIDLimit = v
	case IDInitialSourceConnectionID:
		p.InitialSourceConnectionID = append([]byte(nil), value...)
	case IDMaxDatagramFrameSize:
		v, err := asVarint()
		if err != nil {
			return err
		}
		p.MaxDatagramFrameSize = &v
	default:
		// Unknown or GREASE parameter: ignore per RFC 9000 §18.1.
	}
	return nil
}

func appendVarint(b []byte, v uint64) []byte {
	out, err := varint.Encode(b, v)
	if err != nil {
		// Callers only ever pass values already validated to fit;
		// a failure here indicates an internal invariant break.
		panic(err)
	}
	return out
}
