// Package packetcodec implements QUIC long/short header parsing and
// serialization (RFC 9000 §17), header protection removal/application
// wired to infrastructure/qcrypto, AEAD payload protection, and Retry
// integrity-tag validation (RFC 9001 §5.8).
package packetcodec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"quictransport/domain/connid"
	"quictransport/domain/varint"
	"quictransport/domain/wire"
)

// LongType distinguishes the four long-header packet types (RFC 9000
// §17.2); the two type bits sit at bits 4-5 of the first byte.
type LongType uint8

const (
	LongTypeInitial   LongType = 0x00
	LongTypeZeroRTT   LongType = 0x01
	LongTypeHandshake LongType = 0x02
	LongTypeRetry     LongType = 0x03
)

const (
	headerFormLong  = 0x80
	fixedBit        = 0x40
	longTypeMask    = 0x30
	longTypeShift   = 4
	longPNLenMask   = 0x03
	shortSpinBit    = 0x20
	shortKeyPhase   = 0x04
	shortPNLenMask  = 0x03
	MinInitialSize  = 1200
)

// ErrFixedBitUnset is returned when a packet's fixed bit (RFC 9000
// §17.2) is zero.
var ErrFixedBitUnset = errors.New("packetcodec: fixed bit not set")

// ErrShortHeader is returned when fewer bytes remain than a header
// field requires.
var ErrShortHeader = errors.New("packetcodec: header truncated")

// ErrReservedBitsSet is returned when the protected reserved bits are
// nonzero after header protection removal.
var ErrReservedBitsSet = errors.New("packetcodec: reserved bits set")

// LongHeader is the parsed, still packet-number-protected form of a
// long-header packet.
type LongHeader struct {
	Type     LongType
	Version  wire.Version
	DestCID  connid.ID
	SrcCID   connid.ID
	Token    []byte // Initial only
	Length   uint64 // remaining bytes: packet number + payload
	// HeaderLen is the number of bytes consumed up to (but not
	// including) the packet-number field; callers need this to locate
	// the sample for header protection.
	HeaderLen int
}

// ShortHeader is the parsed, still packet-number-protected form of a
// short-header (1-RTT) packet. Since short headers carry no explicit
// connection ID length, DestCIDLen must come from connection
// configuration at setup time.
type ShortHeader struct {
	DestCID   connid.ID
	HeaderLen int
}

// IsLongHeader reports whether the first byte indicates a long header.
func IsLongHeader(firstByte byte) bool { return firstByte&headerFormLong != 0 }

// ParseLongHeader parses a long header up through the Length field
// (Initial/0-RTT/Handshake) or the integrity tag placeholder (Retry).
// The packet number itself is left protected; the caller must remove
// header protection before decoding it. data must start at the first
// byte of the packet.
func ParseLongHeader(data []byte) (LongHeader, error) {
	if len(data) < 7 {
		return LongHeader{}, ErrShortHeader
	}
	first := data[0]
	if first&fixedBit == 0 {
		return LongHeader{}, ErrFixedBitUnset
	}
	if !IsLongHeader(first) {
		return LongHeader{}, errors.New("packetcodec: not a long header")
	}

	h := LongHeader{Type: LongType((first & longTypeMask) >> longTypeShift)}
	h.Version = wire.Version(binary.BigEndian.Uint32(data[1:5]))
	off := 5

	dcidLen := int(data[off])
	off++
	if len(data) < off+dcidLen {
		return LongHeader{}, ErrShortHeader
	}
	dcid, err := connid.New(data[off : off+dcidLen])
	if err != nil {
		return LongHeader{}, err
	}
	h.DestCID = dcid
	off += dcidLen

	if len(data) < off+1 {
		return LongHeader{}, ErrShortHeader
	}
	scidLen := int(data[off])
	off++
	if len(data) < off+scidLen {
		return LongHeader{}, ErrShortHeader
	}
	scid, err := connid.New(data[off : off+scidLen])
	if err != nil {
		return LongHeader{}, err
	}
	h.SrcCID = scid
	off += scidLen

	if h.Version == wire.VersionNegotiation {
		h.HeaderLen = off
		return h, nil
	}

	switch h.Type {
	case LongTypeInitial:
		tokenLen, n, err := varint.Decode(data[off:])
		if err != nil {
			return LongHeader{}, fmt.Errorf("packetcodec: token length: %w", err)
		}
		off += n
		if uint64(len(data)) < uint64(off)+tokenLen {
			return LongHeader{}, ErrShortHeader
		}
		h.Token = append([]byte(nil), data[off:uint64(off)+tokenLen]...)
		off += int(tokenLen)

		length, n, err := varint.Decode(data[off:])
		if err != nil {
			return LongHeader{}, fmt.Errorf("packetcodec: length: %w", err)
		}
		off += n
		h.Length = length
		h.HeaderLen = off

	case LongTypeZeroRTT, LongTypeHandshake:
		length, n, err := varint.Decode(data[off:])
		if err != nil {
			return LongHeader{}, fmt.Errorf("packetcodec: length: %w", err)
		}
		off += n
		h.Length = length
		h.HeaderLen = off

	case LongTypeRetry:
		// Everything after the CIDs is the retry token followed by a
		// fixed 16-byte integrity tag; no packet number.
		if len(data) < 16 {
			return LongHeader{}, ErrShortHeader
		}
		h.HeaderLen = len(data) - 16
		h.Token = append([]byte(nil), data[off:h.HeaderLen]...)
	}

	return h, nil
}

// AppendLongHeaderPrefix serializes a long header up to (not
// including) the packet number, with pnLen encoded into the low 2 bits
// of the first byte. The caller fills in Length after learning the
// final payload size.
func AppendLongHeaderPrefix(dst []byte, typ LongType, version wire.Version, dcid, scid connid.ID, token []byte, pnLen int, length uint64) ([]byte, error) {
	if pnLen < 1 || pnLen > 4 {
		return nil, fmt.Errorf("packetcodec: invalid packet number length %d", pnLen)
	}
	first := headerFormLong | fixedBit | (byte(typ) << longTypeShift) | byte(pnLen-1)
	dst = append(dst, first)

	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], uint32(version))
	dst = append(dst, verBuf[:]...)

	dst = append(dst, byte(dcid.Len()))
	dst = append(dst, dcid.Bytes()...)
	dst = append(dst, byte(scid.Len()))
	dst = append(dst, scid.Bytes()...)

	if typ == LongTypeInitial {
		var err error
		dst, err = varint.Encode(dst, uint64(len(token)))
		if err != nil {
			return nil, err
		}
		dst = append(dst, token...)
	}

	var err error
	dst, err = varint.Encode(dst, length)
	if err != nil {
		return nil, err
	}
	return dst, nil
}

// ParseShortHeader parses a short header given the known destination
// connection ID length (fixed for the life of the connection, since
// short headers carry no length field).
func ParseShortHeader(data []byte, dcidLen int) (ShortHeader, error) {
	if len(data) < 1+dcidLen {
		return ShortHeader{}, ErrShortHeader
	}
	first := data[0]
	if first&headerFormLong != 0 {
		return ShortHeader{}, errors.New("packetcodec: not a short header")
	}
	if first&fixedBit == 0 {
		return ShortHeader{}, ErrFixedBitUnset
	}
	dcid, err := connid.New(data[1 : 1+dcidLen])
	if err != nil {
		return ShortHeader{}, err
	}
	return ShortHeader{DestCID: dcid, HeaderLen: 1 + dcidLen}, nil
}

// AppendShortHeaderPrefix serializes a short header up to (not
// including) the packet number.
func AppendShortHeaderPrefix(dst []byte, dcid connid.ID, keyPhase bool, pnLen int) ([]byte, error) {
	if pnLen < 1 || pnLen > 4 {
		return nil, fmt.Errorf("packetcodec: invalid packet number length %d", pnLen)
	}
	first := fixedBit | byte(pnLen-1)
	if keyPhase {
		first |= shortKeyPhase
	}
	dst = append(dst, first)
	dst = append(dst, dcid.Bytes()...)
	return dst, nil
}

// ShortHeaderKeyPhase reads the KEY_PHASE bit from an *unprotected*
// short header's first byte.
func ShortHeaderKeyPhase(firstByte byte) bool { return firstByte&shortKeyPhase != 0 }

// PacketNumberLength reads the truncated packet-number length from an
// *unprotected* first byte (long or short header share bit layout).
func PacketNumberLength(firstByte byte) int {
	return int(firstByte&longPNLenMask) + 1
}

// CheckReservedBits validates the reserved bits RFC 9000 §17.2 requires
// to be zero, checked only after header protection is removed.
func CheckReservedBits(firstByte byte, long bool) error {
	var reserved byte
	if long {
		reserved = firstByte & 0x0c
	} else {
		reserved = firstByte & 0x18
	}
	if reserved != 0 {
		return ErrReservedBitsSet
	}
	return nil
}
