package packetcodec

import (
	"errors"

	"quictransport/domain/connid"
	"quictransport/domain/pnspace"
	"quictransport/domain/wire"
	"quictransport/infrastructure/qcrypto"
)

var errAEAD = qcrypto.ErrAeadFailure

// ErrShortSample is returned when too few bytes follow the packet
// number field to take a 16-byte header-protection sample.
var ErrShortSample = errors.New("packetcodec: not enough bytes for protection sample")

// sampleAfter is the fixed offset (RFC 9001 §5.4.2) from the start of
// the packet-number field to the header-protection sample, chosen so a
// sample is available regardless of the packet's actual (still
// unknown, at parse time) packet-number length.
const sampleAfter = 4
const sampleLen = 16

// EncryptLong serializes and protects a complete long-header packet.
// fullPN is the true (not truncated) packet number; largestAcked is
// the largest packet number the peer has acknowledged in this space,
// used to pick the shortest safe truncated encoding.
func EncryptLong(typ LongType, version wire.Version, dcid, scid connid.ID, token []byte, fullPN, largestAcked int64, payload []byte, keys DirectionKeys) ([]byte, error) {
	pnLen := pnspace.EncodeLength(fullPN, largestAcked)
	length := uint64(pnLen) + uint64(len(payload)) + uint64(keys.AEAD.Overhead())

	header, err := AppendLongHeaderPrefix(nil, typ, version, dcid, scid, token, pnLen, length)
	if err != nil {
		return nil, err
	}
	return encryptCommon(header, fullPN, pnLen, payload, keys, true)
}

// EncryptShort serializes and protects a complete short-header (1-RTT)
// packet.
func EncryptShort(dcid connid.ID, keyPhase bool, fullPN, largestAcked int64, payload []byte, keys DirectionKeys) ([]byte, error) {
	pnLen := pnspace.EncodeLength(fullPN, largestAcked)
	header, err := AppendShortHeaderPrefix(nil, dcid, keyPhase, pnLen)
	if err != nil {
		return nil, err
	}
	return encryptCommon(header, fullPN, pnLen, payload, keys, false)
}

func encryptCommon(header []byte, fullPN int64, pnLen int, payload []byte, keys DirectionKeys, long bool) ([]byte, error) {
	pnStart := len(header)
	truncated := pnspace.Truncate(fullPN, pnLen)
	for i := pnLen - 1; i >= 0; i-- {
		header = append(header, byte(truncated>>(8*uint(i))))
	}

	nonce := Nonce(keys.IV, uint64(fullPN))
	packet := keys.AEAD.Seal(header, nonce, payload, header)

	if len(packet) < pnStart+pnLen+sampleAfter+sampleLen {
		return nil, ErrShortSample
	}
	sample := packet[pnStart+pnLen+sampleAfter : pnStart+pnLen+sampleAfter+sampleLen]
	mask, err := keys.Protector.Mask(sample)
	if err != nil {
		return nil, err
	}
	qcrypto.ApplyMask(&packet[0], packet[pnStart:pnStart+pnLen], mask, long)
	return packet, nil
}

// DecryptedLong is the result of successfully decrypting a long-header
// packet.
type DecryptedLong struct {
	Header     LongHeader
	PacketNum  int64
	Payload    []byte
}

// DecryptLong removes header protection and AEAD-decrypts a
// long-header packet. data must contain exactly one packet (callers
// split coalesced datagrams before calling this). A failed decrypt
// mutates nothing and returns qcrypto.ErrAeadFailure; the caller should
// treat the packet as if it never arrived.
func DecryptLong(data []byte, largestAcked int64, keys DirectionKeys) (DecryptedLong, error) {
	h, err := ParseLongHeader(data)
	if err != nil {
		return DecryptedLong{}, err
	}
	pnOffset := h.HeaderLen
	end := pnOffset + int(h.Length)
	if end > len(data) {
		return DecryptedLong{}, ErrShortHeader
	}
	// Unprotect a copy so the caller's buffer is left as it was.
	data = append([]byte(nil), data[:end]...)

	pnLen, truncated, err := removeProtection(data[:end], pnOffset, keys.Protector, true)
	if err != nil {
		return DecryptedLong{}, err
	}
	if err := CheckReservedBits(data[0], true); err != nil {
		return DecryptedLong{}, err
	}

	fullPN := pnspace.Decode(largestAcked, truncated, pnLen)
	nonce := Nonce(keys.IV, uint64(fullPN))
	aad := data[:pnOffset+pnLen]
	ciphertext := data[pnOffset+pnLen : end]

	plaintext, err := keys.AEAD.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return DecryptedLong{}, errAEAD
	}
	return DecryptedLong{Header: h, PacketNum: fullPN, Payload: plaintext}, nil
}

// DecryptedShort is the result of successfully decrypting a
// short-header packet.
type DecryptedShort struct {
	Header    ShortHeader
	PacketNum int64
	KeyPhase  bool
	Payload   []byte
}

// DecryptShort removes header protection and AEAD-decrypts a
// short-header packet. dcidLen is the fixed connection ID length
// negotiated for this connection.
func DecryptShort(data []byte, dcidLen int, largestAcked int64, keys DirectionKeys) (DecryptedShort, error) {
	h, err := ParseShortHeader(data, dcidLen)
	if err != nil {
		return DecryptedShort{}, err
	}
	pnOffset := h.HeaderLen

	pnLen, truncated, err := removeProtection(data, pnOffset, keys.Protector, false)
	if err != nil {
		return DecryptedShort{}, err
	}
	if err := CheckReservedBits(data[0], false); err != nil {
		return DecryptedShort{}, err
	}
	keyPhase := ShortHeaderKeyPhase(data[0])

	fullPN := pnspace.Decode(largestAcked, truncated, pnLen)
	nonce := Nonce(keys.IV, uint64(fullPN))
	aad := data[:pnOffset+pnLen]
	ciphertext := data[pnOffset+pnLen:]

	plaintext, err := keys.AEAD.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return DecryptedShort{}, errAEAD
	}
	return DecryptedShort{Header: h, PacketNum: fullPN, KeyPhase: keyPhase, Payload: plaintext}, nil
}

// removeProtection unmasks the first byte and packet-number bytes of
// data in place, returning the now-plain packet-number length and
// truncated value.
func removeProtection(data []byte, pnOffset int, protector qcrypto.HeaderProtector, long bool) (pnLen int, truncated uint32, err error) {
	if len(data) < pnOffset+sampleAfter+sampleLen {
		return 0, 0, ErrShortSample
	}
	sample := data[pnOffset+sampleAfter : pnOffset+sampleAfter+sampleLen]
	mask, err := protector.Mask(sample)
	if err != nil {
		return 0, 0, err
	}

	// Unmask just the first byte first, to learn pnLen; the real
	// packet-number bytes are unmasked once that length is known. Pass
	// a nil packet-number slice so ApplyMask touches only the first
	// byte here.
	firstByte := data[0]
	qcrypto.ApplyMask(&firstByte, nil, mask, long)
	pnLen = PacketNumberLength(firstByte)
	if len(data) < pnOffset+pnLen {
		return 0, 0, ErrShortHeader
	}

	data[0] = firstByte
	pnBytes := data[pnOffset : pnOffset+pnLen]
	for i := range pnBytes {
		pnBytes[i] ^= mask[i+1]
	}
	for _, b := range pnBytes {
		truncated = truncated<<8 | uint32(b)
	}
	return pnLen, truncated, nil
}
