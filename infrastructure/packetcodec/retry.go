package packetcodec

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"quictransport/domain/connid"
	"quictransport/domain/wire"
)

// Retry integrity protection uses a fixed, version-specific AES-128-GCM
// key and nonce known to both endpoints (RFC 9001 §5.8, RFC 9369 §3.3.2
// for v2) rather than a handshake-derived secret, since Retry packets
// are sent before any shared state exists.
var (
	retryKeyV1   = mustHexBytes("be0c690b9f66575a1d766b54e368c84e")
	retryNonceV1 = mustHexBytes("461599d35d632bf2239825bb")

	retryKeyV2   = mustHexBytes("8fb4b01b56ac48e260fbcbcead7ccc92")
	retryNonceV2 = mustHexBytes("d86969bc2d7c6d9990efb04a")
)

func mustHexBytes(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := range b {
		b[i] = hexByte(s[2*i])<<4 | hexByte(s[2*i+1])
	}
	return b
}

func hexByte(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// ErrRetryIntegrityFailure is returned when a Retry packet's integrity
// tag does not match, which RFC 9001 §5.8 treats as fatal: the packet
// must be discarded entirely, unlike an ordinary AEAD failure.
var ErrRetryIntegrityFailure = errors.New("packetcodec: retry integrity tag mismatch")

func retryKeyFor(version wire.Version) (key, nonce []byte) {
	if version == wire.Version2 {
		return retryKeyV2, retryNonceV2
	}
	return retryKeyV1, retryNonceV1
}

// ValidateRetry recomputes a Retry packet's integrity tag over the
// pseudo-packet (original destination connection ID length-prefixed,
// followed by the Retry packet without its tag) and compares it to the
// tag actually present.
func ValidateRetry(version wire.Version, originalDCID connid.ID, retryPacketWithoutTag []byte, tag [16]byte) error {
	key, nonce := retryKeyFor(version)
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	pseudo := make([]byte, 0, 1+originalDCID.Len()+len(retryPacketWithoutTag))
	pseudo = append(pseudo, byte(originalDCID.Len()))
	pseudo = append(pseudo, originalDCID.Bytes()...)
	pseudo = append(pseudo, retryPacketWithoutTag...)

	computed := aead.Seal(nil, nonce, nil, pseudo)
	if len(computed) != 16 {
		return errors.New("packetcodec: unexpected retry tag length")
	}
	var got [16]byte
	copy(got[:], computed)
	if !constantTimeEqual(got[:], tag[:]) {
		return ErrRetryIntegrityFailure
	}
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
