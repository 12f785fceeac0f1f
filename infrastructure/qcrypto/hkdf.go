// Package qcrypto provides the HKDF, AEAD, and header-protection
// primitives QUIC needs (RFC 9001 §5), grounded on the same
// golang.org/x/crypto building blocks the teacher repo's
// infrastructure/cryptography/primitives package uses for its own
// handshake key derivation.
package qcrypto

import (
	"crypto/sha256"
	"errors"
	"hash"
	"io"

	"golang.org/x/crypto/hkdf"
)

// tls13LabelPrefix is prepended to every HKDF-Expand-Label per TLS 1.3
// (RFC 8446 §7.1), reused unmodified by QUIC (RFC 9001 §5.1).
const tls13LabelPrefix = "tls13 "

// ErrLabelTooLong is returned when a derived label does not fit the
// one-byte length prefix TLS 1.3 uses.
var ErrLabelTooLong = errors.New("qcrypto: label too long")

// HKDFExtract implements RFC 5869 Extract using the given hash constructor.
func HKDFExtract(newHash func() hash.Hash, salt, ikm []byte) []byte {
	return hkdf.Extract(newHash, ikm, salt)
}

// HKDFExpandLabel implements RFC 8446 §7.1's HKDF-Expand-Label, used for
// every QUIC/TLS key derivation (quic key/iv/hp/ku, and the TLS 1.3
// traffic secret schedule the key schedule borrows for Initial keys).
func HKDFExpandLabel(newHash func() hash.Hash, secret []byte, label string, context []byte, length int) ([]byte, error) {
	fullLabel := tls13LabelPrefix + label
	if len(fullLabel) > 255 || len(context) > 255 {
		return nil, ErrLabelTooLong
	}

	info := make([]byte, 0, 2+1+len(fullLabel)+1+len(context))
	info = append(info, byte(length>>8), byte(length))
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, byte(len(context)))
	info = append(info, context...)

	out := make([]byte, length)
	r := hkdf.Expand(newHash, secret, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Extract is a thin convenience wrapper around hkdf.Extract for SHA-256,
// the hash QUIC v1/v2 use throughout the key schedule.
func Extract(salt, ikm []byte) []byte {
	return HKDFExtract(sha256.New, salt, ikm)
}
