package qcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrAeadFailure is the single error surfaced for every AEAD decrypt
// failure, regardless of cause (wrong key, corrupted tag, mismatched
// AAD), so a caller cannot distinguish failure modes from the error
// value alone (spec.md §4.2).
var ErrAeadFailure = errors.New("qcrypto: aead failure")

// Suite identifies the negotiated AEAD cipher suite.
type Suite uint8

const (
	SuiteAES128GCM Suite = iota
	SuiteAES256GCM
	SuiteChaCha20Poly1305
)

// KeyLen returns the bulk key length in bytes for the suite.
func (s Suite) KeyLen() int {
	switch s {
	case SuiteAES256GCM:
		return 32
	case SuiteChaCha20Poly1305:
		return chacha20poly1305.KeySize
	default:
		return 16
	}
}

// HPKeyLen is identical to KeyLen for every suite QUIC defines.
func (s Suite) HPKeyLen() int { return s.KeyLen() }

// NewAEAD builds the cipher.AEAD for a suite and key.
func NewAEAD(s Suite, key []byte) (cipher.AEAD, error) {
	switch s {
	case SuiteChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default: // AES-128/256-GCM
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

// Seal encrypts plaintext in place (dst may alias plaintext's backing
// array via append semantics) and appends the 16-byte tag.
func Seal(aead cipher.AEAD, dst, nonce, plaintext, aad []byte) []byte {
	return aead.Seal(dst, nonce, plaintext, aad)
}

// Open authenticates and decrypts ciphertext. Any failure — bad key,
// corrupted tag, wrong AAD, truncated input — is folded into
// ErrAeadFailure so no connection state is mutated and no distinguishing
// information leaks to a network attacker (spec.md §7(b)).
func Open(aead cipher.AEAD, dst, nonce, ciphertext, aad []byte) ([]byte, error) {
	out, err := aead.Open(dst, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAeadFailure
	}
	return out, nil
}
