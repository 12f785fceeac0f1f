package packetcodec

import (
	"crypto/cipher"

	"quictransport/infrastructure/qcrypto"
	"quictransport/infrastructure/qcrypto/keyschedule"
)

// DirectionKeys bundles everything the codec needs to protect or
// unprotect packets in one direction at one encryption level: the bulk
// AEAD, the IV XORed with the packet number to form the nonce, and the
// header protector.
type DirectionKeys struct {
	AEAD      cipher.AEAD
	IV        []byte
	Protector qcrypto.HeaderProtector
}

// NewDirectionKeys builds a DirectionKeys from derived key material.
func NewDirectionKeys(keys keyschedule.Keys, suite qcrypto.Suite) (DirectionKeys, error) {
	aead, err := qcrypto.NewAEAD(suite, keys.Key)
	if err != nil {
		return DirectionKeys{}, err
	}
	var hp qcrypto.HeaderProtector
	if suite == qcrypto.SuiteChaCha20Poly1305 {
		hp, err = qcrypto.NewChaChaHeaderProtector(keys.HP)
	} else {
		hp, err = qcrypto.NewAESHeaderProtector(keys.HP)
	}
	if err != nil {
		return DirectionKeys{}, err
	}
	return DirectionKeys{AEAD: aead, IV: keys.IV, Protector: hp}, nil
}

// Nonce builds the AEAD nonce for a full (expanded) packet number: the
// IV XORed with the packet number placed in the low-order bytes,
// big-endian (RFC 9001 §5.3).
func Nonce(iv []byte, packetNumber uint64) []byte {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	for i := 0; i < 8; i++ {
		shift := uint(8 * i)
		nonce[len(nonce)-1-i] ^= byte(packetNumber >> shift)
	}
	return nonce
}
