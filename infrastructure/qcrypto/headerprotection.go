package qcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20"
)

// ErrShortSample is returned when fewer than 16 bytes are available to
// sample for header protection.
var ErrShortSample = errors.New("qcrypto: short header protection sample")

// HeaderProtector computes the 5-byte mask RFC 9001 §5.4 XORs over a
// packet's first byte and packet-number field.
type HeaderProtector interface {
	// Mask returns the mask for the given 16-byte sample. mask[0] masks
	// bits of the first byte; mask[1:5] masks up to 4 packet-number
	// bytes.
	Mask(sample []byte) ([5]byte, error)
}

// aesHeaderProtector implements HeaderProtector for AES-128/256-based
// suites: mask = AES-ECB(hp, sample), i.e. a single AES block encryption
// of the sample under the header-protection key.
type aesHeaderProtector struct {
	block cipher.Block
}

// NewAESHeaderProtector builds a HeaderProtector from an AES header
// protection key (16 or 32 bytes).
func NewAESHeaderProtector(hpKey []byte) (HeaderProtector, error) {
	block, err := aes.NewCipher(hpKey)
	if err != nil {
		return nil, err
	}
	return &aesHeaderProtector{block: block}, nil
}

func (p *aesHeaderProtector) Mask(sample []byte) ([5]byte, error) {
	if len(sample) < 16 {
		return [5]byte{}, ErrShortSample
	}
	var out [16]byte
	p.block.Encrypt(out[:], sample[:16])
	var mask [5]byte
	copy(mask[:], out[:5])
	return mask, nil
}

// chachaHeaderProtector implements HeaderProtector for the ChaCha20
// suite: mask = ChaCha20(hp, counter=sample[0:4], nonce=sample[4:16]),
// keystream block zero.
type chachaHeaderProtector struct {
	key []byte
}

// NewChaChaHeaderProtector builds a HeaderProtector from a 32-byte
// ChaCha20 header protection key.
func NewChaChaHeaderProtector(hpKey []byte) (HeaderProtector, error) {
	if len(hpKey) != chacha20.KeySize {
		return nil, errors.New("qcrypto: invalid chacha20 hp key size")
	}
	k := make([]byte, len(hpKey))
	copy(k, hpKey)
	return &chachaHeaderProtector{key: k}, nil
}

func (p *chachaHeaderProtector) Mask(sample []byte) ([5]byte, error) {
	if len(sample) < 16 {
		return [5]byte{}, ErrShortSample
	}
	counter := binary.LittleEndian.Uint32(sample[0:4])
	nonce := sample[4:16]

	c, err := chacha20.NewUnauthenticatedCipher(p.key, nonce)
	if err != nil {
		return [5]byte{}, err
	}
	c.SetCounter(counter)

	var zeros, out [5]byte
	c.XORKeyStream(out[:], zeros[:])
	return out, nil
}

// ApplyMask XORs mask[0] into the reserved bits of the first byte
// (4 bits for long headers, 5 for short) and mask[1:pnLen+1] into the
// packet-number bytes. The same function removes protection, since XOR
// is its own inverse.
func ApplyMask(firstByte *byte, pn []byte, mask [5]byte, longHeader bool) {
	if longHeader {
		*firstByte ^= mask[0] & 0x0f
	} else {
		*firstByte ^= mask[0] & 0x1f
	}
	for i := range pn {
		pn[i] ^= mask[i+1]
	}
}
