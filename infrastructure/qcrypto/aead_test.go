package qcrypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"
)

func TestAEADRoundTrip(t *testing.T) {
	suites := []Suite{SuiteAES128GCM, SuiteAES256GCM, SuiteChaCha20Poly1305}
	for _, s := range suites {
		key := make([]byte, s.KeyLen())
		rand.Read(key)
		aead, err := NewAEAD(s, key)
		if err != nil {
			t.Fatalf("NewAEAD(%v): %v", s, err)
		}

		nonce := make([]byte, aead.NonceSize())
		rand.Read(nonce)
		plaintext := []byte("the quick brown fox")
		aad := []byte("header-as-aad")

		ciphertext := Seal(aead, nil, nonce, plaintext, aad)
		got, err := Open(aead, nil, nonce, ciphertext, aad)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("Open = %q, want %q", got, plaintext)
		}
	}
}

func TestAEADBitFlipFails(t *testing.T) {
	key := make([]byte, chacha20poly1305.KeySize)
	rand.Read(key)
	aead, err := NewAEAD(SuiteChaCha20Poly1305, key)
	if err != nil {
		t.Fatal(err)
	}
	nonce := make([]byte, aead.NonceSize())
	rand.Read(nonce)
	plaintext := []byte("authenticate me")
	aad := []byte("aad")
	ciphertext := Seal(aead, nil, nonce, plaintext, aad)

	for i := 0; i < len(ciphertext); i++ {
		flipped := append([]byte(nil), ciphertext...)
		flipped[i] ^= 0x01
		if _, err := Open(aead, nil, nonce, flipped, aad); err != ErrAeadFailure {
			t.Fatalf("bit flip at byte %d: err = %v, want ErrAeadFailure", i, err)
		}
	}

	for i := 0; i < len(aad); i++ {
		flippedAAD := append([]byte(nil), aad...)
		flippedAAD[i] ^= 0x01
		if _, err := Open(aead, nil, nonce, ciphertext, flippedAAD); err != ErrAeadFailure {
			t.Fatalf("AAD bit flip at byte %d: err = %v, want ErrAeadFailure", i, err)
		}
	}
}
