package qcrypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

// TestInitialSecretVectors checks RFC 9001 Appendix A.1 bit-exactly: the
// client Initial secret and the key/iv derived from it.
func TestInitialSecretVectors(t *testing.T) {
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	initialSalt, _ := hex.DecodeString("38762cf7f55934b34d179ae6a4c80cadccbb7f0a")

	initialSecret := Extract(initialSalt, dcid)

	clientInitialSecret, err := HKDFExpandLabel(sha256.New, initialSecret, "client in", nil, 32)
	if err != nil {
		t.Fatal(err)
	}
	wantSecret, _ := hex.DecodeString("c00cf151ca5be075ed0ebfb5c80323c42d6b7db67881289af4008f1f6c357aea")
	if !bytes.Equal(clientInitialSecret, wantSecret) {
		t.Fatalf("client initial secret = %x, want %x", clientInitialSecret, wantSecret)
	}

	clientKey, err := HKDFExpandLabel(sha256.New, clientInitialSecret, "quic key", nil, 16)
	if err != nil {
		t.Fatal(err)
	}
	wantKey, _ := hex.DecodeString("1f369613dd76d5467730efcbe3b1a22d")
	if !bytes.Equal(clientKey, wantKey) {
		t.Fatalf("client key = %x, want %x", clientKey, wantKey)
	}

	clientIV, err := HKDFExpandLabel(sha256.New, clientInitialSecret, "quic iv", nil, 12)
	if err != nil {
		t.Fatal(err)
	}
	wantIV, _ := hex.DecodeString("fa044b2f42a3fd3b46fb255c")
	if !bytes.Equal(clientIV, wantIV) {
		t.Fatalf("client iv = %x, want %x", clientIV, wantIV)
	}
}
