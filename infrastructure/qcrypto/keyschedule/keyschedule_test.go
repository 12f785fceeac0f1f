package keyschedule

import (
	"bytes"
	"encoding/hex"
	"testing"

	"quictransport/infrastructure/qcrypto"
	"quictransport/domain/wire"
)

func TestInitialSecretsV1Vectors(t *testing.T) {
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	clientSecret, _, err := InitialSecrets(wire.Version1, dcid)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := hex.DecodeString("c00cf151ca5be075ed0ebfb5c80323c42d6b7db67881289af4008f1f6c357aea")
	if !bytes.Equal(clientSecret, want) {
		t.Fatalf("client initial secret = %x, want %x", clientSecret, want)
	}

	keys, err := DeriveLevelKeys(clientSecret, qcrypto.SuiteAES128GCM)
	if err != nil {
		t.Fatal(err)
	}
	wantKey, _ := hex.DecodeString("1f369613dd76d5467730efcbe3b1a22d")
	wantIV, _ := hex.DecodeString("fa044b2f42a3fd3b46fb255c")
	if !bytes.Equal(keys.Key, wantKey) {
		t.Fatalf("key = %x, want %x", keys.Key, wantKey)
	}
	if !bytes.Equal(keys.IV, wantIV) {
		t.Fatalf("iv = %x, want %x", keys.IV, wantIV)
	}
}

func TestInitialSecretsVersionsDiffer(t *testing.T) {
	dcid, _ := hex.DecodeString("8394c8f03e515708")
	v1Client, _, err := InitialSecrets(wire.Version1, dcid)
	if err != nil {
		t.Fatal(err)
	}
	v2Client, _, err := InitialSecrets(wire.Version2, dcid)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(v1Client, v2Client) {
		t.Fatal("v1 and v2 initial secrets must differ (distinct salts)")
	}
}

func TestDeriveLevelKeysLengths(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	cases := []struct {
		suite      qcrypto.Suite
		wantKeyLen int
	}{
		{qcrypto.SuiteAES128GCM, 16},
		{qcrypto.SuiteAES256GCM, 32},
		{qcrypto.SuiteChaCha20Poly1305, 32},
	}
	for _, c := range cases {
		keys, err := DeriveLevelKeys(secret, c.suite)
		if err != nil {
			t.Fatal(err)
		}
		if len(keys.Key) != c.wantKeyLen || len(keys.IV) != 12 || len(keys.HP) != c.wantKeyLen {
			t.Errorf("suite %v: key=%d iv=%d hp=%d, want key/hp=%d iv=12", c.suite, len(keys.Key), len(keys.IV), len(keys.HP), c.wantKeyLen)
		}
	}
}

func TestNextApplicationSecretChanges(t *testing.T) {
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}
	next, err := NextApplicationSecret(secret)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(secret, next) || len(next) != len(secret) {
		t.Fatalf("NextApplicationSecret did not rotate correctly: %x -> %x", secret, next)
	}
}
