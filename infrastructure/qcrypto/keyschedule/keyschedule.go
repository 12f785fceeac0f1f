// Package keyschedule derives QUIC per-level key material (RFC 9001 §5,
// §5.2 for Initial keys, §6 for key updates) from either the
// version-specific Initial salt or a TLS-exported traffic secret.
package keyschedule

import (
	"crypto/sha256"

	"quictransport/infrastructure/qcrypto"
	"quictransport/domain/wire"
)

// initial salts, RFC 9001 §5.2 (v1) and RFC 9369 §3.2.3 (v2).
var (
	saltV1 = mustHex("38762cf7f55934b34d179ae6a4c80cadccbb7f0a")
	saltV2 = mustHex("0dede3def700a6db819381be6e269dcbf9bd2ed1")
)

func mustHex(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := range b {
		hi := hexDigit(s[2*i])
		lo := hexDigit(s[2*i+1])
		b[i] = hi<<4 | lo
	}
	return b
}

func hexDigit(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// saltFor returns the version-specific Initial salt.
func saltFor(v wire.Version) []byte {
	if v == wire.Version2 {
		return saltV2
	}
	return saltV1
}

// Keys holds the three derived values for one direction at one
// encryption level: the bulk AEAD key, the IV that is XORed with the
// packet number to form the AEAD nonce, and the header-protection key.
type Keys struct {
	Key   []byte
	IV    []byte
	HP    []byte
	Suite qcrypto.Suite
}

// InitialSecrets derives the client and server Initial secrets from the
// client-chosen destination connection ID, per RFC 9001 §5.2.
func InitialSecrets(version wire.Version, dcid []byte) (clientSecret, serverSecret []byte, err error) {
	initialSecret := qcrypto.Extract(saltFor(version), dcid)
	clientSecret, err = qcrypto.HKDFExpandLabel(sha256.New, initialSecret, "client in", nil, 32)
	if err != nil {
		return nil, nil, err
	}
	serverSecret, err = qcrypto.HKDFExpandLabel(sha256.New, initialSecret, "server in", nil, 32)
	if err != nil {
		return nil, nil, err
	}
	return clientSecret, serverSecret, nil
}

// DeriveLevelKeys derives (key, iv, hp) from a traffic secret for the
// given AEAD suite, using labels "quic key"/"quic iv"/"quic hp"
// (RFC 9001 §5.1). Initial-level keys always use AES-128-GCM regardless
// of the negotiated application suite.
func DeriveLevelKeys(secret []byte, suite qcrypto.Suite) (Keys, error) {
	key, err := qcrypto.HKDFExpandLabel(sha256.New, secret, "quic key", nil, suite.KeyLen())
	if err != nil {
		return Keys{}, err
	}
	iv, err := qcrypto.HKDFExpandLabel(sha256.New, secret, "quic iv", nil, 12)
	if err != nil {
		return Keys{}, err
	}
	hp, err := qcrypto.HKDFExpandLabel(sha256.New, secret, "quic hp", nil, suite.HPKeyLen())
	if err != nil {
		return Keys{}, err
	}
	return Keys{Key: key, IV: iv, HP: hp, Suite: suite}, nil
}

// NextApplicationSecret derives the next-generation 1-RTT secret from the
// current one using label "quic ku" (RFC 9001 §6.1), used by the key
// update state machine (C3a) on KEY_PHASE flip.
func NextApplicationSecret(secret []byte) ([]byte, error) {
	return qcrypto.HKDFExpandLabel(sha256.New, secret, "quic ku", nil, len(secret))
}
