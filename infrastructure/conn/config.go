package conn

import (
	"crypto/tls"
	"fmt"
	"time"

	"quictransport/domain/transportparams"
	"quictransport/domain/wire"
)

// CongestionAlgorithm selects which C8 controller a connection uses.
type CongestionAlgorithm uint8

const (
	CongestionCubic CongestionAlgorithm = iota
	CongestionBBR
	CongestionBBRv2
)

// Config is the flat, enumerated-field configuration record spec.md §9
// requires in place of a string-keyed table, mirroring the shape of the
// teacher's settings records (a plain struct of primitive fields plus a
// couple of nested value objects, validated by one Validate() method).
type Config struct {
	// ServerName / TLSConfig configure the TLS 1.3 handshake; ALPN is
	// forced to "h3" regardless of what TLSConfig.NextProtos contains,
	// per spec.md §6.
	ServerName string
	TLSConfig  *tls.Config

	// Version is the QUIC version to dial with; VersionCompatible, if
	// non-zero, is offered as a Compatible Version Negotiation (RFC
	// 9368) fallback during the handshake.
	Version           wire.Version
	VersionCompatible wire.Version

	Params transportparams.Params

	Congestion CongestionAlgorithm

	// HandshakeTimeout defaults to 10s per spec.md §5 if zero.
	HandshakeTimeout time.Duration

	// ConnectionIDLength is the length in bytes of connection IDs this
	// endpoint issues (fixed for the lifetime of the connection, since
	// short headers carry no length field, spec.md §5).
	ConnectionIDLength int
}

// DefaultHandshakeTimeout is spec.md §5's default handshake deadline.
const DefaultHandshakeTimeout = 10 * time.Second

// DefaultConnectionIDLength is a conservative, commonly used CID size.
const DefaultConnectionIDLength = 8

// ErrInvalidConfig wraps a Config validation failure.
type ErrInvalidConfig struct{ Reason string }

func (e *ErrInvalidConfig) Error() string { return "conn: invalid config: " + e.Reason }

// Validate checks Config for internal consistency before a connection
// attempt begins, matching the teacher's practice of a Validate() call
// ahead of any I/O.
func (c *Config) Validate() error {
	if c.TLSConfig == nil {
		return &ErrInvalidConfig{Reason: "TLSConfig is required"}
	}
	if c.Version == 0 {
		return &ErrInvalidConfig{Reason: "Version must be set (wire.Version1 or wire.Version2)"}
	}
	if c.ConnectionIDLength < 0 || c.ConnectionIDLength > 20 {
		return &ErrInvalidConfig{Reason: fmt.Sprintf("ConnectionIDLength %d out of range [0,20]", c.ConnectionIDLength)}
	}
	if err := c.Params.Validate(); err != nil {
		return &ErrInvalidConfig{Reason: err.Error()}
	}
	return nil
}

// withDefaults returns a copy of c with zero-valued optional fields
// filled from spec.md's documented defaults.
func (c Config) withDefaults() Config {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.ConnectionIDLength == 0 {
		c.ConnectionIDLength = DefaultConnectionIDLength
	}
	if c.Params.MaxUDPPayloadSize == 0 {
		c.Params = transportparams.Defaults()
	}
	return c
}
