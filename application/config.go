package application

import (
	"crypto/tls"
	"time"

	"quictransport/domain/transportparams"
	"quictransport/domain/wire"
	"quictransport/infrastructure/conn"
	"quictransport/infrastructure/logging"
	"quictransport/infrastructure/telemetry/trafficstats"
)

// Config is the flat, enumerated-field record `Connection::new(config)`
// takes, mirroring the teacher's `settings.ConnectionSettings`/`client.Conf`
// shape: a plain struct of primitive fields plus a couple of nested value
// objects, validated by one Validate() method ahead of any I/O.
type Config struct {
	// ServerName sets the TLS SNI / certificate verification name; also
	// used when TLSConfig.ServerName is left empty.
	ServerName string
	TLSConfig  *tls.Config

	// Version is the QUIC version to dial with; VersionCompatible, if
	// non-zero, is offered as a Compatible Version Negotiation fallback.
	Version           wire.Version
	VersionCompatible wire.Version

	Params transportparams.Params

	Congestion conn.CongestionAlgorithm

	// HandshakeTimeout defaults to conn.DefaultHandshakeTimeout if zero.
	HandshakeTimeout time.Duration

	// ConnectionIDLength defaults to conn.DefaultConnectionIDLength if
	// zero.
	ConnectionIDLength int

	// Logger receives connection-lifecycle diagnostics; defaults to
	// logging.NewLogLogger() (a thin wrapper over the standard log
	// package) if nil.
	Logger logging.Logger

	// Collector, if non-nil, is installed as the process-wide traffic
	// stats collector (infrastructure/telemetry/trafficstats.SetGlobal)
	// and started alongside the connection. Left nil, no traffic rate
	// sampling occurs.
	Collector *trafficstats.Collector
}

// withDefaults fills zero-valued optional fields per their documented
// defaults. It leaves TLSConfig untouched; the ALPN token is forced to
// "h3" by conn.Connection.Dial.
func (c Config) withDefaults() Config {
	if c.Version == 0 {
		c.Version = wire.Version1
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = conn.DefaultHandshakeTimeout
	}
	if c.ConnectionIDLength == 0 {
		c.ConnectionIDLength = conn.DefaultConnectionIDLength
	}
	if c.Params.MaxUDPPayloadSize == 0 {
		c.Params = transportparams.Defaults()
	}
	if c.Logger == nil {
		c.Logger = logging.NewLogLogger()
	}
	return c
}

// toConnConfig projects the facade's Config onto infrastructure/conn's
// narrower Config, the one the C12 state machine actually validates
// and consumes.
func (c Config) toConnConfig() conn.Config {
	return conn.Config{
		ServerName:         c.ServerName,
		TLSConfig:          c.TLSConfig,
		Version:            c.Version,
		VersionCompatible:  c.VersionCompatible,
		Params:             c.Params,
		Congestion:         c.Congestion,
		HandshakeTimeout:   c.HandshakeTimeout,
		ConnectionIDLength: c.ConnectionIDLength,
	}
}
