// Package tlsadapter binds the QUIC core to Go's standard library TLS
// 1.3 stack (spec.md §4.13, C13): crypto/tls's QUICConn is exactly the
// "TLS 1.3 stack exposing handshake messages and exported traffic
// secrets" spec.md §1 requires as an external collaborator, so this
// adapter is a thin translation layer rather than a TLS implementation
// of its own (see DESIGN.md for why this one stdlib surface is used
// instead of a third-party TLS library).
package tlsadapter

import (
	"context"
	"crypto/tls"
	"fmt"

	"quictransport/domain/wire"
)

// levelToTLS / levelFromTLS translate between this module's encryption
// levels and crypto/tls's QUICEncryptionLevel.
func levelToTLS(l wire.Level) tls.QUICEncryptionLevel {
	switch l {
	case wire.LevelInitial:
		return tls.QUICEncryptionLevelInitial
	case wire.LevelZeroRTT:
		return tls.QUICEncryptionLevelEarly
	case wire.LevelHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}

func levelFromTLS(l tls.QUICEncryptionLevel) wire.Level {
	switch l {
	case tls.QUICEncryptionLevelInitial:
		return wire.LevelInitial
	case tls.QUICEncryptionLevelEarly:
		return wire.LevelZeroRTT
	case tls.QUICEncryptionLevelHandshake:
		return wire.LevelHandshake
	default:
		return wire.LevelApplication
	}
}

// EventKind mirrors the subset of crypto/tls QUIC events this adapter
// translates into key-schedule and CRYPTO-stream actions.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventWriteData
	EventSetReadSecret
	EventSetWriteSecret
	EventTransportParameters
	EventHandshakeDone
	EventClose
)

// Event is the adapter's own representation of one TLS-driven
// transition, decoupling callers (infrastructure/conn) from the
// standard library's QUICEvent shape.
type Event struct {
	Kind   EventKind
	Level  wire.Level
	Suite  uint16
	Secret []byte // SetReadSecret/SetWriteSecret
	Data   []byte // WriteData (CRYPTO bytes to send) or TransportParameters payload
	Alert  uint8
}

// Adapter wraps a crypto/tls QUICConn, translating its event stream
// into Event values and its CRYPTO-frame needs into per-level byte
// streams, per spec.md §4.13.
type Adapter struct {
	conn *tls.QUICConn
}

// NewClient builds an Adapter for the client role (the only role
// spec.md §1 scopes in: server-side QUIC is a Non-goal). transportParams
// is this endpoint's encoded RFC 9000 §18 transport parameters
// extension payload.
func NewClient(tlsConfig *tls.Config, transportParams []byte) *Adapter {
	conn := tls.QUICClient(&tls.QUICConfig{TLSConfig: tlsConfig})
	conn.SetTransportParameters(transportParams)
	return &Adapter{conn: conn}
}

// Start begins the handshake, producing the first NextEvent calls'
// worth of Initial CRYPTO data.
func (a *Adapter) Start(ctx context.Context) error {
	return a.conn.Start(ctx)
}

// HandleData feeds received CRYPTO frame bytes (already reassembled in
// offset order by the caller) into TLS at the given level.
func (a *Adapter) HandleData(level wire.Level, data []byte) error {
	if err := a.conn.HandleData(levelToTLS(level), data); err != nil {
		return fmt.Errorf("tlsadapter: handle data at %s: %w", level, err)
	}
	return nil
}

// NextEvent drains the next pending TLS event, or EventNone if none is
// currently pending. The caller (infrastructure/conn) loops calling
// this after every HandleData/Start until EventNone, per the
// documented crypto/tls QUIC driving protocol.
func (a *Adapter) NextEvent() Event {
	ev := a.conn.NextEvent()
	switch ev.Kind {
	case tls.QUICNoEvent:
		return Event{Kind: EventNone}
	case tls.QUICSetReadSecret:
		return Event{Kind: EventSetReadSecret, Level: levelFromTLS(ev.Level), Suite: ev.Suite, Secret: ev.Data}
	case tls.QUICSetWriteSecret:
		return Event{Kind: EventSetWriteSecret, Level: levelFromTLS(ev.Level), Suite: ev.Suite, Secret: ev.Data}
	case tls.QUICWriteData:
		return Event{Kind: EventWriteData, Level: levelFromTLS(ev.Level), Data: ev.Data}
	case tls.QUICTransportParameters:
		return Event{Kind: EventTransportParameters, Data: ev.Data}
	case tls.QUICHandshakeDone:
		return Event{Kind: EventHandshakeDone}
	default:
		return Event{Kind: EventNone}
	}
}

// ConnectionState returns the negotiated ALPN protocol and cipher
// suite once the handshake completes.
func (a *Adapter) ConnectionState() tls.ConnectionState {
	return a.conn.ConnectionState()
}

// Close releases the underlying TLS connection.
func (a *Adapter) Close() error {
	return a.conn.Close()
}
