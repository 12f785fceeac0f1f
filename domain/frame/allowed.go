package frame

import "quictransport/domain/wire"

// Allowed reports whether a frame of type t may legally appear in a
// packet at encryption level lvl (RFC 9000 §12.4 Table 3). A violation
// is a PROTOCOL_VIOLATION at the packet-codec/connection layer.
func Allowed(t Type, lvl wire.Level) bool {
	switch lvl {
	case wire.LevelInitial, wire.LevelHandshake:
		switch t {
		case TypePadding, TypePing, TypeACK, TypeACKECN, TypeCrypto, TypeConnectionCloseQUIC:
			return true
		default:
			return false
		}
	case wire.LevelZeroRTT:
		switch t {
		case TypePathResponse, TypeNewToken:
			return false
		default:
			return true
		}
	default: // Application (1-RTT)
		return true
	}
}
