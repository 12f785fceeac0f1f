// Package wire holds the plain, dependency-free constants and value
// objects shared by every QUIC layer: versions, encryption levels, and
// the RFC-defined transport error codes.
package wire

// Version identifies a QUIC wire version.
type Version uint32

const (
	VersionNegotiation Version = 0x00000000
	Version1           Version = 0x00000001 // RFC 9000
	Version2           Version = 0x6b3343cf // RFC 9369
)

// Level is one of the four QUIC encryption levels. Each level has its own
// keys and, for Initial/Handshake/Application, its own packet-number space
// (0-RTT shares the Application space).
type Level uint8

const (
	LevelInitial Level = iota
	LevelZeroRTT
	LevelHandshake
	LevelApplication
)

func (l Level) String() string {
	switch l {
	case LevelInitial:
		return "Initial"
	case LevelZeroRTT:
		return "0-RTT"
	case LevelHandshake:
		return "Handshake"
	case LevelApplication:
		return "Application"
	default:
		return "Unknown"
	}
}

// Space identifies a packet-number space. Initial and Handshake each get
// their own; 0-RTT and 1-RTT share the Application space.
type Space uint8

const (
	SpaceInitial Space = iota
	SpaceHandshake
	SpaceApplication
)

func (l Level) Space() Space {
	switch l {
	case LevelInitial:
		return SpaceInitial
	case LevelHandshake:
		return SpaceHandshake
	default:
		return SpaceApplication
	}
}

// TransportError is an RFC 9000 §20.1 transport error code.
type TransportError uint64

const (
	ErrNoError                  TransportError = 0x00
	ErrInternalError            TransportError = 0x01
	ErrConnectionRefused        TransportError = 0x02
	ErrFlowControlError         TransportError = 0x03
	ErrStreamLimitError         TransportError = 0x04
	ErrStreamStateError         TransportError = 0x05
	ErrFinalSizeError           TransportError = 0x06
	ErrFrameEncodingError       TransportError = 0x07
	ErrTransportParameterError  TransportError = 0x08
	ErrConnectionIDLimitError   TransportError = 0x09
	ErrProtocolViolation        TransportError = 0x0a
	ErrInvalidToken             TransportError = 0x0b
	ErrApplicationError         TransportError = 0x0c
	ErrCryptoBufferExceeded     TransportError = 0x0d
	ErrKeyUpdateError           TransportError = 0x0e
	ErrAeadLimitReached         TransportError = 0x0f
	ErrNoViablePath             TransportError = 0x10
	ErrCryptoErrorBase          TransportError = 0x0100 // + TLS alert
)

func (e TransportError) String() string {
	switch e {
	case ErrNoError:
		return "NO_ERROR"
	case ErrInternalError:
		return "INTERNAL_ERROR"
	case ErrConnectionRefused:
		return "CONNECTION_REFUSED"
	case ErrFlowControlError:
		return "FLOW_CONTROL_ERROR"
	case ErrStreamLimitError:
		return "STREAM_LIMIT_ERROR"
	case ErrStreamStateError:
		return "STREAM_STATE_ERROR"
	case ErrFinalSizeError:
		return "FINAL_SIZE_ERROR"
	case ErrFrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case ErrTransportParameterError:
		return "TRANSPORT_PARAMETER_ERROR"
	case ErrConnectionIDLimitError:
		return "CONNECTION_ID_LIMIT_ERROR"
	case ErrProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case ErrInvalidToken:
		return "INVALID_TOKEN"
	case ErrApplicationError:
		return "APPLICATION_ERROR"
	case ErrCryptoBufferExceeded:
		return "CRYPTO_BUFFER_EXCEEDED"
	case ErrKeyUpdateError:
		return "KEY_UPDATE_ERROR"
	case ErrAeadLimitReached:
		return "AEAD_LIMIT_REACHED"
	case ErrNoViablePath:
		return "NO_VIABLE_PATH"
	default:
		if e >= ErrCryptoErrorBase && e <= ErrCryptoErrorBase+0xff {
			return "CRYPTO_ERROR"
		}
		return "UNKNOWN_ERROR"
	}
}

// CryptoError builds the transport error code for a TLS alert, per
// RFC 9000 §20.1.
func CryptoError(alert uint8) TransportError {
	return ErrCryptoErrorBase + TransportError(alert)
}

// ConnError is a connection-closing error: a transport error code plus a
// human-readable reason, the payload of a CONNECTION_CLOSE frame.
type ConnError struct {
	Code      TransportError
	FrameType uint64 // frame type that triggered the error, 0 if not applicable
	Reason    string
	Cause     error
}

func (e *ConnError) Error() string {
	if e.Cause != nil {
		return e.Code.String() + ": " + e.Reason + ": " + e.Cause.Error()
	}
	return e.Code.String() + ": " + e.Reason
}

func (e *ConnError) Unwrap() error { return e.Cause }

// NewConnError builds a ConnError, optionally wrapping a cause.
func NewConnError(code TransportError, reason string, cause error) *ConnError {
	return &ConnError{Code: code, Reason: reason, Cause: cause}
}

// AppError is an application-level stream/connection error, carried by
// RESET_STREAM, STOP_SENDING, or an application CONNECTION_CLOSE.
type AppError struct {
	Code   uint64
	Reason string
}

func (e *AppError) Error() string { return e.Reason }

func NewAppError(code uint64, reason string) *AppError {
	return &AppError{Code: code, Reason: reason}
}
