package frame

// Type is an RFC 9000 frame type. STREAM frames occupy a range
// (0x08-0x0f) whose low 3 bits carry the OFF/LEN/FIN flags; the constant
// below names the base of that range.
type Type uint64

const (
	TypePadding             Type = 0x00
	TypePing                Type = 0x01
	TypeACK                 Type = 0x02
	TypeACKECN              Type = 0x03
	TypeResetStream         Type = 0x04
	TypeStopSending         Type = 0x05
	TypeCrypto              Type = 0x06
	TypeNewToken            Type = 0x07
	TypeStreamBase          Type = 0x08 // 0x08-0x0f
	TypeMaxData             Type = 0x10
	TypeMaxStreamData       Type = 0x11
	TypeMaxStreamsBidi      Type = 0x12
	TypeMaxStreamsUni       Type = 0x13
	TypeDataBlocked         Type = 0x14
	TypeStreamDataBlocked   Type = 0x15
	TypeStreamsBlockedBidi  Type = 0x16
	TypeStreamsBlockedUni   Type = 0x17
	TypeNewConnectionID     Type = 0x18
	TypeRetireConnectionID  Type = 0x19
	TypePathChallenge       Type = 0x1a
	TypePathResponse        Type = 0x1b
	TypeConnectionCloseQUIC Type = 0x1c
	TypeConnectionCloseApp  Type = 0x1d
	TypeHandshakeDone       Type = 0x1e
	TypeDatagramNoLen       Type = 0x30
	TypeDatagramLen         Type = 0x31
)

// IsStream reports whether t falls in the STREAM frame type range.
func (t Type) IsStream() bool { return t >= TypeStreamBase && t <= TypeStreamBase+7 }

// IsDatagram reports whether t is one of the two DATAGRAM frame types.
func (t Type) IsDatagram() bool { return t == TypeDatagramNoLen || t == TypeDatagramLen }

// IsAckEliciting reports whether a frame of this type requires the peer
// to send an acknowledgment (RFC 9000 §13.2).
func (t Type) IsAckEliciting() bool {
	switch t {
	case TypePadding, TypeACK, TypeACKECN, TypeConnectionCloseQUIC, TypeConnectionCloseApp:
		return false
	default:
		return true
	}
}

// Frame is the common contract implemented by every decoded frame value.
// A tagged-struct-per-type design (rather than an interface hierarchy with
// virtual dispatch) keeps parsing and serialization as plain functions
// over data, and lets callers exhaustively switch on Type().
type Frame interface {
	Type() Type
	// AppendTo serializes the frame onto dst and returns the result.
	AppendTo(dst []byte) ([]byte, error)
}

type PaddingFrame struct {
	Length int // number of consecutive 0x00 bytes
}

func (f PaddingFrame) Type() Type { return TypePadding }

type PingFrame struct{}

func (f PingFrame) Type() Type { return TypePing }

// AckRange is a gap/length pair as it appears on the wire, already
// relative to the previous range.
type AckRange struct {
	Gap    uint64 // packets between ranges (0 for the first range's Gap field, unused)
	Length uint64 // ackRangeLength: (range size - 1)
}

type ACKFrame struct {
	LargestAcked uint64
	AckDelay     uint64 // encoded value, not yet scaled by ack_delay_exponent
	FirstRange   uint64 // size of first range - 1
	Ranges       []AckRange
	ECN          bool
	ECT0, ECT1, ECNCE uint64
}

func (f ACKFrame) Type() Type {
	if f.ECN {
		return TypeACKECN
	}
	return TypeACK
}

type ResetStreamFrame struct {
	StreamID  uint64
	AppError  uint64
	FinalSize uint64
}

func (f ResetStreamFrame) Type() Type { return TypeResetStream }

type StopSendingFrame struct {
	StreamID uint64
	AppError uint64
}

func (f StopSendingFrame) Type() Type { return TypeStopSending }

type CryptoFrame struct {
	Offset uint64
	Data   []byte
}

func (f CryptoFrame) Type() Type { return TypeCrypto }

type NewTokenFrame struct {
	Token []byte
}

func (f NewTokenFrame) Type() Type { return TypeNewToken }

type StreamFrame struct {
	StreamID uint64
	Offset   uint64 // valid only if explicit offset bit set; 0 otherwise
	Data     []byte
	Fin      bool
}

func (f StreamFrame) Type() Type {
	t := TypeStreamBase
	if f.Offset != 0 {
		t |= 0x04
	}
	t |= 0x02 // LEN always explicit on the wire for unambiguous parsing
	if f.Fin {
		t |= 0x01
	}
	return t
}

type MaxDataFrame struct {
	MaximumData uint64
}

func (f MaxDataFrame) Type() Type { return TypeMaxData }

type MaxStreamDataFrame struct {
	StreamID    uint64
	MaximumData uint64
}

func (f MaxStreamDataFrame) Type() Type { return TypeMaxStreamData }

type MaxStreamsFrame struct {
	Bidi        bool
	MaxStreams  uint64
}

func (f MaxStreamsFrame) Type() Type {
	if f.Bidi {
		return TypeMaxStreamsBidi
	}
	return TypeMaxStreamsUni
}

type DataBlockedFrame struct {
	MaximumData uint64
}

func (f DataBlockedFrame) Type() Type { return TypeDataBlocked }

type StreamDataBlockedFrame struct {
	StreamID    uint64
	MaximumData uint64
}

func (f StreamDataBlockedFrame) Type() Type { return TypeStreamDataBlocked }

type StreamsBlockedFrame struct {
	Bidi       bool
	MaxStreams uint64
}

func (f StreamsBlockedFrame) Type() Type {
	if f.Bidi {
		return TypeStreamsBlockedBidi
	}
	return TypeStreamsBlockedUni
}

type NewConnectionIDFrame struct {
	SequenceNumber      uint64
	RetirePriorTo       uint64
	ConnectionID        []byte
	StatelessResetToken [16]byte
}

func (f NewConnectionIDFrame) Type() Type { return TypeNewConnectionID }

type RetireConnectionIDFrame struct {
	SequenceNumber uint64
}

func (f RetireConnectionIDFrame) Type() Type { return TypeRetireConnectionID }

type PathChallengeFrame struct {
	Data [8]byte
}

func (f PathChallengeFrame) Type() Type { return TypePathChallenge }

type PathResponseFrame struct {
	Data [8]byte
}

func (f PathResponseFrame) Type() Type { return TypePathResponse }

type ConnectionCloseFrame struct {
	App          bool
	ErrorCode    uint64
	FrameType    uint64 // only meaningful when !App
	ReasonPhrase string
}

func (f ConnectionCloseFrame) Type() Type {
	if f.App {
		return TypeConnectionCloseApp
	}
	return TypeConnectionCloseQUIC
}

type HandshakeDoneFrame struct{}

func (f HandshakeDoneFrame) Type() Type { return TypeHandshakeDone }

type DatagramFrame struct {
	Data         []byte
	ExplicitLen  bool
}

func (f DatagramFrame) Type() Type {
	if f.ExplicitLen {
		return TypeDatagramLen
	}
	return TypeDatagramNoLen
}
