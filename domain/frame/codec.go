package frame

import (
	"quictransport/domain/varint"
)

func putVarint(dst []byte, v uint64) []byte {
	dst, _ = varint.Encode(dst, v) // values here are always < 2^62 by construction
	return dst
}

func getVarint(data []byte) (uint64, int, error) {
	v, n, err := varint.Decode(data)
	if err != nil {
		return 0, 0, ErrShortFrame
	}
	return v, n, nil
}

// Parse decodes exactly one frame from the front of data, returning the
// decoded frame and the number of bytes consumed. A trailing short read
// is reported as ErrShortFrame; an unrecognised type as
// ErrUnknownFrameType — both map to a connection error at the caller.
func Parse(data []byte) (Frame, int, error) {
	t, tn, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	rest := data[tn:]

	switch {
	case Type(t) == TypePadding:
		n := tn
		for n < len(data) && data[n] == 0x00 {
			n++
		}
		return PaddingFrame{Length: n}, n, nil

	case Type(t) == TypePing:
		return PingFrame{}, tn, nil

	case Type(t) == TypeACK || Type(t) == TypeACKECN:
		return parseACK(rest, Type(t) == TypeACKECN, tn)

	case Type(t) == TypeResetStream:
		return parseResetStream(rest, tn)

	case Type(t) == TypeStopSending:
		return parseStopSending(rest, tn)

	case Type(t) == TypeCrypto:
		return parseCrypto(rest, tn)

	case Type(t) == TypeNewToken:
		return parseNewToken(rest, tn)

	case Type(t).IsStream():
		return parseStream(rest, Type(t), tn)

	case Type(t) == TypeMaxData:
		return parseMaxData(rest, tn)

	case Type(t) == TypeMaxStreamData:
		return parseMaxStreamData(rest, tn)

	case Type(t) == TypeMaxStreamsBidi || Type(t) == TypeMaxStreamsUni:
		return parseMaxStreams(rest, Type(t) == TypeMaxStreamsBidi, tn)

	case Type(t) == TypeDataBlocked:
		return parseDataBlocked(rest, tn)

	case Type(t) == TypeStreamDataBlocked:
		return parseStreamDataBlocked(rest, tn)

	case Type(t) == TypeStreamsBlockedBidi || Type(t) == TypeStreamsBlockedUni:
		return parseStreamsBlocked(rest, Type(t) == TypeStreamsBlockedBidi, tn)

	case Type(t) == TypeNewConnectionID:
		return parseNewConnectionID(rest, tn)

	case Type(t) == TypeRetireConnectionID:
		return parseRetireConnectionID(rest, tn)

	case Type(t) == TypePathChallenge:
		return parsePathChallenge(rest, tn)

	case Type(t) == TypePathResponse:
		return parsePathResponse(rest, tn)

	case Type(t) == TypeConnectionCloseQUIC || Type(t) == TypeConnectionCloseApp:
		return parseConnectionClose(rest, Type(t) == TypeConnectionCloseApp, tn)

	case Type(t) == TypeHandshakeDone:
		return HandshakeDoneFrame{}, tn, nil

	case Type(t).IsDatagram():
		return parseDatagram(rest, Type(t) == TypeDatagramLen, tn)

	default:
		return nil, 0, ErrUnknownFrameType
	}
}

func parseACK(data []byte, ecn bool, consumed int) (Frame, int, error) {
	largest, n1, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	delay, n2, err := getVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	rangeCount, n3, err := getVarint(data[n1+n2:])
	if err != nil {
		return nil, 0, err
	}
	first, n4, err := getVarint(data[n1+n2+n3:])
	if err != nil {
		return nil, 0, err
	}
	off := n1 + n2 + n3 + n4
	f := ACKFrame{LargestAcked: largest, AckDelay: delay, FirstRange: first, ECN: ecn}
	for i := uint64(0); i < rangeCount; i++ {
		gap, ng, err := getVarint(data[off:])
		if err != nil {
			return nil, 0, err
		}
		off += ng
		length, nl, err := getVarint(data[off:])
		if err != nil {
			return nil, 0, err
		}
		off += nl
		f.Ranges = append(f.Ranges, AckRange{Gap: gap, Length: length})
	}
	if ecn {
		ect0, n5, err := getVarint(data[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n5
		ect1, n6, err := getVarint(data[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n6
		ecnce, n7, err := getVarint(data[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n7
		f.ECT0, f.ECT1, f.ECNCE = ect0, ect1, ecnce
	}
	return f, consumed + off, nil
}

func (f ACKFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.LargestAcked)
	dst = putVarint(dst, f.AckDelay)
	dst = putVarint(dst, uint64(len(f.Ranges)))
	dst = putVarint(dst, f.FirstRange)
	for _, r := range f.Ranges {
		dst = putVarint(dst, r.Gap)
		dst = putVarint(dst, r.Length)
	}
	if f.ECN {
		dst = putVarint(dst, f.ECT0)
		dst = putVarint(dst, f.ECT1)
		dst = putVarint(dst, f.ECNCE)
	}
	return dst, nil
}

func parseResetStream(data []byte, consumed int) (Frame, int, error) {
	sid, n1, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	code, n2, err := getVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	final, n3, err := getVarint(data[n1+n2:])
	if err != nil {
		return nil, 0, err
	}
	return ResetStreamFrame{StreamID: sid, AppError: code, FinalSize: final}, consumed + n1 + n2 + n3, nil
}

func (f ResetStreamFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.StreamID)
	dst = putVarint(dst, f.AppError)
	dst = putVarint(dst, f.FinalSize)
	return dst, nil
}

func parseStopSending(data []byte, consumed int) (Frame, int, error) {
	sid, n1, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	code, n2, err := getVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	return StopSendingFrame{StreamID: sid, AppError: code}, consumed + n1 + n2, nil
}

func (f StopSendingFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.StreamID)
	dst = putVarint(dst, f.AppError)
	return dst, nil
}

func parseCrypto(data []byte, consumed int) (Frame, int, error) {
	off, n1, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	length, n2, err := getVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	start := n1 + n2
	if uint64(len(data)-start) < length {
		return nil, 0, ErrShortFrame
	}
	body := data[start : start+int(length)]
	return CryptoFrame{Offset: off, Data: body}, consumed + start + int(length), nil
}

func (f CryptoFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.Offset)
	dst = putVarint(dst, uint64(len(f.Data)))
	dst = append(dst, f.Data...)
	return dst, nil
}

func parseNewToken(data []byte, consumed int) (Frame, int, error) {
	length, n1, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	if uint64(len(data)-n1) < length {
		return nil, 0, ErrShortFrame
	}
	token := data[n1 : n1+int(length)]
	return NewTokenFrame{Token: token}, consumed + n1 + int(length), nil
}

func (f NewTokenFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, uint64(len(f.Token)))
	dst = append(dst, f.Token...)
	return dst, nil
}

func parseStream(data []byte, t Type, consumed int) (Frame, int, error) {
	off := 0
	sid, n1, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	off += n1

	var offset uint64
	if t&0x04 != 0 {
		o, no, err := getVarint(data[off:])
		if err != nil {
			return nil, 0, err
		}
		offset = o
		off += no
	}

	var length uint64
	hasLen := t&0x02 != 0
	if hasLen {
		l, nl, err := getVarint(data[off:])
		if err != nil {
			return nil, 0, err
		}
		length = l
		off += nl
		if uint64(len(data)-off) < length {
			return nil, 0, ErrShortFrame
		}
	} else {
		length = uint64(len(data) - off)
	}

	body := data[off : off+int(length)]
	off += int(length)

	return StreamFrame{
		StreamID: sid,
		Offset:   offset,
		Data:     body,
		Fin:      t&0x01 != 0,
	}, consumed + off, nil
}

func (f StreamFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.StreamID)
	if f.Offset != 0 {
		dst = putVarint(dst, f.Offset)
	}
	dst = putVarint(dst, uint64(len(f.Data)))
	dst = append(dst, f.Data...)
	return dst, nil
}

func parseMaxData(data []byte, consumed int) (Frame, int, error) {
	v, n, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	return MaxDataFrame{MaximumData: v}, consumed + n, nil
}

func (f MaxDataFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.MaximumData)
	return dst, nil
}

func parseMaxStreamData(data []byte, consumed int) (Frame, int, error) {
	sid, n1, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	v, n2, err := getVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	return MaxStreamDataFrame{StreamID: sid, MaximumData: v}, consumed + n1 + n2, nil
}

func (f MaxStreamDataFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.StreamID)
	dst = putVarint(dst, f.MaximumData)
	return dst, nil
}

func parseMaxStreams(data []byte, bidi bool, consumed int) (Frame, int, error) {
	v, n, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	return MaxStreamsFrame{Bidi: bidi, MaxStreams: v}, consumed + n, nil
}

func (f MaxStreamsFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.MaxStreams)
	return dst, nil
}

func parseDataBlocked(data []byte, consumed int) (Frame, int, error) {
	v, n, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	return DataBlockedFrame{MaximumData: v}, consumed + n, nil
}

func (f DataBlockedFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.MaximumData)
	return dst, nil
}

func parseStreamDataBlocked(data []byte, consumed int) (Frame, int, error) {
	sid, n1, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	v, n2, err := getVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	return StreamDataBlockedFrame{StreamID: sid, MaximumData: v}, consumed + n1 + n2, nil
}

func (f StreamDataBlockedFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.StreamID)
	dst = putVarint(dst, f.MaximumData)
	return dst, nil
}

func parseStreamsBlocked(data []byte, bidi bool, consumed int) (Frame, int, error) {
	v, n, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	return StreamsBlockedFrame{Bidi: bidi, MaxStreams: v}, consumed + n, nil
}

func (f StreamsBlockedFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.MaxStreams)
	return dst, nil
}

func parseNewConnectionID(data []byte, consumed int) (Frame, int, error) {
	seq, n1, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	retire, n2, err := getVarint(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	off := n1 + n2
	if off >= len(data) {
		return nil, 0, ErrShortFrame
	}
	cidLen := int(data[off])
	off++
	if len(data)-off < cidLen+16 {
		return nil, 0, ErrShortFrame
	}
	cid := data[off : off+cidLen]
	off += cidLen
	var token [16]byte
	copy(token[:], data[off:off+16])
	off += 16
	return NewConnectionIDFrame{
		SequenceNumber:      seq,
		RetirePriorTo:       retire,
		ConnectionID:        cid,
		StatelessResetToken: token,
	}, consumed + off, nil
}

func (f NewConnectionIDFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.SequenceNumber)
	dst = putVarint(dst, f.RetirePriorTo)
	dst = append(dst, byte(len(f.ConnectionID)))
	dst = append(dst, f.ConnectionID...)
	dst = append(dst, f.StatelessResetToken[:]...)
	return dst, nil
}

func parseRetireConnectionID(data []byte, consumed int) (Frame, int, error) {
	seq, n, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	return RetireConnectionIDFrame{SequenceNumber: seq}, consumed + n, nil
}

func (f RetireConnectionIDFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.SequenceNumber)
	return dst, nil
}

func parsePathChallenge(data []byte, consumed int) (Frame, int, error) {
	if len(data) < 8 {
		return nil, 0, ErrShortFrame
	}
	var d [8]byte
	copy(d[:], data[:8])
	return PathChallengeFrame{Data: d}, consumed + 8, nil
}

func (f PathChallengeFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = append(dst, f.Data[:]...)
	return dst, nil
}

func parsePathResponse(data []byte, consumed int) (Frame, int, error) {
	if len(data) < 8 {
		return nil, 0, ErrShortFrame
	}
	var d [8]byte
	copy(d[:], data[:8])
	return PathResponseFrame{Data: d}, consumed + 8, nil
}

func (f PathResponseFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = append(dst, f.Data[:]...)
	return dst, nil
}

func parseConnectionClose(data []byte, app bool, consumed int) (Frame, int, error) {
	code, n1, err := getVarint(data)
	if err != nil {
		return nil, 0, err
	}
	off := n1
	var ft uint64
	if !app {
		v, n2, err := getVarint(data[off:])
		if err != nil {
			return nil, 0, err
		}
		ft = v
		off += n2
	}
	rlen, n3, err := getVarint(data[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n3
	if uint64(len(data)-off) < rlen {
		return nil, 0, ErrShortFrame
	}
	reason := string(data[off : off+int(rlen)])
	off += int(rlen)
	return ConnectionCloseFrame{
		App:          app,
		ErrorCode:    code,
		FrameType:    ft,
		ReasonPhrase: reason,
	}, consumed + off, nil
}

func (f ConnectionCloseFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	dst = putVarint(dst, f.ErrorCode)
	if !f.App {
		dst = putVarint(dst, f.FrameType)
	}
	dst = putVarint(dst, uint64(len(f.ReasonPhrase)))
	dst = append(dst, f.ReasonPhrase...)
	return dst, nil
}

func (f HandshakeDoneFrame) AppendTo(dst []byte) ([]byte, error) {
	return putVarint(dst, uint64(f.Type())), nil
}

func (f PaddingFrame) AppendTo(dst []byte) ([]byte, error) {
	n := f.Length
	if n == 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		dst = append(dst, 0x00)
	}
	return dst, nil
}

func (f PingFrame) AppendTo(dst []byte) ([]byte, error) {
	return putVarint(dst, uint64(f.Type())), nil
}

func parseDatagram(data []byte, explicitLen bool, consumed int) (Frame, int, error) {
	if explicitLen {
		length, n, err := getVarint(data)
		if err != nil {
			return nil, 0, err
		}
		if uint64(len(data)-n) < length {
			return nil, 0, ErrShortFrame
		}
		body := data[n : n+int(length)]
		return DatagramFrame{Data: body, ExplicitLen: true}, consumed + n + int(length), nil
	}
	return DatagramFrame{Data: data, ExplicitLen: false}, consumed + len(data), nil
}

func (f DatagramFrame) AppendTo(dst []byte) ([]byte, error) {
	dst = putVarint(dst, uint64(f.Type()))
	if f.ExplicitLen {
		dst = putVarint(dst, uint64(len(f.Data)))
	}
	dst = append(dst, f.Data...)
	return dst, nil
}
