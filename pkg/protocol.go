package protocol

import (
	"encoding/binary"
)

const (
	MSS = 1024 // maximum segment size, bytes of payload per frame

	seqLen      = 8
	lengthLen   = 4
	terminalLen = 1

	// FrameSize is the fixed on-wire size of every frame:
	// sequence(8) | payload(MSS) | length(4) | is_terminal(1)
	FrameSize = seqLen + MSS + lengthLen + terminalLen

	// AckSize is the on-wire size of an acknowledgment: sequence(8)
	AckSize = seqLen

	lengthOffset   = seqLen + MSS
	terminalOffset = lengthOffset + lengthLen

	terminalSeq = 0 // wire value of the terminal frame and terminal ack
)

type FrameKind uint8

const (
	KindData FrameKind = iota
	KindTerminal
)

func (kind FrameKind) String() string {
	switch kind {
	case KindData:
		return "DATA"
	case KindTerminal:
		return "TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// Frame is a decoded data or terminal frame. Payload holds only the valid
// bytes; the padding of the fixed wire buffer is never exposed.
type Frame struct {
	Kind    FrameKind
	Seq     uint64 // 1-based for data, unused for terminal frames
	Payload []byte
}

func DataFrame(seq uint64, payload []byte) Frame {
	return Frame{Kind: KindData, Seq: seq, Payload: payload}
}

func TerminalFrame() Frame {
	return Frame{Kind: KindTerminal}
}

// Ack acknowledges one data frame, or the terminal frame when Kind is KindTerminal.
type Ack struct {
	Kind FrameKind
	Seq  uint64
}

func DataAck(seq uint64) Ack {
	return Ack{Kind: KindData, Seq: seq}
}

func TerminalAck() Ack {
	return Ack{Kind: KindTerminal}
}

// MarshalFrame encodes frame into buf, which must hold FrameSize bytes, and
// returns the encoded slice.
func MarshalFrame(frame Frame, buf []byte) ([]byte, error) {
	if len(buf) < FrameSize {
		buf = make([]byte, FrameSize)
	}
	buf = buf[:FrameSize]

	switch frame.Kind {
	case KindData:
		if frame.Seq == terminalSeq {
			return nil, formatErrorf(0, "data frame with reserved sequence 0")
		}
		if len(frame.Payload) > MSS {
			return nil, formatErrorf(len(frame.Payload), "payload exceeds MSS %d", MSS)
		}
		binary.BigEndian.PutUint64(buf[0:seqLen], frame.Seq)
		n := copy(buf[seqLen:lengthOffset], frame.Payload)
		clear(buf[seqLen+n : lengthOffset])
		binary.BigEndian.PutUint32(buf[lengthOffset:terminalOffset], uint32(n))
		buf[terminalOffset] = 0
	case KindTerminal:
		clear(buf[:terminalOffset])
		buf[terminalOffset] = 1
	default:
		return nil, formatErrorf(0, "unknown frame kind %d", frame.Kind)
	}
	return buf, nil
}

// UnmarshalFrame decodes a datagram into a Frame. The returned payload aliases
// data. Bytes beyond FrameSize are ignored.
func UnmarshalFrame(data []byte) (Frame, error) {
	if len(data) < FrameSize {
		return Frame{}, formatErrorf(len(data), "shorter than frame size %d", FrameSize)
	}

	seq := binary.BigEndian.Uint64(data[0:seqLen])
	length := binary.BigEndian.Uint32(data[lengthOffset:terminalOffset])
	if length > MSS {
		return Frame{}, formatErrorf(len(data), "length field %d exceeds MSS %d", length, MSS)
	}

	switch data[terminalOffset] {
	case 0:
		if seq == terminalSeq {
			return Frame{}, formatErrorf(len(data), "data frame with reserved sequence 0")
		}
		return DataFrame(seq, data[seqLen:seqLen+int(length)]), nil
	case 1:
		if seq != terminalSeq || length != 0 {
			return Frame{}, formatErrorf(len(data), "terminal frame with sequence %d and length %d", seq, length)
		}
		return TerminalFrame(), nil
	default:
		return Frame{}, formatErrorf(len(data), "terminal flag %d is not a boolean", data[terminalOffset])
	}
}

func MarshalAck(ack Ack) []byte {
	buf := make([]byte, AckSize)
	if ack.Kind == KindData {
		binary.BigEndian.PutUint64(buf, ack.Seq)
	}
	return buf
}

func UnmarshalAck(data []byte) (Ack, error) {
	if len(data) < AckSize {
		return Ack{}, formatErrorf(len(data), "shorter than ack size %d", AckSize)
	}
	seq := binary.BigEndian.Uint64(data[:AckSize])
	if seq == terminalSeq {
		return TerminalAck(), nil
	}
	return DataAck(seq), nil
}
