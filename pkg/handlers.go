package protocol

import (
	"net"

	"go.uber.org/zap"
)

// AckEmitter answers every data frame with an ack echoing its sequence number
// and the terminal frame with the terminal ack. Acks are per packet, never cumulative.
type AckEmitter struct {
	conn PacketConn
	sent uint64
	log  *zap.Logger
}

func NewAckEmitter(conn PacketConn, log *zap.Logger) *AckEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &AckEmitter{conn: conn, log: log}
}

func (emitter *AckEmitter) Ack(seq uint64, to net.Addr) error {
	return emitter.emit(DataAck(seq), to)
}

func (emitter *AckEmitter) Terminal(to net.Addr) error {
	return emitter.emit(TerminalAck(), to)
}

// Sent returns how many acks were written.
func (emitter *AckEmitter) Sent() uint64 {
	return emitter.sent
}

func (emitter *AckEmitter) emit(ack Ack, to net.Addr) error {
	if _, err := emitter.conn.WriteTo(MarshalAck(ack), to); err != nil {
		return transportError("send", err)
	}
	emitter.sent++
	emitter.log.Debug("sent ack", zap.Stringer("kind", ack.Kind), zap.Uint64("seq", ack.Seq))
	return nil
}

// handleDatagram stores and acknowledges one datagram. It reports whether the
// datagram was the terminal frame.
func (receiver *Receiver) handleDatagram(data []byte, from net.Addr) (bool, error) {
	frame, err := UnmarshalFrame(data)
	if err != nil {
		receiver.stats.Malformed++
		receiver.log.Warn("dropping frame", zap.Error(err))
		return false, nil
	}

	if receiver.peer == nil {
		receiver.peer = from
		receiver.log.Info("sender connected", zap.String("peer", formatAddr(from)))
	} else if !samePeer(from, receiver.peer) {
		receiver.stats.Foreign++
		receiver.log.Warn("frame from unexpected peer", zap.String("from", formatAddr(from)))
		return false, nil
	}

	switch frame.Kind {
	case KindTerminal:
		receiver.log.Debug("terminal frame received")
		return true, receiver.acks.Terminal(from)
	default:
		receiver.stats.Frames++
		if receiver.buf.Store(frame.Seq, frame.Payload) {
			receiver.stats.Duplicates++
		}
		receiver.log.Debug("received packet", zap.Uint64("seq", frame.Seq), zap.Int("len", len(frame.Payload)))
		return false, receiver.acks.Ack(frame.Seq, from)
	}
}
