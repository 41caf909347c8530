package protocol

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"reliable-udp/congestion"
)

// Run transfers the source to the peer and returns once the terminal ack
// arrives, ctx is cancelled, or a transport or file error occurs. The caller
// owns the connection and the source and closes both afterwards.
func (session *Session) Run(ctx context.Context) (SenderStats, error) {
	start := time.Now()
	finish := func() SenderStats {
		session.stats.Elapsed = time.Since(start)
		return session.Stats()
	}

	// Wake a blocked read so cancellation is seen without waiting out the RTO.
	stop := context.AfterFunc(ctx, func() {
		session.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	session.log.Info("transfer starting",
		zap.Uint64("bytes", session.src.Total),
		zap.Uint64("packets", session.packets()),
		zap.Duration("rto", session.timer.RTO()))

	if err := session.transmit(congestion.ActionRetransmit); err != nil {
		return finish(), err
	}

	for !session.done {
		if err := ctx.Err(); err != nil {
			return finish(), errors.Wrap(err, "transfer interrupted")
		}
		if !session.timer.Armed() {
			session.timer.Arm()
		}
		if err := session.conn.SetReadDeadline(session.timer.Deadline()); err != nil {
			return finish(), transportError("set deadline", err)
		}

		n, addr, err := session.conn.ReadFrom(session.recv)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if isTimeout(err) {
				if err := session.onTimeout(); err != nil {
					return finish(), err
				}
				continue
			}
			return finish(), transportError("receive", err)
		}

		if !samePeer(addr, session.peer) {
			session.log.Warn("datagram from unexpected peer", zap.String("from", formatAddr(addr)))
			continue
		}
		ack, err := UnmarshalAck(session.recv[:n])
		if err != nil {
			session.stats.Malformed++
			session.log.Warn("dropping ack", zap.Error(err))
			continue
		}
		if err := session.onAck(ack); err != nil {
			return finish(), err
		}
	}

	sum, err := session.src.Checksum()
	if err != nil {
		return finish(), err
	}
	session.stats.Checksum = sum

	stats := finish()
	session.log.Info("transfer complete",
		zap.Uint64("bytes", stats.Bytes),
		zap.Uint64("transmissions", stats.Transmissions),
		zap.Uint64("retransmissions", stats.Retransmissions),
		zap.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

// onAck classifies ack as new, duplicate or anomalous and feeds the controller.
func (session *Session) onAck(ack Ack) error {
	if ack.Kind == KindTerminal {
		if !session.terminalSent {
			session.stats.IgnoredAcks++
			session.log.Debug("terminal ack before terminal frame, ignoring")
			return nil
		}
		session.timer.Clear()
		session.done = true
		session.log.Info("terminal ack received")
		return nil
	}

	seq := ack.Seq
	switch session.Status(seq) {
	case Unsent:
		session.stats.IgnoredAcks++
		session.log.Debug("ack for unsent packet, ignoring", zap.Uint64("seq", seq))
		return nil
	case Acked:
		session.log.Debug("duplicate ack", zap.Uint64("seq", seq))
		return session.transmit(session.cc.OnDuplicateAck())
	}

	session.log.Debug("new ack", zap.Uint64("seq", seq))
	session.status[seq] = Acked
	session.advance()
	return session.transmit(session.cc.OnNewAck())
}

func (session *Session) onTimeout() error {
	if !session.timer.Expired() {
		return nil
	}
	session.timer.Clear()
	session.log.Debug("retransmission timeout", zap.Uint64("send_base", session.sendBase))
	return session.transmit(session.cc.OnTimeout())
}

// advance moves send_base past every contiguously acked sequence number. A
// gap stops it even when later packets are acked.
func (session *Session) advance() {
	moved := false
	for session.sendBase <= session.packets() && session.status[session.sendBase] == Acked {
		session.sendBase++
		moved = true
	}
	if !moved {
		return
	}
	// late acks for packets a retransmit pass dropped from highest_sent
	if session.sendBase-1 > session.highestSent {
		session.highestSent = session.sendBase - 1
	}
	session.timer.Clear()
	if session.Status(session.sendBase) == SentUnacked {
		session.timer.Arm()
	}
}

func (session *Session) transmit(action congestion.Action) error {
	session.cc.Upgrade()
	switch action {
	case congestion.ActionRetransmit:
		return session.retransmitPass()
	case congestion.ActionSendNew:
		return session.newPacketPass()
	default:
		return nil
	}
}

// windowEnd returns the first sequence number beyond the window,
// send_base + floor(cwnd).
func (session *Session) windowEnd() uint64 {
	return session.sendBase + session.cc.Window()
}

// retransmitPass resends every unacked packet in [send_base, window end).
func (session *Session) retransmitPass() error {
	if session.sendBase > session.packets() {
		return session.sendTerminal()
	}

	end := min(session.windowEnd(), session.packets()+1)
	for seq := session.sendBase; seq < end; seq++ {
		if session.status[seq] == Acked {
			continue
		}
		if err := session.sendData(seq); err != nil {
			return err
		}
	}
	session.highestSent = end - 1
	return nil
}

// newPacketPass sends the packets in (highest_sent, window end) that are not
// acked. The terminal frame goes out here once; resends come from retransmit passes.
func (session *Session) newPacketPass() error {
	if session.sendBase > session.packets() {
		if session.terminalSent {
			return nil
		}
		return session.sendTerminal()
	}

	end := min(session.windowEnd(), session.packets()+1)
	for seq := session.highestSent + 1; seq < end; seq++ {
		if session.status[seq] == Acked {
			continue
		}
		if err := session.sendData(seq); err != nil {
			return err
		}
	}
	if end-1 > session.highestSent {
		session.highestSent = end - 1
	}
	return nil
}

func (session *Session) sendData(seq uint64) error {
	payload, err := session.src.Segment(seq)
	if err != nil {
		return err
	}
	buf, err := MarshalFrame(DataFrame(seq, payload), session.frame)
	if err != nil {
		return err
	}
	if _, err := session.conn.WriteTo(buf, session.peer); err != nil {
		return transportError("send", errors.Wrapf(err, "packet %d", seq))
	}

	resend := session.status[seq] != Unsent
	if !resend {
		session.status[seq] = SentUnacked
	}
	session.stats.Transmissions++
	if resend {
		session.stats.Retransmissions++
	}
	if seq == session.sendBase {
		session.timer.Arm()
	}

	session.log.Debug("sent packet",
		zap.Uint64("seq", seq),
		zap.Bool("retransmit", resend),
		zap.Uint64("send_base", session.sendBase),
		zap.Float64("cwnd", session.cc.Cwnd()))
	return nil
}

func (session *Session) sendTerminal() error {
	buf, err := MarshalFrame(TerminalFrame(), session.frame)
	if err != nil {
		return err
	}
	if _, err := session.conn.WriteTo(buf, session.peer); err != nil {
		return transportError("send", errors.Wrap(err, "terminal frame"))
	}
	if !session.terminalSent {
		session.log.Info("all packets acked, terminal frame sent")
	} else {
		session.log.Debug("terminal frame resent")
	}
	session.terminalSent = true
	session.stats.TerminalSends++
	session.timer.Arm()
	return nil
}
