package protocol

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"reliable-udp/reassembly"
)

const flushBufferSize = 64 * 1024

type ReceiverConfig struct {
	// Linger keeps answering retransmitted terminal frames after the flush
	// until the link has been quiet this long. Zero ends the session at once.
	Linger time.Duration
	Logger *zap.Logger
}

// Receiver is the receiving side of one file transfer.
type Receiver struct {
	conn   PacketConn
	acks   *AckEmitter
	buf    *reassembly.Buffer
	peer   net.Addr
	linger time.Duration
	log    *zap.Logger

	recv  []byte
	stats ReceiverStats
}

func NewReceiver(conn PacketConn, cfg ReceiverConfig) *Receiver {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Receiver{
		conn:   conn,
		acks:   NewAckEmitter(conn, log.Named("ack")),
		buf:    reassembly.New(),
		linger: cfg.Linger,
		log:    log,
		recv:   make([]byte, FrameSize+1),
	}
}

func (receiver *Receiver) Stats() ReceiverStats {
	return receiver.stats
}

// Buffered returns how many distinct packets are held for the flush.
func (receiver *Receiver) Buffered() int {
	return receiver.buf.Len()
}

// Run receives frames until the terminal frame arrives, then writes the
// payloads to out in sequence order.
func (receiver *Receiver) Run(ctx context.Context, out io.Writer) (ReceiverStats, error) {
	start := time.Now()
	finish := func() ReceiverStats {
		receiver.stats.Elapsed = time.Since(start)
		return receiver.stats
	}

	stop := context.AfterFunc(ctx, func() {
		receiver.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	receiver.log.Info("waiting for sender", zap.String("addr", formatAddr(receiver.conn.LocalAddr())))
	for {
		if err := ctx.Err(); err != nil {
			return finish(), errors.Wrap(err, "receive interrupted")
		}
		n, from, err := receiver.conn.ReadFrom(receiver.recv)
		if err != nil {
			if ctx.Err() != nil || isTimeout(err) {
				continue
			}
			return finish(), transportError("receive", err)
		}

		terminal, err := receiver.handleDatagram(receiver.recv[:n], from)
		if err != nil {
			return finish(), err
		}
		if terminal {
			break
		}
	}

	if err := receiver.flush(out); err != nil {
		return finish(), err
	}
	receiver.stats.Completed = true
	receiver.log.Info("transfer complete",
		zap.Uint64("packets", receiver.stats.Packets),
		zap.Uint64("bytes", receiver.stats.Bytes))

	if receiver.linger > 0 {
		receiver.lingerOn(ctx)
	}
	return finish(), nil
}

func (receiver *Receiver) flush(out io.Writer) error {
	if missing := receiver.buf.Missing(); len(missing) > 0 {
		receiver.log.Warn("flushing with gaps", zap.Int("missing", len(missing)), zap.Uint64s("first", missing[:min(len(missing), 8)]))
	}

	var sum uint16
	receiver.buf.Ascend(func(seq uint64, data []byte) bool {
		sum = ChainChecksum(sum, data)
		return true
	})

	w := bufio.NewWriterSize(out, flushBufferSize)
	n, err := receiver.buf.WriteTo(w)
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		return fileError("write", outputName(out), err)
	}

	receiver.stats.Packets = uint64(receiver.buf.Len())
	receiver.stats.Bytes = uint64(n)
	receiver.stats.Checksum = FinishChecksum(sum)
	receiver.buf.Reset()
	return nil
}

// lingerOn re-acknowledges retransmitted frames from the sender until the link
// has been quiet for the linger period. Failures here are logged only: the
// file is already complete.
func (receiver *Receiver) lingerOn(ctx context.Context) {
	for ctx.Err() == nil {
		if err := receiver.conn.SetReadDeadline(time.Now().Add(receiver.linger)); err != nil {
			receiver.log.Warn("linger", zap.Error(err))
			return
		}
		n, from, err := receiver.conn.ReadFrom(receiver.recv)
		if err != nil {
			if !isTimeout(err) && ctx.Err() == nil {
				receiver.log.Warn("linger", zap.Error(err))
			}
			return
		}
		if !samePeer(from, receiver.peer) {
			receiver.stats.Foreign++
			continue
		}

		frame, err := UnmarshalFrame(receiver.recv[:n])
		if err != nil {
			receiver.stats.Malformed++
			continue
		}
		if frame.Kind == KindTerminal {
			err = receiver.acks.Terminal(from)
		} else {
			receiver.stats.Duplicates++
			err = receiver.acks.Ack(frame.Seq, from)
		}
		if err != nil {
			receiver.log.Warn("linger", zap.Error(err))
			return
		}
	}
}

func outputName(out io.Writer) string {
	if named, ok := out.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "output"
}
