package protocol

import (
	"net"
	"time"

	"go.uber.org/zap"

	"reliable-udp/congestion"
)

// Status tracks one sequence number. It only moves forward:
// Unsent -> SentUnacked -> Acked.
type Status uint8

const (
	Unsent Status = iota
	SentUnacked
	Acked
)

func (status Status) String() string {
	switch status {
	case Unsent:
		return "UNSENT"
	case SentUnacked:
		return "SENT_UNACKED"
	case Acked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

type SenderConfig struct {
	RTO              time.Duration // retransmission timeout, DefaultRTO when zero
	InitialThreshold float64       // initial ssthresh in packets, congestion.InitialThreshold when zero
	Logger           *zap.Logger
}

// Session is the sending side of one file transfer. It exclusively uses its
// connection and source for its lifetime and is driven from a single goroutine.
type Session struct {
	conn  PacketConn
	peer  net.Addr
	src   *Segmenter
	cc    *congestion.Controller
	timer *RetransmitTimer
	log   *zap.Logger

	status       []Status // indexed by sequence number; index 0 unused
	sendBase     uint64   // lowest sequence number not yet acked
	highestSent  uint64
	terminalSent bool
	done         bool

	frame []byte
	recv  []byte
	stats SenderStats
}

func NewSession(conn PacketConn, peer net.Addr, src *Segmenter, cfg SenderConfig) *Session {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("peer", formatAddr(peer)))

	return &Session{
		conn:     conn,
		peer:     peer,
		src:      src,
		cc:       congestion.New(cfg.InitialThreshold, log.Named("cc")),
		timer:    NewRetransmitTimer(cfg.RTO),
		log:      log,
		status:   make([]Status, src.Count()+1),
		sendBase: 1,
		frame:    make([]byte, FrameSize),
		recv:     make([]byte, FrameSize),
		stats: SenderStats{
			Packets: src.Count(),
			Bytes:   src.Total,
		},
	}
}

func (session *Session) SendBase() uint64 {
	return session.sendBase
}

func (session *Session) HighestSent() uint64 {
	return session.highestSent
}

// Status returns the state of seq; sequence numbers outside 1..N are Unsent.
func (session *Session) Status(seq uint64) Status {
	if seq == 0 || seq >= uint64(len(session.status)) {
		return Unsent
	}
	return session.status[seq]
}

func (session *Session) Controller() *congestion.Controller {
	return session.cc
}

func (session *Session) Done() bool {
	return session.done
}

// Stats returns a snapshot of the session counters.
func (session *Session) Stats() SenderStats {
	stats := session.stats
	stats.Congestion = session.cc.Stats()
	stats.FinalCwnd = session.cc.Cwnd()
	stats.FinalThreshold = session.cc.Threshold()
	stats.Completed = session.done
	return stats
}

func (session *Session) packets() uint64 {
	return session.src.Count()
}
