// Package congestion implements loss-based congestion control in the style of
// TCP Reno: slow start, congestion avoidance and fast recovery over a window
// counted in packets.
package congestion

import (
	"math"

	"go.uber.org/zap"
)

// Mode is the congestion control phase.
type Mode int

const (
	SlowStart Mode = iota
	CongestionAvoidance
	FastRecovery
	numModes
)

func (mode Mode) String() string {
	switch mode {
	case SlowStart:
		return "SLOW_START"
	case CongestionAvoidance:
		return "CONGESTION_AVOIDANCE"
	case FastRecovery:
		return "FAST_RECOVERY"
	default:
		return "UNKNOWN"
	}
}

// Action tells the driver what to transmit after an event.
type Action int

const (
	// ActionNone sends nothing.
	ActionNone Action = iota
	// ActionSendNew sends unsent packets above highest_sent that fit the window.
	ActionSendNew
	// ActionRetransmit resends every unacked packet of the window from send_base.
	ActionRetransmit
)

func (action Action) String() string {
	switch action {
	case ActionNone:
		return "NONE"
	case ActionSendNew:
		return "SEND_NEW"
	case ActionRetransmit:
		return "RETRANSMIT"
	default:
		return "UNKNOWN"
	}
}

const (
	InitialWindow    = 1.0
	InitialThreshold = 64.0
	DupAckThreshold  = 3
	MinWindow        = 1.0
)

// Stats counts controller events. ModeVisits[m] is incremented once per event
// handled while in mode m.
type Stats struct {
	ModeVisits      [numModes]uint64
	NewAcks         uint64
	DupAcks         uint64
	FastRetransmits uint64
	Timeouts        uint64
}

func (stats Stats) Visits(mode Mode) uint64 {
	if mode < 0 || mode >= numModes {
		return 0
	}
	return stats.ModeVisits[mode]
}

// Controller owns cwnd, ssthresh, the duplicate ack counter and the mode.
// It is not safe for concurrent use; a session drives it from one goroutine.
type Controller struct {
	cwnd     float64
	ssthresh float64
	mode     Mode
	dupAcks  int
	stats    Stats
	log      *zap.Logger
}

// New returns a controller in slow start with cwnd 1. A threshold <= 0 selects
// InitialThreshold.
func New(threshold float64, log *zap.Logger) *Controller {
	if threshold <= 0 {
		threshold = InitialThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		cwnd:     InitialWindow,
		ssthresh: threshold,
		mode:     SlowStart,
		log:      log,
	}
}

func (cc *Controller) Cwnd() float64     { return cc.cwnd }
func (cc *Controller) Threshold() float64 { return cc.ssthresh }
func (cc *Controller) Mode() Mode         { return cc.mode }
func (cc *Controller) DupAcks() int       { return cc.dupAcks }
func (cc *Controller) Stats() Stats       { return cc.stats }

// Window returns the number of packets allowed in flight, floor(cwnd).
func (cc *Controller) Window() uint64 {
	return uint64(math.Floor(cc.cwnd))
}

// Upgrade moves slow start to congestion avoidance once cwnd has reached
// ssthresh. The driver calls it before every transmission decision.
func (cc *Controller) Upgrade() {
	if cc.mode == SlowStart && cc.cwnd >= cc.ssthresh {
		cc.transition(CongestionAvoidance, "threshold reached")
	}
}

// OnNewAck handles an ack for a packet that was sent and not yet acked.
func (cc *Controller) OnNewAck() Action {
	cc.visit()
	cc.stats.NewAcks++
	switch cc.mode {
	case SlowStart:
		cc.cwnd++
	case CongestionAvoidance:
		cc.cwnd += 1.0 / cc.cwnd
	case FastRecovery:
		cc.cwnd = math.Max(cc.ssthresh, MinWindow)
		cc.transition(CongestionAvoidance, "recovery ack")
	}
	cc.dupAcks = 0
	cc.trace("new ack")
	return ActionSendNew
}

// OnDuplicateAck handles an ack for a packet that is already acked.
func (cc *Controller) OnDuplicateAck() Action {
	cc.visit()
	cc.stats.DupAcks++
	if cc.mode == FastRecovery {
		cc.cwnd++
		cc.trace("inflate")
		return ActionSendNew
	}

	cc.dupAcks++
	if cc.dupAcks < DupAckThreshold {
		cc.trace("duplicate ack")
		return ActionNone
	}

	cc.stats.FastRetransmits++
	cc.ssthresh = cc.cwnd / 2
	cc.cwnd = cc.ssthresh + DupAckThreshold
	cc.transition(FastRecovery, "triple duplicate ack")
	cc.trace("fast retransmit")
	return ActionRetransmit
}

// OnTimeout handles expiry of the retransmission timer, from any mode.
func (cc *Controller) OnTimeout() Action {
	cc.visit()
	cc.stats.Timeouts++
	cc.ssthresh = cc.cwnd / 2
	cc.cwnd = MinWindow
	cc.dupAcks = 0
	cc.transition(SlowStart, "timeout")
	cc.trace("timeout")
	return ActionRetransmit
}

func (cc *Controller) visit() {
	cc.stats.ModeVisits[cc.mode]++
}

func (cc *Controller) transition(next Mode, reason string) {
	if cc.mode == next {
		return
	}
	cc.log.Debug("congestion mode change",
		zap.Stringer("from", cc.mode),
		zap.Stringer("to", next),
		zap.String("reason", reason))
	cc.mode = next
}

func (cc *Controller) trace(event string) {
	cc.log.Debug(event,
		zap.Stringer("mode", cc.mode),
		zap.Float64("cwnd", cc.cwnd),
		zap.Float64("ssthresh", cc.ssthresh),
		zap.Int("dup_acks", cc.dupAcks))
}
