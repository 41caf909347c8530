package protocol

import "time"

const (
	DefaultRTO = 40 * time.Millisecond
)

// RetransmitTimer is the one deadline of a sending session. It guards the
// packet at send_base; there is never a timer per packet.
type RetransmitTimer struct {
	rto      time.Duration
	deadline time.Time
	armed    bool
	now      func() time.Time
}

func NewRetransmitTimer(rto time.Duration) *RetransmitTimer {
	if rto <= 0 {
		rto = DefaultRTO
	}
	return &RetransmitTimer{rto: rto, now: time.Now}
}

// Arm (re)starts the deadline one RTO from now.
func (timer *RetransmitTimer) Arm() {
	timer.deadline = timer.now().Add(timer.rto)
	timer.armed = true
}

func (timer *RetransmitTimer) Clear() {
	timer.deadline = time.Time{}
	timer.armed = false
}

func (timer *RetransmitTimer) Armed() bool {
	return timer.armed
}

// Deadline returns the expiry time, or the zero time if the timer is cleared.
func (timer *RetransmitTimer) Deadline() time.Time {
	return timer.deadline
}

// Expired reports whether an armed timer has reached its deadline.
func (timer *RetransmitTimer) Expired() bool {
	return timer.armed && !timer.now().Before(timer.deadline)
}

func (timer *RetransmitTimer) RTO() time.Duration {
	return timer.rto
}
