package protocol

import (
	"net"
	"sync"
	"time"
)

type datagram struct {
	data []byte
	from net.Addr
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// memConn is one end of an in-memory datagram link. Writes land in the peer's
// inbox; filter decides how many copies of each datagram are delivered.
type memConn struct {
	addr  *net.UDPAddr
	peer  *memConn
	inbox chan datagram
	wake  chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	deadline time.Time
	filter   func(data []byte) int
	written  [][]byte
}

func newMemConn(port int) *memConn {
	return &memConn{
		addr:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		inbox:  make(chan datagram, 4096),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// newLink returns two connected ends, sender side first.
func newLink() (*memConn, *memConn) {
	a, b := newMemConn(40001), newMemConn(40002)
	a.peer, b.peer = b, a
	return a, b
}

func (conn *memConn) setFilter(filter func(data []byte) int) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	conn.filter = filter
}

// inject delivers data to conn as if sent from addr.
func (conn *memConn) inject(data []byte, from net.Addr) {
	conn.inbox <- datagram{data: append([]byte(nil), data...), from: from}
}

func (conn *memConn) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		conn.mu.Lock()
		deadline := conn.deadline
		conn.mu.Unlock()

		var expire <-chan time.Time
		var timer *time.Timer
		if !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 {
				return 0, nil, timeoutError{}
			}
			timer = time.NewTimer(wait)
			expire = timer.C
		}

		select {
		case dg := <-conn.inbox:
			if timer != nil {
				timer.Stop()
			}
			return copy(p, dg.data), dg.from, nil
		case <-expire:
			return 0, nil, timeoutError{}
		case <-conn.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-conn.closed:
			if timer != nil {
				timer.Stop()
			}
			return 0, nil, net.ErrClosed
		}
	}
}

func (conn *memConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-conn.closed:
		return 0, net.ErrClosed
	default:
	}

	data := append([]byte(nil), p...)
	conn.mu.Lock()
	conn.written = append(conn.written, data)
	filter := conn.filter
	conn.mu.Unlock()

	copies := 1
	if filter != nil {
		copies = filter(data)
	}
	for i := 0; i < copies; i++ {
		select {
		case conn.peer.inbox <- datagram{data: data, from: conn.addr}:
		default:
		}
	}
	return len(p), nil
}

func (conn *memConn) SetReadDeadline(t time.Time) error {
	conn.mu.Lock()
	conn.deadline = t
	conn.mu.Unlock()
	select {
	case conn.wake <- struct{}{}:
	default:
	}
	return nil
}

func (conn *memConn) LocalAddr() net.Addr {
	return conn.addr
}

func (conn *memConn) Close() error {
	conn.closeOnce.Do(func() { close(conn.closed) })
	return nil
}

// writes returns a copy of every datagram written so far.
func (conn *memConn) writes() [][]byte {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return append([][]byte(nil), conn.written...)
}

// drain empties the inbox and returns what was in it.
func (conn *memConn) drain() [][]byte {
	var out [][]byte
	for {
		select {
		case dg := <-conn.inbox:
			out = append(out, dg.data)
		default:
			return out
		}
	}
}

// sentSeqs decodes frames and returns their sequence numbers, 0 for terminal frames.
func sentSeqs(frames [][]byte) []uint64 {
	seqs := make([]uint64, 0, len(frames))
	for _, data := range frames {
		frame, err := UnmarshalFrame(data)
		if err != nil {
			continue
		}
		if frame.Kind == KindTerminal {
			seqs = append(seqs, 0)
		} else {
			seqs = append(seqs, frame.Seq)
		}
	}
	return seqs
}

// dropOnce returns a frame filter that drops the first transmission of every
// listed sequence number. Sequence 0 selects the terminal frame.
func dropOnce(seqs ...uint64) func([]byte) int {
	var mu sync.Mutex
	pending := make(map[uint64]bool, len(seqs))
	for _, seq := range seqs {
		pending[seq] = true
	}
	return func(data []byte) int {
		var seq uint64
		if len(data) == AckSize {
			ack, _ := UnmarshalAck(data)
			seq = ack.Seq
		} else {
			frame, err := UnmarshalFrame(data)
			if err != nil {
				return 1
			}
			seq = frame.Seq
		}
		mu.Lock()
		defer mu.Unlock()
		if pending[seq] {
			delete(pending, seq)
			return 0
		}
		return 1
	}
}
