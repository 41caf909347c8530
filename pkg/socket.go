package protocol

import (
	"math/rand/v2"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/net/ipv4"
)

// PacketConn is the datagram socket a session runs over. *net.UDPConn,
// *Endpoint and LossyConn satisfy it.
type PacketConn interface {
	ReadFrom(p []byte) (int, net.Addr, error)
	WriteTo(p []byte, addr net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// Endpoint is a UDP socket owned by exactly one session.
type Endpoint struct {
	conn     *net.UDPConn
	closed   atomic.Bool
	sent     atomic.Uint64
	received atomic.Uint64
}

// Listen binds a UDP socket on addr, e.g. ":4950" for a receiver or
// "127.0.0.1:0" for a sender's ephemeral port.
func Listen(addr string) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, transportError("resolve", err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, transportError("bind", err)
	}
	return &Endpoint{conn: conn}, nil
}

// ResolvePeer resolves the destination of a transfer.
func ResolvePeer(host string, port uint16) (*net.UDPAddr, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, transportError("resolve", err)
	}
	return udpAddr, nil
}

// SetTOS marks outgoing datagrams with the given IPv4 TOS byte.
func (ep *Endpoint) SetTOS(tos int) error {
	if err := ipv4.NewConn(ep.conn).SetTOS(tos); err != nil {
		return transportError("setsockopt", errors.Wrapf(err, "tos %d", tos))
	}
	return nil
}

func (ep *Endpoint) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := ep.conn.ReadFromUDP(p)
	if err != nil {
		return n, nil, err
	}
	ep.received.Inc()
	return n, addr, nil
}

func (ep *Endpoint) WriteTo(p []byte, addr net.Addr) (int, error) {
	n, err := ep.conn.WriteTo(p, addr)
	if err != nil {
		return n, err
	}
	ep.sent.Inc()
	return n, nil
}

func (ep *Endpoint) SetReadDeadline(t time.Time) error {
	return ep.conn.SetReadDeadline(t)
}

func (ep *Endpoint) LocalAddr() net.Addr {
	return ep.conn.LocalAddr()
}

// Close releases the socket. Only the first call closes; later calls return nil.
func (ep *Endpoint) Close() error {
	if !ep.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := ep.conn.Close(); err != nil {
		return transportError("close", err)
	}
	return nil
}

func (ep *Endpoint) Closed() bool {
	return ep.closed.Load()
}

// Datagrams returns how many datagrams were written and read.
func (ep *Endpoint) Datagrams() (sent, received uint64) {
	return ep.sent.Load(), ep.received.Load()
}

// LossyConn drops or duplicates outgoing datagrams at random, turning a clean
// link into one that exercises loss recovery.
type LossyConn struct {
	PacketConn
	DropRate float64
	DupRate  float64

	rng        *rand.Rand
	dropped    atomic.Uint64
	duplicated atomic.Uint64
}

func NewLossyConn(conn PacketConn, dropRate, dupRate float64, seed uint64) *LossyConn {
	return &LossyConn{
		PacketConn: conn,
		DropRate:   dropRate,
		DupRate:    dupRate,
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (lc *LossyConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	if lc.rng.Float64() < lc.DropRate {
		lc.dropped.Inc()
		return len(p), nil
	}
	n, err := lc.PacketConn.WriteTo(p, addr)
	if err != nil {
		return n, err
	}
	if lc.rng.Float64() < lc.DupRate {
		lc.duplicated.Inc()
		return lc.PacketConn.WriteTo(p, addr)
	}
	return n, nil
}

// Counts returns how many datagrams were dropped and duplicated.
func (lc *LossyConn) Counts() (dropped, duplicated uint64) {
	return lc.dropped.Load(), lc.duplicated.Load()
}
