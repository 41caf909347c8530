package protocol

import (
	"net"
	"net/netip"

	"github.com/google/netstack/tcpip/header"
)

// ChainChecksum folds chunk into a running one's-complement sum. Chaining is
// exact as long as every chunk but the last has even length, which holds for
// MSS-sized segments.
func ChainChecksum(sum uint16, chunk []byte) uint16 {
	return header.Checksum(chunk, sum)
}

// FinishChecksum returns the transmitted form of a running sum.
func FinishChecksum(sum uint16) uint16 {
	return sum ^ 0xffff
}

func addrPortOf(addr net.Addr) (netip.AddrPort, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		addrPort := a.AddrPort()
		return netip.AddrPortFrom(addrPort.Addr().Unmap(), addrPort.Port()), true
	default:
		addrPort, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.AddrPort{}, false
		}
		return netip.AddrPortFrom(addrPort.Addr().Unmap(), addrPort.Port()), true
	}
}

// samePeer compares two datagram addresses by IP and port.
func samePeer(a, b net.Addr) bool {
	if a == nil || b == nil {
		return false
	}
	pa, okA := addrPortOf(a)
	pb, okB := addrPortOf(b)
	if !okA || !okB {
		return a.String() == b.String()
	}
	return pa == pb
}

func formatAddr(addr net.Addr) string {
	if addr == nil {
		return "*"
	}
	return addr.String()
}
