package protocol

import (
	"strconv"
	"time"

	"reliable-udp/congestion"
)

// SenderStats summarizes one sending session. It is returned by value from the
// session; nothing here is process-wide.
type SenderStats struct {
	Packets         uint64 // data packets in the transfer
	Bytes           uint64
	Transmissions   uint64 // data frames written, first sends and resends
	Retransmissions uint64
	TerminalSends   uint64
	IgnoredAcks     uint64 // acks for unsent or out-of-range sequences
	Malformed       uint64
	Congestion      congestion.Stats
	FinalCwnd       float64
	FinalThreshold  float64
	Checksum        uint16
	Elapsed         time.Duration
	Completed       bool
}

// ReceiverStats summarizes one receiving session.
type ReceiverStats struct {
	Frames     uint64 // data frames accepted
	Duplicates uint64
	Malformed  uint64
	Foreign    uint64 // datagrams from a peer other than the pinned sender
	Packets    uint64 // distinct sequence numbers written out
	Bytes      uint64
	Checksum   uint16
	Elapsed    time.Duration
	Completed  bool
}

func (stats SenderStats) Summary() string {
	var res = "Packets  Bytes      Sent     Resent   Timeouts  FastRetx  Checksum"
	res += "\n" + pad(stats.Packets, 9) + pad(stats.Bytes, 11) + pad(stats.Transmissions, 9) +
		pad(stats.Retransmissions, 9) + pad(stats.Congestion.Timeouts, 10) +
		pad(stats.Congestion.FastRetransmits, 10) + "0x" + strconv.FormatUint(uint64(stats.Checksum), 16)

	res += "\nState                 Visits"
	for mode := congestion.SlowStart; mode <= congestion.FastRecovery; mode++ {
		res += "\n" + padString(mode.String(), 22) + strconv.FormatUint(stats.Congestion.Visits(mode), 10)
	}

	res += "\nNewAcks  DupAcks  Ignored  Malformed  cwnd     ssthresh"
	res += "\n" + pad(stats.Congestion.NewAcks, 9) + pad(stats.Congestion.DupAcks, 9) +
		pad(stats.IgnoredAcks, 9) + pad(stats.Malformed, 11) +
		padString(strconv.FormatFloat(stats.FinalCwnd, 'f', 2, 64), 9) +
		strconv.FormatFloat(stats.FinalThreshold, 'f', 2, 64)

	res += "\nElapsed " + stats.Elapsed.Round(time.Millisecond).String()
	if stats.Completed {
		res += "  completed"
	} else {
		res += "  interrupted"
	}
	return res
}

func (stats ReceiverStats) Summary() string {
	var res = "Frames   Dups     Malformed  Foreign  Packets  Bytes      Checksum"
	res += "\n" + pad(stats.Frames, 9) + pad(stats.Duplicates, 9) + pad(stats.Malformed, 11) +
		pad(stats.Foreign, 9) + pad(stats.Packets, 9) + pad(stats.Bytes, 11) +
		"0x" + strconv.FormatUint(uint64(stats.Checksum), 16)
	res += "\nElapsed " + stats.Elapsed.Round(time.Millisecond).String()
	if stats.Completed {
		res += "  completed"
	} else {
		res += "  interrupted"
	}
	return res
}

func pad(value uint64, width int) string {
	return padString(strconv.FormatUint(value, 10), width)
}

func padString(s string, width int) string {
	s += " "
	for len(s) < width {
		s += " "
	}
	return s
}
