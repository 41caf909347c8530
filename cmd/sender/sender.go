package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"reliable-udp/congestion"
	protocol "reliable-udp/pkg"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: ./sender [flags] <receiver host> <receiver port> <file> <bytes to transfer>")
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

func run() int {
	rto := flag.Duration("rto", protocol.DefaultRTO, "retransmission timeout")
	ssthresh := flag.Float64("ssthresh", congestion.InitialThreshold, "initial slow start threshold, in packets")
	tos := flag.Int("tos", 0, "IPv4 TOS byte for outgoing datagrams")
	drop := flag.Float64("drop", 0, "probability of dropping an outgoing datagram (testing)")
	dup := flag.Float64("dup", 0, "probability of duplicating an outgoing datagram (testing)")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "seed for -drop and -dup")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 4 {
		usage()
		return 2
	}
	port, err := strconv.ParseUint(flag.Arg(1), 10, 16)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid port:", flag.Arg(1))
		return 2
	}
	bytesToTransfer, err := strconv.ParseUint(flag.Arg(3), 10, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid byte count:", flag.Arg(3))
		return 2
	}

	log, err := protocol.NewLogger(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := protocol.SendFile(ctx, protocol.SendRequest{
		Host:     flag.Arg(0),
		Port:     uint16(port),
		Path:     flag.Arg(2),
		Bytes:    bytesToTransfer,
		TOS:      *tos,
		DropRate: *drop,
		DupRate:  *dup,
		Seed:     *seed,
		Config: protocol.SenderConfig{
			RTO:              *rto,
			InitialThreshold: *ssthresh,
			Logger:           log,
		},
	})
	fmt.Println(stats.Summary())

	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "File transfer interrupted")
		return 130
	default:
		fmt.Fprintln(os.Stderr, "sender:", err)
		return 1
	}
}
