package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	protocol "reliable-udp/pkg"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: ./receiver [flags] <UDP port> <file to write>")
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

func run() int {
	linger := flag.Duration("linger", time.Second, "keep answering terminal frames for this long after the transfer")
	tos := flag.Int("tos", 0, "IPv4 TOS byte for outgoing acks")
	drop := flag.Float64("drop", 0, "probability of dropping an outgoing ack (testing)")
	dup := flag.Float64("dup", 0, "probability of duplicating an outgoing ack (testing)")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "seed for -drop and -dup")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 2 {
		usage()
		return 2
	}
	port, err := strconv.ParseUint(flag.Arg(0), 10, 16)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid port:", flag.Arg(0))
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

	stats, err := protocol.ReceiveFile(ctx, protocol.ReceiveRequest{
		Addr:     ":" + strconv.FormatUint(port, 10),
		Path:     flag.Arg(1),
		TOS:      *tos,
		DropRate: *drop,
		DupRate:  *dup,
		Seed:     *seed,
		Ready: func(addr net.Addr) {
			log.Info("listening", zap.String("addr", addr.String()))
		},
		Config: protocol.ReceiverConfig{
			Linger: *linger,
			Logger: log,
		},
	})
	fmt.Println(stats.Summary())

	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Receive interrupted")
		return 130
	default:
		fmt.Fprintln(os.Stderr, "receiver:", err)
		return 1
	}
}
