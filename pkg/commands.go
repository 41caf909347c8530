package protocol

import (
	"context"
	"net"
	"os"

	"go.uber.org/zap"
)

// SendRequest describes one outgoing transfer.
type SendRequest struct {
	Host  string
	Port  uint16
	Path  string
	Bytes uint64 // bytes to transfer from the start of Path

	TOS      int     // IPv4 TOS byte for outgoing datagrams, 0 leaves the default
	DropRate float64 // simulated loss of outgoing datagrams
	DupRate  float64 // simulated duplication of outgoing datagrams
	Seed     uint64

	Config SenderConfig
}

// ReceiveRequest describes one incoming transfer.
type ReceiveRequest struct {
	Addr string // bind address, ":<port>" for the command line
	Path string

	TOS      int
	DropRate float64
	DupRate  float64
	Seed     uint64

	// Ready, if set, is called with the bound address before the first read.
	Ready func(net.Addr)

	Config ReceiverConfig
}

// SendFile opens the source and a socket, runs one sending session and
// releases both on every exit path, including cancellation.
func SendFile(ctx context.Context, req SendRequest) (SenderStats, error) {
	log := req.Config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	file, err := os.Open(req.Path)
	if err != nil {
		return SenderStats{}, fileError("open", req.Path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return SenderStats{}, fileError("stat", req.Path, err)
	}
	total := req.Bytes
	if size := uint64(info.Size()); size < total {
		log.Warn("file shorter than requested byte count, sending whole file",
			zap.Uint64("requested", total), zap.Uint64("size", size))
		total = size
	}

	peer, err := ResolvePeer(req.Host, req.Port)
	if err != nil {
		return SenderStats{}, err
	}
	endpoint, err := Listen(":0")
	if err != nil {
		return SenderStats{}, err
	}
	defer closeEndpoint(endpoint, log)

	conn := wrapConn(endpoint, req.TOS, req.DropRate, req.DupRate, req.Seed, log)
	session := NewSession(conn, peer, NewSegmenter(file, req.Path, total), req.Config)
	return session.Run(ctx)
}

// ReceiveFile binds the socket, creates the output file, runs one receiving
// session and releases both on every exit path.
func ReceiveFile(ctx context.Context, req ReceiveRequest) (ReceiverStats, error) {
	log := req.Config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	endpoint, err := Listen(req.Addr)
	if err != nil {
		return ReceiverStats{}, err
	}
	defer closeEndpoint(endpoint, log)

	file, err := os.Create(req.Path)
	if err != nil {
		return ReceiverStats{}, fileError("create", req.Path, err)
	}

	conn := wrapConn(endpoint, req.TOS, req.DropRate, req.DupRate, req.Seed, log)
	if req.Ready != nil {
		req.Ready(endpoint.LocalAddr())
	}

	stats, err := NewReceiver(conn, req.Config).Run(ctx, file)
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = fileError("close", req.Path, closeErr)
	}
	return stats, err
}

func wrapConn(endpoint *Endpoint, tos int, dropRate, dupRate float64, seed uint64, log *zap.Logger) PacketConn {
	if tos != 0 {
		if err := endpoint.SetTOS(tos); err != nil {
			log.Warn("could not mark datagrams", zap.Error(err))
		}
	}
	if dropRate > 0 || dupRate > 0 {
		log.Info("simulating lossy link", zap.Float64("drop", dropRate), zap.Float64("dup", dupRate))
		return NewLossyConn(endpoint, dropRate, dupRate, seed)
	}
	return endpoint
}

func closeEndpoint(endpoint *Endpoint, log *zap.Logger) {
	if err := endpoint.Close(); err != nil {
		log.Warn("closing socket", zap.Error(err))
	}
	sent, received := endpoint.Datagrams()
	log.Debug("socket closed", zap.Uint64("sent", sent), zap.Uint64("received", received))
}
