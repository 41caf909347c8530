package protocol

import (
	"bytes"
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
)

func mustFrame(t *testing.T, frame Frame) []byte {
	t.Helper()
	buf, err := MarshalFrame(frame, nil)
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

// ackSeqs decodes acks and returns their sequence numbers, 0 for terminal acks.
func ackSeqs(t *testing.T, datagrams [][]byte) []uint64 {
	t.Helper()
	seqs := make([]uint64, 0, len(datagrams))
	for _, data := range datagrams {
		ack, err := UnmarshalAck(data)
		if err != nil {
			t.Fatalf("bad ack %x: %v", data, err)
		}
		seqs = append(seqs, ack.Seq)
	}
	return seqs
}

func TestReceiverReordersAndDeduplicates(t *testing.T) {
	data := patterned(5*MSS - 100)
	src := NewSegmenter(bytes.NewReader(data), "mem", uint64(len(data)))
	sender, conn := newLink()

	order := []uint64{3, 1, 3, 5, 2, 4, 1}
	for _, seq := range order {
		payload, err := src.Segment(seq)
		if err != nil {
			t.Fatal(err)
		}
		conn.inject(mustFrame(t, DataFrame(seq, payload)), sender.LocalAddr())
	}
	conn.inject(mustFrame(t, TerminalFrame()), sender.LocalAddr())

	var out bytes.Buffer
	receiver := NewReceiver(conn, ReceiverConfig{Logger: zaptest.NewLogger(t)})
	stats, err := receiver.Run(context.Background(), &out)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("output differs: got %d bytes, want %d", out.Len(), len(data))
	}
	want := append(append([]uint64(nil), order...), 0)
	if got := ackSeqs(t, sender.drain()); !reflect.DeepEqual(got, want) {
		t.Fatalf("acks %v, want %v", got, want)
	}

	sum, err := src.Checksum()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Frames != 7 || stats.Duplicates != 2 || stats.Packets != 5 ||
		stats.Bytes != uint64(len(data)) || stats.Checksum != sum || !stats.Completed {
		t.Fatalf("stats %+v", stats)
	}
	if receiver.Buffered() != 0 {
		t.Fatal("buffer not released after flush")
	}
}

func TestReceiverIgnoresMalformedAndForeign(t *testing.T) {
	sender, conn := newLink()
	stranger := newMemConn(50000)

	conn.inject([]byte{0xde, 0xad}, sender.LocalAddr())
	conn.inject(mustFrame(t, DataFrame(1, []byte("first"))), sender.LocalAddr())
	conn.inject(mustFrame(t, DataFrame(2, []byte("intruder"))), stranger.LocalAddr())
	conn.inject(mustFrame(t, TerminalFrame()), stranger.LocalAddr())
	conn.inject(mustFrame(t, TerminalFrame()), sender.LocalAddr())

	var out bytes.Buffer
	stats, err := NewReceiver(conn, ReceiverConfig{Logger: zaptest.NewLogger(t)}).Run(context.Background(), &out)
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != "first" {
		t.Fatalf("output %q", out.String())
	}
	if got := ackSeqs(t, sender.drain()); !reflect.DeepEqual(got, []uint64{1, 0}) {
		t.Fatalf("acks %v", got)
	}
	if stats.Malformed != 1 || stats.Foreign != 2 {
		t.Fatalf("stats %+v", stats)
	}
}

func TestReceiverEmptyTransfer(t *testing.T) {
	sender, conn := newLink()
	conn.inject(mustFrame(t, TerminalFrame()), sender.LocalAddr())

	var out bytes.Buffer
	stats, err := NewReceiver(conn, ReceiverConfig{}).Run(context.Background(), &out)
	if err != nil || out.Len() != 0 || !stats.Completed || stats.Packets != 0 {
		t.Fatalf("stats=%+v err=%v", stats, err)
	}
}

func TestReceiverLingerAnswersRetransmissions(t *testing.T) {
	sender, conn := newLink()
	conn.inject(mustFrame(t, DataFrame(1, []byte("x"))), sender.LocalAddr())
	conn.inject(mustFrame(t, TerminalFrame()), sender.LocalAddr())
	// a sender that missed the acks resends both
	conn.inject(mustFrame(t, TerminalFrame()), sender.LocalAddr())
	conn.inject(mustFrame(t, DataFrame(1, []byte("x"))), sender.LocalAddr())

	var out bytes.Buffer
	receiver := NewReceiver(conn, ReceiverConfig{Linger: 50 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	stats, err := receiver.Run(context.Background(), &out)
	if err != nil {
		t.Fatal(err)
	}
	if got := ackSeqs(t, sender.drain()); !reflect.DeepEqual(got, []uint64{1, 0, 0, 1}) {
		t.Fatalf("acks %v", got)
	}
	if out.String() != "x" || stats.Duplicates != 1 {
		t.Fatalf("output %q stats %+v", out.String(), stats)
	}
}

func TestReceiverCancellation(t *testing.T) {
	_, conn := newLink()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := NewReceiver(conn, ReceiverConfig{}).Run(ctx, &bytes.Buffer{})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestReceiverWriteFailure(t *testing.T) {
	sender, conn := newLink()
	conn.inject(mustFrame(t, DataFrame(1, []byte("data"))), sender.LocalAddr())
	conn.inject(mustFrame(t, TerminalFrame()), sender.LocalAddr())

	_, err := NewReceiver(conn, ReceiverConfig{}).Run(context.Background(), failingWriter{})
	if !IsFileError(err) {
		t.Fatalf("err = %v, want FileError", err)
	}
}

func TestAckEmitterCountsAcks(t *testing.T) {
	sender, conn := newLink()
	emitter := NewAckEmitter(conn, nil)
	if err := emitter.Ack(9, sender.LocalAddr()); err != nil {
		t.Fatal(err)
	}
	if err := emitter.Terminal(sender.LocalAddr()); err != nil {
		t.Fatal(err)
	}
	if emitter.Sent() != 2 {
		t.Fatalf("sent = %d", emitter.Sent())
	}
	if got := ackSeqs(t, sender.drain()); !reflect.DeepEqual(got, []uint64{9, 0}) {
		t.Fatalf("acks %v", got)
	}

	conn.Close()
	if err := emitter.Ack(1, sender.LocalAddr()); !IsTransportError(err) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}
