package protocol

import (
	"io"

	"github.com/pkg/errors"
)

// Segmenter cuts the first Total bytes of a source into MSS-sized segments
// numbered from 1. Segments are read on demand so retransmissions never need
// an in-memory copy of the file.
type Segmenter struct {
	src   io.ReaderAt
	name  string
	Total uint64
	buf   [MSS]byte
}

func NewSegmenter(src io.ReaderAt, name string, total uint64) *Segmenter {
	return &Segmenter{src: src, name: name, Total: total}
}

// Count returns the number of data segments, ceil(Total / MSS).
func (seg *Segmenter) Count() uint64 {
	return (seg.Total + MSS - 1) / MSS
}

// Len returns the valid payload length of segment seq.
func (seg *Segmenter) Len(seq uint64) int {
	if seq == 0 || seq > seg.Count() {
		return 0
	}
	if seq < seg.Count() {
		return MSS
	}
	return int(seg.Total - (seq-1)*MSS)
}

// Segment returns the payload of segment seq. The slice is reused by the next call.
func (seg *Segmenter) Segment(seq uint64) ([]byte, error) {
	length := seg.Len(seq)
	if length == 0 {
		return nil, errors.Errorf("segment %d out of range 1..%d", seq, seg.Count())
	}

	n, err := seg.src.ReadAt(seg.buf[:length], int64(seq-1)*MSS)
	if n == length {
		return seg.buf[:n], nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, fileError("read", seg.name, errors.Wrapf(err, "segment %d", seq))
}

// Checksum reads every segment in order and returns the finished payload checksum.
func (seg *Segmenter) Checksum() (uint16, error) {
	var sum uint16
	for seq := uint64(1); seq <= seg.Count(); seq++ {
		payload, err := seg.Segment(seq)
		if err != nil {
			return 0, err
		}
		sum = ChainChecksum(sum, payload)
	}
	return FinishChecksum(sum), nil
}
