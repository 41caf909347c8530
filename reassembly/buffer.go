// Package reassembly holds received payload chunks keyed by sequence number
// until the transfer terminates, then drains them in ascending order.
package reassembly

import (
	"io"

	"github.com/google/btree"
)

const degree = 32

// chunk is one stored payload.
type chunk struct {
	seq  uint64
	data []byte
}

func less(a, b chunk) bool {
	return a.seq < b.seq
}

// Buffer is an ordered map from sequence number to payload. Arrival order does
// not matter; a duplicate arrival replaces the stored copy.
type Buffer struct {
	tree  *btree.BTreeG[chunk]
	bytes int
}

func New() *Buffer {
	return &Buffer{tree: btree.NewG[chunk](degree, less)}
}

// Store copies data under seq and reports whether seq was already present.
func (buf *Buffer) Store(seq uint64, data []byte) bool {
	item := chunk{seq: seq, data: append([]byte(nil), data...)}
	old, replaced := buf.tree.ReplaceOrInsert(item)
	if replaced {
		buf.bytes -= len(old.data)
	}
	buf.bytes += len(item.data)
	return replaced
}

func (buf *Buffer) Has(seq uint64) bool {
	return buf.tree.Has(chunk{seq: seq})
}

// Len returns the number of distinct sequence numbers stored.
func (buf *Buffer) Len() int {
	return buf.tree.Len()
}

// Bytes returns the number of valid payload bytes stored.
func (buf *Buffer) Bytes() int {
	return buf.bytes
}

// Max returns the highest stored sequence number, or 0 when empty.
func (buf *Buffer) Max() uint64 {
	item, ok := buf.tree.Max()
	if !ok {
		return 0
	}
	return item.seq
}

// Missing returns the sequence numbers in 1..Max() that were never stored.
func (buf *Buffer) Missing() []uint64 {
	var missing []uint64
	next := uint64(1)
	buf.tree.Ascend(func(item chunk) bool {
		for ; next < item.seq; next++ {
			missing = append(missing, next)
		}
		next = item.seq + 1
		return true
	})
	return missing
}

// Ascend calls fn with every stored payload in ascending sequence order until
// fn returns false.
func (buf *Buffer) Ascend(fn func(seq uint64, data []byte) bool) {
	buf.tree.Ascend(func(item chunk) bool {
		return fn(item.seq, item.data)
	})
}

// WriteTo writes every stored payload to w in ascending sequence order.
func (buf *Buffer) WriteTo(w io.Writer) (int64, error) {
	var written int64
	var err error
	buf.tree.Ascend(func(item chunk) bool {
		var n int
		n, err = w.Write(item.data)
		written += int64(n)
		return err == nil
	})
	return written, err
}

// Reset drops every stored chunk.
func (buf *Buffer) Reset() {
	buf.tree.Clear(false)
	buf.bytes = 0
}
