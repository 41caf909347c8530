package protocol

import (
	"bytes"
	"testing"
)

func patterned(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/MSS)
	}
	return data
}

func TestSegmenterBoundaries(t *testing.T) {
	tests := []struct {
		total   uint64
		count   uint64
		lastLen int
	}{
		{0, 0, 0},
		{1, 1, 1},
		{MSS, 1, MSS},
		{3 * MSS, 3, MSS},
		{3*MSS + 5, 4, 5},
	}
	for _, tt := range tests {
		seg := NewSegmenter(bytes.NewReader(patterned(int(tt.total))), "mem", tt.total)
		if seg.Count() != tt.count {
			t.Fatalf("total %d: count %d, want %d", tt.total, seg.Count(), tt.count)
		}
		if tt.count > 0 && seg.Len(tt.count) != tt.lastLen {
			t.Fatalf("total %d: last len %d, want %d", tt.total, seg.Len(tt.count), tt.lastLen)
		}
		if seg.Len(tt.count+1) != 0 || seg.Len(0) != 0 {
			t.Fatalf("total %d: out-of-range segment has length", tt.total)
		}
	}
}

func TestSegmenterReadsOnlyTotal(t *testing.T) {
	data := patterned(5000)
	seg := NewSegmenter(bytes.NewReader(data), "mem", 2500)

	var got []byte
	for seq := uint64(1); seq <= seg.Count(); seq++ {
		payload, err := seg.Segment(seq)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, payload...)
	}
	if !bytes.Equal(got, data[:2500]) {
		t.Fatal("segments do not reassemble to the first 2500 bytes")
	}
}

func TestSegmenterShortSource(t *testing.T) {
	seg := NewSegmenter(bytes.NewReader(patterned(100)), "short.bin", 2*MSS)
	if _, err := seg.Segment(2); !IsFileError(err) {
		t.Fatalf("err = %v, want FileError", err)
	}
	if _, err := seg.Segment(3); err == nil {
		t.Fatal("out-of-range segment returned no error")
	}
}

func TestSegmenterChecksumMatchesWholeBuffer(t *testing.T) {
	data := patterned(4*MSS + 333)
	seg := NewSegmenter(bytes.NewReader(data), "mem", uint64(len(data)))
	sum, err := seg.Checksum()
	if err != nil {
		t.Fatal(err)
	}
	if want := FinishChecksum(ChainChecksum(0, data)); sum != want {
		t.Fatalf("checksum %#x, want %#x", sum, want)
	}
}
