package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReadWriteChunkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	chunks := [][]byte{[]byte("a"), bytes.Repeat([]byte{0xEE}, 1024), []byte("tail")}
	for _, c := range chunks {
		if err := WriteChunk(&buf, c, DefaultLimits()); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
	}
	for i, want := range chunks {
		got, err := ReadChunk(&buf, DefaultLimits())
		if err != nil {
			t.Fatalf("read chunk %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("chunk %d mismatch", i)
		}
	}
	if _, err := ReadChunk(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF at stream end, got %v", err)
	}
}

func TestReadChunkMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadChunk(bytes.NewReader([]byte{0, 0}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadChunkTruncatedBody(t *testing.T) {
	_, err := ReadChunk(bytes.NewReader([]byte{0, 0, 0, 5, 'a', 'b'}), DefaultLimits())
	if !errors.Is(err, ErrShortChunk) {
		t.Fatalf("expected ErrShortChunk, got %v", err)
	}
}

func TestReadChunkTooLarge(t *testing.T) {
	_, err := ReadChunk(bytes.NewReader([]byte{0, 0, 0, 9}), Limits{MaxChunkBytes: 8})
	if !errors.Is(err, ErrChunkTooLarge) {
		t.Fatalf("expected ErrChunkTooLarge, got %v", err)
	}
}

func TestWriteChunkRejectsEmptyAndOversized(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteChunk(&buf, nil, DefaultLimits()); !errors.Is(err, ErrEmptyChunk) {
		t.Fatalf("expected ErrEmptyChunk, got %v", err)
	}
	if err := WriteChunk(&buf, make([]byte, 9), Limits{MaxChunkBytes: 8}); !errors.Is(err, ErrChunkTooLarge) {
		t.Fatalf("expected ErrChunkTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected chunks must not be written")
	}
}
