// Package frame delimits transport chunks on a byte stream.
//
// Wire format per chunk: [length:4 big-endian][chunk bytes].
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const HeaderLen = 4

var (
	ErrShortHeader   = errors.New("frame: short chunk header")
	ErrShortChunk    = errors.New("frame: short chunk body")
	ErrEmptyChunk    = errors.New("frame: empty chunk")
	ErrChunkTooLarge = errors.New("frame: chunk too large")
)

// Limits constrains chunk decode/encode memory use.
type Limits struct {
	MaxChunkBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxChunkBytes: 64 * 1024,
	}
}

// ReadChunk reads one length-prefixed chunk. A clean EOF before any header
// byte is returned as io.EOF.
func ReadChunk(r io.Reader, limits Limits) ([]byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, ErrEmptyChunk
	}
	if limits.MaxChunkBytes > 0 && n > limits.MaxChunkBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, n, limits.MaxChunkBytes)
	}
	chunk := make([]byte, n)
	if _, err := io.ReadFull(r, chunk); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrShortChunk
		}
		return nil, err
	}
	return chunk, nil
}

// WriteChunk writes chunk with its length header in a single Write call.
func WriteChunk(w io.Writer, chunk []byte, limits Limits) error {
	buf, err := EncodeChunk(chunk, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func EncodeChunk(chunk []byte, limits Limits) ([]byte, error) {
	if len(chunk) == 0 {
		return nil, ErrEmptyChunk
	}
	if uint64(len(chunk)) > uint64(^uint32(0)) ||
		(limits.MaxChunkBytes > 0 && uint32(len(chunk)) > limits.MaxChunkBytes) {
		return nil, fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, len(chunk), limits.MaxChunkBytes)
	}
	buf := make([]byte, HeaderLen+len(chunk))
	binary.BigEndian.PutUint32(buf[:HeaderLen], uint32(len(chunk)))
	copy(buf[HeaderLen:], chunk)
	return buf, nil
}
