package session

import (
	"crypto/cipher"
	"encoding/binary"
	"time"
)

const timestampLen = 8

// chunkOverhead is the sealed size of an empty segment.
func chunkOverhead(aead cipher.AEAD) int {
	return timestampLen + aead.Overhead()
}

func nonceFor(aead cipher.AEAD, seq uint64) []byte {
	nonce := make([]byte, aead.NonceSize())
	binary.BigEndian.PutUint64(nonce[len(nonce)-8:], seq)
	return nonce
}

func aadFor(seq uint64) []byte {
	var aad [8]byte
	binary.BigEndian.PutUint64(aad[:], seq)
	return aad[:]
}

func sealChunk(aead cipher.AEAD, seq uint64, issued time.Time, segment []byte) []byte {
	plain := make([]byte, timestampLen+len(segment))
	binary.BigEndian.PutUint64(plain[:timestampLen], uint64(issued.UnixMilli()))
	copy(plain[timestampLen:], segment)
	return aead.Seal(nil, nonceFor(aead, seq), plain, aadFor(seq))
}

func openChunk(aead cipher.AEAD, seq uint64, chunk []byte) (time.Time, []byte, error) {
	plain, err := aead.Open(nil, nonceFor(aead, seq), chunk, aadFor(seq))
	if err != nil {
		return time.Time{}, nil, err
	}
	issued := time.UnixMilli(int64(binary.BigEndian.Uint64(plain[:timestampLen])))
	return issued, plain[timestampLen:], nil
}
