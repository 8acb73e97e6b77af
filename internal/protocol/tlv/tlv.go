// Package tlv encodes one protocol item as [type:1][length:uvarint][payload].
package tlv

import (
	"errors"
	"fmt"

	"github.com/danmuck/sealwire/internal/protocol"
	"github.com/multiformats/go-varint"
)

// MaxHeaderLen is the largest possible type + length prefix.
const MaxHeaderLen = 1 + varint.MaxLenUvarint63

// Limits constrains item encode/decode memory use.
type Limits struct {
	MaxItemBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxItemBytes: 1024 * 1024,
	}
}

// EncodeItem produces the TLV triplet for item.
func EncodeItem(item protocol.Item, limits Limits) ([]byte, error) {
	return AppendItem(make([]byte, 0, EncodedLen(item)), item, limits)
}

// AppendItem appends the TLV triplet for item to dst.
func AppendItem(dst []byte, item protocol.Item, limits Limits) ([]byte, error) {
	if err := CheckSize(len(item.Payload), limits); err != nil {
		return dst, err
	}
	if item.Kind == protocol.KindControl && item.Code == protocol.TypeMessage {
		return dst, fmt.Errorf("%w: control item without code id", protocol.ErrUnknownControlCode)
	}
	dst = append(dst, item.WireType())
	dst = append(dst, varint.ToUvarint(uint64(len(item.Payload)))...)
	dst = append(dst, item.Payload...)
	return dst, nil
}

// EncodedLen is the number of bytes EncodeItem produces for item.
func EncodedLen(item protocol.Item) int {
	return 1 + varint.UvarintSize(uint64(len(item.Payload))) + len(item.Payload)
}

// CheckSize rejects payloads over limits.MaxItemBytes.
func CheckSize(n int, limits Limits) error {
	if limits.MaxItemBytes > 0 && uint64(n) > limits.MaxItemBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", protocol.ErrItemTooLarge, n, limits.MaxItemBytes)
	}
	return nil
}

// DecodeOne parses exactly one triplet starting at buf[offset:].
//
// It returns protocol.ErrNeedMoreData when the buffer ends inside the triplet
// and protocol.ErrMalformedFrame when the bytes can never form a valid one.
// Control items are resolved against table; unknown ids are malformed.
func DecodeOne(buf []byte, offset int, table *protocol.Table, limits Limits) (protocol.Item, int, error) {
	if offset < 0 || offset > len(buf) {
		return protocol.Item{}, 0, fmt.Errorf("tlv: offset %d out of range", offset)
	}
	b := buf[offset:]
	if len(b) == 0 {
		return protocol.Item{}, 0, protocol.ErrNeedMoreData
	}

	typeID := b[0]
	var name string
	if typeID != protocol.TypeMessage {
		n, err := table.Name(typeID)
		if err != nil {
			return protocol.Item{}, 0, fmt.Errorf("%w: unknown type id %d", protocol.ErrMalformedFrame, typeID)
		}
		name = n
	}

	length, n, err := varint.FromUvarint(b[1:])
	switch {
	case errors.Is(err, varint.ErrUnderflow):
		return protocol.Item{}, 0, protocol.ErrNeedMoreData
	case err != nil:
		return protocol.Item{}, 0, fmt.Errorf("%w: length: %v", protocol.ErrMalformedFrame, err)
	}
	if limits.MaxItemBytes > 0 && length > limits.MaxItemBytes {
		return protocol.Item{}, 0, fmt.Errorf("%w: declared length %d exceeds %d", protocol.ErrMalformedFrame, length, limits.MaxItemBytes)
	}

	header := 1 + n
	if uint64(len(b)-header) < length {
		return protocol.Item{}, 0, protocol.ErrNeedMoreData
	}
	end := header + int(length)
	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		copy(payload, b[header:end])
	}

	if typeID == protocol.TypeMessage {
		if payload == nil {
			payload = []byte{}
		}
		return protocol.Item{Kind: protocol.KindMessage, Payload: payload}, end, nil
	}
	return protocol.Item{Kind: protocol.KindControl, Code: typeID, Name: name, Payload: payload}, end, nil
}

// DecodeAll parses a buffer that must hold only complete triplets.
func DecodeAll(buf []byte, table *protocol.Table, limits Limits) ([]protocol.Item, error) {
	items := make([]protocol.Item, 0)
	for offset := 0; offset < len(buf); {
		item, n, err := DecodeOne(buf, offset, table, limits)
		if err != nil {
			if errors.Is(err, protocol.ErrNeedMoreData) {
				return nil, fmt.Errorf("%w: truncated triplet at offset %d", protocol.ErrMalformedFrame, offset)
			}
			return nil, err
		}
		items = append(items, item)
		offset += n
	}
	return items, nil
}
