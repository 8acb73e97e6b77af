package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/sealwire/internal/protocol"
)

func TestEncodeDecodeItemsRoundTrip(t *testing.T) {
	table := protocol.DefaultTable()
	shutdown, _ := table.CodeID(protocol.CodeShutdown)
	input, _ := table.CodeID(protocol.CodeInput)
	in := []protocol.Item{
		protocol.NewMessage([]byte("HELLO")),
		protocol.NewMessage(nil),
		protocol.NewMessage(bytes.Repeat([]byte{0xAB}, 300)), // two-byte varint length
		protocol.NewControl(shutdown, protocol.CodeShutdown, nil),
		protocol.NewControl(input, protocol.CodeInput, []byte("name? ")),
	}
	var buf []byte
	for _, item := range in {
		var err error
		buf, err = AppendItem(buf, item, DefaultLimits())
		if err != nil {
			t.Fatalf("append %v: %v", item, err)
		}
	}
	out, err := DecodeAll(buf, table, DefaultLimits())
	if err != nil {
		t.Fatalf("decode all: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d items, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].Kind != in[i].Kind || out[i].Code != in[i].Code || !bytes.Equal(out[i].Payload, in[i].Payload) {
			t.Fatalf("item %d mismatch: got=%v want=%v", i, out[i], in[i])
		}
	}
	if out[3].Name != protocol.CodeShutdown || out[4].Name != protocol.CodeInput {
		t.Fatalf("control names not resolved: %v %v", out[3], out[4])
	}
}

func TestEncodedLenMatchesEncoding(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 16383, 16384} {
		item := protocol.NewMessage(make([]byte, n))
		b, err := EncodeItem(item, DefaultLimits())
		if err != nil {
			t.Fatalf("encode n=%d: %v", n, err)
		}
		if len(b) != EncodedLen(item) {
			t.Fatalf("n=%d encoded=%d EncodedLen=%d", n, len(b), EncodedLen(item))
		}
	}
}

func TestDecodeOneNeedMoreDataAtEveryPrefix(t *testing.T) {
	table := protocol.DefaultTable()
	b, err := EncodeItem(protocol.NewMessage(bytes.Repeat([]byte("x"), 200)), DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for cut := 0; cut < len(b); cut++ {
		_, _, err := DecodeOne(b[:cut], 0, table, DefaultLimits())
		if !errors.Is(err, protocol.ErrNeedMoreData) {
			t.Fatalf("cut=%d expected ErrNeedMoreData, got %v", cut, err)
		}
	}
	item, n, err := DecodeOne(b, 0, table, DefaultLimits())
	if err != nil || n != len(b) || len(item.Payload) != 200 {
		t.Fatalf("full decode: item=%v n=%d err=%v", item, n, err)
	}
}

func TestDecodeOneHonorsOffset(t *testing.T) {
	table := protocol.DefaultTable()
	first, _ := EncodeItem(protocol.NewMessage([]byte("a")), DefaultLimits())
	second, _ := EncodeItem(protocol.NewMessage([]byte("bc")), DefaultLimits())
	buf := append(append([]byte{}, first...), second...)
	item, n, err := DecodeOne(buf, len(first), table, DefaultLimits())
	if err != nil {
		t.Fatalf("decode at offset: %v", err)
	}
	if string(item.Payload) != "bc" || n != len(second) {
		t.Fatalf("unexpected item=%v consumed=%d", item, n)
	}
}

func TestDecodeOneUnknownTypeIsMalformed(t *testing.T) {
	_, _, err := DecodeOne([]byte{0x7F, 0x00}, 0, protocol.DefaultTable(), DefaultLimits())
	if !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeOneNonMinimalLengthIsMalformed(t *testing.T) {
	// length 0 encoded as 0x80 0x00
	_, _, err := DecodeOne([]byte{protocol.TypeMessage, 0x80, 0x00}, 0, protocol.DefaultTable(), DefaultLimits())
	if !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeOneDeclaredLengthOverLimitIsMalformed(t *testing.T) {
	limits := Limits{MaxItemBytes: 16}
	// length 17, no payload yet: the limit check must not wait for the bytes
	_, _, err := DecodeOne([]byte{protocol.TypeMessage, 17}, 0, protocol.DefaultTable(), limits)
	if !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestEncodeItemTooLarge(t *testing.T) {
	_, err := EncodeItem(protocol.NewMessage(make([]byte, 17)), Limits{MaxItemBytes: 16})
	if !errors.Is(err, protocol.ErrItemTooLarge) {
		t.Fatalf("expected ErrItemTooLarge, got %v", err)
	}
}

func TestDecodeAllTruncatedIsMalformed(t *testing.T) {
	b, _ := EncodeItem(protocol.NewMessage([]byte("hello")), DefaultLimits())
	_, err := DecodeAll(b[:len(b)-1], protocol.DefaultTable(), DefaultLimits())
	if !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}
