package protocol

import "fmt"

// TypeMessage is the wire tag for application messages. Control codes use 1..255.
const TypeMessage uint8 = 0

type Kind int

const (
	KindMessage Kind = iota
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindControl:
		return "control"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Item is one unit produced by the application and yielded back by the decoder.
// For control items Payload holds the optional argument.
type Item struct {
	Kind    Kind
	Code    uint8
	Name    string
	Payload []byte
}

func NewMessage(payload []byte) Item {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return Item{Kind: KindMessage, Code: TypeMessage, Payload: buf}
}

func NewControl(code uint8, name string, arg []byte) Item {
	var buf []byte
	if len(arg) > 0 {
		buf = make([]byte, len(arg))
		copy(buf, arg)
	}
	return Item{Kind: KindControl, Code: code, Name: name, Payload: buf}
}

func (it Item) IsControl() bool { return it.Kind == KindControl }
func (it Item) IsMessage() bool { return it.Kind == KindMessage }

// WireType returns the TLV type byte for the item.
func (it Item) WireType() uint8 {
	if it.Kind == KindMessage {
		return TypeMessage
	}
	return it.Code
}

func (it Item) String() string {
	if it.Kind == KindControl {
		if len(it.Payload) > 0 {
			return fmt.Sprintf("Control(%s, %q)", it.Name, it.Payload)
		}
		return fmt.Sprintf("Control(%s)", it.Name)
	}
	return fmt.Sprintf("Message(%q)", it.Payload)
}

// IsControlCode reports whether item is a control code, optionally matching one of names.
func IsControlCode(item Item, names ...string) bool {
	if item.Kind != KindControl {
		return false
	}
	if len(names) == 0 {
		return true
	}
	for _, name := range names {
		if normalizeName(name) == item.Name {
			return true
		}
	}
	return false
}
