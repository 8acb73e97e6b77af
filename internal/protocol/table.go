package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	CodeShutdown = "shutdown"
	CodePing     = "ping"
	CodeInput    = "input"
)

// Table maps control-code names to wire ids. It is immutable once built and
// safe for concurrent use. Both peers must hold an identical table.
type Table struct {
	byName map[string]uint8
	byID   [256]string
}

// DefaultTable returns the stock table used when no codes are configured.
func DefaultTable() *Table {
	t, _ := NewTable(map[string]uint8{
		CodeShutdown: 1,
		CodePing:     2,
		CodeInput:    3,
	})
	return t
}

// NewTable builds a table from explicit name -> id assignments.
func NewTable(codes map[string]uint8) (*Table, error) {
	t := &Table{byName: make(map[string]uint8, len(codes))}
	for raw, id := range codes {
		name := normalizeName(raw)
		if name == "" {
			return nil, fmt.Errorf("protocol: empty control code name")
		}
		if id == TypeMessage {
			return nil, fmt.Errorf("protocol: control code %q uses reserved id 0", name)
		}
		if _, ok := t.byName[name]; ok {
			return nil, fmt.Errorf("protocol: duplicate control code %q", name)
		}
		if prev := t.byID[id]; prev != "" {
			return nil, fmt.Errorf("protocol: control codes %q and %q share id %d", prev, name, id)
		}
		t.byName[name] = id
		t.byID[id] = name
	}
	return t, nil
}

// TableBuilder assigns sequential ids at construction time.
type TableBuilder struct {
	codes map[string]uint8
	next  int
	err   error
}

func NewTableBuilder() *TableBuilder {
	return &TableBuilder{codes: make(map[string]uint8), next: 1}
}

// Register assigns the next free id to name and returns it.
func (b *TableBuilder) Register(name string) (uint8, error) {
	if b.err != nil {
		return 0, b.err
	}
	key := normalizeName(name)
	if key == "" {
		b.err = fmt.Errorf("protocol: empty control code name")
		return 0, b.err
	}
	if id, ok := b.codes[key]; ok {
		return id, nil
	}
	if b.next > 255 {
		b.err = fmt.Errorf("protocol: control code table full")
		return 0, b.err
	}
	id := uint8(b.next)
	b.codes[key] = id
	b.next++
	return id, nil
}

func (b *TableBuilder) Build() (*Table, error) {
	if b.err != nil {
		return nil, b.err
	}
	return NewTable(b.codes)
}

// CodeID resolves name to its wire id.
func (t *Table) CodeID(name string) (uint8, error) {
	id, ok := t.byName[normalizeName(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownControlCode, name)
	}
	return id, nil
}

// Name resolves a wire id to its control-code name.
func (t *Table) Name(id uint8) (string, error) {
	if id == TypeMessage || t.byID[id] == "" {
		return "", fmt.Errorf("%w: id %d", ErrUnknownControlCode, id)
	}
	return t.byID[id], nil
}

func (t *Table) Has(id uint8) bool {
	return id != TypeMessage && t.byID[id] != ""
}

func (t *Table) Len() int { return len(t.byName) }

func (t *Table) Names() []string {
	out := make([]string, 0, len(t.byName))
	for name := range t.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Codes returns a copy of the name -> id mapping.
func (t *Table) Codes() map[string]uint8 {
	out := make(map[string]uint8, len(t.byName))
	for name, id := range t.byName {
		out[name] = id
	}
	return out
}

// Fingerprint is a stable digest of the table for diagnostics.
func (t *Table) Fingerprint() string {
	h := sha256.New()
	for _, name := range t.Names() {
		fmt.Fprintf(h, "%s=%d;", name, t.byName[name])
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.byID == other.byID
}

func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.byName)
}

func (t *Table) UnmarshalJSON(data []byte) error {
	var codes map[string]uint8
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	built, err := NewTable(codes)
	if err != nil {
		return err
	}
	*t = *built
	return nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
