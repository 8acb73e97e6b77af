package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDefaultTableLookups(t *testing.T) {
	table := DefaultTable()
	id, err := table.CodeID("Shutdown ")
	if err != nil {
		t.Fatalf("lookup shutdown: %v", err)
	}
	if id != 1 {
		t.Fatalf("unexpected shutdown id=%d", id)
	}
	name, err := table.Name(2)
	if err != nil || name != CodePing {
		t.Fatalf("unexpected name=%q err=%v", name, err)
	}
	if _, err := table.CodeID("reboot"); !errors.Is(err, ErrUnknownControlCode) {
		t.Fatalf("expected ErrUnknownControlCode, got %v", err)
	}
	if _, err := table.Name(0); !errors.Is(err, ErrUnknownControlCode) {
		t.Fatalf("id 0 must not resolve, got %v", err)
	}
	if _, err := table.Name(200); !errors.Is(err, ErrUnknownControlCode) {
		t.Fatalf("expected ErrUnknownControlCode, got %v", err)
	}
}

func TestNewTableRejectsInvalidAssignments(t *testing.T) {
	cases := map[string]map[string]uint8{
		"reserved id": {"shutdown": 0},
		"shared id":   {"shutdown": 1, "ping": 1},
		"empty name":  {" ": 4},
		"dup by case": {"Ping": 2, "ping": 3},
	}
	for name, codes := range cases {
		if _, err := NewTable(codes); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestTableBuilderAssignsSequentialIDs(t *testing.T) {
	b := NewTableBuilder()
	for i, name := range []string{"shutdown", "ping", "input"} {
		id, err := b.Register(name)
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
		if int(id) != i+1 {
			t.Fatalf("register %s got id=%d", name, id)
		}
	}
	if id, _ := b.Register("PING"); id != 2 {
		t.Fatalf("re-register returned id=%d", id)
	}
	table, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !table.Equal(DefaultTable()) {
		t.Fatalf("built table differs from default: %v", table.Codes())
	}
	if table.Fingerprint() != DefaultTable().Fingerprint() {
		t.Fatalf("fingerprint mismatch")
	}
}

func TestTableJSONRoundTrip(t *testing.T) {
	in := DefaultTable()
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Table
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Equal(in) {
		t.Fatalf("round trip mismatch: %s", string(b))
	}
}

func TestIsControlCode(t *testing.T) {
	msg := NewMessage([]byte("hi"))
	ctl := NewControl(1, CodeShutdown, nil)
	if IsControlCode(msg) {
		t.Fatalf("message reported as control")
	}
	if !IsControlCode(ctl) || !IsControlCode(ctl, "SHUTDOWN") {
		t.Fatalf("control not recognized")
	}
	if IsControlCode(ctl, CodePing) {
		t.Fatalf("control matched wrong name")
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(ErrNeedMoreData) || IsFatal(ErrItemTooLarge) || IsFatal(nil) {
		t.Fatalf("recoverable error reported fatal")
	}
	if !IsFatal(ErrIntegrity) || !IsFatal(ErrMalformedFrame) || !IsFatal(ErrHandshake) {
		t.Fatalf("fatal error reported recoverable")
	}
}
