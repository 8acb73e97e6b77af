package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/sealwire/internal/protocol/keyx"
	"github.com/danmuck/sealwire/internal/transport"
	"github.com/danmuck/sealwire/internal/testutil/testlog"
)

func TestTemplatesParse(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"server", "client"} {
		dir := t.TempDir()
		path := filepath.Join(dir, kind+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s", path)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load %s template: %v", kind, err)
		}
		if cfg.Transport.Table.Len() != 3 {
			t.Fatalf("%s template control codes: %v", kind, cfg.Transport.Table.Names())
		}
	}
	if _, err := Template("relay"); err == nil {
		t.Fatalf("expected unknown template kind error")
	}
}

func TestParseOverlaysDefinedKeysOnly(t *testing.T) {
	testlog.Start(t)
	cfg, err := Parse(`
transport = "WebSocket"
backend = "x25519-chacha20poly1305"
max_chunk_bytes = 4096
freshness_window = "0s"
handshake_timeout = "750ms"
rate_limit = 10.5
auth_token = " s3cret "

[control_codes]
shutdown = 1
resize = 9
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tc := cfg.Transport
	if tc.Network != transport.NetworkWebSocket {
		t.Fatalf("network: %q", tc.Network)
	}
	if tc.Backend.Name() != keyx.BackendX25519 {
		t.Fatalf("backend: %s", tc.Backend.Name())
	}
	if tc.Session.MaxChunkBytes != 4096 || tc.Session.FreshnessWindow != 0 {
		t.Fatalf("session overlay: %+v", tc.Session)
	}
	if tc.HandshakeTimeout != 750*time.Millisecond || tc.RateLimit != 10.5 {
		t.Fatalf("transport overlay: handshake=%s rate=%v", tc.HandshakeTimeout, tc.RateLimit)
	}
	if tc.AuthToken != "s3cret" {
		t.Fatalf("auth token: %q", tc.AuthToken)
	}
	if id, err := tc.Table.CodeID("resize"); err != nil || id != 9 {
		t.Fatalf("resize code: id=%d err=%v", id, err)
	}
	def := Default()
	if cfg.Listen != def.Listen || tc.Session.ClockSkew != def.Transport.Session.ClockSkew {
		t.Fatalf("undefined keys must keep defaults")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":    `lisen = ":1"`,
		"bad duration":   `handshake_timeout = "soon"`,
		"bad backend":    `backend = "rot13"`,
		"bad network":    `transport = "udp"`,
		"tiny chunks":    `max_chunk_bytes = 8`,
		"code zero":      "[control_codes]\nshutdown = 0",
		"code overflow":  "[control_codes]\nshutdown = 256",
		"shared code id": "[control_codes]\nshutdown = 1\nstop = 1",
		"no endpoints":   "listen = \"\"\naddress = \"\"",
	}
	for name, doc := range cases {
		if _, err := Parse(doc); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPrivateKeyFileBindsKeyPair(t *testing.T) {
	testlog.Start(t)
	kp, err := keyx.GenerateKeyPair(keyx.Default())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pemBytes, err := keyx.ExportPrivateKeyPEM(kp)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	path := filepath.Join(t.TempDir(), "server.pem")
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	cfg, err := Parse(`private_key_file = "` + filepath.ToSlash(path) + `"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Transport.KeyPair == nil {
		t.Fatalf("expected key pair supplier")
	}
	first, err := cfg.Transport.KeyPair()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	second, _ := cfg.Transport.KeyPair()
	first.Destroy()
	if second.Destroyed() {
		t.Fatalf("each session must get its own key pair")
	}
	if string(keyx.ExportPublicKey(second)) != string(keyx.ExportPublicKey(kp)) {
		t.Fatalf("supplied key does not match file")
	}

	_, err = Parse("backend = \"x25519-chacha20poly1305\"\nprivate_key_file = \"" + filepath.ToSlash(path) + "\"")
	if err == nil || !strings.Contains(err.Error(), keyx.BackendRSA) {
		t.Fatalf("expected backend mismatch error, got %v", err)
	}
}
