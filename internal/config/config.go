package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/sealwire/internal/protocol"
	"github.com/danmuck/sealwire/internal/protocol/keyx"
	"github.com/danmuck/sealwire/internal/transport"
)

// Config is the resolved runtime configuration for a sealwire endpoint.
type Config struct {
	Listen         string
	Address        string
	MetricsListen  string
	PrivateKeyFile string
	Transport      transport.Config
}

type fileConfig struct {
	Listen            string           `toml:"listen"`
	Address           string           `toml:"address"`
	Transport         string           `toml:"transport"`
	WSPath            string           `toml:"ws_path"`
	Backend           string           `toml:"backend"`
	PrivateKeyFile    string           `toml:"private_key_file"`
	MaxChunkBytes     int              `toml:"max_chunk_bytes"`
	MaxItemBytes      int64            `toml:"max_item_bytes"`
	HandshakeTimeout  string           `toml:"handshake_timeout"`
	ConnectTimeout    string           `toml:"connect_timeout"`
	ReadTimeout       string           `toml:"read_timeout"`
	WriteTimeout      string           `toml:"write_timeout"`
	HeartbeatInterval string           `toml:"heartbeat_interval"`
	FlushInterval     string           `toml:"flush_interval"`
	FreshnessWindow   string           `toml:"freshness_window"`
	ClockSkew         string           `toml:"clock_skew"`
	RateLimit         float64          `toml:"rate_limit"`
	RateBurst         int              `toml:"rate_burst"`
	MetricsListen     string           `toml:"metrics_listen"`
	DialMaxAttempts   int              `toml:"dial_max_attempts"`
	AuthToken         string           `toml:"auth_token"`
	ControlCodes      map[string]int64 `toml:"control_codes"`
	TLS               tlsFileConfig    `toml:"tls"`
}

type tlsFileConfig struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

func Default() Config {
	return Config{
		Listen:    ":7420",
		Address:   "127.0.0.1:7420",
		Transport: transport.DefaultConfig(),
	}
}

// Load reads a TOML file and overlays every defined key onto Default.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := apply(raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for in-memory TOML.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	return apply(raw, meta)
}

func apply(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	cfg := Default()
	t := &cfg.Transport

	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("metrics_listen") {
		cfg.MetricsListen = strings.TrimSpace(raw.MetricsListen)
	}
	if meta.IsDefined("transport") {
		t.Network = transport.Network(strings.ToLower(strings.TrimSpace(raw.Transport)))
	}
	if meta.IsDefined("ws_path") {
		t.WSPath = strings.TrimSpace(raw.WSPath)
	}
	if meta.IsDefined("backend") {
		backend, err := keyx.Lookup(raw.Backend)
		if err != nil {
			return Config{}, err
		}
		t.Backend = backend
	}
	if meta.IsDefined("max_chunk_bytes") {
		t.Session.MaxChunkBytes = raw.MaxChunkBytes
	}
	if meta.IsDefined("max_item_bytes") {
		if raw.MaxItemBytes < 0 {
			return Config{}, fmt.Errorf("max_item_bytes must not be negative")
		}
		t.Session.Limits.MaxItemBytes = uint64(raw.MaxItemBytes)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"handshake_timeout", raw.HandshakeTimeout, &t.HandshakeTimeout},
		{"connect_timeout", raw.ConnectTimeout, &t.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, &t.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &t.WriteTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &t.HeartbeatInterval},
		{"flush_interval", raw.FlushInterval, &t.FlushInterval},
		{"freshness_window", raw.FreshnessWindow, &t.Session.FreshnessWindow},
		{"clock_skew", raw.ClockSkew, &t.Session.ClockSkew},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("rate_limit") {
		t.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		t.RateBurst = raw.RateBurst
	}
	if meta.IsDefined("dial_max_attempts") {
		t.MaxConnectAttempts = raw.DialMaxAttempts
	}
	if meta.IsDefined("auth_token") {
		t.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("control_codes") {
		table, err := tableFrom(raw.ControlCodes)
		if err != nil {
			return Config{}, err
		}
		t.Table = table
	}
	if meta.IsDefined("tls") {
		t.TLS = transport.TLSConfig{
			Enabled:            raw.TLS.Enabled,
			Mutual:             raw.TLS.Mutual,
			CertFile:           strings.TrimSpace(raw.TLS.CertFile),
			KeyFile:            strings.TrimSpace(raw.TLS.KeyFile),
			CAFile:             strings.TrimSpace(raw.TLS.CAFile),
			ServerName:         strings.TrimSpace(raw.TLS.ServerName),
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
		}
	}
	if meta.IsDefined("private_key_file") {
		cfg.PrivateKeyFile = strings.TrimSpace(raw.PrivateKeyFile)
		if err := cfg.bindPrivateKey(); err != nil {
			return Config{}, err
		}
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func tableFrom(codes map[string]int64) (*protocol.Table, error) {
	mapped := make(map[string]uint8, len(codes))
	for name, id := range codes {
		if id < 1 || id > 255 {
			return nil, fmt.Errorf("control code %q: id %d outside 1..255", name, id)
		}
		mapped[name] = uint8(id)
	}
	return protocol.NewTable(mapped)
}

// bindPrivateKey reads the PEM once and imports a fresh key pair per session,
// since each decoder destroys its key pair on close.
func (c *Config) bindPrivateKey() error {
	if c.PrivateKeyFile == "" {
		c.Transport.KeyPair = nil
		return nil
	}
	if c.Transport.Backend != nil && c.Transport.Backend.Name() != keyx.BackendRSA {
		return fmt.Errorf("private_key_file requires backend %q", keyx.BackendRSA)
	}
	data, err := os.ReadFile(c.PrivateKeyFile)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	if _, err := keyx.ImportPrivateKeyPEM(data); err != nil {
		return err
	}
	c.Transport.KeyPair = func() (*keyx.KeyPair, error) {
		return keyx.ImportPrivateKeyPEM(data)
	}
	return nil
}

func Validate(cfg Config) error {
	t := cfg.Transport.WithDefaults()
	if err := t.Validate(); err != nil {
		return err
	}
	if t.MaxConnectAttempts < 0 {
		return fmt.Errorf("dial_max_attempts must not be negative")
	}
	if strings.TrimSpace(cfg.Listen) == "" && strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("config needs listen or address")
	}
	return nil
}
