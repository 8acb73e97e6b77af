package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/sealwire/internal/protocol"
	"github.com/danmuck/sealwire/internal/protocol/keyx"
	"github.com/danmuck/sealwire/internal/protocol/session"
)

type Network string

const (
	NetworkTCP       Network = "tcp"
	NetworkWebSocket Network = "websocket"
)

// DefaultWSPath is the HTTP path upgraded to a websocket session.
const DefaultWSPath = "/ws"

// defaultHandshakeBytes bounds chunks read before the session is keyed.
const defaultHandshakeBytes = 16 * 1024

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport reliability defaults and the session it carries.
type Config struct {
	Network            Network
	WSPath             string
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	HeartbeatInterval  time.Duration
	FlushInterval      time.Duration
	RateLimit          float64
	RateBurst          int
	MaxConnectAttempts int
	MaxHandshakeBytes  int
	Backoff            BackoffConfig
	TLS                TLSConfig

	// AuthToken is the bearer token sent by websocket clients and required
	// by websocket servers. Empty disables the check.
	AuthToken string

	Table   *protocol.Table
	Backend keyx.Backend
	Session session.Config

	// KeyPair, when set, supplies the inbound key pair for each session
	// instead of a freshly generated one.
	KeyPair func() (*keyx.KeyPair, error)
}

func DefaultConfig() Config {
	return Config{
		Network:           NetworkTCP,
		WSPath:            DefaultWSPath,
		ConnectTimeout:    5 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		MaxHandshakeBytes: defaultHandshakeBytes,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		Table:   protocol.DefaultTable(),
		Backend: keyx.Default(),
		Session: session.DefaultConfig(),
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(string(c.Network)) == "" {
		c.Network = def.Network
	}
	c.Network = Network(strings.ToLower(strings.TrimSpace(string(c.Network))))
	if strings.TrimSpace(c.WSPath) == "" {
		c.WSPath = def.WSPath
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.MaxHandshakeBytes <= 0 {
		c.MaxHandshakeBytes = def.MaxHandshakeBytes
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	if c.Table == nil {
		c.Table = def.Table
	}
	if c.Backend == nil {
		c.Backend = def.Backend
	}
	if c.Session.MaxChunkBytes == 0 {
		c.Session = def.Session
	}
	return c
}

func (c Config) Validate() error {
	switch c.Network {
	case NetworkTCP, NetworkWebSocket:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNetwork, c.Network)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("transport: negative rate limit")
	}
	if c.ReadTimeout > 0 && c.HeartbeatInterval >= c.ReadTimeout {
		return fmt.Errorf("transport: heartbeat interval %s must be below read timeout %s", c.HeartbeatInterval, c.ReadTimeout)
	}
	return c.Session.Validate()
}

// readLimit is the largest chunk accepted from the wire.
func (c Config) readLimit() int {
	return max(c.Session.MaxChunkBytes, c.MaxHandshakeBytes)
}
