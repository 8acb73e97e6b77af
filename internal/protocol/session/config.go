package session

import (
	"fmt"
	"time"

	"github.com/danmuck/sealwire/internal/protocol/tlv"
)

const minChunkBytes = 64

// Config defines chunking, limits and freshness defaults.
type Config struct {
	MaxChunkBytes   int
	Limits          tlv.Limits
	FreshnessWindow time.Duration
	ClockSkew       time.Duration
	Now             func() time.Time
}

// DefaultConfig returns the defaults both peers assume when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxChunkBytes:   1024,
		Limits:          tlv.DefaultLimits(),
		FreshnessWindow: 5 * time.Minute,
		ClockSkew:       2 * time.Second,
		Now:             time.Now,
	}
}

func (c Config) Validate() error {
	if c.MaxChunkBytes < minChunkBytes {
		return fmt.Errorf("session: max chunk bytes %d below minimum %d", c.MaxChunkBytes, minChunkBytes)
	}
	if c.FreshnessWindow < 0 || c.ClockSkew < 0 {
		return fmt.Errorf("session: negative freshness window or clock skew")
	}
	return nil
}

func (c Config) normalized() Config {
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
