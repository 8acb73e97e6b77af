package session

import (
	"github.com/danmuck/sealwire/internal/protocol"
	"github.com/danmuck/sealwire/internal/protocol/keyx"
)

// Session is one direction pair over a connection: the Encoder keys itself
// from the peer's public key, the Decoder from the peer's sealed blob.
type Session struct {
	Table   *protocol.Table
	Backend keyx.Backend
	Config  Config
	Encoder *Encoder
	Decoder *Decoder
}

// NewSession builds an encoder and a decoder sharing one table and config.
// Pass a nil table for DefaultTable and a nil backend for keyx.Default.
func NewSession(table *protocol.Table, backend keyx.Backend, cfg Config) (*Session, error) {
	if table == nil {
		table = protocol.DefaultTable()
	}
	if backend == nil {
		backend = keyx.Default()
	}
	kp, err := keyx.GenerateKeyPair(backend)
	if err != nil {
		return nil, err
	}
	return NewSessionWithKeyPair(table, backend, kp, cfg)
}

// NewSessionWithKeyPair is NewSession with a caller-supplied inbound key pair.
func NewSessionWithKeyPair(table *protocol.Table, backend keyx.Backend, kp *keyx.KeyPair, cfg Config) (*Session, error) {
	if table == nil {
		table = protocol.DefaultTable()
	}
	if backend == nil {
		backend = keyx.Default()
	}
	enc, err := NewEncoder(table, backend, cfg)
	if err != nil {
		return nil, err
	}
	dec, err := NewDecoderWithKeyPair(table, backend, kp, cfg)
	if err != nil {
		return nil, err
	}
	return &Session{Table: table, Backend: backend, Config: cfg, Encoder: enc, Decoder: dec}, nil
}

// Ready reports whether both directions are keyed.
func (s *Session) Ready() bool {
	return s.Encoder.HandshakeComplete() && s.Decoder.State() == StateActive
}

func (s *Session) Close() {
	s.Decoder.Close()
}
