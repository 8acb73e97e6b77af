package session

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/sealwire/internal/protocol"
	"github.com/danmuck/sealwire/internal/protocol/keyx"
	"github.com/danmuck/sealwire/internal/protocol/tlv"
)

type State int

const (
	StateAwaitingHandshake State = iota
	StateActive
	StateFaulted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateActive:
		return "active"
	case StateFaulted:
		return "faulted"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decoder opens inbound chunks and reassembles items that span them.
// Any integrity or framing failure moves it to StateFaulted permanently.
type Decoder struct {
	table   *protocol.Table
	backend keyx.Backend
	cfg     Config

	mu    sync.Mutex
	state State
	fault error
	keys  *keyx.KeyPair
	aead  cipher.AEAD
	seq   uint64
	buf   []byte
	done  []protocol.Item
}

// NewDecoder generates a fresh key pair for the backend.
func NewDecoder(table *protocol.Table, backend keyx.Backend, cfg Config) (*Decoder, error) {
	if backend == nil {
		backend = keyx.Default()
	}
	kp, err := keyx.GenerateKeyPair(backend)
	if err != nil {
		return nil, err
	}
	return NewDecoderWithKeyPair(table, backend, kp, cfg)
}

// NewDecoderWithKeyPair uses a caller-supplied key pair. The decoder owns kp
// from here on and destroys it on Close.
func NewDecoderWithKeyPair(table *protocol.Table, backend keyx.Backend, kp *keyx.KeyPair, cfg Config) (*Decoder, error) {
	if table == nil {
		return nil, fmt.Errorf("session: nil control code table")
	}
	if backend == nil {
		backend = keyx.Default()
	}
	if kp == nil || kp.Destroyed() {
		return nil, fmt.Errorf("%w: key pair unavailable", protocol.ErrInvalidKey)
	}
	if kp.Backend() != backend.Name() {
		return nil, fmt.Errorf("%w: key pair for %s, backend %s", protocol.ErrInvalidKey, kp.Backend(), backend.Name())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{table: table, backend: backend, cfg: cfg.normalized(), keys: kp}, nil
}

// PublicKey returns the exported public key to publish to the peer.
func (d *Decoder) PublicKey() []byte {
	return keyx.ExportPublicKey(d.keys)
}

// OpenHandshake recovers the session key from the peer's sealed blob.
// A failed attempt faults the decoder.
func (d *Decoder) OpenHandshake(sealed []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(); err != nil {
		return err
	}
	if d.state != StateAwaitingHandshake {
		return fmt.Errorf("%w: decoder already keyed", protocol.ErrHandshake)
	}
	key, err := keyx.OpenSessionKey(d.backend, d.keys, sealed)
	if err != nil {
		return d.faultLocked(err)
	}
	defer key.Wipe()
	aead, err := d.backend.NewAEAD(key)
	if err != nil {
		return d.faultLocked(fmt.Errorf("%w: %v", protocol.ErrHandshake, err))
	}
	d.aead = aead
	d.state = StateActive
	return nil
}

// AddChunk authenticates one chunk and moves every item it completes to the
// completed queue. A partial trailing item stays buffered.
func (d *Decoder) AddChunk(chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.usableLocked(); err != nil {
		return err
	}
	if d.state == StateAwaitingHandshake {
		return protocol.ErrHandshakeNotComplete
	}
	if len(chunk) < chunkOverhead(d.aead) {
		return d.faultLocked(fmt.Errorf("%w: chunk %d is %d bytes", protocol.ErrIntegrity, d.seq, len(chunk)))
	}
	issued, segment, err := openChunk(d.aead, d.seq, chunk)
	if err != nil {
		return d.faultLocked(fmt.Errorf("%w: chunk %d: %v", protocol.ErrIntegrity, d.seq, err))
	}
	if err := d.checkFreshness(issued.UnixMilli()); err != nil {
		return d.faultLocked(err)
	}
	d.seq++
	d.buf = append(d.buf, segment...)

	offset := 0
	for offset < len(d.buf) {
		item, n, err := tlv.DecodeOne(d.buf, offset, d.table, d.cfg.Limits)
		if errors.Is(err, protocol.ErrNeedMoreData) {
			break
		}
		if err != nil {
			return d.faultLocked(err)
		}
		d.done = append(d.done, item)
		offset += n
	}
	rest := copy(d.buf, d.buf[offset:])
	d.buf = d.buf[:rest]
	return nil
}

func (d *Decoder) checkFreshness(issuedMs int64) error {
	if d.cfg.FreshnessWindow <= 0 {
		return nil
	}
	nowMs := d.cfg.Now().UnixMilli()
	age := nowMs - issuedMs
	if age > d.cfg.FreshnessWindow.Milliseconds() {
		return fmt.Errorf("%w: chunk %d issued %dms ago", protocol.ErrIntegrity, d.seq, age)
	}
	if -age > d.cfg.ClockSkew.Milliseconds() {
		return fmt.Errorf("%w: chunk %d issued %dms in the future", protocol.ErrIntegrity, d.seq, -age)
	}
	return nil
}

// GetComplete drains every fully reassembled item in arrival order.
func (d *Decoder) GetComplete() []protocol.Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.done
	d.done = nil
	return out
}

// GetAll drains completed items and returns a copy of the bytes of any
// partial trailing item. The tail stays buffered so later chunks can still
// complete it; call Close to discard it.
func (d *Decoder) GetAll() ([]protocol.Item, []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	items := d.done
	d.done = nil
	var tail []byte
	if len(d.buf) > 0 {
		tail = append([]byte(nil), d.buf...)
	}
	return items, tail
}

func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the error that faulted the decoder, if any.
func (d *Decoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fault
}

// Buffered returns the size of the partial item awaiting more chunks.
func (d *Decoder) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buf)
}

// Close destroys the key pair and discards buffered state. Completed items
// not yet drained are dropped.
func (d *Decoder) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = nil
	d.closeLocked()
}

func (d *Decoder) closeLocked() {
	d.keys.Destroy()
	d.aead = nil
	d.buf = nil
	if d.state != StateFaulted {
		d.state = StateClosed
	}
}

func (d *Decoder) usableLocked() error {
	switch d.state {
	case StateFaulted:
		return fmt.Errorf("%w: %v", protocol.ErrSessionFaulted, d.fault)
	case StateClosed:
		return protocol.ErrSessionClosed
	}
	return nil
}

func (d *Decoder) faultLocked(err error) error {
	d.state = StateFaulted
	d.fault = err
	d.buf = nil
	return err
}
