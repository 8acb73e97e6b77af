package session

import (
	"crypto/cipher"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/sealwire/internal/protocol"
	"github.com/danmuck/sealwire/internal/protocol/keyx"
	"github.com/danmuck/sealwire/internal/protocol/tlv"
)

type sealer struct {
	aead cipher.AEAD
}

// Encoder queues outbound items and seals them into ordered chunks.
// Add* calls may race with Flush; a flush takes a snapshot of pending items
// and later additions land in the next flush.
type Encoder struct {
	table   *protocol.Table
	backend keyx.Backend
	cfg     Config

	mu      sync.Mutex
	pending []protocol.Item

	flushMu sync.Mutex
	seq     uint64
	cipher  atomic.Pointer[sealer]
}

func NewEncoder(table *protocol.Table, backend keyx.Backend, cfg Config) (*Encoder, error) {
	if table == nil {
		return nil, fmt.Errorf("session: nil control code table")
	}
	if backend == nil {
		backend = keyx.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Encoder{table: table, backend: backend, cfg: cfg.normalized()}, nil
}

// Handshake seals a fresh session key to the peer's public key and returns
// the sealed blob. It must be transmitted before any chunk from Flush.
func (e *Encoder) Handshake(peerPublic []byte) ([]byte, error) {
	if e.cipher.Load() != nil {
		return nil, fmt.Errorf("%w: encoder already keyed", protocol.ErrHandshake)
	}
	pub, err := keyx.ImportPublicKey(e.backend, peerPublic)
	if err != nil {
		return nil, err
	}
	sealed, key, err := keyx.SealSessionKey(e.backend, pub)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()
	aead, err := e.backend.NewAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrHandshake, err)
	}
	if !e.cipher.CompareAndSwap(nil, &sealer{aead: aead}) {
		return nil, fmt.Errorf("%w: encoder already keyed", protocol.ErrHandshake)
	}
	return sealed, nil
}

func (e *Encoder) HandshakeComplete() bool { return e.cipher.Load() != nil }

func (e *Encoder) AddMessage(payload []byte) error {
	if err := tlv.CheckSize(len(payload), e.cfg.Limits); err != nil {
		return err
	}
	e.enqueue(protocol.NewMessage(payload))
	return nil
}

func (e *Encoder) AddControlCode(name string) error {
	return e.AddControlCodeArg(name, nil)
}

// AddControlCodeArg queues a control code carrying an argument payload.
func (e *Encoder) AddControlCodeArg(name string, arg []byte) error {
	id, err := e.table.CodeID(name)
	if err != nil {
		return err
	}
	if err := tlv.CheckSize(len(arg), e.cfg.Limits); err != nil {
		return err
	}
	canonical, _ := e.table.Name(id)
	e.enqueue(protocol.NewControl(id, canonical, arg))
	return nil
}

func (e *Encoder) enqueue(item protocol.Item) {
	e.mu.Lock()
	e.pending = append(e.pending, item)
	e.mu.Unlock()
}

// Pending returns the number of items waiting for the next flush.
func (e *Encoder) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Flush seals all pending items into chunks, each at most MaxChunkBytes.
// Messages precede control codes; relative order within each group is kept.
// An empty queue yields no chunks. Before the handshake nothing is consumed.
func (e *Encoder) Flush() ([][]byte, error) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	s := e.cipher.Load()
	if s == nil {
		return nil, protocol.ErrHandshakeNotComplete
	}

	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()
	if len(batch) == 0 {
		return nil, nil
	}

	plain, err := e.serialize(orderBatch(batch))
	if err != nil {
		e.mu.Lock()
		e.pending = append(batch, e.pending...)
		e.mu.Unlock()
		return nil, err
	}

	segment := e.cfg.MaxChunkBytes - chunkOverhead(s.aead)
	issued := e.cfg.Now()
	chunks := make([][]byte, 0, (len(plain)+segment-1)/segment)
	for off := 0; off < len(plain); off += segment {
		end := min(off+segment, len(plain))
		chunks = append(chunks, sealChunk(s.aead, e.seq, issued, plain[off:end]))
		e.seq++
	}
	return chunks, nil
}

func (e *Encoder) serialize(items []protocol.Item) ([]byte, error) {
	size := 0
	for _, it := range items {
		size += tlv.EncodedLen(it)
	}
	buf := make([]byte, 0, size)
	for _, it := range items {
		var err error
		buf, err = tlv.AppendItem(buf, it, e.cfg.Limits)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// orderBatch is a stable partition: messages first, then control codes.
func orderBatch(batch []protocol.Item) []protocol.Item {
	out := make([]protocol.Item, 0, len(batch))
	for _, it := range batch {
		if it.IsMessage() {
			out = append(out, it)
		}
	}
	for _, it := range batch {
		if it.IsControl() {
			out = append(out, it)
		}
	}
	return out
}
