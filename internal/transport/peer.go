package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/danmuck/sealwire/internal/observability"
	"github.com/danmuck/sealwire/internal/protocol"
	"github.com/danmuck/sealwire/internal/protocol/session"
)

const (
	controlShutdown = "shutdown"
	controlPing     = "ping"
)

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// ItemHandler receives every decoded item in arrival order. Returning an
// error ends Peer.Run with that error.
type ItemHandler func(item protocol.Item) error

// Peer owns one keyed session over a ChunkConn.
type Peer struct {
	id   string
	role Role
	conn ChunkConn
	sess *session.Session
	cfg  Config
	log  zerolog.Logger

	limiter *rate.Limiter

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Accept runs the responder side of the key exchange on conn.
func Accept(ctx context.Context, conn ChunkConn, cfg Config) (*Peer, error) {
	return newPeer(ctx, conn, cfg, RoleResponder)
}

// Initiate runs the initiator side of the key exchange on conn.
func Initiate(ctx context.Context, conn ChunkConn, cfg Config) (*Peer, error) {
	return newPeer(ctx, conn, cfg, RoleInitiator)
}

func newPeer(ctx context.Context, conn ChunkConn, cfg Config, role Role) (*Peer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sess, err := newSession(cfg)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	p := &Peer{
		id:   id,
		role: role,
		conn: conn,
		sess: sess,
		cfg:  cfg,
		log: log.With().
			Str("session", id).
			Str("role", string(role)).
			Str("remote", remoteString(conn)).
			Logger(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	start := time.Now()
	err = p.handshake(ctx)
	observability.RecordHandshake(string(role), time.Since(start), err)
	if err != nil {
		p.log.Warn().Err(err).Msg("handshake failed")
		observability.RecordFault(FaultReason(err))
		sess.Close()
		_ = conn.Close()
		return nil, err
	}
	p.log.Info().
		Str("backend", cfg.Backend.Name()).
		Str("table", cfg.Table.Fingerprint()).
		Dur("took", time.Since(start)).
		Msg("session keyed")
	return p, nil
}

func newSession(cfg Config) (*session.Session, error) {
	if cfg.KeyPair == nil {
		return session.NewSession(cfg.Table, cfg.Backend, cfg.Session)
	}
	kp, err := cfg.KeyPair()
	if err != nil {
		return nil, err
	}
	return session.NewSessionWithKeyPair(cfg.Table, cfg.Backend, kp, cfg.Session)
}

// handshake exchanges public keys and sealed session keys in both directions.
//
//	responder -> initiator: public key
//	initiator -> responder: sealed key, public key
//	responder -> initiator: sealed key
func (p *Peer) handshake(ctx context.Context) error {
	deadline := time.Now().Add(p.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = p.conn.SetReadDeadline(deadline)
	_ = p.conn.SetWriteDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = p.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var err error
	if p.role == RoleResponder {
		err = p.respond()
	} else {
		err = p.initiate()
	}
	if err != nil {
		return handshakeError(ctx, err)
	}
	_ = p.conn.SetReadDeadline(time.Time{})
	_ = p.conn.SetWriteDeadline(time.Time{})
	return nil
}

func (p *Peer) respond() error {
	if err := p.conn.WriteChunk(p.sess.Decoder.PublicKey()); err != nil {
		return err
	}
	sealed, err := p.conn.ReadChunk()
	if err != nil {
		return err
	}
	if err := p.sess.Decoder.OpenHandshake(sealed); err != nil {
		return err
	}
	peerPublic, err := p.conn.ReadChunk()
	if err != nil {
		return err
	}
	reply, err := p.sess.Encoder.Handshake(peerPublic)
	if err != nil {
		return err
	}
	return p.conn.WriteChunk(reply)
}

func (p *Peer) initiate() error {
	peerPublic, err := p.conn.ReadChunk()
	if err != nil {
		return err
	}
	sealed, err := p.sess.Encoder.Handshake(peerPublic)
	if err != nil {
		return err
	}
	if err := p.conn.WriteChunk(sealed); err != nil {
		return err
	}
	if err := p.conn.WriteChunk(p.sess.Decoder.PublicKey()); err != nil {
		return err
	}
	reply, err := p.conn.ReadChunk()
	if err != nil {
		return err
	}
	return p.sess.Decoder.OpenHandshake(reply)
}

func handshakeError(ctx context.Context, err error) error {
	if errors.Is(err, protocol.ErrHandshake) || errors.Is(err, protocol.ErrInvalidKey) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) || ctx.Err() != nil {
		return fmt.Errorf("%w: %v", protocol.ErrHandshakeTimeout, err)
	}
	return fmt.Errorf("%w: %v", protocol.ErrHandshake, err)
}

func (p *Peer) ID() string                { return p.id }
func (p *Peer) Role() Role                { return p.role }
func (p *Peer) Session() *session.Session { return p.sess }
func (p *Peer) RemoteAddr() net.Addr      { return p.conn.RemoteAddr() }
func (p *Peer) Logger() *zerolog.Logger   { return &p.log }
func (p *Peer) Table() *protocol.Table    { return p.sess.Table }
func (p *Peer) IsClosed() bool            { return p.closed.Load() }

// Run pumps inbound chunks into the decoder and hands completed items to
// handle until the peer sends shutdown, ctx is canceled, or a fatal error
// occurs. The connection is closed when Run returns.
func (p *Peer) Run(ctx context.Context, handle ItemHandler) error {
	observability.PeerUp()
	defer observability.PeerDown()

	ctx, cancel := context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer cancel()
		return p.readLoop(child, handle)
	})
	group.Go(func() error {
		<-child.Done()
		_ = p.Close()
		return nil
	})
	if p.cfg.FlushInterval > 0 {
		group.Go(func() error {
			return p.tick(child, p.cfg.FlushInterval, p.Flush)
		})
	}
	if p.cfg.HeartbeatInterval > 0 && hasControl(p.sess.Table, controlPing) {
		group.Go(func() error {
			return p.tick(child, p.cfg.HeartbeatInterval, func() error {
				return p.SendControl(controlPing, nil)
			})
		})
	}

	err := group.Wait()
	if err == nil || errors.Is(err, errPeerShutdown) || errors.Is(err, context.Canceled) {
		p.log.Info().Msg("session closed")
		return nil
	}
	p.log.Warn().Err(err).Msg("session closed with error")
	return err
}

var errPeerShutdown = errors.New("transport: peer requested shutdown")

func (p *Peer) readLoop(ctx context.Context, handle ItemHandler) error {
	for {
		if p.cfg.ReadTimeout > 0 {
			_ = p.conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout))
		}
		chunk, err := p.conn.ReadChunk()
		if err != nil {
			if ctx.Err() != nil || p.closed.Load() {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			}
			return err
		}
		observability.RecordChunk("in", len(chunk))

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := p.sess.Decoder.AddChunk(chunk); err != nil {
			if errors.Is(err, protocol.ErrSessionClosed) && p.closed.Load() {
				return ctx.Err()
			}
			observability.RecordFault(FaultReason(err))
			return err
		}

		shutdown := false
		for _, item := range p.sess.Decoder.GetComplete() {
			observability.RecordItem(item.Kind.String(), item.Name)
			if handle != nil {
				if err := handle(item); err != nil {
					return err
				}
			}
			if protocol.IsControlCode(item, controlShutdown) {
				shutdown = true
			}
		}
		if shutdown {
			p.log.Info().Msg("peer sent shutdown")
			return errPeerShutdown
		}
	}
}

func (p *Peer) tick(ctx context.Context, every time.Duration, fn func() error) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(); err != nil {
				if p.closed.Load() {
					return nil
				}
				return err
			}
		}
	}
}

// Send queues one message and flushes it.
func (p *Peer) Send(payload []byte) error {
	if err := p.sess.Encoder.AddMessage(payload); err != nil {
		return err
	}
	return p.Flush()
}

// SendControl queues one control code with an optional argument and flushes it.
func (p *Peer) SendControl(name string, arg []byte) error {
	if err := p.sess.Encoder.AddControlCodeArg(name, arg); err != nil {
		return err
	}
	return p.Flush()
}

// Queue adds a message without flushing.
func (p *Peer) Queue(payload []byte) error {
	return p.sess.Encoder.AddMessage(payload)
}

// Flush writes every pending item. Chunks of one flush are written
// back-to-back so concurrent flushes never interleave on the wire.
func (p *Peer) Flush() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.closed.Load() {
		return ErrConnectionClosed
	}
	chunks, err := p.sess.Encoder.Flush()
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if p.cfg.WriteTimeout > 0 {
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
		}
		if err := p.conn.WriteChunk(c); err != nil {
			return fmt.Errorf("transport: write chunk: %w", err)
		}
		observability.RecordChunk("out", len(c))
	}
	return nil
}

// Shutdown tells the remote side to stop, flushing anything queued first,
// then closes the connection.
func (p *Peer) Shutdown() error {
	var err error
	if hasControl(p.sess.Table, controlShutdown) {
		err = p.SendControl(controlShutdown, nil)
	}
	if closeErr := p.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close tears down the connection and destroys session key material.
// Safe to call multiple times.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	err := p.conn.Close()
	p.sess.Close()
	return err
}

// FaultReason maps an error to a low-cardinality metrics label.
func FaultReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrIntegrity):
		return "integrity"
	case errors.Is(err, protocol.ErrMalformedFrame):
		return "malformed"
	case errors.Is(err, protocol.ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.Is(err, protocol.ErrHandshake), errors.Is(err, protocol.ErrInvalidKey):
		return "handshake"
	case errors.Is(err, protocol.ErrSessionFaulted):
		return "faulted"
	default:
		return "other"
	}
}

func hasControl(table *protocol.Table, name string) bool {
	_, err := table.CodeID(name)
	return err == nil
}

func remoteString(conn ChunkConn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
