package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/sealwire/internal/auth"
	"github.com/danmuck/sealwire/internal/observability"
)

// PeerHandler owns a keyed peer until it returns; the server closes the
// peer afterwards.
type PeerHandler interface {
	HandlePeer(ctx context.Context, p *Peer)
}

type PeerHandlerFunc func(ctx context.Context, p *Peer)

func (f PeerHandlerFunc) HandlePeer(ctx context.Context, p *Peer) { f(ctx, p) }

// Server accepts connections, runs the responder handshake and hands each
// keyed peer to the handler.
type Server struct {
	cfg     Config
	handler PeerHandler

	upgrader websocket.Upgrader
	auth     auth.Validator

	connsMu  sync.Mutex
	conns    map[io.Closer]struct{}
	stopping bool
	active   atomic.Int64
	wg       sync.WaitGroup
}

func NewServer(cfg Config, handler PeerHandler) (*Server, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.TLS.ValidateServer(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("transport: nil peer handler")
	}
	var validator auth.Validator
	if cfg.AuthToken != "" {
		validator = auth.StaticToken{Token: cfg.AuthToken}
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		auth:    validator,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[io.Closer]struct{}),
	}, nil
}

// Listen binds addr as plain TCP or TLS based on the server's TLS policy.
func (s *Server) Listen(addr string) (net.Listener, error) {
	if !s.cfg.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := s.cfg.TLS.serverConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := s.Listen(addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts sessions on ln until ctx is canceled, then closes every
// tracked connection and waits for handlers to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("network", string(s.cfg.Network)).
		Bool("tls", s.cfg.TLS.Enabled).
		Msg("server listening")
	defer s.wg.Wait()

	if s.cfg.Network == NetworkWebSocket {
		return s.serveWebSocket(ctx, ln)
	}
	return s.serveStream(ctx, ln)
}

func (s *Server) serveStream(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Str("addr", ln.Addr().String()).Msg("server stopped")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			log.Error().Err(err).Msg("accept error")
			return err
		}
		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, NewStreamConn(conn, s.cfg.readLimit()))
		}()
	}
}

func (s *Server) serveWebSocket(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WSPath, func(w http.ResponseWriter, r *http.Request) {
		if err := auth.Check(s.auth, r); err != nil {
			log.Warn().Str("remote", r.RemoteAddr).Msg("websocket upgrade unauthorized")
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if !s.beginHandler() {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}
		defer s.wg.Done()
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}
		s.handleConn(ctx, NewWebSocketConn(conn, s.cfg.readLimit()))
	})
	srv := &http.Server{
		Handler:           observability.RequestLogger(log.With().Str("component", "websocket").Logger(), mux),
		ReadHeaderTimeout: s.cfg.ConnectTimeout,
	}

	go func() {
		<-ctx.Done()
		s.closeAllConns()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err := srv.Serve(ln)
	// Hijacked connections outlive srv; later handlers must not join wg.
	s.closeAllConns()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("server stopped")
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn ChunkConn) {
	s.trackConn(conn)
	defer s.untrackConn(conn)
	defer conn.Close()

	active := s.active.Add(1)
	log.Debug().Str("remote", remoteString(conn)).Int64("active_peers", active).Msg("client connected")
	defer func() {
		remaining := s.active.Add(-1)
		log.Debug().Str("remote", remoteString(conn)).Int64("active_peers", remaining).Msg("client disconnected")
	}()

	peer, err := Accept(ctx, conn, s.cfg)
	if err != nil {
		return
	}
	defer peer.Close()
	s.handler.HandlePeer(ctx, peer)
}

// Active returns the number of connections currently being served.
func (s *Server) Active() int64 { return s.active.Load() }

// trackConn closes c at once when the server is already stopping.
func (s *Server) trackConn(c io.Closer) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.stopping {
		_ = c.Close()
		return
	}
	s.conns[c] = struct{}{}
}

func (s *Server) untrackConn(c io.Closer) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, c)
}

// beginHandler registers one websocket handler with wg unless the server is
// stopping. Add and the stopping check share connsMu so no Add follows Wait.
func (s *Server) beginHandler() bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.stopping {
		return false
	}
	s.wg.Add(1)
	return true
}

// closeAllConns marks the server stopping and closes every tracked connection.
func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.stopping = true
	for c := range s.conns {
		_ = c.Close()
		delete(s.conns, c)
	}
}
