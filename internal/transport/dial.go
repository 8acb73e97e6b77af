package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/sealwire/internal/auth"
	"github.com/danmuck/sealwire/internal/protocol"
)

var ErrAddressRequired = errors.New("transport: address required")

// Dial connects to address and runs the initiator handshake, retrying with
// backoff up to MaxConnectAttempts (0 retries forever). Handshake rejections
// are not retried.
func Dial(ctx context.Context, address string, cfg Config) (*Peer, error) {
	if strings.TrimSpace(address) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.TLS.ValidateClient(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		conn, err := DialConn(ctx, address, cfg)
		if err == nil {
			var peer *Peer
			peer, err = Initiate(ctx, conn, cfg)
			if err == nil {
				return peer, nil
			}
			if !retryable(err) {
				return nil, err
			}
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("addr", address).Msg("dial failed")
		if !shouldRetry(cfg, attempt) || ctx.Err() != nil {
			return nil, err
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

// DialConn opens a ChunkConn without running the handshake.
func DialConn(ctx context.Context, address string, cfg Config) (ChunkConn, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Network {
	case NetworkTCP:
		return dialStream(ctx, address, cfg)
	case NetworkWebSocket:
		return dialWebSocket(ctx, address, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, cfg.Network)
	}
}

func dialStream(ctx context.Context, address string, cfg Config) (ChunkConn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return NewStreamConn(rawConn, cfg.readLimit()), nil
	}
	tlsCfg, err := cfg.TLS.clientConfig(address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return NewStreamConn(conn, cfg.readLimit()), nil
}

func dialWebSocket(ctx context.Context, address string, cfg Config) (ChunkConn, error) {
	target, err := websocketURL(address, cfg)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: cfg.ConnectTimeout,
	}
	if cfg.TLS.Enabled {
		host := strings.TrimPrefix(strings.TrimPrefix(address, "wss://"), "ws://")
		if i := strings.IndexByte(host, '/'); i >= 0 {
			host = host[:i]
		}
		tlsCfg, err := cfg.TLS.clientConfig(host)
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}
	conn, resp, err := dialer.DialContext(ctx, target, auth.Header(cfg.AuthToken))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: websocket upgrade rejected", auth.ErrUnauthorized)
		}
		return nil, fmt.Errorf("transport: websocket dial %s: %w", target, err)
	}
	return NewWebSocketConn(conn, cfg.readLimit()), nil
}

// websocketURL accepts host:port or a full ws:// / wss:// URL.
func websocketURL(address string, cfg Config) (string, error) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		if _, err := url.Parse(address); err != nil {
			return "", err
		}
		return address, nil
	}
	scheme := "ws"
	if cfg.TLS.Enabled {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: address, Path: cfg.WSPath}
	return u.String(), nil
}

func retryable(err error) bool {
	return !errors.Is(err, protocol.ErrHandshake) &&
		!errors.Is(err, protocol.ErrInvalidKey) &&
		!errors.Is(err, auth.ErrUnauthorized)
}

func shouldRetry(cfg Config, attempt int) bool {
	if cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < cfg.MaxConnectAttempts
}
