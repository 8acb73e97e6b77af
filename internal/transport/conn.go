package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmuck/sealwire/internal/protocol/frame"
)

var (
	ErrUnknownNetwork    = errors.New("transport: unknown network")
	ErrConnectionClosed  = errors.New("transport: connection closed")
	ErrUnexpectedMessage = errors.New("transport: unexpected websocket message type")
)

// ChunkConn carries whole chunks between peers. Implementations preserve
// chunk boundaries and order; they do not inspect chunk contents.
type ChunkConn interface {
	ReadChunk() ([]byte, error)
	WriteChunk(chunk []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// streamConn delimits chunks on a byte stream with a 4-byte length header.
type streamConn struct {
	conn   net.Conn
	reader *bufio.Reader
	limits frame.Limits
}

// NewStreamConn wraps a TCP (or TLS) connection. maxChunk bounds inbound chunks.
func NewStreamConn(conn net.Conn, maxChunk int) ChunkConn {
	return &streamConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		limits: frame.Limits{MaxChunkBytes: uint32(maxChunk)},
	}
}

func (c *streamConn) ReadChunk() ([]byte, error) {
	return frame.ReadChunk(c.reader, c.limits)
}

func (c *streamConn) WriteChunk(chunk []byte) error {
	return frame.WriteChunk(c.conn, chunk, frame.Limits{})
}

func (c *streamConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *streamConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
func (c *streamConn) RemoteAddr() net.Addr               { return c.conn.RemoteAddr() }
func (c *streamConn) Close() error                       { return c.conn.Close() }

// wsConn sends one binary websocket message per chunk.
type wsConn struct {
	conn *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn wraps an upgraded or dialed websocket connection.
func NewWebSocketConn(conn *websocket.Conn, maxChunk int) ChunkConn {
	conn.SetReadLimit(int64(maxChunk))
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadChunk() ([]byte, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, fmt.Errorf("%w: %v", frame.ErrChunkTooLarge, err)
		}
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedMessage, mt)
	}
	if len(data) == 0 {
		return nil, frame.ErrEmptyChunk
	}
	return data, nil
}

func (c *wsConn) WriteChunk(chunk []byte) error {
	if len(chunk) == 0 {
		return frame.ErrEmptyChunk
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
func (c *wsConn) RemoteAddr() net.Addr               { return c.conn.RemoteAddr() }

// Close sends a close frame when possible, then closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
