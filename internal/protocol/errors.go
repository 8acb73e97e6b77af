package protocol

import "errors"

var (
	ErrHandshake            = errors.New("protocol: handshake failed")
	ErrHandshakeTimeout     = errors.New("protocol: handshake timed out")
	ErrHandshakeNotComplete = errors.New("protocol: handshake not complete")
	ErrInvalidKey           = errors.New("protocol: invalid key")
	ErrUnknownControlCode   = errors.New("protocol: unknown control code")
	ErrItemTooLarge         = errors.New("protocol: item too large")
	ErrMalformedFrame       = errors.New("protocol: malformed frame")
	ErrIntegrity            = errors.New("protocol: integrity check failed")
	ErrSessionFaulted       = errors.New("protocol: session faulted")
	ErrSessionClosed        = errors.New("protocol: session closed")

	// ErrNeedMoreData is not a failure: the buffer ends inside a frame.
	ErrNeedMoreData = errors.New("protocol: need more data")
)

// IsFatal reports whether err must tear down the session.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNeedMoreData),
		errors.Is(err, ErrUnknownControlCode),
		errors.Is(err, ErrItemTooLarge),
		errors.Is(err, ErrHandshakeNotComplete):
		return false
	default:
		return true
	}
}
