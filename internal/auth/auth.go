// Package auth gates websocket upgrades with a shared bearer token.
//
// It does not replace the session key exchange; it only keeps anonymous
// clients from reaching the handshake.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

const bearerPrefix = "Bearer "

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one shared token.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// TokenFromRequest returns the bearer token of r, or "" when absent.
func TokenFromRequest(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < len(bearerPrefix) || !strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(h[len(bearerPrefix):])
}

// Header builds the request header carrying token, or nil for an empty token.
func Header(token string) http.Header {
	if token == "" {
		return nil
	}
	h := make(http.Header)
	h.Set("Authorization", bearerPrefix+token)
	return h
}

// Check validates the bearer token of r with v. A nil v accepts everything.
func Check(v Validator, r *http.Request) error {
	if v == nil {
		return nil
	}
	return v.Validate(TokenFromRequest(r))
}
