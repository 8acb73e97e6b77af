package auth

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/sealwire/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCheckReadsBearerHeader(t *testing.T) {
	testlog.Start(t)
	v := StaticToken{Token: "s3cret"}

	r := httptest.NewRequest("GET", "/ws", nil)
	if err := Check(v, r); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("missing header: %v", err)
	}
	r.Header = Header("s3cret")
	if err := Check(v, r); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	r.Header.Set("Authorization", "bearer s3cret")
	if got := TokenFromRequest(r); got != "s3cret" {
		t.Fatalf("case-insensitive scheme: %q", got)
	}
	r.Header.Set("Authorization", "Basic s3cret")
	if err := Check(v, r); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong scheme accepted")
	}
	if err := Check(nil, r); err != nil {
		t.Fatalf("nil validator must accept: %v", err)
	}
	if Header("") != nil {
		t.Fatalf("empty token must not set a header")
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	called := ""
	v := FuncValidator(func(token string) error {
		called = token
		return nil
	})
	if err := v.Validate("x"); err != nil || called != "x" {
		t.Fatalf("func validator: err=%v called=%q", err, called)
	}
}
