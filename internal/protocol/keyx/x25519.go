package keyx

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	BackendX25519 = "x25519-chacha20poly1305"
	x25519KeyLen  = curve25519.PointSize
	sealInfo      = "sealwire x25519 session key"
)

// X25519Backend seals session keys to a static X25519 key with an ephemeral
// sender key (sealed box). Sealed layout: [ephemeral public:32][aead ciphertext].
type X25519Backend struct{}

func (X25519Backend) Name() string { return BackendX25519 }

func (X25519Backend) GenerateKeyPair() (*KeyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return NewKeyPair(BackendX25519, NewPublicKey(pub, pub), priv, func() {
		for i := range priv {
			priv[i] = 0
		}
	}), nil
}

func (X25519Backend) ImportPublicKey(raw []byte) (PublicKey, error) {
	if len(raw) != x25519KeyLen {
		return PublicKey{}, fmt.Errorf("x25519 public key must be %d bytes, got %d", x25519KeyLen, len(raw))
	}
	return NewPublicKey(raw, raw), nil
}

func (X25519Backend) Encrypt(pub PublicKey, plaintext []byte) ([]byte, error) {
	peer := pub.Bytes()
	ephPriv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(ephPriv); err != nil {
		return nil, err
	}
	defer wipe(ephPriv)
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ephPriv, peer)
	if err != nil {
		return nil, err
	}
	aead, err := wrapAEAD(shared, ephPub, peer)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	out := make([]byte, 0, len(ephPub)+len(plaintext)+aead.Overhead())
	out = append(out, ephPub...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

func (X25519Backend) Decrypt(kp *KeyPair, ciphertext []byte) ([]byte, error) {
	priv, ok := kp.Private().([]byte)
	if !ok {
		return nil, errors.New("not an x25519 key pair")
	}
	if len(ciphertext) < x25519KeyLen+chacha20poly1305.Overhead {
		return nil, errors.New("sealed key too short")
	}
	ephPub := ciphertext[:x25519KeyLen]
	shared, err := curve25519.X25519(priv, ephPub)
	if err != nil {
		return nil, err
	}
	aead, err := wrapAEAD(shared, ephPub, kp.Public().Bytes())
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Open(nil, nonce, ciphertext[x25519KeyLen:], nil)
}

func (X25519Backend) KeySize() int { return chacha20poly1305.KeySize }

func (X25519Backend) NewAEAD(key SessionKey) (cipher.AEAD, error) {
	return chacha20poly1305.New(key)
}

// wrapAEAD derives a single-use key, so the zero nonce is never reused.
func wrapAEAD(shared, ephPub, peerPub []byte) (cipher.AEAD, error) {
	defer wipe(shared)
	salt := make([]byte, 0, len(ephPub)+len(peerPub))
	salt = append(salt, ephPub...)
	salt = append(salt, peerPub...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(sealInfo)), key); err != nil {
		return nil, err
	}
	defer wipe(key)
	return chacha20poly1305.New(key)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
