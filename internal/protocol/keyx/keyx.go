// Package keyx implements the one-time hybrid key exchange.
//
// The responder generates a key pair and publishes its public half. The
// initiator seals a fresh symmetric session key to that public key and sends
// the sealed blob as the first chunk of the session. Crypto primitives are
// consumed through the Backend capability interface, chosen when the session
// is constructed.
package keyx

import (
	"crypto"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/sealwire/internal/protocol"
)

// Asymmetric protects session keys in transit.
type Asymmetric interface {
	GenerateKeyPair() (*KeyPair, error)
	ImportPublicKey(raw []byte) (PublicKey, error)
	Encrypt(pub PublicKey, plaintext []byte) ([]byte, error)
	Decrypt(kp *KeyPair, ciphertext []byte) ([]byte, error)
}

// Symmetric provides the authenticated cipher used for bulk chunk encryption.
type Symmetric interface {
	KeySize() int
	NewAEAD(key SessionKey) (cipher.AEAD, error)
}

// Backend bundles both capabilities under a stable name.
type Backend interface {
	Name() string
	Asymmetric
	Symmetric
}

// PublicKey is an imported or generated public key plus its exported form.
type PublicKey struct {
	raw []byte
	key crypto.PublicKey
}

func NewPublicKey(raw []byte, key crypto.PublicKey) PublicKey {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return PublicKey{raw: buf, key: key}
}

// Bytes returns the exported form of the key.
func (p PublicKey) Bytes() []byte {
	buf := make([]byte, len(p.raw))
	copy(buf, p.raw)
	return buf
}

func (p PublicKey) Key() crypto.PublicKey { return p.key }

// KeyPair is owned by the responding peer. The private half never leaves it.
type KeyPair struct {
	backend string
	public  PublicKey
	private crypto.PrivateKey
	wipe    func()
}

func NewKeyPair(backend string, public PublicKey, private crypto.PrivateKey, wipe func()) *KeyPair {
	return &KeyPair{backend: backend, public: public, private: private, wipe: wipe}
}

func (kp *KeyPair) Backend() string            { return kp.backend }
func (kp *KeyPair) Public() PublicKey          { return kp.public }
func (kp *KeyPair) Private() crypto.PrivateKey { return kp.private }
func (kp *KeyPair) Destroyed() bool            { return kp.private == nil }

// Destroy zeroes private material where the backend allows it.
func (kp *KeyPair) Destroy() {
	if kp == nil || kp.private == nil {
		return
	}
	if kp.wipe != nil {
		kp.wipe()
	}
	kp.private = nil
}

// SessionKey is the symmetric key shared by both peers after the handshake.
type SessionKey []byte

func (k SessionKey) Wipe() {
	for i := range k {
		k[i] = 0
	}
}

func GenerateKeyPair(b Backend) (*KeyPair, error) {
	kp, err := b.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("keyx: generate %s key pair: %w", b.Name(), err)
	}
	return kp, nil
}

func ExportPublicKey(kp *KeyPair) []byte {
	return kp.public.Bytes()
}

// ImportPublicKey fails with protocol.ErrInvalidKey on malformed input.
func ImportPublicKey(b Backend, raw []byte) (PublicKey, error) {
	pub, err := b.ImportPublicKey(raw)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %s: %v", protocol.ErrInvalidKey, b.Name(), err)
	}
	return pub, nil
}

// SealSessionKey generates a fresh session key and encrypts it for pub.
func SealSessionKey(b Backend, pub PublicKey) ([]byte, SessionKey, error) {
	key := make(SessionKey, b.KeySize())
	if _, err := rand.Read(key); err != nil {
		return nil, nil, fmt.Errorf("keyx: session key: %w", err)
	}
	sealed, err := b.Encrypt(pub, key)
	if err != nil {
		key.Wipe()
		return nil, nil, fmt.Errorf("%w: seal session key: %v", protocol.ErrHandshake, err)
	}
	return sealed, key, nil
}

// OpenSessionKey recovers the session key with the private half of kp.
func OpenSessionKey(b Backend, kp *KeyPair, sealed []byte) (SessionKey, error) {
	if kp == nil || kp.Destroyed() {
		return nil, fmt.Errorf("%w: key pair destroyed", protocol.ErrHandshake)
	}
	plain, err := b.Decrypt(kp, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: open session key: %v", protocol.ErrHandshake, err)
	}
	if len(plain) != b.KeySize() {
		SessionKey(plain).Wipe()
		return nil, fmt.Errorf("%w: session key length %d", protocol.ErrHandshake, len(plain))
	}
	return SessionKey(plain), nil
}

var backends = map[string]Backend{
	BackendRSA:    NewRSABackend(DefaultRSABits),
	BackendX25519: X25519Backend{},
}

// Lookup returns the backend registered under name. Empty selects the default.
func Lookup(name string) (Backend, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return Default(), nil
	}
	b, ok := backends[key]
	if !ok {
		return nil, fmt.Errorf("keyx: unknown backend %q (known: %s)", name, strings.Join(BackendNames(), ", "))
	}
	return b, nil
}

func Default() Backend { return backends[BackendRSA] }

func BackendNames() []string {
	out := make([]string, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
