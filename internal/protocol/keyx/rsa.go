package keyx

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	BackendRSA     = "rsa-oaep-aes-gcm"
	DefaultRSABits = 2048
	minRSABits     = 2048
	aesKeySize     = 32
)

var errNotRSA = errors.New("not an RSA public key")

// RSABackend wraps session keys with RSA-OAEP (SHA-256) and encrypts chunks
// with AES-256-GCM. Public keys travel as PEM-encoded PKIX.
type RSABackend struct {
	bits int
}

func NewRSABackend(bits int) RSABackend {
	if bits < minRSABits {
		bits = minRSABits
	}
	return RSABackend{bits: bits}
}

func (RSABackend) Name() string { return BackendRSA }

func (b RSABackend) GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, b.bits)
	if err != nil {
		return nil, err
	}
	raw, err := exportRSAPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return NewKeyPair(BackendRSA, NewPublicKey(raw, &priv.PublicKey), priv, func() {
		priv.D.SetInt64(0)
		for _, p := range priv.Primes {
			p.SetInt64(0)
		}
	}), nil
}

func (RSABackend) ImportPublicKey(raw []byte) (PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return PublicKey{}, errors.New("no PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return PublicKey{}, err
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return PublicKey{}, errNotRSA
	}
	if pub.N.BitLen() < minRSABits {
		return PublicKey{}, fmt.Errorf("RSA modulus %d bits below %d", pub.N.BitLen(), minRSABits)
	}
	return NewPublicKey(raw, pub), nil
}

func (RSABackend) Encrypt(pub PublicKey, plaintext []byte) ([]byte, error) {
	key, ok := pub.Key().(*rsa.PublicKey)
	if !ok {
		return nil, errNotRSA
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, key, plaintext, nil)
}

func (RSABackend) Decrypt(kp *KeyPair, ciphertext []byte) ([]byte, error) {
	priv, ok := kp.Private().(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA key pair")
	}
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
}

func (RSABackend) KeySize() int { return aesKeySize }

func (RSABackend) NewAEAD(key SessionKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func exportRSAPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ExportPrivateKeyPEM serializes an RSA key pair for NewDecoderWithKeyPair.
func ExportPrivateKeyPEM(kp *KeyPair) ([]byte, error) {
	priv, ok := kp.Private().(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("keyx: not an RSA key pair")
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	}), nil
}

// ImportPrivateKeyPEM loads an RSA key pair exported by ExportPrivateKeyPEM.
func ImportPrivateKeyPEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("keyx: no PEM block")
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keyx: parse private key: %w", err)
	}
	raw, err := exportRSAPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return NewKeyPair(BackendRSA, NewPublicKey(raw, &priv.PublicKey), priv, func() {
		priv.D.SetInt64(0)
	}), nil
}
