// Package crypto seals sensitive wallet metadata before it hits the store.
// Session rows can carry wallet credentials for agent-owned wallets, so the
// wallet_data column is never written in the clear when a key is configured.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required size for AES-256 keys (32 bytes)
	KeySize = 32
	// NonceSize is the size of GCM nonce (12 bytes)
	NonceSize = 12

	prefix = "SEALED:"
)

var (
	ErrInvalidKey   = errors.New("invalid sealing key: must be 32 bytes")
	ErrNotSealed    = errors.New("value is not a sealed payload")
	ErrUnsealFailed = errors.New("unseal failed")
)

// Sealer encrypts and decrypts wallet metadata with AES-256-GCM.
type Sealer struct {
	key []byte
}

// NewSealer builds a Sealer from a base64-encoded 32-byte key.
func NewSealer(keyB64 string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("decode sealing key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext and returns "SEALED:" plus base64(nonce+ciphertext).
func (s *Sealer) Seal(plaintext string) (string, error) {
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Unseal reverses Seal. Values without the sealed prefix are rejected so a
// plaintext row migrated from an older deployment is detectable.
func (s *Sealer) Unseal(value string) (string, error) {
	if !strings.HasPrefix(value, prefix) {
		return "", ErrNotSealed
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < NonceSize {
		return "", ErrUnsealFailed
	}

	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrUnsealFailed
	}
	return string(plaintext), nil
}

// IsSealed reports whether a stored value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, prefix)
}

func (s *Sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// GenerateKey returns a fresh random key, base64-encoded for env storage.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
