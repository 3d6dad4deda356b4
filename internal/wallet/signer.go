// Package wallet holds the service-side keypair used for agent-owned
// wallets: it signs session challenges and swap transactions when the
// caller does not bring their own signature.
package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
)

var ErrNoKey = errors.New("wallet key not configured")

// KeypairSigner signs with an in-process ed25519 key.
type KeypairSigner struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewKeypairSigner parses a base64-encoded ed25519 private key (64-byte seed
// plus public key form, as wallet exports produce).
func NewKeypairSigner(secretB64 string) (*KeypairSigner, error) {
	if secretB64 == "" {
		return nil, ErrNoKey
	}
	raw, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, fmt.Errorf("decode wallet secret: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
	case ed25519.SeedSize:
		raw = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("wallet secret has %d bytes, want %d or %d",
			len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}

	priv := ed25519.PrivateKey(raw)
	return &KeypairSigner{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKey returns the base64 form of the signing key's public half.
func (s *KeypairSigner) PublicKey() string {
	return base64.StdEncoding.EncodeToString(s.pub)
}

// SignMessage signs a challenge string and returns the base64 signature.
func (s *KeypairSigner) SignMessage(ctx context.Context, message string) (string, error) {
	if s == nil || s.priv == nil {
		return "", ErrNoKey
	}
	sig := ed25519.Sign(s.priv, []byte(message))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// SignTransaction signs a base64 unsigned transaction and returns the
// signed form with the signature prepended.
func (s *KeypairSigner) SignTransaction(ctx context.Context, unsignedTxB64 string) (string, error) {
	if s == nil || s.priv == nil {
		return "", ErrNoKey
	}
	tx, err := base64.StdEncoding.DecodeString(unsignedTxB64)
	if err != nil {
		return "", fmt.Errorf("decode transaction: %w", err)
	}
	sig := ed25519.Sign(s.priv, tx)
	return base64.StdEncoding.EncodeToString(append(sig, tx...)), nil
}
