package wallet

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"testing"
)

func testSecret() string {
	seed := bytes.Repeat([]byte{0x07}, ed25519.SeedSize)
	return base64.StdEncoding.EncodeToString(seed)
}

func TestNewKeypairSignerAcceptsSeedAndFullKey(t *testing.T) {
	seed := bytes.Repeat([]byte{0x07}, ed25519.SeedSize)
	full := ed25519.NewKeyFromSeed(seed)

	fromSeed, err := NewKeypairSigner(base64.StdEncoding.EncodeToString(seed))
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	fromFull, err := NewKeypairSigner(base64.StdEncoding.EncodeToString(full))
	if err != nil {
		t.Fatalf("from full key: %v", err)
	}
	if fromSeed.PublicKey() != fromFull.PublicKey() {
		t.Fatalf("public keys differ: %s vs %s", fromSeed.PublicKey(), fromFull.PublicKey())
	}
}

func TestNewKeypairSignerRejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		secret string
	}{
		{"empty", ""},
		{"not base64", "%%%"},
		{"wrong length", base64.StdEncoding.EncodeToString([]byte("short"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewKeypairSigner(tc.secret); err == nil {
				t.Fatalf("expected error for %q", tc.secret)
			}
		})
	}
}

func TestSignMessageVerifies(t *testing.T) {
	s, err := NewKeypairSigner(testSecret())
	if err != nil {
		t.Fatal(err)
	}

	sigB64, err := s.SignMessage(context.Background(), "session challenge")
	if err != nil {
		t.Fatal(err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := base64.StdEncoding.DecodeString(s.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte("session challenge"), sig) {
		t.Fatal("signature did not verify")
	}
}

func TestSignTransactionPrependsSignature(t *testing.T) {
	s, err := NewKeypairSigner(testSecret())
	if err != nil {
		t.Fatal(err)
	}

	tx := []byte("unsigned swap bytes")
	signedB64, err := s.SignTransaction(context.Background(), base64.StdEncoding.EncodeToString(tx))
	if err != nil {
		t.Fatal(err)
	}
	signed, err := base64.StdEncoding.DecodeString(signedB64)
	if err != nil {
		t.Fatal(err)
	}
	if len(signed) != ed25519.SignatureSize+len(tx) {
		t.Fatalf("signed tx has %d bytes, want %d", len(signed), ed25519.SignatureSize+len(tx))
	}
	if !bytes.Equal(signed[ed25519.SignatureSize:], tx) {
		t.Fatal("transaction bytes not preserved after the signature")
	}
	pub, _ := base64.StdEncoding.DecodeString(s.PublicKey())
	if !ed25519.Verify(ed25519.PublicKey(pub), tx, signed[:ed25519.SignatureSize]) {
		t.Fatal("prepended signature did not verify against the transaction")
	}
}

func TestSignTransactionRejectsBadBase64(t *testing.T) {
	s, err := NewKeypairSigner(testSecret())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SignTransaction(context.Background(), "%%%"); err == nil {
		t.Fatal("expected decode error")
	}
}
