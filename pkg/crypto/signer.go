// Package crypto signs and verifies agent requests and notary payloads with
// Ed25519. Signatures and public keys travel as standard base64.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Algorithm is the only signature algorithm the protocol uses.
const Algorithm = "Ed25519"

// Signer produces base64 Ed25519 signatures.
type Signer interface {
	Sign(data []byte) string
	PublicKey() string
	PublicKeyBytes() []byte
}

// Ed25519Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

// NewEd25519Signer creates a signer around a freshly generated key.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  pub,
		KeyID:   keyID,
	}, nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

// NewEd25519SignerFromSeed builds a signer from a 32-byte private scalar.
func NewEd25519SignerFromSeed(seed []byte, keyID string) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: %d", len(seed))
	}
	return NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed), keyID), nil
}

func (s *Ed25519Signer) Sign(data []byte) string {
	return Sign(data, s.privKey)
}

func (s *Ed25519Signer) SignBytes(data []byte) []byte {
	return ed25519.Sign(s.privKey, data)
}

func (s *Ed25519Signer) PublicKey() string {
	return EncodePublicKey(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

// Sign signs message and returns the base64 signature. Ed25519 is
// deterministic: the same key and message always give the same signature.
func Sign(message []byte, priv ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, message))
}

// EncodePublicKey returns the base64 form of a public key.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}
