package notary

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/Idkasam/kora-sdk/pkg/canonicalize"
	"github.com/Idkasam/kora-sdk/pkg/contracts"
	"github.com/Idkasam/kora-sdk/pkg/crypto"
)

// DefaultSignedFields is the field set a Notary seals unless configured
// otherwise.
var DefaultSignedFields = []string{
	"intent_id",
	"mandate_id",
	"mandate_version",
	"status",
	"reason_code",
	"amount_cents",
	"currency",
	"vendor_id",
	"evaluated_at",
	"ttl_seconds",
	"enforcement_mode",
	"executable",
}

const derivationSalt = "kora-notary-kdf"

// Notary seals decision records with one Ed25519 key.
type Notary struct {
	signer       *crypto.Ed25519Signer
	signedFields []string
	clock        func() time.Time
}

// Option configures a Notary.
type Option func(*Notary)

// WithSignedFields overrides DefaultSignedFields.
func WithSignedFields(fields ...string) Option {
	return func(n *Notary) {
		n.signedFields = append([]string(nil), fields...)
	}
}

// WithClock sets the clock used for seal timestamps.
func WithClock(clock func() time.Time) Option {
	return func(n *Notary) { n.clock = clock }
}

// New creates a Notary around signer. The signer's KeyID becomes the seal's
// public_key_id.
func New(signer *crypto.Ed25519Signer, opts ...Option) (*Notary, error) {
	if signer == nil {
		return nil, errors.New("notary: nil signer")
	}
	n := &Notary{
		signer:       signer,
		signedFields: DefaultSignedFields,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Derive creates a Notary whose key is derived from masterSeed for one
// mandate with HKDF-SHA256. The same inputs always give the same key.
func Derive(masterSeed []byte, mandateID string, opts ...Option) (*Notary, error) {
	if len(masterSeed) < ed25519.SeedSize {
		return nil, fmt.Errorf("notary: master seed must be at least %d bytes, got %d", ed25519.SeedSize, len(masterSeed))
	}
	if mandateID == "" {
		return nil, errors.New("notary: empty mandate id")
	}
	r := hkdf.New(sha256.New, masterSeed, []byte(derivationSalt), []byte(mandateID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("notary: HKDF derivation failed: %w", err)
	}
	signer, err := crypto.NewEd25519SignerFromSeed(seed, "notary:"+mandateID)
	if err != nil {
		return nil, err
	}
	return New(signer, opts...)
}

// KeyID returns the public_key_id stamped on seals.
func (n *Notary) KeyID() string {
	return n.signer.KeyID
}

// PublicKey returns the base64 public key seals verify against.
func (n *Notary) PublicKey() string {
	return n.signer.PublicKey()
}

// Seal signs rec and returns the seal. It does not attach it.
func (n *Notary) Seal(rec *contracts.DecisionRecord) (*contracts.NotarySeal, error) {
	payload, err := Payload(rec, n.signedFields)
	if err != nil {
		return nil, fmt.Errorf("notary: seal payload: %w", err)
	}
	digest := canonicalize.Digest(payload)
	return &contracts.NotarySeal{
		Signature:    n.signer.Sign(digest),
		PublicKeyID:  n.signer.KeyID,
		Algorithm:    crypto.Algorithm,
		SignedFields: append([]string(nil), n.signedFields...),
		Timestamp:    contracts.FormatTimestamp(n.clock()),
		PayloadHash:  "sha256:" + canonicalize.HashBytes(payload),
	}, nil
}

// Attach seals rec in place.
func (n *Notary) Attach(rec *contracts.DecisionRecord) error {
	seal, err := n.Seal(rec)
	if err != nil {
		return err
	}
	rec.NotarySeal = seal
	return nil
}
