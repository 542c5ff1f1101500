// Package agentkey parses and produces agent secret-key strings.
//
// Format: kora_agent_sk_<base64("<agent_id>:<64 hex chars>")>
package agentkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Idkasam/kora-sdk/pkg/crypto"
)

// Prefix starts every agent secret key.
const Prefix = "kora_agent_sk_"

// Rule names the structural rule a secret key violated.
type Rule string

const (
	RuleBadPrefix        Rule = "bad_prefix"
	RuleBadBase64        Rule = "bad_base64"
	RuleMissingSeparator Rule = "missing_separator"
	RuleEmptyIdentity    Rule = "empty_identity"
	RuleBadHex           Rule = "bad_hex"
	RuleWrongLength      Rule = "wrong_length"
)

// ErrFormat is matched by every FormatError.
var ErrFormat = errors.New("agentkey: malformed secret key")

// FormatError reports which rule a secret key string broke.
type FormatError struct {
	Rule   Rule
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("agentkey: %s: %s", e.Rule, e.Detail)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// Identity is a parsed agent key. It is immutable.
type Identity struct {
	agentID string
	seed    [ed25519.SeedSize]byte
}

// Parse decodes a secret key string into an Identity.
func Parse(secret string) (*Identity, error) {
	if !strings.HasPrefix(secret, Prefix) {
		return nil, &FormatError{Rule: RuleBadPrefix, Detail: fmt.Sprintf("agent key must start with %q", Prefix)}
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, Prefix))
	if err != nil {
		return nil, &FormatError{Rule: RuleBadBase64, Detail: fmt.Sprintf("invalid base64 in agent key: %v", err)}
	}
	if !utf8.Valid(decoded) {
		return nil, &FormatError{Rule: RuleBadBase64, Detail: "agent key payload is not UTF-8 text"}
	}

	agentID, privHex, found := strings.Cut(string(decoded), ":")
	if !found {
		return nil, &FormatError{Rule: RuleMissingSeparator, Detail: "agent key payload missing ':' separator"}
	}
	if agentID == "" {
		return nil, &FormatError{Rule: RuleEmptyIdentity, Detail: "agent key has empty agent_id"}
	}

	seed, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, &FormatError{Rule: RuleBadHex, Detail: fmt.Sprintf("invalid hex in private key: %v", err)}
	}
	if len(seed) != ed25519.SeedSize {
		return nil, &FormatError{Rule: RuleWrongLength, Detail: fmt.Sprintf("private key must be 32 bytes, got %d", len(seed))}
	}

	id := &Identity{agentID: agentID}
	copy(id.seed[:], seed)
	return id, nil
}

// Encode builds the secret key string for agentID and a 32-byte seed.
func Encode(agentID string, seed []byte) (string, error) {
	if agentID == "" {
		return "", &FormatError{Rule: RuleEmptyIdentity, Detail: "agent id must not be empty"}
	}
	if len(seed) != ed25519.SeedSize {
		return "", &FormatError{Rule: RuleWrongLength, Detail: fmt.Sprintf("private key must be 32 bytes, got %d", len(seed))}
	}
	payload := agentID + ":" + hex.EncodeToString(seed)
	return Prefix + base64.StdEncoding.EncodeToString([]byte(payload)), nil
}

// Generate creates a random identity and its secret key string.
func Generate(agentID string) (*Identity, string, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, "", fmt.Errorf("agentkey: read random seed: %w", err)
	}
	secret, err := Encode(agentID, seed)
	if err != nil {
		return nil, "", err
	}
	id, err := Parse(secret)
	if err != nil {
		return nil, "", err
	}
	return id, secret, nil
}

func (id *Identity) AgentID() string { return id.agentID }

// Seed returns a copy of the private scalar.
func (id *Identity) Seed() []byte {
	out := make([]byte, ed25519.SeedSize)
	copy(out, id.seed[:])
	return out
}

func (id *Identity) PrivateKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(id.seed[:])
}

func (id *Identity) PublicKey() ed25519.PublicKey {
	return id.PrivateKey().Public().(ed25519.PublicKey)
}

func (id *Identity) PublicKeyBase64() string {
	return crypto.EncodePublicKey(id.PublicKey())
}

// Signer returns an Ed25519Signer keyed by the agent id.
func (id *Identity) Signer() *crypto.Ed25519Signer {
	return crypto.NewEd25519SignerFromKey(id.PrivateKey(), id.agentID)
}

// Sign signs message with the agent's key.
func (id *Identity) Sign(message []byte) string {
	return crypto.Sign(message, id.PrivateKey())
}

// String never prints key material.
func (id *Identity) String() string {
	return fmt.Sprintf("Identity{agent_id=%s}", id.agentID)
}
