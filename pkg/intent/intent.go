// Package intent builds and signs spend requests on behalf of an agent.
package intent

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/Idkasam/kora-sdk/pkg/agentkey"
	"github.com/Idkasam/kora-sdk/pkg/canonicalize"
	"github.com/Idkasam/kora-sdk/pkg/contracts"
	"github.com/Idkasam/kora-sdk/pkg/crypto"
)

// Request headers understood by the authorization service.
const (
	HeaderAgentID        = "X-Agent-Id"
	HeaderAgentSignature = "X-Agent-Signature"
	HeaderSimulate       = "X-Kora-Simulate"
	HeaderAuthorization  = "Authorization"
)

// Service paths the signed bodies are posted to.
const (
	AuthorizePath = "/v1/authorize"
	budgetPath    = "/v1/mandates/%s/budget"
)

const nonceBytes = 16

// Option customizes a new intent.
type Option func(*contracts.SpendIntent)

// WithTTL overrides the default decision lifetime.
func WithTTL(seconds int64) Option {
	return func(i *contracts.SpendIntent) {
		if seconds > 0 {
			i.TTLSeconds = seconds
		}
	}
}

// WithPaymentInstruction attaches an opaque payment instruction.
func WithPaymentInstruction(raw json.RawMessage) Option {
	return func(i *contracts.SpendIntent) { i.PaymentInstruction = raw }
}

// WithMetadata attaches signed metadata.
func WithMetadata(md map[string]any) Option {
	return func(i *contracts.SpendIntent) { i.Metadata = md }
}

// WithCategory sets the unsigned spend category.
func WithCategory(category string) Option {
	return func(i *contracts.SpendIntent) { i.Category = category }
}

// WithPurpose sets the unsigned free-text purpose.
func WithPurpose(purpose string) Option {
	return func(i *contracts.SpendIntent) { i.Purpose = purpose }
}

// WithIntentID pins the intent id instead of generating one.
func WithIntentID(id string) Option {
	return func(i *contracts.SpendIntent) { i.IntentID = id }
}

// New builds a spend intent for id with a fresh intent id and nonce.
func New(id *agentkey.Identity, mandateID string, amountCents int64, currency, vendorID string, opts ...Option) (*contracts.SpendIntent, error) {
	if id == nil {
		return nil, errors.New("intent: nil identity")
	}
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	in := &contracts.SpendIntent{
		IntentID:    uuid.NewString(),
		AgentID:     id.AgentID(),
		MandateID:   mandateID,
		AmountCents: amountCents,
		Currency:    currency,
		VendorID:    vendorID,
		Nonce:       nonce,
		TTLSeconds:  contracts.DefaultTTLSeconds,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in, nil
}

// NewNonce returns 16 random bytes, base64 encoded.
func NewNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("intent: nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Retry returns a copy of in with a fresh nonce and the same intent id, so
// the service can deduplicate resubmissions.
func Retry(in *contracts.SpendIntent) (*contracts.SpendIntent, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	next := *in
	next.Nonce = nonce
	return &next, nil
}

// SignedRequest is a ready-to-send request: the JSON body, the canonical
// bytes that were signed and the headers carrying the signature.
type SignedRequest struct {
	Method    string
	Path      string
	Body      []byte
	Canonical []byte
	Signature string
	Headers   http.Header
}

// Sign canonicalizes the signed fields of in and signs them with id.
func Sign(id *agentkey.Identity, in *contracts.SpendIntent) (*SignedRequest, error) {
	if id == nil || in == nil {
		return nil, errors.New("intent: nil identity or intent")
	}
	if in.AgentID != id.AgentID() {
		return nil, fmt.Errorf("intent: agent %q cannot sign for %q", id.AgentID(), in.AgentID)
	}
	canonical, err := canonicalize.Canonicalize(in.SignedFields())
	if err != nil {
		return nil, fmt.Errorf("intent: %w", err)
	}
	body, err := json.Marshal(in.Body())
	if err != nil {
		return nil, fmt.Errorf("intent: body: %w", err)
	}
	return newSignedRequest(id, AuthorizePath, body, canonical), nil
}

// SignBudgetQuery signs the budget lookup for mandateID.
func SignBudgetQuery(id *agentkey.Identity, mandateID string) (*SignedRequest, error) {
	if id == nil {
		return nil, errors.New("intent: nil identity")
	}
	fields := map[string]any{"mandate_id": mandateID}
	canonical, err := canonicalize.Canonicalize(fields)
	if err != nil {
		return nil, fmt.Errorf("intent: %w", err)
	}
	return newSignedRequest(id, fmt.Sprintf(budgetPath, mandateID), canonical, canonical), nil
}

func newSignedRequest(id *agentkey.Identity, path string, body, canonical []byte) *SignedRequest {
	sig := id.Sign(canonical)
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set(HeaderAgentID, id.AgentID())
	h.Set(HeaderAgentSignature, sig)
	return &SignedRequest{
		Method:    http.MethodPost,
		Path:      path,
		Body:      body,
		Canonical: canonical,
		Signature: sig,
		Headers:   h,
	}
}

// Simulate marks the request as a simulation of scenario, authorized by an
// admin key.
func (r *SignedRequest) Simulate(scenario, adminKey string) {
	r.Headers.Set(HeaderSimulate, scenario)
	if adminKey != "" {
		r.Headers.Set(HeaderAuthorization, "Bearer "+adminKey)
	}
}

// Verify checks the request signature against a base64 public key.
func (r *SignedRequest) Verify(publicKeyB64 string) bool {
	return crypto.Verify(r.Canonical, r.Signature, publicKeyB64)
}
