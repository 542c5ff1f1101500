// Package contracts defines the wire types exchanged between agents, the
// authorization service and the local evaluation engine.
package contracts

import (
	"bytes"
	"encoding/json"
)

// DefaultTTLSeconds is used when an intent does not carry its own TTL.
const DefaultTTLSeconds = 300

// SpendIntent is one proposed spend. Retries keep IntentID and change Nonce.
type SpendIntent struct {
	IntentID    string `json:"intent_id"`
	AgentID     string `json:"agent_id"`
	MandateID   string `json:"mandate_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	VendorID    string `json:"vendor_id"`
	Nonce       string `json:"nonce"`
	TTLSeconds  int64  `json:"ttl_seconds"`

	// PaymentInstruction is opaque and only ever passed through.
	PaymentInstruction json.RawMessage `json:"payment_instruction,omitempty"`
	Metadata           map[string]any  `json:"metadata,omitempty"`

	// Not covered by the signature.
	Category string `json:"category,omitempty"`
	Purpose  string `json:"purpose,omitempty"`
}

// SignedFields returns exactly the fields the agent signature covers.
// Payment instruction and metadata are included only when non-empty.
func (i *SpendIntent) SignedFields() map[string]any {
	fields := map[string]any{
		"intent_id":    i.IntentID,
		"agent_id":     i.AgentID,
		"mandate_id":   i.MandateID,
		"amount_cents": i.AmountCents,
		"currency":     i.Currency,
		"vendor_id":    i.VendorID,
		"nonce":        i.Nonce,
		"ttl_seconds":  i.TTLSeconds,
	}
	if !emptyJSON(i.PaymentInstruction) {
		fields["payment_instruction"] = i.PaymentInstruction
	}
	if len(i.Metadata) > 0 {
		fields["metadata"] = i.Metadata
	}
	return fields
}

// Body returns the request body: the signed fields plus category and purpose.
func (i *SpendIntent) Body() map[string]any {
	body := i.SignedFields()
	if i.Category != "" {
		body["category"] = i.Category
	}
	if i.Purpose != "" {
		body["purpose"] = i.Purpose
	}
	return body
}

func emptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}
