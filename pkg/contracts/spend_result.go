package contracts

import (
	"encoding/json"

	"github.com/Idkasam/kora-sdk/pkg/money"
)

// SpendResult is the simplified, agent-facing view of a decision.
type SpendResult struct {
	Approved   bool            `json:"approved"`
	DecisionID string          `json:"decision_id"`
	Decision   string          `json:"decision"`
	ReasonCode ReasonCode      `json:"reason_code"`
	Message    string          `json:"message"`
	Suggestion string          `json:"suggestion,omitempty"`
	RetryWith  *RetryWith      `json:"retry_with,omitempty"`
	Payment    json.RawMessage `json:"payment,omitempty"`
	Executable bool            `json:"executable"`
	Seal       *NotarySeal     `json:"seal,omitempty"`

	Record *DecisionRecord `json:"-"`
}

// NewSpendResult derives the agent-facing view from a decision record.
func NewSpendResult(rec *DecisionRecord) *SpendResult {
	res := &SpendResult{
		Approved:   rec.Approved(),
		DecisionID: rec.DecisionID,
		Decision:   rec.Decision,
		ReasonCode: rec.ReasonCode,
		RetryWith:  rec.RetryWith,
		Executable: rec.Executable,
		Seal:       rec.NotarySeal,
		Record:     rec,
	}
	if !emptyJSON(rec.Payment) {
		res.Payment = rec.Payment
	}

	switch {
	case res.Approved:
		res.Message = "Approved: " + money.Format(deref(rec.AmountCents), derefString(rec.Currency)) +
			" to " + derefString(rec.VendorID)
	case rec.Denial != nil && rec.Denial.Message != "":
		res.Message = rec.Denial.Message
	default:
		res.Message = "Denied: " + string(rec.ReasonCode)
	}
	if rec.Denial != nil {
		res.Suggestion = rec.Denial.Hint
	}
	return res
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
