package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when a response body is not a JSON object
// or a known member has the wrong shape.
var ErrMalformedResponse = errors.New("contracts: malformed response")

// Layout identifies which response generation produced a decision body.
type Layout int

const (
	// LayoutNotarized carries "decision" and "notary_seal".
	LayoutNotarized Layout = iota
	// LayoutLegacyStatus reports the outcome under "status".
	LayoutLegacyStatus
	// LayoutSandbox is the local simulator format with "seal" and "retry_with".
	LayoutSandbox
)

func (l Layout) String() string {
	switch l {
	case LayoutNotarized:
		return "notarized"
	case LayoutLegacyStatus:
		return "legacy_status"
	case LayoutSandbox:
		return "sandbox"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// DetectLayout inspects the top-level members of a decision body.
func DetectLayout(members map[string]json.RawMessage) Layout {
	_, hasDecision := members["decision"]
	_, hasStatus := members["status"]
	_, hasSeal := members["seal"]
	_, hasApproved := members["approved"]
	switch {
	case hasSeal || hasApproved:
		return LayoutSandbox
	case !hasDecision && hasStatus:
		return LayoutLegacyStatus
	default:
		return LayoutNotarized
	}
}

// ParseDecision decodes a decision body of any known layout into one
// DecisionRecord. Fields resolve in a fixed order:
//
//	decision: "decision", then "status", then DENIED
//	seal:     "notary_seal", then "seal" when it names signed_fields
//	retry:    "retry_with.amount_cents", then a positive
//	          "denial.actionable.available_cents"
func ParseDecision(data []byte) (*DecisionRecord, Layout, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil || members == nil {
		return nil, 0, fmt.Errorf("%w: decision body is not a JSON object", ErrMalformedResponse)
	}
	layout := DetectLayout(members)

	var rec DecisionRecord
	if layout == LayoutSandbox {
		// The simulator nests timestamps and limit snapshots under "raw".
		if raw, ok := members["raw"]; ok {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return nil, layout, fmt.Errorf("%w: raw: %v", ErrMalformedResponse, err)
			}
		}
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, layout, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if rec.Decision == "" {
		var status string
		if raw, ok := members["status"]; ok {
			_ = json.Unmarshal(raw, &status)
		}
		if status != "" {
			rec.Decision = status
		} else {
			rec.Decision = DecisionDenied
		}
	}

	if rec.NotarySeal == nil {
		if raw, ok := members["seal"]; ok {
			var seal NotarySeal
			if err := json.Unmarshal(raw, &seal); err == nil && len(seal.SignedFields) > 0 {
				rec.NotarySeal = &seal
			}
		}
	}

	if layout == LayoutSandbox {
		if rec.Payment == nil {
			if raw, ok := members["payment"]; ok && !emptyJSON(raw) {
				rec.Payment = raw
			}
		}
		if rec.Denial == nil && rec.Decision == DecisionDenied {
			var flat struct {
				Message    string `json:"message"`
				Suggestion string `json:"suggestion"`
			}
			_ = json.Unmarshal(data, &flat)
			rec.Denial = &DenialDetail{
				ReasonCode: rec.ReasonCode,
				Message:    flat.Message,
				Hint:       flat.Suggestion,
			}
			if rec.RetryWith != nil {
				rec.Denial.Actionable.AvailableCents = Int64(rec.RetryWith.AmountCents)
			}
		}
	}

	if rec.RetryWith == nil && rec.Denial != nil {
		if avail := rec.Denial.Actionable.AvailableCents; avail != nil && *avail > 0 {
			rec.RetryWith = &RetryWith{AmountCents: *avail}
		}
	}

	return &rec, layout, nil
}

// ParseBudget decodes a budget query result. A missing enforcement mode
// means enforce.
func ParseBudget(data []byte) (*BudgetView, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil || members == nil {
		return nil, fmt.Errorf("%w: budget body is not a JSON object", ErrMalformedResponse)
	}
	var view BudgetView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if view.EnforcementMode == "" {
		view.EnforcementMode = EnforcementEnforce
	}
	return &view, nil
}
