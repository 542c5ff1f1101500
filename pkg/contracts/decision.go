package contracts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Decision outcomes.
const (
	DecisionApproved = "APPROVED"
	DecisionDenied   = "DENIED"
)

// ReasonCode is the closed set of evaluation outcomes.
type ReasonCode string

const (
	ReasonOK                          ReasonCode = "OK"
	ReasonCurrencyMismatch            ReasonCode = "CURRENCY_MISMATCH"
	ReasonVendorNotAllowed            ReasonCode = "VENDOR_NOT_ALLOWED"
	ReasonPerTransactionLimitExceeded ReasonCode = "PER_TRANSACTION_LIMIT_EXCEEDED"
	ReasonDailyLimitExceeded          ReasonCode = "DAILY_LIMIT_EXCEEDED"
	ReasonMonthlyLimitExceeded        ReasonCode = "MONTHLY_LIMIT_EXCEEDED"
)

// Enforcement modes.
const (
	EnforcementEnforce = "enforce"
	EnforcementLogOnly = "log_only"
)

// TimestampLayout is the millisecond UTC layout used for evaluated_at,
// expires_at and seal timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// NotarySeal attests which subset of a decision record was signed.
type NotarySeal struct {
	Signature    string   `json:"signature"`
	PublicKeyID  string   `json:"public_key_id"`
	Algorithm    string   `json:"algorithm"`
	SignedFields []string `json:"signed_fields"`
	Timestamp    string   `json:"timestamp"`
	PayloadHash  string   `json:"payload_hash,omitempty"`
}

// Actionable carries machine-usable remediation for a denial.
type Actionable struct {
	AvailableCents *int64 `json:"available_cents,omitempty"`
	ResetsAt       string `json:"resets_at,omitempty"`
}

// DenialDetail explains a DENIED decision.
type DenialDetail struct {
	ReasonCode  ReasonCode     `json:"reason_code"`
	Message     string         `json:"message"`
	Hint        string         `json:"hint"`
	Actionable  Actionable     `json:"actionable"`
	FailedCheck map[string]any `json:"failed_check,omitempty"`
}

// RetryWith suggests an amount that would pass the failed check.
type RetryWith struct {
	AmountCents int64 `json:"amount_cents"`
}

// Limits is a snapshot of budget counters.
type Limits struct {
	DailyRemainingCents   *int64 `json:"daily_remaining_cents,omitempty"`
	MonthlyRemainingCents *int64 `json:"monthly_remaining_cents,omitempty"`
	DailySpentCents       *int64 `json:"daily_spent_cents,omitempty"`
	MonthlySpentCents     *int64 `json:"monthly_spent_cents,omitempty"`
	DailyLimitCents       *int64 `json:"daily_limit_cents,omitempty"`
	MonthlyLimitCents     *int64 `json:"monthly_limit_cents,omitempty"`
}

// TraceStep is one check of the evaluation pipeline.
type TraceStep struct {
	Step       int            `json:"step"`
	Check      string         `json:"check"`
	Result     string         `json:"result"` // pass | fail | skip
	DurationMs *int64         `json:"duration_ms,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
}

// EvaluationTrace lists the checks run for one decision.
type EvaluationTrace struct {
	Steps           []TraceStep `json:"steps"`
	TotalDurationMs int64       `json:"total_duration_ms"`
}

// DecisionRecord is the outcome of one authorization.
//
// Optional members are pointers so that absent values stay distinguishable
// from zero values; seal reconstruction signs absent values as null.
type DecisionRecord struct {
	DecisionID      string           `json:"decision_id"`
	IntentID        string           `json:"intent_id"`
	AgentID         string           `json:"agent_id"`
	MandateID       *string          `json:"mandate_id,omitempty"`
	MandateVersion  *int64           `json:"mandate_version,omitempty"`
	Decision        string           `json:"decision"`
	ReasonCode      ReasonCode       `json:"reason_code"`
	AmountCents     *int64           `json:"amount_cents,omitempty"`
	Currency        *string          `json:"currency,omitempty"`
	VendorID        *string          `json:"vendor_id,omitempty"`
	Category        string           `json:"category,omitempty"`
	Purpose         string           `json:"purpose,omitempty"`
	EvaluatedAt     string           `json:"evaluated_at"`
	ExpiresAt       string           `json:"expires_at,omitempty"`
	TTLSeconds      *int64           `json:"ttl_seconds,omitempty"`
	EnforcementMode *string          `json:"enforcement_mode,omitempty"`
	Executable      bool             `json:"executable"`
	Denial          *DenialDetail    `json:"denial,omitempty"`
	RetryWith       *RetryWith       `json:"retry_with,omitempty"`
	NotarySeal      *NotarySeal      `json:"notary_seal,omitempty"`
	LimitsAfter     *Limits          `json:"limits_after_approval,omitempty"`
	LimitsCurrent   *Limits          `json:"limits_current,omitempty"`
	Payment         json.RawMessage  `json:"payment_instruction,omitempty"`
	Trace           *EvaluationTrace `json:"evaluation_trace,omitempty"`
	TraceURL        string           `json:"trace_url,omitempty"`
	Simulated       bool             `json:"simulated,omitempty"`
}

// Approved reports whether the decision is APPROVED.
func (d *DecisionRecord) Approved() bool {
	return d.Decision == DecisionApproved
}

// IsEnforced reports whether the mandate runs in enforce mode (the default).
func (d *DecisionRecord) IsEnforced() bool {
	return d.EnforcementMode == nil || *d.EnforcementMode == EnforcementEnforce
}

// IsValid reports whether the decision has not expired at now. A record
// without expires_at never expires; an unparseable one is treated as expired.
func (d *DecisionRecord) IsValid(now time.Time) bool {
	if d.ExpiresAt == "" {
		return true
	}
	exp, err := ParseTimestamp(d.ExpiresAt)
	if err != nil {
		return false
	}
	return exp.After(now)
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses ISO-8601 timestamps with a "Z" or numeric offset
// ("+00:00" or "+0000"). Timestamps without any offset are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999Z0700", s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("contracts: unrecognized timestamp %q", s)
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// String returns a pointer to s.
func String(s string) *string { return &s }

// Int64 returns a pointer to i.
func Int64(i int64) *int64 { return &i }
