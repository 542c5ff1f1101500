package contracts

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notarizedApproval = `{
	"decision_id": "dec_1",
	"intent_id": "int_1",
	"agent_id": "agent_a",
	"mandate_id": "mand_1",
	"mandate_version": 3,
	"decision": "APPROVED",
	"reason_code": "OK",
	"amount_cents": 5000,
	"currency": "EUR",
	"vendor_id": "aws",
	"evaluated_at": "2025-01-01T00:00:00.000Z",
	"expires_at": "2025-01-01T00:05:00.000Z",
	"ttl_seconds": 300,
	"enforcement_mode": "enforce",
	"executable": true,
	"notary_seal": {
		"signature": "c2ln",
		"public_key_id": "kora_prod_key_v1",
		"algorithm": "Ed25519",
		"signed_fields": ["intent_id", "decision"],
		"timestamp": "2025-01-01T00:00:00.000Z"
	},
	"limits_after_approval": {"daily_remaining_cents": 5000, "monthly_remaining_cents": 95000},
	"evaluation_trace": {"steps": [{"step": 1, "check": "currency", "result": "pass"}], "total_duration_ms": 2}
}`

func TestParseDecision_Notarized(t *testing.T) {
	rec, layout, err := ParseDecision([]byte(notarizedApproval))
	require.NoError(t, err)
	assert.Equal(t, LayoutNotarized, layout)
	assert.True(t, rec.Approved())
	assert.Equal(t, ReasonOK, rec.ReasonCode)
	require.NotNil(t, rec.MandateVersion)
	assert.Equal(t, int64(3), *rec.MandateVersion)
	require.NotNil(t, rec.NotarySeal)
	assert.Equal(t, []string{"intent_id", "decision"}, rec.NotarySeal.SignedFields)
	require.NotNil(t, rec.LimitsAfter)
	assert.Equal(t, int64(95000), *rec.LimitsAfter.MonthlyRemainingCents)
	require.NotNil(t, rec.Trace)
	assert.Equal(t, "currency", rec.Trace.Steps[0].Check)
	assert.True(t, rec.IsEnforced())
	assert.Nil(t, rec.RetryWith)
}

func TestParseDecision_LegacyStatus(t *testing.T) {
	rec, layout, err := ParseDecision([]byte(`{"decision_id":"d","status":"APPROVED","reason_code":"OK"}`))
	require.NoError(t, err)
	assert.Equal(t, LayoutLegacyStatus, layout)
	assert.Equal(t, DecisionApproved, rec.Decision)
}

func TestParseDecision_DecisionWinsOverStatus(t *testing.T) {
	rec, _, err := ParseDecision([]byte(`{"decision":"DENIED","status":"APPROVED"}`))
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, rec.Decision)
}

func TestParseDecision_EmptyDecisionFallsThrough(t *testing.T) {
	rec, _, err := ParseDecision([]byte(`{"decision":"","status":"APPROVED"}`))
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, rec.Decision)
}

func TestParseDecision_DefaultsToDenied(t *testing.T) {
	rec, _, err := ParseDecision([]byte(`{"decision_id":"d"}`))
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, rec.Decision)
	assert.False(t, rec.Executable)
}

func TestParseDecision_RetryFromActionable(t *testing.T) {
	body := `{"decision":"DENIED","reason_code":"DAILY_LIMIT_EXCEEDED",
		"denial":{"reason_code":"DAILY_LIMIT_EXCEEDED","message":"Daily limit exceeded","hint":"Wait",
		"actionable":{"available_cents":2500}}}`
	rec, _, err := ParseDecision([]byte(body))
	require.NoError(t, err)
	require.NotNil(t, rec.RetryWith)
	assert.Equal(t, int64(2500), rec.RetryWith.AmountCents)
}

func TestParseDecision_NoRetryWhenNothingAvailable(t *testing.T) {
	body := `{"decision":"DENIED","denial":{"actionable":{"available_cents":0}}}`
	rec, _, err := ParseDecision([]byte(body))
	require.NoError(t, err)
	assert.Nil(t, rec.RetryWith)
}

func TestParseDecision_ExplicitRetryWins(t *testing.T) {
	body := `{"decision":"DENIED","retry_with":{"amount_cents":100},"denial":{"actionable":{"available_cents":2500}}}`
	rec, _, err := ParseDecision([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.RetryWith.AmountCents)
}

func TestParseDecision_Sandbox(t *testing.T) {
	approved := `{
		"approved": true, "decision_id": "sandbox_abc", "decision": "APPROVED", "reason_code": "OK",
		"message": "Approved: €50.00 to aws", "suggestion": null, "retry_with": null,
		"payment": {"iban": "DE89", "reference": "KORA-SANDBOX-1"}, "executable": true,
		"enforcement_mode": "enforce", "amount_cents": 5000, "currency": "EUR", "vendor_id": "aws",
		"seal": {"algorithm": "Ed25519", "signature": "sandbox_sig_x", "public_key_id": "sandbox_key_v1"},
		"raw": {"sandbox": true, "evaluated_at": "2025-01-01T00:00:00.000Z", "expires_at": "2025-01-01T00:05:00.000Z",
			"limits_after_approval": {"daily_remaining_cents": 995000}}
	}`
	rec, layout, err := ParseDecision([]byte(approved))
	require.NoError(t, err)
	assert.Equal(t, LayoutSandbox, layout)
	assert.True(t, rec.Approved())
	assert.Equal(t, "2025-01-01T00:00:00.000Z", rec.EvaluatedAt)
	assert.Equal(t, "2025-01-01T00:05:00.000Z", rec.ExpiresAt)
	assert.Nil(t, rec.NotarySeal, "a seal without signed_fields is not verifiable")
	assert.JSONEq(t, `{"iban": "DE89", "reference": "KORA-SANDBOX-1"}`, string(rec.Payment))

	denied := `{
		"approved": false, "decision_id": "sandbox_def", "decision": "DENIED",
		"reason_code": "DAILY_LIMIT_EXCEEDED", "message": "Daily spending limit exceeded.",
		"suggestion": "Reduce amount.", "retry_with": {"amount_cents": 1200},
		"payment": null, "executable": false, "seal": null,
		"raw": {"sandbox": true, "evaluated_at": "2025-01-01T00:00:00.000Z",
			"limits_current": {"daily_spent_cents": 998800, "daily_limit_cents": 1000000}}
	}`
	rec, _, err = ParseDecision([]byte(denied))
	require.NoError(t, err)
	require.NotNil(t, rec.Denial)
	assert.Equal(t, "Daily spending limit exceeded.", rec.Denial.Message)
	assert.Equal(t, "Reduce amount.", rec.Denial.Hint)
	assert.Equal(t, int64(1200), *rec.Denial.Actionable.AvailableCents)
	assert.Equal(t, int64(998800), *rec.LimitsCurrent.DailySpentCents)
	assert.Nil(t, rec.Payment)
}

func TestParseDecision_SealFallback(t *testing.T) {
	body := `{"decision":"APPROVED","seal":{"signature":"c2ln","public_key_id":"k","algorithm":"Ed25519",
		"signed_fields":["decision"],"timestamp":"2025-01-01T00:00:00.000Z"}}`
	rec, _, err := ParseDecision([]byte(body))
	require.NoError(t, err)
	require.NotNil(t, rec.NotarySeal)
	assert.Equal(t, "k", rec.NotarySeal.PublicKeyID)
}

func TestParseDecision_Malformed(t *testing.T) {
	for _, body := range []string{``, `[]`, `null`, `"x"`, `{"amount_cents":"ten"}`} {
		_, _, err := ParseDecision([]byte(body))
		assert.True(t, errors.Is(err, ErrMalformedResponse), "body %q", body)
	}
}

func TestParseBudget(t *testing.T) {
	body := `{"currency":"EUR","status":"active","spend_allowed":true,
		"daily":{"limit_cents":10000,"spent_cents":2500,"remaining_cents":7500,"resets_at":"2025-01-02T00:00:00Z"},
		"monthly":{"limit_cents":100000,"spent_cents":2500,"remaining_cents":97500,"resets_at":"2025-02-01T00:00:00Z"},
		"per_transaction_max_cents":5000,
		"time_window":{"allowed_days":["mon"],"allowed_hours_local":{"start":"09:00","end":"17:00"},"currently_open":false}}`
	view, err := ParseBudget([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, EnforcementEnforce, view.EnforcementMode)
	assert.Equal(t, int64(7500), view.Daily.RemainingCents)
	assert.Equal(t, int64(5000), *view.PerTransactionMaxCents)
	assert.Nil(t, view.Velocity)
	require.NotNil(t, view.TimeWindow)
	assert.Equal(t, "09:00", view.TimeWindow.AllowedHoursLocal["start"])

	view, err = ParseBudget([]byte(`{"enforcement_mode":"log_only"}`))
	require.NoError(t, err)
	assert.Equal(t, EnforcementLogOnly, view.EnforcementMode)

	_, err = ParseBudget([]byte(`[1]`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestIsValid(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 2, 0, 0, time.UTC)
	tests := []struct {
		name      string
		expiresAt string
		want      bool
	}{
		{"no expiry", "", true},
		{"future Z", "2025-01-01T00:05:00.000Z", true},
		{"past Z", "2025-01-01T00:01:00.000Z", false},
		{"explicit offset", "2025-01-01T01:05:00+01:00", true},
		{"compact offset", "2025-01-01T01:01:00+0100", false},
		{"naive is UTC", "2025-01-01T00:05:00", true},
		{"garbage", "tomorrow", false},
		{"exactly now", "2025-01-01T00:02:00Z", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &DecisionRecord{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, rec.IsValid(now))
		})
	}
}

func TestIsEnforced(t *testing.T) {
	assert.True(t, (&DecisionRecord{}).IsEnforced())
	assert.True(t, (&DecisionRecord{EnforcementMode: String(EnforcementEnforce)}).IsEnforced())
	assert.False(t, (&DecisionRecord{EnforcementMode: String(EnforcementLogOnly)}).IsEnforced())
}

func TestSignedFields(t *testing.T) {
	in := &SpendIntent{
		IntentID: "i", AgentID: "a", MandateID: "m", AmountCents: 5000,
		Currency: "EUR", VendorID: "aws", Nonce: "n", TTLSeconds: 300,
		Category: "compute", Purpose: "GPU",
	}
	fields := in.SignedFields()
	assert.Len(t, fields, 8)
	assert.NotContains(t, fields, "payment_instruction")
	assert.NotContains(t, fields, "metadata")
	assert.NotContains(t, fields, "category")

	in.PaymentInstruction = json.RawMessage(`{}`)
	in.Metadata = map[string]any{}
	assert.Len(t, in.SignedFields(), 8)

	in.PaymentInstruction = json.RawMessage(`{"iban":"DE89"}`)
	in.Metadata = map[string]any{"run": "42"}
	assert.Len(t, in.SignedFields(), 10)

	body := in.Body()
	assert.Equal(t, "compute", body["category"])
	assert.Equal(t, "GPU", body["purpose"])
}

func TestNewSpendResult(t *testing.T) {
	rec, _, err := ParseDecision([]byte(notarizedApproval))
	require.NoError(t, err)
	res := NewSpendResult(rec)
	assert.True(t, res.Approved)
	assert.Equal(t, "Approved: €50.00 to aws", res.Message)
	assert.Empty(t, res.Suggestion)
	assert.NotNil(t, res.Seal)

	denied := &DecisionRecord{
		Decision:   DecisionDenied,
		ReasonCode: ReasonDailyLimitExceeded,
		Denial: &DenialDetail{
			Message: "Daily limit exceeded", Hint: "Try €25.00",
			Actionable: Actionable{AvailableCents: Int64(2500)},
		},
		RetryWith: &RetryWith{AmountCents: 2500},
	}
	res = NewSpendResult(denied)
	assert.False(t, res.Approved)
	assert.Equal(t, "Daily limit exceeded", res.Message)
	assert.Equal(t, "Try €25.00", res.Suggestion)
	assert.Equal(t, int64(2500), res.RetryWith.AmountCents)

	res = NewSpendResult(&DecisionRecord{Decision: DecisionDenied, ReasonCode: ReasonVendorNotAllowed})
	assert.Equal(t, "Denied: VENDOR_NOT_ALLOWED", res.Message)
}

func TestLayoutString(t *testing.T) {
	assert.Equal(t, "sandbox", LayoutSandbox.String())
	assert.Equal(t, "layout(9)", Layout(9).String())
}
