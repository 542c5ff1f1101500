package budget

import (
	"fmt"
	"strings"
	"time"

	"github.com/Idkasam/kora-sdk/pkg/contracts"
	"github.com/Idkasam/kora-sdk/pkg/money"
)

// Check names as they appear in evaluation traces.
const (
	CheckCurrency       = "currency_match"
	CheckVendor         = "vendor_allowlist"
	CheckPerTransaction = "per_transaction_limit"
	CheckDaily          = "daily_limit"
	CheckMonthly        = "monthly_limit"
)

// Trace step results.
const (
	stepPass = "pass"
	stepFail = "fail"
	stepSkip = "skip"
)

type checkFunc func(ev *evaluation) (result string, input map[string]any, denial *contracts.DenialDetail)

type check struct {
	name string
	fn   checkFunc
}

// pipeline is evaluated in order; the first failure wins.
var pipeline = []check{
	{CheckCurrency, checkCurrency},
	{CheckVendor, checkVendor},
	{CheckPerTransaction, checkPerTransaction},
	{CheckDaily, checkDaily},
	{CheckMonthly, checkMonthly},
}

type evaluation struct {
	req     SpendRequest
	state   *State
	now     time.Time
	started time.Time

	steps []contracts.TraceStep
	retry *contracts.RetryWith
}

// run executes the pipeline and returns the first denial, or nil.
func (ev *evaluation) run() *contracts.DenialDetail {
	for i, c := range pipeline {
		t0 := time.Now()
		result, input, denial := c.fn(ev)
		ms := time.Since(t0).Milliseconds()
		ev.steps = append(ev.steps, contracts.TraceStep{
			Step:       i + 1,
			Check:      c.name,
			Result:     result,
			DurationMs: &ms,
			Input:      input,
		})
		if denial != nil {
			return denial
		}
	}
	return nil
}

func (ev *evaluation) trace() *contracts.EvaluationTrace {
	return &contracts.EvaluationTrace{
		Steps:           ev.steps,
		TotalDurationMs: time.Since(ev.started).Milliseconds(),
	}
}

func (ev *evaluation) format(cents int64) string {
	return money.New(cents, ev.state.Currency).String()
}

func checkCurrency(ev *evaluation) (string, map[string]any, *contracts.DenialDetail) {
	input := map[string]any{"currency": ev.req.Currency, "mandate_currency": ev.state.Currency}
	if ev.req.Currency == ev.state.Currency {
		return stepPass, input, nil
	}
	return stepFail, input, &contracts.DenialDetail{
		ReasonCode:  contracts.ReasonCurrencyMismatch,
		Message:     fmt.Sprintf("Currency '%s' does not match mandate currency '%s'.", ev.req.Currency, ev.state.Currency),
		Hint:        fmt.Sprintf("Submit the request in %s.", ev.state.Currency),
		FailedCheck: map[string]any{"check": CheckCurrency, "expected": ev.state.Currency, "actual": ev.req.Currency},
	}
}

func checkVendor(ev *evaluation) (string, map[string]any, *contracts.DenialDetail) {
	allowed := ev.state.AllowedVendors
	if allowed == nil {
		return stepSkip, nil, nil
	}
	input := map[string]any{"vendor_id": ev.req.VendorID}
	for _, v := range allowed {
		if v == ev.req.VendorID {
			return stepPass, input, nil
		}
	}
	hint := "This mandate allows no vendors."
	if len(allowed) > 0 {
		hint = "Use one of the allowed vendors: " + strings.Join(allowed, ", ") + "."
	}
	return stepFail, input, &contracts.DenialDetail{
		ReasonCode:  contracts.ReasonVendorNotAllowed,
		Message:     fmt.Sprintf("Vendor '%s' is not in the allowed vendor list.", ev.req.VendorID),
		Hint:        hint,
		FailedCheck: map[string]any{"check": CheckVendor, "vendor_id": ev.req.VendorID},
	}
}

func checkPerTransaction(ev *evaluation) (string, map[string]any, *contracts.DenialDetail) {
	capPtr := ev.state.PerTxMaxCents
	if capPtr == nil {
		return stepSkip, nil, nil
	}
	limit := *capPtr
	input := map[string]any{"amount_cents": ev.req.AmountCents, "max_cents": limit}
	if ev.req.AmountCents <= limit {
		return stepPass, input, nil
	}
	ev.retry = &contracts.RetryWith{AmountCents: limit}
	return stepFail, input, &contracts.DenialDetail{
		ReasonCode: contracts.ReasonPerTransactionLimitExceeded,
		Message:    fmt.Sprintf("Per-transaction limit exceeded. Maximum: %s.", ev.format(limit)),
		Hint:       fmt.Sprintf("Reduce amount to %s.", ev.format(limit)),
		Actionable: contracts.Actionable{AvailableCents: contracts.Int64(limit)},
		FailedCheck: map[string]any{
			"check": CheckPerTransaction, "limit_cents": limit, "requested_cents": ev.req.AmountCents,
		},
	}
}

func checkDaily(ev *evaluation) (string, map[string]any, *contracts.DenialDetail) {
	return ev.checkWindow(CheckDaily, contracts.ReasonDailyLimitExceeded, "Daily", "daily",
		ev.state.DailyLimitCents, ev.state.DailySpentCents, ev.state.DailyRemaining(), nextDay(ev.now))
}

func checkMonthly(ev *evaluation) (string, map[string]any, *contracts.DenialDetail) {
	return ev.checkWindow(CheckMonthly, contracts.ReasonMonthlyLimitExceeded, "Monthly", "monthly",
		ev.state.MonthlyLimitCents, ev.state.MonthlySpentCents, ev.state.MonthlyRemaining(), nextMonth(ev.now))
}

func (ev *evaluation) checkWindow(name string, reason contracts.ReasonCode, title, window string,
	limit, spent, remaining int64, resetsAt time.Time) (string, map[string]any, *contracts.DenialDetail) {
	input := map[string]any{"amount_cents": ev.req.AmountCents, "remaining_cents": remaining}
	if ev.req.AmountCents <= remaining {
		return stepPass, input, nil
	}
	if remaining > 0 {
		ev.retry = &contracts.RetryWith{AmountCents: remaining}
	}
	return stepFail, input, &contracts.DenialDetail{
		ReasonCode: reason,
		Message: fmt.Sprintf("%s spending limit exceeded. Requested: %s. Available: %s.",
			title, ev.format(ev.req.AmountCents), ev.format(remaining)),
		Hint: fmt.Sprintf("Reduce amount to %s or wait for %s reset.", ev.format(remaining), window),
		Actionable: contracts.Actionable{
			AvailableCents: contracts.Int64(remaining),
			ResetsAt:       resetsAt.Format(resetLayout),
		},
		FailedCheck: map[string]any{
			"check": name, "limit_cents": limit, "spent_cents": spent, "requested_cents": ev.req.AmountCents,
		},
	}
}

const resetLayout = "2006-01-02T15:04:05Z"

// nextDay returns the next UTC midnight after now.
func nextDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// nextMonth returns midnight UTC on the first of the month after now.
func nextMonth(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}
