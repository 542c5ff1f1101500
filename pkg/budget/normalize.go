package budget

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/Idkasam/kora-sdk/pkg/money"
)

var vendorCaser = cases.Lower(language.Und)

// NormalizeVendor trims, NFC-normalizes and lower-cases a vendor id so that
// visually identical ids compare equal.
func NormalizeVendor(v string) string {
	return vendorCaser.String(norm.NFC.String(strings.TrimSpace(v)))
}

// NormalizeCurrency upper-cases a three-letter ASCII code. ok is false for
// anything else.
func NormalizeCurrency(c string) (code string, ok bool) {
	if len(c) != 3 {
		return "", false
	}
	for i := 0; i < 3; i++ {
		b := c[i]
		if !('a' <= b && b <= 'z' || 'A' <= b && b <= 'Z') {
			return "", false
		}
	}
	return strings.ToUpper(c), true
}

func validateRequest(req SpendRequest) (SpendRequest, error) {
	if req.MandateID == "" {
		return req, &ValidationError{Field: "mandate_id", Reason: "must not be empty"}
	}
	if !money.New(req.AmountCents, req.Currency).IsPositive() {
		return req, &ValidationError{Field: "amount_cents", Reason: "must be a positive integer"}
	}
	vendor := NormalizeVendor(req.VendorID)
	if vendor == "" {
		return req, &ValidationError{Field: "vendor_id", Reason: "must be non-empty text"}
	}
	currency, ok := NormalizeCurrency(req.Currency)
	if !ok {
		return req, &ValidationError{Field: "currency", Reason: "must be a 3-letter ISO 4217 code"}
	}
	if req.TTLSeconds < 0 {
		return req, &ValidationError{Field: "ttl_seconds", Reason: "must not be negative"}
	}
	req.VendorID = vendor
	req.Currency = currency
	return req, nil
}

func validateMandate(m Mandate) (Mandate, error) {
	if strings.TrimSpace(m.ID) == "" {
		return m, &ValidationError{Field: "mandate.id", Reason: "must not be empty"}
	}
	if m.Currency == "" {
		m.Currency = DefaultCurrency
	}
	currency, ok := NormalizeCurrency(m.Currency)
	if !ok {
		return m, &ValidationError{Field: "mandate.currency", Reason: "must be a 3-letter ISO 4217 code"}
	}
	m.Currency = currency
	if m.DailyLimitCents < 0 || m.MonthlyLimitCents < 0 {
		return m, &ValidationError{Field: "mandate.limits", Reason: "must not be negative"}
	}
	if m.PerTransactionMaxCents != nil && *m.PerTransactionMaxCents < 0 {
		return m, &ValidationError{Field: "mandate.per_transaction_max_cents", Reason: "must not be negative"}
	}
	switch m.EnforcementMode {
	case "":
		m.EnforcementMode = DefaultEnforcementMode
	case "enforce", "log_only":
	default:
		return m, &ValidationError{Field: "mandate.enforcement_mode", Reason: "must be enforce or log_only"}
	}
	return m, nil
}
