// Package budget evaluates spend requests against per-mandate limits and
// keeps the spend counters. Checks fail closed: a storage error never
// produces an approval.
package budget

import (
	"time"
)

// Default mandate settings, used when a mandate leaves them unset.
const (
	DefaultDailyLimitCents   int64 = 1_000_000
	DefaultMonthlyLimitCents int64 = 5_000_000
	DefaultCurrency                = "EUR"
	DefaultEnforcementMode         = "enforce"

	dayLayout = "2006-01-02"
)

// Mandate is the configured budget envelope of one agent.
type Mandate struct {
	ID                     string   `json:"id" yaml:"id"`
	Version                int64    `json:"version,omitempty" yaml:"version,omitempty"`
	Currency               string   `json:"currency" yaml:"currency"`
	DailyLimitCents        int64    `json:"daily_limit_cents" yaml:"daily_limit_cents"`
	MonthlyLimitCents      int64    `json:"monthly_limit_cents" yaml:"monthly_limit_cents"`
	PerTransactionMaxCents *int64   `json:"per_transaction_max_cents,omitempty" yaml:"per_transaction_max_cents,omitempty"`
	AllowedVendors         []string `json:"allowed_vendors,omitempty" yaml:"allowed_vendors,omitempty"`
	EnforcementMode        string   `json:"enforcement_mode,omitempty" yaml:"enforcement_mode,omitempty"`
}

// DefaultMandate returns a mandate with the default limits: €10,000 a day,
// €50,000 a month, no per-transaction cap and no vendor allow-list.
func DefaultMandate(id string) Mandate {
	return Mandate{
		ID:                id,
		Currency:          DefaultCurrency,
		DailyLimitCents:   DefaultDailyLimitCents,
		MonthlyLimitCents: DefaultMonthlyLimitCents,
		EnforcementMode:   DefaultEnforcementMode,
	}
}

// State is the persisted budget of one mandate: its limits and counters.
type State struct {
	MandateID         string   `json:"mandate_id"`
	MandateVersion    int64    `json:"mandate_version"`
	Currency          string   `json:"currency"`
	DailyLimitCents   int64    `json:"daily_limit_cents"`
	MonthlyLimitCents int64    `json:"monthly_limit_cents"`
	PerTxMaxCents     *int64   `json:"per_transaction_max_cents,omitempty"`
	AllowedVendors    []string `json:"allowed_vendors"`
	EnforcementMode   string   `json:"enforcement_mode"`

	DailySpentCents   int64     `json:"daily_spent_cents"`
	MonthlySpentCents int64     `json:"monthly_spent_cents"`
	CurrentDay        string    `json:"current_day"` // UTC date, YYYY-MM-DD
	TxCount           int64     `json:"tx_count"`
	UpdatedAt         time.Time `json:"updated_at"`

	// Version is the optimistic concurrency token. Zero means never stored.
	Version int64 `json:"version"`
}

// DailyRemaining returns how much budget is remaining for the day.
func (s *State) DailyRemaining() int64 {
	remaining := s.DailyLimitCents - s.DailySpentCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MonthlyRemaining returns how much budget is remaining for the month.
func (s *State) MonthlyRemaining() int64 {
	remaining := s.MonthlyLimitCents - s.MonthlySpentCents
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Rollover zeroes the counters of windows that ended before now. A new UTC
// day zeroes the daily counter; a new day that is the first of a month also
// zeroes the monthly counter. Repeated calls on the same day are no-ops. It
// reports whether anything changed.
func (s *State) Rollover(now time.Time) bool {
	now = now.UTC()
	today := now.Format(dayLayout)
	if s.CurrentDay == today {
		return false
	}
	s.DailySpentCents = 0
	if now.Day() == 1 {
		s.MonthlySpentCents = 0
	}
	s.CurrentDay = today
	return true
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	if s.PerTxMaxCents != nil {
		v := *s.PerTxMaxCents
		c.PerTxMaxCents = &v
	}
	if s.AllowedVendors != nil {
		c.AllowedVendors = append([]string{}, s.AllowedVendors...)
	}
	return &c
}

// apply copies the configuration of m onto s, keeping the counters.
func (s *State) apply(m Mandate) {
	s.MandateID = m.ID
	s.MandateVersion = m.Version
	s.Currency = m.Currency
	s.DailyLimitCents = m.DailyLimitCents
	s.MonthlyLimitCents = m.MonthlyLimitCents
	s.PerTxMaxCents = nil
	if m.PerTransactionMaxCents != nil {
		v := *m.PerTransactionMaxCents
		s.PerTxMaxCents = &v
	}
	s.AllowedVendors = nil
	if m.AllowedVendors != nil {
		s.AllowedVendors = make([]string, 0, len(m.AllowedVendors))
		for _, v := range m.AllowedVendors {
			s.AllowedVendors = append(s.AllowedVendors, NormalizeVendor(v))
		}
	}
	s.EnforcementMode = m.EnforcementMode
}

// SpendRequest is one spend to evaluate.
type SpendRequest struct {
	AgentID     string
	MandateID   string
	IntentID    string // generated when empty
	AmountCents int64
	Currency    string
	VendorID    string
	TTLSeconds  int64 // contracts.DefaultTTLSeconds when zero

	// Copied onto the decision record. Not sealed.
	PaymentInstruction []byte
	Category           string
	Purpose            string
}
