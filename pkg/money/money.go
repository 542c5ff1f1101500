// Package money formats and combines amounts held in integer minor units.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

var symbols = map[string]string{
	"EUR": "€",
	"USD": "$",
	"GBP": "£",
	"SEK": "kr",
}

// Money is an amount in cents of one ISO 4217 currency.
type Money struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// New creates a Money value. The currency code is upper-cased.
func New(amountCents int64, currency string) Money {
	return Money{AmountCents: amountCents, Currency: strings.ToUpper(currency)}
}

// Add adds two amounts. Returns an error on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountCents: m.AmountCents + other.AmountCents, Currency: m.Currency}, nil
}

// IsPositive returns true if the amount is > 0.
func (m Money) IsPositive() bool {
	return m.AmountCents > 0
}

func (m Money) String() string {
	return Format(m.AmountCents, m.Currency)
}

// Format renders cents as a display amount: a symbol for EUR, USD, GBP and
// SEK, otherwise the ISO code and a space ("CHF 50.00"). Always two decimals
// with a period separator and no grouping.
func Format(amountCents int64, currency string) string {
	code := strings.ToUpper(currency)
	if sym, ok := symbols[code]; ok {
		return sym + decimal(amountCents)
	}
	return code + " " + decimal(amountCents)
}

func decimal(cents int64) string {
	sign := ""
	u := uint64(cents)
	if cents < 0 {
		sign = "-"
		u = uint64(-(cents + 1)) + 1
	}
	frac := strconv.FormatUint(u%100, 10)
	if len(frac) == 1 {
		frac = "0" + frac
	}
	return sign + strconv.FormatUint(u/100, 10) + "." + frac
}
