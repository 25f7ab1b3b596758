// Package money validates monetary amounts. Amounts are fixed-point decimals with two fractional digits.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every amount.
const Scale = 2

// ErrInvalidAmount is returned for amounts that are not positive or carry more precision than Scale.
var ErrInvalidAmount = errors.New("amount must be a positive value with at most 2 decimal places")

// maxAmount mirrors NUMERIC(20,2): 18 integer digits.
var maxAmount = decimal.New(1, 18)

// Parse parses a decimal string and validates it with Validate.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return Validate(d)
}

// Validate returns d normalized to Scale if it is positive, fits the column and
// has no more than Scale fractional digits.
func Validate(d decimal.Decimal) (decimal.Decimal, error) {
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.Equal(d.Truncate(Scale)) {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Truncate(Scale), nil
}

// Format renders d with exactly Scale fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
