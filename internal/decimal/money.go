package decimal

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

var hundred = decimal.NewFromInt(100)

// FromString parses decimal from string, tolerating surrounding whitespace
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}

// OrZero parses an optional attribute; empty means zero
func OrZero(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return Zero, nil
	}
	return FromString(s)
}

// RatePercent converts a fractional rate such as 0.160000 into a percent (16)
func RatePercent(fraction decimal.Decimal) decimal.Decimal {
	return fraction.Mul(hundred)
}

// Cents rounds to two decimal places
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// WithinTolerance reports whether |a-b| <= tol
func WithinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}
