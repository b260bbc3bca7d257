package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// AmountScale is the number of decimal places kept for every amount.
	AmountScale = 2
	// MaxAmountDigits is the number of integer digits an amount column holds
	// (NUMERIC(18,2)).
	MaxAmountDigits = 16

	// maxInputScale is the most decimal places accepted before rounding.
	maxInputScale = 64
)

// MaxAmount is the largest amount a single movement or transfer may carry.
var MaxAmount = decimal.New(1, MaxAmountDigits).Sub(decimal.New(1, -AmountScale))

// RoundAmount rounds half away from zero to two decimal places.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// ValidateAmount returns d rounded to two places, or a validation error when
// it is out of range or not strictly positive after rounding. The range is
// checked on the exponent first so oversized input is never expanded.
func ValidateAmount(d decimal.Decimal) (decimal.Decimal, error) {
	rounded, err := boundedRound(d)
	if err != nil {
		return decimal.Zero, err
	}
	if !rounded.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return rounded, nil
}

// ParseAmount parses a decimal string and rounds it to two places. Zero and
// negative values are returned as is.
func ParseAmount(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount.WithMessage("amount %q is not a decimal number", raw).Wrap(err)
	}
	return boundedRound(d)
}

// FormatAmount renders an amount with exactly two decimal places.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountScale)
}

// boundedRound checks the magnitude from the exponent and digit count before
// rounding, so neither huge nor vanishingly small input is ever rescaled.
func boundedRound(d decimal.Decimal) (decimal.Decimal, error) {
	exp := int64(d.Exponent())
	if exp > MaxAmountDigits {
		return decimal.Zero, ErrAmountOutOfRange
	}
	// |d| < 10^intDigits
	intDigits := int64(d.NumDigits()) + exp
	if intDigits > MaxAmountDigits {
		return decimal.Zero, ErrAmountOutOfRange
	}
	if intDigits < -AmountScale {
		return decimal.Zero, nil
	}
	if exp < -maxInputScale {
		return decimal.Zero, ErrInvalidAmount.WithMessage(
			"amount must have at most %d decimal places", maxInputScale)
	}
	rounded := RoundAmount(d)
	if rounded.Abs().GreaterThan(MaxAmount) {
		return decimal.Zero, ErrAmountOutOfRange
	}
	return rounded, nil
}
