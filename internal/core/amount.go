// Package core provides amount parsing and formatting utilities.
//
// Amounts are signed decimals: positive values are income, negative values
// are expenses. Floating point input is accepted only at the boundary and
// must be finite.
package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// MaxIntegerDigits bounds the integer part of every amount.
	MaxIntegerDigits = 18
	// InputFractionDigits is the precision accepted from typed input.
	InputFractionDigits = 2
	// StoredFractionDigits bounds the precision of amounts read from a
	// ledger document, which may hold float values from older files.
	StoredFractionDigits = 20
)

// ParseAmount converts user input to a signed decimal amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading sign, with at most InputFractionDigits decimals. NaN,
// infinities, exponent notation and anything that is not a plain decimal
// number are rejected with ErrValidation.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("-12,5")  -> -12.5, nil
//	ParseAmount("1,000")  -> 0, ErrValidation
//	ParseAmount("NaN")    -> 0, ErrValidation
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", ErrValidation)
	}
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}
	if err := CheckAmount(d, InputFractionDigits); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// CheckAmount returns ErrValidation when d has more than MaxIntegerDigits
// integer digits or more than maxFraction decimals. It works on the
// coefficient and exponent and never expands d to text.
func CheckAmount(d decimal.Decimal, maxFraction int) error {
	exp := int64(d.Exponent())
	if exp < -int64(maxFraction) {
		return fmt.Errorf("%w: amount has more than %d decimals", ErrValidation, maxFraction)
	}
	if int64(d.NumDigits())+exp > MaxIntegerDigits {
		return fmt.Errorf("%w: amount has more than %d integer digits", ErrValidation, MaxIntegerDigits)
	}
	return nil
}

// AmountFromFloat converts a float to a decimal amount, rejecting NaN and
// infinite values instead of storing them.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("%w: amount must be finite, got %v", ErrValidation, f)
	}
	d := decimal.NewFromFloat(f)
	if err := CheckAmount(d, StoredFractionDigits); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// FormatAmount renders an amount with two decimals and a currency symbol,
// e.g. "₹-40.00".
func FormatAmount(symbol string, d decimal.Decimal) string {
	return symbol + d.StringFixed(2)
}
