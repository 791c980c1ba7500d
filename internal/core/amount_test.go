package core

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"-40", "-40", true},
		{" -12,5 ", "-12.5", true},
		{"0", "0", true},
		{"NaN", "", false},
		{"Inf", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
		{"1e50000000", "", false},
		{"1E3", "", false},
		{"1,000", "", false},
		{"12.345", "", false},
		{"12.50", "12.5", true},
		{"999999999999999999", "999999999999999999", true},
		{"1000000000000000000", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
			continue
		}
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%q expected validation error, got %v", tc.in, err)
		}
	}
}

func TestAmountFromFloat(t *testing.T) {
	d, err := AmountFromFloat(-40.5)
	if err != nil || !d.Equal(decimal.RequireFromString("-40.5")) {
		t.Fatalf("unexpected conversion: %s, %v", d, err)
	}
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e300} {
		if _, err := AmountFromFloat(f); !errors.Is(err, ErrValidation) {
			t.Fatalf("%v expected validation error, got %v", f, err)
		}
	}
}

func TestCheckAmount(t *testing.T) {
	cases := []struct {
		name        string
		d           decimal.Decimal
		maxFraction int
		ok          bool
	}{
		{"plain", decimal.RequireFromString("-40.5"), InputFractionDigits, true},
		{"huge exponent", decimal.New(1, 50000000), StoredFractionDigits, false},
		{"zero with huge exponent", decimal.New(0, 50000000), StoredFractionDigits, false},
		{"tiny exponent", decimal.New(1, -50000000), StoredFractionDigits, false},
		{"float repr", decimal.RequireFromString("0.30000000000000004"), StoredFractionDigits, true},
		{"too precise for input", decimal.RequireFromString("0.125"), InputFractionDigits, false},
		{"eighteen digits", decimal.New(1, 17), InputFractionDigits, true},
		{"nineteen digits", decimal.New(1, 18), InputFractionDigits, false},
	}
	for _, tc := range cases {
		err := CheckAmount(tc.d, tc.maxFraction)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount("₹", decimal.RequireFromString("-40")); got != "₹-40.00" {
		t.Fatalf("unexpected format %q", got)
	}
}
