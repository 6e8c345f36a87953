// Package core holds the domain model shared by every service package:
// monthly records, the tier policy rows, ledger entries, vaults and the
// failure taxonomy.
//
// This file contains parsing and checked arithmetic for monetary amounts.
// All amounts are carried as int64 currency minor units; cumulative ledger
// counters reject overflow instead of wrapping.
package core

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ParseAmount converts a decimal string to currency minor units with
// half-up rounding on the third decimal place.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators.
// The result is always positive. Returns an error for invalid formats,
// negative values, or zero amounts.
//
// Examples:
//
//	ParseAmount("12.34") -> 1234, nil
//	ParseAmount("12,34") -> 1234, nil
//	ParseAmount("12.345") -> 1234, nil (rounds down)
//	ParseAmount("12.346") -> 1235, nil (rounds up)
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidInput
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		// Only positive values allowed
		return 0, ErrInvalidInput
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidInput
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidInput
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidInput
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidInput
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = math.MaxInt64 / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidInput
	}
	// Take first two fractional digits; then half-up rounding on third
	var frac int64
	if len(fracPart) > 0 {
		d1 := int64(fracPart[0] - '0')
		frac = d1 * 10
		if len(fracPart) > 1 {
			d2 := int64(fracPart[1] - '0')
			frac += d2
			if len(fracPart) > 2 {
				if fracPart[2] >= '5' {
					frac++
				}
			}
		}
	}
	units := iv*100 + frac
	if units <= 0 {
		return 0, ErrInvalidInput
	}
	return units, nil
}

// AddChecked adds two non-negative amounts, rejecting overflow.
func AddChecked(a, b int64) (int64, error) {
	if b > math.MaxInt64-a {
		return 0, Wrapf(ErrInvalidInput, "amount overflow adding %d to %d", b, a)
	}
	return a + b, nil
}

// MulChecked multiplies two non-negative amounts, rejecting overflow.
func MulChecked(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxInt64/b {
		return 0, Wrapf(ErrInvalidInput, "amount overflow multiplying %d by %d", a, b)
	}
	return a * b, nil
}
