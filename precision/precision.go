// Package precision derives decimal precision, tick and step values from the
// different representations exchanges publish.
package precision

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Of returns the number of fractional digits in s after dropping any sign and
// trailing zeros. "0.0010" -> 3, "1" -> 0, "100" -> 0.
func Of(s string) int {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "+-")
	if d, err := decimal.NewFromString(s); err == nil && strings.ContainsAny(s, "eE") {
		s = d.String()
	}
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	frac := strings.TrimRight(s[dot+1:], "0")
	return len(frac)
}

// TickFromPrecision returns 10^-p formatted with exactly p fractional digits.
func TickFromPrecision(p int) string {
	if p <= 0 {
		return "1"
	}
	return "0." + strings.Repeat("0", p-1) + "1"
}

// Normalize strips trailing zeros from a decimal string, e.g. "0.01000000" -> "0.01".
// Unparseable input is returned trimmed but otherwise untouched.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.String()
}

// StepFromMultiplier multiplies a base step by a contract multiplier using
// exact decimal arithmetic.
func StepFromMultiplier(baseStep, multiplier string) (string, error) {
	b, err := decimal.NewFromString(strings.TrimSpace(baseStep))
	if err != nil {
		return "", fmt.Errorf("parse base step %q: %w", baseStep, err)
	}
	m, err := decimal.NewFromString(strings.TrimSpace(multiplier))
	if err != nil {
		return "", fmt.Errorf("parse multiplier %q: %w", multiplier, err)
	}
	return b.Mul(m).String(), nil
}
