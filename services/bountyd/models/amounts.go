package models

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// AmountDecimals bounds the fractional precision persisted to the ledger.
// Seven digits matches the payout rail's native unit resolution.
const AmountDecimals = 7

var errAmountEmpty = errors.New("models: amount is empty")

// ParseAmount converts a decimal string into an exact rational. Negative
// values are rejected; every monetary quantity in the system is non-negative.
func ParseAmount(raw string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errAmountEmpty
	}
	value, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("models: invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("models: negative amount %q", raw)
	}
	return value, nil
}

// QuantizeAmount truncates a rational to AmountDecimals fractional digits,
// rounding toward zero. Values produced by arithmetic (escalation steps, fee
// subtraction) must be quantized before any cap comparison or persistence so
// the exact value and the ledger string never disagree.
func QuantizeAmount(value *big.Rat) *big.Rat {
	if value == nil {
		return new(big.Rat)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(AmountDecimals), nil)
	scaled := new(big.Rat).Mul(value, new(big.Rat).SetInt(scale))
	truncated := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	return new(big.Rat).SetFrac(truncated, scale)
}

// FormatAmount renders a rational as the canonical ledger string: fixed
// precision with trailing zeros stripped. All comparisons against persisted
// amounts must go through this form so conditional updates match exactly.
func FormatAmount(value *big.Rat) string {
	if value == nil {
		return "0"
	}
	s := value.FloatString(AmountDecimals)
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
