package engine

import (
	"fmt"
	"math/big"

	"bountybot/services/bountyd/models"
)

// Policy computes the next escalation amount. The formula is
// min(current*Factor + Increment, max): strictly monotonic for amounts below
// the cap and exact — no floating point anywhere near money.
type Policy struct {
	Factor    *big.Rat
	Increment *big.Rat
}

// DefaultFactor multiplies the current amount by 1.5 per escalation window.
const DefaultFactor = "1.5"

// NewPolicy parses and validates an escalation policy. An empty factor
// defaults to DefaultFactor; an empty increment defaults to zero. The policy
// must make progress: factor > 1 or increment > 0.
func NewPolicy(factor, increment string) (Policy, error) {
	if factor == "" {
		factor = DefaultFactor
	}
	f, err := models.ParseAmount(factor)
	if err != nil {
		return Policy{}, fmt.Errorf("engine: escalation factor: %w", err)
	}
	one := big.NewRat(1, 1)
	if f.Cmp(one) < 0 {
		return Policy{}, fmt.Errorf("engine: escalation factor %s shrinks the amount", factor)
	}
	inc := new(big.Rat)
	if increment != "" {
		inc, err = models.ParseAmount(increment)
		if err != nil {
			return Policy{}, fmt.Errorf("engine: escalation increment: %w", err)
		}
	}
	if f.Cmp(one) == 0 && inc.Sign() == 0 {
		return Policy{}, fmt.Errorf("engine: escalation policy makes no progress")
	}
	return Policy{Factor: f, Increment: inc}, nil
}

// Next returns the escalated amount capped at max, and whether the cap was
// hit. current must be strictly below max; callers check that first. The
// step is quantized to ledger precision before the cap comparison, so the
// atMax flag always agrees with the persisted string: a step that would
// round to the ceiling must report the cap, not sit one ulp under it.
func (p Policy) Next(current, max *big.Rat) (*big.Rat, bool) {
	next := new(big.Rat).Mul(current, p.Factor)
	next.Add(next, p.Increment)
	next = models.QuantizeAmount(next)
	if next.Cmp(max) >= 0 {
		return new(big.Rat).Set(max), true
	}
	return next, false
}
