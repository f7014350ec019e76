// Package rail defines the shared error taxonomy for the two external money
// rails (on-chain escrow, off-chain payout). The engine's retry decisions
// hinge on this classification: transport failures are retried with backoff
// because every mutating call carries an idempotency key, while logical
// rejections are surfaced immediately and never retried.
package rail

import (
	"errors"
	"fmt"
)

// UnreachableError wraps a network or timeout failure talking to a rail. The
// call may or may not have reached the rail; retrying is safe only because
// mutating operations are idempotent-keyed.
type UnreachableError struct {
	Rail string
	Op   string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s: %s unreachable: %v", e.Rail, e.Op, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// LogicalError is a definite rejection by the rail itself: an on-chain
// revert or a payout refusal. No state mutation is assumed and automatic
// retry is forbidden.
type LogicalError struct {
	Rail   string
	Op     string
	Code   int
	Reason string
}

func (e *LogicalError) Error() string {
	return fmt.Sprintf("%s: %s rejected: %s", e.Rail, e.Op, e.Reason)
}

// IsUnreachable reports whether err represents a transport-level failure.
func IsUnreachable(err error) bool {
	var unreachable *UnreachableError
	return errors.As(err, &unreachable)
}

// IsLogical reports whether err represents a definite rail rejection.
func IsLogical(err error) bool {
	var logical *LogicalError
	return errors.As(err, &logical)
}
