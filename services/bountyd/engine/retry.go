package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"bountybot/services/bountyd/rail"
)

// withRetry runs a rail call, retrying with exponential backoff while the
// rail is unreachable. Logical rejections are permanent. Mutating calls are
// only routed through here when they carry an idempotency key, so a retry
// after an unknown outcome cannot double-apply.
func (e *Engine) withRetry(ctx context.Context, railName string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	err := backoff.Retry(func() error {
		callErr := op()
		if callErr == nil {
			return nil
		}
		e.classifyRailError(railName, callErr)
		if rail.IsUnreachable(callErr) {
			return callErr
		}
		return backoff.Permanent(callErr)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, e.maxRetries), ctx))
	return err
}
