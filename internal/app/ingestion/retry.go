package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ahrav/mot-ingest/internal/domain/mot"
)

// RetryPolicy bounds how a single page fetch is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy mirrors the remote API's tolerance for bursts of
// failures: five attempts with exponential backoff starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}
}

// RetryNotifyFunc is invoked before each retry with the number of the attempt
// that just failed, its error and the wait before the next attempt.
type RetryNotifyFunc func(attempt int, err error, next time.Duration)

// RetryGovernor retries transient failures of an idempotent operation.
type RetryGovernor struct {
	policy RetryPolicy
}

// NewRetryGovernor creates a RetryGovernor, filling unset policy fields from
// DefaultRetryPolicy.
func NewRetryGovernor(policy RetryPolicy) *RetryGovernor {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = def.InitialInterval
	}
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = policy.InitialInterval
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = def.Multiplier
	}
	return &RetryGovernor{policy: policy}
}

// Policy returns the effective policy.
func (g *RetryGovernor) Policy() RetryPolicy { return g.policy }

// Do runs op until it succeeds, the attempt budget is spent or ctx is done.
// It returns the number of attempts made. Exhaustion is reported as an
// error wrapping both mot.ErrRetriesExhausted and the last failure;
// cancellation stops immediately and returns the context error.
func (g *RetryGovernor) Do(ctx context.Context, op func(ctx context.Context) error, notify RetryNotifyFunc) (int, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = g.policy.InitialInterval
	expBackoff.MaxInterval = g.policy.MaxInterval
	expBackoff.Multiplier = g.policy.Multiplier
	// Attempts bound the retries, not wall time.
	expBackoff.MaxElapsedTime = 0

	// WithMaxRetries treats zero as unlimited, so a single-attempt policy
	// needs an explicit stop.
	var bounded backoff.BackOff = &backoff.StopBackOff{}
	if g.policy.MaxAttempts > 1 {
		bounded = backoff.WithMaxRetries(expBackoff, uint64(g.policy.MaxAttempts-1))
	}
	b := backoff.WithContext(bounded, ctx)

	attempts := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		return err
	}

	onRetry := func(err error, next time.Duration) {
		if notify != nil {
			notify(attempts, err, next)
		}
	}

	err := backoff.RetryNotify(operation, b, onRetry)
	if err == nil {
		return attempts, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return attempts, ctxErr
	}
	return attempts, fmt.Errorf("%w after %d attempts: %w", mot.ErrRetriesExhausted, attempts, err)
}
