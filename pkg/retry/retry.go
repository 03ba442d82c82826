// Package retry implements the engine's retry policy: error classification
// into the rate-limit / transient / permanent taxonomy and per-class
// backoff schedules.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"creatorsync/pkg/errors"
	"creatorsync/pkg/logger"
)

// Policy decides whether and when a failed operation is retried.
type Policy struct {
	// MaxAttempts bounds retryable failures per operation. The first try
	// counts as attempt 1.
	MaxAttempts int
	// Transient is the backoff schedule for transient failures.
	Transient BackoffStrategy
	// RateLimited is the backoff schedule for rate-limit responses that
	// carry no server wait hint.
	RateLimited BackoffStrategy
	// MaxRateLimitWait caps the server-supplied wait hint.
	MaxRateLimitWait time.Duration
	// OnWait, when set, is called with the error class and delay before
	// each retry wait, so long pauses can be surfaced to the user.
	OnWait func(kind errors.Kind, delay time.Duration)
}

// DefaultPolicy returns the policy used when configuration supplies none.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:      4,
		Transient:        DefaultExponentialBackoff(),
		RateLimited:      RateLimitBackoff(),
		MaxRateLimitWait: 10 * time.Minute,
	}
}

// Classify maps an error to its taxonomy kind. Rule-source outages count
// as transient because they say nothing about credential validity.
func (p *Policy) Classify(err error) errors.Kind {
	kind := errors.KindOf(err)
	if kind == errors.KindRulesUnavailable {
		return errors.KindTransient
	}
	return kind
}

// ShouldRetry reports whether the operation may run again after attempt
// attempts have failed with err.
func (p *Policy) ShouldRetry(attempt int, err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if !errors.IsRetryable(errors.KindOf(err)) {
		return false
	}
	return attempt < p.MaxAttempts
}

// NextDelay returns the wait before the retry following the given failed
// attempt. Rate-limit errors use the server hint when present, capped at
// MaxRateLimitWait; otherwise the class backoff applies.
func (p *Policy) NextDelay(attempt int, err error) time.Duration {
	if p.Classify(err) == errors.KindRateLimited {
		if hint := errors.RetryAfterHint(err); hint > 0 {
			if hint > p.MaxRateLimitWait {
				return p.MaxRateLimitWait
			}
			return hint
		}
		return p.RateLimited.NextDelay(attempt)
	}
	return p.Transient.NextDelay(attempt)
}

// Do runs op until it succeeds, exhausts the retry budget, or hits a
// non-retryable error. Waits between attempts are context aware.
func (p *Policy) Do(ctx context.Context, log logger.Logger, op func() error) error {
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			if attempt > 1 && log != nil {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		lastErr = err

		if !p.ShouldRetry(attempt, err) {
			if attempt >= p.MaxAttempts && errors.IsRetryable(errors.KindOf(err)) {
				return fmt.Errorf("max retry attempts (%d) exceeded: %w", p.MaxAttempts, lastErr)
			}
			return err
		}

		delay := p.NextDelay(attempt, err)
		if p.OnWait != nil {
			p.OnWait(p.Classify(err), delay)
		}
		if log != nil {
			log.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt":      attempt,
				"max_attempts": p.MaxAttempts,
				"class":        string(p.Classify(err)),
				"delay_ms":     delay.Milliseconds(),
				"error":        err.Error(),
			})
		}

		if err := Wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}
