package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creatorsync/pkg/errors"
)

func testPolicy() *Policy {
	return &Policy{
		MaxAttempts:      3,
		Transient:        &ExponentialBackoff{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2.0},
		RateLimited:      &ExponentialBackoff{BaseDelay: 2 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2.0},
		MaxRateLimitWait: 50 * time.Millisecond,
	}
}

func TestClassify(t *testing.T) {
	p := DefaultPolicy()

	assert.Equal(t, errors.KindRateLimited, p.Classify(errors.RateLimited(429, 0)))
	assert.Equal(t, errors.KindPermanent, p.Classify(errors.Permanent("gone", 404)))
	assert.Equal(t, errors.KindAuthExpired, p.Classify(errors.AuthExpired("expired", 401)))
	// Rule-source outages are independent of credential validity.
	assert.Equal(t, errors.KindTransient, p.Classify(errors.RulesUnavailable(nil)))
	assert.Equal(t, errors.KindTransient, p.Classify(fmt.Errorf("connection reset")))
}

func TestShouldRetry(t *testing.T) {
	p := testPolicy()

	transient := errors.Transient("hiccup", 503, nil)
	assert.True(t, p.ShouldRetry(1, transient))
	assert.True(t, p.ShouldRetry(2, transient))
	assert.False(t, p.ShouldRetry(3, transient), "attempt budget exhausted")

	assert.False(t, p.ShouldRetry(1, errors.Permanent("forbidden", 403)))
	assert.False(t, p.ShouldRetry(1, errors.AuthExpired("expired", 401)))
	assert.False(t, p.ShouldRetry(1, context.Canceled))
}

func TestNextDelayUsesServerHint(t *testing.T) {
	p := testPolicy()

	hinted := errors.RateLimited(429, 30*time.Millisecond)
	assert.Equal(t, 30*time.Millisecond, p.NextDelay(1, hinted))

	// Hint above the cap is clamped.
	excessive := errors.RateLimited(429, time.Hour)
	assert.Equal(t, p.MaxRateLimitWait, p.NextDelay(1, excessive))

	// No hint falls back to the rate-limit backoff schedule.
	unhinted := errors.RateLimited(429, 0)
	assert.Greater(t, p.NextDelay(1, unhinted), time.Duration(0))
}

func TestBackoffMonotonicity(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
		// Jitter excluded so the raw schedule is visible.
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		d := eb.NextDelay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must not shrink between consecutive attempts")
		prev = d
	}
}

func TestBackoffCap(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:  time.Second,
		MaxDelay:   4 * time.Second,
		Multiplier: 2.0,
	}
	assert.Equal(t, 4*time.Second, eb.NextDelay(10))
}

func TestBaseDelayOfIgnoresJitter(t *testing.T) {
	eb := &ExponentialBackoff{
		BaseDelay:    time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		JitterFactor: 0.5,
	}
	assert.Equal(t, time.Second, eb.BaseDelayOf(1))
	assert.Equal(t, 2*time.Second, eb.BaseDelayOf(2))
	assert.Equal(t, 4*time.Second, eb.BaseDelayOf(3))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := testPolicy()

	calls := 0
	err := p.Do(context.Background(), nil, func() error {
		calls++
		if calls < 3 {
			return errors.Transient("hiccup", 502, nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	p := testPolicy()

	calls := 0
	err := p.Do(context.Background(), nil, func() error {
		calls++
		return errors.Permanent("gone", 404)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors are never retried")
	assert.Equal(t, errors.KindPermanent, errors.KindOf(err))
}

func TestDoExhaustsBudget(t *testing.T) {
	p := testPolicy()

	calls := 0
	err := p.Do(context.Background(), nil, func() error {
		calls++
		return errors.Transient("hiccup", 503, nil)
	})

	require.Error(t, err)
	assert.Equal(t, p.MaxAttempts, calls)
	assert.Contains(t, err.Error(), "max retry attempts")
}

func TestDoReportsWaitsThroughOnWait(t *testing.T) {
	p := testPolicy()

	var kinds []errors.Kind
	var delays []time.Duration
	p.OnWait = func(kind errors.Kind, delay time.Duration) {
		kinds = append(kinds, kind)
		delays = append(delays, delay)
	}

	calls := 0
	err := p.Do(context.Background(), nil, func() error {
		calls++
		if calls == 1 {
			return errors.RateLimited(429, 5*time.Millisecond)
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, kinds, 1)
	assert.Equal(t, errors.KindRateLimited, kinds[0])
	// the server hint is reported verbatim
	assert.Equal(t, 5*time.Millisecond, delays[0])
}

func TestDoCancelled(t *testing.T) {
	p := testPolicy()
	p.Transient = &ConstantBackoff{Delay: time.Minute}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Do(ctx, nil, func() error {
		return errors.Transient("hiccup", 503, nil)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
