package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllow(t *testing.T) {
	tb := NewTokenBucket(3, time.Minute)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "bucket should be exhausted")
}

func TestTokenBucketRefill(t *testing.T) {
	tb := NewTokenBucket(1, 20*time.Millisecond)

	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	time.Sleep(30 * time.Millisecond)
	assert.True(t, tb.Allow(), "bucket should have refilled")
}

func TestTokenBucketReset(t *testing.T) {
	tb := NewTokenBucket(1, time.Minute)

	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	tb.Reset()
	assert.True(t, tb.Allow())
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucket(1, time.Minute)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHostPacerEnforcesDelay(t *testing.T) {
	pacer := NewHostPacer(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, pacer.Wait(ctx, "api.example.com"))
	require.NoError(t, pacer.Wait(ctx, "api.example.com"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond,
		"second request to same host should be delayed")
}

func TestHostPacerIndependentHosts(t *testing.T) {
	pacer := NewHostPacer(200 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, pacer.Wait(ctx, "api.example.com"))
	require.NoError(t, pacer.Wait(ctx, "cdn.example.com"))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 100*time.Millisecond,
		"different hosts should not delay each other")
}

func TestHostPacerZeroDelay(t *testing.T) {
	pacer := NewHostPacer(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, pacer.Wait(ctx, "api.example.com"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestHostPacerCancelled(t *testing.T) {
	pacer := NewHostPacer(time.Minute)
	ctx := context.Background()
	require.NoError(t, pacer.Wait(ctx, "api.example.com"))

	cancelled, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pacer.Wait(cancelled, "api.example.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
