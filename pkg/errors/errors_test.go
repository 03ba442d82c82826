package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "auth expired",
			err:      AuthExpired("session invalid", 401),
			expected: KindAuthExpired,
		},
		{
			name:     "rate limited",
			err:      RateLimited(429, 30*time.Second),
			expected: KindRateLimited,
		},
		{
			name:     "wrapped transient",
			err:      fmt.Errorf("fetching page: %w", Transient("connection reset", 0, nil)),
			expected: KindTransient,
		},
		{
			name:     "rules unavailable survives wrapping",
			err:      fmt.Errorf("signing request: %w", RulesUnavailable(nil)),
			expected: KindRulesUnavailable,
		},
		{
			name:     "plain error defaults to transient",
			err:      fmt.Errorf("dial tcp: connection refused"),
			expected: KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestFromStatusCode(t *testing.T) {
	assert.Equal(t, KindAuthExpired, FromStatusCode(401, "").Kind)
	assert.Equal(t, KindPermanent, FromStatusCode(403, "").Kind)
	assert.Equal(t, KindPermanent, FromStatusCode(404, "").Kind)
	assert.Equal(t, KindPermanent, FromStatusCode(410, "").Kind)
	assert.Equal(t, KindRateLimited, FromStatusCode(429, "").Kind)
	assert.Equal(t, KindTransient, FromStatusCode(500, "").Kind)
	assert.Equal(t, KindTransient, FromStatusCode(503, "").Kind)
	assert.Equal(t, KindPermanent, FromStatusCode(400, "").Kind)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(KindRateLimited))
	assert.True(t, IsRetryable(KindTransient))
	assert.True(t, IsRetryable(KindRulesUnavailable))
	assert.False(t, IsRetryable(KindAuthExpired))
	assert.False(t, IsRetryable(KindPermanent))
	assert.False(t, IsRetryable(KindIncompleteStream))
}

func TestRetryAfterHint(t *testing.T) {
	err := fmt.Errorf("page fetch: %w", RateLimited(429, 45*time.Second))
	assert.Equal(t, 45*time.Second, RetryAfterHint(err))
	assert.Zero(t, RetryAfterHint(fmt.Errorf("other")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(AuthExpired("expired", 401)))
	assert.False(t, IsFatal(Permanent("gone", 404)))
}
