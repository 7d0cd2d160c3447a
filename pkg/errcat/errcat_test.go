package errcat

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name           string
		err            error
		category       Category
		severity       Severity
		shouldRetry    bool
		shouldFallback bool
	}{
		{
			name:           "configuration error",
			err:            errors.New("invalid configuration: topic cannot be empty"),
			category:       CategoryConfiguration,
			severity:       SeverityCritical,
			shouldRetry:    false,
			shouldFallback: true,
		},
		{
			name:           "authentication error",
			err:            errors.New("SASL authentication failed"),
			category:       CategoryAuthentication,
			severity:       SeverityHigh,
			shouldRetry:    false,
			shouldFallback: true,
		},
		{
			name:           "connection refused",
			err:            errors.New("dial tcp 127.0.0.1:9092: ECONNREFUSED"),
			category:       CategoryConnection,
			severity:       SeverityHigh,
			shouldRetry:    true,
			shouldFallback: true,
		},
		{
			name:           "timeout",
			err:            errors.New("request timed out after 5s"),
			category:       CategoryTimeout,
			severity:       SeverityMedium,
			shouldRetry:    true,
			shouldFallback: true,
		},
		{
			name:           "serialization is neither retried nor fallback logged",
			err:            errors.New("json: unsupported value"),
			category:       CategorySerialization,
			severity:       SeverityMedium,
			shouldRetry:    false,
			shouldFallback: false,
		},
		{
			name:           "circuit breaker open",
			err:            errors.New("circuit breaker is open"),
			category:       CategoryCircuitBreaker,
			severity:       SeverityMedium,
			shouldRetry:    false,
			shouldFallback: true,
		},
		{
			name:           "queue overflow",
			err:            errors.New("queue full - message dropped"),
			category:       CategoryQueueOverflow,
			severity:       SeverityMedium,
			shouldRetry:    false,
			shouldFallback: true,
		},
		{
			name:           "message sending",
			err:            errors.New("failed to produce message"),
			category:       CategoryMessageSending,
			severity:       SeverityMedium,
			shouldRetry:    true,
			shouldFallback: true,
		},
		{
			name:           "unknown fallthrough",
			err:            errors.New("something unexpected happened"),
			category:       CategoryUnknown,
			severity:       SeverityMedium,
			shouldRetry:    true,
			shouldFallback: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			categorized := Classify(tc.err)
			require.NotNil(t, categorized)

			assert.Equal(t, tc.category, categorized.Category)
			assert.Equal(t, tc.severity, categorized.Severity)
			assert.Equal(t, tc.shouldRetry, categorized.ShouldRetry)
			assert.Equal(t, tc.shouldFallback, categorized.ShouldFallback)
			assert.ErrorIs(t, categorized, tc.err)
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// "invalid" belongs to configuration even when the text also mentions a send.
	categorized := Classify(errors.New("invalid message during send"))

	assert.Equal(t, CategoryConfiguration, categorized.Category)
	assert.False(t, categorized.ShouldRetry)
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassify_WrappedError(t *testing.T) {
	inner := errors.New("ETIMEDOUT")
	categorized := Classify(fmt.Errorf("sending batch: %w", inner))

	assert.Equal(t, CategoryTimeout, categorized.Category)
	assert.ErrorIs(t, categorized, inner)
}

func TestSeverityLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, SeverityCritical.LogLevel())
	assert.Equal(t, slog.LevelError, SeverityHigh.LogLevel())
	assert.Equal(t, slog.LevelWarn, SeverityMedium.LogLevel())
	assert.Equal(t, slog.LevelInfo, SeverityLow.LogLevel())
}

func TestIsDisabling(t *testing.T) {
	assert.True(t, IsDisabling(CategoryConfiguration))
	assert.True(t, IsDisabling(CategoryAuthentication))
	assert.False(t, IsDisabling(CategoryConnection))
	assert.False(t, IsDisabling(CategoryUnknown))
}
