package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/fleet-bot/internal/errors"
)

func TestWithRetry_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New(errors.CategoryCredentials, "exchange", "test", "forbidden", false)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "credential failures must not be retried")
}

func TestWithRetry_RetriesRetryableUpToAttempts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New(errors.CategoryNetwork, "exchange", "test", "boom", true)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_SucceedsMidway(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New(errors.CategoryNetwork, "exchange", "test", "boom", true)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
