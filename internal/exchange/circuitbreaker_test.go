package exchange

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: 50 * time.Millisecond})
	failing := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		err := cb.Call(failing)
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Call(func() error { return nil })
	assert.Error(t, err, "open breaker should reject immediately")
}

func TestCircuitBreakerRecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond})
	_ = cb.Call(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	err := cb.Call(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}
