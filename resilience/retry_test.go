package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_Success(t *testing.T) {
	config := DefaultRetryConfig()
	config.InitialBackoff = time.Millisecond
	attempts := 0

	err := Retry(context.Background(), config, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("temporary error")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	config := RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		RetryableErrors:   DefaultRetryableErrors,
	}

	attempts := 0
	persistent := errors.New("persistent error")
	err := Retry(context.Background(), config, func() error {
		attempts++
		return persistent
	})

	assert.ErrorIs(t, err, persistent)
	assert.Equal(t, 3, attempts, "initial attempt and two retries")
}

func TestRetry_PermanentError(t *testing.T) {
	config := DefaultRetryConfig()
	attempts := 0
	bind := errors.New("bind failed")

	err := Retry(context.Background(), config, func() error {
		attempts++
		return Permanent(bind)
	})

	assert.ErrorIs(t, err, bind)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	config := DefaultRetryConfig()
	config.InitialBackoff = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	err := Retry(ctx, config, func() error {
		attempts++
		return errors.New("temporary error")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
}

func TestDefaultRetryableErrors(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{errors.New("network error"), true},
		{Permanent(errors.New("socket closed")), false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.retryable, DefaultRetryableErrors(tt.err), "%v", tt.err)
	}
	assert.Nil(t, Permanent(nil))
}

func TestCalculateBackoff(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{5, time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, calculateBackoff(tt.attempt, config), "attempt %d", tt.attempt)
	}
}

func TestCalculateBackoffWithJitter(t *testing.T) {
	config := RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	results := make(map[time.Duration]bool)
	for range 10 {
		results[calculateBackoff(1, config)] = true
	}
	assert.GreaterOrEqual(t, len(results), 2, "jitter should vary the wait")
	for d := range results {
		assert.True(t, d >= 180*time.Millisecond && d <= 220*time.Millisecond, "jittered backoff %v", d)
	}
}

func TestRounds(t *testing.T) {
	config := RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    16 * time.Second,
		MaxBackoff:        64 * time.Second,
		BackoffMultiplier: 2.0,
	}

	var waits []time.Duration
	for attempt, wait := range Rounds(config) {
		assert.Equal(t, len(waits), attempt)
		waits = append(waits, wait)
	}
	assert.Equal(t, []time.Duration{16 * time.Second, 32 * time.Second, 64 * time.Second, 64 * time.Second}, waits)

	config.MaxRetries = -1
	n := 0
	for range Rounds(config) {
		n++
	}
	assert.Equal(t, 1, n)
}
