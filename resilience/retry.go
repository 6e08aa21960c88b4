package resilience

import (
	"context"
	"iter"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
)

// RetryConfig describes how often an operation is attempted and how the wait
// grows between attempts.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait.
	MaxBackoff time.Duration

	// BackoffMultiplier scales the wait after every attempt.
	BackoffMultiplier float64

	// Jitter adds up to 10% random variation to each wait.
	Jitter bool

	// RetryableErrors decides whether an error is worth another attempt.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig returns a configuration doubling from one second to a
// minute over three retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
		Jitter:            false,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// DefaultRetryableErrors retries everything except nil, context
// cancellation and errors marked Permanent.
func DefaultRetryableErrors(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case IsPermanent(err):
		return false
	}
	return true
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := float64(config.InitialBackoff) * math.Pow(config.BackoffMultiplier, float64(attempt))
	if config.MaxBackoff > 0 && backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}
	if config.Jitter {
		backoff += backoff * 0.1 * (rand.Float64()*2 - 1)
	}
	return time.Duration(backoff)
}

// Rounds yields each attempt number with the wait that applies to it: the
// initial backoff for the first attempt, growing by the multiplier up to the
// cap. It yields MaxRetries+1 rounds, or one when MaxRetries is negative.
func Rounds(config RetryConfig) iter.Seq2[int, time.Duration] {
	return func(yield func(int, time.Duration) bool) {
		for attempt := 0; attempt <= max(config.MaxRetries, 0); attempt++ {
			if !yield(attempt, calculateBackoff(attempt, config)) {
				return
			}
		}
	}
}

// Retry runs fn until it succeeds, returns an error RetryableErrors rejects,
// the attempts run out, or ctx is done. It sleeps the backoff between
// attempts and returns the last error.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = DefaultRetryableErrors
	}
	var err error
	for attempt, wait := range Rounds(config) {
		if err = fn(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= config.MaxRetries {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.CombineErrors(ctx.Err(), err)
		case <-timer.C:
		}
	}
	return errors.Wrapf(err, "giving up after %d retries", config.MaxRetries)
}
