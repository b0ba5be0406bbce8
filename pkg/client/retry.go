package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter randomizes each backoff by ±Jitter (0.2 = ±20%).
	Jitter float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// newBackOff builds the retry schedule for one request.
func (rc RetryConfig) newBackOff() *retryAfterBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.InitialBackoff
	b.MaxInterval = rc.MaxBackoff
	b.Multiplier = rc.BackoffMultiplier
	b.RandomizationFactor = rc.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	maxRetries := rc.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &retryAfterBackOff{BackOff: backoff.WithMaxRetries(b, uint64(maxRetries))}
}

// retryAfterBackOff lets a 429 response replace the next exponential
// interval with the server's Retry-After value. The retry budget is still
// consumed.
type retryAfterBackOff struct {
	backoff.BackOff
	override    time.Duration
	hasOverride bool
}

// setRetryAfter makes the next interval d.
func (b *retryAfterBackOff) setRetryAfter(d time.Duration) {
	b.override = d
	b.hasOverride = true
}

// NextBackOff implements backoff.BackOff.
func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if b.hasOverride {
		b.hasOverride = false
		return b.override
	}
	return next
}
