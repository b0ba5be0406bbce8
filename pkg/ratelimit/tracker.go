package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	requestsRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helpdesk_rate_limit_remaining",
		Help: "Requests remaining in the current helpdesk API quota window",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpdesk_rate_limit_waits_total",
		Help: "Total number of requests held until the quota window reset",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpdesk_rate_limit_throttles_total",
		Help: "Total number of requests throttled at the warning threshold",
	})
)

// DefaultThrottle is the pause applied to each request at the warning threshold.
const DefaultThrottle = time.Second

// Tracker records quota headers and gates requests on the observed state.
type Tracker struct {
	store    Store
	logger   zerolog.Logger
	throttle time.Duration
	maxWait  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewTracker creates a tracker. A nil store keeps state in memory.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:    store,
		logger:   logger,
		throttle: DefaultThrottle,
		maxWait:  2 * Window,
		sleep:    sleepContext,
	}
}

// GetState returns the current state. A missing or expired observation
// yields a default healthy state.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	state, err := t.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		t.logger.Debug().Msg("No rate limit state stored, assuming healthy")
		return defaultState(), nil
	}
	if state.TimeUntilReset() == 0 && state.IsStale(Window) {
		return defaultState(), nil
	}
	return state, nil
}

// UpdateFromHeaders records the quota headers of a response. Responses
// without quota headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	retryAfter, hasRetryAfter := RetryAfter(headers)
	if remainStr == "" && !hasRetryAfter {
		return nil
	}

	now := time.Now()
	state := &State{
		Remaining:  RemainingHealthy,
		ResetAt:    now.Add(Window),
		LastUpdate: now,
	}

	if remainStr != "" {
		remain, err := strconv.Atoi(strings.TrimSpace(remainStr))
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
		}
		state.Remaining = remain
	}

	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
		state.Limit = limit
	}

	if hasRetryAfter {
		state.ResetAt = now.Add(retryAfter)
		if remainStr == "" {
			state.Remaining = 0
		}
	}
	state.UpdateHealth()

	if err := t.store.Save(ctx, state); err != nil {
		return err
	}

	requestsRemaining.Set(float64(state.Remaining))

	switch {
	case state.NeedsCriticalWait():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit CRITICAL - requests will wait for reset")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Msg("Rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Int("limit", state.Limit).
			Bool("is_healthy", state.IsHealthy).
			Msg("Rate limit state updated")
	}

	return nil
}

// Acquire blocks until a request may be sent. It waits for the reset at the
// critical threshold and sleeps briefly at the warning threshold. It returns
// early with the context error on cancellation.
func (t *Tracker) Acquire(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		// An unreachable store must not stop the export.
		t.logger.Warn().Err(err).Msg("Rate limit state unavailable, allowing request")
		return nil
	}

	if state.NeedsCriticalWait() {
		wait := state.TimeUntilReset()
		if wait > t.maxWait {
			wait = t.maxWait
		}
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", wait).
			Msg("Rate limit critical - waiting for reset")
		rateLimitWaitsTotal.Inc()
		return t.sleep(ctx, wait)
	}

	if state.NeedsThrottling() {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Msg("Rate limit warning - throttling request")
		rateLimitThrottlesTotal.Inc()
		return t.sleep(ctx, t.throttle)
	}

	return nil
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(headers http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(headers.Get(HeaderRetryAfter))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
