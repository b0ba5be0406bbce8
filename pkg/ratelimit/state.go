// Package ratelimit tracks the helpdesk API request quota and gates requests.
// It reads the X-Rate-Limit, X-Rate-Limit-Remaining and Retry-After response
// headers so that a run slows down before the server starts answering 429.
package ratelimit

import (
	"time"
)

// Response headers carrying quota information.
const (
	HeaderLimit      = "X-Rate-Limit"
	HeaderRemaining  = "X-Rate-Limit-Remaining"
	HeaderRetryAfter = "Retry-After"
)

// Window is the quota window of the remote API.
const Window = time.Minute

// Thresholds for gating decisions, in requests remaining in the window.
const (
	// RemainingCritical makes Acquire wait for the window to reset when fewer
	// requests than this remain.
	RemainingCritical = 5

	// RemainingWarning throttles each request when fewer requests than this remain.
	RemainingWarning = 20

	// RemainingHealthy marks the state healthy at or above this value.
	RemainingHealthy = 50
)

// State is the last observed request quota.
type State struct {
	// Limit is the request budget per window (X-Rate-Limit). Zero if unknown.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the window (X-Rate-Limit-Remaining).
	Remaining int `json:"remaining"`

	// ResetAt is when the budget is expected to refill. A Retry-After header
	// sets it exactly; otherwise it is one Window after the observation.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the headers were observed.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= RemainingHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalWait returns true if requests must wait for the reset.
func (s *State) NeedsCriticalWait() bool {
	return s.Remaining < RemainingCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < RemainingWarning && !s.NeedsCriticalWait() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the quota resets, or 0 if it already has.
func (s *State) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *State) UpdateHealth() {
	s.IsHealthy = s.Remaining >= RemainingHealthy
}

func defaultState() *State {
	now := time.Now()
	return &State{
		Remaining:  100,
		ResetAt:    now,
		LastUpdate: now,
		IsHealthy:  true,
	}
}
