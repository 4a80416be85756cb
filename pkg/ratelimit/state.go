// Package ratelimit tracks the API's request budget across processes.
// It reads the X-RateLimit-Remaining and X-RateLimit-Reset response headers,
// stores the state in Redis keyed by credential, and gates requests when the
// budget runs low.
package ratelimit

import (
	"time"
)

// Response headers carrying the server's rate limit state.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Redis key suffixes for rate limit state storage. Keys are
// "payclient:rate_limit:<token>:<suffix>".
const (
	keyPrefix          = "payclient:rate_limit:"
	keySuffixRemaining = ":remaining"
	keySuffixReset     = ":reset_timestamp"
	keySuffixUpdate    = ":last_update"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks all requests when fewer requests than this remain.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests when fewer requests than this remain.
	ThresholdWarning = 20

	// ThresholdHealthy is the remaining budget at or above which no restriction applies.
	ThresholdHealthy = 50
)

// RateLimitState represents the current request budget for one credential.
type RateLimitState struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets (from X-RateLimit-Reset, seconds until reset).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be blocked.
// A window that has already reset never blocks.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && s.TimeUntilReset() > 0 && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
