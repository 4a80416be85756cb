package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/classy-pay-client/pkg/logging"
)

const (
	// DefaultThrottleDelay is how long a request waits in the warning state.
	DefaultThrottleDelay = 1 * time.Second

	// DefaultMaxStateAge is how long stored state is trusted without a
	// fresh response refreshing it.
	DefaultMaxStateAge = 5 * time.Minute
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payclient_rate_limit_remaining",
		Help: "Requests remaining in the current rate limit window",
	}, []string{"token"})

	rateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payclient_rate_limit_blocks_total",
		Help: "Total number of requests blocked due to critical rate limit",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payclient_rate_limit_throttles_total",
		Help: "Total number of requests throttled due to warning rate limit",
	})
)

// Tracker monitors the API rate limit for one credential and gates requests.
type Tracker struct {
	redis         *redis.Client
	token         string
	label         string
	throttleDelay time.Duration
	maxStateAge   time.Duration
	logger        zerolog.Logger
}

// NewTracker creates a new rate limit tracker. State is namespaced by token
// so clients with different credentials never share a budget.
func NewTracker(redisClient *redis.Client, token string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		token:         token,
		label:         tokenLabel(token),
		throttleDelay: DefaultThrottleDelay,
		maxStateAge:   DefaultMaxStateAge,
		logger:        logger.With().Str("token", logging.Redact(token)).Logger(),
	}
}

// tokenLabel identifies a credential in metric labels without exposing it.
// The digest keeps credentials sharing a prefix apart.
func tokenLabel(token string) string {
	sum := sha256.Sum256([]byte(token))
	return logging.Redact(token) + ":" + hex.EncodeToString(sum[:4])
}

// SetThrottleDelay overrides the warning-state delay (for testing).
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// SetMaxStateAge overrides how long stored state is trusted.
func (t *Tracker) SetMaxStateAge(d time.Duration) {
	t.maxStateAge = d
}

func (t *Tracker) key(suffix string) string {
	return keyPrefix + t.token + suffix
}

// GetState retrieves the current rate limit state from Redis.
// Returns a default healthy state if no data exists in Redis or the stored
// data is older than the max state age.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	values, err := t.redis.MGet(ctx,
		t.key(keySuffixRemaining),
		t.key(keySuffixReset),
		t.key(keySuffixUpdate),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	if values[0] == nil {
		t.logger.Debug().Msg("No rate limit state in Redis, returning default healthy state")
		return defaultState(), nil
	}

	remaining, err := strconv.Atoi(fmt.Sprint(values[0]))
	if err != nil {
		return nil, fmt.Errorf("parse remaining: %w", err)
	}

	state := &RateLimitState{Remaining: remaining}

	if values[1] != nil {
		resetUnix, err := strconv.ParseInt(fmt.Sprint(values[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse reset timestamp: %w", err)
		}
		state.ResetAt = time.Unix(resetUnix, 0)
	}

	if values[2] != nil {
		lastUpdate, err := time.Parse(time.RFC3339Nano, fmt.Sprint(values[2]))
		if err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
		state.LastUpdate = lastUpdate
	}

	if t.maxStateAge > 0 && state.IsStale(t.maxStateAge) {
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Time("last_update", state.LastUpdate).
			Msg("Rate limit state is stale, returning default healthy state")
		return defaultState(), nil
	}

	state.UpdateHealth()
	return state, nil
}

func defaultState() *RateLimitState {
	now := time.Now()
	return &RateLimitState{
		Remaining:  100, // Assume healthy until we get real data
		ResetAt:    now,
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// UpdateFromHeaders parses rate limit headers and updates Redis state.
// Responses without the headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	if t.redis == nil {
		return errors.New("redis client is not configured")
	}

	now := time.Now()
	state := &RateLimitState{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	// Keys expire with the window so a stale critical state cannot block forever.
	ttl := time.Duration(resetSeconds)*time.Second + time.Minute

	pipe := t.redis.TxPipeline()
	pipe.Set(ctx, t.key(keySuffixRemaining), remain, ttl)
	pipe.Set(ctx, t.key(keySuffixReset), state.ResetAt.Unix(), ttl)
	pipe.Set(ctx, t.key(keySuffixUpdate), state.LastUpdate.Format(time.RFC3339Nano), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}

	rateLimitRemaining.WithLabelValues(t.label).Set(float64(remain))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit CRITICAL - requests will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Rate limit WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Bool("is_healthy", state.IsHealthy).
			Msg("Rate limit state updated")
	}

	return nil
}

// ShouldAllowRequest checks if a request should be allowed based on current state.
// Returns false if the request must be blocked. In the warning state it waits
// for the throttle delay (or until ctx is done) before allowing.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get rate limit state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Rate limit critical - blocking request")

		rateLimitBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Msg("Rate limit warning - throttling request")

		rateLimitThrottlesTotal.Inc()
		select {
		case <-time.After(t.throttleDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	return true, nil
}
