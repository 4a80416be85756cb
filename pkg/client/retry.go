package client

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payclient_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payclient_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payclient_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryTransport is an http.RoundTripper that retries idempotent requests on
// network errors, 429 and 5xx responses with exponential backoff and jitter.
// Non-idempotent requests (POST, PATCH) are sent exactly once.
type RetryTransport struct {
	Base   http.RoundTripper
	Config RetryConfig
	Logger zerolog.Logger
}

// NewRetryTransport wraps base (http.DefaultTransport when nil).
func NewRetryTransport(base http.RoundTripper, config RetryConfig, logger zerolog.Logger) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = 1
	}
	return &RetryTransport{Base: base, Config: config, Logger: logger}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !isIdempotent(req.Method) || t.Config.MaxAttempts <= 1 {
		return t.Base.RoundTrip(req)
	}

	ctx := req.Context()
	backoff := t.Config.InitialBackoff

	var (
		resp     *http.Response
		err      error
		errClass ErrorClass
	)

	for attempt := 1; attempt <= t.Config.MaxAttempts; attempt++ {
		attemptReq := req
		if attempt > 1 {
			if attemptReq, err = replayRequest(req); err != nil {
				return nil, err
			}
		}

		resp, err = t.Base.RoundTrip(attemptReq)
		switch {
		case err != nil:
			errClass = ErrorClassNetwork
		case resp != nil:
			errClass = classifyStatus(resp.StatusCode)
		}

		if !shouldRetry(errClass) {
			if attempt > 1 {
				t.Logger.Info().
					Str("error_class", string(errClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return resp, err
		}

		if attempt >= t.Config.MaxAttempts {
			break
		}

		// The response is about to be discarded.
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		retriesTotal.WithLabelValues(string(errClass)).Inc()

		// Add jitter (±20% randomness)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(errClass)).Observe(jitter.Seconds())

		t.Logger.Debug().
			Str("error_class", string(errClass)).
			Str("path", req.URL.Path).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			t.Logger.Warn().
				Str("error_class", string(errClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * t.Config.BackoffMultiplier)
		if t.Config.MaxBackoff > 0 && backoff > t.Config.MaxBackoff {
			backoff = t.Config.MaxBackoff
		}
	}

	retryExhaustedTotal.WithLabelValues(string(errClass)).Inc()
	t.Logger.Warn().
		Str("error_class", string(errClass)).
		Int("max_attempts", t.Config.MaxAttempts).
		Msg("Retry attempts exhausted")

	// A final HTTP response is handed back so the caller sees the real status.
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, t.Config.MaxAttempts, err)
	}
	return resp, nil
}

// replayRequest clones req for another attempt with a fresh copy of the
// body. The caller's request is never modified, and the replayed bytes are
// the ones that were signed.
func replayRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body for %s %s cannot be replayed", req.Method, req.URL.Path)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	clone.Body = body
	return clone, nil
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}
