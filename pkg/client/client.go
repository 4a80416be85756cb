// Package client provides the signed HTTP resource client: HMAC-signed
// requests, single-object operations and concurrent paginated listing.
package client

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/classy-pay-client/pkg/logging"
	"github.com/Sternrassler/classy-pay-client/pkg/pagination"
	"github.com/Sternrassler/classy-pay-client/pkg/ratelimit"
	"github.com/Sternrassler/classy-pay-client/pkg/signer"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payclient_requests_total",
		Help: "Total API requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payclient_request_duration_seconds",
		Help:    "API request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payclient_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// Client is a signed resource API client. It is safe for concurrent use;
// clients built from different configs share no state.
type Client struct {
	config     Config
	httpClient *http.Client
	signer     signer.Signer
	limiter    *rate.Limiter
	gate       *ratelimit.Tracker
	aggregator *pagination.Aggregator
	logger     zerolog.Logger
}

// New validates cfg and creates a client. No network activity happens here.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	defaults := DefaultConfig(cfg.APIURL, cfg.Token, cfg.Secret)
	if cfg.Service == "" {
		cfg.Service = defaults.Service
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = defaults.MaxConcurrency
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}

	logger := logging.NewLogger("payclient")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	sign := cfg.Signer
	if sign == nil {
		hmacSigner, err := signer.NewHMACSigner(cfg.Service, cfg.Token, cfg.Secret)
		if err != nil {
			return nil, &ConfigError{Field: "secret", Reason: err.Error()}
		}
		sign = hmacSigner
	}

	c := &Client{
		config:     cfg,
		httpClient: buildHTTPClient(cfg, logger),
		signer:     sign,
		logger:     logger,
	}

	if cfg.RateLimit > 0 {
		burst := max(1, int(cfg.RateLimit))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.Redis != nil {
		c.gate = ratelimit.NewTracker(cfg.Redis, cfg.Token, logger)
	}

	c.aggregator = pagination.NewAggregator(
		&listFetcher{client: c},
		pagination.Config{PageSize: cfg.PageSize, MaxConcurrency: cfg.MaxConcurrency},
		logger,
	)

	logger.Debug().
		Str("api_url", cfg.APIURL).
		Str("token", logging.Redact(cfg.Token)).
		Int("page_size", cfg.PageSize).
		Int("max_concurrency", cfg.MaxConcurrency).
		Bool("rate_limit_gate", c.gate != nil).
		Msg("Client created")

	return c, nil
}

// buildHTTPClient copies the configured http.Client (never mutating the
// caller's), applies the timeout and wraps the transport for retries.
func buildHTTPClient(cfg Config, logger zerolog.Logger) *http.Client {
	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		*hc = *cfg.HTTPClient
	}
	if hc.Timeout == 0 {
		hc.Timeout = cfg.Timeout
	}

	if cfg.MaxRetries > 0 {
		retryCfg := DefaultRetryConfig()
		retryCfg.MaxAttempts = cfg.MaxRetries + 1
		retryCfg.InitialBackoff = cfg.InitialBackoff
		hc.Transport = NewRetryTransport(hc.Transport, retryCfg, logger)
	}
	return hc
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Close releases idle connections. The Redis client, if any, belongs to
// the caller and is left open.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
