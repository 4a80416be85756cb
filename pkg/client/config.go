package client

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/classy-pay-client/pkg/pagination"
	"github.com/Sternrassler/classy-pay-client/pkg/signer"
)

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "classy-pay-client-go/1.0"

// Config holds the client configuration.
type Config struct {
	// API base URL, e.g. "https://pay.classy.org" (REQUIRED)
	APIURL string

	// Per-request timeout enforced by the HTTP client (REQUIRED)
	Timeout time.Duration

	// Credential pair used to sign every request (REQUIRED)
	Token  string
	Secret string

	// Service name in the Authorization header (default "CWS")
	Service string

	// Pagination
	PageSize       int // Items per page (default 25)
	MaxConcurrency int // Max parallel page requests (default 10)

	// User-Agent header
	UserAgent string

	// Client-side pacing in requests per second (0 = unlimited)
	RateLimit float64

	// Transport retries for idempotent requests (0 = no retries)
	MaxRetries     int
	InitialBackoff time.Duration

	// TreatNonOKAsError controls single-object calls: when explicitly false a
	// non-200 response is returned as a value instead of an *APIError.
	// nil means true.
	TreatNonOKAsError *bool

	// Redis enables the shared rate limit gate when set.
	Redis *redis.Client

	// HTTPClient overrides the transport collaborator. Its Timeout is
	// set to Config.Timeout when zero.
	HTTPClient *http.Client

	// Signer overrides the HMAC signer built from Token/Secret.
	Signer signer.Signer

	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration with default pagination and
// timeout settings for the given endpoint and credentials.
func DefaultConfig(apiURL, token, secret string) Config {
	pagingDefaults := pagination.DefaultConfig()

	return Config{
		APIURL:         apiURL,
		Timeout:        10 * time.Second,
		Token:          token,
		Secret:         secret,
		Service:        signer.DefaultService,
		PageSize:       pagingDefaults.PageSize,
		MaxConcurrency: pagingDefaults.MaxConcurrency,
		UserAgent:      DefaultUserAgent,
		InitialBackoff: 1 * time.Second,
	}
}

// Bool returns a pointer to b, for Config.TreatNonOKAsError.
func Bool(b bool) *bool {
	return &b
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return &ConfigError{Field: "apiUrl", Reason: "is required"}
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Field: "apiUrl", Reason: fmt.Sprintf("must be an absolute http(s) URL (got %q)", c.APIURL)}
	}
	if c.Timeout <= 0 {
		return &ConfigError{Field: "timeout", Reason: "is required"}
	}
	if c.Token == "" {
		return &ConfigError{Field: "token", Reason: "is required"}
	}
	if c.Secret == "" {
		return &ConfigError{Field: "secret", Reason: "is required"}
	}
	if c.PageSize < 0 {
		return &ConfigError{Field: "pageSize", Reason: fmt.Sprintf("must be >= 0 (got %d)", c.PageSize)}
	}
	if c.MaxConcurrency < 0 {
		return &ConfigError{Field: "maxConcurrency", Reason: fmt.Sprintf("must be >= 0 (got %d)", c.MaxConcurrency)}
	}
	if c.RateLimit < 0 {
		return &ConfigError{Field: "rateLimit", Reason: fmt.Sprintf("must be >= 0 (got %v)", c.RateLimit)}
	}
	if c.MaxRetries < 0 {
		return &ConfigError{Field: "maxRetries", Reason: fmt.Sprintf("must be >= 0 (got %d)", c.MaxRetries)}
	}
	return nil
}

// LoadConfig builds a Config from the environment, loading a .env file first
// if one exists. Required values are checked later by New.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig(
		os.Getenv("PAYCLIENT_API_URL"),
		os.Getenv("PAYCLIENT_TOKEN"),
		os.Getenv("PAYCLIENT_SECRET"),
	)

	timeoutMs, err := strconv.Atoi(getEnv("PAYCLIENT_TIMEOUT_MS", "10000"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid PAYCLIENT_TIMEOUT_MS: %w", err)
	}
	cfg.Timeout = time.Duration(timeoutMs) * time.Millisecond

	if cfg.PageSize, err = strconv.Atoi(getEnv("PAYCLIENT_PAGE_SIZE", strconv.Itoa(cfg.PageSize))); err != nil {
		return Config{}, fmt.Errorf("invalid PAYCLIENT_PAGE_SIZE: %w", err)
	}
	if cfg.MaxConcurrency, err = strconv.Atoi(getEnv("PAYCLIENT_MAX_CONCURRENCY", strconv.Itoa(cfg.MaxConcurrency))); err != nil {
		return Config{}, fmt.Errorf("invalid PAYCLIENT_MAX_CONCURRENCY: %w", err)
	}
	if cfg.RateLimit, err = strconv.ParseFloat(getEnv("PAYCLIENT_RATE_LIMIT", "0"), 64); err != nil {
		return Config{}, fmt.Errorf("invalid PAYCLIENT_RATE_LIMIT: %w", err)
	}
	if cfg.MaxRetries, err = strconv.Atoi(getEnv("PAYCLIENT_MAX_RETRIES", "0")); err != nil {
		return Config{}, fmt.Errorf("invalid PAYCLIENT_MAX_RETRIES: %w", err)
	}
	if ua := os.Getenv("PAYCLIENT_USER_AGENT"); ua != "" {
		cfg.UserAgent = ua
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := parseRedisURL(redisURL)
		if err != nil {
			return Config{}, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		cfg.Redis = redis.NewClient(opts)
	}

	return cfg, nil
}

// parseRedisURL accepts both redis:// URLs and bare host:port addresses.
func parseRedisURL(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		return redis.ParseURL(raw)
	}
	return &redis.Options{Addr: raw}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
