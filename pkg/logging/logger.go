// Package logging configures zerolog for the pay client and its commands.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output is where logs are written (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// ConfigFromEnv reads LOG_LEVEL and LOG_PRETTY on top of DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = LogLevel(strings.ToLower(level))
	}
	if pretty, err := strconv.ParseBool(os.Getenv("LOG_PRETTY")); err == nil {
		cfg.Pretty = pretty
	}
	return cfg
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// parseLevel maps a LogLevel to zerolog, falling back to info. Levels
// outside debug..error are not exposed.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(string(level))
	if name == "warning" {
		name = string(LevelWarn)
	}

	parsed, err := zerolog.ParseLevel(name)
	if err != nil || parsed < zerolog.DebugLevel || parsed > zerolog.ErrorLevel || name == "" {
		return zerolog.InfoLevel
	}
	return parsed
}

// NewLogger returns a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Redact shortens a credential for log output, keeping a short prefix so
// log lines from different credentials can still be told apart.
func Redact(credential string) string {
	const keep = 4
	if len(credential) <= keep {
		return strings.Repeat("*", len(credential))
	}
	return credential[:keep] + "****"
}

// Log Level Guidelines:
//
// Debug: request flow (method, resource, status, duration), pagination
// plan and worker lifecycle, client construction.
//
// Info: completed list calls, requests that succeeded after a retry,
// server startup/shutdown.
//
// Warn: failed page fetches and list calls, throttling, exhausted retries,
// rate limit state that could not be stored.
//
// Error: critical rate limit blocks, service unavailability.
//
// Context Fields:
//   - component: logger owner ("payclient", "payclient-proxy")
//   - method, resource, app_id: the request
//   - status_code, duration: the response
//   - error_class: client, server, rate_limit or network
//   - offset: page offset within a list
//   - token: credential id, always passed through Redact
//   - remaining: requests left in the rate limit window
