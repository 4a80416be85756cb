package client

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Sternrassler/classy-pay-client/pkg/pagination"
)

// Common errors returned by the client.
var (
	// ErrConfiguration is matched by every *ConfigError.
	ErrConfiguration = errors.New("configuration error")

	// ErrRequestBlocked is returned when the shared rate limit gate refuses a request.
	ErrRequestBlocked = errors.New("request blocked: rate limit critical")

	// ErrRetryExhausted is returned by RetryTransport when all attempts failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// AggregationError reports a failed List; see pagination.AggregationError.
type AggregationError = pagination.AggregationError

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// classifyStatus maps an HTTP status code to an ErrorClass.
// Returns "" for statuses that are not errors.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// ConfigError reports an invalid or missing configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("payclient: configuration error: %s %s", e.Field, e.Reason)
}

// Is reports ErrConfiguration as a match.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// TransportError reports a request that produced no HTTP response
// (network failure, DNS, timeout, cancelled context).
type TransportError struct {
	Method   string
	Resource string
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("payclient: transport error: %s %s: %v", e.Method, e.Resource, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the underlying failure was a timeout.
func (e *TransportError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// maxErrorBody bounds how much of a response body ends up in an error message.
const maxErrorBody = 512

// APIError reports a response whose status was not 200.
type APIError struct {
	StatusCode int
	Resource   string
	Class      ErrorClass
	Body       []byte
}

func newAPIError(status int, resource string, body []byte) *APIError {
	return &APIError{
		StatusCode: status,
		Resource:   resource,
		Class:      classifyStatus(status),
		Body:       body,
	}
}

// Error implements the error interface.
func (e *APIError) Error() string {
	body := string(e.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	if body == "" {
		return fmt.Sprintf("payclient: %d: %s", e.StatusCode, e.Resource)
	}
	return fmt.Sprintf("payclient: %d: %s %s", e.StatusCode, e.Resource, body)
}

// shouldRetry determines if an error class is worth retrying.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// 4xx errors will fail the same way again
		return false
	}
}
