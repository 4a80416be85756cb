// Package testutil provides a mock resource API for client tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a copy of a request the mock server received.
type RecordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   []byte
}

// MockAPI is a configurable mock resource API. It counts requests and
// tracks how many were in flight at the same time.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// NewMockAPI starts a new mock server. Unknown paths answer 404.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := mock.inFlight.Add(1)
		defer mock.inFlight.Add(-1)
		for {
			cur := mock.maxInFlight.Load()
			if n <= cur || mock.maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}

		body, _ := io.ReadAll(r.Body)
		query := make(map[string]string)
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}

		mock.mu.Lock()
		mock.requests = append(mock.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  query,
			Header: r.Header.Clone(),
			Body:   body,
		})
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears recorded requests and concurrency tracking.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.maxInFlight.Store(0)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetCollection serves items under resource: {resource}/count answers
// {"count": len(items)} and resource answers the limit/offset window.
// delay is applied to every page request.
func (m *MockAPI) SetCollection(resource string, items []any, delay time.Duration) {
	m.SetHandler(resource+"/count", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"count": len(items)})
	})

	m.SetHandler(resource, func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil {
			limit = len(items)
		}
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		start := min(max(offset, 0), len(items))
		end := min(start+limit, len(items))
		writeJSON(w, http.StatusOK, items[start:end])
	})
}

// Requests returns a copy of every request received so far.
func (m *MockAPI) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestsTo returns the requests received for path.
func (m *MockAPI) RequestsTo(path string) []RecordedRequest {
	var out []RecordedRequest
	for _, req := range m.Requests() {
		if req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// MaxInFlight returns the highest number of concurrent requests observed.
func (m *MockAPI) MaxInFlight() int {
	return int(m.maxInFlight.Load())
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewErrorResponse creates a JSON error response with the given status.
func NewErrorResponse(status int, message string) MockResponse {
	body, _ := json.Marshal(map[string]string{"error": message})
	return MockResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 200 OK response carrying rate limit headers.
func NewRateLimitResponse(data string, remaining, resetSeconds int) MockResponse {
	resp := NewJSONResponse(data)
	resp.Headers["X-RateLimit-Remaining"] = strconv.Itoa(remaining)
	resp.Headers["X-RateLimit-Reset"] = strconv.Itoa(resetSeconds)
	return resp
}

// NumberedItems returns n objects of the form {"id": i}.
func NumberedItems(n int) []any {
	items := make([]any, n)
	for i := range items {
		items[i] = map[string]any{"id": i}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
