package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/classy-pay-client/pkg/pagination"
)

const (
	// contentTypeJSON is both the signed content type and the body encoding.
	contentTypeJSON = "application/json"

	// maxResponseBody caps how much of a response is read into memory.
	maxResponseBody = 10 << 20
)

// LogicalRequest describes one API call before it is signed and sent.
type LogicalRequest struct {
	AppID    string
	Method   string
	Resource string
	Payload  any              // nil means no body
	Page     *pagination.Page // adds limit/offset when set
}

// Result is the outcome of a single request. Err is set when no HTTP
// response was obtained; StatusCode is then 0. Non-2xx statuses are not
// errors at this level.
type Result struct {
	StatusCode int
	Err        error

	// Body is the decoded JSON value when the response is JSON, otherwise
	// the raw bytes. JSON that fails to decode is also kept raw.
	Body   any
	Raw    []byte
	Header http.Header
}

// OK reports whether the request completed with status 200.
func (r *Result) OK() bool {
	return r.Err == nil && r.StatusCode == http.StatusOK
}

// Request performs a single signed request and returns its raw outcome.
func (c *Client) Request(ctx context.Context, appID, method, resource string, payload any, page *pagination.Page) *Result {
	return c.execute(ctx, LogicalRequest{
		AppID:    appID,
		Method:   method,
		Resource: resource,
		Payload:  payload,
		Page:     page,
	})
}

func (c *Client) execute(ctx context.Context, lr LogicalRequest) *Result {
	method := strings.ToUpper(lr.Method)

	// The bytes returned here are the ones signed and the ones sent.
	body, err := encodeBody(lr.Payload)
	if err != nil {
		return &Result{Err: fmt.Errorf("encode payload for %s %s: %w", method, lr.Resource, err)}
	}

	if err := c.waitTurn(ctx); err != nil {
		if errors.Is(err, ErrRequestBlocked) {
			requestsTotal.WithLabelValues(method, "rate_limited").Inc()
		}
		return &Result{Err: err}
	}

	req, err := c.newHTTPRequest(ctx, method, lr, body)
	if err != nil {
		return &Result{Err: err}
	}

	c.logger.Debug().
		Str("method", method).
		Str("resource", lr.Resource).
		Str("app_id", lr.AppID).
		Bool("has_body", body != nil).
		Msg("Executing request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		c.logger.Warn().
			Err(err).
			Str("method", method).
			Str("resource", lr.Resource).
			Msg("Request failed")
		return &Result{Err: &TransportError{Method: method, Resource: lr.Resource, Err: err}}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		return &Result{Err: &TransportError{Method: method, Resource: lr.Resource, Err: fmt.Errorf("read body: %w", err)}}
	}

	requestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	if class := classifyStatus(resp.StatusCode); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
	}

	if c.gate != nil {
		if err := c.gate.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	c.logger.Debug().
		Str("method", method).
		Str("resource", lr.Resource).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Request complete")

	return &Result{
		StatusCode: resp.StatusCode,
		Body:       decodeBody(resp.Header.Get("Content-Type"), raw),
		Raw:        raw,
		Header:     resp.Header,
	}
}

// waitTurn applies client-side pacing and the shared rate limit gate.
func (c *Client) waitTurn(ctx context.Context) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	if c.gate == nil {
		return nil
	}
	allowed, err := c.gate.ShouldAllowRequest(ctx)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		return ErrRequestBlocked
	}
	return nil
}

func (c *Client) newHTTPRequest(ctx context.Context, method string, lr LogicalRequest, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resourceURL(lr), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", c.signer.Sign(method, lr.Resource, contentTypeJSON, body))
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", contentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	return req, nil
}

// resourceURL joins the API base URL and resource and adds the query.
func (c *Client) resourceURL(lr LogicalRequest) string {
	query := url.Values{}
	query.Set("appId", lr.AppID)
	query.Set("meta", "true")
	if lr.Page != nil {
		query.Set("limit", strconv.Itoa(lr.Page.Limit))
		query.Set("offset", strconv.Itoa(lr.Page.Offset))
	}
	return strings.TrimRight(c.config.APIURL, "/") + lr.Resource + "?" + query.Encode()
}

// encodeBody serializes the payload once. nil payload means no body.
func encodeBody(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

// decodeBody decodes raw as JSON when the content type says so. Numbers
// are kept as json.Number so large ids and amounts survive unchanged.
func decodeBody(contentType string, raw []byte) any {
	if !isJSON(contentType) || len(raw) == 0 {
		return raw
	}
	v, err := decodeJSON(raw)
	if err != nil {
		return raw
	}
	return v
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// Trailing data means the body was not a single JSON value.
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == contentTypeJSON || strings.HasSuffix(mediaType, "+json")
}
