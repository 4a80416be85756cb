package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Sternrassler/classy-pay-client/pkg/pagination"
)

// Get fetches a single object.
func (c *Client) Get(ctx context.Context, appID, resource string) (any, error) {
	return c.forObject(ctx, appID, http.MethodGet, resource, nil)
}

// Post creates an object from obj.
func (c *Client) Post(ctx context.Context, appID, resource string, obj any) (any, error) {
	return c.forObject(ctx, appID, http.MethodPost, resource, obj)
}

// Put replaces an object with obj.
func (c *Client) Put(ctx context.Context, appID, resource string, obj any) (any, error) {
	return c.forObject(ctx, appID, http.MethodPut, resource, obj)
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, appID, resource string) (any, error) {
	return c.forObject(ctx, appID, http.MethodDelete, resource, nil)
}

// List returns every item of resource. It reads {resource}/count, fetches
// all pages concurrently and merges them in no particular order. Any
// failure fails the whole call with an *AggregationError.
func (c *Client) List(ctx context.Context, appID, resource string) ([]any, error) {
	return c.aggregator.ListAll(ctx, appID, resource)
}

// forObject runs a request and turns anything but a 200 into an error,
// unless TreatNonOKAsError is explicitly false.
func (c *Client) forObject(ctx context.Context, appID, method, resource string, payload any) (any, error) {
	result := c.Request(ctx, appID, method, resource, payload, nil)
	if result.Err != nil {
		return nil, result.Err
	}
	if result.StatusCode != http.StatusOK && c.treatNonOKAsError() {
		return nil, newAPIError(result.StatusCode, resource, result.Raw)
	}
	return result.Body, nil
}

func (c *Client) treatNonOKAsError() bool {
	return c.config.TreatNonOKAsError == nil || *c.config.TreatNonOKAsError
}

// listFetcher feeds the aggregator. It is always strict about status codes
// so a list never succeeds with a failed page.
type listFetcher struct {
	client *Client
}

func (f *listFetcher) Fetch(ctx context.Context, appID, resource string, page *pagination.Page) (any, error) {
	result := f.client.Request(ctx, appID, http.MethodGet, resource, nil, page)
	if result.Err != nil {
		return nil, result.Err
	}
	if result.StatusCode != http.StatusOK {
		return nil, newAPIError(result.StatusCode, resource, result.Raw)
	}
	return result.Body, nil
}

// Decode converts a decoded JSON value (as returned by Get or List) into T.
// json.Number values are re-encoded verbatim, so no precision is lost.
func Decode[T any](v any) (T, error) {
	var out T
	raw, ok := v.([]byte)
	if !ok {
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return out, fmt.Errorf("re-encode value: %w", err)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decode into %T: %w", out, err)
	}
	return out, nil
}
