package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for list aggregation.
var (
	pagesInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payclient_pages_in_flight",
		Help: "Number of page requests currently outstanding",
	})

	pageFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payclient_page_fetches_total",
		Help: "Total page requests by outcome",
	}, []string{"outcome"})

	listsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payclient_lists_total",
		Help: "Total list operations by outcome",
	}, []string{"outcome"})

	listDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payclient_list_duration_seconds",
		Help:    "Duration of complete list operations in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// maxItemsHint caps the initial capacity of the merged item slice.
const maxItemsHint = 4096

// Config holds aggregator configuration.
type Config struct {
	// PageSize is the number of items requested per page.
	PageSize int
	// MaxConcurrency is the maximum number of page requests in flight.
	MaxConcurrency int
}

// DefaultConfig returns the default page size and concurrency.
func DefaultConfig() Config {
	return Config{
		PageSize:       25,
		MaxConcurrency: 10,
	}
}

// Fetcher performs a single request and returns the decoded body.
// Implementations must return an error for transport failures and for any
// status other than 200. page is nil for the count request.
type Fetcher interface {
	Fetch(ctx context.Context, appID, resource string, page *Page) (any, error)
}

// pageResult is what a worker hands back to the collector.
type pageResult struct {
	offset int
	items  []any
	err    error
}

// Aggregator lists every item of a resource by fetching its pages in parallel.
type Aggregator struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewAggregator creates a new aggregator. Non-positive config values fall
// back to DefaultConfig.
func NewAggregator(fetcher Fetcher, config Config, logger zerolog.Logger) *Aggregator {
	defaults := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}

	return &Aggregator{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// Config returns the effective configuration.
func (a *Aggregator) Config() Config {
	return a.config
}

// ListAll fetches {resource}/count, then every page of resource, and returns
// all non-empty items. Any failure aborts the whole operation; partial
// results are never returned.
func (a *Aggregator) ListAll(ctx context.Context, appID, resource string) ([]any, error) {
	start := time.Now()

	total, err := a.count(ctx, appID, resource)
	if err != nil {
		listsTotal.WithLabelValues("count_error").Inc()
		return nil, err
	}

	pages := PageCount(total, a.config.PageSize)
	if pages == 0 {
		a.logger.Debug().
			Str("resource", resource).
			Msg("Resource is empty, skipping page fetch")
		listsTotal.WithLabelValues("success").Inc()
		return []any{}, nil
	}

	a.logger.Debug().
		Str("resource", resource).
		Int("total", total).
		Int("pages", pages).
		Msg("Starting parallel page fetch")

	// Cancelled on the first failure so idle workers stop pulling offsets.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := min(a.config.MaxConcurrency, pages)
	pageQueue := make(chan int)
	results := make(chan pageResult, workers)

	go func() {
		defer close(pageQueue)
		for offset := range Partition(total, a.config.PageSize) {
			select {
			case pageQueue <- offset:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go a.worker(ctx, appID, resource, pageQueue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// total comes from the server; only a bounded hint is preallocated.
	items := make([]any, 0, min(total, maxItemsHint))
	fetchedPages := 0
	var firstErr error

	for result := range results {
		if result.err != nil {
			if firstErr == nil {
				firstErr = result.err
				cancel()
			}
			continue
		}
		if firstErr != nil {
			continue
		}

		for _, item := range result.items {
			if isEmptyItem(item) {
				continue
			}
			items = append(items, item)
		}
		fetchedPages++
	}

	if firstErr == nil && fetchedPages != pages {
		firstErr = &AggregationError{
			Resource: resource,
			Stage:    StagePage,
			Offset:   -1,
			Err:      fmt.Errorf("%w: %d/%d pages: %v", ErrIncomplete, fetchedPages, pages, context.Cause(ctx)),
		}
	}

	if firstErr != nil {
		a.logger.Warn().
			Err(firstErr).
			Str("resource", resource).
			Int("fetched_pages", fetchedPages).
			Int("total_pages", pages).
			Msg("List failed")
		listsTotal.WithLabelValues("page_error").Inc()
		return nil, firstErr
	}

	elapsed := time.Since(start)
	listDuration.Observe(elapsed.Seconds())
	listsTotal.WithLabelValues("success").Inc()

	a.logger.Info().
		Str("resource", resource).
		Int("pages", fetchedPages).
		Int("items", len(items)).
		Dur("duration", elapsed).
		Msg("List complete")

	return items, nil
}

// count fetches and validates {resource}/count.
func (a *Aggregator) count(ctx context.Context, appID, resource string) (int, error) {
	body, err := a.fetcher.Fetch(ctx, appID, resource+"/count", nil)
	if err != nil {
		return 0, &AggregationError{Resource: resource, Stage: StageCount, Err: err}
	}

	total, err := parseCount(body)
	if err != nil {
		return 0, &AggregationError{Resource: resource, Stage: StageCount, Err: err}
	}
	return total, nil
}

// worker processes page offsets from the queue until it is drained, the
// context is cancelled, or a page fails.
func (a *Aggregator) worker(ctx context.Context, appID, resource string, pageQueue <-chan int, results chan<- pageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for offset := range pageQueue {
		if ctx.Err() != nil {
			a.logger.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		items, err := a.fetchPage(ctx, appID, resource, offset)
		if err != nil {
			pageFetchesTotal.WithLabelValues("error").Inc()
			a.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("offset", offset).
				Msg("Page fetch failed")
			results <- pageResult{offset: offset, err: err}
			return
		}

		pageFetchesTotal.WithLabelValues("success").Inc()
		results <- pageResult{offset: offset, items: items}
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		a.logger.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}

func (a *Aggregator) fetchPage(ctx context.Context, appID, resource string, offset int) ([]any, error) {
	pagesInFlight.Inc()
	body, err := a.fetcher.Fetch(ctx, appID, resource, &Page{Limit: a.config.PageSize, Offset: offset})
	pagesInFlight.Dec()

	if err != nil {
		return nil, &AggregationError{Resource: resource, Stage: StagePage, Offset: offset, Err: err}
	}

	items, ok := body.([]any)
	if !ok {
		return nil, &AggregationError{
			Resource: resource,
			Stage:    StagePage,
			Offset:   offset,
			Err:      fmt.Errorf("%w: got %T", ErrInvalidPage, body),
		}
	}
	return items, nil
}

// parseCount extracts a non-negative integer "count" field.
func parseCount(body any) (int, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return 0, fmt.Errorf("%w: body is %T, not an object", ErrInvalidCount, body)
	}

	raw, ok := obj["count"]
	if !ok {
		return 0, fmt.Errorf("%w: count field missing", ErrInvalidCount)
	}

	var n float64
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			if i < 0 || i > math.MaxInt32 {
				return 0, fmt.Errorf("%w: count %d is out of range", ErrInvalidCount, i)
			}
			return int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: count %q is not a number", ErrInvalidCount, v.String())
		}
		n = f
	case float64:
		n = v
	default:
		return 0, fmt.Errorf("%w: count is %T, not a number", ErrInvalidCount, raw)
	}
	if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: count %v is not a non-negative integer", ErrInvalidCount, n)
	}
	return int(n), nil
}

// isEmptyItem reports whether a decoded item is null, false, zero or "".
func isEmptyItem(item any) bool {
	switch v := item.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case float64:
		return v == 0
	case json.Number:
		f, err := v.Float64()
		return err == nil && f == 0
	default:
		return false
	}
}
