package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves a resource of total items, one float64 id per item.
type fakeFetcher struct {
	total    any
	delay    time.Duration
	failAt   map[int]error
	pageBody func(page Page) any
	countErr error

	mu      sync.Mutex
	offsets []int
	limits  []int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, appID, resource string, page *Page) (any, error) {
	if page == nil {
		if !strings.HasSuffix(resource, "/count") {
			return nil, fmt.Errorf("unexpected count resource %q", resource)
		}
		if f.countErr != nil {
			return nil, f.countErr
		}
		return map[string]any{"count": f.total}, nil
	}

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.offsets = append(f.offsets, page.Offset)
	f.limits = append(f.limits, page.Limit)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err, ok := f.failAt[page.Offset]; ok {
		return nil, err
	}
	if f.pageBody != nil {
		return f.pageBody(*page), nil
	}

	total := int(f.total.(float64))
	items := make([]any, 0, page.Limit)
	for i := page.Offset; i < page.Offset+page.Limit && i < total; i++ {
		items = append(items, map[string]any{"id": float64(i)})
	}
	return items, nil
}

func (f *fakeFetcher) seenOffsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int(nil), f.offsets...)
	sort.Ints(out)
	return out
}

func newTestAggregator(f Fetcher, pageSize, concurrency int) *Aggregator {
	return NewAggregator(f, Config{PageSize: pageSize, MaxConcurrency: concurrency}, zerolog.Nop())
}

func TestNewAggregator_Defaults(t *testing.T) {
	agg := NewAggregator(&fakeFetcher{}, Config{}, zerolog.Nop())

	assert.Equal(t, 25, agg.Config().PageSize)
	assert.Equal(t, 10, agg.Config().MaxConcurrency)
}

func TestListAll_EmptyResource(t *testing.T) {
	f := &fakeFetcher{total: float64(0)}

	items, err := newTestAggregator(f, 25, 10).ListAll(context.Background(), "app", "/transaction")
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Empty(t, f.seenOffsets(), "no page request expected for an empty resource")
}

func TestListAll_ThirtyItems(t *testing.T) {
	f := &fakeFetcher{total: float64(30)}

	items, err := newTestAggregator(f, 25, 10).ListAll(context.Background(), "app", "/transaction")
	require.NoError(t, err)
	assert.Len(t, items, 30)
	assert.Equal(t, []int{0, 25}, f.seenOffsets())
	for _, limit := range f.limits {
		assert.Equal(t, 25, limit)
	}

	ids := make(map[float64]bool)
	for _, item := range items {
		ids[item.(map[string]any)["id"].(float64)] = true
	}
	assert.Len(t, ids, 30, "every item must appear exactly once")
}

func TestListAll_PageFailure(t *testing.T) {
	pageErr := errors.New("500: /transaction")
	f := &fakeFetcher{
		total:  float64(30),
		failAt: map[int]error{25: pageErr},
	}

	items, err := newTestAggregator(f, 25, 10).ListAll(context.Background(), "app", "/transaction")
	require.Error(t, err)
	assert.Nil(t, items, "partial results must not be returned")
	assert.ErrorIs(t, err, pageErr)

	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, StagePage, aggErr.Stage)
	assert.Equal(t, 25, aggErr.Offset)
	assert.Equal(t, "/transaction", aggErr.Resource)
}

func TestListAll_MultiplePageFailures(t *testing.T) {
	f := &fakeFetcher{
		total: float64(100),
		failAt: map[int]error{
			25: errors.New("page 25 failed"),
			50: errors.New("page 50 failed"),
			75: errors.New("page 75 failed"),
		},
	}

	items, err := newTestAggregator(f, 25, 4).ListAll(context.Background(), "app", "/transaction")
	require.Error(t, err)
	assert.Nil(t, items)

	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, StagePage, aggErr.Stage)
}

func TestListAll_CountFailures(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *fakeFetcher
		wantIs  error
	}{
		{
			name:    "count request fails",
			fetcher: &fakeFetcher{countErr: errors.New("404: /transaction/count")},
		},
		{
			name:    "count not numeric",
			fetcher: &fakeFetcher{total: "thirty"},
			wantIs:  ErrInvalidCount,
		},
		{
			name:    "count missing",
			fetcher: &fakeFetcher{total: nil},
			wantIs:  ErrInvalidCount,
		},
		{
			name:    "count negative",
			fetcher: &fakeFetcher{total: float64(-1)},
			wantIs:  ErrInvalidCount,
		},
		{
			name:    "count fractional",
			fetcher: &fakeFetcher{total: float64(2.5)},
			wantIs:  ErrInvalidCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := newTestAggregator(tt.fetcher, 25, 10).ListAll(context.Background(), "app", "/transaction")
			require.Error(t, err)
			assert.Nil(t, items)

			var aggErr *AggregationError
			require.ErrorAs(t, err, &aggErr)
			assert.Equal(t, StageCount, aggErr.Stage)
			assert.Contains(t, err.Error(), "count")
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			assert.Empty(t, tt.fetcher.seenOffsets())
		})
	}
}

func TestParseCount_MissingField(t *testing.T) {
	_, err := parseCount(map[string]any{"total": float64(3)})
	assert.ErrorIs(t, err, ErrInvalidCount)

	_, err = parseCount([]any{float64(3)})
	assert.ErrorIs(t, err, ErrInvalidCount)

	n, err := parseCount(map[string]any{"count": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestParseCount_JSONNumber(t *testing.T) {
	tests := []struct {
		name    string
		count   json.Number
		want    int
		wantErr bool
	}{
		{name: "integer", count: "30", want: 30},
		{name: "zero", count: "0", want: 0},
		{name: "integral float", count: "30.0", want: 30},
		{name: "exponent", count: "1e3", want: 1000},
		{name: "max int32", count: "2147483647", want: math.MaxInt32},
		{name: "above max int32", count: "2147483648", wantErr: true},
		{name: "huge", count: "99999999999999999999", wantErr: true},
		{name: "negative", count: "-1", wantErr: true},
		{name: "fractional", count: "2.5", wantErr: true},
		{name: "garbage", count: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := parseCount(map[string]any{"count": tt.count})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

// failingPagesFetcher reports a fixed count and fails every page.
type failingPagesFetcher struct {
	count json.Number
	pages atomic.Int32
}

func (f *failingPagesFetcher) Fetch(ctx context.Context, appID, resource string, page *Page) (any, error) {
	if page == nil {
		return map[string]any{"count": f.count}, nil
	}
	f.pages.Add(1)
	return nil, errors.New("503: service unavailable")
}

func TestListAll_HugeCountFailsWithoutLargeAllocation(t *testing.T) {
	f := &failingPagesFetcher{count: json.Number("2147483647")}
	agg := newTestAggregator(f, 25, 10)

	runtime.GC()
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	items, err := agg.ListAll(context.Background(), "app", "/transaction")

	runtime.ReadMemStats(&after)
	require.Error(t, err)
	assert.Nil(t, items)

	var aggErr *AggregationError
	require.ErrorAs(t, err, &aggErr)
	assert.Equal(t, StagePage, aggErr.Stage)

	// One offset per page or one slot per item would need hundreds of MB.
	allocated := after.TotalAlloc - before.TotalAlloc
	assert.Less(t, allocated, uint64(16<<20), "allocated %d bytes", allocated)
	assert.LessOrEqual(t, f.pages.Load(), int32(10), "workers stop after the first failure")
}

func TestListAll_ConcurrencyCap(t *testing.T) {
	f := &fakeFetcher{
		total: float64(50 * 25),
		delay: 10 * time.Millisecond,
	}

	items, err := newTestAggregator(f, 25, 10).ListAll(context.Background(), "app", "/transaction")
	require.NoError(t, err)
	assert.Len(t, items, 50*25)
	assert.Len(t, f.seenOffsets(), 50)
	assert.LessOrEqual(t, f.maxInFlight.Load(), int32(10))
	assert.Greater(t, f.maxInFlight.Load(), int32(1), "pages should be fetched in parallel")
}

func TestListAll_SkipsEmptyItems(t *testing.T) {
	f := &fakeFetcher{
		total: float64(6),
		pageBody: func(page Page) any {
			return []any{nil, map[string]any{"id": float64(1)}, false, "", float64(0), json.Number("0"), json.Number("0.0"), "keep"}
		},
	}

	items, err := newTestAggregator(f, 25, 10).ListAll(context.Background(), "app", "/transaction")
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": float64(1)}, "keep"}, items)
}

func TestListAll_NonArrayPage(t *testing.T) {
	f := &fakeFetcher{
		total: float64(3),
		pageBody: func(page Page) any {
			return map[string]any{"data": []any{}}
		},
	}

	_, err := newTestAggregator(f, 25, 10).ListAll(context.Background(), "app", "/transaction")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPage)
}

func TestListAll_CallerCancellation(t *testing.T) {
	f := &fakeFetcher{
		total: float64(1000),
		delay: 50 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	items, err := newTestAggregator(f, 10, 2).ListAll(ctx, "app", "/transaction")
	require.Error(t, err)
	assert.Nil(t, items)
}

func TestAggregationError_Error(t *testing.T) {
	cause := errors.New("boom")

	pageErr := &AggregationError{Resource: "/transaction", Stage: StagePage, Offset: 25, Err: cause}
	assert.Equal(t, "list /transaction: page at offset 25: boom", pageErr.Error())
	assert.ErrorIs(t, pageErr, cause)

	countErr := &AggregationError{Resource: "/transaction", Stage: StageCount, Err: cause}
	assert.Equal(t, "list /transaction: count: boom", countErr.Error())
}
