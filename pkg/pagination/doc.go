// Package pagination implements count-then-paginate list aggregation.
//
// The API exposes a {resource}/count endpoint and offset/limit paging on the
// resource itself. The aggregator:
//   - Fetches the count to learn the total number of items
//   - Partitions [0, count) into disjoint pages of PageSize items
//   - Spawns a worker pool (default 10 workers) that pulls page offsets
//   - Merges every page into one collection (order is not preserved)
//   - Fails the whole operation if the count or any single page fails
//
// Example usage:
//
//	agg := pagination.NewAggregator(fetcher, pagination.DefaultConfig(), logger)
//	items, err := agg.ListAll(ctx, appID, "/organizations/42/transactions")
//
// A failed list never returns partial data; the error is an
// *AggregationError naming the stage (count or page) that failed.
package pagination
