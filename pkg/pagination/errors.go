package pagination

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCount is returned when the count body has no usable count field.
	ErrInvalidCount = errors.New("invalid count")

	// ErrInvalidPage is returned when a page body is not a JSON array.
	ErrInvalidPage = errors.New("invalid page body")

	// ErrIncomplete is returned when the fetch phase stopped before every page resolved.
	ErrIncomplete = errors.New("pagination incomplete")
)

// Stage identifies the phase of a list operation that failed.
type Stage string

const (
	// StageCount is the {resource}/count request.
	StageCount Stage = "count"

	// StagePage is a single page request.
	StagePage Stage = "page"
)

// AggregationError reports a failed list operation.
type AggregationError struct {
	Resource string
	Stage    Stage
	Offset   int // only meaningful for StagePage
	Err      error
}

// Error implements the error interface.
func (e *AggregationError) Error() string {
	if e.Stage == StagePage {
		return fmt.Sprintf("list %s: page at offset %d: %v", e.Resource, e.Offset, e.Err)
	}
	return fmt.Sprintf("list %s: %s: %v", e.Resource, e.Stage, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AggregationError) Unwrap() error {
	return e.Err
}
