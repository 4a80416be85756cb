package pagination

import "iter"

// Page is the limit/offset window of a single page request.
type Page struct {
	Limit  int
	Offset int
}

// PageCount returns how many pages of pageSize cover total items.
func PageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total-1)/pageSize + 1
}

// Partition yields the offsets 0, pageSize, 2*pageSize, ... strictly below
// total. Each [offset, offset+pageSize) window is disjoint and together they
// cover [0, total). Offsets are produced on demand, so a huge total costs
// nothing until pages are actually requested.
func Partition(total, pageSize int) iter.Seq[int] {
	pages := PageCount(total, pageSize)
	return func(yield func(int) bool) {
		for i := 0; i < pages; i++ {
			if !yield(i * pageSize) {
				return
			}
		}
	}
}
