package pagination

import "math"

const (
	// DefaultCount is the page size used when a request carries no paging
	// parameter at all.
	DefaultCount = 10
)

// Params holds the resolved page size and start offset of a search.
// Offset may be negative as supplied by the client; Start clamps it.
type Params struct {
	Count  int
	Offset int
}

// Start returns the effective first index of the page.
func (p Params) Start() int {
	if p.Offset < 0 {
		return 0
	}
	return p.Offset
}

// End returns the exclusive end index of the page before clamping to the
// result size. It saturates at math.MaxInt.
func (p Params) End() int {
	start := p.Start()
	if p.Count < 0 {
		return start
	}
	if p.Count > math.MaxInt-start {
		return math.MaxInt
	}
	return start + p.Count
}

// Bounds returns slice bounds for a result set of the given size, with
// lo <= hi <= total.
func (p Params) Bounds(total int) (int, int) {
	lo, hi := min(p.Start(), total), min(p.End(), total)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.End() < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Start() > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.End()
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	if p.Count < 0 {
		return p.Start()
	}
	prev := p.Start() - p.Count
	if prev < 0 {
		return 0
	}
	return prev
}

// LastOffset returns the offset of the page holding the final result.
// It is only meaningful for total > 0 and Count > 0.
func (p Params) LastOffset(total int) int {
	if total <= 0 || p.Count <= 0 {
		return 0
	}
	return ((total - 1) / p.Count) * p.Count
}

// PageNumber converts an offset into a 1-based page number.
func (p Params) PageNumber(offset int) int {
	if p.Count <= 0 {
		return 1
	}
	page := offset / p.Count
	if page == math.MaxInt {
		return page
	}
	return page + 1
}

// OffsetOf converts a 1-based page number into an offset, saturating at
// math.MaxInt.
func OffsetOf(page, count int) int {
	if page <= 1 || count <= 0 {
		return 0
	}
	if page-1 > math.MaxInt/count {
		return math.MaxInt
	}
	return (page - 1) * count
}
