package resource

import (
	"strconv"
	"strings"

	"github.com/ehr/fhir-emulator/pkg/pagination"
)

const (
	paramCount  = "_count"
	paramPage   = "_page"
	paramOffset = "_offset"
	paramID     = "_id"
	paramFormat = "_format"
)

// Query is a parsed search request.
type Query struct {
	// Count is the page size. Zero asks for the total only.
	Count int
	// Offset is the requested start position, possibly negative.
	Offset int
	// UsePage is set when the position was given as _page.
	UsePage bool
	// Explicit is set when any of _count, _page or _offset was supplied.
	Explicit bool
	// Filters are the non-paging parameters.
	Filters Params
	// Params are the request parameters as received.
	Params Params
}

// ParseQuery resolves page size, position and filters.
func ParseQuery(params Params) (Query, error) {
	q := Query{
		Params:   params,
		Explicit: params.Has(paramCount) || params.Has(paramPage) || params.Has(paramOffset),
	}

	count := strconv.Itoa(pagination.DefaultCount)
	if q.Explicit {
		count = "0"
		if v, ok := params.Get(paramCount); ok {
			count = v
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil {
		return Query{}, invalidParam("_count must be an integer")
	}
	q.Count = max(n, 0)

	if v, ok := params.Get(paramPage); ok {
		page, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || page < 1 {
			return Query{}, invalidParam("_page must be a positive integer")
		}
		q.UsePage = true
		q.Offset = pagination.OffsetOf(page, q.Count)
	} else if v, ok := params.Get(paramOffset); ok {
		offset, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Query{}, invalidParam("_offset must be an integer")
		}
		q.Offset = offset
	}

	q.Filters = params.Without(paramCount, paramPage, paramOffset)
	return q, nil
}

// Page returns the paging window of q.
func (q Query) Page() pagination.Params {
	return pagination.Params{Count: q.Count, Offset: q.Offset}
}
