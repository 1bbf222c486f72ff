package resource

import (
	"strconv"

	"github.com/ehr/fhir-emulator/internal/platform/fhir"
)

// pageLinks builds the navigation links of a paged search. Count must be
// positive.
func pageLinks(baseURL string, q Query, total int) []fhir.BundleLink {
	page := q.Page()
	link := func(rel string, offset int) fhir.BundleLink {
		return fhir.BundleLink{Relation: rel, URL: q.linkURL(baseURL, offset)}
	}

	links := []fhir.BundleLink{link(fhir.LinkSelf, page.Start())}
	if page.HasNext(total) {
		links = append(links, link(fhir.LinkNext, page.NextOffset()))
	}
	if page.HasPrevious() {
		links = append(links, link(fhir.LinkPrev, page.PreviousOffset()))
	}
	if total > 0 {
		links = append(links, link(fhir.LinkLast, page.LastOffset(total)))
	}
	return links
}

// linkURL reproduces the request with its position moved to offset.
func (q Query) linkURL(baseURL string, offset int) string {
	params := q.Params.Without(paramOffset, paramPage)
	if q.UsePage {
		params = append(params, Param{Key: paramPage, Value: strconv.Itoa(q.Page().PageNumber(offset))})
	} else {
		params = append(params, Param{Key: paramOffset, Value: strconv.Itoa(offset)})
	}
	return baseURL + "?" + params.Encode()
}
