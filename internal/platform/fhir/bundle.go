package fhir

import (
	"bytes"
	"encoding/json"
)

// Link relations used on searchset bundles.
const (
	LinkSelf = "self"
	LinkNext = "next"
	LinkPrev = "prev"
	LinkLast = "last"
)

// Bundle represents a FHIR searchset Bundle.
//
// A nil Entry is omitted from the wire form while a non-nil empty Entry is
// written as "entry": [], so a caller that asked for a page always sees the
// key even when the page is empty.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type"`
	Total        int           `json:"total"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	Resource Record `json:"resource"`
}

// NewCountBundle creates a searchset Bundle carrying only the match count.
func NewCountBundle(total int) *Bundle {
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        total,
	}
}

// NewSearchBundle creates a searchset Bundle from one page of resources.
func NewSearchBundle(resources []Record, total int, links []BundleLink) *Bundle {
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		entries[i] = BundleEntry{Resource: r}
	}

	b := NewCountBundle(total)
	b.Entry = entries
	if len(links) > 0 {
		b.Link = links
	}
	return b
}

// HasEntries reports whether the entry key is written.
func (b Bundle) HasEntries() bool {
	return b.Entry != nil
}

func (b Bundle) MarshalJSON() ([]byte, error) {
	type wire struct {
		ResourceType string         `json:"resourceType"`
		Type         string         `json:"type"`
		Total        int            `json:"total"`
		Entry        *[]BundleEntry `json:"entry,omitempty"`
		Link         []BundleLink   `json:"link,omitempty"`
	}
	w := wire{
		ResourceType: b.ResourceType,
		Type:         b.Type,
		Total:        b.Total,
		Link:         b.Link,
	}
	if b.HasEntries() {
		w.Entry = &b.Entry
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
