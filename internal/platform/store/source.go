// Package store provides the record sources the search engine reads from.
// Every source returns the records of one resource type in a stable order
// and never fails a listing because a single document is unreadable.
package store

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/ehr/fhir-emulator/internal/platform/fhir"
)

// SummarySuffix names the per-record summary variant, e.g. "p1_summary.json".
const SummarySuffix = "_summary.json"

// ErrVariantNotFound is returned by Variant when no summary document exists.
var ErrVariantNotFound = errors.New("summary variant not found")

// Source loads the records of a resource type.
type Source interface {
	// Load returns every primary record of resourceType ordered by file name.
	// An unknown resource type yields an empty slice.
	Load(ctx context.Context, resourceType string) ([]fhir.Record, error)
	// Variant returns the summary document stored for the record id.
	Variant(ctx context.Context, resourceType, id string) (fhir.Record, error)
	// ResourceTypes lists the available resource types, sorted.
	ResourceTypes(ctx context.Context) ([]string, error)
}

// IsRecordFile reports whether a file name holds a primary record.
func IsRecordFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".json") && !strings.HasSuffix(lower, SummarySuffix)
}

// VariantName returns the summary file name for a record id. Ids that could
// escape the resource folder are refused.
func VariantName(id string) (string, bool) {
	if !validSegment(id) {
		return "", false
	}
	return id + SummarySuffix, true
}

// VariantID is the inverse of VariantName.
func VariantID(name string) (string, bool) {
	if !strings.HasSuffix(name, SummarySuffix) {
		return "", false
	}
	id := strings.TrimSuffix(name, SummarySuffix)
	return id, id != ""
}

func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && !strings.Contains(s, "\x00")
}
