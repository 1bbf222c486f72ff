package fhir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Record is a stored resource document. The parsed fields back the search
// accessors while the original bytes are what gets written to clients, so
// field order and number spelling survive the round trip.
type Record struct {
	fields map[string]any
	raw    json.RawMessage
}

// ParseRecord decodes a single JSON object. Numbers are kept as json.Number.
func ParseRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Record{}, fmt.Errorf("decode resource: %w", err)
	}
	if fields == nil {
		return Record{}, fmt.Errorf("decode resource: not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return Record{}, fmt.Errorf("decode resource: trailing data after object")
	}

	return Record{fields: fields, raw: json.RawMessage(bytes.TrimSpace(data))}, nil
}

// NewRecord builds a Record from already decoded fields.
func NewRecord(fields map[string]any) (Record, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return Record{}, fmt.Errorf("encode resource: %w", err)
	}
	return ParseRecord(raw)
}

// MustRecord is NewRecord for fixtures; it panics on unencodable input.
func MustRecord(fields map[string]any) Record {
	r, err := NewRecord(fields)
	if err != nil {
		panic(err)
	}
	return r
}

// IsZero reports whether r holds no document.
func (r Record) IsZero() bool {
	return r.fields == nil
}

// ID returns the logical id of the resource, or "" when absent.
func (r Record) ID() string {
	return r.Str("id")
}

// Get returns the raw decoded value of a top-level field.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// Str returns the string form of a top-level field (see String).
func (r Record) Str(key string) string {
	return String(r.fields[key])
}

// Bytes returns the stored document.
func (r Record) Bytes() []byte {
	return r.raw
}

func (r Record) MarshalJSON() ([]byte, error) {
	if r.raw == nil {
		return []byte("null"), nil
	}
	return r.raw, nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	parsed, err := ParseRecord(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// String renders a decoded JSON value the way search comparisons see it:
// strings verbatim, numbers in their JSON spelling, booleans as true/false,
// null as "", objects and arrays as compact JSON.
func String(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprint(val)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}

// Elements treats a field that may hold one value or an array uniformly.
func Elements(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	default:
		return []any{val}
	}
}

// Object returns v as a JSON object, or nil.
func Object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
