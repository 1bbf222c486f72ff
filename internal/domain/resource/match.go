package resource

import (
	"strings"

	"github.com/ehr/fhir-emulator/internal/platform/fhir"
)

// Matches reports whether rec satisfies every filter. Comparisons ignore
// case. Filters are interpreted by parameter name alone.
func Matches(rec fhir.Record, filters Params) bool {
	for _, f := range filters {
		if !matchOne(rec, f.Key, f.Value) {
			return false
		}
	}
	return true
}

// Filter returns the records matching filters, in their original order.
func Filter(records []fhir.Record, filters Params) []fhir.Record {
	out := make([]fhir.Record, 0, len(records))
	for _, r := range records {
		if Matches(r, filters) {
			out = append(out, r)
		}
	}
	return out
}

func matchOne(rec fhir.Record, key, value string) bool {
	switch key {
	case paramID:
		return strings.EqualFold(rec.Str("id"), value)
	case "gender":
		return strings.EqualFold(rec.Str("gender"), value)
	case "birthdate":
		return strings.HasPrefix(strings.ToLower(rec.Str("birthDate")), strings.ToLower(value))
	case "identifier":
		return matchIdentifier(rec, value)
	case "name":
		return matchName(rec, value)
	case paramFormat:
		if fhir.IsJSONFormat(value) {
			return true
		}
	}
	return containsFold(rec.Str(key), value)
}

func matchIdentifier(rec fhir.Record, value string) bool {
	v, _ := rec.Get("identifier")
	for _, el := range fhir.Elements(v) {
		obj := fhir.Object(el)
		if obj == nil {
			continue
		}
		if strings.EqualFold(fhir.String(obj["value"]), value) {
			return true
		}
	}
	return false
}

func matchName(rec fhir.Record, value string) bool {
	v, _ := rec.Get("name")
	for _, el := range fhir.Elements(v) {
		switch n := el.(type) {
		case string:
			if containsFold(n, value) {
				return true
			}
		case map[string]any:
			var given []string
			for _, g := range fhir.Elements(n["given"]) {
				given = append(given, fhir.String(g))
			}
			full := strings.Join(given, " ") + " " + fhir.String(n["family"])
			if containsFold(full, value) {
				return true
			}
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
