package resource

import (
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// SummaryOperation is the path token selecting the summary sub-operation.
const SummaryOperation = "$summary"

var (
	identifierParams = jp.MustParseString(`$.parameter[?(@.name == 'identifier')]`)
	identifierValue  = jp.MustParseString(`$.valueIdentifier.value`)
)

// IsSummary reports whether a path segment names the summary sub-operation.
func IsSummary(segment string) bool {
	return segment == SummaryOperation || segment == SummaryOperation[1:]
}

// SearchIdentifier extracts the identifier to search for from a Parameters
// body. The first parameter named "identifier" wins. Anything that is not a
// well-formed Parameters document yields false.
func SearchIdentifier(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	var doc any
	if err := oj.Unmarshal(body, &doc); err != nil {
		return "", false
	}
	root, ok := doc.(map[string]any)
	if !ok || root["resourceType"] != "Parameters" {
		return "", false
	}

	params := identifierParams.Get(root)
	if len(params) == 0 {
		return "", false
	}
	value, ok := identifierValue.First(params[0]).(string)
	return value, ok
}
