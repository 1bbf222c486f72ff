package fhir

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// FHIRContentType is the FHIR JSON content type with charset.
const FHIRContentType = "application/fhir+json; charset=utf-8"

// ContentTypeMiddleware marks every response of the group as FHIR JSON.
// Echo only fills in Content-Type when it is unset, so handlers can keep
// using c.JSON.
func ContentTypeMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set(echo.HeaderContentType, FHIRContentType)
			return next(c)
		}
	}
}

// normalizeFormat normalises a format string by lowercasing, trimming
// whitespace, and restoring the "+" that HTTP query-string decoding may have
// converted to a space (e.g. "application/fhir json" -> "application/fhir+json").
func normalizeFormat(raw string) string {
	f := strings.TrimSpace(strings.ToLower(raw))
	f = strings.ReplaceAll(f, "fhir json", "fhir+json")
	return f
}

// IsJSONFormat returns true if a _format value names a JSON content type.
func IsJSONFormat(format string) bool {
	switch normalizeFormat(format) {
	case "json", "fhir+json", "application/json", "application/fhir+json":
		return true
	}
	return false
}
