package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireReadScope checks that the token grants read access to the resource
// type named by the "type" path parameter. Tokens without any scope are
// treated as unrestricted. Scopes use the SMART form "user/Patient.read";
// "*" wildcards the resource or the operation, and SMART v2 grants count
// when they include "r" or "s".
func RequireReadScope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			resourceType := c.Param("type")
			scopes := ScopesFromContext(c.Request().Context())
			if resourceType == "" || len(scopes) == 0 {
				return next(c)
			}
			for _, s := range scopes {
				if grantsRead(s, resourceType) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, fmt.Sprintf("required scope: %s.read", resourceType))
		}
	}
}

func grantsRead(scope, resourceType string) bool {
	if _, rest, ok := strings.Cut(scope, "/"); ok {
		scope = rest
	}
	res, op, ok := strings.Cut(scope, ".")
	if !ok {
		return false
	}
	if res != "*" && res != resourceType {
		return false
	}
	switch op {
	case "*", "read":
		return true
	case "", "write":
		return false
	}
	// SMART v2 permission letters, e.g. "rs" or "cruds".
	if strings.Trim(op, "cruds") != "" {
		return false
	}
	return strings.ContainsAny(op, "rs")
}
