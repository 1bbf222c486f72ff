package fhir

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsJSONFormat(t *testing.T) {
	tests := []struct {
		format string
		want   bool
	}{
		{"json", true},
		{"JSON", true},
		{"fhir+json", true},
		{"fhir json", true},
		{"application/json", true},
		{"application/fhir+json", true},
		{"application/fhir json", true},
		{" application/fhir+json ", true},
		{"xml", false},
		{"application/fhir+xml", false},
		{"text/html", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.want, IsJSONFormat(tt.format))
		})
	}
}

func TestContentTypeMiddleware(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := ContentTypeMiddleware()(func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"ok": "yes"})
	})
	require.NoError(t, h(c))

	assert.Equal(t, FHIRContentType, rec.Header().Get(echo.HeaderContentType))
}
