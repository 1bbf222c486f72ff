package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(m *Metrics) *echo.Echo {
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/fhir/:type", func(c echo.Context) error {
		if c.QueryParam("_count") == "x" {
			return echo.NewHTTPError(http.StatusBadRequest, "_count must be an integer")
		}
		return c.String(http.StatusOK, "bundle")
	})
	e.GET("/metrics", m.Handler())
	return e
}

func serve(e *echo.Echo, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestMiddleware_CountsRequests(t *testing.T) {
	m := NewMetrics("test")
	e := newTestServer(m)

	serve(e, "/fhir/Patient")
	serve(e, "/fhir/Patient")
	serve(e, "/fhir/Patient?_count=x")
	serve(e, "/nope")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/fhir/:type", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/fhir/:type", "400")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fhirRequests.WithLabelValues("Patient", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fhirRequests.WithLabelValues("Patient", "rejected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestHandler_Exposition(t *testing.T) {
	m := NewMetrics("1.2.3")
	e := newTestServer(m)
	serve(e, "/fhir/Bundle")

	rec := serve(e, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{
		`fhir_emulator_build_info{version="1.2.3"} 1`,
		`fhir_emulator_http_requests_total{method="GET",route="/fhir/:type",status="200"} 1`,
		`fhir_emulator_http_request_duration_seconds_bucket`,
		`go_goroutines`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %s", want)
	}
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a, b := NewMetrics("a"), NewMetrics("b")
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(200))
	assert.Equal(t, "rejected", outcome(404))
	assert.Equal(t, "error", outcome(503))
}
