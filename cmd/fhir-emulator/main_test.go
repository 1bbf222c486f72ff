package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhir-emulator/internal/config"
	"github.com/ehr/fhir-emulator/internal/platform/auth"
	"github.com/ehr/fhir-emulator/internal/platform/store"
	"github.com/ehr/fhir-emulator/internal/platform/telemetry"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

var testRecords = map[string]string{
	"Bundle/bundle-1.json":           `{"resourceType":"Bundle","id":"bundle-1","type":"collection"}`,
	"Bundle/bundle-2.json":           `{"resourceType":"Bundle","id":"bundle-2","type":"collection"}`,
	"Patient/patient-1.json":         `{"resourceType":"Patient","id":"patient-1","gender":"female"}`,
	"Patient/patient-2.json":         `{"resourceType":"Patient","id":"patient-2","gender":"male"}`,
	"Patient/patient-3.json":         `{"resourceType":"Patient","id":"patient-3","gender":"female"}`,
	"Patient/patient-1_summary.json": `{"resourceType":"Bundle","id":"patient-1-summary","type":"document"}`,
}

func writeRecords(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range testRecords {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Env:         "test",
		LogLevel:    "error",
		FilesDir:    dir,
		BasePath:    "/fhir",
		Store:       config.StoreFile,
		CORSOrigins: []string{"*"},
		BodyLimit:   "1K",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *echo.Echo {
	t.Helper()
	src := &recordSource{Source: store.NewFile(cfg.FilesDir, zerolog.Nop())}
	return newServer(cfg, zerolog.Nop(), src, telemetry.NewMetrics("test"))
}

func do(e *echo.Echo, method, target string, body string, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestLandingPage(t *testing.T) {
	e := newTestServer(t, testConfig(writeRecords(t)))

	rec := do(e, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Body.String(), "Welcome to the simple server")

	rec = do(e, http.MethodGet, "/?message=%3Cb%3Ehi%3C%2Fb%3E", "")
	assert.Contains(t, rec.Body.String(), "&lt;b&gt;hi&lt;/b&gt;")
	assert.NotContains(t, rec.Body.String(), "<b>hi</b>")
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, testConfig(writeRecords(t)))

	rec := do(e, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, version, body["version"])

	rec = do(e, http.MethodGet, "/health/db", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch_DefaultListing(t *testing.T) {
	e := newTestServer(t, testConfig(writeRecords(t)))

	rec := do(e, http.MethodGet, "/fhir/Patient", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/fhir+json; charset=utf-8", rec.Header().Get(echo.HeaderContentType))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := decode(t, rec)
	assert.Equal(t, "Bundle", body["resourceType"])
	assert.Equal(t, "searchset", body["type"])
	assert.EqualValues(t, 3, body["total"])
	assert.Len(t, body["entry"], 3)
}

func TestSearch_TrailingSlashAndFilter(t *testing.T) {
	e := newTestServer(t, testConfig(writeRecords(t)))

	rec := do(e, http.MethodGet, "/fhir/Patient/?gender=female", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 2, body["total"])
}

func TestSearch_ReadByID(t *testing.T) {
	e := newTestServer(t, testConfig(writeRecords(t)))

	rec := do(e, http.MethodGet, "/fhir/Patient/patient-2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, testRecords["Patient/patient-2.json"], rec.Body.String())
}

func TestSearch_SummaryOperation(t *testing.T) {
	e := newTestServer(t, testConfig(writeRecords(t)))

	rec := do(e, http.MethodGet, "/fhir/Patient/patient-1/$summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, testRecords["Patient/patient-1_summary.json"], rec.Body.String())

	rec = do(e, http.MethodGet, "/fhir/Patient/patient-2/$summary", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "patient-2")
}

func TestSearch_InvalidParamRendersJSONError(t *testing.T) {
	e := newTestServer(t, testConfig(writeRecords(t)))

	rec := do(e, http.MethodGet, "/fhir/Patient?_count=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"error": "_count must be an integer"}, decode(t, rec))
}

func TestSearch_BodyTooLarge(t *testing.T) {
	e := newTestServer(t, testConfig(writeRecords(t)))

	rec := do(e, http.MethodPost, "/fhir/Patient/$summary", strings.Repeat("x", 2048))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMetadata(t *testing.T) {
	e := newTestServer(t, testConfig(writeRecords(t)))

	rec := do(e, http.MethodGet, "/fhir/metadata", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "CapabilityStatement", body["resourceType"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestServer(t, testConfig(writeRecords(t)))

	do(e, http.MethodGet, "/fhir/Patient", "")
	rec := do(e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fhir_emulator_fhir_requests_total{outcome="ok",resource_type="Patient"} 1`)
}

func TestCustomBasePath(t *testing.T) {
	cfg := testConfig(writeRecords(t))
	cfg.BasePath = "/api/r4"
	e := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/r4/Bundle", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/fhir/Bundle", "").Code)
}

func signedToken(t *testing.T, scope string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "tester",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scope: scope,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return tok
}

func TestAuthEnabled(t *testing.T) {
	cfg := testConfig(writeRecords(t))
	cfg.AuthSigningKey = testSigningKey
	e := newTestServer(t, cfg)

	rec := do(e, http.MethodGet, "/fhir/Patient", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decode(t, rec), "error")

	rec = do(e, http.MethodGet, "/fhir/Patient", "", "Authorization", "Bearer "+signedToken(t, "user/Patient.read"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodGet, "/fhir/Bundle", "", "Authorization", "Bearer "+signedToken(t, "user/Patient.read"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Health stays public.
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/health", "").Code)
}

func TestRateLimitEnabled(t *testing.T) {
	cfg := testConfig(writeRecords(t))
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 1
	e := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/health", "").Code)
	rec := do(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestBuildSource_FileWithCache(t *testing.T) {
	cfg := testConfig(writeRecords(t))
	cfg.CacheRecords = true

	src, err := buildSource(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer src.Close()

	_, ok := src.Source.(*store.Cache)
	assert.True(t, ok)
	assert.NotNil(t, src.stopWatch)

	records, err := src.Load(context.Background(), "Patient")
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestBuildSource_CacheWatchFailure(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing"))
	cfg.CacheRecords = true

	_, err := buildSource(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildSource_UnknownStore(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.Store = "redis"

	_, err := buildSource(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setCLIEnv(t *testing.T, dir string) {
	t.Setenv("FILES_DIR", dir)
	t.Setenv("STORE", config.StoreFile)
	t.Setenv("ENV", "test")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("CACHE_RECORDS", "false")
	t.Setenv("BASE_PATH", "/fhir")
}

func TestQueryCommand(t *testing.T) {
	setCLIEnv(t, writeRecords(t))

	out, err := runCLI(t, "query", "Patient", "--params", "gender=female&_count=1")
	require.NoError(t, err)

	var bundle map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &bundle))
	assert.EqualValues(t, 2, bundle["total"])
	assert.Len(t, bundle["entry"], 1)
	assert.Contains(t, out, "http://localhost:8000/fhir/Patient?gender=female")
}

func TestQueryCommand_ReadAndSummary(t *testing.T) {
	setCLIEnv(t, writeRecords(t))

	out, err := runCLI(t, "query", "Patient", "patient-3")
	require.NoError(t, err)
	assert.JSONEq(t, testRecords["Patient/patient-3.json"], out)

	out, err = runCLI(t, "query", "Patient", "patient-1", "$summary")
	require.NoError(t, err)
	assert.JSONEq(t, testRecords["Patient/patient-1_summary.json"], out)
}

func TestQueryCommand_InvalidParam(t *testing.T) {
	setCLIEnv(t, writeRecords(t))

	_, err := runCLI(t, "query", "Patient", "--params", "_page=0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "_page must be a positive integer")
}

func TestDBCommands_RequireDatabaseURL(t *testing.T) {
	setCLIEnv(t, t.TempDir())
	t.Setenv("DATABASE_URL", "")

	_, err := runCLI(t, "db", "import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	_, err = runCLI(t, "db", "migrate", "up")
	require.Error(t, err)
}

func TestSeedCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "seeded")
	setCLIEnv(t, dir)

	out, err := runCLI(t, "seed", "--patients", "4", "--bundle-size", "2", "--seed", "11")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.EqualValues(t, 4, result["patients"])
	assert.EqualValues(t, 2, result["bundles"])

	out, err = runCLI(t, "query", "Patient", "--params", "_count=0")
	require.NoError(t, err)
	assert.JSONEq(t, `{"resourceType":"Bundle","type":"searchset","total":4}`, out)
}
