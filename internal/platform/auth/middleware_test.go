package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, key []byte, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "client-1",
			Issuer:    "https://issuer.example",
			Audience:  jwt.ClaimStrings{"fhir-emulator"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scope: "user/Patient.read user/Bundle.rs",
	}
}

func runJWT(t *testing.T, cfg JWTConfig, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/fhir/Patient", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	var seen echo.Context
	err := JWTMiddleware(cfg)(func(c echo.Context) error {
		seen = c
		return nil
	})(c)
	return seen, err
}

func assertStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, code, he.Code)
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	cfg := JWTConfig{Issuer: "https://issuer.example", Audience: "fhir-emulator", SigningKey: testKey}
	token := signToken(t, testKey, jwt.SigningMethodHS256, validClaims())

	c, err := runJWT(t, cfg, "Bearer "+token)
	require.NoError(t, err)
	ctx := c.Request().Context()
	assert.Equal(t, "client-1", SubjectFromContext(ctx))
	assert.Equal(t, []string{"user/Patient.read", "user/Bundle.rs"}, ScopesFromContext(ctx))
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	cfg := JWTConfig{Issuer: "https://issuer.example", Audience: "fhir-emulator", SigningKey: testKey}

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://other.example"
	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other"}
	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	tests := map[string]string{
		"missing header": "",
		"basic scheme":   "Basic dXNlcjpwYXNz",
		"empty bearer":   "Bearer ",
		"garbage":        "Bearer not-a-token",
		"wrong key":      "Bearer " + signToken(t, []byte("other-key"), jwt.SigningMethodHS256, validClaims()),
		"wrong method":   "Bearer " + signToken(t, testKey, jwt.SigningMethodHS512, validClaims()),
		"expired":        "Bearer " + signToken(t, testKey, jwt.SigningMethodHS256, expired),
		"wrong issuer":   "Bearer " + signToken(t, testKey, jwt.SigningMethodHS256, wrongIssuer),
		"wrong audience": "Bearer " + signToken(t, testKey, jwt.SigningMethodHS256, wrongAudience),
		"no expiry":      "Bearer " + signToken(t, testKey, jwt.SigningMethodHS256, noExpiry),
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := runJWT(t, cfg, header)
			assertStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_LowercaseScheme(t *testing.T) {
	cfg := JWTConfig{SigningKey: testKey}
	_, err := runJWT(t, cfg, "bearer "+signToken(t, testKey, jwt.SigningMethodHS256, validClaims()))
	assert.NoError(t, err)
}

func TestClaims_Scopes(t *testing.T) {
	c := Claims{Scope: " a  b ", FHIRScopes: []string{"c"}}
	assert.Equal(t, []string{"c", "a", "b"}, c.Scopes())
	assert.Empty(t, (&Claims{}).Scopes())
}
