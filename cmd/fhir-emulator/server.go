package main

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/fhir-emulator/internal/config"
	"github.com/ehr/fhir-emulator/internal/domain/resource"
	"github.com/ehr/fhir-emulator/internal/platform/auth"
	"github.com/ehr/fhir-emulator/internal/platform/db"
	"github.com/ehr/fhir-emulator/internal/platform/fhir"
	"github.com/ehr/fhir-emulator/internal/platform/middleware"
	"github.com/ehr/fhir-emulator/internal/platform/telemetry"
)

const (
	defaultGreeting = "Welcome to the simple server"
	htmlContentType = "text/html; charset=utf-8"
)

var landingPage = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>FHIR Emulator</title></head>
<body><p>{{.}}</p></body>
</html>
`))

func newServer(cfg *config.Config, logger zerolog.Logger, src *recordSource, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Pre(echomw.RemoveTrailingSlash())

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	if cfg.RateLimitRPS > 0 {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimitRPS
		rl.BurstSize = cfg.RateLimitBurst
		e.Use(middleware.RateLimit(rl))
	}

	e.GET("/", landing)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if src.pool != nil {
		e.GET("/health/db", db.HealthHandler(src.pool))
	}
	e.GET("/metrics", metrics.Handler())

	fhirGroup := e.Group(cfg.BasePath)
	fhirGroup.Use(fhir.ContentTypeMiddleware())
	if cfg.AuthEnabled() {
		fhirGroup.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
		fhirGroup.Use(auth.RequireReadScope())
	}

	resource.NewHandler(resource.NewService(src)).RegisterRoutes(fhirGroup)

	return e
}

// landing echoes the message parameter, HTML-escaped.
func landing(c echo.Context) error {
	msg := c.QueryParam("message")
	if msg == "" {
		msg = defaultGreeting
	}
	var b strings.Builder
	if err := landingPage.Execute(&b, msg); err != nil {
		return err
	}
	return c.Blob(http.StatusOK, htmlContentType, []byte(b.String()))
}

// errorHandler renders every error as {"error": message}.
func errorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		}
		if code >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", middleware.GetRequestID(c)).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, map[string]string{"error": msg})
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to write error response")
		}
	}
}
