package resource

import (
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"

	"github.com/ehr/fhir-emulator/internal/platform/fhir"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the capability statement and the search routes on
// the FHIR group.
func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirGroup.GET("/metadata", h.Metadata)

	for _, path := range []string{"/:type", "/:type/:id", "/:type/:id/:op"} {
		fhirGroup.GET(path, h.Search)
		fhirGroup.POST(path, h.Search)
	}
}

// Search serves list, id lookup and the summary sub-operation.
func (h *Handler) Search(c echo.Context) error {
	r := c.Request()
	req := Request{
		ResourceType: c.Param("type"),
		ID:           c.Param("id"),
		Operation:    c.Param("op"),
		Params:       ParseParams(r.URL.RawQuery),
		BaseURL:      c.Scheme() + "://" + r.Host + r.URL.EscapedPath(),
	}
	if r.Method == http.MethodPost && r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return he
			}
			return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
		}
		req.Body = body
	}

	res, err := h.svc.Search(r.Context(), req)
	if err != nil {
		return echo.NewHTTPError(StatusCode(err), err.Error())
	}
	body, err := res.JSON()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, fhir.FHIRContentType, body)
}

// Metadata serves the CapabilityStatement for the available resource types.
func (h *Handler) Metadata(c echo.Context) error {
	types, err := h.svc.ResourceTypes(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(StatusCode(err), err.Error())
	}
	r := c.Request()
	base := c.Scheme() + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/metadata")
	return c.JSON(http.StatusOK, fhir.NewCapabilityStatement(base, types))
}
