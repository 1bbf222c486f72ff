package resource

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/fhir-emulator/internal/platform/fhir"
	"github.com/ehr/fhir-emulator/internal/platform/store"
)

// Request is one search against a resource type.
type Request struct {
	ResourceType string
	// ID is the path id segment, which may be the summary token.
	ID string
	// Operation is the segment following the id.
	Operation string
	Params    Params
	Body      []byte
	// BaseURL is scheme, host and path of the request, used for links.
	BaseURL string
}

func (r Request) summary() bool {
	return IsSummary(r.ID) || IsSummary(r.Operation)
}

// Result holds either a single resource or a search bundle.
type Result struct {
	Resource fhir.Record
	Bundle   *fhir.Bundle
}

// JSON renders the response body. A single resource is returned exactly as
// stored.
func (r Result) JSON() ([]byte, error) {
	if r.Bundle == nil {
		return r.Resource.Bytes(), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r.Bundle); err != nil {
		return nil, errors.Wrap(err, "encode bundle")
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

type Service struct {
	src    store.Source
	tracer trace.Tracer
}

func NewService(src store.Source) *Service {
	return &Service{
		src:    src,
		tracer: otel.Tracer("fhir-emulator/resource"),
	}
}

// ResourceTypes lists the resource types the source knows about.
func (s *Service) ResourceTypes(ctx context.Context) ([]string, error) {
	types, err := s.src.ResourceTypes(ctx)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "list resource types"), ErrInternal)
	}
	return types, nil
}

// Search runs req against the records of its resource type.
func (s *Service) Search(ctx context.Context, req Request) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "resource.Search",
		trace.WithAttributes(
			attribute.String("fhir.resource_type", req.ResourceType),
			attribute.String("fhir.id", req.ID),
			attribute.Bool("fhir.summary", req.summary()),
		),
	)
	defer span.End()

	res, err := s.search(ctx, req, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (s *Service) search(ctx context.Context, req Request, span trace.Span) (Result, error) {
	q, err := ParseQuery(req.Params)
	if err != nil {
		return Result{}, err
	}

	summary := req.summary()
	filters := append(Params(nil), q.Filters...)
	if req.ID != "" && !IsSummary(req.ID) {
		filters = filters.Set(paramID, req.ID)
	}
	if summary {
		if ident, ok := SearchIdentifier(req.Body); ok {
			filters = filters.Set("identifier", ident)
		}
	}

	records, err := s.src.Load(ctx, req.ResourceType)
	if err != nil {
		return Result{}, errors.Mark(errors.Wrapf(err, "load %s", req.ResourceType), ErrInternal)
	}
	matched := Filter(records, filters)
	total := len(matched)
	span.SetAttributes(attribute.Int("fhir.total", total))

	if total == 1 {
		if summary {
			return s.variant(ctx, req.ResourceType, matched[0].ID())
		}
		if req.ID != "" && !q.Explicit {
			return Result{Resource: matched[0]}, nil
		}
	}

	if q.Count == 0 {
		return Result{Bundle: fhir.NewCountBundle(total)}, nil
	}

	lo, hi := q.Page().Bounds(total)
	return Result{Bundle: fhir.NewSearchBundle(matched[lo:hi], total, pageLinks(req.BaseURL, q, total))}, nil
}

func (s *Service) variant(ctx context.Context, resourceType, id string) (Result, error) {
	rec, err := s.src.Variant(ctx, resourceType, id)
	if errors.Is(err, store.ErrVariantNotFound) {
		return Result{}, errors.Mark(errors.Newf("summary for %s/%s not found", resourceType, id), ErrNotFound)
	}
	if err != nil {
		return Result{}, errors.Mark(errors.Wrapf(err, "read summary for %s/%s", resourceType, id), ErrInternal)
	}
	return Result{Resource: rec}, nil
}
