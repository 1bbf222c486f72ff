package resource

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// Error classes returned by the search engine. Callers test for them with
// errors.Is; the message of the returned error is safe to show to clients.
var (
	ErrInvalidParam = errors.New("invalid parameter")
	ErrNotFound     = errors.New("not found")
	ErrInternal     = errors.New("internal error")
)

func invalidParam(msg string) error {
	return errors.Mark(errors.New(msg), ErrInvalidParam)
}

// StatusCode maps an engine error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidParam):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
