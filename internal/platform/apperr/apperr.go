// Package apperr holds the error kinds shared by the domain packages and
// their translation to HTTP responses.
package apperr

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/waitlist/internal/platform/db"
)

// ErrConflict is wrapped by errors that reject an operation because of the
// current state of a record.
var ErrConflict = errors.New("conflict")

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Problems []string
}

func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// HTTPError converts a service error into an *echo.HTTPError.
func HTTPError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message":  "validation failed",
			"problems": ve.Problems,
		})
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case db.IsPersistence(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
