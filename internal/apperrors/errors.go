// Package apperrors holds the error taxonomy shared by the engines and the
// HTTP handlers, and the mapping from those errors to responses.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"canonsafe-governance/backend/internal/datastore"

	"github.com/gin-gonic/gin"
)

var (
	// ErrNotFound aliases the datastore sentinel so callers need only one import.
	ErrNotFound = datastore.ErrNotFound
	// ErrAlreadyClaimed is returned when a claim loses to an earlier one.
	ErrAlreadyClaimed = errors.New("review item already claimed")
	// ErrInvalidTransition is returned for any other state-machine violation.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrMissingJustification is returned for an override without justification.
	ErrMissingJustification = errors.New("override justification is required")
)

// ValidationError reports malformed input. It is always raised before any
// side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Status maps err to an HTTP status code and a stable error code.
func Status(err error) (int, string) {
	var v *ValidationError
	switch {
	case errors.As(err, &v):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, datastore.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, ErrAlreadyClaimed):
		return http.StatusConflict, "ALREADY_CLAIMED"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, datastore.ErrStateConflict):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, ErrMissingJustification):
		return http.StatusUnprocessableEntity, "MISSING_JUSTIFICATION"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// Respond writes err as a JSON error body with the mapped status.
func Respond(c *gin.Context, err error) {
	status, code := Status(err)
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
