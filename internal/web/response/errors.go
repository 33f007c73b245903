package response

import (
	"errors"
	"net/http"
	"strings"

	"github.com/conduit-lang/strata/internal/orm/backend"
	"github.com/conduit-lang/strata/internal/orm/locks"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/relationships"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/orm/store"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// codes overrides the slug derived from the status text
var codes = map[int]string{
	http.StatusRequestEntityTooLarge: "request_too_large",
	http.StatusInternalServerError:   "internal_error",
}

// Code returns the machine readable code for a status, e.g. "not_found"
func Code(status int) string {
	if c, ok := codes[status]; ok {
		return c
	}
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	text = strings.ReplaceAll(strings.ToLower(text), "-", " ")
	return strings.ReplaceAll(text, " ", "_")
}

// HTTPError is an error that already knows its status
type HTTPError struct {
	StatusCode int
	Message    string
	Details    map[string]interface{}
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates an HTTPError
func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Message: message}
}

// WithDetails attaches details to the reply
func (e *HTTPError) WithDetails(details map[string]interface{}) *HTTPError {
	e.Details = details
	return e
}

// RenderError writes an error body with the code for status
func RenderError(w http.ResponseWriter, status int, message string, details map[string]interface{}) {
	JSON(w, status, &ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    Code(status),
		Details: details,
	})
}

// RenderBadRequest writes a 400
func RenderBadRequest(w http.ResponseWriter, message string) {
	RenderError(w, http.StatusBadRequest, message, nil)
}

// RenderConflict writes a 409
func RenderConflict(w http.ResponseWriter, message string) {
	RenderError(w, http.StatusConflict, message, nil)
}

// NotFound is a JSON http.HandlerFunc for unrouted paths
func NotFound(w http.ResponseWriter, r *http.Request) {
	RenderError(w, http.StatusNotFound, "no route for "+r.URL.Path, nil)
}

// MethodNotAllowed is a JSON http.HandlerFunc for unrouted methods
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	RenderError(w, http.StatusMethodNotAllowed, r.Method+" is not allowed on "+r.URL.Path, nil)
}

// StatusFor maps a store error to an HTTP status
func StatusFor(err error) int {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &httpErr):
		return httpErr.StatusCode
	case store.IsNotFound(err), schema.IsNotFound(err):
		return http.StatusNotFound
	case store.IsFieldLocked(err):
		return http.StatusLocked
	case errors.Is(err, store.ErrHasID), errors.Is(err, backend.ErrDuplicateID),
		errors.Is(err, backend.ErrUniqueViolation), errors.Is(err, backend.ErrForeignKeyViolation):
		return http.StatusConflict
	case record.IsValueError(err), errors.Is(err, backend.ErrUnsavedReference),
		errors.Is(err, backend.ErrNotNullViolation), errors.Is(err, backend.ErrCheckViolation):
		return http.StatusUnprocessableEntity
	case record.IsFieldError(err), errors.Is(err, record.ErrAbstractSchema),
		errors.Is(err, record.ErrInvalidDocument),
		errors.Is(err, store.ErrNoCipher), errors.Is(err, relationships.ErrEmptyRelation):
		return http.StatusBadRequest
	case errors.Is(err, locks.ErrNoActor):
		return http.StatusUnauthorized
	case errors.Is(err, backend.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RenderStoreError renders err with the status StatusFor picks. Locked
// fields carry the field and holding actor as details; internal errors
// hide their message.
func RenderStoreError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	var details map[string]interface{}

	var (
		httpErr  *HTTPError
		locked   *store.FieldLockedError
		fieldErr *record.FieldError
		valueErr *record.ValueError
	)
	switch {
	case errors.As(err, &httpErr):
		message, details = httpErr.Message, httpErr.Details
	case errors.As(err, &locked):
		details = map[string]interface{}{"field": locked.Field, "actor": locked.Actor}
	case errors.As(err, &fieldErr):
		details = map[string]interface{}{"field": fieldErr.Field}
	case errors.As(err, &valueErr):
		details = map[string]interface{}{"field": valueErr.Field, "reason": valueErr.Reason}
	case status == http.StatusInternalServerError:
		message = "internal server error"
	}
	RenderError(w, status, message, details)
}
