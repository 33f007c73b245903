package record

import (
	"errors"
	"fmt"

	"github.com/conduit-lang/strata/internal/orm/schema"
)

var (
	// ErrUnknownField is returned when a field is not part of the resolved schema
	ErrUnknownField = errors.New("unknown field")

	// ErrIdentityField is returned when a caller tries to set id or objectId
	ErrIdentityField = errors.New("identity fields are assigned by the backend")

	// ErrIDAssigned is returned when a backend assigns an id twice
	ErrIDAssigned = errors.New("id already assigned")

	// ErrAbstractSchema is returned when instantiating an abstract schema
	ErrAbstractSchema = errors.New("abstract schema cannot be instantiated")

	// ErrInvalidDocument is returned when an imported document is malformed
	ErrInvalidDocument = errors.New("invalid record document")
)

// FieldError reports a problem with a field name or its use
type FieldError struct {
	Model string
	Field string
	Err   error
}

// Error implements the error interface
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Model, e.Field, e.Err)
}

// Unwrap returns the underlying error
func (e *FieldError) Unwrap() error {
	return e.Err
}

// ValueError reports a value that could not be coerced or failed validation
type ValueError struct {
	Model  string
	Field  string
	Kind   schema.FieldKind
	Reason string
	Err    error
}

// Error implements the error interface
func (e *ValueError) Error() string {
	msg := fmt.Sprintf("%s.%s (%s): %s", e.Model, e.Field, e.Kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *ValueError) Unwrap() error {
	return e.Err
}

// FactoryError reports a template merge or construction failure
type FactoryError struct {
	Template string
	Model    string
	Err      error
}

// Error implements the error interface
func (e *FactoryError) Error() string {
	return fmt.Sprintf("factory %s (%s): %v", e.Template, e.Model, e.Err)
}

// Unwrap returns the underlying error
func (e *FactoryError) Unwrap() error {
	return e.Err
}

// IsFieldError returns true if err is or wraps a FieldError
func IsFieldError(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe)
}

// IsValueError returns true if err is or wraps a ValueError
func IsValueError(err error) bool {
	var ve *ValueError
	return errors.As(err, &ve)
}

func unknownField(model, field string) error {
	return &FieldError{Model: model, Field: field, Err: ErrUnknownField}
}
