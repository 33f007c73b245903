package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaNotFound is returned when a model name is not registered
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrAlreadyRegistered is returned when a model name is registered twice
	ErrAlreadyRegistered = errors.New("schema already registered")

	// ErrCyclicInheritance is returned when the inheritance graph has a cycle
	ErrCyclicInheritance = errors.New("cyclic inheritance")

	// ErrMissingParent is returned when a parent schema is not registered
	ErrMissingParent = errors.New("missing parent schema")

	// ErrUnknownTarget is returned when a relationship targets an unknown schema
	ErrUnknownTarget = errors.New("unknown relationship target")

	// ErrFieldConflict is returned when ancestors declare a field with different kinds
	ErrFieldConflict = errors.New("conflicting inherited field")

	// ErrReservedField is returned when a definition declares an identity field
	ErrReservedField = errors.New("reserved field name")

	// ErrDuplicateField is returned when a definition declares a field twice
	ErrDuplicateField = errors.New("duplicate field")

	// ErrInvalidDefinition is returned when a document fails validation
	ErrInvalidDefinition = errors.New("invalid schema definition")
)

// SchemaError describes a registration failure for one schema
type SchemaError struct {
	Schema string
	Field  string
	Err    error
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema %s: field %s: %v", e.Schema, e.Field, e.Err)
	}
	return fmt.Sprintf("schema %s: %v", e.Schema, e.Err)
}

// Unwrap returns the underlying error
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error is ErrSchemaNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSchemaNotFound)
}
