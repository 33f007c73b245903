package store

import (
	"errors"
	"fmt"

	"github.com/conduit-lang/strata/internal/orm/backend"
)

var (
	// ErrFieldLocked is returned when a patch changes a field locked by another actor
	ErrFieldLocked = errors.New("field is locked")

	// ErrNoCipher is returned when writing encrypted fields without a configured cipher
	ErrNoCipher = errors.New("encrypted fields require a master key")

	// ErrHasID is returned when creating a record that already has an id
	ErrHasID = errors.New("record already has an id")
)

// NotFoundError reports a missing record. It wraps backend.ErrNotFound.
type NotFoundError struct {
	Model string
	ID    int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s#%d: %v", e.Model, e.ID, backend.ErrNotFound)
}

func (e *NotFoundError) Unwrap() error {
	return backend.ErrNotFound
}

// FieldLockedError names the locked field and the actor holding it.
// It wraps ErrFieldLocked.
type FieldLockedError struct {
	Model string
	ID    int64
	Field string
	Actor string
}

func (e *FieldLockedError) Error() string {
	return fmt.Sprintf("%s#%d.%s: locked by %s", e.Model, e.ID, e.Field, e.Actor)
}

func (e *FieldLockedError) Unwrap() error {
	return ErrFieldLocked
}

// IsNotFound returns true if err reports a missing record
func IsNotFound(err error) bool {
	return errors.Is(err, backend.ErrNotFound)
}

// IsFieldLocked returns true if err is or wraps ErrFieldLocked
func IsFieldLocked(err error) bool {
	return errors.Is(err, ErrFieldLocked)
}
