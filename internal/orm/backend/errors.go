package backend

import (
	"errors"
	"fmt"
)

// Common backend error types
var (
	// ErrNotFound is returned when a write or delete targets a missing record
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID is returned when an index entry with the same id was already added
	ErrDuplicateID = errors.New("duplicate id")

	// ErrCorruptIndex is returned when an index file cannot be decoded
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrUnsavedReference is returned when a record embeds a related record that has no id yet
	ErrUnsavedReference = errors.New("related record has not been created")

	// ErrClosed is returned by operations on a closed backend
	ErrClosed = errors.New("backend closed")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")

	// ErrCheckViolation is returned when a check constraint is violated
	ErrCheckViolation = errors.New("check constraint violation")

	// ErrNotNullViolation is returned when a NOT NULL constraint is violated
	ErrNotNullViolation = errors.New("not null constraint violation")
)

// ReaderError wraps a failure while reading records
type ReaderError struct {
	Model string
	ID    int64
	Err   error
}

func (e *ReaderError) Error() string {
	if e.ID > 0 {
		return fmt.Sprintf("read %s#%d: %v", e.Model, e.ID, e.Err)
	}
	return fmt.Sprintf("read %s: %v", e.Model, e.Err)
}

func (e *ReaderError) Unwrap() error {
	return e.Err
}

// WriterError wraps a failure while creating, updating or deleting records
type WriterError struct {
	Model string
	ID    int64
	Op    string
	Err   error
}

func (e *WriterError) Error() string {
	if e.ID > 0 {
		return fmt.Sprintf("%s %s#%d: %v", e.Op, e.Model, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Model, e.Err)
}

func (e *WriterError) Unwrap() error {
	return e.Err
}

// SearchError wraps a failure while executing a search plan
type SearchError struct {
	Model string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %s: %v", e.Model, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// IndexError reports archive index corruption or a rejected index update
type IndexError struct {
	Model string
	ID    int64
	Err   error
}

func (e *IndexError) Error() string {
	if e.ID > 0 {
		return fmt.Sprintf("index %s: entry %d: %v", e.Model, e.ID, e.Err)
	}
	return fmt.Sprintf("index %s: %v", e.Model, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUniqueViolation returns true if the error is ErrUniqueViolation
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsForeignKeyViolation returns true if the error is ErrForeignKeyViolation
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}

// IsIndexError returns true if err is or wraps an *IndexError
func IsIndexError(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie)
}
