package relationships

import "errors"

var (
	// ErrEmptyRelation is returned when a relation name is empty
	ErrEmptyRelation = errors.New("relation name is required")
)
