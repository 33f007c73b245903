package locks

import "errors"

// ErrNoActor is returned when a lock operation names no actor
var ErrNoActor = errors.New("actor is required")
