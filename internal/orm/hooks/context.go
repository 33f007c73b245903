package hooks

import (
	"context"

	"github.com/conduit-lang/strata/internal/orm/tracking"
)

// Context carries the operation details a hook may need
type Context struct {
	context.Context
	actor   string
	changes *tracking.ChangeTracker
}

// NewContext creates a hook context for an operation performed by actor
func NewContext(ctx context.Context, actor string) *Context {
	return &Context{
		Context: ctx,
		actor:   actor,
	}
}

// WithChanges returns a copy of the context carrying the field changes of an update
func (c *Context) WithChanges(changes *tracking.ChangeTracker) *Context {
	return &Context{
		Context: c.Context,
		actor:   c.actor,
		changes: changes,
	}
}

// Actor returns the acting identity, or "" when unknown
func (c *Context) Actor() string {
	return c.actor
}

// Changes returns the field changes of an update (nil for create and delete)
func (c *Context) Changes() *tracking.ChangeTracker {
	return c.changes
}
