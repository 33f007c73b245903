// Package hooks runs record lifecycle callbacks around store writes.
//
// Synchronous hooks run in the caller's goroutine; a Before hook returning an
// error aborts the operation. Async hooks receive a clone of the record and
// run on a worker pool after the operation, so their failures are only logged.
package hooks

import (
	"github.com/conduit-lang/strata/internal/orm/record"
)

// Type identifies a lifecycle point
type Type int

const (
	BeforeCreate Type = iota
	AfterCreate
	BeforeUpdate
	AfterUpdate
	BeforeDelete
	AfterDelete

	numTypes
)

var typeNames = [numTypes]string{
	"before_create", "after_create",
	"before_update", "after_update",
	"before_delete", "after_delete",
}

func (t Type) valid() bool { return t >= 0 && t < numTypes }

func (t Type) String() string {
	if !t.valid() {
		return "unknown"
	}
	return typeNames[t]
}

// HookFunc is a lifecycle callback. Before hooks may modify rec.
type HookFunc func(ctx *Context, rec *record.Record) error

// Hook is a registered lifecycle callback
type Hook struct {
	Type Type
	// Model restricts the hook to one schema and its descendants; empty matches every model
	Model string
	Fn    HookFunc
	// Async hooks run on the queue after the operation completes
	Async bool
}

func (h *Hook) appliesTo(rec *record.Record) bool {
	return h.Model == "" || rec.Schema().IsA(h.Model)
}
