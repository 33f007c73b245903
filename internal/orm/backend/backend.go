// Package backend defines the storage contract shared by the archive and
// relational implementations.
//
// A backend executes query plans produced by the query planner. Records it
// returns are populated with exactly the plan node's fetch fields plus identity;
// requested fields that have no stored value come back as explicit nulls.
// Relationship fields listed as plan branches are returned as embedded records,
// and reference-only relationship fields as bare ids.
package backend

import (
	"context"

	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Backend persists records and executes plans
type Backend interface {
	// Read returns the first record matching the plan, or nil when none does
	Read(ctx context.Context, plan *query.Plan) (*record.Record, error)

	// Search returns every record matching the plan, sorted and paginated
	Search(ctx context.Context, plan *query.Plan) ([]*record.Record, error)

	// Write creates the record when it has no id and applies a partial update
	// of its populated fields otherwise. The returned record is the stored state.
	// On create the assigned id is also set on rec.
	Write(ctx context.Context, rec *record.Record) (*record.Record, error)

	// Delete removes every record matching the plan and returns the count
	Delete(ctx context.Context, plan *query.Plan) (int, error)

	// EnsureSchema prepares storage for a schema (index file, table)
	EnsureSchema(ctx context.Context, rs *schema.ResolvedSchema) error

	// Close releases every resource held by the backend
	Close() error
}

// Kind names a backend implementation in configuration
type Kind string

const (
	KindFile     Kind = "file"
	KindDatabase Kind = "database"
)
