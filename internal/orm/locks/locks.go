// Package locks implements advisory per-field locks on stored records.
//
// A lock names one field of one record and the actor holding it. Locks are
// stored as field_lock records through the same backend as the data they
// protect. They are advisory: the store consults them before patching, while
// direct backend writes ignore them. Lock and Unlock are read-then-write and
// are only as atomic as the backend.
package locks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/orm/backend"
	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// LockModel is the schema name of lock records
const LockModel = "field_lock"

// Definition returns the field_lock schema
func Definition() schema.SchemaDef {
	return schema.SchemaDef{
		Name:  LockModel,
		Group: "system",
		Fields: []schema.FieldDef{
			{Name: "model", Type: "string"},
			{Name: "recordId", Type: "long"},
			{Name: "field", Type: "string"},
			{Name: "actor", Type: "string"},
			{Name: "created", Type: "timestamp", Nullable: true},
		},
	}
}

// Lock describes a held field lock
type Lock struct {
	Field   string
	Actor   string
	Created time.Time
}

// Manager acquires and releases field locks
type Manager struct {
	backend backend.Backend
	schemas query.SchemaResolver
	planner *query.Planner
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the time source for lock timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a lock manager storing locks in be
func NewManager(be backend.Backend, schemas query.SchemaResolver, opts ...Option) *Manager {
	m := &Manager{
		backend: be,
		schemas: schemas,
		planner: query.NewPlanner(schemas, query.WithMaxDepth(0)),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock acquires the lock on field for actor. It returns true when actor holds
// the lock afterwards, including when it already did, and false when another
// actor holds it.
func (m *Manager) Lock(ctx context.Context, actor string, rec *record.Record, field string) (bool, error) {
	if err := check(actor, rec, field); err != nil {
		return false, err
	}
	held, err := m.find(ctx, rec, field)
	if err != nil {
		return false, err
	}
	if held != nil {
		return held.MustGet("actor").AsString() == actor, nil
	}

	rs, err := m.schemas.Resolve(LockModel)
	if err != nil {
		return false, err
	}
	lock, err := record.New(rs)
	if err != nil {
		return false, err
	}
	for name, v := range map[string]interface{}{
		"model":    rec.Model(),
		"recordId": rec.ID(),
		"field":    field,
		"actor":    actor,
		"created":  m.now().UTC(),
	} {
		if err := lock.Set(name, v); err != nil {
			return false, err
		}
	}
	if _, err := m.backend.Write(ctx, lock); err != nil {
		return false, fmt.Errorf("failed to lock %s#%d.%s: %w", rec.Model(), rec.ID(), field, err)
	}
	m.logger.Debug("field locked",
		zap.String("model", rec.Model()),
		zap.Int64("id", rec.ID()),
		zap.String("field", field),
		zap.String("actor", actor))
	return true, nil
}

// Unlock releases actor's lock on field. It returns false when the field is
// not locked or another actor holds the lock.
func (m *Manager) Unlock(ctx context.Context, actor string, rec *record.Record, field string) (bool, error) {
	if err := check(actor, rec, field); err != nil {
		return false, err
	}
	held, err := m.find(ctx, rec, field)
	if err != nil || held == nil {
		return false, err
	}
	if held.MustGet("actor").AsString() != actor {
		return false, nil
	}

	plan, err := m.planner.Plan(query.ByID(LockModel, held.ID()))
	if err != nil {
		return false, err
	}
	n, err := m.backend.Delete(ctx, plan)
	if err != nil {
		return false, fmt.Errorf("failed to unlock %s#%d.%s: %w", rec.Model(), rec.ID(), field, err)
	}
	return n > 0, nil
}

// IsLocked reports whether any actor holds the lock on field
func (m *Manager) IsLocked(ctx context.Context, rec *record.Record, field string) (bool, error) {
	actor, err := m.LockedBy(ctx, rec, field)
	return actor != "", err
}

// LockedBy returns the actor holding the lock on field, or "" when unlocked
func (m *Manager) LockedBy(ctx context.Context, rec *record.Record, field string) (string, error) {
	if err := checkField(rec, field); err != nil {
		return "", err
	}
	held, err := m.find(ctx, rec, field)
	if err != nil || held == nil {
		return "", err
	}
	return held.MustGet("actor").AsString(), nil
}

// ListLocks returns the locks held on rec in schema field order
func (m *Manager) ListLocks(ctx context.Context, rec *record.Record) ([]Lock, error) {
	if !rec.HasID() {
		return nil, fmt.Errorf("%s: %w", rec.Model(), backend.ErrUnsavedReference)
	}
	plan, err := m.planner.Plan(query.New(LockModel).
		Select("field", "actor", "created").
		Where(query.Eq("model", rec.Model()), query.Eq("recordId", rec.ID())))
	if err != nil {
		return nil, err
	}
	held, err := m.backend.Search(ctx, plan)
	if err != nil {
		return nil, err
	}

	byField := make(map[string]*record.Record, len(held))
	for _, h := range held {
		byField[h.MustGet("field").AsString()] = h
	}
	var out []Lock
	for _, f := range rec.Schema().DataFields() {
		h, ok := byField[f.Name]
		if !ok {
			continue
		}
		l := Lock{Field: f.Name, Actor: h.MustGet("actor").AsString()}
		if created := h.MustGet("created"); !created.IsNull() {
			l.Created = created.AsTime()
		}
		out = append(out, l)
	}
	return out, nil
}

// Release drops every lock held on rec and returns how many were removed
func (m *Manager) Release(ctx context.Context, rec *record.Record) (int, error) {
	plan, err := m.planner.Plan(query.New(LockModel).
		Where(query.Eq("model", rec.Model()), query.Eq("recordId", rec.ID())))
	if err != nil {
		return 0, err
	}
	return m.backend.Delete(ctx, plan)
}

func (m *Manager) find(ctx context.Context, rec *record.Record, field string) (*record.Record, error) {
	plan, err := m.planner.Plan(query.New(LockModel).
		Select("actor").
		Where(
			query.Eq("model", rec.Model()),
			query.Eq("recordId", rec.ID()),
			query.Eq("field", field),
		).
		OrderBy(schema.FieldID, query.Asc).
		Take(1))
	if err != nil {
		return nil, err
	}
	return m.backend.Read(ctx, plan)
}

func check(actor string, rec *record.Record, field string) error {
	if actor == "" {
		return ErrNoActor
	}
	return checkField(rec, field)
}

func checkField(rec *record.Record, field string) error {
	if !rec.HasID() {
		return fmt.Errorf("%s: %w", rec.Model(), backend.ErrUnsavedReference)
	}
	f, ok := rec.Schema().Field(field)
	if !ok || f.Name == schema.FieldID || f.Name == schema.FieldObjectID {
		return &record.FieldError{Model: rec.Model(), Field: field, Err: record.ErrUnknownField}
	}
	return nil
}
