// Package store is the access point applications use to persist records.
//
// A Store ties the schema registry, the query planner and a backend together
// with field encryption, lifecycle hooks, field locks and membership links.
// Records handed out by the store are decrypted and carry exactly the fields
// that were asked for; key fields fetched only to decrypt are removed.
package store

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/orm/backend"
	"github.com/conduit-lang/strata/internal/orm/cache"
	"github.com/conduit-lang/strata/internal/orm/hooks"
	"github.com/conduit-lang/strata/internal/orm/locks"
	"github.com/conduit-lang/strata/internal/orm/migrate"
	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/relationships"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/orm/tracking"
)

// Store persists and retrieves records
type Store struct {
	schemas *schema.Registry
	planner *query.Planner
	shallow *query.Planner
	backend backend.Backend
	cipher  record.Cipher
	links   *relationships.Resolver
	locks   *locks.Manager
	hooks   *hooks.Executor
	logger  *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCipher enables field encryption
func WithCipher(c record.Cipher) Option {
	return func(s *Store) {
		s.cipher = c
	}
}

// WithHooks sets the lifecycle hook executor
func WithHooks(e *hooks.Executor) Option {
	return func(s *Store) {
		if e != nil {
			s.hooks = e
		}
	}
}

// WithPlanner replaces the default query planner
func WithPlanner(p *query.Planner) Option {
	return func(s *Store) {
		if p != nil {
			s.planner = p
		}
	}
}

// RegisterSystemSchemas registers the participation and field_lock schemas
// unless they already exist
func RegisterSystemSchemas(reg *schema.Registry) error {
	for _, def := range []schema.SchemaDef{relationships.Definition(), locks.Definition()} {
		if reg.Exists(def.Name) {
			continue
		}
		if _, err := reg.Register(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}

// New creates a store over an open backend. The system schemas are
// registered in reg when missing.
func New(reg *schema.Registry, be backend.Backend, opts ...Option) (*Store, error) {
	if err := RegisterSystemSchemas(reg); err != nil {
		return nil, err
	}
	s := &Store{
		schemas: reg,
		planner: query.NewPlanner(reg),
		shallow: query.NewPlanner(reg, query.WithMaxDepth(0)),
		backend: be,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hooks == nil {
		s.hooks = hooks.NewExecutor(nil, s.logger)
	}
	s.links = relationships.NewResolver(be, reg,
		relationships.WithLogger(s.logger),
		relationships.WithOpener(s.open))
	s.locks = locks.NewManager(be, reg, locks.WithLogger(s.logger))
	return s, nil
}

// Registry returns the schema registry
func (s *Store) Registry() *schema.Registry { return s.schemas }

// Planner returns the query planner
func (s *Store) Planner() *query.Planner { return s.planner }

// Backend returns the backend, including any cache decorator
func (s *Store) Backend() backend.Backend { return s.backend }

// Links returns the membership resolver
func (s *Store) Links() *relationships.Resolver { return s.links }

// Locks returns the field lock manager
func (s *Store) Locks() *locks.Manager { return s.locks }

// Hooks returns the lifecycle hook executor
func (s *Store) Hooks() *hooks.Executor { return s.hooks }

// EnsureSchemas prepares storage for every concrete schema
func (s *Store) EnsureSchemas(ctx context.Context) error {
	for _, rs := range s.schemas.Concrete() {
		if err := s.backend.EnsureSchema(ctx, rs); err != nil {
			return fmt.Errorf("failed to prepare %s: %w", rs.Name, err)
		}
	}
	return nil
}

// Migrator is implemented by backends that track stored schema versions
type Migrator interface {
	Migrate(ctx context.Context, rs *schema.ResolvedSchema) ([]migrate.SchemaChange, error)
}

// Resetter is implemented by backends that can drop and recreate storage
type Resetter interface {
	Reset(ctx context.Context, schemas []*schema.ResolvedSchema) error
}

// Migrate brings stored schemas in line with the registry and returns the
// applied changes. Backends without schema tracking only ensure storage.
func (s *Store) Migrate(ctx context.Context) ([]migrate.SchemaChange, error) {
	m, ok := unwrap(s.backend).(Migrator)
	if !ok {
		return nil, s.EnsureSchemas(ctx)
	}
	var applied []migrate.SchemaChange
	for _, rs := range s.schemas.Concrete() {
		changes, err := m.Migrate(ctx, rs)
		if err != nil {
			return applied, fmt.Errorf("failed to migrate %s: %w", rs.Name, err)
		}
		applied = append(applied, changes...)
	}
	return applied, nil
}

// Reset drops and recreates storage for every concrete schema
func (s *Store) Reset(ctx context.Context) error {
	r, ok := unwrap(s.backend).(Resetter)
	if !ok {
		return fmt.Errorf("backend does not support reset")
	}
	if err := r.Reset(ctx, s.schemas.Concrete()); err != nil {
		return err
	}
	if cached, ok := s.backend.(*cache.Backend); ok {
		return cached.Cache().Clear(ctx)
	}
	return nil
}

func unwrap(be backend.Backend) backend.Backend {
	for {
		w, ok := be.(interface{ Inner() backend.Backend })
		if !ok {
			return be
		}
		be = w.Inner()
	}
}

// Close drains async hooks and closes the backend
func (s *Store) Close() error {
	s.hooks.Close()
	return s.backend.Close()
}

// New returns an empty record of model
func (s *Store) New(model string) (*record.Record, error) {
	rs, err := s.schemas.Resolve(model)
	if err != nil {
		return nil, err
	}
	return record.New(rs)
}

// Create stores a new record and returns its stored state. The assigned id
// is also set on rec.
func (s *Store) Create(ctx context.Context, rec *record.Record) (*record.Record, error) {
	if rec.HasID() {
		return nil, fmt.Errorf("%s#%d: %w", rec.Model(), rec.ID(), ErrHasID)
	}
	hctx := hooks.NewContext(ctx, ActorFrom(ctx))
	if err := s.hooks.Execute(hctx, hooks.BeforeCreate, rec); err != nil {
		return nil, err
	}

	sealed, err := s.seal(rec)
	if err != nil {
		return nil, err
	}
	stored, err := s.backend.Write(ctx, sealed)
	if err != nil {
		return nil, err
	}
	if sealed != rec {
		if err := rec.AssignID(sealed.ID()); err != nil {
			return nil, err
		}
	}
	if err := s.open(stored, nil); err != nil {
		return nil, err
	}

	s.logger.Debug("record created",
		zap.String("model", stored.Model()),
		zap.Int64("id", stored.ID()))
	if err := s.hooks.Execute(hctx, hooks.AfterCreate, stored); err != nil {
		return stored, err
	}
	return stored, nil
}

// Get returns the record with the given id. A missing record is reported
// with a *NotFoundError.
func (s *Store) Get(ctx context.Context, model string, id int64, fields ...string) (*record.Record, error) {
	rec, err := s.Fetch(ctx, query.ByID(model, id, fields...))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Model: model, ID: id}
	}
	return rec, nil
}

// Exists reports whether a record exists. Lookup failures are logged and
// reported as absent.
func (s *Store) Exists(ctx context.Context, model string, id int64) bool {
	plan, err := s.planner.Plan(query.ByID(model, id, schema.FieldObjectID))
	if err == nil {
		var rec *record.Record
		rec, err = s.backend.Read(ctx, plan)
		if err == nil {
			return rec != nil
		}
	}
	s.logger.Warn("existence check failed",
		zap.String("model", model),
		zap.Int64("id", id),
		zap.Error(err))
	return false
}

// Fetch returns the first record matching q, or nil when none does
func (s *Store) Fetch(ctx context.Context, q *query.Query) (*record.Record, error) {
	plan, err := s.planner.Plan(q)
	if err != nil {
		return nil, err
	}
	rec, err := s.backend.Read(ctx, plan)
	if err != nil || rec == nil {
		return nil, err
	}
	if err := s.open(rec, plan.Root); err != nil {
		return nil, err
	}
	return rec, nil
}

// Search returns every record matching q
func (s *Store) Search(ctx context.Context, q *query.Query) ([]*record.Record, error) {
	plan, err := s.planner.Plan(q)
	if err != nil {
		return nil, err
	}
	recs, err := s.backend.Search(ctx, plan)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if err := s.open(rec, plan.Root); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Patch applies changes to the record as actor. Fields whose value does not
// change are ignored; a change to a field locked by another actor fails with
// a *FieldLockedError and nothing is written. The result holds the stored
// state.
func (s *Store) Patch(ctx context.Context, actor, model string, id int64, changes map[string]interface{}) (*record.Record, error) {
	rs, err := s.schemas.Resolve(model)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(changes))
	for name := range changes {
		f, ok := rs.Field(name)
		if !ok || f.Name == schema.FieldID || f.Name == schema.FieldObjectID {
			return nil, &record.FieldError{Model: model, Field: name, Err: record.ErrUnknownField}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	fields := append(append([]string(nil), names...), record.KeyFields(rs, names)...)
	original, err := s.fetchShallow(ctx, model, id, fields)
	if err != nil {
		return nil, err
	}

	current := record.Hydrate(original.Schema(), id, original.ObjectID())
	for _, name := range names {
		if err := current.Set(name, changes[name]); err != nil {
			return nil, err
		}
	}

	tracker := tracking.NewChangeTracker(original, current)
	if !tracker.HasChanges() {
		return original.Project(names), nil
	}
	for _, field := range tracker.ChangedFields() {
		holder, err := s.locks.LockedBy(ctx, original, field)
		if err != nil {
			return nil, err
		}
		if holder != "" && holder != actor {
			return nil, &FieldLockedError{Model: model, ID: id, Field: field, Actor: holder}
		}
	}

	update := tracker.ChangedRecord()
	hctx := hooks.NewContext(WithActor(ctx, actor), actor).WithChanges(tracker)
	if err := s.hooks.Execute(hctx, hooks.BeforeUpdate, update); err != nil {
		return nil, err
	}

	// re-encrypting a field must reuse the stored salt
	var changed []string
	update.Range(func(f *schema.FieldDescriptor, _ record.Value) bool {
		changed = append(changed, f.Name)
		return true
	})
	for _, key := range record.KeyFields(rs, changed) {
		if !update.Has(key) {
			if v, err := original.Get(key); err == nil && !v.IsAbsent() {
				_ = update.Put(key, v)
			}
		}
	}

	sealed, err := s.seal(update)
	if err != nil {
		return nil, err
	}
	stored, err := s.backend.Write(ctx, sealed)
	if err != nil {
		return nil, err
	}
	if err := s.open(stored, nil); err != nil {
		return nil, err
	}

	s.logger.Debug("record patched",
		zap.String("model", model),
		zap.Int64("id", id),
		zap.String("actor", actor),
		zap.Strings("fields", tracker.ChangedFields()))
	if err := s.hooks.Execute(hctx, hooks.AfterUpdate, stored); err != nil {
		return stored, err
	}
	return stored, nil
}

// Delete removes one record and its field locks. It returns false when the
// record does not exist.
func (s *Store) Delete(ctx context.Context, model string, id int64) (bool, error) {
	rec, err := s.Get(ctx, model, id)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	hctx := hooks.NewContext(ctx, ActorFrom(ctx))
	if err := s.hooks.Execute(hctx, hooks.BeforeDelete, rec); err != nil {
		return false, err
	}

	plan, err := s.planner.Plan(query.ByID(model, id))
	if err != nil {
		return false, err
	}
	n, err := s.backend.Delete(ctx, plan)
	if err != nil || n == 0 {
		return false, err
	}
	if _, err := s.locks.Release(ctx, rec); err != nil {
		s.logger.Warn("failed to release field locks",
			zap.String("model", model),
			zap.Int64("id", id),
			zap.Error(err))
	}

	s.logger.Debug("record deleted",
		zap.String("model", model),
		zap.Int64("id", id))
	if err := s.hooks.Execute(hctx, hooks.AfterDelete, rec); err != nil {
		return true, err
	}
	return true, nil
}

// DeleteWhere deletes every record matching q one at a time and returns the
// count. A failure stops the loop; records already deleted stay deleted.
func (s *Store) DeleteWhere(ctx context.Context, q *query.Query) (int, error) {
	ids := q.Clone()
	ids.Fields = []string{schema.FieldObjectID}
	recs, err := s.Search(ctx, ids)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, rec := range recs {
		ok, err := s.Delete(ctx, rec.Model(), rec.ID())
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// Export serializes a stored record in the given mode
func (s *Store) Export(ctx context.Context, model string, id int64, mode record.Mode) ([]byte, error) {
	rec, err := s.Get(ctx, model, id)
	if err != nil {
		return nil, err
	}
	return record.Export(rec, mode)
}

// Import decodes a serialized record and stores it. A document whose id
// names an existing record updates that record; any other document creates
// a new record with a fresh id.
func (s *Store) Import(ctx context.Context, data []byte, mode record.Mode) (*record.Record, error) {
	doc, err := record.Import(s.schemas, data, mode)
	if err != nil {
		return nil, err
	}

	if doc.HasID() && s.Exists(ctx, doc.Model(), doc.ID()) {
		sealed, err := s.seal(doc)
		if err != nil {
			return nil, err
		}
		stored, err := s.backend.Write(ctx, sealed)
		if err != nil {
			return nil, err
		}
		return stored, s.open(stored, nil)
	}

	fresh, err := record.New(doc.Schema())
	if err != nil {
		return nil, err
	}
	doc.Range(func(f *schema.FieldDescriptor, v record.Value) bool {
		err = fresh.Put(f.Name, v)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, fresh)
}

// fetchShallow reads fields of one record with relationships as bare ids
func (s *Store) fetchShallow(ctx context.Context, model string, id int64, fields []string) (*record.Record, error) {
	if len(fields) == 0 {
		fields = []string{schema.FieldObjectID}
	}
	plan, err := s.shallow.Plan(query.ByID(model, id, fields...))
	if err != nil {
		return nil, err
	}
	rec, err := s.backend.Read(ctx, plan)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Model: model, ID: id}
	}
	return rec, s.open(rec, plan.Root)
}

// seal encrypts protected fields. Records without populated encrypted fields
// are returned unchanged.
func (s *Store) seal(rec *record.Record) (*record.Record, error) {
	encrypted := false
	rec.Range(func(f *schema.FieldDescriptor, v record.Value) bool {
		encrypted = f.Encrypt && !v.IsNull()
		return !encrypted
	})
	if !encrypted {
		return rec, nil
	}
	if s.cipher == nil {
		return nil, fmt.Errorf("%s: %w", rec.Model(), ErrNoCipher)
	}
	return record.Seal(rec, s.cipher)
}

// open decrypts rec and its embedded records, then drops support fields
func (s *Store) open(rec *record.Record, node *query.Node) error {
	if s.cipher != nil {
		if err := record.Unseal(rec, s.cipher); err != nil {
			return err
		}
	}
	if node == nil {
		return nil
	}
	for _, name := range node.Support {
		rec.Unset(name)
	}
	for _, b := range node.Branches {
		v, err := rec.Get(b.Field.Name)
		if err != nil {
			continue
		}
		for _, related := range embedded(v) {
			if err := s.open(related, b.Node); err != nil {
				return err
			}
		}
	}
	return nil
}

func embedded(v record.Value) []*record.Record {
	if v.IsAbsent() || v.IsNull() {
		return nil
	}
	var out []*record.Record
	switch v.Kind() {
	case schema.KindModel:
		if fv := v.AsForeign(); fv.IsEmbedded() {
			out = append(out, fv.Record())
		}
	case schema.KindList:
		for _, item := range v.AsList() {
			out = append(out, embedded(item)...)
		}
	}
	return out
}
