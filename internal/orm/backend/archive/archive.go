// Package archive implements the file backend: a fixed-width index file per
// model plus a badger blob store holding one document per record.
//
// The archive has no query engine. Plans are executed by scanning the model's
// index, decoding each blob and matching it in memory; relationship branches
// are populated by sequential sub-fetches, one per branch.
//
// Writers must be serialized externally. The backend keeps its in-memory
// views consistent for concurrent readers but does not coordinate writers
// across processes, and a create or update touches the blob and the index
// entry in two separate steps.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/orm/backend"
	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Index columns are filled from these conventional field names when a schema declares them
const (
	fieldName         = "name"
	fieldParent       = "parent"
	fieldOrganization = "organization"
)

// Config configures the archive backend
type Config struct {
	// Path is the store directory, or the archive file when Packed is set
	Path string

	// Packed stores everything in a single zip archive, extracted to a
	// temporary directory on open and re-packed on close
	Packed bool

	// InMemoryBlobs keeps the blob store in memory; index files still live under Path
	InMemoryBlobs bool

	// SyncWrites fsyncs blob writes
	SyncWrites bool
}

// Option configures a Backend
type Option func(*Backend)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// Backend is the archive implementation of backend.Backend
type Backend struct {
	cfg     Config
	dir     string
	schemas record.SchemaResolver
	blobs   *BlobStore
	logger  *zap.Logger

	mu      sync.Mutex
	indexes map[string]*Index
	closed  bool
}

var _ backend.Backend = (*Backend)(nil)

// Open opens or creates the archive described by cfg
func Open(cfg Config, schemas record.SchemaResolver, opts ...Option) (*Backend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("archive path is required")
	}
	b := &Backend{
		cfg:     cfg,
		schemas: schemas,
		logger:  zap.NewNop(),
		indexes: make(map[string]*Index),
	}
	for _, opt := range opts {
		opt(b)
	}

	if cfg.Packed {
		dir, err := os.MkdirTemp("", "strata-archive-")
		if err != nil {
			return nil, fmt.Errorf("create work directory: %w", err)
		}
		if err := unpack(cfg.Path, dir); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		b.dir = dir
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
		b.dir = cfg.Path
	}

	blobs, err := OpenBlobs(BlobConfig{
		Path:       filepath.Join(b.dir, "blobs"),
		InMemory:   cfg.InMemoryBlobs,
		SyncWrites: cfg.SyncWrites,
		Logger:     b.logger,
	})
	if err != nil {
		if cfg.Packed {
			os.RemoveAll(b.dir)
		}
		return nil, err
	}
	b.blobs = blobs

	b.logger.Info("archive opened",
		zap.String("path", cfg.Path),
		zap.Bool("packed", cfg.Packed))
	return b, nil
}

// Index returns the index of a model, opening or creating its file
func (b *Backend) Index(model string) (*Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, backend.ErrClosed
	}
	if ix, ok := b.indexes[model]; ok {
		return ix, nil
	}
	ix, err := OpenIndex(filepath.Join(b.dir, model+".idx"), model)
	if err != nil {
		return nil, err
	}
	b.indexes[model] = ix
	return ix, nil
}

// EnsureSchema creates the index file of a concrete schema
func (b *Backend) EnsureSchema(ctx context.Context, rs *schema.ResolvedSchema) error {
	if rs.Abstract {
		return nil
	}
	_, err := b.Index(rs.Name)
	return err
}

// load decodes the stored document of one index entry
func (b *Backend) load(model string, e Entry) (*record.Record, error) {
	data, err := b.blobs.Get(model, e.ObjectID)
	if err != nil {
		return nil, err
	}
	rec, err := record.Import(b.schemas, data, record.ModeUnfiltered)
	if err != nil {
		return nil, fmt.Errorf("decode %s#%d: %w", model, e.ID, err)
	}
	if rec.ID() != e.ID || rec.ObjectID() != e.ObjectID {
		return nil, &backend.IndexError{Model: model, ID: e.ID, Err: fmt.Errorf("%w: blob identity %d/%s", backend.ErrCorruptIndex, rec.ID(), rec.ObjectID())}
	}
	return rec, nil
}

// Read returns the first record matching the plan
func (b *Backend) Read(ctx context.Context, plan *query.Plan) (*record.Record, error) {
	if id, ok := plan.IDLookup(); ok {
		found, err := b.fetch(ctx, plan.Root, []int64{id})
		if err != nil {
			return nil, &backend.ReaderError{Model: plan.Model(), ID: id, Err: err}
		}
		return found[id], nil
	}

	recs, err := b.search(ctx, plan)
	if err != nil {
		return nil, &backend.ReaderError{Model: plan.Model(), Err: err}
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// Search scans the model's index and returns every matching record
func (b *Backend) Search(ctx context.Context, plan *query.Plan) ([]*record.Record, error) {
	recs, err := b.search(ctx, plan)
	if err != nil {
		return nil, &backend.SearchError{Model: plan.Model(), Err: err}
	}
	return recs, nil
}

func (b *Backend) search(ctx context.Context, plan *query.Plan) ([]*record.Record, error) {
	matched, err := b.scan(ctx, plan)
	if err != nil {
		return nil, err
	}

	out := make([]*record.Record, len(matched))
	for i, rec := range matched {
		out[i] = backend.Shape(rec, plan.Root)
	}
	if err := backend.Expand(ctx, plan.Root, out, b.fetch); err != nil {
		return nil, err
	}
	return out, nil
}

// scan returns the full stored records matching the plan's conditions, sorted and paginated
func (b *Backend) scan(ctx context.Context, plan *query.Plan) ([]*record.Record, error) {
	// abstract models have no records of their own
	if plan.Root.Schema.Abstract {
		return nil, nil
	}
	ix, err := b.Index(plan.Model())
	if err != nil {
		return nil, err
	}

	var matched []*record.Record
	for _, e := range ix.Entries() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := b.load(plan.Model(), e)
		if err != nil {
			return nil, err
		}
		if plan.Match(rec) {
			matched = append(matched, rec)
		}
	}
	return plan.Apply(matched), nil
}

// fetch loads records of one plan node by id and expands the node's branches
func (b *Backend) fetch(ctx context.Context, node *query.Node, ids []int64) (map[int64]*record.Record, error) {
	model := node.Schema.Name
	out := make(map[int64]*record.Record, len(ids))
	if node.Schema.Abstract {
		return out, nil
	}
	ix, err := b.Index(model)
	if err != nil {
		return nil, err
	}

	recs := make([]*record.Record, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, ok := ix.Lookup(id)
		if !ok {
			continue
		}
		rec, err := b.load(model, e)
		if err != nil {
			return nil, err
		}
		shaped := backend.Shape(rec, node)
		out[id] = shaped
		recs = append(recs, shaped)
	}

	if err := backend.Expand(ctx, node, recs, b.fetch); err != nil {
		return nil, err
	}
	return out, nil
}

// Write creates or partially updates a record
func (b *Backend) Write(ctx context.Context, rec *record.Record) (*record.Record, error) {
	model := rec.Model()
	op := "create"
	if rec.HasID() {
		op = "update"
	}
	fail := func(err error) (*record.Record, error) {
		return nil, &backend.WriterError{Model: model, ID: rec.ID(), Op: op, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if rec.Schema().Abstract {
		return fail(record.ErrAbstractSchema)
	}
	flat, err := backend.Flatten(rec)
	if err != nil {
		return fail(err)
	}
	ix, err := b.Index(model)
	if err != nil {
		return fail(err)
	}

	if !rec.HasID() {
		stored, err := b.create(ix, flat)
		if err != nil {
			return fail(err)
		}
		if err := rec.AssignID(stored.ID()); err != nil {
			return fail(err)
		}
		return stored, nil
	}

	stored, err := b.update(ix, flat)
	if err != nil {
		return fail(err)
	}
	return stored, nil
}

func (b *Backend) create(ix *Index, rec *record.Record) (*record.Record, error) {
	if err := rec.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := backend.CheckRequired(rec); err != nil {
		return nil, err
	}
	id, err := ix.NextID()
	if err != nil {
		return nil, err
	}
	if err := rec.AssignID(id); err != nil {
		return nil, err
	}

	data, err := record.Export(rec, record.ModeUnfiltered)
	if err != nil {
		return nil, err
	}
	if err := b.blobs.Put(rec.Model(), rec.ObjectID(), data); err != nil {
		return nil, err
	}
	if err := ix.Add(entryFor(rec)); err != nil {
		if derr := b.blobs.Delete(rec.Model(), rec.ObjectID()); derr != nil {
			b.logger.Warn("failed to remove orphaned blob",
				zap.String("model", rec.Model()),
				zap.String("object_id", rec.ObjectID()),
				zap.Error(derr))
		}
		return nil, err
	}

	b.logger.Debug("record created",
		zap.String("model", rec.Model()),
		zap.Int64("id", id))
	return rec, nil
}

func (b *Backend) update(ix *Index, changes *record.Record) (*record.Record, error) {
	e, ok := ix.Lookup(changes.ID())
	if !ok {
		return nil, backend.ErrNotFound
	}
	stored, err := b.load(changes.Model(), e)
	if err != nil {
		return nil, err
	}
	stored.Merge(changes)
	if err := backend.CheckRequired(stored); err != nil {
		return nil, err
	}

	data, err := record.Export(stored, record.ModeUnfiltered)
	if err != nil {
		return nil, err
	}
	if err := b.blobs.Put(stored.Model(), stored.ObjectID(), data); err != nil {
		return nil, err
	}
	if err := ix.Patch(entryFor(stored)); err != nil {
		return nil, err
	}

	b.logger.Debug("record updated",
		zap.String("model", stored.Model()),
		zap.Int64("id", stored.ID()))
	return stored, nil
}

// Delete flags matching index entries as deleted and drops their blobs
func (b *Backend) Delete(ctx context.Context, plan *query.Plan) (int, error) {
	model := plan.Model()
	matched, err := b.scan(ctx, plan)
	if err != nil {
		return 0, &backend.WriterError{Model: model, Op: "delete", Err: err}
	}
	ix, err := b.Index(model)
	if err != nil {
		return 0, &backend.WriterError{Model: model, Op: "delete", Err: err}
	}

	n := 0
	for _, rec := range matched {
		e := entryFor(rec)
		e.Deleted = true
		if err := ix.Patch(e); err != nil {
			return n, &backend.WriterError{Model: model, ID: rec.ID(), Op: "delete", Err: err}
		}
		if err := b.blobs.Delete(model, rec.ObjectID()); err != nil {
			return n, &backend.WriterError{Model: model, ID: rec.ID(), Op: "delete", Err: err}
		}
		n++
	}

	b.logger.Debug("records deleted",
		zap.String("model", model),
		zap.Int("count", n))
	return n, nil
}

// Close closes every index and the blob store and re-packs a packed archive
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	for _, ix := range b.indexes {
		if err := ix.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.blobs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if b.cfg.Packed {
		if firstErr == nil {
			firstErr = pack(b.dir, b.cfg.Path)
		}
		os.RemoveAll(b.dir)
	}
	return firstErr
}

// entryFor builds the index tuple of a stored record
func entryFor(rec *record.Record) Entry {
	e := Entry{ID: rec.ID(), ObjectID: rec.ObjectID()}
	if v := rec.MustGet(fieldName); v.Kind() == schema.KindString {
		e.Name = v.AsString()
	}
	if v := rec.MustGet(fieldParent); v.Kind() == schema.KindModel {
		e.ParentID = v.AsForeign().ID()
	}
	if v := rec.MustGet(fieldOrganization); v.Kind() == schema.KindModel {
		e.OrgID = v.AsForeign().ID()
	}
	return e
}
