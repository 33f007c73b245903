// Package relational implements the database backend over database/sql.
//
// Each concrete model owns a table named after it; list<model> fields live in
// link tables. A plan compiles to one SELECT joining every single-valued
// branch reachable from the root, plus one statement per link-table field and
// per list branch. Every write runs in its own transaction.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/strata/internal/orm/backend"
	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/orm/transaction"
)

// Config configures the relational backend
type Config struct {
	// Driver selects the dialect: postgres (default) or sqlite
	Driver string

	// URL is the connection URL, or the database file for sqlite
	URL string

	User     string
	Password string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// TxTimeout bounds every write transaction; zero disables the bound
	TxTimeout time.Duration
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

// WithRetryConfig sets how writes retry deadlocks and busy databases
func WithRetryConfig(cfg transaction.RetryConfig) Option {
	return func(b *Backend) {
		b.retry = cfg
	}
}

// WithTxTimeout bounds every write transaction
func WithTxTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.timeout = d
	}
}

// Backend is the relational implementation of backend.Backend
type Backend struct {
	db      *sql.DB
	dialect Dialect
	schemas record.SchemaResolver
	tx      *transaction.Manager
	logger  *zap.Logger
	retry   transaction.RetryConfig
	timeout time.Duration
	ownsDB  bool

	mu     sync.Mutex
	closed bool
}

var _ backend.Backend = (*Backend)(nil)

// Open connects to the database described by cfg
func Open(cfg Config, schemas record.SchemaResolver, opts ...Option) (*Backend, error) {
	d, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}
	dsn, err := d.DSN(cfg.URL, cfg.User, cfg.Password)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d == SQLite {
		// one connection: in-memory databases are per connection and sqlite has a single writer
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.TxTimeout > 0 {
		opts = append([]Option{WithTxTimeout(cfg.TxTimeout)}, opts...)
	}
	b := New(db, d, schemas, opts...)
	b.ownsDB = true
	b.logger.Info("database opened",
		zap.String("dialect", d.Name()))
	return b, nil
}

// New wraps an open database handle. The caller keeps ownership of db.
func New(db *sql.DB, d Dialect, schemas record.SchemaResolver, opts ...Option) *Backend {
	b := &Backend{
		db:      db,
		dialect: d,
		schemas: schemas,
		logger:  zap.NewNop(),
		retry:   transaction.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.tx = transaction.NewManager(db,
		transaction.WithRetryConfig(b.retry),
		transaction.WithTimeout(b.timeout))
	return b
}

// DB returns the underlying database handle
func (b *Backend) DB() *sql.DB {
	return b.db
}

// Dialect returns the SQL dialect in use
func (b *Backend) Dialect() Dialect {
	return b.dialect
}

func (b *Backend) checkOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}
	return nil
}

// Read returns the first record matching the plan
func (b *Backend) Read(ctx context.Context, plan *query.Plan) (*record.Record, error) {
	id, _ := plan.IDLookup()
	if err := b.checkOpen(); err != nil {
		return nil, &backend.ReaderError{Model: plan.Model(), ID: id, Err: err}
	}
	if plan.Root.Schema.Abstract {
		return nil, nil
	}

	recs, err := b.search(ctx, plan, 1)
	if err != nil {
		return nil, &backend.ReaderError{Model: plan.Model(), ID: id, Err: err}
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// Search returns every record matching the plan
func (b *Backend) Search(ctx context.Context, plan *query.Plan) ([]*record.Record, error) {
	if err := b.checkOpen(); err != nil {
		return nil, &backend.SearchError{Model: plan.Model(), Err: err}
	}
	if plan.Root.Schema.Abstract {
		return nil, nil
	}

	recs, err := b.search(ctx, plan, 0)
	if err != nil {
		return nil, &backend.SearchError{Model: plan.Model(), Err: err}
	}
	return recs, nil
}

func (b *Backend) search(ctx context.Context, plan *query.Plan, limit int) ([]*record.Record, error) {
	stmt, err := compileSelect(b.dialect, plan, limit)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, stmt)
}

// run executes a join-tree statement and completes the loaded records
func (b *Backend) run(ctx context.Context, stmt *selectStmt) ([]*record.Record, error) {
	rows, err := b.db.QueryContext(ctx, stmt.sql, stmt.args...)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	roots, loaded, err := decodeRows(b.schemas, stmt, rows)
	if err != nil {
		return nil, err
	}
	if err := b.populate(ctx, stmt.nodes, loaded); err != nil {
		return nil, err
	}
	return roots, nil
}

// linkLoad is one link-table field to load for a set of owners
type linkLoad struct {
	model  string
	field  *schema.FieldDescriptor
	owners []*record.Record
	items  map[int64][]int64
}

// populate loads link-table fields and list branches of the loaded records.
// Link tables are read concurrently; results are applied afterwards.
func (b *Backend) populate(ctx context.Context, nodes []*joinNode, loaded [][]*record.Record) error {
	var loads []*linkLoad
	for i, n := range nodes {
		if len(loaded[i]) == 0 {
			continue
		}
		for _, name := range n.node.FetchFields() {
			if f, ok := n.node.Schema.Field(name); ok && isLinked(f) {
				loads = append(loads, &linkLoad{model: n.node.Schema.Name, field: f, owners: loaded[i]})
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loads {
		l := l
		g.Go(func() error {
			items, err := b.loadLinks(gctx, l.model, l.field, recordIDs(l.owners))
			l.items = items
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, l := range loads {
		for _, owner := range l.owners {
			if err := owner.Put(l.field.Name, linkValue(l.field, l.items[owner.ID()])); err != nil {
				return err
			}
		}
	}

	for i, n := range nodes {
		for _, br := range n.node.Branches {
			if !br.Field.IsList() || len(loaded[i]) == 0 {
				continue
			}
			if err := b.expandList(ctx, br, loaded[i]); err != nil {
				return err
			}
		}
		for _, rec := range loaded[i] {
			backend.Complete(rec, n.node.FetchFields())
		}
	}
	return nil
}

// expandList replaces the ids of one list branch with the related records
func (b *Backend) expandList(ctx context.Context, br *query.Branch, owners []*record.Record) error {
	seen := make(map[int64]bool)
	var ids []int64
	for _, rec := range owners {
		for _, id := range backend.References(rec.MustGet(br.Field.Name)) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	related, err := b.fetch(ctx, br.Node, ids)
	if err != nil {
		return err
	}
	for _, rec := range owners {
		if err := backend.Embed(rec, br.Field, related); err != nil {
			return err
		}
	}
	return nil
}

// fetch loads the records of one plan node by id
func (b *Backend) fetch(ctx context.Context, node *query.Node, ids []int64) (map[int64]*record.Record, error) {
	out := make(map[int64]*record.Record, len(ids))
	if node.Schema.Abstract || len(ids) == 0 {
		return out, nil
	}
	recs, err := b.run(ctx, compileFetch(b.dialect, node, ids))
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		out[rec.ID()] = rec
	}
	return out, nil
}

// loadLinks reads the ordered target ids of a link-table field per owner
func (b *Backend) loadLinks(ctx context.Context, model string, f *schema.FieldDescriptor, owners []int64) (map[int64][]int64, error) {
	q, args := compileLinks(b.dialect, model, f, owners)
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	out := make(map[int64][]int64)
	for rows.Next() {
		var owner, target int64
		if err := rows.Scan(&owner, &target); err != nil {
			return nil, err
		}
		out[owner] = append(out[owner], target)
	}
	return out, rows.Err()
}

// linkValue builds a list<model> value from link rows. Without rows a
// nullable field reads as null and a required one as an empty list.
func linkValue(f *schema.FieldDescriptor, ids []int64) record.Value {
	if len(ids) == 0 && f.Nullable {
		return record.Null()
	}
	items := make([]record.Value, len(ids))
	for i, id := range ids {
		items[i] = record.Model(record.Reference(id))
	}
	return record.List(schema.KindModel, items)
}

func recordIDs(recs []*record.Record) []int64 {
	seen := make(map[int64]bool, len(recs))
	ids := make([]int64, 0, len(recs))
	for _, r := range recs {
		if !seen[r.ID()] {
			seen[r.ID()] = true
			ids = append(ids, r.ID())
		}
	}
	return ids
}

// Write creates or partially updates a record in its own transaction
func (b *Backend) Write(ctx context.Context, rec *record.Record) (*record.Record, error) {
	model := rec.Model()
	op := "create"
	if rec.HasID() {
		op = "update"
	}
	fail := func(err error) (*record.Record, error) {
		return nil, &backend.WriterError{Model: model, ID: rec.ID(), Op: op, Err: err}
	}

	if err := b.checkOpen(); err != nil {
		return fail(err)
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

	if !rec.HasID() {
		stored, err := b.create(ctx, flat)
		if err != nil {
			return fail(err)
		}
		if err := rec.AssignID(stored.ID()); err != nil {
			return fail(err)
		}
		return stored, nil
	}

	stored, err := b.update(ctx, flat)
	if err != nil {
		return fail(err)
	}
	return stored, nil
}

func (b *Backend) create(ctx context.Context, rec *record.Record) (*record.Record, error) {
	if err := rec.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := backend.CheckRequired(rec); err != nil {
		return nil, err
	}
	insert, args, err := insertSQL(b.dialect, rec)
	if err != nil {
		return nil, err
	}

	var id int64
	err = b.tx.WithRetry(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, insert, args...).Scan(&id); err != nil {
			return err
		}
		return b.writeLinks(ctx, tx, id, rec, true)
	})
	if err != nil {
		return nil, ConvertDBError(err)
	}
	if err := rec.AssignID(id); err != nil {
		return nil, err
	}

	b.logger.Debug("record created",
		zap.String("model", rec.Model()),
		zap.Int64("id", id))
	return rec, nil
}

func (b *Backend) update(ctx context.Context, changes *record.Record) (*record.Record, error) {
	id := changes.ID()
	found, err := b.fetch(ctx, fullNode(changes.Schema()), []int64{id})
	if err != nil {
		return nil, err
	}
	stored, ok := found[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	stored.Merge(changes)
	if err := backend.CheckRequired(stored); err != nil {
		return nil, err
	}

	upd, args, err := updateSQL(b.dialect, changes)
	if err != nil {
		return nil, err
	}
	err = b.tx.WithRetry(ctx, func(tx *sql.Tx) error {
		if upd != "" {
			res, err := tx.ExecContext(ctx, upd, args...)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return backend.ErrNotFound
			}
		}
		return b.writeLinks(ctx, tx, id, changes, false)
	})
	if err != nil {
		return nil, ConvertDBError(err)
	}

	b.logger.Debug("record updated",
		zap.String("model", stored.Model()),
		zap.Int64("id", id))
	return stored, nil
}

// writeLinks stores the populated list<model> fields of rec, replacing
// existing rows unless the owner was just created
func (b *Backend) writeLinks(ctx context.Context, tx *sql.Tx, owner int64, rec *record.Record, fresh bool) error {
	var err error
	rec.Range(func(f *schema.FieldDescriptor, v record.Value) bool {
		if !isLinked(f) {
			return true
		}
		table := quote(linkTable(rec.Model(), f))
		if !fresh {
			c := newCompiler(b.dialect)
			q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, quote(colOwner), c.bind(owner))
			if _, err = tx.ExecContext(ctx, q, c.args...); err != nil {
				return false
			}
		}
		for pos, target := range backend.References(v) {
			c := newCompiler(b.dialect)
			q := fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES (%s, %s, %s)",
				table, quote(colOwner), quote(colPosition), quote(colTarget),
				c.bind(owner), c.bind(pos), c.bind(target))
			if _, err = tx.ExecContext(ctx, q, c.args...); err != nil {
				return false
			}
		}
		return true
	})
	return err
}

// fullNode is a plan node fetching every data field as stored
func fullNode(rs *schema.ResolvedSchema) *query.Node {
	n := &query.Node{Schema: rs}
	for _, f := range rs.DataFields() {
		n.Fields = append(n.Fields, f.Name)
		if f.IsRelationship() {
			n.References = append(n.References, f.Name)
		}
	}
	return n
}

// Delete removes every record matching the plan and its link rows
func (b *Backend) Delete(ctx context.Context, plan *query.Plan) (int, error) {
	model := plan.Model()
	fail := func(err error) (int, error) {
		return 0, &backend.WriterError{Model: model, Op: "delete", Err: err}
	}
	if err := b.checkOpen(); err != nil {
		return fail(err)
	}
	if plan.Root.Schema.Abstract {
		return 0, nil
	}

	sel, args, err := compileIDs(b.dialect, plan)
	if err != nil {
		return fail(err)
	}
	ids, err := b.selectIDs(ctx, sel, args)
	if err != nil {
		return fail(err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var n int64
	err = b.tx.WithRetry(ctx, func(tx *sql.Tx) error {
		for _, f := range plan.Root.Schema.DataFields() {
			if !isLinked(f) {
				continue
			}
			c := newCompiler(b.dialect)
			q := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", quote(linkTable(model, f)), quote(colOwner), c.bindIDs(ids))
			if _, err := tx.ExecContext(ctx, q, c.args...); err != nil {
				return err
			}
		}
		c := newCompiler(b.dialect)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", quote(tableName(model)), quote(colID), c.bindIDs(ids))
		res, err := tx.ExecContext(ctx, q, c.args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fail(ConvertDBError(err))
	}

	b.logger.Debug("records deleted",
		zap.String("model", model),
		zap.Int64("count", n))
	return int(n), nil
}

func (b *Backend) selectIDs(ctx context.Context, q string, args []interface{}) ([]int64, error) {
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, ConvertDBError(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database handle when the backend opened it
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}
