package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/orm/migrate"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// EnsureSchema creates the tables of a concrete schema, or migrates them
// when the schema changed since they were built
func (b *Backend) EnsureSchema(ctx context.Context, rs *schema.ResolvedSchema) error {
	if rs.Abstract {
		return nil
	}
	_, err := b.Migrate(ctx, rs)
	return err
}

// Migrate brings a model's tables in line with rs, diffing against the
// snapshot recorded when they were last built, and returns the applied changes
func (b *Backend) Migrate(ctx context.Context, rs *schema.ResolvedSchema) ([]migrate.SchemaChange, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if err := b.ensureTracker(ctx); err != nil {
		return nil, err
	}

	current := migrate.Capture(rs)
	stored, err := b.Snapshot(ctx, rs.Name)
	if err != nil {
		return nil, err
	}
	if stored != nil && stored.Checksum() == current.Checksum() {
		return nil, nil
	}

	oldSet := map[string]*migrate.Snapshot{}
	if stored != nil {
		oldSet[rs.Name] = stored
	}
	changes := migrate.Diff(oldSet, map[string]*migrate.Snapshot{rs.Name: current})
	if err := b.apply(ctx, changes, stored, current); err != nil {
		return nil, err
	}
	return changes, nil
}

// ApplySchema issues the statements moving a model's tables from old to new.
// A nil old creates the tables; a nil new drops them.
func (b *Backend) ApplySchema(ctx context.Context, old, new *schema.ResolvedSchema) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := b.ensureTracker(ctx); err != nil {
		return err
	}

	var oldSnap, newSnap *migrate.Snapshot
	if old != nil {
		oldSnap = migrate.Capture(old)
	}
	if new != nil {
		newSnap = migrate.Capture(new)
	}
	return b.apply(ctx, migrate.DiffSchemas(old, new), oldSnap, newSnap)
}

// Reset drops and recreates the tables of every concrete schema
func (b *Backend) Reset(ctx context.Context, schemas []*schema.ResolvedSchema) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := b.ensureTracker(ctx); err != nil {
		return err
	}

	var stmts []string
	var snaps []*migrate.Snapshot
	for _, rs := range schemas {
		if rs.Abstract {
			continue
		}
		// drop link tables of the stored layout too
		if stored, err := b.Snapshot(ctx, rs.Name); err != nil {
			return err
		} else if stored != nil {
			fields, err := descriptors(stored)
			if err != nil {
				return err
			}
			stmts = append(stmts, dropTable(rs.Name, fields)...)
		}
		stmts = append(stmts, dropTable(rs.Name, rs.DataFields())...)
		stmts = append(stmts, createTable(b.dialect, rs.Name, rs.DataFields())...)
		snaps = append(snaps, migrate.Capture(rs))
	}

	err := b.tx.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		for _, snap := range snaps {
			if err := b.recordSnapshot(ctx, tx, snap); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset schema: %w", err)
	}

	b.logger.Warn("database schema reset",
		zap.Int("models", len(snaps)))
	return nil
}

// Snapshot returns the recorded snapshot of a model, or nil when none exists
func (b *Backend) Snapshot(ctx context.Context, model string) (*migrate.Snapshot, error) {
	c := newCompiler(b.dialect)
	q := fmt.Sprintf("SELECT snapshot FROM %s WHERE model = %s", quote(trackerTable), c.bind(model))

	var data string
	err := b.db.QueryRowContext(ctx, q, c.args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema snapshot of %s: %w", model, err)
	}
	return migrate.ParseSnapshot([]byte(data))
}

func (b *Backend) ensureTracker(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, createTracker(b.dialect)); err != nil {
		return fmt.Errorf("failed to initialize schema tracker: %w", err)
	}
	return nil
}

// apply runs the statements of a change set and records the new snapshot in one transaction
func (b *Backend) apply(ctx context.Context, changes []migrate.SchemaChange, oldSnap, newSnap *migrate.Snapshot) error {
	stmts, err := b.statements(changes, oldSnap, newSnap)
	if err != nil {
		return err
	}

	err = b.tx.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		if newSnap != nil {
			return b.recordSnapshot(ctx, tx, newSnap)
		}
		if oldSnap != nil {
			c := newCompiler(b.dialect)
			_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE model = %s", quote(trackerTable), c.bind(oldSnap.Model)), c.args...)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	if len(changes) > 0 {
		b.logger.Info("schema migrated",
			zap.String("summary", migrate.Summary(changes)),
			zap.Bool("breaking", migrate.HasBreaking(changes)))
	}
	for _, change := range changes {
		b.logger.Debug("schema change applied",
			zap.String("change", change.String()),
			zap.Bool("breaking", change.Breaking),
			zap.Bool("data_loss", change.DataLoss))
	}
	return nil
}

// statements renders the DDL of a change set
func (b *Backend) statements(changes []migrate.SchemaChange, oldSnap, newSnap *migrate.Snapshot) ([]string, error) {
	var stmts []string
	for _, change := range changes {
		var oldField, newField *schema.FieldDescriptor
		var err error
		if change.Old != nil {
			if oldField, err = change.Old.Descriptor(); err != nil {
				return nil, err
			}
		}
		if change.New != nil {
			if newField, err = change.New.Descriptor(); err != nil {
				return nil, err
			}
		}

		switch change.Type {
		case migrate.ChangeAddModel:
			fields, err := descriptors(newSnap)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, createTable(b.dialect, change.Model, fields)...)
		case migrate.ChangeDropModel:
			fields, err := descriptors(oldSnap)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, dropTable(change.Model, fields)...)
		case migrate.ChangeAddField:
			stmts = append(stmts, addField(b.dialect, change.Model, newField)...)
		case migrate.ChangeDropField:
			stmts = append(stmts, dropField(change.Model, oldField)...)
		case migrate.ChangeModifyField:
			stmts = append(stmts, modifyField(b.dialect, change.Model, oldField, newField)...)
		}
	}
	return stmts, nil
}

// recordSnapshot upserts a model's snapshot into the tracker
func (b *Backend) recordSnapshot(ctx context.Context, tx *sql.Tx, snap *migrate.Snapshot) error {
	data, err := snap.Marshal()
	if err != nil {
		return err
	}
	c := newCompiler(b.dialect)
	q := fmt.Sprintf(`INSERT INTO %s (model, version, checksum, snapshot, applied_at) VALUES (%s, %s, %s, %s, %s)
ON CONFLICT (model) DO UPDATE SET version = excluded.version, checksum = excluded.checksum, snapshot = excluded.snapshot, applied_at = excluded.applied_at`,
		quote(trackerTable),
		c.bind(snap.Model), c.bind(snap.Version), c.bind(snap.Checksum()), c.bind(string(data)),
		c.bind(b.dialect.EncodeTime(time.Now())))
	if _, err := tx.ExecContext(ctx, q, c.args...); err != nil {
		return fmt.Errorf("failed to record schema snapshot of %s: %w", snap.Model, err)
	}
	return nil
}

func descriptors(snap *migrate.Snapshot) ([]*schema.FieldDescriptor, error) {
	if snap == nil {
		return nil, nil
	}
	out := make([]*schema.FieldDescriptor, 0, len(snap.Fields))
	for _, fs := range snap.Fields {
		f, err := fs.Descriptor()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
