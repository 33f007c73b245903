// Package relationships records named memberships between stored records.
//
// A membership ("participation") links an owner record to a target record
// under a relation name, for example a group owning its members. Memberships
// are ordinary records of the participation schema, so they persist through
// whichever backend the store uses. Disabling a membership keeps its record
// with enabled=false; re-enabling flips it back.
//
// Updates touch one participation record at a time and are not atomic across
// records.
package relationships

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/strata/internal/orm/backend"
	"github.com/conduit-lang/strata/internal/orm/query"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// SystemGroup is the schema group of internal bookkeeping models
const SystemGroup = "system"

// ParticipationModel is the schema name of membership records
const ParticipationModel = "participation"

// Definition returns the participation schema. It must be registered before
// a Resolver is used.
func Definition() schema.SchemaDef {
	return schema.SchemaDef{
		Name:  ParticipationModel,
		Group: SystemGroup,
		Fields: []schema.FieldDef{
			{Name: "ownerModel", Type: "string"},
			{Name: "ownerId", Type: "long"},
			{Name: "relation", Type: "string", Trim: true},
			{Name: "targetModel", Type: "string"},
			{Name: "targetId", Type: "long"},
			{Name: "actor", Type: "string", Nullable: true},
			{Name: "enabled", Type: "bool", Default: true},
			{Name: "metadata", Type: "flex", Nullable: true},
			{Name: "created", Type: "timestamp", Nullable: true},
		},
	}
}

// Schemas resolves schemas and their descendants
type Schemas interface {
	query.SchemaResolver
	Descendants(name string) []string
}

// Resolver links and lists participants
type Resolver struct {
	backend backend.Backend
	schemas Schemas
	planner *query.Planner
	logger  *zap.Logger
	now     func() time.Time
	open    Opener
}

// Opener prepares a member record read under node before it is returned,
// for example decrypting its protected fields
type Opener func(rec *record.Record, node *query.Node) error

// Option configures a Resolver
type Option func(*Resolver)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock sets the time source used for created timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithOpener sets the function applied to every member ListMembers returns
func WithOpener(fn Opener) Option {
	return func(r *Resolver) {
		r.open = fn
	}
}

// NewResolver creates a resolver storing memberships in be
func NewResolver(be backend.Backend, schemas Schemas, opts ...Option) *Resolver {
	r := &Resolver{
		backend: be,
		schemas: schemas,
		planner: query.NewPlanner(schemas, query.WithMaxDepth(0)),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Link enables or disables the membership of target in owner's relation.
// It returns true only when the membership state changed. A nil metadata
// keeps the stored value.
func (r *Resolver) Link(ctx context.Context, actor string, owner *record.Record, relation string, target *record.Record, metadata interface{}, enabled bool) (bool, error) {
	if err := checkParticipants(owner, relation, target); err != nil {
		return false, err
	}

	existing, err := r.find(ctx, owner, relation, target)
	if err != nil {
		return false, err
	}

	if existing == nil {
		if !enabled {
			return false, nil
		}
		rs, err := r.schemas.Resolve(ParticipationModel)
		if err != nil {
			return false, err
		}
		link, err := record.New(rs)
		if err != nil {
			return false, err
		}
		values := map[string]interface{}{
			"ownerModel":  owner.Model(),
			"ownerId":     owner.ID(),
			"relation":    relation,
			"targetModel": target.Model(),
			"targetId":    target.ID(),
			"actor":       nullable(actor),
			"enabled":     true,
			"created":     r.now().UTC(),
		}
		if metadata != nil {
			values["metadata"] = metadata
		}
		if err := setAll(link, values); err != nil {
			return false, err
		}
		if _, err := r.backend.Write(ctx, link); err != nil {
			return false, fmt.Errorf("failed to link %s#%d to %s#%d: %w",
				target.Model(), target.ID(), owner.Model(), owner.ID(), err)
		}
		r.logger.Debug("membership created",
			zap.String("owner", owner.Model()),
			zap.Int64("owner_id", owner.ID()),
			zap.String("relation", relation),
			zap.String("target", target.Model()),
			zap.Int64("target_id", target.ID()))
		return true, nil
	}

	if existing.MustGet("enabled").AsBool() == enabled {
		return false, nil
	}

	changes := record.Hydrate(existing.Schema(), existing.ID(), existing.ObjectID())
	values := map[string]interface{}{
		"enabled": enabled,
		"actor":   nullable(actor),
	}
	if metadata != nil {
		values["metadata"] = metadata
	}
	if err := setAll(changes, values); err != nil {
		return false, err
	}
	if _, err := r.backend.Write(ctx, changes); err != nil {
		return false, fmt.Errorf("failed to update membership %d: %w", existing.ID(), err)
	}
	r.logger.Debug("membership changed",
		zap.Int64("participation_id", existing.ID()),
		zap.Bool("enabled", enabled))
	return true, nil
}

// IsLinked reports whether target is an enabled member of owner's relation
func (r *Resolver) IsLinked(ctx context.Context, target, owner *record.Record, relation string) (bool, error) {
	if err := checkParticipants(owner, relation, target); err != nil {
		return false, err
	}
	existing, err := r.find(ctx, owner, relation, target)
	if err != nil || existing == nil {
		return false, err
	}
	return existing.MustGet("enabled").AsBool(), nil
}

// ListMembers returns the enabled members of owner's relation that conform to
// targetSchema, in the order they were linked. Members whose record no longer
// exists are skipped.
func (r *Resolver) ListMembers(ctx context.Context, owner *record.Record, relation, targetSchema string, offset, limit int) ([]*record.Record, error) {
	if !owner.HasID() {
		return nil, fmt.Errorf("%s: %w", owner.Model(), backend.ErrUnsavedReference)
	}
	if strings.TrimSpace(relation) == "" {
		return nil, ErrEmptyRelation
	}
	if _, err := r.schemas.Resolve(targetSchema); err != nil {
		return nil, err
	}

	models := []interface{}{targetSchema}
	for _, d := range r.schemas.Descendants(targetSchema) {
		models = append(models, d)
	}

	plan, err := r.planner.Plan(query.New(ParticipationModel).
		Select("targetModel", "targetId").
		Where(
			query.Eq("ownerModel", owner.Model()),
			query.Eq("ownerId", owner.ID()),
			query.Eq("relation", relation),
			query.Eq("enabled", true),
			query.In("targetModel", models...),
		).
		OrderBy(schema.FieldID, query.Asc).
		Skip(offset).
		Take(limit))
	if err != nil {
		return nil, err
	}
	links, err := r.backend.Search(ctx, plan)
	if err != nil {
		return nil, err
	}

	type key struct {
		model string
		id    int64
	}
	order := make([]key, 0, len(links))
	byModel := make(map[string][]interface{})
	for _, l := range links {
		k := key{l.MustGet("targetModel").AsString(), l.MustGet("targetId").AsInt()}
		order = append(order, k)
		byModel[k.model] = append(byModel[k.model], k.id)
	}

	found := make(map[key]*record.Record, len(order))
	for model, ids := range byModel {
		plan, err := r.planner.Plan(query.New(model).Where(query.In(schema.FieldID, ids...)))
		if err != nil {
			return nil, err
		}
		recs, err := r.backend.Search(ctx, plan)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if r.open != nil {
				if err := r.open(rec, plan.Root); err != nil {
					return nil, err
				}
			}
			found[key{model, rec.ID()}] = rec
		}
	}

	members := make([]*record.Record, 0, len(order))
	for _, k := range order {
		if rec, ok := found[k]; ok {
			members = append(members, rec)
		} else {
			r.logger.Debug("skipping missing member",
				zap.String("model", k.model),
				zap.Int64("id", k.id))
		}
	}
	return members, nil
}

func (r *Resolver) find(ctx context.Context, owner *record.Record, relation string, target *record.Record) (*record.Record, error) {
	plan, err := r.planner.Plan(query.New(ParticipationModel).
		Select("enabled").
		Where(
			query.Eq("ownerModel", owner.Model()),
			query.Eq("ownerId", owner.ID()),
			query.Eq("relation", relation),
			query.Eq("targetModel", target.Model()),
			query.Eq("targetId", target.ID()),
		).
		OrderBy(schema.FieldID, query.Asc).
		Take(1))
	if err != nil {
		return nil, err
	}
	return r.backend.Read(ctx, plan)
}

func checkParticipants(owner *record.Record, relation string, target *record.Record) error {
	if strings.TrimSpace(relation) == "" {
		return ErrEmptyRelation
	}
	for _, p := range []*record.Record{owner, target} {
		if !p.HasID() {
			return fmt.Errorf("%s: %w", p.Model(), backend.ErrUnsavedReference)
		}
	}
	return nil
}

func setAll(rec *record.Record, values map[string]interface{}) error {
	for _, f := range rec.Schema().DataFields() {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		if err := rec.Set(f.Name, v); err != nil {
			return err
		}
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
