package migrate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/strata/internal/orm/schema"
)

// ChangeType classifies a SchemaChange
type ChangeType int

const (
	ChangeAddModel ChangeType = iota
	ChangeDropModel
	ChangeAddField
	ChangeDropField
	ChangeModifyField
)

var changeNames = [...]string{"add_model", "drop_model", "add_field", "drop_field", "modify_field"}

func (c ChangeType) String() string {
	if c < 0 || int(c) >= len(changeNames) {
		return "unknown"
	}
	return changeNames[c]
}

// SchemaChange is one step between two snapshots of a model
type SchemaChange struct {
	Type  ChangeType
	Model string
	Field string
	Old   *FieldSnapshot
	New   *FieldSnapshot

	// Breaking changes may reject records that the old schema accepted
	Breaking bool
	// DataLoss changes may discard stored values
	DataLoss bool
}

func (c SchemaChange) String() string {
	switch {
	case c.Field == "":
		return fmt.Sprintf("%s %s", c.Type, c.Model)
	case c.Type == ChangeModifyField:
		return fmt.Sprintf("%s %s.%s (%s -> %s)", c.Type, c.Model, c.Field, c.Old.Type, c.New.Type)
	default:
		return fmt.Sprintf("%s %s.%s", c.Type, c.Model, c.Field)
	}
}

// Diff lists the changes turning the old snapshots into the new ones.
// Models are visited in name order: additions, then drops, then field
// changes of models present on both sides. Fields keep declaration order.
func Diff(old, new map[string]*Snapshot) []SchemaChange {
	names := make([]string, 0, len(old)+len(new))
	for name := range new {
		names = append(names, name)
	}
	for name := range old {
		if _, ok := new[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var added, dropped, modified []SchemaChange
	for _, name := range names {
		o, n := old[name], new[name]
		switch {
		case o == nil:
			added = append(added, SchemaChange{Type: ChangeAddModel, Model: name})
		case n == nil:
			dropped = append(dropped, SchemaChange{Type: ChangeDropModel, Model: name, Breaking: true, DataLoss: true})
		default:
			modified = append(modified, diffFields(name, o, n)...)
		}
	}
	return append(append(added, dropped...), modified...)
}

// DiffSchemas computes the changes between two versions of one resolved schema.
// A nil old schema yields a single ChangeAddModel.
func DiffSchemas(old, new *schema.ResolvedSchema) []SchemaChange {
	oldSet := map[string]*Snapshot{}
	newSet := map[string]*Snapshot{}
	if old != nil {
		oldSet[old.Name] = Capture(old)
	}
	if new != nil {
		newSet[new.Name] = Capture(new)
	}
	return Diff(oldSet, newSet)
}

func diffFields(model string, o, n *Snapshot) []SchemaChange {
	var out []SchemaChange
	for _, nf := range n.Fields {
		of, ok := o.Field(nf.Name)
		switch {
		case !ok:
			out = append(out, SchemaChange{
				Type: ChangeAddField, Model: model, Field: nf.Name, New: nf,
				Breaking: !nf.Nullable && !nf.HasDefault,
			})
		case *of != *nf:
			out = append(out, SchemaChange{
				Type: ChangeModifyField, Model: model, Field: nf.Name, Old: of, New: nf,
				Breaking: retyped(of, nf) || narrowed(of, nf) || (of.Nullable && !nf.Nullable && !nf.HasDefault),
				DataLoss: retyped(of, nf) || narrowed(of, nf) || of.Encrypt != nf.Encrypt,
			})
		}
	}
	// drops follow so a rename shows as add then drop
	for _, of := range o.Fields {
		if _, ok := n.Field(of.Name); !ok {
			out = append(out, SchemaChange{
				Type: ChangeDropField, Model: model, Field: of.Name, Old: of,
				Breaking: true, DataLoss: true,
			})
		}
	}
	return out
}

func retyped(o, n *FieldSnapshot) bool {
	return o.Type != n.Type || o.Target != n.Target
}

// narrowed reports a new or tighter length limit
func narrowed(o, n *FieldSnapshot) bool {
	return n.MaxLength > 0 && (o.MaxLength == 0 || n.MaxLength < o.MaxLength)
}

// HasBreaking reports whether any change is breaking
func HasBreaking(changes []SchemaChange) bool {
	for _, c := range changes {
		if c.Breaking {
			return true
		}
	}
	return false
}

// Summary condenses a change set into one line per model, e.g.
// "post: +summary ~score -legacy". New and dropped models read "+post" and "-post".
func Summary(changes []SchemaChange) string {
	if len(changes) == 0 {
		return "no changes"
	}
	var models []string
	fields := map[string][]string{}
	for _, c := range changes {
		var mark string
		switch c.Type {
		case ChangeAddModel:
			models = append(models, "+"+c.Model)
			continue
		case ChangeDropModel:
			models = append(models, "-"+c.Model)
			continue
		case ChangeAddField:
			mark = "+"
		case ChangeDropField:
			mark = "-"
		default:
			mark = "~"
		}
		if _, ok := fields[c.Model]; !ok {
			models = append(models, c.Model+":")
		}
		fields[c.Model] = append(fields[c.Model], mark+c.Field)
	}
	parts := make([]string, len(models))
	for i, m := range models {
		if f, ok := fields[strings.TrimSuffix(m, ":")]; ok && strings.HasSuffix(m, ":") {
			m += " " + strings.Join(f, " ")
		}
		parts[i] = m
	}
	return strings.Join(parts, "; ")
}
