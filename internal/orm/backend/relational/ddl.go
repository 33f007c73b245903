package relational

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Identity and link-table column names
const (
	colID       = "id"
	colObjectID = "object_id"
	colOwner    = "owner_id"
	colPosition = "position"
	colTarget   = "target_id"
)

// tableName returns the table of a model
func tableName(model string) string {
	return schema.ToSnakeCase(model)
}

// linkTable returns the table holding a list<model> field's items
func linkTable(model string, f *schema.FieldDescriptor) string {
	return tableName(model) + "_" + schema.ToSnakeCase(f.Name)
}

// isLinked reports whether a field is stored in a link table instead of a column
func isLinked(f *schema.FieldDescriptor) bool {
	return f.Kind == schema.KindList && f.Elem == schema.KindModel
}

// columnName returns the column of a field. Relationships store the related id.
func columnName(f *schema.FieldDescriptor) string {
	switch {
	case f.Name == schema.FieldID:
		return colID
	case f.Name == schema.FieldObjectID:
		return colObjectID
	case f.Kind == schema.KindModel:
		return schema.ToSnakeCase(f.Name) + "_id"
	default:
		return schema.ToSnakeCase(f.Name)
	}
}

// jsonStored reports whether the column holds a JSON-encoded value
func jsonStored(f *schema.FieldDescriptor) bool {
	return f.Kind == schema.KindFlex || (f.Kind == schema.KindList && f.Elem != schema.KindModel)
}

// createTable returns the statements creating a model's table and link tables.
// Data columns are nullable; required fields are enforced before writing so
// columns can be added to populated tables.
func createTable(d Dialect, model string, fields []*schema.FieldDescriptor) []string {
	table := tableName(model)
	defs := []string{
		d.IDColumn(),
		fmt.Sprintf("%s VARCHAR(36) NOT NULL UNIQUE", quote(colObjectID)),
	}
	var links []string
	for _, f := range fields {
		if f.Identity {
			continue
		}
		if isLinked(f) {
			links = append(links, createLinkTable(d, model, f))
			continue
		}
		defs = append(defs, fmt.Sprintf("%s %s", quote(columnName(f)), d.ColumnType(f)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quote(table))
	for i, def := range defs {
		b.WriteString("  ")
		b.WriteString(def)
		if i < len(defs)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")

	return append([]string{b.String()}, links...)
}

// createLinkTable returns the statement creating one list<model> link table
func createLinkTable(d Dialect, model string, f *schema.FieldDescriptor) string {
	idType := d.ColumnType(&schema.FieldDescriptor{Kind: schema.KindLong})
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s %s NOT NULL,\n  %s INTEGER NOT NULL,\n  %s %s NOT NULL,\n  PRIMARY KEY (%s, %s)\n)",
		quote(linkTable(model, f)),
		quote(colOwner), idType,
		quote(colPosition),
		quote(colTarget), idType,
		quote(colOwner), quote(colPosition))
}

// dropTable returns the statements dropping a model's table and link tables
func dropTable(model string, fields []*schema.FieldDescriptor) []string {
	var out []string
	for _, f := range fields {
		if isLinked(f) {
			out = append(out, fmt.Sprintf("DROP TABLE IF EXISTS %s", quote(linkTable(model, f))))
		}
	}
	return append(out, fmt.Sprintf("DROP TABLE IF EXISTS %s", quote(tableName(model))))
}

// addField returns the statements adding storage for one field
func addField(d Dialect, model string, f *schema.FieldDescriptor) []string {
	if isLinked(f) {
		return []string{createLinkTable(d, model, f)}
	}
	return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		quote(tableName(model)), quote(columnName(f)), d.ColumnType(f))}
}

// dropField returns the statements dropping the storage of one field
func dropField(model string, f *schema.FieldDescriptor) []string {
	if isLinked(f) {
		return []string{fmt.Sprintf("DROP TABLE IF EXISTS %s", quote(linkTable(model, f)))}
	}
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
		quote(tableName(model)), quote(columnName(f)))}
}

// castable kinds convert with a plain SQL cast
func castable(k schema.FieldKind) bool {
	switch k {
	case schema.KindBool, schema.KindInt, schema.KindLong, schema.KindDouble, schema.KindString, schema.KindEnum:
		return true
	default:
		return false
	}
}

// modifyField returns the statements moving a field from its old to its new
// storage shape. Values survive when both kinds convert with a cast; other
// shape changes drop the old storage.
func modifyField(d Dialect, model string, old, new *schema.FieldDescriptor) []string {
	if isLinked(old) && isLinked(new) {
		return nil
	}
	oldCol, newCol := columnName(old), columnName(new)
	oldType, newType := d.ColumnType(old), d.ColumnType(new)

	switch {
	case isLinked(old) || isLinked(new) || oldCol != newCol:
		return append(dropField(model, old), addField(d, model, new)...)
	case oldType == newType && jsonStored(old) == jsonStored(new):
		return nil
	case castable(old.Kind) && castable(new.Kind):
		return d.RetypeColumn(tableName(model), newCol, newType)
	default:
		return append(dropField(model, old), addField(d, model, new)...)
	}
}

// trackerTable records the schema snapshot each table was built from
const trackerTable = "strata_schemas"

func createTracker(d Dialect) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  model TEXT PRIMARY KEY,
  version TEXT NOT NULL,
  checksum TEXT NOT NULL,
  snapshot TEXT NOT NULL,
  applied_at %s NOT NULL
)`, quote(trackerTable), d.ColumnType(&schema.FieldDescriptor{Kind: schema.KindTimestamp}))
}
