package relational

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
)

// encodeValue converts a field value to a bind argument
func encodeValue(d Dialect, f *schema.FieldDescriptor, v record.Value) (interface{}, error) {
	if v.IsAbsent() || v.IsNull() {
		return nil, nil
	}
	if jsonStored(f) {
		data, err := record.MarshalValue(f, v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}

	switch v.Kind() {
	case schema.KindBool:
		return v.AsBool(), nil
	case schema.KindInt, schema.KindLong:
		return v.AsInt(), nil
	case schema.KindDouble:
		return v.AsFloat(), nil
	case schema.KindString, schema.KindEnum:
		return v.AsString(), nil
	case schema.KindTimestamp:
		return d.EncodeTime(v.AsTime()), nil
	case schema.KindBlob:
		return v.AsBytes(), nil
	case schema.KindModel:
		return v.AsForeign().ID(), nil
	default:
		return nil, fmt.Errorf("field %s: cannot store %s value in a column", f.Name, v.Kind())
	}
}

// decodeValue converts a scanned column value to a field value.
// Stored values are trusted; only the representation is converted.
func decodeValue(schemas record.SchemaResolver, f *schema.FieldDescriptor, raw interface{}) (record.Value, error) {
	if raw == nil {
		return record.Null(), nil
	}
	if jsonStored(f) {
		data, ok := asBytes(raw)
		if !ok {
			return record.Value{}, unexpected(f, raw)
		}
		return record.UnmarshalValue(schemas, f, data)
	}

	switch f.Kind {
	case schema.KindBool:
		switch x := raw.(type) {
		case bool:
			return record.Bool(x), nil
		case int64:
			return record.Bool(x != 0), nil
		}
	case schema.KindInt:
		if n, ok := raw.(int64); ok {
			return record.Int(int32(n)), nil
		}
	case schema.KindLong:
		if n, ok := raw.(int64); ok {
			return record.Long(n), nil
		}
	case schema.KindDouble:
		switch x := raw.(type) {
		case float64:
			return record.Double(x), nil
		case int64:
			return record.Double(float64(x)), nil
		}
	case schema.KindString, schema.KindEnum:
		if data, ok := asBytes(raw); ok {
			if f.Kind == schema.KindEnum {
				return record.Enum(string(data)), nil
			}
			return record.String(string(data)), nil
		}
	case schema.KindTimestamp:
		switch x := raw.(type) {
		case time.Time:
			return record.Timestamp(x), nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return record.Value{}, fmt.Errorf("field %s: %w", f.Name, err)
			}
			return record.Timestamp(t), nil
		}
	case schema.KindBlob:
		if data, ok := asBytes(raw); ok {
			return record.Blob(data), nil
		}
	case schema.KindModel:
		if id, ok := raw.(int64); ok {
			return record.Model(record.Reference(id)), nil
		}
	}
	return record.Value{}, unexpected(f, raw)
}

func asBytes(raw interface{}) ([]byte, bool) {
	switch x := raw.(type) {
	case []byte:
		return x, true
	case string:
		return []byte(x), true
	default:
		return nil, false
	}
}

func unexpected(f *schema.FieldDescriptor, raw interface{}) error {
	return fmt.Errorf("field %s: unexpected %T column value for %s", f.Name, raw, f.TypeName())
}

// asID converts a scanned id column, reporting false for NULL
func asID(raw interface{}) (int64, bool) {
	switch x := raw.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	default:
		return 0, false
	}
}

// decodeRows reads every row of a join-tree statement and closes rows.
// Each result holds the root record; related records of single-valued
// branches are embedded, and every loaded record is listed per node.
func decodeRows(schemas record.SchemaResolver, stmt *selectStmt, rows *sql.Rows) ([]*record.Record, [][]*record.Record, error) {
	defer rows.Close()

	var roots []*record.Record
	loaded := make([][]*record.Record, len(stmt.nodes))

	for rows.Next() {
		raw := make([]interface{}, stmt.width)
		ptrs := make([]interface{}, stmt.width)
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}

		recs := make([]*record.Record, len(stmt.nodes))
		for i, n := range stmt.nodes {
			rec, err := decodeNode(schemas, n, raw)
			if err != nil {
				return nil, nil, err
			}
			recs[i] = rec
			if rec == nil {
				continue
			}
			loaded[i] = append(loaded[i], rec)
			if n.parent == nil {
				continue
			}
			// parents precede children in the join tree
			for j, p := range stmt.nodes[:i] {
				if p == n.parent && recs[j] != nil {
					if err := recs[j].Put(n.via.Name, record.Model(record.Embedded(rec))); err != nil {
						return nil, nil, err
					}
				}
			}
		}
		if recs[0] == nil {
			return nil, nil, fmt.Errorf("row without a root id")
		}
		roots = append(roots, recs[0])
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return roots, loaded, nil
}

// decodeNode builds the record of one join node from a row, or nil when the
// LEFT JOIN found no related row
func decodeNode(schemas record.SchemaResolver, n *joinNode, raw []interface{}) (*record.Record, error) {
	id, ok := asID(raw[n.offset])
	if !ok {
		return nil, nil
	}
	objectID, ok := asBytes(raw[n.offset+1])
	if !ok {
		return nil, fmt.Errorf("%s#%d: missing object id", n.node.Schema.Name, id)
	}

	rec := record.Hydrate(n.node.Schema, id, string(objectID))
	for i, c := range n.columns {
		if c.field.Identity {
			continue
		}
		v, err := decodeValue(schemas, c.field, raw[n.offset+2+i])
		if err != nil {
			return nil, fmt.Errorf("%s#%d: %w", n.node.Schema.Name, id, err)
		}
		if err := rec.Put(c.field.Name, v); err != nil {
			return nil, err
		}
	}
	return rec, nil
}
