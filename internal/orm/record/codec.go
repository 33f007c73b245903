package record

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Mode selects which fields an export emits and how relationships are written
type Mode int

const (
	// ModeUnfiltered emits every populated field; embedded records are expanded
	ModeUnfiltered Mode = iota
	// ModeForeign emits foreign fields as bare reference ids
	ModeForeign
	// ModeHiddenForeign omits foreign fields entirely
	ModeHiddenForeign
	// ModeCondensed strips internal fields
	ModeCondensed
)

// String returns the string representation of the mode
func (m Mode) String() string {
	switch m {
	case ModeUnfiltered:
		return "unfiltered"
	case ModeForeign:
		return "foreign"
	case ModeHiddenForeign:
		return "hidden-foreign"
	case ModeCondensed:
		return "condensed"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name to a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "unfiltered":
		return ModeUnfiltered, nil
	case "foreign":
		return ModeForeign, nil
	case "hidden-foreign":
		return ModeHiddenForeign, nil
	case "condensed":
		return ModeCondensed, nil
	default:
		return 0, fmt.Errorf("unknown serialization mode: %s", s)
	}
}

const (
	keyModel = "$model"
	keyKind  = "$kind"
	keyValue = "value"
)

// SchemaResolver looks up resolved schemas by model name
type SchemaResolver interface {
	Resolve(name string) (*schema.ResolvedSchema, error)
}

// Export serializes the record as a JSON object. Keys follow schema order:
// $model, id (when assigned), objectId, then the populated fields the mode keeps.
func Export(r *Record, mode Mode) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeRecord(&buf, r, mode); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// included reports whether a field survives the mode's filter
func included(f *schema.FieldDescriptor, mode Mode) bool {
	switch mode {
	case ModeHiddenForeign:
		return !f.Foreign
	case ModeCondensed:
		return !f.Internal
	default:
		return true
	}
}

func writeRecord(buf *bytes.Buffer, r *Record, mode Mode) error {
	buf.WriteByte('{')
	writeKey(buf, keyModel)
	writeJSON(buf, r.Model())
	if r.HasID() {
		buf.WriteByte(',')
		writeKey(buf, schema.FieldID)
		fmt.Fprintf(buf, "%d", r.ID())
	}
	buf.WriteByte(',')
	writeKey(buf, schema.FieldObjectID)
	writeJSON(buf, r.ObjectID())

	var err error
	r.Range(func(f *schema.FieldDescriptor, v Value) bool {
		if !included(f, mode) {
			return true
		}
		buf.WriteByte(',')
		writeKey(buf, f.Name)
		if err = writeValue(buf, f, v, mode); err != nil {
			err = &ValueError{Model: r.Model(), Field: f.Name, Kind: f.Kind, Reason: "cannot serialize", Err: err}
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	buf.WriteByte('}')
	return nil
}

func writeKey(buf *bytes.Buffer, key string) {
	writeJSON(buf, key)
	buf.WriteByte(':')
}

func writeJSON(buf *bytes.Buffer, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		// strings and ints always marshal
		panic(err)
	}
	buf.Write(data)
}

func writeValue(buf *bytes.Buffer, f *schema.FieldDescriptor, v Value, mode Mode) error {
	if v.IsNull() || v.IsAbsent() {
		buf.WriteString("null")
		return nil
	}
	if f.Kind == schema.KindFlex {
		buf.WriteByte('{')
		writeKey(buf, keyKind)
		writeJSON(buf, v.Kind().String())
		buf.WriteByte(',')
		writeKey(buf, keyValue)
		if err := writeScalar(buf, v); err != nil {
			return err
		}
		buf.WriteByte('}')
		return nil
	}

	switch v.Kind() {
	case schema.KindModel:
		return writeForeign(buf, f, v.AsForeign(), mode)
	case schema.KindList:
		elem := f.ElementDescriptor()
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem, item, mode); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		return writeScalar(buf, v)
	}
}

func writeForeign(buf *bytes.Buffer, f *schema.FieldDescriptor, fv Foreign, mode Mode) error {
	if !fv.IsEmbedded() || (f.Foreign && mode == ModeForeign) {
		if fv.ID() == 0 {
			buf.WriteString("null")
			return nil
		}
		fmt.Fprintf(buf, "%d", fv.ID())
		return nil
	}
	return writeRecord(buf, fv.Record(), mode)
}

func writeScalar(buf *bytes.Buffer, v Value) error {
	switch v.Kind() {
	case schema.KindBool, schema.KindInt, schema.KindLong, schema.KindString, schema.KindEnum:
		writeJSON(buf, v.Interface())
	case schema.KindDouble:
		data, err := json.Marshal(v.AsFloat())
		if err != nil {
			return err
		}
		buf.Write(data)
	case schema.KindTimestamp:
		writeJSON(buf, v.AsTime().UTC().Format(time.RFC3339Nano))
	case schema.KindBlob:
		writeJSON(buf, base64.StdEncoding.EncodeToString(v.by))
	default:
		return fmt.Errorf("%s is not a scalar", v.Kind())
	}
	return nil
}

// MarshalValue serializes one field value the way Export writes it.
// Related records are written as bare ids.
func MarshalValue(f *schema.FieldDescriptor, v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, f, v, ModeForeign); err != nil {
		return nil, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "cannot serialize", Err: err}
	}
	return buf.Bytes(), nil
}

// UnmarshalValue parses one field value written by MarshalValue
func UnmarshalValue(reg SchemaResolver, f *schema.FieldDescriptor, data []byte) (Value, error) {
	v, err := decodeValue(reg, f, data, ModeForeign)
	if err != nil {
		return Value{}, err
	}
	if !v.IsNull() {
		if err := validate(f, v); err != nil {
			return Value{}, err
		}
	}
	return v, nil
}

// Import parses a document produced by Export under the same mode.
// Identity is restored from the document; fields are validated against the schema.
func Import(reg SchemaResolver, data []byte, mode Mode) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]json.RawMessage
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return importDoc(reg, doc, mode)
}

func importDoc(reg SchemaResolver, doc map[string]json.RawMessage, mode Mode) (*Record, error) {
	var model string
	if err := json.Unmarshal(doc[keyModel], &model); err != nil || model == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidDocument, keyModel)
	}
	rs, err := reg.Resolve(model)
	if err != nil {
		return nil, err
	}

	var id int64
	if raw, ok := doc[schema.FieldID]; ok {
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, &ValueError{Model: model, Field: schema.FieldID, Kind: schema.KindLong, Reason: "invalid id", Err: err}
		}
	}
	var objectID string
	if raw, ok := doc[schema.FieldObjectID]; ok {
		if err := json.Unmarshal(raw, &objectID); err != nil {
			return nil, &ValueError{Model: model, Field: schema.FieldObjectID, Kind: schema.KindString, Reason: "invalid objectId", Err: err}
		}
	}
	if objectID == "" {
		return nil, &ValueError{Model: model, Field: schema.FieldObjectID, Kind: schema.KindString, Reason: "missing objectId"}
	}
	r := Hydrate(rs, id, objectID)

	for key, raw := range doc {
		if key == keyModel || key == schema.FieldID || key == schema.FieldObjectID {
			continue
		}
		f, ok := rs.Field(key)
		if !ok {
			return nil, unknownField(model, key)
		}
		if !included(f, mode) {
			return nil, &FieldError{Model: model, Field: key, Err: fmt.Errorf("field is excluded in %s mode", mode)}
		}
		v, err := decodeValue(reg, f, raw, mode)
		if err != nil {
			return nil, r.tag(err)
		}
		// encrypted fields may hold ciphertext longer than the plaintext limit
		if v.IsNull() || f.Encrypt {
			r.values[key] = v
			continue
		}
		if err := validate(f, v); err != nil {
			return nil, r.tag(err)
		}
		r.values[key] = v
	}
	return r, nil
}

func decodeValue(reg SchemaResolver, f *schema.FieldDescriptor, raw json.RawMessage, mode Mode) (Value, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Null(), nil
	}
	switch f.Kind {
	case schema.KindFlex:
		var env map[string]json.RawMessage
		if err := unmarshalNumber(raw, &env); err != nil {
			return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "invalid flex envelope", Err: err}
		}
		var kindName string
		if err := json.Unmarshal(env[keyKind], &kindName); err != nil {
			return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "invalid flex kind", Err: err}
		}
		kind, err := schema.ParseFieldKind(kindName)
		if err != nil || !kind.IsScalar() {
			return Value{}, invalid(f, "invalid flex kind %q", kindName)
		}
		inner := *f
		inner.Kind = kind
		inner.EnumValues = nil
		return decodeScalar(&inner, env[keyValue])
	case schema.KindModel:
		return decodeForeign(reg, f, raw, mode)
	case schema.KindList:
		var items []json.RawMessage
		if err := unmarshalNumber(raw, &items); err != nil {
			return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "invalid list", Err: err}
		}
		elem := f.ElementDescriptor()
		out := make([]Value, len(items))
		for i, item := range items {
			v, err := decodeValue(reg, elem, item, mode)
			if err != nil {
				return Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = v
		}
		return List(f.Elem, out), nil
	default:
		return decodeScalar(f, raw)
	}
}

func decodeForeign(reg SchemaResolver, f *schema.FieldDescriptor, raw json.RawMessage, mode Mode) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc map[string]json.RawMessage
		if err := unmarshalNumber(trimmed, &doc); err != nil {
			return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "invalid embedded record", Err: err}
		}
		sub, err := importDoc(reg, doc, mode)
		if err != nil {
			return Value{}, err
		}
		return toModel(f, sub)
	}
	var n json.Number
	if err := unmarshalNumber(trimmed, &n); err != nil {
		return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "invalid reference", Err: err}
	}
	return toModel(f, n)
}

func decodeScalar(f *schema.FieldDescriptor, raw json.RawMessage) (Value, error) {
	var x interface{}
	if err := unmarshalNumber(raw, &x); err != nil {
		return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "invalid value", Err: err}
	}
	switch f.Kind {
	case schema.KindBlob:
		s, ok := x.(string)
		if !ok {
			return Value{}, invalid(f, "blob must be base64 text")
		}
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "invalid base64", Err: err}
		}
		return Blob(data), nil
	case schema.KindTimestamp:
		s, ok := x.(string)
		if !ok {
			return Value{}, invalid(f, "timestamp must be RFC3339 text")
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "invalid timestamp", Err: err}
		}
		return Timestamp(t), nil
	case schema.KindString, schema.KindEnum:
		if _, ok := x.(string); !ok {
			return Value{}, invalid(f, "expected text, got %T", x)
		}
	case schema.KindBool:
		if _, ok := x.(bool); !ok {
			return Value{}, invalid(f, "expected bool, got %T", x)
		}
	default:
		if _, ok := x.(json.Number); !ok {
			return Value{}, invalid(f, "expected number, got %T", x)
		}
	}
	// no trimming on import: the exported text already passed validation
	plain := *f
	plain.Trim = false
	plain.Nullable = true
	return Coerce(&plain, x)
}

func unmarshalNumber(raw []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}
