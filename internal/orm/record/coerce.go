package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/conduit-lang/strata/internal/orm/schema"
)

// timestampLayouts are tried in order when coercing a string to a timestamp
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func invalid(f *schema.FieldDescriptor, format string, args ...interface{}) *ValueError {
	return &ValueError{Field: f.Name, Kind: f.Kind, Reason: fmt.Sprintf(format, args...)}
}

// Coerce converts a Go value into a Value for the field, applying the
// documented conversions and the descriptor's validation constraints.
func Coerce(f *schema.FieldDescriptor, in interface{}) (Value, error) {
	if v, ok := in.(Value); ok {
		if v.IsAbsent() || v.IsNull() {
			in = nil
		} else if f.Kind == schema.KindFlex && v.kind == schema.KindEnum {
			return String(v.s), nil
		} else if f.Kind == schema.KindFlex && v.kind.IsScalar() {
			return v.clone(), nil
		} else if v.kind == f.Kind && f.Kind != schema.KindModel && (f.Kind != schema.KindList || v.elem == f.Elem) {
			return v.clone(), validate(f, v)
		} else {
			in = v.Interface()
		}
	}
	if in == nil {
		if !f.Nullable {
			return Value{}, invalid(f, "null is not allowed")
		}
		return Null(), nil
	}

	var (
		v   Value
		err error
	)
	switch f.Kind {
	case schema.KindBool:
		v, err = toBool(f, in)
	case schema.KindInt:
		var n int64
		n, err = toInteger(f, in)
		if err == nil {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return Value{}, invalid(f, "%d overflows int", n)
			}
			v = Int(int32(n))
		}
	case schema.KindLong:
		var n int64
		n, err = toInteger(f, in)
		v = Long(n)
	case schema.KindDouble:
		v, err = toDouble(f, in)
	case schema.KindString:
		v, err = toString(f, in)
	case schema.KindEnum:
		var sv Value
		sv, err = toString(f, in)
		v = Enum(sv.s)
	case schema.KindTimestamp:
		v, err = toTimestamp(f, in)
	case schema.KindBlob:
		v, err = toBlob(f, in)
	case schema.KindModel:
		v, err = toModel(f, in)
	case schema.KindList:
		v, err = toList(f, in)
	case schema.KindFlex:
		v, err = toFlex(f, in)
	default:
		err = invalid(f, "unsupported kind")
	}
	if err != nil {
		return Value{}, err
	}
	return v, validate(f, v)
}

// validate checks length and enum constraints on an already typed value
func validate(f *schema.FieldDescriptor, v Value) error {
	if v.IsNull() || v.IsAbsent() {
		return nil
	}
	switch v.kind {
	case schema.KindString:
		if !utf8.ValidString(v.s) {
			return invalid(f, "string is not valid UTF-8")
		}
		if f.MaxLength > 0 && utf8.RuneCountInString(v.s) > f.MaxLength {
			return invalid(f, "length %d exceeds maximum %d", utf8.RuneCountInString(v.s), f.MaxLength)
		}
	case schema.KindBlob:
		if f.MaxLength > 0 && len(v.by) > f.MaxLength {
			return invalid(f, "size %d exceeds maximum %d", len(v.by), f.MaxLength)
		}
	case schema.KindEnum:
		for _, allowed := range f.EnumValues {
			if v.s == allowed {
				return nil
			}
		}
		return invalid(f, "%q is not one of %s", v.s, strings.Join(f.EnumValues, ", "))
	case schema.KindList:
		elem := f.ElementDescriptor()
		for _, item := range v.list {
			if err := validate(elem, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func toBool(f *schema.FieldDescriptor, in interface{}) (Value, error) {
	switch x := in.(type) {
	case bool:
		return Bool(x), nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "cannot parse bool", Err: err}
		}
		return Bool(b), nil
	default:
		return Value{}, invalid(f, "cannot use %T as bool", in)
	}
}

func toInteger(f *schema.FieldDescriptor, in interface{}) (int64, error) {
	switch x := in.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, invalid(f, "%d overflows long", x)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, invalid(f, "%d overflows long", x)
		}
		return int64(x), nil
	case float32:
		return integralFloat(f, float64(x))
	case float64:
		return integralFloat(f, x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		fv, err := x.Float64()
		if err != nil {
			return 0, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "cannot parse number", Err: err}
		}
		return integralFloat(f, fv)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "cannot parse integer", Err: err}
		}
		return n, nil
	default:
		return 0, invalid(f, "cannot use %T as %s", in, f.Kind)
	}
}

func integralFloat(f *schema.FieldDescriptor, x float64) (int64, error) {
	if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
		return 0, invalid(f, "%v is not integral", x)
	}
	if x < math.MinInt64 || x >= math.MaxInt64 {
		return 0, invalid(f, "%v overflows long", x)
	}
	return int64(x), nil
}

func toDouble(f *schema.FieldDescriptor, in interface{}) (Value, error) {
	switch x := in.(type) {
	case float64:
		return Double(x), nil
	case float32:
		return Double(float64(x)), nil
	case json.Number:
		fv, err := x.Float64()
		if err != nil {
			return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "cannot parse number", Err: err}
		}
		return Double(fv), nil
	case string:
		fv, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "cannot parse double", Err: err}
		}
		return Double(fv), nil
	default:
		n, err := toInteger(f, in)
		if err != nil {
			return Value{}, invalid(f, "cannot use %T as double", in)
		}
		return Double(float64(n)), nil
	}
}

func toString(f *schema.FieldDescriptor, in interface{}) (Value, error) {
	var s string
	switch x := in.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return Value{}, invalid(f, "cannot use %T as %s", in, f.Kind)
	}
	if f.Trim {
		s = strings.TrimSpace(s)
	}
	return String(s), nil
}

func toTimestamp(f *schema.FieldDescriptor, in interface{}) (Value, error) {
	switch x := in.(type) {
	case time.Time:
		return Timestamp(x), nil
	case *time.Time:
		if x == nil {
			return Value{}, invalid(f, "nil time")
		}
		return Timestamp(*x), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return Timestamp(t), nil
			}
		}
		return Value{}, invalid(f, "cannot parse timestamp %q", x)
	default:
		// integral numbers are unix milliseconds
		ms, err := toInteger(f, in)
		if err != nil {
			return Value{}, invalid(f, "cannot use %T as timestamp", in)
		}
		return Timestamp(time.UnixMilli(ms)), nil
	}
}

func toBlob(f *schema.FieldDescriptor, in interface{}) (Value, error) {
	switch x := in.(type) {
	case []byte:
		return Blob(x), nil
	case string:
		return Blob([]byte(x)), nil
	default:
		return Value{}, invalid(f, "cannot use %T as blob", in)
	}
}

func toModel(f *schema.FieldDescriptor, in interface{}) (Value, error) {
	switch x := in.(type) {
	case *Record:
		if x == nil {
			return Value{}, invalid(f, "nil record")
		}
		if !x.Schema().IsA(f.Target) {
			return Value{}, invalid(f, "record of %s is not a %s", x.Model(), f.Target)
		}
		return Model(Embedded(x)), nil
	case Foreign:
		if x.rec != nil && !x.rec.Schema().IsA(f.Target) {
			return Value{}, invalid(f, "record of %s is not a %s", x.rec.Model(), f.Target)
		}
		return Model(x), nil
	default:
		id, err := toInteger(f, in)
		if err != nil {
			return Value{}, invalid(f, "cannot use %T as reference", in)
		}
		if id <= 0 {
			return Value{}, invalid(f, "reference id must be positive, got %d", id)
		}
		return Model(Reference(id)), nil
	}
}

func toList(f *schema.FieldDescriptor, in interface{}) (Value, error) {
	var items []interface{}
	switch x := in.(type) {
	case []Value:
		items = make([]interface{}, len(x))
		for i := range x {
			items[i] = x[i]
		}
	case []interface{}:
		items = x
	case []string:
		items = make([]interface{}, len(x))
		for i := range x {
			items[i] = x[i]
		}
	case []int64:
		items = make([]interface{}, len(x))
		for i := range x {
			items[i] = x[i]
		}
	case []int:
		items = make([]interface{}, len(x))
		for i := range x {
			items[i] = x[i]
		}
	case []float64:
		items = make([]interface{}, len(x))
		for i := range x {
			items[i] = x[i]
		}
	case []bool:
		items = make([]interface{}, len(x))
		for i := range x {
			items[i] = x[i]
		}
	case []time.Time:
		items = make([]interface{}, len(x))
		for i := range x {
			items[i] = x[i]
		}
	case [][]byte:
		items = make([]interface{}, len(x))
		for i := range x {
			items[i] = x[i]
		}
	case []*Record:
		items = make([]interface{}, len(x))
		for i := range x {
			items[i] = x[i]
		}
	case []Foreign:
		items = make([]interface{}, len(x))
		for i := range x {
			items[i] = x[i]
		}
	default:
		return Value{}, invalid(f, "cannot use %T as list", in)
	}

	elem := f.ElementDescriptor()
	out := make([]Value, len(items))
	for i, item := range items {
		v, err := Coerce(elem, item)
		if err != nil {
			return Value{}, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = v
	}
	return List(f.Elem, out), nil
}

func toFlex(f *schema.FieldDescriptor, in interface{}) (Value, error) {
	switch x := in.(type) {
	case bool:
		return Bool(x), nil
	case int:
		return Long(int64(x)), nil
	case int32:
		return Int(x), nil
	case int64:
		return Long(x), nil
	case float64:
		return Double(x), nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return Long(n), nil
		}
		fv, err := x.Float64()
		if err != nil {
			return Value{}, &ValueError{Field: f.Name, Kind: f.Kind, Reason: "cannot parse number", Err: err}
		}
		return Double(fv), nil
	case string:
		return String(x), nil
	case time.Time:
		return Timestamp(x), nil
	case []byte:
		return Blob(x), nil
	default:
		return Value{}, invalid(f, "cannot use %T as flex", in)
	}
}
