package record

import (
	"bytes"
	"fmt"
	"time"

	"github.com/conduit-lang/strata/internal/orm/schema"
)

// Value is the runtime value of one field, tagged with its kind.
// The zero Value is absent: the field was never populated.
type Value struct {
	kind    schema.FieldKind
	elem    schema.FieldKind
	present bool
	null    bool

	b  bool
	i  int64
	f  float64
	s  string
	t  time.Time
	by []byte

	foreign Foreign
	list    []Value
}

// Null returns a present null value
func Null() Value { return Value{present: true, null: true} }

// Bool returns a bool value
func Bool(b bool) Value { return Value{kind: schema.KindBool, present: true, b: b} }

// Int returns an int value
func Int(i int32) Value { return Value{kind: schema.KindInt, present: true, i: int64(i)} }

// Long returns a long value
func Long(i int64) Value { return Value{kind: schema.KindLong, present: true, i: i} }

// Double returns a double value
func Double(f float64) Value { return Value{kind: schema.KindDouble, present: true, f: f} }

// String returns a string value
func String(s string) Value { return Value{kind: schema.KindString, present: true, s: s} }

// Timestamp returns a timestamp value in UTC at microsecond precision, the
// finest every backend stores
func Timestamp(t time.Time) Value {
	return Value{kind: schema.KindTimestamp, present: true, t: t.UTC().Truncate(time.Microsecond)}
}

// Enum returns an enum value
func Enum(s string) Value { return Value{kind: schema.KindEnum, present: true, s: s} }

// Blob returns a blob value; the slice is copied
func Blob(b []byte) Value {
	return Value{kind: schema.KindBlob, present: true, by: append([]byte{}, b...)}
}

// Model returns a relationship value
func Model(f Foreign) Value { return Value{kind: schema.KindModel, present: true, foreign: f} }

// List returns a list value with the given element kind
func List(elem schema.FieldKind, items []Value) Value {
	return Value{kind: schema.KindList, elem: elem, present: true, list: append([]Value{}, items...)}
}

// Kind returns the value's kind. Null and absent values report the zero kind.
func (v Value) Kind() schema.FieldKind { return v.kind }

// Elem returns the element kind of a list value
func (v Value) Elem() schema.FieldKind { return v.elem }

// IsAbsent reports whether the field was never populated
func (v Value) IsAbsent() bool { return !v.present }

// IsNull reports whether the value is an explicit null
func (v Value) IsNull() bool { return v.present && v.null }

// AsBool returns the bool payload
func (v Value) AsBool() bool { return v.b }

// AsInt returns the integer payload of int and long values
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the double payload
func (v Value) AsFloat() float64 { return v.f }

// AsString returns the payload of string and enum values
func (v Value) AsString() string { return v.s }

// AsTime returns the timestamp payload
func (v Value) AsTime() time.Time { return v.t }

// AsBytes returns a copy of the blob payload
func (v Value) AsBytes() []byte { return append([]byte{}, v.by...) }

// AsForeign returns the relationship payload
func (v Value) AsForeign() Foreign { return v.foreign }

// AsList returns a copy of the list items
func (v Value) AsList() []Value { return append([]Value{}, v.list...) }

// Len returns the number of list items
func (v Value) Len() int { return len(v.list) }

// Interface returns the payload as a plain Go value; nil for null and absent values
func (v Value) Interface() interface{} {
	if !v.present || v.null {
		return nil
	}
	switch v.kind {
	case schema.KindBool:
		return v.b
	case schema.KindInt:
		return int32(v.i)
	case schema.KindLong:
		return v.i
	case schema.KindDouble:
		return v.f
	case schema.KindString, schema.KindEnum:
		return v.s
	case schema.KindTimestamp:
		return v.t
	case schema.KindBlob:
		return v.AsBytes()
	case schema.KindModel:
		return v.foreign
	case schema.KindList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal compares kind and payload. Embedded records compare by identity and values.
func (v Value) Equal(o Value) bool {
	if v.present != o.present || v.null != o.null {
		return false
	}
	if !v.present || v.null {
		return true
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case schema.KindBool:
		return v.b == o.b
	case schema.KindInt, schema.KindLong:
		return v.i == o.i
	case schema.KindDouble:
		return v.f == o.f
	case schema.KindString, schema.KindEnum:
		return v.s == o.s
	case schema.KindTimestamp:
		return v.t.Equal(o.t)
	case schema.KindBlob:
		return bytes.Equal(v.by, o.by)
	case schema.KindModel:
		return v.foreign.Equal(o.foreign)
	case schema.KindList:
		if v.elem != o.elem || len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for debugging output
func (v Value) String() string {
	switch {
	case !v.present:
		return "<absent>"
	case v.null:
		return "null"
	}
	switch v.kind {
	case schema.KindTimestamp:
		return v.t.Format(time.RFC3339Nano)
	case schema.KindBlob:
		return fmt.Sprintf("blob(%d)", len(v.by))
	case schema.KindModel:
		return v.foreign.String()
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

func (v Value) clone() Value {
	out := v
	if v.by != nil {
		out.by = append([]byte{}, v.by...)
	}
	if v.list != nil {
		out.list = make([]Value, len(v.list))
		for i, item := range v.list {
			out.list[i] = item.clone()
		}
	}
	if v.foreign.rec != nil {
		out.foreign = Embedded(v.foreign.rec.Clone())
	}
	return out
}
