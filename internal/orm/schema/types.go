// Package schema provides model definitions for strata's record store.
// It defines field kinds, field descriptors, schema documents and the resolved
// (inheritance-flattened) form that records, planners and backends consume.
package schema

import (
	"fmt"
	"strings"
)

// FieldKind represents the runtime kind of a field value
type FieldKind int

const (
	KindBool FieldKind = iota
	KindInt
	KindLong
	KindDouble
	KindString
	KindTimestamp
	KindEnum
	KindBlob
	KindModel
	KindList
	KindFlex
)

// String returns the string representation of the field kind
func (k FieldKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	case KindEnum:
		return "enum"
	case KindBlob:
		return "blob"
	case KindModel:
		return "model"
	case KindList:
		return "list"
	case KindFlex:
		return "flex"
	default:
		return "unknown"
	}
}

// ParseFieldKind converts a scalar kind name to a FieldKind
func ParseFieldKind(s string) (FieldKind, error) {
	switch s {
	case "bool":
		return KindBool, nil
	case "int":
		return KindInt, nil
	case "long":
		return KindLong, nil
	case "double":
		return KindDouble, nil
	case "string":
		return KindString, nil
	case "timestamp":
		return KindTimestamp, nil
	case "enum":
		return KindEnum, nil
	case "blob":
		return KindBlob, nil
	case "model":
		return KindModel, nil
	case "flex":
		return KindFlex, nil
	default:
		return 0, fmt.Errorf("unknown field kind: %s", s)
	}
}

// ParseTypeName parses a document type name such as "string" or "list<model>"
// into the field kind and, for lists, the element kind.
func ParseTypeName(s string) (kind FieldKind, elem FieldKind, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "list<") && strings.HasSuffix(s, ">") {
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "list<"), ">")
		elem, err = ParseFieldKind(strings.TrimSpace(inner))
		if err != nil {
			return 0, 0, err
		}
		if elem == KindFlex {
			return 0, 0, fmt.Errorf("list<flex> is not supported")
		}
		return KindList, elem, nil
	}
	kind, err = ParseFieldKind(s)
	return kind, kind, err
}

// IsScalar returns true for kinds stored as a single column or value
func (k FieldKind) IsScalar() bool {
	switch k {
	case KindModel, KindList, KindFlex:
		return false
	default:
		return true
	}
}

// Reserved identity field names present on every resolved schema
const (
	FieldID       = "id"
	FieldObjectID = "objectId"
)

// FieldDescriptor holds the static metadata for one field
type FieldDescriptor struct {
	Name string
	Kind FieldKind

	// Elem is the element kind for list fields
	Elem FieldKind

	// Target is the schema name for model and list<model> fields
	Target string

	Nullable bool
	Default  interface{}

	Primary  bool
	Identity bool

	// Foreign fields hold a reference or an embedded record depending on fetch mode
	Foreign bool

	Encrypt  bool
	Provider string
	KeyField string

	MaxLength  int
	EnumValues []string

	// Trim strips surrounding whitespace before validation (name-like fields)
	Trim bool

	// Internal fields are stripped by condensed serialization
	Internal bool

	// Priority orders field resolution; higher resolves first
	Priority int

	// DeclaredBy is the schema that contributed this descriptor after inheritance
	DeclaredBy string
}

// IsRelationship returns true for fields that point at other records
func (f *FieldDescriptor) IsRelationship() bool {
	return f.Kind == KindModel || (f.Kind == KindList && f.Elem == KindModel)
}

// IsList returns true for list fields
func (f *FieldDescriptor) IsList() bool {
	return f.Kind == KindList
}

// ElementDescriptor returns a descriptor describing one list element
func (f *FieldDescriptor) ElementDescriptor() *FieldDescriptor {
	if f.Kind != KindList {
		return f
	}
	elem := *f
	elem.Kind = f.Elem
	elem.Nullable = false
	elem.Default = nil
	return &elem
}

// Queryable reports whether predicates and sorting may reference the field
func (f *FieldDescriptor) Queryable() bool {
	if f.Encrypt {
		return false
	}
	switch f.Kind {
	case KindBlob, KindList, KindFlex:
		return false
	case KindModel:
		return f.Foreign
	default:
		return true
	}
}

// TypeName returns the document type name of the field
func (f *FieldDescriptor) TypeName() string {
	if f.Kind == KindList {
		return fmt.Sprintf("list<%s>", f.Elem)
	}
	return f.Kind.String()
}

// sameShape reports whether two descriptors would store values identically
func (f *FieldDescriptor) sameShape(o *FieldDescriptor) bool {
	return f.Kind == o.Kind && f.Elem == o.Elem && f.Target == o.Target && f.Foreign == o.Foreign
}

// Schema is a registered, not yet flattened, schema definition
type Schema struct {
	Name     string
	Inherits []string
	Abstract bool
	Group    string
	Version  string
	Common   []string
	Fields   []*FieldDescriptor
}

// ResolvedSchema is a schema with its inheritance flattened into one field list
type ResolvedSchema struct {
	Name      string
	Abstract  bool
	Group     string
	Version   string
	Ancestors []string
	Common    []string

	fields []*FieldDescriptor
	byName map[string]*FieldDescriptor
}

// Fields returns the ordered resolved field descriptors, identity fields first
func (s *ResolvedSchema) Fields() []*FieldDescriptor {
	out := make([]*FieldDescriptor, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a descriptor by name
func (s *ResolvedSchema) Field(name string) (*FieldDescriptor, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// HasField returns true if the schema resolves a field with the given name
func (s *ResolvedSchema) HasField(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// FieldNames returns the resolved field names in order
func (s *ResolvedSchema) FieldNames() []string {
	names := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		names = append(names, f.Name)
	}
	return names
}

// DataFields returns the non-identity fields in order
func (s *ResolvedSchema) DataFields() []*FieldDescriptor {
	out := make([]*FieldDescriptor, 0, len(s.fields))
	for _, f := range s.fields {
		if !f.Identity {
			out = append(out, f)
		}
	}
	return out
}

// Relationships returns the relationship fields in order
func (s *ResolvedSchema) Relationships() []*FieldDescriptor {
	var out []*FieldDescriptor
	for _, f := range s.fields {
		if f.IsRelationship() {
			out = append(out, f)
		}
	}
	return out
}

// DefaultFields returns the field set fetched when a query requests none:
// the declared common subset, or every non-relationship data field.
func (s *ResolvedSchema) DefaultFields() []string {
	if len(s.Common) > 0 {
		out := make([]string, len(s.Common))
		copy(out, s.Common)
		return out
	}
	var out []string
	for _, f := range s.fields {
		if f.Identity || f.IsRelationship() {
			continue
		}
		out = append(out, f.Name)
	}
	return out
}

// IsA returns true if the schema is name or inherits from it
func (s *ResolvedSchema) IsA(name string) bool {
	if s.Name == name {
		return true
	}
	for _, a := range s.Ancestors {
		if a == name {
			return true
		}
	}
	return false
}

// ResolutionOrder returns data fields sorted by descending priority,
// keeping declaration order between equal priorities.
func (s *ResolvedSchema) ResolutionOrder() []*FieldDescriptor {
	out := s.DataFields()
	// insertion sort keeps it stable and the lists are short
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority > out[j-1].Priority; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// identityFields returns fresh descriptors for the reserved identity fields
func identityFields(owner string) []*FieldDescriptor {
	return []*FieldDescriptor{
		{Name: FieldID, Kind: KindLong, Elem: KindLong, Primary: true, Identity: true, DeclaredBy: owner, Priority: 1 << 20},
		{Name: FieldObjectID, Kind: KindString, Elem: KindString, Identity: true, MaxLength: 36, DeclaredBy: owner, Priority: 1 << 20},
	}
}

// ToSnakeCase converts a string to snake_case
func ToSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
