package schema

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SchemaDef is the document form of a schema, as loaded from YAML or JSON
type SchemaDef struct {
	Name     string     `yaml:"name" json:"name" validate:"required,identifier"`
	Inherits []string   `yaml:"inherits,omitempty" json:"inherits,omitempty" validate:"dive,required,identifier"`
	Abstract bool       `yaml:"abstract,omitempty" json:"abstract,omitempty"`
	Group    string     `yaml:"group,omitempty" json:"group,omitempty"`
	Version  string     `yaml:"version,omitempty" json:"version,omitempty"`
	Common   []string   `yaml:"common,omitempty" json:"common,omitempty" validate:"dive,required"`
	Fields   []FieldDef `yaml:"fields" json:"fields" validate:"dive"`
}

// FieldDef is the document form of a field descriptor
type FieldDef struct {
	Name      string      `yaml:"name" json:"name" validate:"required,identifier"`
	Type      string      `yaml:"type" json:"type" validate:"required"`
	Target    string      `yaml:"target,omitempty" json:"target,omitempty" validate:"omitempty,identifier"`
	MaxLength int         `yaml:"maxLength,omitempty" json:"maxLength,omitempty" validate:"gte=0"`
	Default   interface{} `yaml:"default,omitempty" json:"default,omitempty"`
	Nullable  bool        `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	Foreign   bool        `yaml:"foreign,omitempty" json:"foreign,omitempty"`
	Encrypt   bool        `yaml:"encrypt,omitempty" json:"encrypt,omitempty"`
	Provider  string      `yaml:"provider,omitempty" json:"provider,omitempty" validate:"required_if=Encrypt true"`
	KeyField  string      `yaml:"keyField,omitempty" json:"keyField,omitempty"`
	Priority  int         `yaml:"priority,omitempty" json:"priority,omitempty"`
	Enum      []string    `yaml:"enum,omitempty" json:"enum,omitempty"`
	Trim      bool        `yaml:"trim,omitempty" json:"trim,omitempty"`
	Internal  bool        `yaml:"internal,omitempty" json:"internal,omitempty"`
}

var defValidator = newDefValidator()

func newDefValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return isIdentifier(fl.Field().String())
	})
	return v
}

// isIdentifier checks the name is usable as a model, field and column name
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Validate checks the document form of the definition
func (d *SchemaDef) Validate() error {
	if err := defValidator.Struct(d); err != nil {
		return &SchemaError{Schema: d.Name, Err: formatValidationErrors(err)}
	}
	return nil
}

func formatValidationErrors(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(msgs, "; "))
}

// toSchema converts the validated document into a Schema
func (d *SchemaDef) toSchema() (*Schema, error) {
	s := &Schema{
		Name:     d.Name,
		Inherits: append([]string(nil), d.Inherits...),
		Abstract: d.Abstract,
		Group:    d.Group,
		Version:  d.Version,
		Common:   append([]string(nil), d.Common...),
	}

	seen := make(map[string]bool, len(d.Fields))
	for _, fd := range d.Fields {
		if fd.Name == FieldID || fd.Name == FieldObjectID {
			return nil, &SchemaError{Schema: d.Name, Field: fd.Name, Err: ErrReservedField}
		}
		if seen[fd.Name] {
			return nil, &SchemaError{Schema: d.Name, Field: fd.Name, Err: ErrDuplicateField}
		}
		seen[fd.Name] = true

		kind, elem, err := ParseTypeName(fd.Type)
		if err != nil {
			return nil, &SchemaError{Schema: d.Name, Field: fd.Name, Err: err}
		}

		desc := &FieldDescriptor{
			Name:       fd.Name,
			Kind:       kind,
			Elem:       elem,
			Target:     fd.Target,
			Nullable:   fd.Nullable,
			Default:    fd.Default,
			Foreign:    fd.Foreign,
			Encrypt:    fd.Encrypt,
			Provider:   fd.Provider,
			KeyField:   fd.KeyField,
			MaxLength:  fd.MaxLength,
			EnumValues: append([]string(nil), fd.Enum...),
			Trim:       fd.Trim,
			Internal:   fd.Internal,
			Priority:   fd.Priority,
			DeclaredBy: d.Name,
		}
		if err := checkDescriptor(d.Name, desc); err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, desc)
	}
	return s, nil
}

// checkDescriptor validates kind-dependent descriptor attributes
func checkDescriptor(schemaName string, f *FieldDescriptor) error {
	fail := func(format string, args ...interface{}) error {
		return &SchemaError{Schema: schemaName, Field: f.Name, Err: fmt.Errorf(format, args...)}
	}

	if f.IsRelationship() {
		if f.Target == "" {
			return fail("relationship field requires a target")
		}
	} else if f.Target != "" {
		return fail("target is only valid on model fields")
	}
	if f.Foreign && !f.IsRelationship() {
		return fail("foreign is only valid on model fields")
	}
	if f.Kind == KindEnum || (f.Kind == KindList && f.Elem == KindEnum) {
		if len(f.EnumValues) == 0 {
			return fail("enum field requires values")
		}
	}
	if f.MaxLength > 0 && f.Kind != KindString && f.Kind != KindBlob {
		return fail("maxLength is only valid on string and blob fields")
	}
	if f.Encrypt && f.Kind != KindString && f.Kind != KindBlob {
		return fail("only string and blob fields can be encrypted")
	}
	if f.KeyField != "" && !f.Encrypt {
		return fail("keyField requires encrypt")
	}
	return nil
}
