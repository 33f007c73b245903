package schema

import (
	"testing"
)

func TestFieldKindString(t *testing.T) {
	tests := []struct {
		name     string
		kind     FieldKind
		expected string
	}{
		{"KindBool", KindBool, "bool"},
		{"KindInt", KindInt, "int"},
		{"KindLong", KindLong, "long"},
		{"KindDouble", KindDouble, "double"},
		{"KindString", KindString, "string"},
		{"KindTimestamp", KindTimestamp, "timestamp"},
		{"KindEnum", KindEnum, "enum"},
		{"KindBlob", KindBlob, "blob"},
		{"KindModel", KindModel, "model"},
		{"KindList", KindList, "list"},
		{"KindFlex", KindFlex, "flex"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestParseTypeName(t *testing.T) {
	tests := []struct {
		input     string
		kind      FieldKind
		elem      FieldKind
		expectErr bool
	}{
		{"string", KindString, KindString, false},
		{" long ", KindLong, KindLong, false},
		{"list<model>", KindList, KindModel, false},
		{"list< string >", KindList, KindString, false},
		{"list<flex>", 0, 0, true},
		{"list<nope>", 0, 0, true},
		{"varchar", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			kind, elem, err := ParseTypeName(tt.input)
			if tt.expectErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if kind != tt.kind || elem != tt.elem {
				t.Errorf("expected %s/%s, got %s/%s", tt.kind, tt.elem, kind, elem)
			}
		})
	}
}

func TestFieldDescriptorQueryable(t *testing.T) {
	tests := []struct {
		name     string
		field    FieldDescriptor
		expected bool
	}{
		{"string", FieldDescriptor{Kind: KindString}, true},
		{"timestamp", FieldDescriptor{Kind: KindTimestamp}, true},
		{"blob", FieldDescriptor{Kind: KindBlob}, false},
		{"flex", FieldDescriptor{Kind: KindFlex}, false},
		{"list", FieldDescriptor{Kind: KindList, Elem: KindString}, false},
		{"foreign model", FieldDescriptor{Kind: KindModel, Foreign: true}, true},
		{"embedded model", FieldDescriptor{Kind: KindModel}, false},
		{"encrypted string", FieldDescriptor{Kind: KindString, Encrypt: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.field.Queryable(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestFieldDescriptorTypeName(t *testing.T) {
	f := &FieldDescriptor{Kind: KindList, Elem: KindModel}
	if f.TypeName() != "list<model>" {
		t.Errorf("expected list<model>, got %s", f.TypeName())
	}
	if !f.IsRelationship() {
		t.Error("list<model> should be a relationship")
	}
	elem := f.ElementDescriptor()
	if elem.Kind != KindModel {
		t.Errorf("expected element kind model, got %s", elem.Kind)
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"objectId", "object_id"},
		{"Post", "post"},
		{"HTTPRequest", "http_request"},
		{"field_lock", "field_lock"},
		{"authorID", "author_id"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ToSnakeCase(tt.input); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}
