// Package migrate computes the difference between two versions of a resolved
// schema so storage backends can evolve their layout field by field.
package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/conduit-lang/strata/internal/orm/schema"
)

// FieldSnapshot is the storage-relevant shape of one field
type FieldSnapshot struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Target     string `json:"target,omitempty"`
	Nullable   bool   `json:"nullable,omitempty"`
	HasDefault bool   `json:"hasDefault,omitempty"`
	Foreign    bool   `json:"foreign,omitempty"`
	Encrypt    bool   `json:"encrypt,omitempty"`
	MaxLength  int    `json:"maxLength,omitempty"`
}

// Descriptor rebuilds a field descriptor carrying the snapshot's storage shape
func (f *FieldSnapshot) Descriptor() (*schema.FieldDescriptor, error) {
	kind, elem, err := schema.ParseTypeName(f.Type)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.Name, err)
	}
	return &schema.FieldDescriptor{
		Name:      f.Name,
		Kind:      kind,
		Elem:      elem,
		Target:    f.Target,
		Nullable:  f.Nullable,
		Foreign:   f.Foreign,
		Encrypt:   f.Encrypt,
		MaxLength: f.MaxLength,
	}, nil
}

// Snapshot is the persisted form of a resolved schema's data fields
type Snapshot struct {
	Model    string           `json:"model"`
	Version  string           `json:"version,omitempty"`
	Abstract bool             `json:"abstract,omitempty"`
	Fields   []*FieldSnapshot `json:"fields"`
}

// Capture snapshots the data fields of a resolved schema
func Capture(rs *schema.ResolvedSchema) *Snapshot {
	s := &Snapshot{Model: rs.Name, Version: rs.Version, Abstract: rs.Abstract}
	for _, f := range rs.DataFields() {
		s.Fields = append(s.Fields, &FieldSnapshot{
			Name:       f.Name,
			Type:       f.TypeName(),
			Target:     f.Target,
			Nullable:   f.Nullable,
			HasDefault: f.Default != nil,
			Foreign:    f.Foreign,
			Encrypt:    f.Encrypt,
			MaxLength:  f.MaxLength,
		})
	}
	return s
}

// Field looks up a field snapshot by name
func (s *Snapshot) Field(name string) (*FieldSnapshot, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// FieldNames returns the snapshot's field names in order
func (s *Snapshot) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Marshal encodes the snapshot as JSON
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Checksum identifies the snapshot's storage shape; the version string is excluded
func (s *Snapshot) Checksum() string {
	shape := struct {
		Model  string           `json:"model"`
		Fields []*FieldSnapshot `json:"fields"`
	}{s.Model, s.Fields}
	data, _ := json.Marshal(shape)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ParseSnapshot decodes a snapshot produced by Marshal
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode schema snapshot: %w", err)
	}
	if s.Model == "" {
		return nil, fmt.Errorf("schema snapshot has no model name")
	}
	return &s, nil
}
