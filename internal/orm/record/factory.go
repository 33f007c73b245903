package record

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Template is a named set of field values used to build records of one model
type Template struct {
	Name   string                 `yaml:"name"`
	Model  string                 `yaml:"model"`
	Values map[string]interface{} `yaml:"values"`
}

// Factory builds records from named templates merged with overrides
type Factory struct {
	schemas   SchemaResolver
	templates map[string]Template
	mu        sync.RWMutex
}

// NewFactory creates a factory resolving models through schemas
func NewFactory(schemas SchemaResolver) *Factory {
	return &Factory{
		schemas:   schemas,
		templates: make(map[string]Template),
	}
}

// Define registers a template after checking that it builds cleanly
func (f *Factory) Define(t Template) error {
	if t.Name == "" {
		return &FactoryError{Template: t.Name, Model: t.Model, Err: fmt.Errorf("template name is required")}
	}
	if _, err := f.build(t, nil); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[t.Name] = t
	return nil
}

// LoadTemplates reads a YAML list of templates and defines each
func (f *Factory) LoadTemplates(r io.Reader) error {
	var templates []Template
	if err := yaml.NewDecoder(r).Decode(&templates); err != nil {
		return &FactoryError{Err: fmt.Errorf("invalid template document: %w", err)}
	}
	for _, t := range templates {
		if err := f.Define(t); err != nil {
			return err
		}
	}
	return nil
}

// Build creates a new record from the template, applying overrides last
func (f *Factory) Build(name string, overrides map[string]interface{}) (*Record, error) {
	f.mu.RLock()
	t, ok := f.templates[name]
	f.mu.RUnlock()
	if !ok {
		return nil, &FactoryError{Template: name, Err: fmt.Errorf("template not defined")}
	}
	return f.build(t, overrides)
}

// Templates returns the defined template names, sorted
func (f *Factory) Templates() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.templates))
	for name := range f.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Factory) build(t Template, overrides map[string]interface{}) (*Record, error) {
	rs, err := f.schemas.Resolve(t.Model)
	if err != nil {
		return nil, &FactoryError{Template: t.Name, Model: t.Model, Err: err}
	}
	r, err := New(rs)
	if err != nil {
		return nil, &FactoryError{Template: t.Name, Model: t.Model, Err: err}
	}

	merged := make(map[string]interface{}, len(t.Values)+len(overrides))
	for k, v := range t.Values {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	// schema order keeps error reporting deterministic
	for _, fd := range rs.DataFields() {
		v, ok := merged[fd.Name]
		if !ok {
			continue
		}
		if err := r.Set(fd.Name, v); err != nil {
			return nil, &FactoryError{Template: t.Name, Model: t.Model, Err: err}
		}
		delete(merged, fd.Name)
	}
	if len(merged) > 0 {
		leftover := make([]string, 0, len(merged))
		for k := range merged {
			leftover = append(leftover, k)
		}
		sort.Strings(leftover)
		return nil, &FactoryError{Template: t.Name, Model: t.Model, Err: unknownField(t.Model, leftover[0])}
	}

	if err := r.ApplyDefaults(); err != nil {
		return nil, &FactoryError{Template: t.Name, Model: t.Model, Err: err}
	}
	return r, nil
}
