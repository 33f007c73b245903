package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Decode parses one or more schema documents from r.
// JSON input may be a single object or an array; YAML input may hold several
// documents separated by "---".
func Decode(r io.Reader, format string) ([]SchemaDef, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema document: %w", err)
	}

	switch format {
	case "json":
		return decodeJSON(data)
	case "yaml", "yml", "":
		return decodeYAML(data)
	default:
		return nil, fmt.Errorf("unsupported schema format: %s", format)
	}
}

func decodeJSON(data []byte) ([]SchemaDef, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var defs []SchemaDef
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
		return defs, nil
	}
	var def SchemaDef
	if err := json.Unmarshal(trimmed, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return []SchemaDef{def}, nil
}

func decodeYAML(data []byte) ([]SchemaDef, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var defs []SchemaDef
	for {
		var def SchemaDef
		err := dec.Decode(&def)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		}
		if def.Name == "" && len(def.Fields) == 0 {
			continue // empty document
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func formatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

func isSchemaFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yml", ".yaml", ".json":
		return true
	default:
		return false
	}
}

// LoadFile reads the schema documents in one file and registers them as a batch
func (r *Registry) LoadFile(filename string) ([]*ResolvedSchema, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema file: %w", err)
	}
	defer f.Close()

	defs, err := Decode(f, formatOf(filename))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return r.RegisterAll(defs)
}

// LoadDir registers every schema document in dir as one batch
func (r *Registry) LoadDir(dir string) ([]*ResolvedSchema, error) {
	return r.LoadFS(os.DirFS(dir), ".")
}

// LoadFS registers every schema document under root in fsys as one batch.
// Files are read in lexical order so registration errors are deterministic.
func (r *Registry) LoadFS(fsys fs.FS, root string) ([]*ResolvedSchema, error) {
	var files []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isSchemaFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk schema resources: %w", err)
	}
	sort.Strings(files)

	var defs []SchemaDef
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		batch, err := Decode(bytes.NewReader(data), formatOf(path.Base(name)))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, batch...)
	}
	if len(defs) == 0 {
		return nil, nil
	}
	return r.RegisterAll(defs)
}
