// Package mapping holds the canonical-field to external-path associations for
// each external schema. The registry is built once from configuration and is
// read-only afterwards; adding or renaming an external field is a config
// edit, never a code change.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Schema identifies one external payload shape.
type Schema string

const (
	// SchemaForm is the inbound chat form submission.
	SchemaForm Schema = "form"
	// SchemaRecords is the kanban record-store page.
	SchemaRecords Schema = "records"
)

// ErrInvalidConfig marks mapping configuration the process must refuse to
// start with.
var ErrInvalidConfig = errors.New("mapping: invalid config")

// FieldMapping binds one canonical field to its external location(s).
//
// Zero paths means the field is informational only and carries no automatic
// extraction. A declared path list makes the field multi-valued: every path
// that resolves contributes one value, in path order.
type FieldMapping struct {
	Name     string   `yaml:"field"`
	Label    string   `yaml:"label"`
	Paths    PathList `yaml:"path"`
	Required bool     `yaml:"required"`
}

// Multi reports whether the field was declared with a path list.
func (m FieldMapping) Multi() bool { return m.Paths.list }

// PathList accepts either a single scalar path or a sequence of paths in YAML.
type PathList struct {
	Values []string
	list   bool
}

// SinglePath builds a PathList holding one path.
func SinglePath(p string) PathList { return PathList{Values: []string{p}} }

// MultiPath builds a declared path list, marking the field multi-valued.
func MultiPath(ps ...string) PathList { return PathList{Values: ps, list: true} }

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PathList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if s != "" {
			p.Values = []string{s}
		}
		return nil
	case yaml.SequenceNode:
		p.list = true
		return node.Decode(&p.Values)
	}
	return fmt.Errorf("path must be a string or a list of strings")
}

// Registry is the immutable lookup table of field mappings per schema.
type Registry struct {
	fields map[Schema][]FieldMapping
	index  map[Schema]map[string]FieldMapping
}

// NewRegistry validates the configured mappings and builds the registry.
// It fails fast on duplicate canonical field names within one schema and on
// path lists that were declared but left empty.
func NewRegistry(schemas map[Schema][]FieldMapping) (*Registry, error) {
	r := &Registry{
		fields: make(map[Schema][]FieldMapping, len(schemas)),
		index:  make(map[Schema]map[string]FieldMapping, len(schemas)),
	}
	var problems []string
	for schema, mappings := range schemas {
		idx := make(map[string]FieldMapping, len(mappings))
		for _, m := range mappings {
			if m.Name == "" {
				problems = append(problems, fmt.Sprintf("%s: mapping with empty field name", schema))
				continue
			}
			if _, dup := idx[m.Name]; dup {
				problems = append(problems, fmt.Sprintf("%s: duplicate field %q", schema, m.Name))
				continue
			}
			if m.Paths.list && len(m.Paths.Values) == 0 {
				problems = append(problems, fmt.Sprintf("%s: field %q declares an empty path list", schema, m.Name))
				continue
			}
			if m.Required && len(m.Paths.Values) == 0 {
				problems = append(problems, fmt.Sprintf("%s: field %q is required but has no path", schema, m.Name))
				continue
			}
			idx[m.Name] = m
		}
		r.fields[schema] = mappings
		r.index[schema] = idx
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(problems, "\n  - "))
	}
	return r, nil
}

// Fields returns the ordered field mappings for a schema.
func (r *Registry) Fields(schema Schema) []FieldMapping {
	return r.fields[schema]
}

// Lookup returns the mapping for one canonical field within a schema.
func (r *Registry) Lookup(schema Schema, field string) (FieldMapping, bool) {
	m, ok := r.index[schema][field]
	return m, ok
}

// Paths returns the configured path(s) for a canonical field, or false when
// the field is unknown or carries no paths.
func (r *Registry) Paths(schema Schema, field string) ([]string, bool) {
	m, ok := r.index[schema][field]
	if !ok || len(m.Paths.Values) == 0 {
		return nil, false
	}
	return m.Paths.Values, true
}
