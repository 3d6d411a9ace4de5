// Package model holds model and field descriptors, the registry that resolves
// forward references between models, and the instances hydrated from rows.
package model

import (
	"sort"

	"relorm/internal/ormerr"
)

// Definition is the declaration input for a model.
type Definition struct {
	Name   string
	Table  string
	Fields []*Field
}

// Model is a declared entity backed by a table.
type Model struct {
	Name  string
	Table string

	fields   []*Field
	byName   map[string]*Field
	pk       *Field
	registry *Registry

	// set on through models: the many-to-many field they serve
	throughOf *Field
}

// Fields returns the fields in declaration order, followed by fields
// registered later by relation wiring.
func (m *Model) Fields() []*Field {
	out := make([]*Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Field looks up a field by name. "pk" aliases the primary key.
func (m *Model) Field(name string) (*Field, bool) {
	if name == "pk" && m.pk != nil {
		return m.pk, true
	}
	f, ok := m.byName[name]
	return f, ok
}

// PrimaryKey returns the primary key field.
func (m *Model) PrimaryKey() *Field {
	return m.pk
}

// ColumnFields returns the fields stored on the model's own table.
func (m *Model) ColumnFields() []*Field {
	out := make([]*Field, 0, len(m.fields))
	for _, f := range m.fields {
		if !f.IsVirtual() {
			out = append(out, f)
		}
	}
	return out
}

// RelationFields returns every field linking to another model.
func (m *Model) RelationFields() []*Field {
	var out []*Field
	for _, f := range m.fields {
		if f.IsRelation() {
			out = append(out, f)
		}
	}
	return out
}

// IsThrough reports whether the model serves as a many-to-many join table.
func (m *Model) IsThrough() bool {
	return m.throughOf != nil
}

// ThroughOf returns the many-to-many field a through model serves.
func (m *Model) ThroughOf() *Field {
	return m.throughOf
}

// Registry returns the registry the model was declared in.
func (m *Model) Registry() *Registry {
	return m.registry
}

// PendingReferences lists placeholder names the model still waits for.
func (m *Model) PendingReferences() []string {
	seen := make(map[string]struct{})
	for _, f := range m.fields {
		for _, name := range f.Pending() {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ready returns ErrModelNotReady while forward references remain unresolved.
func (m *Model) Ready() error {
	if pending := m.PendingReferences(); len(pending) > 0 {
		return ormerr.NotReady(m.Name, pending)
	}
	return nil
}

// UpdateForwardRefs resolves the model's pending references against its registry.
func (m *Model) UpdateForwardRefs() error {
	return m.registry.Resolve(m)
}

func (m *Model) addField(f *Field) error {
	if _, exists := m.byName[f.Name]; exists {
		return ormerr.ModelDefinition(m.Name, "field %q declared twice", f.Name)
	}
	f.owner = m
	m.fields = append(m.fields, f)
	m.byName[f.Name] = f
	return nil
}
