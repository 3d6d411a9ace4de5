package model

import (
	"encoding/json"
	"fmt"

	"relorm/internal/ormerr"
)

// Instance is one object of a model: its column values plus whatever related
// objects a query loaded alongside it.
type Instance struct {
	model    *Model
	values   map[string]any
	related  map[string]*Instance
	children map[string][]*Instance

	throughName string
	through     *Instance
}

// New builds an instance from user supplied values. Values are coerced by the
// registry's validator, defaults fill missing fields, and a missing required
// field is a validation error. Foreign key fields accept either a key value
// or an *Instance of the target model.
func New(m *Model, values map[string]any) (*Instance, error) {
	if err := m.Ready(); err != nil {
		return nil, err
	}
	inst := newInstance(m)
	for name, raw := range values {
		if err := inst.Set(name, raw); err != nil {
			return nil, err
		}
	}
	for _, f := range m.ColumnFields() {
		if _, ok := inst.values[f.Name]; ok {
			continue
		}
		if f.Default != nil {
			raw := f.Default
			if fn, ok := raw.(func() any); ok {
				raw = fn()
			}
			if err := inst.Set(f.Name, raw); err != nil {
				return nil, err
			}
			continue
		}
		if f.Nullable || f.Autoincrement {
			inst.values[f.Name] = nil
			continue
		}
		return nil, ormerr.Validation(m.Name, f.Name, "value is required")
	}
	return inst, nil
}

// FromRow builds an instance from stored column values keyed by field name.
// Missing fields stay unset and NULLs are kept as nil.
func FromRow(m *Model, values map[string]any) (*Instance, error) {
	inst := newInstance(m)
	validator := m.registry.Validator()
	for name, raw := range values {
		f, ok := m.Field(name)
		if !ok || f.IsVirtual() {
			return nil, ormerr.FieldNotFound(m.Name, name, name)
		}
		if raw == nil {
			inst.values[f.Name] = nil
			continue
		}
		v, err := validator.Validate(f, raw)
		if err != nil {
			return nil, err
		}
		inst.values[f.Name] = v
	}
	return inst, nil
}

func newInstance(m *Model) *Instance {
	return &Instance{
		model:    m,
		values:   make(map[string]any),
		related:  make(map[string]*Instance),
		children: make(map[string][]*Instance),
	}
}

// Model returns the instance's model.
func (i *Instance) Model() *Model {
	return i.model
}

// PK returns the primary key value, nil until saved for generated keys.
func (i *Instance) PK() any {
	return i.values[i.model.pk.Name]
}

// PKKey returns the primary key in a form usable as a map key.
func (i *Instance) PKKey() string {
	return KeyOf(i.PK())
}

// SetPK stores a primary key value, typically the generated one after insert.
func (i *Instance) SetPK(v any) error {
	return i.Set(i.model.pk.Name, v)
}

// Get returns a column value by field name.
func (i *Instance) Get(name string) (any, bool) {
	f, ok := i.model.Field(name)
	if !ok {
		return nil, false
	}
	v, ok := i.values[f.Name]
	return v, ok
}

// Value returns a column value, nil when unset.
func (i *Instance) Value(name string) any {
	v, _ := i.Get(name)
	return v
}

// Set coerces and stores a column value.
func (i *Instance) Set(name string, raw any) error {
	f, ok := i.model.Field(name)
	if !ok {
		return ormerr.FieldNotFound(i.model.Name, name, name)
	}
	if f.IsVirtual() {
		return ormerr.New(ormerr.ErrRelationship, i.model.Name, name, "%s field cannot be assigned; use the relation manager", f.Relation)
	}
	if f.Relation == ForeignKeyRelation {
		if rel, ok := raw.(*Instance); ok {
			if rel != nil && rel.model != f.target {
				return ormerr.Validation(i.model.Name, f.Name, "expected %s instance, got %s", f.TargetName(), rel.model.Name)
			}
			i.SetRelated(f.Name, rel)
			return nil
		}
		delete(i.related, f.Name)
	}
	v, err := i.model.registry.Validator().Validate(f, raw)
	if err != nil {
		return err
	}
	i.values[f.Name] = v
	return nil
}

// Related returns the object loaded for a foreign key field, or nil.
func (i *Instance) Related(name string) *Instance {
	return i.related[name]
}

// SetRelated attaches a loaded foreign key target and copies its key.
func (i *Instance) SetRelated(name string, rel *Instance) {
	if rel == nil {
		delete(i.related, name)
		i.values[name] = nil
		return
	}
	i.related[name] = rel
	i.values[name] = rel.PK()
}

// Children returns the objects loaded for a to-many relation field.
func (i *Instance) Children(name string) []*Instance {
	out := make([]*Instance, len(i.children[name]))
	copy(out, i.children[name])
	return out
}

// ChildrenLoaded reports whether a to-many relation was loaded, even if empty.
func (i *Instance) ChildrenLoaded(name string) bool {
	_, ok := i.children[name]
	return ok
}

// InitChildren marks a to-many relation as loaded.
func (i *Instance) InitChildren(name string) {
	if _, ok := i.children[name]; !ok {
		i.children[name] = []*Instance{}
	}
}

// AppendChild adds an object to a to-many relation collection.
func (i *Instance) AppendChild(name string, child *Instance) {
	i.children[name] = append(i.children[name], child)
}

// Through returns the through model instance linking this object to the
// parent it was loaded under, or nil.
func (i *Instance) Through() *Instance {
	return i.through
}

// SetThrough attaches a through model instance under the given field name.
func (i *Instance) SetThrough(name string, through *Instance) {
	i.throughName = name
	i.through = through
}

// Values returns a copy of the column values keyed by field name.
func (i *Instance) Values() map[string]any {
	out := make(map[string]any, len(i.values))
	for k, v := range i.values {
		out[k] = v
	}
	return out
}

// ColumnValues returns the named column fields with their values, or every
// set column field when no names are given.
func (i *Instance) ColumnValues(names ...string) ([]*Field, []any, error) {
	var fields []*Field
	if len(names) == 0 {
		for _, f := range i.model.ColumnFields() {
			if _, ok := i.values[f.Name]; ok {
				fields = append(fields, f)
			}
		}
	} else {
		for _, name := range names {
			f, ok := i.model.Field(name)
			if !ok {
				return nil, nil, ormerr.FieldNotFound(i.model.Name, name, name)
			}
			if f.IsVirtual() {
				return nil, nil, ormerr.QueryDefinition(i.model.Name, "field %q has no column", name)
			}
			fields = append(fields, f)
		}
	}
	values := make([]any, len(fields))
	for idx, f := range fields {
		values[idx] = i.values[f.Name]
	}
	return fields, values, nil
}

// MarshalJSON renders column values with loaded relations nested under their
// field names.
func (i *Instance) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.values)+len(i.children)+1)
	for k, v := range i.values {
		out[k] = v
	}
	for k, rel := range i.related {
		out[k] = rel
	}
	for k, children := range i.children {
		out[k] = children
	}
	if i.through != nil {
		out[i.throughName] = i.through
	}
	return json.Marshal(out)
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s(pk=%v)", i.model.Name, i.PK())
}

// KeyOf normalizes a key value for map lookups; drivers may return the same
// key as int64, []byte or string.
func KeyOf(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}
