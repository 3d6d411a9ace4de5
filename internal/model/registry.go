package model

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"relorm/internal/naming"
	"relorm/internal/ormerr"
)

// Registry tracks declared models and the relation fields still waiting for
// a placeholder to become resolvable. It is written at declaration and
// resolve time and read afterwards.
type Registry struct {
	mu        sync.RWMutex
	models    map[string]*Model
	order     []*Model
	pending   map[string][]*Field
	namer     *naming.Namer
	validator Validator
	logger    *slog.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithNamer overrides the naming rules used for defaults.
func WithNamer(n *naming.Namer) RegistryOption {
	return func(r *Registry) {
		r.namer = n
	}
}

// WithValidator overrides field value coercion.
func WithValidator(v Validator) RegistryOption {
	return func(r *Registry) {
		r.validator = v
	}
}

// WithLogger sets the logger used for resolution diagnostics.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		models:  make(map[string]*Model),
		pending: make(map[string][]*Field),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.namer == nil {
		r.namer = naming.New(naming.DefaultConfig(), r.logger)
	}
	if r.validator == nil {
		r.validator = DefaultValidator{}
	}
	return r
}

// Validator returns the registry's field validator.
func (r *Registry) Validator() Validator {
	return r.validator
}

// Model looks up a declared model by name.
func (r *Registry) Model(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Models returns declared models in declaration order.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, len(r.order))
	copy(out, r.order)
	return out
}

// Pending returns, per placeholder name, the fields waiting for it as
// "Model.field" strings.
func (r *Registry) Pending() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.pending))
	for name, fields := range r.pending {
		refs := make([]string, 0, len(fields))
		for _, f := range fields {
			refs = append(refs, f.owner.Name+"."+f.Name)
		}
		sort.Strings(refs)
		out[name] = refs
	}
	return out
}

// MustDeclare is Declare that panics on error, for package-level schemas.
func (r *Registry) MustDeclare(def Definition) *Model {
	m, err := r.Declare(def)
	if err != nil {
		panic(err)
	}
	return m
}

// Declare registers a model. Relation fields pointing at declared models are
// wired immediately; fields naming a model by placeholder stay pending until
// Resolve is called on the declaring model.
func (r *Registry) Declare(def Definition) (*Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.declareLocked(def)
}

func (r *Registry) declareLocked(def Definition) (*Model, error) {
	if def.Name == "" {
		return nil, ormerr.ModelDefinition("", "model name is required")
	}
	if _, exists := r.models[def.Name]; exists {
		return nil, ormerr.ModelDefinition(def.Name, "model declared twice")
	}

	table := def.Table
	if table == "" {
		table = r.namer.TableName(def.Name)
	}
	m := &Model{
		Name:     def.Name,
		Table:    table,
		byName:   make(map[string]*Field, len(def.Fields)+1),
		registry: r,
	}

	for _, f := range def.Fields {
		if f == nil {
			return nil, ormerr.ModelDefinition(def.Name, "nil field")
		}
		switch f.Relation {
		case NoRelation, ForeignKeyRelation, ManyToManyRelation:
		default:
			return nil, ormerr.ModelDefinition(def.Name, "field %q: %s fields are registered by relations, not declared", f.Name, f.Relation)
		}
		if f.PrimaryKey {
			if f.IsRelation() {
				return nil, ormerr.ModelDefinition(def.Name, "relation field %q cannot be the primary key", f.Name)
			}
			if m.pk != nil {
				return nil, ormerr.ModelDefinition(def.Name, "multiple primary keys: %q and %q", m.pk.Name, f.Name)
			}
			m.pk = f
		}
		if err := m.addField(f); err != nil {
			return nil, err
		}
	}

	if m.pk == nil {
		if _, taken := m.byName["id"]; taken {
			return nil, ormerr.ModelDefinition(def.Name, "no primary key declared and field \"id\" is not one")
		}
		pk := Integer("id", PrimaryKey())
		pk.owner = m
		m.fields = append([]*Field{pk}, m.fields...)
		m.byName["id"] = pk
		m.pk = pk
	}

	var ready []*Field
	for _, f := range m.fields {
		if !f.IsRelation() {
			continue
		}
		if len(f.Pending()) > 0 {
			continue
		}
		ready = append(ready, f)
	}
	for _, f := range ready {
		if err := r.checkWire(f); err != nil {
			return nil, err
		}
	}
	if err := r.checkBatch(m, ready); err != nil {
		return nil, err
	}

	undo := r.snapshot(m, ready)
	for _, f := range ready {
		if err := r.wire(f); err != nil {
			undo()
			return nil, err
		}
	}

	r.models[m.Name] = m
	r.order = append(r.order, m)
	for _, f := range m.fields {
		for _, name := range f.Pending() {
			r.pending[name] = append(r.pending[name], f)
		}
	}

	r.logger.Debug("model declared",
		slog.String("model", m.Name),
		slog.String("table", m.Table),
		slog.Int("fields", len(m.fields)),
		slog.Any("pending", m.PendingReferences()),
	)
	return m, nil
}

// Resolve rewrites the model's pending relation fields whose placeholders
// name models declared by now. It touches only the given model's fields, so
// two models referencing each other ahead of declaration each need their own
// call. Calling it with nothing pending is a no-op.
func (r *Registry) Resolve(m *Model) error {
	if m == nil {
		return fmt.Errorf("resolve: nil model")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.registry != r {
		return ormerr.ModelDefinition(m.Name, "model belongs to a different registry")
	}

	resolved := 0
	for _, f := range m.fields {
		if len(f.Pending()) == 0 {
			continue
		}
		target, through := f.target, f.through
		if target == nil {
			if candidate, ok := r.models[f.targetRef]; ok {
				target = candidate
			}
		}
		if f.hasThrough && through == nil {
			if candidate, ok := r.models[f.throughRef]; ok {
				through = candidate
			}
		}
		if target == nil || (f.hasThrough && through == nil) {
			// Partially resolvable fields are patched together once both
			// names exist so the field never holds half a relation.
			continue
		}

		prevTarget, prevThrough := f.target, f.through
		f.target, f.through = target, through
		if err := r.checkWire(f); err != nil {
			f.target, f.through = prevTarget, prevThrough
			return err
		}
		targetRef, throughRef := f.targetRef, f.throughRef
		f.targetRef, f.throughRef = "", ""
		if err := r.wire(f); err != nil {
			return err
		}
		r.dropPending(targetRef, f)
		r.dropPending(throughRef, f)
		resolved++
	}

	remaining := m.PendingReferences()
	if resolved > 0 || len(remaining) > 0 {
		r.logger.Debug("forward references resolved",
			slog.String("model", m.Name),
			slog.Int("resolved", resolved),
			slog.Any("still_pending", remaining),
		)
	}
	return nil
}

func (r *Registry) dropPending(name string, f *Field) {
	if name == "" {
		return
	}
	fields := r.pending[name]
	kept := fields[:0]
	for _, candidate := range fields {
		if candidate != f {
			kept = append(kept, candidate)
		}
	}
	if len(kept) == 0 {
		delete(r.pending, name)
		return
	}
	r.pending[name] = kept
}

func (r *Registry) reverseName(f *Field) string {
	if f.RelatedName != "" {
		return f.RelatedName
	}
	return r.namer.ReverseFieldName(f.owner.Name)
}

// checkWire validates that wiring f will not collide with existing fields.
func (r *Registry) checkWire(f *Field) error {
	owner, target := f.owner, f.target
	switch f.Relation {
	case ForeignKeyRelation:
		if target.pk == nil {
			return ormerr.ModelDefinition(owner.Name, "foreign key %q targets %s which has no primary key", f.Name, target.Name)
		}
		if owner.IsThrough() {
			return ormerr.ModelDefinition(owner.Name, "through model cannot declare relation %q", f.Name)
		}
		if _, taken := target.byName[r.reverseName(f)]; taken {
			return ormerr.ModelDefinition(target.Name, "related name %q for %s.%s collides with an existing field", r.reverseName(f), owner.Name, f.Name)
		}
	case ManyToManyRelation:
		if f.through == nil {
			if _, taken := r.models[r.throughModelName(f)]; taken {
				return ormerr.ModelDefinition(owner.Name, "implicit through model %q for %q collides with a declared model", r.throughModelName(f), f.Name)
			}
		}
		if through := f.through; through != nil {
			if through.throughOf != nil {
				return ormerr.ModelDefinition(through.Name, "through model already serves %s.%s", through.throughOf.owner.Name, through.throughOf.Name)
			}
			if rels := through.RelationFields(); len(rels) > 0 {
				return ormerr.ModelDefinition(through.Name, "through model cannot declare relation %q", rels[0].Name)
			}
			ownerKey, targetKey := r.namer.ThroughForeignKeyNames(owner.Name, target.Name)
			for _, key := range []string{ownerKey, targetKey} {
				if _, taken := through.byName[key]; taken {
					return ormerr.ModelDefinition(through.Name, "through model field %q collides with an implicit foreign key", key)
				}
			}
		}
		if owner.IsThrough() {
			return ormerr.ModelDefinition(owner.Name, "through model cannot declare relation %q", f.Name)
		}
		name := r.reverseName(f)
		if _, taken := target.byName[name]; taken || (target == owner && name == f.Name) {
			return ormerr.ModelDefinition(target.Name, "related name %q for %s.%s collides with an existing field", name, owner.Name, f.Name)
		}
		throughName := r.namer.ThroughFieldName(r.throughModelName(f))
		if _, taken := owner.byName[throughName]; taken {
			return ormerr.ModelDefinition(owner.Name, "through field %q collides with an existing field", throughName)
		}
	}
	return nil
}

// checkBatch catches names that two relation fields of one declaration
// would both register. checkWire only sees fields already wired.
func (r *Registry) checkBatch(m *Model, ready []*Field) error {
	type slot struct {
		model *Model
		name  string
	}
	claimed := make(map[slot]string, len(ready))
	claim := func(target *Model, name string, f *Field) error {
		key := slot{model: target, name: name}
		if prev, ok := claimed[key]; ok {
			return ormerr.ModelDefinition(m.Name, "fields %q and %q both register %s.%s; give one a distinct related name", prev, f.Name, target.Name, name)
		}
		claimed[key] = f.Name
		return nil
	}
	throughs := make(map[string]string)
	for _, f := range ready {
		if err := claim(f.target, r.reverseName(f), f); err != nil {
			return err
		}
		if f.Relation != ManyToManyRelation {
			continue
		}
		throughName := r.throughModelName(f)
		if prev, ok := throughs[throughName]; ok {
			return ormerr.ModelDefinition(m.Name, "fields %q and %q both use through model %s", prev, f.Name, throughName)
		}
		throughs[throughName] = f.Name
		if err := claim(m, r.namer.ThroughFieldName(throughName), f); err != nil {
			return err
		}
	}
	return nil
}

// snapshot records the models wiring ready may touch and returns a function
// restoring them, so a failed declaration leaves the registry unchanged.
func (r *Registry) snapshot(m *Model, ready []*Field) func() {
	lengths := map[*Model]int{m: len(m.fields)}
	servedBy := map[*Model]*Field{}
	for _, f := range ready {
		lengths[f.target] = len(f.target.fields)
		if f.through != nil {
			lengths[f.through] = len(f.through.fields)
			servedBy[f.through] = f.through.throughOf
		}
	}
	declared := len(r.order)
	return func() {
		for model, n := range lengths {
			for _, f := range model.fields[n:] {
				delete(model.byName, f.Name)
			}
			model.fields = model.fields[:n]
		}
		for through, f := range servedBy {
			through.throughOf = f
		}
		for _, implicit := range r.order[declared:] {
			delete(r.models, implicit.Name)
		}
		r.order = r.order[:declared]
	}
}

func (r *Registry) throughModelName(f *Field) string {
	if f.through != nil {
		return f.through.Name
	}
	return f.owner.Name + f.target.Name
}

// wire registers the reverse side of a resolved relation field and, for
// many-to-many fields, the through model keys and through fields.
func (r *Registry) wire(f *Field) error {
	owner, target := f.owner, f.target
	switch f.Relation {
	case ForeignKeyRelation:
		f.Type = target.pk.Type
		rev := &Field{
			Name:     r.reverseName(f),
			Relation: ReverseRelation,
			Nullable: true,
			target:   owner,
			origin:   f,
		}
		f.RelatedName = rev.Name
		return target.addField(rev)

	case ManyToManyRelation:
		if f.through == nil {
			through, err := r.declareLocked(Definition{
				Name:  r.throughModelName(f),
				Table: owner.Table + "_" + target.Table,
			})
			if err != nil {
				return fmt.Errorf("declaring implicit through model: %w", err)
			}
			f.through = through
			f.hasThrough = true
		}
		through := f.through
		through.throughOf = f

		ownerKeyName, targetKeyName := r.namer.ThroughForeignKeyNames(owner.Name, target.Name)
		ownerKey := &Field{Name: ownerKeyName, Column: ownerKeyName, Relation: ForeignKeyRelation, Type: owner.pk.Type, target: owner}
		targetKey := &Field{Name: targetKeyName, Column: targetKeyName, Relation: ForeignKeyRelation, Type: target.pk.Type, target: target}
		if err := through.addField(ownerKey); err != nil {
			return err
		}
		if err := through.addField(targetKey); err != nil {
			return err
		}
		f.throughOwnerKey = ownerKey
		f.throughTargetKey = targetKey

		rev := &Field{
			Name:     r.reverseName(f),
			Relation: ReverseManyToManyRelation,
			Nullable: true,
			target:   owner,
			origin:   f,
		}
		f.RelatedName = rev.Name
		if err := target.addField(rev); err != nil {
			return err
		}

		throughName := r.namer.ThroughFieldName(through.Name)
		ownerThrough := &Field{Name: throughName, Relation: ThroughRelation, target: through, origin: f}
		if err := owner.addField(ownerThrough); err != nil {
			return err
		}
		f.throughField = ownerThrough

		if target != owner {
			if _, taken := target.byName[throughName]; !taken {
				targetThrough := &Field{Name: throughName, Relation: ThroughRelation, target: through, origin: rev}
				if err := target.addField(targetThrough); err != nil {
					return err
				}
				rev.throughField = targetThrough
			}
		}
	}
	return nil
}
