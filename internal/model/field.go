package model

// FieldType is the scalar storage type of a column.
type FieldType int

const (
	TypeInteger FieldType = iota
	TypeBigInteger
	TypeString
	TypeText
	TypeBoolean
	TypeFloat
	TypeDecimal
	TypeDate
	TypeDateTime
	TypeTime
	TypeJSON
	TypeUUID
)

// String returns a human-readable representation of the field type.
func (t FieldType) String() string {
	switch t {
	case TypeInteger:
		return "Integer"
	case TypeBigInteger:
		return "BigInteger"
	case TypeString:
		return "String"
	case TypeText:
		return "Text"
	case TypeBoolean:
		return "Boolean"
	case TypeFloat:
		return "Float"
	case TypeDecimal:
		return "Decimal"
	case TypeDate:
		return "Date"
	case TypeDateTime:
		return "DateTime"
	case TypeTime:
		return "Time"
	case TypeJSON:
		return "JSON"
	case TypeUUID:
		return "UUID"
	default:
		return "Unknown"
	}
}

// RelationKind classifies how a field relates its model to another one.
type RelationKind int

const (
	// NoRelation marks a plain scalar column.
	NoRelation RelationKind = iota
	// ForeignKeyRelation is the owning side of a many-to-one relation; it has a column.
	ForeignKeyRelation
	// ReverseRelation is the one-to-many side registered on the target of a foreign key.
	ReverseRelation
	// ManyToManyRelation is the declaring side of a many-to-many relation.
	ManyToManyRelation
	// ReverseManyToManyRelation is the many-to-many side registered on the target.
	ReverseManyToManyRelation
	// ThroughRelation exposes the through model of a many-to-many relation by name.
	ThroughRelation
)

// String returns a human-readable representation of the relation kind.
func (k RelationKind) String() string {
	switch k {
	case NoRelation:
		return "None"
	case ForeignKeyRelation:
		return "ForeignKey"
	case ReverseRelation:
		return "Reverse"
	case ManyToManyRelation:
		return "ManyToMany"
	case ReverseManyToManyRelation:
		return "ReverseManyToMany"
	case ThroughRelation:
		return "Through"
	default:
		return "Unknown"
	}
}

// Ref points a relation field at a model, either directly or by name.
// A named Ref is a placeholder until the registry resolves it.
type Ref struct {
	model *Model
	name  string
}

// To references an already declared model.
func To(m *Model) Ref {
	return Ref{model: m}
}

// Named references a model by name; the field stays pending until Resolve.
func Named(name string) Ref {
	return Ref{name: name}
}

// Name returns the referenced model name.
func (r Ref) Name() string {
	if r.model != nil {
		return r.model.Name
	}
	return r.name
}

// Field describes one declared attribute of a model.
type Field struct {
	Name          string
	Column        string
	Type          FieldType
	Relation      RelationKind
	PrimaryKey    bool
	Autoincrement bool
	Nullable      bool
	Default       any
	MaxLength     int
	RelatedName   string

	owner      *Model
	target     *Model
	targetRef  string
	through    *Model
	throughRef string
	hasThrough bool

	// reverse and through fields point back at the field that created them
	origin *Field
	// many-to-many fields point at the through model's keys
	throughOwnerKey  *Field
	throughTargetKey *Field
	// the through field exposed next to a many-to-many field
	throughField *Field
}

// FieldOption customizes a field declaration.
type FieldOption func(*Field)

// PrimaryKey marks the field as the model's primary key. Integer keys
// autoincrement unless Autoincrement(false) follows.
func PrimaryKey() FieldOption {
	return func(f *Field) {
		f.PrimaryKey = true
		f.Nullable = false
		if f.Type == TypeInteger || f.Type == TypeBigInteger {
			f.Autoincrement = true
		}
	}
}

// Autoincrement overrides database-generated key behavior.
func Autoincrement(enabled bool) FieldOption {
	return func(f *Field) {
		f.Autoincrement = enabled
	}
}

// Nullable allows NULL values.
func Nullable() FieldOption {
	return func(f *Field) {
		f.Nullable = true
	}
}

// NotNull rejects NULL values.
func NotNull() FieldOption {
	return func(f *Field) {
		f.Nullable = false
	}
}

// Default sets the value used when none is supplied. A func() any is called
// for each new instance.
func Default(value any) FieldOption {
	return func(f *Field) {
		f.Default = value
	}
}

// MaxLength limits string length.
func MaxLength(n int) FieldOption {
	return func(f *Field) {
		f.MaxLength = n
	}
}

// Column stores the field under a different column name.
func Column(name string) FieldOption {
	return func(f *Field) {
		f.Column = name
	}
}

// RelatedName names the reverse side of a relation.
func RelatedName(name string) FieldOption {
	return func(f *Field) {
		f.RelatedName = name
	}
}

// Through attaches an explicit through model to a many-to-many field.
func Through(ref Ref) FieldOption {
	return func(f *Field) {
		f.hasThrough = true
		f.through = ref.model
		if ref.model == nil {
			f.throughRef = ref.name
		}
	}
}

func newField(name string, typ FieldType, opts []FieldOption) *Field {
	f := &Field{Name: name, Column: name, Type: typ}
	for _, opt := range opts {
		opt(f)
	}
	if f.Column == "" {
		f.Column = name
	}
	return f
}

// Integer declares a 32-bit integer column.
func Integer(name string, opts ...FieldOption) *Field {
	return newField(name, TypeInteger, opts)
}

// BigInteger declares a 64-bit integer column.
func BigInteger(name string, opts ...FieldOption) *Field {
	return newField(name, TypeBigInteger, opts)
}

// String declares a bounded string column.
func String(name string, maxLength int, opts ...FieldOption) *Field {
	return newField(name, TypeString, append([]FieldOption{MaxLength(maxLength)}, opts...))
}

// Text declares an unbounded text column.
func Text(name string, opts ...FieldOption) *Field {
	return newField(name, TypeText, opts)
}

// Boolean declares a boolean column.
func Boolean(name string, opts ...FieldOption) *Field {
	return newField(name, TypeBoolean, opts)
}

// Float declares a floating point column.
func Float(name string, opts ...FieldOption) *Field {
	return newField(name, TypeFloat, opts)
}

// Decimal declares a fixed point column; values are kept as strings.
func Decimal(name string, opts ...FieldOption) *Field {
	return newField(name, TypeDecimal, opts)
}

// Date declares a date column.
func Date(name string, opts ...FieldOption) *Field {
	return newField(name, TypeDate, opts)
}

// DateTime declares a timestamp column.
func DateTime(name string, opts ...FieldOption) *Field {
	return newField(name, TypeDateTime, opts)
}

// Time declares a time-of-day column.
func Time(name string, opts ...FieldOption) *Field {
	return newField(name, TypeTime, opts)
}

// JSON declares a JSON document column.
func JSON(name string, opts ...FieldOption) *Field {
	return newField(name, TypeJSON, opts)
}

// UUID declares a UUID column.
func UUID(name string, opts ...FieldOption) *Field {
	return newField(name, TypeUUID, opts)
}

// ForeignKey declares the owning side of a many-to-one relation. The column
// type follows the target's primary key once resolved. Foreign keys are
// nullable unless NotNull is given.
func ForeignKey(name string, to Ref, opts ...FieldOption) *Field {
	f := &Field{Name: name, Column: name, Relation: ForeignKeyRelation, Nullable: true, Type: TypeInteger}
	f.setTarget(to)
	for _, opt := range opts {
		opt(f)
	}
	if f.Column == "" {
		f.Column = name
	}
	return f
}

// ManyToMany declares a many-to-many relation. Use Through to attach the
// associative model.
func ManyToMany(name string, to Ref, opts ...FieldOption) *Field {
	f := &Field{Name: name, Relation: ManyToManyRelation, Nullable: true}
	f.setTarget(to)
	for _, opt := range opts {
		opt(f)
	}
	f.Column = ""
	return f
}

func (f *Field) setTarget(ref Ref) {
	f.target = ref.model
	if ref.model == nil {
		f.targetRef = ref.name
	}
}

// Owner returns the model declaring the field.
func (f *Field) Owner() *Model {
	return f.owner
}

// Target returns the related model, or nil while the reference is pending.
func (f *Field) Target() *Model {
	return f.target
}

// TargetName returns the related model name, resolved or not.
func (f *Field) TargetName() string {
	if f.target != nil {
		return f.target.Name
	}
	return f.targetRef
}

// ThroughModel returns the associative model of a many-to-many relation.
// Reverse and through fields report the through model of their origin.
func (f *Field) ThroughModel() *Model {
	switch f.Relation {
	case ManyToManyRelation:
		return f.through
	case ReverseManyToManyRelation:
		return f.origin.through
	case ThroughRelation:
		return f.target
	}
	return nil
}

// Origin returns the field a reverse or through field was derived from.
func (f *Field) Origin() *Field {
	return f.origin
}

// ThroughOwnerKey returns the through model's key pointing at the side this
// many-to-many field is traversed from.
func (f *Field) ThroughOwnerKey() *Field {
	switch f.Relation {
	case ManyToManyRelation:
		return f.throughOwnerKey
	case ReverseManyToManyRelation:
		return f.origin.throughTargetKey
	}
	return nil
}

// ThroughTargetKey returns the through model's key pointing at the side this
// many-to-many field leads to.
func (f *Field) ThroughTargetKey() *Field {
	switch f.Relation {
	case ManyToManyRelation:
		return f.throughTargetKey
	case ReverseManyToManyRelation:
		return f.origin.throughOwnerKey
	}
	return nil
}

// ThroughField returns the through field reachable alongside a many-to-many
// field, or nil.
func (f *Field) ThroughField() *Field {
	return f.throughField
}

// IsRelation reports whether the field links to another model.
func (f *Field) IsRelation() bool {
	return f.Relation != NoRelation
}

// IsVirtual reports whether the field has no column on its own table.
func (f *Field) IsVirtual() bool {
	switch f.Relation {
	case ReverseRelation, ManyToManyRelation, ReverseManyToManyRelation, ThroughRelation:
		return true
	}
	return false
}

// IsToMany reports whether traversing the field can yield several objects.
func (f *Field) IsToMany() bool {
	switch f.Relation {
	case ReverseRelation, ManyToManyRelation, ReverseManyToManyRelation, ThroughRelation:
		return true
	}
	return false
}

// IsOwningManyToMany reports whether the field is the declaring side of a
// many-to-many relation; only that side exposes the through payload.
func (f *Field) IsOwningManyToMany() bool {
	return f.Relation == ManyToManyRelation
}

// Pending returns the placeholder names this field still waits for.
func (f *Field) Pending() []string {
	var names []string
	if f.target == nil && f.targetRef != "" {
		names = append(names, f.targetRef)
	}
	if f.hasThrough && f.through == nil && f.throughRef != "" {
		names = append(names, f.throughRef)
	}
	return names
}
