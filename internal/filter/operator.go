package filter

// Operator is the comparison applied by a lookup.
type Operator int

const (
	OpExact Operator = iota
	OpIExact
	OpNotEqual
	OpGt
	OpGte
	OpLt
	OpLte
	OpContains
	OpIContains
	OpStartsWith
	OpIStartsWith
	OpEndsWith
	OpIEndsWith
	OpIn
	OpIsNull
)

var operatorTokens = map[string]Operator{
	"exact":       OpExact,
	"iexact":      OpIExact,
	"ne":          OpNotEqual,
	"gt":          OpGt,
	"gte":         OpGte,
	"lt":          OpLt,
	"lte":         OpLte,
	"contains":    OpContains,
	"icontains":   OpIContains,
	"startswith":  OpStartsWith,
	"istartswith": OpIStartsWith,
	"endswith":    OpEndsWith,
	"iendswith":   OpIEndsWith,
	"in":          OpIn,
	"isnull":      OpIsNull,
}

// ParseOperator maps a trailing lookup token to its operator.
func ParseOperator(token string) (Operator, bool) {
	op, ok := operatorTokens[token]
	return op, ok
}

// String returns the lookup token of the operator.
func (o Operator) String() string {
	for token, op := range operatorTokens {
		if op == o {
			return token
		}
	}
	return "unknown"
}

// IsPattern reports whether the operator is a LIKE match.
func (o Operator) IsPattern() bool {
	switch o {
	case OpContains, OpIContains, OpStartsWith, OpIStartsWith, OpEndsWith, OpIEndsWith:
		return true
	}
	return false
}

// CaseInsensitive reports whether both sides are lowered before comparing.
func (o Operator) CaseInsensitive() bool {
	switch o {
	case OpIExact, OpIContains, OpIStartsWith, OpIEndsWith:
		return true
	}
	return false
}
