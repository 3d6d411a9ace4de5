package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"relorm/internal/filter"
	"relorm/internal/sqlutil"
)

// Condition is a translated filter tree node bound to join aliases.
type Condition interface {
	sq.Sqlizer
	isCondition()
}

// Comparison is one atomic predicate on an aliased column.
type Comparison struct {
	Alias  string
	Column string
	Op     filter.Operator
	// Value is normalized: instances are replaced by their keys, "in" values
	// are []interface{}, "isnull" values are bool and pattern values are
	// strings.
	Value interface{}
	// Path is the lookup key the comparison came from.
	Path string
}

func (Comparison) isCondition() {}

// ToSql renders the comparison.
func (c Comparison) ToSql() (string, []interface{}, error) {
	col := sqlutil.QualifyColumn(c.Alias, c.Column)
	switch c.Op {
	case filter.OpExact:
		return sq.Eq{col: c.Value}.ToSql()
	case filter.OpNotEqual:
		return sq.NotEq{col: c.Value}.ToSql()
	case filter.OpIExact:
		if c.Value == nil {
			return sq.Eq{col: nil}.ToSql()
		}
		return fmt.Sprintf("LOWER(%s) = LOWER(?)", col), []interface{}{c.Value}, nil
	case filter.OpGt:
		return sq.Gt{col: c.Value}.ToSql()
	case filter.OpGte:
		return sq.GtOrEq{col: c.Value}.ToSql()
	case filter.OpLt:
		return sq.Lt{col: c.Value}.ToSql()
	case filter.OpLte:
		return sq.LtOrEq{col: c.Value}.ToSql()
	case filter.OpIn:
		return sq.Eq{col: c.Value}.ToSql()
	case filter.OpIsNull:
		if isNull, _ := c.Value.(bool); isNull {
			return sq.Eq{col: nil}.ToSql()
		}
		return sq.NotEq{col: nil}.ToSql()
	}
	if c.Op.IsPattern() {
		pattern := likePattern(c.Op, fmt.Sprint(c.Value))
		if c.Op.CaseInsensitive() {
			return fmt.Sprintf("LOWER(%s) LIKE LOWER(?)", col), []interface{}{pattern}, nil
		}
		return sq.Like{col: pattern}.ToSql()
	}
	return "", nil, fmt.Errorf("unsupported operator %s", c.Op)
}

func likePattern(op filter.Operator, value string) string {
	escaped := sqlutil.EscapeLike(value)
	switch op {
	case filter.OpStartsWith, filter.OpIStartsWith:
		return escaped + "%"
	case filter.OpEndsWith, filter.OpIEndsWith:
		return "%" + escaped
	}
	return "%" + escaped + "%"
}

// BoolGroup combines conditions with AND or OR. An empty AND is true and an
// empty OR is false.
type BoolGroup struct {
	Op       filter.BoolOp
	Children []Condition
}

func (BoolGroup) isCondition() {}

// ToSql renders the group.
func (g BoolGroup) ToSql() (string, []interface{}, error) {
	if len(g.Children) == 1 {
		return g.Children[0].ToSql()
	}
	parts := make([]sq.Sqlizer, len(g.Children))
	for i, child := range g.Children {
		parts[i] = child
	}
	if g.Op == filter.OrOp {
		return sq.Or(parts).ToSql()
	}
	return sq.And(parts).ToSql()
}

// NotCondition is the exact complement of its child: rows where the child is
// NULL because of a missing join or NULL column are included.
type NotCondition struct {
	Child Condition
}

func (NotCondition) isCondition() {}

// ToSql renders the negation.
func (n NotCondition) ToSql() (string, []interface{}, error) {
	sql, args, err := n.Child.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "(" + sql + ") IS NOT TRUE", args, nil
}

// ExcludedKeys drops every root object that has at least one joined row
// matching Match. Negations crossing a to-many relation use it so that an
// object is excluded as a whole, never row by row.
type ExcludedKeys struct {
	Alias  string
	Column string
	Match  sq.SelectBuilder
}

func (ExcludedKeys) isCondition() {}

// ToSql renders the key exclusion.
func (e ExcludedKeys) ToSql() (string, []interface{}, error) {
	sub, args, err := e.Match.ToSql()
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s NOT IN (%s)", sqlutil.QualifyColumn(e.Alias, e.Column), sub), args, nil
}
