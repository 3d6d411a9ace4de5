package planner

import (
	"reflect"

	sq "github.com/Masterminds/squirrel"
	"github.com/spf13/cast"

	"relorm/internal/filter"
	"relorm/internal/model"
	"relorm/internal/ormerr"
	"relorm/internal/sqlutil"
)

// BuildWhere translates filter nodes into one condition ANDing them. Every
// relation path a lookup touches is joined into plan, without eager loading.
// It returns nil when there is nothing to filter on.
func BuildWhere(plan *JoinPlan, nodes []filter.Node) (Condition, error) {
	nodes = filter.Flatten(nodes)
	if len(nodes) == 0 {
		return nil, nil
	}
	b := &whereBuilder{joins: plan}
	if len(nodes) == 1 {
		return b.build(nodes[0])
	}
	return b.build(filter.And(nodes...))
}

type whereBuilder struct {
	joins *JoinPlan
}

// build recursively translates a filter node.
func (b *whereBuilder) build(node filter.Node) (Condition, error) {
	switch n := node.(type) {
	case filter.Lookup:
		return b.lookup(n)
	case filter.Kw:
		return b.build(filter.And(n))
	case filter.Group:
		children := n.Children()
		group := BoolGroup{Op: n.Op(), Children: make([]Condition, 0, len(children))}
		for _, child := range children {
			cond, err := b.build(child)
			if err != nil {
				return nil, err
			}
			group.Children = append(group.Children, cond)
		}
		return group, nil
	case filter.Negation:
		sub := NewJoinPlan(b.joins.root.Model)
		cond, err := (&whereBuilder{joins: sub}).build(n.Child())
		if err != nil {
			return nil, err
		}
		if sub.HasToMany() {
			return b.excludedKeys(sub, cond)
		}
		cond, err = b.build(n.Child())
		if err != nil {
			return nil, err
		}
		return NotCondition{Child: cond}, nil
	}
	return nil, ormerr.QueryDefinition(b.joins.root.Model.Name, "unsupported filter node %T", node)
}

// excludedKeys selects the root keys matching cond over its own joins, so
// the outer query does not gain the to-many join.
func (b *whereBuilder) excludedKeys(sub *JoinPlan, cond Condition) (Condition, error) {
	m := sub.root.Model
	pk := m.PrimaryKey().Column
	match := sq.Select(sqlutil.QualifyColumn(sub.root.Alias, pk)).
		Distinct().
		From(sqlutil.TableAs(m.Table, sub.root.Alias))
	match, err := sub.apply(match)
	if err != nil {
		return nil, err
	}
	return ExcludedKeys{Alias: b.joins.root.Alias, Column: pk, Match: match.Where(cond)}, nil
}

func (b *whereBuilder) lookup(l filter.Lookup) (Condition, error) {
	r, err := b.joins.resolve(l.Path(), false)
	if err != nil {
		return nil, err
	}

	terminal := r.terminal
	column := terminal.Column
	if terminal.IsToMany() {
		r.hops = append(r.hops, terminal)
	}
	node := b.joins.join(r, false)
	if terminal.IsToMany() {
		column = node.Model.PrimaryKey().Column
	}

	value, err := normalizeValue(b.joins.root.Model.Name, l)
	if err != nil {
		return nil, err
	}
	return Comparison{
		Alias:  node.Alias,
		Column: column,
		Op:     l.Operator(),
		Value:  value,
		Path:   l.Key(),
	}, nil
}

func normalizeValue(modelName string, l filter.Lookup) (interface{}, error) {
	raw := l.Value()
	op := l.Operator()
	switch {
	case op == filter.OpIn:
		rv := reflect.ValueOf(raw)
		if raw == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return nil, ormerr.New(ormerr.ErrQueryDefinition, modelName, l.Key(), "in lookup expects a list, got %T", raw)
		}
		values := make([]interface{}, rv.Len())
		for i := range values {
			values[i] = keyValue(rv.Index(i).Interface())
		}
		return values, nil

	case op == filter.OpIsNull:
		isNull, err := cast.ToBoolE(raw)
		if err != nil {
			return nil, ormerr.New(ormerr.ErrQueryDefinition, modelName, l.Key(), "isnull lookup expects a boolean, got %T", raw)
		}
		return isNull, nil

	case op.IsPattern():
		if _, ok := raw.(*model.Instance); ok {
			return nil, ormerr.New(ormerr.ErrQueryDefinition, modelName, l.Key(), "%s lookup cannot be used with a model instance", op)
		}
		s, err := cast.ToStringE(raw)
		if err != nil || raw == nil {
			return nil, ormerr.New(ormerr.ErrQueryDefinition, modelName, l.Key(), "%s lookup expects text, got %T", op, raw)
		}
		return s, nil
	}

	value := keyValue(raw)
	if value == nil {
		switch op {
		case filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
			return nil, ormerr.New(ormerr.ErrQueryDefinition, modelName, l.Key(), "%s lookup cannot compare with NULL", op)
		}
	}
	return value, nil
}

// keyValue replaces model instances by their primary key.
func keyValue(v interface{}) interface{} {
	if inst, ok := v.(*model.Instance); ok {
		if inst == nil {
			return nil
		}
		return inst.PK()
	}
	return v
}
