package planner

import (
	"fmt"
	"math"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relorm/internal/filter"
	"relorm/internal/model"
	"relorm/internal/ormerr"
	"relorm/internal/sqlutil"
)

// Query is the planning input: everything a query set has accumulated.
type Query struct {
	Model         *model.Model
	Filters       []filter.Node
	SelectRelated []string
	OrderBy       []string
	Limit         int
	Limited       bool
	Offset        int
}

// Column is one projected column of a select plan.
type Column struct {
	Label string
	Node  *JoinNode
	Field *model.Field
}

// Plan is an assembled select statement plus what hydration needs to map
// rows back onto the join tree.
type Plan struct {
	SQLQuery
	Joins     *JoinPlan
	Columns   []Column
	Where     Condition
	OrderBy   []OrderTerm
	HasToMany bool
}

// Root returns the root join node.
func (p *Plan) Root() *JoinNode {
	return p.Joins.root
}

// Explain renders the plan for humans.
func (p *Plan) Explain() string {
	var b strings.Builder
	fmt.Fprintf(&b, "root %s AS %s\n", p.Joins.root.Model.Name, p.Joins.root.Alias)
	for _, n := range p.Joins.nodes {
		kind := "to-one"
		if n.ToMany {
			kind = "to-many"
		}
		mode := "filter"
		if n.Eager {
			mode = "eager"
		}
		fmt.Fprintf(&b, "join %s AS %s via %s (%s, %s)\n", n.Model.Name, n.Alias, n.Key(), kind, mode)
	}
	fmt.Fprintf(&b, "sql %s\nargs %v\n", p.SQL, p.Args)
	return b.String()
}

// prepare checks readiness and resolves select_related paths and filters
// into a join plan.
func prepare(q Query, eager bool) (*JoinPlan, Condition, error) {
	if q.Model == nil {
		return nil, nil, fmt.Errorf("query requires a model")
	}
	if err := q.Model.Ready(); err != nil {
		return nil, nil, err
	}
	joins := NewJoinPlan(q.Model)

	if eager {
		for _, key := range q.SelectRelated {
			path := filter.ParsePath(key)
			r, err := joins.resolve(path, true)
			if err != nil {
				return nil, nil, err
			}
			for _, hop := range r.hops {
				if hop.Relation == model.ThroughRelation {
					return nil, nil, ormerr.New(ormerr.ErrQueryDefinition, q.Model.Name, key, "through field %q is loaded with its many-to-many relation", hop.Name)
				}
				if err := hop.Target().Ready(); err != nil {
					return nil, nil, err
				}
			}
			joins.join(r, true)
		}
	}

	where, err := BuildWhere(joins, q.Filters)
	if err != nil {
		return nil, nil, err
	}
	return joins, where, nil
}

// BuildSelect assembles the select statement for q.
func BuildSelect(q Query) (*Plan, error) {
	joins, where, err := prepare(q, true)
	if err != nil {
		return nil, err
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, ormerr.QueryDefinition(q.Model.Name, "limit and offset must not be negative (limit %d, offset %d)", q.Limit, q.Offset)
	}
	terms, err := BuildOrderBy(joins, q.OrderBy)
	if err != nil {
		return nil, err
	}
	terms = tiebreakers(joins, terms)

	hasToMany := joins.HasToMany()
	if hasToMany && (q.Limited || q.Offset > 0) {
		var paths []string
		for _, n := range joins.nodes {
			if n.ToMany && !n.IsThrough {
				paths = append(paths, n.Key())
			}
		}
		return nil, ormerr.QueryDefinition(q.Model.Name,
			"limit/offset cannot be combined with to-many joins (%s): rows would be cut per child, not per object",
			strings.Join(paths, ", "))
	}

	plan := &Plan{Joins: joins, Where: where, OrderBy: terms, HasToMany: hasToMany}
	exprs := make([]string, 0)
	project := func(n *JoinNode) {
		for _, f := range n.Model.ColumnFields() {
			label := n.Alias + "__" + f.Column
			plan.Columns = append(plan.Columns, Column{Label: label, Node: n, Field: f})
			exprs = append(exprs, sqlutil.QualifyColumn(n.Alias, f.Column)+" AS "+sqlutil.QuoteIdentifier(label))
		}
	}
	project(joins.root)
	for _, n := range joins.nodes {
		if n.Eager {
			project(n)
		}
	}

	builder := sq.Select(exprs...).From(sqlutil.TableAs(q.Model.Table, joins.root.Alias))
	builder, err = joins.apply(builder)
	if err != nil {
		return nil, err
	}
	if where != nil {
		builder = builder.Where(where)
	}
	for _, t := range terms {
		builder = builder.OrderBy(t.SQL())
	}
	builder = paginate(builder, q)

	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return nil, err
	}
	plan.SQLQuery = SQLQuery{SQL: query, Args: args}
	return plan, nil
}

func paginate(builder sq.SelectBuilder, q Query) sq.SelectBuilder {
	if q.Limited {
		builder = builder.Limit(uint64(q.Limit))
	} else if q.Offset > 0 {
		// MySQL has no OFFSET without LIMIT
		builder = builder.Limit(math.MaxUint64)
	}
	if q.Offset > 0 {
		builder = builder.Offset(uint64(q.Offset))
	}
	return builder
}

// BuildCount assembles a count of distinct root objects matching the
// filters. Eager loads, ordering and pagination do not affect it.
func BuildCount(q Query) (SQLQuery, error) {
	joins, where, err := prepare(q, false)
	if err != nil {
		return SQLQuery{}, err
	}
	pk := sqlutil.QualifyColumn(joins.root.Alias, q.Model.PrimaryKey().Column)
	builder := sq.Select(fmt.Sprintf("COUNT(DISTINCT %s)", pk)).From(sqlutil.TableAs(q.Model.Table, joins.root.Alias))
	builder, err = joins.apply(builder)
	if err != nil {
		return SQLQuery{}, err
	}
	if where != nil {
		builder = builder.Where(where)
	}
	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// BuildKeys assembles a select of the distinct primary keys of matching root
// objects, used to run bulk updates and deletes by key.
func BuildKeys(q Query) (SQLQuery, error) {
	joins, where, err := prepare(q, false)
	if err != nil {
		return SQLQuery{}, err
	}
	pk := sqlutil.QualifyColumn(joins.root.Alias, q.Model.PrimaryKey().Column)
	builder := sq.Select(pk).Distinct().From(sqlutil.TableAs(q.Model.Table, joins.root.Alias))
	builder, err = joins.apply(builder)
	if err != nil {
		return SQLQuery{}, err
	}
	if where != nil {
		builder = builder.Where(where)
	}
	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}
