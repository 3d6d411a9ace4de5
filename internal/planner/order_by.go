package planner

import (
	"relorm/internal/filter"
	"relorm/internal/sqlutil"
)

// OrderTerm is one ORDER BY expression on an aliased column.
type OrderTerm struct {
	Alias  string
	Column string
	Desc   bool
}

// SQL renders the term.
func (o OrderTerm) SQL() string {
	col := sqlutil.QualifyColumn(o.Alias, o.Column)
	if o.Desc {
		return col + " DESC"
	}
	return col + " ASC"
}

// BuildOrderBy resolves order_by keys against plan, joining any relation they
// traverse. Keys follow filter path rules; a leading "-" sorts descending.
func BuildOrderBy(plan *JoinPlan, keys []string) ([]OrderTerm, error) {
	terms := make([]OrderTerm, 0, len(keys))
	for _, key := range keys {
		ordering := filter.ParseOrdering(key)
		r, err := plan.resolve(ordering.Path, false)
		if err != nil {
			return nil, err
		}
		terminal := r.terminal
		if terminal.IsToMany() {
			r.hops = append(r.hops, terminal)
		}
		node := plan.join(r, false)
		column := terminal.Column
		if terminal.IsToMany() {
			column = node.Model.PrimaryKey().Column
		}
		terms = append(terms, OrderTerm{Alias: node.Alias, Column: column, Desc: ordering.Desc})
	}
	return terms, nil
}

// tiebreakers keeps hydration deterministic: roots by primary key, then every
// eagerly loaded to-many collection in insertion order. Many-to-many children
// follow the join table's key so they come back in the order they were added.
func tiebreakers(plan *JoinPlan, terms []OrderTerm) []OrderTerm {
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		seen[t.Alias+"."+t.Column] = struct{}{}
	}
	add := func(n *JoinNode) {
		pk := n.Model.PrimaryKey().Column
		if _, ok := seen[n.Alias+"."+pk]; ok {
			return
		}
		seen[n.Alias+"."+pk] = struct{}{}
		terms = append(terms, OrderTerm{Alias: n.Alias, Column: pk})
	}

	add(plan.root)
	for _, n := range plan.nodes {
		if !n.Eager || n.IsThrough || !n.Field.IsToMany() {
			continue
		}
		if n.Through != nil {
			add(n.Through)
		}
		add(n)
	}
	return terms
}
