package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relorm/internal/filter"
	"relorm/internal/model"
	"relorm/internal/ormerr"
	"relorm/internal/sqlutil"
)

// JoinNode is one table instance in the query: the root table or a joined
// alias reached by a relation path.
type JoinNode struct {
	// Path is the relation path from the root; empty for the root.
	Path   filter.Path
	Alias  string
	Model  *model.Model
	Parent *JoinNode
	// Field is the relation traversed from Parent's model to reach this node.
	Field *model.Field
	// ToMany reports whether the node can yield several rows per root object.
	ToMany bool
	// Eager nodes have their columns projected and hydrated.
	Eager bool
	// Through is set on many-to-many target nodes: the join table node the
	// hop goes through.
	Through *JoinNode
	// IsThrough marks join table nodes.
	IsThrough bool

	on sq.Sqlizer
}

// IsRoot reports whether the node is the query's root table.
func (n *JoinNode) IsRoot() bool {
	return n.Parent == nil
}

// Key returns the path key the node is registered under.
func (n *JoinNode) Key() string {
	return n.Path.String()
}

// JoinPlan assigns one alias per distinct relation path. Paths are shared by
// full equality only, so two paths reaching the same model get two aliases.
type JoinPlan struct {
	root   *JoinNode
	nodes  []*JoinNode
	byPath map[string]*JoinNode
}

// NewJoinPlan starts a plan rooted at m's table.
func NewJoinPlan(m *model.Model) *JoinPlan {
	root := &JoinNode{Alias: m.Table, Model: m, Eager: true}
	return &JoinPlan{
		root:   root,
		byPath: map[string]*JoinNode{"": root},
	}
}

// Root returns the root node.
func (p *JoinPlan) Root() *JoinNode {
	return p.root
}

// Nodes returns the joined nodes in dependency order.
func (p *JoinPlan) Nodes() []*JoinNode {
	out := make([]*JoinNode, len(p.nodes))
	copy(out, p.nodes)
	return out
}

// Node looks up the node for a relation path.
func (p *JoinPlan) Node(path string) (*JoinNode, bool) {
	n, ok := p.byPath[path]
	return n, ok
}

// HasToMany reports whether any joined node multiplies root rows.
func (p *JoinPlan) HasToMany() bool {
	for _, n := range p.nodes {
		if n.ToMany {
			return true
		}
	}
	return false
}

// route is a resolved path: the relation hops to join and the field the path
// ends at, resolved without touching the plan.
type route struct {
	path     filter.Path
	hops     []*model.Field
	terminal *model.Field
}

// resolve walks path from the root model. Relation segments become hops; the
// last segment becomes the terminal. When requireRelation is set the path
// must end at a relation, which is then included in hops.
func (p *JoinPlan) resolve(path filter.Path, requireRelation bool) (route, error) {
	rootName := p.root.Model.Name
	if len(path) == 0 {
		return route{}, ormerr.FieldNotFound(rootName, "", "")
	}
	r := route{path: path}
	current := p.root.Model
	for i, segment := range path {
		f, ok := current.Field(segment)
		if !ok || segment == "" {
			return route{}, ormerr.FieldNotFound(rootName, path.String(), segment)
		}
		last := i == len(path)-1
		if last && !requireRelation {
			r.terminal = f
			return r, nil
		}
		if !f.IsRelation() {
			if last {
				return route{}, ormerr.New(ormerr.ErrQueryDefinition, rootName, path.String(), "field %q is not a relation", segment)
			}
			return route{}, ormerr.New(ormerr.ErrFieldNotFound, rootName, path.String(), "field %q is not a relation; cannot traverse into %q", segment, path[i+1])
		}
		if f.Target() == nil {
			return route{}, ormerr.NotReady(current.Name, current.PendingReferences())
		}
		r.hops = append(r.hops, f)
		current = f.Target()
	}
	r.terminal = r.hops[len(r.hops)-1]
	return r, nil
}

// join materializes the hops of a route, reusing nodes for shared prefixes,
// and returns the node the last hop lands on.
func (p *JoinPlan) join(r route, eager bool) *JoinNode {
	node := p.root
	for i, f := range r.hops {
		node = p.hop(node, r.path.Prefix(i+1), f)
		if eager {
			node.Eager = true
			// the through payload is only hydrated from the declaring side
			if node.Through != nil && f.IsOwningManyToMany() {
				node.Through.Eager = true
			}
		}
	}
	return node
}

func (p *JoinPlan) hop(parent *JoinNode, path filter.Path, f *model.Field) *JoinNode {
	key := path.String()
	if existing, ok := p.byPath[key]; ok {
		return existing
	}

	switch f.Relation {
	case model.ForeignKeyRelation:
		node := p.add(parent, path, f, f.Target(), parent.ToMany)
		node.on = p.equal(node, node.Model.PrimaryKey(), parent, f)
		return node

	case model.ReverseRelation:
		node := p.add(parent, path, f, f.Target(), true)
		node.on = p.equal(node, f.Origin(), parent, parent.Model.PrimaryKey())
		return node

	case model.ManyToManyRelation, model.ReverseManyToManyRelation:
		// A through field right after this hop resolves to the same join
		// table node, so it is registered under that path.
		throughPath := append(path.Prefix(len(path)), throughSegment(f))
		through, ok := p.byPath[throughPath.String()]
		if !ok {
			through = p.add(parent, throughPath, f, f.ThroughModel(), true)
			through.IsThrough = true
			through.on = p.equal(through, f.ThroughOwnerKey(), parent, parent.Model.PrimaryKey())
		}
		node := p.add(parent, path, f, f.Target(), true)
		node.Through = through
		node.on = p.equal(node, node.Model.PrimaryKey(), through, f.ThroughTargetKey())
		return node

	case model.ThroughRelation:
		if parent.Through != nil && parent.Field.ThroughModel() == f.ThroughModel() {
			p.byPath[key] = parent.Through
			return parent.Through
		}
		// A bare through segment is the join table of the many-to-many hop
		// it belongs to, so filters and ordering land on the rows that hop
		// hydrates.
		m2mPath := append(path.Prefix(len(path)-1), f.Origin().Name)
		through := p.hop(parent, m2mPath, f.Origin()).Through
		p.byPath[key] = through
		return through
	}
	panic(fmt.Sprintf("planner: unexpected relation kind %s", f.Relation))
}

func throughSegment(f *model.Field) string {
	if tf := f.ThroughField(); tf != nil {
		return tf.Name
	}
	return strings.ToLower(f.ThroughModel().Name)
}

func (p *JoinPlan) add(parent *JoinNode, path filter.Path, f *model.Field, target *model.Model, toMany bool) *JoinNode {
	node := &JoinNode{
		Path:   path,
		Alias:  fmt.Sprintf("%s_%d", path[len(path)-1], len(p.nodes)+1),
		Model:  target,
		Parent: parent,
		Field:  f,
		ToMany: toMany,
	}
	p.nodes = append(p.nodes, node)
	p.byPath[path.String()] = node
	return node
}

func (p *JoinPlan) equal(left *JoinNode, leftField *model.Field, right *JoinNode, rightField *model.Field) sq.Sqlizer {
	return sq.Expr(fmt.Sprintf("%s = %s",
		sqlutil.QualifyColumn(left.Alias, leftField.Column),
		sqlutil.QualifyColumn(right.Alias, rightField.Column),
	))
}

// apply adds the LEFT JOIN clauses to a select builder in dependency order.
func (p *JoinPlan) apply(builder sq.SelectBuilder) (sq.SelectBuilder, error) {
	for _, n := range p.nodes {
		on, args, err := n.on.ToSql()
		if err != nil {
			return builder, err
		}
		builder = builder.LeftJoin(sqlutil.TableAs(n.Model.Table, n.Alias)+" ON "+on, args...)
	}
	return builder, nil
}
