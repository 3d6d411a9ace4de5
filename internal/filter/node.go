// Package filter holds the typed filter tree built from keyword lookups and
// nested boolean groups. Trees are immutable: combining them builds new
// nodes and never changes existing ones.
package filter

import (
	"fmt"
	"sort"
	"strings"
)

// Node is a filter tree element: a Lookup, a Group, a Negation or a Kw set.
type Node interface {
	isNode()
}

// Lookup is one keyword comparison such as "blog__name__icontains".
type Lookup struct {
	key   string
	path  Path
	op    Operator
	value any
}

// Q parses a keyword lookup. A trailing segment naming an operator is split
// off; everything else is a relation path compared for equality.
func Q(key string, value any) Lookup {
	path := ParsePath(key)
	l := Lookup{key: key, path: path, op: OpExact, value: value}
	if len(path) > 1 {
		if op, ok := ParseOperator(path[len(path)-1]); ok {
			l.op = op
			l.path = path[:len(path)-1]
		}
	}
	return l
}

func (Lookup) isNode() {}

// Key returns the lookup as written.
func (l Lookup) Key() string { return l.key }

// Path returns the relation path without the operator.
func (l Lookup) Path() Path { return l.path.Prefix(len(l.path)) }

// Operator returns the comparison operator.
func (l Lookup) Operator() Operator { return l.op }

// Value returns the compared value.
func (l Lookup) Value() any { return l.value }

func (l Lookup) String() string {
	return fmt.Sprintf("%s=%v", l.key, l.value)
}

// BoolOp combines the children of a group.
type BoolOp int

const (
	AndOp BoolOp = iota
	OrOp
)

func (b BoolOp) String() string {
	if b == OrOp {
		return "OR"
	}
	return "AND"
}

// Group combines child nodes with AND or OR.
type Group struct {
	op       BoolOp
	children []Node
}

func (Group) isNode() {}

// And groups nodes with AND. Keywords of a Kw become siblings.
func And(nodes ...Node) Group {
	return Group{op: AndOp, children: Flatten(nodes)}
}

// Or groups nodes with OR. Keywords of a Kw become siblings.
func Or(nodes ...Node) Group {
	return Group{op: OrOp, children: Flatten(nodes)}
}

// Op returns the group's boolean operator.
func (g Group) Op() BoolOp { return g.op }

// Children returns a copy of the group's children.
func (g Group) Children() []Node {
	out := make([]Node, len(g.children))
	copy(out, g.children)
	return out
}

func (g Group) String() string {
	parts := make([]string, len(g.children))
	for i, child := range g.children {
		parts[i] = fmt.Sprint(child)
	}
	return "(" + strings.Join(parts, " "+g.op.String()+" ") + ")"
}

// Negation inverts its child.
type Negation struct {
	child Node
}

func (Negation) isNode() {}

// Not negates a node. A Kw is negated as a whole (AND of its keywords).
func Not(node Node) Negation {
	if kw, ok := node.(Kw); ok {
		return Negation{child: And(kw)}
	}
	return Negation{child: node}
}

// Child returns the negated node.
func (n Negation) Child() Node { return n.child }

func (n Negation) String() string {
	return fmt.Sprintf("NOT %v", n.child)
}

// Kw is a set of keyword lookups, the map form of filter(**kwargs).
type Kw map[string]any

func (Kw) isNode() {}

// Lookups returns the parsed keywords sorted by key.
func (k Kw) Lookups() []Lookup {
	keys := make([]string, 0, len(k))
	for key := range k {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]Lookup, len(keys))
	for i, key := range keys {
		out[i] = Q(key, k[key])
	}
	return out
}

// Flatten expands Kw sets into their lookups and copies everything else.
func Flatten(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, node := range nodes {
		switch n := node.(type) {
		case nil:
		case Kw:
			for _, l := range n.Lookups() {
				out = append(out, l)
			}
		default:
			out = append(out, n)
		}
	}
	return out
}
