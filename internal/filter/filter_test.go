package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQParsesOperator(t *testing.T) {
	tests := []struct {
		key  string
		path []string
		op   Operator
	}{
		{key: "name", path: []string{"name"}, op: OpExact},
		{key: "blog__name", path: []string{"blog", "name"}, op: OpExact},
		{key: "blog__name__icontains", path: []string{"blog", "name"}, op: OpIContains},
		{key: "id__in", path: []string{"id"}, op: OpIn},
		{key: "categories__postcategory__sort_order__gte", path: []string{"categories", "postcategory", "sort_order"}, op: OpGte},
		{key: "supervisor__isnull", path: []string{"supervisor"}, op: OpIsNull},
		{key: "in", path: []string{"in"}, op: OpExact},
		{key: "title__ne", path: []string{"title"}, op: OpNotEqual},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			l := Q(tt.key, 1)
			assert.Equal(t, Path(tt.path), l.Path())
			assert.Equal(t, tt.op, l.Operator())
			assert.Equal(t, tt.key, l.Key())
		})
	}
}

func TestKwBecomesSiblings(t *testing.T) {
	g := Or(Kw{"b": 2, "a": 1}, Q("c", 3))
	require.Equal(t, OrOp, g.Op())
	children := g.Children()
	require.Len(t, children, 3)
	assert.Equal(t, "a", children[0].(Lookup).Key())
	assert.Equal(t, "b", children[1].(Lookup).Key())
	assert.Equal(t, "c", children[2].(Lookup).Key())
}

func TestGroupsAreImmutable(t *testing.T) {
	inner := And(Q("a", 1), Q("b", 2))
	outer := Or(inner, Q("c", 3))

	children := inner.Children()
	children[0] = Q("z", 9)
	assert.Equal(t, "a", inner.Children()[0].(Lookup).Key())
	assert.Equal(t, "((a=1 AND b=2) OR c=3)", outer.String())
}

func TestNotWrapsKwAsAnd(t *testing.T) {
	n := Not(Kw{"a": 1, "b": 2})
	g, ok := n.Child().(Group)
	require.True(t, ok)
	assert.Equal(t, AndOp, g.Op())
	assert.Len(t, g.Children(), 2)
}

func TestParseOrdering(t *testing.T) {
	o := ParseOrdering("-blog__name")
	assert.True(t, o.Desc)
	assert.Equal(t, Path{"blog", "name"}, o.Path)
	assert.Equal(t, "-blog__name", o.String())

	o = ParseOrdering("title")
	assert.False(t, o.Desc)
	assert.Equal(t, "title", o.String())
}

func TestOperatorClassification(t *testing.T) {
	op, ok := ParseOperator("istartswith")
	require.True(t, ok)
	assert.True(t, op.IsPattern())
	assert.True(t, op.CaseInsensitive())
	assert.Equal(t, "istartswith", op.String())

	assert.False(t, OpIn.IsPattern())
	_, ok = ParseOperator("between")
	assert.False(t, ok)
}
