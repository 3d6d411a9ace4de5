package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relorm/internal/filter"
	"relorm/internal/model"
	"relorm/internal/ormerr"
)

func TestBuildSelectRootOnly(t *testing.T) {
	s := newTestSchema(t)
	plan, err := BuildSelect(Query{Model: s.blog})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `blogs`.`id` AS `blogs__id`, `blogs`.`name` AS `blogs__name` FROM `blogs` ORDER BY `blogs`.`id` ASC",
		plan.SQL)
	assert.Empty(t, plan.Args)
	assert.False(t, plan.HasToMany)
	require.Len(t, plan.Columns, 2)
	assert.Same(t, plan.Root(), plan.Columns[0].Node)
}

func TestSamePathSharesAlias(t *testing.T) {
	s := newTestSchema(t)
	plan, err := BuildSelect(Query{
		Model:         s.post,
		SelectRelated: []string{"blog"},
		Filters:       []filter.Node{filter.Q("blog__name", "news")},
		OrderBy:       []string{"-blog__name"},
	})
	require.NoError(t, err)

	join := "LEFT JOIN `blogs` AS `blog_1` ON `blog_1`.`id` = `posts`.`blog`"
	assert.Equal(t, 1, strings.Count(plan.SQL, "LEFT JOIN"))
	assert.Contains(t, plan.SQL, join)
	assert.Contains(t, plan.SQL, "WHERE `blog_1`.`name` = ?")
	assert.Contains(t, plan.SQL, "ORDER BY `blog_1`.`name` DESC, `posts`.`id` ASC")
	assert.Equal(t, []interface{}{"news"}, plan.Args)
	assert.False(t, plan.HasToMany)

	node, ok := plan.Joins.Node("blog")
	require.True(t, ok)
	assert.True(t, node.Eager)
	assert.Equal(t, "blog_1", node.Alias)
}

func TestDistinctPathsToSameModelGetDistinctAliases(t *testing.T) {
	s := newTestSchema(t)
	plan, err := BuildSelect(Query{
		Model: s.person,
		Filters: []filter.Node{
			filter.Q("supervisor__name", "boss"),
			filter.Q("employees__name", "worker"),
		},
	})
	require.NoError(t, err)

	assert.Contains(t, plan.SQL, "FROM `people` LEFT JOIN `people` AS `supervisor_1` ON `supervisor_1`.`id` = `people`.`supervisor`")
	assert.Contains(t, plan.SQL, "LEFT JOIN `people` AS `employees_2` ON `employees_2`.`supervisor` = `people`.`id`")
	assert.Contains(t, plan.SQL, "WHERE (`supervisor_1`.`name` = ? AND `employees_2`.`name` = ?)")
	assert.Equal(t, []interface{}{"boss", "worker"}, plan.Args)
	assert.True(t, plan.HasToMany)

	// filter-only joins are not projected
	for _, col := range plan.Columns {
		assert.True(t, col.Node.IsRoot())
	}
}

func TestAliasesStableAcrossNestedPaths(t *testing.T) {
	s := newTestSchema(t)
	joins := NewJoinPlan(s.person)
	_, err := BuildWhere(joins, []filter.Node{
		filter.Q("supervisor__supervisor__name", "a"),
		filter.Q("supervisor__name", "b"),
		filter.Or(filter.Q("supervisor__supervisor__name", "c")),
	})
	require.NoError(t, err)

	nodes := joins.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "supervisor_1", nodes[0].Alias)
	assert.Equal(t, "supervisor_2", nodes[1].Alias)
	assert.Same(t, nodes[0], nodes[1].Parent)
	assert.Equal(t, "supervisor__supervisor", nodes[1].Key())
}

func TestManyToManyJoinsThroughTable(t *testing.T) {
	s := newTestSchema(t)
	plan, err := BuildSelect(Query{Model: s.post, SelectRelated: []string{"categories"}})
	require.NoError(t, err)

	assert.Contains(t, plan.SQL,
		"LEFT JOIN `post_categories` AS `postcategory_1` ON `postcategory_1`.`post` = `posts`.`id` "+
			"LEFT JOIN `categories` AS `categories_2` ON `categories_2`.`id` = `postcategory_1`.`category`")
	assert.Contains(t, plan.SQL, "`postcategory_1`.`sort_order` AS `postcategory_1__sort_order`")
	assert.True(t, strings.HasSuffix(plan.SQL, "ORDER BY `posts`.`id` ASC, `postcategory_1`.`id` ASC, `categories_2`.`id` ASC"))
	assert.True(t, plan.HasToMany)

	node, ok := plan.Joins.Node("categories")
	require.True(t, ok)
	require.NotNil(t, node.Through)
	assert.Equal(t, "postcategory_1", node.Through.Alias)
	assert.True(t, node.Through.IsThrough)
}

func TestReverseManyToManyDoesNotProjectThrough(t *testing.T) {
	s := newTestSchema(t)
	plan, err := BuildSelect(Query{Model: s.category, SelectRelated: []string{"posts"}})
	require.NoError(t, err)

	assert.Contains(t, plan.SQL,
		"LEFT JOIN `post_categories` AS `postcategory_1` ON `postcategory_1`.`category` = `categories`.`id` "+
			"LEFT JOIN `posts` AS `posts_2` ON `posts_2`.`id` = `postcategory_1`.`post`")
	assert.NotContains(t, plan.SQL, "AS `postcategory_1__")
}

func TestThroughFieldAddressing(t *testing.T) {
	s := newTestSchema(t)
	plan, err := BuildSelect(Query{
		Model:         s.post,
		SelectRelated: []string{"categories"},
		Filters:       []filter.Node{filter.Q("categories__postcategory__sort_order__gte", 1)},
		OrderBy:       []string{"-categories__postcategory__sort_order"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(plan.SQL, "LEFT JOIN"))
	assert.Contains(t, plan.SQL, "WHERE `postcategory_1`.`sort_order` >= ?")
	assert.Contains(t, plan.SQL, "ORDER BY `postcategory_1`.`sort_order` DESC")

	// from the target side the through field uses the reverse hop's link table
	plan, err = BuildSelect(Query{
		Model:   s.category,
		OrderBy: []string{"postcategory__sort_order"},
	})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "LEFT JOIN `post_categories` AS `postcategory_1` ON `postcategory_1`.`category` = `categories`.`id`")
}

func TestFilterOnRelationField(t *testing.T) {
	s := newTestSchema(t)
	blog, err := model.FromRow(s.blog, map[string]interface{}{"id": int64(3), "name": "b"})
	require.NoError(t, err)

	plan, err := BuildSelect(Query{Model: s.post, Filters: []filter.Node{filter.Q("blog", blog)}})
	require.NoError(t, err)
	assert.NotContains(t, plan.SQL, "JOIN")
	assert.Contains(t, plan.SQL, "WHERE `posts`.`blog` = ?")
	assert.Equal(t, []interface{}{int64(3)}, plan.Args)

	plan, err = BuildSelect(Query{Model: s.blog, Filters: []filter.Node{filter.Q("posts__in", []int{1, 2})}})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "WHERE `posts_1`.`id` IN (?,?)")
}

func TestLimitWithToManyJoinIsRejected(t *testing.T) {
	s := newTestSchema(t)
	_, err := BuildSelect(Query{Model: s.blog, SelectRelated: []string{"posts"}, Limit: 1, Limited: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ormerr.ErrQueryDefinition)
	assert.Contains(t, err.Error(), "posts")

	_, err = BuildSelect(Query{Model: s.blog, Filters: []filter.Node{filter.Q("posts__title", "x")}, Offset: 2})
	assert.ErrorIs(t, err, ormerr.ErrQueryDefinition)

	plan, err := BuildSelect(Query{Model: s.post, SelectRelated: []string{"blog"}, Limit: 10, Limited: true, Offset: 5})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(plan.SQL, "LIMIT 10 OFFSET 5"))
}

func TestOffsetWithoutLimit(t *testing.T) {
	s := newTestSchema(t)
	plan, err := BuildSelect(Query{Model: s.blog, Offset: 3})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(plan.SQL, "LIMIT 18446744073709551615 OFFSET 3"))
}

func TestUnknownPathsFailBeforeExecution(t *testing.T) {
	s := newTestSchema(t)
	tests := []struct {
		name  string
		query Query
		path  string
	}{
		{name: "filter", query: Query{Model: s.post, Filters: []filter.Node{filter.Q("blog__nope", 1)}}, path: "blog__nope"},
		{name: "traverse scalar", query: Query{Model: s.post, Filters: []filter.Node{filter.Q("title__name", 1)}}, path: "title__name"},
		{name: "select related", query: Query{Model: s.post, SelectRelated: []string{"comments"}}, path: "comments"},
		{name: "order by", query: Query{Model: s.post, OrderBy: []string{"-blog__missing"}}, path: "blog__missing"},
		{name: "nested group", query: Query{Model: s.post, Filters: []filter.Node{filter.Or(filter.Q("title", "a"), filter.Q("nope", 1))}}, path: "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSelect(tt.query)
			require.Error(t, err)
			assert.ErrorIs(t, err, ormerr.ErrFieldNotFound)
			var oe *ormerr.Error
			require.ErrorAs(t, err, &oe)
			assert.Equal(t, "Post", oe.Model)
			assert.Equal(t, tt.path, oe.Path)
		})
	}
}

func TestSelectRelatedMustEndAtRelation(t *testing.T) {
	s := newTestSchema(t)
	_, err := BuildSelect(Query{Model: s.post, SelectRelated: []string{"blog__name"}})
	assert.ErrorIs(t, err, ormerr.ErrQueryDefinition)

	_, err = BuildSelect(Query{Model: s.post, SelectRelated: []string{"categories__postcategory"}})
	assert.ErrorIs(t, err, ormerr.ErrQueryDefinition)
}

func TestUnresolvedModelIsNotReady(t *testing.T) {
	r := model.NewRegistry()
	node := r.MustDeclare(model.Definition{Name: "Node", Fields: []*model.Field{
		model.ForeignKey("parent", model.Named("Node")),
	}})

	_, err := BuildSelect(Query{Model: node})
	assert.ErrorIs(t, err, ormerr.ErrModelNotReady)
	_, err = BuildCount(Query{Model: node})
	assert.ErrorIs(t, err, ormerr.ErrModelNotReady)

	require.NoError(t, node.UpdateForwardRefs())
	_, err = BuildSelect(Query{Model: node, SelectRelated: []string{"parent"}})
	assert.NoError(t, err)
}

func TestBuildCountAndKeys(t *testing.T) {
	s := newTestSchema(t)
	q := Query{
		Model:         s.post,
		SelectRelated: []string{"categories"},
		Filters:       []filter.Node{filter.Q("categories__name", "go")},
	}

	count, err := BuildCount(q)
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT COUNT(DISTINCT `posts`.`id`) FROM `posts` "+
			"LEFT JOIN `post_categories` AS `postcategory_1` ON `postcategory_1`.`post` = `posts`.`id` "+
			"LEFT JOIN `categories` AS `categories_2` ON `categories_2`.`id` = `postcategory_1`.`category` "+
			"WHERE `categories_2`.`name` = ?",
		count.SQL)
	assert.Equal(t, []interface{}{"go"}, count.Args)

	keys, err := BuildKeys(Query{Model: s.post, Filters: []filter.Node{filter.Q("rating__lt", 3)}})
	require.NoError(t, err)
	assert.Equal(t, "SELECT DISTINCT `posts`.`id` FROM `posts` WHERE `posts`.`rating` < ?", keys.SQL)
}

func TestExplain(t *testing.T) {
	s := newTestSchema(t)
	plan, err := BuildSelect(Query{Model: s.post, SelectRelated: []string{"blog"}})
	require.NoError(t, err)
	out := plan.Explain()
	assert.Contains(t, out, "root Post AS posts")
	assert.Contains(t, out, "join Blog AS blog_1 via blog (to-one, eager)")
}

func TestBareThroughSegmentSharesManyToManyJoin(t *testing.T) {
	s := newTestSchema(t)
	plan, err := BuildSelect(Query{
		Model:         s.post,
		SelectRelated: []string{"categories"},
		Filters:       []filter.Node{filter.Q("postcategory__sort_order__gt", 1)},
		OrderBy:       []string{"-postcategory__sort_order"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, strings.Count(plan.SQL, "LEFT JOIN"))
	assert.Contains(t, plan.SQL, "WHERE `postcategory_1`.`sort_order` > ?")
	assert.True(t, strings.HasSuffix(plan.SQL,
		"ORDER BY `postcategory_1`.`sort_order` DESC, `posts`.`id` ASC, `postcategory_1`.`id` ASC, `categories_2`.`id` ASC"))
	assert.Equal(t, []interface{}{1}, plan.Args)

	bare, ok := plan.Joins.Node("postcategory")
	require.True(t, ok)
	nested, ok := plan.Joins.Node("categories__postcategory")
	require.True(t, ok)
	assert.Same(t, nested, bare)
	assert.True(t, bare.Eager)
}

func TestBareThroughSegmentJoinsHopForFiltering(t *testing.T) {
	s := newTestSchema(t)
	plan, err := BuildSelect(Query{
		Model:   s.post,
		Filters: []filter.Node{filter.Q("postcategory__param_name", "volume")},
	})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "LEFT JOIN `post_categories` AS `postcategory_1` ON `postcategory_1`.`post` = `posts`.`id`")
	assert.Contains(t, plan.SQL, "WHERE `postcategory_1`.`param_name` = ?")

	categories, ok := plan.Joins.Node("categories")
	require.True(t, ok)
	assert.False(t, categories.Eager)
	assert.False(t, categories.Through.Eager)
	for _, col := range plan.Columns {
		assert.True(t, col.Node.IsRoot())
	}

	// the same rule applies after a nested prefix
	plan, err = BuildSelect(Query{
		Model:   s.blog,
		Filters: []filter.Node{filter.Q("posts__postcategory__sort_order", 2)},
	})
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "LEFT JOIN `post_categories` AS `postcategory_2` ON `postcategory_2`.`post` = `posts_1`.`id`")
	assert.Contains(t, plan.SQL, "WHERE `postcategory_2`.`sort_order` = ?")
	bare, ok := plan.Joins.Node("posts__postcategory")
	require.True(t, ok)
	nested, ok := plan.Joins.Node("posts__categories__postcategory")
	require.True(t, ok)
	assert.Same(t, nested, bare)
}

func TestNegativePaginationIsRejected(t *testing.T) {
	s := newTestSchema(t)
	tests := []struct {
		name  string
		query Query
	}{
		{name: "limit", query: Query{Model: s.blog, Limit: -1, Limited: true}},
		{name: "offset", query: Query{Model: s.blog, Offset: -2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildSelect(tt.query)
			assert.ErrorIs(t, err, ormerr.ErrQueryDefinition)
		})
	}
}
