package queryset

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relorm/internal/dbexec"
	"relorm/internal/filter"
	"relorm/internal/model"
	"relorm/internal/ormerr"
	"relorm/internal/planner"
)

type testSchema struct {
	registry     *model.Registry
	blog         *model.Model
	post         *model.Model
	category     *model.Model
	postCategory *model.Model
}

func newTestSchema(t *testing.T) testSchema {
	t.Helper()
	r := model.NewRegistry()
	s := testSchema{registry: r}
	s.blog = r.MustDeclare(model.Definition{Name: "Blog", Fields: []*model.Field{
		model.String("name", 100),
	}})
	s.category = r.MustDeclare(model.Definition{Name: "Category", Fields: []*model.Field{
		model.String("name", 100),
	}})
	s.postCategory = r.MustDeclare(model.Definition{Name: "PostCategory", Fields: []*model.Field{
		model.Integer("sort_order", model.Nullable()),
		model.String("param_name", 200, model.Default("Name")),
	}})
	s.post = r.MustDeclare(model.Definition{Name: "Post", Fields: []*model.Field{
		model.String("title", 200),
		model.Integer("rating", model.Nullable()),
		model.ForeignKey("blog", model.To(s.blog), model.RelatedName("posts")),
		model.ManyToMany("categories", model.To(s.category), model.Through(model.To(s.postCategory)), model.RelatedName("posts")),
	}})
	return s
}

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewClient(dbexec.NewStandardExecutor(db)), mock
}

func mustInstance(t *testing.T, m *model.Model, values map[string]any) *model.Instance {
	t.Helper()
	inst, err := model.New(m, values)
	require.NoError(t, err)
	return inst
}

// planRows builds mock rows labelled with the plan's projected columns.
func planRows(plan *planner.Plan, rows ...[]driver.Value) *sqlmock.Rows {
	labels := make([]string, len(plan.Columns))
	for i, col := range plan.Columns {
		labels[i] = col.Label
	}
	out := sqlmock.NewRows(labels)
	for _, row := range rows {
		out.AddRow(row...)
	}
	return out
}

func TestChainReturnsNewValues(t *testing.T) {
	s := newTestSchema(t)
	c, _ := newMockClient(t)

	base := c.Objects(s.post)
	filtered := base.Filter(filter.Q("title", "hello"))
	ordered := base.OrderBy("-title")
	both := filtered.OrderBy("rating").SelectRelated("blog").Limit(5)

	assert.Empty(t, base.Query().Filters)
	assert.Empty(t, base.Query().OrderBy)
	assert.Len(t, filtered.Query().Filters, 1)
	assert.Empty(t, filtered.Query().OrderBy)
	assert.Equal(t, []string{"-title"}, ordered.Query().OrderBy)
	assert.Empty(t, ordered.Query().Filters)
	assert.Equal(t, []string{"rating"}, both.Query().OrderBy)
	assert.True(t, both.Query().Limited)
	assert.False(t, filtered.Query().Limited)
}

func TestBranchesDoNotShareBackingArrays(t *testing.T) {
	s := newTestSchema(t)
	c, _ := newMockClient(t)

	base := c.Objects(s.post).Filter(filter.Q("rating__gt", 1))
	a := base.Filter(filter.Q("title", "a"))
	b := base.Filter(filter.Q("title", "b"))

	require.Len(t, a.Query().Filters, 2)
	require.Len(t, b.Query().Filters, 2)
	assert.Equal(t, "a", a.Query().Filters[1].(filter.Lookup).Value())
	assert.Equal(t, "b", b.Query().Filters[1].(filter.Lookup).Value())
}

func TestModelNotReadyBeforeIO(t *testing.T) {
	r := model.NewRegistry()
	node := r.MustDeclare(model.Definition{Name: "Node", Fields: []*model.Field{
		model.ForeignKey("parent", model.Named("Node")),
	}})
	c, mock := newMockClient(t)
	ctx := context.Background()

	_, err := c.Objects(node).All(ctx)
	assert.ErrorIs(t, err, ormerr.ErrModelNotReady)
	_, err = c.Objects(node).Get(ctx, filter.Q("id", 1))
	assert.ErrorIs(t, err, ormerr.ErrModelNotReady)
	_, err = c.Objects(node).Create(ctx, map[string]any{})
	assert.ErrorIs(t, err, ormerr.ErrModelNotReady)
	_, err = c.Objects(node).Count(ctx)
	assert.ErrorIs(t, err, ormerr.ErrModelNotReady)
	assert.NoError(t, mock.ExpectationsWereMet())

	require.NoError(t, node.UpdateForwardRefs())
	_, err = c.Objects(node).Plan()
	assert.NoError(t, err)
}

func TestAllMergesToManyRows(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)

	qs := c.Objects(s.blog).SelectRelated("posts")
	plan, err := qs.Plan()
	require.NoError(t, err)

	// blogs.id, blogs.name, posts.id, posts.title, posts.rating, posts.blog
	mock.ExpectQuery(regexp.QuoteMeta(plan.SQL)).WillReturnRows(planRows(plan,
		[]driver.Value{int64(1), "news", int64(10), "first", nil, int64(1)},
		[]driver.Value{int64(1), "news", int64(11), "second", int64(4), int64(1)},
		[]driver.Value{int64(1), "news", int64(12), "third", nil, int64(1)},
	))

	blogs, err := qs.All(context.Background())
	require.NoError(t, err)
	require.Len(t, blogs, 1)
	posts := blogs[0].Children("posts")
	require.Len(t, posts, 3)
	assert.Equal(t, "first", posts[0].Value("title"))
	assert.Equal(t, "second", posts[1].Value("title"))
	assert.Equal(t, "third", posts[2].Value("title"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMatchCardinality(t *testing.T) {
	s := newTestSchema(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		rows    [][]driver.Value
		wantErr error
	}{
		{name: "none", wantErr: ormerr.ErrNoMatch},
		{name: "one", rows: [][]driver.Value{{int64(1), "news"}}},
		{name: "many", rows: [][]driver.Value{{int64(1), "news"}, {int64(2), "news"}}, wantErr: ormerr.ErrMultipleMatches},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mock := newMockClient(t)
			qs := c.Objects(s.blog).Filter(filter.Q("name", "news"))
			plan, err := qs.Plan()
			require.NoError(t, err)
			mock.ExpectQuery(regexp.QuoteMeta(plan.SQL)).WithArgs("news").WillReturnRows(planRows(plan, tt.rows...))

			got, err := qs.Get(ctx)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.Equal(t, int64(1), got.PK())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLimitWithToManyJoinIsRejected(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)

	_, err := c.Objects(s.blog).SelectRelated("posts").Limit(1).All(context.Background())
	assert.ErrorIs(t, err, ormerr.ErrQueryDefinition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFirstFallsBackWithoutLimitForToMany(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)

	qs := c.Objects(s.blog).SelectRelated("posts")
	plan, err := qs.Plan()
	require.NoError(t, err)
	assert.NotContains(t, plan.SQL, "LIMIT")
	mock.ExpectQuery(regexp.QuoteMeta(plan.SQL)).WillReturnRows(planRows(plan,
		[]driver.Value{int64(1), "news", nil, nil, nil, nil},
		[]driver.Value{int64(2), "sport", nil, nil, nil, nil},
	))

	first, err := qs.First(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.PK())
	assert.True(t, first.ChildrenLoaded("posts"))
	assert.Empty(t, first.Children("posts"))
}

func TestCountAndExists(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)
	qs := c.Objects(s.post).Filter(filter.Q("categories__name", "go"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT `posts`.`id`) FROM `posts`")).
		WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	n, err := qs.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(DISTINCT `posts`.`id`) FROM `posts`")).
		WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	ok, err := qs.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateStoresGeneratedKey(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `posts` (`title`,`rating`,`blog`) VALUES (?,?,?)")).
		WithArgs("hello", nil, int64(3)).
		WillReturnResult(sqlmock.NewResult(7, 1))

	post, err := c.Objects(s.post).Create(context.Background(), map[string]any{"title": "hello", "blog": 3})
	require.NoError(t, err)
	assert.Equal(t, int64(7), post.PK())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateValidatesBeforeIO(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)

	_, err := c.Objects(s.post).Create(context.Background(), map[string]any{"rating": 2})
	assert.ErrorIs(t, err, ormerr.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExcludeNegatesTheFilterGroup(t *testing.T) {
	s := newTestSchema(t)
	c, _ := newMockClient(t)

	plan, err := c.Objects(s.post).Exclude(filter.Q("title", "a"), filter.Q("rating__gte", 3)).Plan()
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "WHERE ((`posts`.`title` = ? AND `posts`.`rating` >= ?)) IS NOT TRUE")
	assert.Equal(t, []interface{}{"a", 3}, plan.Args)
}

func TestDeleteRequiresFilter(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)

	_, err := c.Objects(s.post).Delete(context.Background())
	assert.ErrorIs(t, err, ormerr.ErrQueryDefinition)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `posts`")).WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := c.Objects(s.post).DeleteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByMatchingKeys(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT `posts`.`id` FROM `posts` LEFT JOIN `blogs` AS `blog_1`")).
		WithArgs("news").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `posts` WHERE `id` IN (?,?)")).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := c.Objects(s.post).Filter(filter.Q("blog__name", "news")).Delete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpdate(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT `posts`.`id` FROM `posts` WHERE `posts`.`rating` IS NULL")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `posts` SET `rating` = ? WHERE `id` = ?")).
		WithArgs(int64(1), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := c.Objects(s.post).Filter(filter.Q("rating__isnull", true)).Update(context.Background(), map[string]any{"rating": "1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = c.Objects(s.post).Update(context.Background(), map[string]any{"categories": 1})
	assert.ErrorIs(t, err, ormerr.ErrFieldNotFound)
	_, err = c.Objects(s.post).Update(context.Background(), map[string]any{"id": 1})
	assert.ErrorIs(t, err, ormerr.ErrQueryDefinition)
}

func TestInstanceUpdateColumnSubset(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)
	post := mustInstance(t, s.post, map[string]any{"id": 4, "title": "draft", "rating": 2})

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `posts` SET `rating` = ? WHERE `id` = ?")).
		WithArgs(int64(2), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, c.Update(context.Background(), post, "rating"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `posts` SET `title` = ?, `rating` = ?, `blog` = ? WHERE `id` = ?")).
		WithArgs("draft", int64(2), nil, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, c.Save(context.Background(), post))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRefreshesValues(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)
	post := mustInstance(t, s.post, map[string]any{"id": 4, "title": "stale"})

	plan, err := c.Objects(s.post).Filter(filter.Q("pk", 4)).Plan()
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta(plan.SQL)).
		WithArgs(int64(4)).
		WillReturnRows(planRows(plan, []driver.Value{int64(4), "fresh", int64(9), nil}))

	require.NoError(t, c.Load(context.Background(), post))
	assert.Equal(t, "fresh", post.Value("title"))
	assert.Equal(t, int64(9), post.Value("rating"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionErrorsAreWrapped(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery("SELECT").WillReturnError(boom)
	_, err := c.Objects(s.blog).All(context.Background())
	assert.ErrorIs(t, err, boom)

	mock.ExpectExec("INSERT INTO `blogs`").WillReturnError(sql.ErrConnDone)
	_, err = c.Objects(s.blog).Create(context.Background(), map[string]any{"name": "x"})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFilterByThroughFieldKeepsMatchingLinks(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)

	qs := c.Objects(s.post).SelectRelated("categories").Filter(filter.Q("postcategory__sort_order__gt", 1))
	plan, err := qs.Plan()
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "WHERE `postcategory_1`.`sort_order` > ?")
	assert.NotContains(t, plan.SQL, "`postcategory_3`")

	// posts(id, title, rating, blog), post_categories(id, sort_order, param_name, post, category), categories(id, name)
	mock.ExpectQuery(regexp.QuoteMeta(plan.SQL)).WithArgs(1).WillReturnRows(planRows(plan,
		[]driver.Value{int64(1), "Test post", nil, nil, int64(12), int64(2), "area", int64(1), int64(2), int64(2), "Test category2"},
	))

	post, err := qs.Get(context.Background())
	require.NoError(t, err)
	categories := post.Children("categories")
	require.Len(t, categories, 1)
	require.NotNil(t, categories[0].Through())
	assert.Equal(t, int64(2), categories[0].Through().Value("sort_order"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderByThroughFieldSortsLoadedChildren(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)

	qs := c.Objects(s.post).SelectRelated("categories").OrderBy("-postcategory__sort_order")
	plan, err := qs.Plan()
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "ORDER BY `postcategory_1`.`sort_order` DESC, `posts`.`id` ASC")

	mock.ExpectQuery(regexp.QuoteMeta(plan.SQL)).WillReturnRows(planRows(plan,
		[]driver.Value{int64(1), "Test post", nil, nil, int64(13), int64(3), "velocity", int64(1), int64(3), int64(3), "Test category3"},
		[]driver.Value{int64(1), "Test post", nil, nil, int64(11), int64(2), "volume", int64(1), int64(1), int64(1), "Test category1"},
		[]driver.Value{int64(1), "Test post", nil, nil, int64(12), int64(1), "area", int64(1), int64(2), int64(2), "Test category2"},
	))

	post, err := qs.Get(context.Background())
	require.NoError(t, err)
	categories := post.Children("categories")
	require.Len(t, categories, 3)
	assert.Equal(t, "Test category3", categories[0].Value("name"))
	assert.Equal(t, "Test category2", categories[2].Value("name"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExcludeAcrossManyToManyIsDisjointFromFilter(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)
	ctx := context.Background()

	// post 1 is linked to categories "a" and "b"
	matching := c.Objects(s.post).Filter(filter.Q("categories__name", "a"))
	plan, err := matching.Plan()
	require.NoError(t, err)
	mock.ExpectQuery(regexp.QuoteMeta(plan.SQL)).WithArgs("a").WillReturnRows(planRows(plan,
		[]driver.Value{int64(1), "Test post", nil, nil},
	))

	excluded := c.Objects(s.post).Exclude(filter.Q("categories__name", "a"))
	excludedPlan, err := excluded.Plan()
	require.NoError(t, err)
	assert.Contains(t, excludedPlan.SQL, "FROM `posts` WHERE `posts`.`id` NOT IN (SELECT DISTINCT `posts`.`id` FROM `posts` LEFT JOIN")
	assert.False(t, excludedPlan.HasToMany)
	mock.ExpectQuery(regexp.QuoteMeta(excludedPlan.SQL)).WithArgs("a").WillReturnRows(planRows(excludedPlan))

	in, err := matching.All(ctx)
	require.NoError(t, err)
	out, err := excluded.All(ctx)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNegativePaginationFailsBeforeIO(t *testing.T) {
	s := newTestSchema(t)
	c, mock := newMockClient(t)
	ctx := context.Background()

	_, err := c.Objects(s.blog).Limit(-1).All(ctx)
	assert.ErrorIs(t, err, ormerr.ErrQueryDefinition)
	_, err = c.Objects(s.blog).Offset(-3).First(ctx)
	assert.ErrorIs(t, err, ormerr.ErrQueryDefinition)
	assert.NoError(t, mock.ExpectationsWereMet())
}
