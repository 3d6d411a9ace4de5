package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relorm/internal/model"
)

type testSchema struct {
	registry     *model.Registry
	blog         *model.Model
	post         *model.Model
	category     *model.Model
	postCategory *model.Model
	person       *model.Model
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
	s.person = r.MustDeclare(model.Definition{Name: "Person", Fields: []*model.Field{
		model.String("name", 100),
		model.ForeignKey("supervisor", model.Named("Person"), model.RelatedName("employees")),
	}})
	require.NoError(t, s.person.UpdateForwardRefs())
	return s
}
