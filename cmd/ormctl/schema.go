package main

import (
	"fmt"
	"sort"
	"strings"

	"relorm/internal/model"
)

// schema is the demo model set the CLI queries.
type schema map[string]*model.Model

// declareSchema declares Blog, Category, Post with its PostCategory through
// model, and a self-referencing Person.
func declareSchema(r *model.Registry) (schema, error) {
	blog, err := r.Declare(model.Definition{Name: "Blog", Fields: []*model.Field{
		model.String("name", 100),
		model.DateTime("created_at", model.Nullable()),
	}})
	if err != nil {
		return nil, err
	}
	category, err := r.Declare(model.Definition{Name: "Category", Fields: []*model.Field{
		model.String("name", 100),
	}})
	if err != nil {
		return nil, err
	}
	postCategory, err := r.Declare(model.Definition{Name: "PostCategory", Fields: []*model.Field{
		model.Integer("sort_order", model.Nullable()),
	}})
	if err != nil {
		return nil, err
	}
	post, err := r.Declare(model.Definition{Name: "Post", Fields: []*model.Field{
		model.String("title", 200),
		model.Integer("rating", model.Nullable()),
		model.ForeignKey("blog", model.To(blog), model.RelatedName("posts")),
		model.ManyToMany("categories", model.To(category), model.Through(model.To(postCategory)), model.RelatedName("posts")),
	}})
	if err != nil {
		return nil, err
	}
	person, err := r.Declare(model.Definition{Name: "Person", Fields: []*model.Field{
		model.String("name", 100),
		model.ForeignKey("supervisor", model.Named("Person"), model.Nullable(), model.RelatedName("employees")),
		model.ManyToMany("friends", model.Named("Person"), model.RelatedName("friend_of")),
	}})
	if err != nil {
		return nil, err
	}
	if err := person.UpdateForwardRefs(); err != nil {
		return nil, err
	}

	s := schema{}
	for _, m := range []*model.Model{blog, category, postCategory, post, person} {
		s[m.Name] = m
	}
	if friends, ok := person.Field("friends"); ok {
		s[friends.ThroughModel().Name] = friends.ThroughModel()
	}
	return s, nil
}

// lookup finds a model by name, case-insensitively.
func (s schema) lookup(name string) (*model.Model, error) {
	for n, m := range s {
		if strings.EqualFold(n, name) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("unknown model %q (known: %s)", name, strings.Join(s.names(), ", "))
}

func (s schema) names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
