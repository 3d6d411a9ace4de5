package queryset

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"relorm/internal/filter"
	"relorm/internal/hydrate"
	"relorm/internal/model"
	"relorm/internal/ormerr"
	"relorm/internal/planner"
)

// QuerySet is an immutable query over one model. Chain methods copy the
// accumulated state, so a base query set can be reused across branches.
type QuerySet struct {
	client *Client
	q      planner.Query
}

// Model returns the queried model.
func (qs QuerySet) Model() *model.Model {
	return qs.q.Model
}

// Query returns a copy of the accumulated planning input.
func (qs QuerySet) Query() planner.Query {
	return qs.clone().q
}

func (qs QuerySet) clone() QuerySet {
	next := qs
	next.q.Filters = append([]filter.Node(nil), qs.q.Filters...)
	next.q.SelectRelated = append([]string(nil), qs.q.SelectRelated...)
	next.q.OrderBy = append([]string(nil), qs.q.OrderBy...)
	return next
}

// Filter adds conditions combined with AND to the existing ones.
func (qs QuerySet) Filter(nodes ...filter.Node) QuerySet {
	next := qs.clone()
	next.q.Filters = append(next.q.Filters, nodes...)
	return next
}

// Exclude adds the negation of the AND of nodes.
func (qs QuerySet) Exclude(nodes ...filter.Node) QuerySet {
	if len(nodes) == 0 {
		return qs
	}
	next := qs.clone()
	next.q.Filters = append(next.q.Filters, filter.Not(filter.And(nodes...)))
	return next
}

// SelectRelated eagerly loads the relations at the given paths.
func (qs QuerySet) SelectRelated(paths ...string) QuerySet {
	next := qs.clone()
	next.q.SelectRelated = append(next.q.SelectRelated, paths...)
	return next
}

// OrderBy appends ordering keys; a leading "-" sorts descending.
func (qs QuerySet) OrderBy(keys ...string) QuerySet {
	next := qs.clone()
	next.q.OrderBy = append(next.q.OrderBy, keys...)
	return next
}

// Limit caps the number of root rows.
func (qs QuerySet) Limit(n int) QuerySet {
	next := qs.clone()
	next.q.Limit = n
	next.q.Limited = true
	return next
}

// Offset skips root rows.
func (qs QuerySet) Offset(n int) QuerySet {
	next := qs.clone()
	next.q.Offset = n
	return next
}

// Plan assembles the select statement without executing it.
func (qs QuerySet) Plan() (*planner.Plan, error) {
	return planner.BuildSelect(qs.q)
}

// All executes the query and returns hydrated root objects in first-seen order.
func (qs QuerySet) All(ctx context.Context) (_ []*model.Instance, err error) {
	ctx, span := startSpan(ctx, "queryset.all", attribute.String("orm.model", qs.modelName()))
	defer func() { finishSpan(span, err) }()

	plan, err := qs.Plan()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("orm.joins", len(plan.Joins.Nodes())), attribute.Bool("orm.to_many", plan.HasToMany))
	return qs.run(ctx, "all", plan)
}

func (qs QuerySet) run(ctx context.Context, op string, plan *planner.Plan) ([]*model.Instance, error) {
	h, err := hydrate.New(plan)
	if err != nil {
		return nil, err
	}
	rows, err := qs.client.query(ctx, op, qs.q.Model, plan.SQLQuery)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", qs.q.Model.Name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		values := make([]interface{}, len(plan.Columns))
		ptrs := make([]interface{}, len(plan.Columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", qs.q.Model.Name, err)
		}
		if err := h.Add(values); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", qs.q.Model.Name, err)
	}

	results := h.Results()
	read, _ := h.Stats()
	qs.client.metrics.RecordHydration(ctx, qs.q.Model.Name, read, len(results))
	return results, nil
}

// Get returns the single object matching the query plus filters. Zero matches
// is ErrNoMatch and several are ErrMultipleMatches.
func (qs QuerySet) Get(ctx context.Context, filters ...filter.Node) (_ *model.Instance, err error) {
	ctx, span := startSpan(ctx, "queryset.get", attribute.String("orm.model", qs.modelName()))
	defer func() { finishSpan(span, err) }()

	plan, err := qs.Filter(filters...).Plan()
	if err != nil {
		return nil, err
	}
	results, err := qs.run(ctx, "get", plan)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, ormerr.New(ormerr.ErrNoMatch, qs.q.Model.Name, "", "no %s matches the query", qs.q.Model.Name)
	case 1:
		return results[0], nil
	default:
		return nil, ormerr.New(ormerr.ErrMultipleMatches, qs.q.Model.Name, "", "%d %s objects match the query", len(results), qs.q.Model.Name)
	}
}

// First returns the first object in query order, or ErrNoMatch. Without to-many
// joins the database limits the result to one row.
func (qs QuerySet) First(ctx context.Context) (_ *model.Instance, err error) {
	ctx, span := startSpan(ctx, "queryset.first", attribute.String("orm.model", qs.modelName()))
	defer func() { finishSpan(span, err) }()

	plan, err := qs.Limit(1).Plan()
	if errors.Is(err, ormerr.ErrQueryDefinition) && !qs.q.Limited && qs.q.Offset == 0 {
		plan, err = qs.Plan()
	}
	if err != nil {
		return nil, err
	}
	results, err := qs.run(ctx, "first", plan)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ormerr.New(ormerr.ErrNoMatch, qs.q.Model.Name, "", "no %s matches the query", qs.q.Model.Name)
	}
	return results[0], nil
}

// Count returns the number of distinct root objects matching the filters.
func (qs QuerySet) Count(ctx context.Context) (_ int64, err error) {
	ctx, span := startSpan(ctx, "queryset.count", attribute.String("orm.model", qs.modelName()))
	defer func() { finishSpan(span, err) }()

	q, err := planner.BuildCount(qs.q)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := qs.client.scalar(ctx, "count", qs.q.Model, q, &n); err != nil {
		return 0, fmt.Errorf("count %s: %w", qs.q.Model.Name, err)
	}
	return n, nil
}

// Exists reports whether any object matches.
func (qs QuerySet) Exists(ctx context.Context) (bool, error) {
	n, err := qs.Count(ctx)
	return n > 0, err
}

// Create validates values, inserts one object and returns it with its
// generated primary key.
func (qs QuerySet) Create(ctx context.Context, values map[string]any) (_ *model.Instance, err error) {
	ctx, span := startSpan(ctx, "queryset.create", attribute.String("orm.model", qs.modelName()))
	defer func() { finishSpan(span, err) }()

	if qs.q.Model == nil {
		return nil, fmt.Errorf("query set has no model")
	}
	inst, err := model.New(qs.q.Model, values)
	if err != nil {
		return nil, err
	}
	if err := qs.client.Insert(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Update writes values to every matching object and returns the number of
// rows affected.
func (qs QuerySet) Update(ctx context.Context, values map[string]any) (_ int64, err error) {
	ctx, span := startSpan(ctx, "queryset.update", attribute.String("orm.model", qs.modelName()))
	defer func() { finishSpan(span, err) }()

	if len(values) == 0 {
		return 0, ormerr.QueryDefinition(qs.modelName(), "update requires at least one value")
	}
	fields, args, err := qs.validated(values)
	if err != nil {
		return 0, err
	}
	pks, err := qs.matchingKeys(ctx, "update")
	if err != nil || len(pks) == 0 {
		return 0, err
	}
	q, err := planner.PlanUpdate(qs.q.Model, fields, args, pks...)
	if err != nil {
		return 0, err
	}
	res, err := qs.client.execute(ctx, "update", qs.q.Model, q)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", qs.q.Model.Name, err)
	}
	return res.RowsAffected()
}

// validated coerces bulk update values; relation fields accept instances.
func (qs QuerySet) validated(values map[string]any) ([]*model.Field, []interface{}, error) {
	m := qs.q.Model
	if err := m.Ready(); err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]*model.Field, 0, len(names))
	args := make([]interface{}, 0, len(names))
	for _, name := range names {
		f, ok := m.Field(name)
		if !ok || f.IsVirtual() {
			return nil, nil, ormerr.FieldNotFound(m.Name, name, name)
		}
		if f.PrimaryKey {
			return nil, nil, ormerr.QueryDefinition(m.Name, "primary key %q cannot be bulk updated", f.Name)
		}
		raw := values[name]
		if rel, ok := raw.(*model.Instance); ok {
			raw = rel.PK()
		}
		v, err := m.Registry().Validator().Validate(f, raw)
		if err != nil {
			return nil, nil, err
		}
		fields = append(fields, f)
		args = append(args, v)
	}
	return fields, args, nil
}

// Delete removes every matching object. An unfiltered query set is rejected;
// use DeleteAll to empty the table.
func (qs QuerySet) Delete(ctx context.Context) (_ int64, err error) {
	ctx, span := startSpan(ctx, "queryset.delete", attribute.String("orm.model", qs.modelName()))
	defer func() { finishSpan(span, err) }()

	if len(qs.q.Filters) == 0 {
		return 0, ormerr.QueryDefinition(qs.modelName(), "delete without filters would remove every row; use DeleteAll")
	}
	pks, err := qs.matchingKeys(ctx, "delete")
	if err != nil || len(pks) == 0 {
		return 0, err
	}
	q, err := planner.PlanDelete(qs.q.Model, pks...)
	if err != nil {
		return 0, err
	}
	res, err := qs.client.execute(ctx, "delete", qs.q.Model, q)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", qs.q.Model.Name, err)
	}
	return res.RowsAffected()
}

// DeleteAll removes every row of the model's table.
func (qs QuerySet) DeleteAll(ctx context.Context) (_ int64, err error) {
	ctx, span := startSpan(ctx, "queryset.delete_all", attribute.String("orm.model", qs.modelName()))
	defer func() { finishSpan(span, err) }()

	if qs.q.Model == nil {
		return 0, fmt.Errorf("query set has no model")
	}
	if err := qs.q.Model.Ready(); err != nil {
		return 0, err
	}
	res, err := qs.client.execute(ctx, "delete", qs.q.Model, planner.PlanDeleteAll(qs.q.Model))
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", qs.q.Model.Name, err)
	}
	return res.RowsAffected()
}

// matchingKeys selects the primary keys of matching objects. MySQL cannot
// update or delete from a table it also selects from in a subquery.
func (qs QuerySet) matchingKeys(ctx context.Context, op string) ([]interface{}, error) {
	q, err := planner.BuildKeys(qs.q)
	if err != nil {
		return nil, err
	}
	pks, err := qs.client.keys(ctx, op, qs.q.Model, q)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, qs.q.Model.Name, err)
	}
	return pks, nil
}

func (qs QuerySet) modelName() string {
	if qs.q.Model == nil {
		return ""
	}
	return qs.q.Model.Name
}
