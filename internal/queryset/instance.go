package queryset

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"relorm/internal/filter"
	"relorm/internal/model"
	"relorm/internal/ormerr"
	"relorm/internal/planner"
)

// Save inserts an instance without a primary key and updates one with.
func (c *Client) Save(ctx context.Context, inst *model.Instance) error {
	if inst.PK() == nil {
		return c.Insert(ctx, inst)
	}
	return c.Update(ctx, inst)
}

// Insert writes inst as a new row. A generated primary key is stored back on
// the instance.
func (c *Client) Insert(ctx context.Context, inst *model.Instance) (err error) {
	m := inst.Model()
	ctx, span := startSpan(ctx, "instance.insert", attribute.String("orm.model", m.Name))
	defer func() { finishSpan(span, err) }()

	if err := m.Ready(); err != nil {
		return err
	}
	pk := m.PrimaryKey()
	allFields, allValues, err := inst.ColumnValues()
	if err != nil {
		return err
	}
	fields := make([]*model.Field, 0, len(allFields))
	values := make([]interface{}, 0, len(allValues))
	for i, f := range allFields {
		if f == pk && allValues[i] == nil {
			continue
		}
		fields = append(fields, f)
		values = append(values, allValues[i])
	}

	q, err := planner.PlanInsert(m, fields, values)
	if err != nil {
		return err
	}
	res, err := c.execute(ctx, "insert", m, q)
	if err != nil {
		return fmt.Errorf("insert %s: %w", m.Name, err)
	}
	if inst.PK() != nil {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert %s: reading generated key: %w", m.Name, err)
	}
	return inst.SetPK(id)
}

// Update writes the named columns of a saved instance, or every non-key
// column when none are named.
func (c *Client) Update(ctx context.Context, inst *model.Instance, columns ...string) (err error) {
	m := inst.Model()
	ctx, span := startSpan(ctx, "instance.update", attribute.String("orm.model", m.Name))
	defer func() { finishSpan(span, err) }()

	if err := m.Ready(); err != nil {
		return err
	}
	if inst.PK() == nil {
		return ormerr.QueryDefinition(m.Name, "cannot update an unsaved instance")
	}
	if len(columns) == 0 {
		for _, f := range m.ColumnFields() {
			if !f.PrimaryKey {
				columns = append(columns, f.Name)
			}
		}
	}
	fields, values, err := inst.ColumnValues(columns...)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if f.PrimaryKey {
			return ormerr.QueryDefinition(m.Name, "primary key %q cannot be updated", f.Name)
		}
	}
	q, err := planner.PlanUpdate(m, fields, values, inst.PK())
	if err != nil {
		return err
	}
	if _, err := c.execute(ctx, "update", m, q); err != nil {
		return fmt.Errorf("update %s: %w", m.Name, err)
	}
	return nil
}

// Load refreshes the column values of a saved instance from the database.
func (c *Client) Load(ctx context.Context, inst *model.Instance) error {
	m := inst.Model()
	if inst.PK() == nil {
		return ormerr.QueryDefinition(m.Name, "cannot load an unsaved instance")
	}
	fresh, err := c.Objects(m).Get(ctx, filter.Q("pk", inst.PK()))
	if err != nil {
		return err
	}
	for name, v := range fresh.Values() {
		if err := inst.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the row of a saved instance.
func (c *Client) Delete(ctx context.Context, inst *model.Instance) (err error) {
	m := inst.Model()
	ctx, span := startSpan(ctx, "instance.delete", attribute.String("orm.model", m.Name))
	defer func() { finishSpan(span, err) }()

	if err := m.Ready(); err != nil {
		return err
	}
	if inst.PK() == nil {
		return ormerr.QueryDefinition(m.Name, "cannot delete an unsaved instance")
	}
	q, err := planner.PlanDelete(m, inst.PK())
	if err != nil {
		return err
	}
	if _, err := c.execute(ctx, "delete", m, q); err != nil {
		return fmt.Errorf("delete %s: %w", m.Name, err)
	}
	return nil
}
