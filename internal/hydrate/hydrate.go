// Package hydrate rebuilds object graphs from the flat rows of a planned
// select. Rows repeat parents once per joined child; the hydrator merges them
// so each root appears once and each collection holds each child once.
package hydrate

import (
	"fmt"

	"relorm/internal/model"
	"relorm/internal/planner"
)

type nodeColumns struct {
	node    *planner.JoinNode
	fields  []*model.Field
	indexes []int
	pk      int
}

// Hydrator accumulates rows in arrival order. It is not safe for concurrent
// use; one hydrator serves one query execution.
type Hydrator struct {
	plan    *planner.Plan
	layout  []nodeColumns
	through map[*planner.JoinNode]*nodeColumns

	roots  []*model.Instance
	byKey  map[string]*model.Instance
	seen   map[*planner.JoinNode]map[*model.Instance]map[string]*model.Instance
	rows   int
	merged int
}

// New prepares a hydrator for rows produced by plan.
func New(plan *planner.Plan) (*Hydrator, error) {
	h := &Hydrator{
		plan:    plan,
		through: make(map[*planner.JoinNode]*nodeColumns),
		byKey:   make(map[string]*model.Instance),
		seen:    make(map[*planner.JoinNode]map[*model.Instance]map[string]*model.Instance),
	}
	byNode := make(map[*planner.JoinNode]int)
	for i, col := range plan.Columns {
		pos, ok := byNode[col.Node]
		if !ok {
			pos = len(h.layout)
			byNode[col.Node] = pos
			h.layout = append(h.layout, nodeColumns{node: col.Node, pk: -1})
		}
		nc := &h.layout[pos]
		if col.Field == col.Node.Model.PrimaryKey() {
			nc.pk = len(nc.fields)
		}
		nc.fields = append(nc.fields, col.Field)
		nc.indexes = append(nc.indexes, i)
	}
	for i := range h.layout {
		nc := &h.layout[i]
		if nc.pk < 0 {
			return nil, fmt.Errorf("hydrate: primary key of %s not projected", nc.node.Model.Name)
		}
		if nc.node.IsThrough {
			h.through[nc.node] = nc
		}
	}
	if len(h.layout) == 0 || !h.layout[0].node.IsRoot() {
		return nil, fmt.Errorf("hydrate: plan projects no root columns")
	}
	return h, nil
}

// Add merges one row. The row holds one value per plan column.
func (h *Hydrator) Add(row []interface{}) error {
	if len(row) != len(h.plan.Columns) {
		return fmt.Errorf("hydrate: row has %d values, plan has %d columns", len(row), len(h.plan.Columns))
	}
	h.rows++

	rootCols := &h.layout[0]
	rootPK := row[rootCols.indexes[rootCols.pk]]
	if rootPK == nil {
		return fmt.Errorf("hydrate: row without %s primary key", rootCols.node.Model.Name)
	}
	root, ok := h.byKey[model.KeyOf(rootPK)]
	if !ok {
		inst, err := build(rootCols, row)
		if err != nil {
			return err
		}
		root = inst
		h.byKey[model.KeyOf(rootPK)] = root
		h.roots = append(h.roots, root)
	} else {
		h.merged++
	}

	current := map[*planner.JoinNode]*model.Instance{rootCols.node: root}
	for i := 1; i < len(h.layout); i++ {
		nc := &h.layout[i]
		if nc.node.IsThrough {
			continue
		}
		parent := current[nc.node.Parent]
		if parent == nil {
			continue
		}
		child, err := h.attach(parent, nc, row)
		if err != nil {
			return err
		}
		current[nc.node] = child
	}
	return nil
}

func (h *Hydrator) attach(parent *model.Instance, nc *nodeColumns, row []interface{}) (*model.Instance, error) {
	f := nc.node.Field
	pk := row[nc.indexes[nc.pk]]
	if pk == nil {
		// LEFT JOIN found nothing on this side
		if f.IsToMany() {
			parent.InitChildren(f.Name)
		}
		return nil, nil
	}
	key := model.KeyOf(pk)

	if !f.IsToMany() {
		if rel := parent.Related(f.Name); rel != nil && rel.PKKey() == key {
			return rel, nil
		}
		rel, err := build(nc, row)
		if err != nil {
			return nil, err
		}
		parent.SetRelated(f.Name, rel)
		return rel, nil
	}

	children, ok := h.seen[nc.node]
	if !ok {
		children = make(map[*model.Instance]map[string]*model.Instance)
		h.seen[nc.node] = children
	}
	byKey, ok := children[parent]
	if !ok {
		byKey = make(map[string]*model.Instance)
		children[parent] = byKey
	}
	if existing, ok := byKey[key]; ok {
		return existing, nil
	}

	child, err := build(nc, row)
	if err != nil {
		return nil, err
	}
	if through, ok := h.through[nc.node.Through]; ok && f.IsOwningManyToMany() {
		if row[through.indexes[through.pk]] != nil {
			link, err := build(through, row)
			if err != nil {
				return nil, err
			}
			child.SetThrough(f.ThroughField().Name, link)
		}
	}
	byKey[key] = child
	parent.AppendChild(f.Name, child)
	return child, nil
}

func build(nc *nodeColumns, row []interface{}) (*model.Instance, error) {
	values := make(map[string]interface{}, len(nc.fields))
	for i, f := range nc.fields {
		values[f.Name] = row[nc.indexes[i]]
	}
	return model.FromRow(nc.node.Model, values)
}

// Results returns hydrated roots in first-seen order.
func (h *Hydrator) Results() []*model.Instance {
	out := make([]*model.Instance, len(h.roots))
	copy(out, h.roots)
	return out
}

// Stats reports rows consumed and how many of them repeated a root.
func (h *Hydrator) Stats() (rows, merged int) {
	return h.rows, h.merged
}

// Hydrate runs rows through a new hydrator.
func Hydrate(plan *planner.Plan, rows [][]interface{}) ([]*model.Instance, error) {
	h, err := New(plan)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := h.Add(row); err != nil {
			return nil, err
		}
	}
	return h.Results(), nil
}
