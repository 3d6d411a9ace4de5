package queryset

import (
	"context"
	"fmt"

	"relorm/internal/filter"
	"relorm/internal/model"
	"relorm/internal/ormerr"
	"relorm/internal/planner"
)

// RelationManager manages the objects on the to-many side of one instance's
// relation: a reverse foreign key or either side of a many-to-many.
type RelationManager struct {
	client *Client
	owner  *model.Instance
	field  *model.Field
}

// Related returns the manager for a to-many relation field of a saved instance.
func (c *Client) Related(owner *model.Instance, name string) (*RelationManager, error) {
	m := owner.Model()
	if err := m.Ready(); err != nil {
		return nil, err
	}
	f, ok := m.Field(name)
	if !ok {
		return nil, ormerr.FieldNotFound(m.Name, name, name)
	}
	switch f.Relation {
	case model.ReverseRelation, model.ManyToManyRelation, model.ReverseManyToManyRelation:
	default:
		return nil, ormerr.New(ormerr.ErrRelationship, m.Name, name, "%s field has no relation manager", f.Relation)
	}
	return &RelationManager{client: c, owner: owner, field: f}, nil
}

// Field returns the managed relation field.
func (rm *RelationManager) Field() *model.Field {
	return rm.field
}

// Objects returns a query set over the related objects.
func (rm *RelationManager) Objects() QuerySet {
	return rm.client.Objects(rm.field.Target()).Filter(filter.Q(rm.backPath(), rm.owner.PK()))
}

// backPath names the relation on the target that leads back to the owner.
func (rm *RelationManager) backPath() string {
	if rm.field.Relation == model.ManyToManyRelation {
		return rm.field.RelatedName
	}
	return rm.field.Origin().Name
}

// All loads the related objects.
func (rm *RelationManager) All(ctx context.Context) ([]*model.Instance, error) {
	if err := rm.saved(rm.owner); err != nil {
		return nil, err
	}
	return rm.Objects().All(ctx)
}

// Add links a saved target. Many-to-many links insert a through row carrying
// throughValues and return it; a reverse foreign key link rewrites the
// target's key column and returns nil.
func (rm *RelationManager) Add(ctx context.Context, target *model.Instance, throughValues map[string]any) (*model.Instance, error) {
	if err := rm.check(target); err != nil {
		return nil, err
	}
	if rm.field.Relation == model.ReverseRelation {
		if len(throughValues) > 0 {
			return nil, ormerr.New(ormerr.ErrRelationship, rm.owner.Model().Name, rm.field.Name, "reverse foreign key has no through model")
		}
		return nil, rm.setForeignKey(ctx, target, rm.owner)
	}

	link, err := rm.throughInstance(target, throughValues)
	if err != nil {
		return nil, err
	}
	if err := rm.client.Insert(ctx, link); err != nil {
		return nil, err
	}
	if rm.field.Relation == model.ManyToManyRelation {
		target.SetThrough(rm.field.ThroughField().Name, link)
	}
	rm.appendLoaded(target)
	return link, nil
}

// Create inserts a new target and links it in one transaction. The owner's
// loaded collection only changes once the transaction has committed.
func (rm *RelationManager) Create(ctx context.Context, values map[string]any, throughValues map[string]any) (*model.Instance, error) {
	if err := rm.saved(rm.owner); err != nil {
		return nil, err
	}
	if rm.field.Relation == model.ReverseRelation && len(throughValues) > 0 {
		return nil, ormerr.New(ormerr.ErrRelationship, rm.owner.Model().Name, rm.field.Name, "reverse foreign key has no through model")
	}

	var created, link *model.Instance
	err := rm.client.InTx(ctx, func(tx *Client) error {
		if rm.field.Relation == model.ReverseRelation {
			merged := make(map[string]any, len(values)+1)
			for k, v := range values {
				merged[k] = v
			}
			merged[rm.field.Origin().Name] = rm.owner
			inst, err := tx.Objects(rm.field.Target()).Create(ctx, merged)
			if err != nil {
				return err
			}
			created = inst
			return nil
		}

		inst, err := tx.Objects(rm.field.Target()).Create(ctx, values)
		if err != nil {
			return err
		}
		through, err := rm.throughInstance(inst, throughValues)
		if err != nil {
			return err
		}
		if err := tx.Insert(ctx, through); err != nil {
			return err
		}
		created, link = inst, through
		return nil
	})
	if err != nil {
		return nil, err
	}
	if link != nil && rm.field.Relation == model.ManyToManyRelation {
		created.SetThrough(rm.field.ThroughField().Name, link)
	}
	rm.appendLoaded(created)
	return created, nil
}

// Remove unlinks a target. Many-to-many links delete the through row; a
// reverse foreign key is set to NULL, which requires a nullable key.
func (rm *RelationManager) Remove(ctx context.Context, target *model.Instance) error {
	if err := rm.check(target); err != nil {
		return err
	}
	if rm.field.Relation == model.ReverseRelation {
		fk := rm.field.Origin()
		if !fk.Nullable {
			return ormerr.New(ormerr.ErrRelationship, rm.owner.Model().Name, rm.field.Name, "foreign key %s.%s is not nullable", fk.Owner().Name, fk.Name)
		}
		return rm.setForeignKey(ctx, target, nil)
	}

	through := rm.field.ThroughModel()
	q, err := planner.PlanDeleteWhere(through, map[*model.Field]interface{}{
		rm.field.ThroughOwnerKey():  rm.owner.PK(),
		rm.field.ThroughTargetKey(): target.PK(),
	})
	if err != nil {
		return err
	}
	if _, err := rm.client.execute(ctx, "delete", through, q); err != nil {
		return fmt.Errorf("unlink %s: %w", through.Name, err)
	}
	return nil
}

func (rm *RelationManager) setForeignKey(ctx context.Context, target, owner *model.Instance) error {
	fk := rm.field.Origin()
	if owner == nil {
		if err := target.Set(fk.Name, nil); err != nil {
			return err
		}
	} else {
		target.SetRelated(fk.Name, owner)
	}
	if err := rm.client.Update(ctx, target, fk.Name); err != nil {
		return err
	}
	if owner != nil {
		rm.appendLoaded(target)
	}
	return nil
}

// appendLoaded keeps an already loaded collection in step with the database.
func (rm *RelationManager) appendLoaded(target *model.Instance) {
	if rm.owner.ChildrenLoaded(rm.field.Name) {
		rm.owner.AppendChild(rm.field.Name, target)
	}
}

// throughInstance builds the through row linking owner and target. Keys are
// oriented by the declaring many-to-many field.
func (rm *RelationManager) throughInstance(target *model.Instance, throughValues map[string]any) (*model.Instance, error) {
	through := rm.field.ThroughModel()
	values := make(map[string]any, len(throughValues)+2)
	for name, v := range throughValues {
		f, ok := through.Field(name)
		if !ok {
			return nil, ormerr.FieldNotFound(through.Name, name, name)
		}
		if f == rm.field.ThroughOwnerKey() || f == rm.field.ThroughTargetKey() || f.PrimaryKey {
			return nil, ormerr.New(ormerr.ErrRelationship, through.Name, name, "through key %q is set by the relation", name)
		}
		values[name] = v
	}
	values[rm.field.ThroughOwnerKey().Name] = rm.owner.PK()
	values[rm.field.ThroughTargetKey().Name] = target.PK()
	return model.New(through, values)
}

func (rm *RelationManager) check(target *model.Instance) error {
	if target == nil {
		return ormerr.New(ormerr.ErrRelationship, rm.owner.Model().Name, rm.field.Name, "target is nil")
	}
	if target.Model() != rm.field.Target() {
		return ormerr.New(ormerr.ErrRelationship, rm.owner.Model().Name, rm.field.Name, "expected %s, got %s", rm.field.Target().Name, target.Model().Name)
	}
	if err := rm.saved(rm.owner); err != nil {
		return err
	}
	return rm.saved(target)
}

func (rm *RelationManager) saved(inst *model.Instance) error {
	if inst.PK() == nil {
		return ormerr.New(ormerr.ErrRelationship, inst.Model().Name, rm.field.Name, "%s must be saved before it is linked", inst)
	}
	return nil
}
