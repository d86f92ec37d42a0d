package parameters

import (
	"context"
	"fmt"

	"github.com/brightway-tools/paramengine/infrastructure/errors"
)

// Graph is the Dependency Graph component: the GroupDependency relation
// (group -> depends), kept acyclic and scope-valid.
type Graph struct {
	store Store
}

// NewGraph wraps store with the Dependency Graph operations.
func NewGraph(store Store) *Graph {
	return &Graph{store: store}
}

// Add inserts the edge group -> depends. It fails with ValueError if group
// is "project", or if depends is neither "project" nor a registered
// database nor an existing group; fails with IntegrityError on self-edge or
// on any edge that would close a cycle, checked by a transitive-closure
// probe before insert. Duplicate edges are rejected by the backing store's
// unique constraint, surfacing as IntegrityError.
func (g *Graph) Add(ctx context.Context, group, depends string, databases DatabaseRegistry) error {
	if group == ReservedProjectGroup {
		return errors.ValueErr(fmt.Sprintf("%q may not depend on anything", ReservedProjectGroup))
	}
	if group == depends {
		return errors.Integrity(fmt.Sprintf("group %q may not depend on itself", group))
	}

	valid := depends == ReservedProjectGroup
	if !valid && databases != nil && databases.IsRegisteredDatabase(depends) {
		valid = true
	}
	if !valid {
		_, ok, err := g.store.GetGroup(ctx, depends)
		if err != nil {
			return err
		}
		valid = ok
	}
	if !valid {
		return errors.ValueErr(fmt.Sprintf("%q is neither %q, a registered database, nor an existing group", depends, ReservedProjectGroup))
	}

	cyclic, err := g.store.HasPath(ctx, depends, group)
	if err != nil {
		return err
	}
	if cyclic {
		return errors.Integrity(fmt.Sprintf("adding dependency %s -> %s would close a cycle", group, depends))
	}

	return g.store.AddDependency(ctx, group, depends)
}

// EnsureDependency adds the edge group -> depends only if it does not
// already exist. Used by the recalculation engine to record that a
// formula's free names were resolved through a wider scope, without
// tripping the duplicate-edge rejection in Add.
func (g *Graph) EnsureDependency(ctx context.Context, group, depends string, databases DatabaseRegistry) error {
	exists, err := g.store.HasEdge(ctx, group, depends)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return g.Add(ctx, group, depends, databases)
}

// Downstream yields every group transitively depending on name, used for
// stale propagation.
func (g *Graph) Downstream(ctx context.Context, name string) ([]string, error) {
	return g.store.Downstream(ctx, name)
}

// RemoveGroupEdges removes every edge touching name, called when a group is
// torn down.
func (g *Graph) RemoveGroupEdges(ctx context.Context, name string) error {
	return g.store.RemoveGroupEdges(ctx, name)
}
