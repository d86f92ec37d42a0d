package parameters

import "context"

// Registry is the Group Registry component: it records each group's
// freshness flag, last-modified timestamp, and optional ordered dependency
// list, on top of whatever Store backs it.
type Registry struct {
	store Store
}

// NewRegistry wraps store with the Group Registry operations.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// GetOrCreate returns the named group, creating it fresh=false if absent.
func (r *Registry) GetOrCreate(ctx context.Context, name string) (Group, error) {
	return r.store.GetOrCreateGroup(ctx, name)
}

// Expire marks a group stale.
func (r *Registry) Expire(ctx context.Context, name string) error {
	return r.store.SetFresh(ctx, name, false)
}

// Freshen marks a group fresh.
func (r *Registry) Freshen(ctx context.Context, name string) error {
	return r.store.SetFresh(ctx, name, true)
}

// PurgeOrder strips "project" and any registered database name out of
// order, preserving the relative order of survivors, persists the result
// against the named group, and returns the persisted slice.
//
// Rationale: a group's order list enumerates other activity groups whose
// evaluated values this group should inherit; project and database scopes
// are always inherited implicitly and would be redundant (or, for "project",
// invalid) entries.
func (r *Registry) PurgeOrder(ctx context.Context, name string, order []string, databases DatabaseRegistry) ([]string, error) {
	survivors := make([]string, 0, len(order))
	for _, candidate := range order {
		if candidate == ReservedProjectGroup {
			continue
		}
		if databases != nil && databases.IsRegisteredDatabase(candidate) {
			continue
		}
		survivors = append(survivors, candidate)
	}
	if err := r.store.SetOrder(ctx, name, survivors); err != nil {
		return nil, err
	}
	return survivors, nil
}
