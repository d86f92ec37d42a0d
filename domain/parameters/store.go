package parameters

import "context"

// Store is the storage-agnostic contract implemented by storage/postgres
// (production) and storage/memory (tests, and as an in-process default).
//
// Every method in GroupStore, DependencyStore, ProjectParameterStore,
// DatabaseParameterStore, ActivityParameterStore and ExchangeStore that
// mutates a parameter row is a "mutate" path: implementations must perform
// the row write and the owning group's fresh=false/updated=now() side
// effect in the same transaction (see design note on runtime triggers), and
// must enforce the uniqueness, reserved-name and immutability invariants at
// that same boundary, surfacing violations as an infrastructure/errors
// EngineError with ErrCodeIntegrity.
//
// RecalcWriter is deliberately a separate, narrower interface: it is the
// only path the recalculation engine uses to persist computed amounts, and
// it must NOT trigger the group side effect above — otherwise a
// recalculation would immediately re-stale the very group it just made
// fresh.
type Store interface {
	GroupStore
	DependencyStore
	ProjectParameterStore
	DatabaseParameterStore
	ActivityParameterStore
	ExchangeStore
	RecalcWriter
}

// GroupStore manages Group rows.
type GroupStore interface {
	// GetOrCreateGroup returns the group, creating it with Fresh=false if
	// absent.
	GetOrCreateGroup(ctx context.Context, name string) (Group, error)
	GetGroup(ctx context.Context, name string) (Group, bool, error)
	// SetFresh sets a group's freshness flag without touching Updated.
	SetFresh(ctx context.Context, name string, fresh bool) error
	SetOrder(ctx context.Context, name string, order []string) error
	DeleteGroup(ctx context.Context, name string) error
	ListGroups(ctx context.Context) ([]Group, error)
}

// DependencyStore manages the GroupDependency relation.
type DependencyStore interface {
	AddDependency(ctx context.Context, group, depends string) error
	// HasEdge reports whether the direct edge group -> depends already
	// exists.
	HasEdge(ctx context.Context, group, depends string) (bool, error)
	// HasPath reports whether there is a path from -> ... -> to in the
	// dependency graph (from == to counts as a trivial path only when an
	// edge already makes it so; used by cycle detection before inserting
	// group -> depends by probing depends -> group).
	HasPath(ctx context.Context, from, to string) (bool, error)
	// Downstream yields every group g such that there is a path g -> ... ->
	// name, i.e. every group that would need to be re-marked stale when
	// name changes.
	Downstream(ctx context.Context, name string) ([]string, error)
	RemoveGroupEdges(ctx context.Context, name string) error
	ListDependencies(ctx context.Context) ([]GroupDependency, error)
}

// ProjectParameterStore is the typed CRUD contract for ProjectParameter.
type ProjectParameterStore interface {
	CreateProjectParameter(ctx context.Context, p ProjectParameter) (ProjectParameter, error)
	UpdateProjectParameter(ctx context.Context, p ProjectParameter) (ProjectParameter, error)
	GetProjectParameter(ctx context.Context, name string) (ProjectParameter, bool, error)
	DeleteProjectParameter(ctx context.Context, name string) error
	ListProjectParameters(ctx context.Context) ([]ProjectParameter, error)
	CountProjectParameters(ctx context.Context) (int, error)
}

// DatabaseParameterStore is the typed CRUD contract for DatabaseParameter.
type DatabaseParameterStore interface {
	CreateDatabaseParameter(ctx context.Context, p DatabaseParameter) (DatabaseParameter, error)
	UpdateDatabaseParameter(ctx context.Context, p DatabaseParameter) (DatabaseParameter, error)
	GetDatabaseParameter(ctx context.Context, database, name string) (DatabaseParameter, bool, error)
	DeleteDatabaseParameter(ctx context.Context, database, name string) error
	ListDatabaseParameters(ctx context.Context, database string) ([]DatabaseParameter, error)
	CountDatabaseParameters(ctx context.Context) (int, error)
}

// ActivityParameterStore is the typed CRUD contract for ActivityParameter.
type ActivityParameterStore interface {
	CreateActivityParameter(ctx context.Context, p ActivityParameter) (ActivityParameter, error)
	// UpdateActivityParameter fails with ErrCodeIntegrity if it attempts to
	// change Database or Code on an existing row.
	UpdateActivityParameter(ctx context.Context, p ActivityParameter) (ActivityParameter, error)
	GetActivityParameterByCode(ctx context.Context, database, code string) (ActivityParameter, bool, error)
	GetActivityParameterByName(ctx context.Context, group, name string) (ActivityParameter, bool, error)
	DeleteActivityParameter(ctx context.Context, database, code string) error
	ListActivityParameters(ctx context.Context, group string) ([]ActivityParameter, error)
	CountActivityParameters(ctx context.Context) (int, error)
}

// ExchangeStore is the typed CRUD contract for ParameterizedExchange.
type ExchangeStore interface {
	UpsertParameterizedExchange(ctx context.Context, e ParameterizedExchange) (ParameterizedExchange, error)
	ListParameterizedExchanges(ctx context.Context, group string) ([]ParameterizedExchange, error)
	DeleteParameterizedExchange(ctx context.Context, group string, exchange int64) error
}

// RecalcWriter is the internal, trigger-free write path the recalculation
// engine uses to persist computed amounts.
type RecalcWriter interface {
	SetProjectParameterAmount(ctx context.Context, name string, amount *float64) error
	SetDatabaseParameterAmount(ctx context.Context, database, name string, amount *float64) error
	SetActivityParameterAmount(ctx context.Context, group, name string, amount *float64) error
}
