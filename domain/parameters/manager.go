package parameters

import (
	"context"
	"fmt"

	"github.com/brightway-tools/paramengine/infrastructure/errors"
	"github.com/brightway-tools/paramengine/pkg/logger"
	"github.com/brightway-tools/paramengine/pkg/metrics"
)

// Manager is the Parameters Manager component: a stateless facade over a
// Store that exposes bulk-create operations, the global cardinality, and
// the global recalculation entry point. All state lives in the Store; a
// Manager may be instantiated freely (including once per test) rather than
// as a process-global singleton.
type Manager struct {
	store     Store
	engine    *Engine
	registry  *Registry
	graph     *Graph
	databases DatabaseRegistry

	// Projects, Databases, Activities and Exchanges are the Parameter
	// Tables component (§4.4): the uniform load/static/expired/recalculate
	// contract, one table per parameter kind.
	Projects   *ProjectTable
	Databases  *DatabaseTable
	Activities *ActivityTable
	Exchanges  *ExchangeTable
}

// NewManager builds a Manager bound to store.
func NewManager(store Store, databases DatabaseRegistry, builtins BuiltinFunctions, log *logger.Logger, m *metrics.Metrics) *Manager {
	engine := NewEngine(store, databases, builtins, log, m)
	return &Manager{
		store:      store,
		engine:     engine,
		registry:   NewRegistry(store),
		graph:      NewGraph(store),
		databases:  databases,
		Projects:   NewProjectTable(store, engine),
		Databases:  NewDatabaseTable(store, engine),
		Activities: NewActivityTable(store, engine),
		Exchanges:  NewExchangeTable(store),
	}
}

// Len returns the count of all parameter rows across all three tables.
func (m *Manager) Len(ctx context.Context) (int, error) {
	p, err := m.store.CountProjectParameters(ctx)
	if err != nil {
		return 0, err
	}
	d, err := m.store.CountDatabaseParameters(ctx)
	if err != nil {
		return 0, err
	}
	a, err := m.store.CountActivityParameters(ctx)
	if err != nil {
		return 0, err
	}
	return p + d + a, nil
}

// String mirrors the original's __repr__: "Parameters manager with N
// objects". Like that repr, it performs a blocking count against the store.
func (m *Manager) String() string {
	n, err := m.Len(context.Background())
	if err != nil {
		return "Parameters manager with ? objects"
	}
	return fmt.Sprintf("Parameters manager with %d objects", n)
}

// NewProjectParameters asserts names in params are unique, upserts each
// row, and recalculates project scope. Postcondition: Group["project"].Fresh
// == true.
func (m *Manager) NewProjectParameters(ctx context.Context, params []ProjectParameter) error {
	if err := assertUniqueNames(params, func(p ProjectParameter) string { return p.Name }); err != nil {
		return err
	}
	for _, p := range params {
		if err := m.upsertProjectParameter(ctx, p); err != nil {
			return err
		}
	}
	return m.engine.RecalculateProject(ctx)
}

func (m *Manager) upsertProjectParameter(ctx context.Context, p ProjectParameter) error {
	_, exists, err := m.store.GetProjectParameter(ctx, p.Name)
	if err != nil {
		return err
	}
	if exists {
		_, err = m.store.UpdateProjectParameter(ctx, p)
		return err
	}
	_, err = m.store.CreateProjectParameter(ctx, p)
	return err
}

// NewDatabaseParameters asserts db is a registered database and names in
// params are unique, upserts each row, and recalculates scope db.
func (m *Manager) NewDatabaseParameters(ctx context.Context, params []DatabaseParameter, db string) error {
	if m.databases != nil && !m.databases.IsRegisteredDatabase(db) {
		return errors.Assertion(fmt.Sprintf("%q is not a registered database", db))
	}
	if err := assertUniqueNames(params, func(p DatabaseParameter) string { return p.Name }); err != nil {
		return err
	}
	for _, p := range params {
		p.Database = db
		if err := m.upsertDatabaseParameter(ctx, p); err != nil {
			return err
		}
	}
	return m.engine.RecalculateDatabase(ctx, db)
}

func (m *Manager) upsertDatabaseParameter(ctx context.Context, p DatabaseParameter) error {
	_, exists, err := m.store.GetDatabaseParameter(ctx, p.Database, p.Name)
	if err != nil {
		return err
	}
	if exists {
		_, err = m.store.UpdateDatabaseParameter(ctx, p)
		return err
	}
	_, err = m.store.CreateDatabaseParameter(ctx, p)
	return err
}

// NewActivityParameters asserts names in params are unique, upserts each
// row into group, and recalculates that activity scope.
func (m *Manager) NewActivityParameters(ctx context.Context, params []ActivityParameter, group string) error {
	if err := assertUniqueNames(params, func(p ActivityParameter) string { return p.Name }); err != nil {
		return err
	}
	for _, p := range params {
		p.Group = group
		if err := m.upsertActivityParameter(ctx, p); err != nil {
			return err
		}
	}
	return m.engine.RecalculateActivity(ctx, group)
}

func (m *Manager) upsertActivityParameter(ctx context.Context, p ActivityParameter) error {
	if m.databases != nil && p.Group != p.Database && m.databases.IsRegisteredDatabase(p.Group) {
		return errors.Integrity(fmt.Sprintf("group %q collides with registered database name and is not that activity's own database", p.Group))
	}
	_, exists, err := m.store.GetActivityParameterByCode(ctx, p.Database, p.Code)
	if err != nil {
		return err
	}
	if exists {
		_, err = m.store.UpdateActivityParameter(ctx, p)
		return err
	}
	_, err = m.store.CreateActivityParameter(ctx, p)
	return err
}

// Recalculate runs the global recalculation pass (§4.6).
func (m *Manager) Recalculate(ctx context.Context) error {
	return m.engine.Recalculate(ctx)
}

func assertUniqueNames[T any](items []T, name func(T) string) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		n := name(item)
		if _, dup := seen[n]; dup {
			return errors.Assertion(fmt.Sprintf("duplicate name %q in batch", n))
		}
		seen[n] = struct{}{}
	}
	return nil
}
