package parameters

// This file implements the uniform per-kind contract from §4.4: load, dict,
// static, expired and recalculate, one table type per parameter kind. dict is
// ProjectParameter.Dict/DatabaseParameter.Dict/ActivityParameter.Dict
// (types.go); the rest live here since they all need the Store and, for
// recalculate, the Engine.

import (
	"context"
	"strconv"
)

func namesToSet(only []string) map[string]struct{} {
	if len(only) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(only))
	for _, n := range only {
		set[n] = struct{}{}
	}
	return set
}

func groupExpired(ctx context.Context, store Store, group string) (bool, error) {
	g, ok, err := store.GetGroup(ctx, group)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return !g.Fresh, nil
}

// ProjectTable is the Parameter Tables component for ProjectParameter.
type ProjectTable struct {
	store  Store
	engine *Engine
}

// NewProjectTable builds a ProjectTable over store, recalculating through
// engine.
func NewProjectTable(store Store, engine *Engine) *ProjectTable {
	return &ProjectTable{store: store, engine: engine}
}

// Load dumps every project parameter as name -> attribute bag.
func (t *ProjectTable) Load(ctx context.Context) (map[string]AttributeBag, error) {
	rows, err := t.store.ListProjectParameters(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]AttributeBag, len(rows))
	for _, row := range rows {
		out[row.Name] = row.Dict()
	}
	return out, nil
}

// Static returns the stored (not recalculated) amount for every project
// parameter, or only those named in only when it is non-empty. A row whose
// amount has never been computed maps to nil.
func (t *ProjectTable) Static(ctx context.Context, only []string) (map[string]interface{}, error) {
	rows, err := t.store.ListProjectParameters(ctx)
	if err != nil {
		return nil, err
	}
	filter := namesToSet(only)
	out := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		if filter != nil {
			if _, ok := filter[row.Name]; !ok {
				continue
			}
		}
		out[row.Name] = amountValue(row.Amount)
	}
	return out, nil
}

// Expired reports whether Group["project"].Fresh is false.
func (t *ProjectTable) Expired(ctx context.Context) (bool, error) {
	return groupExpired(ctx, t.store, ReservedProjectGroup)
}

// Recalculate runs ProjectParameter.recalculate() (§4.6).
func (t *ProjectTable) Recalculate(ctx context.Context) error {
	return t.engine.RecalculateProject(ctx)
}

// DatabaseTable is the Parameter Tables component for DatabaseParameter.
type DatabaseTable struct {
	store  Store
	engine *Engine
}

// NewDatabaseTable builds a DatabaseTable over store, recalculating through
// engine.
func NewDatabaseTable(store Store, engine *Engine) *DatabaseTable {
	return &DatabaseTable{store: store, engine: engine}
}

// Load dumps every parameter of database db as name -> attribute bag.
func (t *DatabaseTable) Load(ctx context.Context, db string) (map[string]AttributeBag, error) {
	rows, err := t.store.ListDatabaseParameters(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make(map[string]AttributeBag, len(rows))
	for _, row := range rows {
		out[row.Name] = row.Dict()
	}
	return out, nil
}

// Static returns the stored amount for every parameter of database db, or
// only those named in only when it is non-empty.
func (t *DatabaseTable) Static(ctx context.Context, db string, only []string) (map[string]interface{}, error) {
	rows, err := t.store.ListDatabaseParameters(ctx, db)
	if err != nil {
		return nil, err
	}
	filter := namesToSet(only)
	out := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		if filter != nil {
			if _, ok := filter[row.Name]; !ok {
				continue
			}
		}
		out[row.Name] = amountValue(row.Amount)
	}
	return out, nil
}

// Expired reports whether Group[db].Fresh is false.
func (t *DatabaseTable) Expired(ctx context.Context, db string) (bool, error) {
	return groupExpired(ctx, t.store, db)
}

// Recalculate runs DatabaseParameter.recalculate(db) (§4.6).
func (t *DatabaseTable) Recalculate(ctx context.Context, db string) error {
	return t.engine.RecalculateDatabase(ctx, db)
}

// ActivityTable is the Parameter Tables component for ActivityParameter.
type ActivityTable struct {
	store  Store
	engine *Engine
}

// NewActivityTable builds an ActivityTable over store, recalculating
// through engine.
func NewActivityTable(store Store, engine *Engine) *ActivityTable {
	return &ActivityTable{store: store, engine: engine}
}

// Load dumps every parameter owned by group as name -> attribute bag.
func (t *ActivityTable) Load(ctx context.Context, group string) (map[string]AttributeBag, error) {
	rows, err := t.store.ListActivityParameters(ctx, group)
	if err != nil {
		return nil, err
	}
	out := make(map[string]AttributeBag, len(rows))
	for _, row := range rows {
		out[row.Name] = row.Dict()
	}
	return out, nil
}

// Static returns the stored amount for every parameter owned by group, or
// only those named in only when it is non-empty.
func (t *ActivityTable) Static(ctx context.Context, group string, only []string) (map[string]interface{}, error) {
	rows, err := t.store.ListActivityParameters(ctx, group)
	if err != nil {
		return nil, err
	}
	filter := namesToSet(only)
	out := make(map[string]interface{}, len(rows))
	for _, row := range rows {
		if filter != nil {
			if _, ok := filter[row.Name]; !ok {
				continue
			}
		}
		out[row.Name] = amountValue(row.Amount)
	}
	return out, nil
}

// Expired reports whether Group[group].Fresh is false.
func (t *ActivityTable) Expired(ctx context.Context, group string) (bool, error) {
	return groupExpired(ctx, t.store, group)
}

// Recalculate runs ActivityParameter.recalculate(group) (§4.6).
func (t *ActivityTable) Recalculate(ctx context.Context, group string) error {
	return t.engine.RecalculateActivity(ctx, group)
}

// ExchangeTable is the Parameter Tables component for ParameterizedExchange.
// A parameterized exchange carries no amount of its own (its formula
// controls an attribute of an external exchange record, evaluated by the
// host once it reads the formula via Load), so unlike the three parameter
// kinds above it has no Static/Expired/Recalculate: there is no amount
// column to report and no group-freshness semantics attach to the row
// itself beyond the activity group it belongs to.
type ExchangeTable struct {
	store Store
}

// NewExchangeTable builds an ExchangeTable over store.
func NewExchangeTable(store Store) *ExchangeTable {
	return &ExchangeTable{store: store}
}

// Load dumps every parameterized exchange owned by group, keyed by the
// exchange's decimal id.
func (t *ExchangeTable) Load(ctx context.Context, group string) (map[string]AttributeBag, error) {
	rows, err := t.store.ListParameterizedExchanges(ctx, group)
	if err != nil {
		return nil, err
	}
	out := make(map[string]AttributeBag, len(rows))
	for _, row := range rows {
		out[strconv.FormatInt(row.Exchange, 10)] = row.Dict()
	}
	return out, nil
}
