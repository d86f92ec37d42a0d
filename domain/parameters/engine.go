package parameters

import (
	"context"
	"fmt"
	"time"

	"github.com/PaesslerAG/gval"
	"github.com/brightway-tools/paramengine/domain/parameters/resolver"
	"github.com/brightway-tools/paramengine/infrastructure/errors"
	"github.com/brightway-tools/paramengine/pkg/logger"
	"github.com/brightway-tools/paramengine/pkg/metrics"
)

// Engine is the Recalculation Engine component: the per-scope recalculate
// driver and the global recalculate.
type Engine struct {
	store     Store
	graph     *Graph
	registry  *Registry
	databases DatabaseRegistry
	lang      gval.Language
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// NewEngine builds a recalculation Engine. builtins may be nil, in which
// case the formula language is arithmetic-only.
func NewEngine(store Store, databases DatabaseRegistry, builtins BuiltinFunctions, log *logger.Logger, m *metrics.Metrics) *Engine {
	var fns map[string]resolver.BuiltinFunc
	if builtins != nil {
		fns = builtins.Builtins()
	}
	return &Engine{
		store:     store,
		graph:     NewGraph(store),
		registry:  NewRegistry(store),
		databases: databases,
		lang:      resolver.Language(fns),
		log:       log,
		metrics:   m,
	}
}

// layer identifies which symbol-table layer resolved a given free name,
// used to decide which cross-scope GroupDependency edges to ensure.
type layer int

const (
	layerProject layer = iota
	layerDatabase
	layerInherited
	layerOwn
)

func (e *Engine) observe(scopeKind string, outcome string, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecalculationsTotal.WithLabelValues(scopeKind, outcome).Inc()
		e.metrics.RecalculationDuration.WithLabelValues(scopeKind).Observe(time.Since(start).Seconds())
	}
}

func (e *Engine) logScope(scopeKind, name string, rows int, start time.Time) {
	if e.log == nil {
		return
	}
	e.log.WithFields(map[string]interface{}{
		"scope_kind": scopeKind,
		"scope":      name,
		"rows":       rows,
		"duration":   time.Since(start).String(),
	}).Info("recalculated scope")
}

// RecalculateProject implements ProjectParameter.recalculate(): §4.6.
func (e *Engine) RecalculateProject(ctx context.Context) error {
	start := time.Now()
	group, ok, err := e.store.GetGroup(ctx, ReservedProjectGroup)
	if err != nil {
		return err
	}
	if !ok || group.Fresh {
		return nil
	}

	rows, err := e.store.ListProjectParameters(ctx)
	if err != nil {
		e.observe("project", "error", start)
		return err
	}

	symtab := resolver.SymbolTable{}
	rowsByName := make(map[string]ProjectParameter, len(rows))
	for _, row := range rows {
		symtab[row.Name] = amountValue(row.Amount)
		rowsByName[row.Name] = row
	}

	dependsOn := map[string][]string{}
	var formulaNames []string
	for _, row := range rows {
		if row.Formula == nil {
			continue
		}
		formulaNames = append(formulaNames, row.Name)
		free, ferr := resolver.FreeNames(e.lang, *row.Formula)
		if ferr != nil {
			e.observe("project", "error", start)
			return ferr
		}
		for _, name := range free {
			if _, known := symtab[name]; !known {
				e.observe("project", "error", start)
				return errors.MissingName(name, ReservedProjectGroup)
			}
			if _, isFormula := rowsByName[name]; isFormula && rowsByName[name].Formula != nil {
				dependsOn[row.Name] = append(dependsOn[row.Name], name)
			}
		}
	}

	order, err := topologicalOrder(formulaNames, dependsOn)
	if err != nil {
		e.observe("project", "error", start)
		return errors.Integrity(err.Error())
	}

	for _, name := range order {
		row := rowsByName[name]
		val, everr := resolver.Evaluate(e.lang, *row.Formula, symtab)
		if everr != nil {
			e.observe("project", "error", start)
			return errors.Evaluation(*row.Formula, everr)
		}
		symtab[name] = val
		if err := e.store.SetProjectParameterAmount(ctx, name, &val); err != nil {
			e.observe("project", "error", start)
			return err
		}
	}

	if err := e.registry.Freshen(ctx, ReservedProjectGroup); err != nil {
		return err
	}
	if err := e.expireDownstream(ctx, ReservedProjectGroup); err != nil {
		return err
	}

	e.observe("project", "ok", start)
	e.logScope("project", ReservedProjectGroup, len(rows), start)
	return nil
}

// RecalculateDatabase implements DatabaseParameter.recalculate(db): §4.6.
func (e *Engine) RecalculateDatabase(ctx context.Context, db string) error {
	start := time.Now()
	group, ok, err := e.store.GetGroup(ctx, db)
	if err != nil {
		return err
	}
	if !ok || group.Fresh {
		return nil
	}

	projectRows, err := e.store.ListProjectParameters(ctx)
	if err != nil {
		e.observe("database", "error", start)
		return err
	}
	dbRows, err := e.store.ListDatabaseParameters(ctx, db)
	if err != nil {
		e.observe("database", "error", start)
		return err
	}

	symtab := resolver.SymbolTable{}
	layerOf := map[string]layer{}
	for _, row := range projectRows {
		symtab[row.Name] = amountValue(row.Amount)
		layerOf[row.Name] = layerProject
	}
	rowsByName := make(map[string]DatabaseParameter, len(dbRows))
	for _, row := range dbRows {
		symtab[row.Name] = amountValue(row.Amount)
		layerOf[row.Name] = layerDatabase
		rowsByName[row.Name] = row
	}

	dependsOn := map[string][]string{}
	var formulaNames []string
	usedProject := false
	for _, row := range dbRows {
		if row.Formula == nil {
			continue
		}
		formulaNames = append(formulaNames, row.Name)
		free, ferr := resolver.FreeNames(e.lang, *row.Formula)
		if ferr != nil {
			e.observe("database", "error", start)
			return ferr
		}
		for _, name := range free {
			l, known := layerOf[name]
			if !known {
				e.observe("database", "error", start)
				return errors.MissingName(name, db)
			}
			if l == layerProject {
				usedProject = true
			}
			if other, isFormula := rowsByName[name]; isFormula && other.Formula != nil {
				dependsOn[row.Name] = append(dependsOn[row.Name], name)
			}
		}
	}

	order, err := topologicalOrder(formulaNames, dependsOn)
	if err != nil {
		e.observe("database", "error", start)
		return errors.Integrity(err.Error())
	}

	for _, name := range order {
		row := rowsByName[name]
		val, everr := resolver.Evaluate(e.lang, *row.Formula, symtab)
		if everr != nil {
			e.observe("database", "error", start)
			return errors.Evaluation(*row.Formula, everr)
		}
		symtab[name] = val
		if err := e.store.SetDatabaseParameterAmount(ctx, db, name, &val); err != nil {
			e.observe("database", "error", start)
			return err
		}
	}

	if usedProject {
		if err := e.graph.EnsureDependency(ctx, db, ReservedProjectGroup, e.databases); err != nil {
			return err
		}
	}

	if err := e.registry.Freshen(ctx, db); err != nil {
		return err
	}
	if err := e.expireDownstream(ctx, db); err != nil {
		return err
	}

	e.observe("database", "ok", start)
	e.logScope("database", db, len(dbRows), start)
	return nil
}

// RecalculateActivity implements ActivityParameter.recalculate(group):
// §4.6, using the layered symbol table from §4.5.
func (e *Engine) RecalculateActivity(ctx context.Context, group string) error {
	start := time.Now()
	g, ok, err := e.store.GetGroup(ctx, group)
	if err != nil {
		return err
	}
	if !ok || g.Fresh {
		return nil
	}

	symtab, layerOf, database, err := e.layeredSymbolTable(ctx, g)
	if err != nil {
		e.observe("activity", "error", start)
		return err
	}

	ownRows, err := e.store.ListActivityParameters(ctx, group)
	if err != nil {
		e.observe("activity", "error", start)
		return err
	}
	rowsByName := make(map[string]ActivityParameter, len(ownRows))
	for _, row := range ownRows {
		rowsByName[row.Name] = row
	}

	dependsOn := map[string][]string{}
	var formulaNames []string
	usedProject, usedDatabase := false, false
	for _, row := range ownRows {
		if row.Formula == nil {
			continue
		}
		formulaNames = append(formulaNames, row.Name)
		free, ferr := resolver.FreeNames(e.lang, *row.Formula)
		if ferr != nil {
			e.observe("activity", "error", start)
			return ferr
		}
		for _, name := range free {
			l, known := layerOf[name]
			if !known {
				e.observe("activity", "error", start)
				return errors.MissingName(name, group)
			}
			switch l {
			case layerProject:
				usedProject = true
			case layerDatabase:
				usedDatabase = true
			}
			if other, isFormula := rowsByName[name]; isFormula && other.Formula != nil {
				dependsOn[row.Name] = append(dependsOn[row.Name], name)
			}
		}
	}

	order, err := topologicalOrder(formulaNames, dependsOn)
	if err != nil {
		e.observe("activity", "error", start)
		return errors.Integrity(err.Error())
	}

	for _, name := range order {
		row := rowsByName[name]
		val, everr := resolver.Evaluate(e.lang, *row.Formula, symtab)
		if everr != nil {
			e.observe("activity", "error", start)
			return errors.Evaluation(*row.Formula, everr)
		}
		symtab[name] = val
		if err := e.store.SetActivityParameterAmount(ctx, group, name, &val); err != nil {
			e.observe("activity", "error", start)
			return err
		}
	}

	if usedProject {
		if err := e.graph.EnsureDependency(ctx, group, ReservedProjectGroup, e.databases); err != nil {
			return err
		}
	}
	if usedDatabase && database != "" {
		if err := e.graph.EnsureDependency(ctx, group, database, e.databases); err != nil {
			return err
		}
	}

	if err := e.registry.Freshen(ctx, group); err != nil {
		return err
	}
	if err := e.expireDownstream(ctx, group); err != nil {
		return err
	}

	e.observe("activity", "ok", start)
	e.logScope("activity", group, len(ownRows), start)
	return nil
}

// layeredSymbolTable assembles the §4.5 layered symbol table for activity
// group g: project, then g's database, then each group named in g.Order (in
// order), then g's own amounts. It returns the merged table, a map from
// name to the layer that last wrote it, and the database name g belongs to
// (taken from any one of g's own ActivityParameter rows, since all rows in
// a group share the same database per invariant 4).
func (e *Engine) layeredSymbolTable(ctx context.Context, g Group) (resolver.SymbolTable, map[string]layer, string, error) {
	symtab := resolver.SymbolTable{}
	layerOf := map[string]layer{}

	projectRows, err := e.store.ListProjectParameters(ctx)
	if err != nil {
		return nil, nil, "", err
	}
	for _, row := range projectRows {
		symtab[row.Name] = amountValue(row.Amount)
		layerOf[row.Name] = layerProject
	}

	ownRows, err := e.store.ListActivityParameters(ctx, g.Name)
	if err != nil {
		return nil, nil, "", err
	}
	database := ""
	if len(ownRows) > 0 {
		database = ownRows[0].Database
	}

	if database != "" {
		dbRows, derr := e.store.ListDatabaseParameters(ctx, database)
		if derr != nil {
			return nil, nil, "", derr
		}
		for _, row := range dbRows {
			symtab[row.Name] = amountValue(row.Amount)
			layerOf[row.Name] = layerDatabase
		}
	}

	for _, inherited := range g.Order {
		inheritedRows, ierr := e.store.ListActivityParameters(ctx, inherited)
		if ierr != nil {
			return nil, nil, "", ierr
		}
		for _, row := range inheritedRows {
			symtab[row.Name] = amountValue(row.Amount)
			layerOf[row.Name] = layerInherited
		}
	}

	for _, row := range ownRows {
		symtab[row.Name] = amountValue(row.Amount)
		layerOf[row.Name] = layerOwn
	}

	return symtab, layerOf, database, nil
}

func (e *Engine) expireDownstream(ctx context.Context, name string) error {
	downstream, err := e.graph.Downstream(ctx, name)
	if err != nil {
		return err
	}
	for _, g := range downstream {
		if err := e.registry.Expire(ctx, g); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.GroupsStale.Inc()
		}
	}
	return nil
}

// Recalculate is the global recalculation pass: project, then each
// registered database, then each activity group, each visited only after
// every group it transitively depends on (per GroupDependency) has been
// visited.
func (e *Engine) Recalculate(ctx context.Context) error {
	if err := e.RecalculateProject(ctx); err != nil {
		return err
	}

	groups, err := e.store.ListGroups(ctx)
	if err != nil {
		return err
	}
	deps, err := e.store.ListDependencies(ctx)
	if err != nil {
		return err
	}

	var databases, activities []string
	for _, grp := range groups {
		if grp.Name == ReservedProjectGroup {
			continue
		}
		if e.databases != nil && e.databases.IsRegisteredDatabase(grp.Name) {
			databases = append(databases, grp.Name)
		} else {
			activities = append(activities, grp.Name)
		}
	}

	for _, db := range databases {
		if err := e.RecalculateDatabase(ctx, db); err != nil {
			return err
		}
	}

	order, err := topologicalGroupOrder(activities, deps)
	if err != nil {
		return errors.Integrity(err.Error())
	}
	for _, group := range order {
		if err := e.RecalculateActivity(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

// topologicalOrder returns nodes ordered so that every entry in
// dependsOn[n] precedes n. It fails if dependsOn describes a cycle.
func topologicalOrder(nodes []string, dependsOn map[string][]string) ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var order []string

	var visit func(string) error
	visit = func(n string) error {
		switch state[n] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("circular formula dependency involving %q", n)
		}
		state[n] = visiting
		for _, dep := range dependsOn[n] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[n] = done
		order = append(order, n)
		return nil
	}

	for _, n := range nodes {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// topologicalGroupOrder orders activity group names so that every group g
// appears only after every group it depends on (per deps, restricted to
// edges whose "depends" side is itself one of the given groups).
func topologicalGroupOrder(groups []string, deps []GroupDependency) ([]string, error) {
	dependsOn := map[string][]string{}
	isActivity := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		isActivity[g] = struct{}{}
	}
	for _, d := range deps {
		if _, ok := isActivity[d.Group]; !ok {
			continue
		}
		if _, ok := isActivity[d.Depends]; !ok {
			continue
		}
		dependsOn[d.Group] = append(dependsOn[d.Group], d.Depends)
	}
	return topologicalOrder(groups, dependsOn)
}
