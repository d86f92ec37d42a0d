// Package memory provides an in-memory implementation of
// domain/parameters.Store, used by domain-level tests and as the default
// backing store when no database DSN is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brightway-tools/paramengine/domain/parameters"
	"github.com/brightway-tools/paramengine/infrastructure/errors"
	"github.com/google/uuid"
)

// Store is a sync.RWMutex-guarded, map-based implementation of
// parameters.Store. It enforces the same invariants the PostgreSQL-backed
// store enforces at constraint level, just in Go instead of SQL.
type Store struct {
	mu sync.RWMutex

	groups       map[string]parameters.Group
	dependencies map[string]map[string]struct{} // group -> set of depends

	project  map[string]parameters.ProjectParameter            // name -> row
	database map[string]map[string]parameters.DatabaseParameter // database -> name -> row
	activity map[string]parameters.ActivityParameter            // (database|code) -> row, keyed by activityKey
	exchange map[string]map[int64]parameters.ParameterizedExchange
}

var _ parameters.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		groups:       make(map[string]parameters.Group),
		dependencies: make(map[string]map[string]struct{}),
		project:      make(map[string]parameters.ProjectParameter),
		database:     make(map[string]map[string]parameters.DatabaseParameter),
		activity:     make(map[string]parameters.ActivityParameter),
		exchange:     make(map[string]map[int64]parameters.ParameterizedExchange),
	}
}

func activityKey(database, code string) string {
	return database + "\x00" + code
}

// groupDatabaseLocked returns the database already owned by group (from any
// row other than excludeKey, if set), and whether such a row exists.
// Invariant 4 requires every row in a group to share one database; callers
// use this to reject a write that would split a group across databases.
// s.mu must already be held.
func (s *Store) groupDatabaseLocked(group, excludeKey string) (string, bool) {
	for key, p := range s.activity {
		if key == excludeKey {
			continue
		}
		if p.Group == group {
			return p.Database, true
		}
	}
	return "", false
}

// --- GroupStore --------------------------------------------------------

func (s *Store) GetOrCreateGroup(ctx context.Context, name string) (parameters.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.groups[name]; ok {
		return g, nil
	}
	g := parameters.Group{Name: name, Fresh: false, Updated: time.Now().UTC()}
	s.groups[name] = g
	return g, nil
}

func (s *Store) GetGroup(ctx context.Context, name string) (parameters.Group, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[name]
	return g, ok, nil
}

func (s *Store) SetFresh(ctx context.Context, name string, fresh bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		g = parameters.Group{Name: name}
	}
	g.Fresh = fresh
	s.groups[name] = g
	return nil
}

func (s *Store) SetOrder(ctx context.Context, name string, order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		g = parameters.Group{Name: name}
	}
	g.Order = append([]string(nil), order...)
	s.groups[name] = g
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, name)
	return nil
}

func (s *Store) ListGroups(ctx context.Context) ([]parameters.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]parameters.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// touchGroup is the mutate-path side effect: advance Updated and clear
// Fresh for the group owning a parameter write, in the same critical
// section as the row write (the in-memory analogue of "same transaction").
// Callers must hold s.mu already.
func (s *Store) touchGroup(name string) {
	g, ok := s.groups[name]
	if !ok {
		g = parameters.Group{Name: name}
	}
	g.Fresh = false
	g.Updated = time.Now().UTC()
	s.groups[name] = g
}

// --- DependencyStore -----------------------------------------------------

func (s *Store) AddDependency(ctx context.Context, group, depends string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group == depends {
		return errors.Integrity("self-dependency is not allowed")
	}
	if s.dependencies[group] != nil {
		if _, dup := s.dependencies[group][depends]; dup {
			return errors.Integrity("duplicate dependency edge")
		}
	}
	if s.hasPathLocked(depends, group) {
		return errors.Integrity("edge would close a cycle")
	}
	if s.dependencies[group] == nil {
		s.dependencies[group] = make(map[string]struct{})
	}
	s.dependencies[group][depends] = struct{}{}
	return nil
}

func (s *Store) HasEdge(ctx context.Context, group, depends string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dependencies[group][depends]
	return ok, nil
}

func (s *Store) HasPath(ctx context.Context, from, to string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasPathLocked(from, to), nil
}

func (s *Store) hasPathLocked(from, to string) bool {
	visited := map[string]bool{}
	var visit func(string) bool
	visit = func(n string) bool {
		if visited[n] {
			return false
		}
		visited[n] = true
		for next := range s.dependencies[n] {
			if next == to || visit(next) {
				return true
			}
		}
		return false
	}
	return visit(from)
}

func (s *Store) Downstream(ctx context.Context, name string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for group := range s.dependencies {
		if s.hasPathLocked(group, name) && group != name {
			out = append(out, group)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) RemoveGroupEdges(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dependencies, name)
	for group := range s.dependencies {
		delete(s.dependencies[group], name)
	}
	return nil
}

func (s *Store) ListDependencies(ctx context.Context) ([]parameters.GroupDependency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []parameters.GroupDependency
	for group, dependsSet := range s.dependencies {
		for depends := range dependsSet {
			out = append(out, parameters.GroupDependency{Group: group, Depends: depends})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Depends < out[j].Depends
	})
	return out, nil
}

// --- ProjectParameterStore -----------------------------------------------

func (s *Store) CreateProjectParameter(ctx context.Context, p parameters.ProjectParameter) (parameters.ProjectParameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.project[p.Name]; exists {
		return parameters.ProjectParameter{}, errors.Integrity("project parameter name already exists: " + p.Name)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.project[p.Name] = p
	s.touchGroup(parameters.ReservedProjectGroup)
	return p, nil
}

func (s *Store) UpdateProjectParameter(ctx context.Context, p parameters.ProjectParameter) (parameters.ProjectParameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.project[p.Name]
	if !ok {
		return parameters.ProjectParameter{}, errors.Integrity("project parameter does not exist: " + p.Name)
	}
	if p.ID == "" {
		p.ID = existing.ID
	}
	s.project[p.Name] = p
	s.touchGroup(parameters.ReservedProjectGroup)
	return p, nil
}

func (s *Store) GetProjectParameter(ctx context.Context, name string) (parameters.ProjectParameter, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.project[name]
	return p, ok, nil
}

func (s *Store) DeleteProjectParameter(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.project[name]; !ok {
		return errors.Integrity("project parameter does not exist: " + name)
	}
	delete(s.project, name)
	s.touchGroup(parameters.ReservedProjectGroup)
	return nil
}

func (s *Store) ListProjectParameters(ctx context.Context) ([]parameters.ProjectParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]parameters.ProjectParameter, 0, len(s.project))
	for _, p := range s.project {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CountProjectParameters(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.project), nil
}

func (s *Store) SetProjectParameterAmount(ctx context.Context, name string, amount *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.project[name]
	if !ok {
		return errors.Integrity("project parameter does not exist: " + name)
	}
	p.Amount = amount
	s.project[name] = p
	return nil
}

// --- DatabaseParameterStore -----------------------------------------------

func (s *Store) CreateDatabaseParameter(ctx context.Context, p parameters.DatabaseParameter) (parameters.DatabaseParameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Database == parameters.ReservedProjectGroup {
		return parameters.DatabaseParameter{}, errors.Integrity(`"project" is reserved and may not be used as a database name`)
	}
	rows := s.database[p.Database]
	if rows == nil {
		rows = make(map[string]parameters.DatabaseParameter)
		s.database[p.Database] = rows
	}
	if _, exists := rows[p.Name]; exists {
		return parameters.DatabaseParameter{}, errors.Integrity("database parameter already exists: " + p.Database + "." + p.Name)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	rows[p.Name] = p
	s.touchGroup(p.Database)
	return p, nil
}

func (s *Store) UpdateDatabaseParameter(ctx context.Context, p parameters.DatabaseParameter) (parameters.DatabaseParameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.database[p.Database]
	existing, ok := rows[p.Name]
	if !ok {
		return parameters.DatabaseParameter{}, errors.Integrity("database parameter does not exist: " + p.Database + "." + p.Name)
	}
	if p.ID == "" {
		p.ID = existing.ID
	}
	rows[p.Name] = p
	s.touchGroup(p.Database)
	return p, nil
}

func (s *Store) GetDatabaseParameter(ctx context.Context, database, name string) (parameters.DatabaseParameter, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.database[database][name]
	return p, ok, nil
}

func (s *Store) DeleteDatabaseParameter(ctx context.Context, database, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.database[database]
	if _, ok := rows[name]; !ok {
		return errors.Integrity("database parameter does not exist: " + database + "." + name)
	}
	delete(rows, name)
	s.touchGroup(database)
	return nil
}

func (s *Store) ListDatabaseParameters(ctx context.Context, database string) ([]parameters.DatabaseParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.database[database]
	out := make([]parameters.DatabaseParameter, 0, len(rows))
	for _, p := range rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CountDatabaseParameters(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rows := range s.database {
		n += len(rows)
	}
	return n, nil
}

func (s *Store) SetDatabaseParameterAmount(ctx context.Context, database, name string, amount *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.database[database]
	p, ok := rows[name]
	if !ok {
		return errors.Integrity("database parameter does not exist: " + database + "." + name)
	}
	p.Amount = amount
	rows[name] = p
	return nil
}

// --- ActivityParameterStore ------------------------------------------------

func (s *Store) CreateActivityParameter(ctx context.Context, p parameters.ActivityParameter) (parameters.ActivityParameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Group == parameters.ReservedProjectGroup {
		return parameters.ActivityParameter{}, errors.Integrity(`"project" is reserved and may not be used as an activity parameter group`)
	}
	if p.Database == parameters.ReservedProjectGroup {
		return parameters.ActivityParameter{}, errors.Integrity(`"project" is reserved and may not be used as a database name`)
	}

	key := activityKey(p.Database, p.Code)
	if _, exists := s.activity[key]; exists {
		return parameters.ActivityParameter{}, errors.Integrity("activity parameter (database, code) already owned by a group: " + key)
	}
	for _, existing := range s.activity {
		if existing.Group == p.Group && existing.Name == p.Name {
			return parameters.ActivityParameter{}, errors.Integrity("activity parameter (group, name) already exists: " + p.Group + "." + p.Name)
		}
	}
	if db, ok := s.groupDatabaseLocked(p.Group, key); ok && db != p.Database {
		return parameters.ActivityParameter{}, errors.Integrity("activity group " + p.Group + " already owns parameters in database " + db + ", cannot add a row in " + p.Database)
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.activity[key] = p
	s.touchGroup(p.Group)
	return p, nil
}

func (s *Store) UpdateActivityParameter(ctx context.Context, p parameters.ActivityParameter) (parameters.ActivityParameter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activityKey(p.Database, p.Code)
	existing, ok := s.activity[key]
	if !ok {
		return parameters.ActivityParameter{}, errors.Integrity("activity parameter does not exist: " + key)
	}
	if existing.Database != p.Database || existing.Code != p.Code {
		return parameters.ActivityParameter{}, errors.Integrity("database and code are immutable on an activity parameter")
	}
	for k, other := range s.activity {
		if k != key && other.Group == p.Group && other.Name == p.Name {
			return parameters.ActivityParameter{}, errors.Integrity("activity parameter (group, name) already exists: " + p.Group + "." + p.Name)
		}
	}
	if db, ok := s.groupDatabaseLocked(p.Group, key); ok && db != p.Database {
		return parameters.ActivityParameter{}, errors.Integrity("activity group " + p.Group + " already owns parameters in database " + db + ", cannot move a row in " + p.Database + " into it")
	}

	if p.ID == "" {
		p.ID = existing.ID
	}
	s.activity[key] = p
	s.touchGroup(p.Group)
	if existing.Group != p.Group {
		s.touchGroup(existing.Group)
	}
	return p, nil
}

func (s *Store) GetActivityParameterByCode(ctx context.Context, database, code string) (parameters.ActivityParameter, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.activity[activityKey(database, code)]
	return p, ok, nil
}

func (s *Store) GetActivityParameterByName(ctx context.Context, group, name string) (parameters.ActivityParameter, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.activity {
		if p.Group == group && p.Name == name {
			return p, true, nil
		}
	}
	return parameters.ActivityParameter{}, false, nil
}

func (s *Store) DeleteActivityParameter(ctx context.Context, database, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := activityKey(database, code)
	p, ok := s.activity[key]
	if !ok {
		return errors.Integrity("activity parameter does not exist: " + key)
	}
	delete(s.activity, key)
	s.touchGroup(p.Group)
	return nil
}

func (s *Store) ListActivityParameters(ctx context.Context, group string) ([]parameters.ActivityParameter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []parameters.ActivityParameter
	for _, p := range s.activity {
		if p.Group == group {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CountActivityParameters(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activity), nil
}

func (s *Store) SetActivityParameterAmount(ctx context.Context, group, name string, amount *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, p := range s.activity {
		if p.Group == group && p.Name == name {
			p.Amount = amount
			s.activity[key] = p
			return nil
		}
	}
	return errors.Integrity("activity parameter does not exist: " + group + "." + name)
}

// --- ExchangeStore ----------------------------------------------------------

func (s *Store) UpsertParameterizedExchange(ctx context.Context, e parameters.ParameterizedExchange) (parameters.ParameterizedExchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.exchange[e.Group]
	if rows == nil {
		rows = make(map[int64]parameters.ParameterizedExchange)
		s.exchange[e.Group] = rows
	}
	if e.ID == "" {
		if existing, ok := rows[e.Exchange]; ok {
			e.ID = existing.ID
		} else {
			e.ID = uuid.NewString()
		}
	}
	rows[e.Exchange] = e
	s.touchGroup(e.Group)
	return e, nil
}

func (s *Store) ListParameterizedExchanges(ctx context.Context, group string) ([]parameters.ParameterizedExchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.exchange[group]
	out := make([]parameters.ParameterizedExchange, 0, len(rows))
	for _, e := range rows {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out, nil
}

func (s *Store) DeleteParameterizedExchange(ctx context.Context, group string, exchange int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.exchange[group]
	if _, ok := rows[exchange]; !ok {
		return errors.Integrity("parameterized exchange does not exist")
	}
	delete(rows, exchange)
	s.touchGroup(group)
	return nil
}
