// Package postgres implements domain/parameters.Store against PostgreSQL.
// Every mutating method performs its row write and the owning group's
// fresh=false/updated=now() side effect inside one transaction, using the
// BaseStore transaction helper shared by every table in this store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/brightway-tools/paramengine/domain/parameters"
	errs "github.com/brightway-tools/paramengine/infrastructure/errors"
	"github.com/brightway-tools/paramengine/pkg/metrics"
	basestore "github.com/brightway-tools/paramengine/pkg/storage/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store implements parameters.Store backed by PostgreSQL.
type Store struct {
	groups    *basestore.BaseStore
	deps      *basestore.BaseStore
	project   *basestore.BaseStore
	database  *basestore.BaseStore
	activity  *basestore.BaseStore
	exchanges *basestore.BaseStore
	metrics   *metrics.Metrics
}

var _ parameters.Store = (*Store)(nil)

// New creates a Store using the provided database handle. m may be nil.
func New(db *sql.DB, m *metrics.Metrics) *Store {
	return &Store{
		groups:    basestore.NewBaseStore(db),
		deps:      basestore.NewBaseStore(db),
		project:   basestore.NewBaseStore(db),
		database:  basestore.NewBaseStore(db),
		activity:  basestore.NewBaseStore(db),
		exchanges: basestore.NewBaseStore(db),
		metrics:   m,
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) integrity(invariant, reason string) *errs.EngineError {
	if s.metrics != nil {
		s.metrics.IntegrityViolationsTotal.WithLabelValues(invariant).Inc()
	}
	return errs.Integrity(reason)
}

func (s *Store) integrityWrap(invariant, reason string, err error) *errs.EngineError {
	if s.metrics != nil {
		s.metrics.IntegrityViolationsTotal.WithLabelValues(invariant).Inc()
	}
	return errs.IntegrityWrap(reason, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	return false
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func marshalBag(bag parameters.AttributeBag) ([]byte, error) {
	if bag == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(bag)
}

func unmarshalBag(raw []byte) parameters.AttributeBag {
	if len(raw) == 0 {
		return nil
	}
	var bag parameters.AttributeBag
	_ = json.Unmarshal(raw, &bag)
	return bag
}

// --- Group and dependency bookkeeping shared by every table's mutate path ---

func (s *Store) touchGroup(ctx context.Context, name string) error {
	_, err := s.groups.ExecContext(ctx, `
		INSERT INTO groups (id, name, fresh, updated)
		VALUES ($1, $2, false, now())
		ON CONFLICT (name) DO UPDATE SET fresh = false, updated = now()
	`, uuid.NewString(), name)
	return err
}

func (s *Store) getGroup(ctx context.Context, name string) (parameters.Group, bool, error) {
	row := s.groups.QueryRowContext(ctx, `
		SELECT name, fresh, updated, "order" FROM groups WHERE name = $1
	`, name)
	var (
		gname   string
		fresh   bool
		updated time.Time
		order   pq.StringArray
	)
	if err := row.Scan(&gname, &fresh, &updated, &order); err != nil {
		if err == sql.ErrNoRows {
			return parameters.Group{}, false, nil
		}
		return parameters.Group{}, false, err
	}
	return parameters.Group{Name: gname, Fresh: fresh, Updated: updated, Order: []string(order)}, true, nil
}

// --- GroupStore -------------------------------------------------------------

func (s *Store) GetOrCreateGroup(ctx context.Context, name string) (parameters.Group, error) {
	var g parameters.Group
	err := s.groups.WithTx(ctx, func(txCtx context.Context) error {
		existing, ok, err := s.getGroup(txCtx, name)
		if err != nil {
			return err
		}
		if ok {
			g = existing
			return nil
		}
		if _, err := s.groups.ExecContext(txCtx, `
			INSERT INTO groups (id, name, fresh, updated) VALUES ($1, $2, false, now())
		`, uuid.NewString(), name); err != nil {
			return err
		}
		created, _, err := s.getGroup(txCtx, name)
		if err != nil {
			return err
		}
		g = created
		return nil
	})
	return g, err
}

func (s *Store) GetGroup(ctx context.Context, name string) (parameters.Group, bool, error) {
	return s.getGroup(ctx, name)
}

func (s *Store) SetFresh(ctx context.Context, name string, fresh bool) error {
	return s.groups.WithTx(ctx, func(txCtx context.Context) error {
		res, err := s.groups.ExecContext(txCtx, `UPDATE groups SET fresh = $2 WHERE name = $1`, name, fresh)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = s.groups.ExecContext(txCtx, `
			INSERT INTO groups (id, name, fresh, updated) VALUES ($1, $2, $3, now())
		`, uuid.NewString(), name, fresh)
		return err
	})
}

func (s *Store) SetOrder(ctx context.Context, name string, order []string) error {
	return s.groups.WithTx(ctx, func(txCtx context.Context) error {
		res, err := s.groups.ExecContext(txCtx, `UPDATE groups SET "order" = $2 WHERE name = $1`, name, pq.Array(order))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = s.groups.ExecContext(txCtx, `
			INSERT INTO groups (id, name, fresh, updated, "order") VALUES ($1, $2, false, now(), $3)
		`, uuid.NewString(), name, pq.Array(order))
		return err
	})
}

func (s *Store) DeleteGroup(ctx context.Context, name string) error {
	_, err := s.groups.ExecContext(ctx, `DELETE FROM groups WHERE name = $1`, name)
	return err
}

func (s *Store) ListGroups(ctx context.Context) ([]parameters.Group, error) {
	rows, err := s.groups.QueryContext(ctx, `SELECT name, fresh, updated, "order" FROM groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []parameters.Group
	for rows.Next() {
		var (
			name    string
			fresh   bool
			updated time.Time
			order   pq.StringArray
		)
		if err := rows.Scan(&name, &fresh, &updated, &order); err != nil {
			return nil, err
		}
		out = append(out, parameters.Group{Name: name, Fresh: fresh, Updated: updated, Order: []string(order)})
	}
	return out, rows.Err()
}

// --- DependencyStore ---------------------------------------------------------

func (s *Store) AddDependency(ctx context.Context, group, depends string) error {
	if group == depends {
		return s.integrity("self-edge", "self-dependency is not allowed")
	}
	cyclic, err := s.HasPath(ctx, depends, group)
	if err != nil {
		return err
	}
	if cyclic {
		return s.integrity("cycle", "edge would close a cycle")
	}
	_, err = s.deps.ExecContext(ctx, `
		INSERT INTO group_dependencies (id, group_name, depends_name) VALUES ($1, $2, $3)
	`, uuid.NewString(), group, depends)
	if err != nil {
		if isUniqueViolation(err) {
			return s.integrityWrap("duplicate-edge", "duplicate dependency edge", err)
		}
		return err
	}
	return nil
}

func (s *Store) HasEdge(ctx context.Context, group, depends string) (bool, error) {
	var exists bool
	err := s.deps.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM group_dependencies WHERE group_name = $1 AND depends_name = $2)
	`, group, depends).Scan(&exists)
	return exists, err
}

func (s *Store) HasPath(ctx context.Context, from, to string) (bool, error) {
	var exists bool
	err := s.deps.QueryRowContext(ctx, `
		WITH RECURSIVE reachable(name) AS (
			SELECT depends_name FROM group_dependencies WHERE group_name = $1
			UNION
			SELECT gd.depends_name FROM group_dependencies gd JOIN reachable r ON gd.group_name = r.name
		)
		SELECT EXISTS(SELECT 1 FROM reachable WHERE name = $2)
	`, from, to).Scan(&exists)
	return exists, err
}

func (s *Store) Downstream(ctx context.Context, name string) ([]string, error) {
	rows, err := s.deps.QueryContext(ctx, `
		WITH RECURSIVE down(name) AS (
			SELECT group_name FROM group_dependencies WHERE depends_name = $1
			UNION
			SELECT gd.group_name FROM group_dependencies gd JOIN down d ON gd.depends_name = d.name
		)
		SELECT name FROM down ORDER BY name
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) RemoveGroupEdges(ctx context.Context, name string) error {
	_, err := s.deps.ExecContext(ctx, `DELETE FROM group_dependencies WHERE group_name = $1 OR depends_name = $1`, name)
	return err
}

func (s *Store) ListDependencies(ctx context.Context) ([]parameters.GroupDependency, error) {
	rows, err := s.deps.QueryContext(ctx, `SELECT group_name, depends_name FROM group_dependencies ORDER BY group_name, depends_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []parameters.GroupDependency
	for rows.Next() {
		var d parameters.GroupDependency
		if err := rows.Scan(&d.Group, &d.Depends); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- ProjectParameterStore ---------------------------------------------------

func scanProjectParameter(row scanner) (parameters.ProjectParameter, error) {
	var (
		p       parameters.ProjectParameter
		amount  sql.NullFloat64
		formula sql.NullString
		data    []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &amount, &formula, &data); err != nil {
		return parameters.ProjectParameter{}, err
	}
	if amount.Valid {
		v := amount.Float64
		p.Amount = &v
	}
	if formula.Valid {
		v := formula.String
		p.Formula = &v
	}
	p.Data = unmarshalBag(data)
	return p, nil
}

func (s *Store) CreateProjectParameter(ctx context.Context, p parameters.ProjectParameter) (parameters.ProjectParameter, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	data, err := marshalBag(p.Data)
	if err != nil {
		return parameters.ProjectParameter{}, err
	}
	err = s.groups.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.project.ExecContext(txCtx, `
			INSERT INTO project_parameters (id, name, amount, formula, data) VALUES ($1, $2, $3, $4, $5)
		`, p.ID, p.Name, nullFloat(p.Amount), nullString(p.Formula), data); err != nil {
			if isUniqueViolation(err) {
				return s.integrityWrap("project-parameter-name", "project parameter name already exists: "+p.Name, err)
			}
			return err
		}
		return s.touchGroup(txCtx, parameters.ReservedProjectGroup)
	})
	if err != nil {
		return parameters.ProjectParameter{}, err
	}
	return p, nil
}

func (s *Store) UpdateProjectParameter(ctx context.Context, p parameters.ProjectParameter) (parameters.ProjectParameter, error) {
	data, err := marshalBag(p.Data)
	if err != nil {
		return parameters.ProjectParameter{}, err
	}
	err = s.groups.WithTx(ctx, func(txCtx context.Context) error {
		res, err := s.project.ExecContext(txCtx, `
			UPDATE project_parameters SET amount = $2, formula = $3, data = $4 WHERE name = $1
		`, p.Name, nullFloat(p.Amount), nullString(p.Formula), data)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.integrity("project-parameter-exists", "project parameter does not exist: "+p.Name)
		}
		return s.touchGroup(txCtx, parameters.ReservedProjectGroup)
	})
	if err != nil {
		return parameters.ProjectParameter{}, err
	}
	return p, nil
}

func (s *Store) GetProjectParameter(ctx context.Context, name string) (parameters.ProjectParameter, bool, error) {
	row := s.project.QueryRowContext(ctx, `
		SELECT id, name, amount, formula, data FROM project_parameters WHERE name = $1
	`, name)
	p, err := scanProjectParameter(row)
	if err == sql.ErrNoRows {
		return parameters.ProjectParameter{}, false, nil
	}
	if err != nil {
		return parameters.ProjectParameter{}, false, err
	}
	return p, true, nil
}

func (s *Store) DeleteProjectParameter(ctx context.Context, name string) error {
	return s.groups.WithTx(ctx, func(txCtx context.Context) error {
		res, err := s.project.ExecContext(txCtx, `DELETE FROM project_parameters WHERE name = $1`, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.integrity("project-parameter-exists", "project parameter does not exist: "+name)
		}
		return s.touchGroup(txCtx, parameters.ReservedProjectGroup)
	})
}

func (s *Store) ListProjectParameters(ctx context.Context) ([]parameters.ProjectParameter, error) {
	rows, err := s.project.QueryContext(ctx, `SELECT id, name, amount, formula, data FROM project_parameters ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []parameters.ProjectParameter
	for rows.Next() {
		p, err := scanProjectParameter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountProjectParameters(ctx context.Context) (int, error) {
	var n int
	err := s.project.QueryRowContext(ctx, `SELECT count(*) FROM project_parameters`).Scan(&n)
	return n, err
}

func (s *Store) SetProjectParameterAmount(ctx context.Context, name string, amount *float64) error {
	_, err := s.project.ExecContext(ctx, `UPDATE project_parameters SET amount = $2 WHERE name = $1`, name, nullFloat(amount))
	return err
}

// --- DatabaseParameterStore ---------------------------------------------------

func scanDatabaseParameter(row scanner) (parameters.DatabaseParameter, error) {
	var (
		p       parameters.DatabaseParameter
		amount  sql.NullFloat64
		formula sql.NullString
		data    []byte
	)
	if err := row.Scan(&p.ID, &p.Database, &p.Name, &amount, &formula, &data); err != nil {
		return parameters.DatabaseParameter{}, err
	}
	if amount.Valid {
		v := amount.Float64
		p.Amount = &v
	}
	if formula.Valid {
		v := formula.String
		p.Formula = &v
	}
	p.Data = unmarshalBag(data)
	return p, nil
}

func (s *Store) CreateDatabaseParameter(ctx context.Context, p parameters.DatabaseParameter) (parameters.DatabaseParameter, error) {
	if p.Database == parameters.ReservedProjectGroup {
		return parameters.DatabaseParameter{}, s.integrity("database-reserved", `"project" is reserved and may not be used as a database name`)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	data, err := marshalBag(p.Data)
	if err != nil {
		return parameters.DatabaseParameter{}, err
	}
	err = s.groups.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.database.ExecContext(txCtx, `
			INSERT INTO database_parameters (id, database, name, amount, formula, data) VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ID, p.Database, p.Name, nullFloat(p.Amount), nullString(p.Formula), data); err != nil {
			if isUniqueViolation(err) {
				return s.integrityWrap("database-parameter-name", "database parameter name already exists: "+p.Database+"."+p.Name, err)
			}
			return err
		}
		return s.touchGroup(txCtx, p.Database)
	})
	if err != nil {
		return parameters.DatabaseParameter{}, err
	}
	return p, nil
}

func (s *Store) UpdateDatabaseParameter(ctx context.Context, p parameters.DatabaseParameter) (parameters.DatabaseParameter, error) {
	data, err := marshalBag(p.Data)
	if err != nil {
		return parameters.DatabaseParameter{}, err
	}
	err = s.groups.WithTx(ctx, func(txCtx context.Context) error {
		res, err := s.database.ExecContext(txCtx, `
			UPDATE database_parameters SET amount = $3, formula = $4, data = $5 WHERE database = $1 AND name = $2
		`, p.Database, p.Name, nullFloat(p.Amount), nullString(p.Formula), data)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.integrity("database-parameter-exists", "database parameter does not exist: "+p.Database+"."+p.Name)
		}
		return s.touchGroup(txCtx, p.Database)
	})
	if err != nil {
		return parameters.DatabaseParameter{}, err
	}
	return p, nil
}

func (s *Store) GetDatabaseParameter(ctx context.Context, database, name string) (parameters.DatabaseParameter, bool, error) {
	row := s.database.QueryRowContext(ctx, `
		SELECT id, database, name, amount, formula, data FROM database_parameters WHERE database = $1 AND name = $2
	`, database, name)
	p, err := scanDatabaseParameter(row)
	if err == sql.ErrNoRows {
		return parameters.DatabaseParameter{}, false, nil
	}
	if err != nil {
		return parameters.DatabaseParameter{}, false, err
	}
	return p, true, nil
}

func (s *Store) DeleteDatabaseParameter(ctx context.Context, database, name string) error {
	return s.groups.WithTx(ctx, func(txCtx context.Context) error {
		res, err := s.database.ExecContext(txCtx, `DELETE FROM database_parameters WHERE database = $1 AND name = $2`, database, name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.integrity("database-parameter-exists", "database parameter does not exist: "+database+"."+name)
		}
		return s.touchGroup(txCtx, database)
	})
}

func (s *Store) ListDatabaseParameters(ctx context.Context, database string) ([]parameters.DatabaseParameter, error) {
	rows, err := s.database.QueryContext(ctx, `
		SELECT id, database, name, amount, formula, data FROM database_parameters WHERE database = $1 ORDER BY name
	`, database)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []parameters.DatabaseParameter
	for rows.Next() {
		p, err := scanDatabaseParameter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountDatabaseParameters(ctx context.Context) (int, error) {
	var n int
	err := s.database.QueryRowContext(ctx, `SELECT count(*) FROM database_parameters`).Scan(&n)
	return n, err
}

func (s *Store) SetDatabaseParameterAmount(ctx context.Context, database, name string, amount *float64) error {
	_, err := s.database.ExecContext(ctx, `
		UPDATE database_parameters SET amount = $3 WHERE database = $1 AND name = $2
	`, database, name, nullFloat(amount))
	return err
}

// --- ActivityParameterStore ---------------------------------------------------

func scanActivityParameter(row scanner) (parameters.ActivityParameter, error) {
	var (
		p       parameters.ActivityParameter
		amount  sql.NullFloat64
		formula sql.NullString
		data    []byte
	)
	if err := row.Scan(&p.ID, &p.Group, &p.Database, &p.Code, &p.Name, &amount, &formula, &data); err != nil {
		return parameters.ActivityParameter{}, err
	}
	if amount.Valid {
		v := amount.Float64
		p.Amount = &v
	}
	if formula.Valid {
		v := formula.String
		p.Formula = &v
	}
	p.Data = unmarshalBag(data)
	return p, nil
}

// groupDatabase returns the database already owned by group, from any row
// other than the one identified by (excludeDatabase, excludeCode), and
// whether such a row exists. Invariant 4 requires every row in a group to
// share one database; Create/UpdateActivityParameter use this to reject a
// write that would split a group across databases.
func (s *Store) groupDatabase(ctx context.Context, group, excludeDatabase, excludeCode string) (string, bool, error) {
	var db string
	err := s.activity.QueryRowContext(ctx, `
		SELECT database FROM activity_parameters
		WHERE group_name = $1 AND NOT (database = $2 AND code = $3)
		LIMIT 1
	`, group, excludeDatabase, excludeCode).Scan(&db)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return db, true, nil
}

func (s *Store) CreateActivityParameter(ctx context.Context, p parameters.ActivityParameter) (parameters.ActivityParameter, error) {
	if p.Group == parameters.ReservedProjectGroup {
		return parameters.ActivityParameter{}, s.integrity("activity-group-reserved", `"project" is reserved and may not be used as an activity parameter group`)
	}
	if p.Database == parameters.ReservedProjectGroup {
		return parameters.ActivityParameter{}, s.integrity("database-reserved", `"project" is reserved and may not be used as a database name`)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	data, err := marshalBag(p.Data)
	if err != nil {
		return parameters.ActivityParameter{}, err
	}
	err = s.groups.WithTx(ctx, func(txCtx context.Context) error {
		if existingDB, ok, derr := s.groupDatabase(txCtx, p.Group, p.Database, p.Code); derr != nil {
			return derr
		} else if ok && existingDB != p.Database {
			return s.integrity("activity-group-crossdatabase", fmt.Sprintf(
				"activity group %q already owns parameters in database %q, cannot add a row in %q", p.Group, existingDB, p.Database))
		}
		if _, err := s.activity.ExecContext(txCtx, `
			INSERT INTO activity_parameters (id, group_name, database, code, name, amount, formula, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, p.ID, p.Group, p.Database, p.Code, p.Name, nullFloat(p.Amount), nullString(p.Formula), data); err != nil {
			if isUniqueViolation(err) {
				var pqErr *pq.Error
				if stderrors.As(err, &pqErr) && pqErr.Constraint == "uq_activity_parameters_group_name" {
					return s.integrityWrap("activity-parameter-group-name", "activity parameter name already exists in group: "+p.Group+"."+p.Name, err)
				}
				return s.integrityWrap("activity-parameter-code", "activity parameter already exists: "+p.Database+"."+p.Code, err)
			}
			return err
		}
		return s.touchGroup(txCtx, p.Group)
	})
	if err != nil {
		return parameters.ActivityParameter{}, err
	}
	return p, nil
}

func (s *Store) UpdateActivityParameter(ctx context.Context, p parameters.ActivityParameter) (parameters.ActivityParameter, error) {
	data, err := marshalBag(p.Data)
	if err != nil {
		return parameters.ActivityParameter{}, err
	}
	var result parameters.ActivityParameter
	err = s.groups.WithTx(ctx, func(txCtx context.Context) error {
		existing, serr := scanActivityParameter(s.activity.QueryRowContext(txCtx, `
			SELECT id, group_name, database, code, name, amount, formula, data
			FROM activity_parameters WHERE database = $1 AND code = $2
		`, p.Database, p.Code))
		if serr == sql.ErrNoRows {
			return s.integrity("activity-parameter-exists", "activity parameter does not exist: "+p.Database+"."+p.Code)
		}
		if serr != nil {
			return serr
		}

		if existingDB, ok, derr := s.groupDatabase(txCtx, p.Group, p.Database, p.Code); derr != nil {
			return derr
		} else if ok && existingDB != p.Database {
			return s.integrity("activity-group-crossdatabase", fmt.Sprintf(
				"activity group %q already owns parameters in database %q, cannot move a row in %q into it", p.Group, existingDB, p.Database))
		}

		res, uerr := s.activity.ExecContext(txCtx, `
			UPDATE activity_parameters SET group_name = $3, name = $4, amount = $5, formula = $6, data = $7
			WHERE database = $1 AND code = $2
		`, p.Database, p.Code, p.Group, p.Name, nullFloat(p.Amount), nullString(p.Formula), data)
		if uerr != nil {
			if isUniqueViolation(uerr) {
				return s.integrityWrap("activity-parameter-group-name", "activity parameter name already exists in group: "+p.Group+"."+p.Name, uerr)
			}
			return uerr
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.integrity("activity-parameter-exists", "activity parameter does not exist: "+p.Database+"."+p.Code)
		}
		if err := s.touchGroup(txCtx, p.Group); err != nil {
			return err
		}
		if existing.Group != p.Group {
			if err := s.touchGroup(txCtx, existing.Group); err != nil {
				return err
			}
		}
		result = p
		result.ID = existing.ID
		return nil
	})
	if err != nil {
		return parameters.ActivityParameter{}, err
	}
	return result, nil
}

func (s *Store) GetActivityParameterByCode(ctx context.Context, database, code string) (parameters.ActivityParameter, bool, error) {
	row := s.activity.QueryRowContext(ctx, `
		SELECT id, group_name, database, code, name, amount, formula, data
		FROM activity_parameters WHERE database = $1 AND code = $2
	`, database, code)
	p, err := scanActivityParameter(row)
	if err == sql.ErrNoRows {
		return parameters.ActivityParameter{}, false, nil
	}
	if err != nil {
		return parameters.ActivityParameter{}, false, err
	}
	return p, true, nil
}

func (s *Store) GetActivityParameterByName(ctx context.Context, group, name string) (parameters.ActivityParameter, bool, error) {
	row := s.activity.QueryRowContext(ctx, `
		SELECT id, group_name, database, code, name, amount, formula, data
		FROM activity_parameters WHERE group_name = $1 AND name = $2
	`, group, name)
	p, err := scanActivityParameter(row)
	if err == sql.ErrNoRows {
		return parameters.ActivityParameter{}, false, nil
	}
	if err != nil {
		return parameters.ActivityParameter{}, false, err
	}
	return p, true, nil
}

func (s *Store) DeleteActivityParameter(ctx context.Context, database, code string) error {
	return s.groups.WithTx(ctx, func(txCtx context.Context) error {
		existing, serr := scanActivityParameter(s.activity.QueryRowContext(txCtx, `
			SELECT id, group_name, database, code, name, amount, formula, data
			FROM activity_parameters WHERE database = $1 AND code = $2
		`, database, code))
		if serr == sql.ErrNoRows {
			return s.integrity("activity-parameter-exists", "activity parameter does not exist: "+database+"."+code)
		}
		if serr != nil {
			return serr
		}
		if _, err := s.activity.ExecContext(txCtx, `DELETE FROM activity_parameters WHERE database = $1 AND code = $2`, database, code); err != nil {
			return err
		}
		return s.touchGroup(txCtx, existing.Group)
	})
}

func (s *Store) ListActivityParameters(ctx context.Context, group string) ([]parameters.ActivityParameter, error) {
	rows, err := s.activity.QueryContext(ctx, `
		SELECT id, group_name, database, code, name, amount, formula, data
		FROM activity_parameters WHERE group_name = $1 ORDER BY name
	`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []parameters.ActivityParameter
	for rows.Next() {
		p, err := scanActivityParameter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountActivityParameters(ctx context.Context) (int, error) {
	var n int
	err := s.activity.QueryRowContext(ctx, `SELECT count(*) FROM activity_parameters`).Scan(&n)
	return n, err
}

func (s *Store) SetActivityParameterAmount(ctx context.Context, group, name string, amount *float64) error {
	_, err := s.activity.ExecContext(ctx, `
		UPDATE activity_parameters SET amount = $3 WHERE group_name = $1 AND name = $2
	`, group, name, nullFloat(amount))
	return err
}

// --- ExchangeStore -------------------------------------------------------------

func (s *Store) UpsertParameterizedExchange(ctx context.Context, e parameters.ParameterizedExchange) (parameters.ParameterizedExchange, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := s.groups.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.exchanges.ExecContext(txCtx, `
			INSERT INTO parameterized_exchanges (id, group_name, exchange, formula)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (group_name, exchange) DO UPDATE SET formula = EXCLUDED.formula
		`, e.ID, e.Group, e.Exchange, e.Formula); err != nil {
			return err
		}
		return s.touchGroup(txCtx, e.Group)
	})
	if err != nil {
		return parameters.ParameterizedExchange{}, err
	}
	return e, nil
}

func (s *Store) ListParameterizedExchanges(ctx context.Context, group string) ([]parameters.ParameterizedExchange, error) {
	rows, err := s.exchanges.QueryContext(ctx, `
		SELECT id, group_name, exchange, formula FROM parameterized_exchanges WHERE group_name = $1 ORDER BY exchange
	`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []parameters.ParameterizedExchange
	for rows.Next() {
		var e parameters.ParameterizedExchange
		if err := rows.Scan(&e.ID, &e.Group, &e.Exchange, &e.Formula); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteParameterizedExchange(ctx context.Context, group string, exchange int64) error {
	return s.groups.WithTx(ctx, func(txCtx context.Context) error {
		if _, err := s.exchanges.ExecContext(txCtx, `DELETE FROM parameterized_exchanges WHERE group_name = $1 AND exchange = $2`, group, exchange); err != nil {
			return err
		}
		return s.touchGroup(txCtx, group)
	})
}
