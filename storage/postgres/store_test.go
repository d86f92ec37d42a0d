package postgres_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brightway-tools/paramengine/domain/parameters"
	"github.com/brightway-tools/paramengine/infrastructure/errors"
	"github.com/brightway-tools/paramengine/storage/postgres"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniqueViolation builds a *pq.Error with the Postgres unique_violation SQLSTATE.
func uniqueViolation() *pq.Error {
	return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
}

func newMockStore(t *testing.T) (*postgres.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return postgres.New(db, nil), mock
}

func TestCreateProjectParameterTouchesGroup(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO project_parameters")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO groups")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	amount := 3.14
	_, err := store.CreateProjectParameter(ctx, parameters.ProjectParameter{Name: "foo", Amount: &amount})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProjectParameterDuplicateNameIsIntegrityError(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO project_parameters")).
		WillReturnError(uniqueViolation())
	mock.ExpectRollback()

	_, err := store.CreateProjectParameter(ctx, parameters.ProjectParameter{Name: "foo"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProjectParameterNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, amount, formula, data FROM project_parameters")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "amount", "formula", "data"}))

	_, ok, err := store.GetProjectParameter(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateActivityParameterRowNotFoundIsIntegrityError(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, group_name, database, code, name, amount, formula, data")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "group_name", "database", "code", "name", "amount", "formula", "data"}))
	mock.ExpectRollback()

	_, err := store.UpdateActivityParameter(ctx, parameters.ActivityParameter{Database: "B", Code: "missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateActivityParameterRejectsCrossDatabaseSplit(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT database FROM activity_parameters")).
		WillReturnRows(sqlmock.NewRows([]string{"database"}).AddRow("B"))
	mock.ExpectRollback()

	_, err := store.CreateActivityParameter(ctx, parameters.ActivityParameter{
		Group: "A", Database: "OTHER", Code: "c2", Name: "n2",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddDependencySelfEdgeRejected(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	err := store.AddDependency(ctx, "A", "A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddDependencyCycleRejected(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("WITH RECURSIVE reachable")).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := store.AddDependency(ctx, "A", "B")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
	require.NoError(t, mock.ExpectationsWereMet())
}
