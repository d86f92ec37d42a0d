package parameters_test

import (
	"context"
	"testing"

	"github.com/brightway-tools/paramengine/domain/parameters"
	"github.com/brightway-tools/paramengine/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectTableStaticAndLoad(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mgr := parameters.NewManager(store, newFakeDatabases(), nil, nil, nil)

	require.NoError(t, mgr.NewProjectParameters(ctx, []parameters.ProjectParameter{
		{Name: "foo", Amount: ptr(3.14)},
	}))
	require.NoError(t, mgr.NewProjectParameters(ctx, []parameters.ProjectParameter{
		{Name: "bar", Formula: strp("2 * foo")},
	}))

	static, err := mgr.Projects.Static(ctx, nil)
	require.NoError(t, err)
	assert.InDelta(t, 3.14, static["foo"].(float64), 1e-9)
	assert.InDelta(t, 6.28, static["bar"].(float64), 1e-9)

	only, err := mgr.Projects.Static(ctx, []string{"foo"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"foo": 3.14}, only)

	loaded, err := mgr.Projects.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, loaded, "foo")
	assert.Equal(t, 3.14, loaded["foo"]["amount"])
	_, hasFormula := loaded["foo"]["formula"]
	assert.False(t, hasFormula)

	expired, err := mgr.Projects.Expired(ctx)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestProjectTableStaticIncludesNullAmount(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mgr := parameters.NewManager(store, newFakeDatabases(), nil, nil, nil)

	require.NoError(t, mgr.NewProjectParameters(ctx, []parameters.ProjectParameter{
		{Name: "foo", Amount: ptr(3.14)},
	}))
	require.NoError(t, store.SetFresh(ctx, parameters.ReservedProjectGroup, false))
	_, err := store.CreateProjectParameter(ctx, parameters.ProjectParameter{Name: "bar", Formula: strp("2 * foo")})
	require.NoError(t, err)

	static, err := mgr.Projects.Static(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"foo": 3.14, "bar": nil}, static)
}

func TestDatabaseTableExpired(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mgr := parameters.NewManager(store, newFakeDatabases("B"), nil, nil, nil)

	expired, err := mgr.Databases.Expired(ctx, "B")
	require.NoError(t, err)
	assert.True(t, expired, "a database with no group row is never fresh")

	require.NoError(t, mgr.NewDatabaseParameters(ctx, []parameters.DatabaseParameter{
		{Name: "foo", Amount: ptr(1)},
	}, "B"))

	expired, err = mgr.Databases.Expired(ctx, "B")
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestActivityTableLoadAndRecalculate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mgr := parameters.NewManager(store, newFakeDatabases("B"), nil, nil, nil)

	require.NoError(t, mgr.NewActivityParameters(ctx, []parameters.ActivityParameter{
		{Database: "B", Code: "c1", Name: "D", Amount: ptr(2)},
		{Database: "B", Code: "c2", Name: "E", Formula: strp("D * 3")},
	}, "A"))

	loaded, err := mgr.Activities.Load(ctx, "A")
	require.NoError(t, err)
	assert.InDelta(t, 6, loaded["E"]["amount"].(float64), 1e-9)

	require.NoError(t, store.SetFresh(ctx, "A", false))
	require.NoError(t, mgr.Activities.Recalculate(ctx, "A"))

	expired, err := mgr.Activities.Expired(ctx, "A")
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestExchangeTableLoad(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mgr := parameters.NewManager(store, newFakeDatabases(), nil, nil, nil)

	_, err := store.UpsertParameterizedExchange(ctx, parameters.ParameterizedExchange{
		Group: "A", Exchange: 42, Formula: "foo * 2",
	})
	require.NoError(t, err)

	loaded, err := mgr.Exchanges.Load(ctx, "A")
	require.NoError(t, err)
	require.Contains(t, loaded, "42")
	assert.Equal(t, "foo * 2", loaded["42"]["formula"])
}
