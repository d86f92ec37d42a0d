package memory_test

import (
	"context"
	"testing"

	"github.com/brightway-tools/paramengine/domain/parameters"
	"github.com/brightway-tools/paramengine/infrastructure/errors"
	"github.com/brightway-tools/paramengine/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProjectParameterTouchesGroup(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	amount := 1.0
	_, err := store.CreateProjectParameter(ctx, parameters.ProjectParameter{Name: "x", Amount: &amount})
	require.NoError(t, err)

	g, ok, err := store.GetGroup(ctx, parameters.ReservedProjectGroup)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, g.Fresh)
}

func TestCreateProjectParameterDuplicateName(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	_, err := store.CreateProjectParameter(ctx, parameters.ProjectParameter{Name: "x"})
	require.NoError(t, err)

	_, err = store.CreateProjectParameter(ctx, parameters.ProjectParameter{Name: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
}

func TestCreateActivityParameterRejectsReservedGroup(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	_, err := store.CreateActivityParameter(ctx, parameters.ActivityParameter{
		Group: parameters.ReservedProjectGroup, Database: "B", Code: "c", Name: "n",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
}

func TestCreateActivityParameterRejectsDuplicateCode(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	_, err := store.CreateActivityParameter(ctx, parameters.ActivityParameter{
		Group: "A", Database: "B", Code: "c1", Name: "n1",
	})
	require.NoError(t, err)

	_, err = store.CreateActivityParameter(ctx, parameters.ActivityParameter{
		Group: "A", Database: "B", Code: "c1", Name: "n2",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
}

func TestCreateActivityParameterRejectsDuplicateGroupName(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	_, err := store.CreateActivityParameter(ctx, parameters.ActivityParameter{
		Group: "A", Database: "B", Code: "c1", Name: "n1",
	})
	require.NoError(t, err)

	_, err = store.CreateActivityParameter(ctx, parameters.ActivityParameter{
		Group: "A", Database: "B", Code: "c2", Name: "n1",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
}

func TestCreateActivityParameterRejectsCrossDatabaseSplit(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	_, err := store.CreateActivityParameter(ctx, parameters.ActivityParameter{
		Group: "A", Database: "B", Code: "c1", Name: "n1",
	})
	require.NoError(t, err)

	_, err = store.CreateActivityParameter(ctx, parameters.ActivityParameter{
		Group: "A", Database: "OTHER", Code: "c2", Name: "n2",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
}

func TestUpdateActivityParameterRejectsCrossDatabaseGroupMove(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	_, err := store.CreateActivityParameter(ctx, parameters.ActivityParameter{
		Group: "A", Database: "B", Code: "c1", Name: "n1",
	})
	require.NoError(t, err)
	moved, err := store.CreateActivityParameter(ctx, parameters.ActivityParameter{
		Group: "OTHER-GROUP", Database: "OTHER", Code: "c2", Name: "n2",
	})
	require.NoError(t, err)

	moved.Group = "A"
	_, err = store.UpdateActivityParameter(ctx, moved)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
}

func TestAddDependencyDuplicateEdge(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, store.AddDependency(ctx, "A", "B"))
	err := store.AddDependency(ctx, "A", "B")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
}

func TestAddDependencySelfEdge(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	err := store.AddDependency(ctx, "A", "A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeIntegrity))
}

func TestDownstreamTransitive(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	require.NoError(t, store.AddDependency(ctx, "B", "A"))
	require.NoError(t, store.AddDependency(ctx, "C", "B"))

	downstream, err := store.Downstream(ctx, "A")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"B", "C"}, downstream)
}

func TestUpsertParameterizedExchangeOverwrites(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	_, err := store.UpsertParameterizedExchange(ctx, parameters.ParameterizedExchange{Group: "A", Exchange: 1, Formula: "foo"})
	require.NoError(t, err)
	_, err = store.UpsertParameterizedExchange(ctx, parameters.ParameterizedExchange{Group: "A", Exchange: 1, Formula: "bar"})
	require.NoError(t, err)

	rows, err := store.ListParameterizedExchanges(ctx, "A")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bar", rows[0].Formula)
}
