package parameters_test

import (
	"context"
	"testing"
	"time"

	"github.com/brightway-tools/paramengine/domain/parameters"
	"github.com/brightway-tools/paramengine/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupUpdatedMonotonic(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	mgr := parameters.NewManager(store, newFakeDatabases(), nil, nil, nil)

	require.NoError(t, mgr.NewProjectParameters(ctx, []parameters.ProjectParameter{
		{Name: "first", Amount: ptr(1)},
	}))
	first, _, err := store.GetGroup(ctx, parameters.ReservedProjectGroup)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)

	require.NoError(t, mgr.NewProjectParameters(ctx, []parameters.ProjectParameter{
		{Name: "second", Amount: ptr(2)},
	}))
	second, _, err := store.GetGroup(ctx, parameters.ReservedProjectGroup)
	require.NoError(t, err)

	assert.True(t, second.Updated.After(first.Updated))
}
