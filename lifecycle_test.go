package rango

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rango/pointcloud"
)

const scenarioCSV = "0,0,0\n1,0,0\n5,5,5\n0.5,0,0\n"

func readCloud(t *testing.T, csv string) *pointcloud.BatchStore {
	t.Helper()

	store, err := pointcloud.Read(strings.NewReader(csv))
	require.NoError(t, err)

	return store
}

func TestNew_Validation(t *testing.T) {
	t.Run("negative radius", func(t *testing.T) {
		_, err := New(-1, 50)
		require.ErrorIs(t, err, ErrInvalidRadius)
	})

	t.Run("zero k", func(t *testing.T) {
		_, err := New(1, 0)
		require.ErrorIs(t, err, ErrInvalidK)
	})

	t.Run("bad device index", func(t *testing.T) {
		_, err := New(1, 50, WithDeviceIndex(7))
		require.Error(t, err)

		var de *DriverError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "open", de.Op)
	})
}

func TestLifecycle_StrictOrder(t *testing.T) {
	ctx := context.Background()

	e, err := New(1.5, 50)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, StateContextReady, e.State())

	// Every stage ahead of geometry is premature.
	var se *StateError
	require.ErrorAs(t, e.LinkPipeline(ctx), &se)
	assert.Equal(t, StateContextReady, se.State)
	assert.Equal(t, StateGeometryBuilt, se.Want)

	require.ErrorAs(t, e.BuildBindingTable(ctx), &se)
	require.ErrorAs(t, e.Dispatch(ctx, 0), &se)

	_, err = e.Results(ctx)
	require.ErrorAs(t, err, &se)

	// Walk forward in order; each step lands in the next state.
	require.NoError(t, e.BuildGeometry(ctx, readCloud(t, scenarioCSV)))
	assert.Equal(t, StateGeometryBuilt, e.State())

	require.ErrorAs(t, e.BuildGeometry(ctx, readCloud(t, scenarioCSV)), &se)

	require.NoError(t, e.LinkPipeline(ctx))
	assert.Equal(t, StatePipelineLinked, e.State())

	require.NoError(t, e.BuildBindingTable(ctx))
	assert.Equal(t, StateBindingTableReady, e.State())

	require.NoError(t, e.Dispatch(ctx, 0))
	assert.Equal(t, StateDispatched, e.State())

	res, err := e.Results(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateResultsReady, e.State())
	assert.Equal(t, 4, res.NumQueries)

	// Further batches re-enter through dispatch; there is only one here.
	require.Error(t, e.Dispatch(ctx, 1))
}

func TestLifecycle_Close(t *testing.T) {
	ctx := context.Background()

	e, err := New(1.5, 50)
	require.NoError(t, err)

	require.NoError(t, e.BuildGeometry(ctx, readCloud(t, scenarioCSV)))
	require.NoError(t, e.Close())
	assert.Equal(t, StateDestroyed, e.State())

	// Idempotent, and every operation is rejected afterwards.
	require.NoError(t, e.Close())
	require.ErrorIs(t, e.LinkPipeline(ctx), ErrDestroyed)
	require.ErrorIs(t, e.Dispatch(ctx, 0), ErrDestroyed)

	_, err = e.Results(ctx)
	require.ErrorIs(t, err, ErrDestroyed)
}

func TestLifecycle_ValidateNeedsGeometry(t *testing.T) {
	e, err := New(1.5, 50)
	require.NoError(t, err)
	defer e.Close()

	var se *StateError
	_, err = e.Validate(context.Background(), nil)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "validate", se.Op)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ContextReady", StateContextReady.String())
	assert.Equal(t, "GeometryBuilt", StateGeometryBuilt.String())
	assert.Equal(t, "Destroyed", StateDestroyed.String())
	assert.Equal(t, "State(42)", State(42).String())
}
