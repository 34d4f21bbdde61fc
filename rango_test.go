package rango

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rango/launch"
	"github.com/hupe1980/rango/pointcloud"
	"github.com/hupe1980/rango/validate"
)

// runSearch drives one engine through the full lifecycle for batch 0.
func runSearch(t *testing.T, csv string, radius float32, k int, optFns ...Option) *launch.Result {
	t.Helper()

	ctx := context.Background()

	e, err := New(radius, k, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	require.NoError(t, e.BuildGeometry(ctx, readCloud(t, csv)))
	require.NoError(t, e.LinkPipeline(ctx))
	require.NoError(t, e.BuildBindingTable(ctx))

	res, err := e.Run(ctx, 0)
	require.NoError(t, err)

	sum, err := e.Validate(ctx, res)
	require.NoError(t, err)
	assert.Zero(t, sum.WrongNeighbors, "validator found out-of-radius neighbors")

	return res
}

func neighborSet(res *launch.Result, q int) map[uint32]bool {
	set := make(map[uint32]bool)
	for _, id := range res.Neighbors(q) {
		set[id] = true
	}
	return set
}

func TestSearch_RadiusNeighborhoods(t *testing.T) {
	res := runSearch(t, scenarioCSV, 1.5, 50)

	assert.Equal(t, map[uint32]bool{0: true, 1: true, 3: true}, neighborSet(res, 0))
	assert.Equal(t, map[uint32]bool{2: true}, neighborSet(res, 2))
}

func TestSearch_ZeroRadius(t *testing.T) {
	res := runSearch(t, scenarioCSV, 0, 50)

	// Distance 0 passes the <= comparison, so every query finds exactly
	// itself; nothing else in this cloud is coincident.
	for q := 0; q < res.NumQueries; q++ {
		assert.Equal(t, map[uint32]bool{uint32(q): true}, neighborSet(res, q))
	}
}

func TestSearch_KSmallerThanNeighborhood(t *testing.T) {
	// Query 0 has three true neighbors within radius but only two slots.
	res := runSearch(t, scenarioCSV, 1.5, 2)

	row := res.Neighbors(0)
	require.Len(t, row, 2)

	// Some valid subset, no ranking guarantee.
	for _, id := range row {
		assert.Contains(t, []uint32{0, 1, 3}, id)
	}
}

func TestSearch_SentinelIntegrity(t *testing.T) {
	res := runSearch(t, scenarioCSV, 1.5, 50)

	for q := 0; q < res.NumQueries; q++ {
		row := res.Row(q)
		valid := len(res.Neighbors(q))
		for i := valid; i < len(row); i++ {
			assert.Equal(t, launch.Sentinel, row[i])
		}
	}
}

func TestSearch_SetDeterminism(t *testing.T) {
	a := runSearch(t, scenarioCSV, 1.5, 50)
	b := runSearch(t, scenarioCSV, 1.5, 50)

	// The set per query is stable across runs; the order is not asserted.
	require.True(t, validate.Sets(a).Equal(validate.Sets(b)))
}

func TestSearch_MultiBatch(t *testing.T) {
	// 4 fields pad to 6, so two batches; the second carries the fourth
	// coordinate in x and zero fill in y, z.
	csv := "0,0,0,0\n1,0,0,10\n5,5,5,0.5\n"

	ctx := context.Background()

	e, err := New(1.0, 10)
	require.NoError(t, err)
	defer e.Close()

	store := readCloud(t, csv)
	require.Equal(t, 2, store.Batches())

	require.NoError(t, e.BuildGeometry(ctx, store))
	require.NoError(t, e.LinkPipeline(ctx))
	require.NoError(t, e.BuildBindingTable(ctx))
	assert.Equal(t, 2, e.NumBatches())

	res0, err := e.Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res0.BatchID)

	res1, err := e.Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res1.BatchID)

	// In the second projection points 0 and 2 sit at (0,0,0) and
	// (0.5,0,0): neighbors of each other, with point 1 far away at x=10.
	assert.Equal(t, map[uint32]bool{0: true, 2: true}, neighborSet(res1, 0))
	assert.Equal(t, map[uint32]bool{1: true}, neighborSet(res1, 1))
}

func TestSearch_Metrics(t *testing.T) {
	metrics := &BasicMetricsCollector{}

	runSearch(t, scenarioCSV, 1.5, 50, WithMetricsCollector(metrics))

	stats := metrics.GetStats()
	assert.EqualValues(t, 1, stats.GeometryBuildCount)
	assert.EqualValues(t, 1, stats.DispatchCount)
	assert.EqualValues(t, 1, stats.ReadbackCount)
	assert.Zero(t, stats.DispatchErrors)
}

func readCloudErr(csv string) error {
	_, err := pointcloud.Read(strings.NewReader(csv))
	return err
}

func TestEngine_TranslatedInputErrors(t *testing.T) {
	t.Run("dimension bound", func(t *testing.T) {
		row := strings.Repeat("1,", 70)
		err := readCloudErr(row[:len(row)-1] + "\n")
		var dim *ErrInvalidDimension
		require.ErrorAs(t, translateError(err), &dim)
		assert.Equal(t, 72, dim.Dimension)
	})

	t.Run("malformed row", func(t *testing.T) {
		err := readCloudErr("1,2,3\n4,oops,6\n")
		var bad *ErrBadInput
		require.ErrorAs(t, translateError(err), &bad)
		assert.Equal(t, 2, bad.Line)
	})
}
