package validate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rango/geom"
	"github.com/hupe1980/rango/launch"
)

const sentinel = launch.Sentinel

func result(k int, rows ...[]uint32) *launch.Result {
	flat := make([]uint32, 0, len(rows)*k)
	for _, row := range rows {
		for i := 0; i < k; i++ {
			if i < len(row) {
				flat = append(flat, row[i])
			} else {
				flat = append(flat, sentinel)
			}
		}
	}

	return &launch.Result{K: k, NumQueries: len(rows), Rows: flat}
}

func TestChecker_Check(t *testing.T) {
	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 10, Y: 0, Z: 0}}

	t.Run("Clean", func(t *testing.T) {
		res := result(3,
			[]uint32{0, 1},
			[]uint32{1, 0},
			[]uint32{2},
		)

		sum, err := New(points, 1.5).Check(res)
		require.NoError(t, err)

		assert.Equal(t, 3, sum.Queries)
		assert.Equal(t, int64(5), sum.TotalNeighbors)
		assert.Zero(t, sum.WrongNeighbors)
		assert.Zero(t, sum.WrongDistance)
		assert.InDelta(t, 5.0/3.0, sum.AvgNeighbors(), 1e-9)
		assert.Zero(t, sum.AvgWrongDistance())
	})

	t.Run("WrongNeighbor", func(t *testing.T) {
		// Query 0 falsely reports point 2 at distance 10.
		res := result(3,
			[]uint32{0, 2},
			[]uint32{1},
			[]uint32{2},
		)

		sum, err := New(points, 1.5).Check(res)
		require.NoError(t, err)

		assert.Equal(t, int64(4), sum.TotalNeighbors)
		assert.Equal(t, int64(1), sum.WrongNeighbors)
		assert.InDelta(t, 10.0, sum.WrongDistance, 1e-5)
		assert.InDelta(t, 10.0, sum.AvgWrongDistance(), 1e-5)
	})

	t.Run("BoundaryAdmitted", func(t *testing.T) {
		// Exactly on the radius is not wrong.
		res := result(1, []uint32{1}, []uint32{0}, nil)

		sum, err := New(points, 1.0).Check(res)
		require.NoError(t, err)
		assert.Zero(t, sum.WrongNeighbors)
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		res := result(2, []uint32{0})

		_, err := New(points, 1.5).Check(res)
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("BadID", func(t *testing.T) {
		res := result(2, []uint32{7}, nil, nil)

		_, err := New(points, 1.5).Check(res)
		assert.ErrorIs(t, err, ErrBadID)
	})

	t.Run("IgnoresSlotsPastSentinel", func(t *testing.T) {
		// A stray id after the sentinel is unreachable by convention.
		res := result(3, []uint32{0, sentinel, 2}, nil, nil)

		sum, err := New(points, 1.5).Check(res)
		require.NoError(t, err)
		assert.Equal(t, int64(1), sum.TotalNeighbors)
	})
}

func TestSummary_Averages(t *testing.T) {
	sum := Summary{
		Queries:        4,
		TotalNeighbors: 10,
		WrongNeighbors: 2,
		WrongDistance:  6.0,
	}

	assert.InDelta(t, 2.5, sum.AvgNeighbors(), 1e-9)
	assert.InDelta(t, 0.5, sum.AvgWrongNeighbors(), 1e-9)
	assert.InDelta(t, 3.0, sum.AvgWrongDistance(), 1e-9)

	var empty Summary
	assert.Zero(t, empty.AvgNeighbors())
	assert.Zero(t, empty.AvgWrongNeighbors())
	assert.Zero(t, empty.AvgWrongDistance())
}

func TestSets(t *testing.T) {
	a := result(3,
		[]uint32{0, 1, 2},
		[]uint32{1},
	)

	// Same sets, different row order.
	b := result(3,
		[]uint32{2, 0, 1},
		[]uint32{1},
	)

	c := result(3,
		[]uint32{0, 1},
		[]uint32{1},
	)

	sa, sb, sc := Sets(a), Sets(b), Sets(c)

	assert.Equal(t, 2, sa.Len())
	assert.Equal(t, uint64(3), sa.Count(0))
	assert.Equal(t, uint64(1), sa.Count(1))
	assert.True(t, sa.Contains(0, 2))
	assert.False(t, sa.Contains(1, 0))

	assert.True(t, sa.Equal(sb))
	assert.True(t, sb.Equal(sa))
	assert.False(t, sa.Equal(sc))

	assert.False(t, sa.Equal(Sets(result(3, []uint32{0, 1, 2}))))
}

func TestChecker_WrongDistanceSum(t *testing.T) {
	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 3, Y: 4, Z: 0}, {X: 6, Y: 8, Z: 0}}

	// Query 0 reports both far points: distances 5 and 10.
	res := result(3, []uint32{1, 2}, nil, nil)

	sum, err := New(points, 1.0).Check(res)
	require.NoError(t, err)

	assert.Equal(t, int64(2), sum.WrongNeighbors)
	assert.InDelta(t, 15.0, sum.WrongDistance, 1e-4)
	assert.InDelta(t, 7.5, sum.AvgWrongDistance(), 1e-4)
	assert.False(t, math.IsNaN(sum.AvgWrongDistance()))
}
