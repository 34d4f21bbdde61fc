package launch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rango/accel"
	"github.com/hupe1980/rango/device"
	"github.com/hupe1980/rango/geom"
	"github.com/hupe1980/rango/pipeline"
)

func testDevice(t *testing.T) *device.Device {
	t.Helper()

	d, err := device.Open(device.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func testPipeline(t *testing.T, cfg pipeline.Config) (*pipeline.Pipeline, *pipeline.BindingTable) {
	t.Helper()

	programs, err := pipeline.DefaultPrograms()
	require.NoError(t, err)

	pl, err := pipeline.Link(cfg, programs...)
	require.NoError(t, err)

	tbl, err := pipeline.BuildTable(pl)
	require.NoError(t, err)

	return pl, tbl
}

func uploadQueries(t *testing.T, d *device.Device, points []geom.Vec3) *device.Buffer[geom.Vec3] {
	t.Helper()

	buf, err := device.Alloc[geom.Vec3](d, len(points))
	require.NoError(t, err)
	t.Cleanup(buf.Free)

	require.NoError(t, buf.Upload(context.Background(), points))

	return buf
}

func buildStructure(t *testing.T, d *device.Device, points []geom.Vec3, radius float32, leafSize int) *accel.Structure {
	t.Helper()

	b, err := accel.NewBuilder(d, accel.Config{Radius: radius, LeafSize: leafSize})
	require.NoError(t, err)

	s, err := b.Build(context.Background(), points)
	require.NoError(t, err)
	t.Cleanup(s.Free)

	return s
}

func runBatch(t *testing.T, points []geom.Vec3, radius float32, k int) *Result {
	t.Helper()

	d := testDevice(t)
	pl, tbl := testPipeline(t, pipeline.Config{})

	queries := uploadQueries(t, d, points)
	s := buildStructure(t, d, points, radius, 0)

	l, err := NewLauncher(d, pl, tbl, Config{K: k, Radius: radius, NumPrims: len(points)})
	require.NoError(t, err)
	t.Cleanup(l.Close)

	require.NoError(t, l.Launch(context.Background(), 0, queries, s))

	res, err := l.Readback(context.Background())
	require.NoError(t, err)

	return res
}

// assertRowsValid checks the sentinel convention: every id before the first
// sentinel is a real in-radius neighbor, everything after it is sentinel.
func assertRowsValid(t *testing.T, res *Result, points []geom.Vec3, radius float32) {
	t.Helper()

	r2 := radius * radius
	for q := 0; q < res.NumQueries; q++ {
		row := res.Row(q)

		terminated := false
		for _, id := range row {
			if id == Sentinel {
				terminated = true
				continue
			}

			require.False(t, terminated, "query %d: id after sentinel", q)
			require.Less(t, int(id), len(points), "query %d: id out of range", q)
			assert.LessOrEqual(t, geom.SquaredL2(points[q], points[id]), r2, "query %d: neighbor %d out of radius", q, id)
		}
	}
}

func TestLauncher_DenseClique(t *testing.T) {
	// Every point within radius of every other; K leaves headroom, so each
	// row holds the full clique.
	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 0.5, Y: 0, Z: 0}, {X: 0, Y: 0.5, Z: 0}, {X: 0, Y: 0, Z: 0.5}}

	res := runBatch(t, points, 2.0, 8)

	assertRowsValid(t, res, points, 2.0)

	for q := range points {
		got := res.Neighbors(q)
		assert.Len(t, got, len(points), "query %d", q)
		assert.ElementsMatch(t, []uint32{0, 1, 2, 3}, got, "query %d", q)
	}
}

func TestLauncher_IsolatedQuery(t *testing.T) {
	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 0.5, Y: 0, Z: 0}, {X: 100, Y: 100, Z: 100}}

	res := runBatch(t, points, 1.0, 4)

	assertRowsValid(t, res, points, 1.0)

	assert.ElementsMatch(t, []uint32{0, 1}, res.Neighbors(0))
	assert.ElementsMatch(t, []uint32{0, 1}, res.Neighbors(1))

	// The isolated point sees only itself.
	assert.Equal(t, []uint32{2}, res.Neighbors(2))

	for _, slot := range res.Row(2)[1:] {
		assert.Equal(t, Sentinel, slot)
	}
}

func TestLauncher_TruncatesAtK(t *testing.T) {
	// 10 points in a tight cluster, K=3: rows carry exactly K in-radius
	// ids, whichever traversal order produced them.
	points := make([]geom.Vec3, 10)
	for i := range points {
		points[i] = geom.Vec3{X: float32(i) * 0.01, Y: 0, Z: 0}
	}

	res := runBatch(t, points, 1.0, 3)

	assertRowsValid(t, res, points, 1.0)

	for q := range points {
		assert.Len(t, res.Neighbors(q), 3, "query %d", q)
	}
}

func TestLauncher_SentinelPrefill(t *testing.T) {
	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 50, Y: 0, Z: 0}, {X: 0, Y: 50, Z: 0}, {X: 0, Y: 0, Z: 50}}

	res := runBatch(t, points, 1.0, 5)

	for q := range points {
		row := res.Row(q)
		assert.Equal(t, []uint32{uint32(q)}, res.Neighbors(q))

		for _, slot := range row[1:] {
			assert.Equal(t, Sentinel, slot)
		}
	}
}

func TestLauncher_DepthBudget(t *testing.T) {
	d := testDevice(t)

	// MaxTrace 1 links a 4-entry stack; 64 single-point leaves need 7.
	pl, tbl := testPipeline(t, pipeline.Config{MaxTrace: 1})

	points := make([]geom.Vec3, 64)
	for i := range points {
		points[i] = geom.Vec3{X: float32(i) * 10, Y: 0, Z: 0}
	}

	queries := uploadQueries(t, d, points)
	s := buildStructure(t, d, points, 1.0, 1)
	require.Greater(t, s.Depth(), pl.StackCapacity())

	l, err := NewLauncher(d, pl, tbl, Config{K: 4, Radius: 1.0, NumPrims: len(points)})
	require.NoError(t, err)
	t.Cleanup(l.Close)

	err = l.Launch(context.Background(), 0, queries, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDepthExceeded)

	_, err = l.Readback(context.Background())
	assert.ErrorIs(t, err, ErrNotLaunched)
}

func TestLauncher_WidthMismatch(t *testing.T) {
	d := testDevice(t)
	pl, tbl := testPipeline(t, pipeline.Config{})

	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}}
	queries := uploadQueries(t, d, points)
	s := buildStructure(t, d, points, 1.0, 0)

	l, err := NewLauncher(d, pl, tbl, Config{K: 2, Radius: 1.0, NumPrims: 3})
	require.NoError(t, err)
	t.Cleanup(l.Close)

	err = l.Launch(context.Background(), 0, queries, s)
	assert.ErrorIs(t, err, ErrWidthMismatch)
}

func TestLauncher_ReadbackBeforeLaunch(t *testing.T) {
	d := testDevice(t)
	pl, tbl := testPipeline(t, pipeline.Config{})

	l, err := NewLauncher(d, pl, tbl, Config{K: 2, Radius: 1.0, NumPrims: 2})
	require.NoError(t, err)
	t.Cleanup(l.Close)

	_, err = l.Readback(context.Background())
	assert.ErrorIs(t, err, ErrNotLaunched)
}

func TestLauncher_Relaunch(t *testing.T) {
	// Two consecutive launches through one launcher; the second batch's
	// rows must not leak ids from the first.
	d := testDevice(t)
	pl, tbl := testPipeline(t, pipeline.Config{})

	near := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 0.1, Y: 0, Z: 0}, {X: 0.2, Y: 0, Z: 0}}
	far := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 30, Y: 0, Z: 0}, {X: 60, Y: 0, Z: 0}}

	l, err := NewLauncher(d, pl, tbl, Config{K: 4, Radius: 1.0, NumPrims: 3})
	require.NoError(t, err)
	t.Cleanup(l.Close)

	require.NoError(t, l.Launch(context.Background(), 0, uploadQueries(t, d, near), buildStructure(t, d, near, 1.0, 0)))

	first, err := l.Readback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, first.BatchID)
	assert.ElementsMatch(t, []uint32{0, 1, 2}, first.Neighbors(0))

	require.NoError(t, l.Launch(context.Background(), 1, uploadQueries(t, d, far), buildStructure(t, d, far, 1.0, 0)))

	second, err := l.Readback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.BatchID)

	for q := range far {
		assert.Equal(t, []uint32{uint32(q)}, second.Neighbors(q), "query %d", q)
	}
}

func TestLauncher_InvalidConfig(t *testing.T) {
	d := testDevice(t)
	pl, tbl := testPipeline(t, pipeline.Config{})

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "ZeroK", cfg: Config{K: 0, Radius: 1, NumPrims: 1}},
		{name: "NegativeRadius", cfg: Config{K: 1, Radius: -1, NumPrims: 1}},
		{name: "ZeroWidth", cfg: Config{K: 1, Radius: 1, NumPrims: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLauncher(d, pl, tbl, tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestLauncher_ManyPoints(t *testing.T) {
	// A grid big enough to exercise multi-span dispatch and interior
	// structure levels.
	var points []geom.Vec3
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			for z := 0; z < 4; z++ {
				points = append(points, geom.Vec3{X: float32(x), Y: float32(y), Z: float32(z)})
			}
		}
	}

	res := runBatch(t, points, 1.1, 16)

	assertRowsValid(t, res, points, 1.1)

	// Every interior grid point has its 6 axis neighbors plus itself.
	for q, p := range points {
		if p.X == 0 || p.X == 7 || p.Y == 0 || p.Y == 7 || p.Z == 0 || p.Z == 3 {
			continue
		}

		assert.Len(t, res.Neighbors(q), 7, fmt.Sprintf("query %d at %v", q, p))
	}
}
