package accel

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rango/device"
	"github.com/hupe1980/rango/geom"
)

func testDevice(t *testing.T) *device.Device {
	t.Helper()

	d, err := device.Open(device.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func collect(t *testing.T, s *Structure, origin geom.Vec3) []uint32 {
	t.Helper()

	probe := geom.Probe{Origin: origin, Epsilon: 1e-4}
	stack := make([]int32, 0, s.Depth())

	var got []uint32
	err := s.Traverse(probe, stack, func(prim uint32) bool {
		got = append(got, prim)
		return true
	})
	require.NoError(t, err)

	return got
}

func TestNewBuilder(t *testing.T) {
	d := testDevice(t)

	_, err := NewBuilder(d, Config{Radius: -1})
	assert.ErrorIs(t, err, ErrNegativeRadius)

	b, err := NewBuilder(d, Config{Radius: 0})
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestBuilder_Build(t *testing.T) {
	d := testDevice(t)

	b, err := NewBuilder(d, Config{Radius: 1.5})
	require.NoError(t, err)

	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 5, Y: 5, Z: 5}, {X: 0.5, Y: 0, Z: 0}}
	s, err := b.Build(context.Background(), points)
	require.NoError(t, err)
	defer s.Free()

	assert.Equal(t, 4, s.NumPrims())
	assert.Equal(t, float32(1.5), s.Radius())
	assert.GreaterOrEqual(t, s.Depth(), 1)

	stats := s.Stats()
	assert.True(t, stats.Compacted, "4 points never fill the conservative estimate")
	assert.Less(t, stats.FinalBytes, stats.BuildBytes)
	assert.Equal(t, len(s.FlatNodes()), stats.Nodes)
}

func TestBuilder_EmptyBatch(t *testing.T) {
	d := testDevice(t)

	b, err := NewBuilder(d, Config{Radius: 1})
	require.NoError(t, err)

	_, err = b.Build(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestStructure_TraverseCandidates(t *testing.T) {
	d := testDevice(t)

	b, err := NewBuilder(d, Config{Radius: 1.5})
	require.NoError(t, err)

	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 5, Y: 5, Z: 5}, {X: 0.5, Y: 0, Z: 0}}
	s, err := b.Build(context.Background(), points)
	require.NoError(t, err)
	defer s.Free()

	// The probe sees every box containing its origin; the far point's box
	// stays pruned.
	assert.ElementsMatch(t, []uint32{0, 1, 3}, collect(t, s, points[0]))
	assert.ElementsMatch(t, []uint32{2}, collect(t, s, points[2]))
}

func TestStructure_ZeroRadius(t *testing.T) {
	d := testDevice(t)

	b, err := NewBuilder(d, Config{Radius: 0})
	require.NoError(t, err)

	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 0}}
	s, err := b.Build(context.Background(), points)
	require.NoError(t, err)
	defer s.Free()

	assert.ElementsMatch(t, []uint32{1}, collect(t, s, points[1]))
}

func TestStructure_IdenticalPoints(t *testing.T) {
	d := testDevice(t)

	b, err := NewBuilder(d, Config{Radius: 1, LeafSize: 2})
	require.NoError(t, err)

	points := make([]geom.Vec3, 16)
	for i := range points {
		points[i] = geom.Vec3{X: 3, Y: 3, Z: 3}
	}

	s, err := b.Build(context.Background(), points)
	require.NoError(t, err)
	defer s.Free()

	want := make([]uint32, 16)
	for i := range want {
		want[i] = uint32(i)
	}
	assert.ElementsMatch(t, want, collect(t, s, points[0]))
}

func TestStructure_CandidatesMatchBruteForce(t *testing.T) {
	d := testDevice(t)

	const radius = 0.25
	rng := rand.New(rand.NewSource(7))
	points := make([]geom.Vec3, 256)
	for i := range points {
		points[i] = geom.Vec3{X: rng.Float32(), Y: rng.Float32(), Z: rng.Float32()}
	}

	b, err := NewBuilder(d, Config{Radius: radius})
	require.NoError(t, err)

	s, err := b.Build(context.Background(), points)
	require.NoError(t, err)
	defer s.Free()

	for _, qi := range []int{0, 17, 101, 255} {
		q := points[qi]

		var want []uint32
		for i, p := range points {
			if geom.Bound(p, radius).ContainsEps(q, 1e-4) {
				want = append(want, uint32(i))
			}
		}

		assert.ElementsMatch(t, want, collect(t, s, q), "query %d", qi)
	}
}

func TestStructure_Deterministic(t *testing.T) {
	d := testDevice(t)

	rng := rand.New(rand.NewSource(42))
	points := make([]geom.Vec3, 128)
	for i := range points {
		points[i] = geom.Vec3{X: rng.Float32(), Y: rng.Float32(), Z: rng.Float32()}
	}

	b, err := NewBuilder(d, Config{Radius: 0.5})
	require.NoError(t, err)

	s1, err := b.Build(context.Background(), points)
	require.NoError(t, err)
	defer s1.Free()

	s2, err := b.Build(context.Background(), points)
	require.NoError(t, err)
	defer s2.Free()

	assert.Equal(t, s1.FlatNodes(), s2.FlatNodes())
	assert.Equal(t, s1.PrimIndex(), s2.PrimIndex())
}

func TestStructure_StackBudget(t *testing.T) {
	d := testDevice(t)

	b, err := NewBuilder(d, Config{Radius: 10, LeafSize: 1})
	require.NoError(t, err)

	points := make([]geom.Vec3, 64)
	for i := range points {
		points[i] = geom.Vec3{X: float32(i)}
	}

	s, err := b.Build(context.Background(), points)
	require.NoError(t, err)
	defer s.Free()
	require.Greater(t, s.Depth(), 2)

	probe := geom.Probe{Origin: geom.Vec3{X: 32}, Epsilon: 1e-4}

	// Under-provisioned stack fails instead of corrupting the walk.
	err = s.Traverse(probe, make([]int32, 0, 1), func(uint32) bool { return true })
	assert.ErrorIs(t, err, ErrTraversalStack)

	// Provisioning at the structure depth always suffices.
	err = s.Traverse(probe, make([]int32, 0, s.Depth()), func(uint32) bool { return true })
	assert.NoError(t, err)
}

func TestStructure_VisitStop(t *testing.T) {
	d := testDevice(t)

	b, err := NewBuilder(d, Config{Radius: 5})
	require.NoError(t, err)

	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 2, Y: 0, Z: 0}, {X: 3, Y: 0, Z: 0}}
	s, err := b.Build(context.Background(), points)
	require.NoError(t, err)
	defer s.Free()

	seen := 0
	err = s.Traverse(geom.Probe{Origin: points[0], Epsilon: 1e-4}, make([]int32, 0, s.Depth()), func(uint32) bool {
		seen++
		return seen < 2
	})
	require.NoError(t, err)
	assert.Equal(t, 2, seen)
}

func TestRestore(t *testing.T) {
	d := testDevice(t)

	b, err := NewBuilder(d, Config{Radius: 1.5})
	require.NoError(t, err)

	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 5, Y: 5, Z: 5}, {X: 0.5, Y: 0, Z: 0}}
	s, err := b.Build(context.Background(), points)
	require.NoError(t, err)

	nodes := append([]Node(nil), s.FlatNodes()...)
	prims := append([]uint32(nil), s.PrimIndex()...)
	depth := s.Depth()
	s.Free()

	r, err := Restore(context.Background(), d, nodes, prims, points, 1.5, depth)
	require.NoError(t, err)
	defer r.Free()

	assert.Equal(t, 4, r.NumPrims())
	assert.Equal(t, depth, r.Depth())
	assert.ElementsMatch(t, []uint32{0, 1, 3}, collect(t, r, points[0]))
}

func TestRestore_EmptyPayload(t *testing.T) {
	d := testDevice(t)

	_, err := Restore(context.Background(), d, nil, nil, nil, 1, 0)
	require.Error(t, err)
}
