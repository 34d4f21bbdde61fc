package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rango/accel"
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

func testPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()

	programs, err := DefaultPrograms()
	require.NoError(t, err)

	pl, err := Link(cfg, programs...)
	require.NoError(t, err)

	return pl
}

func TestCompile(t *testing.T) {
	t.Run("Builtins", func(t *testing.T) {
		for role, entry := range map[Role]string{
			RoleProbe:     EntryRangeProbe,
			RoleIntersect: EntrySphereIntersect,
			RoleHit:       EntryRecordHit,
			RoleMiss:      EntryNoopMiss,
		} {
			p, err := Compile(role, entry)
			require.NoError(t, err)
			assert.Equal(t, role, p.Role())
			assert.Equal(t, entry, p.Entry())
			assert.NotZero(t, p.Handle())
			assert.Positive(t, p.StackFrames())
		}
	})

	t.Run("UnknownEntry", func(t *testing.T) {
		_, err := Compile(RoleProbe, "probe.bogus")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownEntry)

		var fault *device.Fault
		require.ErrorAs(t, err, &fault)
		assert.Equal(t, "module compile", fault.Op)
	})

	t.Run("RoleMismatch", func(t *testing.T) {
		_, err := Compile(RoleMiss, EntryRangeProbe)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRoleMismatch)
	})

	t.Run("UniqueHandles", func(t *testing.T) {
		a, err := Compile(RoleHit, EntryRecordHit)
		require.NoError(t, err)

		b, err := Compile(RoleHit, EntryRecordHit)
		require.NoError(t, err)

		assert.NotEqual(t, a.Handle(), b.Handle())
	})
}

func TestLink(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		pl := testPipeline(t, Config{})
		assert.Equal(t, DefaultMaxTrace, pl.MaxTrace())

		// probe(2) + 12 traces x (intersect(1) + hit(1)) at nesting depth 1.
		assert.Equal(t, 26, pl.StackCapacity())
	})

	t.Run("CustomBudgets", func(t *testing.T) {
		pl := testPipeline(t, Config{MaxTrace: 4, MaxTraversableDepth: 2})
		assert.Equal(t, 4, pl.MaxTrace())
		assert.Equal(t, 2*(2+4*2), pl.StackCapacity())
	})

	t.Run("MissingRole", func(t *testing.T) {
		probe, err := Compile(RoleProbe, EntryRangeProbe)
		require.NoError(t, err)

		_, err = Link(Config{}, probe)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingRole)
	})

	t.Run("DuplicateRole", func(t *testing.T) {
		programs, err := DefaultPrograms()
		require.NoError(t, err)

		extra, err := Compile(RoleHit, EntryRecordHit)
		require.NoError(t, err)

		_, err = Link(Config{}, append(programs, extra)...)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateRole)
	})
}

func TestPipeline_Destroy(t *testing.T) {
	pl := testPipeline(t, Config{})

	tbl, err := BuildTable(pl)
	require.NoError(t, err)

	pl.Destroy()
	pl.Destroy() // idempotent

	_, err = pl.Program(RoleProbe)
	assert.ErrorIs(t, err, ErrDestroyed)

	_, err = BuildTable(pl)
	assert.ErrorIs(t, err, ErrDestroyed)

	_, err = tbl.Resolve()
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestBindingTable_Resolve(t *testing.T) {
	pl := testPipeline(t, Config{})

	tbl, err := BuildTable(pl)
	require.NoError(t, err)

	for role := RoleProbe; role < numRoles; role++ {
		assert.NotZero(t, tbl.Record(role).Handle)
	}

	programs, err := tbl.Resolve()
	require.NoError(t, err)
	assert.NotNil(t, programs.Probe)
	assert.NotNil(t, programs.Intersect)
	assert.NotNil(t, programs.Hit)
	assert.NotNil(t, programs.Miss)
}

func TestRangeProbe(t *testing.T) {
	d := testDevice(t)

	points := []geom.Vec3{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 5, Y: 5, Z: 5}, {X: 0.5, Y: 0, Z: 0}}

	b, err := accel.NewBuilder(d, accel.Config{Radius: 1.5})
	require.NoError(t, err)

	s, err := b.Build(context.Background(), points)
	require.NoError(t, err)
	defer s.Free()

	pl := testPipeline(t, Config{})
	tbl, err := BuildTable(pl)
	require.NoError(t, err)

	programs, err := tbl.Resolve()
	require.NoError(t, err)

	run := func(k int, query geom.Vec3) *TraceState {
		st := &TraceState{
			Query:   query,
			Points:  points,
			Radius:  1.5,
			Epsilon: 1e-4,
			Row:     make([]uint32, k),
		}

		stack := make([]int32, 0, pl.StackCapacity())
		require.NoError(t, programs.Probe(st, s, programs.Intersect, programs.Hit, programs.Miss, stack))

		return st
	}

	t.Run("WithinRadius", func(t *testing.T) {
		st := run(4, points[0])
		assert.Equal(t, 3, st.Filled)
		assert.ElementsMatch(t, []uint32{0, 1, 3}, st.Row[:st.Filled])
	})

	t.Run("StopsAtK", func(t *testing.T) {
		st := run(2, points[0])
		assert.Equal(t, 2, st.Filled)
	})

	t.Run("IsolatedQuery", func(t *testing.T) {
		st := run(4, geom.Vec3{X: -50, Y: -50, Z: -50})
		assert.Zero(t, st.Filled)
	})

	t.Run("ExactBoundaryAdmitted", func(t *testing.T) {
		st := &TraceState{
			Query:  geom.Vec3{X: 0, Y: 0, Z: 0},
			Points: []geom.Vec3{{X: 1.5, Y: 0, Z: 0}},
			Radius: 1.5,
			Row:    make([]uint32, 1),
		}

		assert.True(t, programs.Intersect(st, 0))
	})
}
