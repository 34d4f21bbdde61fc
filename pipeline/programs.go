package pipeline

import (
	"github.com/hupe1980/rango/accel"
	"github.com/hupe1980/rango/geom"
)

// Entry point names exported by the built-in module.
const (
	// EntryRangeProbe emits a containment probe at the invocation's query
	// and walks the structure until its row fills.
	EntryRangeProbe = "probe.range"

	// EntrySphereIntersect accepts candidates whose squared distance to the
	// query is within the squared search radius.
	EntrySphereIntersect = "isect.sphere"

	// EntryRecordHit appends accepted candidates to the row and stops
	// traversal once the row is full.
	EntryRecordHit = "hit.record"

	// EntryNoopMiss ignores probes that record nothing.
	EntryNoopMiss = "miss.noop"
)

// TraceState is the register file of a single probe invocation: the query,
// the candidate centers it is tested against, the search bounds, and the
// invocation's private output row. Rows are disjoint across invocations, so
// programs mutate their state without locks.
type TraceState struct {
	QueryID uint32
	Query   geom.Vec3
	Points  []geom.Vec3
	Radius  float32
	Epsilon float32
	Row     []uint32
	Filled  int
}

// ProbeFunc drives one invocation: it emits the probe, traverses the
// structure, and feeds coarse candidates through the intersect and hit
// programs. The stack must be empty with capacity at least the structure
// depth.
type ProbeFunc func(st *TraceState, s *accel.Structure, isect IntersectFunc, hit HitFunc, miss MissFunc, stack []int32) error

// IntersectFunc reports whether a coarse candidate passes the exact test.
type IntersectFunc func(st *TraceState, prim uint32) bool

// HitFunc records an accepted candidate and reports whether traversal
// continues.
type HitFunc func(st *TraceState, prim uint32) bool

// MissFunc runs once for probes that record nothing.
type MissFunc func(st *TraceState)

type programSpec struct {
	role   Role
	frames int
	impl   any
}

// moduleTable maps entry point names to their implementations, standing in
// for the compiled module programs are loaded from.
var moduleTable = map[string]programSpec{
	EntryRangeProbe:      {role: RoleProbe, frames: 2, impl: ProbeFunc(rangeProbe)},
	EntrySphereIntersect: {role: RoleIntersect, frames: 1, impl: IntersectFunc(sphereIntersect)},
	EntryRecordHit:       {role: RoleHit, frames: 1, impl: HitFunc(recordHit)},
	EntryNoopMiss:        {role: RoleMiss, frames: 1, impl: MissFunc(noopMiss)},
}

func rangeProbe(st *TraceState, s *accel.Structure, isect IntersectFunc, hit HitFunc, miss MissFunc, stack []int32) error {
	probe := geom.Probe{Origin: st.Query, Epsilon: st.Epsilon}

	err := s.Traverse(probe, stack, func(prim uint32) bool {
		if !isect(st, prim) {
			return true
		}

		return hit(st, prim)
	})
	if err != nil {
		return err
	}

	if st.Filled == 0 {
		miss(st)
	}

	return nil
}

func sphereIntersect(st *TraceState, prim uint32) bool {
	return geom.SquaredL2(st.Points[prim], st.Query) <= st.Radius*st.Radius
}

func recordHit(st *TraceState, prim uint32) bool {
	st.Row[st.Filled] = prim
	st.Filled++

	return st.Filled < len(st.Row)
}

func noopMiss(*TraceState) {}
