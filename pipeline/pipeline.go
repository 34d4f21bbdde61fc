// Package pipeline assembles the programmable stages of the range-search
// engine. Query programs are compiled out of a built-in module by entry point
// name, linked into an immutable pipeline with a fixed traversal stack
// budget, and resolved at dispatch time through a binding table.
package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/rango/device"
)

var (
	// ErrUnknownEntry is returned when a program entry point is not part of
	// the built-in module.
	ErrUnknownEntry = errors.New("pipeline: unknown entry point")

	// ErrRoleMismatch is returned when an entry point is compiled for a role
	// it does not implement.
	ErrRoleMismatch = errors.New("pipeline: entry point role mismatch")

	// ErrMissingRole is returned by Link when a role has no program.
	ErrMissingRole = errors.New("pipeline: missing program for role")

	// ErrDuplicateRole is returned by Link when two programs claim one role.
	ErrDuplicateRole = errors.New("pipeline: duplicate program for role")

	// ErrDestroyed is returned for operations on a destroyed pipeline, and
	// for binding tables that outlive their pipeline.
	ErrDestroyed = errors.New("pipeline: destroyed")

	// ErrStaleRecord is returned when a binding table record no longer
	// matches the pipeline it was packed from.
	ErrStaleRecord = errors.New("pipeline: stale binding record")
)

// Role identifies the slot a program fills in the pipeline.
type Role uint8

const (
	// RoleProbe emits one containment probe per launch invocation and
	// drives it through the acceleration structure.
	RoleProbe Role = iota

	// RoleIntersect performs the exact candidate test behind the coarse
	// box cull.
	RoleIntersect

	// RoleHit records accepted candidates into the invocation's row and
	// decides whether traversal continues.
	RoleHit

	// RoleMiss runs once for probes that record nothing.
	RoleMiss

	numRoles
)

// String implements the fmt.Stringer interface.
func (r Role) String() string {
	switch r {
	case RoleProbe:
		return "probe"
	case RoleIntersect:
		return "intersect"
	case RoleHit:
		return "hit"
	case RoleMiss:
		return "miss"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Default link-time budgets. A single trace never recurses, so one level of
// traversable nesting and a dozen chained continuations bound every probe
// this module can emit.
const (
	DefaultMaxTrace            = 12
	DefaultMaxTraversableDepth = 1
)

// Config contains the link-time budgets of a pipeline.
type Config struct {
	// MaxTrace bounds the number of continuation chains a single probe may
	// stand up. Defaults to DefaultMaxTrace.
	MaxTrace int

	// MaxTraversableDepth bounds the nesting of traversable handles a probe
	// may pass through. The engine builds single-level structures, so this
	// defaults to DefaultMaxTraversableDepth.
	MaxTraversableDepth int
}

// Program is one compiled entry point, bound to a role and carrying the
// per-continuation stack frames the linker accounts for.
type Program struct {
	role   Role
	entry  string
	frames int
	handle uint64
	impl   any
}

// handleSeq hands out process-unique program handles.
var handleSeq atomic.Uint64

// Compile resolves the named entry point from the built-in module and
// returns it as a program for the given role.
func Compile(role Role, entry string) (*Program, error) {
	spec, ok := moduleTable[entry]
	if !ok {
		return nil, device.NewFault("module compile", fmt.Errorf("%w: %q", ErrUnknownEntry, entry))
	}

	if spec.role != role {
		return nil, device.NewFault("module compile", fmt.Errorf("%w: %q implements %s, not %s", ErrRoleMismatch, entry, spec.role, role))
	}

	return &Program{
		role:   role,
		entry:  entry,
		frames: spec.frames,
		handle: handleSeq.Add(1),
		impl:   spec.impl,
	}, nil
}

// DefaultPrograms compiles the four built-in range-search programs, one per
// role.
func DefaultPrograms() ([]*Program, error) {
	entries := map[Role]string{
		RoleProbe:     EntryRangeProbe,
		RoleIntersect: EntrySphereIntersect,
		RoleHit:       EntryRecordHit,
		RoleMiss:      EntryNoopMiss,
	}

	programs := make([]*Program, 0, len(entries))
	for role := RoleProbe; role < numRoles; role++ {
		p, err := Compile(role, entries[role])
		if err != nil {
			return nil, err
		}
		programs = append(programs, p)
	}

	return programs, nil
}

// Role returns the role the program was compiled for.
func (p *Program) Role() Role { return p.role }

// Entry returns the entry point name the program was compiled from.
func (p *Program) Entry() string { return p.entry }

// Handle returns the program's opaque handle, as packed into binding table
// records.
func (p *Program) Handle() uint64 { return p.handle }

// StackFrames returns the continuation frames one invocation of the program
// consumes.
func (p *Program) StackFrames() int { return p.frames }

// Pipeline is a linked, immutable set of programs with a fixed traversal
// stack capacity. Destroy invalidates the pipeline and every binding table
// built against it.
type Pipeline struct {
	programs  [numRoles]*Program
	maxTrace  int
	stackCap  int
	destroyed atomic.Bool
}

// Link validates that every role is filled exactly once and fixes the
// traversal stack capacity from the per-program frame requirements.
func Link(cfg Config, programs ...*Program) (*Pipeline, error) {
	if cfg.MaxTrace <= 0 {
		cfg.MaxTrace = DefaultMaxTrace
	}

	if cfg.MaxTraversableDepth <= 0 {
		cfg.MaxTraversableDepth = DefaultMaxTraversableDepth
	}

	var slots [numRoles]*Program
	for _, p := range programs {
		if slots[p.role] != nil {
			return nil, device.NewFault("pipeline link", fmt.Errorf("%w: %s", ErrDuplicateRole, p.role))
		}

		slots[p.role] = p
	}

	for role := RoleProbe; role < numRoles; role++ {
		if slots[role] == nil {
			return nil, device.NewFault("pipeline link", fmt.Errorf("%w: %s", ErrMissingRole, role))
		}
	}

	// The deepest chain a single trace stands up is the intersection plus
	// hit frames; misses run on the same continuation, so the wider of the
	// two bounds the per-trace cost.
	perTrace := slots[RoleIntersect].frames + slots[RoleHit].frames
	if m := slots[RoleMiss].frames; m > perTrace {
		perTrace = m
	}

	return &Pipeline{
		programs: slots,
		maxTrace: cfg.MaxTrace,
		stackCap: cfg.MaxTraversableDepth * (slots[RoleProbe].frames + cfg.MaxTrace*perTrace),
	}, nil
}

// StackCapacity returns the linked traversal stack capacity in entries. The
// launcher refuses structures deeper than this.
func (p *Pipeline) StackCapacity() int { return p.stackCap }

// MaxTrace returns the linked continuation budget.
func (p *Pipeline) MaxTrace() int { return p.maxTrace }

// Program returns the linked program for the given role.
func (p *Pipeline) Program(role Role) (*Program, error) {
	if p.destroyed.Load() {
		return nil, device.NewFault("program lookup", ErrDestroyed)
	}

	if role >= numRoles || p.programs[role] == nil {
		return nil, device.NewFault("program lookup", fmt.Errorf("%w: %s", ErrMissingRole, role))
	}

	return p.programs[role], nil
}

// Destroy invalidates the pipeline. Binding tables built against it fail to
// resolve afterwards. Destroy is idempotent.
func (p *Pipeline) Destroy() {
	p.destroyed.Store(true)
}
