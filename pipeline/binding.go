package pipeline

import (
	"fmt"

	"github.com/hupe1980/rango/device"
)

// Record packs the handle a dispatch resolves to a program. The engine runs
// a single material, so the table carries exactly one record per role.
type Record struct {
	Handle uint64
}

// Programs is the resolved program set a dispatch executes.
type Programs struct {
	Probe     ProbeFunc
	Intersect IntersectFunc
	Hit       HitFunc
	Miss      MissFunc
}

// BindingTable binds dispatches to the programs of a linked pipeline. A
// table that outlives its pipeline resolves against stale records and
// fails; rebuild it against the current pipeline instead.
type BindingTable struct {
	pl      *Pipeline
	records [numRoles]Record
}

// BuildTable packs one record per role from the pipeline's linked programs.
func BuildTable(pl *Pipeline) (*BindingTable, error) {
	if pl.destroyed.Load() {
		return nil, device.NewFault("binding table build", ErrDestroyed)
	}

	t := &BindingTable{pl: pl}
	for role := RoleProbe; role < numRoles; role++ {
		t.records[role] = Record{Handle: pl.programs[role].Handle()}
	}

	return t, nil
}

// Record returns the packed record for the given role.
func (t *BindingTable) Record(role Role) Record {
	return t.records[role]
}

// Resolve validates every record against the pipeline and returns the
// program set for dispatch.
func (t *BindingTable) Resolve() (Programs, error) {
	if t.pl.destroyed.Load() {
		return Programs{}, device.NewFault("binding table resolve", ErrDestroyed)
	}

	var out Programs
	for role := RoleProbe; role < numRoles; role++ {
		p := t.pl.programs[role]
		if p.Handle() != t.records[role].Handle {
			return Programs{}, device.NewFault("binding table resolve", fmt.Errorf("%w: %s", ErrStaleRecord, role))
		}

		switch role {
		case RoleProbe:
			out.Probe = p.impl.(ProbeFunc)
		case RoleIntersect:
			out.Intersect = p.impl.(IntersectFunc)
		case RoleHit:
			out.Hit = p.impl.(HitFunc)
		case RoleMiss:
			out.Miss = p.impl.(MissFunc)
		}
	}

	return out, nil
}
