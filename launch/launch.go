// Package launch drives dispatches against the acceleration structure. A
// launcher owns the neighbor output buffer and runs the fixed protocol for
// every batch: map and sentinel-fill the output, upload the launch params,
// dispatch one invocation per query, synchronize, and read the rows back.
package launch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/rango/accel"
	"github.com/hupe1980/rango/device"
	"github.com/hupe1980/rango/geom"
	"github.com/hupe1980/rango/pipeline"
)

// Sentinel marks unused neighbor slots. The output buffer is refilled with
// it before every dispatch, so a row is terminated by its first sentinel and
// everything after is sentinel too.
const Sentinel = ^uint32(0)

// DefaultEpsilon is the probe admission slack applied when none is
// configured.
const DefaultEpsilon = 1e-4

var (
	// ErrDepthExceeded is returned when a structure is deeper than the
	// pipeline's linked stack capacity.
	ErrDepthExceeded = errors.New("launch: structure depth exceeds linked stack capacity")

	// ErrWidthMismatch is returned when a batch's query count does not
	// match the launcher's configured width.
	ErrWidthMismatch = errors.New("launch: query count does not match configured width")

	// ErrNotLaunched is returned by Readback before a synchronized launch.
	ErrNotLaunched = errors.New("launch: no synchronized launch to read back")

	// ErrClosed is returned for operations on a closed launcher.
	ErrClosed = errors.New("launch: closed")
)

// Params is the constant block uploaded to the device before each dispatch.
// It is re-materialized per batch; invocations read it, never write it.
type Params struct {
	Queries  []geom.Vec3
	Handle   *accel.Structure
	Out      []uint32
	Radius   float32
	Epsilon  float32
	K        int
	BatchID  int
	NumPrims int
}

// Config contains the launcher settings.
type Config struct {
	// K is the per-query neighbor capacity. Must be > 0.
	K int

	// Radius is the search radius. Must be >= 0.
	Radius float32

	// Epsilon is the probe admission slack. Defaults to DefaultEpsilon.
	Epsilon float32

	// NumPrims is the per-batch query count the output buffer is sized
	// for. Must be > 0.
	NumPrims int
}

// Launcher owns the neighbor output buffer and dispatches batches through
// the pipeline's programs. It is not safe for concurrent use; callers
// serialize launches.
type Launcher struct {
	dev    *device.Device
	pl     *pipeline.Pipeline
	tbl    *pipeline.BindingTable
	out    *device.Buffer[uint32]
	cfg    Config
	stacks sync.Pool

	batchID int
	width   int
	ready   bool
	closed  bool
}

// NewLauncher allocates the output buffer for NumPrims queries of K slots
// each and prepares dispatches through the given pipeline and binding
// table.
func NewLauncher(dev *device.Device, pl *pipeline.Pipeline, tbl *pipeline.BindingTable, cfg Config) (*Launcher, error) {
	if cfg.K <= 0 {
		return nil, fmt.Errorf("launch: invalid neighbor capacity %d", cfg.K)
	}

	if cfg.Radius < 0 {
		return nil, fmt.Errorf("launch: invalid radius %g", cfg.Radius)
	}

	if cfg.NumPrims <= 0 {
		return nil, fmt.Errorf("launch: invalid width %d", cfg.NumPrims)
	}

	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultEpsilon
	}

	out, err := device.Alloc[uint32](dev, cfg.NumPrims*cfg.K)
	if err != nil {
		return nil, err
	}

	capacity := pl.StackCapacity()

	return &Launcher{
		dev: dev,
		pl:  pl,
		tbl: tbl,
		out: out,
		cfg: cfg,
		stacks: sync.Pool{
			New: func() any {
				s := make([]int32, 0, capacity)
				return &s
			},
		},
	}, nil
}

// Launch runs the dispatch protocol for one batch and blocks until the
// device has synchronized: sentinel-fill the mapped output, upload params,
// dispatch one invocation per query, unmap, synchronize. The rows stay on
// the device until Readback.
func (l *Launcher) Launch(ctx context.Context, batchID int, queries *device.Buffer[geom.Vec3], s *accel.Structure) error {
	if l.closed {
		return ErrClosed
	}

	l.ready = false

	if depth := s.Depth(); depth > l.pl.StackCapacity() {
		return device.NewFault("dispatch", fmt.Errorf("%w: depth %d, capacity %d", ErrDepthExceeded, depth, l.pl.StackCapacity()))
	}

	width := queries.Len()
	if width != l.cfg.NumPrims {
		return device.NewFault("dispatch", fmt.Errorf("%w: got %d, want %d", ErrWidthMismatch, width, l.cfg.NumPrims))
	}

	programs, err := l.tbl.Resolve()
	if err != nil {
		return err
	}

	rows, err := l.out.Map()
	if err != nil {
		return device.NewFault("output map", err)
	}

	for i := range rows {
		rows[i] = Sentinel
	}

	view := queries.View()

	params := Params{
		Queries:  view,
		Handle:   s,
		Out:      rows,
		Radius:   l.cfg.Radius,
		Epsilon:  l.cfg.Epsilon,
		K:        l.cfg.K,
		BatchID:  batchID,
		NumPrims: width,
	}

	if err := l.dev.UploadParams(ctx, params); err != nil {
		_ = l.out.Unmap()
		return err
	}

	k := l.cfg.K

	run, err := l.dev.Dispatch(ctx, width, func(idx int) error {
		sp := l.stacks.Get().(*[]int32)
		defer l.stacks.Put(sp)

		st := pipeline.TraceState{
			QueryID: uint32(idx),
			Query:   view[idx],
			Points:  view,
			Radius:  params.Radius,
			Epsilon: params.Epsilon,
			Row:     rows[idx*k : (idx+1)*k],
		}

		return programs.Probe(&st, s, programs.Intersect, programs.Hit, programs.Miss, *sp)
	})
	if err != nil {
		_ = l.out.Unmap()
		return err
	}

	if err := l.out.Unmap(); err != nil {
		return device.NewFault("output unmap", err)
	}

	if err := run.Synchronize(); err != nil {
		return err
	}

	l.batchID = batchID
	l.width = width
	l.ready = true

	return nil
}

// Readback copies the neighbor rows of the last synchronized launch from
// the device to the host.
func (l *Launcher) Readback(ctx context.Context) (*Result, error) {
	if l.closed {
		return nil, ErrClosed
	}

	if !l.ready {
		return nil, ErrNotLaunched
	}

	rows, err := l.out.Readback(ctx)
	if err != nil {
		return nil, err
	}

	return &Result{
		BatchID:    l.batchID,
		K:          l.cfg.K,
		NumQueries: l.width,
		Rows:       rows,
	}, nil
}

// OutputBytes returns the size of the neighbor output buffer.
func (l *Launcher) OutputBytes() int64 {
	return l.out.SizeBytes()
}

// Close frees the output buffer. Close is idempotent.
func (l *Launcher) Close() {
	if l == nil || l.closed {
		return
	}

	l.closed = true
	l.out.Free()
}

// Result holds one batch's neighbor rows read back to the host. Rows is a
// dense NumQueries x K grid; each row lists neighbor ids and is terminated
// by its first Sentinel.
type Result struct {
	BatchID    int
	K          int
	NumQueries int
	Rows       []uint32
}

// Row returns query q's raw K-slot segment.
func (r *Result) Row(q int) []uint32 {
	return r.Rows[q*r.K : (q+1)*r.K]
}

// Neighbors returns query q's neighbor ids, cut at the first sentinel.
func (r *Result) Neighbors(q int) []uint32 {
	row := r.Row(q)
	for i, id := range row {
		if id == Sentinel {
			return row[:i]
		}
	}

	return row
}
