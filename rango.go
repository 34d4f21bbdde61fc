package rango

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/rango/accel"
	"github.com/hupe1980/rango/blobstore"
	"github.com/hupe1980/rango/device"
	"github.com/hupe1980/rango/geom"
	"github.com/hupe1980/rango/launch"
	"github.com/hupe1980/rango/pipeline"
	"github.com/hupe1980/rango/pointcloud"
	"github.com/hupe1980/rango/snapshot"
)

// State is the engine's lifecycle position. Transitions are strictly
// ordered; an operation invoked out of order fails with a StateError.
type State uint8

const (
	// StateUninitialized is the zero value; a constructed engine never
	// reports it.
	StateUninitialized State = iota

	// StateContextReady means the device context is open.
	StateContextReady

	// StateGeometryBuilt means every batch has a built, compacted
	// acceleration structure.
	StateGeometryBuilt

	// StatePipelineLinked means the query programs are compiled and linked.
	StatePipelineLinked

	// StateBindingTableReady means the binding table is packed against the
	// linked pipeline.
	StateBindingTableReady

	// StateDispatched means a batch dispatch has synchronized and its rows
	// await readback.
	StateDispatched

	// StateResultsReady means the last dispatch's rows are on the host.
	StateResultsReady

	// StateDestroyed means Close ran; the engine cannot be reused.
	StateDestroyed
)

// String implements the fmt.Stringer interface.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateContextReady:
		return "ContextReady"
	case StateGeometryBuilt:
		return "GeometryBuilt"
	case StatePipelineLinked:
		return "PipelineLinked"
	case StateBindingTableReady:
		return "BindingTableReady"
	case StateDispatched:
		return "Dispatched"
	case StateResultsReady:
		return "ResultsReady"
	case StateDestroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Engine owns the full run state of one range search: the device context,
// the per-batch point buffers and structures, the linked pipeline, the
// binding table and the launcher. It is not safe for concurrent use; all
// lifecycle calls happen from one goroutine.
type Engine struct {
	opts   options
	radius float32
	k      int

	state State

	dev        *device.Device
	store      *pointcloud.BatchStore
	structures []*accel.Structure
	pl         *pipeline.Pipeline
	tbl        *pipeline.BindingTable
	launcher   *launch.Launcher

	logger  *Logger
	metrics MetricsCollector
}

// New opens the device context for a range search with the given radius
// and per-query neighbor capacity k. The returned engine is in
// StateContextReady.
func New(radius float32, k int, optFns ...Option) (*Engine, error) {
	if radius < 0 {
		return nil, ErrInvalidRadius
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}

	o := applyOptions(optFns)

	start := time.Now()
	dev, err := device.Open(device.Config{
		Index:     o.deviceIndex,
		Lanes:     o.lanes,
		Resources: o.resources,
	})
	elapsed := time.Since(start)

	o.metricsCollector.RecordContextCreate(elapsed, err)
	if err != nil {
		o.logger.LogContextCreate(context.Background(), "", 0, elapsed, err)
		return nil, translateError(err)
	}

	info := dev.Info()
	o.logger.LogContextCreate(context.Background(), info.Name, info.Lanes, elapsed, nil)

	return &Engine{
		opts:    o,
		radius:  radius,
		k:       k,
		state:   StateContextReady,
		dev:     dev,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}, nil
}

// State returns the engine's lifecycle position.
func (e *Engine) State() State {
	return e.state
}

// Radius returns the configured search radius.
func (e *Engine) Radius() float32 {
	return e.radius
}

// K returns the configured per-query neighbor capacity.
func (e *Engine) K() int {
	return e.k
}

// Device returns the open device context.
func (e *Engine) Device() *device.Device {
	return e.dev
}

// NumBatches returns the number of 3-D projections, or 0 before geometry is
// built.
func (e *Engine) NumBatches() int {
	if e.store == nil {
		return 0
	}
	return e.store.Batches()
}

// NumPoints returns the per-batch primitive count, or 0 before geometry is
// built.
func (e *Engine) NumPoints() int {
	if e.store == nil {
		return 0
	}
	return e.store.NumPoints()
}

// Structure returns one batch's built acceleration structure.
func (e *Engine) Structure(batch int) *accel.Structure {
	return e.structures[batch]
}

func (e *Engine) require(op string, want State) error {
	if e.state == StateDestroyed {
		return ErrDestroyed
	}
	if e.state != want {
		return &StateError{Op: op, State: e.state, Want: want}
	}
	return nil
}

// BuildGeometry uploads the point batches to the device and builds one
// compacted acceleration structure per batch. Builds run concurrently,
// bounded by the resource configuration. On success the engine takes
// ownership of the store's device mirrors and moves to StateGeometryBuilt.
func (e *Engine) BuildGeometry(ctx context.Context, store *pointcloud.BatchStore) error {
	if err := e.require("geometry build", StateContextReady); err != nil {
		return err
	}

	start := time.Now()
	err := e.buildGeometry(ctx, store)
	elapsed := time.Since(start)

	e.metrics.RecordGeometryBuild(store.Batches(), elapsed, err)
	e.logger.LogGeometryBuild(ctx, store.Batches(), store.NumPoints(), elapsed, err)
	if err != nil {
		return translateError(err)
	}

	e.state = StateGeometryBuilt
	return nil
}

func (e *Engine) buildGeometry(ctx context.Context, store *pointcloud.BatchStore) error {
	if err := store.Upload(ctx, e.dev); err != nil {
		return err
	}

	builder, err := accel.NewBuilder(e.dev, accel.Config{
		Radius:   e.radius,
		LeafSize: e.opts.leafSize,
	})
	if err != nil {
		store.Free()
		return err
	}

	structures := make([]*accel.Structure, store.Batches())

	g, gctx := errgroup.WithContext(ctx)
	for b := 0; b < store.Batches(); b++ {
		g.Go(func() error {
			s, err := builder.Build(gctx, store.Batch(b))
			if err != nil {
				return err
			}
			structures[b] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, s := range structures {
			s.Free()
		}
		store.Free()
		return err
	}

	for b, s := range structures {
		stats := s.Stats()
		e.logger.LogCompaction(ctx, b, stats.BuildBytes, stats.FinalBytes, stats.Compacted)
	}

	e.store = store
	e.structures = structures
	return nil
}

// RestoreGeometry rehydrates a previously saved structure set from store,
// skipping the build phase, and moves to StateGeometryBuilt. The snapshot's
// radius must match the engine's.
func (e *Engine) RestoreGeometry(ctx context.Context, bs blobstore.BlobStore, commit blobstore.CommitStore) error {
	if err := e.require("geometry restore", StateContextReady); err != nil {
		return err
	}

	snap, err := snapshot.Load(ctx, bs, commit, e.dev, e.snapshotOptions()...)
	if err != nil {
		e.logger.LogSnapshot(ctx, "load", "", err)
		return translateError(err)
	}

	if snap.Manifest.Radius != e.radius {
		snap.Free()
		err := fmt.Errorf("snapshot radius %g does not match engine radius %g", snap.Manifest.Radius, e.radius)
		e.logger.LogSnapshot(ctx, "load", "", err)
		return err
	}

	batches := make([][]geom.Vec3, len(snap.Batches))
	structures := make([]*accel.Structure, len(snap.Batches))
	for i, b := range snap.Batches {
		batches[i] = b.Points
		structures[i] = b.Structure
	}

	store, err := pointcloud.FromBatches(snap.Manifest.RawDim, batches)
	if err != nil {
		snap.Free()
		return translateError(err)
	}

	if err := store.Upload(ctx, e.dev); err != nil {
		snap.Free()
		return translateError(err)
	}

	e.logger.LogSnapshot(ctx, "load", snap.Manifest.Name, nil)

	e.store = store
	e.structures = structures
	e.state = StateGeometryBuilt
	return nil
}

// LinkPipeline compiles the built-in query programs and links them with a
// fixed traversal stack budget, moving to StatePipelineLinked.
func (e *Engine) LinkPipeline(ctx context.Context) error {
	if err := e.require("pipeline link", StateGeometryBuilt); err != nil {
		return err
	}

	start := time.Now()
	pl, err := e.linkPipeline()
	elapsed := time.Since(start)

	e.metrics.RecordPipelineLink(elapsed, err)
	if err != nil {
		e.logger.LogPipelineLink(ctx, 0, elapsed, err)
		return translateError(err)
	}
	e.logger.LogPipelineLink(ctx, pl.StackCapacity(), elapsed, nil)

	e.pl = pl
	e.state = StatePipelineLinked
	return nil
}

func (e *Engine) linkPipeline() (*pipeline.Pipeline, error) {
	programs, err := pipeline.DefaultPrograms()
	if err != nil {
		return nil, err
	}

	return pipeline.Link(pipeline.Config{MaxTrace: e.opts.maxTrace}, programs...)
}

// BuildBindingTable packs one record per program role from the linked
// pipeline, moving to StateBindingTableReady.
func (e *Engine) BuildBindingTable(ctx context.Context) error {
	if err := e.require("binding table build", StatePipelineLinked); err != nil {
		return err
	}

	start := time.Now()
	tbl, err := pipeline.BuildTable(e.pl)
	elapsed := time.Since(start)

	e.metrics.RecordBindingTable(elapsed, err)
	e.logger.LogBindingTable(ctx, elapsed, err)
	if err != nil {
		return translateError(err)
	}

	e.tbl = tbl
	e.state = StateBindingTableReady
	return nil
}

// SaveSnapshot serializes the built structure set through bs and publishes
// its manifest via commit. Valid from StateGeometryBuilt onward; the engine
// state does not change.
func (e *Engine) SaveSnapshot(ctx context.Context, bs blobstore.BlobStore, commit blobstore.CommitStore) (*snapshot.Manifest, error) {
	if e.state == StateDestroyed {
		return nil, ErrDestroyed
	}
	if e.store == nil {
		return nil, &StateError{Op: "snapshot save", State: e.state, Want: StateGeometryBuilt}
	}

	src := &snapshot.Source{
		Radius:    e.radius,
		RawDim:    e.store.RawDim(),
		PaddedDim: e.store.Dim(),
		NumPoints: e.store.NumPoints(),
	}
	for b, s := range e.structures {
		src.Batches = append(src.Batches, snapshot.BatchSource{
			Points: e.store.Batch(b),
			Nodes:  s.FlatNodes(),
			Prims:  s.PrimIndex(),
			Depth:  s.Depth(),
		})
	}

	m, err := snapshot.Save(ctx, bs, commit, src, e.snapshotOptions()...)
	if err != nil {
		e.logger.LogSnapshot(ctx, "save", "", err)
		return nil, translateError(err)
	}

	e.logger.LogSnapshot(ctx, "save", m.Name, nil)
	return m, nil
}

// snapshotOptions prepends the device's copy-budget throttle so snapshot
// traffic and buffer copies draw from one budget; configured options apply
// after it and may override.
func (e *Engine) snapshotOptions() []func(*snapshot.Options) {
	throttle := func(o *snapshot.Options) {
		o.Throttle = e.dev.Resources()
	}

	return append([]func(*snapshot.Options){throttle}, e.opts.snapshotOptions...)
}
