// Package accel builds compacted acceleration structures over bounding
// primitives and walks them with an explicit, budgeted traversal stack.
//
// A build inflates every point of one batch into its bounding box, uploads
// the boxes as the build input, and emits the structure into a
// conservatively sized output buffer. The exact size is only known once the
// build finishes; if it is smaller than the estimate, a compaction pass
// copies the nodes into an exact allocation and frees the scratch,
// otherwise the original buffer is kept. Peak memory stays bounded either
// way and the query phase always holds the smallest stable buffer.
package accel

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/rango/device"
	"github.com/hupe1980/rango/geom"
)

// DefaultLeafSize caps the primitives per leaf unless configured otherwise.
const DefaultLeafSize = 4

// ErrNegativeRadius is returned for a builder with radius < 0. Zero stays
// admitted: a zero-radius search still matches the query point itself.
var ErrNegativeRadius = errors.New("accel: radius must not be negative")

// ErrEmptyBatch is returned when a build gets no points.
var ErrEmptyBatch = errors.New("accel: empty batch")

// Config sizes a Builder.
type Config struct {
	// Radius inflates every point into its bounding primitive.
	Radius float32

	// LeafSize caps the primitives per leaf. 0 uses DefaultLeafSize.
	LeafSize int
}

// Builder converts point batches into compacted, traversal-ready
// structures on one device.
type Builder struct {
	dev      *device.Device
	radius   float32
	leafSize int
}

// NewBuilder creates a Builder for the given device and configuration.
func NewBuilder(dev *device.Device, cfg Config) (*Builder, error) {
	if cfg.Radius < 0 {
		return nil, ErrNegativeRadius
	}
	if cfg.LeafSize <= 0 {
		cfg.LeafSize = DefaultLeafSize
	}

	return &Builder{
		dev:      dev,
		radius:   cfg.Radius,
		leafSize: cfg.LeafSize,
	}, nil
}

// Stats describes one build's buffer outcome.
type Stats struct {
	BuildBytes int64
	FinalBytes int64
	Compacted  bool
	Nodes      int
	Depth      int
}

// Structure is a compacted acceleration structure over one batch. It is
// immutable after a successful build and owns three device buffers: the
// flattened nodes, the primitive index array, and the per-primitive boxes
// traversal culls against before a candidate reaches the intersection
// program.
type Structure struct {
	nodes    *device.Buffer[Node]
	prims    *device.Buffer[uint32]
	boxes    *device.Buffer[geom.Aabb]
	radius   float32
	numPrims int
	depth    int
	stats    Stats
}

// Build produces the structure for one batch. It holds a device build slot
// for the duration, so concurrent builds across batches are bounded by the
// device's resource configuration. A build or compaction failure is final;
// nothing is retried.
func (b *Builder) Build(ctx context.Context, points []geom.Vec3) (*Structure, error) {
	if len(points) == 0 {
		return nil, device.NewFault("structure build", ErrEmptyBatch)
	}

	rc := b.dev.Resources()
	if err := rc.AcquireBuildSlot(ctx); err != nil {
		return nil, device.NewFault("structure build", err)
	}
	defer rc.ReleaseBuildSlot()

	// Bounding primitives on the host, then their device copy as the
	// build input. The box buffer stays with the structure afterwards:
	// leaves cull candidates against it.
	boxes := make([]geom.Aabb, len(points))
	refs := make([]buildRef, len(points))
	for i, p := range points {
		boxes[i] = geom.Bound(p, b.radius)
		refs[i] = buildRef{box: boxes[i], prim: uint32(i)}
	}

	boxBuf, err := device.Alloc[geom.Aabb](b.dev, len(boxes))
	if err != nil {
		return nil, err
	}
	if err := boxBuf.Upload(ctx, boxes); err != nil {
		boxBuf.Free()
		return nil, err
	}

	// The output estimate has to be conservative: the build emits into it
	// before the compacted size is known. A binary tree over n primitives
	// never exceeds 2n-1 nodes.
	estimate := 2 * len(points)
	outBuf, err := device.Alloc[Node](b.dev, estimate)
	if err != nil {
		boxBuf.Free()
		return nil, err
	}

	fb := &flatBuilder{
		nodes:    make([]Node, 0, estimate),
		prims:    make([]uint32, 0, len(points)),
		leafSize: b.leafSize,
	}
	depth := fb.build(refs, 1)

	if err := outBuf.Upload(ctx, fb.nodes); err != nil {
		boxBuf.Free()
		outBuf.Free()
		return nil, err
	}

	stats := Stats{
		BuildBytes: outBuf.SizeBytes(),
		Nodes:      len(fb.nodes),
		Depth:      depth,
	}

	nodesBuf := outBuf
	if len(fb.nodes) < estimate {
		final, err := device.Alloc[Node](b.dev, len(fb.nodes))
		if err != nil {
			boxBuf.Free()
			outBuf.Free()
			return nil, device.NewFault("structure compaction", err)
		}
		copy(final.View(), outBuf.View()[:len(fb.nodes)])
		outBuf.Free()
		nodesBuf = final
		stats.Compacted = true
	}
	stats.FinalBytes = nodesBuf.SizeBytes()

	primsBuf, err := device.Alloc[uint32](b.dev, len(fb.prims))
	if err != nil {
		boxBuf.Free()
		nodesBuf.Free()
		return nil, err
	}
	if err := primsBuf.Upload(ctx, fb.prims); err != nil {
		boxBuf.Free()
		nodesBuf.Free()
		primsBuf.Free()
		return nil, err
	}

	return &Structure{
		nodes:    nodesBuf,
		prims:    primsBuf,
		boxes:    boxBuf,
		radius:   b.radius,
		numPrims: len(points),
		depth:    depth,
		stats:    stats,
	}, nil
}

// Restore rehydrates a structure from serialized nodes and primitive
// indices, allocating exact buffers. The per-primitive boxes are recomputed
// from the batch points rather than carried in the payload. The caller
// vouches for the payload being a depth-first layout produced by a Build
// over the same points and radius.
func Restore(ctx context.Context, dev *device.Device, nodes []Node, prims []uint32, points []geom.Vec3, radius float32, depth int) (*Structure, error) {
	if len(nodes) == 0 || len(points) == 0 {
		return nil, device.NewFault("structure restore", fmt.Errorf("empty payload"))
	}

	nodesBuf, err := device.Alloc[Node](dev, len(nodes))
	if err != nil {
		return nil, err
	}
	if err := nodesBuf.Upload(ctx, nodes); err != nil {
		nodesBuf.Free()
		return nil, err
	}

	primsBuf, err := device.Alloc[uint32](dev, len(prims))
	if err != nil {
		nodesBuf.Free()
		return nil, err
	}
	if err := primsBuf.Upload(ctx, prims); err != nil {
		nodesBuf.Free()
		primsBuf.Free()
		return nil, err
	}

	boxes := make([]geom.Aabb, len(points))
	for i, p := range points {
		boxes[i] = geom.Bound(p, radius)
	}
	boxBuf, err := device.Alloc[geom.Aabb](dev, len(boxes))
	if err != nil {
		nodesBuf.Free()
		primsBuf.Free()
		return nil, err
	}
	if err := boxBuf.Upload(ctx, boxes); err != nil {
		nodesBuf.Free()
		primsBuf.Free()
		boxBuf.Free()
		return nil, err
	}

	return &Structure{
		nodes:    nodesBuf,
		prims:    primsBuf,
		boxes:    boxBuf,
		radius:   radius,
		numPrims: len(points),
		depth:    depth,
		stats: Stats{
			BuildBytes: nodesBuf.SizeBytes(),
			FinalBytes: nodesBuf.SizeBytes(),
			Nodes:      len(nodes),
			Depth:      depth,
		},
	}, nil
}

// NumPrims returns the primitive count of the batch the structure indexes.
func (s *Structure) NumPrims() int {
	return s.numPrims
}

// Depth returns the structure height. Traversal needs a stack capacity of
// at least this many entries.
func (s *Structure) Depth() int {
	return s.depth
}

// Radius returns the bounding radius the structure was built with.
func (s *Structure) Radius() float32 {
	return s.radius
}

// Stats returns the build's buffer outcome.
func (s *Structure) Stats() Stats {
	return s.stats
}

// Traverse walks the structure for one probe, reporting every candidate
// primitive to visit. The stack slice arrives from the caller so kernels
// can reuse a budgeted allocation across invocations.
func (s *Structure) Traverse(probe geom.Probe, stack []int32, visit func(prim uint32) bool) error {
	return traverse(s.nodes.View(), s.prims.View(), s.boxes.View(), probe, stack, visit)
}

// FlatNodes returns the device view of the flattened nodes, for
// serialization. Callers must not mutate it.
func (s *Structure) FlatNodes() []Node {
	return s.nodes.View()
}

// PrimIndex returns the device view of the primitive index array, for
// serialization. Callers must not mutate it.
func (s *Structure) PrimIndex() []uint32 {
	return s.prims.View()
}

// Free releases the structure's device buffers. Free is idempotent.
func (s *Structure) Free() {
	if s == nil {
		return
	}
	s.nodes.Free()
	s.prims.Free()
	s.boxes.Free()
}
