package accel

import (
	"errors"
	"sort"

	"github.com/hupe1980/rango/geom"
)

// ErrTraversalStack is raised when a traversal needs more stack entries
// than the linked pipeline provisioned.
var ErrTraversalStack = errors.New("accel: traversal stack exhausted")

// Node is one element of the flattened structure layout, in depth-first
// order: an internal node's left child is the node right after it and the
// right child index is stored explicitly. Leaves carry a span into the
// primitive index array instead.
type Node struct {
	Box        geom.Aabb
	RightChild int32 // -1 for leaves
	Start      int32 // leaf: offset into the primitive index array
	Count      int32 // leaf: span length; 0 marks an internal node
}

type buildRef struct {
	box  geom.Aabb
	prim uint32
}

type flatBuilder struct {
	nodes    []Node
	prims    []uint32
	leafSize int
}

// build emits the subtree over refs in depth-first order and returns its
// height, counting the root as 1. The split axis is the one with the widest
// centroid spread, falling back to the longest box extent when every
// centroid coincides; refs are split at the median.
func (fb *flatBuilder) build(refs []buildRef, depth int) int {
	n := len(refs)

	bounds := refs[0].box
	for _, r := range refs[1:] {
		bounds = bounds.Union(r.box)
	}

	if n <= fb.leafSize {
		fb.nodes = append(fb.nodes, Node{
			Box:        bounds,
			RightChild: -1,
			Start:      int32(len(fb.prims)),
			Count:      int32(n),
		})
		for _, r := range refs {
			fb.prims = append(fb.prims, r.prim)
		}
		return depth
	}

	c0 := refs[0].box.Centroid()
	cmin := [3]float32{c0.X, c0.Y, c0.Z}
	cmax := cmin
	for _, r := range refs[1:] {
		c := r.box.Centroid()
		cmin[0] = min(cmin[0], c.X)
		cmin[1] = min(cmin[1], c.Y)
		cmin[2] = min(cmin[2], c.Z)
		cmax[0] = max(cmax[0], c.X)
		cmax[1] = max(cmax[1], c.Y)
		cmax[2] = max(cmax[2], c.Z)
	}
	spread := [3]float32{cmax[0] - cmin[0], cmax[1] - cmin[1], cmax[2] - cmin[2]}
	axis := 0
	if spread[1] > spread[axis] {
		axis = 1
	}
	if spread[2] > spread[axis] {
		axis = 2
	}

	if spread[axis] <= 0 {
		ext := [3]float32{
			bounds.Max.X - bounds.Min.X,
			bounds.Max.Y - bounds.Min.Y,
			bounds.Max.Z - bounds.Min.Z,
		}
		axis = 0
		if ext[1] > ext[axis] {
			axis = 1
		}
		if ext[2] > ext[axis] {
			axis = 2
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		ci := refs[i].box.Axis(axis)
		cj := refs[j].box.Axis(axis)
		if ci == cj {
			// Stable order keeps rebuilds of the same input identical.
			return refs[i].prim < refs[j].prim
		}
		return ci < cj
	})

	mid := n / 2
	self := len(fb.nodes)
	fb.nodes = append(fb.nodes, Node{})

	leftDepth := fb.build(refs[:mid], depth+1)
	right := len(fb.nodes)
	rightDepth := fb.build(refs[mid:], depth+1)

	fb.nodes[self] = Node{
		Box:        bounds,
		RightChild: int32(right),
	}

	return max(leftDepth, rightDepth)
}

// traverse walks the flattened nodes with an explicit stack. Candidates are
// primitives whose own box admits the probe; visit runs once per candidate
// and returning false stops the walk. stack must arrive empty and its
// capacity is the provisioned traversal budget: a walk that would outgrow
// it fails with ErrTraversalStack instead of reallocating, because the
// budget is a link-time guarantee.
func traverse(nodes []Node, prims []uint32, boxes []geom.Aabb, probe geom.Probe, stack []int32, visit func(prim uint32) bool) error {
	if len(nodes) == 0 {
		return nil
	}

	stack = stack[:0]
	cur := int32(0)
	for {
		n := &nodes[cur]
		if probe.Admits(n.Box) {
			if n.Count > 0 {
				for _, prim := range prims[n.Start : n.Start+n.Count] {
					if !probe.Admits(boxes[prim]) {
						continue
					}
					if !visit(prim) {
						return nil
					}
				}
			} else {
				if len(stack) == cap(stack) {
					return ErrTraversalStack
				}
				stack = append(stack, n.RightChild)
				cur++
				continue
			}
		}

		if len(stack) == 0 {
			return nil
		}
		cur = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
	}
}
