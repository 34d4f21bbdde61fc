package geom

// Probe is the record a probe-emission invocation fires into the
// acceleration structure: one per query point. Range search probes span only
// the tolerance neighborhood of their origin, so traversal visits exactly
// the boxes that contain Origin within Epsilon and leaves the exact distance
// decision to the intersection program.
type Probe struct {
	Origin  Vec3
	Epsilon float32
}

// Admits reports whether the probe overlaps b.
func (p Probe) Admits(b Aabb) bool {
	return b.ContainsEps(p.Origin, p.Epsilon)
}
