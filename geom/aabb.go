package geom

// Aabb is an axis-aligned bounding box.
type Aabb struct {
	Min, Max Vec3
}

// Bound returns the conservative box around a sphere of the given radius
// centered at c. It is the bounding primitive the acceleration structure is
// built over: a superset of the sphere, so every containment answer derived
// from it must be re-verified against the exact distance.
func Bound(c Vec3, radius float32) Aabb {
	r := Vec3{X: radius, Y: radius, Z: radius}
	return Aabb{Min: c.Sub(r), Max: c.Add(r)}
}

// Union returns the smallest box enclosing both a and b.
func (a Aabb) Union(b Aabb) Aabb {
	return Aabb{
		Min: Vec3{min(a.Min.X, b.Min.X), min(a.Min.Y, b.Min.Y), min(a.Min.Z, b.Min.Z)},
		Max: Vec3{max(a.Max.X, b.Max.X), max(a.Max.Y, b.Max.Y), max(a.Max.Z, b.Max.Z)},
	}
}

// Centroid returns the center point of the box.
func (a Aabb) Centroid() Vec3 {
	return Vec3{
		X: (a.Min.X + a.Max.X) * 0.5,
		Y: (a.Min.Y + a.Max.Y) * 0.5,
		Z: (a.Min.Z + a.Max.Z) * 0.5,
	}
}

// Contains reports whether p lies inside the box, boundaries included.
func (a Aabb) Contains(p Vec3) bool {
	return p.X >= a.Min.X && p.X <= a.Max.X &&
		p.Y >= a.Min.Y && p.Y <= a.Max.Y &&
		p.Z >= a.Min.Z && p.Z <= a.Max.Z
}

// ContainsEps reports whether p lies inside the box dilated by eps on every
// side. A zero-radius bounding primitive degenerates to a single point, so
// containment has to admit exact boundary hits; callers pass a small
// tolerance rather than relying on floating-point luck.
func (a Aabb) ContainsEps(p Vec3, eps float32) bool {
	return p.X >= a.Min.X-eps && p.X <= a.Max.X+eps &&
		p.Y >= a.Min.Y-eps && p.Y <= a.Max.Y+eps &&
		p.Z >= a.Min.Z-eps && p.Z <= a.Max.Z+eps
}

// Axis selects a centroid component: 0 = X, 1 = Y, 2 = Z.
func (a Aabb) Axis(axis int) float32 {
	c := a.Centroid()
	switch axis {
	case 0:
		return c.X
	case 1:
		return c.Y
	default:
		return c.Z
	}
}
