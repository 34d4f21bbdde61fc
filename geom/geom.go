// Package geom provides the fixed three-component geometry kit the range
// search engine is built on: points, axis-aligned bounding boxes and probe
// rays.
//
// Coordinates are float32 end to end, matching the layout of the
// device-resident point buffers. Squared distances stay in float32 as well;
// the radius comparison the engine performs never needs the extra precision.
package geom

// Vec3 is a point or direction with three float32 components.
type Vec3 struct {
	X, Y, Z float32
}

// Add returns v + o component-wise.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o component-wise.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Dot returns the dot product of v and o.
func (v Vec3) Dot(o Vec3) float32 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b Vec3) float32 {
	d := a.Sub(b)
	return d.Dot(d)
}
