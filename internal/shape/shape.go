// Package shape defines the convex collision shapes used by the simulation.
//
// Every shape implements a support mapping, which is the only geometric query
// GJK and EPA need. Shapes are described in body-local space and are immutable
// after creation; world placement comes from the owning body's transform.
package shape

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Shape is a convex collision shape in body-local space.
type Shape interface {
	// Support returns the furthest local-space point in the given direction.
	// The direction does not need to be normalized.
	Support(dir mgl64.Vec3) mgl64.Vec3

	// Bounds returns the world-space AABB for the given placement.
	Bounds(pos mgl64.Vec3, rot mgl64.Quat) AABB

	// Mass returns the mass for the given material density.
	Mass(density float64) float64

	// Inertia returns the local-space inertia tensor for the given mass.
	Inertia(mass float64) mgl64.Mat3

	// BoundingRadius returns the radius of a sphere enclosing the shape,
	// centered at the local origin.
	BoundingRadius() float64
}

// Sphere is a sphere centered at the local origin.
type Sphere struct {
	Radius float64
}

func (s Sphere) Support(dir mgl64.Vec3) mgl64.Vec3 {
	l := dir.Len()
	if l < 1e-12 {
		return mgl64.Vec3{s.Radius, 0, 0}
	}
	return dir.Mul(s.Radius / l)
}

func (s Sphere) Bounds(pos mgl64.Vec3, _ mgl64.Quat) AABB {
	r := mgl64.Vec3{s.Radius, s.Radius, s.Radius}
	return AABB{Min: pos.Sub(r), Max: pos.Add(r)}
}

func (s Sphere) Mass(density float64) float64 {
	return density * (4.0 / 3.0) * math.Pi * s.Radius * s.Radius * s.Radius
}

func (s Sphere) Inertia(mass float64) mgl64.Mat3 {
	i := 0.4 * mass * s.Radius * s.Radius
	return mgl64.Diag3(mgl64.Vec3{i, i, i})
}

func (s Sphere) BoundingRadius() float64 { return s.Radius }

// Box is an axis-aligned box in local space, given by its half extents.
type Box struct {
	HalfExtents mgl64.Vec3
}

func (b Box) Support(dir mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{
		math.Copysign(b.HalfExtents[0], dir[0]),
		math.Copysign(b.HalfExtents[1], dir[1]),
		math.Copysign(b.HalfExtents[2], dir[2]),
	}
}

func (b Box) Bounds(pos mgl64.Vec3, rot mgl64.Quat) AABB {
	// World extent along each axis is the absolute rotation matrix times the
	// local half extents.
	m := rot.Mat4().Mat3()
	var ext mgl64.Vec3
	for i := 0; i < 3; i++ {
		ext[i] = math.Abs(m.At(i, 0))*b.HalfExtents[0] +
			math.Abs(m.At(i, 1))*b.HalfExtents[1] +
			math.Abs(m.At(i, 2))*b.HalfExtents[2]
	}
	return AABB{Min: pos.Sub(ext), Max: pos.Add(ext)}
}

func (b Box) Mass(density float64) float64 {
	return density * 8 * b.HalfExtents[0] * b.HalfExtents[1] * b.HalfExtents[2]
}

func (b Box) Inertia(mass float64) mgl64.Mat3 {
	x := 2 * b.HalfExtents[0]
	y := 2 * b.HalfExtents[1]
	z := 2 * b.HalfExtents[2]
	c := mass / 12.0
	return mgl64.Diag3(mgl64.Vec3{
		c * (y*y + z*z),
		c * (x*x + z*z),
		c * (x*x + y*y),
	})
}

func (b Box) BoundingRadius() float64 { return b.HalfExtents.Len() }

// Face returns the four corners of the box face whose outward normal is most
// aligned with dir, in counter-clockwise order seen from outside. Used for
// contact manifold clipping.
func (b Box) Face(dir mgl64.Vec3) [4]mgl64.Vec3 {
	h := b.HalfExtents
	ax := 0
	best := math.Abs(dir[0])
	for i := 1; i < 3; i++ {
		if a := math.Abs(dir[i]); a > best {
			best = a
			ax = i
		}
	}
	sign := math.Copysign(1, dir[ax])
	u := (ax + 1) % 3
	v := (ax + 2) % 3

	var out [4]mgl64.Vec3
	for i, uv := range [4][2]float64{{1, 1}, {-1, 1}, {-1, -1}, {1, -1}} {
		var p mgl64.Vec3
		p[ax] = sign * h[ax]
		p[u] = uv[0] * h[u]
		p[v] = uv[1] * h[v]
		out[i] = p
	}
	return out
}

// Capsule is a sphere-swept segment along the local Y axis.
type Capsule struct {
	HalfHeight float64 // half length of the core segment, excluding the caps
	Radius     float64
}

func (c Capsule) Support(dir mgl64.Vec3) mgl64.Vec3 {
	p := Sphere{Radius: c.Radius}.Support(dir)
	p[1] += math.Copysign(c.HalfHeight, dir[1])
	return p
}

func (c Capsule) Bounds(pos mgl64.Vec3, rot mgl64.Quat) AABB {
	// Endpoint spheres bound the whole capsule.
	axis := rot.Rotate(mgl64.Vec3{0, c.HalfHeight, 0})
	r := mgl64.Vec3{c.Radius, c.Radius, c.Radius}
	top := AABB{Min: pos.Add(axis).Sub(r), Max: pos.Add(axis).Add(r)}
	bottom := AABB{Min: pos.Sub(axis).Sub(r), Max: pos.Sub(axis).Add(r)}
	return top.Union(bottom)
}

func (c Capsule) Mass(density float64) float64 {
	cylinder := math.Pi * c.Radius * c.Radius * 2 * c.HalfHeight
	caps := (4.0 / 3.0) * math.Pi * c.Radius * c.Radius * c.Radius
	return density * (cylinder + caps)
}

func (c Capsule) Inertia(mass float64) mgl64.Mat3 {
	// Cylinder approximation; close enough for crash-scale bodies.
	h := 2*c.HalfHeight + 2*c.Radius
	r := c.Radius
	ix := mass * (3*r*r + h*h) / 12.0
	iy := mass * r * r / 2.0
	return mgl64.Diag3(mgl64.Vec3{ix, iy, ix})
}

func (c Capsule) BoundingRadius() float64 { return c.HalfHeight + c.Radius }

// ConvexHull is an arbitrary convex point cloud. Only the support mapping is
// exact; mass properties use the bounding sphere as an approximation.
type ConvexHull struct {
	Points []mgl64.Vec3
}

func (h ConvexHull) Support(dir mgl64.Vec3) mgl64.Vec3 {
	if len(h.Points) == 0 {
		return mgl64.Vec3{}
	}
	best := h.Points[0]
	bestDot := best.Dot(dir)
	for _, p := range h.Points[1:] {
		if d := p.Dot(dir); d > bestDot {
			bestDot = d
			best = p
		}
	}
	return best
}

func (h ConvexHull) Bounds(pos mgl64.Vec3, rot mgl64.Quat) AABB {
	out := AABB{
		Min: mgl64.Vec3{math.Inf(1), math.Inf(1), math.Inf(1)},
		Max: mgl64.Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}
	for _, p := range h.Points {
		w := pos.Add(rot.Rotate(p))
		for i := 0; i < 3; i++ {
			out.Min[i] = math.Min(out.Min[i], w[i])
			out.Max[i] = math.Max(out.Max[i], w[i])
		}
	}
	return out
}

func (h ConvexHull) Mass(density float64) float64 {
	r := h.BoundingRadius()
	return Sphere{Radius: r}.Mass(density)
}

func (h ConvexHull) Inertia(mass float64) mgl64.Mat3 {
	return Sphere{Radius: h.BoundingRadius()}.Inertia(mass)
}

func (h ConvexHull) BoundingRadius() float64 {
	var r float64
	for _, p := range h.Points {
		if l := p.Len(); l > r {
			r = l
		}
	}
	return r
}
