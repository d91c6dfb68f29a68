package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"crashsim/internal/shape"
)

// Hit is the result of a ray query against the rigid bodies.
type Hit struct {
	Body     int
	Point    mgl64.Vec3
	Normal   mgl64.Vec3
	Distance float64
}

// RayCast finds the closest rigid body hit by the ray within maxDistance.
// Spheres and boxes are tested exactly; capsules and convex hulls fall back
// to their bounding spheres, which is enough for the probe and pick queries
// reconstruction tooling issues.
func (w *World) RayCast(origin, direction mgl64.Vec3, maxDistance float64) (Hit, bool) {
	l := direction.Len()
	if l == 0 {
		return Hit{}, false
	}
	direction = direction.Mul(1 / l)

	closest := Hit{Distance: maxDistance}
	found := false

	for i, s := range w.shapes {
		rb := &w.bodies[i]
		var h Hit
		var ok bool
		switch sh := s.(type) {
		case shape.Sphere:
			h, ok = raySphere(origin, direction, rb.Position, sh.Radius, closest.Distance)
		case shape.Box:
			h, ok = rayBox(origin, direction, rb.Position, rb.Orientation, sh.HalfExtents, closest.Distance)
		default:
			h, ok = raySphere(origin, direction, rb.Position, s.BoundingRadius(), closest.Distance)
		}
		if ok && h.Distance < closest.Distance {
			h.Body = i
			closest = h
			found = true
		}
	}
	return closest, found
}

func raySphere(origin, dir, center mgl64.Vec3, radius, maxDist float64) (Hit, bool) {
	oc := origin.Sub(center)
	b := 2 * oc.Dot(dir)
	c := oc.LenSqr() - radius*radius

	disc := b*b - 4*c
	if disc < 0 {
		return Hit{}, false
	}
	sq := math.Sqrt(disc)
	t := (-b - sq) / 2
	if t < 0 {
		t = (-b + sq) / 2
	}
	if t < 0 || t > maxDist {
		return Hit{}, false
	}

	point := origin.Add(dir.Mul(t))
	return Hit{Point: point, Normal: point.Sub(center).Normalize(), Distance: t}, true
}

// rayBox runs the slab test in the box's local frame, so it handles rotated
// boxes. The hit normal is the axis of the entering slab, rotated back to
// world space.
func rayBox(origin, dir, pos mgl64.Vec3, rot mgl64.Quat, half mgl64.Vec3, maxDist float64) (Hit, bool) {
	inv := rot.Inverse()
	lo := inv.Rotate(origin.Sub(pos))
	ld := inv.Rotate(dir)

	tmin, tmax := math.Inf(-1), math.Inf(1)
	axis := -1
	for i := 0; i < 3; i++ {
		if ld[i] == 0 {
			if lo[i] < -half[i] || lo[i] > half[i] {
				return Hit{}, false
			}
			continue
		}
		t1 := (-half[i] - lo[i]) / ld[i]
		t2 := (half[i] - lo[i]) / ld[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
			axis = i
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return Hit{}, false
		}
	}

	t := tmin
	if t < 0 {
		t = tmax
	}
	if t < 0 || t > maxDist || axis < 0 {
		return Hit{}, false
	}

	var localN mgl64.Vec3
	localN[axis] = math.Copysign(1, -ld[axis])
	return Hit{
		Point:    origin.Add(dir.Mul(t)),
		Normal:   rot.Rotate(localN),
		Distance: t,
	}, true
}
