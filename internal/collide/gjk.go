package collide

import (
	"github.com/go-gl/mathgl/mgl64"

	"crashsim/internal/shape"
)

// gjkMaxIterations bounds the simplex refinement loop so degenerate input
// can never hang a step. Well-conditioned shapes converge in 3-6 iterations.
const gjkMaxIterations = 64

// simplex holds 1-4 points of the Minkowski difference. It grows point by
// point during GJK: point, line, triangle, tetrahedron.
type simplex struct {
	v     [4]vertex
	count int
}

// Intersects reports whether two posed convex shapes overlap.
func Intersects(sa shape.Shape, pa Pose, sb shape.Shape, pb Pose) bool {
	_, hit := gjk(sa, pa, sb, pb)
	return hit
}

// gjk runs the GJK algorithm and returns the final simplex. When the shapes
// intersect the simplex is the tetrahedron containing the origin that EPA
// expands into a polytope.
func gjk(sa shape.Shape, pa Pose, sb shape.Shape, pb Pose) (simplex, bool) {
	var s simplex

	// Searching toward the other body first usually saves iterations over an
	// arbitrary start direction.
	direction := pb.Pos.Sub(pa.Pos)
	if direction.LenSqr() < 1e-12 {
		direction = mgl64.Vec3{1, 0, 0}
	}

	s.v[0] = minkowskiSupport(sa, pa, sb, pb, direction)
	s.count = 1
	direction = s.v[0].P.Mul(-1)

	// First support point at the origin means the surfaces touch exactly.
	if direction.LenSqr() < 1e-16 {
		return s, true
	}

	for i := 0; i < gjkMaxIterations; i++ {
		next := minkowskiSupport(sa, pa, sb, pb, direction)

		// The new point did not pass the origin: the origin is outside the
		// Minkowski difference, so the shapes are separated.
		if next.P.Dot(direction) <= 0 {
			return s, false
		}

		s.v[s.count] = next
		s.count++

		if s.containsOrigin(&direction) {
			return s, true
		}
	}

	// No convergence within the iteration budget; treat as separated rather
	// than feeding a bad simplex to EPA.
	return s, false
}

// containsOrigin tests whether the simplex encloses the origin. If not, it
// reduces the simplex to the feature closest to the origin and updates the
// search direction.
func (s *simplex) containsOrigin(direction *mgl64.Vec3) bool {
	switch s.count {
	case 2:
		return s.line(direction)
	case 3:
		return s.triangle(direction)
	case 4:
		return s.tetrahedron(direction)
	}
	return false
}

func (s *simplex) line(direction *mgl64.Vec3) bool {
	a := s.v[1]
	b := s.v[0]
	ab := b.P.Sub(a.P)
	ao := a.P.Mul(-1)

	if ab.LenSqr() < 1e-12 {
		// Identical support points; fall back to the single point.
		if ao.LenSqr() < 1e-12 {
			return true
		}
		s.v[0] = a
		s.count = 1
		*direction = ao
		return false
	}

	if ab.Dot(ao) <= 0 {
		// Origin is behind A; B no longer helps.
		s.v[0] = a
		s.count = 1
		*direction = ao
		return false
	}

	perp := ab.Cross(ao).Cross(ab)
	if perp.LenSqr() < 1e-12 {
		// Origin lies on the segment.
		return true
	}
	*direction = perp
	return false
}

func (s *simplex) triangle(direction *mgl64.Vec3) bool {
	a := s.v[2]
	b := s.v[1]
	c := s.v[0]

	ab := b.P.Sub(a.P)
	ac := c.P.Sub(a.P)
	ao := a.P.Mul(-1)
	abc := ab.Cross(ac)

	if abc.LenSqr() < 1e-14 {
		// Collinear points; retest as a line of the two most recent points.
		s.v[0] = b
		s.v[1] = a
		s.count = 2
		return s.line(direction)
	}

	if ab.Cross(abc).Dot(ao) > 0 {
		// Closest to edge AB.
		s.v[0] = b
		s.v[1] = a
		s.count = 2
		*direction = ab.Cross(ao).Cross(ab)
		return false
	}

	if abc.Cross(ac).Dot(ao) > 0 {
		// Closest to edge AC.
		s.v[0] = c
		s.v[1] = a
		s.count = 2
		*direction = ac.Cross(ao).Cross(ac)
		return false
	}

	if abc.Dot(ao) > 0 {
		*direction = abc
	} else {
		// Origin below the triangle; flip winding so the next point keeps a
		// consistent orientation.
		s.v[0] = a
		s.v[1] = c
		s.v[2] = b
		*direction = abc.Mul(-1)
	}
	return false
}

func (s *simplex) tetrahedron(direction *mgl64.Vec3) bool {
	a := s.v[3]
	b := s.v[2]
	c := s.v[1]
	d := s.v[0]

	ab := b.P.Sub(a.P)
	ac := c.P.Sub(a.P)
	ad := d.P.Sub(a.P)
	ao := a.P.Mul(-1)

	// Outward face normals: each must point away from the opposite vertex.
	abc := ab.Cross(ac)
	if abc.Dot(ad) > 0 {
		abc = abc.Mul(-1)
	}
	acd := ac.Cross(ad)
	if acd.Dot(ab) > 0 {
		acd = acd.Mul(-1)
	}
	adb := ad.Cross(ab)
	if adb.Dot(ac) > 0 {
		adb = adb.Mul(-1)
	}

	if abc.LenSqr() < 1e-14 || acd.LenSqr() < 1e-14 || adb.LenSqr() < 1e-14 {
		// Flat tetrahedron; retest the most recent triangle.
		s.v[0] = c
		s.v[1] = b
		s.v[2] = a
		s.count = 3
		return s.triangle(direction)
	}

	if abc.Dot(ao) > 0 {
		s.v[0] = c
		s.v[1] = b
		s.v[2] = a
		s.count = 3
		return s.triangle(direction)
	}
	if acd.Dot(ao) > 0 {
		s.v[0] = d
		s.v[1] = c
		s.v[2] = a
		s.count = 3
		return s.triangle(direction)
	}
	if adb.Dot(ao) > 0 {
		s.v[0] = b
		s.v[1] = d
		s.v[2] = a
		s.count = 3
		return s.triangle(direction)
	}

	return true
}
