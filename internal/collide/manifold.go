package collide

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"crashsim/internal/shape"
)

// ContactManifold runs GJK and, on intersection, EPA plus manifold generation
// for a pair of posed shapes. The second return is false when the shapes do
// not overlap. An error means EPA degenerated; the caller must treat the pair
// as unresolved rather than guessing.
//
// BodyA/BodyB, restitution and friction are left for the caller to fill in.
func ContactManifold(sa shape.Shape, pa Pose, sb shape.Shape, pb Pose) (Contact, bool, error) {
	s, hit := gjk(sa, pa, sb, pb)
	if !hit {
		return Contact{}, false, nil
	}

	res, err := epa(sa, pa, sb, pb, s)
	if err != nil {
		return Contact{}, true, err
	}

	c := Contact{
		Normal:      res.Normal,
		Penetration: res.Penetration,
	}

	// Box-box pairs get a clipped multi-point manifold; resting stacks are
	// unstable on a single point. Everything else touches at one point.
	ba, aIsBox := sa.(shape.Box)
	bb, bIsBox := sb.(shape.Box)
	if aIsBox && bIsBox {
		c.Points = boxBoxManifold(ba, pa, bb, pb, res)
	}
	if len(c.Points) == 0 {
		c.Points = []ContactPoint{{Position: res.Point(), Penetration: res.Penetration}}
	}
	return c, true, nil
}

// boxBoxManifold clips the incident face of box B against the side planes of
// the reference face of box A (Sutherland-Hodgman), keeping the points that
// lie behind the reference plane.
func boxBoxManifold(ba shape.Box, pa Pose, bb shape.Box, pb Pose, res epaResult) []ContactPoint {
	ref := worldFace(ba, pa, res.Normal)
	inc := worldFace(bb, pb, res.Normal.Mul(-1))

	refNormal := faceNormal(ref)
	if refNormal.Dot(res.Normal) < 0 {
		refNormal = refNormal.Mul(-1)
	}

	poly := inc[:]
	for e := 0; e < 4; e++ {
		edge := ref[(e+1)%4].Sub(ref[e])
		// Side plane normal points inward across the reference face.
		planeN := refNormal.Cross(edge).Normalize()
		poly = clipPolygon(poly, planeN, planeN.Dot(ref[e]))
		if len(poly) == 0 {
			return nil
		}
	}

	refOffset := refNormal.Dot(ref[0])
	var points []ContactPoint
	for _, p := range poly {
		depth := refOffset - refNormal.Dot(p)
		if depth >= 0 {
			points = append(points, ContactPoint{Position: p, Penetration: depth})
		}
	}
	if len(points) > 4 {
		points = reducePoints(points)
	}
	return points
}

// worldFace returns the corners of the box face most aligned with the world
// direction dir.
func worldFace(b shape.Box, p Pose, dir mgl64.Vec3) [4]mgl64.Vec3 {
	local := p.Rot.Inverse().Rotate(dir)
	f := b.Face(local)
	var out [4]mgl64.Vec3
	for i, c := range f {
		out[i] = p.Pos.Add(p.Rot.Rotate(c))
	}
	return out
}

func faceNormal(f [4]mgl64.Vec3) mgl64.Vec3 {
	return f[1].Sub(f[0]).Cross(f[2].Sub(f[0])).Normalize()
}

// clipPolygon keeps the part of poly on the positive side of the plane
// n·x >= offset, inserting intersection points on crossing edges.
func clipPolygon(poly []mgl64.Vec3, n mgl64.Vec3, offset float64) []mgl64.Vec3 {
	var out []mgl64.Vec3
	for i := range poly {
		cur := poly[i]
		next := poly[(i+1)%len(poly)]
		dc := n.Dot(cur) - offset
		dn := n.Dot(next) - offset

		if dc >= 0 {
			out = append(out, cur)
		}
		if (dc >= 0) != (dn >= 0) {
			t := dc / (dc - dn)
			out = append(out, cur.Add(next.Sub(cur).Mul(t)))
		}
	}
	return out
}

// reducePoints trims a manifold to the 4 deepest, most spread points.
func reducePoints(points []ContactPoint) []ContactPoint {
	// Keep the deepest point, then greedily add the point furthest from the
	// ones already kept.
	deepest := 0
	for i, p := range points {
		if p.Penetration > points[deepest].Penetration {
			deepest = i
		}
	}
	kept := []ContactPoint{points[deepest]}
	used := map[int]bool{deepest: true}

	for len(kept) < 4 {
		best := -1
		bestDist := -1.0
		for i, p := range points {
			if used[i] {
				continue
			}
			d := math.Inf(1)
			for _, k := range kept {
				if dd := p.Position.Sub(k.Position).LenSqr(); dd < d {
					d = dd
				}
			}
			if d > bestDist {
				bestDist = d
				best = i
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		kept = append(kept, points[best])
	}
	return kept
}
