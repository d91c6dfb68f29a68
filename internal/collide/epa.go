package collide

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"crashsim/internal/shape"
)

const (
	epaMaxIterations = 64

	// epaTolerance is the convergence threshold: once a new support point
	// improves the closest-face distance by less than this, the face is the
	// true boundary of the Minkowski difference.
	epaTolerance = 1e-6

	// epaMinNormal guards against faces built from near-coincident vertices.
	epaMinNormal = 1e-10
)

// epaResult is the raw output of a converged EPA run.
type epaResult struct {
	Normal      mgl64.Vec3 // unit, from A toward B
	Penetration float64
	PointA      mgl64.Vec3 // witness point on shape A
	PointB      mgl64.Vec3 // witness point on shape B
}

// Point returns the contact point halfway between the two witnesses.
func (r epaResult) Point() mgl64.Vec3 {
	return r.PointA.Add(r.PointB).Mul(0.5)
}

type face struct {
	idx    [3]int
	normal mgl64.Vec3 // outward unit normal
	dist   float64    // distance from the origin to the face plane
}

// epa expands the GJK simplex into a polytope on the Minkowski difference
// until the face closest to the origin converges. Degenerate polytopes are
// reported as *PolytopeError, never as a made-up normal.
func epa(sa shape.Shape, pa Pose, sb shape.Shape, pb Pose, s simplex) (epaResult, error) {
	verts, err := completeSimplex(sa, pa, sb, pb, s)
	if err != nil {
		return epaResult{}, err
	}

	faces, err := initialFaces(verts)
	if err != nil {
		return epaResult{}, err
	}

	for iter := 0; iter < epaMaxIterations; iter++ {
		if len(faces) == 0 {
			return epaResult{}, &PolytopeError{Iterations: iter, Reason: "polytope collapsed"}
		}

		ci := closestFace(faces)
		cf := faces[ci]

		support := minkowskiSupport(sa, pa, sb, pb, cf.normal)
		d := support.P.Dot(cf.normal)

		if d-cf.dist < epaTolerance {
			return faceContact(verts, cf), nil
		}

		// Expand: remove every face visible from the new point and stitch new
		// faces from the horizon edges to it.
		verts = append(verts, support)
		newIdx := len(verts) - 1

		var horizon [][2]int
		kept := faces[:0]
		for _, f := range faces {
			if f.normal.Dot(support.P.Sub(verts[f.idx[0]].P)) > 0 {
				for e := 0; e < 3; e++ {
					edge := [2]int{f.idx[e], f.idx[(e+1)%3]}
					horizon = toggleEdge(horizon, edge)
				}
			} else {
				kept = append(kept, f)
			}
		}
		faces = kept

		if len(horizon) == 0 {
			return epaResult{}, &PolytopeError{Iterations: iter, Reason: "no horizon for new support point"}
		}

		for _, edge := range horizon {
			f, ok := makeFace(verts, [3]int{edge[0], edge[1], newIdx})
			if !ok {
				return epaResult{}, &PolytopeError{Iterations: iter, Reason: "degenerate face from near-coincident vertices"}
			}
			faces = append(faces, f)
		}
	}

	return epaResult{}, &PolytopeError{Iterations: epaMaxIterations, Reason: "no convergence"}
}

// completeSimplex inflates a degenerate GJK simplex (fewer than 4 points,
// which happens when shapes touch exactly) into a tetrahedron by probing
// support directions.
func completeSimplex(sa shape.Shape, pa Pose, sb shape.Shape, pb Pose, s simplex) ([]vertex, error) {
	verts := append([]vertex(nil), s.v[:s.count]...)

	if len(verts) == 1 {
		for _, dir := range []mgl64.Vec3{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}} {
			v := minkowskiSupport(sa, pa, sb, pb, dir)
			if v.P.Sub(verts[0].P).LenSqr() > 1e-12 {
				verts = append(verts, v)
				break
			}
		}
	}
	if len(verts) == 2 {
		axis := verts[1].P.Sub(verts[0].P)
		for _, ref := range []mgl64.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
			dir := axis.Cross(ref)
			if dir.LenSqr() < 1e-12 {
				continue
			}
			v := minkowskiSupport(sa, pa, sb, pb, dir)
			if triangleArea(verts[0].P, verts[1].P, v.P) > 1e-12 {
				verts = append(verts, v)
				break
			}
		}
	}
	if len(verts) == 3 {
		n := verts[1].P.Sub(verts[0].P).Cross(verts[2].P.Sub(verts[0].P))
		for _, dir := range []mgl64.Vec3{n, n.Mul(-1)} {
			v := minkowskiSupport(sa, pa, sb, pb, dir)
			if math.Abs(v.P.Sub(verts[0].P).Dot(n)) > 1e-12 {
				verts = append(verts, v)
				break
			}
		}
	}
	if len(verts) < 4 {
		return nil, &PolytopeError{Reason: "cannot build tetrahedron from touching shapes"}
	}
	return verts, nil
}

// initialFaces builds the four outward-facing tetrahedron faces.
func initialFaces(verts []vertex) ([]face, error) {
	centroid := verts[0].P.Add(verts[1].P).Add(verts[2].P).Add(verts[3].P).Mul(0.25)
	combos := [4][3]int{{0, 1, 2}, {0, 1, 3}, {0, 2, 3}, {1, 2, 3}}

	faces := make([]face, 0, 4)
	for _, idx := range combos {
		f, ok := makeFace(verts, idx)
		if !ok {
			return nil, &PolytopeError{Reason: "degenerate initial polytope"}
		}
		// Flip inward-facing normals so every face looks away from the centroid.
		if f.normal.Dot(verts[idx[0]].P.Sub(centroid)) < 0 {
			f.idx[1], f.idx[2] = f.idx[2], f.idx[1]
			f.normal = f.normal.Mul(-1)
			f.dist = -f.dist
		}
		if f.dist < -epaTolerance {
			// The origin ended up outside this face: the simplex did not
			// actually contain the origin.
			return nil, &PolytopeError{Reason: "origin outside initial polytope"}
		}
		faces = append(faces, f)
	}
	return faces, nil
}

func makeFace(verts []vertex, idx [3]int) (face, bool) {
	a, b, c := verts[idx[0]].P, verts[idx[1]].P, verts[idx[2]].P
	n := b.Sub(a).Cross(c.Sub(a))
	if n.LenSqr() < epaMinNormal {
		return face{}, false
	}
	n = n.Normalize()
	d := n.Dot(a)
	if d < 0 {
		idx[1], idx[2] = idx[2], idx[1]
		n = n.Mul(-1)
		d = -d
	}
	return face{idx: idx, normal: n, dist: d}, true
}

func closestFace(faces []face) int {
	best := 0
	for i, f := range faces[1:] {
		if f.dist < faces[best].dist {
			best = i + 1
		}
	}
	return best
}

// toggleEdge keeps only edges seen an odd number of times: shared edges of
// two removed faces cancel, the remainder is the horizon.
func toggleEdge(edges [][2]int, e [2]int) [][2]int {
	for i, x := range edges {
		if (x[0] == e[0] && x[1] == e[1]) || (x[0] == e[1] && x[1] == e[0]) {
			return append(edges[:i], edges[i+1:]...)
		}
	}
	return append(edges, e)
}

// faceContact recovers world-space witness points from the converged face by
// projecting the origin onto it and reusing the barycentric weights on the
// per-vertex shape supports.
func faceContact(verts []vertex, f face) epaResult {
	a, b, c := verts[f.idx[0]], verts[f.idx[1]], verts[f.idx[2]]
	proj := f.normal.Mul(f.dist)
	u, v, w := barycentric(proj, a.P, b.P, c.P)

	return epaResult{
		Normal:      f.normal,
		Penetration: f.dist,
		PointA:      a.A.Mul(u).Add(b.A.Mul(v)).Add(c.A.Mul(w)),
		PointB:      a.B.Mul(u).Add(b.B.Mul(v)).Add(c.B.Mul(w)),
	}
}

func barycentric(p, a, b, c mgl64.Vec3) (u, v, w float64) {
	v0 := b.Sub(a)
	v1 := c.Sub(a)
	v2 := p.Sub(a)
	d00 := v0.Dot(v0)
	d01 := v0.Dot(v1)
	d11 := v1.Dot(v1)
	d20 := v2.Dot(v0)
	d21 := v2.Dot(v1)
	denom := d00*d11 - d01*d01
	if math.Abs(denom) < 1e-14 {
		return 1, 0, 0
	}
	v = (d11*d20 - d01*d21) / denom
	w = (d00*d21 - d01*d20) / denom
	u = 1 - v - w
	return u, v, w
}

func triangleArea(a, b, c mgl64.Vec3) float64 {
	return b.Sub(a).Cross(c.Sub(a)).Len() * 0.5
}
