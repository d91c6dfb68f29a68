// Package collide implements collision detection: a sweep-and-prune broad
// phase over AABBs, GJK for intersection tests and EPA for penetration depth
// and contact normals, plus contact manifold generation.
//
// The package works on shapes and poses only; it never touches body state, so
// per-pair tests are safe to run concurrently.
package collide

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"crashsim/internal/shape"
)

// Pose is a world-space placement of a shape.
type Pose struct {
	Pos mgl64.Vec3
	Rot mgl64.Quat
}

// ContactPoint is a single world-space touch point of a contact.
type ContactPoint struct {
	Position    mgl64.Vec3
	Penetration float64 // >= 0
}

// Contact describes the overlap of two bodies for one step. It carries no
// identity across frames; warm-start data lives in the solver's cache keyed
// by the body pair.
type Contact struct {
	BodyA, BodyB int
	Normal       mgl64.Vec3 // unit, points from A toward B
	Penetration  float64    // depth along Normal, >= 0
	Points       []ContactPoint

	Restitution float64
	Friction    float64
}

// PolytopeError reports an EPA run that degenerated or failed to converge.
// The caller gets this instead of a garbage normal.
type PolytopeError struct {
	Iterations int
	Reason     string
}

func (e *PolytopeError) Error() string {
	return fmt.Sprintf("collide: EPA failed after %d iterations: %s", e.Iterations, e.Reason)
}

// supportWorld returns the world-space support point of a posed shape.
func supportWorld(s shape.Shape, p Pose, dir mgl64.Vec3) mgl64.Vec3 {
	local := p.Rot.Inverse().Rotate(dir)
	return p.Pos.Add(p.Rot.Rotate(s.Support(local)))
}

// vertex is a point of the Minkowski difference A - B together with the
// support points on each shape that produced it. The witnesses let EPA
// recover world-space contact points.
type vertex struct {
	P mgl64.Vec3 // supportA - supportB
	A mgl64.Vec3 // support on shape A
	B mgl64.Vec3 // support on shape B
}

func minkowskiSupport(sa shape.Shape, pa Pose, sb shape.Shape, pb Pose, dir mgl64.Vec3) vertex {
	a := supportWorld(sa, pa, dir)
	b := supportWorld(sb, pb, dir.Mul(-1))
	return vertex{P: a.Sub(b), A: a, B: b}
}
