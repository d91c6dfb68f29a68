// Package solver resolves contact constraints with sequential impulses.
//
// The solver runs three phases per step: warm starting from the previous
// frame's cached impulses, velocity iterations with accumulated impulse
// clamping, and a Baumgarte position pass that pushes residual penetration
// apart without touching velocities.
//
// It is deliberately single-threaded: two contacts sharing a body would race
// on that body's velocity if iterated concurrently. Parallelizing it needs
// contact-graph islands, which the rest of the pipeline does not require.
package solver

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"crashsim/internal/body"
	"crashsim/internal/collide"
	"crashsim/internal/shape"
)

// Contacts slower than this along the normal get no restitution bounce; it
// keeps resting stacks from jittering.
const restitutionThreshold = 1.0 // m/s

// Params are the solver knobs. Zero values are not usable; take them from
// the world config.
type Params struct {
	VelocityIterations int
	PositionIterations int
	ConvergenceTol     float64
	Baumgarte          float64
	Slop               float64
	WarmStartFactor    float64
}

// Stats reports how one solve went. Non-convergence is information for the
// caller, never an error.
type Stats struct {
	Iterations     int
	Residual       float64
	Converged      bool
	NumConstraints int
}

// BodySource hands out exclusive access to two distinct bodies. The world's
// arena implements it with an index-distinctness check.
type BodySource interface {
	BodyPair(i, j int) (*body.RigidBody, *body.RigidBody)
}

type pairKey struct{ a, b int }

type cacheEntry struct {
	normal  []float64
	tangent []float64
}

type constraintPoint struct {
	rA, rB      mgl64.Vec3
	tangent     mgl64.Vec3
	normalMass  float64
	tangentMass float64
	bias        float64
	penetration float64
	jn, jt      float64
}

type constraint struct {
	a, b     *body.RigidBody
	key      pairKey
	normal   mgl64.Vec3
	friction float64
	points   []constraintPoint
}

// Solver carries the impulse cache across frames for warm starting.
type Solver struct {
	params Params
	cache  map[pairKey]*cacheEntry
}

func New(p Params) *Solver {
	return &Solver{params: p, cache: make(map[pairKey]*cacheEntry)}
}

// SetParams replaces the solver knobs; the warm-start cache survives.
func (s *Solver) SetParams(p Params) { s.params = p }

// Solve resolves all contacts against the bodies in src and returns the
// solve statistics.
func (s *Solver) Solve(src BodySource, contacts []collide.Contact, dt float64) Stats {
	cons := s.prepare(src, contacts)
	stats := Stats{NumConstraints: len(cons)}
	if len(cons) == 0 {
		stats.Converged = true
		return stats
	}

	s.warmStart(cons)

	for iter := 0; iter < s.params.VelocityIterations; iter++ {
		for i := range cons {
			solveVelocity(&cons[i])
		}
		stats.Iterations = iter + 1
		stats.Residual = residual(cons)
		if stats.Residual < s.params.ConvergenceTol {
			stats.Converged = true
			break
		}
	}

	for iter := 0; iter < s.params.PositionIterations; iter++ {
		for i := range cons {
			s.solvePosition(&cons[i])
		}
	}

	s.storeCache(cons)
	return stats
}

func (s *Solver) prepare(src BodySource, contacts []collide.Contact) []constraint {
	cons := make([]constraint, 0, len(contacts))
	for _, c := range contacts {
		a, b := src.BodyPair(c.BodyA, c.BodyB)
		if a.Static() && b.Static() {
			continue
		}
		// A contact with an awake body disturbs a sleeping one.
		if a.Sleeping != b.Sleeping {
			a.Wake()
			b.Wake()
		}

		con := constraint{
			a:        a,
			b:        b,
			key:      pairKey{c.BodyA, c.BodyB},
			normal:   c.Normal,
			friction: c.Friction,
			points:   make([]constraintPoint, 0, len(c.Points)),
		}

		invIA := a.InvInertiaWorld()
		invIB := b.InvInertiaWorld()

		for _, p := range c.Points {
			cp := constraintPoint{
				rA:          p.Position.Sub(a.Position),
				rB:          p.Position.Sub(b.Position),
				penetration: p.Penetration,
			}

			cp.normalMass = effectiveMass(a, b, invIA, invIB, cp.rA, cp.rB, c.Normal)
			if cp.normalMass == 0 {
				continue
			}

			relVel := b.PointVelocity(p.Position).Sub(a.PointVelocity(p.Position))
			vn := relVel.Dot(c.Normal)

			// Restitution target from the pre-solve approach velocity.
			if vn < -restitutionThreshold {
				cp.bias = -c.Restitution * vn
			}

			// Fixed tangent along the initial sliding direction; degenerate
			// tangential velocity gets an arbitrary perpendicular.
			vt := relVel.Sub(c.Normal.Mul(vn))
			if vt.LenSqr() > 1e-12 {
				cp.tangent = vt.Normalize()
			} else {
				cp.tangent = anyPerpendicular(c.Normal)
			}
			cp.tangentMass = effectiveMass(a, b, invIA, invIB, cp.rA, cp.rB, cp.tangent)

			con.points = append(con.points, cp)
		}

		if len(con.points) > 0 {
			cons = append(cons, con)
		}
	}
	return cons
}

// effectiveMass returns 1/k for the constraint direction d, including the
// angular terms, or 0 when both bodies are immovable along d.
func effectiveMass(a, b *body.RigidBody, invIA, invIB mgl64.Mat3, rA, rB, d mgl64.Vec3) float64 {
	rnA := rA.Cross(d)
	rnB := rB.Cross(d)
	k := a.InvMass + b.InvMass +
		invIA.Mul3x1(rnA).Dot(rnA) +
		invIB.Mul3x1(rnB).Dot(rnB)
	if k < 1e-12 {
		return 0
	}
	return 1.0 / k
}

func (s *Solver) warmStart(cons []constraint) {
	if s.params.WarmStartFactor <= 0 {
		return
	}
	for i := range cons {
		con := &cons[i]
		entry, ok := s.cache[con.key]
		if !ok || len(entry.normal) != len(con.points) {
			continue
		}
		for j := range con.points {
			p := &con.points[j]
			p.jn = entry.normal[j] * s.params.WarmStartFactor
			p.jt = entry.tangent[j] * s.params.WarmStartFactor
			impulse := con.normal.Mul(p.jn).Add(p.tangent.Mul(p.jt))
			applyImpulse(con, p, impulse)
		}
	}
}

func solveVelocity(con *constraint) {
	for j := range con.points {
		p := &con.points[j]

		// Normal impulse, clamped so the accumulated total stays >= 0: a
		// contact can only push.
		vn := relativeNormalVelocity(con, p)
		lambda := (p.bias - vn) * p.normalMass
		newJn := math.Max(p.jn+lambda, 0)
		delta := newJn - p.jn
		p.jn = newJn
		applyImpulse(con, p, con.normal.Mul(delta))

		// Friction impulse, box-clamped to the Coulomb cone.
		if p.tangentMass > 0 {
			vB := con.b.Velocity.Add(con.b.AngularVelocity.Cross(p.rB))
			vA := con.a.Velocity.Add(con.a.AngularVelocity.Cross(p.rA))
			vt := vB.Sub(vA).Dot(p.tangent)
			lambdaT := -vt * p.tangentMass
			maxF := con.friction * p.jn
			newJt := shape.Clamp(p.jt+lambdaT, -maxF, maxF)
			deltaT := newJt - p.jt
			p.jt = newJt
			applyImpulse(con, p, p.tangent.Mul(deltaT))
		}
	}
}

// solvePosition applies Baumgarte stabilization: residual penetration beyond
// the slop is corrected positionally, split by inverse-mass ratio. Velocities
// are untouched.
func (s *Solver) solvePosition(con *constraint) {
	invSum := con.a.InvMass + con.b.InvMass
	if invSum == 0 {
		return
	}
	for j := range con.points {
		p := &con.points[j]
		pen := p.penetration - s.params.Slop
		if pen <= 0 {
			continue
		}
		corr := pen * s.params.Baumgarte
		push := con.normal.Mul(corr / invSum)
		con.a.Position = con.a.Position.Sub(push.Mul(con.a.InvMass))
		con.b.Position = con.b.Position.Add(push.Mul(con.b.InvMass))
		p.penetration -= corr
	}
}

func applyImpulse(con *constraint, p *constraintPoint, impulse mgl64.Vec3) {
	a, b := con.a, con.b
	if !a.Static() {
		a.Velocity = a.Velocity.Sub(impulse.Mul(a.InvMass))
		a.AngularVelocity = a.AngularVelocity.Sub(a.InvInertiaWorld().Mul3x1(p.rA.Cross(impulse)))
	}
	if !b.Static() {
		b.Velocity = b.Velocity.Add(impulse.Mul(b.InvMass))
		b.AngularVelocity = b.AngularVelocity.Add(b.InvInertiaWorld().Mul3x1(p.rB.Cross(impulse)))
	}
}

func relativeNormalVelocity(con *constraint, p *constraintPoint) float64 {
	vB := con.b.Velocity.Add(con.b.AngularVelocity.Cross(p.rB))
	vA := con.a.Velocity.Add(con.a.AngularVelocity.Cross(p.rA))
	return vB.Sub(vA).Dot(con.normal)
}

// residual is the RMS of the remaining approach velocity across all contact
// points; separating contacts contribute nothing.
func residual(cons []constraint) float64 {
	var sum float64
	var n int
	for i := range cons {
		for j := range cons[i].points {
			vn := relativeNormalVelocity(&cons[i], &cons[i].points[j])
			if vn < 0 {
				sum += vn * vn
			}
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

func (s *Solver) storeCache(cons []constraint) {
	fresh := make(map[pairKey]*cacheEntry, len(cons))
	for i := range cons {
		con := &cons[i]
		entry := &cacheEntry{
			normal:  make([]float64, len(con.points)),
			tangent: make([]float64, len(con.points)),
		}
		for j := range con.points {
			entry.normal[j] = con.points[j].jn
			entry.tangent[j] = con.points[j].jt
		}
		fresh[con.key] = entry
	}
	s.cache = fresh
}

func anyPerpendicular(n mgl64.Vec3) mgl64.Vec3 {
	if math.Abs(n[0]) < 0.9 {
		return n.Cross(mgl64.Vec3{1, 0, 0}).Normalize()
	}
	return n.Cross(mgl64.Vec3{0, 1, 0}).Normalize()
}
