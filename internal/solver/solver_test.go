package solver

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashsim/internal/body"
	"crashsim/internal/collide"
	"crashsim/internal/shape"
)

// arena is a minimal BodySource for tests.
type arena []*body.RigidBody

func (a arena) BodyPair(i, j int) (*body.RigidBody, *body.RigidBody) {
	if i == j {
		panic("same index")
	}
	return a[i], a[j]
}

func testParams() Params {
	return Params{
		VelocityIterations: 10,
		PositionIterations: 3,
		ConvergenceTol:     1e-4,
		Baumgarte:          0.2,
		Slop:               0.005,
		WarmStartFactor:    1.0,
	}
}

// contactAt builds a single-point contact between bodies 0 and 1.
func contactAt(normal, point mgl64.Vec3, pen, restitution, friction float64) collide.Contact {
	return collide.Contact{
		BodyA:       0,
		BodyB:       1,
		Normal:      normal,
		Penetration: pen,
		Points:      []collide.ContactPoint{{Position: point, Penetration: pen}},
		Restitution: restitution,
		Friction:    friction,
	}
}

func TestSolveStopsApproach(t *testing.T) {
	ground := body.NewStatic(mgl64.Vec3{0, 0, 0})
	ball := body.NewDynamic(shape.Sphere{Radius: 0.5}, 1000, mgl64.Vec3{0, 0, 0.45})
	ball.Velocity = mgl64.Vec3{0, 0, -3}

	src := arena{ground, ball}
	c := contactAt(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 0}, 0.05, 0, 0.5)

	s := New(testParams())
	stats := s.Solve(src, []collide.Contact{c}, 1.0/60.0)

	require.Equal(t, 1, stats.NumConstraints)
	assert.True(t, stats.Converged, "single contact should converge, residual %g", stats.Residual)
	// Zero restitution: approach velocity removed, no bounce added.
	assert.GreaterOrEqual(t, ball.Velocity[2], -1e-6, "ball still approaching after solve")
	assert.LessOrEqual(t, ball.Velocity[2], 0.2, "zero-restitution contact bounced")
}

func TestSolveRestitutionBounces(t *testing.T) {
	ground := body.NewStatic(mgl64.Vec3{})
	ball := body.NewDynamic(shape.Sphere{Radius: 0.5}, 1000, mgl64.Vec3{0, 0, 0.45})
	ball.Velocity = mgl64.Vec3{0, 0, -4}

	src := arena{ground, ball}
	c := contactAt(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 0}, 0.05, 0.8, 0)

	s := New(testParams())
	s.Solve(src, []collide.Contact{c}, 1.0/60.0)

	// Coefficient 0.8 on a 4 m/s impact: separate at roughly 3.2 m/s.
	assert.InDelta(t, 3.2, ball.Velocity[2], 0.2)
}

func TestSlowImpactGetsNoRestitution(t *testing.T) {
	ground := body.NewStatic(mgl64.Vec3{})
	ball := body.NewDynamic(shape.Sphere{Radius: 0.5}, 1000, mgl64.Vec3{0, 0, 0.45})
	ball.Velocity = mgl64.Vec3{0, 0, -0.5} // below the 1 m/s threshold

	src := arena{ground, ball}
	c := contactAt(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 0}, 0.01, 1.0, 0)

	s := New(testParams())
	s.Solve(src, []collide.Contact{c}, 1.0/60.0)

	// Full restitution coefficient, but the slow contact must not bounce.
	assert.LessOrEqual(t, ball.Velocity[2], 0.05)
}

func TestFrictionSlowsSliding(t *testing.T) {
	ground := body.NewStatic(mgl64.Vec3{})
	box := body.NewDynamic(shape.Box{HalfExtents: mgl64.Vec3{0.5, 0.5, 0.5}}, 500, mgl64.Vec3{0, 0, 0.45})
	box.Velocity = mgl64.Vec3{2, 0, -1}

	src := arena{ground, box}
	c := contactAt(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 0}, 0.05, 0, 0.8)

	s := New(testParams())
	s.Solve(src, []collide.Contact{c}, 1.0/60.0)

	assert.Less(t, box.Velocity[0], 2.0, "friction did not slow the slide")
	assert.GreaterOrEqual(t, box.Velocity[0], 0.0, "friction reversed the slide")
}

func TestFrictionlessContactKeepsTangentVelocity(t *testing.T) {
	ground := body.NewStatic(mgl64.Vec3{})
	box := body.NewDynamic(shape.Box{HalfExtents: mgl64.Vec3{0.5, 0.5, 0.5}}, 500, mgl64.Vec3{0, 0, 0.45})
	box.Velocity = mgl64.Vec3{2, 0, -1}

	src := arena{ground, box}
	c := contactAt(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 0.45}, 0.05, 0, 0)

	s := New(testParams())
	s.Solve(src, []collide.Contact{c}, 1.0/60.0)

	// Contact through the center of mass, no friction: X untouched.
	assert.InDelta(t, 2.0, box.Velocity[0], 1e-9)
}

func TestPositionCorrectionSeparates(t *testing.T) {
	ground := body.NewStatic(mgl64.Vec3{})
	ball := body.NewDynamic(shape.Sphere{Radius: 0.5}, 1000, mgl64.Vec3{0, 0, 0.3})

	src := arena{ground, ball}
	c := contactAt(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 0}, 0.2, 0, 0)

	s := New(testParams())
	startZ := ball.Position[2]
	s.Solve(src, []collide.Contact{c}, 1.0/60.0)

	assert.Greater(t, ball.Position[2], startZ, "penetrating body not pushed out")
	// Baumgarte resolves gradually; one solve must not eject the full depth.
	assert.Less(t, ball.Position[2]-startZ, 0.2)
	assert.Equal(t, mgl64.Vec3{}, ground.Position, "static body moved")
}

func TestTwoDynamicBodiesShareCorrection(t *testing.T) {
	a := body.NewDynamic(shape.Sphere{Radius: 0.5}, 1000, mgl64.Vec3{-0.4, 0, 0})
	b := body.NewDynamic(shape.Sphere{Radius: 0.5}, 1000, mgl64.Vec3{0.4, 0, 0})
	a.Velocity = mgl64.Vec3{1, 0, 0}
	b.Velocity = mgl64.Vec3{-1, 0, 0}

	src := arena{a, b}
	c := contactAt(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 0, 0}, 0.2, 0, 0)

	s := New(testParams())
	s.Solve(src, []collide.Contact{c}, 1.0/60.0)

	// Equal masses head-on: momentum stays zero and the approach stops.
	assert.InDelta(t, 0, a.Velocity[0]+b.Velocity[0], 1e-9)
	assert.GreaterOrEqual(t, b.Velocity[0]-a.Velocity[0], -1e-9, "still approaching")
	assert.Less(t, a.Position[0], -0.4, "a not pushed back")
	assert.Greater(t, b.Position[0], 0.4, "b not pushed back")
}

func TestSolveWakesSleepingPartner(t *testing.T) {
	awake := body.NewDynamic(shape.Sphere{Radius: 0.5}, 1000, mgl64.Vec3{})
	awake.Velocity = mgl64.Vec3{0, 0, -2}
	sleeper := body.NewDynamic(shape.Sphere{Radius: 0.5}, 1000, mgl64.Vec3{0, 0, -0.9})
	sleeper.Sleep()

	src := arena{awake, sleeper}
	c := contactAt(mgl64.Vec3{0, 0, -1}, mgl64.Vec3{0, 0, -0.45}, 0.1, 0, 0)

	s := New(testParams())
	s.Solve(src, []collide.Contact{c}, 1.0/60.0)

	assert.False(t, sleeper.Sleeping, "contact with a moving body must wake the sleeper")
}

func TestBothStaticSkipped(t *testing.T) {
	a := body.NewStatic(mgl64.Vec3{})
	b := body.NewStatic(mgl64.Vec3{0, 0, 1})

	src := arena{a, b}
	c := contactAt(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 0.5}, 0.5, 0, 0)

	s := New(testParams())
	stats := s.Solve(src, []collide.Contact{c}, 1.0/60.0)

	assert.Equal(t, 0, stats.NumConstraints)
	assert.True(t, stats.Converged)
}

func TestEmptySolveConverges(t *testing.T) {
	s := New(testParams())
	stats := s.Solve(arena{}, nil, 1.0/60.0)
	assert.True(t, stats.Converged)
	assert.Equal(t, 0, stats.NumConstraints)
}

func TestWarmStartSpeedsConvergence(t *testing.T) {
	run := func(warm float64) int {
		ground := body.NewStatic(mgl64.Vec3{})
		ball := body.NewDynamic(shape.Sphere{Radius: 0.5}, 1000, mgl64.Vec3{0, 0, 0.45})

		p := testParams()
		p.WarmStartFactor = warm
		s := New(p)

		// Repeated resting solves; gravity re-adds approach velocity each frame.
		var iters int
		for frame := 0; frame < 10; frame++ {
			ball.Velocity = mgl64.Vec3{0, 0, -0.16}
			c := contactAt(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 0}, 0.01, 0, 0.5)
			stats := s.Solve(arena{ground, ball}, []collide.Contact{c}, 1.0/60.0)
			iters = stats.Iterations
		}
		return iters
	}

	cold := run(0)
	warm := run(1)
	assert.LessOrEqual(t, warm, cold, "warm starting should not need more iterations")
}

func TestInelasticSolveNeverAddsEnergy(t *testing.T) {
	kinetic := func(bodies ...*body.RigidBody) float64 {
		var e float64
		for _, rb := range bodies {
			if rb.Static() {
				continue
			}
			e += 0.5 * rb.Mass * rb.Velocity.LenSqr()
			r := rb.Orientation.Mat4().Mat3()
			inertia := r.Mul3(rb.InertiaLocal).Mul3(r.Transpose())
			e += 0.5 * rb.AngularVelocity.Dot(inertia.Mul3x1(rb.AngularVelocity))
		}
		return e
	}

	a := body.NewDynamic(shape.Sphere{Radius: 0.5}, 1200, mgl64.Vec3{-0.4, 0, 0})
	b := body.NewDynamic(shape.Box{HalfExtents: mgl64.Vec3{0.5, 0.5, 0.5}}, 600, mgl64.Vec3{0.4, 0.1, 0})
	a.Velocity = mgl64.Vec3{3, 0.5, 0}
	b.Velocity = mgl64.Vec3{-2, 0, 0.25}
	b.AngularVelocity = mgl64.Vec3{0, 1, 0}

	src := arena{a, b}
	c := contactAt(mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 0.05, 0}, 0.1, 0, 0.4)

	before := kinetic(a, b)
	s := New(testParams())
	s.Solve(src, []collide.Contact{c}, 1.0/60.0)
	after := kinetic(a, b)

	assert.LessOrEqual(t, after, before+1e-9, "inelastic contact created energy")
}

func TestImpulseNeverPulls(t *testing.T) {
	// Separating bodies: the contact must not apply an attracting impulse.
	ground := body.NewStatic(mgl64.Vec3{})
	ball := body.NewDynamic(shape.Sphere{Radius: 0.5}, 1000, mgl64.Vec3{0, 0, 0.45})
	ball.Velocity = mgl64.Vec3{0, 0, 3} // already moving apart

	src := arena{ground, ball}
	c := contactAt(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 0, 0}, 0.05, 0, 0)

	s := New(testParams())
	s.Solve(src, []collide.Contact{c}, 1.0/60.0)

	assert.InDelta(t, 3.0, ball.Velocity[2], 1e-9, "separating body was slowed")
}
