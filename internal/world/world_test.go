package world

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashsim/internal/body"
	"crashsim/internal/fem"
	"crashsim/internal/shape"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w, err := New(DefaultConfig())
	require.NoError(t, err)
	return w
}

func addGround(w *World) int {
	return w.AddBody(body.NewStatic(mgl64.Vec3{0, 0, -1}), shape.Box{HalfExtents: mgl64.Vec3{50, 50, 1}})
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VelocityIterations = 0

	_, err := New(cfg)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "velocity_iterations", cerr.Field)
}

func TestAddBodyAppliesDefaults(t *testing.T) {
	w := newTestWorld(t)

	id := w.AddBody(body.NewDynamic(shape.Sphere{Radius: 1}, 1000, mgl64.Vec3{}), shape.Sphere{Radius: 1})
	rb := w.Body(id)
	require.NotNil(t, rb)
	assert.Equal(t, w.Config().Restitution, rb.Restitution)
	assert.Equal(t, w.Config().Friction, rb.Friction)

	// Explicit values, including zero, survive.
	b2 := body.NewDynamic(shape.Sphere{Radius: 1}, 1000, mgl64.Vec3{5, 0, 0})
	b2.Restitution = 0
	b2.Friction = 0.9
	id2 := w.AddBody(b2, shape.Sphere{Radius: 1})
	assert.Equal(t, 0.0, w.Body(id2).Restitution)
	assert.Equal(t, 0.9, w.Body(id2).Friction)
}

func TestBodyUnknownID(t *testing.T) {
	w := newTestWorld(t)
	assert.Nil(t, w.Body(-1))
	assert.Nil(t, w.Body(0))
	assert.Nil(t, w.Shape(3))
	assert.Nil(t, w.DeformableBody(0))
}

func TestBodyPairPanicsOnAlias(t *testing.T) {
	w := newTestWorld(t)
	w.AddBody(body.NewDynamic(shape.Sphere{Radius: 1}, 1000, mgl64.Vec3{}), shape.Sphere{Radius: 1})

	assert.Panics(t, func() { w.BodyPair(0, 0) })
}

func TestStepRejectsBadTimestep(t *testing.T) {
	w := newTestWorld(t)

	err := w.Step(0)
	var serr *StepError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, uint64(0), serr.Step)
	assert.Equal(t, 0.0, w.Time(), "clock advanced on a failed step")
}

func TestSphereSettlesOnGround(t *testing.T) {
	w := newTestWorld(t)
	addGround(w)

	s := shape.Sphere{Radius: 0.5}
	rb := body.NewDynamic(s, 1000, mgl64.Vec3{0, 0, 3})
	rb.Restitution = 0
	id := w.AddBody(rb, s)

	dt := 1.0 / 120.0
	for i := 0; i < 600; i++ {
		require.NoError(t, w.Step(dt))
	}

	ball := w.Body(id)
	// Resting on the slab top (z = 0) the center sits near the radius.
	assert.InDelta(t, 0.5, ball.Position[2], 0.05)
	assert.Less(t, ball.Velocity.Len(), 0.1, "ball still moving after 5 seconds")
	assert.True(t, ball.Sleeping, "settled ball should be asleep")
}

func TestHeadOnImpactSeparates(t *testing.T) {
	w := newTestWorld(t)
	w.SetGravity(mgl64.Vec3{})

	s := shape.Sphere{Radius: 1}
	a := body.NewDynamic(s, 1000, mgl64.Vec3{-3, 0, 0})
	a.Velocity = mgl64.Vec3{5, 0, 0}
	a.CanSleep = false
	b := body.NewDynamic(s, 1000, mgl64.Vec3{3, 0, 0})
	b.Velocity = mgl64.Vec3{-5, 0, 0}
	b.CanSleep = false
	ia := w.AddBody(a, s)
	ib := w.AddBody(b, s)

	dt := 1.0 / 120.0
	for i := 0; i < 480; i++ {
		require.NoError(t, w.Step(dt))
	}

	// After the impact the spheres must not interpenetrate.
	dist := w.Body(ib).Position.Sub(w.Body(ia).Position).Len()
	assert.GreaterOrEqual(t, dist, 2.0-0.05, "spheres left overlapping")
}

func TestSphereDropOnStaticSphere(t *testing.T) {
	w := newTestWorld(t)

	s := shape.Sphere{Radius: 1}
	w.AddBody(body.NewStatic(mgl64.Vec3{0, 0, 0}), s)
	id := w.AddBody(body.NewDynamic(s, 1000, mgl64.Vec3{0, 0, 10}), s)

	// At 12.5 m/s impact speed one 10 ms step tunnels ~0.12 m before the
	// contact is ever seen, and position correction resolves it over a few
	// frames; after that window the centers must stay at touching distance.
	dt := 0.01
	touchStep := -1
	for i := 0; i < 300; i++ {
		require.NoError(t, w.Step(dt))
		dist := w.Body(id).Position.Len()
		if touchStep < 0 && dist <= 2 {
			touchStep = i
		}
		if touchStep >= 0 && i > touchStep+10 {
			assert.GreaterOrEqual(t, dist, 2.0-0.05, "step %d", i)
		}
	}
	require.GreaterOrEqual(t, touchStep, 0, "falling sphere never reached the static one")
}

func TestStepDeterministic(t *testing.T) {
	run := func() []mgl64.Vec3 {
		w := newTestWorld(t)
		addGround(w)
		s := shape.Box{HalfExtents: mgl64.Vec3{0.4, 0.4, 0.4}}
		for i := 0; i < 8; i++ {
			rb := body.NewDynamic(s, 800, mgl64.Vec3{float64(i) * 0.3, 0, 1 + float64(i)})
			rb.Velocity = mgl64.Vec3{0.5, -0.25, 0}
			w.AddBody(rb, s)
		}
		for i := 0; i < 240; i++ {
			require.NoError(t, w.Step(1.0/120.0))
		}
		out := make([]mgl64.Vec3, w.NumBodies())
		for i := range out {
			out[i] = w.Body(i).Position
		}
		return out
	}

	first := run()
	second := run()
	assert.Equal(t, first, second, "identical runs diverged")
}

func TestClockAndStepCount(t *testing.T) {
	w := newTestWorld(t)

	require.NoError(t, w.Step(0.25))
	require.NoError(t, w.Step(0.25))
	assert.InDelta(t, 0.5, w.Time(), 1e-12)
	assert.Equal(t, uint64(2), w.StepCount())
}

func TestDeformableStepsWithWorld(t *testing.T) {
	w := newTestWorld(t)

	mat, err := fem.NewMaterial(5e6, 0.3, 2700, 0.02)
	require.NoError(t, err)
	nodes := []mgl64.Vec3{
		{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
	}
	elements := [][4]int{
		{0, 1, 2, 5}, {0, 2, 3, 7}, {0, 5, 2, 7}, {0, 5, 7, 4}, {2, 5, 6, 7},
	}
	d, err := fem.NewBody(nodes, elements, mat)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		d.Pin(i)
	}
	for i := 4; i < 8; i++ {
		d.Velocities[i] = mgl64.Vec3{0, 0, -8}
	}
	id := w.AddDeformableBody(d)

	for i := 0; i < 120; i++ {
		require.NoError(t, w.Step(1.0 / 240.0))
	}

	got := w.DeformableBody(id)
	assert.Greater(t, got.CrushEnergy(), 0.0, "hard compression produced no plastic work")
	assert.Greater(t, w.EnergyAnalysis().Crush, 0.0)
}

func TestSnapshotIsIndependent(t *testing.T) {
	w := newTestWorld(t)
	addGround(w)
	s := shape.Sphere{Radius: 0.5}
	id := w.AddBody(body.NewDynamic(s, 1000, mgl64.Vec3{0, 0, 5}), s)

	for i := 0; i < 60; i++ {
		require.NoError(t, w.Step(1.0/120.0))
	}

	snap, err := w.Snapshot()
	require.NoError(t, err)
	require.Equal(t, w.NumBodies(), snap.NumBodies())
	assert.Equal(t, w.Time(), snap.Time())

	frozen := w.Body(id).Position
	for i := 0; i < 120; i++ {
		require.NoError(t, snap.Step(1.0/120.0))
	}

	assert.Equal(t, frozen, w.Body(id).Position, "stepping the snapshot moved the original")
	assert.NotEqual(t, frozen, snap.Body(id).Position, "snapshot did not evolve")
}

func TestRayCastHitsClosestBody(t *testing.T) {
	w := newTestWorld(t)
	s := shape.Sphere{Radius: 1}
	near := w.AddBody(body.NewStatic(mgl64.Vec3{5, 0, 0}), s)
	w.AddBody(body.NewStatic(mgl64.Vec3{10, 0, 0}), s)

	hit, ok := w.RayCast(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 0, 0}, 100)
	require.True(t, ok)
	assert.Equal(t, near, hit.Body)
	assert.InDelta(t, 4.0, hit.Distance, 1e-9)
	assert.InDelta(t, -1.0, hit.Normal[0], 1e-9)
}

func TestRayCastRotatedBox(t *testing.T) {
	w := newTestWorld(t)
	b := shape.Box{HalfExtents: mgl64.Vec3{1, 1, 1}}
	rb := body.NewStatic(mgl64.Vec3{5, 0, 0})
	rb.Orientation = mgl64.QuatRotate(0.5, mgl64.Vec3{0, 0, 1})
	w.AddBody(rb, b)

	hit, ok := w.RayCast(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 0, 0}, 100)
	require.True(t, ok)
	assert.Less(t, hit.Distance, 5.0)
	assert.Greater(t, hit.Distance, 3.0)
	// Entering face normal opposes the ray.
	assert.Negative(t, hit.Normal.Dot(mgl64.Vec3{1, 0, 0}))
}

func TestRayCastMiss(t *testing.T) {
	w := newTestWorld(t)
	w.AddBody(body.NewStatic(mgl64.Vec3{5, 0, 0}), shape.Sphere{Radius: 1})

	_, ok := w.RayCast(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{0, 1, 0}, 100)
	assert.False(t, ok)
	_, ok = w.RayCast(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 0, 0}, 2)
	assert.False(t, ok, "hit beyond max distance")
	_, ok = w.RayCast(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{}, 100)
	assert.False(t, ok, "zero direction")
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverridesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("velocity_iterations: 16\nrestitution: 0.4\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.VelocityIterations)
	assert.Equal(t, 0.4, cfg.Restitution)
	// Untouched fields keep defaults.
	assert.Equal(t, DefaultConfig().Friction, cfg.Friction)

	require.NoError(t, os.WriteFile(path, []byte("restitution: 2.0\n"), 0o644))
	_, err = LoadConfig(path)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "restitution", cerr.Field)
}

func TestLoadConfigRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("velocty_iterations: 16\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err, "typo in config key silently ignored")
}

func TestConfigFEMMethod(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FEMMethod = "explicit-euler"
	require.NoError(t, cfg.Validate())

	cfg.FEMMethod = "rk4"
	err := cfg.Validate()
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "fem_method", cerr.Field)
}

func TestStepErrorWrapsCause(t *testing.T) {
	inner := errors.New("boom")
	err := &StepError{Step: 7, Time: 1.5, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "step 7")
}
