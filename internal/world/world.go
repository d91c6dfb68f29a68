// Package world owns the simulation state and sequences one step:
// broad phase, narrow phase, constraint solve, rigid integration,
// deformable step, energy analysis, clock advance.
//
// The step is the unit of determinism: identical bodies, shapes, config and
// dt reproduce identical trajectories, which is what lets simulation output
// serve as evidence. No caller may mutate body state while a step runs.
package world

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"crashsim/internal/body"
	"crashsim/internal/collide"
	"crashsim/internal/fem"
	"crashsim/internal/shape"
	"crashsim/internal/solver"
)

// StepError wraps a failure inside one step with the simulation context a
// caller needs to decide between skipping the frame, reducing dt or aborting.
type StepError struct {
	Step uint64
	Time float64
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("world: step %d (t=%.4fs): %v", e.Step, e.Time, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// World owns the body arena, the deformable bodies and the solver state.
// Body and shape slots are parallel slices; indices are stable for the life
// of the world and removal is not supported.
type World struct {
	cfg     Config
	gravity mgl64.Vec3

	bodies      []body.RigidBody
	shapes      []shape.Shape
	deformables []*fem.Body

	broad  *collide.BroadPhase
	solver *solver.Solver
	stats  solver.Stats
	energy EnergyAnalysis

	time  float64
	steps uint64

	aabbs []shape.AABB // scratch, rebuilt each step

	lastLog            time.Time
	nonConvergedStreak int
}

// New creates a world with earth gravity and the given config.
func New(cfg Config) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &World{
		cfg:     cfg,
		gravity: mgl64.Vec3{0, 0, -9.81},
		broad:   collide.NewBroadPhase(),
		solver: solver.New(solver.Params{
			VelocityIterations: cfg.VelocityIterations,
			PositionIterations: cfg.PositionIterations,
			ConvergenceTol:     cfg.ConvergenceTol,
			Baumgarte:          cfg.BaumgarteFactor,
			Slop:               cfg.ContactSlop,
			WarmStartFactor:    cfg.WarmStartFactor,
		}),
	}, nil
}

// Config returns a copy of the active configuration.
func (w *World) Config() Config { return w.cfg }

// AddBody copies the body into the arena paired with its collision shape and
// returns its stable index. Negative contact coefficients take the world
// defaults. Must not be called while a step is running.
func (w *World) AddBody(rb *body.RigidBody, s shape.Shape) int {
	b := *rb
	if b.Restitution < 0 {
		b.Restitution = w.cfg.Restitution
	}
	if b.Friction < 0 {
		b.Friction = w.cfg.Friction
	}
	w.bodies = append(w.bodies, b)
	w.shapes = append(w.shapes, s)
	return len(w.bodies) - 1
}

// AddDeformableBody registers a deformable body and returns its index.
func (w *World) AddDeformableBody(b *fem.Body) int {
	w.deformables = append(w.deformables, b)
	return len(w.deformables) - 1
}

// Body returns the rigid body at id, or nil for an unknown id. The pointer
// stays valid until the next AddBody.
func (w *World) Body(id int) *body.RigidBody {
	if id < 0 || id >= len(w.bodies) {
		return nil
	}
	return &w.bodies[id]
}

// Shape returns the collision shape paired with body id, or nil.
func (w *World) Shape(id int) shape.Shape {
	if id < 0 || id >= len(w.shapes) {
		return nil
	}
	return w.shapes[id]
}

// DeformableBody returns the deformable body at id, or nil.
func (w *World) DeformableBody(id int) *fem.Body {
	if id < 0 || id >= len(w.deformables) {
		return nil
	}
	return w.deformables[id]
}

// BodyPair grants references to two distinct bodies for the solver. Asking
// for the same index twice is a programming error and panics rather than
// handing out aliased mutable access.
func (w *World) BodyPair(i, j int) (*body.RigidBody, *body.RigidBody) {
	if i == j {
		panic(fmt.Sprintf("world: BodyPair called with identical index %d", i))
	}
	return &w.bodies[i], &w.bodies[j]
}

// SetGravity replaces the gravity vector.
func (w *World) SetGravity(g mgl64.Vec3) { w.gravity = g }

// Gravity returns the current gravity vector.
func (w *World) Gravity() mgl64.Vec3 { return w.gravity }

// Time returns the simulation clock. It only moves forward.
func (w *World) Time() float64 { return w.time }

// StepCount returns the number of completed steps.
func (w *World) StepCount() uint64 { return w.steps }

// SolverStats returns the statistics of the most recent solve.
func (w *World) SolverStats() solver.Stats { return w.stats }

// EnergyAnalysis returns the energy breakdown after the last step.
func (w *World) EnergyAnalysis() *EnergyAnalysis { return &w.energy }

// NumBodies returns the number of rigid bodies in the arena.
func (w *World) NumBodies() int { return len(w.bodies) }

// Step advances the simulation by dt. On error the step is aborted and the
// clock does not advance; the caller decides whether to retry with a smaller
// dt or stop.
func (w *World) Step(dt float64) error {
	if dt <= 0 || math.IsNaN(dt) {
		return &StepError{Step: w.steps, Time: w.time, Err: fmt.Errorf("timestep must be positive, got %g", dt)}
	}

	contacts, err := w.detectContacts()
	if err != nil {
		return &StepError{Step: w.steps, Time: w.time, Err: err}
	}

	w.stats = w.solver.Solve(w, contacts, dt)
	w.logNonConvergence()

	// Sleep is judged on the post-solve velocities, before gravity is added
	// back for the next frame; a resting contact reads as zero here.
	for i := range w.bodies {
		rb := &w.bodies[i]
		rb.TrySleep(dt, w.cfg.SleepVelocityThreshold, w.cfg.SleepAngularThreshold, w.cfg.SleepTimeThreshold)
		rb.Integrate(dt, w.gravity, w.cfg.Damping)
	}

	method, _ := w.cfg.femMethod()
	femParams := fem.StepParams{
		Gravity:          w.gravity,
		Method:           method,
		Damping:          w.cfg.Damping,
		EnablePlasticity: w.cfg.EnablePlasticity,
		YieldThreshold:   w.cfg.YieldThreshold,
		PlasticFlow:      w.cfg.PlasticFlow,
		Workers:          w.stepWorkers(),
	}
	for _, d := range w.deformables {
		if err := d.Step(dt, femParams); err != nil {
			return &StepError{Step: w.steps, Time: w.time, Err: err}
		}
	}

	w.energy.update(w)
	w.time += dt
	w.steps++
	return nil
}

// detectContacts runs the broad and narrow phases and returns the contact
// list in ascending body-pair order regardless of worker count.
func (w *World) detectContacts() ([]collide.Contact, error) {
	w.aabbs = w.aabbs[:0]
	for i, s := range w.shapes {
		rb := &w.bodies[i]
		w.aabbs = append(w.aabbs, s.Bounds(rb.Position, rb.Orientation))
	}

	pairs := w.broad.Pairs(w.aabbs)

	// A pair needs at least one awake dynamic body; static-static pairs do
	// nothing and a sleeper resting on static ground must not be re-woken.
	candidates := pairs[:0]
	for _, p := range pairs {
		a, b := &w.bodies[p[0]], &w.bodies[p[1]]
		activeA := !a.Static() && !a.Sleeping
		activeB := !b.Static() && !b.Sleeping
		if !activeA && !activeB {
			continue
		}
		candidates = append(candidates, p)
	}

	results := make([]*collide.Contact, len(candidates))
	errs := make([]error, len(candidates))

	workers := w.stepWorkers()
	if workers <= 1 || len(candidates) < 16 {
		for i, p := range candidates {
			results[i], errs[i] = w.testPair(p[0], p[1])
		}
	} else {
		// Pair tests only read body state. Each worker writes its own result
		// slots and the merge below walks them in pair order.
		var wg sync.WaitGroup
		chunk := (len(candidates) + workers - 1) / workers
		for off := 0; off < len(candidates); off += chunk {
			end := min(off+chunk, len(candidates))
			wg.Add(1)
			go func(lo, hi int) {
				defer wg.Done()
				for i := lo; i < hi; i++ {
					results[i], errs[i] = w.testPair(candidates[i][0], candidates[i][1])
				}
			}(off, end)
		}
		wg.Wait()
	}

	var contacts []collide.Contact
	for i := range results {
		if errs[i] != nil {
			return nil, errs[i]
		}
		if results[i] != nil {
			contacts = append(contacts, *results[i])
		}
	}
	return contacts, nil
}

// testPair runs the narrow phase for one candidate pair and fills in the
// combined contact coefficients: mean restitution, geometric mean friction.
func (w *World) testPair(i, j int) (*collide.Contact, error) {
	a, b := &w.bodies[i], &w.bodies[j]
	c, hit, err := collide.ContactManifold(
		w.shapes[i], collide.Pose{Pos: a.Position, Rot: a.Orientation},
		w.shapes[j], collide.Pose{Pos: b.Position, Rot: b.Orientation},
	)
	if err != nil {
		return nil, err
	}
	if !hit {
		return nil, nil
	}
	c.BodyA = i
	c.BodyB = j
	c.Restitution = (a.Restitution + b.Restitution) / 2
	c.Friction = math.Sqrt(a.Friction * b.Friction)
	return &c, nil
}

func (w *World) stepWorkers() int {
	if w.cfg.Deterministic {
		return 1
	}
	return w.cfg.Workers
}

// logNonConvergence reports solver trouble at most once per second; the
// streak length tells how long it has been going on.
func (w *World) logNonConvergence() {
	if w.stats.Converged || w.stats.NumConstraints == 0 {
		w.nonConvergedStreak = 0
		return
	}
	w.nonConvergedStreak++
	if time.Since(w.lastLog) >= time.Second {
		w.lastLog = time.Now()
		log.Printf("world: solver not converged for %d steps (residual %.3g, %d constraints)",
			w.nonConvergedStreak, w.stats.Residual, w.stats.NumConstraints)
	}
}
