// Package body holds the rigid body state and its integration.
//
// Bodies are owned by the world's arena and referenced by index; the package
// itself knows nothing about indices, it only mutates one body at a time.
package body

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"crashsim/internal/shape"
)

// Default sleep thresholds. A body sleeps once both speeds stay below the
// thresholds for the time threshold.
const (
	SleepVelocityThreshold = 0.05 // m/s
	SleepAngularThreshold  = 0.05 // rad/s
	SleepTimeThreshold     = 0.5  // seconds of low velocity before sleeping
)

// RigidBody is a single rigid body. InvMass == 0 marks a static body; static
// bodies never move and never sleep-cycle.
type RigidBody struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat // unit quaternion, re-normalized after every update

	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3 // rad/s

	Mass            float64
	InvMass         float64
	InertiaLocal    mgl64.Mat3
	InvInertiaLocal mgl64.Mat3

	// Contact coefficients. Negative means "use the world default"; the
	// world replaces negatives when the body is added.
	Restitution float64 // 0 = no bounce, 1 = perfect bounce
	Friction    float64

	Sleeping   bool
	CanSleep   bool
	sleepTimer float64

	force  mgl64.Vec3
	torque mgl64.Vec3
}

// NewDynamic creates a dynamic body at pos with mass properties computed from
// the shape and material density.
func NewDynamic(s shape.Shape, density float64, pos mgl64.Vec3) *RigidBody {
	mass := s.Mass(density)
	inertia := s.Inertia(mass)
	return &RigidBody{
		Position:        pos,
		Orientation:     mgl64.QuatIdent(),
		Mass:            mass,
		InvMass:         1.0 / mass,
		InertiaLocal:    inertia,
		InvInertiaLocal: inertia.Inv(),
		Restitution:     -1,
		Friction:        -1,
		CanSleep:        true,
	}
}

// NewStatic creates an immovable body at pos. Static bodies have zero inverse
// mass and a zero inverse inertia tensor.
func NewStatic(pos mgl64.Vec3) *RigidBody {
	return &RigidBody{
		Position:    pos,
		Orientation: mgl64.QuatIdent(),
		Mass:        math.Inf(1),
		Restitution: -1,
		Friction:    -1,
	}
}

// Static reports whether the body is immovable.
func (rb *RigidBody) Static() bool { return rb.InvMass == 0 }

// InvInertiaWorld returns the world-space inverse inertia tensor,
// R * I_local^-1 * R^T. Zero for static bodies.
func (rb *RigidBody) InvInertiaWorld() mgl64.Mat3 {
	if rb.Static() {
		return mgl64.Mat3{}
	}
	r := rb.Orientation.Mat4().Mat3()
	return r.Mul3(rb.InvInertiaLocal).Mul3(r.Transpose())
}

// AddForce accumulates a force through the center of mass for the next
// integration pass. Wakes the body.
func (rb *RigidBody) AddForce(f mgl64.Vec3) {
	if rb.Static() {
		return
	}
	rb.Wake()
	rb.force = rb.force.Add(f)
}

// AddForceAtPoint accumulates a force applied at a world-space point,
// producing both a linear force and a torque. This is the injection point for
// external force models (suspension, tires); calls from any number of
// injectors sum before a single integration, so application order never
// affects the result.
func (rb *RigidBody) AddForceAtPoint(f, point mgl64.Vec3) {
	if rb.Static() {
		return
	}
	rb.Wake()
	rb.force = rb.force.Add(f)
	rb.torque = rb.torque.Add(point.Sub(rb.Position).Cross(f))
}

// AddTorque accumulates a torque for the next integration pass.
func (rb *RigidBody) AddTorque(t mgl64.Vec3) {
	if rb.Static() {
		return
	}
	rb.Wake()
	rb.torque = rb.torque.Add(t)
}

// ApplyImpulse changes linear velocity immediately. Wakes the body.
func (rb *RigidBody) ApplyImpulse(imp mgl64.Vec3) {
	if rb.Static() {
		return
	}
	rb.Wake()
	rb.Velocity = rb.Velocity.Add(imp.Mul(rb.InvMass))
}

// ApplyImpulseAt changes linear and angular velocity from an impulse applied
// at a world-space point.
func (rb *RigidBody) ApplyImpulseAt(imp, point mgl64.Vec3) {
	if rb.Static() {
		return
	}
	rb.Wake()
	rb.Velocity = rb.Velocity.Add(imp.Mul(rb.InvMass))
	r := point.Sub(rb.Position)
	rb.AngularVelocity = rb.AngularVelocity.Add(rb.InvInertiaWorld().Mul3x1(r.Cross(imp)))
}

// PointVelocity returns the velocity of a world-space point on the body,
// v + ω × r.
func (rb *RigidBody) PointVelocity(point mgl64.Vec3) mgl64.Vec3 {
	return rb.Velocity.Add(rb.AngularVelocity.Cross(point.Sub(rb.Position)))
}

// Integrate advances the body one step with semi-implicit Euler: velocities
// first from accumulated forces plus gravity, then positions from the new
// velocities. Accumulators are cleared afterwards. Static and sleeping bodies
// are skipped.
func (rb *RigidBody) Integrate(dt float64, gravity mgl64.Vec3, damping float64) {
	if rb.Static() || rb.Sleeping {
		rb.ClearAccumulators()
		return
	}

	accel := gravity.Add(rb.force.Mul(rb.InvMass))
	rb.Velocity = rb.Velocity.Add(accel.Mul(dt))

	angAccel := rb.InvInertiaWorld().Mul3x1(rb.torque)
	rb.AngularVelocity = rb.AngularVelocity.Add(angAccel.Mul(dt))

	if damping > 0 {
		k := math.Exp(-damping * dt)
		rb.Velocity = rb.Velocity.Mul(k)
		rb.AngularVelocity = rb.AngularVelocity.Mul(k)
	}

	rb.Position = rb.Position.Add(rb.Velocity.Mul(dt))

	// q' = q + 0.5 * (ω ⊗ q) * dt, then renormalize.
	omega := mgl64.Quat{W: 0, V: rb.AngularVelocity}
	dq := omega.Mul(rb.Orientation).Scale(0.5 * dt)
	rb.Orientation = rb.Orientation.Add(dq).Normalize()

	rb.ClearAccumulators()
}

// ClearAccumulators resets the pending force and torque.
func (rb *RigidBody) ClearAccumulators() {
	rb.force = mgl64.Vec3{}
	rb.torque = mgl64.Vec3{}
}

// Wake forces the body out of sleep.
func (rb *RigidBody) Wake() {
	rb.Sleeping = false
	rb.sleepTimer = 0
}

// Sleep puts the body to rest and zeroes its velocities.
func (rb *RigidBody) Sleep() {
	rb.Sleeping = true
	rb.sleepTimer = 0
	rb.Velocity = mgl64.Vec3{}
	rb.AngularVelocity = mgl64.Vec3{}
}

// TrySleep advances the sleep timer while both speeds stay below the given
// thresholds, and puts the body to sleep once the time threshold is reached.
// Any faster motion resets the timer.
func (rb *RigidBody) TrySleep(dt, velThreshold, angThreshold, timeThreshold float64) {
	if rb.Static() || !rb.CanSleep || rb.Sleeping {
		return
	}
	if rb.Velocity.Len() < velThreshold && rb.AngularVelocity.Len() < angThreshold {
		rb.sleepTimer += dt
		if rb.sleepTimer >= timeThreshold {
			rb.Sleep()
		}
	} else {
		rb.sleepTimer = 0
	}
}
