package world

// EnergyAnalysis is the per-step energy breakdown reconstruction reports
// read. Crush is cumulative plastic work across all deformable bodies; in a
// well-behaved run Total never grows except through external forces.
type EnergyAnalysis struct {
	Kinetic float64 // rigid plus deformable node kinetic energy (J)
	Elastic float64 // recoverable strain energy in deformables (J)
	Crush   float64 // plastic work absorbed so far, never decreases (J)
	Total   float64
}

func (e *EnergyAnalysis) update(w *World) {
	e.Kinetic = 0
	e.Elastic = 0
	e.Crush = 0

	for i := range w.bodies {
		rb := &w.bodies[i]
		if rb.Static() || rb.Sleeping {
			continue
		}
		// Linear ½mv² plus rotational ½ ω·(I_world ω).
		e.Kinetic += 0.5 * rb.Mass * rb.Velocity.LenSqr()
		r := rb.Orientation.Mat4().Mat3()
		inertiaWorld := r.Mul3(rb.InertiaLocal).Mul3(r.Transpose())
		e.Kinetic += 0.5 * rb.AngularVelocity.Dot(inertiaWorld.Mul3x1(rb.AngularVelocity))
	}

	for _, d := range w.deformables {
		e.Kinetic += d.KineticEnergy()
		e.Elastic += d.ElasticEnergy()
		e.Crush += d.CrushEnergy()
	}

	e.Total = e.Kinetic + e.Elastic + e.Crush
}
