package fem

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

// StepParams controls one deformable step. Taken from the world config.
type StepParams struct {
	Gravity          mgl64.Vec3
	Method           Method
	Damping          float64
	EnablePlasticity bool
	YieldThreshold   float64 // multiplier on the material yield strain
	PlasticFlow      float64 // fraction of excess deformation made permanent
	Workers          int     // <= 1 runs the force pass sequentially
}

// Step advances the body by dt: per-element elastic forces, plastic yield,
// then node integration. Element forces land in private per-element slots and
// are reduced in element order, so the result is identical with any worker
// count.
func (b *Body) Step(dt float64, p StepParams) error {
	b.computeElementForces(p.Workers)

	if p.EnablePlasticity {
		if err := b.applyPlasticity(p); err != nil {
			return err
		}
	}

	// Reduce element forces into per-node totals.
	for i := range b.forces {
		b.forces[i] = mgl64.Vec3{}
	}
	for ei, el := range b.Elements {
		for k, ni := range el {
			b.forces[ni] = b.forces[ni].Add(b.elemForces[ei][k])
		}
	}

	damp := 1.0
	if p.Damping > 0 {
		damp = math.Exp(-p.Damping * dt)
	}

	for i := range b.Positions {
		if b.InvMass[i] == 0 {
			continue
		}
		accel := p.Gravity.Add(b.forces[i].Mul(b.InvMass[i]))
		switch p.Method {
		case ExplicitEuler:
			b.Positions[i] = b.Positions[i].Add(b.Velocities[i].Mul(dt))
			b.Velocities[i] = b.Velocities[i].Add(accel.Mul(dt)).Mul(damp)
		default: // SemiImplicit
			b.Velocities[i] = b.Velocities[i].Add(accel.Mul(dt)).Mul(damp)
			b.Positions[i] = b.Positions[i].Add(b.Velocities[i].Mul(dt))
		}
	}
	return nil
}

// computeElementForces fills the per-element force slots and strain metrics.
// Each element only reads node state, so the pass parallelizes cleanly.
func (b *Body) computeElementForces(workers int) {
	if workers <= 1 || len(b.Elements) < 64 {
		for ei := range b.Elements {
			b.elementForce(ei)
		}
		return
	}

	var wg sync.WaitGroup
	chunk := (len(b.Elements) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(b.Elements))
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for ei := lo; ei < hi; ei++ {
				b.elementForce(ei)
			}
		}(lo, hi)
	}
	wg.Wait()
}

// elementForce computes the nodal forces of one element from the deformation
// gradient F = Dm · Dm0⁻¹, Green strain E = ½(FᵀF − I) and the
// linear-elastic stress σ = λ·tr(E)·I + 2μ·E.
func (b *Body) elementForce(ei int) {
	el := b.Elements[ei]
	m := b.Material

	dm := shapeMatrix(b.Positions, el)
	f := dm.Mul3(b.invRest[ei])

	strain := f.Transpose().Mul3(f).Sub(mgl64.Ident3()).Mul(0.5)
	stress := identityScaled(m.Lambda * strain.Trace()).Add(strain.Mul(2 * m.Mu))

	// H = −V₀ · (F·σ) · Dm0⁻ᵀ; columns are the forces on nodes 1..3,
	// node 0 balances them.
	h := f.Mul3(stress).Mul3(b.invRest[ei].Transpose()).Mul(-b.restVolume[ei])
	h1, h2, h3 := h.Col(0), h.Col(1), h.Col(2)
	b.elemForces[ei] = [4]mgl64.Vec3{
		h1.Add(h2).Add(h3).Mul(-1),
		h1,
		h2,
		h3,
	}

	dev := deviator(strain)
	b.elemStrain[ei] = math.Sqrt((2.0 / 3.0) * doubleDot(dev, dev))
	devS := deviator(stress)
	b.elemStress[ei] = math.Sqrt(1.5 * doubleDot(devS, devS))
	b.elemEnergy[ei] = 0.5 * b.restVolume[ei] * doubleDot(stress, strain)
}

// applyPlasticity permanently shifts rest nodes toward the current
// configuration wherever the von Mises equivalent strain exceeds the yield
// limit, and records the excess as plastic strain. The shift is irreversible;
// it is the crush record.
func (b *Body) applyPlasticity(p StepParams) error {
	limit := b.Material.YieldStrain * p.YieldThreshold
	dirty := false

	for ei, el := range b.Elements {
		eq := b.elemStrain[ei]
		if eq <= limit {
			continue
		}
		excess := eq - limit
		flow := p.PlasticFlow
		if flow <= 0 {
			continue
		}

		for _, ni := range el {
			shift := b.Positions[ni].Sub(b.RestPositions[ni]).Mul(flow)
			b.RestPositions[ni] = b.RestPositions[ni].Add(shift)
			b.PlasticStrain[ni] += excess * flow
		}

		// Plastic work estimate: equivalent stress times the permanent strain
		// increment over the element volume.
		b.crushEnergy += b.elemStress[ei] * excess * flow * b.restVolume[ei]
		dirty = true
	}

	if !dirty {
		return nil
	}

	// The rest configuration changed; rebuild the affected element matrices.
	// A rest shape collapsed by plastic flow is surfaced, not papered over.
	for ei, el := range b.Elements {
		inv, vol, err := restShape(b.RestPositions, el, "plastic rest update")
		if err != nil {
			return err
		}
		b.invRest[ei] = inv
		b.restVolume[ei] = vol
	}
	return nil
}
