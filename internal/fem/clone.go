package fem

import "github.com/go-gl/mathgl/mgl64"

// Clone returns an independent deep copy of the body, including the element
// rest matrices and accumulated plastic state. Stepping the copy never
// touches the original.
func (b *Body) Clone() *Body {
	c := &Body{
		Positions:     append([]mgl64.Vec3(nil), b.Positions...),
		RestPositions: append([]mgl64.Vec3(nil), b.RestPositions...),
		Velocities:    append([]mgl64.Vec3(nil), b.Velocities...),
		InvMass:       append([]float64(nil), b.InvMass...),
		PlasticStrain: append([]float64(nil), b.PlasticStrain...),
		Elements:      append([][4]int(nil), b.Elements...),
		Material:      b.Material,
		invRest:       append([]mgl64.Mat3(nil), b.invRest...),
		restVolume:    append([]float64(nil), b.restVolume...),
		crushEnergy:   b.crushEnergy,
	}
	c.forces = make([]mgl64.Vec3, len(b.Positions))
	c.elemForces = make([][4]mgl64.Vec3, len(b.Elements))
	c.elemStrain = append([]float64(nil), b.elemStrain...)
	c.elemStress = append([]float64(nil), b.elemStress...)
	c.elemEnergy = append([]float64(nil), b.elemEnergy...)
	return c
}
