package fem

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// Body is a deformable tetrahedral mesh. Positions are world space; the rest
// positions define the undeformed (or permanently crushed) reference shape.
type Body struct {
	Positions     []mgl64.Vec3
	RestPositions []mgl64.Vec3
	Velocities    []mgl64.Vec3
	InvMass       []float64 // 0 pins the node
	PlasticStrain []float64 // accumulated von Mises equivalent strain past yield
	Elements      [][4]int
	Material      MaterialModel

	invRest    []mgl64.Mat3 // per-element inverse rest shape matrix
	restVolume []float64

	crushEnergy float64 // plastic work, monotonically increasing

	// Scratch buffers reused across steps.
	forces     []mgl64.Vec3
	elemForces [][4]mgl64.Vec3
	elemStrain []float64 // von Mises equivalent strain, written per element
	elemStress []float64 // von Mises equivalent stress
	elemEnergy []float64 // elastic strain energy
}

// NewBody builds a deformable body from node positions and tetrahedral
// elements. Node masses are lumped from element volumes and the material
// density. A degenerate or inverted element fails construction with a
// *SingularMatrixError.
func NewBody(positions []mgl64.Vec3, elements [][4]int, m MaterialModel) (*Body, error) {
	n := len(positions)
	b := &Body{
		Positions:     append([]mgl64.Vec3(nil), positions...),
		RestPositions: append([]mgl64.Vec3(nil), positions...),
		Velocities:    make([]mgl64.Vec3, n),
		InvMass:       make([]float64, n),
		PlasticStrain: make([]float64, n),
		Elements:      make([][4]int, 0, len(elements)),
		Material:      m,
		invRest:       make([]mgl64.Mat3, len(elements)),
		restVolume:    make([]float64, len(elements)),
	}

	mass := make([]float64, n)
	for ei, el := range elements {
		for _, ni := range el {
			if ni < 0 || ni >= n {
				return nil, fmt.Errorf("fem: element %d references node %d of %d", ei, ni, n)
			}
		}
		b.Elements = append(b.Elements, el)

		inv, vol, err := restShape(b.RestPositions, el, "rest shape matrix")
		if err != nil {
			return nil, err
		}
		b.invRest[ei] = inv
		b.restVolume[ei] = vol

		// Lumped mass: a quarter of the element mass to each node.
		share := vol * m.Density / 4.0
		for _, ni := range el {
			mass[ni] += share
		}
	}

	for i, mi := range mass {
		if mi > 0 {
			b.InvMass[i] = 1.0 / mi
		}
	}

	b.forces = make([]mgl64.Vec3, n)
	b.elemForces = make([][4]mgl64.Vec3, len(b.Elements))
	b.elemStrain = make([]float64, len(b.Elements))
	b.elemStress = make([]float64, len(b.Elements))
	b.elemEnergy = make([]float64, len(b.Elements))
	return b, nil
}

// Pin fixes a node in place by zeroing its inverse mass.
func (b *Body) Pin(node int) {
	b.InvMass[node] = 0
	b.Velocities[node] = mgl64.Vec3{}
}

// CrushEnergy returns the total plastic work absorbed so far, in joules.
// It never decreases.
func (b *Body) CrushEnergy() float64 { return b.crushEnergy }

// KineticEnergy sums ½mv² over all nodes.
func (b *Body) KineticEnergy() float64 {
	var e float64
	for i, v := range b.Velocities {
		if b.InvMass[i] > 0 {
			e += 0.5 * v.LenSqr() / b.InvMass[i]
		}
	}
	return e
}

// ElasticEnergy sums the strain energy of the last computed force pass.
func (b *Body) ElasticEnergy() float64 {
	var e float64
	for _, ee := range b.elemEnergy {
		e += ee
	}
	return e
}

// restShape computes the inverse rest shape matrix and volume of one element.
// The matrix columns are the edge vectors from node 0.
func restShape(rest []mgl64.Vec3, el [4]int, op string) (mgl64.Mat3, float64, error) {
	d := shapeMatrix(rest, el)
	det := d.Det()
	vol := det / 6.0
	if vol < 1e-12 {
		return mgl64.Mat3{}, 0, &SingularMatrixError{Op: op, Determinant: det}
	}
	return d.Inv(), vol, nil
}

func shapeMatrix(pos []mgl64.Vec3, el [4]int) mgl64.Mat3 {
	p0 := pos[el[0]]
	return mgl64.Mat3FromCols(
		pos[el[1]].Sub(p0),
		pos[el[2]].Sub(p0),
		pos[el[3]].Sub(p0),
	)
}
