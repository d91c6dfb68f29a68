// Package fem simulates deformable bodies as tetrahedral finite-element
// meshes with a linear-elastic material law and von Mises plasticity.
//
// Plastic deformation permanently rewrites the rest configuration; that rest
// shape is the crush record the reconstruction layers read, and nothing in
// this package ever reverts it.
package fem

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// MaterialModel holds the Lamé parameters and plasticity limits of one body.
// Immutable once the body is created.
type MaterialModel struct {
	Lambda      float64 // first Lamé parameter (Pa)
	Mu          float64 // second Lamé parameter / shear modulus (Pa)
	Density     float64 // kg/m³
	YieldStrain float64 // von Mises equivalent strain where plastic flow starts
}

// NewMaterial derives the Lamé parameters from Young's modulus (Pa) and
// Poisson's ratio.
func NewMaterial(young, poisson, density, yieldStrain float64) (MaterialModel, error) {
	if young <= 0 {
		return MaterialModel{}, fmt.Errorf("fem: Young's modulus must be positive, got %g", young)
	}
	if poisson <= -1 || poisson >= 0.5 {
		return MaterialModel{}, fmt.Errorf("fem: Poisson ratio must be in (-1, 0.5), got %g", poisson)
	}
	if density <= 0 {
		return MaterialModel{}, fmt.Errorf("fem: density must be positive, got %g", density)
	}
	if yieldStrain <= 0 {
		return MaterialModel{}, fmt.Errorf("fem: yield strain must be positive, got %g", yieldStrain)
	}
	return MaterialModel{
		Lambda:      young * poisson / ((1 + poisson) * (1 - 2*poisson)),
		Mu:          young / (2 * (1 + poisson)),
		Density:     density,
		YieldStrain: yieldStrain,
	}, nil
}

// SingularMatrixError reports a degenerate or inverted tetrahedron rest
// shape. The affected computation is aborted; the caller decides how to
// proceed. Substituting a default here would corrupt forensic output.
type SingularMatrixError struct {
	Op          string
	Determinant float64
}

func (e *SingularMatrixError) Error() string {
	return fmt.Sprintf("fem: singular matrix in %s (determinant %g)", e.Op, e.Determinant)
}

// Method selects the time integration scheme for node state.
type Method int

const (
	// SemiImplicit updates velocity first, then position from the new
	// velocity. Stabler for stiff materials; the default.
	SemiImplicit Method = iota
	// ExplicitEuler updates position from the old velocity.
	ExplicitEuler
)

func (m Method) String() string {
	switch m {
	case SemiImplicit:
		return "semi-implicit"
	case ExplicitEuler:
		return "explicit-euler"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

func identityScaled(s float64) mgl64.Mat3 {
	return mgl64.Diag3(mgl64.Vec3{s, s, s})
}

// doubleDot is the tensor contraction a:b = Σ a_ij b_ij.
func doubleDot(a, b mgl64.Mat3) float64 {
	var sum float64
	for i := 0; i < 9; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// deviator removes the volumetric part of a tensor.
func deviator(m mgl64.Mat3) mgl64.Mat3 {
	return m.Sub(identityScaled(m.Trace() / 3.0))
}
