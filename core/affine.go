package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Affine is the velocity-space map v' = M v + B.
type Affine struct {
	M [3][3]float64
	B Vec3
}

// IdentityAffine leaves every velocity unchanged.
func IdentityAffine() Affine {
	return Affine{M: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// TranslationAffine shifts every velocity by b.
func TranslationAffine(b Vec3) Affine {
	a := IdentityAffine()
	a.B = b
	return a
}

// RotationAffine rotates by angle (radians, right-handed) about axis through
// the origin. A zero axis gives the identity.
func RotationAffine(axis Vec3, angle float64) Affine {
	n := axis.Norm()
	if n == 0 {
		return IdentityAffine()
	}
	u := axis.Scale(1 / n)
	c, s := math.Cos(angle), math.Sin(angle)
	t := 1 - c
	return Affine{M: [3][3]float64{
		{c + u.X*u.X*t, u.X*u.Y*t - u.Z*s, u.X*u.Z*t + u.Y*s},
		{u.Y*u.X*t + u.Z*s, c + u.Y*u.Y*t, u.Y*u.Z*t - u.X*s},
		{u.Z*u.X*t - u.Y*s, u.Z*u.Y*t + u.X*s, c + u.Z*u.Z*t},
	}}
}

// Apply maps v.
func (a Affine) Apply(v Vec3) Vec3 {
	x := v.Array()
	var out [3]float64
	for r := 0; r < 3; r++ {
		out[r] = a.M[r][0]*x[0] + a.M[r][1]*x[1] + a.M[r][2]*x[2]
	}
	return Vec3FromArray(out).Add(a.B)
}

// Compose returns the map v -> a(b(v)).
func (a Affine) Compose(b Affine) Affine {
	var out Affine
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.M[r][c] = a.M[r][0]*b.M[0][c] + a.M[r][1]*b.M[1][c] + a.M[r][2]*b.M[2][c]
		}
	}
	out.B = a.Apply(b.B)
	return out
}

// Dense returns M as a gonum matrix.
func (a Affine) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		a.M[0][0], a.M[0][1], a.M[0][2],
		a.M[1][0], a.M[1][1], a.M[1][2],
		a.M[2][0], a.M[2][1], a.M[2][2],
	})
}

// Inverse returns the inverse map.
func (a Affine) Inverse() (Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.Dense()); err != nil {
		return Affine{}, fmt.Errorf("invert velocity transform: %w", err)
	}
	var out Affine
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.M[r][c] = inv.At(r, c)
		}
	}
	out.B = Affine{M: out.M}.Apply(a.B).Scale(-1)
	return out, nil
}
