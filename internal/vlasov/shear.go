package vlasov

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/internal/semilag"
)

// ErrDegenerateTransform is returned when an affine step cannot be split
// into three one-dimensional maps.
var ErrDegenerateTransform = errors.New("velocity transform cannot be split into axis passes")

// minStretch is the smallest |Coef[Axis]| a pass may have.
const minStretch = 1e-12

// Pass is one one-dimensional remap: coordinate Axis becomes
// sum_k Coef[k]*x[k] + Offset of the current coordinates, the other two are
// left alone.
type Pass struct {
	Axis   int
	Coef   [3]float64
	Offset float64
}

// Apply runs the pass on a point.
func (p Pass) Apply(x [3]float64) [3]float64 {
	x[p.Axis] = p.Coef[0]*x[0] + p.Coef[1]*x[1] + p.Coef[2]*x[2] + p.Offset
	return x
}

// Column returns the map along Axis of the column through x.
func (p Pass) Column(x [3]float64) semilag.Linear1D {
	shift := p.Offset
	for k := 0; k < 3; k++ {
		if k != p.Axis {
			shift += p.Coef[k] * x[k]
		}
	}
	return semilag.Linear1D{Scale: p.Coef[p.Axis], Shift: shift}
}

// MapOrder returns the axis order of one acceleration subcycle. It depends
// only on step and subcycle.
func MapOrder(step uint64, subcycle int) [3]int {
	r := rand.New(rand.NewPCG(step, uint64(subcycle)))
	perm := r.Perm(3)
	return [3]int{perm[0], perm[1], perm[2]}
}

// ShearPasses splits t into three passes applied in order. After pass p the
// axes order[0..p] hold their final value and the rest still hold the
// initial velocity; running all three reproduces t.
func ShearPasses(t core.Affine, order [3]int) ([3]Pass, error) {
	var passes [3]Pass
	for p := 0; p < 3; p++ {
		axis := order[p]
		mapped := order[:p]

		// final evaluates t's row for axis at the initial velocity that the
		// current coordinates x correspond to.
		final := func(x [3]float64) (float64, error) {
			v, err := initialVelocity(t, mapped, x)
			if err != nil {
				return 0, err
			}
			return t.M[axis][0]*v[0] + t.M[axis][1]*v[1] + t.M[axis][2]*v[2] + t.B.Component(axis), nil
		}

		base, err := final([3]float64{})
		if err != nil {
			return passes, err
		}
		pass := Pass{Axis: axis, Offset: base}
		for k := 0; k < 3; k++ {
			var e [3]float64
			e[k] = 1
			y, err := final(e)
			if err != nil {
				return passes, err
			}
			pass.Coef[k] = y - base
		}
		if math.Abs(pass.Coef[axis]) < minStretch {
			return passes, fmt.Errorf("%w: pass %d along axis %d has stretch %g",
				ErrDegenerateTransform, p, axis, pass.Coef[axis])
		}
		passes[p] = pass
	}
	return passes, nil
}

// initialVelocity recovers v from coordinates x in which the axes in mapped
// already hold (t v)_a and the others hold v_a.
func initialVelocity(t core.Affine, mapped []int, x [3]float64) ([3]float64, error) {
	v := x
	if len(mapped) == 0 {
		return v, nil
	}
	isMapped := [3]bool{}
	for _, a := range mapped {
		isMapped[a] = true
	}

	n := len(mapped)
	a := mat.NewDense(n, n, nil)
	rhs := mat.NewVecDense(n, nil)
	for r, row := range mapped {
		val := x[row] - t.B.Component(row)
		for k := 0; k < 3; k++ {
			if !isMapped[k] {
				val -= t.M[row][k] * x[k]
			}
		}
		rhs.SetVec(r, val)
		for c, col := range mapped {
			a.Set(r, c, t.M[row][col])
		}
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, rhs); err != nil {
		return v, fmt.Errorf("%w: %v", ErrDegenerateTransform, err)
	}
	for c, col := range mapped {
		v[col] = sol.AtVec(c)
	}
	return v, nil
}
