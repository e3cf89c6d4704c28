// Package semilag implements the one-dimensional conservative
// semi-Lagrangian remap: limited piecewise-parabolic reconstruction of a
// column of cell averages and the exact-integral scatter of that profile onto
// a destination grid.
package semilag

import (
	"fmt"
	"math"
	"strings"
)

// FaceOrder selects the face-value estimate used by the reconstruction.
type FaceOrder int

const (
	// FaceH2 interpolates linearly between the two adjacent averages.
	FaceH2 FaceOrder = iota
	// FaceH4 uses the fourth-order non-uniform Colella–Woodward estimate.
	FaceH4
)

func (o FaceOrder) String() string {
	switch o {
	case FaceH2:
		return "h2"
	case FaceH4:
		return "h4"
	default:
		return fmt.Sprintf("FaceOrder(%d)", int(o))
	}
}

// ParseFaceOrder accepts "h2" or "h4".
func ParseFaceOrder(s string) (FaceOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h2":
		return FaceH2, nil
	case "h4", "":
		return FaceH4, nil
	default:
		return 0, fmt.Errorf("unknown face order %q (want h2 or h4)", s)
	}
}

// Coeffs describe the cumulative integral of a cell's parabola over the
// normalised cell coordinate t in [0, 1]:
//
//	F(t) = a0*t + a1*t^2 + a2*t^3,  F(1) = cell average.
type Coeffs [3]float64

// Integrate returns F(t2) - F(t1).
func Integrate(a Coeffs, t1, t2 float64) float64 {
	return cumulative(a, t2) - cumulative(a, t1)
}

func cumulative(a Coeffs, t float64) float64 {
	return t * (a[0] + t*(a[1]+t*a[2]))
}

// Density evaluates the reconstructed profile at t.
func Density(a Coeffs, t float64) float64 {
	return a[0] + t*(2*a[1]+3*a[2]*t)
}

// column reads averages and widths with the sparse edge policy: cells past
// either end hold zero and repeat the edge width.
type column struct {
	values, widths []float64
}

func (c column) a(i int) float64 {
	if i < 0 || i >= len(c.values) {
		return 0
	}
	return c.values[i]
}

func (c column) h(i int) float64 {
	if i < 0 {
		i = 0
	}
	if i >= len(c.widths) {
		i = len(c.widths) - 1
	}
	return c.widths[i]
}

// slope is the monotonised non-uniform slope of cell j.
func (c column) slope(j int) float64 {
	dl := c.a(j) - c.a(j-1)
	dr := c.a(j+1) - c.a(j)
	if dl*dr <= 0 {
		return 0
	}
	hm, h0, hp := c.h(j-1), c.h(j), c.h(j+1)
	da := h0 / (hm + h0 + hp) * ((2*hm+h0)/(hp+h0)*dr + (h0+2*hp)/(hm+h0)*dl)
	lim := math.Min(math.Abs(da), 2*math.Min(math.Abs(dl), math.Abs(dr)))
	return math.Copysign(lim, da)
}

// face estimates the value at the face between cells f-1 and f.
func (c column) face(f int, order FaceOrder) float64 {
	j := f - 1
	aj, ajp := c.a(j), c.a(j+1)
	hj, hjp := c.h(j), c.h(j+1)

	var v float64
	switch order {
	case FaceH2:
		v = (hjp*aj + hj*ajp) / (hj + hjp)
	default:
		hjm, hjpp := c.h(j-1), c.h(j+2)
		sum := hjm + hj + hjp + hjpp
		t1 := 2 * hjp * hj / (hj + hjp) * ((hjm+hj)/(2*hj+hjp) - (hjpp+hjp)/(2*hjp+hj)) * (ajp - aj)
		t2 := hj * (hjm + hj) / (2*hj + hjp) * c.slope(j+1)
		t3 := hjp * (hjp + hjpp) / (hj + 2*hjp) * c.slope(j)
		v = aj + hj/(hj+hjp)*(ajp-aj) + (t1-t2+t3)/sum
	}

	lo, hi := math.Min(aj, ajp), math.Max(aj, ajp)
	return math.Max(lo, math.Min(hi, v))
}

// FaceValues fills left[i] and right[i] with the face estimates of cell i.
// Every estimate lies between the averages of the two cells sharing the face.
func FaceValues(values, widths []float64, order FaceOrder, left, right []float64) {
	c := column{values: values, widths: widths}
	n := len(values)
	if n == 0 {
		return
	}
	prev := c.face(0, order)
	for i := 0; i < n; i++ {
		next := c.face(i+1, order)
		left[i], right[i] = prev, next
		prev = next
	}
}

// limit applies the cell-wise monotonicity constraints to face values m, p of
// a cell with average v.
func limit(m, v, p, threshold float64) (float64, float64) {
	if v < threshold {
		return v, v
	}
	if (p-v)*(v-m) <= 0 {
		return v, v
	}
	d := p - m
	mid := v - 0.5*(m+p)
	switch {
	case d*mid > d*d/6:
		m = 3*v - 2*p
	case -d*d/6 > d*mid:
		p = 3*v - 2*m
	}
	return m, p
}

// Reconstruct returns one set of Coeffs per cell of the column, reusing out
// when it has room. Cells averaging below threshold are reconstructed flat.
func Reconstruct(values, widths []float64, order FaceOrder, threshold float64, out []Coeffs) []Coeffs {
	n := len(values)
	if cap(out) < n {
		out = make([]Coeffs, n)
	}
	out = out[:n]
	if n == 0 {
		return out
	}
	left := make([]float64, n)
	right := make([]float64, n)
	FaceValues(values, widths, order, left, right)
	for i, v := range values {
		m, p := limit(left[i], v, right[i], threshold)
		out[i] = Coeffs{m, 3*v - 2*m - p, m + p - 2*v}
	}
	return out
}
