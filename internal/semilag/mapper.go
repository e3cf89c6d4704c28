package semilag

import "math"

// Linear1D is the image map y = Scale*x + Shift of a source coordinate.
type Linear1D struct {
	Scale float64
	Shift float64
}

// Apply maps x.
func (l Linear1D) Apply(x float64) float64 { return l.Scale*x + l.Shift }

// Invert maps y back to the source coordinate.
func (l Linear1D) Invert(y float64) float64 { return (y - l.Shift) / l.Scale }

// UniformGrid is a destination column of N cells of equal Width starting at
// Origin.
type UniformGrid struct {
	Origin float64
	Width  float64
	N      int
}

// End is the upper edge of the grid.
func (g UniformGrid) End() float64 { return g.Origin + float64(g.N)*g.Width }

func (g UniformGrid) edge(j int) float64 { return g.Origin + float64(j)*g.Width }

// MapColumn scatters the mass of every source cell onto dst. Source cell i
// spans [edges[i], edges[i+1]] and is described by coeffs[i]; its image under
// image is split at destination cell edges and the exact integral of each
// piece is passed to deposit as a density (mass over dst.Width). Mass whose
// image falls outside dst is returned as outflow. Masses are in units of
// average times source width.
func MapColumn(edges []float64, coeffs []Coeffs, image Linear1D, dst UniformGrid, deposit func(j int, density float64)) (outflow float64) {
	if image.Scale == 0 || dst.N <= 0 || dst.Width <= 0 {
		for i := range coeffs {
			outflow += cumulative(coeffs[i], 1) * (edges[i+1] - edges[i])
		}
		return outflow
	}
	lo, hi := dst.Origin, dst.End()

	for i, a := range coeffs {
		if a == (Coeffs{}) {
			continue
		}
		x0, x1 := edges[i], edges[i+1]
		w := x1 - x0
		if w <= 0 {
			continue
		}
		y0, y1 := image.Apply(x0), image.Apply(x1)
		if y0 > y1 {
			y0, y1 = y1, y0
		}
		if y1 <= y0 {
			continue
		}

		// tOf maps an image coordinate to the normalised source coordinate.
		tOf := func(y float64) float64 {
			t := (image.Invert(y) - x0) / w
			return math.Max(0, math.Min(1, t))
		}
		mass := func(ya, yb float64) float64 {
			ta, tb := tOf(ya), tOf(yb)
			if ta > tb {
				ta, tb = tb, ta
			}
			return Integrate(a, ta, tb) * w
		}

		if y0 < lo {
			outflow += mass(y0, math.Min(y1, lo))
		}
		if y1 > hi {
			outflow += mass(math.Max(y0, hi), y1)
		}

		jFirst := int(math.Floor((y0 - lo) / dst.Width))
		jLast := int(math.Ceil((y1-lo)/dst.Width)) - 1
		if jFirst < 0 {
			jFirst = 0
		}
		if jLast > dst.N-1 {
			jLast = dst.N - 1
		}
		for j := jFirst; j <= jLast; j++ {
			ya := math.Max(y0, dst.edge(j))
			yb := math.Min(y1, dst.edge(j+1))
			if yb <= ya {
				continue
			}
			if m := mass(ya, yb); m != 0 {
				deposit(j, m/dst.Width)
			}
		}
	}
	return outflow
}

// Kernel is the arithmetic of one remap pass. Implementations may run on
// different execution targets but must produce the same integrals.
type Kernel interface {
	Reconstruct(values, widths []float64, order FaceOrder, threshold float64, out []Coeffs) []Coeffs
	Map(edges []float64, coeffs []Coeffs, image Linear1D, dst UniformGrid, deposit func(j int, density float64)) float64
}

// Scalar is the host implementation of Kernel.
type Scalar struct{}

func (Scalar) Reconstruct(values, widths []float64, order FaceOrder, threshold float64, out []Coeffs) []Coeffs {
	return Reconstruct(values, widths, order, threshold, out)
}

func (Scalar) Map(edges []float64, coeffs []Coeffs, image Linear1D, dst UniformGrid, deposit func(j int, density float64)) float64 {
	return MapColumn(edges, coeffs, image, dst, deposit)
}
