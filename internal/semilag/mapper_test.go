package semilag

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
)

func uniformEdges(n int, origin, width float64) []float64 {
	edges := make([]float64, n+1)
	for i := range edges {
		edges[i] = origin + float64(i)*width
	}
	return edges
}

func columnMass(values []float64, edges []float64) float64 {
	total := 0.0
	for i, v := range values {
		total += v * (edges[i+1] - edges[i])
	}
	return total
}

func TestMapColumnConservesMass(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	for trial := 0; trial < 200; trial++ {
		n := 4 + rng.IntN(16)
		values, _ := randomColumn(rng, n, true)
		values[0], values[n-1] = 0, 0
		edges := uniformEdges(n, 0, 1)
		widths := make([]float64, n)
		for i := range widths {
			widths[i] = 1
		}
		coeffs := Reconstruct(values, widths, FaceOrder(trial%2), 0, nil)

		// Sub-cell shift, optionally mirrored or stretched.
		image := Linear1D{Scale: 1, Shift: rng.Float64()*2 - 1}
		switch trial % 3 {
		case 1:
			image = Linear1D{Scale: -1, Shift: float64(n)}
		case 2:
			image.Scale = 0.8 + 0.4*rng.Float64()
		}
		dst := UniformGrid{Origin: -2, Width: 1, N: 2*n + 4}
		out := make([]float64, dst.N)

		outflow := MapColumn(edges, coeffs, image, dst, func(j int, d float64) { out[j] += d })
		assert.Equal(t, 0.0, outflow)
		want := columnMass(values, edges)
		got := floats.Sum(out) * dst.Width
		if math.Abs(got-want) > 1e-12*math.Max(1, want) {
			t.Fatalf("trial %d: mass after map = %v, want %v", trial, got, want)
		}
		for j, v := range out {
			if v < -1e-12 {
				t.Fatalf("trial %d: negative density %v in cell %d", trial, v, j)
			}
		}
	}
}

func TestMapColumnCountsOutflow(t *testing.T) {
	values := []float64{0, 2, 3, 2, 0}
	widths := []float64{1, 1, 1, 1, 1}
	edges := uniformEdges(5, 0, 1)
	coeffs := Reconstruct(values, widths, FaceH4, 0, nil)
	dst := UniformGrid{Origin: 0, Width: 1, N: 5}

	var deposited float64
	outflow := MapColumn(edges, coeffs, Linear1D{Scale: 1, Shift: 2.5}, dst, func(j int, d float64) {
		deposited += d * dst.Width
	})
	assert.Greater(t, outflow, 0.0)
	assert.InDelta(t, 7.0, deposited+outflow, 1e-12)
}

func TestMapColumnZeroDisplacementIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 4))
	values, widths := randomColumn(rng, 12, true)
	edges := uniformEdges(12, 3, 1)
	coeffs := Reconstruct(values, widths, FaceH4, 0, nil)
	dst := UniformGrid{Origin: 3, Width: 1, N: 12}
	out := make([]float64, 12)

	MapColumn(edges, coeffs, Linear1D{Scale: 1}, dst, func(j int, d float64) { out[j] += d })
	for i := range values {
		assert.InDelta(t, values[i], out[i], 1e-12, "cell %d", i)
	}
}

func TestMapColumnShiftByOneCell(t *testing.T) {
	values := []float64{0, 0, 1, 0, 0}
	widths := []float64{1, 1, 1, 1, 1}
	edges := uniformEdges(5, 0, 1)
	coeffs := Reconstruct(values, widths, FaceH4, 0, nil)
	dst := UniformGrid{Origin: 0, Width: 1, N: 5}
	out := make([]float64, 5)

	MapColumn(edges, coeffs, Linear1D{Scale: 1, Shift: 1}, dst, func(j int, d float64) { out[j] += d })
	assert.InDelta(t, 0, out[2], 1e-15)
	assert.InDelta(t, 1, out[3], 1e-15)
	assert.InDelta(t, 1, floats.Sum(out), 1e-15)
}

func TestMapColumnDegenerateImage(t *testing.T) {
	values := []float64{1, 1}
	edges := uniformEdges(2, 0, 0.5)
	coeffs := Reconstruct(values, []float64{0.5, 0.5}, FaceH2, 0, nil)

	called := false
	outflow := MapColumn(edges, coeffs, Linear1D{}, UniformGrid{Width: 1, N: 4}, func(int, float64) { called = true })
	assert.False(t, called)
	assert.InDelta(t, 1.0, outflow, 1e-15)
}

func TestIntegrateSplitsAdditively(t *testing.T) {
	a := Coeffs{0.5, 1.25, -0.75}
	whole := Integrate(a, 0, 1)
	parts := Integrate(a, 0, 0.3) + Integrate(a, 0.3, 0.71) + Integrate(a, 0.71, 1)
	assert.InDelta(t, whole, parts, 1e-15)
	assert.InDelta(t, 1.0, whole, 1e-15)
}

func TestScalarKernelMatchesFunctions(t *testing.T) {
	var k Kernel = Scalar{}
	values := []float64{0, 1, 4, 1, 0}
	widths := []float64{1, 1, 1, 1, 1}
	assert.Equal(t, Reconstruct(values, widths, FaceH4, 0, nil), k.Reconstruct(values, widths, FaceH4, 0, nil))
}
