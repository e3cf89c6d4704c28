package core

import (
	"math"

	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

// CalculateMoments integrates density, bulk velocity and diagonal pressure
// over every resident block. mass is the particle mass of the species.
func CalculateMoments(pop *Population, mass float64) Moments {
	var m Moments
	var flux [3]float64
	for lid := 0; lid < pop.NumBlocks(); lid++ {
		data := pop.Data(vmesh.LocalID(lid))
		bp := pop.BlockParameters(vmesh.LocalID(lid))
		dv3 := bp.DV[0] * bp.DV[1] * bp.DV[2]
		for c, f := range data {
			if f == 0 {
				continue
			}
			v := cellCenter(bp, c)
			m.Rho += f * dv3
			for a := 0; a < 3; a++ {
				flux[a] += f * v[a] * dv3
			}
		}
	}
	if m.Rho <= 0 {
		return Moments{}
	}
	for a := 0; a < 3; a++ {
		m.V[a] = flux[a] / m.Rho
	}

	for lid := 0; lid < pop.NumBlocks(); lid++ {
		data := pop.Data(vmesh.LocalID(lid))
		bp := pop.BlockParameters(vmesh.LocalID(lid))
		dv3 := bp.DV[0] * bp.DV[1] * bp.DV[2]
		for c, f := range data {
			if f == 0 {
				continue
			}
			v := cellCenter(bp, c)
			for a := 0; a < 3; a++ {
				d := v[a] - m.V[a]
				m.P[a] += mass * f * d * d * dv3
			}
		}
	}
	return m
}

// InterpolateMoments returns (1-w)*a + w*b.
func InterpolateMoments(a, b Moments, w float64) Moments {
	out := Moments{Rho: (1-w)*a.Rho + w*b.Rho}
	for i := 0; i < 3; i++ {
		out.V[i] = (1-w)*a.V[i] + w*b.V[i]
		out.P[i] = (1-w)*a.P[i] + w*b.P[i]
	}
	return out
}

// MaxSpatialDt is the largest step for which no resident velocity cell moves
// more than one spatial cell along any axis. Axes with a single cell
// (cellSize <= 0) are ignored.
func MaxSpatialDt(pop *Population, cellSize Vec3) float64 {
	dt := math.Inf(1)
	size := cellSize.Array()
	for lid := 0; lid < pop.NumBlocks(); lid++ {
		bp := pop.BlockParameters(vmesh.LocalID(lid))
		for a := 0; a < 3; a++ {
			if size[a] <= 0 {
				continue
			}
			lo := math.Abs(bp.VCoord[a] + 0.5*bp.DV[a])
			hi := math.Abs(bp.VCoord[a] + (vmesh.WID-0.5)*bp.DV[a])
			v := math.Max(lo, hi)
			if v > 0 {
				dt = math.Min(dt, size[a]/v)
			}
		}
	}
	return dt
}

// CellCenter returns the velocity at the centre of sample c of a block.
func CellCenter(bp *vmesh.BlockParameters, c int) [3]float64 { return cellCenter(bp, c) }

func cellCenter(bp *vmesh.BlockParameters, c int) [3]float64 {
	i, j, k := vmesh.CellIndices(c)
	return [3]float64{
		bp.VCoord[0] + (float64(i)+0.5)*bp.DV[0],
		bp.VCoord[1] + (float64(j)+0.5)*bp.DV[1],
		bp.VCoord[2] + (float64(k)+0.5)*bp.DV[2],
	}
}
