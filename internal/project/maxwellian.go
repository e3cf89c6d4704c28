// Package project sets up the initial velocity distributions of a run.
package project

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/internal/grid"
	"github.com/signalsfoundry/vlasov-sim/model"
	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

// ErrInvalidDistribution is returned for unusable Maxwellian parameters.
var ErrInvalidDistribution = errors.New("invalid initial distribution")

// Maxwellian is a drifting isotropic Maxwellian.
type Maxwellian struct {
	Density     float64 // m^-3
	Temperature float64 // K
	Bulk        core.Vec3
	// Samples per axis averaged in every velocity cell; 0 or 1 samples the
	// cell centre only.
	Samples int
	// Rescale corrects the pruned distribution back to Density.
	Rescale bool
}

// Validate checks the parameters.
func (m Maxwellian) Validate() error {
	if m.Density < 0 {
		return fmt.Errorf("%w: negative density %g", ErrInvalidDistribution, m.Density)
	}
	if m.Density > 0 && !(m.Temperature > 0) {
		return fmt.Errorf("%w: temperature must be positive, got %g", ErrInvalidDistribution, m.Temperature)
	}
	if m.Samples < 0 {
		return fmt.Errorf("%w: negative sample count %d", ErrInvalidDistribution, m.Samples)
	}
	return nil
}

// Value is the phase-space density at velocity v for particles of mass.
func (m Maxwellian) Value(mass float64, v [3]float64) float64 {
	kT := model.Boltzmann * m.Temperature
	norm := m.Density * math.Pow(mass/(2*math.Pi*kT), 1.5)
	bulk := m.Bulk.Array()
	r2 := 0.0
	for a := 0; a < 3; a++ {
		d := v[a] - bulk[a]
		r2 += d * d
	}
	return norm * math.Exp(-mass*r2/(2*kT))
}

// cellAverage averages Value over a samples^3 lattice inside one velocity
// cell.
func (m Maxwellian) cellAverage(mass float64, bp *vmesh.BlockParameters, cell int) float64 {
	n := max(m.Samples, 1)
	if n == 1 {
		return m.Value(mass, core.CellCenter(bp, cell))
	}
	i, j, k := cell%vmesh.WID, (cell/vmesh.WID)%vmesh.WID, cell/(vmesh.WID*vmesh.WID)
	lo := [3]float64{
		bp.VCoord[0] + float64(i)*bp.DV[0],
		bp.VCoord[1] + float64(j)*bp.DV[1],
		bp.VCoord[2] + float64(k)*bp.DV[2],
	}
	sum := 0.0
	for c := 0; c < n; c++ {
		for b := 0; b < n; b++ {
			for a := 0; a < n; a++ {
				v := [3]float64{
					lo[0] + (float64(a)+0.5)/float64(n)*bp.DV[0],
					lo[1] + (float64(b)+0.5)/float64(n)*bp.DV[1],
					lo[2] + (float64(c)+0.5)/float64(n)*bp.DV[2],
				}
				sum += m.Value(mass, v)
			}
		}
	}
	return sum / float64(n*n*n)
}

// Stats summarises one initialisation.
type Stats struct {
	Blocks int     // resident blocks afterwards
	Pruned int     // evaluated blocks dropped below the sparsity threshold
	Scale  float64 // rescale factor applied, 1 if none
}

// Initialize replaces the content of pop with m for a species of mass.
// Blocks are discovered by flooding outwards from the block holding the
// bulk velocity; blocks whose largest sample is below pop's sparsity
// threshold are neither kept nor expanded. If the bulk velocity lies outside
// the mesh every level-0 block is evaluated.
func (m Maxwellian) Initialize(pop *core.Population, mass float64) Stats {
	pop.Clear()
	stats := Stats{Scale: 1}
	if m.Density == 0 {
		return stats
	}
	params := pop.Params()

	var queue []vmesh.GlobalID
	seen := make(map[vmesh.GlobalID]bool)
	flood := true
	if seed := params.GlobalIDFromCoords(m.Bulk.Array()); seed != vmesh.InvalidGlobalID {
		queue = append(queue, seed)
		seen[seed] = true
	} else {
		flood = false
		for k := 0; k < params.Length[2]; k++ {
			for j := 0; j < params.Length[1]; j++ {
				for i := 0; i < params.Length[0]; i++ {
					queue = append(queue, params.GlobalIDFromIndices([3]int{i, j, k}))
				}
			}
		}
	}

	var values [vmesh.WID3]float64
	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]

		bp := params.BlockParameters(gid)
		peak := 0.0
		for c := range values {
			values[c] = m.cellAverage(mass, &bp, c)
			peak = max(peak, values[c])
		}
		if peak < pop.SparsityThreshold || peak == 0 {
			stats.Pruned++
			continue
		}
		lid := pop.AddBlock(gid)
		if lid == vmesh.InvalidLocalID {
			// Mesh is full; keep what fits.
			stats.Pruned++
			continue
		}
		copy(pop.Data(lid), values[:])

		if flood {
			params.Neighborhood(gid, 1, func(n vmesh.GlobalID) {
				if !seen[n] {
					seen[n] = true
					queue = append(queue, n)
				}
			})
		}
	}

	if m.Rescale {
		if got := pop.Mass(); got > 0 {
			stats.Scale = m.Density / got
			for lid := 0; lid < pop.NumBlocks(); lid++ {
				data := pop.Data(vmesh.LocalID(lid))
				for c := range data {
					data[c] *= stats.Scale
				}
			}
		}
	}
	stats.Blocks = pop.NumBlocks()
	return stats
}

// Populate initialises every local cell of g with dists, one per species,
// sets the cells' moments to match and returns the number of resident
// blocks created.
func Populate(g *grid.Grid, species model.SpeciesList, dists []Maxwellian) (int, error) {
	if len(dists) != len(species) {
		return 0, fmt.Errorf("%w: %d distributions for %d species", ErrInvalidDistribution, len(dists), len(species))
	}
	for i, d := range dists {
		if err := d.Validate(); err != nil {
			return 0, fmt.Errorf("species %q: %w", species[i].Name, err)
		}
	}

	blocks := 0
	for _, id := range g.LocalCells() {
		c := g.Cell(id)
		if c == nil {
			return blocks, fmt.Errorf("populate: %w: %d", grid.ErrNoSuchCell, id)
		}
		for popID, s := range species {
			pop := c.Population(popID)
			blocks += dists[popID].Initialize(pop, s.Mass).Blocks
			m := core.CalculateMoments(pop, s.Mass)
			pop.MomentsR, pop.MomentsV, pop.Moments = m, m, m
			pop.UpdateContentList()
		}
	}
	return blocks, nil
}
