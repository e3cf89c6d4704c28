package vlasov

import (
	"math"
	"testing"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/internal/grid"
	"github.com/signalsfoundry/vlasov-sim/model"
	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

// testSpecies is a unit-charge, unit-mass species over [-extent, extent]^3
// with length blocks per axis.
func testSpecies(t *testing.T, extent float64, length int, threshold float64) model.SpeciesList {
	t.Helper()
	mesh := &vmesh.MeshParameters{
		Name:   "proton",
		Min:    [3]float64{-extent, -extent, -extent},
		Max:    [3]float64{extent, extent, extent},
		Length: [3]int{length, length, length},
	}
	if err := mesh.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return model.SpeciesList{{Name: "proton", Charge: 1, Mass: 1, SparsityThreshold: threshold, Mesh: mesh}}
}

// newLineGrid is an n-cell line along x with unit cells.
func newLineGrid(t *testing.T, n int, periodic bool, species model.SpeciesList) (*grid.Grid, *grid.LocalExchanger) {
	t.Helper()
	g, err := grid.New(grid.Geometry{
		Dims:     [3]int{n, 1, 1},
		CellSize: core.Vec3{X: 1, Y: 1, Z: 1},
		Periodic: [3]bool{periodic, false, false},
	})
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	g.Populate(species)
	return g, grid.NewLocalExchanger(g)
}

func newBackend(t *testing.T) Backend {
	t.Helper()
	b, err := NewBackend("cpu", core.NewBlockAdjuster(1))
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

// fillGaussian adds a Maxwellian-shaped bump of unit peak around center to
// pop, skipping samples below cut.
func fillGaussian(pop *core.Population, center [3]float64, sigma, cut float64) {
	params := pop.Params()
	length := params.Length
	for k := 0; k < length[2]; k++ {
		for j := 0; j < length[1]; j++ {
			for i := 0; i < length[0]; i++ {
				gid := params.GlobalIDFromIndices([3]int{i, j, k})
				bp := params.BlockParameters(gid)
				for c := 0; c < vmesh.WID3; c++ {
					v := core.CellCenter(&bp, c)
					r2 := 0.0
					for a := 0; a < 3; a++ {
						d := v[a] - center[a]
						r2 += d * d
					}
					if f := math.Exp(-r2 / (2 * sigma * sigma)); f > cut {
						pop.IncrementValue(gid, c, f)
					}
				}
			}
		}
	}
}

// ledger sums mass and the two loss counters of popID over every cell of g.
func ledger(g *grid.Grid, popID int) (mass, outflow, loss float64) {
	for _, c := range g.Cells() {
		pop := c.Population(popID)
		mass += pop.Mass()
		outflow += pop.Outflow
		loss += pop.RhoLossAdjust
	}
	return mass, outflow, loss
}
