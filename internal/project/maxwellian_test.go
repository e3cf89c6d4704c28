package project

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/internal/grid"
	"github.com/signalsfoundry/vlasov-sim/model"
	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

// unitSpecies has m = 1 over [-8, 8]^3 with unit velocity cells, so a
// temperature of 1/k gives a unit thermal spread.
func unitSpecies(t *testing.T, threshold float64) model.SpeciesList {
	t.Helper()
	mesh := &vmesh.MeshParameters{
		Name:   "unit",
		Min:    [3]float64{-8, -8, -8},
		Max:    [3]float64{8, 8, 8},
		Length: [3]int{4, 4, 4},
	}
	if err := mesh.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return model.SpeciesList{{Name: "unit", Charge: 1, Mass: 1, SparsityThreshold: threshold, Mesh: mesh}}
}

func unitMaxwellian() Maxwellian {
	return Maxwellian{Density: 2, Temperature: 1 / model.Boltzmann, Bulk: core.Vec3{X: 1}}
}

func TestInitializeRecoversMoments(t *testing.T) {
	species := unitSpecies(t, 1e-12)
	pop := core.NewPopulation(species[0].Mesh, species[0].SparsityThreshold)

	stats := unitMaxwellian().Initialize(pop, 1)

	if stats.Blocks != pop.NumBlocks() || stats.Blocks == 0 {
		t.Fatalf("Stats.Blocks = %d, resident %d", stats.Blocks, pop.NumBlocks())
	}
	m := core.CalculateMoments(pop, 1)
	assert.InEpsilon(t, 2, m.Rho, 1e-4)
	assert.InDelta(t, 1, m.V[0], 1e-4)
	assert.InDelta(t, 0, m.V[1], 1e-9)
	// Diagonal pressure n k T = 2 for unit spread.
	assert.InEpsilon(t, 2, m.P[1], 1e-3)
}

func TestInitializePrunesBelowThreshold(t *testing.T) {
	m := unitMaxwellian()
	peak := m.Value(1, m.Bulk.Array())
	species := unitSpecies(t, 0.01*peak)
	pop := core.NewPopulation(species[0].Mesh, species[0].SparsityThreshold)

	stats := m.Initialize(pop, 1)

	if stats.Pruned == 0 {
		t.Fatalf("nothing was pruned")
	}
	if pop.NumBlocks() >= 64 {
		t.Fatalf("NumBlocks = %d, want fewer than the full mesh", pop.NumBlocks())
	}
	for lid := 0; lid < pop.NumBlocks(); lid++ {
		if pop.MaxValue(vmesh.LocalID(lid)) < pop.SparsityThreshold {
			t.Fatalf("block %d kept below the threshold", pop.Mesh().GlobalID(vmesh.LocalID(lid)))
		}
	}
	if err := pop.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestInitializeRescalesToDensity(t *testing.T) {
	m := unitMaxwellian()
	m.Rescale = true
	species := unitSpecies(t, 0.05*m.Value(1, m.Bulk.Array()))
	pop := core.NewPopulation(species[0].Mesh, species[0].SparsityThreshold)

	stats := m.Initialize(pop, 1)

	if !(stats.Scale > 1) {
		t.Fatalf("Scale = %v, want > 1 after pruning", stats.Scale)
	}
	assert.InEpsilon(t, 2, pop.Mass(), 1e-12)
}

func TestInitializeBulkOutsideMeshScansEveryBlock(t *testing.T) {
	m := unitMaxwellian()
	m.Bulk = core.Vec3{X: 9}
	species := unitSpecies(t, 1e-6)
	pop := core.NewPopulation(species[0].Mesh, species[0].SparsityThreshold)

	stats := m.Initialize(pop, 1)

	if stats.Blocks+stats.Pruned != 64 {
		t.Fatalf("evaluated %d blocks, want 64", stats.Blocks+stats.Pruned)
	}
	if stats.Blocks == 0 {
		t.Fatalf("tail of the distribution inside the mesh was dropped")
	}
}

func TestInitializeZeroDensityClears(t *testing.T) {
	species := unitSpecies(t, 1e-6)
	pop := core.NewPopulation(species[0].Mesh, species[0].SparsityThreshold)
	pop.IncrementValue(0, 0, 1)

	stats := Maxwellian{}.Initialize(pop, 1)

	if stats.Blocks != 0 || pop.NumBlocks() != 0 {
		t.Fatalf("blocks after zero density = %d", pop.NumBlocks())
	}
}

func TestMaxwellianValidate(t *testing.T) {
	tests := []Maxwellian{
		{Density: -1, Temperature: 1},
		{Density: 1},
		{Density: 1, Temperature: 1, Samples: -2},
	}
	for _, m := range tests {
		if err := m.Validate(); !errors.Is(err, ErrInvalidDistribution) {
			t.Fatalf("Validate(%+v) = %v, want ErrInvalidDistribution", m, err)
		}
	}
	if err := (Maxwellian{}).Validate(); err != nil {
		t.Fatalf("Validate(empty) = %v, want nil", err)
	}
}

func TestSubsamplingMatchesCentreForLinearProfile(t *testing.T) {
	// For a very hot distribution the profile across a cell is nearly flat,
	// so the sub-sampled average must agree with the centre value.
	m := Maxwellian{Density: 1, Temperature: 1e6 / model.Boltzmann, Samples: 3}
	species := unitSpecies(t, 0)
	bp := species[0].Mesh.BlockParameters(0)
	centre := m.Value(1, core.CellCenter(&bp, 5))
	assert.InEpsilon(t, centre, m.cellAverage(1, &bp, 5), 1e-6)
}

func TestPopulateSetsMoments(t *testing.T) {
	species := unitSpecies(t, 1e-8)
	g, err := grid.New(grid.Geometry{Dims: [3]int{2, 1, 1}, CellSize: core.Vec3{X: 1, Y: 1, Z: 1}})
	require.NoError(t, err)
	g.Populate(species)

	blocks, err := Populate(g, species, []Maxwellian{unitMaxwellian()})
	require.NoError(t, err)

	if blocks == 0 {
		t.Fatalf("Populate created no blocks")
	}
	for _, c := range g.Cells() {
		pop := c.Population(0)
		assert.InEpsilon(t, 2, pop.MomentsR.Rho, 1e-4)
		if pop.MomentsV != pop.MomentsR || pop.Moments != pop.MomentsR {
			t.Fatalf("cell %d moments differ: %+v %+v %+v", c.ID, pop.MomentsR, pop.MomentsV, pop.Moments)
		}
		if len(pop.ContentList()) == 0 {
			t.Fatalf("cell %d has no content list", c.ID)
		}
	}

	if _, err := Populate(g, species, nil); !errors.Is(err, ErrInvalidDistribution) {
		t.Fatalf("Populate with missing distributions = %v, want ErrInvalidDistribution", err)
	}
}
