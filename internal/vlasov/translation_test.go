package vlasov

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/internal/grid"
	"github.com/signalsfoundry/vlasov-sim/internal/semilag"
	"github.com/signalsfoundry/vlasov-sim/model"
	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

func newTranslator(t *testing.T, g *grid.Grid, ex grid.Exchanger, species model.SpeciesList) *Translator {
	return &Translator{
		Grid:      g,
		Exchanger: ex,
		Species:   species,
		Backend:   newBackend(t),
		FaceOrder: semilag.FaceH4,
		Workers:   2,
	}
}

func TestTranslateUniformRingIsUnchanged(t *testing.T) {
	species := testSpecies(t, 4, 2, 0.5)
	g, ex := newLineGrid(t, 3, true, species)
	gid := species[0].Mesh.GlobalIDFromIndices([3]int{1, 1, 1})
	for _, c := range g.Cells() {
		for cell := 0; cell < vmesh.WID3; cell++ {
			c.Population(0).IncrementValue(gid, cell, 1)
		}
	}

	err := newTranslator(t, g, ex, species).Translate(context.Background(), g.LocalCells(), 0, 0.25)
	require.NoError(t, err)

	for _, c := range g.Cells() {
		pop := c.Population(0)
		if pop.NumBlocks() != 1 {
			t.Fatalf("cell %d NumBlocks = %d, want 1", c.ID, pop.NumBlocks())
		}
		for cell := 0; cell < vmesh.WID3; cell++ {
			assert.InDelta(t, 1.0, pop.Value(gid, cell), 1e-12, "cell %d sample %d", c.ID, cell)
		}
		assert.InDelta(t, 1.0, pop.MomentsR.Rho/64, 1e-12)
		assert.Zero(t, pop.Outflow)
	}
}

func TestTranslateRestingBlockAtOriginIsUnchanged(t *testing.T) {
	// One block spanning the origin: the distribution has zero bulk velocity.
	species := testSpecies(t, 4, 1, 0.5)
	g, ex := newLineGrid(t, 3, true, species)
	gid := species[0].Mesh.GlobalIDFromCoords([3]float64{0, 0, 0})
	require.NotEqual(t, vmesh.InvalidGlobalID, gid)
	for _, c := range g.Cells() {
		for cell := 0; cell < vmesh.WID3; cell++ {
			c.Population(0).IncrementValue(gid, cell, 1)
		}
	}

	err := newTranslator(t, g, ex, species).Translate(context.Background(), g.LocalCells(), 0, 0.1)
	require.NoError(t, err)

	for _, c := range g.Cells() {
		pop := c.Population(0)
		require.Equal(t, []vmesh.GlobalID{gid}, pop.Mesh().GlobalIDs(), "cell %d resident blocks", c.ID)
		for cell := 0; cell < vmesh.WID3; cell++ {
			assert.InDelta(t, 1.0, pop.Value(gid, cell), 1e-12, "cell %d sample %d", c.ID, cell)
		}
		for axis := 0; axis < 3; axis++ {
			assert.InDelta(t, 0.0, pop.MomentsR.V[axis], 1e-12)
		}
		assert.Zero(t, pop.Outflow)
	}
}

func TestTranslateSingleCellDomainOnlyRefreshesMoments(t *testing.T) {
	species := testSpecies(t, 4, 2, 0.1)
	g, ex := newLineGrid(t, 1, false, species)
	pop := g.Cell(1).Population(0)
	fillGaussian(pop, [3]float64{1, 0, 0}, 1, 1e-3)
	before := pop.Clone()

	err := newTranslator(t, g, ex, species).Translate(context.Background(), g.LocalCells(), 0, 0.5)
	require.NoError(t, err)

	for lid, gid := range before.Mesh().GlobalIDs() {
		for cell, want := range before.Data(vmesh.LocalID(lid)) {
			if got := pop.Value(gid, cell); got != want {
				t.Fatalf("Value(%d, %d) = %v, want %v", gid, cell, got, want)
			}
		}
	}
	assert.InDelta(t, 1.0, pop.MomentsR.V[0], 1e-2)
	if !(pop.MaxRDt > 0) {
		t.Fatalf("MaxRDt = %v, want positive", pop.MaxRDt)
	}
}

func TestTranslateShiftsOneCellIntoAbsentBlock(t *testing.T) {
	species := testSpecies(t, 4, 2, 0.1)
	g, ex := newLineGrid(t, 4, true, species)
	// Sample 0 of block (1,0,0) sits at vx = 0.5, so dt = 2 moves it one cell.
	gid := species[0].Mesh.GlobalIDFromIndices([3]int{1, 0, 0})
	g.Cell(1).Population(0).IncrementValue(gid, 0, 1)

	err := newTranslator(t, g, ex, species).Translate(context.Background(), g.LocalCells(), 0, 2)
	require.NoError(t, err)

	src, dst := g.Cell(1).Population(0), g.Cell(2).Population(0)
	if src.Value(gid, 0) != 0 {
		t.Fatalf("source sample = %v, want 0", src.Value(gid, 0))
	}
	if !dst.Mesh().Has(gid) {
		t.Fatalf("destination block %d was not created", gid)
	}
	assert.InDelta(t, 1.0, dst.Value(gid, 0), 1e-12)
	for _, id := range []core.CellID{3, 4} {
		assert.Zero(t, g.Cell(id).Population(0).Mass(), "cell %d", id)
	}
}

func TestTranslatePeriodicConservesMass(t *testing.T) {
	for _, order := range []semilag.FaceOrder{semilag.FaceH2, semilag.FaceH4} {
		t.Run(order.String(), func(t *testing.T) {
			species := testSpecies(t, 4, 2, 0.01)
			g, ex := newLineGrid(t, 5, true, species)
			rng := rand.New(rand.NewPCG(3, 5))
			params := species[0].Mesh
			for _, c := range g.Cells() {
				for n := 0; n < 40; n++ {
					gid := params.GlobalIDFromIndices([3]int{rng.IntN(2), rng.IntN(2), rng.IntN(2)})
					c.Population(0).IncrementValue(gid, rng.IntN(vmesh.WID3), 0.2+rng.Float64())
				}
			}
			before, _, _ := ledger(g, 0)

			tr := newTranslator(t, g, ex, species)
			tr.FaceOrder = order
			require.NoError(t, tr.Translate(context.Background(), g.LocalCells(), 0, 0.2))

			after, outflow, _ := ledger(g, 0)
			assert.Zero(t, outflow)
			assert.InEpsilon(t, before, after, 1e-12)
		})
	}
}

func TestTranslateOpenBoundaryCountsOutflow(t *testing.T) {
	species := testSpecies(t, 4, 2, 0.01)
	g, ex := newLineGrid(t, 4, false, species)
	fillGaussian(g.Cell(4).Population(0), [3]float64{2, 0, 0}, 1, 1e-3)
	fillGaussian(g.Cell(1).Population(0), [3]float64{-2, 0, 0}, 1, 1e-3)
	before, _, _ := ledger(g, 0)

	require.NoError(t, newTranslator(t, g, ex, species).Translate(context.Background(), g.LocalCells(), 0, 0.25))

	after, outflow, _ := ledger(g, 0)
	if !(outflow > 0) {
		t.Fatalf("outflow = %v, want positive", outflow)
	}
	assert.InEpsilon(t, before, after+outflow, 1e-12)
	assert.Greater(t, g.Cell(4).Population(0).Outflow, 0.0)
	assert.Greater(t, g.Cell(1).Population(0).Outflow, 0.0)
}

func TestTranslateFoldsContributionsIntoGhost(t *testing.T) {
	species := testSpecies(t, 4, 2, 0.01)
	g, ex := newLineGrid(t, 4, false, species)
	require.NoError(t, g.SetLocal(4, false))
	fillGaussian(g.Cell(3).Population(0), [3]float64{2, 0, 0}, 1, 1e-3)
	before, _, _ := ledger(g, 0)

	require.NoError(t, newTranslator(t, g, ex, species).Translate(context.Background(), g.LocalCells(), 0, 0.25))

	ghost := g.Cell(4).Population(0)
	if !(ghost.Mass() > 0) {
		t.Fatalf("ghost mass = %v, want positive", ghost.Mass())
	}
	after, outflow, _ := ledger(g, 0)
	assert.InEpsilon(t, before, after+outflow, 1e-12)
}

func TestTranslateRejectsUnknownCell(t *testing.T) {
	species := testSpecies(t, 4, 2, 0.01)
	g, ex := newLineGrid(t, 2, false, species)

	err := newTranslator(t, g, ex, species).Translate(context.Background(), []core.CellID{1, 2, 9}, 0, 0.1)
	if err == nil {
		t.Fatalf("Translate with unknown cell succeeded")
	}
}
