package grid

import (
	"context"
	"errors"
	"testing"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/model"
	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

func testSpecies(t *testing.T) model.SpeciesList {
	t.Helper()
	mesh := &vmesh.MeshParameters{
		Name:   "proton",
		Min:    [3]float64{-4, -4, -4},
		Max:    [3]float64{4, 4, 4},
		Length: [3]int{2, 2, 2},
	}
	if err := mesh.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return model.SpeciesList{{Name: "proton", Charge: 1, Mass: 1, SparsityThreshold: 0.1, Mesh: mesh}}
}

func newTestGrid(t *testing.T, dims [3]int, periodic [3]bool) *Grid {
	t.Helper()
	g, err := New(Geometry{
		Dims:     dims,
		CellSize: core.Vec3{X: 1, Y: 1, Z: 1},
		Periodic: periodic,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g.Populate(testSpecies(t))
	return g
}

func TestCellIDRoundTrip(t *testing.T) {
	geom := Geometry{Dims: [3]int{3, 4, 5}, CellSize: core.Vec3{X: 1, Y: 1, Z: 1}}
	seen := make(map[core.CellID]bool)
	for k := 0; k < 5; k++ {
		for j := 0; j < 4; j++ {
			for i := 0; i < 3; i++ {
				id := geom.CellID([3]int{i, j, k})
				if id == 0 || seen[id] {
					t.Fatalf("CellID(%d,%d,%d) = %d", i, j, k, id)
				}
				seen[id] = true
				if idx, ok := geom.Indices(id); !ok || idx != [3]int{i, j, k} {
					t.Fatalf("Indices(%d) = %v, %v", id, idx, ok)
				}
			}
		}
	}
	if id := geom.CellID([3]int{3, 0, 0}); id != 0 {
		t.Fatalf("CellID outside = %d, want 0", id)
	}
}

func TestNeighborBoundaries(t *testing.T) {
	g := newTestGrid(t, [3]int{4, 1, 1}, [3]bool{false, false, false})
	first := g.Geometry().CellID([3]int{0, 0, 0})
	if n := g.Neighbor(first, 0, -1); n != 0 {
		t.Fatalf("neighbour past boundary = %d, want 0", n)
	}
	if n := g.Neighbor(first, 1, 1); n != 0 {
		t.Fatalf("neighbour along single-cell axis = %d, want 0", n)
	}
	if got := len(g.FaceNeighbors(first)); got != 1 {
		t.Fatalf("FaceNeighbors = %d, want 1", got)
	}

	p := newTestGrid(t, [3]int{4, 1, 1}, [3]bool{true, false, false})
	last := p.Geometry().CellID([3]int{3, 0, 0})
	if n := p.Neighbor(first, 0, -1); n != last {
		t.Fatalf("periodic neighbour = %d, want %d", n, last)
	}
}

func TestPencilsOpenLine(t *testing.T) {
	g := newTestGrid(t, [3]int{5, 2, 1}, [3]bool{})
	pencils := g.Pencils(0, g.LocalCells())
	if len(pencils) != 2 {
		t.Fatalf("pencils = %d, want 2", len(pencils))
	}
	p := pencils[0]
	if len(p.Cells) != 5 || p.L1 != 0 || p.L2 != 0 || p.R1 != 0 || p.R2 != 0 {
		t.Fatalf("pencil = %+v", p)
	}
	if got := len(p.SourceLine()); got != 9 {
		t.Fatalf("SourceLine length = %d, want 9", got)
	}
	if got := len(p.TargetLine()); got != 7 {
		t.Fatalf("TargetLine length = %d, want 7", got)
	}
}

func TestPencilsPeriodicRing(t *testing.T) {
	g := newTestGrid(t, [3]int{4, 1, 1}, [3]bool{true, false, false})
	pencils := g.Pencils(0, g.LocalCells())
	if len(pencils) != 1 {
		t.Fatalf("pencils = %d, want 1", len(pencils))
	}
	p := pencils[0]
	if len(p.Cells) != 4 || p.Cells[0] != 1 {
		t.Fatalf("ring pencil cells = %v", p.Cells)
	}
	if p.L1 != 4 || p.L2 != 3 || p.R1 != 1 || p.R2 != 2 {
		t.Fatalf("ring stencil = L2 %d L1 %d R1 %d R2 %d", p.L2, p.L1, p.R1, p.R2)
	}
}

func TestPencilsSplitAtGhosts(t *testing.T) {
	g := newTestGrid(t, [3]int{6, 1, 1}, [3]bool{})
	if err := g.SetLocal(3, false); err != nil {
		t.Fatalf("SetLocal: %v", err)
	}
	pencils := g.Pencils(0, g.LocalCells())
	if len(pencils) != 2 {
		t.Fatalf("pencils = %d, want 2", len(pencils))
	}
	if pencils[0].R1 != 3 || pencils[1].L1 != 3 {
		t.Fatalf("ghost not on pencil ends: %+v", pencils)
	}
	total := 0
	for _, p := range pencils {
		total += len(p.Cells)
	}
	if total != 5 {
		t.Fatalf("cells covered = %d, want 5", total)
	}
}

func TestLocalExchangerSnapshotsGhosts(t *testing.T) {
	g := newTestGrid(t, [3]int{3, 1, 1}, [3]bool{})
	if err := g.SetLocal(3, false); err != nil {
		t.Fatalf("SetLocal: %v", err)
	}
	ghost := g.Cell(3).Population(0)
	ghost.IncrementValue(0, 0, 1)

	ex := NewLocalExchanger(g)
	if err := ex.SyncVelocityBlocks(context.Background(), []core.CellID{2, 3}, 0, 0, TransferBlockData); err != nil {
		t.Fatalf("SyncVelocityBlocks: %v", err)
	}
	ghost.IncrementValue(0, 0, 5)
	if got := ex.Source(3, 0).Value(0, 0); got != 1 {
		t.Fatalf("snapshot value = %v, want 1", got)
	}
	if ex.Source(2, 0) != g.Cell(2).Population(0) {
		t.Fatalf("local cell not served live")
	}
	if ex.Source(0, 0) != nil {
		t.Fatalf("Source(0) not nil")
	}

	if err := ex.SyncVelocityBlocks(context.Background(), []core.CellID{3}, -1, 0, TransferContentList); err != nil {
		t.Fatalf("SyncVelocityBlocks: %v", err)
	}
	snap := ex.Source(3, 0)
	if snap.NumBlocks() != 0 || len(snap.ContentList()) != 1 {
		t.Fatalf("content snapshot: %d blocks, content %v", snap.NumBlocks(), snap.ContentList())
	}
}

func TestLocalExchangerFoldAndMissingGhost(t *testing.T) {
	g := newTestGrid(t, [3]int{2, 1, 1}, [3]bool{})
	ex := NewLocalExchanger(g)

	contrib := g.Cell(1).Population(0).CloneEmpty()
	contrib.IncrementValue(2, 4, 0.5)
	err := ex.FoldRemoteContributions(context.Background(), 0, 0, []Contribution{{Target: 2, Pop: contrib}})
	if err != nil {
		t.Fatalf("FoldRemoteContributions: %v", err)
	}
	if got := g.Cell(2).Population(0).Value(2, 4); got != 0.5 {
		t.Fatalf("folded value = %v, want 0.5", got)
	}

	err = ex.SyncVelocityBlocks(context.Background(), []core.CellID{99}, 0, 0, TransferBlockData)
	if !errors.Is(err, ErrNoSuchCell) {
		t.Fatalf("sync of unknown ghost error = %v, want ErrNoSuchCell", err)
	}
}

func TestAddCellRejectsDuplicates(t *testing.T) {
	g := newTestGrid(t, [3]int{2, 1, 1}, [3]bool{})
	err := g.AddCell(&core.SpatialCell{ID: 1}, true)
	if !errors.Is(err, ErrCellExists) {
		t.Fatalf("AddCell duplicate error = %v", err)
	}
	err = g.AddCell(&core.SpatialCell{ID: 50}, true)
	if !errors.Is(err, ErrNoSuchCell) {
		t.Fatalf("AddCell outside error = %v", err)
	}
}
