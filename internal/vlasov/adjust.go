package vlasov

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/internal/grid"
)

// NeighborAdjuster runs block adjustment on spatial cells, consulting the
// content of each cell's face neighbours.
type NeighborAdjuster struct {
	Grid      *grid.Grid
	Exchanger grid.Exchanger
	Backend   Backend
	Workers   int
}

// Adjust adjusts popID of cells in two phases. First every local content list
// is refreshed and ghost content lists are exchanged; then each cell is
// adjusted against those lists, which nobody writes during the second phase.
func (n *NeighborAdjuster) Adjust(ctx context.Context, cells []core.CellID, popID int, doDeleteEmpty bool) (core.AdjustResult, error) {
	local := n.Grid.LocalCells()
	err := parallelFor(ctx, len(local), n.Workers, func(i int) error {
		if c := n.Grid.Cell(local[i]); c != nil {
			c.Population(popID).UpdateContentList()
		}
		return nil
	})
	if err != nil {
		return core.AdjustResult{}, err
	}

	var ghosts []core.CellID
	seen := make(map[core.CellID]bool)
	for _, id := range cells {
		for _, nb := range n.Grid.FaceNeighbors(id) {
			if !seen[nb.ID] && !n.Grid.IsLocal(nb.ID) {
				seen[nb.ID] = true
				ghosts = append(ghosts, nb.ID)
			}
		}
	}
	if len(ghosts) > 0 {
		if err := n.Exchanger.SyncVelocityBlocks(ctx, ghosts, -1, popID, grid.TransferContentList); err != nil {
			return core.AdjustResult{}, fmt.Errorf("adjust: exchange content lists: %w", err)
		}
	}

	results := make([]core.AdjustResult, len(cells))
	err = parallelFor(ctx, len(cells), n.Workers, func(i int) error {
		c := n.Grid.Cell(cells[i])
		if c == nil {
			return fmt.Errorf("adjust: %w: %d", grid.ErrNoSuchCell, cells[i])
		}
		faces := n.Grid.FaceNeighbors(c.ID)
		neighbors := make([]*core.Population, 0, len(faces))
		for _, nb := range faces {
			if pop := n.Exchanger.Source(nb.ID, popID); pop != nil {
				neighbors = append(neighbors, pop)
			}
		}
		results[i] = n.Backend.Adjust(c.Population(popID), neighbors, doDeleteEmpty)
		return nil
	})

	var total core.AdjustResult
	for _, r := range results {
		total.Merge(r)
	}
	return total, err
}
