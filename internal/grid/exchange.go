package grid

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/vlasov-sim/core"
)

// TransferKind selects what a ghost exchange delivers.
type TransferKind int

const (
	// TransferBlockData delivers the full mesh and samples.
	TransferBlockData TransferKind = iota
	// TransferContentList delivers only the content blocks, for block
	// adjustment.
	TransferContentList
)

func (k TransferKind) String() string {
	switch k {
	case TransferBlockData:
		return "block_data"
	case TransferContentList:
		return "content_list"
	default:
		return fmt.Sprintf("TransferKind(%d)", int(k))
	}
}

// Contribution is mass computed locally for a cell owned elsewhere.
type Contribution struct {
	Target core.CellID
	Pop    *core.Population
}

// Exchanger is the ghost-exchange collaborator. SyncVelocityBlocks must
// complete before Source is used; the populations Source returns are
// immutable snapshots for the rest of the pass. Errors are fatal to the step.
type Exchanger interface {
	// SyncVelocityBlocks makes the population popID of every listed cell
	// available through Source. axis is the transfer direction, or -1 for
	// all directions.
	SyncVelocityBlocks(ctx context.Context, cells []core.CellID, axis, popID int, kind TransferKind) error
	// Source returns the synchronised population of id, or nil.
	Source(id core.CellID, popID int) *core.Population
	// FoldRemoteContributions adds contributions into the cells that own them.
	FoldRemoteContributions(ctx context.Context, axis, popID int, contributions []Contribution) error
}

type snapKey struct {
	id    core.CellID
	popID int
}

// LocalExchanger serves ghosts from cells stored in the same Grid. Local
// cells are served live; ghosts are served from snapshots taken at sync.
type LocalExchanger struct {
	grid *Grid

	mu        sync.RWMutex
	snapshots map[snapKey]*core.Population
}

// NewLocalExchanger returns an exchanger over g.
func NewLocalExchanger(g *Grid) *LocalExchanger {
	return &LocalExchanger{grid: g, snapshots: make(map[snapKey]*core.Population)}
}

func (e *LocalExchanger) SyncVelocityBlocks(ctx context.Context, cells []core.CellID, axis, popID int, kind TransferKind) error {
	snapshots := make(map[snapKey]*core.Population)
	for _, id := range cells {
		if err := ctx.Err(); err != nil {
			return err
		}
		if id == 0 || e.grid.IsLocal(id) {
			continue
		}
		c := e.grid.Cell(id)
		if c == nil {
			return fmt.Errorf("sync %s along axis %d: %w: ghost %d", kind, axis, ErrNoSuchCell, id)
		}
		pop := c.Population(popID)
		switch kind {
		case TransferContentList:
			snapshots[snapKey{id, popID}] = pop.CloneContent()
		default:
			snapshots[snapKey{id, popID}] = pop.Clone()
		}
	}

	e.mu.Lock()
	e.snapshots = snapshots
	e.mu.Unlock()
	return nil
}

func (e *LocalExchanger) Source(id core.CellID, popID int) *core.Population {
	if id == 0 {
		return nil
	}
	e.mu.RLock()
	snap, ok := e.snapshots[snapKey{id, popID}]
	e.mu.RUnlock()
	if ok {
		return snap
	}
	if !e.grid.IsLocal(id) {
		return nil
	}
	if c := e.grid.Cell(id); c != nil {
		return c.Population(popID)
	}
	return nil
}

func (e *LocalExchanger) FoldRemoteContributions(ctx context.Context, axis, popID int, contributions []Contribution) error {
	for _, contrib := range contributions {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := e.grid.Cell(contrib.Target)
		if c == nil {
			return fmt.Errorf("fold along axis %d: %w: %d", axis, ErrNoSuchCell, contrib.Target)
		}
		c.Population(popID).Accumulate(contrib.Pop)
	}
	return nil
}
