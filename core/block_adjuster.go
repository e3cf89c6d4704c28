package core

import (
	"math"
	"slices"

	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

// BlockAdjuster keeps a population's resident blocks equal to the set needed
// for its current and next-step content.
type BlockAdjuster struct {
	// Velocity-space halo, in blocks, kept around every content block.
	HaloWidth int
}

// NewBlockAdjuster returns an adjuster with at least a one-block halo.
func NewBlockAdjuster(haloWidth int) *BlockAdjuster {
	if haloWidth < 1 {
		haloWidth = 1
	}
	return &BlockAdjuster{HaloWidth: haloWidth}
}

// HaloWidthForCFL returns the halo that covers the largest per-step
// velocity displacement, cfl cells.
func HaloWidthForCFL(cfl float64) int {
	w := int(math.Ceil(cfl / vmesh.WID))
	if w < 1 {
		return 1
	}
	return w
}

// AdjustResult summarises one adjustment.
type AdjustResult struct {
	Added       int
	Removed     int
	MassRemoved float64
}

// Merge accumulates other into r.
func (r *AdjustResult) Merge(other AdjustResult) {
	r.Added += other.Added
	r.Removed += other.Removed
	r.MassRemoved += other.MassRemoved
}

// RequiredSet returns every block pop must hold: its cached content blocks
// with their halo, plus the content blocks of neighbors.
func (a *BlockAdjuster) RequiredSet(pop *Population, neighbors []*Population) map[vmesh.GlobalID]struct{} {
	params := pop.Params()
	required := make(map[vmesh.GlobalID]struct{}, 4*len(pop.ContentList()))
	for _, gid := range pop.ContentList() {
		params.Neighborhood(gid, a.HaloWidth, func(n vmesh.GlobalID) {
			required[n] = struct{}{}
		})
	}
	for _, n := range neighbors {
		if n == nil {
			continue
		}
		for _, gid := range n.ContentList() {
			required[gid] = struct{}{}
		}
	}
	return required
}

// Adjust adds every missing required block and, when doDeleteEmpty is set,
// removes every resident block that is neither required nor holding content
// above the sparsity threshold. Removed mass is added to pop.RhoLossAdjust.
// The content lists of pop and of neighbors must have been refreshed by the
// caller; neighbors are only read.
func (a *BlockAdjuster) Adjust(pop *Population, neighbors []*Population, doDeleteEmpty bool) AdjustResult {
	var res AdjustResult
	required := a.RequiredSet(pop, neighbors)

	missing := make([]vmesh.GlobalID, 0, len(required))
	for gid := range required {
		if !pop.Mesh().Has(gid) {
			missing = append(missing, gid)
		}
	}
	slices.Sort(missing)
	for _, gid := range missing {
		// A failure here means the mesh is full; the block is simply skipped.
		if pop.AddBlock(gid) != vmesh.InvalidLocalID {
			res.Added++
		}
	}

	if doDeleteEmpty {
		var remove []vmesh.GlobalID
		for lid, gid := range pop.Mesh().GlobalIDs() {
			if _, ok := required[gid]; ok {
				continue
			}
			// A stale content list must not cost content.
			if pop.HasContent(vmesh.LocalID(lid)) {
				continue
			}
			res.MassRemoved += pop.BlockMass(vmesh.LocalID(lid))
			remove = append(remove, gid)
		}
		for _, gid := range remove {
			if pop.RemoveBlock(gid) {
				res.Removed++
			}
		}
		pop.RhoLossAdjust += res.MassRemoved
	}

	if pop.Mesh().Size() != pop.Blocks().Size() {
		vmesh.Invariantf("BlockAdjuster.Adjust", "mesh has %d blocks, container %d",
			pop.Mesh().Size(), pop.Blocks().Size())
	}
	return res
}

// AdjustSingle refreshes pop's content list and adjusts it without
// consulting any neighbour.
func (a *BlockAdjuster) AdjustSingle(pop *Population, doDeleteEmpty bool) AdjustResult {
	pop.UpdateContentList()
	return a.Adjust(pop, nil, doDeleteEmpty)
}
