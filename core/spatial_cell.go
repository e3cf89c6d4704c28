package core

import (
	"github.com/signalsfoundry/vlasov-sim/model"
	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

// CellID identifies a spatial cell; 0 means "no cell".
type CellID uint64

// Fields are the electromagnetic fields seen by a cell, supplied by the
// field solver.
type Fields struct {
	E Vec3 // V/m
	B Vec3 // T
}

// SpatialCell owns one Population per species.
type SpatialCell struct {
	ID     CellID
	Coords Vec3 // minimum corner
	Size   Vec3
	Fields Fields

	Populations []*Population
}

// NewSpatialCell creates a cell with one empty population per species.
func NewSpatialCell(id CellID, coords, size Vec3, species model.SpeciesList) *SpatialCell {
	c := &SpatialCell{
		ID:          id,
		Coords:      coords,
		Size:        size,
		Populations: make([]*Population, len(species)),
	}
	for i, s := range species {
		c.Populations[i] = NewPopulation(s.Mesh, s.SparsityThreshold)
	}
	return c
}

// Population returns the population of popID.
func (c *SpatialCell) Population(popID int) *Population { return c.Populations[popID] }

// Center returns the cell centre.
func (c *SpatialCell) Center() Vec3 { return c.Coords.Add(c.Size.Scale(0.5)) }

// NumberOfVelocityBlocks returns the resident block count of popID.
func (c *SpatialCell) NumberOfVelocityBlocks(popID int) int {
	return c.Populations[popID].NumBlocks()
}

// Data returns the samples of block lid of popID.
func (c *SpatialCell) Data(popID int, lid vmesh.LocalID) []float64 {
	return c.Populations[popID].Data(lid)
}

// BlockParameters returns the geometry of block lid of popID.
func (c *SpatialCell) BlockParameters(popID int, lid vmesh.LocalID) *vmesh.BlockParameters {
	return c.Populations[popID].BlockParameters(lid)
}

// VelocityMesh returns the block index of popID.
func (c *SpatialCell) VelocityMesh(popID int) *vmesh.VelocityMesh {
	return c.Populations[popID].Mesh()
}

// VelocityBlocks returns the block storage of popID.
func (c *SpatialCell) VelocityBlocks(popID int) *vmesh.VelocityBlockContainer {
	return c.Populations[popID].Blocks()
}

// AddVelocityBlock makes gid resident; it reports whether a block was added.
func (c *SpatialCell) AddVelocityBlock(popID int, gid vmesh.GlobalID) bool {
	return c.Populations[popID].AddBlock(gid) != vmesh.InvalidLocalID
}

// RemoveVelocityBlock drops gid; it reports whether gid was resident.
func (c *SpatialCell) RemoveVelocityBlock(popID int, gid vmesh.GlobalID) bool {
	return c.Populations[popID].RemoveBlock(gid)
}

// Clear drops every block of popID.
func (c *SpatialCell) Clear(popID int) {
	c.Populations[popID].Clear()
}

// AdjustVelocityBlocks refreshes the content list of popID and brings its
// resident set in line with that content and the cached content of
// neighbors.
func (c *SpatialCell) AdjustVelocityBlocks(adj *BlockAdjuster, neighbors []*SpatialCell, popID int, doDeleteEmpty bool) AdjustResult {
	c.Populations[popID].UpdateContentList()
	pops := make([]*Population, 0, len(neighbors))
	for _, n := range neighbors {
		if n != nil {
			pops = append(pops, n.Populations[popID])
		}
	}
	return adj.Adjust(c.Populations[popID], pops, doDeleteEmpty)
}
