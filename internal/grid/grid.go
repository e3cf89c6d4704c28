// Package grid is the in-process spatial domain: a Cartesian grid of
// spatial cells with face-neighbour lookup, pencil construction and the ghost
// exchange used by the Vlasov orchestrators.
package grid

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/model"
)

var (
	// ErrNoSuchCell is returned for ids outside the grid or not stored in it.
	ErrNoSuchCell = errors.New("no such cell")
	// ErrCellExists is returned when adding a cell twice.
	ErrCellExists = errors.New("cell already exists")
)

// Geometry is the layout of the spatial grid.
type Geometry struct {
	Dims     [3]int
	Min      core.Vec3
	CellSize core.Vec3
	Periodic [3]bool
}

// Validate checks the geometry is usable.
func (g Geometry) Validate() error {
	size := g.CellSize.Array()
	for a := 0; a < 3; a++ {
		if g.Dims[a] <= 0 {
			return fmt.Errorf("grid: axis %d needs at least one cell, got %d", a, g.Dims[a])
		}
		if size[a] <= 0 {
			return fmt.Errorf("grid: axis %d needs a positive cell size, got %g", a, size[a])
		}
	}
	return nil
}

// NumCells is the total number of cells.
func (g Geometry) NumCells() int { return g.Dims[0] * g.Dims[1] * g.Dims[2] }

// CellID returns the id of cell (i, j, k), or 0 outside the grid. Ids start
// at 1 and run fastest along x.
func (g Geometry) CellID(idx [3]int) core.CellID {
	for a := 0; a < 3; a++ {
		if idx[a] < 0 || idx[a] >= g.Dims[a] {
			return 0
		}
	}
	return core.CellID(1 + idx[0] + idx[1]*g.Dims[0] + idx[2]*g.Dims[0]*g.Dims[1])
}

// Indices inverts CellID.
func (g Geometry) Indices(id core.CellID) ([3]int, bool) {
	if id == 0 || int(id) > g.NumCells() {
		return [3]int{}, false
	}
	n := int(id) - 1
	return [3]int{n % g.Dims[0], (n / g.Dims[0]) % g.Dims[1], n / (g.Dims[0] * g.Dims[1])}, true
}

// CellCoords returns the minimum corner of cell idx.
func (g Geometry) CellCoords(idx [3]int) core.Vec3 {
	return core.Vec3{
		X: g.Min.X + float64(idx[0])*g.CellSize.X,
		Y: g.Min.Y + float64(idx[1])*g.CellSize.Y,
		Z: g.Min.Z + float64(idx[2])*g.CellSize.Z,
	}
}

// Neighbor is one face neighbour of a cell.
type Neighbor struct {
	ID   core.CellID
	Axis int
	Dir  int // -1 or +1
}

// Grid is a thread-safe store of spatial cells. A subset of the cells is
// local (owned by this process); the rest are ghosts.
type Grid struct {
	mu sync.RWMutex

	geom  Geometry
	cells map[core.CellID]*core.SpatialCell
	local map[core.CellID]bool
}

// New constructs an empty grid.
func New(geom Geometry) (*Grid, error) {
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	return &Grid{
		geom:  geom,
		cells: make(map[core.CellID]*core.SpatialCell),
		local: make(map[core.CellID]bool),
	}, nil
}

// Geometry returns the grid layout.
func (g *Grid) Geometry() Geometry { return g.geom }

// Populate creates every cell of the geometry with empty populations and
// marks them local.
func (g *Grid) Populate(species model.SpeciesList) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for k := 0; k < g.geom.Dims[2]; k++ {
		for j := 0; j < g.geom.Dims[1]; j++ {
			for i := 0; i < g.geom.Dims[0]; i++ {
				idx := [3]int{i, j, k}
				id := g.geom.CellID(idx)
				if _, exists := g.cells[id]; exists {
					continue
				}
				g.cells[id] = core.NewSpatialCell(id, g.geom.CellCoords(idx), g.geom.CellSize, species)
				g.local[id] = true
			}
		}
	}
}

// AddCell stores c; local marks it as owned by this process.
func (g *Grid) AddCell(c *core.SpatialCell, local bool) error {
	if _, ok := g.geom.Indices(c.ID); !ok {
		return fmt.Errorf("%w: id %d outside %v grid", ErrNoSuchCell, c.ID, g.geom.Dims)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.cells[c.ID]; exists {
		return fmt.Errorf("%w: id %d", ErrCellExists, c.ID)
	}
	g.cells[c.ID] = c
	if local {
		g.local[c.ID] = true
	}
	return nil
}

// SetLocal changes the ownership of a stored cell.
func (g *Grid) SetLocal(id core.CellID, local bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.cells[id]; !ok {
		return fmt.Errorf("%w: id %d", ErrNoSuchCell, id)
	}
	if local {
		g.local[id] = true
	} else {
		delete(g.local, id)
	}
	return nil
}

// Cell returns the cell with the given id, or nil if not stored.
func (g *Grid) Cell(id core.CellID) *core.SpatialCell {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cells[id]
}

// IsLocal reports whether id is owned by this process.
func (g *Grid) IsLocal(id core.CellID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.local[id]
}

// LocalCells returns the owned cell ids in ascending order.
func (g *Grid) LocalCells() []core.CellID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	res := make([]core.CellID, 0, len(g.local))
	for id := range g.local {
		res = append(res, id)
	}
	slices.Sort(res)
	return res
}

// Cells returns a snapshot of every stored cell ordered by id.
func (g *Grid) Cells() []*core.SpatialCell {
	g.mu.RLock()
	defer g.mu.RUnlock()

	res := make([]*core.SpatialCell, 0, len(g.cells))
	for _, c := range g.cells {
		res = append(res, c)
	}
	slices.SortFunc(res, func(a, b *core.SpatialCell) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return res
}

// Neighbor returns the face neighbour of id along axis in direction dir
// (-1 or +1), wrapping on periodic axes. It returns 0 past a non-periodic
// boundary. Axes with a single cell have no neighbours.
func (g *Grid) Neighbor(id core.CellID, axis, dir int) core.CellID {
	idx, ok := g.geom.Indices(id)
	if !ok || g.geom.Dims[axis] == 1 {
		return 0
	}
	idx[axis] += dir
	if g.geom.Periodic[axis] {
		n := g.geom.Dims[axis]
		idx[axis] = ((idx[axis] % n) + n) % n
	}
	return g.geom.CellID(idx)
}

// FaceNeighbors returns the existing face neighbours of id, tagged with axis
// and direction.
func (g *Grid) FaceNeighbors(id core.CellID) []Neighbor {
	res := make([]Neighbor, 0, 6)
	for axis := 0; axis < 3; axis++ {
		for _, dir := range []int{-1, 1} {
			if n := g.Neighbor(id, axis, dir); n != 0 {
				res = append(res, Neighbor{ID: n, Axis: axis, Dir: dir})
			}
		}
	}
	return res
}
