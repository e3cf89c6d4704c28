package grid

import (
	"slices"

	"github.com/signalsfoundry/vlasov-sim/core"
)

// Pencil is a maximal chain of local cells along one axis, ordered in the
// positive direction, together with the two cells on either side that feed
// its reconstruction stencil. Missing neighbours are 0.
type Pencil struct {
	Axis  int
	Cells []core.CellID

	L2, L1 core.CellID
	R1, R2 core.CellID
}

// SourceLine returns [L2 L1 c0..cn-1 R1 R2].
func (p Pencil) SourceLine() []core.CellID {
	line := make([]core.CellID, 0, len(p.Cells)+4)
	line = append(line, p.L2, p.L1)
	line = append(line, p.Cells...)
	return append(line, p.R1, p.R2)
}

// TargetLine returns [L1 c0..cn-1 R1], the cells that may receive mass.
func (p Pencil) TargetLine() []core.CellID {
	line := make([]core.CellID, 0, len(p.Cells)+2)
	line = append(line, p.L1)
	line = append(line, p.Cells...)
	return append(line, p.R1)
}

// Pencils splits local into pencils along axis. Every local cell belongs to
// exactly one pencil. A periodic ring of local cells becomes a single pencil
// starting at its lowest id, whose outer neighbours are its own end cells.
func (g *Grid) Pencils(axis int, local []core.CellID) []Pencil {
	ids := slices.Clone(local)
	slices.Sort(ids)
	owned := make(map[core.CellID]bool, len(ids))
	for _, id := range ids {
		owned[id] = true
	}
	visited := make(map[core.CellID]bool, len(ids))

	walk := func(start core.CellID) Pencil {
		p := Pencil{Axis: axis}
		for cur := start; ; {
			p.Cells = append(p.Cells, cur)
			visited[cur] = true
			next := g.Neighbor(cur, axis, 1)
			if next == 0 || !owned[next] || visited[next] {
				break
			}
			cur = next
		}
		p.L1 = g.Neighbor(p.Cells[0], axis, -1)
		if p.L1 != 0 {
			p.L2 = g.Neighbor(p.L1, axis, -1)
		}
		p.R1 = g.Neighbor(p.Cells[len(p.Cells)-1], axis, 1)
		if p.R1 != 0 {
			p.R2 = g.Neighbor(p.R1, axis, 1)
		}
		return p
	}

	var pencils []Pencil
	for _, id := range ids {
		if visited[id] {
			continue
		}
		if prev := g.Neighbor(id, axis, -1); prev != 0 && owned[prev] {
			continue
		}
		pencils = append(pencils, walk(id))
	}
	// Whatever is left lies on fully local periodic rings.
	for _, id := range ids {
		if !visited[id] {
			pencils = append(pencils, walk(id))
		}
	}
	return pencils
}
