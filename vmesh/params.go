package vmesh

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidMesh is returned by MeshParameters.Initialize for unusable
// geometry.
var ErrInvalidMesh = errors.New("invalid velocity mesh parameters")

// MeshParameters describes the velocity domain of one species. It is shared
// by every mesh of that species and must not be mutated after Initialize.
type MeshParameters struct {
	Name string

	// Velocity domain bounds per axis.
	Min, Max [3]float64
	// Blocks per axis at refinement level 0.
	Length [3]int
	// Highest refinement level encodable in a GlobalID.
	MaxRefinementLevel int
	// Cap on resident blocks per mesh; 0 means unbounded.
	MaxBlocks int

	blockSize   [3]float64
	offsets     []uint64
	initialized bool
}

// Initialize validates the parameters and derives block sizes and the
// per-level GlobalID offsets.
func (p *MeshParameters) Initialize() error {
	for a := 0; a < 3; a++ {
		if p.Length[a] <= 0 {
			return fmt.Errorf("%w: mesh %q needs a positive block count on axis %d, got %d",
				ErrInvalidMesh, p.Name, a, p.Length[a])
		}
		if !(p.Max[a] > p.Min[a]) {
			return fmt.Errorf("%w: mesh %q has empty extent on axis %d: [%g, %g]",
				ErrInvalidMesh, p.Name, a, p.Min[a], p.Max[a])
		}
	}
	if p.MaxRefinementLevel < 0 || p.MaxRefinementLevel > 8 {
		return fmt.Errorf("%w: mesh %q refinement level %d out of range [0, 8]",
			ErrInvalidMesh, p.Name, p.MaxRefinementLevel)
	}
	if p.MaxBlocks < 0 {
		return fmt.Errorf("%w: mesh %q has negative block cap %d", ErrInvalidMesh, p.Name, p.MaxBlocks)
	}

	n0 := uint64(p.Length[0]) * uint64(p.Length[1]) * uint64(p.Length[2])
	offsets := make([]uint64, p.MaxRefinementLevel+2)
	perLevel := n0
	for r := 1; r < len(offsets); r++ {
		offsets[r] = offsets[r-1] + perLevel
		perLevel *= 8
	}
	if offsets[len(offsets)-1] >= uint64(InvalidGlobalID) {
		return fmt.Errorf("%w: mesh %q needs %d ids, more than a GlobalID can hold",
			ErrInvalidMesh, p.Name, offsets[len(offsets)-1])
	}

	for a := 0; a < 3; a++ {
		p.blockSize[a] = (p.Max[a] - p.Min[a]) / float64(p.Length[a])
	}
	p.offsets = offsets
	p.initialized = true
	return nil
}

// Initialized reports whether Initialize succeeded.
func (p *MeshParameters) Initialized() bool { return p != nil && p.initialized }

// MaxGlobalID is one past the largest valid GlobalID.
func (p *MeshParameters) MaxGlobalID() GlobalID {
	return GlobalID(p.offsets[len(p.offsets)-1])
}

// GridLength is the number of velocity cells per axis at level 0.
func (p *MeshParameters) GridLength() [3]int {
	return [3]int{p.Length[0] * WID, p.Length[1] * WID, p.Length[2] * WID}
}

func (p *MeshParameters) levelLength(level int) [3]int {
	return [3]int{p.Length[0] << level, p.Length[1] << level, p.Length[2] << level}
}

// GlobalIDAt encodes block indices at a refinement level. Out-of-range
// input yields InvalidGlobalID.
func (p *MeshParameters) GlobalIDAt(level int, idx [3]int) GlobalID {
	if level < 0 || level > p.MaxRefinementLevel {
		return InvalidGlobalID
	}
	l := p.levelLength(level)
	for a := 0; a < 3; a++ {
		if idx[a] < 0 || idx[a] >= l[a] {
			return InvalidGlobalID
		}
	}
	lin := uint64(idx[0]) + uint64(idx[1])*uint64(l[0]) + uint64(idx[2])*uint64(l[0])*uint64(l[1])
	return GlobalID(p.offsets[level] + lin)
}

// GlobalIDFromIndices encodes level-0 block indices.
func (p *MeshParameters) GlobalIDFromIndices(idx [3]int) GlobalID {
	return p.GlobalIDAt(0, idx)
}

// RefinementLevel returns the level encoded in gid, or -1 if gid is not a
// valid id for this mesh.
func (p *MeshParameters) RefinementLevel(gid GlobalID) int {
	g := uint64(gid)
	for r := 0; r < len(p.offsets)-1; r++ {
		if g < p.offsets[r+1] {
			return r
		}
	}
	return -1
}

// Indices decodes gid into block indices at its own refinement level.
func (p *MeshParameters) Indices(gid GlobalID) ([3]int, bool) {
	level := p.RefinementLevel(gid)
	if level < 0 {
		return [3]int{-1, -1, -1}, false
	}
	l := p.levelLength(level)
	lin := uint64(gid) - p.offsets[level]
	plane := uint64(l[0]) * uint64(l[1])
	return [3]int{
		int(lin % uint64(l[0])),
		int((lin / uint64(l[0])) % uint64(l[1])),
		int(lin / plane),
	}, true
}

// GlobalIDFromCoords returns the level-0 block containing velocity v.
func (p *MeshParameters) GlobalIDFromCoords(v [3]float64) GlobalID {
	var idx [3]int
	for a := 0; a < 3; a++ {
		f := math.Floor((v[a] - p.Min[a]) / p.blockSize[a])
		if math.IsNaN(f) || f < 0 || f >= float64(p.Length[a]) {
			return InvalidGlobalID
		}
		idx[a] = int(f)
	}
	return p.GlobalIDFromIndices(idx)
}

// BlockSize returns the velocity extent of block gid per axis.
func (p *MeshParameters) BlockSize(gid GlobalID) [3]float64 {
	level := p.RefinementLevel(gid)
	if level < 0 {
		return [3]float64{}
	}
	scale := 1 / float64(uint(1)<<level)
	return [3]float64{p.blockSize[0] * scale, p.blockSize[1] * scale, p.blockSize[2] * scale}
}

// CellSize returns the velocity cell width of block gid per axis.
func (p *MeshParameters) CellSize(gid GlobalID) [3]float64 {
	b := p.BlockSize(gid)
	return [3]float64{b[0] / WID, b[1] / WID, b[2] / WID}
}

// BlockCoordinates returns the minimum velocity corner of block gid.
func (p *MeshParameters) BlockCoordinates(gid GlobalID) [3]float64 {
	idx, ok := p.Indices(gid)
	if !ok {
		return [3]float64{math.NaN(), math.NaN(), math.NaN()}
	}
	b := p.BlockSize(gid)
	return [3]float64{
		p.Min[0] + float64(idx[0])*b[0],
		p.Min[1] + float64(idx[1])*b[1],
		p.Min[2] + float64(idx[2])*b[2],
	}
}

// BlockParameters returns the geometry record stored alongside gid's data.
func (p *MeshParameters) BlockParameters(gid GlobalID) BlockParameters {
	return BlockParameters{VCoord: p.BlockCoordinates(gid), DV: p.CellSize(gid)}
}

// Neighborhood calls visit for every block of gid's level within width
// blocks of gid along each axis, gid included. Blocks past the domain edge
// are skipped.
func (p *MeshParameters) Neighborhood(gid GlobalID, width int, visit func(GlobalID)) {
	level := p.RefinementLevel(gid)
	idx, ok := p.Indices(gid)
	if !ok {
		return
	}
	for dk := -width; dk <= width; dk++ {
		for dj := -width; dj <= width; dj++ {
			for di := -width; di <= width; di++ {
				n := p.GlobalIDAt(level, [3]int{idx[0] + di, idx[1] + dj, idx[2] + dk})
				if n != InvalidGlobalID {
					visit(n)
				}
			}
		}
	}
}
