package core

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

// Moments are the bulk quantities derived from a population's blocks.
type Moments struct {
	Rho float64    // number density
	V   [3]float64 // bulk velocity
	P   [3]float64 // diagonal pressure
}

// Population is the velocity distribution of one species in one spatial
// cell. The mesh and the block container are only ever mutated together.
type Population struct {
	mesh   *vmesh.VelocityMesh
	blocks *vmesh.VelocityBlockContainer

	// MomentsR is computed after spatial translation, MomentsV after
	// acceleration; Moments is their half-step average.
	MomentsR Moments
	MomentsV Moments
	Moments  Moments

	SparsityThreshold float64

	// Largest stable step for translation and acceleration.
	MaxRDt float64
	MaxVDt float64
	// Number of acceleration subcycles used in the last step.
	AccSubcycles int

	// Mass dropped by block removal.
	RhoLossAdjust float64
	// Mass carried past a domain boundary.
	Outflow float64

	contentList []vmesh.GlobalID
}

// NewPopulation returns an empty population over params.
func NewPopulation(params *vmesh.MeshParameters, threshold float64) *Population {
	return &Population{
		mesh:              vmesh.NewVelocityMesh(params),
		blocks:            vmesh.NewVelocityBlockContainer(),
		SparsityThreshold: threshold,
	}
}

// Mesh returns the sparse topology.
func (p *Population) Mesh() *vmesh.VelocityMesh { return p.mesh }

// Blocks returns the dense block storage.
func (p *Population) Blocks() *vmesh.VelocityBlockContainer { return p.blocks }

// Params returns the velocity-domain geometry.
func (p *Population) Params() *vmesh.MeshParameters { return p.mesh.Parameters() }

// NumBlocks is the number of resident blocks.
func (p *Population) NumBlocks() int { return p.mesh.Size() }

// Data returns the samples of block lid.
func (p *Population) Data(lid vmesh.LocalID) []float64 { return p.blocks.Data(lid) }

// BlockParameters returns the geometry of block lid.
func (p *Population) BlockParameters(lid vmesh.LocalID) *vmesh.BlockParameters {
	return p.blocks.Parameters(lid)
}

// AddBlock makes gid resident with zero samples. It returns InvalidLocalID
// if gid is already resident, invalid, or the mesh is full.
func (p *Population) AddBlock(gid vmesh.GlobalID) vmesh.LocalID {
	if !p.mesh.PushBack(gid) {
		return vmesh.InvalidLocalID
	}
	lid := p.blocks.PushBack()
	if int(lid) != p.mesh.Size()-1 {
		vmesh.Invariantf("Population.AddBlock", "container slot %d but mesh size %d", lid, p.mesh.Size())
	}
	*p.blocks.Parameters(lid) = p.Params().BlockParameters(gid)
	return lid
}

// AddBlocks makes all gids resident or none of them; it returns how many
// blocks were added.
func (p *Population) AddBlocks(gids []vmesh.GlobalID) int {
	if len(gids) == 0 || !p.mesh.PushBackMany(gids) {
		return 0
	}
	first := p.blocks.PushBackN(len(gids))
	params := p.Params()
	for i, gid := range gids {
		*p.blocks.Parameters(first + vmesh.LocalID(i)) = params.BlockParameters(gid)
	}
	p.checkSizes("Population.AddBlocks")
	return len(gids)
}

// RemoveBlock drops gid by moving the last block into its slot. LocalIDs of
// other blocks may change. It reports whether gid was resident.
func (p *Population) RemoveBlock(gid vmesh.GlobalID) bool {
	lid := p.mesh.LocalID(gid)
	if lid == vmesh.InvalidLocalID {
		return false
	}
	last := vmesh.LocalID(p.mesh.Size() - 1)
	p.mesh.Copy(last, lid)
	p.blocks.Copy(last, lid)
	p.mesh.Pop()
	p.blocks.Pop()
	p.checkSizes("Population.RemoveBlock")
	return true
}

// Clear drops all blocks.
func (p *Population) Clear() {
	p.mesh.Clear()
	p.blocks.Clear()
	p.contentList = nil
}

// Value returns sample cell of block gid; absent blocks read as zero.
func (p *Population) Value(gid vmesh.GlobalID, cell int) float64 {
	lid := p.mesh.LocalID(gid)
	if lid == vmesh.InvalidLocalID {
		return 0
	}
	return p.blocks.Data(lid)[cell]
}

// ValueAt returns the sample of the velocity cell containing v.
func (p *Population) ValueAt(v [3]float64) float64 {
	gid, cell := p.locate(v)
	if gid == vmesh.InvalidGlobalID {
		return 0
	}
	return p.Value(gid, cell)
}

// IncrementValue adds delta to sample cell of block gid, creating the block
// if needed. Failing to create the block is fatal: the mass would be lost.
func (p *Population) IncrementValue(gid vmesh.GlobalID, cell int, delta float64) {
	lid := p.mesh.LocalID(gid)
	if lid == vmesh.InvalidLocalID {
		lid = p.AddBlock(gid)
		if lid == vmesh.InvalidLocalID {
			vmesh.Invariantf("Population.IncrementValue",
				"cannot create block %d for deposit (size %d, cap %d)",
				gid, p.mesh.Size(), p.Params().MaxBlocks)
		}
	}
	p.blocks.Data(lid)[cell] += delta
}

// SetValue overwrites sample cell of block gid, creating the block if
// needed. Setting an absent block to zero is a no-op.
func (p *Population) SetValue(gid vmesh.GlobalID, cell int, v float64) {
	if v == 0 && !p.mesh.Has(gid) {
		return
	}
	p.IncrementValue(gid, cell, v-p.Value(gid, cell))
}

// IncrementValueAt adds delta to the velocity cell containing v. Velocities
// outside the domain count as outflow; it reports whether v was inside.
func (p *Population) IncrementValueAt(v [3]float64, delta float64) bool {
	gid, cell := p.locate(v)
	if gid == vmesh.InvalidGlobalID {
		p.Outflow += delta * cellVolume(p.Params().CellSize(0))
		return false
	}
	p.IncrementValue(gid, cell, delta)
	return true
}

func (p *Population) locate(v [3]float64) (vmesh.GlobalID, int) {
	params := p.Params()
	gid := params.GlobalIDFromCoords(v)
	if gid == vmesh.InvalidGlobalID {
		return gid, 0
	}
	corner := params.BlockCoordinates(gid)
	dv := params.CellSize(gid)
	var idx [3]int
	for a := 0; a < 3; a++ {
		idx[a] = int((v[a] - corner[a]) / dv[a])
		if idx[a] >= vmesh.WID {
			idx[a] = vmesh.WID - 1
		}
	}
	return gid, vmesh.CellIndex(idx[0], idx[1], idx[2])
}

// MaxValue returns the largest sample of block lid.
func (p *Population) MaxValue(lid vmesh.LocalID) float64 {
	return floats.Max(p.blocks.Data(lid))
}

// HasContent reports whether block lid reaches the sparsity threshold.
func (p *Population) HasContent(lid vmesh.LocalID) bool {
	return p.MaxValue(lid) >= p.SparsityThreshold
}

// UpdateContentList recomputes and caches the blocks with content.
func (p *Population) UpdateContentList() []vmesh.GlobalID {
	p.contentList = p.contentBlocks()
	return p.contentList
}

func (p *Population) contentBlocks() []vmesh.GlobalID {
	var list []vmesh.GlobalID
	for lid, gid := range p.mesh.GlobalIDs() {
		if p.HasContent(vmesh.LocalID(lid)) {
			list = append(list, gid)
		}
	}
	return list
}

// ContentList returns the list cached by the last UpdateContentList. Other
// workers may read it while this population is being adjusted.
func (p *Population) ContentList() []vmesh.GlobalID { return p.contentList }

// Mass returns the integral of the distribution over velocity space.
func (p *Population) Mass() float64 {
	total := 0.0
	for lid := 0; lid < p.blocks.Size(); lid++ {
		total += floats.Sum(p.blocks.Data(vmesh.LocalID(lid))) * cellVolume(p.blocks.Parameters(vmesh.LocalID(lid)).DV)
	}
	return total
}

// BlockMass returns the integral of block lid.
func (p *Population) BlockMass(lid vmesh.LocalID) float64 {
	return floats.Sum(p.blocks.Data(lid)) * cellVolume(p.blocks.Parameters(lid).DV)
}

// Check verifies the mesh/container invariants.
func (p *Population) Check() error {
	if err := p.mesh.Check(); err != nil {
		return err
	}
	if p.mesh.Size() != p.blocks.Size() {
		return fmt.Errorf("population: mesh has %d blocks, container %d", p.mesh.Size(), p.blocks.Size())
	}
	return nil
}

// Clone returns a deep copy.
func (p *Population) Clone() *Population {
	out := *p
	out.mesh = p.mesh.Clone()
	out.blocks = p.blocks.Clone()
	out.contentList = append([]vmesh.GlobalID(nil), p.contentList...)
	return &out
}

// CloneEmpty returns a population with the same settings and moments but no
// blocks and zeroed mass counters, suitable as an accumulation buffer.
func (p *Population) CloneEmpty() *Population {
	out := *p
	out.mesh = vmesh.NewVelocityMesh(p.Params())
	out.blocks = vmesh.NewVelocityBlockContainer()
	out.contentList = nil
	out.RhoLossAdjust = 0
	out.Outflow = 0
	return &out
}

// CloneZeroed returns an accumulation buffer holding the same blocks as p,
// in the same order, with every sample zeroed.
func (p *Population) CloneZeroed() *Population {
	out := p.CloneEmpty()
	out.mesh = p.mesh.Clone()
	out.blocks = p.blocks.Clone()
	for lid := 0; lid < out.blocks.Size(); lid++ {
		clear(out.blocks.Data(vmesh.LocalID(lid)))
	}
	return out
}

// CloneContent returns an empty population carrying only the content list,
// which is all a neighbour needs for block adjustment.
func (p *Population) CloneContent() *Population {
	out := p.CloneEmpty()
	out.contentList = p.contentBlocks()
	return out
}

// SwapContents exchanges blocks (and content lists) with other, leaving
// moments and bookkeeping in place.
func (p *Population) SwapContents(other *Population) {
	p.mesh.Swap(other.mesh)
	p.blocks.Swap(other.blocks)
	p.contentList, other.contentList = other.contentList, p.contentList
}

// Accumulate adds every sample of src into p, creating blocks as needed.
func (p *Population) Accumulate(src *Population) {
	for lid, gid := range src.mesh.GlobalIDs() {
		data := src.blocks.Data(vmesh.LocalID(lid))
		dst := p.mesh.LocalID(gid)
		if dst == vmesh.InvalidLocalID {
			dst = p.AddBlock(gid)
			if dst == vmesh.InvalidLocalID {
				vmesh.Invariantf("Population.Accumulate", "cannot create block %d", gid)
			}
		}
		floats.Add(p.blocks.Data(dst), data)
	}
	p.Outflow += src.Outflow
}

func (p *Population) checkSizes(op string) {
	if p.mesh.Size() != p.blocks.Size() {
		vmesh.Invariantf(op, "mesh has %d blocks, container %d", p.mesh.Size(), p.blocks.Size())
	}
}

func cellVolume(dv [3]float64) float64 { return dv[0] * dv[1] * dv[2] }
