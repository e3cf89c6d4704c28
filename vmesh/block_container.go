package vmesh

// BlockParameters is the geometry stored with each resident block.
type BlockParameters struct {
	VCoord [3]float64 // minimum velocity corner
	DV     [3]float64 // cell width per axis
}

// VelocityBlockContainer stores the samples of resident blocks contiguously,
// WID3 values per block, index-aligned with a VelocityMesh.
type VelocityBlockContainer struct {
	data   []float64
	params []BlockParameters
}

// NewVelocityBlockContainer returns an empty container.
func NewVelocityBlockContainer() *VelocityBlockContainer {
	return &VelocityBlockContainer{}
}

func (c *VelocityBlockContainer) reserve(n int) {
	if n <= cap(c.params) {
		return
	}
	newCap := 2 * cap(c.params)
	if newCap < n {
		newCap = n
	}
	if newCap < 8 {
		newCap = 8
	}
	c.realloc(newCap)
}

// realloc moves the slots into fresh storage of capacity slots. data and
// params always share one slot capacity.
func (c *VelocityBlockContainer) realloc(capacity int) {
	data := make([]float64, len(c.data), capacity*WID3)
	copy(data, c.data)
	params := make([]BlockParameters, len(c.params), capacity)
	copy(params, c.params)
	c.data, c.params = data, params
}

// PushBack appends one zeroed slot and returns its LocalID.
func (c *VelocityBlockContainer) PushBack() LocalID {
	return c.PushBackN(1)
}

// PushBackN appends n zeroed slots and returns the first new LocalID.
func (c *VelocityBlockContainer) PushBackN(n int) LocalID {
	first := len(c.params)
	if n <= 0 {
		return LocalID(first)
	}
	c.reserve(first + n)
	c.data = c.data[:(first+n)*WID3]
	c.params = c.params[:first+n]
	// Reslicing exposes whatever a previous Pop left behind.
	clear(c.data[first*WID3:])
	clear(c.params[first:])
	return LocalID(first)
}

// Data returns the WID3 samples of slot lid. The slice aliases the container.
func (c *VelocityBlockContainer) Data(lid LocalID) []float64 {
	if debugChecks {
		c.checkLocalID("VelocityBlockContainer.Data", lid)
	}
	off := int(lid) * WID3
	return c.data[off : off+WID3 : off+WID3]
}

// Parameters returns the geometry record of slot lid.
func (c *VelocityBlockContainer) Parameters(lid LocalID) *BlockParameters {
	if debugChecks {
		c.checkLocalID("VelocityBlockContainer.Parameters", lid)
	}
	return &c.params[lid]
}

// Copy overwrites slot dst with the samples and geometry of slot src.
func (c *VelocityBlockContainer) Copy(src, dst LocalID) {
	if debugChecks {
		c.checkLocalID("VelocityBlockContainer.Copy", src)
		c.checkLocalID("VelocityBlockContainer.Copy", dst)
	}
	if src == dst {
		return
	}
	copy(c.data[int(dst)*WID3:int(dst+1)*WID3], c.data[int(src)*WID3:int(src+1)*WID3])
	c.params[dst] = c.params[src]
}

// Pop drops the last slot without releasing storage.
func (c *VelocityBlockContainer) Pop() {
	n := len(c.params)
	if n == 0 {
		return
	}
	c.params = c.params[:n-1]
	c.data = c.data[:(n-1)*WID3]
}

// Size is the number of slots in use.
func (c *VelocityBlockContainer) Size() int { return len(c.params) }

// Capacity is the number of slots available without reallocation.
func (c *VelocityBlockContainer) Capacity() int { return cap(c.params) }

// Clear drops every slot and releases storage.
func (c *VelocityBlockContainer) Clear() {
	c.data = nil
	c.params = nil
}

// ShrinkToFit reallocates storage to the current size.
func (c *VelocityBlockContainer) ShrinkToFit() {
	c.realloc(len(c.params))
}

// Swap exchanges the contents of two containers.
func (c *VelocityBlockContainer) Swap(other *VelocityBlockContainer) {
	c.data, other.data = other.data, c.data
	c.params, other.params = other.params, c.params
}

// Clone returns a deep copy trimmed to the current size.
func (c *VelocityBlockContainer) Clone() *VelocityBlockContainer {
	out := &VelocityBlockContainer{data: c.data, params: c.params}
	out.realloc(len(c.params))
	return out
}

func (c *VelocityBlockContainer) checkLocalID(op string, lid LocalID) {
	if int(lid) >= len(c.params) {
		Invariantf(op, "local id %d out of range [0, %d)", lid, len(c.params))
	}
}
