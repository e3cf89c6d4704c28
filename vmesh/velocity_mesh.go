package vmesh

import "fmt"

// VelocityMesh is the sparse topology of one population: a hashed
// GlobalID→LocalID table plus the dense LocalID→GlobalID array.
//
// gidToLid[lidToGid[i]] == i holds for every resident i, and both
// structures always have the same size.
type VelocityMesh struct {
	params   *MeshParameters
	gidToLid map[GlobalID]LocalID
	lidToGid []GlobalID
}

// NewVelocityMesh returns an empty mesh over params.
func NewVelocityMesh(params *MeshParameters) *VelocityMesh {
	return &VelocityMesh{
		params:   params,
		gidToLid: make(map[GlobalID]LocalID),
	}
}

// Parameters returns the shared geometry of the mesh.
func (m *VelocityMesh) Parameters() *MeshParameters { return m.params }

// LocalID returns the slot of gid, or InvalidLocalID if gid is not resident.
func (m *VelocityMesh) LocalID(gid GlobalID) LocalID {
	if lid, ok := m.gidToLid[gid]; ok {
		return lid
	}
	return InvalidLocalID
}

// GlobalID returns the block stored in slot lid, or InvalidGlobalID.
func (m *VelocityMesh) GlobalID(lid LocalID) GlobalID {
	if int(lid) >= len(m.lidToGid) {
		return InvalidGlobalID
	}
	return m.lidToGid[lid]
}

// Has reports whether gid is resident.
func (m *VelocityMesh) Has(gid GlobalID) bool {
	_, ok := m.gidToLid[gid]
	return ok
}

// GlobalIDs exposes the resident blocks in LocalID order. The slice is owned
// by the mesh and is invalidated by any mutation.
func (m *VelocityMesh) GlobalIDs() []GlobalID { return m.lidToGid }

func (m *VelocityMesh) full(extra int) bool {
	if m.params != nil && m.params.MaxBlocks > 0 && len(m.lidToGid)+extra > m.params.MaxBlocks {
		return true
	}
	return uint64(len(m.lidToGid)+extra) >= uint64(InvalidLocalID)
}

func (m *VelocityMesh) validGlobalID(gid GlobalID) bool {
	if gid == InvalidGlobalID {
		return false
	}
	return m.params == nil || !m.params.initialized || gid < m.params.MaxGlobalID()
}

// PushBack appends gid at the next LocalID. It fails without mutating the
// mesh when gid is invalid, already resident, or the mesh is full.
func (m *VelocityMesh) PushBack(gid GlobalID) bool {
	if !m.validGlobalID(gid) || m.Has(gid) || m.full(1) {
		return false
	}
	m.gidToLid[gid] = LocalID(len(m.lidToGid))
	m.lidToGid = append(m.lidToGid, gid)
	return true
}

// PushBackMany appends all gids or none of them.
func (m *VelocityMesh) PushBackMany(gids []GlobalID) bool {
	if m.full(len(gids)) {
		return false
	}
	seen := make(map[GlobalID]struct{}, len(gids))
	for _, gid := range gids {
		if !m.validGlobalID(gid) || m.Has(gid) {
			return false
		}
		if _, dup := seen[gid]; dup {
			return false
		}
		seen[gid] = struct{}{}
	}
	for _, gid := range gids {
		m.gidToLid[gid] = LocalID(len(m.lidToGid))
		m.lidToGid = append(m.lidToGid, gid)
	}
	return true
}

// Copy moves the block at src into slot dst, forgetting whatever dst held.
// It is the first half of swap-remove; Pop completes it.
func (m *VelocityMesh) Copy(src, dst LocalID) {
	if debugChecks {
		m.checkLocalID("VelocityMesh.Copy", src)
		m.checkLocalID("VelocityMesh.Copy", dst)
	}
	srcGID := m.lidToGid[src]
	dstGID := m.lidToGid[dst]
	delete(m.gidToLid, dstGID)
	m.gidToLid[srcGID] = dst
	m.lidToGid[dst] = srcGID
}

// Pop drops the last slot. The hash entry is removed only if it still points
// at that slot, so Copy(last, x) followed by Pop keeps x mapped.
func (m *VelocityMesh) Pop() {
	if len(m.lidToGid) == 0 {
		return
	}
	last := LocalID(len(m.lidToGid) - 1)
	gid := m.lidToGid[last]
	if lid, ok := m.gidToLid[gid]; ok && lid == last {
		delete(m.gidToLid, gid)
	}
	m.lidToGid = m.lidToGid[:last]
}

// Size is the number of resident blocks.
func (m *VelocityMesh) Size() int { return len(m.lidToGid) }

// Capacity is the number of blocks the dense array holds without growing.
func (m *VelocityMesh) Capacity() int { return cap(m.lidToGid) }

// Clear drops every block and releases the storage.
func (m *VelocityMesh) Clear() {
	m.gidToLid = make(map[GlobalID]LocalID)
	m.lidToGid = nil
}

// Swap exchanges the contents of two meshes.
func (m *VelocityMesh) Swap(other *VelocityMesh) {
	m.params, other.params = other.params, m.params
	m.gidToLid, other.gidToLid = other.gidToLid, m.gidToLid
	m.lidToGid, other.lidToGid = other.lidToGid, m.lidToGid
}

// Clone returns a deep copy sharing the same parameters.
func (m *VelocityMesh) Clone() *VelocityMesh {
	out := &VelocityMesh{
		params:   m.params,
		gidToLid: make(map[GlobalID]LocalID, len(m.gidToLid)),
		lidToGid: append([]GlobalID(nil), m.lidToGid...),
	}
	for gid, lid := range m.gidToLid {
		out.gidToLid[gid] = lid
	}
	return out
}

// Check verifies the bidirectional mapping.
func (m *VelocityMesh) Check() error {
	if len(m.gidToLid) != len(m.lidToGid) {
		return fmt.Errorf("velocity mesh: %d hashed ids but %d dense ids", len(m.gidToLid), len(m.lidToGid))
	}
	for lid, gid := range m.lidToGid {
		got, ok := m.gidToLid[gid]
		if !ok {
			return fmt.Errorf("velocity mesh: block %d at local id %d missing from hash", gid, lid)
		}
		if got != LocalID(lid) {
			return fmt.Errorf("velocity mesh: block %d maps to local id %d, stored at %d", gid, got, lid)
		}
	}
	return nil
}

func (m *VelocityMesh) checkLocalID(op string, lid LocalID) {
	if int(lid) >= len(m.lidToGid) {
		Invariantf(op, "local id %d out of range [0, %d)", lid, len(m.lidToGid))
	}
}
