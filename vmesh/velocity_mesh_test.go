package vmesh

import "testing"

func TestVelocityMeshPushBackAndLookup(t *testing.T) {
	m := NewVelocityMesh(testParams(t, 0))

	for gid := GlobalID(0); gid < 5; gid++ {
		if !m.PushBack(gid * 3) {
			t.Fatalf("PushBack(%d) = false, want true", gid*3)
		}
	}
	if m.PushBack(6) {
		t.Fatalf("PushBack of duplicate succeeded")
	}
	if m.PushBack(InvalidGlobalID) {
		t.Fatalf("PushBack of sentinel succeeded")
	}
	if m.PushBack(m.Parameters().MaxGlobalID()) {
		t.Fatalf("PushBack past the domain succeeded")
	}
	if m.Size() != 5 {
		t.Fatalf("Size = %d, want 5", m.Size())
	}
	if lid := m.LocalID(9); lid != 3 {
		t.Fatalf("LocalID(9) = %d, want 3", lid)
	}
	if lid := m.LocalID(10); lid != InvalidLocalID {
		t.Fatalf("LocalID(absent) = %d, want sentinel", lid)
	}
	if gid := m.GlobalID(42); gid != InvalidGlobalID {
		t.Fatalf("GlobalID(out of range) = %d, want sentinel", gid)
	}
	if err := m.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestVelocityMeshSwapRemove(t *testing.T) {
	m := NewVelocityMesh(testParams(t, 0))
	for _, gid := range []GlobalID{10, 11, 12, 13} {
		m.PushBack(gid)
	}

	// Remove block 11 (lid 1) by moving the last block into its slot.
	last := LocalID(m.Size() - 1)
	m.Copy(last, m.LocalID(11))
	m.Pop()

	if m.Has(11) {
		t.Fatalf("block 11 still resident after removal")
	}
	if lid := m.LocalID(13); lid != 1 {
		t.Fatalf("LocalID(13) = %d, want 1", lid)
	}
	if err := m.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}

	// Removing the last block is the degenerate Copy(last, last).
	last = LocalID(m.Size() - 1)
	m.Copy(last, last)
	m.Pop()
	if m.Has(12) || m.Size() != 2 {
		t.Fatalf("after removing last: Has(12)=%v Size=%d", m.Has(12), m.Size())
	}
	if err := m.Check(); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestVelocityMeshPushBackManyIsAtomic(t *testing.T) {
	m := NewVelocityMesh(testParams(t, 0))
	m.PushBack(5)

	if m.PushBackMany([]GlobalID{1, 2, 5}) {
		t.Fatalf("PushBackMany with resident id succeeded")
	}
	if m.PushBackMany([]GlobalID{1, 2, 1}) {
		t.Fatalf("PushBackMany with duplicate id succeeded")
	}
	if m.Size() != 1 {
		t.Fatalf("Size after failed batch = %d, want 1", m.Size())
	}
	if !m.PushBackMany([]GlobalID{1, 2, 3}) {
		t.Fatalf("PushBackMany = false, want true")
	}
	if m.LocalID(3) != 3 {
		t.Fatalf("LocalID(3) = %d, want 3", m.LocalID(3))
	}
}

func TestVelocityMeshRespectsBlockCap(t *testing.T) {
	p := testParams(t, 0)
	p.MaxBlocks = 2
	m := NewVelocityMesh(p)

	if !m.PushBack(0) || !m.PushBack(1) {
		t.Fatalf("PushBack under cap failed")
	}
	if m.PushBack(2) {
		t.Fatalf("PushBack over cap succeeded")
	}
}

func TestVelocityMeshClearAndSwap(t *testing.T) {
	a := NewVelocityMesh(testParams(t, 0))
	b := NewVelocityMesh(testParams(t, 0))
	a.PushBack(1)
	a.PushBack(2)
	b.PushBack(7)

	a.Swap(b)
	if a.Size() != 1 || !a.Has(7) || b.Size() != 2 {
		t.Fatalf("Swap: a=%d b=%d", a.Size(), b.Size())
	}
	b.Clear()
	if b.Size() != 0 || b.Has(1) {
		t.Fatalf("Clear left %d blocks", b.Size())
	}
}
