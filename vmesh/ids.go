// Package vmesh holds the sparse velocity-space index and the dense block
// storage that backs it.
package vmesh

import (
	"fmt"
	"math"
)

// Block edge length in velocity cells.
const (
	WID  = 4
	WID2 = WID * WID
	WID3 = WID2 * WID
)

// GlobalID identifies a velocity block by its position (and refinement
// level) in the velocity domain of a species. It is stable.
type GlobalID uint32

// LocalID is the index of a resident block in a VelocityBlockContainer.
// It is only valid until the next add or remove on the owning mesh.
type LocalID uint32

const (
	InvalidGlobalID GlobalID = math.MaxUint32
	InvalidLocalID  LocalID  = math.MaxUint32
)

// CellIndex returns the offset of velocity cell (i, j, k) inside a block.
func CellIndex(i, j, k int) int { return i + j*WID + k*WID2 }

// CellIndices is the inverse of CellIndex.
func CellIndices(c int) (i, j, k int) {
	return c % WID, (c / WID) % WID, c / WID2
}

// InvariantError reports a broken structural invariant of the velocity-space
// data structures. Values of this type are raised with panic: the
// distribution function cannot be trusted once one is observed.
type InvariantError struct {
	Op     string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("vlasov invariant violated in %s: %s", e.Op, e.Detail)
}

// Invariantf panics with an *InvariantError for op.
func Invariantf(op, format string, args ...any) {
	panic(&InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)})
}
