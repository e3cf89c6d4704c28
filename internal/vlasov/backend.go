// Package vlasov holds the orchestrators that move velocity distributions
// through space (translation) and through velocity space (acceleration),
// plus the step engine that drives them.
package vlasov

import (
	"errors"
	"fmt"
	"strings"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/internal/semilag"
)

// ErrUnknownBackend is returned by NewBackend for unsupported names.
var ErrUnknownBackend = errors.New("unknown vlasov backend")

// Backend is the set of per-column and per-cell kernels the orchestrators
// run. Implementations must give the same integrals as semilag.Scalar.
type Backend interface {
	semilag.Kernel

	// Adjust brings pop's resident blocks in line with its cached content
	// list and those of neighbors.
	Adjust(pop *core.Population, neighbors []*core.Population, doDeleteEmpty bool) core.AdjustResult
	// AdjustSingle refreshes pop's content list and adjusts it alone.
	AdjustSingle(pop *core.Population, doDeleteEmpty bool) core.AdjustResult
	Name() string
}

// NewBackend selects a backend by name. "" and "cpu" select the host
// implementation.
func NewBackend(name string, adj *core.BlockAdjuster) (Backend, error) {
	if adj == nil {
		adj = core.NewBlockAdjuster(1)
	}
	switch strings.ToLower(name) {
	case "", "cpu":
		return cpuBackend{adj: adj}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

type cpuBackend struct {
	semilag.Scalar
	adj *core.BlockAdjuster
}

func (b cpuBackend) Adjust(pop *core.Population, neighbors []*core.Population, doDeleteEmpty bool) core.AdjustResult {
	return b.adj.Adjust(pop, neighbors, doDeleteEmpty)
}

func (b cpuBackend) AdjustSingle(pop *core.Population, doDeleteEmpty bool) core.AdjustResult {
	return b.adj.AdjustSingle(pop, doDeleteEmpty)
}

func (cpuBackend) Name() string { return "cpu" }
