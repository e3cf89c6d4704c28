package model

import (
	"fmt"

	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

// Physical constants in SI units.
const (
	ElementaryCharge = 1.602176634e-19
	ProtonMass       = 1.67262192369e-27
	Boltzmann        = 1.380649e-23
)

// Species describes one particle population. The list of species is fixed at
// startup; a population index (popID) is the position in SpeciesList.
type Species struct {
	Name   string
	Charge float64 // C
	Mass   float64 // kg

	// Blocks whose largest sample is below this value carry no content.
	SparsityThreshold float64

	Mesh *vmesh.MeshParameters
}

// ChargeToMass returns q/m.
func (s Species) ChargeToMass() float64 { return s.Charge / s.Mass }

// Validate checks the species is usable by the solver.
func (s Species) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("species has no name")
	}
	if s.Mass <= 0 {
		return fmt.Errorf("species %q: mass must be positive, got %g", s.Name, s.Mass)
	}
	if s.SparsityThreshold < 0 {
		return fmt.Errorf("species %q: negative sparsity threshold %g", s.Name, s.SparsityThreshold)
	}
	if !s.Mesh.Initialized() {
		return fmt.Errorf("species %q: velocity mesh not initialized", s.Name)
	}
	return nil
}

// SpeciesList is indexed by popID.
type SpeciesList []Species

// Lookup returns the popID of the named species.
func (l SpeciesList) Lookup(name string) (int, bool) {
	for i, s := range l {
		if s.Name == name {
			return i, true
		}
	}
	return -1, false
}
