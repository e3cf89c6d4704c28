package model

import (
	"testing"

	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

func TestSpeciesValidate(t *testing.T) {
	mesh := &vmesh.MeshParameters{Min: [3]float64{-1, -1, -1}, Max: [3]float64{1, 1, 1}, Length: [3]int{2, 2, 2}}
	if err := mesh.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	good := Species{Name: "proton", Charge: ElementaryCharge, Mass: ProtonMass, Mesh: mesh}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	bad := []Species{
		{Charge: 1, Mass: 1, Mesh: mesh},
		{Name: "massless", Mesh: mesh},
		{Name: "negative", Mass: 1, SparsityThreshold: -1, Mesh: mesh},
		{Name: "nomesh", Mass: 1},
	}
	for _, s := range bad {
		if err := s.Validate(); err == nil {
			t.Fatalf("Validate(%+v) = nil, want error", s)
		}
	}
}

func TestSpeciesListLookup(t *testing.T) {
	list := SpeciesList{{Name: "proton"}, {Name: "alpha"}}
	if id, ok := list.Lookup("alpha"); !ok || id != 1 {
		t.Fatalf("Lookup(alpha) = %d, %v; want 1, true", id, ok)
	}
	if id, ok := list.Lookup("electron"); ok || id != -1 {
		t.Fatalf("Lookup(electron) = %d, %v; want -1, false", id, ok)
	}
	if got := (Species{Charge: 2, Mass: 4}).ChargeToMass(); got != 0.5 {
		t.Fatalf("ChargeToMass = %v, want 0.5", got)
	}
}
