package vlasov

import (
	"math"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/model"
)

// TransformProvider supplies the velocity-space map of one acceleration step
// for a cell. The field solver stays outside this package; providers only
// read what it left on the cell.
type TransformProvider interface {
	// StepTransform is the map v -> v' over dt.
	StepTransform(cell *core.SpatialCell, popID int, dt float64) core.Affine
	// MaxStep is the longest dt one subcycle may cover; +Inf if unbounded.
	MaxStep(cell *core.SpatialCell, popID int) float64
}

// DefaultMaxRotationDeg limits the gyration angle of one subcycle.
const DefaultMaxRotationDeg = 22.0

// LorentzTransform advances velocities under the cell's uniform E and B:
// gyration about B in the E×B drift frame plus free acceleration by the
// field-aligned part of E.
type LorentzTransform struct {
	Species model.SpeciesList
	// Largest gyration per subcycle, degrees. Zero means DefaultMaxRotationDeg.
	MaxRotationDeg float64
	// Largest E-field velocity change per subcycle, in velocity cells. Zero
	// means one cell.
	CFL float64
}

func (l LorentzTransform) StepTransform(cell *core.SpatialCell, popID int, dt float64) core.Affine {
	qm := l.Species[popID].ChargeToMass()
	e, b := cell.Fields.E, cell.Fields.B
	bNorm := b.Norm()
	if bNorm == 0 {
		return core.TranslationAffine(e.Scale(qm * dt))
	}

	bHat := b.Scale(1 / bNorm)
	drift := e.Cross(b).Scale(1 / (bNorm * bNorm))
	ePar := bHat.Scale(e.Dot(bHat))

	// dv/dt = (q/m) v×B turns positive charges clockwise about B.
	rot := core.RotationAffine(bHat, -qm*bNorm*dt)
	rot.B = drift.Sub(rot.Apply(drift)).Add(ePar.Scale(qm * dt))
	return rot
}

func (l LorentzTransform) MaxStep(cell *core.SpatialCell, popID int) float64 {
	s := l.Species[popID]
	qm := math.Abs(s.ChargeToMass())
	maxRot := l.MaxRotationDeg
	if maxRot <= 0 {
		maxRot = DefaultMaxRotationDeg
	}
	cfl := l.CFL
	if cfl <= 0 {
		cfl = 1
	}

	dt := math.Inf(1)
	if omega := qm * cell.Fields.B.Norm(); omega > 0 {
		dt = math.Min(dt, maxRot*math.Pi/180/omega)
	}
	if accel := qm * cell.Fields.E.Norm(); accel > 0 {
		dv := s.Mesh.CellSize(0)
		minDv := math.Min(dv[0], math.Min(dv[1], dv[2]))
		dt = math.Min(dt, cfl*minDv/accel)
	}
	return dt
}
