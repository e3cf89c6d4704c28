package vlasov

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/internal/grid"
	"github.com/signalsfoundry/vlasov-sim/internal/logging"
	"github.com/signalsfoundry/vlasov-sim/internal/observability"
	"github.com/signalsfoundry/vlasov-sim/internal/semilag"
	"github.com/signalsfoundry/vlasov-sim/model"
	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

var axisNames = [3]string{"x", "y", "z"}

// Translator moves every local cell's distribution through physical space,
// one axis at a time.
type Translator struct {
	Grid      *grid.Grid
	Exchanger grid.Exchanger
	Species   model.SpeciesList
	Backend   Backend
	FaceOrder semilag.FaceOrder
	Workers   int

	Log     logging.Logger
	Metrics *observability.SolverCollector
}

// pencilOutput is what one pencil deposits, keyed by destination cell.
type pencilOutput struct {
	targets map[core.CellID]*core.Population
	order   []core.CellID
}

// Translate advances popID of cells by dt along x, y and z in turn, then
// refreshes their real-space moments and spatial step limit.
func (t *Translator) Translate(ctx context.Context, cells []core.CellID, popID int, dt float64) error {
	species := t.Species[popID]
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vlasov.Translate", trace.WithAttributes(
		attribute.String("species", species.Name),
		attribute.Float64("dt", dt),
		attribute.Int("cells", len(cells)),
	))
	defer span.End()
	log := t.logger()

	if limit := t.maxRDt(cells, popID); dt > limit {
		log.Warn(ctx, "translation step exceeds spatial CFL limit",
			logging.String("species", species.Name),
			logging.Float64("dt", dt),
			logging.Float64("max_dt", limit),
		)
	}

	geom := t.Grid.Geometry()
	if dt != 0 {
		for axis := 0; axis < 3; axis++ {
			if geom.Dims[axis] == 1 {
				continue
			}
			if err := t.translateAxis(ctx, cells, popID, axis, dt); err != nil {
				span.RecordError(err)
				return err
			}
		}
	}

	cellSize := activeCellSize(geom)
	err := parallelFor(ctx, len(cells), t.Workers, func(i int) error {
		c := t.Grid.Cell(cells[i])
		if c == nil {
			return fmt.Errorf("translate: %w: %d", grid.ErrNoSuchCell, cells[i])
		}
		pop := c.Population(popID)
		pop.MomentsR = core.CalculateMoments(pop, species.Mass)
		pop.MaxRDt = core.MaxSpatialDt(pop, cellSize)
		return nil
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (t *Translator) translateAxis(ctx context.Context, cells []core.CellID, popID, axis int, dt float64) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vlasov.TranslateAxis",
		trace.WithAttributes(attribute.String("axis", axisNames[axis])))
	defer span.End()
	start := time.Now()

	pencils := t.Grid.Pencils(axis, cells)
	var stencil []core.CellID
	for _, p := range pencils {
		stencil = append(stencil, p.SourceLine()...)
	}
	if err := t.Exchanger.SyncVelocityBlocks(ctx, stencil, axis, popID, grid.TransferBlockData); err != nil {
		return fmt.Errorf("translate %s: exchange ghosts: %w", axisNames[axis], err)
	}

	outputs := make([]pencilOutput, len(pencils))
	err := parallelFor(ctx, len(pencils), t.Workers, func(i int) error {
		out, err := t.mapPencil(pencils[i], popID, dt)
		outputs[i] = out
		return err
	})
	if err != nil {
		return err
	}

	// Every pencil has finished; contributions are grouped per destination
	// in pencil order.
	mapped := make(map[core.CellID]bool, len(cells))
	for _, id := range cells {
		mapped[id] = true
	}
	byTarget := make(map[core.CellID][]*core.Population)
	var targets []core.CellID
	for _, out := range outputs {
		for _, id := range out.order {
			if _, ok := byTarget[id]; !ok {
				targets = append(targets, id)
			}
			byTarget[id] = append(byTarget[id], out.targets[id])
		}
	}
	// Mapped cells that received nothing are emptied.
	for _, id := range cells {
		if _, ok := byTarget[id]; !ok {
			byTarget[id] = nil
			targets = append(targets, id)
		}
	}
	slices.Sort(targets)

	var remote []grid.Contribution
	var local []core.CellID
	for _, id := range targets {
		if t.Grid.IsLocal(id) {
			local = append(local, id)
			continue
		}
		for _, pop := range byTarget[id] {
			remote = append(remote, grid.Contribution{Target: id, Pop: pop})
		}
	}

	err = parallelFor(ctx, len(local), t.Workers, func(i int) error {
		id := local[i]
		c := t.Grid.Cell(id)
		if c == nil {
			return fmt.Errorf("translate %s: %w: %d", axisNames[axis], grid.ErrNoSuchCell, id)
		}
		pop := c.Population(popID)
		if !mapped[id] {
			// Not part of this pass; it only receives inflow.
			for _, contrib := range byTarget[id] {
				pop.Accumulate(contrib)
			}
			return nil
		}
		next := pop.CloneEmpty()
		for _, contrib := range byTarget[id] {
			next.Accumulate(contrib)
		}
		pop.SwapContents(next)
		pop.Outflow += next.Outflow
		return nil
	})
	if err != nil {
		return err
	}

	if len(remote) > 0 {
		if err := t.Exchanger.FoldRemoteContributions(ctx, axis, popID, remote); err != nil {
			return fmt.Errorf("translate %s: fold remote contributions: %w", axisNames[axis], err)
		}
	}

	t.Metrics.ObservePass("translate", axisNames[axis], time.Since(start))
	return nil
}

// mapPencil remaps every velocity cell of the pencil's own cells along the
// pencil and returns the deposits per destination cell.
func (t *Translator) mapPencil(p grid.Pencil, popID int, dt float64) (pencilOutput, error) {
	out := pencilOutput{targets: make(map[core.CellID]*core.Population)}
	axis := p.Axis
	dx := t.Grid.Geometry().CellSize.Component(axis)

	source := p.SourceLine()
	pops := make([]*core.Population, len(source))
	for i, id := range source {
		pops[i] = t.Exchanger.Source(id, popID)
	}
	first := pops[2]
	if first == nil {
		return out, fmt.Errorf("translate %s: %w: pencil cell %d", axisNames[axis], grid.ErrNoSuchCell, p.Cells[0])
	}

	targetLine := p.TargetLine()
	buffers := make([]*core.Population, len(targetLine))
	for j, id := range targetLine {
		if id == 0 {
			continue
		}
		buf, ok := out.targets[id]
		if !ok {
			buf = first.CloneEmpty()
			out.targets[id] = buf
			out.order = append(out.order, id)
		}
		buffers[j] = buf
	}
	firstBuf, lastBuf := out.targets[p.Cells[0]], out.targets[p.Cells[len(p.Cells)-1]]

	// Blocks to move: the union over the pencil's own cells.
	seen := make(map[vmesh.GlobalID]bool)
	var gids []vmesh.GlobalID
	for _, pop := range pops[2 : len(pops)-2] {
		if pop == nil {
			continue
		}
		for _, gid := range pop.Mesh().GlobalIDs() {
			if !seen[gid] {
				seen[gid] = true
				gids = append(gids, gid)
			}
		}
	}
	slices.Sort(gids)

	n := len(source)
	values := make([]float64, n)
	widths := make([]float64, n)
	edges := make([]float64, n+1)
	for i := range widths {
		widths[i] = dx
	}
	for i := range edges {
		edges[i] = float64(i) * dx
	}
	dst := semilag.UniformGrid{Origin: dx, Width: dx, N: len(targetLine)}
	var coeffs []semilag.Coeffs

	params := first.Params()
	for _, gid := range gids {
		bp := params.BlockParameters(gid)
		dv3 := bp.DV[0] * bp.DV[1] * bp.DV[2]
		for cell := 0; cell < vmesh.WID3; cell++ {
			empty := true
			for i, pop := range pops {
				values[i] = 0
				if pop != nil {
					values[i] = pop.Value(gid, cell)
				}
				if i >= 2 && i < n-2 && values[i] != 0 {
					empty = false
				}
			}
			if empty {
				continue
			}

			v := core.CellCenter(&bp, cell)[axis]
			coeffs = t.Backend.Reconstruct(values, widths, t.FaceOrder, first.SparsityThreshold, coeffs)
			// Only the pencil's own cells move; the outer two on each side
			// only shape the reconstruction.
			lost := t.Backend.Map(edges[2:n-1], coeffs[2:n-2], semilag.Linear1D{Scale: 1, Shift: v * dt}, dst,
				func(j int, density float64) {
					if buf := buffers[j]; buf != nil {
						buf.IncrementValue(gid, cell, density)
						return
					}
					edgeBuf := firstBuf
					if j > 0 {
						edgeBuf = lastBuf
					}
					edgeBuf.Outflow += density * dv3
				})
			if lost != 0 {
				edgeBuf := lastBuf
				if v < 0 {
					edgeBuf = firstBuf
				}
				edgeBuf.Outflow += lost / dx * dv3
			}
		}
	}
	return out, nil
}

// maxRDt is the smallest spatial step limit among cells, or +Inf if none
// has been computed yet.
func (t *Translator) maxRDt(cells []core.CellID, popID int) float64 {
	limit := math.Inf(1)
	for _, id := range cells {
		if c := t.Grid.Cell(id); c != nil {
			if d := c.Population(popID).MaxRDt; d > 0 {
				limit = math.Min(limit, d)
			}
		}
	}
	return limit
}

// activeCellSize is the cell size with single-cell axes zeroed, so that
// MaxSpatialDt ignores them.
func activeCellSize(geom grid.Geometry) core.Vec3 {
	size := geom.CellSize.Array()
	for axis := 0; axis < 3; axis++ {
		if geom.Dims[axis] == 1 {
			size[axis] = 0
		}
	}
	return core.Vec3FromArray(size)
}

func (t *Translator) logger() logging.Logger {
	if t.Log == nil {
		return logging.Noop()
	}
	return t.Log
}
