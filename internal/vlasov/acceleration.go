package vlasov

import (
	"cmp"
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

const tracerName = "github.com/signalsfoundry/vlasov-sim/internal/vlasov"

// Accelerator moves every local cell's distribution through velocity space.
type Accelerator struct {
	Grid      *grid.Grid
	Species   model.SpeciesList
	Backend   Backend
	Transform TransformProvider
	Adjuster  *NeighborAdjuster
	FaceOrder semilag.FaceOrder
	Workers   int

	Log     logging.Logger
	Metrics *observability.SolverCollector
}

// Accelerate advances popID of cells by dt in velocity space and refreshes
// their velocity moments. step seeds the axis order of every subcycle.
// Blocks are adjusted between subcycles, and once more at the end with empty
// blocks deleted, so callers need no adjustment of their own afterwards.
func (a *Accelerator) Accelerate(ctx context.Context, cells []core.CellID, popID int, dt float64, step uint64) (core.AdjustResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vlasov.Accelerate", trace.WithAttributes(
		attribute.String("species", a.Species[popID].Name),
		attribute.Float64("dt", dt),
		attribute.Int("cells", len(cells)),
	))
	defer span.End()
	log := a.logger()
	start := time.Now()

	var total core.AdjustResult
	if dt != 0 {
		res, maxSub, err := a.subcycle(ctx, cells, popID, dt, step)
		total = res
		if err != nil {
			span.RecordError(err)
			return total, err
		}
		span.SetAttributes(attribute.Int("subcycles", maxSub))
	}

	mass := a.Species[popID].Mass
	err := parallelFor(ctx, len(cells), a.Workers, func(i int) error {
		c := a.Grid.Cell(cells[i])
		if c == nil {
			return fmt.Errorf("accelerate: %w: %d", grid.ErrNoSuchCell, cells[i])
		}
		pop := c.Population(popID)
		pop.MomentsV = core.CalculateMoments(pop, mass)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return total, err
	}

	a.Metrics.ObservePass("accelerate", "all", time.Since(start))
	log.Debug(ctx, "acceleration done",
		logging.String("species", a.Species[popID].Name),
		logging.Int("blocks_added", total.Added),
		logging.Int("blocks_removed", total.Removed),
	)
	return total, nil
}

func (a *Accelerator) subcycle(ctx context.Context, cells []core.CellID, popID int, dt float64, step uint64) (core.AdjustResult, int, error) {
	var total core.AdjustResult

	counts := make([]int, len(cells))
	maxVdt := make([]float64, len(cells))
	maxSub := 0
	for i, id := range cells {
		c := a.Grid.Cell(id)
		if c == nil {
			return total, 0, fmt.Errorf("accelerate: %w: %d", grid.ErrNoSuchCell, id)
		}
		pop := c.Population(popID)
		maxVdt[i] = a.Transform.MaxStep(c, popID)
		pop.MaxVDt = maxVdt[i]
		counts[i] = subcycleCount(dt, maxVdt[i])
		pop.AccSubcycles = counts[i]
		maxSub = max(maxSub, counts[i])
	}

	for s := 0; s < maxSub; s++ {
		// Cells that have used up their subcycles drop out.
		var active []int
		for i, n := range counts {
			if s < n {
				active = append(active, i)
			}
		}
		order := MapOrder(step, s)

		results := make([]core.AdjustResult, len(active))
		err := parallelFor(ctx, len(active), a.Workers, func(k int) error {
			i := active[k]
			h := substep(dt, maxVdt[i], counts[i], s)
			res, err := a.accelerateCell(a.Grid.Cell(cells[i]), popID, h, order)
			results[k] = res
			return err
		})
		for _, r := range results {
			total.Merge(r)
		}
		if err != nil {
			return total, maxSub, err
		}

		if s < maxSub-1 {
			var next []core.CellID
			for _, i := range active {
				if s+1 < counts[i] {
					next = append(next, cells[i])
				}
			}
			res, err := a.Adjuster.Adjust(ctx, next, popID, false)
			total.Merge(res)
			if err != nil {
				return total, maxSub, err
			}
		}
	}

	res, err := a.Adjuster.Adjust(ctx, cells, popID, true)
	total.Merge(res)
	return total, maxSub, err
}

// subcycleCount is the number of subcycles needed to cover dt in steps of
// at most maxStep.
func subcycleCount(dt, maxStep float64) int {
	if !(maxStep > 0) || math.IsInf(maxStep, 1) || math.Abs(dt) <= maxStep {
		return 1
	}
	return int(math.Ceil(math.Abs(dt) / maxStep))
}

// substep returns the signed length of subcycle s out of n: maxStep for all
// but the last, which takes the remainder.
func substep(dt, maxStep float64, n, s int) float64 {
	if n <= 1 {
		return dt
	}
	h := maxStep
	if s == n-1 {
		h = math.Abs(dt) - float64(n-1)*maxStep
	}
	return math.Copysign(h, dt)
}

// accelerateCell runs the three axis passes of one subcycle on a single cell.
func (a *Accelerator) accelerateCell(cell *core.SpatialCell, popID int, dt float64, order [3]int) (core.AdjustResult, error) {
	var res core.AdjustResult
	pop := cell.Population(popID)
	passes, err := ShearPasses(a.Transform.StepTransform(cell, popID, dt), order)
	if err != nil {
		return res, fmt.Errorf("accelerate cell %d: %w", cell.ID, err)
	}
	for p, pass := range passes {
		target := pop.CloneZeroed()
		mapVelocityAxis(a.Backend, a.FaceOrder, pop, target, pass)
		pop.SwapContents(target)
		pop.Outflow += target.Outflow
		if p < len(passes)-1 {
			res.Merge(a.Backend.AdjustSingle(pop, false))
		}
	}
	return res, nil
}

type columnKey struct {
	level  int
	ib, ic int // block indices on the two perpendicular axes
}

// blockColumn is a run of block positions along the mapped axis. lids holds
// the resident blocks, InvalidLocalID elsewhere.
type blockColumn struct {
	key  columnKey
	lo   int
	lids []vmesh.LocalID
}

// velocityColumns groups the resident blocks of pop into columns along axis.
func velocityColumns(pop *core.Population, axis int) []blockColumn {
	params := pop.Params()
	b, c := otherAxes(axis)
	type span struct {
		lo, hi int
		blocks map[int]vmesh.LocalID
	}
	spans := make(map[columnKey]*span)
	for lid, gid := range pop.Mesh().GlobalIDs() {
		idx, ok := params.Indices(gid)
		if !ok {
			continue
		}
		key := columnKey{level: params.RefinementLevel(gid), ib: idx[b], ic: idx[c]}
		s := spans[key]
		if s == nil {
			s = &span{lo: idx[axis], hi: idx[axis], blocks: make(map[int]vmesh.LocalID)}
			spans[key] = s
		}
		s.lo = min(s.lo, idx[axis])
		s.hi = max(s.hi, idx[axis])
		s.blocks[idx[axis]] = vmesh.LocalID(lid)
	}

	cols := make([]blockColumn, 0, len(spans))
	for key, s := range spans {
		col := blockColumn{key: key, lo: s.lo, lids: make([]vmesh.LocalID, s.hi-s.lo+1)}
		for i := range col.lids {
			col.lids[i] = vmesh.InvalidLocalID
		}
		for at, lid := range s.blocks {
			col.lids[at-s.lo] = lid
		}
		cols = append(cols, col)
	}
	slices.SortFunc(cols, func(x, y blockColumn) int {
		if d := cmp.Compare(x.key.level, y.key.level); d != 0 {
			return d
		}
		if d := cmp.Compare(x.key.ic, y.key.ic); d != 0 {
			return d
		}
		return cmp.Compare(x.key.ib, y.key.ib)
	})
	return cols
}

func otherAxes(axis int) (int, int) {
	switch axis {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}

func cellIndex(axis int, along, b, c int) int {
	var idx [3]int
	ob, oc := otherAxes(axis)
	idx[axis], idx[ob], idx[oc] = along, b, c
	return vmesh.CellIndex(idx[0], idx[1], idx[2])
}

// mapVelocityAxis remaps every velocity column of src along pass.Axis and
// deposits the result into dst. Mass leaving the velocity domain is added to
// dst.Outflow.
func mapVelocityAxis(k semilag.Kernel, order semilag.FaceOrder, src, dst *core.Population, pass Pass) {
	params := src.Params()
	axis := pass.Axis
	ob, oc := otherAxes(axis)

	var (
		values []float64
		widths []float64
		edges  []float64
		coeffs []semilag.Coeffs
	)
	for _, col := range velocityColumns(src, axis) {
		level := col.key.level
		var refIdx [3]int
		refIdx[axis], refIdx[ob], refIdx[oc] = col.lo, col.key.ib, col.key.ic
		ref := params.BlockParameters(params.GlobalIDAt(level, refIdx))
		dv := ref.DV

		n := len(col.lids) * vmesh.WID
		values = slices.Grow(values[:0], n)[:n]
		widths = slices.Grow(widths[:0], n)[:n]
		edges = slices.Grow(edges[:0], n+1)[:n+1]
		for i := range widths {
			widths[i] = dv[axis]
		}
		for i := range edges {
			edges[i] = ref.VCoord[axis] + float64(i)*dv[axis]
		}
		dstGrid := semilag.UniformGrid{
			Origin: params.Min[axis],
			Width:  dv[axis],
			N:      (params.Length[axis] << level) * vmesh.WID,
		}
		area := dv[ob] * dv[oc]

		for cb := 0; cb < vmesh.WID; cb++ {
			for cc := 0; cc < vmesh.WID; cc++ {
				empty := true
				for blk, lid := range col.lids {
					for ca := 0; ca < vmesh.WID; ca++ {
						v := 0.0
						if lid != vmesh.InvalidLocalID {
							v = src.Data(lid)[cellIndex(axis, ca, cb, cc)]
						}
						values[blk*vmesh.WID+ca] = v
						empty = empty && v == 0
					}
				}
				if empty {
					continue
				}

				var x [3]float64
				x[ob] = ref.VCoord[ob] + (float64(cb)+0.5)*dv[ob]
				x[oc] = ref.VCoord[oc] + (float64(cc)+0.5)*dv[oc]

				coeffs = k.Reconstruct(values, widths, order, src.SparsityThreshold, coeffs)
				outflow := k.Map(edges, coeffs, pass.Column(x), dstGrid, func(j int, density float64) {
					var idx [3]int
					idx[axis], idx[ob], idx[oc] = j/vmesh.WID, col.key.ib, col.key.ic
					gid := params.GlobalIDAt(level, idx)
					dst.IncrementValue(gid, cellIndex(axis, j%vmesh.WID, cb, cc), density)
				})
				dst.Outflow += outflow * area
			}
		}
	}
}

func (a *Accelerator) logger() logging.Logger {
	if a.Log == nil {
		return logging.Noop()
	}
	return a.Log
}
