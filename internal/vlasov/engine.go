package vlasov

import (
	"context"
	"errors"
	"fmt"
	"math"
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
	"github.com/signalsfoundry/vlasov-sim/timectrl"
)

// ErrNoTimestep is returned when no fixed step is configured and no cell
// limits the spatial step.
var ErrNoTimestep = errors.New("no finite timestep")

// DefaultCFL is used when Options.CFL is unset.
const DefaultCFL = 0.8

// Options configures an Engine.
type Options struct {
	// Dt is a fixed step length. Zero selects CFL * the smallest spatial
	// step limit every step.
	Dt        float64
	CFL       float64
	FaceOrder semilag.FaceOrder
	Workers   int

	Clock   *timectrl.StepController
	Log     logging.Logger
	Metrics *observability.SolverCollector
}

// Engine advances every species of the local cells by one
// translate-adjust-accelerate step at a time.
type Engine struct {
	Grid        *grid.Grid
	Species     model.SpeciesList
	Translator  *Translator
	Accelerator *Accelerator
	Adjuster    *NeighborAdjuster
	Clock       *timectrl.StepController

	Dt  float64
	CFL float64

	Log     logging.Logger
	Metrics *observability.SolverCollector

	// Mass counters at the end of the previous step, per species.
	lastLoss    []float64
	lastOutflow []float64
}

// NewEngine wires the orchestrators over g.
func NewEngine(g *grid.Grid, ex grid.Exchanger, species model.SpeciesList, backend Backend, transform TransformProvider, opts Options) *Engine {
	log := opts.Log
	if log == nil {
		log = logging.Noop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = timectrl.NewStepController(time.Unix(0, 0).UTC(), 0)
	}
	cfl := opts.CFL
	if cfl <= 0 {
		cfl = DefaultCFL
	}
	adjuster := &NeighborAdjuster{Grid: g, Exchanger: ex, Backend: backend, Workers: opts.Workers}
	return &Engine{
		Grid:    g,
		Species: species,
		Translator: &Translator{
			Grid: g, Exchanger: ex, Species: species, Backend: backend,
			FaceOrder: opts.FaceOrder, Workers: opts.Workers,
			Log: log, Metrics: opts.Metrics,
		},
		Accelerator: &Accelerator{
			Grid: g, Species: species, Backend: backend, Transform: transform,
			Adjuster: adjuster, FaceOrder: opts.FaceOrder, Workers: opts.Workers,
			Log: log, Metrics: opts.Metrics,
		},
		Adjuster:    adjuster,
		Clock:       clock,
		Dt:          opts.Dt,
		CFL:         cfl,
		Log:         log,
		Metrics:     opts.Metrics,
		lastLoss:    make([]float64, len(species)),
		lastOutflow: make([]float64, len(species)),
	}
}

// RegisterStepListener adds a callback run after every completed step.
func (e *Engine) RegisterStepListener(fn func(step uint64, simTime float64)) {
	e.Clock.AddListener(fn)
}

// Run performs steps steps, stopping early on error or cancellation.
func (e *Engine) Run(ctx context.Context, steps int) error {
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Step advances the simulation by one step.
func (e *Engine) Step(ctx context.Context) error {
	step := e.Clock.Step()
	ctx, log := logging.WithStepLogger(ctx, e.Log, step)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "vlasov.Step",
		trace.WithAttributes(attribute.Int64("step", int64(step))))
	defer span.End()
	start := time.Now()

	cells := e.Grid.LocalCells()
	dt, err := e.chooseDt(cells)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Float64("dt", dt))

	for popID, species := range e.Species {
		if err := e.Translator.Translate(ctx, cells, popID, dt); err != nil {
			span.RecordError(err)
			return fmt.Errorf("step %d: %s: %w", step, species.Name, err)
		}
		res, err := e.Adjuster.Adjust(ctx, cells, popID, true)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("step %d: %s: adjust: %w", step, species.Name, err)
		}
		accRes, err := e.Accelerator.Accelerate(ctx, cells, popID, dt, step)
		res.Merge(accRes)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("step %d: %s: %w", step, species.Name, err)
		}
		e.record(popID, cells, res)
	}

	for _, id := range cells {
		c := e.Grid.Cell(id)
		for _, pop := range c.Populations {
			pop.Moments = core.InterpolateMoments(pop.MomentsR, pop.MomentsV, 0.5)
		}
	}

	e.Metrics.IncSteps()
	next, simTime := e.Clock.Advance(dt)
	log.Info(ctx, "step completed",
		logging.Float64("dt", dt),
		logging.Float64("time", simTime),
		logging.Uint64("next_step", next),
		logging.Int("cells", len(cells)),
		logging.Any("elapsed", time.Since(start)),
	)
	return nil
}

// chooseDt returns the fixed step if one is configured, otherwise CFL times
// the smallest spatial step limit of any population.
func (e *Engine) chooseDt(cells []core.CellID) (float64, error) {
	if e.Dt > 0 {
		return e.Dt, nil
	}
	size := activeCellSize(e.Grid.Geometry())
	limit := math.Inf(1)
	for _, id := range cells {
		c := e.Grid.Cell(id)
		if c == nil {
			return 0, fmt.Errorf("choose dt: %w: %d", grid.ErrNoSuchCell, id)
		}
		for _, pop := range c.Populations {
			if pop.MaxRDt <= 0 {
				pop.MaxRDt = core.MaxSpatialDt(pop, size)
			}
			limit = math.Min(limit, pop.MaxRDt)
		}
	}
	if math.IsInf(limit, 1) {
		return 0, ErrNoTimestep
	}
	return e.CFL * limit, nil
}

// record publishes the step's block and mass accounting for popID.
func (e *Engine) record(popID int, cells []core.CellID, res core.AdjustResult) {
	var loss, outflow float64
	blocks, subcycles := 0, 0
	for _, id := range cells {
		pop := e.Grid.Cell(id).Population(popID)
		loss += pop.RhoLossAdjust
		outflow += pop.Outflow
		blocks += pop.NumBlocks()
		subcycles = max(subcycles, pop.AccSubcycles)
	}
	name := e.Species[popID].Name
	e.Metrics.RecordAdjust(name, res.Added, res.Removed, loss-e.lastLoss[popID])
	e.Metrics.AddOutflow(name, outflow-e.lastOutflow[popID])
	e.Metrics.SetPopulation(name, blocks, subcycles)
	e.lastLoss[popID], e.lastOutflow[popID] = loss, outflow
}
