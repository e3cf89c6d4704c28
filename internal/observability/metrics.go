package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SolverCollector bundles Prometheus metrics for the Vlasov solver loop and
// exposes them over HTTP.
type SolverCollector struct {
	gatherer prometheus.Gatherer

	VelocityBlocks *prometheus.GaugeVec
	BlocksAdded    *prometheus.CounterVec
	BlocksRemoved  *prometheus.CounterVec
	MassRemoved    *prometheus.CounterVec
	OutflowMass    *prometheus.CounterVec
	PassDurations  *prometheus.HistogramVec
	Subcycles      *prometheus.GaugeVec
	Steps          prometheus.Counter
}

// NewSolverCollector registers solver metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSolverCollector(reg prometheus.Registerer) (*SolverCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	blocks, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vlasov_velocity_blocks",
		Help: "Velocity blocks resident across local cells, by species.",
	}, []string{"species"}), "vlasov_velocity_blocks")
	if err != nil {
		return nil, err
	}
	added, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vlasov_blocks_added_total",
		Help: "Velocity blocks created by block adjustment.",
	}, []string{"species"}), "vlasov_blocks_added_total")
	if err != nil {
		return nil, err
	}
	removed, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vlasov_blocks_removed_total",
		Help: "Velocity blocks deleted by block adjustment.",
	}, []string{"species"}), "vlasov_blocks_removed_total")
	if err != nil {
		return nil, err
	}
	massRemoved, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vlasov_mass_removed_total",
		Help: "Mass dropped together with deleted velocity blocks.",
	}, []string{"species"}), "vlasov_mass_removed_total")
	if err != nil {
		return nil, err
	}
	outflow, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vlasov_outflow_mass_total",
		Help: "Mass carried past a spatial or velocity domain boundary.",
	}, []string{"species"}), "vlasov_outflow_mass_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vlasov_pass_duration_seconds",
		Help:    "Duration of one solver pass, labeled by phase and axis.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"phase", "axis"}), "vlasov_pass_duration_seconds")
	if err != nil {
		return nil, err
	}
	subcycles, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vlasov_acceleration_subcycles",
		Help: "Largest number of acceleration subcycles used in the last step.",
	}, []string{"species"}), "vlasov_acceleration_subcycles")
	if err != nil {
		return nil, err
	}
	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vlasov_steps_total",
		Help: "Completed solver steps.",
	}), "vlasov_steps_total")
	if err != nil {
		return nil, err
	}

	return &SolverCollector{
		gatherer:       gatherer,
		VelocityBlocks: blocks,
		BlocksAdded:    added,
		BlocksRemoved:  removed,
		MassRemoved:    massRemoved,
		OutflowMass:    outflow,
		PassDurations:  durations,
		Subcycles:      subcycles,
		Steps:          steps,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SolverCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SolverCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObservePass records the wall time of one pass. axis is "x", "y", "z" or
// "all".
func (c *SolverCollector) ObservePass(phase, axis string, d time.Duration) {
	if c == nil || c.PassDurations == nil {
		return
	}
	c.PassDurations.WithLabelValues(phase, axis).Observe(d.Seconds())
}

// RecordAdjust accumulates the outcome of block adjustment for species.
func (c *SolverCollector) RecordAdjust(species string, added, removed int, mass float64) {
	if c == nil {
		return
	}
	if c.BlocksAdded != nil && added > 0 {
		c.BlocksAdded.WithLabelValues(species).Add(float64(added))
	}
	if c.BlocksRemoved != nil && removed > 0 {
		c.BlocksRemoved.WithLabelValues(species).Add(float64(removed))
	}
	if c.MassRemoved != nil && mass > 0 {
		c.MassRemoved.WithLabelValues(species).Add(mass)
	}
}

// AddOutflow adds mass lost through a domain boundary.
func (c *SolverCollector) AddOutflow(species string, mass float64) {
	if c == nil || c.OutflowMass == nil || mass <= 0 {
		return
	}
	c.OutflowMass.WithLabelValues(species).Add(mass)
}

// SetPopulation updates the per-species gauges after a step.
func (c *SolverCollector) SetPopulation(species string, blocks, subcycles int) {
	if c == nil {
		return
	}
	if c.VelocityBlocks != nil {
		c.VelocityBlocks.WithLabelValues(species).Set(float64(blocks))
	}
	if c.Subcycles != nil {
		c.Subcycles.WithLabelValues(species).Set(float64(subcycles))
	}
}

// IncSteps counts a completed step.
func (c *SolverCollector) IncSteps() {
	if c == nil || c.Steps == nil {
		return
	}
	c.Steps.Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
