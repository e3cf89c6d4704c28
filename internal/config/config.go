// Package config reads the run parameter file and turns it into the
// solver's types.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/gcfg.v1"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/internal/grid"
	"github.com/signalsfoundry/vlasov-sim/internal/logging"
	"github.com/signalsfoundry/vlasov-sim/internal/observability"
	"github.com/signalsfoundry/vlasov-sim/internal/project"
	"github.com/signalsfoundry/vlasov-sim/internal/semilag"
	"github.com/signalsfoundry/vlasov-sim/model"
	"github.com/signalsfoundry/vlasov-sim/vmesh"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const ExampleFile = `[Simulation]

#######################
# Required Parameters #
#######################

# Number of steps to run.
Steps = 10

#######################
# Optional Parameters #
#######################

# Fixed step length in seconds. If Dt is zero or unset, every step uses CFL
# times the largest stable translation step.
# Dt = 0
# CFL = 0.8

# Worker goroutines per parallel loop. Zero uses GOMAXPROCS.
# Workers = 0

# Face-value estimate of the reconstruction, h2 or h4.
# FaceOrder = h4

# Only cpu is available.
# Backend = cpu

# Width of the block halo kept around content. Zero derives it from CFL.
# HaloWidth = 0

# Largest gyration per acceleration subcycle, degrees.
# MaxRotation = 22

[Grid]

# Spatial cells per axis. An axis with a single cell is not translated.
XCells = 16
YCells = 1
ZCells = 1

# Domain extent in metres.
XMin = 0
XMax = 1.6e6
YMin = 0
YMax = 1e5
ZMin = 0
ZMax = 1e5

# XPeriodic = true
# YPeriodic = false
# ZPeriodic = false

[Fields]

# Uniform electric (V/m) and magnetic (T) field seen by every cell.
# Ex = 0
# Ey = 0
# Ez = 0
Bx = 0
By = 0
Bz = 5e-9

[Species "proton"]

# Charge in elementary charges and mass in proton masses.
Charge = 1
Mass = 1

# Samples below this phase-space density do not count as content.
SparsityThreshold = 1e-15

# Velocity domain [VMin, VMax] on every axis in m/s, with Blocks blocks of
# 4^3 cells per axis.
VMin = -2e6
VMax = 2e6
Blocks = 25

# Initial Maxwellian.
Density = 1e6
Temperature = 1e5
VxBulk = 2e5
# VyBulk = 0
# VzBulk = 0

#######################
# Optional Parameters #
#######################

# MaxRefinement = 0
# MaxBlocks = 0
# Samples = 1
# Rescale = false

[Logging]
# Level = info
# Format = text

[Tracing]
# Enabled = false
# Exporter = stdout
# Endpoint = localhost:4317
# ServiceName = vlasov-sim
# SampleRatio = 1

[Metrics]
# Address = :9090

[Status]
# gRPC health endpoint; unset disables it.
# Address = :50051`

// SimulationConfig holds run control parameters.
type SimulationConfig struct {
	// Required
	Steps int

	// Optional
	Dt, CFL     float64
	Workers     int
	FaceOrder   string
	Backend     string
	HaloWidth   int
	MaxRotation float64
}

// GridConfig is the spatial domain.
type GridConfig struct {
	XCells, YCells, ZCells          int
	XMin, XMax, YMin, YMax          float64
	ZMin, ZMax                      float64
	XPeriodic, YPeriodic, ZPeriodic bool
}

// FieldsConfig is a uniform electromagnetic field.
type FieldsConfig struct {
	Ex, Ey, Ez float64
	Bx, By, Bz float64
}

// SpeciesConfig describes one species and its initial distribution.
type SpeciesConfig struct {
	// Required
	Charge, Mass      float64
	SparsityThreshold float64
	VMin, VMax        float64
	Blocks            int

	Density, Temperature   float64
	VxBulk, VyBulk, VzBulk float64

	// Optional
	MaxRefinement int
	MaxBlocks     int
	Samples       int
	Rescale       bool
}

type LoggingConfig struct {
	Level, Format string
}

type TracingConfig struct {
	Enabled     bool
	Exporter    string
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

type MetricsConfig struct {
	Address string
}

type StatusConfig struct {
	Address string
}

// Config is the whole parameter file.
type Config struct {
	Simulation SimulationConfig
	Grid       GridConfig
	Fields     FieldsConfig
	Species    map[string]*SpeciesConfig
	Logging    LoggingConfig
	Tracing    TracingConfig
	Metrics    MetricsConfig
	Status     StatusConfig
}

// Default returns the values used for every parameter the file leaves out.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			CFL:         0.8,
			FaceOrder:   "h4",
			Backend:     "cpu",
			MaxRotation: 22,
		},
		Grid: GridConfig{XCells: 1, YCells: 1, ZCells: 1, XMax: 1, YMax: 1, ZMax: 1},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			ServiceName: "vlasov-sim",
			SampleRatio: 1,
		},
	}
}

// ReadFile parses fname over the defaults, applies environment overrides
// and validates the result.
func ReadFile(fname string) (*Config, error) {
	cfg := Default()
	if err := gcfg.ReadFileInto(cfg, fname); err != nil {
		return nil, err
	}
	return finish(cfg)
}

// ReadString is ReadFile for an in-memory file.
func ReadString(s string) (*Config, error) {
	cfg := Default()
	if err := gcfg.ReadStringInto(cfg, s); err != nil {
		return nil, err
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from VLASOV_LOG_*, VLASOV_TRACING_*,
// VLASOV_METRICS_ADDR, VLASOV_GRPC_ADDR and VLASOV_WORKERS.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("VLASOV_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VLASOV_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	t := observability.ApplyTracingEnv(c.TracingConfig())
	c.Tracing = TracingConfig{
		Enabled:     t.Enabled,
		Exporter:    t.Exporter,
		Endpoint:    t.Endpoint,
		ServiceName: t.ServiceName,
		SampleRatio: t.SampleRatio,
	}
	if v := os.Getenv("VLASOV_METRICS_ADDR"); v != "" {
		c.Metrics.Address = v
	}
	if v := os.Getenv("VLASOV_GRPC_ADDR"); v != "" {
		c.Status.Address = v
	}
	if v := os.Getenv("VLASOV_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Simulation.Workers = n
		}
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Simulation.CheckInit(); err != nil {
		return err
	}
	if err := c.Grid.CheckInit(); err != nil {
		return err
	}
	if len(c.Species) == 0 {
		return fmt.Errorf("%w: need at least one [Species \"name\"] section", ErrInvalid)
	}
	for _, name := range c.SpeciesNames() {
		if err := c.Species[name].CheckInit(name); err != nil {
			return err
		}
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: Tracing.SampleRatio must be in [0, 1], but is %g", ErrInvalid, r)
	}
	return nil
}

func (s *SimulationConfig) CheckInit() error {
	if s.Steps < 0 {
		return fmt.Errorf("%w: Simulation.Steps must be non-negative, but is %d", ErrInvalid, s.Steps)
	}
	if s.Dt < 0 {
		return fmt.Errorf("%w: Simulation.Dt must be non-negative, but is %g", ErrInvalid, s.Dt)
	}
	if s.Dt == 0 && !(s.CFL > 0) {
		return fmt.Errorf("%w: Simulation.CFL must be positive when Dt is unset, but is %g", ErrInvalid, s.CFL)
	}
	if _, err := semilag.ParseFaceOrder(s.FaceOrder); err != nil {
		return fmt.Errorf("%w: Simulation.FaceOrder: %v", ErrInvalid, err)
	}
	if b := strings.ToLower(s.Backend); b != "" && b != "cpu" {
		return fmt.Errorf("%w: Simulation.Backend '%s' is not supported", ErrInvalid, s.Backend)
	}
	if s.HaloWidth < 0 {
		return fmt.Errorf("%w: Simulation.HaloWidth must be non-negative, but is %d", ErrInvalid, s.HaloWidth)
	}
	if s.MaxRotation < 0 || s.MaxRotation >= 90 {
		return fmt.Errorf("%w: Simulation.MaxRotation must be in [0, 90), but is %g", ErrInvalid, s.MaxRotation)
	}
	return nil
}

func (g *GridConfig) CheckInit() error {
	cells := [3]int{g.XCells, g.YCells, g.ZCells}
	lo := [3]float64{g.XMin, g.YMin, g.ZMin}
	hi := [3]float64{g.XMax, g.YMax, g.ZMax}
	for a, name := range []string{"X", "Y", "Z"} {
		if cells[a] <= 0 {
			return fmt.Errorf("%w: Grid.%sCells must be positive, but is %d", ErrInvalid, name, cells[a])
		}
		if !(hi[a] > lo[a]) {
			return fmt.Errorf("%w: Grid.%sMax (%g) must exceed Grid.%sMin (%g)", ErrInvalid, name, hi[a], name, lo[a])
		}
	}
	return nil
}

func (s *SpeciesConfig) CheckInit(name string) error {
	if !(s.Mass > 0) {
		return fmt.Errorf("%w: need a positive Mass for Species '%s'", ErrInvalid, name)
	}
	if s.SparsityThreshold < 0 {
		return fmt.Errorf("%w: Species '%s' given a negative SparsityThreshold, %g", ErrInvalid, name, s.SparsityThreshold)
	}
	if !(s.VMax > s.VMin) {
		return fmt.Errorf("%w: VMax of Species '%s' (%g) must exceed VMin (%g)", ErrInvalid, name, s.VMax, s.VMin)
	}
	if s.Blocks <= 0 {
		return fmt.Errorf("%w: need a positive Blocks count for Species '%s'", ErrInvalid, name)
	}
	if s.MaxRefinement < 0 || s.MaxBlocks < 0 || s.Samples < 0 {
		return fmt.Errorf("%w: Species '%s' has a negative MaxRefinement, MaxBlocks or Samples", ErrInvalid, name)
	}
	if s.Density < 0 {
		return fmt.Errorf("%w: Species '%s' given a negative Density, %g", ErrInvalid, name, s.Density)
	}
	if s.Density > 0 && !(s.Temperature > 0) {
		return fmt.Errorf("%w: need a positive Temperature for Species '%s'", ErrInvalid, name)
	}
	return nil
}

// SpeciesNames returns the configured species in population order.
func (c *Config) SpeciesNames() []string {
	names := make([]string, 0, len(c.Species))
	for name := range c.Species {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// BuildSpecies returns the species list and, index for index, the initial
// distribution of each species.
func (c *Config) BuildSpecies() (model.SpeciesList, []project.Maxwellian, error) {
	names := c.SpeciesNames()
	species := make(model.SpeciesList, 0, len(names))
	dists := make([]project.Maxwellian, 0, len(names))
	for _, name := range names {
		sc := c.Species[name]
		mesh := &vmesh.MeshParameters{
			Name:               name,
			Min:                [3]float64{sc.VMin, sc.VMin, sc.VMin},
			Max:                [3]float64{sc.VMax, sc.VMax, sc.VMax},
			Length:             [3]int{sc.Blocks, sc.Blocks, sc.Blocks},
			MaxRefinementLevel: sc.MaxRefinement,
			MaxBlocks:          sc.MaxBlocks,
		}
		if err := mesh.Initialize(); err != nil {
			return nil, nil, fmt.Errorf("species %q: %w", name, err)
		}
		s := model.Species{
			Name:              name,
			Charge:            sc.Charge * model.ElementaryCharge,
			Mass:              sc.Mass * model.ProtonMass,
			SparsityThreshold: sc.SparsityThreshold,
			Mesh:              mesh,
		}
		if err := s.Validate(); err != nil {
			return nil, nil, err
		}
		species = append(species, s)
		dists = append(dists, project.Maxwellian{
			Density:     sc.Density,
			Temperature: sc.Temperature,
			Bulk:        core.Vec3{X: sc.VxBulk, Y: sc.VyBulk, Z: sc.VzBulk},
			Samples:     sc.Samples,
			Rescale:     sc.Rescale,
		})
	}
	return species, dists, nil
}

// Geometry returns the spatial grid layout.
func (c *Config) Geometry() grid.Geometry {
	g := c.Grid
	dims := [3]int{g.XCells, g.YCells, g.ZCells}
	return grid.Geometry{
		Dims: dims,
		Min:  core.Vec3{X: g.XMin, Y: g.YMin, Z: g.ZMin},
		CellSize: core.Vec3{
			X: (g.XMax - g.XMin) / float64(dims[0]),
			Y: (g.YMax - g.YMin) / float64(dims[1]),
			Z: (g.ZMax - g.ZMin) / float64(dims[2]),
		},
		Periodic: [3]bool{g.XPeriodic, g.YPeriodic, g.ZPeriodic},
	}
}

// FieldValues returns the uniform field.
func (c *Config) FieldValues() core.Fields {
	f := c.Fields
	return core.Fields{
		E: core.Vec3{X: f.Ex, Y: f.Ey, Z: f.Ez},
		B: core.Vec3{X: f.Bx, Y: f.By, Z: f.Bz},
	}
}

// FaceOrder returns the parsed reconstruction order.
func (c *Config) FaceOrder() semilag.FaceOrder {
	o, err := semilag.ParseFaceOrder(c.Simulation.FaceOrder)
	if err != nil {
		return semilag.FaceH4
	}
	return o
}

// HaloWidth is the configured halo, or the one implied by CFL.
func (c *Config) HaloWidth() int {
	if c.Simulation.HaloWidth > 0 {
		return c.Simulation.HaloWidth
	}
	return core.HaloWidthForCFL(c.Simulation.CFL)
}

// LoggerConfig returns the logging settings.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}

// TracingConfig returns the tracing settings.
func (c *Config) TracingConfig() observability.TracingConfig {
	t := c.Tracing
	return observability.TracingConfig{
		Enabled:     t.Enabled,
		ServiceName: t.ServiceName,
		Exporter:    t.Exporter,
		Endpoint:    t.Endpoint,
		SampleRatio: t.SampleRatio,
	}
}
