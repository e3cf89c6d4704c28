package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/vlasov-sim/internal/semilag"
	"github.com/signalsfoundry/vlasov-sim/model"
)

const twoSpecies = `
[Simulation]
Steps = 3
Dt = 0.5
FaceOrder = h2

[Grid]
XCells = 4
XMax = 8
XPeriodic = true

[Fields]
Bz = 1e-9

[Species "proton"]
Charge = 1
Mass = 1
SparsityThreshold = 1e-15
VMin = -1e6
VMax = 1e6
Blocks = 10
Density = 1e6
Temperature = 1e5

[Species "alpha"]
Charge = 2
Mass = 4
VMin = -1e6
VMax = 1e6
Blocks = 5
`

func TestExampleFileIsValid(t *testing.T) {
	cfg, err := ReadString(ExampleFile)
	require.NoError(t, err)

	if cfg.Simulation.Steps != 10 {
		t.Fatalf("Steps = %d, want 10", cfg.Simulation.Steps)
	}
	if _, ok := cfg.Species["proton"]; !ok {
		t.Fatalf("example species missing: %v", cfg.SpeciesNames())
	}
	species, dists, err := cfg.BuildSpecies()
	require.NoError(t, err)
	if len(species) != 1 || len(dists) != 1 {
		t.Fatalf("BuildSpecies = %d species, %d distributions", len(species), len(dists))
	}
}

func TestReadStringAppliesDefaults(t *testing.T) {
	cfg, err := ReadString(twoSpecies)
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Simulation.CFL)
	assert.Equal(t, "cpu", cfg.Simulation.Backend)
	assert.Equal(t, semilag.FaceH2, cfg.FaceOrder())
	assert.Equal(t, 1, cfg.HaloWidth())

	geom := cfg.Geometry()
	assert.Equal(t, [3]int{4, 1, 1}, geom.Dims)
	assert.InDelta(t, 2, geom.CellSize.X, 1e-15)
	assert.True(t, geom.Periodic[0])
	assert.InDelta(t, 1e-9, cfg.FieldValues().B.Z, 1e-24)
}

func TestBuildSpeciesIsSortedByName(t *testing.T) {
	cfg, err := ReadString(twoSpecies)
	require.NoError(t, err)

	species, dists, err := cfg.BuildSpecies()
	require.NoError(t, err)

	if species[0].Name != "alpha" || species[1].Name != "proton" {
		t.Fatalf("species order = %s, %s; want alpha, proton", species[0].Name, species[1].Name)
	}
	assert.InEpsilon(t, 4*model.ProtonMass, species[0].Mass, 1e-12)
	assert.InEpsilon(t, 2*model.ElementaryCharge, species[0].Charge, 1e-12)
	assert.Equal(t, [3]int{5, 5, 5}, species[0].Mesh.Length)
	assert.Equal(t, 0.0, dists[0].Density)
	assert.Equal(t, 1e6, dists[1].Density)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]func(*Config){
		"no species":      func(c *Config) { c.Species = nil },
		"negative steps":  func(c *Config) { c.Simulation.Steps = -1 },
		"bad face order":  func(c *Config) { c.Simulation.FaceOrder = "h8" },
		"gpu backend":     func(c *Config) { c.Simulation.Backend = "cuda" },
		"no cfl":          func(c *Config) { c.Simulation.Dt, c.Simulation.CFL = 0, 0 },
		"empty axis":      func(c *Config) { c.Grid.YCells = 0 },
		"inverted domain": func(c *Config) { c.Grid.XMax = c.Grid.XMin },
		"massless":        func(c *Config) { c.Species["alpha"].Mass = 0 },
		"inverted mesh":   func(c *Config) { c.Species["alpha"].VMax = -2e6 },
		"cold":            func(c *Config) { c.Species["proton"].Temperature = 0 },
		"sample ratio":    func(c *Config) { c.Tracing.SampleRatio = 2 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg, err := ReadString(twoSpecies)
			require.NoError(t, err)
			mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestReadFileWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.cfg")
	require.NoError(t, os.WriteFile(path, []byte(twoSpecies), 0o644))
	t.Setenv("VLASOV_LOG_LEVEL", "debug")
	t.Setenv("VLASOV_TRACING_ENABLED", "true")
	t.Setenv("VLASOV_WORKERS", "3")

	cfg, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LoggerConfig().Level)
	assert.True(t, cfg.TracingConfig().Enabled)
	assert.Equal(t, 3, cfg.Simulation.Workers)
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "absent.cfg")); err == nil {
		t.Fatalf("ReadFile of a missing file succeeded")
	}
}
