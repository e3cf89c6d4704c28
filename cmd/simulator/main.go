package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/signalsfoundry/vlasov-sim/core"
	"github.com/signalsfoundry/vlasov-sim/internal/config"
	"github.com/signalsfoundry/vlasov-sim/internal/grid"
	"github.com/signalsfoundry/vlasov-sim/internal/logging"
	"github.com/signalsfoundry/vlasov-sim/internal/observability"
	"github.com/signalsfoundry/vlasov-sim/internal/project"
	"github.com/signalsfoundry/vlasov-sim/internal/statusrpc"
	"github.com/signalsfoundry/vlasov-sim/internal/vlasov"
	"github.com/signalsfoundry/vlasov-sim/timectrl"
)

func main() {
	configPath := flag.String("config", "", "Path to a run parameter file")
	steps := flag.Int("steps", -1, "Override Simulation.Steps when non-negative")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics; overrides Metrics.Address")
	grpcAddr := flag.String("grpc-addr", "", "TCP address for the gRPC health service; overrides Status.Address")
	exampleConfig := flag.Bool("example-config", false, "Print an example parameter file and exit")
	flag.Parse()

	if *exampleConfig {
		fmt.Println(config.ExampleFile)
		return
	}

	log := logging.NewFromEnv()
	ctx := context.Background()

	if *configPath == "" {
		log.Error(ctx, "no parameter file given; run with -example-config for a template")
		os.Exit(1)
	}
	cfg, err := config.ReadFile(*configPath)
	if err != nil {
		log.Error(ctx, "failed to read parameter file", logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}
	if *steps >= 0 {
		cfg.Simulation.Steps = *steps
	}
	if *metricsAddr != "" {
		cfg.Metrics.Address = *metricsAddr
	}
	if *grpcAddr != "" {
		cfg.Status.Address = *grpcAddr
	}
	log = logging.New(cfg.LoggerConfig())

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingConfig(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	collector, err := observability.NewSolverCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(cfg.Metrics.Address, collector, log)
	statusSrv, err := serveStatus(cfg.Status.Address, log)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Status.Address), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if statusSrv != nil {
		statusSrv.SetServing(true)
	}
	_, runErr := run(stopCtx, cfg, log, collector)
	if statusSrv != nil {
		statusSrv.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error(ctx, "simulation failed", logging.Err(runErr))
		os.Exit(1)
	}
}

// summary is what a finished run reports.
type summary struct {
	Steps  uint64
	Time   float64
	Blocks int
	Mass   []float64
}

// run builds the grid and solver described by cfg and advances it for
// cfg.Simulation.Steps steps.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, collector *observability.SolverCollector) (summary, error) {
	species, dists, err := cfg.BuildSpecies()
	if err != nil {
		return summary{}, err
	}
	g, err := grid.New(cfg.Geometry())
	if err != nil {
		return summary{}, err
	}
	g.Populate(species)

	blocks, err := project.Populate(g, species, dists)
	if err != nil {
		return summary{}, err
	}
	fields := cfg.FieldValues()
	for _, c := range g.Cells() {
		c.Fields = fields
	}
	log.Info(ctx, "initialised distributions",
		logging.Int("cells", len(g.LocalCells())),
		logging.Int("species", len(species)),
		logging.Int("blocks", blocks),
	)

	halo := cfg.HaloWidth()
	backend, err := vlasov.NewBackend(cfg.Simulation.Backend, core.NewBlockAdjuster(halo))
	if err != nil {
		return summary{}, err
	}
	clock := timectrl.NewStepController(time.Now().UTC(), 0)
	engine := vlasov.NewEngine(g, grid.NewLocalExchanger(g), species, backend,
		vlasov.LorentzTransform{Species: species, MaxRotationDeg: cfg.Simulation.MaxRotation},
		vlasov.Options{
			Dt:        cfg.Simulation.Dt,
			CFL:       cfg.Simulation.CFL,
			FaceOrder: cfg.FaceOrder(),
			Workers:   cfg.Simulation.Workers,
			Clock:     clock,
			Log:       log,
			Metrics:   collector,
		})

	log.Info(ctx, "starting simulation",
		logging.Int("steps", cfg.Simulation.Steps),
		logging.String("backend", backend.Name()),
		logging.String("face_order", cfg.FaceOrder().String()),
		logging.Int("halo_width", halo),
	)
	runErr := engine.Run(ctx, cfg.Simulation.Steps)

	res := summary{Steps: clock.Step(), Time: clock.Time(), Mass: make([]float64, len(species))}
	for _, id := range g.LocalCells() {
		c := g.Cell(id)
		for popID := range species {
			pop := c.Population(popID)
			res.Blocks += pop.NumBlocks()
			res.Mass[popID] += pop.Mass()
		}
	}
	log.Info(ctx, "simulation finished",
		logging.Uint64("steps", res.Steps),
		logging.Float64("time", res.Time),
		logging.Int("blocks", res.Blocks),
	)
	return res, runErr
}

func serveMetrics(addr string, collector *observability.SolverCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func serveStatus(addr string, log logging.Logger) (*statusrpc.Server, error) {
	if addr == "" {
		return nil, nil
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := statusrpc.New(log)
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Error(context.Background(), "gRPC server exited", logging.Err(err))
		}
	}()
	return srv, nil
}
