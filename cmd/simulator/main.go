package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/datasource"
	"github.com/signalsfoundry/globe-engine/internal/engine"
	"github.com/signalsfoundry/globe-engine/internal/layers"
	"github.com/signalsfoundry/globe-engine/internal/logging"
	"github.com/signalsfoundry/globe-engine/internal/scheduler"
)

// loadTimeout bounds how long the initial layer fetches may take.
const loadTimeout = 30 * time.Second

var errLoadTimeout = errors.New("layers still loading")

type options struct {
	Frames int
	Every  int
	Limit  int
}

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file; built-in defaults when empty")
	dataSource := flag.String("data", "", "Dataset directory or http(s) base URL (overrides data_source)")
	layerList := flag.String("layers", "", "Comma-separated initial layers (overrides initial_layers)")
	frames := flag.Int("frames", 600, "Number of display frames to simulate")
	every := flag.Int("every", 60, "Print a report every N frames")
	limit := flag.Int("limit", 5, "Satellites listed per report")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error(ctx, "failed to load config", logging.String("path", *configPath), logging.Err(err))
		os.Exit(1)
	}
	if *dataSource != "" {
		cfg.DataSource = *dataSource
	}
	if *layerList != "" {
		cfg.InitialLayers = strings.Split(*layerList, ",")
	}

	opts := options{Frames: *frames, Every: *every, Limit: *limit}
	if err := simulate(ctx, cfg, opts, log, os.Stdout); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

// simulate runs the engine on a deterministic loop for opts.Frames frames,
// printing the clock and satellite positions every opts.Every frames.
func simulate(ctx context.Context, cfg config.Config, opts options, log logging.Logger, w io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	src, err := datasource.New(cfg.DataSource)
	if err != nil {
		return fmt.Errorf("data source: %w", err)
	}

	clock := engine.NewClock(cfg, time.Now())
	loop := scheduler.NewFakeLoop(time.Now())
	eng := engine.New(cfg, src, loop, clock, nil, engine.WithLogger(log))

	stop := eng.Start(ctx)
	defer stop()

	settled := loop.RunUntil(func() bool {
		return eng.Satellites.State() != layers.Loading &&
			eng.InSitu.State() != layers.Loading &&
			eng.Infra.State() != layers.Loading &&
			eng.Cables.State() != layers.Loading &&
			eng.Regions.State() != layers.Loading
	}, loadTimeout)
	if !settled {
		return errLoadTimeout
	}

	fmt.Fprintf(w, "Starting simulation: frames=%d step=%s multiplier=%g\n",
		opts.Frames, clock.Advance(), clock.Multiplier())
	fmt.Fprintf(w, "Layers: satellites=%s insitu=%s infra=%s cables=%s regions=%s\n",
		eng.Satellites.State(), eng.InSitu.State(), eng.Infra.State(), eng.Cables.State(), eng.Regions.State())
	if eng.Infra.Visible() {
		fmt.Fprintf(w, "Infrastructure: %d nodes, %d route edges\n", len(eng.Infra.Nodes()), len(eng.Infra.Routes()))
	}

	frameInterval := cfg.Frame.Interval
	for i := 1; i <= opts.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		loop.Frame()
		// Keep wall-clock driven intervals (beeper, refresh) in step.
		loop.Advance(frameInterval)
		if opts.Every > 0 && i%opts.Every == 0 {
			report(w, eng, i, opts.Limit)
		}
	}
	fmt.Fprintln(w, "Simulation complete.")
	return nil
}

func report(w io.Writer, eng *engine.Engine, frame, limit int) {
	fmt.Fprintf(w, "[%s] frame %d\n", eng.Clock().Now().Format(time.RFC3339), frame)
	for i, o := range eng.Satellites.Objects() {
		if limit > 0 && i >= limit {
			break
		}
		if !o.Located {
			continue
		}
		fmt.Fprintf(w, "  %-16s lat=%8.3f lng=%9.3f alt=%.4f\n", o.Name, o.Pos.Lat, o.Pos.Lng, o.Pos.Alt)
	}
	if pulses := eng.Beeper.Pulses(); len(pulses) > 0 {
		fmt.Fprintf(w, "  %d sensor pulses\n", len(pulses))
	}
}
