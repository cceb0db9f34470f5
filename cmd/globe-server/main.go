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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/globe-engine/internal/config"
	"github.com/signalsfoundry/globe-engine/internal/datasource"
	"github.com/signalsfoundry/globe-engine/internal/engine"
	"github.com/signalsfoundry/globe-engine/internal/logging"
	"github.com/signalsfoundry/globe-engine/internal/observability"
	"github.com/signalsfoundry/globe-engine/internal/render"
	"github.com/signalsfoundry/globe-engine/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file; built-in defaults when empty")
	dataSource := flag.String("data", "", "Dataset directory or http(s) base URL (overrides data_source)")
	httpAddr := flag.String("http-addr", "", "HTTP address for /ws, /metrics and the REST API (overrides server.http_addr)")
	grpcAddr := flag.String("grpc-addr", "", "TCP address of the gRPC health service (overrides server.grpc_addr)")
	liveMultiplier := flag.Bool("live-multiplier", false, "Allow clients to change the time multiplier")
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
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *liveMultiplier {
		cfg.Clock.LiveMultiplier = true
	}

	httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.Server.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}
	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg, log, httpLis, grpcLis); err != nil {
		log.Error(ctx, "globe server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves the engine until ctx is cancelled, then shuts everything down.
func run(ctx context.Context, cfg config.Config, log logging.Logger, httpLis, grpcLis net.Listener) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewEngineCollector(reg)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}
	loopCollector, err := observability.NewLoopCollector(reg)
	if err != nil {
		return fmt.Errorf("loop metrics: %w", err)
	}

	src, err := datasource.New(cfg.DataSource)
	if err != nil {
		return fmt.Errorf("data source: %w", err)
	}

	loop := scheduler.NewLoop(
		scheduler.WithFrameInterval(cfg.Frame.Interval),
		scheduler.WithLogger(log),
		scheduler.WithMetricsRecorder(loopCollector),
	)
	frames := render.NewFrameStore()
	eng := engine.New(cfg, src, loop, engine.NewClock(cfg, time.Now()), frames,
		engine.WithLogger(log),
		engine.WithMetricsRecorder(collector),
	)
	hub := render.NewHub(frames, eng, render.HubConfig{
		FPS:      cfg.Server.ClientFPS,
		Burst:    cfg.Server.ClientBurst,
		Log:      log,
		Recorder: collector,
	})

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(loopCtx) }()

	var stopEngine engine.StopFunc
	if err := loop.Do(ctx, func() { stopEngine = eng.Start(loopCtx) }); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	log.Info(ctx, "engine started",
		logging.String("data_source", cfg.DataSource),
		logging.Any("initial_layers", cfg.InitialLayers),
	)

	httpSrv := &http.Server{
		Handler:           newRouter(eng, frames, hub, collector.Handler(), log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "serving HTTP", logging.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	grpcSrv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			observability.RequestUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
		),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "serving gRPC health", logging.String("addr", grpcLis.Addr().String()))
		if err := grpcSrv.Serve(grpcLis); err != nil {
			grpcErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-httpErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-grpcErr:
		runErr = fmt.Errorf("grpc server: %w", err)
	case err := <-loopDone:
		runErr = fmt.Errorf("scheduler loop: %w", err)
	}

	log.Info(context.Background(), "shutting down globe server")
	healthSrv.Shutdown()
	grpcSrv.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.Close()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown", logging.Err(err))
	}
	if stopEngine != nil {
		_ = loop.Do(shutdownCtx, func() { stopEngine() })
	}
	cancelLoop()
	return runErr
}
