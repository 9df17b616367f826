package geofencer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	api "github.com/oshokin/geofencer/internal/api/grpc/geofence"
	"github.com/oshokin/geofencer/internal/config"
	"github.com/oshokin/geofencer/internal/logger"
	"github.com/oshokin/geofencer/internal/observability"
	"github.com/oshokin/geofencer/internal/positioning"
	repository "github.com/oshokin/geofencer/internal/repository/regions"
	"github.com/oshokin/geofencer/internal/service/scheduler"
)

// Options controls the geofence-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// RegionsFile overrides the persisted regions file.
	RegionsFile string
	// TrackFile overrides the replayed track file.
	TrackFile string
}

// serviceName is reported in traces.
const serviceName = "geofence-server"

// httpShutdownTimeout bounds the HTTP server shutdown.
const httpShutdownTimeout = 5 * time.Second

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// Run starts the geofence server and blocks until context is canceled or a component fails.
// Loads configuration first, then wires the simulator, manager, gRPC server,
// metrics endpoint and tracing under one errgroup.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, serviceName)

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err = logger.Configure(settings.LogLevel); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	applyOverrides(settings, opts)

	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     settings.Tracing.Enabled,
		ServiceName: serviceName,
		Exporter:    settings.Tracing.Exporter,
		Endpoint:    settings.Tracing.Endpoint,
		SampleRatio: settings.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector, err := observability.NewCollector(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	simulator, err := newSimulator(settings.Positioning)
	if err != nil {
		return err
	}

	manager := New(simulator,
		WithRepository(repository.NewFileRepository(settings.RegionsFile)),
		WithSchedulerOptions(
			scheduler.WithTiming(settings.Cycle.InterCycleDelay, settings.Cycle.DeadlineBudget),
			scheduler.WithMaxActiveRegions(settings.Cycle.MaxActiveRegions),
			scheduler.WithRecorder(collector),
		),
		WithOnClassificationComplete(logReport),
		WithOnCycleFailed(func(ctx context.Context, err error) {
			logger.ErrorKV(ctx, "Processing cycle failed, waiting for a region change or retry", "error", err)
		}),
	)

	// Setup TCP listener for gRPC server.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
	)
	api.RegisterGeofenceServiceServer(grpcServer, api.NewServer(manager, api.WithFixSink(simulator)))

	logger.InfoKV(ctx, "Geofence server listening",
		"listen_address", listenAddress,
		"regions_file", settings.RegionsFile,
		"track_file", settings.Positioning.TrackFile,
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return simulator.Run(groupCtx)
	})

	group.Go(func() error {
		return manager.Run(groupCtx)
	})

	group.Go(func() error {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve gRPC: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		grpcServer.GracefulStop()

		return nil
	})

	if settings.MetricsAddress != "" {
		serveHTTP(groupCtx, group, settings.MetricsAddress, newRouter(collector.Handler(), manager))
	}

	err = group.Wait()

	logger.Info(ctx, "Geofence server stopped")

	return err
}

// applyOverrides applies command line overrides on top of the loaded settings.
func applyOverrides(settings *config.Config, opts *Options) {
	if opts.RegionsFile != "" {
		settings.RegionsFile = opts.RegionsFile
	}

	if opts.TrackFile != "" {
		settings.Positioning.TrackFile = opts.TrackFile
	}
}

// newSimulator builds the simulated positioning provider.
func newSimulator(settings config.PositioningConfig) (*positioning.Simulator, error) {
	simOpts := []positioning.SimulatorOption{
		positioning.WithReplayInterval(settings.ReplayInterval),
		positioning.WithMaximumMonitoringDistance(settings.MaxMonitoringDistance),
	}

	if settings.TrackFile != "" {
		track, err := positioning.LoadTrack(settings.TrackFile)
		if err != nil {
			return nil, fmt.Errorf("load track: %w", err)
		}

		simOpts = append(simOpts, positioning.WithTrack(track))
	}

	return positioning.NewSimulator(simOpts...), nil
}

// newRouter serves /metrics and a /healthz probe that fails while the cycle is Failed.
func newRouter(metrics http.Handler, manager *Manager) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Method(http.MethodGet, "/metrics", metrics)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := manager.CurrentState()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		if state == scheduler.StateFailed {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_, _ = fmt.Fprintln(w, state.String())
	})

	return router
}

// serveHTTP runs the HTTP endpoint on address until ctx is done.
func serveHTTP(ctx context.Context, group *errgroup.Group, address string, handler http.Handler) {
	server := &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group.Go(func() error {
		logger.InfoKV(ctx, "HTTP endpoint listening", "metrics_address", address)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})
}

// logReport logs a completed cycle.
func logReport(ctx context.Context, report *scheduler.Report) {
	inside := 0
	near := 0

	if report.Partition != nil {
		inside = len(report.Partition.Inside)

		for _, ids := range report.Partition.Buckets {
			near += len(ids)
		}
	}

	logger.InfoKV(ctx, "Processing cycle completed",
		"generation", report.Generation,
		"fix", report.Fix.Coordinate.String(),
		"inside", inside,
		"near", near,
		"active", len(report.Active),
	)
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr.
// Returns appropriate listen address (e.g., ":8080" for port-only binding).
func resolveListenAddress(configAddr, override string) (string, error) {
	// Use override address if provided (e.g., ":9090", "0.0.0.0:8080").
	if override != "" {
		return override, nil
	}

	// Extract port from config address (e.g., "server.example.com:8080" -> ":8080").
	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	// Parse the address to extract port.
	_, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	// Return port-only listen address to bind on all interfaces.
	return ":" + port, nil
}
