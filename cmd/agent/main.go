// Package main is the entry point for the scoutlink field agent.
//
// It loads the configuration, builds the device-facing clients for the
// configured source mode (live hardware or the built-in simulation),
// wires the sync and proximity pipelines, and serves the operator API
// with the core chassis (middleware, routing, health checks). All
// background loops run under one supervision group.
//
// Graceful shutdown is handled via OS signal interception (SIGINT,
// SIGTERM): the HTTP server drains first, then the loops stop.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"scoutlink/internal/alerts"
	"scoutlink/internal/api/handlers"
	"scoutlink/internal/api/stream"
	"scoutlink/internal/config"
	"scoutlink/internal/core"
	"scoutlink/internal/external"
	"scoutlink/internal/proximity"
	"scoutlink/internal/timeutil"
	"scoutlink/internal/transport"
	"scoutlink/internal/types"
)

// shutdownTimeout bounds the HTTP drain on shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit
// on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("scoutlink agent starting",
		"environment", cfg.Environment,
		"mode", cfg.Mode,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	// Device-facing clients for the configured source mode.
	registry, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating device clients: %w", err)
	}

	// Sync pipeline: ledger, reconciler, transport loops.
	metrics := alerts.NewSyncMetrics()
	store := alerts.NewAlertStore(logger)
	reconciler := alerts.NewEventReconciler(store, registry.Alerts, metrics, logger)

	manager := transport.NewManager(transport.ManagerConfig{
		Source:         registry.Alerts,
		Dialer:         registry.Push,
		Sink:           reconciler,
		PullInterval:   cfg.Sync.PullInterval,
		PullTimeout:    cfg.Sync.PullTimeout,
		ReconnectDelay: cfg.Sync.ReconnectDelay,
		Metrics:        metrics,
		Logger:         logger,
	})

	// Proximity pipeline: tracker, estimator, sweep loop.
	tracker := proximity.NewSignalTracker(timeutil.RealClock{})
	estimator := proximity.NewEstimator(proximity.EstimatorConfig{
		Tracker:          tracker,
		SmoothingTick:    cfg.Proximity.SmoothingTick,
		SmoothingAlpha:   cfg.Proximity.SmoothingAlpha,
		TxPowerRef:       cfg.Proximity.TxPowerRef,
		PathLossExponent: cfg.Proximity.PathLossExponent,
		StabilityWindow:  cfg.Proximity.StabilityWindow,
		Logger:           logger,
	})
	poller := proximity.NewScanPoller(proximity.PollerConfig{
		Scanner:   registry.Scanner,
		Tracker:   tracker,
		Estimator: estimator,
		Interval:  cfg.Scanner.Interval,
		Retention: cfg.Proximity.SignalRetention,
		Logger:    logger,
	})

	// Live state stream for the operator UI.
	hub := stream.NewHub(stream.HubConfig{
		History:        reconciler,
		Link:           manager,
		AllowedOrigins: cfg.Server.CorsAllowedOrigins,
		Logger:         logger,
	})
	store.AddListener(hub)
	manager.AddLinkListener(hub)

	// HTTP chassis and handlers.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	alertHandler := handlers.NewAlertHandler(reconciler, srv.Validator, logger)
	signalHandler := handlers.NewSignalHandler(estimator, srv.Validator, logger)
	linkHandler := handlers.NewLinkHandler(manager, metrics, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		alertHandler.RegisterRoutes,
		signalHandler.RegisterRoutes,
		linkHandler.RegisterRoutes,
	)
	srv.StreamRegistrars = append(srv.StreamRegistrars, hub.RegisterRoutes)
	srv.HealthProbes = append(srv.HealthProbes,
		&linkProbe{manager: manager},
		&sweepProbe{poller: poller, maxAge: 3 * cfg.Scanner.Interval},
	)

	// Mount all routes (middleware chain + versioned endpoints + health).
	srv.MountRoutes()

	return runAgent(srv, cfg, registry, manager, poller, estimator, hub, logger)
}

// runAgent supervises the HTTP server and every background loop until a
// shutdown signal arrives or one of them fails.
func runAgent(
	srv *core.Server,
	cfg *config.Config,
	registry *external.ClientRegistry,
	manager *transport.Manager,
	poller *proximity.ScanPoller,
	estimator *proximity.Estimator,
	hub *stream.Hub,
	logger *slog.Logger,
) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// Background loops. Cancellation is the normal way these stop, so a
	// context error is not a failure.
	runLoop := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	runLoop("transport manager", manager.Run)
	runLoop("scan poller", poller.Run)
	runLoop("proximity estimator", estimator.Run)
	runLoop("stream hub", hub.Run)
	if registry.Sim != nil {
		runLoop("demo device", registry.Sim.Run)
	}

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Shutdown watcher: drain HTTP first so in-flight operator requests
	// finish, then stop the loops. Stream connections are hijacked and
	// end when the hub stops.
	g.Go(func() error {
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case sig := <-shutdown:
			logger.Info("shutdown signal received", "signal", sig.String())
		case <-gctx.Done():
		}

		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}

		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("agent stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given
// log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}

// --- Health Probes ---

// linkProbe reports the device sync link. The link is healthy while
// either path still delivers events: an open push subscription or a
// passing pull loop.
type linkProbe struct {
	manager *transport.Manager
}

func (p *linkProbe) Name() string { return "sync_link" }

func (p *linkProbe) Check(_ context.Context) error {
	status := p.manager.Status()
	if status.PushState == types.LinkConnected || status.LastPullOK {
		return nil
	}
	if status.LastPullError != "" {
		return fmt.Errorf("push link %s, last pull: %s", status.PushState, status.LastPullError)
	}
	return fmt.Errorf("push link %s, no successful pull yet", status.PushState)
}

// sweepProbe reports the signal sweep feed. Stale or failing sweeps mean
// the proximity view is no longer live.
type sweepProbe struct {
	poller *proximity.ScanPoller
	maxAge time.Duration
}

func (p *sweepProbe) Name() string { return "signal_feed" }

func (p *sweepProbe) Check(_ context.Context) error {
	at, err := p.poller.LastSweep()
	if at.IsZero() {
		return errors.New("no sweep has completed yet")
	}
	if age := time.Since(at); age > p.maxAge {
		return fmt.Errorf("last sweep %s ago", age.Round(time.Second))
	}
	if err != nil {
		return fmt.Errorf("last sweep failed: %w", err)
	}
	return nil
}

// The probes must satisfy the chassis contract.
var (
	_ core.HealthProbe = (*linkProbe)(nil)
	_ core.HealthProbe = (*sweepProbe)(nil)
)
