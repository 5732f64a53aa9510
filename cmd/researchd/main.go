// Researchd is the research workflow coordination daemon.
//
// It drives a fixed set of stateless research workers (topic refiner,
// question architect, search strategist, data analyst, report writer)
// through an iterative research pipeline. Task records live in a NATS
// JetStream key-value bucket; workers are invoked over NATS request/reply.
//
// Usage:
//
//	# Start with defaults against nats://localhost:4222
//	researchd
//
//	# Explicit config file
//	researchd -config /etc/researchd/config.yaml
//
//	# Single-node development with an in-process NATS server
//	RESEARCHD_NATS_EMBEDDED=true researchd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/researchd/internal/api"
	"github.com/fyrsmithlabs/researchd/internal/config"
	"github.com/fyrsmithlabs/researchd/internal/coordinator"
	"github.com/fyrsmithlabs/researchd/internal/logging"
	"github.com/fyrsmithlabs/researchd/internal/store"
	"github.com/fyrsmithlabs/researchd/internal/telemetry"
	"github.com/fyrsmithlabs/researchd/internal/worker"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  researchd           Start the researchd daemon\n")
			fmt.Fprintf(os.Stderr, "  researchd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("researchd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon together and blocks until the context is cancelled:
// configuration, logger, NATS (embedded or external), the task record store,
// the worker client, the coordinator, and finally the HTTP server.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting researchd",
		zap.Int("port", cfg.Server.Port),
		zap.String("nats_url", cfg.NATS.URL),
		zap.Bool("nats_embedded", cfg.NATS.Embedded),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	tel, err := telemetry.Init(ctx, cfg.Telemetry, version, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	natsURL := cfg.NATS.URL
	if cfg.NATS.Embedded {
		srv, err := startEmbeddedNATS()
		if err != nil {
			return fmt.Errorf("start embedded NATS server: %w", err)
		}
		defer srv.Shutdown()
		natsURL = srv.ClientURL()
		logger.Info("Embedded NATS server started", zap.String("url", natsURL))
	}

	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", natsURL, err)
	}
	defer nc.Close()

	logger.Info("Connected to NATS", zap.String("url", natsURL))

	storeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	taskStore, err := store.NewKV(storeCtx, nc, cfg.Store.Bucket)
	cancel()
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}

	logger.Info("Task store ready", zap.String("bucket", cfg.Store.Bucket))

	workers := worker.NewClient(nc, worker.ClientConfig{
		Timeout: cfg.Workflow.WorkerTimeout,
		Retry: worker.RetryPolicy{
			MaxRetries:     cfg.Workflow.Retry.MaxRetries,
			InitialBackoff: cfg.Workflow.Retry.InitialBackoff,
			MaxBackoff:     cfg.Workflow.Retry.MaxBackoff,
			Multiplier:     cfg.Workflow.Retry.Multiplier,
		},
		RateLimit: cfg.Workflow.WorkerRateLimit,
		Burst:     cfg.Workflow.WorkerBurst,
	}, logger)

	coord := coordinator.New(taskStore, workers, coordinator.Config{
		QualityThreshold:     cfg.Workflow.QualityThreshold,
		FindingsCap:          cfg.Workflow.FindingsCap,
		DefaultMaxIterations: cfg.Workflow.DefaultMaxIterations,
		MaxIterationsLimit:   cfg.Workflow.MaxIterationsLimit,
	}, logger)

	srv, err := api.NewServer(coord, logger, &api.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("create HTTP server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	// Blocks until context cancellation.
	serveErr := srv.Start(ctx)

	// Let in-flight workflows reach a terminal state before dropping NATS.
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := coord.Shutdown(drainCtx); err != nil {
		logger.Warn("workflows still running at shutdown", zap.Error(err))
	}

	return serveErr
}

// startEmbeddedNATS runs an in-process JetStream-enabled NATS server for
// single-node development.
func startEmbeddedNATS() (*natsserver.Server, error) {
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random port
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  os.TempDir(),
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, err
	}

	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready")
	}

	return srv, nil
}
