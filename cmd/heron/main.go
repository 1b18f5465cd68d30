// Heron - Delivery delay simulator and logistics KPI service.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/analytics"
	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/config"
	"github.com/opensource-finance/heron/internal/dataset"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/estimator"
	"github.com/opensource-finance/heron/internal/features"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/model"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/simulation"
	"github.com/opensource-finance/heron/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging, os.Stdout))

	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	collector := metrics.NewCollector("heron")

	// The service starts without a model when the artifact is missing;
	// simulations answer 503 until POST /model/reload succeeds.
	holder := model.NewHolder(cfg.Model.ArtifactPath)
	err = holder.Load()
	collector.ObserveModelReload(err)
	if err != nil {
		slog.Warn("model not loaded", "path", cfg.Model.ArtifactPath, "error", err)
	} else {
		info := holder.Info()
		slog.Info("model loaded", "name", info.Name, "version", info.Version, "kind", info.Kind)
	}

	catalog := features.NewCatalog(nil)
	kpis := analytics.NewService(repo, cacheImpl, collector, cfg.Analytics)
	ingestor := dataset.NewIngestor(repo, catalog, kpis, busImpl)

	if cfg.Dataset.CSVPath != "" {
		result, err := ingestor.ImportFile(ctx, cfg.Dataset.CSVPath)
		if err != nil {
			slog.Error("failed to import dataset", "path", cfg.Dataset.CSVPath, "error", err)
			os.Exit(1)
		}
		collector.ObserveIngest(result.Saved)
	} else if n, err := ingestor.RefreshCatalog(ctx); err != nil {
		slog.Warn("failed to load category catalog", "error", err)
	} else {
		slog.Info("category catalog loaded", "categories", n)
	}

	est := estimator.New(features.NewDeriver(catalog), holder)
	simulations := simulation.NewService(est, holder, repo, busImpl, collector)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, simulations)
		if err := asyncWorker.Start(worker.Config{Concurrency: runtime.NumCPU()}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:        repo,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Simulations: simulations,
		Model:       holder,
		Catalog:     catalog,
		Ingestor:    ingestor,
		Analytics:   kpis,
		Metrics:     collector,
		Version:     Version,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"model_loaded", holder.Loaded(),
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("heron shutdown complete")
}

func newLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HERON - Delivery Delay Simulator")
	fmt.Println("  Every promise checked against the map.")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /simulate           - Simulate delivery delay (?async=true to queue)")
	fmt.Println("    GET  /simulations        - List recent simulations")
	fmt.Println("    GET  /simulations/{id}   - Get simulation by ID")
	fmt.Println("    GET  /routes/classify    - Classify an origin/destination route")
	fmt.Println("    GET  /regions            - List states and regions")
	fmt.Println("    GET  /categories         - List product categories")
	fmt.Println("    POST /categories/reload  - Rebuild categories from the dataset")
	fmt.Println("    GET  /model              - Describe the loaded model")
	fmt.Println("    POST /model/reload       - Hot-reload the model artifact")
	fmt.Println("    POST /orders             - Ingest dataset orders")
	fmt.Println("    GET  /kpis               - Logistics KPIs (filters: statuses, states, categories)")
	fmt.Println("    GET  /kpis/options       - KPI filter values")
	fmt.Println("    GET  /health             - Health check")
	fmt.Println("    GET  /metrics            - Prometheus metrics")
	fmt.Println()
}
