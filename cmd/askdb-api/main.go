package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/app"
	"github.com/askdb/askdb/internal/archive"
	"github.com/askdb/askdb/internal/assist"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/chart"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/memory"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/summarize"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	generator, err := app.NewGenerator(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize reasoning service client", slog.Any("error", err))
		os.Exit(1)
	}
	objectStore, err := app.NewObjectStore(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}
	backend, err := app.OpenBackend(context.Background(), cfg, objectStore, logger)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = backend.Close() }()
	dialect := cfg.Database.Driver

	describer := &schema.Describer{Generator: generator, CachePath: cfg.Schema.CachePath, Logger: logger}
	schemaDoc := schema.NewDocLoader(func(ctx context.Context) (string, error) {
		return describer.Load(ctx, backend.Probe)
	})

	var recaller memory.Recaller = memory.LocalRecaller{Threshold: cfg.Memory.Threshold}
	if cfg.Memory.Recall == config.RecallRemote {
		recaller = memory.ContextRecaller{Path: cfg.Memory.Path, Generator: generator}
	}
	memoryStore := memory.Open(cfg.Memory.Path, memory.Options{
		Capacity: cfg.Memory.Capacity,
		Recaller: recaller,
		Logger:   logger,
	})

	translator := &nl2sql.Synthesizer{Generator: generator, Provider: cfg.AI.Provider, Model: cfg.AI.Model}
	assistant := &assist.Assistant{
		Memory:     memoryStore,
		Schema:     schemaDoc,
		Translator: translator,
		Engine:     backend.Engine,
		Summarizer: &summarize.Summarizer{Generator: generator, SampleRows: cfg.Summary.SampleRows},
		Config: assist.Config{
			Dialect:       dialect,
			RowLimit:      cfg.Database.RowLimit,
			MaxResultRows: cfg.Memory.MaxResultRows,
		},
		Logger: logger,
	}
	if cfg.Chart.Enabled {
		assistant.Charts = &chart.Advisor{Generator: generator, Logger: logger}
	}

	deps := api.Dependencies{
		Logger:            logger,
		Assistant:         assistant,
		Schema:            schemaDoc,
		Translator:        translator,
		Dialect:           dialect,
		QueryEngine:       backend.Engine,
		RowLimit:          cfg.Database.RowLimit,
		Memory:            memoryStore,
		Readiness:         api.CheckDatabase(backend.Ping),
		DependencyTimeout: 2 * time.Second,
	}
	if objectStore != nil {
		deps.Archiver = &archive.Archiver{
			Memory:      memoryStore,
			ObjectStore: objectStore,
			Config:      archive.Config{Prefix: cfg.Archive.Prefix, Keep: cfg.Archive.Keep},
			Logger:      logger,
		}
		deps.Readiness = api.CombineReadinessChecks(deps.Readiness, api.CheckObjectStoreConfig(cfg))
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("driver", cfg.Database.Driver),
			slog.String("ai_provider", cfg.AI.Provider),
			slog.Int("memory_records", memoryStore.Len()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
