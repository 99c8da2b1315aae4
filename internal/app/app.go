// Package app assembles the runtime components shared by the askdb binaries
// from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/query/lake"
	"github.com/askdb/askdb/internal/query/sqldb"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/storage"
	s3store "github.com/askdb/askdb/internal/storage/s3"
)

// Backend is the database the assistant answers from.
type Backend struct {
	Engine query.Engine
	Ping   func(ctx context.Context) error
	Probe  schema.ProbeFunc
	Close  func() error
}

// NewGenerator builds the configured reasoning service client wrapped with
// retries.
func NewGenerator(cfg config.Config, logger *slog.Logger) (llm.Generator, error) {
	var (
		client llm.Generator
		err    error
	)
	switch cfg.AI.Provider {
	case config.ProviderOpenAI:
		client, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
	case config.ProviderGemini:
		client, err = llm.NewGeminiClient(llm.GeminiConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			Timeout:     cfg.AI.Timeout,
		})
	default:
		err = fmt.Errorf("unsupported provider %q", cfg.AI.Provider)
	}
	if err != nil {
		return nil, err
	}
	return llm.WithRetry(client, llm.RetryConfig{MaxAttempts: cfg.AI.MaxAttempts, Logger: logger}), nil
}

// NewObjectStore returns nil without error when no endpoint or bucket is
// configured.
func NewObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	if cfg.ObjectStore.Endpoint == "" || cfg.ObjectStore.Bucket == "" {
		return nil, nil
	}
	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// OpenBackend opens the configured database. The lake driver reads parquet
// tables through objectStore and probes them via a materialized DuckDB.
func OpenBackend(ctx context.Context, cfg config.Config, objectStore storage.ObjectStore, logger *slog.Logger) (Backend, error) {
	prober := schema.Prober{
		Namespace:               cfg.Database.Schema,
		Tables:                  cfg.SchemaTables(),
		SampleSize:              cfg.Schema.SampleSize,
		LowCardinalityThreshold: cfg.Schema.LowCardinalityThreshold,
		Logger:                  logger,
	}

	if cfg.Database.Driver == config.DriverLake {
		if objectStore == nil {
			return Backend{}, errors.New("lake driver requires ASKDB_OBJECTSTORE_ENDPOINT and ASKDB_OBJECTSTORE_BUCKET")
		}
		tables, err := cfg.LakeTables()
		if err != nil {
			return Backend{}, err
		}
		engine := lake.NewEngine(objectStore, tables, cfg.Database.QueryTimeout)
		return Backend{
			Engine: engine,
			Ping:   engine.Ping,
			Probe: func(ctx context.Context) (schema.Schema, error) {
				db, cleanup, err := engine.Materialize(ctx)
				if err != nil {
					return schema.Schema{}, err
				}
				defer cleanup()
				p := prober
				p.DB, p.Dialect, p.Namespace = db, schema.DuckDB, "main"
				return p.Probe(ctx)
			},
			Close: func() error { return nil },
		}, nil
	}

	db, err := database.Open(ctx, database.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return Backend{}, err
	}
	engine := sqldb.NewEngine(db, cfg.Database.QueryTimeout)
	prober.DB, prober.Dialect = db, schema.Dialect(cfg.Database.Driver)
	return Backend{
		Engine: engine,
		Ping:   engine.Ping,
		Probe:  prober.Probe,
		Close:  db.Close,
	}, nil
}
