package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/askdb/askdb/internal/app"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
)

func main() {
	force := flag.Bool("force", false, "rebuild the schema description even when a cache exists")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall timeout")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("askdb-describe")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	generator, err := app.NewGenerator(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reasoning service error: %v\n", err)
		os.Exit(1)
	}
	objectStore, err := app.NewObjectStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "object store error: %v\n", err)
		os.Exit(1)
	}
	backend, err := app.OpenBackend(ctx, cfg, objectStore, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = backend.Close() }()

	describer := &schema.Describer{Generator: generator, CachePath: cfg.Schema.CachePath, Logger: logger}
	build := describer.Load
	if *force {
		build = describer.Build
	}
	doc, err := build(ctx, backend.Probe)
	if err != nil {
		fmt.Fprintf(os.Stderr, "describe failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(doc)
}
