// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// APFlow — Supplier Invoice Intake Service
//
// Entry point for the intake pipeline. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL (supplier directory) and Redis (queue, sessions)
//  3. Wires the pipeline stages: extraction, resolution, classification, routing
//  4. Runs the single-concurrency orchestrator loop and the stale-message reaper
//  5. Serves /health and /stats
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/apflow/intake/internal/classification"
	"github.com/apflow/intake/internal/config"
	"github.com/apflow/intake/internal/extraction"
	"github.com/apflow/intake/internal/llm"
	"github.com/apflow/intake/internal/mailer"
	"github.com/apflow/intake/internal/objectstore"
	"github.com/apflow/intake/internal/ops"
	"github.com/apflow/intake/internal/orchestrator"
	"github.com/apflow/intake/internal/queue"
	"github.com/apflow/intake/internal/routing"
	"github.com/apflow/intake/internal/session"
	"github.com/apflow/intake/internal/supplier"
)

func main() {
	// Local development convenience; absent .env is fine.
	_ = godotenv.Load()

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting APFlow intake service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"intake_queue", cfg.Queue.Intake,
		"max_receives", cfg.Queue.MaxReceives,
		"visibility_timeout", cfg.Queue.VisibilityTimeout,
		"routes", len(cfg.Routing.Recipients),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.Queue.Intake)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Supplier Directory (Postgres) ---
	store, err := supplier.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise supplier store", "error", err)
		os.Exit(1)
	}
	resolver := supplier.NewResolver(store)

	if count, err := store.Count(ctx); err == nil && count == 0 {
		slog.Warn("supplier directory is empty, all emails will resolve to the unknown-vendor sentinel")
	}

	// --- Pipeline Stages ---
	objects := objectstore.NewClient(cfg.ObjectStoreURL, cfg.ObjectStoreToken)
	model := llm.NewClient(ctx, cfg.ModelGateway)
	extractor := extraction.NewExtractor(objects, model)
	classifier := classification.NewClassifier(model)

	smtp, err := mailer.NewSMTP(cfg.SMTP)
	if err != nil {
		slog.Error("failed to create SMTP mailer", "error", err)
		os.Exit(1)
	}
	router := routing.NewRouter(cfg.Routing.Recipients, smtp)

	// --- Queue Consumer + Reaper ---
	consumer := queue.NewConsumer(rdb, cfg.Queue)
	reaper := queue.NewReaper(consumer)
	reaper.Start(ctx)

	// --- Session Tracker ---
	sessions := session.NewTracker(rdb, cfg.SessionTTL)

	// --- Orchestrator ---
	orch := orchestrator.New(consumer, extractor, resolver, classifier, router, sessions)
	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		orch.Run(ctx)
	}()

	// --- Ops Server ---
	handler := ops.NewHandler(publisher, pgPool, consumer)
	ready, err := ops.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start ops server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("intake service ready", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig.String())
	cancel() // stop orchestrator, reaper, and ops server

	<-orchDone
	reaper.Stop()

	rdb.Close()
	pgPool.Close()

	slog.Info("intake service stopped")
}
