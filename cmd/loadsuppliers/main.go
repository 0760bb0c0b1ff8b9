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

// APFlow — Supplier Directory Loader
//
// Standalone CLI tool that bulk-loads supplier records into the directory
// from a JSON file. Intended for seeding data on new deployments; the
// pipeline itself never writes to the directory.
//
// Usage:
//
//	go run ./cmd/loadsuppliers/ --file suppliers.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/apflow/intake/internal/config"
	"github.com/apflow/intake/internal/models"
	"github.com/apflow/intake/internal/supplier"
)

// batchSize keeps each load transaction small enough to retry.
const batchSize = 25

func main() {
	_ = godotenv.Load()

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	fileFlag := flag.String("file", "", "Path to a JSON array of supplier records (required)")
	flag.Parse()

	if *fileFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --file is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// --- Read the supplier file ---
	raw, err := os.ReadFile(*fileFlag)
	if err != nil {
		slog.Error("failed to read supplier file", "file", *fileFlag, "error", err)
		os.Exit(1)
	}

	var suppliers []models.Supplier
	if err := json.Unmarshal(raw, &suppliers); err != nil {
		slog.Error("supplier file is not a JSON array of supplier records", "error", err)
		os.Exit(1)
	}
	if len(suppliers) == 0 {
		slog.Error("supplier file contains no records")
		os.Exit(1)
	}

	slog.Info("loading supplier directory",
		"file", *fileFlag,
		"records", len(suppliers),
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

	store, err := supplier.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise supplier store", "error", err)
		os.Exit(1)
	}

	// --- Load in batches ---
	loaded := 0
	for start := 0; start < len(suppliers); start += batchSize {
		end := min(start+batchSize, len(suppliers))
		batch := suppliers[start:end]

		if err := store.BulkLoad(ctx, batch); err != nil {
			slog.Error("batch load failed",
				"batch_start", start,
				"batch_size", len(batch),
				"loaded_so_far", loaded,
				"error", err,
			)
			os.Exit(1)
		}
		loaded += len(batch)
	}

	total, err := store.Count(ctx)
	if err != nil {
		slog.Warn("failed to count supplier directory", "error", err)
	}

	slog.Info("supplier directory loaded",
		"loaded", loaded,
		"directory_total", total,
	)
}
