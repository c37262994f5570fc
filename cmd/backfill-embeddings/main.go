// backfill-embeddings enqueues River embedding jobs for profiles whose embedding is NULL.
// Workers in the API process (RIVER_ENABLED=true) generate and store the vectors.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"

	"github.com/floatchat/floatchat/internal/config"
	"github.com/floatchat/floatchat/internal/repository"
	"github.com/floatchat/floatchat/internal/service"
	"github.com/floatchat/floatchat/pkg/database"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return exitFailure
	}

	if cfg.StoreDriver != config.StoreDriverPostgres {
		slog.Error("embedding backfill requires STORE_DRIVER=postgres", "store_driver", cfg.StoreDriver)

		return exitFailure
	}

	ctx := context.Background()

	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithAfterConnect(pgxvec.RegisterTypes))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)

		return exitFailure
	}
	defer db.Close()

	riverClient, err := river.NewClient(riverpgxv5.New(db), &river.Config{
		Queues: map[string]river.QueueConfig{
			service.EmbeddingsQueueName: {},
		},
		Workers: river.NewWorkers(),
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)

		return exitFailure
	}

	backfill := service.NewEmbeddingBackfillService(service.EmbeddingBackfillParams{
		Lister:      repository.NewProfilesRepository(db, cfg.StorePageSize),
		Inserter:    riverClient,
		MaxAttempts: cfg.EmbeddingMaxAttempts,
		Logger:      slog.Default(),
	})

	enqueued, err := backfill.EnqueueMissing(ctx)
	if err != nil {
		slog.Error("Backfill failed", "enqueued", enqueued, "error", err)

		return exitFailure
	}

	slog.Info("Backfill complete", "enqueued", enqueued)

	fmt.Printf("Enqueued %d embedding job(s).\n", enqueued)

	return exitSuccess
}
