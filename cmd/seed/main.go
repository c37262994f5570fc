// seed loads float profiles from a YAML fixture file into the configured store.
// Profiles without an embedding are stored with a NULL one; run backfill-embeddings afterwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/floatchat/floatchat/internal/config"
	"github.com/floatchat/floatchat/internal/repository"
	"github.com/floatchat/floatchat/internal/repository/sqlite"
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
	var path string

	flag.StringVar(&path, "file", "fixtures/profiles.yaml", "Path to YAML fixture file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return exitFailure
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Error("Failed to open fixture file", "path", path, "error", err)

		return exitFailure
	}
	defer f.Close()

	profiles, levels, err := loadFixtures(f)
	if err != nil {
		slog.Error("Failed to load fixtures", "path", path, "error", err)

		return exitFailure
	}

	ctx := context.Background()

	var store profileInserter

	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, cfg.StorePageSize, slog.Default())
		if err != nil {
			slog.Error("Failed to open SQLite store", "error", err)

			return exitFailure
		}
		defer s.Close()

		store = s
	default:
		db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, database.WithAfterConnect(pgxvec.RegisterTypes))
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)

			return exitFailure
		}
		defer db.Close()

		store = repository.NewProfilesRepository(db, cfg.StorePageSize)
	}

	ids, err := seed(ctx, store, profiles, levels)
	if err != nil {
		slog.Error("Seeding failed", "inserted", len(ids), "error", err)

		return exitFailure
	}

	slog.Info("Seeding complete", "inserted", len(ids), "store", cfg.StoreDriver)

	fmt.Printf("Inserted %d profile(s).\n", len(ids))

	return exitSuccess
}
