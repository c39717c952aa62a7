package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"
	"LendLedger/internal/projection"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down|rebuild>")
		fmt.Println("  up      - apply all pending migrations")
		fmt.Println("  down    - roll back the last migration")
		fmt.Println("  rebuild - rebuild the account activity read model from the event log")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  LEND_POSTGRES_DSN   - Postgres connection string (required)")
		fmt.Println("  LEND_MIGRATIONS_DIR - path to migrations directory (default: migrations)")
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")

	pgURL := os.Getenv("LEND_POSTGRES_DSN")
	if pgURL == "" {
		pgURL = "postgres://localhost:5432/lendledger?sslmode=disable"
	}

	migrationsDir := os.Getenv("LEND_MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	db, err := sql.Open("postgres", pgURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, migrationsDir, logger)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Msg("all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		logger.Info().Msg("last migration rolled back")

	case "rebuild":
		if err := projection.Rebuild(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("rebuild read model")
		}
		logger.Info().Msg("account activity read model rebuilt")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down', or 'rebuild')\n", os.Args[1])
		os.Exit(1)
	}
}
