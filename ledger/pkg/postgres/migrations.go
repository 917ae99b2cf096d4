package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrateUp runs all pending ledger migrations against connStr.
func MigrateUp(ctx context.Context, log *slog.Logger, connStr string) error {
	return withProvider(ctx, connStr, func(p *goose.Provider) error {
		log.Info("postgres: running ledger migrations (up)")
		results, err := p.Up(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		for _, r := range results {
			log.Info("postgres: migration applied", "version", r.Source.Version, "path", r.Source.Path, "duration", r.Duration)
		}
		log.Info("postgres: ledger migrations completed", "applied", len(results))
		return nil
	})
}

// MigrateDown rolls back the most recent ledger migration.
func MigrateDown(ctx context.Context, log *slog.Logger, connStr string) error {
	return withProvider(ctx, connStr, func(p *goose.Provider) error {
		log.Info("postgres: rolling back ledger migration (down)")
		r, err := p.Down(ctx)
		if err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		log.Info("postgres: migration rolled back", "version", r.Source.Version, "path", r.Source.Path)
		return nil
	})
}

// MigrateStatus logs the state of every ledger migration.
func MigrateStatus(ctx context.Context, log *slog.Logger, connStr string) error {
	return withProvider(ctx, connStr, func(p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		for _, s := range statuses {
			log.Info("postgres: migration status", "version", s.Source.Version, "path", s.Source.Path, "state", s.State, "applied_at", s.AppliedAt)
		}
		return nil
	})
}

// withProvider uses a goose.Provider rather than the package-level goose
// state so that parallel tests can migrate separate databases.
func withProvider(ctx context.Context, connStr string, fn func(*goose.Provider) error) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	fsys, err := fs.Sub(MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}
	return fn(p)
}
