package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/bonds/ledger/pkg/postgres"
)

// PgMigrateUp runs all pending ledger migrations.
func PgMigrateUp(ctx context.Context, log *slog.Logger, cfg postgres.ConnConfig) error {
	if err := postgres.MigrateUp(ctx, log, cfg.ConnString()); err != nil {
		return fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return nil
}

// PgMigrateDown rolls back the last ledger migration.
func PgMigrateDown(ctx context.Context, log *slog.Logger, cfg postgres.ConnConfig) error {
	if err := postgres.MigrateDown(ctx, log, cfg.ConnString()); err != nil {
		return fmt.Errorf("failed to roll back ledger migration: %w", err)
	}
	return nil
}

// PgMigrateStatus logs the state of every ledger migration.
func PgMigrateStatus(ctx context.Context, log *slog.Logger, cfg postgres.ConnConfig) error {
	if err := postgres.MigrateStatus(ctx, log, cfg.ConnString()); err != nil {
		return fmt.Errorf("failed to get ledger migration status: %w", err)
	}
	return nil
}
