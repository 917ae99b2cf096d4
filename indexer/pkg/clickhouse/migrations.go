package clickhouse

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/bonds/indexer"
)

const migrationsDir = "db/clickhouse/migrations"

// MigrationConfig holds the configuration for running migrations
type MigrationConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Secure   bool
}

// slogGooseLogger adapts slog.Logger to goose.Logger interface
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// goose keeps its dialect, filesystem and logger in package state.
var gooseMu sync.Mutex

func CreateDatabase(ctx context.Context, log *slog.Logger, conn Connection, database string) error {
	log.Info("clickhouse: creating database", "database", database)
	return conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database))
}

// Up runs all pending migrations.
func Up(ctx context.Context, log *slog.Logger, cfg MigrationConfig) error {
	log.Info("clickhouse: running migrations (up)", "database", cfg.Database)
	err := withGoose(log, cfg, func(db *sql.DB) error {
		return goose.UpContext(ctx, db, migrationsDir)
	})
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("clickhouse: migrations completed", "database", cfg.Database)
	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, log *slog.Logger, cfg MigrationConfig) error {
	log.Info("clickhouse: rolling back migration (down)", "database", cfg.Database)
	err := withGoose(log, cfg, func(db *sql.DB) error {
		return goose.DownContext(ctx, db, migrationsDir)
	})
	if err != nil {
		return fmt.Errorf("failed to roll back migration: %w", err)
	}
	return nil
}

// MigrationStatus logs the status of all migrations.
func MigrationStatus(ctx context.Context, log *slog.Logger, cfg MigrationConfig) error {
	return withGoose(log, cfg, func(db *sql.DB) error {
		return goose.StatusContext(ctx, db, migrationsDir)
	})
}

func withGoose(log *slog.Logger, cfg MigrationConfig, fn func(*sql.DB) error) error {
	db := newSQLDB(cfg)
	defer db.Close()

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(indexer.ClickHouseMigrationsFS)
	if err := goose.SetDialect("clickhouse"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}

// newSQLDB creates a database/sql compatible connection for goose
func newSQLDB(cfg MigrationConfig) *sql.DB {
	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	}
	if cfg.Secure {
		options.TLS = &tls.Config{}
	}
	return clickhouse.OpenDB(options)
}
