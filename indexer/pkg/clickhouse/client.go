package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const DefaultDatabase = "default"

// ContextWithSyncInsert returns a context configured for synchronous inserts,
// so rows are readable as soon as the insert returns.
func ContextWithSyncInsert(ctx context.Context) context.Context {
	return clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"async_insert":                           0,
		"wait_for_async_insert":                  1,
		"async_insert_use_adaptive_busy_timeout": 0, // 24.3+ overrides async settings otherwise
		"insert_deduplicate":                     0,
		"select_sequential_consistency":          1,
	}))
}

// Client is a pooled ClickHouse connection.
type Client interface {
	Conn(ctx context.Context) (Connection, error)
	Close() error
}

// Connection is the subset of the driver used by the activity log.
type Connection interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	PrepareBatch(ctx context.Context, query string) (driver.Batch, error)
	Close() error
}

type ClientConfig struct {
	Logger   *slog.Logger
	Addr     string
	Database string
	Username string
	Password string
	// Secure enables TLS, as required by ClickHouse Cloud on port 9440.
	Secure      bool
	DialTimeout time.Duration
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Addr == "" {
		return errors.New("addr is required")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return nil
}

// MigrationConfig returns the migration settings for the same server.
func (cfg ClientConfig) MigrationConfig() MigrationConfig {
	return MigrationConfig{
		Addr:     cfg.Addr,
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
		Secure:   cfg.Secure,
	}
}

type client struct {
	conn driver.Conn
	log  *slog.Logger
}

type connection struct {
	conn driver.Conn
}

// NewClient opens and pings a ClickHouse connection.
func NewClient(ctx context.Context, cfg ClientConfig) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate clickhouse config: %w", err)
	}
	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.Secure {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	cfg.Logger.Info("clickhouse: client initialized", "addr", cfg.Addr, "database", cfg.Database, "secure", cfg.Secure)
	return &client{conn: conn, log: cfg.Logger}, nil
}

func (c *client) Conn(ctx context.Context) (Connection, error) {
	return &connection{conn: c.conn}, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}

func (c *connection) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *connection) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

func (c *connection) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

// Close is a no-op: the underlying connection is shared by the client.
func (c *connection) Close() error {
	return nil
}
