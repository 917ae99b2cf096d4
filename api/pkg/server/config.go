package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/malbeclabs/bonds/indexer/pkg/activity"
	"github.com/malbeclabs/bonds/ledger/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/bonds"
	"github.com/malbeclabs/bonds/utils/pkg/retry"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// ActivityReader serves the activity endpoint. *activity.Store implements it.
type ActivityReader interface {
	Recent(ctx context.Context, wallet string, limit int) ([]activity.Row, error)
}

type Config struct {
	Logger    *slog.Logger
	Processor *bonds.Processor
	// Ledger backs the faucet. Required when Faucet is set.
	Ledger ledger.Store
	// Activity is optional; without it the activity endpoint is not routed.
	Activity ActivityReader
	// Ready reports whether backing stores are reachable. Nil means always
	// ready.
	Ready func(ctx context.Context) error

	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	// RateLimit and RateBurst configure the per-IP limiter on /v1 routes.
	RateLimit      rate.Limit
	RateBurst      int
	AllowedOrigins []string
	MaxBodyBytes   int64
	Retry          retry.Config

	// Faucet enables POST /v1/faucet, which mints the admin mint out of thin
	// air. Local simulation only.
	Faucet bool
	// Sentry wraps the router with the sentry-go HTTP handler. The client
	// must already be initialized.
	Sentry bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Processor == nil {
		return errors.New("processor is required")
	}
	if cfg.Faucet && cfg.Ledger == nil {
		return errors.New("ledger is required when the faucet is enabled")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Every(time.Minute / 600)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 50
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}
