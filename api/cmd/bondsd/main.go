package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/bonds/api/pkg/server"
	"github.com/malbeclabs/bonds/indexer/pkg/activity"
	"github.com/malbeclabs/bonds/indexer/pkg/clickhouse"
	"github.com/malbeclabs/bonds/ledger/pkg/ledger"
	"github.com/malbeclabs/bonds/ledger/pkg/memory"
	"github.com/malbeclabs/bonds/ledger/pkg/postgres"
	"github.com/malbeclabs/bonds/program/pkg/bonds"
	"github.com/malbeclabs/bonds/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	ledgerMemory   = "memory"
	ledgerPostgres = "postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", "text", "log format: text or json (or set LOG_FORMAT env var)")
	envFileFlag := flag.String("env-file", ".env", "load environment variables from this file if it exists")

	listenAddrFlag := flag.String("listen-addr", ":8080", "HTTP listen address (or set LISTEN_ADDR env var)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 10*time.Second, "maximum time to wait for in-flight requests on shutdown")
	allowedOriginsFlag := flag.StringSlice("allowed-origins", []string{"*"}, "CORS allowed origins (or set ALLOWED_ORIGINS env var, comma separated)")
	rateLimitFlag := flag.Float64("rate-limit", 10, "per-IP requests per second on /v1 routes")
	rateBurstFlag := flag.Int("rate-burst", 50, "per-IP burst on /v1 routes")
	faucetFlag := flag.Bool("faucet", false, "enable POST /v1/faucet (local simulation only)")
	programIDFlag := flag.String("program-id", "", "bonds program id (or set BONDS_PROGRAM_ID env var)")

	ledgerFlag := flag.String("ledger", ledgerMemory, "ledger backend: memory or postgres (or set BONDS_LEDGER env var)")
	migrateFlag := flag.Bool("migrate", false, "run ledger and activity log migrations before serving")

	// PostgreSQL configuration
	pgHostFlag := flag.String("pg-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "bonds", "PostgreSQL database name (or set POSTGRES_DB env var)")
	pgUsernameFlag := flag.String("pg-username", "bonds", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("pg-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "PostgreSQL sslmode (or set POSTGRES_SSLMODE env var)")

	// ClickHouse configuration; the activity log is disabled without an address.
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse (or set CLICKHOUSE_SECURE=true env var)")
	activityFlushFlag := flag.Duration("activity-flush-interval", 5*time.Second, "activity log flush interval")

	flag.Parse()

	if err := godotenv.Load(*envFileFlag); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}

	overrideString(logFormatFlag, "LOG_FORMAT")
	overrideString(listenAddrFlag, "LISTEN_ADDR")
	overrideString(programIDFlag, "BONDS_PROGRAM_ID")
	overrideString(ledgerFlag, "BONDS_LEDGER")
	overrideString(pgHostFlag, "POSTGRES_HOST")
	overrideString(pgPortFlag, "POSTGRES_PORT")
	overrideString(pgDatabaseFlag, "POSTGRES_DB")
	overrideString(pgUsernameFlag, "POSTGRES_USER")
	overrideString(pgPasswordFlag, "POSTGRES_PASSWORD")
	overrideString(pgSSLModeFlag, "POSTGRES_SSLMODE")
	overrideString(clickhouseAddrFlag, "CLICKHOUSE_ADDR_TCP")
	overrideString(clickhouseDatabaseFlag, "CLICKHOUSE_DATABASE")
	overrideString(clickhouseUsernameFlag, "CLICKHOUSE_USERNAME")
	overrideString(clickhousePasswordFlag, "CLICKHOUSE_PASSWORD")
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		if err := flag.Set("allowed-origins", v); err != nil {
			return fmt.Errorf("invalid ALLOWED_ORIGINS: %w", err)
		}
	}
	if v := os.Getenv("BONDS_FAUCET"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BONDS_FAUCET: %w", err)
		}
		*faucetFlag = enabled
	}

	format, err := logger.ParseFormat(*logFormatFlag)
	if err != nil {
		return err
	}
	log := logger.NewWithOptions(logger.Options{Verbose: *verboseFlag, Format: format})

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      os.Getenv("SENTRY_ENVIRONMENT"),
			Release:          version,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
		log.Info("sentry initialized", "environment", os.Getenv("SENTRY_ENVIRONMENT"))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var programID solana.PublicKey
	if *programIDFlag != "" {
		programID, err = solana.PublicKeyFromBase58(*programIDFlag)
		if err != nil {
			return fmt.Errorf("invalid program id: %w", err)
		}
	}

	store, ready, closeStore, err := openLedger(ctx, log, *ledgerFlag, *migrateFlag, postgres.ConnConfig{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	})
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		recorder      *activity.Recorder
		activityStore *activity.Store
	)
	if *clickhouseAddrFlag != "" {
		chCfg := clickhouse.ClientConfig{
			Logger:   log,
			Addr:     *clickhouseAddrFlag,
			Database: *clickhouseDatabaseFlag,
			Username: *clickhouseUsernameFlag,
			Password: *clickhousePasswordFlag,
			Secure:   *clickhouseSecureFlag,
		}
		if *migrateFlag {
			if err := clickhouse.Up(ctx, log, chCfg.MigrationConfig()); err != nil {
				return err
			}
		}
		client, err := clickhouse.NewClient(ctx, chCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		defer client.Close()

		activityStore, err = activity.NewStore(activity.StoreConfig{Logger: log, Client: client})
		if err != nil {
			return err
		}
		recorder, err = activity.NewRecorder(activity.RecorderConfig{
			Logger:        log,
			Writer:        activityStore,
			FlushInterval: *activityFlushFlag,
		})
		if err != nil {
			return err
		}
	}

	procCfg := bonds.ProcessorConfig{Logger: log, ProgramID: programID, Ledger: store}
	if recorder != nil {
		procCfg.Events = recorder
	}
	proc, err := bonds.NewProcessor(procCfg)
	if err != nil {
		return err
	}

	srvCfg := server.Config{
		Logger:          log,
		Processor:       proc,
		Ledger:          store,
		Ready:           ready,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		RateLimit:       rate.Limit(*rateLimitFlag),
		RateBurst:       *rateBurstFlag,
		AllowedOrigins:  *allowedOriginsFlag,
		Faucet:          *faucetFlag,
		Sentry:          sentry.CurrentHub().Client() != nil,
	}
	if activityStore != nil {
		srvCfg.Activity = activityStore
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}

	log.Info("bondsd: starting",
		"version", version,
		"ledger", *ledgerFlag,
		"program_id", proc.Addresses().ProgramID(),
		"activity", recorder != nil,
		"faucet", *faucetFlag,
	)

	// The recorder outlives the server so events from in-flight requests are
	// still flushed.
	recorderCtx, stopRecorder := context.WithCancel(context.WithoutCancel(ctx))
	defer stopRecorder()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopRecorder()
		return srv.Run(gctx)
	})
	if recorder != nil {
		g.Go(func() error {
			return recorder.Run(recorderCtx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("bondsd: stopped")
	return nil
}

// openLedger returns the store, its readiness probe and a close function.
func openLedger(ctx context.Context, log *slog.Logger, backend string, migrate bool, pgCfg postgres.ConnConfig) (ledger.Store, func(context.Context) error, func(), error) {
	switch backend {
	case ledgerMemory:
		log.Warn("bondsd: using the in-memory ledger, state is lost on exit")
		return memory.New(), nil, func() {}, nil
	case ledgerPostgres:
		connStr := pgCfg.ConnString()
		if migrate {
			if err := postgres.MigrateUp(ctx, log, connStr); err != nil {
				return nil, nil, nil, err
			}
		}
		pool, err := postgres.NewPool(ctx, connStr)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := postgres.NewStore(postgres.StoreConfig{Logger: log, Pool: pool})
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return store, store.Ping, pool.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown ledger backend %q (want %s or %s)", backend, ledgerMemory, ledgerPostgres)
	}
}

func overrideString(flagValue *string, env string) {
	if v := os.Getenv(env); v != "" {
		*flagValue = v
	}
}
