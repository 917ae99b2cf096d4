package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/bonds/admin/internal/admin"
	"github.com/malbeclabs/bonds/indexer/pkg/clickhouse"
	"github.com/malbeclabs/bonds/ledger/pkg/postgres"
	"github.com/malbeclabs/bonds/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	envFileFlag := flag.String("env-file", ".env", "load environment variables from this file if it exists")

	// PostgreSQL configuration
	pgHostFlag := flag.String("pg-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "bonds", "PostgreSQL database name (or set POSTGRES_DB env var)")
	pgUsernameFlag := flag.String("pg-username", "bonds", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("pg-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "PostgreSQL sslmode (or set POSTGRES_SSLMODE env var)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse (or set CLICKHOUSE_SECURE=true env var)")

	// Commands
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run ledger database migrations")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last ledger database migration")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show ledger database migration status")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run activity log migrations")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "Show activity log migration status")
	resetActivityFlag := flag.Bool("reset-activity", false, "Delete every row of the activity log")
	mintToFlag := flag.String("mint-to", "", "Credit tokens to this wallet's associated token account in the ledger")
	mintToPoolFlag := flag.Bool("mint-to-pool", false, "Credit tokens to the rewards pool in the ledger")

	// Command options
	mintFlag := flag.String("mint", "", "Token mint for --mint-to and --mint-to-pool (or set BONDS_MINT env var)")
	amountFlag := flag.Uint64("amount", 0, "Amount in base units for --mint-to and --mint-to-pool")
	programIDFlag := flag.String("program-id", "", "Bonds program id (or set BONDS_PROGRAM_ID env var)")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	if err := godotenv.Load(*envFileFlag); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}

	log := logger.New(*verboseFlag)

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
	overrideString(mintFlag, "BONDS_MINT")
	overrideString(programIDFlag, "BONDS_PROGRAM_ID")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgCfg := postgres.ConnConfig{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}
	chCfg := clickhouse.ClientConfig{
		Logger:   log,
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}

	switch {
	case *pgMigrateFlag:
		return admin.PgMigrateUp(ctx, log, pgCfg)

	case *pgMigrateDownFlag:
		return admin.PgMigrateDown(ctx, log, pgCfg)

	case *pgMigrateStatusFlag:
		return admin.PgMigrateStatus(ctx, log, pgCfg)

	case *clickhouseMigrateFlag:
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate")
		}
		return clickhouse.Up(ctx, log, chCfg.MigrationConfig())

	case *clickhouseMigrateStatusFlag:
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate-status")
		}
		return clickhouse.MigrationStatus(ctx, log, chCfg.MigrationConfig())

	case *resetActivityFlag:
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --reset-activity")
		}
		client, err := clickhouse.NewClient(ctx, chCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		defer client.Close()
		return admin.ResetActivity(ctx, log, client, admin.ResetActivityConfig{
			Database:    chCfg.Database,
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})

	case *mintToFlag != "" || *mintToPoolFlag:
		cfg := admin.MintToConfig{Amount: *amountFlag, RewardsPool: *mintToPoolFlag}
		var err error
		if cfg.Mint, err = parseKey("--mint", *mintFlag); err != nil {
			return err
		}
		if *mintToFlag != "" {
			if cfg.Wallet, err = parseKey("--mint-to", *mintToFlag); err != nil {
				return err
			}
		}
		if *programIDFlag != "" {
			if cfg.ProgramID, err = parseKey("--program-id", *programIDFlag); err != nil {
				return err
			}
		}

		pool, err := postgres.NewPool(ctx, pgCfg.ConnString())
		if err != nil {
			return err
		}
		defer pool.Close()
		store, err := postgres.NewStore(postgres.StoreConfig{Logger: log, Pool: pool})
		if err != nil {
			return err
		}
		acct, err := admin.MintTo(ctx, log, store, cfg)
		if err != nil {
			return err
		}
		fmt.Printf("%s balance %d\n", acct.Address, acct.Amount)
		return nil
	}

	flag.Usage()
	return nil
}

func overrideString(flagValue *string, env string) {
	if v := os.Getenv(env); v != "" {
		*flagValue = v
	}
}

func parseKey(name, value string) (solana.PublicKey, error) {
	if value == "" {
		return solana.PublicKey{}, fmt.Errorf("%s is required", name)
	}
	pk, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", name, err)
	}
	return pk, nil
}
