package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/malbeclabs/bonds/indexer/pkg/activity"
	"github.com/malbeclabs/bonds/indexer/pkg/clickhouse"
)

type ResetActivityConfig struct {
	Database    string
	DryRun      bool
	SkipConfirm bool
	In          io.Reader
	Out         io.Writer
}

// ResetActivity truncates the bond_activity table after an interactive
// confirmation.
func ResetActivity(ctx context.Context, log *slog.Logger, client clickhouse.Client, cfg ResetActivityConfig) error {
	conn, err := client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, "SELECT count() FROM "+activity.TableName)
	if err != nil {
		return fmt.Errorf("failed to count activity rows: %w", err)
	}
	var count uint64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan row count: %w", err)
		}
	}
	rows.Close()

	if count == 0 {
		fmt.Fprintf(cfg.Out, "%s is already empty\n", activity.TableName)
		return nil
	}
	fmt.Fprintf(cfg.Out, "WARNING: this will delete %d row(s) from %s.%s\n", count, cfg.Database, activity.TableName)

	if cfg.DryRun {
		fmt.Fprintln(cfg.Out, "[DRY RUN] Would truncate the table")
		return nil
	}
	if !cfg.SkipConfirm {
		ok, err := confirm(cfg.In, cfg.Out)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cfg.Out, "Confirmation failed. Operation cancelled.")
			return nil
		}
	}

	if err := conn.Exec(ctx, "TRUNCATE TABLE IF EXISTS "+activity.TableName); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", activity.TableName, err)
	}
	log.Info("admin: activity log reset", "database", cfg.Database, "rows", count)
	return nil
}

// confirm asks for a literal "yes".
func confirm(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprint(out, "This cannot be undone. Type 'yes' to confirm: ")
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return strings.EqualFold(strings.TrimSpace(response), "yes"), nil
}
