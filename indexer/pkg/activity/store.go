// Package activity records processed bond transactions in ClickHouse.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/malbeclabs/bonds/indexer/pkg/clickhouse"
	"github.com/malbeclabs/bonds/program/pkg/bonds"
)

const TableName = "bond_activity"

// Row is one bond_activity record.
type Row struct {
	ID        uuid.UUID
	Time      time.Time
	Op        string
	Signer    string
	Wallet    string
	BondIndex int16
	Amount    uint64
	Reward    uint64
	Compound  bool
	NewBond   int16
	Outcome   string
}

// RowFromEvent converts ev and assigns it a fresh id. Zero keys are stored as
// empty strings.
func RowFromEvent(ev bonds.Event) Row {
	row := Row{
		ID:        uuid.New(),
		Time:      ev.Time.UTC(),
		Op:        ev.Op.String(),
		BondIndex: ev.BondIndex,
		Amount:    ev.Amount,
		Reward:    ev.Reward,
		Compound:  ev.Compound,
		NewBond:   ev.NewBond,
		Outcome:   ev.Outcome,
	}
	if !ev.Signer.IsZero() {
		row.Signer = ev.Signer.String()
	}
	if !ev.Wallet.IsZero() {
		row.Wallet = ev.Wallet.String()
	}
	return row
}

type StoreConfig struct {
	Logger *slog.Logger
	Client clickhouse.Client
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	return nil
}

// Store reads and writes the bond_activity table.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

// Insert writes rows in one batch.
func (s *Store) Insert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	batch, err := conn.PrepareBatch(ctx, "INSERT INTO "+TableName)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Close()

	for i, r := range rows {
		if err := batch.Append(
			r.ID, r.Time, r.Op, r.Signer, r.Wallet, r.BondIndex,
			r.Amount, r.Reward, r.Compound, r.NewBond, r.Outcome,
		); err != nil {
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	s.log.Debug("activity: wrote batch", "rows", len(rows))
	return nil
}

// Recent returns up to limit rows for wallet, newest first.
func (s *Store) Recent(ctx context.Context, wallet string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get clickhouse connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `
		SELECT id, ts, op, signer, wallet, bond_index, amount, reward, compound, new_bond, outcome
		FROM `+TableName+`
		WHERE wallet = ?
		ORDER BY ts DESC, id
		LIMIT ?`, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(
			&r.ID, &r.Time, &r.Op, &r.Signer, &r.Wallet, &r.BondIndex,
			&r.Amount, &r.Reward, &r.Compound, &r.NewBond, &r.Outcome,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read activity rows: %w", err)
	}
	return out, nil
}
