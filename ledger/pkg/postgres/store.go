// Package postgres is a ledger.Store backed by PostgreSQL. Every Update runs
// in a SERIALIZABLE transaction and locks the rows it reads; serialization
// failures surface as ledger.ErrConflict.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/bonds/ledger/pkg/ledger"
)

// Amounts are stored as BIGINT.
const MaxAmount = math.MaxInt64

type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	return nil
}

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate store config: %w", err)
	}
	return &Store{log: cfg.Logger, pool: cfg.Pool}, nil
}

// NewPool opens a connection pool and verifies it with a ping.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return pool, nil
}

func (s *Store) Update(ctx context.Context, fn func(ledger.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(ptx pgx.Tx) error {
		return fn(&tx{tx: ptx})
	})
	err = classify(err)
	if errors.Is(err, ledger.ErrConflict) {
		s.log.Debug("postgres: transaction conflict", "error", err)
	}
	return err
}

func (s *Store) View(ctx context.Context, fn func(ledger.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := pgx.BeginTxFunc(ctx, s.pool, opts, func(ptx pgx.Tx) error {
		return fn(&tx{tx: ptx, readOnly: true})
	})
	return classify(err)
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// conflictError marks a serialization failure. It matches both
// ledger.ErrConflict and the underlying driver error.
type conflictError struct {
	err error
}

func (e *conflictError) Error() string   { return fmt.Sprintf("%s: %v", ledger.ErrConflict, e.err) }
func (e *conflictError) Unwrap() []error { return []error{ledger.ErrConflict, e.err} }
func (e *conflictError) Retryable() bool { return true }

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return &conflictError{err: err}
		}
	}
	return err
}

type tx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *tx) lockClause() string {
	if t.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

func (t *tx) Account(ctx context.Context, address solana.PublicKey) (*ledger.Account, error) {
	var owner, data []byte
	err := t.tx.QueryRow(ctx, `
		SELECT owner, data FROM accounts WHERE address = $1`+t.lockClause(),
		address[:],
	).Scan(&owner, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	return &ledger.Account{
		Address: address,
		Owner:   solana.PublicKeyFromBytes(owner),
		Data:    data,
	}, nil
}

func (t *tx) PutAccount(ctx context.Context, account ledger.Account) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	data := account.Data
	if data == nil {
		data = []byte{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO accounts (address, owner, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE
		SET owner = EXCLUDED.owner, data = EXCLUDED.data, updated_at = NOW()
	`, account.Address[:], account.Owner[:], data)
	if err != nil {
		return fmt.Errorf("failed to put account %s: %w", account.Address, err)
	}
	return nil
}

func (t *tx) TokenAccount(ctx context.Context, address solana.PublicKey) (*ledger.TokenAccount, error) {
	var owner, mint []byte
	var amount int64
	err := t.tx.QueryRow(ctx, `
		SELECT owner, mint, amount FROM token_accounts WHERE address = $1`+t.lockClause(),
		address[:],
	).Scan(&owner, &mint, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: token account %s", ledger.ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token account %s: %w", address, err)
	}
	return &ledger.TokenAccount{
		Address: address,
		Owner:   solana.PublicKeyFromBytes(owner),
		Mint:    solana.PublicKeyFromBytes(mint),
		Amount:  uint64(amount),
	}, nil
}

func (t *tx) OpenTokenAccount(ctx context.Context, account ledger.TokenAccount) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	if account.Amount > MaxAmount {
		return fmt.Errorf("%w: %d exceeds %d", ledger.ErrInvalidAmount, account.Amount, int64(MaxAmount))
	}
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO token_accounts (address, owner, mint, amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO NOTHING
	`, account.Address[:], account.Owner[:], account.Mint[:], int64(account.Amount))
	if err != nil {
		return fmt.Errorf("failed to open token account %s: %w", account.Address, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: token account %s", ledger.ErrAccountExists, account.Address)
	}
	return nil
}

func (t *tx) Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	if amount > MaxAmount {
		return fmt.Errorf("%w: %d exceeds %d", ledger.ErrInvalidAmount, amount, int64(MaxAmount))
	}

	// Lock both rows in address order so concurrent transfers cannot deadlock.
	rows, err := t.tx.Query(ctx, `
		SELECT address, mint, amount FROM token_accounts
		WHERE address IN ($1, $2)
		ORDER BY address
		FOR UPDATE
	`, from[:], to[:])
	if err != nil {
		return fmt.Errorf("failed to lock token accounts: %w", err)
	}
	type locked struct {
		mint   solana.PublicKey
		amount int64
	}
	found := make(map[solana.PublicKey]locked, 2)
	for rows.Next() {
		var addr, mint []byte
		var l locked
		if err := rows.Scan(&addr, &mint, &l.amount); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan token account: %w", err)
		}
		l.mint = solana.PublicKeyFromBytes(mint)
		found[solana.PublicKeyFromBytes(addr)] = l
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to lock token accounts: %w", err)
	}

	src, ok := found[from]
	if !ok {
		return fmt.Errorf("%w: token account %s", ledger.ErrAccountNotFound, from)
	}
	dst, ok := found[to]
	if !ok {
		return fmt.Errorf("%w: token account %s", ledger.ErrAccountNotFound, to)
	}
	if src.mint != dst.mint {
		return fmt.Errorf("%w: %s -> %s", ledger.ErrMintMismatch, from, to)
	}
	if uint64(src.amount) < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ledger.ErrInsufficientFunds, from, src.amount, amount)
	}
	if from == to || amount == 0 {
		return nil
	}
	if dst.amount > MaxAmount-int64(amount) {
		return fmt.Errorf("%w: credit to %s overflows", ledger.ErrInvalidAmount, to)
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE token_accounts SET amount = amount - $2, updated_at = NOW()
		WHERE address = $1 AND amount >= $2
	`, from[:], int64(amount))
	if err != nil {
		return fmt.Errorf("failed to debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrInsufficientFunds, from)
	}
	if _, err := t.tx.Exec(ctx, `
		UPDATE token_accounts SET amount = amount + $2, updated_at = NOW()
		WHERE address = $1
	`, to[:], int64(amount)); err != nil {
		return fmt.Errorf("failed to credit %s: %w", to, err)
	}
	return nil
}

func (t *tx) MintTo(ctx context.Context, address solana.PublicKey, amount uint64) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	acct, err := t.TokenAccount(ctx, address)
	if err != nil {
		return err
	}
	if amount > MaxAmount || acct.Amount > MaxAmount-amount {
		return fmt.Errorf("%w: mint to %s overflows", ledger.ErrInvalidAmount, address)
	}
	if _, err := t.tx.Exec(ctx, `
		UPDATE token_accounts SET amount = amount + $2, updated_at = NOW()
		WHERE address = $1
	`, address[:], int64(amount)); err != nil {
		return fmt.Errorf("failed to mint to %s: %w", address, err)
	}
	return nil
}
