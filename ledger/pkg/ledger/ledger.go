// Package ledger defines the account and token storage the bond program
// executes against. A Store runs closures inside a transaction; a closure
// that returns an error leaves the store exactly as it was.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrMintMismatch      = errors.New("token accounts hold different mints")
	ErrReadOnly          = errors.New("transaction is read-only")
	ErrInvalidAmount     = errors.New("amount out of range")

	// ErrConflict reports that a concurrent transaction won. The whole
	// closure may be run again.
	ErrConflict = errors.New("transaction conflict")
)

// Account is a program-owned record.
type Account struct {
	Address solana.PublicKey
	Owner   solana.PublicKey // program id
	Data    []byte
}

// TokenAccount holds a balance of one mint.
type TokenAccount struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Mint    solana.PublicKey
	Amount  uint64
}

// Tx is the view of the store inside one transaction. Reads observe the
// transaction's own writes.
type Tx interface {
	Account(ctx context.Context, address solana.PublicKey) (*Account, error)
	PutAccount(ctx context.Context, account Account) error

	TokenAccount(ctx context.Context, address solana.PublicKey) (*TokenAccount, error)
	OpenTokenAccount(ctx context.Context, account TokenAccount) error

	// Transfer moves amount between two accounts of the same mint. The debit
	// only happens when the source balance covers it.
	Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64) error

	// MintTo credits amount to an existing token account.
	MintTo(ctx context.Context, address solana.PublicKey, amount uint64) error
}

type Store interface {
	// Update runs fn in a read-write transaction and commits only if fn
	// returns nil.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(Tx) error) error
}

// Fund credits amount to the token account at account.Address, opening it
// first if it does not exist yet.
func Fund(ctx context.Context, store Store, account TokenAccount, amount uint64) error {
	return store.Update(ctx, func(tx Tx) error {
		existing, err := tx.TokenAccount(ctx, account.Address)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			account.Amount = 0
			if err := tx.OpenTokenAccount(ctx, account); err != nil {
				return fmt.Errorf("failed to open token account: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to get token account: %w", err)
		case existing.Mint != account.Mint:
			return fmt.Errorf("%w: %s holds %s", ErrMintMismatch, account.Address, existing.Mint)
		}
		return tx.MintTo(ctx, account.Address, amount)
	})
}

// Balance returns the balance of a token account.
func Balance(ctx context.Context, store Store, address solana.PublicKey) (uint64, error) {
	var amount uint64
	err := store.View(ctx, func(tx Tx) error {
		acct, err := tx.TokenAccount(ctx, address)
		if err != nil {
			return err
		}
		amount = acct.Amount
		return nil
	})
	return amount, err
}
