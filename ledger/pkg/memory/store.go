// Package memory is an in-process ledger.Store. Writers are serialized by a
// single lock held for the whole Update; writes are staged and merged only
// when the closure succeeds.
package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/bonds/ledger/pkg/ledger"
)

type Store struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]ledger.Account
	tokens   map[solana.PublicKey]ledger.TokenAccount
}

func New() *Store {
	return &Store{
		accounts: make(map[solana.PublicKey]ledger.Account),
		tokens:   make(map[solana.PublicKey]ledger.TokenAccount),
	}
}

func (s *Store) Update(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s, false)
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for addr, acct := range tx.accounts {
		s.accounts[addr] = acct
	}
	for addr, acct := range tx.tokens {
		s.tokens[addr] = acct
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(newTx(s, true))
}

// Snapshot returns a deep copy of every stored account and token account.
func (s *Store) Snapshot() (map[solana.PublicKey]ledger.Account, map[solana.PublicKey]ledger.TokenAccount) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make(map[solana.PublicKey]ledger.Account, len(s.accounts))
	for addr, acct := range s.accounts {
		acct.Data = slices.Clone(acct.Data)
		accounts[addr] = acct
	}
	tokens := make(map[solana.PublicKey]ledger.TokenAccount, len(s.tokens))
	for addr, acct := range s.tokens {
		tokens[addr] = acct
	}
	return accounts, tokens
}

type tx struct {
	store    *Store
	readOnly bool
	accounts map[solana.PublicKey]ledger.Account
	tokens   map[solana.PublicKey]ledger.TokenAccount
}

func newTx(s *Store, readOnly bool) *tx {
	return &tx{
		store:    s,
		readOnly: readOnly,
		accounts: make(map[solana.PublicKey]ledger.Account),
		tokens:   make(map[solana.PublicKey]ledger.TokenAccount),
	}
}

func (t *tx) Account(_ context.Context, address solana.PublicKey) (*ledger.Account, error) {
	acct, ok := t.accounts[address]
	if !ok {
		acct, ok = t.store.accounts[address]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, address)
	}
	acct.Data = slices.Clone(acct.Data)
	return &acct, nil
}

func (t *tx) PutAccount(_ context.Context, account ledger.Account) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	account.Data = slices.Clone(account.Data)
	t.accounts[account.Address] = account
	return nil
}

func (t *tx) TokenAccount(_ context.Context, address solana.PublicKey) (*ledger.TokenAccount, error) {
	acct, ok := t.token(address)
	if !ok {
		return nil, fmt.Errorf("%w: token account %s", ledger.ErrAccountNotFound, address)
	}
	return &acct, nil
}

func (t *tx) OpenTokenAccount(_ context.Context, account ledger.TokenAccount) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	if _, ok := t.token(account.Address); ok {
		return fmt.Errorf("%w: token account %s", ledger.ErrAccountExists, account.Address)
	}
	t.tokens[account.Address] = account
	return nil
}

func (t *tx) Transfer(_ context.Context, from, to solana.PublicKey, amount uint64) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	src, ok := t.token(from)
	if !ok {
		return fmt.Errorf("%w: token account %s", ledger.ErrAccountNotFound, from)
	}
	dst, ok := t.token(to)
	if !ok {
		return fmt.Errorf("%w: token account %s", ledger.ErrAccountNotFound, to)
	}
	if src.Mint != dst.Mint {
		return fmt.Errorf("%w: %s -> %s", ledger.ErrMintMismatch, from, to)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ledger.ErrInsufficientFunds, from, src.Amount, amount)
	}
	if from == to || amount == 0 {
		return nil
	}
	if dst.Amount > math.MaxUint64-amount {
		return fmt.Errorf("%w: credit to %s overflows", ledger.ErrInvalidAmount, to)
	}
	src.Amount -= amount
	dst.Amount += amount
	t.tokens[from] = src
	t.tokens[to] = dst
	return nil
}

func (t *tx) MintTo(_ context.Context, address solana.PublicKey, amount uint64) error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	acct, ok := t.token(address)
	if !ok {
		return fmt.Errorf("%w: token account %s", ledger.ErrAccountNotFound, address)
	}
	if acct.Amount > math.MaxUint64-amount {
		return fmt.Errorf("%w: mint to %s overflows", ledger.ErrInvalidAmount, address)
	}
	acct.Amount += amount
	t.tokens[address] = acct
	return nil
}

func (t *tx) token(address solana.PublicKey) (ledger.TokenAccount, bool) {
	if acct, ok := t.tokens[address]; ok {
		return acct, true
	}
	acct, ok := t.store.tokens[address]
	return acct, ok
}
