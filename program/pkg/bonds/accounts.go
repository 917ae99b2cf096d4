package bonds

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/bonds/ledger/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/pda"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

func (x *execution) requireSigner(role string, pk solana.PublicKey) error {
	if !x.txn.SignedBy(pk) {
		return reject(ErrUnauthorized, "%s %s must sign", role, pk)
	}
	return nil
}

// occupied reports whether a program record exists at addr.
func (x *execution) occupied(addr solana.PublicKey) (bool, error) {
	_, err := x.tx.Account(x.ctx, addr)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ledger.ErrAccountNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to get account %s: %w", addr, err)
	}
}

// load decodes the program record at addr into rec. missing is returned when
// there is no record.
func (x *execution) load(addr solana.PublicKey, rec state.Record, missing *ProgramError) error {
	acct, err := x.tx.Account(x.ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return reject(missing, "%s", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to get account %s: %w", addr, err)
	}
	if acct.Owner != x.p.cfg.ProgramID {
		return reject(ErrInvalidAccountData, "%s is owned by %s", addr, acct.Owner)
	}
	if err := state.Unmarshal(acct.Data, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAccountData, err)
	}
	return nil
}

func (x *execution) store(addr solana.PublicKey, rec state.Record) error {
	data, err := state.Marshal(rec)
	if err != nil {
		return err
	}
	if err := x.tx.PutAccount(x.ctx, ledger.Account{
		Address: addr,
		Owner:   x.p.cfg.ProgramID,
		Data:    data,
	}); err != nil {
		return fmt.Errorf("failed to put account %s: %w", addr, err)
	}
	x.receipt.Accounts = append(x.receipt.Accounts, addr)
	return nil
}

func (x *execution) loadAdmin() (pda.Address, *state.GlobalAdmin, error) {
	addr := x.p.pda.GlobalAdmin()
	var admin state.GlobalAdmin
	if err := x.load(addr.Address, &admin, ErrNotInitialized); err != nil {
		return addr, nil, err
	}
	return addr, &admin, nil
}

// loadRegistry loads the registry of wallet and checks it belongs to wallet.
func (x *execution) loadRegistry(wallet solana.PublicKey) (pda.Address, *state.UserRegistry, error) {
	addr := x.p.pda.UserRegistry(wallet)
	var reg state.UserRegistry
	if err := x.load(addr.Address, &reg, ErrUserNotFound); err != nil {
		return addr, nil, err
	}
	if reg.Owner != wallet {
		return addr, nil, reject(ErrUnauthorized, "registry %s belongs to %s", addr.Address, reg.Owner)
	}
	return addr, &reg, nil
}

// loadBond loads bond index of registry and checks it belongs to registry.
func (x *execution) loadBond(registry solana.PublicKey, index uint8) (pda.Address, *state.Bond, error) {
	addr := x.p.pda.Bond(registry, index)
	var bond state.Bond
	if err := x.load(addr.Address, &bond, ErrBondNotFound); err != nil {
		return addr, nil, err
	}
	if bond.Owner != registry {
		return addr, nil, reject(ErrUnauthorized, "bond %s belongs to %s", addr.Address, bond.Owner)
	}
	if bond.BondIndex != index {
		return addr, nil, reject(ErrInvalidAccountData, "bond %s records index %d, want %d", addr.Address, bond.BondIndex, index)
	}
	return addr, &bond, nil
}

// tokenAccount loads a token account and checks it holds mint.
func (x *execution) tokenAccount(addr, mint solana.PublicKey) (*ledger.TokenAccount, error) {
	acct, err := x.tx.TokenAccount(x.ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, reject(ErrInvalidTokenAccount, "token account %s does not exist", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token account %s: %w", addr, err)
	}
	if acct.Mint != mint {
		return nil, reject(ErrInvalidTokenAccount, "token account %s holds %s, want %s", addr, acct.Mint, mint)
	}
	return acct, nil
}

// ensureTokenAccount opens the associated token account of owner for mint if
// it does not exist yet and returns its address.
func (x *execution) ensureTokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr := x.p.pda.TokenAccount(owner, mint)
	acct, err := x.tx.TokenAccount(x.ctx, addr)
	switch {
	case err == nil:
		if acct.Mint != mint {
			return addr, reject(ErrInvalidTokenAccount, "token account %s holds %s, want %s", addr, acct.Mint, mint)
		}
		return addr, nil
	case errors.Is(err, ledger.ErrAccountNotFound):
		if err := x.tx.OpenTokenAccount(x.ctx, ledger.TokenAccount{Address: addr, Owner: owner, Mint: mint}); err != nil {
			return addr, fmt.Errorf("failed to open token account %s: %w", addr, err)
		}
		return addr, nil
	default:
		return addr, fmt.Errorf("failed to get token account %s: %w", addr, err)
	}
}

// transfer moves amount and maps ledger failures onto program errors.
func (x *execution) transfer(from, to solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	err := x.tx.Transfer(x.ctx, from, to, amount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	case errors.Is(err, ledger.ErrMintMismatch), errors.Is(err, ledger.ErrAccountNotFound):
		return fmt.Errorf("%w: %w", ErrInvalidTokenAccount, err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		return fmt.Errorf("%w: %w", ErrArithmeticOverflow, err)
	default:
		return fmt.Errorf("failed to transfer %d from %s to %s: %w", amount, from, to, err)
	}
}
