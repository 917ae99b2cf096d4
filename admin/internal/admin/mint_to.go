package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/bonds/ledger/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/pda"
)

type MintToConfig struct {
	ProgramID solana.PublicKey
	Mint      solana.PublicKey
	Amount    uint64

	// Wallet receives into its associated token account. RewardsPool
	// selects the rewards pool of Mint instead.
	Wallet      solana.PublicKey
	RewardsPool bool
}

func (cfg *MintToConfig) Validate() error {
	if cfg.Mint.IsZero() {
		return errors.New("mint is required")
	}
	if cfg.Amount == 0 {
		return errors.New("amount must be positive")
	}
	if cfg.Wallet.IsZero() == !cfg.RewardsPool {
		return errors.New("exactly one of wallet or rewards pool is required")
	}
	return nil
}

// MintTo credits new tokens to a wallet or the rewards pool, opening the
// token account if needed. Local simulation only: there is no supply
// accounting.
func MintTo(ctx context.Context, log *slog.Logger, store ledger.Store, cfg MintToConfig) (*ledger.TokenAccount, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := pda.New(cfg.ProgramID)
	target := ledger.TokenAccount{Mint: cfg.Mint}
	if cfg.RewardsPool {
		target.Address = d.RewardsPool(cfg.Mint)
		target.Owner = d.GlobalAdmin().Address
	} else {
		target.Address = d.TokenAccount(cfg.Wallet, cfg.Mint)
		target.Owner = cfg.Wallet
	}

	if err := ledger.Fund(ctx, store, target, cfg.Amount); err != nil {
		return nil, fmt.Errorf("failed to mint to %s: %w", target.Address, err)
	}
	balance, err := ledger.Balance(ctx, store, target.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance of %s: %w", target.Address, err)
	}
	target.Amount = balance

	log.Info("admin: minted tokens", "account", target.Address, "owner", target.Owner, "amount", cfg.Amount, "balance", balance)
	return &target, nil
}
