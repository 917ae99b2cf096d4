package bonds

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/bonds/program/pkg/reward"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

// Validate checks the tunable parameters of the protocol.
func (c AdminConfig) Validate() error {
	switch {
	case c.ClaimPenaltyBasisPoints > reward.BasisPoints:
		return reject(ErrInvalidConfig, "claim penalty %d exceeds %d basis points", c.ClaimPenaltyBasisPoints, reward.BasisPoints)
	case c.MaxBondsPerWallet == 0:
		return reject(ErrInvalidConfig, "max bonds per wallet must be at least 1")
	case c.MaxEmissionPerBond == 0:
		return reject(ErrInvalidConfig, "max emission per bond must be positive")
	}
	return nil
}

// ConfigOf returns the tunable parameters of a GlobalAdmin.
func ConfigOf(a *state.GlobalAdmin) AdminConfig {
	return AdminConfig{
		DailyEmissionRate:       a.DailyEmissionRate,
		MaxEmissionPerBond:      a.MaxEmissionPerBond,
		MaxBondsPerWallet:       a.MaxBondsPerWallet,
		ClaimPenaltyBasisPoints: a.ClaimPenaltyBasisPoints,
	}
}

func (x *execution) initializeAdmin(ix *InitializeAdmin) error {
	if err := x.requireSigner("authority", ix.Authority); err != nil {
		return err
	}
	if err := x.requireSigner("treasury", ix.Treasury); err != nil {
		return err
	}
	if err := x.requireSigner("team", ix.Team); err != nil {
		return err
	}

	addr := x.p.pda.GlobalAdmin()
	exists, err := x.occupied(addr.Address)
	if err != nil {
		return err
	}
	if exists {
		return reject(ErrAlreadyInitialized, "%s", addr.Address)
	}

	if err := ix.Config.Validate(); err != nil {
		return err
	}
	if ix.Mint.IsZero() {
		return reject(ErrInvalidConfig, "native token mint is required")
	}

	treasuryAccount, err := x.ensureTokenAccount(ix.Treasury, ix.Mint)
	if err != nil {
		return err
	}
	teamAccount, err := x.ensureTokenAccount(ix.Team, ix.Mint)
	if err != nil {
		return err
	}
	rewardsPool, err := x.ensureTokenAccount(addr.Address, ix.Mint)
	if err != nil {
		return err
	}

	admin := &state.GlobalAdmin{
		Authority:               ix.Authority,
		Treasury:                ix.Treasury,
		TreasuryAccount:         treasuryAccount,
		Team:                    ix.Team,
		TeamAccount:             teamAccount,
		RewardsPoolAccount:      rewardsPool,
		NativeTokenMint:         ix.Mint,
		DailyEmissionRate:       ix.Config.DailyEmissionRate,
		MaxEmissionPerBond:      ix.Config.MaxEmissionPerBond,
		MaxBondsPerWallet:       ix.Config.MaxBondsPerWallet,
		ClaimPenaltyBasisPoints: ix.Config.ClaimPenaltyBasisPoints,
	}
	if err := x.store(addr.Address, admin); err != nil {
		return err
	}

	x.p.log.Info("bonds: global admin initialized",
		"address", addr.Address,
		"authority", ix.Authority,
		"mint", ix.Mint,
		"daily_emission_rate", ix.Config.DailyEmissionRate,
		"max_emission_per_bond", ix.Config.MaxEmissionPerBond,
	)
	return nil
}

func (x *execution) updateAdmin(ix *UpdateAdmin) error {
	addr, current, err := x.loadAdmin()
	if err != nil {
		return err
	}
	if err := x.requireSigner("authority", ix.Signer); err != nil {
		return err
	}
	if ix.Signer != current.Authority {
		return reject(ErrUnauthorized, "%s is not the authority", ix.Signer)
	}

	next := ix.Admin
	if next.NativeTokenMint != current.NativeTokenMint {
		return reject(ErrImmutableFieldChanged, "native token mint %s -> %s", current.NativeTokenMint, next.NativeTokenMint)
	}
	if err := ConfigOf(&next).Validate(); err != nil {
		return err
	}
	if next.Authority.IsZero() {
		return reject(ErrInvalidConfig, "authority is required")
	}
	for _, target := range []struct {
		name string
		addr solana.PublicKey
	}{
		{"treasury account", next.TreasuryAccount},
		{"team account", next.TeamAccount},
		{"rewards pool", next.RewardsPoolAccount},
	} {
		if _, err := x.tokenAccount(target.addr, next.NativeTokenMint); err != nil {
			return fmt.Errorf("%s: %w", target.name, err)
		}
	}

	if err := x.store(addr.Address, &next); err != nil {
		return err
	}

	x.p.log.Info("bonds: global admin updated",
		"authority", next.Authority,
		"paused", next.PauseBondOperations,
		"daily_emission_rate", next.DailyEmissionRate,
		"max_emission_per_bond", next.MaxEmissionPerBond,
		"max_bonds_per_wallet", next.MaxBondsPerWallet,
		"claim_penalty_bps", next.ClaimPenaltyBasisPoints,
	)
	return nil
}
