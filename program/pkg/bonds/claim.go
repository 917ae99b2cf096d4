package bonds

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/malbeclabs/bonds/program/pkg/reward"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

func (x *execution) processClaim(ix *ProcessClaim) error {
	if err := x.requireSigner("wallet", ix.Wallet); err != nil {
		return err
	}
	_, admin, err := x.loadAdmin()
	if err != nil {
		return err
	}
	if admin.PauseBondOperations {
		return reject(ErrOperationsPaused, "process claim")
	}
	regAddr, reg, err := x.loadRegistry(ix.Wallet)
	if err != nil {
		return err
	}
	bondAddr, bond, err := x.loadBond(regAddr.Address, ix.BondIndex)
	if err != nil {
		return err
	}
	if !bond.IsActive {
		if bond.TotalClaimed >= admin.MaxEmissionPerBond {
			return reject(ErrBondAlreadyClaimed, "bond %d paid %d", ix.BondIndex, bond.TotalClaimed)
		}
		return reject(ErrBondNotActive, "bond %d is closed", ix.BondIndex)
	}
	if !reg.HasActiveBond(ix.BondIndex) {
		return reject(ErrBondNotActive, "bond %d is not in the active set", ix.BondIndex)
	}
	if x.now < bond.LastClaimTimestamp {
		return reject(ErrInvalidClock, "bond %d last claimed at %d", ix.BondIndex, bond.LastClaimTimestamp)
	}
	// The cap may have been lowered under what the bond already paid.
	if bond.TotalClaimed >= admin.MaxEmissionPerBond {
		closeBond(bond, reg)
		x.receipt.Closed = true
		if err := x.store(bondAddr.Address, bond); err != nil {
			return err
		}
		if err := x.store(regAddr.Address, reg); err != nil {
			return err
		}
		x.p.log.Debug("bonds: exhausted bond closed", "wallet", ix.Wallet, "bond_index", ix.BondIndex, "total_claimed", bond.TotalClaimed)
		return nil
	}
	if !reward.Matured(bond, x.now) {
		return reject(ErrBondNotMatured, "bond %d matures at %d", ix.BondIndex, bond.CreationTimestamp+reward.MaturityPeriod)
	}

	amount, err := reward.Accrued(bond, reward.ParamsOf(admin), x.now)
	if err != nil {
		return rewardError(err)
	}
	if amount == 0 {
		x.p.log.Debug("bonds: nothing accrued", "wallet", ix.Wallet, "bond_index", ix.BondIndex)
		return nil
	}

	total, carry := bits.Add64(bond.TotalClaimed, amount, 0)
	if carry != 0 {
		return reject(ErrArithmeticOverflow, "total claimed")
	}
	accrued, carry := bits.Add64(reg.TotalAccruedRewards, amount, 0)
	if carry != 0 {
		return reject(ErrArithmeticOverflow, "total accrued rewards")
	}
	bond.TotalClaimed = total
	bond.LastClaimTimestamp = x.now
	reg.TotalAccruedRewards = accrued
	x.receipt.Reward = amount

	if ix.AutoCompound {
		closeBond(bond, reg)
		x.receipt.Closed = true
		if err := x.store(bondAddr.Address, bond); err != nil {
			return err
		}
		ref, err := x.openBond(admin, regAddr, reg, amount)
		if err != nil {
			return err
		}
		// The pool leg of the split never leaves the pool.
		split := SplitDeposit(amount)
		if err := x.transfer(admin.RewardsPoolAccount, admin.TreasuryAccount, split.Treasury); err != nil {
			return err
		}
		if err := x.transfer(admin.RewardsPoolAccount, admin.TeamAccount, split.Team); err != nil {
			return err
		}
		x.receipt.NewBond = ref
	} else {
		dest, err := x.ensureTokenAccount(ix.Wallet, admin.NativeTokenMint)
		if err != nil {
			return err
		}
		if err := x.transfer(admin.RewardsPoolAccount, dest, amount); err != nil {
			return err
		}
		x.receipt.Transferred = amount
		if bond.TotalClaimed >= admin.MaxEmissionPerBond {
			closeBond(bond, reg)
			x.receipt.Closed = true
		}
		if err := x.store(bondAddr.Address, bond); err != nil {
			return err
		}
	}

	if err := x.store(regAddr.Address, reg); err != nil {
		return err
	}

	x.p.log.Debug("bonds: claim processed",
		"wallet", ix.Wallet,
		"bond_index", ix.BondIndex,
		"reward", amount,
		"compound", ix.AutoCompound,
		"closed", x.receipt.Closed,
	)
	return nil
}

func rewardError(err error) error {
	switch {
	case errors.Is(err, reward.ErrInvalidClock):
		return fmt.Errorf("%w: %w", ErrInvalidClock, err)
	case errors.Is(err, reward.ErrOverflow):
		return fmt.Errorf("%w: %w", ErrArithmeticOverflow, err)
	case errors.Is(err, reward.ErrInvalidPenalty):
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	default:
		return err
	}
}

// PreviewClaim computes what a claim on bond would pay at now without
// touching any state.
func PreviewClaim(admin *state.GlobalAdmin, bond *state.Bond, now int64) (reward.Breakdown, error) {
	b, err := reward.Preview(bond, reward.ParamsOf(admin), now)
	if err != nil {
		return b, rewardError(err)
	}
	return b, nil
}
