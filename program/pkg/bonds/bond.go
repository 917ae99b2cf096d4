package bonds

import (
	"math"
	"math/bits"

	"github.com/malbeclabs/bonds/program/pkg/pda"
	"github.com/malbeclabs/bonds/program/pkg/reward"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

// Deposit split in basis points. Integer-division dust goes to the rewards
// pool so the legs always sum to the deposit.
const (
	SplitRewardsPoolBasisPoints = 4000
	SplitTreasuryBasisPoints    = 4000
	SplitTeamBasisPoints        = 2000
)

// Split is how a deposit is distributed.
type Split struct {
	RewardsPool uint64
	Treasury    uint64
	Team        uint64
}

func SplitDeposit(amount uint64) Split {
	treasury := share(amount, SplitTreasuryBasisPoints)
	team := share(amount, SplitTeamBasisPoints)
	return Split{
		RewardsPool: amount - treasury - team,
		Treasury:    treasury,
		Team:        team,
	}
}

// share returns floor(amount * bps / 10000). bps never exceeds 10000 so the
// quotient always fits.
func share(amount, bps uint64) uint64 {
	hi, lo := bits.Mul64(amount, bps)
	q, _ := bits.Div64(hi, lo, reward.BasisPoints)
	return q
}

func (x *execution) initializeBond(ix *InitializeBond) error {
	if err := x.requireSigner("wallet", ix.Wallet); err != nil {
		return err
	}
	_, admin, err := x.loadAdmin()
	if err != nil {
		return err
	}
	if admin.PauseBondOperations {
		return reject(ErrOperationsPaused, "initialize bond")
	}
	regAddr, reg, err := x.loadRegistry(ix.Wallet)
	if err != nil {
		return err
	}
	if reg.BondCount >= admin.MaxBondsPerWallet {
		return reject(ErrBondCapExceeded, "%d of %d bonds open", reg.BondCount, admin.MaxBondsPerWallet)
	}
	if ix.DepositAmount == 0 {
		return reject(ErrInvalidAmount, "deposit must be positive")
	}
	switch {
	case ix.RewardsPool != admin.RewardsPoolAccount:
		return reject(ErrInvalidDistributionTarget, "rewards pool %s, want %s", ix.RewardsPool, admin.RewardsPoolAccount)
	case ix.TreasuryAccount != admin.TreasuryAccount:
		return reject(ErrInvalidDistributionTarget, "treasury account %s, want %s", ix.TreasuryAccount, admin.TreasuryAccount)
	case ix.TeamAccount != admin.TeamAccount:
		return reject(ErrInvalidDistributionTarget, "team account %s, want %s", ix.TeamAccount, admin.TeamAccount)
	}

	funding := x.p.pda.TokenAccount(ix.Wallet, admin.NativeTokenMint)
	if !ix.FundingAccount.IsZero() && ix.FundingAccount != funding {
		return reject(ErrInvalidTokenAccount, "funding account %s, want %s", ix.FundingAccount, funding)
	}
	acct, err := x.tokenAccount(funding, admin.NativeTokenMint)
	if err != nil {
		return err
	}
	if acct.Owner != ix.Wallet {
		return reject(ErrInvalidTokenAccount, "funding account %s is owned by %s", funding, acct.Owner)
	}
	if acct.Amount < ix.DepositAmount {
		return reject(ErrInsufficientFunds, "funding account holds %d, deposit is %d", acct.Amount, ix.DepositAmount)
	}

	ref, err := x.openBond(admin, regAddr, reg, ix.DepositAmount)
	if err != nil {
		return err
	}

	split := SplitDeposit(ix.DepositAmount)
	if err := x.transfer(funding, admin.RewardsPoolAccount, split.RewardsPool); err != nil {
		return err
	}
	if err := x.transfer(funding, admin.TreasuryAccount, split.Treasury); err != nil {
		return err
	}
	if err := x.transfer(funding, admin.TeamAccount, split.Team); err != nil {
		return err
	}

	if err := x.store(regAddr.Address, reg); err != nil {
		return err
	}
	x.receipt.NewBond = ref

	x.p.log.Debug("bonds: bond initialized",
		"wallet", ix.Wallet,
		"bond_index", ref.Index,
		"deposit", ix.DepositAmount,
		"rewards_pool", split.RewardsPool,
		"treasury", split.Treasury,
		"team", split.Team,
	)
	return nil
}

// openBond writes a new active bond at the registry's next index and records
// it in reg. The caller stores reg.
func (x *execution) openBond(admin *state.GlobalAdmin, regAddr pda.Address, reg *state.UserRegistry, deposit uint64) (*BondRef, error) {
	if reg.BondIndex == math.MaxUint8 {
		return nil, reject(ErrArithmeticOverflow, "bond index exhausted")
	}
	if reg.BondCount == math.MaxUint8 {
		return nil, reject(ErrArithmeticOverflow, "bond count overflows")
	}
	index := reg.BondIndex
	addr := x.p.pda.Bond(regAddr.Address, index)
	exists, err := x.occupied(addr.Address)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, reject(ErrAlreadyExists, "bond %s", addr.Address)
	}

	bond := &state.Bond{
		Owner:              regAddr.Address,
		BondIndex:          index,
		DepositAmount:      deposit,
		InterestRate:       admin.DailyEmissionRate,
		CreationTimestamp:  x.now,
		LastClaimTimestamp: x.now,
		IsActive:           true,
	}
	if err := x.store(addr.Address, bond); err != nil {
		return nil, err
	}

	reg.BondIndex++
	reg.BondCount++
	reg.AddActiveBond(index)
	return &BondRef{Index: index, Address: addr.Address}, nil
}

// closeBond marks bond inactive and drops it from reg.
func closeBond(bond *state.Bond, reg *state.UserRegistry) {
	bond.IsActive = false
	if reg.RemoveActiveBond(bond.BondIndex) && reg.BondCount > 0 {
		reg.BondCount--
	}
}
