package state

import (
	"slices"

	"github.com/gagliardetto/solana-go"
)

// GlobalAdmin is the singleton protocol configuration.
// On-chain size: 244 bytes.
type GlobalAdmin struct {
	Authority               solana.PublicKey // 32 bytes
	Treasury                solana.PublicKey // 32 bytes
	TreasuryAccount         solana.PublicKey // 32 bytes
	Team                    solana.PublicKey // 32 bytes
	TeamAccount             solana.PublicKey // 32 bytes
	RewardsPoolAccount      solana.PublicKey // 32 bytes
	NativeTokenMint         solana.PublicKey // 32 bytes
	DailyEmissionRate       uint64           // 8 bytes, base units per bond per day
	MaxEmissionPerBond      uint64           // 8 bytes
	MaxBondsPerWallet       uint8            // 1 byte
	ClaimPenaltyBasisPoints uint16           // 2 bytes
	PauseBondOperations     bool             // 1 byte
}

const GlobalAdminSize = 7*32 + 8 + 8 + 1 + 2 + 1

// UserRegistry tracks one wallet's bond numbering and reward totals.
// On-chain size: 46 bytes + one byte per active bond.
type UserRegistry struct {
	Owner               solana.PublicKey // 32 bytes, the wallet
	BondIndex           uint8            // 1 byte, next unused index
	BondCount           uint8            // 1 byte, open bonds
	TotalAccruedRewards uint64           // 8 bytes
	ActiveBonds         []uint8          // Borsh Vec<u8>
}

const UserRegistryBaseSize = 32 + 1 + 1 + 8 + 4

// UserRegistrySize returns the encoded size of a registry holding n active
// bonds.
func UserRegistrySize(n int) int {
	return UserRegistryBaseSize + n
}

// HasActiveBond reports whether index is listed as open.
func (u *UserRegistry) HasActiveBond(index uint8) bool {
	return slices.Contains(u.ActiveBonds, index)
}

// AddActiveBond appends index to the open list.
func (u *UserRegistry) AddActiveBond(index uint8) {
	u.ActiveBonds = append(u.ActiveBonds, index)
}

// RemoveActiveBond drops index from the open list, preserving order. It
// reports whether the index was present.
func (u *UserRegistry) RemoveActiveBond(index uint8) bool {
	i := slices.Index(u.ActiveBonds, index)
	if i < 0 {
		return false
	}
	u.ActiveBonds = slices.Delete(u.ActiveBonds, i, i+1)
	return true
}

// Clone returns a deep copy.
func (u UserRegistry) Clone() UserRegistry {
	u.ActiveBonds = slices.Clone(u.ActiveBonds)
	return u
}

// Bond is one deposit-and-accrue cycle of a wallet.
// On-chain size: 74 bytes.
type Bond struct {
	Owner              solana.PublicKey // 32 bytes, the UserRegistry address
	BondIndex          uint8            // 1 byte
	DepositAmount      uint64           // 8 bytes
	InterestRate       uint64           // 8 bytes, daily emission rate at issuance
	CreationTimestamp  int64            // 8 bytes, unix seconds
	LastClaimTimestamp int64            // 8 bytes, unix seconds
	TotalClaimed       uint64           // 8 bytes
	IsActive           bool             // 1 byte
}

const BondSize = 32 + 1 + 8 + 8 + 8 + 8 + 8 + 1

