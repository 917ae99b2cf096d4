// Package pda derives the program addresses that bind the bond protocol's
// records together. Every record lives at an address computed from a fixed
// seed prefix plus the identities it belongs to, so no address is ever
// chosen by a caller.
package pda

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the on-chain id of the bonds program.
var DefaultProgramID = solana.MustPublicKeyFromBase58("AV5obcm5Yavs4EebSrmonAAy2K83NZZK88gUn77wmK2")

// Seed prefixes.
var (
	SeedGlobalAdmin = []byte("global_admin")
	SeedUser        = []byte("user")
	SeedBond        = []byte("bond")
)

// Kind identifies which record an address belongs to.
type Kind uint8

const (
	KindGlobalAdmin Kind = iota
	KindUserRegistry
	KindBond
)

func (k Kind) String() string {
	switch k {
	case KindGlobalAdmin:
		return "global_admin"
	case KindUserRegistry:
		return "user_registry"
	case KindBond:
		return "bond"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Address is a derived address together with the bump that proves it is off
// the ed25519 curve.
type Address struct {
	Kind    Kind
	Address solana.PublicKey
	Bump    uint8
}

// Deriver computes addresses for a single program id.
type Deriver struct {
	programID solana.PublicKey
}

// New returns a Deriver for programID. A zero program id selects
// DefaultProgramID.
func New(programID solana.PublicKey) *Deriver {
	if programID.IsZero() {
		programID = DefaultProgramID
	}
	return &Deriver{programID: programID}
}

// ProgramID returns the program id the deriver is bound to.
func (d *Deriver) ProgramID() solana.PublicKey {
	return d.programID
}

// GlobalAdmin derives the singleton configuration address.
func (d *Deriver) GlobalAdmin() Address {
	return d.derive(KindGlobalAdmin, SeedGlobalAdmin)
}

// UserRegistry derives the registry address of wallet.
func (d *Deriver) UserRegistry(wallet solana.PublicKey) Address {
	return d.derive(KindUserRegistry, SeedUser, wallet.Bytes())
}

// Bond derives the address of bond number index under registry. The index is
// encoded as a single byte.
func (d *Deriver) Bond(registry solana.PublicKey, index uint8) Address {
	return d.derive(KindBond, SeedBond, registry.Bytes(), []byte{index})
}

// TokenAccount derives the associated token account of owner for mint.
func (d *Deriver) TokenAccount(owner, mint solana.PublicKey) solana.PublicKey {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		panic(fmt.Sprintf("pda: associated token address for %s: %v", owner, err))
	}
	return addr
}

// RewardsPool derives the rewards pool token account, owned by the
// GlobalAdmin address.
func (d *Deriver) RewardsPool(mint solana.PublicKey) solana.PublicKey {
	return d.TokenAccount(d.GlobalAdmin().Address, mint)
}

// derive never fails for the fixed seed shapes above: every seed is at most 32
// bytes and a valid bump exists with overwhelming probability. An error here
// means the seed layout itself is broken.
func (d *Deriver) derive(kind Kind, seeds ...[]byte) Address {
	addr, bump, err := solana.FindProgramAddress(seeds, d.programID)
	if err != nil {
		panic(fmt.Sprintf("pda: derive %s: %v", kind, err))
	}
	return Address{Kind: kind, Address: addr, Bump: bump}
}
