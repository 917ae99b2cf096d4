package bonds_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/bonds/ledger/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/bonds"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

func (h *harness) claim(wallet solana.PublicKey, index uint8, compound bool) (*bonds.Receipt, error) {
	return h.process([]solana.PublicKey{wallet}, &bonds.ProcessClaim{Wallet: wallet, BondIndex: index, AutoCompound: compound})
}

// put overwrites the program record at addr.
func (h *harness) put(addr solana.PublicKey, rec state.Record) {
	h.t.Helper()
	data, err := state.Marshal(rec)
	require.NoError(h.t, err)
	h.putRaw(addr, data)
}

func (h *harness) putRaw(addr solana.PublicKey, data []byte) {
	h.t.Helper()
	require.NoError(h.t, h.store.Update(h.ctx, func(tx ledger.Tx) error {
		return tx.PutAccount(h.ctx, ledger.Account{Address: addr, Owner: h.proc.Addresses().ProgramID(), Data: data})
	}))
}

func withMaxEmission(limit uint64) bonds.AdminConfig {
	cfg := defaultConfig
	cfg.MaxEmissionPerBond = limit
	return cfg
}

func TestBonds_Processor_ClaimScenario(t *testing.T) {
	t.Parallel()
	h := newInitializedHarness(t, defaultConfig)
	wallet := h.newWallet()
	index := h.openBond(wallet)
	admin := h.admin()

	h.clock.Advance(29 * day)
	h.unchanged(func() {
		_, err := h.claim(wallet, index, false)
		require.ErrorIs(t, err, bonds.ErrBondNotMatured)
		pe, ok := bonds.AsProgramError(err)
		require.True(t, ok)
		require.True(t, pe.TryLater())
		require.False(t, pe.Retryable())
	})

	h.clock.Advance(2 * day)
	receipt, err := h.claim(wallet, index, false)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000), receipt.Reward)
	require.Equal(t, uint64(500_000_000), receipt.Transferred)
	require.True(t, receipt.Closed)
	require.Nil(t, receipt.NewBond)

	require.Equal(t, uint64(walletFunding-deposit+500_000_000), h.balance(h.ata(wallet)))
	require.Equal(t, uint64(poolFunding+4_000_000_000-500_000_000), h.balance(admin.RewardsPoolAccount))

	view := h.bond(wallet, index)
	require.False(t, view.Bond.IsActive)
	require.Equal(t, uint64(500_000_000), view.Bond.TotalClaimed)
	require.Equal(t, h.clock.Now().Unix(), view.Bond.LastClaimTimestamp)
	require.Equal(t, bonds.ErrBondAlreadyClaimed.Kind, view.Preview.Err)

	reg := h.registry(wallet)
	require.Zero(t, reg.BondCount)
	require.Empty(t, reg.ActiveBonds)
	require.Equal(t, uint8(1), reg.BondIndex)
	require.Equal(t, uint64(500_000_000), reg.TotalAccruedRewards)

	h.unchanged(func() {
		_, err := h.claim(wallet, index, false)
		require.ErrorIs(t, err, bonds.ErrBondAlreadyClaimed)
	})

	ev := h.events.last()
	require.Equal(t, bonds.OpProcessClaim, ev.Op)
	require.Equal(t, bonds.ErrBondAlreadyClaimed.Kind, ev.Outcome)
	require.Equal(t, int16(index), ev.BondIndex)
}

func TestBonds_Processor_ClaimPartial(t *testing.T) {
	t.Parallel()
	h := newInitializedHarness(t, withMaxEmission(1_000_000_000))
	wallet := h.newWallet()
	index := h.openBond(wallet)

	h.clock.Advance(30 * day)
	view := h.bond(wallet, index)
	require.Empty(t, view.Preview.Err)
	require.Equal(t, uint64(500_000_010), view.Preview.Amount)
	require.False(t, view.Preview.Early)

	receipt, err := h.claim(wallet, index, false)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_010), receipt.Reward)
	require.False(t, receipt.Closed)
	require.True(t, h.bond(wallet, index).Bond.IsActive)

	// A second claim at the same instant pays nothing.
	h.unchanged(func() {
		receipt, err := h.claim(wallet, index, false)
		require.NoError(t, err)
		require.Zero(t, receipt.Reward)
		require.Empty(t, receipt.Accounts)
	})

	h.clock.Advance(2 * day)
	view = h.bond(wallet, index)
	require.True(t, view.Preview.Early)
	require.Equal(t, uint64(1_666_667), view.Preview.Penalty)

	receipt, err = h.claim(wallet, index, false)
	require.NoError(t, err)
	// 2 days is 33_333_334 raw, less 5%.
	require.Equal(t, uint64(31_666_667), receipt.Reward)

	reg := h.registry(wallet)
	require.Equal(t, uint64(500_000_010+31_666_667), reg.TotalAccruedRewards)
	require.Equal(t, uint64(500_000_010+31_666_667), h.bond(wallet, index).Bond.TotalClaimed)

	behind := h.processor(clockwork.NewFakeClockAt(genesis.Add(29 * day)))
	h.unchanged(func() {
		_, err := behind.Process(h.ctx, bonds.Transaction{
			Signers:     []solana.PublicKey{wallet},
			Instruction: &bonds.ProcessClaim{Wallet: wallet, BondIndex: index},
		})
		require.ErrorIs(t, err, bonds.ErrInvalidClock)
	})
}

func TestBonds_Processor_ClaimCompound(t *testing.T) {
	t.Parallel()
	h := newInitializedHarness(t, defaultConfig)
	wallet := h.newWallet()
	index := h.openBond(wallet)
	admin := h.admin()

	h.clock.Advance(30 * day)
	receipt, err := h.claim(wallet, index, true)
	require.NoError(t, err)
	require.Equal(t, uint64(500_000_000), receipt.Reward)
	require.Zero(t, receipt.Transferred)
	require.True(t, receipt.Closed)
	require.NotNil(t, receipt.NewBond)
	require.Equal(t, uint8(1), receipt.NewBond.Index)

	// The pool keeps its 40% leg of the reinvested reward.
	require.Equal(t, uint64(walletFunding-deposit), h.balance(h.ata(wallet)))
	require.Equal(t, uint64(poolFunding+4_000_000_000-300_000_000), h.balance(admin.RewardsPoolAccount))
	require.Equal(t, uint64(4_000_000_000+200_000_000), h.balance(admin.TreasuryAccount))
	require.Equal(t, uint64(2_000_000_000+100_000_000), h.balance(admin.TeamAccount))

	old := h.bond(wallet, index)
	require.False(t, old.Bond.IsActive)
	require.Equal(t, uint64(500_000_000), old.Bond.TotalClaimed)

	next := h.bond(wallet, receipt.NewBond.Index)
	require.Equal(t, receipt.NewBond.Address, next.Address)
	require.Equal(t, uint64(500_000_000), next.Bond.DepositAmount)
	require.Equal(t, h.clock.Now().Unix(), next.Bond.CreationTimestamp)
	require.True(t, next.Bond.IsActive)

	reg := h.registry(wallet)
	require.Equal(t, uint8(2), reg.BondIndex)
	require.Equal(t, uint8(1), reg.BondCount)
	require.Equal(t, []uint8{1}, reg.ActiveBonds)
	require.Equal(t, uint64(500_000_000), reg.TotalAccruedRewards)

	ev := h.events.last()
	require.True(t, ev.Compound)
	require.Equal(t, int16(1), ev.NewBond)
	require.Equal(t, uint64(500_000_000), ev.Reward)

	_, err = h.claim(wallet, receipt.NewBond.Index, false)
	require.ErrorIs(t, err, bonds.ErrBondNotMatured)
}

func TestBonds_Processor_ClaimCompoundClosesWithEntitlementLeft(t *testing.T) {
	t.Parallel()
	h := newInitializedHarness(t, withMaxEmission(1_000_000_000))
	wallet := h.newWallet()
	index := h.openBond(wallet)

	h.clock.Advance(30 * day)
	_, err := h.claim(wallet, index, true)
	require.NoError(t, err)

	h.clock.Advance(30 * day)
	h.unchanged(func() {
		_, err := h.claim(wallet, index, false)
		require.ErrorIs(t, err, bonds.ErrBondNotActive)
	})
	require.Equal(t, bonds.ErrBondNotActive.Kind, h.bond(wallet, index).Preview.Err)
}

func TestBonds_Processor_ClaimRejects(t *testing.T) {
	t.Parallel()
	h := newInitializedHarness(t, defaultConfig)
	wallet := h.newWallet()
	index := h.openBond(wallet)
	stranger := h.newWallet()
	h.clock.Advance(31 * day)

	h.unchanged(func() {
		_, err := h.process(nil, &bonds.ProcessClaim{Wallet: wallet, BondIndex: index})
		require.ErrorIs(t, err, bonds.ErrUnauthorized)

		_, err = h.process([]solana.PublicKey{stranger}, &bonds.ProcessClaim{Wallet: wallet, BondIndex: index})
		require.ErrorIs(t, err, bonds.ErrUnauthorized)

		_, err = h.claim(stranger, index, false)
		require.ErrorIs(t, err, bonds.ErrBondNotFound)

		_, err = h.claim(wallet, 7, false)
		require.ErrorIs(t, err, bonds.ErrBondNotFound)

		nobody := solana.NewWallet().PublicKey()
		_, err = h.claim(nobody, 0, false)
		require.ErrorIs(t, err, bonds.ErrUserNotFound)
	})

	h.pause(true)
	_, err := h.claim(wallet, index, false)
	require.ErrorIs(t, err, bonds.ErrOperationsPaused)
	h.pause(false)

	_, err = h.claim(wallet, index, false)
	require.NoError(t, err)
}

func TestBonds_Processor_ClaimInsufficientPool(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.initialize(defaultConfig)
	wallet := h.newWallet()

	// The pool only holds the 40% leg of a tiny deposit.
	_, err := h.process([]solana.PublicKey{wallet}, h.bondIx(wallet, 100))
	require.NoError(t, err)
	require.Equal(t, uint64(40), h.balance(h.pool()))

	h.clock.Advance(31 * day)
	h.unchanged(func() {
		_, err := h.claim(wallet, 0, false)
		require.ErrorIs(t, err, bonds.ErrInsufficientFunds)
	})
}

func TestBonds_Processor_ClaimClosesWhenCapLowered(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name     string
		cap      uint64
		compound bool
	}{
		{name: "cap equals total claimed", cap: 500_000_010},
		{name: "cap below total claimed", cap: 100, compound: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newInitializedHarness(t, withMaxEmission(1_000_000_000))
			wallet := h.newWallet()
			index := h.openBond(wallet)

			h.clock.Advance(30 * day)
			receipt, err := h.claim(wallet, index, false)
			require.NoError(t, err)
			require.Equal(t, uint64(500_000_010), receipt.Reward)
			require.False(t, receipt.Closed)

			next := *h.admin()
			next.MaxEmissionPerBond = tc.cap
			_, err = h.process([]solana.PublicKey{h.authority}, &bonds.UpdateAdmin{Signer: h.authority, Admin: next})
			require.NoError(t, err)

			h.clock.Advance(10 * day)
			view := h.bond(wallet, index)
			require.Empty(t, view.Preview.Err)
			require.Zero(t, view.Preview.Amount)
			require.True(t, view.Preview.Closes)

			pool := h.balance(h.pool())
			receipt, err = h.claim(wallet, index, tc.compound)
			require.NoError(t, err)
			require.Zero(t, receipt.Reward)
			require.Zero(t, receipt.Transferred)
			require.True(t, receipt.Closed)
			require.Nil(t, receipt.NewBond)
			require.Equal(t, pool, h.balance(h.pool()))

			bond := h.bond(wallet, index)
			require.False(t, bond.Bond.IsActive)
			require.Equal(t, uint64(500_000_010), bond.Bond.TotalClaimed)
			require.Equal(t, bonds.ErrBondAlreadyClaimed.Kind, bond.Preview.Err)

			reg := h.registry(wallet)
			require.Zero(t, reg.BondCount)
			require.Empty(t, reg.ActiveBonds)
			require.Equal(t, uint64(500_000_010), reg.TotalAccruedRewards)

			h.unchanged(func() {
				_, err := h.claim(wallet, index, false)
				require.ErrorIs(t, err, bonds.ErrBondAlreadyClaimed)
			})
		})
	}
}

func TestBonds_Processor_ClaimBeforeCreation(t *testing.T) {
	t.Parallel()
	h := newInitializedHarness(t, defaultConfig)
	wallet := h.newWallet()
	index := h.openBond(wallet)

	behind := h.processor(clockwork.NewFakeClockAt(genesis.Add(-day)))
	h.unchanged(func() {
		_, err := behind.Process(h.ctx, bonds.Transaction{
			Signers:     []solana.PublicKey{wallet},
			Instruction: &bonds.ProcessClaim{Wallet: wallet, BondIndex: index},
		})
		require.ErrorIs(t, err, bonds.ErrInvalidClock)
		require.NotErrorIs(t, err, bonds.ErrBondNotMatured)
	})
}

func TestBonds_Processor_ClaimRequiresActiveSet(t *testing.T) {
	t.Parallel()
	h := newInitializedHarness(t, defaultConfig)
	wallet := h.newWallet()
	index := h.openBond(wallet)

	regAddr := h.proc.Addresses().UserRegistry(wallet).Address
	reg := h.registry(wallet)
	reg.ActiveBonds = []uint8{}
	h.put(regAddr, reg)

	h.clock.Advance(31 * day)
	_, err := h.claim(wallet, index, false)
	require.ErrorIs(t, err, bonds.ErrBondNotActive)
}

func TestBonds_Processor_BondIndexExhausted(t *testing.T) {
	t.Parallel()
	h := newInitializedHarness(t, defaultConfig)
	wallet := h.newWallet()

	regAddr := h.proc.Addresses().UserRegistry(wallet).Address
	h.put(regAddr, &state.UserRegistry{Owner: wallet, BondIndex: 255, ActiveBonds: []uint8{}})

	h.unchanged(func() {
		_, err := h.process([]solana.PublicKey{wallet}, h.bondIx(wallet, deposit))
		require.ErrorIs(t, err, bonds.ErrArithmeticOverflow)
	})

	h.put(regAddr, &state.UserRegistry{Owner: wallet, BondIndex: 254, ActiveBonds: []uint8{}})
	require.Equal(t, uint8(254), h.openBond(wallet))
}

func TestBonds_Processor_CorruptRecords(t *testing.T) {
	t.Parallel()
	h := newInitializedHarness(t, defaultConfig)
	wallet := h.newWallet()
	regAddr := h.proc.Addresses().UserRegistry(wallet).Address

	h.putRaw(regAddr, []byte{1, 2, 3})
	_, err := h.process([]solana.PublicKey{wallet}, h.bondIx(wallet, deposit))
	require.ErrorIs(t, err, bonds.ErrInvalidAccountData)

	// A registry owned by someone else is not the wallet's.
	h.put(regAddr, &state.UserRegistry{Owner: solana.NewWallet().PublicKey(), ActiveBonds: []uint8{}})
	_, err = h.process([]solana.PublicKey{wallet}, h.bondIx(wallet, deposit))
	require.ErrorIs(t, err, bonds.ErrUnauthorized)
}
