package bonds_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/bonds/ledger/pkg/ledger"
	"github.com/malbeclabs/bonds/ledger/pkg/memory"
	"github.com/malbeclabs/bonds/program/pkg/bonds"
	"github.com/malbeclabs/bonds/program/pkg/state"
	bondstesting "github.com/malbeclabs/bonds/utils/pkg/testing"
)

const (
	day = 24 * time.Hour

	poolFunding   = 10_000_000_000
	walletFunding = 30_000_000_000
	deposit       = 10_000_000_000 // 10 tokens at 9 decimals
)

var (
	genesis = time.Unix(1_700_000_000, 0)

	// 30 days of accrual is half a token.
	defaultConfig = bonds.AdminConfig{
		DailyEmissionRate:       16_666_667,
		MaxEmissionPerBond:      500_000_000,
		MaxBondsPerWallet:       3,
		ClaimPenaltyBasisPoints: 500,
	}
)

type recordingSink struct {
	mu     sync.Mutex
	events []bonds.Event
}

func (s *recordingSink) Publish(_ context.Context, ev bonds.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) last() bonds.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  *clockwork.FakeClock
	store  *memory.Store
	proc   *bonds.Processor
	events *recordingSink

	authority solana.PublicKey
	treasury  solana.PublicKey
	team      solana.PublicKey
	mint      solana.PublicKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		ctx:       context.Background(),
		clock:     clockwork.NewFakeClockAt(genesis),
		store:     memory.New(),
		events:    &recordingSink{},
		authority: solana.NewWallet().PublicKey(),
		treasury:  solana.NewWallet().PublicKey(),
		team:      solana.NewWallet().PublicKey(),
		mint:      solana.NewWallet().PublicKey(),
	}
	h.proc = h.processor(h.clock)
	return h
}

// processor returns a processor over the same ledger with its own clock.
func (h *harness) processor(clock clockwork.Clock) *bonds.Processor {
	proc, err := bonds.NewProcessor(bonds.ProcessorConfig{
		Logger: bondstesting.NewLogger(),
		Clock:  clock,
		Ledger: h.store,
		Events: h.events,
	})
	require.NoError(h.t, err)
	return proc
}

// newInitializedHarness returns a harness with the admin initialized under
// cfg and a funded rewards pool.
func newInitializedHarness(t *testing.T, cfg bonds.AdminConfig) *harness {
	t.Helper()
	h := newHarness(t)
	h.initialize(cfg)
	h.fund(h.pool(), h.proc.Addresses().GlobalAdmin().Address, poolFunding)
	return h
}

func (h *harness) initialize(cfg bonds.AdminConfig) {
	h.t.Helper()
	_, err := h.process([]solana.PublicKey{h.authority, h.treasury, h.team}, &bonds.InitializeAdmin{
		Authority: h.authority,
		Treasury:  h.treasury,
		Team:      h.team,
		Mint:      h.mint,
		Config:    cfg,
	})
	require.NoError(h.t, err)
}

func (h *harness) process(signers []solana.PublicKey, ix bonds.Instruction) (*bonds.Receipt, error) {
	return h.proc.Process(h.ctx, bonds.Transaction{Signers: signers, Instruction: ix})
}

func (h *harness) pool() solana.PublicKey {
	return h.proc.Addresses().RewardsPool(h.mint)
}

func (h *harness) ata(owner solana.PublicKey) solana.PublicKey {
	return h.proc.Addresses().TokenAccount(owner, h.mint)
}

func (h *harness) fund(addr, owner solana.PublicKey, amount uint64) {
	h.t.Helper()
	require.NoError(h.t, ledger.Fund(h.ctx, h.store, ledger.TokenAccount{Address: addr, Owner: owner, Mint: h.mint}, amount))
}

func (h *harness) balance(addr solana.PublicKey) uint64 {
	h.t.Helper()
	amount, err := ledger.Balance(h.ctx, h.store, addr)
	require.NoError(h.t, err)
	return amount
}

// newWallet creates a funded wallet with a registry.
func (h *harness) newWallet() solana.PublicKey {
	h.t.Helper()
	wallet := solana.NewWallet().PublicKey()
	h.fund(h.ata(wallet), wallet, walletFunding)
	_, err := h.process([]solana.PublicKey{wallet}, &bonds.CreateUser{Wallet: wallet})
	require.NoError(h.t, err)
	return wallet
}

func (h *harness) bondIx(wallet solana.PublicKey, amount uint64) *bonds.InitializeBond {
	admin := h.admin()
	return &bonds.InitializeBond{
		Wallet:          wallet,
		DepositAmount:   amount,
		RewardsPool:     admin.RewardsPoolAccount,
		TreasuryAccount: admin.TreasuryAccount,
		TeamAccount:     admin.TeamAccount,
	}
}

func (h *harness) openBond(wallet solana.PublicKey) uint8 {
	h.t.Helper()
	receipt, err := h.process([]solana.PublicKey{wallet}, h.bondIx(wallet, deposit))
	require.NoError(h.t, err)
	require.NotNil(h.t, receipt.NewBond)
	return receipt.NewBond.Index
}

func (h *harness) admin() *state.GlobalAdmin {
	h.t.Helper()
	admin, err := h.proc.Admin(h.ctx)
	require.NoError(h.t, err)
	return admin
}

func (h *harness) registry(wallet solana.PublicKey) *state.UserRegistry {
	h.t.Helper()
	reg, err := h.proc.Registry(h.ctx, wallet)
	require.NoError(h.t, err)
	return reg
}

func (h *harness) bond(wallet solana.PublicKey, index uint8) *bonds.BondView {
	h.t.Helper()
	view, err := h.proc.Bond(h.ctx, wallet, index)
	require.NoError(h.t, err)
	return view
}

// unchanged asserts that fn leaves every account untouched.
func (h *harness) unchanged(fn func()) {
	h.t.Helper()
	accounts, tokens := h.store.Snapshot()
	fn()
	gotAccounts, gotTokens := h.store.Snapshot()
	require.Equal(h.t, accounts, gotAccounts)
	require.Equal(h.t, tokens, gotTokens)
}

func TestBonds_Processor_InitializeAdmin(t *testing.T) {
	t.Parallel()

	t.Run("writes record and opens token accounts", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		receipt, err := h.process([]solana.PublicKey{h.authority, h.treasury, h.team}, &bonds.InitializeAdmin{
			Authority: h.authority,
			Treasury:  h.treasury,
			Team:      h.team,
			Mint:      h.mint,
			Config:    defaultConfig,
		})
		require.NoError(t, err)
		require.Equal(t, bonds.OpInitializeAdmin, receipt.Op)
		require.Equal(t, genesis.Unix(), receipt.Timestamp)
		require.Equal(t, []solana.PublicKey{h.proc.Addresses().GlobalAdmin().Address}, receipt.Accounts)

		admin := h.admin()
		require.Equal(t, state.GlobalAdmin{
			Authority:               h.authority,
			Treasury:                h.treasury,
			TreasuryAccount:         h.ata(h.treasury),
			Team:                    h.team,
			TeamAccount:             h.ata(h.team),
			RewardsPoolAccount:      h.pool(),
			NativeTokenMint:         h.mint,
			DailyEmissionRate:       defaultConfig.DailyEmissionRate,
			MaxEmissionPerBond:      defaultConfig.MaxEmissionPerBond,
			MaxBondsPerWallet:       defaultConfig.MaxBondsPerWallet,
			ClaimPenaltyBasisPoints: defaultConfig.ClaimPenaltyBasisPoints,
		}, *admin)
		require.Equal(t, defaultConfig, bonds.ConfigOf(admin))

		for _, addr := range []solana.PublicKey{admin.TreasuryAccount, admin.TeamAccount, admin.RewardsPoolAccount} {
			require.Zero(t, h.balance(addr))
		}

		ev := h.events.last()
		require.Equal(t, bonds.OpInitializeAdmin, ev.Op)
		require.Equal(t, bonds.OutcomeOK, ev.Outcome)
		require.Equal(t, h.authority, ev.Signer)
	})

	t.Run("rejects second initialization", func(t *testing.T) {
		t.Parallel()
		h := newInitializedHarness(t, defaultConfig)

		h.unchanged(func() {
			_, err := h.process([]solana.PublicKey{h.authority, h.treasury, h.team}, &bonds.InitializeAdmin{
				Authority: h.authority,
				Treasury:  h.treasury,
				Team:      h.team,
				Mint:      h.mint,
				Config:    defaultConfig,
			})
			require.ErrorIs(t, err, bonds.ErrAlreadyInitialized)
		})
		require.Equal(t, bonds.ErrAlreadyInitialized.Kind, h.events.last().Outcome)
	})

	t.Run("requires every co-signer", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		for _, signers := range [][]solana.PublicKey{
			{h.treasury, h.team},
			{h.authority, h.team},
			{h.authority, h.treasury},
			nil,
		} {
			_, err := h.process(signers, &bonds.InitializeAdmin{
				Authority: h.authority,
				Treasury:  h.treasury,
				Team:      h.team,
				Mint:      h.mint,
				Config:    defaultConfig,
			})
			require.ErrorIs(t, err, bonds.ErrUnauthorized)
		}
		_, err := h.proc.Admin(h.ctx)
		require.ErrorIs(t, err, bonds.ErrNotInitialized)
	})

	t.Run("validates config", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		tooHighPenalty := defaultConfig
		tooHighPenalty.ClaimPenaltyBasisPoints = 10_001
		noBonds := defaultConfig
		noBonds.MaxBondsPerWallet = 0
		noEmission := defaultConfig
		noEmission.MaxEmissionPerBond = 0

		for _, cfg := range []bonds.AdminConfig{tooHighPenalty, noBonds, noEmission} {
			_, err := h.process([]solana.PublicKey{h.authority, h.treasury, h.team}, &bonds.InitializeAdmin{
				Authority: h.authority,
				Treasury:  h.treasury,
				Team:      h.team,
				Mint:      h.mint,
				Config:    cfg,
			})
			require.ErrorIs(t, err, bonds.ErrInvalidConfig)
		}

		_, err := h.process([]solana.PublicKey{h.authority, h.treasury, h.team}, &bonds.InitializeAdmin{
			Authority: h.authority,
			Treasury:  h.treasury,
			Team:      h.team,
			Config:    defaultConfig,
		})
		require.ErrorIs(t, err, bonds.ErrInvalidConfig)
	})
}

func TestBonds_Processor_UpdateAdmin(t *testing.T) {
	t.Parallel()

	t.Run("requires initialization", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.process([]solana.PublicKey{h.authority}, &bonds.UpdateAdmin{Signer: h.authority})
		require.ErrorIs(t, err, bonds.ErrNotInitialized)
	})

	t.Run("pauses and resumes", func(t *testing.T) {
		t.Parallel()
		h := newInitializedHarness(t, defaultConfig)

		next := *h.admin()
		next.PauseBondOperations = true
		_, err := h.process([]solana.PublicKey{h.authority}, &bonds.UpdateAdmin{Signer: h.authority, Admin: next})
		require.NoError(t, err)
		require.True(t, h.admin().PauseBondOperations)

		next.PauseBondOperations = false
		next.DailyEmissionRate = 1
		_, err = h.process([]solana.PublicKey{h.authority}, &bonds.UpdateAdmin{Signer: h.authority, Admin: next})
		require.NoError(t, err)
		require.Equal(t, next, *h.admin())
	})

	t.Run("rejects anyone but the authority", func(t *testing.T) {
		t.Parallel()
		h := newInitializedHarness(t, defaultConfig)
		intruder := solana.NewWallet().PublicKey()

		next := *h.admin()
		next.Authority = intruder
		h.unchanged(func() {
			_, err := h.process([]solana.PublicKey{intruder}, &bonds.UpdateAdmin{Signer: intruder, Admin: next})
			require.ErrorIs(t, err, bonds.ErrUnauthorized)

			// Naming the authority without its signature is not enough.
			_, err = h.process([]solana.PublicKey{intruder}, &bonds.UpdateAdmin{Signer: h.authority, Admin: next})
			require.ErrorIs(t, err, bonds.ErrUnauthorized)
		})
		require.Equal(t, h.authority, h.admin().Authority)
	})

	t.Run("hands over authority", func(t *testing.T) {
		t.Parallel()
		h := newInitializedHarness(t, defaultConfig)
		successor := solana.NewWallet().PublicKey()

		next := *h.admin()
		next.Authority = successor
		_, err := h.process([]solana.PublicKey{h.authority}, &bonds.UpdateAdmin{Signer: h.authority, Admin: next})
		require.NoError(t, err)

		_, err = h.process([]solana.PublicKey{h.authority}, &bonds.UpdateAdmin{Signer: h.authority, Admin: next})
		require.ErrorIs(t, err, bonds.ErrUnauthorized)
		_, err = h.process([]solana.PublicKey{successor}, &bonds.UpdateAdmin{Signer: successor, Admin: next})
		require.NoError(t, err)
	})

	t.Run("rejects invalid records", func(t *testing.T) {
		t.Parallel()
		h := newInitializedHarness(t, defaultConfig)
		current := *h.admin()

		mint := current
		mint.NativeTokenMint = solana.NewWallet().PublicKey()
		penalty := current
		penalty.ClaimPenaltyBasisPoints = 20_000
		noAuthority := current
		noAuthority.Authority = solana.PublicKey{}
		missingAccount := current
		missingAccount.TreasuryAccount = solana.NewWallet().PublicKey()

		other := solana.NewWallet().PublicKey()
		foreignMint := current
		foreignMint.TeamAccount = h.ata(other)
		require.NoError(t, ledger.Fund(h.ctx, h.store, ledger.TokenAccount{
			Address: foreignMint.TeamAccount,
			Owner:   other,
			Mint:    solana.NewWallet().PublicKey(),
		}, 1))

		h.unchanged(func() {
			for _, tc := range []struct {
				admin state.GlobalAdmin
				want  error
			}{
				{mint, bonds.ErrImmutableFieldChanged},
				{penalty, bonds.ErrInvalidConfig},
				{noAuthority, bonds.ErrInvalidConfig},
				{missingAccount, bonds.ErrInvalidTokenAccount},
				{foreignMint, bonds.ErrInvalidTokenAccount},
			} {
				_, err := h.process([]solana.PublicKey{h.authority}, &bonds.UpdateAdmin{Signer: h.authority, Admin: tc.admin})
				require.ErrorIs(t, err, tc.want)
			}
		})
	})
}

func TestBonds_Processor_CreateUser(t *testing.T) {
	t.Parallel()
	h := newInitializedHarness(t, defaultConfig)
	wallet := solana.NewWallet().PublicKey()

	_, err := h.process(nil, &bonds.CreateUser{Wallet: wallet})
	require.ErrorIs(t, err, bonds.ErrUnauthorized)
	_, err = h.proc.Registry(h.ctx, wallet)
	require.ErrorIs(t, err, bonds.ErrUserNotFound)

	receipt, err := h.process([]solana.PublicKey{wallet}, &bonds.CreateUser{Wallet: wallet})
	require.NoError(t, err)
	require.Equal(t, []solana.PublicKey{h.proc.Addresses().UserRegistry(wallet).Address}, receipt.Accounts)
	require.Equal(t, state.UserRegistry{Owner: wallet, ActiveBonds: []uint8{}}, *h.registry(wallet))

	h.unchanged(func() {
		_, err := h.process([]solana.PublicKey{wallet}, &bonds.CreateUser{Wallet: wallet})
		require.ErrorIs(t, err, bonds.ErrAlreadyExists)
	})

	ev := h.events.last()
	require.Equal(t, wallet, ev.Wallet)
	require.Equal(t, int16(-1), ev.BondIndex)
}

func TestBonds_Processor_InitializeBond(t *testing.T) {
	t.Parallel()

	t.Run("splits the deposit", func(t *testing.T) {
		t.Parallel()
		h := newInitializedHarness(t, defaultConfig)
		wallet := h.newWallet()
		admin := h.admin()

		const amount = 1_000_000_001
		receipt, err := h.process([]solana.PublicKey{wallet}, h.bondIx(wallet, amount))
		require.NoError(t, err)
		require.Equal(t, &bonds.BondRef{Index: 0, Address: h.proc.Addresses().Bond(h.proc.Addresses().UserRegistry(wallet).Address, 0).Address}, receipt.NewBond)

		require.Equal(t, uint64(walletFunding-amount), h.balance(h.ata(wallet)))
		require.Equal(t, uint64(poolFunding+400_000_001), h.balance(admin.RewardsPoolAccount))
		require.Equal(t, uint64(400_000_000), h.balance(admin.TreasuryAccount))
		require.Equal(t, uint64(200_000_000), h.balance(admin.TeamAccount))

		view := h.bond(wallet, 0)
		require.Equal(t, receipt.NewBond.Address, view.Address)
		require.Equal(t, state.Bond{
			Owner:              h.proc.Addresses().UserRegistry(wallet).Address,
			BondIndex:          0,
			DepositAmount:      amount,
			InterestRate:       defaultConfig.DailyEmissionRate,
			CreationTimestamp:  genesis.Unix(),
			LastClaimTimestamp: genesis.Unix(),
			IsActive:           true,
		}, view.Bond)
		require.Equal(t, bonds.ErrBondNotMatured.Kind, view.Preview.Err)

		reg := h.registry(wallet)
		require.Equal(t, uint8(1), reg.BondIndex)
		require.Equal(t, uint8(1), reg.BondCount)
		require.Equal(t, []uint8{0}, reg.ActiveBonds)

		ev := h.events.last()
		require.Equal(t, bonds.OpInitializeBond, ev.Op)
		require.Equal(t, uint64(amount), ev.Amount)
		require.Equal(t, int16(0), ev.BondIndex)
	})

	t.Run("accepts the explicit funding account", func(t *testing.T) {
		t.Parallel()
		h := newInitializedHarness(t, defaultConfig)
		wallet := h.newWallet()

		ix := h.bondIx(wallet, deposit)
		ix.FundingAccount = h.ata(wallet)
		_, err := h.process([]solana.PublicKey{wallet}, ix)
		require.NoError(t, err)
	})

	t.Run("enforces the wallet cap", func(t *testing.T) {
		t.Parallel()
		h := newInitializedHarness(t, defaultConfig)
		wallet := h.newWallet()

		for i := range int(defaultConfig.MaxBondsPerWallet) {
			require.Equal(t, uint8(i), h.openBond(wallet))
		}
		h.unchanged(func() {
			_, err := h.process([]solana.PublicKey{wallet}, h.bondIx(wallet, 1))
			require.ErrorIs(t, err, bonds.ErrBondCapExceeded)
		})
		require.Equal(t, defaultConfig.MaxBondsPerWallet, h.registry(wallet).BondCount)
	})

	t.Run("rejects invalid requests atomically", func(t *testing.T) {
		t.Parallel()
		h := newInitializedHarness(t, defaultConfig)
		wallet := h.newWallet()
		stranger := solana.NewWallet().PublicKey()
		h.fund(h.ata(stranger), stranger, walletFunding)

		wrongPool := h.bondIx(wallet, deposit)
		wrongPool.RewardsPool = h.ata(wallet)
		wrongTreasury := h.bondIx(wallet, deposit)
		wrongTreasury.TreasuryAccount = h.ata(wallet)
		wrongTeam := h.bondIx(wallet, deposit)
		wrongTeam.TeamAccount = h.ata(wallet)
		wrongFunding := h.bondIx(wallet, deposit)
		wrongFunding.FundingAccount = h.ata(stranger)

		h.unchanged(func() {
			for _, tc := range []struct {
				name    string
				signers []solana.PublicKey
				ix      *bonds.InitializeBond
				want    error
			}{
				{"unsigned", nil, h.bondIx(wallet, deposit), bonds.ErrUnauthorized},
				{"no registry", []solana.PublicKey{stranger}, h.bondIx(stranger, deposit), bonds.ErrUserNotFound},
				{"zero deposit", []solana.PublicKey{wallet}, h.bondIx(wallet, 0), bonds.ErrInvalidAmount},
				{"wrong pool", []solana.PublicKey{wallet}, wrongPool, bonds.ErrInvalidDistributionTarget},
				{"wrong treasury", []solana.PublicKey{wallet}, wrongTreasury, bonds.ErrInvalidDistributionTarget},
				{"wrong team", []solana.PublicKey{wallet}, wrongTeam, bonds.ErrInvalidDistributionTarget},
				{"wrong funding", []solana.PublicKey{wallet}, wrongFunding, bonds.ErrInvalidTokenAccount},
				{"insufficient", []solana.PublicKey{wallet}, h.bondIx(wallet, walletFunding+1), bonds.ErrInsufficientFunds},
			} {
				_, err := h.process(tc.signers, tc.ix)
				require.ErrorIs(t, err, tc.want, tc.name)
			}
		})
	})

	t.Run("rejects a wallet without a token account", func(t *testing.T) {
		t.Parallel()
		h := newInitializedHarness(t, defaultConfig)
		wallet := solana.NewWallet().PublicKey()
		_, err := h.process([]solana.PublicKey{wallet}, &bonds.CreateUser{Wallet: wallet})
		require.NoError(t, err)

		_, err = h.process([]solana.PublicKey{wallet}, h.bondIx(wallet, deposit))
		require.ErrorIs(t, err, bonds.ErrInvalidTokenAccount)
	})

	t.Run("rejects while paused", func(t *testing.T) {
		t.Parallel()
		h := newInitializedHarness(t, defaultConfig)
		wallet := h.newWallet()
		h.pause(true)

		_, err := h.process([]solana.PublicKey{wallet}, h.bondIx(wallet, deposit))
		require.ErrorIs(t, err, bonds.ErrOperationsPaused)
		pe, ok := bonds.AsProgramError(err)
		require.True(t, ok)
		require.True(t, pe.TryLater())

		h.pause(false)
		h.openBond(wallet)
	})

	t.Run("requires initialization", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		wallet := solana.NewWallet().PublicKey()
		_, err := h.process([]solana.PublicKey{wallet}, &bonds.InitializeBond{Wallet: wallet, DepositAmount: 1})
		require.ErrorIs(t, err, bonds.ErrNotInitialized)
	})
}

func (h *harness) pause(paused bool) {
	h.t.Helper()
	next := *h.admin()
	next.PauseBondOperations = paused
	_, err := h.process([]solana.PublicKey{h.authority}, &bonds.UpdateAdmin{Signer: h.authority, Admin: next})
	require.NoError(h.t, err)
}

func TestBonds_Processor_Config(t *testing.T) {
	t.Parallel()

	_, err := bonds.NewProcessor(bonds.ProcessorConfig{Ledger: memory.New()})
	require.Error(t, err)
	_, err = bonds.NewProcessor(bonds.ProcessorConfig{Logger: bondstesting.NewLogger()})
	require.Error(t, err)

	proc, err := bonds.NewProcessor(bonds.ProcessorConfig{Logger: bondstesting.NewLogger(), Ledger: memory.New()})
	require.NoError(t, err)
	require.NotNil(t, proc.Clock())

	_, err = proc.Process(context.Background(), bonds.Transaction{})
	require.ErrorIs(t, err, bonds.ErrInvalidInstruction)
}
