package bonds

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/bonds/ledger/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

// BondView is a bond together with what a claim would pay right now.
type BondView struct {
	Address solana.PublicKey
	Bond    state.Bond
	Preview PreviewResult
}

type PreviewResult struct {
	Amount  uint64
	Penalty uint64
	Early   bool
	Matured bool
	Closes  bool
	// Err is the kind a claim would currently be rejected with, if any.
	Err string
}

// view runs fn against a read-only snapshot with the same loaders Process
// uses.
func (p *Processor) view(ctx context.Context, fn func(x *execution) error) error {
	now := p.cfg.Clock.Now().Unix()
	return p.cfg.Ledger.View(ctx, func(tx ledger.Tx) error {
		return fn(&execution{ctx: ctx, p: p, tx: tx, now: now, receipt: &Receipt{}})
	})
}

// Admin returns the GlobalAdmin record.
func (p *Processor) Admin(ctx context.Context) (*state.GlobalAdmin, error) {
	var admin *state.GlobalAdmin
	err := p.view(ctx, func(x *execution) error {
		var err error
		_, admin, err = x.loadAdmin()
		return err
	})
	return admin, err
}

// Registry returns the registry of wallet.
func (p *Processor) Registry(ctx context.Context, wallet solana.PublicKey) (*state.UserRegistry, error) {
	var reg *state.UserRegistry
	err := p.view(ctx, func(x *execution) error {
		var err error
		_, reg, err = x.loadRegistry(wallet)
		return err
	})
	return reg, err
}

// Bond returns bond index of wallet with a claim preview at the current time.
func (p *Processor) Bond(ctx context.Context, wallet solana.PublicKey, index uint8) (*BondView, error) {
	var out *BondView
	err := p.view(ctx, func(x *execution) error {
		_, admin, err := x.loadAdmin()
		if err != nil {
			return err
		}
		regAddr, _, err := x.loadRegistry(wallet)
		if err != nil {
			return err
		}
		addr, bond, err := x.loadBond(regAddr.Address, index)
		if err != nil {
			return err
		}
		out = &BondView{Address: addr.Address, Bond: *bond}

		switch {
		case !bond.IsActive && bond.TotalClaimed >= admin.MaxEmissionPerBond:
			out.Preview.Err = ErrBondAlreadyClaimed.Kind
			return nil
		case !bond.IsActive:
			out.Preview.Err = ErrBondNotActive.Kind
			return nil
		}
		b, err := PreviewClaim(admin, bond, x.now)
		if err != nil {
			out.Preview.Err = KindOf(err)
			return nil
		}
		out.Preview = PreviewResult{
			Amount:  b.Amount,
			Penalty: b.Penalty,
			Early:   b.Early,
			Matured: b.Matured,
			Closes:  b.Closes,
		}
		if !b.Matured {
			out.Preview.Err = ErrBondNotMatured.Kind
		}
		return nil
	})
	return out, err
}

// Account returns the raw program record at address.
func (p *Processor) Account(ctx context.Context, address solana.PublicKey) (*ledger.Account, error) {
	var acct *ledger.Account
	err := p.cfg.Ledger.View(ctx, func(tx ledger.Tx) error {
		var err error
		acct, err = tx.Account(ctx, address)
		return err
	})
	return acct, err
}

// TokenAccount returns the token account at address.
func (p *Processor) TokenAccount(ctx context.Context, address solana.PublicKey) (*ledger.TokenAccount, error) {
	var acct *ledger.TokenAccount
	err := p.cfg.Ledger.View(ctx, func(tx ledger.Tx) error {
		var err error
		acct, err = tx.TokenAccount(ctx, address)
		return err
	})
	return acct, err
}
