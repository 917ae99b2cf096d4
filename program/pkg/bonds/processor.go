// Package bonds is the bond lifecycle state machine. A Processor validates
// one Transaction against the records in a ledger.Store and applies it in a
// single ledger transaction: either every effect lands or none does.
package bonds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/bonds/ledger/pkg/ledger"
	"github.com/malbeclabs/bonds/program/pkg/pda"
)

// Transaction is an instruction together with the identities that signed it.
type Transaction struct {
	Signers     []solana.PublicKey
	Instruction Instruction
}

// SignedBy reports whether pk is among the signers. The zero key never signs.
func (t Transaction) SignedBy(pk solana.PublicKey) bool {
	return !pk.IsZero() && slices.Contains(t.Signers, pk)
}

// Receipt is the result of a successful transaction.
type Receipt struct {
	Op        Opcode
	Timestamp int64
	// Accounts lists the records written, in write order.
	Accounts    []solana.PublicKey
	Reward      uint64
	Transferred uint64 // reward paid out to the wallet
	Closed      bool
	NewBond     *BondRef // bond opened by InitializeBond or a compounding claim
}

// BondRef names a bond by index and address.
type BondRef struct {
	Index   uint8
	Address solana.PublicKey
}

type ProcessorConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	ProgramID solana.PublicKey
	Ledger    ledger.Store
	Events    EventSink
}

func (cfg *ProcessorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = pda.DefaultProgramID
	}
	return nil
}

type Processor struct {
	log *slog.Logger
	cfg ProcessorConfig
	pda *pda.Deriver
}

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate processor config: %w", err)
	}
	return &Processor{
		log: cfg.Logger,
		cfg: cfg,
		pda: pda.New(cfg.ProgramID),
	}, nil
}

// Addresses returns the deriver bound to the processor's program id.
func (p *Processor) Addresses() *pda.Deriver {
	return p.pda
}

// Clock returns the clock transactions are stamped with.
func (p *Processor) Clock() clockwork.Clock {
	return p.cfg.Clock
}

// Process validates and applies tx. On error nothing has been written.
func (p *Processor) Process(ctx context.Context, tx Transaction) (*Receipt, error) {
	if tx.Instruction == nil {
		return nil, reject(ErrInvalidInstruction, "missing instruction")
	}
	op := tx.Instruction.Opcode()
	start := time.Now()
	now := p.cfg.Clock.Now()

	var receipt *Receipt
	err := p.cfg.Ledger.Update(ctx, func(ltx ledger.Tx) error {
		x := &execution{
			ctx: ctx,
			p:   p,
			tx:  ltx,
			txn: tx,
			now: now.Unix(),
			receipt: &Receipt{
				Op:        op,
				Timestamp: now.Unix(),
			},
		}
		if err := x.dispatch(); err != nil {
			return err
		}
		receipt = x.receipt
		return nil
	})
	if err != nil {
		receipt = nil
	}

	outcome := outcomeOf(err)
	InstructionsTotal.WithLabelValues(op.String(), outcome).Inc()
	InstructionDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
	if err == nil {
		observe(tx, receipt)
	}
	if p.cfg.Events != nil {
		p.cfg.Events.Publish(ctx, newEvent(now, tx, receipt, outcome))
	}

	if err != nil {
		if outcome == OutcomeInternal {
			p.log.Error("bonds: transaction failed", "op", op, "error", err)
		} else {
			p.log.Debug("bonds: transaction rejected", "op", op, "kind", outcome, "error", err)
		}
		return nil, err
	}
	p.log.Debug("bonds: transaction processed", "op", op, "accounts", len(receipt.Accounts), "reward", receipt.Reward)
	return receipt, nil
}

func observe(tx Transaction, r *Receipt) {
	switch ix := tx.Instruction.(type) {
	case *InitializeBond:
		BondsOpenedTotal.Inc()
	case *ProcessClaim:
		mode := "claim"
		if ix.AutoCompound {
			mode = "compound"
		}
		if r.Reward > 0 {
			ClaimedRewardsTotal.WithLabelValues(mode).Add(float64(r.Reward))
		}
		if r.Closed {
			BondsClosedTotal.Inc()
		}
		if r.NewBond != nil {
			BondsOpenedTotal.Inc()
		}
	}
}

// newEvent describes tx. r is nil when the transaction failed.
func newEvent(now time.Time, tx Transaction, r *Receipt, outcome string) Event {
	ev := Event{
		Time:      now,
		Op:        tx.Instruction.Opcode(),
		BondIndex: -1,
		NewBond:   -1,
		Outcome:   outcome,
	}
	if len(tx.Signers) > 0 {
		ev.Signer = tx.Signers[0]
	}
	switch ix := tx.Instruction.(type) {
	case *CreateUser:
		ev.Wallet = ix.Wallet
	case *InitializeBond:
		ev.Wallet = ix.Wallet
		ev.Amount = ix.DepositAmount
		if r != nil && r.NewBond != nil {
			ev.BondIndex = int16(r.NewBond.Index)
		}
	case *ProcessClaim:
		ev.Wallet = ix.Wallet
		ev.BondIndex = int16(ix.BondIndex)
		ev.Compound = ix.AutoCompound
		if r != nil && r.NewBond != nil {
			ev.NewBond = int16(r.NewBond.Index)
		}
	}
	if r != nil {
		ev.Reward = r.Reward
	}
	return ev
}

// execution is the state of one instruction inside its ledger transaction.
type execution struct {
	ctx     context.Context
	p       *Processor
	tx      ledger.Tx
	txn     Transaction
	now     int64
	receipt *Receipt
}

func (x *execution) dispatch() error {
	switch ix := x.txn.Instruction.(type) {
	case *InitializeAdmin:
		return x.initializeAdmin(ix)
	case *UpdateAdmin:
		return x.updateAdmin(ix)
	case *CreateUser:
		return x.createUser(ix)
	case *InitializeBond:
		return x.initializeBond(ix)
	case *ProcessClaim:
		return x.processClaim(ix)
	default:
		return reject(ErrInvalidInstruction, "unsupported instruction %T", ix)
	}
}
