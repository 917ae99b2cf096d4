package bonds

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Event describes one processed transaction, successful or not.
type Event struct {
	Time      time.Time
	Op        Opcode
	Signer    solana.PublicKey // first signer, zero when unsigned
	Wallet    solana.PublicKey // zero for admin instructions
	BondIndex int16            // -1 when the instruction names no bond
	Amount    uint64           // deposit for InitializeBond
	Reward    uint64
	Compound  bool
	NewBond   int16  // index opened by a compounding claim, -1 otherwise
	Outcome   string // program error kind, "Ok", or "Internal"
}

const (
	OutcomeOK       = "Ok"
	OutcomeInternal = "Internal"
)

// EventSink receives an Event after every processed transaction. Publish
// must not block on I/O.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// outcomeOf maps a Process error to an event outcome.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if kind := KindOf(err); kind != "" {
		return kind
	}
	return OutcomeInternal
}
