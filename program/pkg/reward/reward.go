// Package reward computes what a bond has accrued since its last claim.
//
// Accrual is linear in elapsed seconds at the configured daily emission
// rate, reduced by the claim penalty when the claim lands inside the early
// window, and clamped to what remains of the per-bond emission cap. All
// functions are pure.
package reward

import (
	"errors"
	"math/bits"

	"github.com/malbeclabs/bonds/program/pkg/state"
)

const (
	SecondsPerDay    = 86400
	EarlyClaimWindow = 5 * SecondsPerDay
	MaturityPeriod   = 30 * SecondsPerDay
	BasisPoints      = 10000
)

var (
	ErrInvalidClock   = errors.New("clock is before the last claim")
	ErrOverflow       = errors.New("reward overflows u64")
	ErrInvalidPenalty = errors.New("claim penalty exceeds 10000 basis points")
)

// Params is the slice of GlobalAdmin the engine reads.
type Params struct {
	DailyEmissionRate       uint64
	MaxEmissionPerBond      uint64
	ClaimPenaltyBasisPoints uint16
}

func ParamsOf(a *state.GlobalAdmin) Params {
	return Params{
		DailyEmissionRate:       a.DailyEmissionRate,
		MaxEmissionPerBond:      a.MaxEmissionPerBond,
		ClaimPenaltyBasisPoints: a.ClaimPenaltyBasisPoints,
	}
}

// Breakdown is the full accrual computation for one bond at one instant.
type Breakdown struct {
	Elapsed   int64
	Raw       uint64 // before penalty and cap
	Penalty   uint64 // withheld because the claim is early
	Remaining uint64 // emission left under the cap before this claim
	Amount    uint64 // what a claim would pay
	Early     bool
	Matured   bool
	Closes    bool // a claim now would leave nothing under the cap
}

// Preview computes the accrual breakdown of bond at now.
func Preview(bond *state.Bond, p Params, now int64) (Breakdown, error) {
	if p.ClaimPenaltyBasisPoints > BasisPoints {
		return Breakdown{}, ErrInvalidPenalty
	}
	elapsed := now - bond.LastClaimTimestamp
	if elapsed < 0 {
		return Breakdown{}, ErrInvalidClock
	}

	raw, err := mulDiv(p.DailyEmissionRate, uint64(elapsed), SecondsPerDay)
	if err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{
		Elapsed: elapsed,
		Raw:     raw,
		Early:   elapsed < EarlyClaimWindow,
		Matured: Matured(bond, now),
	}

	amount := raw
	if b.Early {
		// The multiplier is at most BasisPoints so the result never exceeds raw.
		amount, err = mulDiv(raw, uint64(BasisPoints-p.ClaimPenaltyBasisPoints), BasisPoints)
		if err != nil {
			return Breakdown{}, err
		}
		b.Penalty = raw - amount
	}

	if bond.TotalClaimed < p.MaxEmissionPerBond {
		b.Remaining = p.MaxEmissionPerBond - bond.TotalClaimed
	}
	b.Amount = min(amount, b.Remaining)
	b.Closes = b.Amount == b.Remaining
	return b, nil
}

// Accrued returns what a claim on bond at now would pay.
func Accrued(bond *state.Bond, p Params, now int64) (uint64, error) {
	b, err := Preview(bond, p, now)
	if err != nil {
		return 0, err
	}
	return b.Amount, nil
}

// Matured reports whether bond may be claimed at now. Only the first claim is
// gated; once a bond has paid out, later claims are governed by the penalty
// window alone.
func Matured(bond *state.Bond, now int64) bool {
	if bond.TotalClaimed > 0 {
		return true
	}
	return now-bond.CreationTimestamp >= MaturityPeriod
}

// mulDiv returns floor(a*b/d) with a 128-bit intermediate.
func mulDiv(a, b, d uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}
