package bonds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InstructionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bonds_program_instructions_total",
			Help: "Total number of processed instructions by outcome",
		},
		[]string{"op", "outcome"},
	)

	InstructionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bonds_program_instruction_duration_seconds",
			Help:    "Duration of instruction processing including the ledger transaction",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"op"},
	)

	ClaimedRewardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bonds_program_claimed_rewards_total",
			Help: "Total base units of reward claimed",
		},
		[]string{"mode"},
	)

	BondsOpenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bonds_program_bonds_opened_total",
			Help: "Total number of bonds opened, including compounded bonds",
		},
	)

	BondsClosedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bonds_program_bonds_closed_total",
			Help: "Total number of bonds closed",
		},
	)
)
