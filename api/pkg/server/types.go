package server

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/malbeclabs/bonds/program/pkg/bonds"
	"github.com/malbeclabs/bonds/program/pkg/state"
)

// TransactionRequest carries either a JSON instruction or base58 wire bytes
// in Data, never both.
type TransactionRequest struct {
	Signers     []solana.PublicKey `json:"signers"`
	Instruction *InstructionJSON   `json:"instruction,omitempty"`
	Data        string             `json:"data,omitempty"`
}

// InstructionJSON is the union of every instruction's fields, selected by
// Type (the opcode name, e.g. "process_claim").
type InstructionJSON struct {
	Type string `json:"type"`

	// initialize_admin
	Authority               solana.PublicKey `json:"authority"`
	Treasury                solana.PublicKey `json:"treasury"`
	Team                    solana.PublicKey `json:"team"`
	Mint                    solana.PublicKey `json:"mint"`
	DailyEmissionRate       uint64           `json:"daily_emission_rate"`
	MaxEmissionPerBond      uint64           `json:"max_emission_per_bond"`
	MaxBondsPerWallet       uint8            `json:"max_bonds_per_wallet"`
	ClaimPenaltyBasisPoints uint16           `json:"claim_penalty_basis_points"`

	// update_admin
	Signer solana.PublicKey `json:"signer"`
	Admin  *AdminJSON       `json:"admin,omitempty"`

	// create_user, initialize_bond, process_claim
	Wallet solana.PublicKey `json:"wallet"`

	DepositAmount   uint64           `json:"deposit_amount"`
	FundingAccount  solana.PublicKey `json:"funding_account"`
	RewardsPool     solana.PublicKey `json:"rewards_pool"`
	TreasuryAccount solana.PublicKey `json:"treasury_account"`
	TeamAccount     solana.PublicKey `json:"team_account"`

	BondIndex    uint8 `json:"bond_index"`
	AutoCompound bool  `json:"auto_compound"`
}

// instruction resolves the request to a program instruction.
func (req *TransactionRequest) instruction() (bonds.Instruction, error) {
	switch {
	case req.Instruction != nil && req.Data != "":
		return nil, errors.New("instruction and data are mutually exclusive")
	case req.Data != "":
		raw, err := base58.Decode(req.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid base58 data: %w", err)
		}
		return bonds.DecodeInstruction(raw)
	case req.Instruction != nil:
		return req.Instruction.decode()
	default:
		return nil, errors.New("instruction or data is required")
	}
}

func (ix *InstructionJSON) decode() (bonds.Instruction, error) {
	op, ok := bonds.ParseOpcode(ix.Type)
	if !ok {
		return nil, fmt.Errorf("unknown instruction type %q", ix.Type)
	}
	switch op {
	case bonds.OpInitializeAdmin:
		return &bonds.InitializeAdmin{
			Authority: ix.Authority,
			Treasury:  ix.Treasury,
			Team:      ix.Team,
			Mint:      ix.Mint,
			Config: bonds.AdminConfig{
				DailyEmissionRate:       ix.DailyEmissionRate,
				MaxEmissionPerBond:      ix.MaxEmissionPerBond,
				MaxBondsPerWallet:       ix.MaxBondsPerWallet,
				ClaimPenaltyBasisPoints: ix.ClaimPenaltyBasisPoints,
			},
		}, nil
	case bonds.OpUpdateAdmin:
		if ix.Admin == nil {
			return nil, errors.New("update_admin requires admin")
		}
		return &bonds.UpdateAdmin{Signer: ix.Signer, Admin: ix.Admin.state()}, nil
	case bonds.OpCreateUser:
		return &bonds.CreateUser{Wallet: ix.Wallet}, nil
	case bonds.OpInitializeBond:
		return &bonds.InitializeBond{
			Wallet:          ix.Wallet,
			DepositAmount:   ix.DepositAmount,
			FundingAccount:  ix.FundingAccount,
			RewardsPool:     ix.RewardsPool,
			TreasuryAccount: ix.TreasuryAccount,
			TeamAccount:     ix.TeamAccount,
		}, nil
	default:
		return &bonds.ProcessClaim{Wallet: ix.Wallet, BondIndex: ix.BondIndex, AutoCompound: ix.AutoCompound}, nil
	}
}

type AdminJSON struct {
	Address                 solana.PublicKey `json:"address,omitzero"`
	Authority               solana.PublicKey `json:"authority"`
	Treasury                solana.PublicKey `json:"treasury"`
	TreasuryAccount         solana.PublicKey `json:"treasury_account"`
	Team                    solana.PublicKey `json:"team"`
	TeamAccount             solana.PublicKey `json:"team_account"`
	RewardsPoolAccount      solana.PublicKey `json:"rewards_pool_account"`
	NativeTokenMint         solana.PublicKey `json:"native_token_mint"`
	DailyEmissionRate       uint64           `json:"daily_emission_rate"`
	MaxEmissionPerBond      uint64           `json:"max_emission_per_bond"`
	MaxBondsPerWallet       uint8            `json:"max_bonds_per_wallet"`
	ClaimPenaltyBasisPoints uint16           `json:"claim_penalty_basis_points"`
	PauseBondOperations     bool             `json:"pause_bond_operations"`
}

func adminJSON(addr solana.PublicKey, a *state.GlobalAdmin) AdminJSON {
	return AdminJSON{
		Address:                 addr,
		Authority:               a.Authority,
		Treasury:                a.Treasury,
		TreasuryAccount:         a.TreasuryAccount,
		Team:                    a.Team,
		TeamAccount:             a.TeamAccount,
		RewardsPoolAccount:      a.RewardsPoolAccount,
		NativeTokenMint:         a.NativeTokenMint,
		DailyEmissionRate:       a.DailyEmissionRate,
		MaxEmissionPerBond:      a.MaxEmissionPerBond,
		MaxBondsPerWallet:       a.MaxBondsPerWallet,
		ClaimPenaltyBasisPoints: a.ClaimPenaltyBasisPoints,
		PauseBondOperations:     a.PauseBondOperations,
	}
}

func (a *AdminJSON) state() state.GlobalAdmin {
	return state.GlobalAdmin{
		Authority:               a.Authority,
		Treasury:                a.Treasury,
		TreasuryAccount:         a.TreasuryAccount,
		Team:                    a.Team,
		TeamAccount:             a.TeamAccount,
		RewardsPoolAccount:      a.RewardsPoolAccount,
		NativeTokenMint:         a.NativeTokenMint,
		DailyEmissionRate:       a.DailyEmissionRate,
		MaxEmissionPerBond:      a.MaxEmissionPerBond,
		MaxBondsPerWallet:       a.MaxBondsPerWallet,
		ClaimPenaltyBasisPoints: a.ClaimPenaltyBasisPoints,
		PauseBondOperations:     a.PauseBondOperations,
	}
}

type RegistryJSON struct {
	Address             solana.PublicKey `json:"address"`
	Owner               solana.PublicKey `json:"owner"`
	BondIndex           uint8            `json:"bond_index"`
	BondCount           uint8            `json:"bond_count"`
	TotalAccruedRewards uint64           `json:"total_accrued_rewards"`
	ActiveBonds         []int            `json:"active_bonds"` // []uint8 would encode as base64
}

func registryJSON(addr solana.PublicKey, r *state.UserRegistry) RegistryJSON {
	active := make([]int, len(r.ActiveBonds))
	for i, idx := range r.ActiveBonds {
		active[i] = int(idx)
	}
	return RegistryJSON{
		Address:             addr,
		Owner:               r.Owner,
		BondIndex:           r.BondIndex,
		BondCount:           r.BondCount,
		TotalAccruedRewards: r.TotalAccruedRewards,
		ActiveBonds:         active,
	}
}

type PreviewJSON struct {
	Amount  uint64 `json:"amount"`
	Penalty uint64 `json:"penalty"`
	Early   bool   `json:"early"`
	Matured bool   `json:"matured"`
	Closes  bool   `json:"closes"`
	Error   string `json:"error,omitempty"`
}

type BondJSON struct {
	Address            solana.PublicKey `json:"address"`
	Owner              solana.PublicKey `json:"owner"`
	BondIndex          uint8            `json:"bond_index"`
	DepositAmount      uint64           `json:"deposit_amount"`
	InterestRate       uint64           `json:"interest_rate"`
	CreationTimestamp  int64            `json:"creation_timestamp"`
	LastClaimTimestamp int64            `json:"last_claim_timestamp"`
	TotalClaimed       uint64           `json:"total_claimed"`
	IsActive           bool             `json:"is_active"`
	Preview            PreviewJSON      `json:"preview"`
}

func bondJSON(v *bonds.BondView) BondJSON {
	b := v.Bond
	return BondJSON{
		Address:            v.Address,
		Owner:              b.Owner,
		BondIndex:          b.BondIndex,
		DepositAmount:      b.DepositAmount,
		InterestRate:       b.InterestRate,
		CreationTimestamp:  b.CreationTimestamp,
		LastClaimTimestamp: b.LastClaimTimestamp,
		TotalClaimed:       b.TotalClaimed,
		IsActive:           b.IsActive,
		Preview: PreviewJSON{
			Amount:  v.Preview.Amount,
			Penalty: v.Preview.Penalty,
			Early:   v.Preview.Early,
			Matured: v.Preview.Matured,
			Closes:  v.Preview.Closes,
			Error:   v.Preview.Err,
		},
	}
}

type BondRefJSON struct {
	Index   uint8            `json:"index"`
	Address solana.PublicKey `json:"address"`
}

type ReceiptJSON struct {
	Op          string             `json:"op"`
	Timestamp   int64              `json:"timestamp"`
	Accounts    []solana.PublicKey `json:"accounts"`
	Reward      uint64             `json:"reward"`
	Transferred uint64             `json:"transferred"`
	Closed      bool               `json:"closed"`
	NewBond     *BondRefJSON       `json:"new_bond,omitempty"`
}

func receiptJSON(r *bonds.Receipt) ReceiptJSON {
	out := ReceiptJSON{
		Op:          r.Op.String(),
		Timestamp:   r.Timestamp,
		Accounts:    r.Accounts,
		Reward:      r.Reward,
		Transferred: r.Transferred,
		Closed:      r.Closed,
	}
	if out.Accounts == nil {
		out.Accounts = []solana.PublicKey{}
	}
	if r.NewBond != nil {
		out.NewBond = &BondRefJSON{Index: r.NewBond.Index, Address: r.NewBond.Address}
	}
	return out
}

type AccountJSON struct {
	Address solana.PublicKey `json:"address"`
	Owner   solana.PublicKey `json:"owner"`
	Size    int              `json:"size"`
	Data    string           `json:"data"` // base58
}

type TokenAccountJSON struct {
	Address solana.PublicKey `json:"address"`
	Owner   solana.PublicKey `json:"owner"`
	Mint    solana.PublicKey `json:"mint"`
	Amount  uint64           `json:"amount"`
}

type FaucetRequest struct {
	// Owner receives into its associated token account. RewardsPool selects
	// the rewards pool instead.
	Owner       solana.PublicKey `json:"owner"`
	RewardsPool bool             `json:"rewards_pool"`
	Amount      uint64           `json:"amount"`
}

type ActivityJSON struct {
	ID        string `json:"id"`
	Time      string `json:"time"`
	Op        string `json:"op"`
	Signer    string `json:"signer"`
	BondIndex int16  `json:"bond_index"`
	Amount    uint64 `json:"amount"`
	Reward    uint64 `json:"reward"`
	Compound  bool   `json:"compound"`
	NewBond   int16  `json:"new_bond"`
	Outcome   string `json:"outcome"`
}

// ErrorResponse is the body of every non-2xx response except 429.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     *int   `json:"code,omitempty"`
	Message  string `json:"message"`
	TryLater bool   `json:"try_later,omitempty"`
}
