package bonds

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/malbeclabs/bonds/program/pkg/state"
)

// Opcode is the first byte of an encoded instruction.
type Opcode uint8

const (
	OpInitializeAdmin Opcode = iota
	OpCreateUser
	OpInitializeBond
	OpProcessClaim
	OpUpdateAdmin
)

func (o Opcode) String() string {
	switch o {
	case OpInitializeAdmin:
		return "initialize_admin"
	case OpCreateUser:
		return "create_user"
	case OpInitializeBond:
		return "initialize_bond"
	case OpProcessClaim:
		return "process_claim"
	case OpUpdateAdmin:
		return "update_admin"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(o))
	}
}

// ParseOpcode is the inverse of Opcode.String.
func ParseOpcode(s string) (Opcode, bool) {
	for op := OpInitializeAdmin; op <= OpUpdateAdmin; op++ {
		if op.String() == s {
			return op, true
		}
	}
	return 0, false
}

// Instruction is one of InitializeAdmin, UpdateAdmin, CreateUser,
// InitializeBond or ProcessClaim.
type Instruction interface {
	Opcode() Opcode
	MarshalWithEncoder(enc *bin.Encoder) error
	UnmarshalWithDecoder(dec *bin.Decoder) error
	isInstruction()
}

// AdminConfig is the tunable part of GlobalAdmin set at initialization.
type AdminConfig struct {
	DailyEmissionRate       uint64
	MaxEmissionPerBond      uint64
	MaxBondsPerWallet       uint8
	ClaimPenaltyBasisPoints uint16
}

type InitializeAdmin struct {
	Authority solana.PublicKey
	Treasury  solana.PublicKey
	Team      solana.PublicKey
	Mint      solana.PublicKey
	Config    AdminConfig
}

// UpdateAdmin replaces the whole GlobalAdmin record.
type UpdateAdmin struct {
	Signer solana.PublicKey
	Admin  state.GlobalAdmin
}

type CreateUser struct {
	Wallet solana.PublicKey
}

// InitializeBond opens a bond funded from FundingAccount. A zero
// FundingAccount selects the wallet's associated token account.
type InitializeBond struct {
	Wallet          solana.PublicKey
	DepositAmount   uint64
	FundingAccount  solana.PublicKey
	RewardsPool     solana.PublicKey
	TreasuryAccount solana.PublicKey
	TeamAccount     solana.PublicKey
}

type ProcessClaim struct {
	Wallet       solana.PublicKey
	BondIndex    uint8
	AutoCompound bool
}

func (*InitializeAdmin) Opcode() Opcode { return OpInitializeAdmin }
func (*UpdateAdmin) Opcode() Opcode     { return OpUpdateAdmin }
func (*CreateUser) Opcode() Opcode      { return OpCreateUser }
func (*InitializeBond) Opcode() Opcode  { return OpInitializeBond }
func (*ProcessClaim) Opcode() Opcode    { return OpProcessClaim }

func (*InitializeAdmin) isInstruction() {}
func (*UpdateAdmin) isInstruction()     {}
func (*CreateUser) isInstruction()      {}
func (*InitializeBond) isInstruction()  {}
func (*ProcessClaim) isInstruction()    {}

// EncodeInstruction returns the opcode byte followed by the Borsh payload.
func EncodeInstruction(ix Instruction) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint8(uint8(ix.Opcode())); err != nil {
		return nil, err
	}
	if err := ix.MarshalWithEncoder(enc); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ix.Opcode(), err)
	}
	return buf.Bytes(), nil
}

// DecodeInstruction parses wire bytes. Unknown opcodes, short payloads and
// trailing bytes are rejected with ErrInvalidInstruction.
func DecodeInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, reject(ErrInvalidInstruction, "empty instruction data")
	}
	var ix Instruction
	switch Opcode(data[0]) {
	case OpInitializeAdmin:
		ix = &InitializeAdmin{}
	case OpCreateUser:
		ix = &CreateUser{}
	case OpInitializeBond:
		ix = &InitializeBond{}
	case OpProcessClaim:
		ix = &ProcessClaim{}
	case OpUpdateAdmin:
		ix = &UpdateAdmin{}
	default:
		return nil, reject(ErrInvalidInstruction, "unknown opcode %d", data[0])
	}
	dec := bin.NewBorshDecoder(data[1:])
	if err := ix.UnmarshalWithDecoder(dec); err != nil {
		return nil, reject(ErrInvalidInstruction, "%s: %v", ix.Opcode(), err)
	}
	if dec.Remaining() != 0 {
		return nil, reject(ErrInvalidInstruction, "%s: %d trailing bytes", ix.Opcode(), dec.Remaining())
	}
	return ix, nil
}

func (ix *InitializeAdmin) MarshalWithEncoder(enc *bin.Encoder) error {
	for _, pk := range []solana.PublicKey{ix.Authority, ix.Treasury, ix.Team, ix.Mint} {
		if err := enc.WriteBytes(pk[:], false); err != nil {
			return err
		}
	}
	if err := enc.WriteUint64(ix.Config.DailyEmissionRate, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint64(ix.Config.MaxEmissionPerBond, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint8(ix.Config.MaxBondsPerWallet); err != nil {
		return err
	}
	return enc.WriteUint16(ix.Config.ClaimPenaltyBasisPoints, binary.LittleEndian)
}

func (ix *InitializeAdmin) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	for _, pk := range []*solana.PublicKey{&ix.Authority, &ix.Treasury, &ix.Team, &ix.Mint} {
		if *pk, err = readKey(dec); err != nil {
			return err
		}
	}
	if ix.Config.DailyEmissionRate, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if ix.Config.MaxEmissionPerBond, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if ix.Config.MaxBondsPerWallet, err = dec.ReadUint8(); err != nil {
		return err
	}
	ix.Config.ClaimPenaltyBasisPoints, err = dec.ReadUint16(binary.LittleEndian)
	return err
}

func (ix *UpdateAdmin) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(ix.Signer[:], false); err != nil {
		return err
	}
	return ix.Admin.MarshalWithEncoder(enc)
}

func (ix *UpdateAdmin) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if ix.Signer, err = readKey(dec); err != nil {
		return err
	}
	return ix.Admin.UnmarshalWithDecoder(dec)
}

func (ix *CreateUser) MarshalWithEncoder(enc *bin.Encoder) error {
	return enc.WriteBytes(ix.Wallet[:], false)
}

func (ix *CreateUser) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	ix.Wallet, err = readKey(dec)
	return err
}

func (ix *InitializeBond) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(ix.Wallet[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint64(ix.DepositAmount, binary.LittleEndian); err != nil {
		return err
	}
	for _, pk := range []solana.PublicKey{ix.FundingAccount, ix.RewardsPool, ix.TreasuryAccount, ix.TeamAccount} {
		if err := enc.WriteBytes(pk[:], false); err != nil {
			return err
		}
	}
	return nil
}

func (ix *InitializeBond) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if ix.Wallet, err = readKey(dec); err != nil {
		return err
	}
	if ix.DepositAmount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	for _, pk := range []*solana.PublicKey{&ix.FundingAccount, &ix.RewardsPool, &ix.TreasuryAccount, &ix.TeamAccount} {
		if *pk, err = readKey(dec); err != nil {
			return err
		}
	}
	return nil
}

func (ix *ProcessClaim) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := enc.WriteBytes(ix.Wallet[:], false); err != nil {
		return err
	}
	if err := enc.WriteUint8(ix.BondIndex); err != nil {
		return err
	}
	return enc.WriteBool(ix.AutoCompound)
}

func (ix *ProcessClaim) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if ix.Wallet, err = readKey(dec); err != nil {
		return err
	}
	if ix.BondIndex, err = dec.ReadUint8(); err != nil {
		return err
	}
	b, err := dec.ReadUint8()
	if err != nil {
		return err
	}
	if b > 1 {
		return fmt.Errorf("invalid bool byte %d", b)
	}
	ix.AutoCompound = b == 1
	return nil
}

func readKey(dec *bin.Decoder) (solana.PublicKey, error) {
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(raw), nil
}
