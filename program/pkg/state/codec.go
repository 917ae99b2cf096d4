// Package state defines the bond protocol's persisted records and their
// fixed Borsh layout. Fields are encoded little-endian in declaration order
// with no discriminator and no padding, matching the deployed accounts byte
// for byte.
package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var ErrInvalidAccountData = errors.New("invalid account data")

// Record is implemented by every persisted record kind.
type Record interface {
	MarshalWithEncoder(enc *bin.Encoder) error
	UnmarshalWithDecoder(dec *bin.Decoder) error
}

// Marshal encodes r into its on-chain bytes.
func Marshal(r Record) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := r.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", r, err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into r. The whole buffer must be consumed.
func Unmarshal(data []byte, r Record) error {
	dec := bin.NewBorshDecoder(data)
	if err := r.UnmarshalWithDecoder(dec); err != nil {
		return fmt.Errorf("%w: %T: %v", ErrInvalidAccountData, r, err)
	}
	if dec.Remaining() != 0 {
		return fmt.Errorf("%w: %T: %d trailing bytes", ErrInvalidAccountData, r, dec.Remaining())
	}
	return nil
}

func (a *GlobalAdmin) MarshalWithEncoder(enc *bin.Encoder) error {
	for _, pk := range []solana.PublicKey{
		a.Authority,
		a.Treasury,
		a.TreasuryAccount,
		a.Team,
		a.TeamAccount,
		a.RewardsPoolAccount,
		a.NativeTokenMint,
	} {
		if err := writePublicKey(enc, pk); err != nil {
			return err
		}
	}
	if err := enc.WriteUint64(a.DailyEmissionRate, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint64(a.MaxEmissionPerBond, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint8(a.MaxBondsPerWallet); err != nil {
		return err
	}
	if err := enc.WriteUint16(a.ClaimPenaltyBasisPoints, binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBool(a.PauseBondOperations)
}

func (a *GlobalAdmin) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	for _, pk := range []*solana.PublicKey{
		&a.Authority,
		&a.Treasury,
		&a.TreasuryAccount,
		&a.Team,
		&a.TeamAccount,
		&a.RewardsPoolAccount,
		&a.NativeTokenMint,
	} {
		if *pk, err = readPublicKey(dec); err != nil {
			return err
		}
	}
	if a.DailyEmissionRate, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if a.MaxEmissionPerBond, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if a.MaxBondsPerWallet, err = dec.ReadUint8(); err != nil {
		return err
	}
	if a.ClaimPenaltyBasisPoints, err = dec.ReadUint16(binary.LittleEndian); err != nil {
		return err
	}
	a.PauseBondOperations, err = readBool(dec)
	return err
}

func (u *UserRegistry) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := writePublicKey(enc, u.Owner); err != nil {
		return err
	}
	if err := enc.WriteUint8(u.BondIndex); err != nil {
		return err
	}
	if err := enc.WriteUint8(u.BondCount); err != nil {
		return err
	}
	if err := enc.WriteUint64(u.TotalAccruedRewards, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint32(uint32(len(u.ActiveBonds)), binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBytes(u.ActiveBonds, false)
}

func (u *UserRegistry) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if u.Owner, err = readPublicKey(dec); err != nil {
		return err
	}
	if u.BondIndex, err = dec.ReadUint8(); err != nil {
		return err
	}
	if u.BondCount, err = dec.ReadUint8(); err != nil {
		return err
	}
	if u.TotalAccruedRewards, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	n, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return err
	}
	// An index is one byte, so more than 256 open bonds cannot be valid.
	if n > 256 || int(n) > dec.Remaining() {
		return fmt.Errorf("active bonds length %d exceeds remaining %d bytes", n, dec.Remaining())
	}
	raw, err := dec.ReadNBytes(int(n))
	if err != nil {
		return err
	}
	u.ActiveBonds = append([]uint8{}, raw...)
	return nil
}

func (b *Bond) MarshalWithEncoder(enc *bin.Encoder) error {
	if err := writePublicKey(enc, b.Owner); err != nil {
		return err
	}
	if err := enc.WriteUint8(b.BondIndex); err != nil {
		return err
	}
	if err := enc.WriteUint64(b.DepositAmount, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint64(b.InterestRate, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteInt64(b.CreationTimestamp, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteInt64(b.LastClaimTimestamp, binary.LittleEndian); err != nil {
		return err
	}
	if err := enc.WriteUint64(b.TotalClaimed, binary.LittleEndian); err != nil {
		return err
	}
	return enc.WriteBool(b.IsActive)
}

func (b *Bond) UnmarshalWithDecoder(dec *bin.Decoder) (err error) {
	if b.Owner, err = readPublicKey(dec); err != nil {
		return err
	}
	if b.BondIndex, err = dec.ReadUint8(); err != nil {
		return err
	}
	if b.DepositAmount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if b.InterestRate, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	if b.CreationTimestamp, err = dec.ReadInt64(binary.LittleEndian); err != nil {
		return err
	}
	if b.LastClaimTimestamp, err = dec.ReadInt64(binary.LittleEndian); err != nil {
		return err
	}
	if b.TotalClaimed, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	b.IsActive, err = readBool(dec)
	return err
}

func writePublicKey(enc *bin.Encoder, pk solana.PublicKey) error {
	return enc.WriteBytes(pk[:], false)
}

func readPublicKey(dec *bin.Decoder) (solana.PublicKey, error) {
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(raw), nil
}

// readBool rejects any byte other than 0 or 1, as Borsh does.
func readBool(dec *bin.Decoder) (bool, error) {
	b, err := dec.ReadUint8()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid bool byte %d", b)
	}
}
