package bonds

import (
	"github.com/malbeclabs/bonds/program/pkg/state"
)

func (x *execution) createUser(ix *CreateUser) error {
	if err := x.requireSigner("wallet", ix.Wallet); err != nil {
		return err
	}

	addr := x.p.pda.UserRegistry(ix.Wallet)
	exists, err := x.occupied(addr.Address)
	if err != nil {
		return err
	}
	if exists {
		return reject(ErrAlreadyExists, "user registry %s", addr.Address)
	}

	reg := &state.UserRegistry{
		Owner:       ix.Wallet,
		ActiveBonds: []uint8{},
	}
	if err := x.store(addr.Address, reg); err != nil {
		return err
	}

	x.p.log.Debug("bonds: user created", "wallet", ix.Wallet, "registry", addr.Address)
	return nil
}
