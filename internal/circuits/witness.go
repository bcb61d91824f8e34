package circuits

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"

	"shieldpool/internal/types"
)

var errInputCount = errors.New("public input count does not fit circuit")

// AssignPublic fills the public part of the circuit of kind from in. Byte
// values must be canonical field encodings. Unused nullifier and commitment
// slots are zero.
func AssignPublic(kind types.Kind, depth int, in types.PublicInputs) (frontend.Circuit, error) {
	switch kind {
	case types.KindMint:
		if len(in.Commitments) != 1 || len(in.Nullifiers) != 0 {
			return nil, errInputCount
		}
		cm, err := canonical(in.Commitments[0][:])
		if err != nil {
			return nil, err
		}
		return &MintCircuit{
			Asset:      new(big.Int).SetUint64(uint64(in.Asset)),
			Amount:     new(big.Int).SetUint64(in.Amount),
			Commitment: cm,
		}, nil

	case types.KindPrivateTransfer:
		c := NewTransferCircuit(depth)
		if err := assignSlots(c.Nullifiers[:], nullifierBytes(in.Nullifiers)); err != nil {
			return nil, err
		}
		if err := assignSlots(c.Commitments[:], commitmentBytes(in.Commitments)); err != nil {
			return nil, err
		}
		root, err := canonical(in.Root[:])
		if err != nil {
			return nil, err
		}
		c.Root = root
		return c, nil

	case types.KindReclaim:
		c := NewReclaimCircuit(depth)
		if len(in.Commitments) != 0 {
			return nil, errInputCount
		}
		if err := assignSlots(c.Nullifiers[:], nullifierBytes(in.Nullifiers)); err != nil {
			return nil, err
		}
		root, err := canonical(in.Root[:])
		if err != nil {
			return nil, err
		}
		c.Root = root
		c.Asset = new(big.Int).SetUint64(uint64(in.Asset))
		c.Amount = new(big.Int).SetUint64(in.Amount)
		return c, nil
	}
	return nil, fmt.Errorf("no circuit for %s", kind)
}

func assignSlots(slots []frontend.Variable, values [][]byte) error {
	if len(values) == 0 || len(values) > len(slots) {
		return errInputCount
	}
	for i := range slots {
		slots[i] = 0
	}
	for i, v := range values {
		e, err := canonical(v)
		if err != nil {
			return err
		}
		slots[i] = e
	}
	return nil
}

func canonical(b []byte) (*big.Int, error) {
	var e fr.Element
	if err := e.SetBytesCanonical(b); err != nil {
		return nil, err
	}
	return e.BigInt(new(big.Int)), nil
}

func nullifierBytes(nfs []types.Nullifier) [][]byte {
	out := make([][]byte, len(nfs))
	for i := range nfs {
		out[i] = nfs[i][:]
	}
	return out
}

func commitmentBytes(cms []types.Commitment) [][]byte {
	out := make([][]byte, len(cms))
	for i := range cms {
		out[i] = cms[i][:]
	}
	return out
}

func elemVar(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}
