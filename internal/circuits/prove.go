// prove.go - Witness construction and proving for each operation kind.
//
// These helpers build ready-to-submit operation records. They stand in for
// the wallet side of the protocol in tests and in the demo command.

package circuits

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"shieldpool/internal/accumulator"
	"shieldpool/internal/types"
)

// SpendInput is a note being spent together with its position and
// authentication path in the accumulator.
type SpendInput struct {
	Note *Note
	Path accumulator.Path
}

// MintAssignment returns the full witness of a mint of note.
func MintAssignment(note *Note) *MintCircuit {
	cm := note.Commitment()
	return &MintCircuit{
		Asset:      new(big.Int).SetUint64(uint64(note.Asset)),
		Amount:     new(big.Int).SetUint64(note.Amount),
		Commitment: new(big.Int).SetBytes(cm[:]),
		Owner:      elemVar(note.Owner()),
		Rho:        elemVar(note.Rho),
		R:          elemVar(note.R),
	}
}

// ProveMint builds a Mint moving note's value out of source.
func ProveMint(k *Keys, note *Note, source types.AccountID) (*types.Mint, error) {
	proof, err := prove(k, MintAssignment(note))
	if err != nil {
		return nil, err
	}
	return &types.Mint{
		Asset:      note.Asset,
		Amount:     note.Amount,
		Source:     source,
		Commitment: note.Commitment(),
		Proof:      proof,
	}, nil
}

// TransferAssignment returns the full witness of a transfer of inputs under
// root into outputs, with the nullifiers and commitments it publishes.
func TransferAssignment(depth int, root types.Root, inputs []SpendInput, outputs []*Note) (*TransferCircuit, []types.Nullifier, []types.Commitment, error) {
	if len(outputs) == 0 || len(outputs) > types.MaxOutputs {
		return nil, nil, nil, fmt.Errorf("transfer needs 1..%d outputs, got %d", types.MaxOutputs, len(outputs))
	}
	asset, err := commonAsset(inputs)
	if err != nil {
		return nil, nil, nil, err
	}

	c := NewTransferCircuit(depth)
	c.Root = new(big.Int).SetBytes(root[:])
	c.Asset = new(big.Int).SetUint64(uint64(asset))
	nfs, err := assignInputs(c.Inputs[:], c.Nullifiers[:], inputs, depth)
	if err != nil {
		return nil, nil, nil, err
	}

	cms := make([]types.Commitment, 0, len(outputs))
	for j := range c.Outputs {
		out := &c.Outputs[j]
		if j >= len(outputs) {
			out.Enabled, out.Asset, out.Amount, out.Owner, out.Rho, out.R = 0, 0, 0, 0, 0, 0
			c.Commitments[j] = 0
			continue
		}
		n := outputs[j]
		cm := n.Commitment()
		cms = append(cms, cm)
		out.Enabled = 1
		out.Asset = new(big.Int).SetUint64(uint64(n.Asset))
		out.Amount = new(big.Int).SetUint64(n.Amount)
		out.Owner = elemVar(n.Owner())
		out.Rho = elemVar(n.Rho)
		out.R = elemVar(n.R)
		c.Commitments[j] = new(big.Int).SetBytes(cm[:])
	}
	return c, nfs, cms, nil
}

// ProveTransfer builds a PrivateTransfer spending inputs under root into outputs.
func ProveTransfer(k *Keys, root types.Root, inputs []SpendInput, outputs []*Note) (*types.PrivateTransfer, error) {
	c, nfs, cms, err := TransferAssignment(k.Depth, root, inputs, outputs)
	if err != nil {
		return nil, err
	}
	proof, err := prove(k, c)
	if err != nil {
		return nil, err
	}
	return &types.PrivateTransfer{Root: root, Nullifiers: nfs, Commitments: cms, Proof: proof}, nil
}

// ReclaimAssignment returns the full witness releasing the whole value of
// inputs, with the published nullifiers.
func ReclaimAssignment(depth int, root types.Root, inputs []SpendInput) (*ReclaimCircuit, []types.Nullifier, error) {
	asset, err := commonAsset(inputs)
	if err != nil {
		return nil, nil, err
	}
	var amount uint64
	for _, in := range inputs {
		amount += in.Note.Amount
	}

	c := NewReclaimCircuit(depth)
	c.Root = new(big.Int).SetBytes(root[:])
	c.Asset = new(big.Int).SetUint64(uint64(asset))
	c.Amount = new(big.Int).SetUint64(amount)
	nfs, err := assignInputs(c.Inputs[:], c.Nullifiers[:], inputs, depth)
	if err != nil {
		return nil, nil, err
	}
	return c, nfs, nil
}

// ProveReclaim builds a Reclaim releasing the full value of inputs to destination.
func ProveReclaim(k *Keys, root types.Root, inputs []SpendInput, destination types.AccountID) (*types.Reclaim, error) {
	c, nfs, err := ReclaimAssignment(k.Depth, root, inputs)
	if err != nil {
		return nil, err
	}
	proof, err := prove(k, c)
	if err != nil {
		return nil, err
	}
	var amount uint64
	for _, in := range inputs {
		amount += in.Note.Amount
	}
	return &types.Reclaim{
		Root:        root,
		Nullifiers:  nfs,
		Asset:       inputs[0].Note.Asset,
		Amount:      amount,
		Destination: destination,
		Proof:       proof,
	}, nil
}

func commonAsset(inputs []SpendInput) (types.AssetID, error) {
	if len(inputs) == 0 || len(inputs) > types.MaxInputs {
		return 0, fmt.Errorf("need 1..%d inputs, got %d", types.MaxInputs, len(inputs))
	}
	asset := inputs[0].Note.Asset
	for _, in := range inputs[1:] {
		if in.Note.Asset != asset {
			return 0, errors.New("inputs hold different assets")
		}
	}
	return asset, nil
}

func assignInputs(slots []InputNote, nullifiers []frontend.Variable, inputs []SpendInput, depth int) ([]types.Nullifier, error) {
	nfs := make([]types.Nullifier, 0, len(inputs))
	for i := range slots {
		in := &slots[i]
		if i >= len(inputs) {
			in.Enabled, in.Asset, in.Amount, in.Sk, in.Rho, in.R, in.Index = 0, 0, 0, 0, 0, 0, 0
			for l := range in.Path {
				in.Path[l] = 0
			}
			nullifiers[i] = 0
			continue
		}
		s := inputs[i]
		if len(s.Path.Siblings) != depth {
			return nil, fmt.Errorf("input %d: path length %d, want %d", i, len(s.Path.Siblings), depth)
		}
		nf := s.Note.Nullifier(s.Path.Index)
		nfs = append(nfs, nf)
		in.Enabled = 1
		in.Asset = new(big.Int).SetUint64(uint64(s.Note.Asset))
		in.Amount = new(big.Int).SetUint64(s.Note.Amount)
		in.Sk = elemVar(s.Note.Sk)
		in.Rho = elemVar(s.Note.Rho)
		in.R = elemVar(s.Note.R)
		in.Index = new(big.Int).SetUint64(s.Path.Index)
		for l, sib := range s.Path.Siblings {
			var e fr.Element
			e.SetBytes(sib[:])
			in.Path[l] = elemVar(e)
		}
		nullifiers[i] = new(big.Int).SetBytes(nf[:])
	}
	return nfs, nil
}

func prove(k *Keys, assignment frontend.Circuit) (types.Proof, error) {
	w, err := frontend.NewWitness(assignment, Curve.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build %s witness: %w", k.Kind, err)
	}
	proof, err := groth16.Prove(k.CCS, k.PK, w)
	if err != nil {
		return nil, fmt.Errorf("prove %s: %w", k.Kind, err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
