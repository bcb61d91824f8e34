package circuits

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/rangecheck"
)

// AmountBits bounds every amount handled in-circuit.
const AmountBits = 64

// InputNote is the private witness of one spent note.
type InputNote struct {
	Enabled frontend.Variable
	Asset   frontend.Variable
	Amount  frontend.Variable
	Sk      frontend.Variable
	Rho     frontend.Variable
	R       frontend.Variable
	Index   frontend.Variable
	Path    []frontend.Variable
}

// OutputNote is the private witness of one created note.
type OutputNote struct {
	Enabled frontend.Variable
	Asset   frontend.Variable
	Amount  frontend.Variable
	Owner   frontend.Variable
	Rho     frontend.Variable
	R       frontend.Variable
}

func newInputs(depth int) [2]InputNote {
	var in [2]InputNote
	for i := range in {
		in[i].Path = make([]frontend.Variable, depth)
	}
	return in
}

// hash is a fresh MiMC over vars, matching hashElements.
func hash(api frontend.API, vars ...frontend.Variable) frontend.Variable {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		panic(err)
	}
	h.Write(vars...)
	return h.Sum()
}

func commitment(api frontend.API, asset, amount, owner, rho, r frontend.Variable) frontend.Variable {
	return hash(api, asset, amount, owner, rho, r)
}

// merkleRoot folds leaf up the authentication path selected by the bits of index.
func merkleRoot(api frontend.API, leaf, index frontend.Variable, path []frontend.Variable) frontend.Variable {
	bits := api.ToBinary(index, len(path))
	node := leaf
	for l, sibling := range path {
		left := api.Select(bits[l], sibling, node)
		right := api.Select(bits[l], node, sibling)
		node = hash(api, left, right)
	}
	return node
}

// spend constrains one input slot and returns its amount contribution.
// A disabled slot must carry a zero amount and a zero public nullifier; its
// membership is not checked.
func spend(api frontend.API, ranger frontend.Rangechecker, in *InputNote, root, nullifier, asset frontend.Variable) frontend.Variable {
	api.AssertIsBoolean(in.Enabled)
	ranger.Check(in.Amount, AmountBits)
	disabled := api.Sub(1, in.Enabled)
	api.AssertIsEqual(api.Mul(disabled, in.Amount), 0)

	owner := hash(api, in.Sk)
	cm := commitment(api, in.Asset, in.Amount, owner, in.Rho, in.R)
	computed := merkleRoot(api, cm, in.Index, in.Path)
	api.AssertIsEqual(api.Mul(in.Enabled, api.Sub(computed, root)), 0)
	api.AssertIsEqual(api.Mul(in.Enabled, api.Sub(in.Asset, asset)), 0)

	nf := hash(api, in.Sk, in.Rho, in.Index)
	api.AssertIsEqual(nullifier, api.Select(in.Enabled, nf, 0))
	return in.Amount
}

// create constrains one output slot the same way.
func create(api frontend.API, ranger frontend.Rangechecker, out *OutputNote, cm, asset frontend.Variable) frontend.Variable {
	api.AssertIsBoolean(out.Enabled)
	ranger.Check(out.Amount, AmountBits)
	api.AssertIsEqual(api.Mul(api.Sub(1, out.Enabled), out.Amount), 0)
	api.AssertIsEqual(api.Mul(out.Enabled, api.Sub(out.Asset, asset)), 0)

	computed := commitment(api, out.Asset, out.Amount, out.Owner, out.Rho, out.R)
	api.AssertIsEqual(cm, api.Select(out.Enabled, computed, 0))
	return out.Amount
}

func newRanger(api frontend.API) frontend.Rangechecker {
	return rangecheck.New(api)
}
