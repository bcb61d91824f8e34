package circuits

import "github.com/consensys/gnark/frontend"

// TransferCircuit proves a 2-in/2-out private transfer: every enabled input
// is a member of the tree under Root, the nullifiers belong to those inputs,
// all notes share one asset and the amounts balance.
type TransferCircuit struct {
	// Public
	Root        frontend.Variable    `gnark:",public"`
	Nullifiers  [2]frontend.Variable `gnark:",public"`
	Commitments [2]frontend.Variable `gnark:",public"`

	// Private
	Asset   frontend.Variable
	Inputs  [2]InputNote
	Outputs [2]OutputNote
}

// NewTransferCircuit allocates a circuit for a tree of the given depth.
func NewTransferCircuit(depth int) *TransferCircuit {
	return &TransferCircuit{Inputs: newInputs(depth)}
}

func (c *TransferCircuit) Define(api frontend.API) error {
	ranger := newRanger(api)

	var in, out frontend.Variable = 0, 0
	for i := range c.Inputs {
		in = api.Add(in, spend(api, ranger, &c.Inputs[i], c.Root, c.Nullifiers[i], c.Asset))
	}
	for j := range c.Outputs {
		out = api.Add(out, create(api, ranger, &c.Outputs[j], c.Commitments[j], c.Asset))
	}
	api.AssertIsEqual(in, out)

	// The first slots always carry a real spend and a real note.
	api.AssertIsEqual(c.Inputs[0].Enabled, 1)
	api.AssertIsEqual(c.Outputs[0].Enabled, 1)
	return nil
}
