package circuits

import "github.com/consensys/gnark/frontend"

// ReclaimCircuit proves that the spent inputs hold exactly Amount units of
// Asset, releasing them to a public balance.
type ReclaimCircuit struct {
	// Public
	Root       frontend.Variable    `gnark:",public"`
	Nullifiers [2]frontend.Variable `gnark:",public"`
	Asset      frontend.Variable    `gnark:",public"`
	Amount     frontend.Variable    `gnark:",public"`

	// Private
	Inputs [2]InputNote
}

// NewReclaimCircuit allocates a circuit for a tree of the given depth.
func NewReclaimCircuit(depth int) *ReclaimCircuit {
	return &ReclaimCircuit{Inputs: newInputs(depth)}
}

func (c *ReclaimCircuit) Define(api frontend.API) error {
	ranger := newRanger(api)
	ranger.Check(c.Amount, AmountBits)

	var in frontend.Variable = 0
	for i := range c.Inputs {
		in = api.Add(in, spend(api, ranger, &c.Inputs[i], c.Root, c.Nullifiers[i], c.Asset))
	}
	api.AssertIsEqual(in, c.Amount)
	api.AssertIsEqual(c.Inputs[0].Enabled, 1)
	return nil
}
