package circuits

import "github.com/consensys/gnark/frontend"

// MintCircuit proves that Commitment opens to a note of Amount units of Asset.
type MintCircuit struct {
	// Public
	Asset      frontend.Variable `gnark:",public"`
	Amount     frontend.Variable `gnark:",public"`
	Commitment frontend.Variable `gnark:",public"`

	// Private
	Owner frontend.Variable
	Rho   frontend.Variable
	R     frontend.Variable
}

func (c *MintCircuit) Define(api frontend.API) error {
	newRanger(api).Check(c.Amount, AmountBits)
	api.AssertIsEqual(c.Commitment, commitment(api, c.Asset, c.Amount, c.Owner, c.Rho, c.R))
	return nil
}
