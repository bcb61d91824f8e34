// Package circuits holds the Groth16 relations behind each shielded pool
// operation and the native note primitives that mirror them.
//
// Overview:
//   - A note is (asset, amount, owner, rho, r) with owner = MiMC(sk)
//   - Its commitment is MiMC(asset, amount, owner, rho, r)
//   - Its nullifier is MiMC(sk, rho, position), bound to the leaf it was appended at
//   - Membership is checked in-circuit against the MiMC tree of package accumulator
//
// Circuits:
//   - MintCircuit: public (asset, amount, commitment)
//   - TransferCircuit: public (root, nullifiers[2], commitments[2]), value conserved
//   - ReclaimCircuit: public (root, nullifiers[2], asset, amount), inputs sum to amount
//
// Unused input or output slots carry a zero nullifier or commitment and a zero
// amount. All hashing is MiMC over the BN254 scalar field.
//
// The ledger never imports the provers in this package. They exist for key
// setup, fixtures and tests.
package circuits
