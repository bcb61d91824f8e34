package ledger

import "shieldpool/internal/types"

// StateDelta describes everything one accepted state change did to the
// ledger. Hosts persist deltas; package store writes them to leveldb.
type StateDelta struct {
	Seq  uint64
	Kind types.Kind // zero for public balance operations

	Nullifiers  []types.Nullifier
	Commitments []types.Commitment
	Positions   []uint64
	// Ciphertexts is aligned with Commitments when present.
	Ciphertexts [][]byte

	Balances []BalanceChange
	Pool     []AmountChange
	Supply   []AmountChange

	// Root is the accumulator root after the change. Sealed reports whether it
	// entered the root history.
	Root   types.Root
	Sealed bool
}

// BalanceChange records one public balance before and after a change.
type BalanceChange struct {
	Key types.BalanceKey
	Old uint64
	New uint64
}

// AmountChange records a per-asset amount before and after a change.
type AmountChange struct {
	Asset types.AssetID
	Old   uint64
	New   uint64
}

// Result is the outcome of one operation in a block.
type Result struct {
	Delta StateDelta
	Err   error
}

// BlockResult is the outcome of SubmitBlock. Root was sealed once for the
// whole block if Sealed is set.
type BlockResult struct {
	Results []Result
	Root    types.Root
	Sealed  bool
}

// Accepted returns the deltas of the accepted operations in order.
func (b BlockResult) Accepted() []StateDelta {
	var out []StateDelta
	for _, r := range b.Results {
		if r.Err == nil {
			out = append(out, r.Delta)
		}
	}
	return out
}
