package accumulator

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"shieldpool/internal/types"
)

// LeafElement maps a commitment into the scalar field. Commitments produced by
// the circuits are already canonical, so the reduction is the identity for
// every commitment that can pass verification.
func LeafElement(cm types.Commitment) fr.Element {
	var e fr.Element
	e.SetBytes(cm[:])
	return e
}

// HashPair is the interior node hash MiMC(left, right).
func HashPair(left, right fr.Element) fr.Element {
	h := mimc.NewMiMC()
	lb, rb := left.Bytes(), right.Bytes()
	h.Write(lb[:])
	h.Write(rb[:])
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// ZeroHashes returns the roots of empty subtrees of height 0 through depth.
func ZeroHashes(depth int) []fr.Element {
	zeros := make([]fr.Element, depth+1)
	for i := 1; i <= depth; i++ {
		zeros[i] = HashPair(zeros[i-1], zeros[i-1])
	}
	return zeros
}
