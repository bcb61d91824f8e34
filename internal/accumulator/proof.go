package accumulator

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"shieldpool/internal/types"
)

// Path is a membership proof for one leaf: the sibling hashes from the leaf
// level up to just below the root.
type Path struct {
	Index    uint64
	Siblings []types.Root
}

// MembershipProof returns the authentication path of the leaf at position
// against the current root. Provers use it; the ledger never checks paths.
func (a *Accumulator) MembershipProof(position uint64) (Path, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if position >= uint64(len(a.leaves)) {
		return Path{}, ErrPositionOutOfRange
	}
	p := Path{Index: position, Siblings: make([]types.Root, a.depth)}
	idx := position
	for l := 0; l < a.depth; l++ {
		p.Siblings[l] = elementToRoot(a.nodeAt(l, idx^1))
		idx >>= 1
	}
	return p, nil
}

// VerifyMembership recomputes the root from leaf and p and compares it with root.
func VerifyMembership(root types.Root, leaf types.Commitment, p Path) bool {
	node := LeafElement(leaf)
	idx := p.Index
	for _, s := range p.Siblings {
		var sib fr.Element
		sib.SetBytes(s[:])
		if idx&1 == 0 {
			node = HashPair(node, sib)
		} else {
			node = HashPair(sib, node)
		}
		idx >>= 1
	}
	return idx == 0 && elementToRoot(node) == root
}
