// note.go - Native notes, commitments and nullifiers.

package circuits

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"

	"shieldpool/internal/types"
)

// Note is a private record of value. Only its commitment is ever published.
type Note struct {
	Asset  types.AssetID
	Amount uint64
	Sk     fr.Element // spending key
	Rho    fr.Element // uniqueness seed
	R      fr.Element // commitment randomness
}

// NewNote creates a note with fresh random secrets.
func NewNote(asset types.AssetID, amount uint64) (*Note, error) {
	n := &Note{Asset: asset, Amount: amount}
	for _, e := range []*fr.Element{&n.Sk, &n.Rho, &n.R} {
		if _, err := e.SetRandom(); err != nil {
			return nil, fmt.Errorf("note randomness: %w", err)
		}
	}
	return n, nil
}

// Owner returns the public owner key MiMC(sk).
func (n *Note) Owner() fr.Element {
	return hashElements(n.Sk)
}

// Commitment returns MiMC(asset, amount, owner, rho, r).
func (n *Note) Commitment() types.Commitment {
	return NoteCommitment(n.Asset, n.Amount, n.Owner(), n.Rho, n.R)
}

// Nullifier returns the spend marker of the note once appended at position.
func (n *Note) Nullifier(position uint64) types.Nullifier {
	return DeriveNullifier(n.Sk, n.Rho, position)
}

// NoteCommitment computes a commitment from the note's public owner key, so a
// sender can commit to a note for a receiver without the receiver's sk.
func NoteCommitment(asset types.AssetID, amount uint64, owner, rho, r fr.Element) types.Commitment {
	var a, v fr.Element
	a.SetUint64(uint64(asset))
	v.SetUint64(amount)
	h := hashElements(a, v, owner, rho, r)
	return types.Commitment(h.Bytes())
}

// DeriveNullifier computes MiMC(sk, rho, position).
func DeriveNullifier(sk, rho fr.Element, position uint64) types.Nullifier {
	var p fr.Element
	p.SetUint64(position)
	h := hashElements(sk, rho, p)
	return types.Nullifier(h.Bytes())
}

func hashElements(elems ...fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for i := range elems {
		b := elems[i].Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}
