// types.go - Opaque ledger values shared by every shielded pool component.
//
// Commitments, nullifiers and roots are fixed-size byte strings. Nothing outside the
// verifier and the accumulator hashing interprets their contents.

package types

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// HashSize is the byte length of every opaque ledger value.
const HashSize = 32

// Commitment is a hiding, binding digest of a note.
type Commitment [HashSize]byte

// Nullifier marks a spent note. The zero value is reserved for unused input slots.
type Nullifier [HashSize]byte

// Root is a digest of the full commitment set at one point in time.
type Root [HashSize]byte

// AssetID identifies a fungible asset.
type AssetID uint64

// AccountID identifies a public account in the host ledger.
type AccountID string

// BalanceKey addresses one public balance entry.
type BalanceKey struct {
	Asset   AssetID
	Account AccountID
}

func (k BalanceKey) String() string {
	return strconv.FormatUint(uint64(k.Asset), 10) + "/" + string(k.Account)
}

// IsZero reports whether the commitment is all zero bytes.
func (c Commitment) IsZero() bool { return c == Commitment{} }

// IsZero reports whether the nullifier is the reserved unused-slot marker.
func (n Nullifier) IsZero() bool { return n == Nullifier{} }

func (c Commitment) String() string { return hex.EncodeToString(c[:]) }
func (n Nullifier) String() string  { return hex.EncodeToString(n[:]) }
func (r Root) String() string       { return hex.EncodeToString(r[:]) }

func (c Commitment) MarshalText() ([]byte, error) { return marshalHex(c[:]) }
func (n Nullifier) MarshalText() ([]byte, error)  { return marshalHex(n[:]) }
func (r Root) MarshalText() ([]byte, error)       { return marshalHex(r[:]) }

func (c *Commitment) UnmarshalText(b []byte) error { return unmarshalHex(c[:], b) }
func (n *Nullifier) UnmarshalText(b []byte) error  { return unmarshalHex(n[:], b) }
func (r *Root) UnmarshalText(b []byte) error       { return unmarshalHex(r[:], b) }

func marshalHex(b []byte) ([]byte, error) {
	out := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(out, b)
	return out, nil
}

func unmarshalHex(dst []byte, src []byte) error {
	if hex.DecodedLen(len(src)) != len(dst) {
		return fmt.Errorf("invalid hex length %d, want %d", len(src), hex.EncodedLen(len(dst)))
	}
	_, err := hex.Decode(dst, src)
	return err
}

// ParseCommitment decodes a hex encoded commitment.
func ParseCommitment(s string) (Commitment, error) {
	var c Commitment
	err := c.UnmarshalText([]byte(s))
	return c, err
}

// ParseNullifier decodes a hex encoded nullifier.
func ParseNullifier(s string) (Nullifier, error) {
	var n Nullifier
	err := n.UnmarshalText([]byte(s))
	return n, err
}

// ParseRoot decodes a hex encoded root.
func ParseRoot(s string) (Root, error) {
	var r Root
	err := r.UnmarshalText([]byte(s))
	return r, err
}
