// operation.go - Operation records submitted to the shielded pool.
//
// Operation is a closed set: Mint, PrivateTransfer and Reclaim are the only
// implementations. Consumers switch on the concrete type.

package types

import "fmt"

// Kind names an operation kind. Each kind has its own verifying key.
type Kind uint8

const (
	KindMint Kind = iota + 1
	KindPrivateTransfer
	KindReclaim
)

// Kinds lists every operation kind in a stable order.
var Kinds = []Kind{KindMint, KindPrivateTransfer, KindReclaim}

func (k Kind) String() string {
	switch k {
	case KindMint:
		return "mint"
	case KindPrivateTransfer:
		return "private_transfer"
	case KindReclaim:
		return "reclaim"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

const (
	// MaxInputs is the number of input note slots of transfer and reclaim proofs.
	MaxInputs = 2
	// MaxOutputs is the number of output note slots of a transfer proof.
	MaxOutputs = 2
	// MaxProofSize bounds the encoded proof length accepted by the structural check.
	MaxProofSize = 1024
	// MaxCiphertextSize bounds one receiver ciphertext.
	MaxCiphertextSize = 512
	// MaxAmount keeps the sum of two amounts inside uint64.
	MaxAmount = uint64(1)<<63 - 1
)

// Proof is an encoded zero-knowledge proof.
type Proof []byte

// Operation is one of Mint, PrivateTransfer or Reclaim.
type Operation interface {
	Kind() Kind
	isOperation()
}

// Mint moves Amount of Asset from the Source public balance into a new note.
//
// The proof binds Asset, Amount and Commitment but not Source. Whoever submits
// a Mint picks the account that is debited, so the host must authenticate
// Source as the submitter before handing the operation to the ledger.
type Mint struct {
	Asset      AssetID    `json:"asset" cbor:"1,keyasint"`
	Amount     uint64     `json:"amount" cbor:"2,keyasint"`
	Source     AccountID  `json:"source" cbor:"3,keyasint"`
	Commitment Commitment `json:"commitment" cbor:"4,keyasint"`
	Proof      Proof      `json:"proof" cbor:"5,keyasint"`
}

// PrivateTransfer spends notes and creates new ones without revealing amounts.
type PrivateTransfer struct {
	Root        Root         `json:"root" cbor:"1,keyasint"`
	Nullifiers  []Nullifier  `json:"nullifiers" cbor:"2,keyasint"`
	Commitments []Commitment `json:"commitments" cbor:"3,keyasint"`
	// Ciphertexts carries one encrypted note per output for the receivers. Optional.
	Ciphertexts [][]byte `json:"ciphertexts,omitempty" cbor:"4,keyasint,omitempty"`
	Proof       Proof    `json:"proof" cbor:"5,keyasint"`
}

// Reclaim spends notes and credits Amount of Asset to the Destination public balance.
type Reclaim struct {
	Root        Root        `json:"root" cbor:"1,keyasint"`
	Nullifiers  []Nullifier `json:"nullifiers" cbor:"2,keyasint"`
	Asset       AssetID     `json:"asset" cbor:"3,keyasint"`
	Amount      uint64      `json:"amount" cbor:"4,keyasint"`
	Destination AccountID   `json:"destination" cbor:"5,keyasint"`
	Proof       Proof       `json:"proof" cbor:"6,keyasint"`
}

func (*Mint) Kind() Kind            { return KindMint }
func (*PrivateTransfer) Kind() Kind { return KindPrivateTransfer }
func (*Reclaim) Kind() Kind         { return KindReclaim }

func (*Mint) isOperation()            {}
func (*PrivateTransfer) isOperation() {}
func (*Reclaim) isOperation()         {}

// PublicInputs is the verifier's view of an operation. Fields not used by a
// kind are left empty.
type PublicInputs struct {
	Root        Root
	Nullifiers  []Nullifier
	Commitments []Commitment
	Asset       AssetID
	Amount      uint64
}

// PublicInputsOf assembles the kind-specific public inputs of op.
func PublicInputsOf(op Operation) PublicInputs {
	switch o := op.(type) {
	case *Mint:
		return PublicInputs{Asset: o.Asset, Amount: o.Amount, Commitments: []Commitment{o.Commitment}}
	case *PrivateTransfer:
		return PublicInputs{Root: o.Root, Nullifiers: o.Nullifiers, Commitments: o.Commitments}
	case *Reclaim:
		return PublicInputs{Root: o.Root, Nullifiers: o.Nullifiers, Asset: o.Asset, Amount: o.Amount}
	default:
		return PublicInputs{}
	}
}

// ProofOf returns the proof attached to op.
func ProofOf(op Operation) Proof {
	switch o := op.(type) {
	case *Mint:
		return o.Proof
	case *PrivateTransfer:
		return o.Proof
	case *Reclaim:
		return o.Proof
	default:
		return nil
	}
}
