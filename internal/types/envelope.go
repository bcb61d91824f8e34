package types

import "errors"

// Envelope is the serialisable form of an Operation. Exactly one of the
// variant fields is set.
type Envelope struct {
	Mint            *Mint            `json:"mint,omitempty" cbor:"1,keyasint,omitempty"`
	PrivateTransfer *PrivateTransfer `json:"private_transfer,omitempty" cbor:"2,keyasint,omitempty"`
	Reclaim         *Reclaim         `json:"reclaim,omitempty" cbor:"3,keyasint,omitempty"`
}

var errEnvelope = errors.New("envelope must hold exactly one operation")

// Wrap puts op into an Envelope.
func Wrap(op Operation) Envelope {
	switch o := op.(type) {
	case *Mint:
		return Envelope{Mint: o}
	case *PrivateTransfer:
		return Envelope{PrivateTransfer: o}
	case *Reclaim:
		return Envelope{Reclaim: o}
	}
	return Envelope{}
}

// Operation returns the single operation held by e.
func (e Envelope) Operation() (Operation, error) {
	var (
		op Operation
		n  int
	)
	if e.Mint != nil {
		op, n = e.Mint, n+1
	}
	if e.PrivateTransfer != nil {
		op, n = e.PrivateTransfer, n+1
	}
	if e.Reclaim != nil {
		op, n = e.Reclaim, n+1
	}
	if n != 1 {
		return nil, errEnvelope
	}
	return op, nil
}
