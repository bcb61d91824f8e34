package ledger

import (
	"context"
	"errors"
	"fmt"

	"shieldpool/internal/accumulator"
	"shieldpool/internal/nullifier"
	"shieldpool/internal/verifier"
)

// Operation rejections. Every error returned by Submit matches exactly one of
// these under errors.Is, and none of them leaves a trace in ledger state.
var (
	ErrMalformedOperation    = errors.New("malformed operation")
	ErrStaleOrUnknownRoot    = errors.New("stale or unknown root")
	ErrNullifierAlreadySpent = nullifier.ErrDuplicateNullifier
	ErrDuplicateCommitment   = accumulator.ErrDuplicateCommitment
	ErrAccumulatorFull       = accumulator.ErrAccumulatorFull
	ErrProofInvalid          = verifier.ErrProofInvalid

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPoolOverdrawn       = errors.New("pool overdrawn")
	ErrAssetAlreadyIssued  = errors.New("asset already issued")
	ErrUnknownAsset        = errors.New("unknown asset")

	// ErrAmountZero is a MalformedOperation.
	ErrAmountZero = fmt.Errorf("%w: amount is zero", ErrMalformedOperation)
)

// ErrorKind is a stable name for a rejection class, used in logs and metrics.
type ErrorKind string

const (
	KindNone                  ErrorKind = ""
	KindMalformedOperation    ErrorKind = "malformed_operation"
	KindStaleOrUnknownRoot    ErrorKind = "stale_or_unknown_root"
	KindNullifierAlreadySpent ErrorKind = "nullifier_already_spent"
	KindDuplicateCommitment   ErrorKind = "duplicate_commitment"
	KindAccumulatorFull       ErrorKind = "accumulator_full"
	KindProofInvalid          ErrorKind = "proof_invalid"
	KindInsufficientBalance   ErrorKind = "insufficient_balance"
	KindPoolOverdrawn         ErrorKind = "pool_overdrawn"
	KindAssetAlreadyIssued    ErrorKind = "asset_already_issued"
	KindUnknownAsset          ErrorKind = "unknown_asset"
	KindCanceled              ErrorKind = "canceled"
	KindInternal              ErrorKind = "internal"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrMalformedOperation, KindMalformedOperation},
	{ErrStaleOrUnknownRoot, KindStaleOrUnknownRoot},
	{ErrNullifierAlreadySpent, KindNullifierAlreadySpent},
	{ErrDuplicateCommitment, KindDuplicateCommitment},
	{ErrAccumulatorFull, KindAccumulatorFull},
	{ErrProofInvalid, KindProofInvalid},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrPoolOverdrawn, KindPoolOverdrawn},
	{ErrAssetAlreadyIssued, KindAssetAlreadyIssued},
	{ErrUnknownAsset, KindUnknownAsset},
}

// Classify maps err to its ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	for _, e := range errorKinds {
		if errors.Is(err, e.err) {
			return e.kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// Permanent reports whether resubmitting the same operation can never succeed.
// Stale roots and balance shortfalls may clear once the caller or the ledger
// moves on.
func Permanent(err error) bool {
	switch Classify(err) {
	case KindStaleOrUnknownRoot, KindInsufficientBalance, KindPoolOverdrawn, KindCanceled, KindInternal:
		return false
	}
	return err != nil
}
