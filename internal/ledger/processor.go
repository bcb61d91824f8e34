// processor.go - Operation processing for the shielded pool.
//
// Each operation passes five stages in order:
//  1. structural check
//  2. root check
//  3. double-spend check
//  4. proof verification
//  5. commit
//
// Stages 1-4 take at most a read lock, so proofs of independent operations are
// checked concurrently. Stage 5 takes the write lock, repeats stages 2-3
// against the now-exclusive state, validates every effect and only then
// applies them.

package ledger

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"shieldpool/internal/types"
)

// Submit runs op through every stage and returns the applied delta. On error
// the ledger is unchanged.
//
// A Mint debits its Source account without any proof of ownership; callers
// must have authenticated Source before submitting.
func (l *Ledger) Submit(ctx context.Context, op types.Operation) (StateDelta, error) {
	if err := l.precheck(ctx, op); err != nil {
		l.rejected(op, err)
		return StateDelta{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	d, err := l.commit(op)
	if err != nil {
		l.rejected(op, err)
		return StateDelta{}, err
	}
	if len(d.Commitments) > 0 {
		d.Root = l.acc.Seal()
		d.Sealed = true
	}
	l.committed(d)
	return d, nil
}

// SubmitBlock processes ops as one finalization unit. Proofs are verified in
// parallel, then operations are committed one at a time in input order, each
// seeing the effects of those before it. The accumulator seals a single root
// for the block. A rejected operation does not affect the others.
//
// If ctx is cancelled before the commit phase nothing is applied and the
// context error is returned.
func (l *Ledger) SubmitBlock(ctx context.Context, ops []types.Operation) (BlockResult, error) {
	errs := make([]error, len(ops))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallelism)
	for i, op := range ops {
		i, op := i, op
		g.Go(func() error {
			errs[i] = l.precheck(gctx, op)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return BlockResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res := BlockResult{Results: make([]Result, len(ops))}
	before := l.acc.Len()
	for i, op := range ops {
		if errs[i] != nil {
			res.Results[i].Err = errs[i]
			l.rejected(op, errs[i])
			continue
		}
		d, err := l.commit(op)
		if err != nil {
			res.Results[i].Err = err
			l.rejected(op, err)
			continue
		}
		res.Results[i].Delta = d
		l.committed(d)
	}
	res.Root = l.acc.Seal()
	res.Sealed = l.acc.Len() > before
	return res, nil
}

// precheck runs stages 1 to 4.
func (l *Ledger) precheck(ctx context.Context, op types.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := CheckStructure(op); err != nil {
		return err
	}
	in := types.PublicInputsOf(op)

	l.mu.RLock()
	err := l.checkState(op.Kind(), in)
	l.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.verifier.Verify(op.Kind(), in, types.ProofOf(op)); err != nil {
		return ErrProofInvalid
	}
	return nil
}

// checkState runs stages 2 and 3. Callers hold a lock.
func (l *Ledger) checkState(kind types.Kind, in types.PublicInputs) error {
	if kind != types.KindMint && !l.acc.IsValidRoot(in.Root) {
		return fmt.Errorf("%w: %s", ErrStaleOrUnknownRoot, in.Root)
	}
	if nf, spent := l.nullifiers.ContainsAny(in.Nullifiers); spent {
		return fmt.Errorf("%w: %s", ErrNullifierAlreadySpent, nf)
	}
	return nil
}

// commit is stage 5. The caller holds the write lock. Every check happens
// before the first mutation.
func (l *Ledger) commit(op types.Operation) (StateDelta, error) {
	kind := op.Kind()
	in := types.PublicInputsOf(op)
	if err := l.checkState(kind, in); err != nil {
		return StateDelta{}, err
	}
	if err := l.acc.CanAppend(in.Commitments); err != nil {
		return StateDelta{}, err
	}

	var (
		balances    []BalanceChange
		pool        []AmountChange
		ciphertexts [][]byte
	)
	switch o := op.(type) {
	case *types.Mint:
		key := types.BalanceKey{Asset: o.Asset, Account: o.Source}
		bal := l.balances[key]
		if bal < o.Amount {
			return StateDelta{}, fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, key, bal, o.Amount)
		}
		held := l.pool[o.Asset]
		if held > math.MaxUint64-o.Amount {
			return StateDelta{}, fmt.Errorf("%w: pool balance overflow", ErrMalformedOperation)
		}
		balances = []BalanceChange{{Key: key, Old: bal, New: bal - o.Amount}}
		pool = []AmountChange{{Asset: o.Asset, Old: held, New: held + o.Amount}}

	case *types.PrivateTransfer:
		ciphertexts = o.Ciphertexts

	case *types.Reclaim:
		held := l.pool[o.Asset]
		if held < o.Amount {
			return StateDelta{}, fmt.Errorf("%w: asset %d holds %d, reclaim %d", ErrPoolOverdrawn, o.Asset, held, o.Amount)
		}
		key := types.BalanceKey{Asset: o.Asset, Account: o.Destination}
		bal := l.balances[key]
		if bal > math.MaxUint64-o.Amount {
			return StateDelta{}, fmt.Errorf("%w: balance overflow", ErrMalformedOperation)
		}
		balances = []BalanceChange{{Key: key, Old: bal, New: bal + o.Amount}}
		pool = []AmountChange{{Asset: o.Asset, Old: held, New: held - o.Amount}}
	}

	// Apply. Nothing below can fail: the accumulator append was checked above
	// and only commit mutates the nullifier set.
	positions, err := l.acc.Stage(in.Commitments)
	if err != nil {
		return StateDelta{}, err
	}
	if err := l.nullifiers.InsertAll(in.Nullifiers); err != nil {
		panic(fmt.Sprintf("ledger: nullifier set changed under write lock: %v", err))
	}
	l.applyBalances(balances)
	for _, c := range pool {
		l.pool[c.Asset] = c.New
	}
	for i, c := range ciphertexts {
		l.ciphertexts[positions[i]] = append([]byte(nil), c...)
	}

	d := l.newDelta(kind)
	d.Nullifiers = append([]types.Nullifier(nil), in.Nullifiers...)
	d.Commitments = append([]types.Commitment(nil), in.Commitments...)
	d.Positions = positions
	d.Ciphertexts = ciphertexts
	d.Balances = balances
	d.Pool = pool
	return d, nil
}

func (l *Ledger) committed(d StateDelta) {
	l.log.Info().
		Uint64("seq", d.Seq).
		Str("kind", d.Kind.String()).
		Int("nullifiers", len(d.Nullifiers)).
		Int("commitments", len(d.Commitments)).
		Msg("operation committed")
}

func (l *Ledger) rejected(op types.Operation, err error) {
	kind := "unknown"
	if op != nil {
		kind = op.Kind().String()
	}
	l.log.Debug().Str("kind", kind).Str("reason", string(Classify(err))).Msg("operation rejected")
}

// CheckStructure is stage 1: it validates the shape of op without looking at
// ledger state.
func CheckStructure(op types.Operation) error {
	switch o := op.(type) {
	case *types.Mint:
		if o == nil {
			return malformed("nil mint")
		}
		if err := checkAmount(o.Amount); err != nil {
			return err
		}
		if o.Source == "" {
			return malformed("mint without source account")
		}
		if o.Commitment.IsZero() {
			return malformed("zero commitment")
		}
		return checkProof(o.Proof)

	case *types.PrivateTransfer:
		if o == nil {
			return malformed("nil transfer")
		}
		if err := checkNullifiers(o.Nullifiers); err != nil {
			return err
		}
		if len(o.Commitments) == 0 || len(o.Commitments) > types.MaxOutputs {
			return malformed("transfer needs 1..%d commitments, got %d", types.MaxOutputs, len(o.Commitments))
		}
		if err := checkCommitments(o.Commitments); err != nil {
			return err
		}
		if len(o.Ciphertexts) != 0 && len(o.Ciphertexts) != len(o.Commitments) {
			return malformed("%d ciphertexts for %d commitments", len(o.Ciphertexts), len(o.Commitments))
		}
		for _, c := range o.Ciphertexts {
			if len(c) == 0 || len(c) > types.MaxCiphertextSize {
				return malformed("ciphertext length %d outside 1..%d", len(c), types.MaxCiphertextSize)
			}
		}
		return checkProof(o.Proof)

	case *types.Reclaim:
		if o == nil {
			return malformed("nil reclaim")
		}
		if err := checkNullifiers(o.Nullifiers); err != nil {
			return err
		}
		if err := checkAmount(o.Amount); err != nil {
			return err
		}
		if o.Destination == "" {
			return malformed("reclaim without destination account")
		}
		return checkProof(o.Proof)

	case nil:
		return malformed("nil operation")
	default:
		return malformed("unknown operation %T", op)
	}
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrMalformedOperation}, args...)...)
}

func checkAmount(amount uint64) error {
	if amount == 0 {
		return ErrAmountZero
	}
	if amount > types.MaxAmount {
		return malformed("amount %d exceeds %d", amount, types.MaxAmount)
	}
	return nil
}

func checkProof(p types.Proof) error {
	if len(p) == 0 || len(p) > types.MaxProofSize {
		return malformed("proof length %d outside 1..%d", len(p), types.MaxProofSize)
	}
	return nil
}

func checkNullifiers(nfs []types.Nullifier) error {
	if len(nfs) == 0 || len(nfs) > types.MaxInputs {
		return malformed("need 1..%d nullifiers, got %d", types.MaxInputs, len(nfs))
	}
	for i, nf := range nfs {
		if nf.IsZero() {
			return malformed("zero nullifier")
		}
		for _, prev := range nfs[:i] {
			if prev == nf {
				return malformed("nullifier repeated within operation")
			}
		}
	}
	return nil
}

func checkCommitments(cms []types.Commitment) error {
	for i, cm := range cms {
		if cm.IsZero() {
			return malformed("zero commitment")
		}
		for _, prev := range cms[:i] {
			if prev == cm {
				return malformed("commitment repeated within operation")
			}
		}
	}
	return nil
}
