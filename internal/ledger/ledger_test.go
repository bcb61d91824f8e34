package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/types"
)

// fakeVerifier accepts every proof except those starting with badProof.
type fakeVerifier struct {
	calls int64
}

var (
	goodProof = types.Proof("ok")
	badProof  = types.Proof("bad")
)

func (f *fakeVerifier) Verify(_ types.Kind, _ types.PublicInputs, proof types.Proof) error {
	atomic.AddInt64(&f.calls, 1)
	if bytes.HasPrefix(proof, badProof) {
		return ErrProofInvalid
	}
	return nil
}

func newLedger(t *testing.T, depth, history int) (*Ledger, *fakeVerifier) {
	t.Helper()
	v := &fakeVerifier{}
	l, err := New(Options{Depth: depth, RootHistory: history, Verifier: v, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return l, v
}

func cm(i uint64) types.Commitment {
	var c types.Commitment
	binary.BigEndian.PutUint64(c[24:], i)
	c[0] = 0x01
	return c
}

func nf(i uint64) types.Nullifier {
	var n types.Nullifier
	binary.BigEndian.PutUint64(n[24:], i)
	n[0] = 0x02
	return n
}

func mint(amount uint64, source types.AccountID, c types.Commitment) *types.Mint {
	return &types.Mint{Asset: 1, Amount: amount, Source: source, Commitment: c, Proof: goodProof}
}

func transfer(root types.Root, nfs []types.Nullifier, cms []types.Commitment) *types.PrivateTransfer {
	return &types.PrivateTransfer{Root: root, Nullifiers: nfs, Commitments: cms, Proof: goodProof}
}

func reclaim(root types.Root, nfs []types.Nullifier, amount uint64, dest types.AccountID) *types.Reclaim {
	return &types.Reclaim{Root: root, Nullifiers: nfs, Asset: 1, Amount: amount, Destination: dest, Proof: goodProof}
}

func snapshot(t *testing.T, l *Ledger) []byte {
	t.Helper()
	b, err := l.Snapshot()
	require.NoError(t, err)
	return b
}

func TestNewRequiresVerifier(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestMintTransferReplay(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 8, 4)
	_, err := l.SetBalance(1, "A", 100)
	require.NoError(t, err)

	d, err := l.Submit(ctx, mint(40, "A", cm(1)))
	require.NoError(t, err)
	assert.Equal(t, uint64(60), l.Balance(1, "A"))
	assert.Equal(t, uint64(40), l.PoolBalance(1))
	assert.Equal(t, uint64(1), l.Stats().Commitments)
	assert.Equal(t, []uint64{0}, d.Positions)
	assert.True(t, d.Sealed)
	assert.Equal(t, l.Root(), d.Root)

	op := transfer(l.Root(), []types.Nullifier{nf(1)}, []types.Commitment{cm(2), cm(3)})
	d, err = l.Submit(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, d.Positions)
	assert.Empty(t, d.Balances)

	s := l.Stats()
	assert.Equal(t, 1, s.Nullifiers)
	assert.Equal(t, uint64(3), s.Commitments)
	assert.Equal(t, uint64(60), l.Balance(1, "A"))
	assert.True(t, l.IsSpent(nf(1)))

	before := snapshot(t, l)
	_, err = l.Submit(ctx, op)
	assert.ErrorIs(t, err, ErrNullifierAlreadySpent)
	assert.Equal(t, before, snapshot(t, l))
}

func TestStaleRoot(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 8, 2)
	_, err := l.SetBalance(1, "A", 100)
	require.NoError(t, err)

	_, err = l.Submit(ctx, mint(10, "A", cm(1)))
	require.NoError(t, err)
	old := l.Root()

	// two full history windows
	for i := uint64(2); i <= 5; i++ {
		_, err = l.Submit(ctx, mint(10, "A", cm(i)))
		require.NoError(t, err)
	}
	assert.False(t, l.IsValidRoot(old))

	before := snapshot(t, l)
	_, err = l.Submit(ctx, reclaim(old, []types.Nullifier{nf(1)}, 10, "B"))
	assert.ErrorIs(t, err, ErrStaleOrUnknownRoot)
	assert.Equal(t, before, snapshot(t, l))

	_, err = l.Submit(ctx, transfer(types.Root{9}, []types.Nullifier{nf(1)}, []types.Commitment{cm(9)}))
	assert.ErrorIs(t, err, ErrStaleOrUnknownRoot)

	d, err := l.Submit(ctx, reclaim(l.Root(), []types.Nullifier{nf(1)}, 10, "B"))
	require.NoError(t, err)
	assert.False(t, d.Sealed)
	assert.Equal(t, uint64(10), l.Balance(1, "B"))
	assert.Equal(t, uint64(40), l.PoolBalance(1))
}

func TestRootWithinHistory(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 8, 3)
	_, err := l.SetBalance(1, "A", 100)
	require.NoError(t, err)

	_, err = l.Submit(ctx, mint(50, "A", cm(1)))
	require.NoError(t, err)
	root := l.Root()
	_, err = l.Submit(ctx, mint(10, "A", cm(2)))
	require.NoError(t, err)
	require.NotEqual(t, root, l.Root())

	_, err = l.Submit(ctx, reclaim(root, []types.Nullifier{nf(1)}, 50, "A"))
	assert.NoError(t, err)
}

func TestRejectionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, v := newLedger(t, 8, 4)
	_, err := l.SetBalance(1, "A", 100)
	require.NoError(t, err)
	_, err = l.Submit(ctx, mint(30, "A", cm(1)))
	require.NoError(t, err)
	_, err = l.Submit(ctx, transfer(l.Root(), []types.Nullifier{nf(1)}, []types.Commitment{cm(2)}))
	require.NoError(t, err)

	root := l.Root()
	forged := reclaim(root, []types.Nullifier{nf(7)}, 5, "B")
	forged.Proof = badProof

	tests := []struct {
		name string
		op   types.Operation
		want ErrorKind
	}{
		{"zero amount", mint(0, "A", cm(10)), KindMalformedOperation},
		{"insufficient balance", mint(71, "A", cm(10)), KindInsufficientBalance},
		{"duplicate commitment", mint(1, "A", cm(1)), KindDuplicateCommitment},
		{"spent nullifier", transfer(root, []types.Nullifier{nf(1)}, []types.Commitment{cm(11)}), KindNullifierAlreadySpent},
		{"pool overdrawn", reclaim(root, []types.Nullifier{nf(8)}, 31, "B"), KindPoolOverdrawn},
		{"forged proof", forged, KindProofInvalid},
		{"unknown root", reclaim(types.Root{1}, []types.Nullifier{nf(9)}, 1, "B"), KindStaleOrUnknownRoot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := snapshot(t, l)
			seq := l.Stats().Seq
			for i := 0; i < 2; i++ {
				_, err := l.Submit(ctx, tt.op)
				require.Error(t, err)
				assert.Equal(t, tt.want, Classify(err))
			}
			assert.Equal(t, before, snapshot(t, l))
			assert.Equal(t, seq, l.Stats().Seq)
		})
	}
	assert.True(t, atomic.LoadInt64(&v.calls) > 0)
}

func TestSpentNullifierSkipsVerification(t *testing.T) {
	ctx := context.Background()
	l, v := newLedger(t, 8, 4)
	_, err := l.SetBalance(1, "A", 100)
	require.NoError(t, err)
	_, err = l.Submit(ctx, mint(30, "A", cm(1)))
	require.NoError(t, err)
	op := transfer(l.Root(), []types.Nullifier{nf(1)}, []types.Commitment{cm(2)})
	_, err = l.Submit(ctx, op)
	require.NoError(t, err)

	calls := atomic.LoadInt64(&v.calls)
	_, err = l.Submit(ctx, op)
	assert.ErrorIs(t, err, ErrNullifierAlreadySpent)
	assert.Equal(t, calls, atomic.LoadInt64(&v.calls), "spent nullifier is rejected before verification")
}

func TestCheckStructure(t *testing.T) {
	root := types.Root{1}
	big := make([]byte, types.MaxCiphertextSize+1)
	tests := []struct {
		name string
		op   types.Operation
		ok   bool
	}{
		{"valid mint", mint(1, "A", cm(1)), true},
		{"nil", nil, false},
		{"typed nil", (*types.Mint)(nil), false},
		{"mint zero amount", mint(0, "A", cm(1)), false},
		{"mint amount too large", mint(types.MaxAmount+1, "A", cm(1)), false},
		{"mint no source", mint(1, "", cm(1)), false},
		{"mint zero commitment", mint(1, "A", types.Commitment{}), false},
		{"mint no proof", &types.Mint{Asset: 1, Amount: 1, Source: "A", Commitment: cm(1)}, false},
		{"mint oversized proof", &types.Mint{Asset: 1, Amount: 1, Source: "A", Commitment: cm(1), Proof: make(types.Proof, types.MaxProofSize+1)}, false},
		{"valid transfer", transfer(root, []types.Nullifier{nf(1), nf(2)}, []types.Commitment{cm(1), cm(2)}), true},
		{"transfer no inputs", transfer(root, nil, []types.Commitment{cm(1)}), false},
		{"transfer no outputs", transfer(root, []types.Nullifier{nf(1)}, nil), false},
		{"transfer three inputs", transfer(root, []types.Nullifier{nf(1), nf(2), nf(3)}, []types.Commitment{cm(1)}), false},
		{"transfer three outputs", transfer(root, []types.Nullifier{nf(1)}, []types.Commitment{cm(1), cm(2), cm(3)}), false},
		{"transfer repeated nullifier", transfer(root, []types.Nullifier{nf(1), nf(1)}, []types.Commitment{cm(1)}), false},
		{"transfer repeated commitment", transfer(root, []types.Nullifier{nf(1)}, []types.Commitment{cm(1), cm(1)}), false},
		{"transfer zero nullifier", transfer(root, []types.Nullifier{{}}, []types.Commitment{cm(1)}), false},
		{"transfer ciphertext count", &types.PrivateTransfer{Root: root, Nullifiers: []types.Nullifier{nf(1)}, Commitments: []types.Commitment{cm(1), cm(2)}, Ciphertexts: [][]byte{{1}}, Proof: goodProof}, false},
		{"transfer oversized ciphertext", &types.PrivateTransfer{Root: root, Nullifiers: []types.Nullifier{nf(1)}, Commitments: []types.Commitment{cm(1)}, Ciphertexts: [][]byte{big}, Proof: goodProof}, false},
		{"transfer with ciphertexts", &types.PrivateTransfer{Root: root, Nullifiers: []types.Nullifier{nf(1)}, Commitments: []types.Commitment{cm(1)}, Ciphertexts: [][]byte{{1, 2}}, Proof: goodProof}, true},
		{"valid reclaim", reclaim(root, []types.Nullifier{nf(1)}, 5, "B"), true},
		{"reclaim zero amount", reclaim(root, []types.Nullifier{nf(1)}, 0, "B"), false},
		{"reclaim no destination", reclaim(root, []types.Nullifier{nf(1)}, 5, ""), false},
		{"reclaim no inputs", reclaim(root, nil, 5, "B"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckStructure(tt.op)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrMalformedOperation)
		})
	}
}

func TestConcurrentDoubleSpend(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 10, 64)
	_, err := l.SetBalance(1, "A", 100)
	require.NoError(t, err)
	_, err = l.Submit(ctx, mint(100, "A", cm(1)))
	require.NoError(t, err)
	root := l.Root()

	const n = 32
	var (
		wg  sync.WaitGroup
		won int64
	)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := transfer(root, []types.Nullifier{nf(1)}, []types.Commitment{cm(uint64(100 + i))})
			if _, err := l.Submit(ctx, op); err == nil {
				atomic.AddInt64(&won, 1)
			} else {
				errs[i] = err
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), won)
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrNullifierAlreadySpent)
		}
	}
	assert.Equal(t, 1, l.Stats().Nullifiers)
	assert.Equal(t, uint64(2), l.Stats().Commitments)
}

func TestConcurrentIndependentOperations(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 10, 128)
	for i := 0; i < 16; i++ {
		_, err := l.SetBalance(1, types.AccountID(fmt.Sprintf("acct-%d", i)), 10)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Submit(ctx, mint(10, types.AccountID(fmt.Sprintf("acct-%d", i)), cm(uint64(i+1))))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(160), l.PoolBalance(1))
	assert.Equal(t, uint64(16), l.Stats().Commitments)
	assert.Equal(t, 0, l.Stats().Accounts)
}

func TestSubmitBlock(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 8, 8)
	_, err := l.SetBalance(1, "A", 100)
	require.NoError(t, err)
	_, err = l.Submit(ctx, mint(50, "A", cm(1)))
	require.NoError(t, err)
	root := l.Root()
	historyBefore := len(l.Export().History)

	ops := []types.Operation{
		transfer(root, []types.Nullifier{nf(1)}, []types.Commitment{cm(2), cm(3)}),
		transfer(root, []types.Nullifier{nf(1)}, []types.Commitment{cm(4), cm(5)}),
		reclaim(root, []types.Nullifier{nf(2)}, 20, "B"),
		mint(0, "A", cm(6)),
		mint(10, "A", cm(7)),
	}
	res, err := l.SubmitBlock(ctx, ops)
	require.NoError(t, err)
	require.Len(t, res.Results, len(ops))

	assert.NoError(t, res.Results[0].Err)
	assert.ErrorIs(t, res.Results[1].Err, ErrNullifierAlreadySpent)
	assert.NoError(t, res.Results[2].Err)
	assert.ErrorIs(t, res.Results[3].Err, ErrMalformedOperation)
	assert.NoError(t, res.Results[4].Err)
	assert.Len(t, res.Accepted(), 3)

	assert.Equal(t, []uint64{1, 2}, res.Results[0].Delta.Positions)
	assert.Equal(t, []uint64{3}, res.Results[4].Delta.Positions)
	assert.True(t, res.Sealed)
	assert.Equal(t, l.Root(), res.Root)
	assert.Len(t, l.Export().History, historyBefore+1, "one root per block")

	assert.Equal(t, uint64(40), l.PoolBalance(1))
	assert.Equal(t, uint64(40), l.Balance(1, "A"))
	assert.Equal(t, uint64(20), l.Balance(1, "B"))
	assert.Equal(t, uint64(4), l.Stats().Commitments)
}

func TestSubmitBlockWithoutOutputs(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 8, 8)
	_, err := l.SetBalance(1, "A", 100)
	require.NoError(t, err)
	_, err = l.Submit(ctx, mint(50, "A", cm(1)))
	require.NoError(t, err)
	historyBefore := len(l.Export().History)

	res, err := l.SubmitBlock(ctx, []types.Operation{reclaim(l.Root(), []types.Nullifier{nf(1)}, 5, "B")})
	require.NoError(t, err)
	assert.False(t, res.Sealed)
	assert.Len(t, l.Export().History, historyBefore)
}

func TestSubmitBlockCanceled(t *testing.T) {
	l, _ := newLedger(t, 8, 8)
	_, err := l.SetBalance(1, "A", 100)
	require.NoError(t, err)
	before := snapshot(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.SubmitBlock(ctx, []types.Operation{mint(10, "A", cm(1))})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCanceled, Classify(err))
	assert.Equal(t, before, snapshot(t, l))
}

func TestAccumulatorFull(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 1, 4)
	_, err := l.SetBalance(1, "A", 100)
	require.NoError(t, err)

	_, err = l.Submit(ctx, mint(10, "A", cm(1)))
	require.NoError(t, err)
	_, err = l.Submit(ctx, transfer(l.Root(), []types.Nullifier{nf(1)}, []types.Commitment{cm(2), cm(3)}))
	assert.ErrorIs(t, err, ErrAccumulatorFull)
	assert.False(t, l.IsSpent(nf(1)), "rejected transfer must not spend its input")

	_, err = l.Submit(ctx, mint(10, "A", cm(2)))
	require.NoError(t, err)
	_, err = l.Submit(ctx, mint(10, "A", cm(3)))
	assert.ErrorIs(t, err, ErrAccumulatorFull)
	assert.Equal(t, uint64(80), l.Balance(1, "A"))
}

func TestCiphertexts(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 8, 4)
	_, err := l.SetBalance(1, "A", 100)
	require.NoError(t, err)
	_, err = l.Submit(ctx, mint(10, "A", cm(1)))
	require.NoError(t, err)

	op := &types.PrivateTransfer{
		Root:        l.Root(),
		Nullifiers:  []types.Nullifier{nf(1)},
		Commitments: []types.Commitment{cm(2), cm(3)},
		Ciphertexts: [][]byte{[]byte("to bob"), []byte("change")},
		Proof:       goodProof,
	}
	d, err := l.Submit(ctx, op)
	require.NoError(t, err)

	c, ok := l.Ciphertext(d.Positions[0])
	require.True(t, ok)
	assert.Equal(t, []byte("to bob"), c)
	c, ok = l.Ciphertext(d.Positions[1])
	require.True(t, ok)
	assert.Equal(t, []byte("change"), c)
	_, ok = l.Ciphertext(0)
	assert.False(t, ok)
}

func TestIssueAndTransfer(t *testing.T) {
	l, _ := newLedger(t, 8, 4)

	d, err := l.Issue(7, "treasury", 1000)
	require.NoError(t, err)
	assert.Equal(t, []AmountChange{{Asset: 7, Old: 0, New: 1000}}, d.Supply)
	assert.Equal(t, uint64(1000), l.TotalSupply(7))

	_, err = l.Issue(7, "treasury", 1)
	assert.ErrorIs(t, err, ErrAssetAlreadyIssued)

	_, err = l.Transfer(7, "treasury", "alice", 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), l.Balance(7, "treasury"))
	assert.Equal(t, uint64(250), l.Balance(7, "alice"))

	_, err = l.Transfer(7, "alice", "bob", 251)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = l.Transfer(8, "alice", "bob", 1)
	assert.ErrorIs(t, err, ErrUnknownAsset)
	_, err = l.Transfer(7, "alice", "alice", 1)
	assert.ErrorIs(t, err, ErrMalformedOperation)
	_, err = l.Transfer(7, "alice", "bob", 0)
	assert.ErrorIs(t, err, ErrMalformedOperation)

	_, err = l.Transfer(7, "alice", "bob", 250)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Stats().Accounts, "drained balances are dropped")
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger(t, 8, 4)
	_, err := l.Issue(1, "A", 100)
	require.NoError(t, err)
	_, err = l.Submit(ctx, mint(60, "A", cm(1)))
	require.NoError(t, err)
	_, err = l.Submit(ctx, &types.PrivateTransfer{
		Root:        l.Root(),
		Nullifiers:  []types.Nullifier{nf(1)},
		Commitments: []types.Commitment{cm(2), cm(3)},
		Ciphertexts: [][]byte{{0xaa}, {0xbb}},
		Proof:       goodProof,
	})
	require.NoError(t, err)
	_, err = l.Submit(ctx, reclaim(l.Root(), []types.Nullifier{nf(2)}, 15, "B"))
	require.NoError(t, err)

	snap := snapshot(t, l)
	assert.Equal(t, snap, snapshot(t, l), "snapshot is deterministic")

	r, _ := newLedger(t, 8, 4)
	require.NoError(t, r.LoadSnapshot(snap))
	assert.Equal(t, snap, snapshot(t, r))
	assert.Equal(t, l.Root(), r.Root())
	assert.Equal(t, l.Stats(), r.Stats())
	assert.Equal(t, uint64(45), r.PoolBalance(1))
	assert.Equal(t, uint64(100), r.TotalSupply(1))
	c, ok := r.Ciphertext(2)
	require.True(t, ok)
	assert.Equal(t, []byte{0xbb}, c)

	_, err = r.Submit(ctx, reclaim(r.Root(), []types.Nullifier{nf(2)}, 1, "B"))
	assert.ErrorIs(t, err, ErrNullifierAlreadySpent)
}

func TestRestoreRejectsInconsistentState(t *testing.T) {
	l, _ := newLedger(t, 8, 4)
	_, err := l.SetBalance(1, "A", 5)
	require.NoError(t, err)
	before := snapshot(t, l)

	p := Persisted{Leaves: []types.Commitment{cm(1)}, History: []types.Root{{1}}}
	assert.Error(t, l.Restore(p))

	p = Persisted{Nullifiers: []types.Nullifier{nf(1), nf(1)}}
	assert.ErrorIs(t, l.Restore(p), ErrNullifierAlreadySpent)

	p = Persisted{Ciphertexts: []CiphertextEntry{{Position: 3, Ciphertext: []byte{1}}}}
	assert.Error(t, l.Restore(p))

	assert.Equal(t, before, snapshot(t, l))
	assert.Error(t, l.LoadSnapshot([]byte{0xff}))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindNone, Classify(nil))
	assert.Equal(t, KindMalformedOperation, Classify(ErrAmountZero))
	assert.Equal(t, KindNullifierAlreadySpent, Classify(fmt.Errorf("wrapped: %w", ErrNullifierAlreadySpent)))
	assert.Equal(t, KindCanceled, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindInternal, Classify(fmt.Errorf("boom")))

	assert.True(t, Permanent(ErrProofInvalid))
	assert.True(t, Permanent(ErrNullifierAlreadySpent))
	assert.False(t, Permanent(ErrStaleOrUnknownRoot))
	assert.False(t, Permanent(nil))
}
