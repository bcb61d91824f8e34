package verifier

import (
	"sync"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/accumulator"
	"shieldpool/internal/circuits"
	"shieldpool/internal/types"
)

const testDepth = 4

var (
	keysOnce sync.Once
	testKeys map[types.Kind]*circuits.Keys
	keysErr  error
)

func setupKeys(t *testing.T) map[types.Kind]*circuits.Keys {
	t.Helper()
	keysOnce.Do(func() {
		testKeys = make(map[types.Kind]*circuits.Keys)
		for _, kind := range types.Kinds {
			k, err := circuits.Setup(kind, testDepth)
			if err != nil {
				keysErr = err
				return
			}
			testKeys[kind] = k
		}
	})
	require.NoError(t, keysErr)
	return testKeys
}

func verifyingKeys(keys map[types.Kind]*circuits.Keys) map[types.Kind]groth16.VerifyingKey {
	out := make(map[types.Kind]groth16.VerifyingKey, len(keys))
	for kind, k := range keys {
		out[kind] = k.VK
	}
	return out
}

func newVerifier(t *testing.T, cacheSize int) *Groth16Verifier {
	t.Helper()
	keys := setupKeys(t)
	v, err := NewGroth16Verifier(verifyingKeys(keys), Options{Depth: testDepth, CacheSize: cacheSize})
	require.NoError(t, err)
	return v
}

func TestMintProof(t *testing.T) {
	keys := setupKeys(t)
	v := newVerifier(t, 0)

	note, err := circuits.NewNote(1, 40)
	require.NoError(t, err)
	op, err := circuits.ProveMint(keys[types.KindMint], note, "A")
	require.NoError(t, err)

	require.NoError(t, v.Verify(types.KindMint, types.PublicInputsOf(op), op.Proof))

	tests := []struct {
		name  string
		in    types.PublicInputs
		proof types.Proof
	}{
		{"tampered amount", types.PublicInputs{Asset: 1, Amount: 41, Commitments: []types.Commitment{op.Commitment}}, op.Proof},
		{"tampered asset", types.PublicInputs{Asset: 2, Amount: 40, Commitments: []types.Commitment{op.Commitment}}, op.Proof},
		{"garbage proof", types.PublicInputsOf(op), types.Proof{1, 2, 3}},
		{"trailing bytes", types.PublicInputsOf(op), append(append(types.Proof{}, op.Proof...), 0)},
		{"empty proof", types.PublicInputsOf(op), nil},
		{"wrong input count", types.PublicInputs{Asset: 1, Amount: 40}, op.Proof},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(types.KindMint, tt.in, tt.proof)
			assert.Equal(t, ErrProofInvalid, err, "failure must be the bare sentinel")
		})
	}

	// a mint proof is not a transfer proof
	assert.Equal(t, ErrProofInvalid, v.Verify(types.KindPrivateTransfer, types.PublicInputsOf(op), op.Proof))
}

func TestTransferAndReclaimProofs(t *testing.T) {
	keys := setupKeys(t)
	v := newVerifier(t, 0)

	acc, err := accumulator.New(accumulator.Options{Depth: testDepth, RootHistory: 4})
	require.NoError(t, err)
	in, err := circuits.NewNote(1, 40)
	require.NoError(t, err)
	pos, err := acc.Append(in.Commitment())
	require.NoError(t, err)
	path, err := acc.MembershipProof(pos)
	require.NoError(t, err)
	spend := []circuits.SpendInput{{Note: in, Path: path}}

	outA, _ := circuits.NewNote(1, 15)
	outB, _ := circuits.NewNote(1, 25)
	tr, err := circuits.ProveTransfer(keys[types.KindPrivateTransfer], acc.Root(), spend, []*circuits.Note{outA, outB})
	require.NoError(t, err)
	assert.NoError(t, v.Verify(types.KindPrivateTransfer, types.PublicInputsOf(tr), tr.Proof))

	swapped := types.PublicInputsOf(tr)
	swapped.Commitments = []types.Commitment{tr.Commitments[1], tr.Commitments[0]}
	assert.Equal(t, ErrProofInvalid, v.Verify(types.KindPrivateTransfer, swapped, tr.Proof))

	rc, err := circuits.ProveReclaim(keys[types.KindReclaim], acc.Root(), spend, "B")
	require.NoError(t, err)
	assert.Equal(t, uint64(40), rc.Amount)
	assert.NoError(t, v.Verify(types.KindReclaim, types.PublicInputsOf(rc), rc.Proof))

	inflated := types.PublicInputsOf(rc)
	inflated.Amount = 400
	assert.Equal(t, ErrProofInvalid, v.Verify(types.KindReclaim, inflated, rc.Proof))
}

func TestResultCache(t *testing.T) {
	keys := setupKeys(t)
	v := newVerifier(t, 16)

	note, err := circuits.NewNote(3, 7)
	require.NoError(t, err)
	op, err := circuits.ProveMint(keys[types.KindMint], note, "A")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, v.Verify(types.KindMint, types.PublicInputsOf(op), op.Proof))
	}
	bad := types.PublicInputsOf(op)
	bad.Amount = 8
	for i := 0; i < 2; i++ {
		assert.Equal(t, ErrProofInvalid, v.Verify(types.KindMint, bad, op.Proof))
	}

	s := v.Stats()
	assert.Equal(t, uint64(3), s.CacheHits)
	assert.Equal(t, uint64(2), s.CacheMisses)
	assert.Equal(t, uint64(3), s.Verified)
	assert.Equal(t, uint64(2), s.Rejected)
}

func TestKeyChecksums(t *testing.T) {
	keys := verifyingKeys(setupKeys(t))

	sums := make(map[types.Kind][32]byte)
	for kind, vk := range keys {
		sum, err := Checksum(vk)
		require.NoError(t, err)
		sums[kind] = sum
	}
	_, err := NewGroth16Verifier(keys, Options{Depth: testDepth, Checksums: sums})
	require.NoError(t, err)

	sums[types.KindReclaim] = [32]byte{1}
	_, err = NewGroth16Verifier(keys, Options{Depth: testDepth, Checksums: sums})
	assert.ErrorIs(t, err, ErrKeyChecksumMismatch)

	delete(keys, types.KindMint)
	_, err = NewGroth16Verifier(keys, Options{Depth: testDepth})
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = ParseChecksum("abcd")
	assert.Error(t, err)
}
