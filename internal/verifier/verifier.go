// verifier.go - Zero-knowledge proof verification for shielded pool operations.
//
// A Verifier checks one proof against the public inputs of one operation kind.
// Every failure, whatever its cause, is reported as ErrProofInvalid with no
// further detail so the outcome cannot be used as an oracle on private data.

package verifier

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2s"

	"shieldpool/internal/circuits"
	"shieldpool/internal/types"
)

var (
	// ErrProofInvalid is the single failure outcome of Verify.
	ErrProofInvalid = errors.New("proof invalid")
	// ErrKeyChecksumMismatch means a verifying key differs from its pinned checksum.
	ErrKeyChecksumMismatch = errors.New("verifying key checksum mismatch")
	ErrMissingKey          = errors.New("missing verifying key")
)

// Verifier checks an operation proof. Implementations must be safe for
// concurrent use and must return exactly ErrProofInvalid on failure.
type Verifier interface {
	Verify(kind types.Kind, in types.PublicInputs, proof types.Proof) error
}

// Options configures a Groth16Verifier.
type Options struct {
	// Depth is the accumulator depth the transfer and reclaim keys were set up for.
	Depth int
	// Checksums pins the blake2s-256 digest of each serialised verifying key.
	// Kinds without an entry are not pinned.
	Checksums map[types.Kind][32]byte
	// CacheSize enables a result cache of that many entries when positive.
	CacheSize int
	Logger    zerolog.Logger
}

// Stats counts verifier activity.
type Stats struct {
	Verified    uint64
	Rejected    uint64
	CacheHits   uint64
	CacheMisses uint64
}

// Groth16Verifier verifies gnark Groth16 proofs with one fixed key per kind.
type Groth16Verifier struct {
	keys  map[types.Kind]groth16.VerifyingKey
	depth int
	cache *lru.Cache
	log   zerolog.Logger

	verified    uint64
	rejected    uint64
	cacheHits   uint64
	cacheMisses uint64
}

// NewGroth16Verifier takes ownership of keys, which must hold a key for every
// operation kind.
func NewGroth16Verifier(keys map[types.Kind]groth16.VerifyingKey, opts Options) (*Groth16Verifier, error) {
	v := &Groth16Verifier{
		keys:  make(map[types.Kind]groth16.VerifyingKey, len(keys)),
		depth: opts.Depth,
		log:   opts.Logger,
	}
	for _, kind := range types.Kinds {
		vk, ok := keys[kind]
		if !ok || vk == nil {
			return nil, fmt.Errorf("%w for %s", ErrMissingKey, kind)
		}
		if want, pinned := opts.Checksums[kind]; pinned {
			got, err := Checksum(vk)
			if err != nil {
				return nil, fmt.Errorf("checksum %s key: %w", kind, err)
			}
			if got != want {
				return nil, fmt.Errorf("%w for %s: got %x", ErrKeyChecksumMismatch, kind, got)
			}
		}
		v.keys[kind] = vk
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New(opts.CacheSize)
		if err != nil {
			return nil, err
		}
		v.cache = cache
	}
	return v, nil
}

// Verify implements Verifier.
func (v *Groth16Verifier) Verify(kind types.Kind, in types.PublicInputs, proof types.Proof) error {
	var key [32]byte
	if v.cache != nil {
		key = cacheKey(kind, in, proof)
		if ok, hit := v.cache.Get(key); hit {
			atomic.AddUint64(&v.cacheHits, 1)
			return v.outcome(ok.(bool))
		}
		atomic.AddUint64(&v.cacheMisses, 1)
	}

	err := v.verify(kind, in, proof)
	if err != nil {
		v.log.Debug().Str("kind", kind.String()).Err(err).Msg("proof rejected")
	}
	if v.cache != nil {
		v.cache.Add(key, err == nil)
	}
	return v.outcome(err == nil)
}

func (v *Groth16Verifier) outcome(ok bool) error {
	if ok {
		atomic.AddUint64(&v.verified, 1)
		return nil
	}
	atomic.AddUint64(&v.rejected, 1)
	return ErrProofInvalid
}

func (v *Groth16Verifier) verify(kind types.Kind, in types.PublicInputs, proof types.Proof) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("verify panicked: %v", r)
		}
	}()
	vk, ok := v.keys[kind]
	if !ok {
		return ErrMissingKey
	}
	assignment, err := circuits.AssignPublic(kind, v.depth, in)
	if err != nil {
		return err
	}
	w, err := frontend.NewWitness(assignment, circuits.Curve.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return err
	}
	p := groth16.NewProof(circuits.Curve)
	r := bytes.NewReader(proof)
	if _, err := p.ReadFrom(r); err != nil {
		return err
	}
	if r.Len() != 0 {
		return errors.New("trailing proof bytes")
	}
	return groth16.Verify(p, vk, w)
}

// Stats returns a snapshot of the verifier counters.
func (v *Groth16Verifier) Stats() Stats {
	return Stats{
		Verified:    atomic.LoadUint64(&v.verified),
		Rejected:    atomic.LoadUint64(&v.rejected),
		CacheHits:   atomic.LoadUint64(&v.cacheHits),
		CacheMisses: atomic.LoadUint64(&v.cacheMisses),
	}
}

// cacheKey digests everything the outcome depends on.
func cacheKey(kind types.Kind, in types.PublicInputs, proof types.Proof) [32]byte {
	h, _ := blake2s.New256(nil)
	var buf [8]byte
	h.Write([]byte{byte(kind)})
	h.Write(in.Root[:])
	binary.BigEndian.PutUint64(buf[:], uint64(len(in.Nullifiers)))
	h.Write(buf[:])
	for _, nf := range in.Nullifiers {
		h.Write(nf[:])
	}
	binary.BigEndian.PutUint64(buf[:], uint64(len(in.Commitments)))
	h.Write(buf[:])
	for _, cm := range in.Commitments {
		h.Write(cm[:])
	}
	binary.BigEndian.PutUint64(buf[:], uint64(in.Asset))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], in.Amount)
	h.Write(buf[:])
	h.Write(proof)

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
