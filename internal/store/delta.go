package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"shieldpool/internal/ledger"
	"shieldpool/internal/types"
)

// Record is the stored form of an accepted operation.
type Record struct {
	Seq uint64         `cbor:"1,keyasint"`
	Op  types.Envelope `cbor:"2,keyasint"`
}

var recordMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// writer tracks the root counter across the deltas of one batch.
type writer struct {
	b     *leveldb.Batch
	roots uint64
	keep  int
}

// Init records the genesis root of an empty ledger. It does nothing if roots
// were already written.
func (s *Store) Init(genesis types.Root) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.db.Has(keyRoots, nil)
	if err != nil || ok {
		return err
	}
	w := &writer{b: new(leveldb.Batch), keep: s.rootHistory}
	w.root(genesis)
	return s.db.Write(w.b, nil)
}

// Apply persists the delta of one Submit, or of a public balance change when
// op is nil.
func (s *Store) Apply(op types.Operation, d ledger.StateDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.newWriter()
	if err != nil {
		return err
	}
	if err := w.delta(op, d); err != nil {
		return err
	}
	if d.Sealed {
		w.root(d.Root)
	}
	w.b.Put(keySeq, u64(d.Seq))
	return s.db.Write(w.b, nil)
}

// ApplyBlock persists every accepted operation of a SubmitBlock call in one
// batch. ops must be the slice passed to SubmitBlock.
func (s *Store) ApplyBlock(ops []types.Operation, res ledger.BlockResult) error {
	if len(ops) != len(res.Results) {
		return fmt.Errorf("apply block: %d operations, %d results", len(ops), len(res.Results))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.newWriter()
	if err != nil {
		return err
	}
	var seq uint64
	for i, r := range res.Results {
		if r.Err != nil {
			continue
		}
		if err := w.delta(ops[i], r.Delta); err != nil {
			return err
		}
		seq = r.Delta.Seq
	}
	if seq == 0 {
		return nil
	}
	if res.Sealed {
		w.root(res.Root)
	}
	w.b.Put(keySeq, u64(seq))
	return s.db.Write(w.b, nil)
}

func (s *Store) newWriter() (*writer, error) {
	w := &writer{b: new(leveldb.Batch), keep: s.rootHistory}
	v, err := s.db.Get(keyRoots, nil)
	switch {
	case IsNotFoundErr(err):
	case err != nil:
		return nil, err
	default:
		n, ok := decodeU64(v)
		if !ok {
			return nil, fmt.Errorf("%w: root counter", ErrCorrupt)
		}
		w.roots = n
	}
	return w, nil
}

func (w *writer) delta(op types.Operation, d ledger.StateDelta) error {
	for i, cm := range d.Commitments {
		w.b.Put(commitmentKey(d.Positions[i]), cm[:])
	}
	for _, nf := range d.Nullifiers {
		w.b.Put(nullifierKey(nf), u64(d.Seq))
	}
	for i, c := range d.Ciphertexts {
		w.b.Put(ciphertextKey(d.Positions[i]), c)
	}
	for _, c := range d.Balances {
		putAmount(w.b, balanceKey(c.Key), c.New)
	}
	for _, c := range d.Pool {
		putAmount(w.b, poolKey(c.Asset), c.New)
	}
	for _, c := range d.Supply {
		putAmount(w.b, supplyKey(c.Asset), c.New)
	}
	if op == nil {
		return nil
	}
	rec, err := recordMode.Marshal(Record{Seq: d.Seq, Op: types.Wrap(op)})
	if err != nil {
		return fmt.Errorf("encode operation %d: %w", d.Seq, err)
	}
	w.b.Put(operationKey(d.Seq), rec)
	return nil
}

// root appends r to the stored history and drops the entry that falls out of
// the retained window.
func (w *writer) root(r types.Root) {
	i := w.roots
	w.b.Put(rootKey(i), r[:])
	if w.keep > 0 && i >= uint64(w.keep) {
		w.b.Delete(rootKey(i - uint64(w.keep)))
	}
	w.roots++
	w.b.Put(keyRoots, u64(w.roots))
}

func putAmount(b *leveldb.Batch, k []byte, amount uint64) {
	if amount == 0 {
		b.Delete(k)
		return
	}
	b.Put(k, u64(amount))
}

// Record returns the operation accepted with sequence number seq.
func (s *Store) Record(seq uint64) (Record, error) {
	v, err := s.db.Get(operationKey(seq), nil)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := cbor.Unmarshal(v, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: operation %d: %v", ErrCorrupt, seq, err)
	}
	return rec, nil
}

// Load reads the full persisted state.
func (s *Store) Load() (ledger.Persisted, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return ledger.Persisted{}, err
	}
	defer snap.Release()

	var p ledger.Persisted
	if v, err := snap.Get(keySeq, nil); err == nil {
		seq, ok := decodeU64(v)
		if !ok {
			return p, fmt.Errorf("%w: sequence", ErrCorrupt)
		}
		p.Seq = seq
	} else if !IsNotFoundErr(err) {
		return p, err
	}

	scan := func(prefix []byte, fn func(k, v []byte) error) error {
		it := snap.NewIterator(util.BytesPrefix(prefix), nil)
		defer it.Release()
		for it.Next() {
			if err := fn(it.Key(), it.Value()); err != nil {
				return err
			}
		}
		return it.Error()
	}
	corrupt := func(what string, k []byte) error {
		return fmt.Errorf("%w: %s key %x", ErrCorrupt, what, k)
	}

	err = scan(prefixCommitment, func(k, v []byte) error {
		pos, ok := suffixU64(k, prefixCommitment)
		if !ok || pos != uint64(len(p.Leaves)) || len(v) != types.HashSize {
			return corrupt("commitment", k)
		}
		var cm types.Commitment
		copy(cm[:], v)
		p.Leaves = append(p.Leaves, cm)
		return nil
	})
	if err != nil {
		return p, err
	}

	err = scan(prefixNullifier, func(k, _ []byte) error {
		rest := k[len(prefixNullifier):]
		if len(rest) != types.HashSize {
			return corrupt("nullifier", k)
		}
		var nf types.Nullifier
		copy(nf[:], rest)
		p.Nullifiers = append(p.Nullifiers, nf)
		return nil
	})
	if err != nil {
		return p, err
	}

	err = scan(prefixBalance, func(k, v []byte) error {
		bk, ok := parseBalanceKey(k)
		amount, ok2 := decodeU64(v)
		if !ok || !ok2 {
			return corrupt("balance", k)
		}
		p.Balances = append(p.Balances, ledger.BalanceEntry{Asset: bk.Asset, Account: bk.Account, Amount: amount})
		return nil
	})
	if err != nil {
		return p, err
	}

	amounts := func(prefix []byte, what string, out *[]ledger.AssetAmount) error {
		return scan(prefix, func(k, v []byte) error {
			asset, ok := suffixU64(k, prefix)
			amount, ok2 := decodeU64(v)
			if !ok || !ok2 {
				return corrupt(what, k)
			}
			*out = append(*out, ledger.AssetAmount{Asset: types.AssetID(asset), Amount: amount})
			return nil
		})
	}
	if err := amounts(prefixPool, "pool", &p.Pool); err != nil {
		return p, err
	}
	if err := amounts(prefixSupply, "supply", &p.Supply); err != nil {
		return p, err
	}

	err = scan(prefixRoot, func(k, v []byte) error {
		if _, ok := suffixU64(k, prefixRoot); !ok || len(v) != types.HashSize {
			return corrupt("root", k)
		}
		var r types.Root
		copy(r[:], v)
		p.History = append(p.History, r)
		return nil
	})
	if err != nil {
		return p, err
	}

	err = scan(prefixCiphertext, func(k, v []byte) error {
		pos, ok := suffixU64(k, prefixCiphertext)
		if !ok {
			return corrupt("ciphertext", k)
		}
		p.Ciphertexts = append(p.Ciphertexts, ledger.CiphertextEntry{Position: pos, Ciphertext: append([]byte(nil), v...)})
		return nil
	})
	if err != nil {
		return p, err
	}

	s.log.Debug().
		Uint64("seq", p.Seq).
		Int("commitments", len(p.Leaves)).
		Int("nullifiers", len(p.Nullifiers)).
		Int("roots", len(p.History)).
		Msg("state loaded")
	return p, nil
}
