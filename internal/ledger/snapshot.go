package ledger

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"shieldpool/internal/accumulator"
	"shieldpool/internal/nullifier"
	"shieldpool/internal/types"
)

// Persisted is the complete ledger state in a canonical order. Two ledgers
// with equal state export equal values.
type Persisted struct {
	Seq         uint64             `cbor:"1,keyasint"`
	Leaves      []types.Commitment `cbor:"2,keyasint"`
	History     []types.Root       `cbor:"3,keyasint"`
	Nullifiers  []types.Nullifier  `cbor:"4,keyasint"`
	Balances    []BalanceEntry     `cbor:"5,keyasint"`
	Pool        []AssetAmount      `cbor:"6,keyasint"`
	Supply      []AssetAmount      `cbor:"7,keyasint"`
	Ciphertexts []CiphertextEntry  `cbor:"8,keyasint"`
}

type BalanceEntry struct {
	Asset   types.AssetID   `cbor:"1,keyasint"`
	Account types.AccountID `cbor:"2,keyasint"`
	Amount  uint64          `cbor:"3,keyasint"`
}

type AssetAmount struct {
	Asset  types.AssetID `cbor:"1,keyasint"`
	Amount uint64        `cbor:"2,keyasint"`
}

type CiphertextEntry struct {
	Position   uint64 `cbor:"1,keyasint"`
	Ciphertext []byte `cbor:"2,keyasint"`
}

var snapshotMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Export returns the current state.
func (l *Ledger) Export() Persisted {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p := Persisted{
		Seq:        l.seq,
		Leaves:     l.acc.Leaves(),
		History:    l.acc.History(),
		Nullifiers: l.nullifiers.Sorted(),
	}
	for k, amount := range l.balances {
		p.Balances = append(p.Balances, BalanceEntry{Asset: k.Asset, Account: k.Account, Amount: amount})
	}
	sort.Slice(p.Balances, func(i, j int) bool {
		a, b := p.Balances[i], p.Balances[j]
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		return a.Account < b.Account
	})
	p.Pool = sortedAmounts(l.pool)
	p.Supply = sortedAmounts(l.supply)
	for pos, c := range l.ciphertexts {
		p.Ciphertexts = append(p.Ciphertexts, CiphertextEntry{Position: pos, Ciphertext: append([]byte(nil), c...)})
	}
	sort.Slice(p.Ciphertexts, func(i, j int) bool { return p.Ciphertexts[i].Position < p.Ciphertexts[j].Position })
	return p
}

func sortedAmounts(m map[types.AssetID]uint64) []AssetAmount {
	var out []AssetAmount
	for asset, amount := range m {
		if amount == 0 {
			continue
		}
		out = append(out, AssetAmount{Asset: asset, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Restore replaces the ledger state with p. On error the ledger is unchanged.
func (l *Ledger) Restore(p Persisted) error {
	nfs := nullifier.NewSet()
	if err := nfs.InsertAll(p.Nullifiers); err != nil {
		return fmt.Errorf("restore nullifiers: %w", err)
	}
	balances := make(map[types.BalanceKey]uint64, len(p.Balances))
	for _, e := range p.Balances {
		if e.Account == "" {
			return fmt.Errorf("restore balances: %w: empty account", ErrMalformedOperation)
		}
		if e.Amount != 0 {
			balances[types.BalanceKey{Asset: e.Asset, Account: e.Account}] = e.Amount
		}
	}
	pool := make(map[types.AssetID]uint64, len(p.Pool))
	for _, e := range p.Pool {
		pool[e.Asset] = e.Amount
	}
	supply := make(map[types.AssetID]uint64, len(p.Supply))
	for _, e := range p.Supply {
		supply[e.Asset] = e.Amount
	}
	ciphertexts := make(map[uint64][]byte, len(p.Ciphertexts))
	for _, e := range p.Ciphertexts {
		if e.Position >= uint64(len(p.Leaves)) {
			return fmt.Errorf("restore ciphertexts: position %d beyond %d leaves", e.Position, len(p.Leaves))
		}
		ciphertexts[e.Position] = e.Ciphertext
	}

	acc, err := accumulator.New(l.accOpts)
	if err != nil {
		return err
	}
	if err := acc.Restore(p.Leaves, p.History); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.acc = acc
	l.nullifiers = nfs
	l.balances = balances
	l.pool = pool
	l.supply = supply
	l.ciphertexts = ciphertexts
	l.seq = p.Seq
	l.log.Info().
		Uint64("seq", p.Seq).
		Int("commitments", len(p.Leaves)).
		Int("nullifiers", len(p.Nullifiers)).
		Msg("ledger restored")
	return nil
}

// Snapshot encodes the current state as deterministic CBOR. Equal states
// produce identical bytes.
func (l *Ledger) Snapshot() ([]byte, error) {
	return snapshotMode.Marshal(l.Export())
}

// LoadSnapshot restores a state produced by Snapshot.
func (l *Ledger) LoadSnapshot(b []byte) error {
	var p Persisted
	if err := cbor.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	return l.Restore(p)
}
