// ledger.go - Shielded pool ledger state.
//
// The Ledger owns the commitment accumulator, the nullifier set and the public
// balances the pool moves value in and out of. Every mutation goes through
// one of its methods and happens under its write lock, so a state change is
// either fully applied or not applied at all.

package ledger

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"shieldpool/internal/accumulator"
	"shieldpool/internal/nullifier"
	"shieldpool/internal/types"
	"shieldpool/internal/verifier"
)

// BalanceRegistry is the keyed integer ledger of public balances.
type BalanceRegistry interface {
	Balance(asset types.AssetID, account types.AccountID) uint64
	SetBalance(asset types.AssetID, account types.AccountID, amount uint64) (StateDelta, error)
}

// Options configures a Ledger.
type Options struct {
	// Depth and RootHistory size the accumulator. A larger history tolerates
	// staler proofs; a smaller one narrows the window in which old state can
	// be proven against.
	Depth       int
	RootHistory int
	// Verifier checks operation proofs. Required.
	Verifier verifier.Verifier
	// VerifyParallelism bounds concurrent proof checks in SubmitBlock.
	// Zero means GOMAXPROCS.
	VerifyParallelism int
	Logger            zerolog.Logger
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu sync.RWMutex

	accOpts    accumulator.Options
	acc        *accumulator.Accumulator
	nullifiers *nullifier.Set
	verifier   verifier.Verifier

	balances    map[types.BalanceKey]uint64
	pool        map[types.AssetID]uint64
	supply      map[types.AssetID]uint64
	ciphertexts map[uint64][]byte
	seq         uint64

	parallelism int
	log         zerolog.Logger
}

// New returns an empty ledger.
func New(opts Options) (*Ledger, error) {
	if opts.Verifier == nil {
		return nil, errors.New("ledger: verifier is required")
	}
	accOpts := accumulator.Options{Depth: opts.Depth, RootHistory: opts.RootHistory}
	acc, err := accumulator.New(accOpts)
	if err != nil {
		return nil, err
	}
	if opts.VerifyParallelism <= 0 {
		opts.VerifyParallelism = runtime.GOMAXPROCS(0)
	}
	return &Ledger{
		accOpts:     accOpts,
		acc:         acc,
		nullifiers:  nullifier.NewSet(),
		verifier:    opts.Verifier,
		balances:    make(map[types.BalanceKey]uint64),
		pool:        make(map[types.AssetID]uint64),
		supply:      make(map[types.AssetID]uint64),
		ciphertexts: make(map[uint64][]byte),
		parallelism: opts.VerifyParallelism,
		log:         opts.Logger,
	}, nil
}

// Balance returns the public balance of account in asset.
func (l *Ledger) Balance(asset types.AssetID, account types.AccountID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[types.BalanceKey{Asset: asset, Account: account}]
}

// PoolBalance returns the amount of asset currently held in notes.
func (l *Ledger) PoolBalance(asset types.AssetID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pool[asset]
}

// TotalSupply returns the issued supply of asset.
func (l *Ledger) TotalSupply(asset types.AssetID) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply[asset]
}

// Root returns the current accumulator root.
func (l *Ledger) Root() types.Root {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.acc.Root()
}

// IsValidRoot reports whether new proofs may reference root.
func (l *Ledger) IsValidRoot(root types.Root) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.acc.IsValidRoot(root)
}

// MembershipProof returns the authentication path of the commitment at position.
func (l *Ledger) MembershipProof(position uint64) (accumulator.Path, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.acc.MembershipProof(position)
}

// Position returns the accumulator position of cm.
func (l *Ledger) Position(cm types.Commitment) (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.acc.Position(cm)
}

// IsSpent reports whether nf is in the nullifier set.
func (l *Ledger) IsSpent(nf types.Nullifier) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nullifiers.Contains(nf)
}

// Ciphertext returns the receiver ciphertext stored with the commitment at position.
func (l *Ledger) Ciphertext(position uint64) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.ciphertexts[position]
	return c, ok
}

// Stats summarises ledger size.
type Stats struct {
	Seq         uint64
	Commitments uint64
	Capacity    uint64
	Nullifiers  int
	Accounts    int
	Root        types.Root
}

func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Seq:         l.seq,
		Commitments: l.acc.Len(),
		Capacity:    l.acc.Capacity(),
		Nullifiers:  l.nullifiers.Len(),
		Accounts:    len(l.balances),
		Root:        l.acc.Root(),
	}
}

// SetBalance overwrites a public balance on behalf of the host registry.
func (l *Ledger) SetBalance(asset types.AssetID, account types.AccountID, amount uint64) (StateDelta, error) {
	if account == "" {
		return StateDelta{}, fmt.Errorf("%w: empty account", ErrMalformedOperation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := types.BalanceKey{Asset: asset, Account: account}
	d := l.newDelta(0)
	d.Balances = []BalanceChange{{Key: key, Old: l.balances[key], New: amount}}
	l.applyBalances(d.Balances)
	return d, nil
}

// Issue creates asset with a total supply credited to account. An asset can
// be issued only once.
func (l *Ledger) Issue(asset types.AssetID, account types.AccountID, total uint64) (StateDelta, error) {
	if total == 0 {
		return StateDelta{}, ErrAmountZero
	}
	if account == "" {
		return StateDelta{}, fmt.Errorf("%w: empty account", ErrMalformedOperation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.supply[asset]; ok {
		return StateDelta{}, fmt.Errorf("%w: %d", ErrAssetAlreadyIssued, asset)
	}
	key := types.BalanceKey{Asset: asset, Account: account}
	old := l.balances[key]
	if old > math.MaxUint64-total {
		return StateDelta{}, fmt.Errorf("%w: balance overflow", ErrMalformedOperation)
	}
	d := l.newDelta(0)
	d.Supply = []AmountChange{{Asset: asset, Old: 0, New: total}}
	d.Balances = []BalanceChange{{Key: key, Old: old, New: old + total}}
	l.supply[asset] = total
	l.applyBalances(d.Balances)
	l.log.Info().Uint64("asset", uint64(asset)).Str("account", string(account)).Uint64("total", total).Msg("asset issued")
	return d, nil
}

// Transfer moves a public balance between accounts.
func (l *Ledger) Transfer(asset types.AssetID, from, to types.AccountID, amount uint64) (StateDelta, error) {
	if amount == 0 {
		return StateDelta{}, ErrAmountZero
	}
	if from == "" || to == "" {
		return StateDelta{}, fmt.Errorf("%w: empty account", ErrMalformedOperation)
	}
	if from == to {
		return StateDelta{}, fmt.Errorf("%w: transfer to self", ErrMalformedOperation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.supply[asset]; !ok {
		return StateDelta{}, fmt.Errorf("%w: %d", ErrUnknownAsset, asset)
	}
	src := types.BalanceKey{Asset: asset, Account: from}
	dst := types.BalanceKey{Asset: asset, Account: to}
	if l.balances[src] < amount {
		return StateDelta{}, ErrInsufficientBalance
	}
	if l.balances[dst] > math.MaxUint64-amount {
		return StateDelta{}, fmt.Errorf("%w: balance overflow", ErrMalformedOperation)
	}
	d := l.newDelta(0)
	d.Balances = []BalanceChange{
		{Key: src, Old: l.balances[src], New: l.balances[src] - amount},
		{Key: dst, Old: l.balances[dst], New: l.balances[dst] + amount},
	}
	l.applyBalances(d.Balances)
	return d, nil
}

// newDelta allocates the next sequence number. Callers hold the write lock
// and must not fail after calling it.
func (l *Ledger) newDelta(kind types.Kind) StateDelta {
	l.seq++
	return StateDelta{Seq: l.seq, Kind: kind, Root: l.acc.Root()}
}

func (l *Ledger) applyBalances(changes []BalanceChange) {
	for _, c := range changes {
		if c.New == 0 {
			delete(l.balances, c.Key)
			continue
		}
		l.balances[c.Key] = c.New
	}
}
