// accumulator.go - Append-only commitment accumulator for the shielded pool.
//
// The accumulator is a fixed-depth binary Merkle tree hashed with MiMC over the
// BN254 scalar field, the same hash the transfer and reclaim circuits use to
// check membership. Empty subtrees hash to precomputed zero nodes.
//
// Every sealed root enters a bounded history. A proof may reference any root in
// that history; older roots are evicted first-in first-out.

package accumulator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"shieldpool/internal/types"
)

var (
	ErrDuplicateCommitment = errors.New("duplicate commitment")
	ErrAccumulatorFull     = errors.New("accumulator full")
	ErrPositionOutOfRange  = errors.New("position out of range")
)

const (
	MaxDepth           = 32
	DefaultDepth       = 20
	DefaultRootHistory = 100
)

// Options configures an Accumulator.
type Options struct {
	// Depth fixes the capacity at 2^Depth leaves.
	Depth int
	// RootHistory is how many sealed roots stay valid for new proofs.
	RootHistory int
}

// Accumulator is safe for concurrent use.
type Accumulator struct {
	mu sync.RWMutex

	depth  int
	levels [][]fr.Element // levels[0] holds the leaves, levels[depth] the root
	zeros  []fr.Element   // zeros[l] is the root of an empty subtree of height l
	index  map[types.Commitment]uint64
	leaves []types.Commitment

	history    []types.Root
	historyCap int
	staged     int
}

// New returns an empty accumulator whose genesis root is already sealed.
func New(opts Options) (*Accumulator, error) {
	if opts.Depth == 0 {
		opts.Depth = DefaultDepth
	}
	if opts.RootHistory == 0 {
		opts.RootHistory = DefaultRootHistory
	}
	if opts.Depth < 1 || opts.Depth > MaxDepth {
		return nil, fmt.Errorf("accumulator depth %d outside [1, %d]", opts.Depth, MaxDepth)
	}
	if opts.RootHistory < 1 {
		return nil, fmt.Errorf("root history %d must be positive", opts.RootHistory)
	}
	a := &Accumulator{
		depth:      opts.Depth,
		levels:     make([][]fr.Element, opts.Depth+1),
		zeros:      ZeroHashes(opts.Depth),
		index:      make(map[types.Commitment]uint64),
		historyCap: opts.RootHistory,
	}
	a.pushRoot(a.root())
	return a, nil
}

// Depth returns the tree depth.
func (a *Accumulator) Depth() int { return a.depth }

// Capacity returns the maximum number of leaves.
func (a *Accumulator) Capacity() uint64 { return uint64(1) << a.depth }

// Len returns the number of appended commitments.
func (a *Accumulator) Len() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return uint64(len(a.leaves))
}

// Contains reports whether cm has been appended.
func (a *Accumulator) Contains(cm types.Commitment) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.index[cm]
	return ok
}

// Position returns the leaf index of cm.
func (a *Accumulator) Position(cm types.Commitment) (uint64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pos, ok := a.index[cm]
	return pos, ok
}

// Root returns the root over every appended leaf, sealed or not.
func (a *Accumulator) Root() types.Root {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.root()
}

// IsValidRoot reports whether root is one of the retained sealed roots. The
// latest sealed root is always retained.
func (a *Accumulator) IsValidRoot(root types.Root) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.history {
		if r == root {
			return true
		}
	}
	return false
}

// History returns the retained roots, oldest first.
func (a *Accumulator) History() []types.Root {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]types.Root(nil), a.history...)
}

// Leaves returns a copy of every appended commitment in position order.
func (a *Accumulator) Leaves() []types.Commitment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]types.Commitment(nil), a.leaves...)
}

// CanAppend reports the error Stage would return for cms without mutating
// anything.
func (a *Accumulator) CanAppend(cms []types.Commitment) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.check(cms)
}

// Append adds one commitment and seals the resulting root.
func (a *Accumulator) Append(cm types.Commitment) (uint64, error) {
	pos, err := a.AppendBatch([]types.Commitment{cm})
	if err != nil {
		return 0, err
	}
	return pos[0], nil
}

// AppendBatch adds every commitment in cms and seals one root for the whole
// batch. Either all commitments are appended or none is.
func (a *Accumulator) AppendBatch(cms []types.Commitment) ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos, err := a.stage(cms)
	if err != nil {
		return nil, err
	}
	a.seal()
	return pos, nil
}

// Stage adds cms without sealing a root. Staged leaves are part of Root but
// the root does not become valid for proofs until Seal.
func (a *Accumulator) Stage(cms []types.Commitment) ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stage(cms)
}

// Seal records the current root in the history if anything was staged since
// the previous seal. It returns the sealed root.
func (a *Accumulator) Seal() types.Root {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seal()
}

// Restore rebuilds the tree from persisted leaves and root history. The
// history must end with the root over leaves.
func (a *Accumulator) Restore(leaves []types.Commitment, history []types.Root) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.levels = make([][]fr.Element, a.depth+1)
	a.index = make(map[types.Commitment]uint64, len(leaves))
	a.leaves = nil
	a.history = nil
	a.staged = 0
	if _, err := a.stage(leaves); err != nil {
		return fmt.Errorf("restore leaves: %w", err)
	}
	a.staged = 0
	if len(history) == 0 {
		a.pushRoot(a.root())
		return nil
	}
	if history[len(history)-1] != a.root() {
		return errors.New("restore: latest root does not match leaves")
	}
	if len(history) > a.historyCap {
		history = history[len(history)-a.historyCap:]
	}
	a.history = append(a.history, history...)
	return nil
}

func (a *Accumulator) check(cms []types.Commitment) error {
	if uint64(len(a.leaves))+uint64(len(cms)) > a.Capacity() {
		return ErrAccumulatorFull
	}
	seen := make(map[types.Commitment]struct{}, len(cms))
	for _, cm := range cms {
		if _, ok := a.index[cm]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateCommitment, cm)
		}
		if _, ok := seen[cm]; ok {
			return fmt.Errorf("%w: %s repeated in batch", ErrDuplicateCommitment, cm)
		}
		seen[cm] = struct{}{}
	}
	return nil
}

func (a *Accumulator) stage(cms []types.Commitment) ([]uint64, error) {
	if err := a.check(cms); err != nil {
		return nil, err
	}
	positions := make([]uint64, len(cms))
	for i, cm := range cms {
		positions[i] = a.insert(cm)
	}
	a.staged += len(cms)
	return positions, nil
}

// insert places cm at the next free leaf and recomputes its path to the root.
func (a *Accumulator) insert(cm types.Commitment) uint64 {
	pos := uint64(len(a.leaves))
	a.leaves = append(a.leaves, cm)
	a.index[cm] = pos

	node := LeafElement(cm)
	a.levels[0] = append(a.levels[0], node)
	idx := pos
	for l := 1; l <= a.depth; l++ {
		sibling := idx ^ 1
		var left, right fr.Element
		if idx&1 == 0 {
			left, right = node, a.nodeAt(l-1, sibling)
		} else {
			left, right = a.nodeAt(l-1, sibling), node
		}
		node = HashPair(left, right)
		idx >>= 1
		if idx < uint64(len(a.levels[l])) {
			a.levels[l][idx] = node
		} else {
			a.levels[l] = append(a.levels[l], node)
		}
	}
	return pos
}

func (a *Accumulator) nodeAt(level int, idx uint64) fr.Element {
	if idx < uint64(len(a.levels[level])) {
		return a.levels[level][idx]
	}
	return a.zeros[level]
}

func (a *Accumulator) root() types.Root {
	return elementToRoot(a.nodeAt(a.depth, 0))
}

func (a *Accumulator) seal() types.Root {
	r := a.root()
	if a.staged > 0 {
		a.pushRoot(r)
		a.staged = 0
	}
	return r
}

func (a *Accumulator) pushRoot(r types.Root) {
	if len(a.history) == a.historyCap {
		copy(a.history, a.history[1:])
		a.history = a.history[:len(a.history)-1]
	}
	a.history = append(a.history, r)
}

func elementToRoot(e fr.Element) types.Root {
	return types.Root(e.Bytes())
}
