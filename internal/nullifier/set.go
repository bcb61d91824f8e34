// set.go - Spent-note markers for the shielded pool.
//
// A nullifier enters the set once and stays forever. Check-and-insert happens
// under a single lock so two callers can never both insert the same value.

package nullifier

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"shieldpool/internal/types"
)

var ErrDuplicateNullifier = errors.New("nullifier already spent")

// Set is safe for concurrent use.
type Set struct {
	mu      sync.RWMutex
	entries map[types.Nullifier]struct{}
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{entries: make(map[types.Nullifier]struct{})}
}

// Contains reports whether nf has been spent.
func (s *Set) Contains(nf types.Nullifier) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[nf]
	return ok
}

// ContainsAny returns the first member of nfs already in the set.
func (s *Set) ContainsAny(nfs []types.Nullifier) (types.Nullifier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, nf := range nfs {
		if _, ok := s.entries[nf]; ok {
			return nf, true
		}
	}
	return types.Nullifier{}, false
}

// Insert adds nf, failing with ErrDuplicateNullifier if it is present.
func (s *Set) Insert(nf types.Nullifier) error {
	return s.InsertAll([]types.Nullifier{nf})
}

// InsertAll adds every nullifier in nfs or none of them. A value repeated
// within nfs counts as a duplicate.
func (s *Set) InsertAll(nfs []types.Nullifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[types.Nullifier]struct{}, len(nfs))
	for _, nf := range nfs {
		if _, ok := s.entries[nf]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateNullifier, nf)
		}
		if _, ok := seen[nf]; ok {
			return fmt.Errorf("%w: %s repeated", ErrDuplicateNullifier, nf)
		}
		seen[nf] = struct{}{}
	}
	for _, nf := range nfs {
		s.entries[nf] = struct{}{}
	}
	return nil
}

// Len returns the number of spent nullifiers.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sorted returns every member in ascending byte order, nil for an empty set.
func (s *Set) Sorted() []types.Nullifier {
	s.mu.RLock()
	var out []types.Nullifier
	for nf := range s.entries {
		out = append(out, nf)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
