// Package store persists shielded pool state deltas in leveldb.
//
// Every accepted delta is written as one leveldb batch, so the on-disk state
// always matches some prefix of the ledger's history. Load rebuilds the state
// the ledger restores from at startup.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	dberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

const (
	// minCache is the minimum amount of memory in megabytes to allocate to
	// leveldb read and write caching, split half and half.
	minCache = 16

	// minHandles is the minimum number of files handles to allocate to the
	// open database files.
	minHandles = 16
)

// ErrCorrupt means the stored state is internally inconsistent.
var ErrCorrupt = errors.New("store corrupt")

// IsNotFoundErr is err 'ErrNotFound'
func IsNotFoundErr(err error) bool {
	return errors.Is(err, dberrors.ErrNotFound)
}

// Options configures a Store.
type Options struct {
	// Path is the database directory. Empty means an in-memory database.
	Path     string
	Cache    int // megabytes
	Handles  int
	ReadOnly bool
	// RootHistory bounds the number of roots kept on disk. Zero keeps all.
	RootHistory int
	Logger      zerolog.Logger
}

// Store is a leveldb-backed ledger store. Writes are serialised by leveldb;
// callers apply deltas in ledger order.
type Store struct {
	mu          sync.Mutex // orders root counter updates
	path        string
	db          *leveldb.DB
	rootHistory int
	log         zerolog.Logger
}

// Open opens or creates the database at opts.Path, recovering it if leveldb
// reports corruption.
func Open(opts Options) (*Store, error) {
	if opts.Cache < minCache {
		opts.Cache = minCache
	}
	if opts.Handles < minHandles {
		opts.Handles = minHandles
	}
	options := &opt.Options{
		Filter:                 filter.NewBloomFilter(10),
		DisableSeeksCompaction: true,
		OpenFilesCacheCapacity: opts.Handles,
		BlockCacheCapacity:     opts.Cache / 2 * opt.MiB,
		WriteBuffer:            opts.Cache / 4 * opt.MiB,
		ReadOnly:               opts.ReadOnly,
	}

	var (
		db  *leveldb.DB
		err error
	)
	if opts.Path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), options)
	} else {
		db, err = leveldb.OpenFile(opts.Path, options)
		if dberrors.IsCorrupted(err) {
			opts.Logger.Warn().Str("database", opts.Path).Err(err).Msg("recovering corrupted database")
			db, err = leveldb.RecoverFile(opts.Path, nil)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", opts.Path, err)
	}
	opts.Logger.Info().
		Str("database", opts.Path).
		Int("cache_mb", opts.Cache).
		Int("handles", opts.Handles).
		Bool("readonly", opts.ReadOnly).
		Msg("allocated cache and file handles")
	return &Store{path: opts.Path, db: db, rootHistory: opts.RootHistory, log: opts.Logger}, nil
}

// Close flushes pending data and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database directory, empty for an in-memory store.
func (s *Store) Path() string { return s.path }

// Stat returns a leveldb internal property such as "leveldb.stats".
func (s *Store) Stat(property string) (string, error) {
	return s.db.GetProperty(property)
}

// Ping reports whether the database is readable.
func (s *Store) Ping() error {
	_, err := s.db.Has(keySeq, nil)
	return err
}
