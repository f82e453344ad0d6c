// Package store persists conversations, messages and last-seen markers in
// pebble. Every write is synced before it returns.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
)

var errClosed = errors.New("store closed")

type Store struct {
	mu       sync.RWMutex // guards db against Close
	db       *pebble.DB
	path     string
	readOnly bool

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open opens (or creates) the pebble database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path)
	return &Store{db: db, path: path, locks: make(map[string]*sync.Mutex)}, nil
}

// OpenInMemory opens a store on an in-memory filesystem. Used by tests.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("mem", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if !s.readOnly {
		if err := s.db.Flush(); err != nil {
			logger.Error("pebble_flush_failed", "error", err)
		}
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

// ConversationLock returns the mutex serializing writes to one conversation
// (creates if needed).
func (s *Store) ConversationLock(conv string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if l, ok := s.locks[conv]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[conv] = l
	return l
}

func (s *Store) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, chaterr.Transient("get", errClosed)
	}
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, pebble.ErrNotFound
		}
		logger.Error("get_key_failed", "key", key, "error", err)
		return nil, chaterr.Transient("get "+key, err)
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// commit applies fn to a fresh batch and commits it synced.
func (s *Store) commit(op string, fn func(b *pebble.Batch) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return chaterr.Transient(op, errClosed)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("batch_commit_failed", "op", op, "error", err)
		return chaterr.Transient(op, err)
	}
	return nil
}

// scan calls fn for every key/value under prefix in key order.
func (s *Store) scan(prefix string, fn func(key, value []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return chaterr.Transient("scan", errClosed)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return chaterr.Transient("scan "+prefix, err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return chaterr.Transient("scan "+prefix, err)
	}
	return nil
}

func wrapDecode(kind, key string, err error) error {
	return fmt.Errorf("decode %s at %s: %w", kind, key, err)
}
