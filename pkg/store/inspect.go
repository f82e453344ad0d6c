package store

import (
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
)

// OpenReadOnly opens an existing database without taking write ownership.
// Used by offline tooling.
func OpenReadOnly(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{ReadOnly: true, ErrorIfNotExists: true})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "read_only", true, "error", err)
		return nil, err
	}
	return &Store{db: db, path: path, readOnly: true, locks: make(map[string]*sync.Mutex)}, nil
}

// KeyStats counts keys per record kind.
type KeyStats struct {
	Total         int `json:"total"`
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	MessageIndex  int `json:"message_index"`
	Memberships   int `json:"memberships"`
	LastSeen      int `json:"last_seen"`
	Other         int `json:"other"`
}

// Stats walks the whole keyspace.
func (s *Store) Stats() (KeyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st KeyStats
	if s.db == nil {
		return st, chaterr.Transient("stats", errClosed)
	}
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return st, chaterr.Transient("stats", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		st.Total++
		parts := strings.Split(key, ":")
		switch {
		case len(parts) == 3 && parts[0] == "c" && parts[2] == "meta":
			st.Conversations++
		case len(parts) == 4 && parts[0] == "c" && parts[2] == "m":
			st.Messages++
		case len(parts) == 4 && parts[0] == "c" && parts[2] == "id":
			st.MessageIndex++
		case len(parts) == 4 && parts[0] == "u" && parts[2] == "c":
			st.Memberships++
		case len(parts) == 2 && parts[0] == "p":
			st.LastSeen++
		default:
			st.Other++
		}
	}
	if err := iter.Error(); err != nil {
		return st, chaterr.Transient("stats", err)
	}
	return st, nil
}
