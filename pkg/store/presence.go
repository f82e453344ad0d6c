package store

import (
	"errors"
	"strconv"

	"github.com/cockroachdb/pebble"
)

// SaveLastSeen records when userID was last seen (unix ms).
func (s *Store) SaveLastSeen(userID string, ts int64) error {
	return s.commit("save_last_seen", func(b *pebble.Batch) error {
		return b.Set([]byte(GenLastSeenKey(userID)), []byte(strconv.FormatInt(ts, 10)), nil)
	})
}

// LoadLastSeen returns the stored last-seen timestamp, if any.
func (s *Store) LoadLastSeen(userID string) (int64, bool, error) {
	raw, err := s.get(GenLastSeenKey(userID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	ts, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, wrapDecode("last seen", GenLastSeenKey(userID), err)
	}
	return ts, true, nil
}
