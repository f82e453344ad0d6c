package store

import (
	"encoding/json"
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
)

// GetConversation loads conversation metadata.
func (s *Store) GetConversation(id string) (models.Conversation, error) {
	key := GenConversationMetaKey(id)
	raw, err := s.get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Conversation{}, chaterr.NotFound("conversation", id)
		}
		return models.Conversation{}, err
	}
	var c models.Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		return models.Conversation{}, wrapDecode("conversation", key, err)
	}
	return c, nil
}

// InsertConversation writes metadata and the membership index of every
// participant in one batch. Caller holds the conversation lock and has
// checked the conversation does not exist.
func (s *Store) InsertConversation(c models.Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.commit("insert_conversation", func(b *pebble.Batch) error {
		if err := b.Set([]byte(GenConversationMetaKey(c.ID)), data, nil); err != nil {
			return err
		}
		for uid := range c.Participants {
			if err := b.Set([]byte(GenUserConversationKey(uid, c.ID)), nil, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListConversationIDs returns the ids of every conversation userID belongs to.
func (s *Store) ListConversationIDs(userID string) ([]string, error) {
	var ids []string
	err := s.scan(GenUserConversationPrefix(userID), func(k, _ []byte) error {
		_, conv, err := ParseUserConversationKey(string(k))
		if err != nil {
			return err
		}
		ids = append(ids, conv)
		return nil
	})
	return ids, err
}
