package store

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/cockroachdb/pebble"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
)

// AppendMessage persists msg and the conversation metadata that now points
// at it (LastSeq, LastMessage) atomically. Caller holds the conversation
// lock and assigned msg.Position = conv.LastSeq.
func (s *Store) AppendMessage(conv models.Conversation, msg models.Message) error {
	mdata, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	cdata, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return s.commit("append_message", func(b *pebble.Batch) error {
		if err := b.Set([]byte(GenMessageKey(msg.ConversationID, msg.Position)), mdata, nil); err != nil {
			return err
		}
		pos := strconv.FormatUint(msg.Position, 10)
		if err := b.Set([]byte(GenMessageIDKey(msg.ConversationID, msg.ID)), []byte(pos), nil); err != nil {
			return err
		}
		return b.Set([]byte(GenConversationMetaKey(conv.ID)), cdata, nil)
	})
}

// PutMessages overwrites existing messages in one batch (read flags, reactions).
func (s *Store) PutMessages(msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.commit("put_messages", func(b *pebble.Batch) error {
		for _, m := range msgs {
			data, err := json.Marshal(m)
			if err != nil {
				return err
			}
			if err := b.Set([]byte(GenMessageKey(m.ConversationID, m.Position)), data, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMessage resolves a message by id within a conversation.
func (s *Store) GetMessage(conv, msgID string) (models.Message, error) {
	raw, err := s.get(GenMessageIDKey(conv, msgID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, chaterr.NotFound("message", msgID)
		}
		return models.Message{}, err
	}
	pos, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return models.Message{}, wrapDecode("message index", GenMessageIDKey(conv, msgID), err)
	}
	return s.GetMessageAt(conv, pos)
}

// GetMessageAt loads the message stored at position pos.
func (s *Store) GetMessageAt(conv string, pos uint64) (models.Message, error) {
	key := GenMessageKey(conv, pos)
	raw, err := s.get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, chaterr.NotFound("message", key)
		}
		return models.Message{}, err
	}
	var m models.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.Message{}, wrapDecode("message", key, err)
	}
	return m, nil
}

// ListMessages returns every message of conv in position order.
func (s *Store) ListMessages(conv string) ([]models.Message, error) {
	out := []models.Message{}
	err := s.scan(GenMessagePrefix(conv), func(k, v []byte) error {
		var m models.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return wrapDecode("message", string(k), err)
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountUnread counts messages not sent by viewer whose read flag is still false.
func (s *Store) CountUnread(conv, viewer string) (int, error) {
	n := 0
	err := s.scan(GenMessagePrefix(conv), func(k, v []byte) error {
		var m struct {
			SenderID string `json:"sender_id"`
			Read     bool   `json:"read"`
		}
		if err := json.Unmarshal(v, &m); err != nil {
			return wrapDecode("message", string(k), err)
		}
		if m.SenderID != viewer && !m.Read {
			n++
		}
		return nil
	})
	return n, err
}
