// Package directory keeps each participant's conversation list and fans
// new messages and read marks out to the lists of both participants.
package directory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/broadcast"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/retry"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/store"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/timeutil"
)

type EventKind string

const (
	EventSnapshot EventKind = "snapshot"
	EventUpsert   EventKind = "upsert"
)

// Event is one delivery on a user's inbox stream. Summaries of an upsert
// replace the held rows with the same conversation id.
type Event struct {
	Kind      EventKind        `json:"kind"`
	Summaries []models.Summary `json:"summaries"`
}

type Directory struct {
	st     *store.Store
	topics *broadcast.Registry[Event]
	buffer int
	policy retry.Policy

	// fanMu orders inbox snapshots against fan-out: publishers hold it
	// shared (inside their conversation lock), subscribers exclusively.
	fanMu sync.RWMutex
}

func New(st *store.Store, buffer int, policy retry.Policy) *Directory {
	if buffer <= 0 {
		buffer = 64
	}
	return &Directory{
		st:     st,
		topics: broadcast.NewRegistry[Event]("inbox"),
		buffer: buffer,
		policy: policy,
	}
}

// CreateOrGet creates the conversation if it does not exist and returns
// it. An existing conversation is returned unchanged; title and
// participants of repeat calls are ignored.
func (d *Directory) CreateOrGet(ctx context.Context, id, title string, participants map[string]models.Participant) (models.Conversation, error) {
	if err := store.ValidateID("conversation", id); err != nil {
		return models.Conversation{}, err
	}
	if len(participants) != 2 {
		return models.Conversation{}, chaterr.Validation("participants", "exactly two participants required")
	}
	for uid := range participants {
		if err := store.ValidateID("participant", uid); err != nil {
			return models.Conversation{}, err
		}
	}

	var out models.Conversation
	created := false
	err := retry.Do(ctx, d.policy, "create_conversation", func() error {
		mu := d.st.ConversationLock(id)
		mu.Lock()
		defer mu.Unlock()

		existing, err := d.st.GetConversation(id)
		if err == nil {
			out = existing
			return nil
		}
		if !chaterr.IsNotFound(err) {
			return err
		}

		now := timeutil.Now().UnixMilli()
		conv := models.Conversation{
			ID:           id,
			Title:        strings.TrimSpace(title),
			Participants: make(map[string]models.Participant, 2),
			CreatedTS:    now,
			UpdatedTS:    now,
		}
		for uid, p := range participants {
			conv.Participants[uid] = p
		}
		if err := d.st.InsertConversation(conv); err != nil {
			return err
		}
		d.fanOut(conv)
		out = conv
		created = true
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}
	if created {
		logger.Info("conversation_created", "id", id, "title", out.Title)
	}
	return out, nil
}

// Get returns the conversation.
func (d *Directory) Get(id string) (models.Conversation, error) {
	if err := store.ValidateID("conversation", id); err != nil {
		return models.Conversation{}, err
	}
	return d.st.GetConversation(id)
}

// OnMessageAppended is the fan-out for one committed append. The message
// log calls it exactly once per message, with the conversation lock held
// and conv already carrying the new last-message summary.
func (d *Directory) OnMessageAppended(conv models.Conversation, msg models.Message) {
	d.fanOut(conv)
	logger.Debug("fanout_message", "conversation", conv.ID, "message", msg.ID)
}

// OnMessagesRead refreshes both participants' rows after a read mark so
// unread counts drop.
func (d *Directory) OnMessagesRead(conv models.Conversation, readerID string) {
	d.fanOut(conv)
	logger.Debug("fanout_read", "conversation", conv.ID, "reader", readerID)
}

func (d *Directory) fanOut(conv models.Conversation) {
	d.fanMu.RLock()
	defer d.fanMu.RUnlock()
	for uid := range conv.Participants {
		sum, err := d.summaryFor(conv, uid)
		if err != nil {
			// the durable write already happened; the inbox resyncs on next snapshot
			logger.Warn("fanout_failed", "conversation", conv.ID, "user", uid, "error", err)
			continue
		}
		d.topics.Publish(uid, Event{Kind: EventUpsert, Summaries: []models.Summary{sum}})
	}
}

func (d *Directory) summaryFor(conv models.Conversation, viewer string) (models.Summary, error) {
	n, err := d.st.CountUnread(conv.ID, viewer)
	if err != nil {
		return models.Summary{}, err
	}
	return models.Summary{Conversation: conv, LastMessage: conv.LastMessage, UnreadCount: n}, nil
}

// UnreadCount counts messages in the conversation not sent by viewerID and
// not yet read. Computed from the log on every call.
func (d *Directory) UnreadCount(convID, viewerID string) (int, error) {
	if err := store.ValidateID("conversation", convID); err != nil {
		return 0, err
	}
	if _, err := d.st.GetConversation(convID); err != nil {
		return 0, err
	}
	return d.st.CountUnread(convID, viewerID)
}

// ListFor returns userID's conversation summaries, most recently active
// first.
func (d *Directory) ListFor(userID string) ([]models.Summary, error) {
	if err := store.ValidateID("user", userID); err != nil {
		return nil, err
	}
	convIDs, err := d.st.ListConversationIDs(userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Summary, 0, len(convIDs))
	for _, id := range convIDs {
		conv, err := d.st.GetConversation(id)
		if err != nil {
			if chaterr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		sum, err := d.summaryFor(conv, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	SortSummaries(out)
	return out, nil
}

// SortSummaries orders rows by last activity, newest first, then by id.
func SortSummaries(rows []models.Summary) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Conversation, rows[j].Conversation
		if a.UpdatedTS != b.UpdatedTS {
			return a.UpdatedTS > b.UpdatedTS
		}
		return a.ID < b.ID
	})
}

// Subscription streams one user's inbox: an EventSnapshot with every
// summary, then upserts as messages arrive or are read.
type Subscription struct {
	*broadcast.Subscription[Event]
}

// SubscribeToConversationsOf opens userID's inbox stream. It ends with ctx.
func (d *Directory) SubscribeToConversationsOf(ctx context.Context, userID string) (*Subscription, error) {
	d.fanMu.Lock()
	rows, err := d.ListFor(userID)
	if err != nil {
		d.fanMu.Unlock()
		return nil, err
	}
	sub := d.topics.Subscribe(userID, Event{Kind: EventSnapshot, Summaries: rows}, d.buffer)
	d.fanMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return &Subscription{sub}, nil
}

// Prune stops inbox topics nobody is watching.
func (d *Directory) Prune() int {
	return d.topics.Prune()
}

func (d *Directory) Close() {
	d.topics.Close()
}
