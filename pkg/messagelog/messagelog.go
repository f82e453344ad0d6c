// Package messagelog is the per-conversation append-only message log.
//
// Every mutation of a conversation (append, reaction toggle, read mark)
// runs under that conversation's store lock: the pebble batch is committed,
// then the change is published to the conversation's topic before the lock
// is released. Subscribers therefore see changes in commit order, and a
// snapshot taken under the same lock is never missing or repeating a
// published change.
package messagelog

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/attachments"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/broadcast"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/ids"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/retry"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/store"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/telemetry"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/timeutil"
)

type EventKind string

const (
	EventSnapshot EventKind = "snapshot"
	EventAppend   EventKind = "append"
	EventUpdate   EventKind = "update"
)

// Event is one delivery on a conversation stream. Consumers apply
// Messages as upserts keyed by id; a snapshot replaces everything held.
type Event struct {
	Kind     EventKind        `json:"kind"`
	Messages []models.Message `json:"messages"`
}

// Notifier receives committed changes while the conversation lock is
// still held, so it observes them in log order.
type Notifier interface {
	OnMessageAppended(conv models.Conversation, msg models.Message)
	OnMessagesRead(conv models.Conversation, readerID string)
}

type Options struct {
	MaxAttachmentSize int64
	ReplyExcerptLen   int
	SubscriberBuffer  int
	Retry             retry.Policy
}

func (o *Options) applyDefaults() {
	if o.MaxAttachmentSize <= 0 {
		o.MaxAttachmentSize = attachments.DefaultMaxSize
	}
	if o.ReplyExcerptLen <= 0 {
		o.ReplyExcerptLen = 100
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 64
	}
	if o.Retry == (retry.Policy{}) {
		o.Retry = retry.DefaultPolicy
	}
}

type Log struct {
	st     *store.Store
	topics *broadcast.Registry[Event]
	opts   Options

	notifier Notifier
}

func New(st *store.Store, opts Options) *Log {
	opts.applyDefaults()
	return &Log{
		st:     st,
		topics: broadcast.NewRegistry[Event]("messages"),
		opts:   opts,
	}
}

// SetNotifier installs the fan-out hook. Call before serving traffic.
func (l *Log) SetNotifier(n Notifier) {
	l.notifier = n
}

// AppendRequest is one send. ReplyToID, when set, must name a message of
// the same conversation.
type AppendRequest struct {
	ConversationID string
	SenderID       string
	SenderName     string
	SenderRole     string
	Text           string
	Attachment     *models.Attachment
	ReplyToID      string
}

func (l *Log) validate(req *AppendRequest) error {
	if err := store.ValidateID("conversation", req.ConversationID); err != nil {
		return err
	}
	if req.SenderID == "" {
		return chaterr.Validation("sender_id", "required")
	}
	if strings.TrimSpace(req.Text) == "" && req.Attachment == nil {
		return chaterr.Validation("text", "message must have text or an attachment")
	}
	if a := req.Attachment; a != nil {
		if a.URL == "" {
			return chaterr.Validation("attachment.url", "required")
		}
		if a.Name == "" {
			return chaterr.Validation("attachment.name", "required")
		}
		switch a.Kind {
		case "":
			a.Kind = attachments.KindOf(a.Name, nil)
		case models.AttachmentImage, models.AttachmentFile:
		default:
			return chaterr.Validation("attachment.kind", "must be image or file")
		}
		if err := attachments.CheckSize(a.SizeBytes, l.opts.MaxAttachmentSize); err != nil {
			return err
		}
	}
	return nil
}

// Append validates and durably appends a message, then publishes it. The
// position is one past the conversation's last position.
func (l *Log) Append(ctx context.Context, req AppendRequest) (models.Message, error) {
	if req.Attachment != nil {
		a := *req.Attachment
		req.Attachment = &a
	}
	if err := l.validate(&req); err != nil {
		return models.Message{}, err
	}

	id := ids.NewMessageID()
	var out models.Message
	err := retry.Do(ctx, l.opts.Retry, "append_message", func() error {
		mu := l.st.ConversationLock(req.ConversationID)
		mu.Lock()
		defer mu.Unlock()

		// a previous attempt may have committed before reporting failure
		if existing, err := l.st.GetMessage(req.ConversationID, id); err == nil {
			out = existing
			return nil
		} else if !chaterr.IsNotFound(err) {
			return err
		}

		conv, err := l.st.GetConversation(req.ConversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(req.SenderID) {
			return chaterr.Forbidden(req.SenderID, conv.ID)
		}

		var reply *models.ReplyRef
		if req.ReplyToID != "" {
			target, err := l.st.GetMessage(conv.ID, req.ReplyToID)
			if err != nil {
				return err
			}
			reply = &models.ReplyRef{
				MessageID:  target.ID,
				Text:       excerpt(target.Text, l.opts.ReplyExcerptLen),
				SenderName: target.SenderName,
			}
		}

		now := timeutil.Now().UnixMilli()
		msg := models.Message{
			ID:             id,
			ConversationID: conv.ID,
			SenderID:       req.SenderID,
			SenderName:     req.SenderName,
			SenderRole:     req.SenderRole,
			Text:           req.Text,
			Position:       conv.LastSeq + 1,
			CreatedTS:      now,
			UpdatedTS:      now,
			Attachment:     req.Attachment,
			ReplyTo:        reply,
			Version:        1,
		}
		conv.LastSeq = msg.Position
		conv.UpdatedTS = now
		conv.LastMessage = summarize(msg)

		if err := l.st.AppendMessage(conv, msg); err != nil {
			return err
		}
		telemetry.MessagesAppended.Inc()
		l.topics.Publish(conv.ID, Event{Kind: EventAppend, Messages: []models.Message{msg.Clone()}})
		if l.notifier != nil {
			l.notifier.OnMessageAppended(conv, msg)
		}
		out = msg
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	logger.Debug("message_appended", "conversation", out.ConversationID, "id", out.ID, "position", out.Position)
	return out, nil
}

// ToggleReaction adds userID to emoji's set on the message, or removes it
// if present. An emptied set removes the emoji key.
func (l *Log) ToggleReaction(ctx context.Context, convID, msgID, userID, emoji string) (models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return models.Message{}, chaterr.Validation("emoji", "required")
	}
	if utf8.RuneCountInString(emoji) > 16 {
		return models.Message{}, chaterr.Validation("emoji", "too long")
	}
	if err := store.ValidateID("conversation", convID); err != nil {
		return models.Message{}, err
	}
	if err := store.ValidateID("message", msgID); err != nil {
		return models.Message{}, err
	}

	var out models.Message
	err := retry.Do(ctx, l.opts.Retry, "toggle_reaction", func() error {
		mu := l.st.ConversationLock(convID)
		mu.Lock()
		defer mu.Unlock()

		conv, err := l.st.GetConversation(convID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(userID) {
			return chaterr.Forbidden(userID, convID)
		}
		msg, err := l.st.GetMessage(convID, msgID)
		if err != nil {
			return err
		}
		msg.Reactions = toggle(msg.Reactions, emoji, userID)
		msg.Version++
		msg.UpdatedTS = timeutil.Now().UnixMilli()
		if err := l.st.PutMessages([]models.Message{msg}); err != nil {
			return err
		}
		telemetry.ReactionsToggled.Inc()
		l.topics.Publish(convID, Event{Kind: EventUpdate, Messages: []models.Message{msg.Clone()}})
		out = msg
		return nil
	})
	return out, err
}

// MarkRead flips the read flag of every message readerID received in the
// conversation and returns how many changed. Zero is not an error.
func (l *Log) MarkRead(ctx context.Context, convID, readerID string) (int, error) {
	if err := store.ValidateID("conversation", convID); err != nil {
		return 0, err
	}
	changed := 0
	err := retry.Do(ctx, l.opts.Retry, "mark_read", func() error {
		mu := l.st.ConversationLock(convID)
		mu.Lock()
		defer mu.Unlock()

		conv, err := l.st.GetConversation(convID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(readerID) {
			return chaterr.Forbidden(readerID, convID)
		}
		msgs, err := l.st.ListMessages(convID)
		if err != nil {
			return err
		}
		now := timeutil.Now().UnixMilli()
		var updated []models.Message
		for _, m := range msgs {
			if m.SenderID == readerID || m.Read {
				continue
			}
			m.Read = true
			m.Version++
			m.UpdatedTS = now
			updated = append(updated, m)
		}
		if len(updated) == 0 {
			changed = 0
			return nil
		}
		if err := l.st.PutMessages(updated); err != nil {
			return err
		}
		telemetry.MessagesMarkedRead.Add(float64(len(updated)))
		out := make([]models.Message, len(updated))
		for i, m := range updated {
			out[i] = m.Clone()
		}
		l.topics.Publish(convID, Event{Kind: EventUpdate, Messages: out})
		if l.notifier != nil {
			l.notifier.OnMessagesRead(conv, readerID)
		}
		changed = len(updated)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		logger.Debug("messages_marked_read", "conversation", convID, "reader", readerID, "count", changed)
	}
	return changed, nil
}

// Get returns one message.
func (l *Log) Get(convID, msgID string) (models.Message, error) {
	if _, err := l.st.GetConversation(convID); err != nil {
		return models.Message{}, err
	}
	return l.st.GetMessage(convID, msgID)
}

// List returns every message of the conversation in position order.
func (l *Log) List(convID string) ([]models.Message, error) {
	if _, err := l.st.GetConversation(convID); err != nil {
		return nil, err
	}
	return l.st.ListMessages(convID)
}

// Subscription streams a conversation: first an EventSnapshot, then every
// append and update in log order.
type Subscription struct {
	*broadcast.Subscription[Event]
}

// Subscribe opens a stream on convID. The subscription ends when ctx is
// done, Close is called, or the subscriber lags (Err() == broadcast.ErrLagged).
func (l *Log) Subscribe(ctx context.Context, convID string) (*Subscription, error) {
	if err := store.ValidateID("conversation", convID); err != nil {
		return nil, err
	}
	mu := l.st.ConversationLock(convID)
	mu.Lock()
	if _, err := l.st.GetConversation(convID); err != nil {
		mu.Unlock()
		return nil, err
	}
	msgs, err := l.st.ListMessages(convID)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	sub := l.topics.Subscribe(convID, Event{Kind: EventSnapshot, Messages: msgs}, l.opts.SubscriberBuffer)
	mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return &Subscription{sub}, nil
}

// Prune stops topics of conversations nobody is watching.
func (l *Log) Prune() int {
	return l.topics.Prune()
}

// Close ends every live subscription.
func (l *Log) Close() {
	l.topics.Close()
}

func summarize(m models.Message) *models.LastMessage {
	return &models.LastMessage{
		MessageID:     m.ID,
		Text:          m.Text,
		SenderID:      m.SenderID,
		SenderName:    m.SenderName,
		HasAttachment: m.Attachment != nil,
		Timestamp:     m.CreatedTS,
	}
}

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// toggle returns reactions with userID flipped in emoji's set. The input
// map is not modified.
func toggle(reactions map[string][]string, emoji, userID string) map[string][]string {
	out := make(map[string][]string, len(reactions)+1)
	for k, v := range reactions {
		out[k] = append([]string(nil), v...)
	}
	users := out[emoji]
	idx := sort.SearchStrings(users, userID)
	if idx < len(users) && users[idx] == userID {
		users = append(users[:idx], users[idx+1:]...)
	} else {
		users = append(users, "")
		copy(users[idx+1:], users[idx:])
		users[idx] = userID
	}
	if len(users) == 0 {
		delete(out, emoji)
	} else {
		out[emoji] = users
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
