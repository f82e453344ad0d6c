// Package session is the consumer-facing surface of the conversation
// subsystem: one Session per open conversation view, one Inbox per open
// conversation list. Both recover from dropped streams by resubscribing,
// which re-delivers a fresh snapshot.
package session

import (
	"context"
	"errors"
	"sort"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/attachments"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/broadcast"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/directory"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/messagelog"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/presence"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/retry"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/typing"
)

// Service wires the registers and the log together for sessions.
type Service struct {
	Log       *messagelog.Log
	Directory *directory.Directory
	Presence  *presence.Register
	Typing    *typing.Register

	MaxAttachmentSize int64
	Retry             retry.Policy
}

// View is the state of one open conversation as its viewer sees it.
type View struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
	TypingUsers    []string         `json:"typing_users"`
	Presence       models.Presence  `json:"presence"`
}

type Session struct {
	svc         *Service
	ident       models.Identity
	conv        models.Conversation
	counterpart string

	ctx     context.Context
	cancel  context.CancelFunc
	release func()

	msgs    *messagelog.Subscription
	typists *typing.Watcher
	online  *presence.Subscription

	views chan View
	done  chan struct{}
	err   error
}

// Open starts a session for ident on convID. The caller's presence is
// bound to the session: it goes offline when ctx ends or Close is called.
func (svc *Service) Open(ctx context.Context, ident models.Identity, convID string) (*Session, error) {
	conv, err := svc.Directory.Get(convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(ident.UserID) {
		return nil, chaterr.Forbidden(ident.UserID, convID)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		svc:         svc,
		ident:       ident,
		conv:        conv,
		counterpart: conv.Counterpart(ident.UserID),
		ctx:         sctx,
		cancel:      cancel,
		views:       make(chan View, 1),
		done:        make(chan struct{}),
	}
	s.release = svc.Presence.Bind(sctx, ident.UserID)

	if err := s.subscribeMessages(); err != nil {
		cancel()
		s.release()
		return nil, err
	}
	s.typists = svc.Typing.Subscribe(sctx, convID, ident.UserID)
	s.online = svc.Presence.Subscribe(sctx, []string{s.counterpart})

	go s.run()
	logger.Info("session_opened", "user", ident.UserID, "conversation", convID)
	return s, nil
}

func (s *Session) subscribeMessages() error {
	return retry.Do(s.ctx, s.svc.Retry, "subscribe_messages", func() error {
		sub, err := s.svc.Log.Subscribe(s.ctx, s.conv.ID)
		if err != nil {
			return err
		}
		s.msgs = sub
		return nil
	})
}

// Views delivers the latest View; a slow reader skips intermediate ones.
// Closed when the session ends.
func (s *Session) Views() <-chan View { return s.views }

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended on its own; nil after Close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Session) Conversation() models.Conversation { return s.conv }

func (s *Session) Identity() models.Identity { return s.ident }

// Close ends the session and releases the caller's presence.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.views)
	defer s.release()
	defer s.cancel()

	held := make(map[string]models.Message)
	var typists []string
	var counterpart models.Presence
	var haveMsgs, haveTyping, havePresence bool

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.msgs.C():
			if !ok {
				if !s.recoverMessages() {
					return
				}
				haveMsgs = false
				continue
			}
			if ev.Kind == messagelog.EventSnapshot {
				held = make(map[string]models.Message, len(ev.Messages))
			}
			for _, m := range ev.Messages {
				if cur, ok := held[m.ID]; ok && cur.Version > m.Version {
					continue
				}
				held[m.ID] = m
			}
			haveMsgs = true
		case set, ok := <-s.typists.C():
			if !ok {
				if !s.recoverTyping() {
					return
				}
				continue
			}
			typists = set
			haveTyping = true
		case batch, ok := <-s.online.C():
			if !ok {
				if !s.recoverPresence() {
					return
				}
				continue
			}
			for _, p := range batch {
				if p.UserID == s.counterpart {
					counterpart = p
				}
			}
			havePresence = true
		}

		if haveMsgs && haveTyping && havePresence {
			s.publish(View{
				ConversationID: s.conv.ID,
				Messages:       ordered(held),
				TypingUsers:    typists,
				Presence:       counterpart,
			})
		}
	}
}

func (s *Session) recoverMessages() bool {
	if s.ctx.Err() != nil {
		return false
	}
	err := s.msgs.Err()
	if errors.Is(err, broadcast.ErrClosed) {
		s.err = err
		return false
	}
	logger.Warn("session_resubscribe", "stream", "messages", "conversation", s.conv.ID, "user", s.ident.UserID, "reason", err)
	if err := s.subscribeMessages(); err != nil {
		if s.ctx.Err() == nil {
			s.err = err
		}
		return false
	}
	return true
}

func (s *Session) recoverTyping() bool {
	if s.ctx.Err() != nil {
		return false
	}
	if err := s.typists.Err(); errors.Is(err, broadcast.ErrClosed) {
		s.err = err
		return false
	}
	logger.Warn("session_resubscribe", "stream", "typing", "conversation", s.conv.ID, "user", s.ident.UserID)
	s.typists = s.svc.Typing.Subscribe(s.ctx, s.conv.ID, s.ident.UserID)
	return true
}

func (s *Session) recoverPresence() bool {
	if s.ctx.Err() != nil {
		return false
	}
	if err := s.online.Err(); errors.Is(err, broadcast.ErrClosed) {
		s.err = err
		return false
	}
	logger.Warn("session_resubscribe", "stream", "presence", "conversation", s.conv.ID, "user", s.ident.UserID)
	s.online = s.svc.Presence.Subscribe(s.ctx, []string{s.counterpart})
	return true
}

func (s *Session) publish(v View) {
	select {
	case s.views <- v:
		return
	default:
	}
	select {
	case <-s.views:
	default:
	}
	s.views <- v
}

func ordered(held map[string]models.Message) []models.Message {
	out := make([]models.Message, 0, len(held))
	for _, m := range held {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Send appends a message as the session's user and clears their typing
// record. Oversized attachments are rejected before the log is touched.
func (s *Session) Send(ctx context.Context, text string, att *models.Attachment, replyTo string) (models.Message, error) {
	if att != nil {
		if err := attachments.CheckSize(att.SizeBytes, s.svc.MaxAttachmentSize); err != nil {
			return models.Message{}, err
		}
	}
	msg, err := s.svc.Log.Append(ctx, messagelog.AppendRequest{
		ConversationID: s.conv.ID,
		SenderID:       s.ident.UserID,
		SenderName:     s.ident.DisplayName,
		SenderRole:     s.ident.Role,
		Text:           text,
		Attachment:     att,
		ReplyToID:      replyTo,
	})
	if err != nil {
		return models.Message{}, err
	}
	s.svc.Typing.ClearTyping(s.conv.ID, s.ident.UserID)
	return msg, nil
}

func (s *Session) React(ctx context.Context, msgID, emoji string) (models.Message, error) {
	return s.svc.Log.ToggleReaction(ctx, s.conv.ID, msgID, s.ident.UserID, emoji)
}

// MarkRead marks every message the user received here as read.
func (s *Session) MarkRead(ctx context.Context) (int, error) {
	return s.svc.Log.MarkRead(ctx, s.conv.ID, s.ident.UserID)
}

func (s *Session) SetTyping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.svc.Typing.SetTyping(s.conv.ID, s.ident.UserID)
	return nil
}

func (s *Session) ClearTyping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.svc.Typing.ClearTyping(s.conv.ID, s.ident.UserID)
	return nil
}

// Inbox streams one user's conversation list, most recent first.
type Inbox struct {
	svc  *Service
	user string

	ctx    context.Context
	cancel context.CancelFunc
	sub    *directory.Subscription

	views chan []models.Summary
	done  chan struct{}
	err   error
}

// OpenInbox subscribes to ident's conversations until ctx ends.
func (svc *Service) OpenInbox(ctx context.Context, ident models.Identity) (*Inbox, error) {
	ictx, cancel := context.WithCancel(ctx)
	in := &Inbox{
		svc:    svc,
		user:   ident.UserID,
		ctx:    ictx,
		cancel: cancel,
		views:  make(chan []models.Summary, 1),
		done:   make(chan struct{}),
	}
	if err := in.subscribe(); err != nil {
		cancel()
		return nil, err
	}
	go in.run()
	return in, nil
}

func (in *Inbox) subscribe() error {
	return retry.Do(in.ctx, in.svc.Retry, "subscribe_inbox", func() error {
		sub, err := in.svc.Directory.SubscribeToConversationsOf(in.ctx, in.user)
		if err != nil {
			return err
		}
		in.sub = sub
		return nil
	})
}

func (in *Inbox) Views() <-chan []models.Summary { return in.views }

func (in *Inbox) Done() <-chan struct{} { return in.done }

// Err reports why the inbox ended on its own; nil after Close.
func (in *Inbox) Err() error {
	select {
	case <-in.done:
		return in.err
	default:
		return nil
	}
}

func (in *Inbox) Close() {
	in.cancel()
	<-in.done
}

func (in *Inbox) run() {
	defer close(in.done)
	defer close(in.views)
	defer in.cancel()

	rows := make(map[string]models.Summary)
	for {
		select {
		case <-in.ctx.Done():
			return
		case ev, ok := <-in.sub.C():
			if !ok {
				if in.ctx.Err() != nil {
					return
				}
				err := in.sub.Err()
				if errors.Is(err, broadcast.ErrClosed) {
					in.err = err
					return
				}
				logger.Warn("session_resubscribe", "stream", "inbox", "user", in.user, "reason", err)
				if err := in.subscribe(); err != nil {
					if in.ctx.Err() == nil {
						in.err = err
					}
					return
				}
				continue
			}
			if ev.Kind == directory.EventSnapshot {
				rows = make(map[string]models.Summary, len(ev.Summaries))
			}
			for _, sum := range ev.Summaries {
				rows[sum.Conversation.ID] = sum
			}
			out := make([]models.Summary, 0, len(rows))
			for _, sum := range rows {
				out = append(out, sum)
			}
			directory.SortSummaries(out)
			in.publish(out)
		}
	}
}

func (in *Inbox) publish(rows []models.Summary) {
	select {
	case in.views <- rows:
		return
	default:
	}
	select {
	case <-in.views:
	default:
	}
	in.views <- rows
}
