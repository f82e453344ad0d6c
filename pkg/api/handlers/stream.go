package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/router"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/ids"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/session"
)

const (
	maxFrameBytes = 64 << 10
	writeWait     = 10 * time.Second
	replyBuffer   = 32
)

// inFrame is a client action on a conversation stream.
type inFrame struct {
	Type       string             `json:"type"` // send | react | read | typing | typing_clear
	Ref        string             `json:"ref,omitempty"`
	Text       string             `json:"text,omitempty"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	ReplyTo    string             `json:"reply_to,omitempty"`
	MessageID  string             `json:"message_id,omitempty"`
	Emoji      string             `json:"emoji,omitempty"`
}

// outFrame is anything the server pushes.
type outFrame struct {
	Type          string           `json:"type"` // view | inbox | ack | error
	Ref           string           `json:"ref,omitempty"`
	View          *session.View    `json:"view,omitempty"`
	Conversations []models.Summary `json:"conversations,omitempty"`
	Message       *models.Message  `json:"message,omitempty"`
	Marked        *int             `json:"marked,omitempty"`
	Error         string           `json:"error,omitempty"`
	Status        int              `json:"status,omitempty"`
}

func errorFrame(ref string, err error) outFrame {
	status := router.StatusOf(err)
	msg := err.Error()
	if status == fasthttp.StatusInternalServerError {
		msg = "internal error"
	}
	return outFrame{Type: "error", Ref: ref, Error: msg, Status: status}
}

// client owns one websocket. Only writeLoop writes to conn.
type client struct {
	conn    *websocket.Conn
	ping    time.Duration
	replies chan outFrame
}

func newClient(conn *websocket.Conn, ping time.Duration) *client {
	if ping <= 0 {
		ping = defaultPingInterval
	}
	return &client{conn: conn, ping: ping, replies: make(chan outFrame, replyBuffer)}
}

func (c *client) reply(f outFrame) {
	select {
	case c.replies <- f:
	default:
		logger.Warn("ws_reply_dropped", "type", f.Type, "ref", f.Ref)
	}
}

// readLoop decodes frames until the connection fails, then cancels the
// connection context. A missed pong ends the connection after two ping
// intervals.
func (c *client) readLoop(cancel context.CancelFunc, handle func(inFrame)) {
	defer cancel()
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.ping))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * c.ping))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("ws_read_failed", "error", err)
			}
			return
		}
		var f inFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.reply(outFrame{Type: "error", Error: "invalid frame", Status: fasthttp.StatusBadRequest})
			continue
		}
		handle(f)
	}
}

func (c *client) write(f outFrame) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := json.NewEncoder(bb).Encode(f); err != nil {
		logger.Error("ws_encode_failed", "type", f.Type, "error", err)
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, bb.B)
}

// writeLoop pushes every value of updates (wrapped by frame) and queued
// replies until ctx ends, updates closes or a write fails.
func writeLoop[T any](ctx context.Context, c *client, updates <-chan T, frame func(T) outFrame, ended func() error) {
	ticker := time.NewTicker(c.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case v, ok := <-updates:
			if !ok {
				if err := ended(); err != nil {
					_ = c.write(errorFrame("", err))
				}
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"), time.Now().Add(writeWait))
				return
			}
			if err := c.write(frame(v)); err != nil {
				return
			}
		case f := <-c.replies:
			if err := c.write(f); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// ConversationStream upgrades to a websocket carrying one conversation
// session. The caller stays online for as long as the socket lives.
func (h *Handlers) ConversationStream(ctx *fasthttp.RequestCtx) {
	id, ok := caller(ctx)
	if !ok {
		return
	}
	convID := router.Param(ctx, "id")
	if _, ok := h.member(ctx, convID, id.UserID); !ok {
		return
	}
	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		h.serveConversation(conn, id, convID)
	})
	if err != nil {
		logger.Warn("ws_upgrade_failed", "path", string(ctx.Path()), "error", err)
	}
}

func (h *Handlers) serveConversation(conn *websocket.Conn, id models.Identity, convID string) {
	defer conn.Close()
	if !h.enter() {
		return
	}
	defer h.streams.Done()
	ctx, cancel := context.WithCancel(h.base())
	defer cancel()

	c := newClient(conn, h.PingInterval)
	sess, err := h.Sessions.Open(ctx, id, convID)
	if err != nil {
		_ = c.write(errorFrame("", err))
		return
	}
	defer sess.Close()
	connID := ids.NewConnID()
	logger.Info("ws_conversation_opened", "conn", connID, "user", id.UserID, "conversation", convID)

	go c.readLoop(cancel, func(f inFrame) { h.dispatch(ctx, sess, c, f) })
	writeLoop(ctx, c, sess.Views(), func(v session.View) outFrame {
		return outFrame{Type: "view", View: &v}
	}, sess.Err)
	logger.Info("ws_conversation_closed", "conn", connID, "user", id.UserID, "conversation", convID)
}

// mutating reports whether a frame type writes on behalf of the user.
func mutating(frameType string) bool {
	switch frameType {
	case "send", "react", "read", "typing", "typing_clear":
		return true
	}
	return false
}

func (h *Handlers) dispatch(ctx context.Context, sess *session.Session, c *client, f inFrame) {
	if mutating(f.Type) && h.Limiter != nil && !h.Limiter.Allow(sess.Identity().UserID) {
		c.reply(outFrame{Type: "error", Ref: f.Ref, Error: "rate limit exceeded", Status: fasthttp.StatusTooManyRequests})
		return
	}
	var (
		msg models.Message
		err error
	)
	switch f.Type {
	case "send":
		msg, err = sess.Send(ctx, f.Text, f.Attachment, f.ReplyTo)
		if err == nil {
			c.reply(outFrame{Type: "ack", Ref: f.Ref, Message: &msg})
		}
	case "react":
		msg, err = sess.React(ctx, f.MessageID, f.Emoji)
		if err == nil {
			c.reply(outFrame{Type: "ack", Ref: f.Ref, Message: &msg})
		}
	case "read":
		var n int
		n, err = sess.MarkRead(ctx)
		if err == nil {
			c.reply(outFrame{Type: "ack", Ref: f.Ref, Marked: &n})
		}
	case "typing":
		err = sess.SetTyping(ctx)
	case "typing_clear":
		err = sess.ClearTyping(ctx)
	default:
		c.reply(outFrame{Type: "error", Ref: f.Ref, Error: "unknown frame type", Status: fasthttp.StatusBadRequest})
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.reply(errorFrame(f.Ref, err))
	}
}

// InboxStream upgrades to a websocket carrying the caller's conversation
// list.
func (h *Handlers) InboxStream(ctx *fasthttp.RequestCtx) {
	id, ok := caller(ctx)
	if !ok {
		return
	}
	err := h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		h.serveInbox(conn, id)
	})
	if err != nil {
		logger.Warn("ws_upgrade_failed", "path", string(ctx.Path()), "error", err)
	}
}

func (h *Handlers) serveInbox(conn *websocket.Conn, id models.Identity) {
	defer conn.Close()
	if !h.enter() {
		return
	}
	defer h.streams.Done()
	ctx, cancel := context.WithCancel(h.base())
	defer cancel()

	c := newClient(conn, h.PingInterval)
	inbox, err := h.Sessions.OpenInbox(ctx, id)
	if err != nil {
		_ = c.write(errorFrame("", err))
		return
	}
	defer inbox.Close()

	go c.readLoop(cancel, func(f inFrame) {
		c.reply(outFrame{Type: "error", Ref: f.Ref, Error: "inbox stream is read-only", Status: fasthttp.StatusBadRequest})
	})
	writeLoop(ctx, c, inbox.Views(), func(rows []models.Summary) outFrame {
		return outFrame{Type: "inbox", Conversations: rows}
	}, inbox.Err)
}

// enter registers a live stream handler; false once Drain has begun.
func (h *Handlers) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.streams.Add(1)
	return true
}

// Drain refuses new streams and waits for live ones to finish their
// cleanup, or for ctx to end. Cancel Base first so they start closing.
func (h *Handlers) Drain(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handlers) base() context.Context {
	if h.Base == nil {
		return context.Background()
	}
	return h.Base
}
