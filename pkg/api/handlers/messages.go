package handlers

import (
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/router"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/attachments"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/messagelog"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
)

type sendRequest struct {
	Text       string             `json:"text"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	ReplyTo    string             `json:"reply_to,omitempty"`
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

// ListMessages returns messages in position order. after=<position> and
// limit=<n> page forward.
func (h *Handlers) ListMessages(ctx *fasthttp.RequestCtx) {
	id, ok := caller(ctx)
	if !ok {
		return
	}
	convID := router.Param(ctx, "id")
	if _, ok := h.member(ctx, convID, id.UserID); !ok {
		return
	}

	args := ctx.QueryArgs()
	var after uint64
	if v := string(args.Peek("after")); v != "" {
		p, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			router.WriteError(ctx, chaterr.Validation("after", "must be a position"))
			return
		}
		after = p
	}
	limit := 0
	if v := string(args.Peek("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			router.WriteError(ctx, chaterr.Validation("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	msgs, err := h.Sessions.Log.List(convID)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Position <= after {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{"messages": out})
}

func (h *Handlers) SendMessage(ctx *fasthttp.RequestCtx) {
	// resolve
	id, ok := caller(ctx)
	if !ok {
		return
	}
	convID := router.Param(ctx, "id")

	// parse
	var req sendRequest
	if err := router.DecodeJSON(ctx, &req); err != nil {
		router.WriteError(ctx, err)
		return
	}

	// validate: oversized files never reach the log
	if req.Attachment != nil {
		if err := attachments.CheckSize(req.Attachment.SizeBytes, h.Sessions.MaxAttachmentSize); err != nil {
			router.WriteError(ctx, err)
			return
		}
	}

	msg, err := h.Sessions.Log.Append(ctx, messagelog.AppendRequest{
		ConversationID: convID,
		SenderID:       id.UserID,
		SenderName:     id.DisplayName,
		SenderRole:     id.Role,
		Text:           req.Text,
		Attachment:     req.Attachment,
		ReplyToID:      req.ReplyTo,
	})
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	h.Sessions.Typing.ClearTyping(convID, id.UserID)
	router.WriteJSON(ctx, fasthttp.StatusCreated, msg)
}

func (h *Handlers) ToggleReaction(ctx *fasthttp.RequestCtx) {
	id, ok := caller(ctx)
	if !ok {
		return
	}
	var req reactRequest
	if err := router.DecodeJSON(ctx, &req); err != nil {
		router.WriteError(ctx, err)
		return
	}
	msg, err := h.Sessions.Log.ToggleReaction(ctx, router.Param(ctx, "id"), router.Param(ctx, "msgId"), id.UserID, req.Emoji)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, msg)
}

func (h *Handlers) MarkRead(ctx *fasthttp.RequestCtx) {
	id, ok := caller(ctx)
	if !ok {
		return
	}
	n, err := h.Sessions.Log.MarkRead(ctx, router.Param(ctx, "id"), id.UserID)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]int{"marked": n})
}

func (h *Handlers) SetTyping(ctx *fasthttp.RequestCtx) {
	id, ok := caller(ctx)
	if !ok {
		return
	}
	convID := router.Param(ctx, "id")
	if _, ok := h.member(ctx, convID, id.UserID); !ok {
		return
	}
	h.Sessions.Typing.SetTyping(convID, id.UserID)
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *Handlers) ClearTyping(ctx *fasthttp.RequestCtx) {
	id, ok := caller(ctx)
	if !ok {
		return
	}
	convID := router.Param(ctx, "id")
	if _, ok := h.member(ctx, convID, id.UserID); !ok {
		return
	}
	h.Sessions.Typing.ClearTyping(convID, id.UserID)
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}
