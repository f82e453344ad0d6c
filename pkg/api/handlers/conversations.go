package handlers

import (
	"github.com/valyala/fasthttp"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/router"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
)

type createConversationRequest struct {
	ID           string                        `json:"id"`
	Title        string                        `json:"title"`
	Participants map[string]models.Participant `json:"participants"`
}

// CreateConversation is create-or-get: safe to call on every page load.
func (h *Handlers) CreateConversation(ctx *fasthttp.RequestCtx) {
	// resolve
	id, ok := caller(ctx)
	if !ok {
		return
	}

	// parse
	var req createConversationRequest
	if err := router.DecodeJSON(ctx, &req); err != nil {
		router.WriteError(ctx, err)
		return
	}

	// validate
	if _, in := req.Participants[id.UserID]; !in {
		router.WriteError(ctx, chaterr.Forbidden(id.UserID, req.ID))
		return
	}

	conv, err := h.Sessions.Directory.CreateOrGet(ctx, req.ID, req.Title, req.Participants)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	if !conv.HasParticipant(id.UserID) {
		// existing conversation with other participants
		router.WriteError(ctx, chaterr.Forbidden(id.UserID, conv.ID))
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, conv)
}

// ListConversations returns the caller's summaries, most recent first.
func (h *Handlers) ListConversations(ctx *fasthttp.RequestCtx) {
	id, ok := caller(ctx)
	if !ok {
		return
	}
	rows, err := h.Sessions.Directory.ListFor(id.UserID)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{"conversations": rows})
}

func (h *Handlers) GetConversation(ctx *fasthttp.RequestCtx) {
	id, ok := caller(ctx)
	if !ok {
		return
	}
	conv, ok := h.member(ctx, router.Param(ctx, "id"), id.UserID)
	if !ok {
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, conv)
}

func (h *Handlers) UnreadCount(ctx *fasthttp.RequestCtx) {
	id, ok := caller(ctx)
	if !ok {
		return
	}
	convID := router.Param(ctx, "id")
	if _, ok := h.member(ctx, convID, id.UserID); !ok {
		return
	}
	n, err := h.Sessions.Directory.UnreadCount(convID, id.UserID)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{"conversation_id": convID, "unread_count": n})
}
