// Package handlers implements the REST and websocket endpoints of the
// conversation service.
package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/auth"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/router"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/attachments"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/session"
)

const defaultPingInterval = 30 * time.Second

type Handlers struct {
	Sessions *session.Service
	Blobs    *attachments.DiskStore

	// Ready backs /readyz.
	Ready func() bool

	AllowedOrigins []string
	PingInterval   time.Duration

	// Base bounds every websocket connection; cancel it at shutdown.
	Base context.Context

	// Limiter throttles mutating websocket frames per user. Nil allows all.
	Limiter *auth.LimiterPool

	upgrader websocket.FastHTTPUpgrader

	mu       sync.Mutex
	draining bool
	streams  sync.WaitGroup
}

// New returns handlers with the websocket upgrader configured.
func New(sessions *session.Service, blobs *attachments.DiskStore, allowedOrigins []string) *Handlers {
	h := &Handlers{
		Sessions:       sessions,
		Blobs:          blobs,
		AllowedOrigins: allowedOrigins,
		PingInterval:   defaultPingInterval,
		Base:           context.Background(),
	}
	h.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handlers) checkOrigin(ctx *fasthttp.RequestCtx) bool {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" {
		return true
	}
	if auth.OriginAllowed(origin, h.AllowedOrigins) {
		return true
	}
	// same-origin pages
	host := string(ctx.Host())
	return origin == "http://"+host || origin == "https://"+host
}

// caller returns the authenticated identity or answers 401.
func caller(ctx *fasthttp.RequestCtx) (models.Identity, bool) {
	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "missing user identity")
		return models.Identity{}, false
	}
	return id, true
}

// member loads the conversation and checks userID takes part in it,
// answering 404/403 otherwise.
func (h *Handlers) member(ctx *fasthttp.RequestCtx, convID, userID string) (models.Conversation, bool) {
	conv, err := h.Sessions.Directory.Get(convID)
	if err != nil {
		router.WriteError(ctx, err)
		return models.Conversation{}, false
	}
	if !conv.HasParticipant(userID) {
		router.WriteJSONError(ctx, fasthttp.StatusForbidden, "not a participant of this conversation")
		return models.Conversation{}, false
	}
	return conv, true
}

func (h *Handlers) Healthz(ctx *fasthttp.RequestCtx) {
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok", "service": "chatd"})
}

func (h *Handlers) Readyz(ctx *fasthttp.RequestCtx) {
	if h.Ready != nil && !h.Ready() {
		router.WriteJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ready"})
}
