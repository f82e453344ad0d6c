// Package api assembles the HTTP surface: routes, middleware and the
// metrics endpoint.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/auth"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/handlers"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/router"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
)

// wrapHTTPHandler adapts a net/http handler to fasthttp.
func wrapHTTPHandler(h http.Handler) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(h)
}

// RegisterRoutes wires every endpoint onto r.
func RegisterRoutes(r *router.Router, h *handlers.Handlers) {
	// conversations
	r.POST("/v1/conversations", h.CreateConversation)
	r.GET("/v1/conversations", h.ListConversations)
	r.GET("/v1/conversations/{id}", h.GetConversation)
	r.GET("/v1/conversations/{id}/unread", h.UnreadCount)

	// messages
	r.GET("/v1/conversations/{id}/messages", h.ListMessages)
	r.POST("/v1/conversations/{id}/messages", h.SendMessage)
	r.POST("/v1/conversations/{id}/messages/{msgId}/reactions", h.ToggleReaction)
	r.POST("/v1/conversations/{id}/read", h.MarkRead)

	// ephemeral state
	r.PUT("/v1/conversations/{id}/typing", h.SetTyping)
	r.DELETE("/v1/conversations/{id}/typing", h.ClearTyping)
	r.GET("/v1/presence", h.GetPresence)

	// attachments
	r.POST("/v1/uploads", h.Upload)
	r.GET("/files/{name}", h.ServeFile)

	// live streams
	r.GET("/v1/conversations/{id}/stream", h.ConversationStream)
	r.GET("/v1/inbox/stream", h.InboxStream)

	// operations
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", wrapHTTPHandler(promhttp.Handler()))
}

// Handler builds the complete request handler.
func Handler(h *handlers.Handlers, cfg auth.Config) fasthttp.RequestHandler {
	r := router.New()
	r.Use(logRequests, auth.Middleware(cfg))
	RegisterRoutes(r, h)
	return r.Handler()
}

func logRequests(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		next(ctx)
		logger.Debug("request",
			"method", string(ctx.Method()),
			"path", string(ctx.Path()),
			"status", ctx.Response.StatusCode(),
			"remote", ctx.RemoteAddr().String(),
		)
	}
}
