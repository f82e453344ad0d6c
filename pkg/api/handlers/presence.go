package handlers

import (
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/router"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
)

const maxPresenceQuery = 100

// GetPresence answers GET /v1/presence?users=a,b.
func (h *Handlers) GetPresence(ctx *fasthttp.RequestCtx) {
	if _, ok := caller(ctx); !ok {
		return
	}
	raw := string(ctx.QueryArgs().Peek("users"))
	var users []string
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	if len(users) == 0 {
		router.WriteError(ctx, chaterr.Validation("users", "at least one user id required"))
		return
	}
	if len(users) > maxPresenceQuery {
		router.WriteError(ctx, chaterr.Validation("users", "too many user ids"))
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{"presence": h.Sessions.Presence.GetMany(users)})
}
