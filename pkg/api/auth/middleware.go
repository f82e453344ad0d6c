package auth

import (
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/router"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
)

type Config struct {
	SigningKeys    []string
	AllowUnsigned  bool
	AllowedOrigins []string
	Limiter        *LimiterPool
}

// publicPrefixes skip identity resolution.
var publicPrefixes = []string{"/healthz", "/readyz", "/metrics", "/files/"}

// Middleware handles CORS, resolves the caller and rate limits writes.
func Middleware(cfg Config) router.Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			origin := string(ctx.Request.Header.Peek("Origin"))
			if origin != "" && OriginAllowed(origin, cfg.AllowedOrigins) {
				h := &ctx.Response.Header
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type,X-User-ID,X-User-Name,X-User-Role,X-User-Signature,X-File-Name")
				h.Set("Access-Control-Max-Age", "600")
			}
			if ctx.IsOptions() {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}

			path := string(ctx.Path())
			for _, p := range publicPrefixes {
				if strings.HasPrefix(path, p) {
					next(ctx)
					return
				}
			}

			id, err := Resolve(ctx, cfg.SigningKeys, cfg.AllowUnsigned)
			if err != nil {
				logger.Warn("request_unauthorized", "path", path, "remote", ctx.RemoteAddr().String(), "reason", err)
				router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, err.Error())
				return
			}

			if cfg.Limiter != nil && !ctx.IsGet() && !cfg.Limiter.Allow(id.UserID) {
				logger.Warn("rate_limited", "user", id.UserID, "path", path)
				router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			WithIdentity(ctx, id)
			next(ctx)
		}
	}
}

// OriginAllowed matches origin against the allow list; "*" allows all.
func OriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
