// Package auth resolves the caller's identity from signed request headers
// and applies CORS and per-user rate limits.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/models"
)

const identityKey = "identity"

var (
	ErrMissingIdentity  = errors.New("missing user identity")
	ErrInvalidSignature = errors.New("invalid user signature")
	ErrInvalidUserID    = errors.New("invalid user id")
)

// Sign returns the hex HMAC-SHA256 of userID under key.
func Sign(userID, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches userID under any of keys.
func Verify(userID, signature string, keys []string) bool {
	if signature == "" {
		return false
	}
	for _, k := range keys {
		if hmac.Equal([]byte(Sign(userID, k)), []byte(signature)) {
			return true
		}
	}
	return false
}

// Resolve reads the caller from X-User-* headers, falling back to the
// user_id/name/role/sig query arguments browsers must use on websocket
// upgrades. With allowUnsigned the signature is not checked.
func Resolve(ctx *fasthttp.RequestCtx, keys []string, allowUnsigned bool) (models.Identity, error) {
	id := models.Identity{
		UserID:      strings.TrimSpace(string(ctx.Request.Header.Peek("X-User-ID"))),
		DisplayName: strings.TrimSpace(string(ctx.Request.Header.Peek("X-User-Name"))),
		Role:        strings.ToLower(strings.TrimSpace(string(ctx.Request.Header.Peek("X-User-Role")))),
	}
	sig := strings.TrimSpace(string(ctx.Request.Header.Peek("X-User-Signature")))
	if id.UserID == "" {
		args := ctx.QueryArgs()
		id.UserID = strings.TrimSpace(string(args.Peek("user_id")))
		id.DisplayName = strings.TrimSpace(string(args.Peek("name")))
		id.Role = strings.ToLower(strings.TrimSpace(string(args.Peek("role"))))
		sig = strings.TrimSpace(string(args.Peek("sig")))
	}
	if id.UserID == "" {
		return models.Identity{}, ErrMissingIdentity
	}
	if len(id.UserID) > 128 || strings.ContainsAny(id.UserID, ":\x00\xff") {
		return models.Identity{}, ErrInvalidUserID
	}
	if !allowUnsigned && !Verify(id.UserID, sig, keys) {
		return models.Identity{}, ErrInvalidSignature
	}
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}
	return id, nil
}

// IdentityFrom returns the identity the middleware attached to ctx.
func IdentityFrom(ctx *fasthttp.RequestCtx) (models.Identity, bool) {
	id, ok := ctx.UserValue(identityKey).(models.Identity)
	return id, ok
}

// WithIdentity attaches id to ctx. Handlers under test use it directly.
func WithIdentity(ctx *fasthttp.RequestCtx, id models.Identity) {
	ctx.SetUserValue(identityKey, id)
}
