package router

import (
	"encoding/json"
	"errors"
	"go/format"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
)

func newCtx(method, uri string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	return ctx
}

func TestRouterParamsAndMethods(t *testing.T) {
	r := New()
	var gotConv, gotMsg string
	r.GET("/v1/conversations/{id}/messages", func(ctx *fasthttp.RequestCtx) {
		gotConv = Param(ctx, "id")
		ctx.SetStatusCode(fasthttp.StatusOK)
	})
	r.POST("/v1/conversations/{id}/messages/{msgId}/reactions", func(ctx *fasthttp.RequestCtx) {
		gotConv, gotMsg = Param(ctx, "id"), Param(ctx, "msgId")
		ctx.SetStatusCode(fasthttp.StatusCreated)
	})
	h := r.Handler()

	ctx := newCtx("GET", "/v1/conversations/proj-1/messages/")
	h(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "proj-1", gotConv)

	ctx = newCtx("POST", "/v1/conversations/p/messages/m1/reactions")
	h(ctx)
	assert.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())
	assert.Equal(t, "m1", gotMsg)

	ctx = newCtx("DELETE", "/v1/conversations/p/messages")
	h(ctx)
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.Equal(t, "GET", string(ctx.Response.Header.Peek("Allow")))

	ctx = newCtx("GET", "/nope")
	h(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestRouterMiddlewareOrder(t *testing.T) {
	r := New()
	var order []string
	mw := func(name string) Middleware {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return func(ctx *fasthttp.RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}
	r.Use(mw("outer"), mw("inner"))
	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) { order = append(order, "handler") })
	r.Handler()(newCtx("GET", "/healthz"))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, fasthttp.StatusBadRequest, StatusOf(chaterr.Validation("text", "empty")))
	assert.Equal(t, fasthttp.StatusRequestEntityTooLarge, StatusOf(chaterr.Validation("attachment", "too big")))
	assert.Equal(t, fasthttp.StatusNotFound, StatusOf(chaterr.NotFound("message", "m")))
	assert.Equal(t, fasthttp.StatusForbidden, StatusOf(chaterr.Forbidden("u", "c")))
	assert.Equal(t, fasthttp.StatusServiceUnavailable, StatusOf(chaterr.Transient("append", errors.New("disk"))))
	assert.Equal(t, fasthttp.StatusInternalServerError, StatusOf(errors.New("boom")))
}

func TestWriteErrorHidesInternals(t *testing.T) {
	ctx := newCtx("GET", "/")
	WriteError(ctx, errors.New("secret path /var/db"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &body))
	assert.Equal(t, "internal error", body["error"])
}

func TestRouterSourceIsFormatted(t *testing.T) {
	src, err := os.ReadFile("router.go")
	require.NoError(t, err)
	out, err := format.Source(src)
	require.NoError(t, err)
	assert.Equal(t, string(out), string(src))
}
