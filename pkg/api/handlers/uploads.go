package handlers

import (
	"bytes"
	"mime"
	"path/filepath"

	"github.com/valyala/fasthttp"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/router"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/attachments"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
)

// Upload stores the raw request body under X-File-Name and returns the
// attachment to reference from a message.
func (h *Handlers) Upload(ctx *fasthttp.RequestCtx) {
	if _, ok := caller(ctx); !ok {
		return
	}
	name := string(ctx.Request.Header.Peek("X-File-Name"))
	if name == "" {
		name = string(ctx.QueryArgs().Peek("name"))
	}
	if name == "" {
		router.WriteError(ctx, chaterr.Validation("name", "X-File-Name header is required"))
		return
	}
	if n := ctx.Request.Header.ContentLength(); n > 0 {
		if err := attachments.CheckSize(int64(n), h.Blobs.MaxSize); err != nil {
			router.WriteError(ctx, err)
			return
		}
	}
	body := ctx.PostBody()
	att, err := h.Blobs.Put(ctx, name, bytes.NewReader(body), int64(len(body)))
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusCreated, att)
}

// ServeFile streams a stored upload.
func (h *Handlers) ServeFile(ctx *fasthttp.RequestCtx) {
	name := router.Param(ctx, "name")
	f, err := h.Blobs.Open(name)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		router.WriteError(ctx, chaterr.Transient("stat_upload", err))
		return
	}
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	ctx.SetContentType(ct)
	ctx.Response.Header.Set("Cache-Control", "private, max-age=86400")
	// fasthttp closes the file once the body is written
	ctx.SetBodyStream(f, int(info.Size()))
}
