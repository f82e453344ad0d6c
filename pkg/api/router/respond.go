package router

import (
	"encoding/json"
	"errors"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
)

// WriteJSON writes data as a JSON body with the given status.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	ctx.Response.Header.Set("Content-Type", "application/json")
	if err := json.NewEncoder(bb).Encode(data); err != nil {
		logger.Error("response_encode_failed", "path", string(ctx.Path()), "error", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"error":"internal error"}` + "\n")
		return
	}
	ctx.SetStatusCode(status)
	// SetBody copies, so bb can go back to the pool
	ctx.SetBody(bb.B)
}

// WriteJSONError writes {"error": message}.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	WriteJSON(ctx, status, map[string]string{"error": message})
}

// StatusOf maps an error of the chaterr taxonomy to an HTTP status.
func StatusOf(err error) int {
	var verr *chaterr.ValidationError
	switch {
	case errors.As(err, &verr):
		if verr.Field == "attachment" {
			return fasthttp.StatusRequestEntityTooLarge
		}
		return fasthttp.StatusBadRequest
	case chaterr.IsNotFound(err):
		return fasthttp.StatusNotFound
	case chaterr.IsForbidden(err):
		return fasthttp.StatusForbidden
	case chaterr.IsTransient(err):
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

// WriteError writes err with the status StatusOf picks. Internal errors are
// logged and answered with a generic message.
func WriteError(ctx *fasthttp.RequestCtx, err error) {
	status := StatusOf(err)
	switch status {
	case fasthttp.StatusInternalServerError:
		logger.Error("request_failed", "path", string(ctx.Path()), "error", err)
		WriteJSONError(ctx, status, "internal error")
	case fasthttp.StatusServiceUnavailable:
		logger.Warn("request_unavailable", "path", string(ctx.Path()), "error", err)
		WriteJSONError(ctx, status, "temporarily unavailable, retry later")
	default:
		WriteJSONError(ctx, status, err.Error())
	}
}

// DecodeJSON unmarshals the request body into v. An empty body leaves v
// untouched.
func DecodeJSON(ctx *fasthttp.RequestCtx, v interface{}) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return chaterr.Validation("body", "invalid JSON: "+err.Error())
	}
	return nil
}
