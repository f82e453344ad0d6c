// Package router is a small method+path router for fasthttp with {name}
// path parameters, plus the JSON response helpers every handler uses.
package router

import (
	"sort"
	"strings"

	"github.com/valyala/fasthttp"
)

// Middleware wraps a handler.
type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

type Router struct {
	routes     []route
	middleware []Middleware
	notFound   fasthttp.RequestHandler
}

type route struct {
	method   string
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
}

func New() *Router {
	return &Router{}
}

// Use appends middleware applied to every matched route, outermost first.
func (r *Router) Use(mw ...Middleware) {
	r.middleware = append(r.middleware, mw...)
}

func (r *Router) GET(path string, h fasthttp.RequestHandler) {
	r.add(fasthttp.MethodGet, path, h)
}

func (r *Router) POST(path string, h fasthttp.RequestHandler) {
	r.add(fasthttp.MethodPost, path, h)
}

func (r *Router) PUT(path string, h fasthttp.RequestHandler) {
	r.add(fasthttp.MethodPut, path, h)
}

func (r *Router) DELETE(path string, h fasthttp.RequestHandler) {
	r.add(fasthttp.MethodDelete, path, h)
}

func (r *Router) NotFound(h fasthttp.RequestHandler) {
	r.notFound = h
}

func (r *Router) add(method, path string, h fasthttp.RequestHandler) {
	r.routes = append(r.routes, route{method: method, segments: parse(path), handler: h})
}

// Handler builds the dispatching handler. Routes registered afterwards are
// not seen.
func (r *Router) Handler() fasthttp.RequestHandler {
	routes := append([]route(nil), r.routes...)
	dispatch := func(ctx *fasthttp.RequestCtx) {
		method := string(ctx.Method())
		parts := split(string(ctx.Path()))
		var allowed []string
		for _, rt := range routes {
			values, ok := match(parts, rt.segments)
			if !ok {
				continue
			}
			if rt.method != method {
				allowed = append(allowed, rt.method)
				continue
			}
			for k, v := range values {
				ctx.SetUserValue(k, v)
			}
			rt.handler(ctx)
			return
		}
		if len(allowed) > 0 && method != fasthttp.MethodOptions {
			sort.Strings(allowed)
			ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
			WriteJSONError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if method == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}
		if r.notFound != nil {
			r.notFound(ctx)
			return
		}
		WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
	}
	h := fasthttp.RequestHandler(dispatch)
	for i := len(r.middleware) - 1; i >= 0; i-- {
		h = r.middleware[i](h)
	}
	return h
}

func parse(path string) []segment {
	parts := split(path)
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if len(part) > 2 && strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			segs[i] = segment{name: part[1 : len(part)-1], isParam: true}
		} else {
			segs[i] = segment{name: part}
		}
	}
	return segs
}

// split drops the leading and trailing slash; "/" yields no parts.
func split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func match(parts []string, segs []segment) (map[string]string, bool) {
	if len(parts) != len(segs) {
		return nil, false
	}
	values := make(map[string]string)
	for i, seg := range segs {
		if seg.isParam {
			if parts[i] == "" {
				return nil, false
			}
			values[seg.name] = parts[i]
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return values, true
}

// Param returns the path parameter name of the matched route.
func Param(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}
