// Package app wires the conversation components into a running server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/chuc13-collab1/agileproject-sub000/internal/sweeper"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/api"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/auth"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/api/handlers"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/attachments"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/config"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/directory"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/ids"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/messagelog"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/presence"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/retry"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/session"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/store"
	"github.com/chuc13-collab1/agileproject-sub000/pkg/typing"
)

const (
	limiterTTL      = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
	// headroom over the attachment limit for headers and multipart framing
	bodyHeadroom = 1 << 20
)

// App owns every long-lived component and their shutdown order.
type App struct {
	eff     config.EffectiveConfigResult
	version string

	st       *store.Store
	log      *messagelog.Log
	dir      *directory.Directory
	presence *presence.Register
	typing   *typing.Register
	sessions *session.Service
	limiter  *auth.LimiterPool
	handlers *handlers.Handlers
	sweep    *sweeper.Job

	srv          *fasthttp.Server
	cancelBase   context.CancelFunc
	shutdownOnce sync.Once
}

// New validates eff, opens the store and builds every component. It does
// not listen; call Run.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	if err := config.ValidateConfig(eff); err != nil {
		return nil, err
	}
	cfg := eff.Config
	if err := ids.Init(cfg.Chat.NodeID); err != nil {
		return nil, fmt.Errorf("init id generator: %w", err)
	}

	st, err := store.Open(eff.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	maxSize := cfg.Chat.MaxAttachmentSize.Int64()
	blobs, err := attachments.NewDiskStore(cfg.Server.UploadsDir, strings.TrimRight(cfg.Server.PublicURL, "/")+"/files", maxSize)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	blobs.MinFree = cfg.Server.UploadsMinFree.Int64()

	policy := retry.Policy{
		InitialInterval: cfg.Chat.Retry.InitialInterval.Duration(),
		MaxElapsed:      cfg.Chat.Retry.MaxElapsed.Duration(),
	}
	buffer := cfg.Chat.SubscriberBuffer

	a := &App{eff: eff, version: version, st: st}
	a.dir = directory.New(st, buffer, policy)
	a.log = messagelog.New(st, messagelog.Options{
		MaxAttachmentSize: maxSize,
		ReplyExcerptLen:   cfg.Chat.ReplyExcerptLen,
		SubscriberBuffer:  buffer,
		Retry:             policy,
	})
	a.log.SetNotifier(a.dir)
	a.presence = presence.New(st, buffer)
	a.typing = typing.New(cfg.Chat.TypingWindow.Duration())
	a.sessions = &session.Service{
		Log:               a.log,
		Directory:         a.dir,
		Presence:          a.presence,
		Typing:            a.typing,
		MaxAttachmentSize: maxSize,
		Retry:             policy,
	}
	a.limiter = auth.NewLimiterPool(cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst, limiterTTL)

	base, cancel := context.WithCancel(context.Background())
	a.cancelBase = cancel
	a.handlers = handlers.New(a.sessions, blobs, cfg.Security.AllowedOrigins)
	a.handlers.Base = base
	a.handlers.Limiter = a.limiter
	a.handlers.Ready = func() bool { return st.Ready() && blobs.HasRoom() }

	a.sweep = &sweeper.Job{
		Typing: a.typing,
		Topics: map[string]sweeper.Pruner{
			"messages": a.log,
			"inbox":    a.dir,
			"typing":   a.typing,
		},
		Limiter:    a.limiter,
		LimiterTTL: limiterTTL,
	}

	a.srv = &fasthttp.Server{
		Handler: api.Handler(a.handlers, auth.Config{
			SigningKeys:    cfg.Security.SigningKeys,
			AllowUnsigned:  cfg.Security.AllowUnsigned,
			AllowedOrigins: cfg.Security.AllowedOrigins,
			Limiter:        a.limiter,
		}),
		Name:                  "chatd",
		MaxRequestBodySize:    int(maxSize) + bodyHeadroom,
		ReadTimeout:           time.Minute,
		IdleTimeout:           2 * time.Minute,
		NoDefaultServerHeader: true,
	}
	return a, nil
}

// Handler exposes the request handler, mainly for tests.
func (a *App) Handler() fasthttp.RequestHandler { return a.srv.Handler }

// Run listens on the configured address and blocks until ctx is canceled
// or the server fails; it always shuts down before returning.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.eff.Addr)
	if err != nil {
		a.Shutdown(context.Background())
		return fmt.Errorf("listen on %s: %w", a.eff.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.printSummary()

	stopSweeper, err := sweeper.Start(ctx, a.eff.Config.Sweeper, a.sweep)
	if err != nil {
		a.Shutdown(context.Background())
		return err
	}
	defer stopSweeper()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", ln.Addr().String())
		errCh <- a.srv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Shutdown(sctx)
	if serveErr != nil && !errors.Is(serveErr, net.ErrClosed) {
		return serveErr
	}
	return nil
}

// Shutdown ends live streams, stops the server and closes the store.
// Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) {
	a.shutdownOnce.Do(func() { a.shutdown(ctx) })
}

func (a *App) shutdown(ctx context.Context) {
	logger.Info("shutdown_started")
	a.cancelBase()
	if err := a.srv.ShutdownWithContext(ctx); err != nil {
		logger.Warn("http_shutdown_failed", "error", err)
	}
	if err := a.handlers.Drain(ctx); err != nil {
		logger.Warn("stream_drain_failed", "error", err)
	}
	a.limiter.Stop()
	a.log.Close()
	a.dir.Close()
	a.typing.Close()
	a.presence.Close()
	if err := a.st.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
}
