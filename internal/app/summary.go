package app

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/logger"
)

// printSummary prints the effective settings at startup.
func (a *App) printSummary() {
	cfg := a.eff.Config
	signing := "hmac (" + humanize.Comma(int64(len(cfg.Security.SigningKeys))) + " keys)"
	if cfg.Security.AllowUnsigned {
		signing = "unsigned identities accepted"
	}
	sweep := "disabled"
	if cfg.Sweeper.Enabled {
		sweep = cfg.Sweeper.Cron
	}
	origins := "same-origin only"
	if len(cfg.Security.AllowedOrigins) > 0 {
		origins = strings.Join(cfg.Security.AllowedOrigins, ", ")
	}
	version := a.version
	if version == "" {
		version = "dev"
	}

	logger.LogConfigSummary("chatd", []string{
		"version: " + version,
		"listen: " + a.eff.Addr,
		"db path: " + a.eff.DBPath,
		"uploads: " + cfg.Server.UploadsDir,
		"config source: " + a.eff.Source,
		"identity: " + signing,
		"origins: " + origins,
		fmt.Sprintf("rate limit: %.1f rps, burst %d", cfg.Security.RateLimit.RPS, cfg.Security.RateLimit.Burst),
		"attachment limit: " + humanize.IBytes(uint64(cfg.Chat.MaxAttachmentSize)),
		"typing window: " + cfg.Chat.TypingWindow.Duration().String(),
		"sweeper: " + sweep,
	})
}
