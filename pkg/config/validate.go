package config

import (
	"fmt"

	"github.com/adhocore/gronx"
)

// ValidateConfig fails fast on values the service cannot run with.
// Defaults must already be applied.
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHAT_DB_PATH env, or server.db_path in config")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if len(cfg.Security.SigningKeys) == 0 && !cfg.Security.AllowUnsigned {
		return fmt.Errorf("no security.signing_keys configured: identities cannot be verified (set security.allow_unsigned for local use)")
	}
	if cfg.Chat.MaxAttachmentSize <= 0 {
		return fmt.Errorf("chat.max_attachment_size must be positive")
	}
	if cfg.Chat.TypingWindow.Duration() <= 0 {
		return fmt.Errorf("chat.typing_window must be positive")
	}
	// snowflake supports 10 bits of node id
	if cfg.Chat.NodeID < 0 || cfg.Chat.NodeID > 1023 {
		return fmt.Errorf("chat.node_id must be within 0..1023, got %d", cfg.Chat.NodeID)
	}
	if cfg.Sweeper.Enabled {
		if !gronx.New().IsValid(cfg.Sweeper.Cron) {
			return fmt.Errorf("invalid sweeper.cron: not a valid cron expression")
		}
	}
	return nil
}
