package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort              = 8080
	defaultTypingWindow      = 3 * time.Second
	defaultMaxAttachmentSize = 10 * humanize.MiByte
	defaultSubscriberBuffer  = 64
	defaultReplyExcerptLen   = 100
	defaultRetryInitial      = 50 * time.Millisecond
	defaultRetryMaxElapsed   = 5 * time.Second
	defaultSweeperCron       = "* * * * *" // every minute
	defaultRateRPS           = 20
	defaultRateBurst         = 40
	defaultUploadsDir        = "uploads"
	defaultUploadsMinFree    = 32 * humanize.MiByte
)

var (
	cfgMu     sync.RWMutex
	globalCfg *Config
)

// SetConfig installs the effective config for packages that read it lazily.
func SetConfig(c *Config) {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	globalCfg = c
}

// GetConfig returns the installed config, or a defaulted one if none was set.
func GetConfig() *Config {
	cfgMu.RLock()
	c := globalCfg
	cfgMu.RUnlock()
	if c != nil {
		return c
	}
	d := &Config{}
	d.ApplyDefaults()
	return d
}

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset knob with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.UploadsDir == "" {
		c.Server.UploadsDir = defaultUploadsDir
	}
	if c.Server.UploadsMinFree <= 0 {
		c.Server.UploadsMinFree = SizeBytes(defaultUploadsMinFree)
	}
	if c.Security.RateLimit.RPS <= 0 {
		c.Security.RateLimit.RPS = defaultRateRPS
	}
	if c.Security.RateLimit.Burst <= 0 {
		c.Security.RateLimit.Burst = defaultRateBurst
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	ch := &c.Chat
	if ch.TypingWindow.Duration() <= 0 {
		ch.TypingWindow = Duration(defaultTypingWindow)
	}
	if ch.MaxAttachmentSize <= 0 {
		ch.MaxAttachmentSize = SizeBytes(defaultMaxAttachmentSize)
	}
	if ch.SubscriberBuffer <= 0 {
		ch.SubscriberBuffer = defaultSubscriberBuffer
	}
	if ch.ReplyExcerptLen <= 0 {
		ch.ReplyExcerptLen = defaultReplyExcerptLen
	}
	if ch.Retry.InitialInterval.Duration() <= 0 {
		ch.Retry.InitialInterval = Duration(defaultRetryInitial)
	}
	if ch.Retry.MaxElapsed.Duration() <= 0 {
		ch.Retry.MaxElapsed = Duration(defaultRetryMaxElapsed)
	}

	if c.Sweeper.Cron == "" {
		c.Sweeper.Cron = defaultSweeperCron
	}
}
