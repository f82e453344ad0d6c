package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
	Chat     ChatConfig     `yaml:"chat"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
}

// ServerConfig holds http and storage settings.
type ServerConfig struct {
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	DBPath     string `yaml:"db_path"`
	UploadsDir string `yaml:"uploads_dir"`
	// UploadsMinFree is the free space uploads must leave on their volume.
	UploadsMinFree SizeBytes `yaml:"uploads_min_free"`
	// PublicURL prefixes attachment URLs handed back to clients.
	PublicURL string `yaml:"public_url"`
}

// SecurityConfig holds identity verification and abuse limits.
type SecurityConfig struct {
	// SigningKeys verify X-User-Signature = hmac_sha256(user_id, key).
	SigningKeys []string `yaml:"signing_keys"`
	// AllowUnsigned accepts identity headers without a signature. Local use only.
	AllowUnsigned  bool     `yaml:"allow_unsigned"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimit      struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ChatConfig tunes the conversation components.
type ChatConfig struct {
	TypingWindow      Duration    `yaml:"typing_window"`
	MaxAttachmentSize SizeBytes   `yaml:"max_attachment_size"`
	SubscriberBuffer  int         `yaml:"subscriber_buffer"`
	ReplyExcerptLen   int         `yaml:"reply_excerpt_len"`
	NodeID            int64       `yaml:"node_id"`
	Retry             RetryConfig `yaml:"retry"`
}

// RetryConfig bounds automatic retries of transient store failures.
type RetryConfig struct {
	InitialInterval Duration `yaml:"initial_interval"`
	MaxElapsed      Duration `yaml:"max_elapsed"`
}

// SweeperConfig holds the housekeeping schedule.
type SweeperConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "10MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
