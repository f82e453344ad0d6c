package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// holds parsed command-line flag values and which were set
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// holds the result of LoadEffectiveConfig
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "defaults", "config", "env" or "flags"
}

// parses command-line flags and returns them as a Flags struct
func ParseConfigFlags(fs *flag.FlagSet, args []string) (Flags, error) {
	addrPtr := fs.String("addr", "", "HTTP listen address (host:port)")
	dbPtr := fs.String("db", "./.database", "Pebble DB path")
	cfgPtr := fs.String("config", "./config.yaml", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}, nil
}

// loads config from file, returns config, found bool, and error
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfg, err := LoadConfigFile(flags.Config)
	if err != nil {
		if os.IsNotExist(err) && !flags.Set["config"] {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs overlays CHAT_* environment variables onto a copy of base.
// It reports whether any variable was applied.
func ParseConfigEnvs(base *Config, getenv func(string) string) (*Config, bool, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	out := *base
	used := false
	var errs []string

	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
			used = true
		}
	}
	list := func(name string, dst *[]string) {
		v := getenv(name)
		if strings.TrimSpace(v) == "" {
			return
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		*dst = parts
		used = true
	}
	integer := func(name string, dst *int) {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			return
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q is not an integer", name, v))
			return
		}
		*dst = i
		used = true
	}
	boolean := func(name string, dst *bool) {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			return
		}
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			*dst = true
		default:
			*dst = false
		}
		used = true
	}
	duration := func(name string, dst *Duration) {
		v := getenv(name)
		if strings.TrimSpace(v) == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			return
		}
		*dst = d
		used = true
	}
	size := func(name string, dst *SizeBytes) {
		v := getenv(name)
		if strings.TrimSpace(v) == "" {
			return
		}
		s, err := parseSize(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			return
		}
		*dst = s
		used = true
	}

	// slices must not alias the base config
	out.Security.SigningKeys = append([]string(nil), base.Security.SigningKeys...)
	out.Security.AllowedOrigins = append([]string(nil), base.Security.AllowedOrigins...)

	str("CHAT_SERVER_ADDRESS", &out.Server.Address)
	integer("CHAT_SERVER_PORT", &out.Server.Port)
	str("CHAT_DB_PATH", &out.Server.DBPath)
	str("CHAT_UPLOADS_DIR", &out.Server.UploadsDir)
	size("CHAT_UPLOADS_MIN_FREE", &out.Server.UploadsMinFree)
	str("CHAT_PUBLIC_URL", &out.Server.PublicURL)

	list("CHAT_SIGNING_KEYS", &out.Security.SigningKeys)
	boolean("CHAT_ALLOW_UNSIGNED", &out.Security.AllowUnsigned)
	list("CHAT_ALLOWED_ORIGINS", &out.Security.AllowedOrigins)
	if v := strings.TrimSpace(getenv("CHAT_RATE_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("CHAT_RATE_RPS=%q is not a number", v))
		} else {
			out.Security.RateLimit.RPS = f
			used = true
		}
	}
	integer("CHAT_RATE_BURST", &out.Security.RateLimit.Burst)

	str("CHAT_LOG_LEVEL", &out.Logging.Level)

	duration("CHAT_TYPING_WINDOW", &out.Chat.TypingWindow)
	size("CHAT_MAX_ATTACHMENT_SIZE", &out.Chat.MaxAttachmentSize)
	integer("CHAT_SUBSCRIBER_BUFFER", &out.Chat.SubscriberBuffer)
	duration("CHAT_RETRY_INITIAL_INTERVAL", &out.Chat.Retry.InitialInterval)
	duration("CHAT_RETRY_MAX_ELAPSED", &out.Chat.Retry.MaxElapsed)
	if v := strings.TrimSpace(getenv("CHAT_NODE_ID")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("CHAT_NODE_ID=%q is not an integer", v))
		} else {
			out.Chat.NodeID = n
			used = true
		}
	}

	boolean("CHAT_SWEEPER_ENABLED", &out.Sweeper.Enabled)
	str("CHAT_SWEEPER_CRON", &out.Sweeper.Cron)

	if len(errs) > 0 {
		return nil, used, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return &out, used, nil
}

// LoadEffectiveConfig merges file, env and flags (in that order of
// precedence, flags winning) and applies defaults.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool, getenv func(string) string) (EffectiveConfigResult, error) {
	if fileCfg == nil {
		fileCfg = &Config{}
	}
	source := "defaults"
	if fileExists {
		source = "config"
	}

	cfg, envUsed, err := ParseConfigEnvs(fileCfg, getenv)
	if err != nil {
		return EffectiveConfigResult{}, err
	}
	if envUsed {
		source = "env"
	}

	if flags.Set["db"] || cfg.Server.DBPath == "" {
		cfg.Server.DBPath = flags.DB
		if flags.Set["db"] {
			source = "flags"
		}
	}
	if flags.Set["addr"] && flags.Addr != "" {
		host, port, err := splitAddr(flags.Addr)
		if err != nil {
			return EffectiveConfigResult{}, err
		}
		cfg.Server.Address = host
		cfg.Server.Port = port
		source = "flags"
	}

	cfg.ApplyDefaults()
	return EffectiveConfigResult{Config: cfg, Addr: cfg.Addr(), DBPath: cfg.Server.DBPath, Source: source}, nil
}

func splitAddr(addr string) (string, int, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("invalid --addr %q: expected host:port", addr)
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid --addr %q: bad port", addr)
	}
	return addr[:i], port, nil
}
