package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for a LinePBX node.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	NodeName        string
	DataDir         string
	ListenPort      int    // endpoint signaling TCP port
	HTTPPort        int    // ops/status HTTP API port
	LocalPrefix     string // digit prefix owned by this node
	RemotePrefix    string // digit prefix owned by the sibling node
	ExtLen          int    // total digits in an extension number
	IVRExt          string // local IVR extension (derived from LocalPrefix if empty)
	RemoteIVRExt    string // sibling IVR extension (derived from RemotePrefix if empty)
	TrunkPeer       string // sibling trunk address host:port; empty = standalone
	TrunkListenPort int    // inbound trunk port; 0 disables the inbound listener
	TrunkRetry      time.Duration
	LogLevel        string
	LogFormat       string // "text" or "json"
}

// defaults
const (
	defaultNodeName   = "linepbx"
	defaultDataDir    = "./data"
	defaultListenPort = 5070
	defaultHTTPPort   = 8080
	defaultPrefix     = "5"
	defaultExtLen     = 4
	defaultTrunkRetry = time.Second
	defaultLogLevel   = "info"
	defaultLogFormat  = "text"
)

// envPrefix is the prefix for all LinePBX environment variables.
const envPrefix = "LINEPBX_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("linepbx", flag.ContinueOnError)

	fs.StringVar(&cfg.NodeName, "node-name", defaultNodeName, "node name used in logs, the IVR greeting and the status API")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the extension directory database")
	fs.IntVar(&cfg.ListenPort, "listen-port", defaultListenPort, "endpoint signaling TCP listen port")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "ops HTTP API listen port")
	fs.StringVar(&cfg.LocalPrefix, "local-prefix", defaultPrefix, "extension number prefix owned by this node")
	fs.StringVar(&cfg.RemotePrefix, "remote-prefix", "", "extension number prefix owned by the sibling node")
	fs.IntVar(&cfg.ExtLen, "ext-len", defaultExtLen, "total number of digits in an extension number")
	fs.StringVar(&cfg.IVRExt, "ivr-ext", "", "local IVR extension number (derived from local-prefix if empty)")
	fs.StringVar(&cfg.RemoteIVRExt, "remote-ivr-ext", "", "sibling IVR extension number (derived from remote-prefix if empty)")
	fs.StringVar(&cfg.TrunkPeer, "trunk-peer", "", "sibling node trunk address (host:port); empty runs standalone")
	fs.IntVar(&cfg.TrunkListenPort, "trunk-listen-port", 0, "inbound trunk TCP listen port (0 disables)")
	fs.DurationVar(&cfg.TrunkRetry, "trunk-retry", defaultTrunkRetry, "delay between outbound trunk redial attempts")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"node-name":         envPrefix + "NODE_NAME",
		"data-dir":          envPrefix + "DATA_DIR",
		"listen-port":       envPrefix + "LISTEN_PORT",
		"http-port":         envPrefix + "HTTP_PORT",
		"local-prefix":      envPrefix + "LOCAL_PREFIX",
		"remote-prefix":     envPrefix + "REMOTE_PREFIX",
		"ext-len":           envPrefix + "EXT_LEN",
		"ivr-ext":           envPrefix + "IVR_EXT",
		"remote-ivr-ext":    envPrefix + "REMOTE_IVR_EXT",
		"trunk-peer":        envPrefix + "TRUNK_PEER",
		"trunk-listen-port": envPrefix + "TRUNK_LISTEN_PORT",
		"trunk-retry":       envPrefix + "TRUNK_RETRY",
		"log-level":         envPrefix + "LOG_LEVEL",
		"log-format":        envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "node-name":
			cfg.NodeName = val
		case "data-dir":
			cfg.DataDir = val
		case "listen-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ListenPort = v
			}
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "local-prefix":
			cfg.LocalPrefix = val
		case "remote-prefix":
			cfg.RemotePrefix = val
		case "ext-len":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.ExtLen = v
			}
		case "ivr-ext":
			cfg.IVRExt = val
		case "remote-ivr-ext":
			cfg.RemoteIVRExt = val
		case "trunk-peer":
			cfg.TrunkPeer = val
		case "trunk-listen-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.TrunkListenPort = v
			}
		case "trunk-retry":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.TrunkRetry = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane and fills in the derived
// IVR extensions.
func (c *Config) validate() error {
	if c.ListenPort < 1 || c.ListenPort > 65535 {
		return fmt.Errorf("listen-port must be between 1 and 65535, got %d", c.ListenPort)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.TrunkListenPort < 0 || c.TrunkListenPort > 65535 {
		return fmt.Errorf("trunk-listen-port must be between 0 and 65535, got %d", c.TrunkListenPort)
	}
	if c.ExtLen < 2 || c.ExtLen > 10 {
		return fmt.Errorf("ext-len must be between 2 and 10, got %d", c.ExtLen)
	}
	if c.LocalPrefix == "" {
		return fmt.Errorf("local-prefix must not be empty")
	}
	if !isDigits(c.LocalPrefix) {
		return fmt.Errorf("local-prefix must be numeric, got %q", c.LocalPrefix)
	}
	if len(c.LocalPrefix) >= c.ExtLen {
		return fmt.Errorf("local-prefix %q must be shorter than ext-len %d", c.LocalPrefix, c.ExtLen)
	}
	if c.RemotePrefix != "" {
		if !isDigits(c.RemotePrefix) {
			return fmt.Errorf("remote-prefix must be numeric, got %q", c.RemotePrefix)
		}
		if len(c.RemotePrefix) >= c.ExtLen {
			return fmt.Errorf("remote-prefix %q must be shorter than ext-len %d", c.RemotePrefix, c.ExtLen)
		}
		// Overlapping prefixes would let local routing shadow the trunk
		// range (or vice versa), making one side unreachable.
		if strings.HasPrefix(c.RemotePrefix, c.LocalPrefix) || strings.HasPrefix(c.LocalPrefix, c.RemotePrefix) {
			return fmt.Errorf("remote-prefix %q must not overlap local-prefix %q", c.RemotePrefix, c.LocalPrefix)
		}
	}
	if c.TrunkPeer != "" && c.RemotePrefix == "" {
		return fmt.Errorf("trunk-peer requires remote-prefix")
	}
	if c.TrunkRetry <= 0 {
		return fmt.Errorf("trunk-retry must be positive, got %s", c.TrunkRetry)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.IVRExt == "" {
		c.IVRExt = padExt(c.LocalPrefix, "", c.ExtLen)
	}
	if c.RemoteIVRExt == "" && c.RemotePrefix != "" {
		c.RemoteIVRExt = padExt(c.RemotePrefix, "", c.ExtLen)
	}

	return nil
}

// DerivedExt maps an IVR digit (1-9) to a local extension number: the local
// prefix zero-padded to ext-len with the digit in the final position.
// Prefix "5", ext-len 4, digit "1" -> "5001".
func (c *Config) DerivedExt(digit string) string {
	return padExt(c.LocalPrefix, digit, c.ExtLen)
}

// padExt builds an extension of length extLen from prefix + zero padding +
// suffix.
func padExt(prefix, suffix string, extLen int) string {
	pad := extLen - len(prefix) - len(suffix)
	if pad < 0 {
		pad = 0
	}
	return prefix + strings.Repeat("0", pad) + suffix
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
