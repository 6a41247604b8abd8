package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range []string{
		"LINEPBX_NODE_NAME", "LINEPBX_DATA_DIR", "LINEPBX_LISTEN_PORT",
		"LINEPBX_HTTP_PORT", "LINEPBX_LOCAL_PREFIX", "LINEPBX_REMOTE_PREFIX",
		"LINEPBX_EXT_LEN", "LINEPBX_IVR_EXT", "LINEPBX_REMOTE_IVR_EXT",
		"LINEPBX_TRUNK_PEER", "LINEPBX_TRUNK_LISTEN_PORT", "LINEPBX_TRUNK_RETRY",
		"LINEPBX_LOG_LEVEL", "LINEPBX_LOG_FORMAT",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"linepbx"}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.NodeName != defaultNodeName {
		t.Errorf("NodeName = %q, want %q", cfg.NodeName, defaultNodeName)
	}
	if cfg.ListenPort != defaultListenPort {
		t.Errorf("ListenPort = %d, want %d", cfg.ListenPort, defaultListenPort)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.LocalPrefix != defaultPrefix {
		t.Errorf("LocalPrefix = %q, want %q", cfg.LocalPrefix, defaultPrefix)
	}
	if cfg.TrunkRetry != defaultTrunkRetry {
		t.Errorf("TrunkRetry = %s, want %s", cfg.TrunkRetry, defaultTrunkRetry)
	}
	// IVR extension is derived from the default prefix.
	if cfg.IVRExt != "5000" {
		t.Errorf("IVRExt = %q, want 5000", cfg.IVRExt)
	}
	if cfg.RemoteIVRExt != "" {
		t.Errorf("RemoteIVRExt = %q, want empty without remote prefix", cfg.RemoteIVRExt)
	}
}

func TestEnvVarOverride(t *testing.T) {
	clearEnv(t)
	os.Args = []string{"linepbx"}
	t.Setenv("LINEPBX_LOCAL_PREFIX", "50")
	t.Setenv("LINEPBX_REMOTE_PREFIX", "60")
	t.Setenv("LINEPBX_TRUNK_PEER", "nodeb:6070")
	t.Setenv("LINEPBX_TRUNK_RETRY", "250ms")
	t.Setenv("LINEPBX_LISTEN_PORT", "5071")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LocalPrefix != "50" {
		t.Errorf("LocalPrefix = %q, want 50", cfg.LocalPrefix)
	}
	if cfg.ListenPort != 5071 {
		t.Errorf("ListenPort = %d, want 5071", cfg.ListenPort)
	}
	if cfg.TrunkPeer != "nodeb:6070" {
		t.Errorf("TrunkPeer = %q, want nodeb:6070", cfg.TrunkPeer)
	}
	if cfg.TrunkRetry != 250*time.Millisecond {
		t.Errorf("TrunkRetry = %s, want 250ms", cfg.TrunkRetry)
	}
	// Derived IVR extensions follow the configured prefixes.
	if cfg.IVRExt != "5000" {
		t.Errorf("IVRExt = %q, want 5000", cfg.IVRExt)
	}
	if cfg.RemoteIVRExt != "6000" {
		t.Errorf("RemoteIVRExt = %q, want 6000", cfg.RemoteIVRExt)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "bad listen port",
			mutate:  func(c *Config) { c.ListenPort = 0 },
			wantErr: "listen-port",
		},
		{
			name:    "empty local prefix",
			mutate:  func(c *Config) { c.LocalPrefix = "" },
			wantErr: "local-prefix",
		},
		{
			name:    "non-numeric local prefix",
			mutate:  func(c *Config) { c.LocalPrefix = "5a" },
			wantErr: "numeric",
		},
		{
			name:    "prefix as long as ext-len",
			mutate:  func(c *Config) { c.LocalPrefix = "5001" },
			wantErr: "shorter than ext-len",
		},
		{
			name:    "same remote prefix",
			mutate:  func(c *Config) { c.RemotePrefix = "5" },
			wantErr: "overlap",
		},
		{
			name:    "remote prefix inside local range",
			mutate:  func(c *Config) { c.RemotePrefix = "50" },
			wantErr: "overlap",
		},
		{
			name: "local prefix inside remote range",
			mutate: func(c *Config) {
				c.LocalPrefix = "50"
				c.RemotePrefix = "5"
			},
			wantErr: "overlap",
		},
		{
			name:    "trunk peer without remote prefix",
			mutate:  func(c *Config) { c.TrunkPeer = "nodeb:6070" },
			wantErr: "remote-prefix",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "log-level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: "log-format",
		},
		{
			name:    "zero trunk retry",
			mutate:  func(c *Config) { c.TrunkRetry = 0 },
			wantErr: "trunk-retry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				NodeName:    defaultNodeName,
				DataDir:     defaultDataDir,
				ListenPort:  defaultListenPort,
				HTTPPort:    defaultHTTPPort,
				LocalPrefix: defaultPrefix,
				ExtLen:      defaultExtLen,
				TrunkRetry:  defaultTrunkRetry,
				LogLevel:    defaultLogLevel,
				LogFormat:   defaultLogFormat,
			}
			tt.mutate(cfg)

			err := cfg.validate()
			if err == nil {
				t.Fatal("validate() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDerivedExt(t *testing.T) {
	tests := []struct {
		prefix string
		extLen int
		digit  string
		want   string
	}{
		{"5", 4, "1", "5001"},
		{"5", 4, "9", "5009"},
		{"50", 4, "3", "5003"},
		{"60", 4, "1", "6001"},
		{"7", 5, "2", "70002"},
	}

	for _, tt := range tests {
		cfg := &Config{LocalPrefix: tt.prefix, ExtLen: tt.extLen}
		if got := cfg.DerivedExt(tt.digit); got != tt.want {
			t.Errorf("DerivedExt(%q) with prefix %q len %d = %q, want %q",
				tt.digit, tt.prefix, tt.extLen, got, tt.want)
		}
	}
}
