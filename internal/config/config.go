package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines configuration for the fanfetch server.
type Config struct {
	Addr            string
	CacheDir        string
	Workers         int
	ClearOnFailure  bool
	SettleOnSuccess bool
	ShutdownTimeout time.Duration
	FetchTimeout    time.Duration
	WaitTimeout     time.Duration
	UserAgent       string
	HistoryDSN      string
	APIToken        string
	// Backend selects the fetch workers: "http" or "aria2".
	Backend string
	Aria2   Aria2Config
	Log     LogConfig
}

// Aria2Config points the aria2 backend at a daemon.
type Aria2Config struct {
	RPCURL       string
	Secret       string
	Timeout      time.Duration
	PollInterval time.Duration
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Addr:            ":9090",
		Workers:         2,
		SettleOnSuccess: true,
		ShutdownTimeout: 5 * time.Second,
		FetchTimeout:    60 * time.Second,
		WaitTimeout:     30 * time.Second,
		UserAgent:       "fanfetch/1",
		Backend:         BackendHTTP,
		Aria2: Aria2Config{
			RPCURL:       "http://127.0.0.1:6800/jsonrpc",
			Timeout:      3 * time.Second,
			PollInterval: time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	Addr            string `yaml:"addr"`
	CacheDir        string `yaml:"cache_dir"`
	Workers         int    `yaml:"workers"`
	ClearOnFailure  *bool  `yaml:"clear_on_failure"`
	SettleOnSuccess *bool  `yaml:"settle_on_success"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	FetchTimeout    string `yaml:"fetch_timeout"`
	WaitTimeout     string `yaml:"wait_timeout"`
	UserAgent       string `yaml:"user_agent"`
	HistoryDSN      string `yaml:"history_dsn"`
	Backend         string `yaml:"backend"`
	Aria2           struct {
		RPCURL       string `yaml:"rpc_url"`
		Secret       string `yaml:"secret"`
		Timeout      string `yaml:"timeout"`
		PollInterval string `yaml:"poll_interval"`
	} `yaml:"aria2"`
	Log LogConfig `yaml:"log"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(raw, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if yc.Addr != "" {
		cfg.Addr = yc.Addr
	}
	if yc.CacheDir != "" {
		cfg.CacheDir = yc.CacheDir
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if yc.ClearOnFailure != nil {
		cfg.ClearOnFailure = *yc.ClearOnFailure
	}
	if yc.SettleOnSuccess != nil {
		cfg.SettleOnSuccess = *yc.SettleOnSuccess
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"shutdown_timeout", yc.ShutdownTimeout, &cfg.ShutdownTimeout},
		{"fetch_timeout", yc.FetchTimeout, &cfg.FetchTimeout},
		{"wait_timeout", yc.WaitTimeout, &cfg.WaitTimeout},
		{"aria2.timeout", yc.Aria2.Timeout, &cfg.Aria2.Timeout},
		{"aria2.poll_interval", yc.Aria2.PollInterval, &cfg.Aria2.PollInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}
	if yc.UserAgent != "" {
		cfg.UserAgent = yc.UserAgent
	}
	if yc.HistoryDSN != "" {
		cfg.HistoryDSN = yc.HistoryDSN
	}
	if yc.Backend != "" {
		cfg.Backend = yc.Backend
	}
	if yc.Aria2.RPCURL != "" {
		cfg.Aria2.RPCURL = yc.Aria2.RPCURL
	}
	if yc.Aria2.Secret != "" {
		cfg.Aria2.Secret = yc.Aria2.Secret
	}
	if yc.Log.Level != "" {
		cfg.Log.Level = yc.Log.Level
	}
	if yc.Log.File != "" {
		cfg.Log.File = yc.Log.File
	}
	if yc.Log.MaxSizeMB != 0 {
		cfg.Log.MaxSizeMB = yc.Log.MaxSizeMB
	}
	if yc.Log.MaxBackups != 0 {
		cfg.Log.MaxBackups = yc.Log.MaxBackups
	}
	if yc.Log.MaxAgeDays != 0 {
		cfg.Log.MaxAgeDays = yc.Log.MaxAgeDays
	}
	cfg.Log.Compress = yc.Log.Compress

	return cfg, nil
}

// ApplyEnv overrides c from FANFETCH_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		return v, ok && v != ""
	}
	if v, ok := get("FANFETCH_ADDR"); ok {
		c.Addr = v
	}
	if v, ok := get("FANFETCH_CACHE_DIR"); ok {
		c.CacheDir = v
	}
	if v, ok := get("FANFETCH_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FANFETCH_WORKERS: %w", err)
		}
		c.Workers = n
	}
	for _, b := range []struct {
		env string
		dst *bool
	}{
		{"FANFETCH_CLEAR_ON_FAILURE", &c.ClearOnFailure},
		{"FANFETCH_SETTLE_ON_SUCCESS", &c.SettleOnSuccess},
	} {
		v, ok := get(b.env)
		if !ok {
			continue
		}
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", b.env, err)
		}
		*b.dst = on
	}
	for _, d := range []struct {
		env string
		dst *time.Duration
	}{
		{"FANFETCH_SHUTDOWN_TIMEOUT", &c.ShutdownTimeout},
		{"FANFETCH_FETCH_TIMEOUT", &c.FetchTimeout},
		{"FANFETCH_WAIT_TIMEOUT", &c.WaitTimeout},
	} {
		v, ok := get(d.env)
		if !ok {
			continue
		}
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.env, err)
		}
		*d.dst = dur
	}
	if v, ok := get("FANFETCH_USER_AGENT"); ok {
		c.UserAgent = v
	}
	if v, ok := get("FANFETCH_HISTORY_DSN"); ok {
		c.HistoryDSN = v
	}
	if v, ok := get("FANFETCH_API_TOKEN"); ok {
		c.APIToken = v
	}
	if v, ok := get("FANFETCH_BACKEND"); ok {
		c.Backend = v
	}
	if v, ok := get("ARIA2_RPC_URL"); ok {
		c.Aria2.RPCURL = v
	}
	if v, ok := get("ARIA2_SECRET"); ok {
		c.Aria2.Secret = v
	}
	if v, ok := get("FANFETCH_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := get("FANFETCH_LOG_FILE"); ok {
		c.Log.File = v
	}
	return nil
}

var (
	ErrNoAddr       = errors.New("addr is required")
	ErrWorkers      = errors.New("workers must be at least 1")
	ErrTimeouts     = errors.New("timeouts must not be negative")
	ErrLogLevel     = errors.New("log level must be one of debug, info, warn, error")
	ErrMissingToken = errors.New("api token is required")
	ErrBackend      = errors.New("backend must be http or aria2")
)

const (
	BackendHTTP  = "http"
	BackendAria2 = "aria2"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return ErrNoAddr
	}
	if c.Workers < 1 {
		return ErrWorkers
	}
	if c.ShutdownTimeout < 0 || c.FetchTimeout < 0 || c.WaitTimeout < 0 || c.Aria2.Timeout < 0 || c.Aria2.PollInterval < 0 {
		return ErrTimeouts
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: %q", ErrLogLevel, c.Log.Level)
	}
	switch c.Backend {
	case BackendHTTP, BackendAria2:
	default:
		return fmt.Errorf("%w: %q", ErrBackend, c.Backend)
	}
	if c.APIToken == "" {
		return ErrMissingToken
	}
	return nil
}
