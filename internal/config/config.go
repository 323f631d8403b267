// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Store() StoreConfig
	Server() ServerConfig
	Pipeline() PipelineConfig
	Watcher() WatcherConfig
	Download() DownloadConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserRemoteURL(string)

	// Humanoid Setters
	SetBrowserHumanoidClickHoldMinMs(ms int)
	SetBrowserHumanoidClickHoldMaxMs(ms int)

	// Server Setters
	SetServerAddr(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	StoreCfg    StoreConfig    `mapstructure:"store" yaml:"store"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	PipelineCfg PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	WatcherCfg  WatcherConfig  `mapstructure:"watcher" yaml:"watcher"`
	DownloadCfg DownloadConfig `mapstructure:"download" yaml:"download"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Store() StoreConfig       { return c.StoreCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Pipeline() PipelineConfig { return c.PipelineCfg }
func (c *Config) Watcher() WatcherConfig   { return c.WatcherCfg }
func (c *Config) Download() DownloadConfig { return c.DownloadCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)       { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserRemoteURL(url string)  { c.BrowserCfg.RemoteURL = url }
func (c *Config) SetServerAddr(addr string)       { c.ServerCfg.Addr = addr }
func (c *Config) SetBrowserHumanoidClickHoldMinMs(ms int) {
	c.BrowserCfg.Humanoid.ClickHoldMinMs = ms
}
func (c *Config) SetBrowserHumanoidClickHoldMaxMs(ms int) {
	c.BrowserCfg.Humanoid.ClickHoldMaxMs = ms
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig describes how the automator reaches the Flow tab.
// When RemoteURL is set the automator attaches to an already running Chrome
// (typically the user's logged-in profile) instead of launching one.
type BrowserConfig struct {
	RemoteURL   string         `mapstructure:"remote_url" yaml:"remote_url"`
	Headless    bool           `mapstructure:"headless" yaml:"headless"`
	UserDataDir string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args        []string       `mapstructure:"args" yaml:"args"`
	TargetURL   string         `mapstructure:"target_url" yaml:"target_url"`
	OpenTarget  bool           `mapstructure:"open_target" yaml:"open_target"`
	Debug       bool           `mapstructure:"debug" yaml:"debug"`
	Humanoid    HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// StoreConfig selects the backend for the persistent record store.
type StoreConfig struct {
	// Driver is one of "sqlite", "postgres" or "memory".
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	URL    string `mapstructure:"url" yaml:"url"`
}

// ServerConfig configures the local control surface.
type ServerConfig struct {
	Enabled     bool     `mapstructure:"enabled" yaml:"enabled"`
	Addr        string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// PipelineConfig holds the fixed pauses the orchestrator inserts between steps.
type PipelineConfig struct {
	SpecsSettle      time.Duration `mapstructure:"specs_settle" yaml:"specs_settle"`
	FillSettle       time.Duration `mapstructure:"fill_settle" yaml:"fill_settle"`
	StepFailureDelay time.Duration `mapstructure:"step_failure_delay" yaml:"step_failure_delay"`
	RetryDelay       time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	CallTimeout      time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// WatcherConfig tunes the completion watcher's fallback polling and
// the rate at which DOM mutation bursts are evaluated.
type WatcherConfig struct {
	PollInitial    time.Duration `mapstructure:"poll_initial" yaml:"poll_initial"`
	PollMultiplier float64       `mapstructure:"poll_multiplier" yaml:"poll_multiplier"`
	PollMax        time.Duration `mapstructure:"poll_max" yaml:"poll_max"`
	MutationRate   float64       `mapstructure:"mutation_rate" yaml:"mutation_rate"`
	MutationBurst  int           `mapstructure:"mutation_burst" yaml:"mutation_burst"`
}

// DownloadConfig controls where finished videos are written.
type DownloadConfig struct {
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "flow-automator")
	v.SetDefault("logger.log_file", "flow-automator.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.target_url", "https://labs.google/fx/tools/flow")
	v.SetDefault("browser.open_target", true)
	v.SetDefault("browser.debug", false)
	setHumanoidDefaults(v)

	// -- Store --
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "~/.flow-automator/state.db")
	v.SetDefault("store.url", "")

	// -- Server --
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", "127.0.0.1:8765")

	// -- Pipeline --
	v.SetDefault("pipeline.specs_settle", "500ms")
	v.SetDefault("pipeline.fill_settle", "800ms")
	v.SetDefault("pipeline.step_failure_delay", "2s")
	v.SetDefault("pipeline.retry_delay", "3s")
	v.SetDefault("pipeline.call_timeout", "30s")

	// -- Watcher --
	v.SetDefault("watcher.poll_initial", "2s")
	v.SetDefault("watcher.poll_multiplier", 1.2)
	v.SetDefault("watcher.poll_max", "10s")
	v.SetDefault("watcher.mutation_rate", 4.0)
	v.SetDefault("watcher.mutation_burst", 1)

	// -- Download --
	v.SetDefault("download.dir", "~/Downloads")
	v.SetDefault("download.timeout", "5m")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Connection strings may carry credentials; keep them out of config files.
	_ = v.BindEnv("store.url", "FLOW_STORE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.StoreCfg.Path, &c.DownloadCfg.Dir, &c.BrowserCfg.UserDataDir, &c.LoggerCfg.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.StoreCfg.Driver) {
	case "sqlite":
		if c.StoreCfg.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.StoreCfg.URL == "" {
			return fmt.Errorf("store.url is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be one of sqlite, postgres, memory (got %q)", c.StoreCfg.Driver)
	}
	if c.BrowserCfg.TargetURL == "" {
		return fmt.Errorf("browser.target_url must not be empty")
	}
	if err := c.BrowserCfg.Humanoid.Validate(); err != nil {
		return fmt.Errorf("browser.humanoid configuration invalid: %w", err)
	}
	if err := c.WatcherCfg.Validate(); err != nil {
		return fmt.Errorf("watcher configuration invalid: %w", err)
	}
	if c.ServerCfg.Enabled && c.ServerCfg.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}
	return nil
}

// Validate checks the poll schedule.
func (w *WatcherConfig) Validate() error {
	if w.PollInitial <= 0 {
		return fmt.Errorf("poll_initial must be a positive duration")
	}
	if w.PollMultiplier < 1.0 {
		return fmt.Errorf("poll_multiplier must be at least 1.0")
	}
	if w.PollMax < w.PollInitial {
		return fmt.Errorf("poll_max must not be shorter than poll_initial")
	}
	if w.MutationRate <= 0 || w.MutationBurst <= 0 {
		return fmt.Errorf("mutation_rate and mutation_burst must be positive")
	}
	return nil
}
