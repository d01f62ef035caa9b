package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. PAGEGRAB_SCRAPER_DEPTH.
const EnvPrefix = "PAGEGRAB"

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Scraper ScraperConfig `mapstructure:"scraper" yaml:"scraper"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
}

// LoggerConfig controls console and file logging.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig configures the headless browser used for inspection and capture.
type BrowserConfig struct {
	Width             int           `mapstructure:"width" yaml:"width"`
	Height            int           `mapstructure:"height" yaml:"height"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ProfileDir        string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	IdleWait          time.Duration `mapstructure:"idle_wait" yaml:"idle_wait"`
}

// ScraperConfig mirrors the proactive scraper's tunables.
type ScraperConfig struct {
	Depth            string        `mapstructure:"depth" yaml:"depth"`
	CacheEnabled     bool          `mapstructure:"cache_enabled" yaml:"cache_enabled"`
	MaxElements      int           `mapstructure:"max_elements" yaml:"max_elements"`
	CaptureArtifacts bool          `mapstructure:"capture_artifacts" yaml:"capture_artifacts"`
	CacheMaxAge      time.Duration `mapstructure:"cache_max_age" yaml:"cache_max_age"`
	ThumbnailWidth   int           `mapstructure:"thumbnail_width" yaml:"thumbnail_width"`
	ThumbnailHeight  int           `mapstructure:"thumbnail_height" yaml:"thumbnail_height"`
	Quality          int           `mapstructure:"quality" yaml:"quality"`
}

// StoreConfig configures the artifact store. Location ":memory:" keeps
// artifacts in process only; any other value is a directory.
type StoreConfig struct {
	Location string `mapstructure:"location" yaml:"location"`
	MaxSize  int64  `mapstructure:"max_size" yaml:"max_size"`
}

// SessionConfig configures multi-page sessions.
type SessionConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// NewDefaultConfig returns a config populated only from defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "pagegrab")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 720)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.idle_wait", "500ms")

	// -- Scraper --
	v.SetDefault("scraper.depth", "standard")
	v.SetDefault("scraper.cache_enabled", true)
	v.SetDefault("scraper.max_elements", 500)
	v.SetDefault("scraper.capture_artifacts", true)
	v.SetDefault("scraper.cache_max_age", "0s")
	v.SetDefault("scraper.thumbnail_width", 200)
	v.SetDefault("scraper.thumbnail_height", 150)
	v.SetDefault("scraper.quality", 85)

	// -- Store --
	v.SetDefault("store.location", ":memory:")
	v.SetDefault("store.max_size", 64<<20)

	// -- Session --
	v.SetDefault("session.concurrency", 1)
}

// BindEnv wires PAGEGRAB_* environment variables into v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load reads the optional config file at path (or ./pagegrab.yaml when path
// is empty), applies defaults and environment overrides, and validates.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("pagegrab")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit path must exist; the implicit one is optional.
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return NewConfigFromViper(v)
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Scraper.MaxElements <= 0 {
		return fmt.Errorf("scraper.max_elements must be a positive integer")
	}
	if c.Scraper.Quality < 0 || c.Scraper.Quality > 100 {
		return fmt.Errorf("scraper.quality must be between 0 and 100")
	}
	if c.Scraper.ThumbnailWidth < 0 || c.Scraper.ThumbnailHeight < 0 {
		return fmt.Errorf("scraper thumbnail dimensions must not be negative")
	}
	if c.Scraper.CacheMaxAge < 0 {
		return fmt.Errorf("scraper.cache_max_age must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Scraper.Depth)) {
	case "quick", "standard", "deep":
	default:
		return fmt.Errorf("scraper.depth %q is not one of quick, standard, deep", c.Scraper.Depth)
	}
	if c.Store.MaxSize < 0 {
		return fmt.Errorf("store.max_size must not be negative")
	}
	if c.Store.Location == "" {
		return fmt.Errorf("store.location is required")
	}
	if c.Session.Concurrency < 1 {
		return fmt.Errorf("session.concurrency must be at least 1")
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return fmt.Errorf("browser viewport must be positive")
	}
	return nil
}
