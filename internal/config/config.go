// Root configuration for the NiFi UI harness.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
)

// Config is the root configuration structure for the harness.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Harness   HarnessConfig   `mapstructure:"harness"`
	Selectors SelectorsConfig `mapstructure:"selectors"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// PostgresConfig holds settings for the optional observation store.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// BrowserConfig holds settings for the headless browser driver.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors"`
	Args              []string       `mapstructure:"args"`
	Viewport          map[string]int `mapstructure:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout"`
}

// HarnessConfig holds the state-synchronization settings every test step
// depends on.
type HarnessConfig struct {
	// BaseURL is the root of the application under test, e.g. "https://localhost:8443/nifi".
	BaseURL string `mapstructure:"base_url"`

	// WaitTimeout is the default per-wait ceiling for WaitForPageType.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`

	// PollInterval is the delay between state evaluations while polling.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// TestBudget bounds the cumulative wall-clock time of one test,
	// independent of individual step timeouts.
	TestBudget time.Duration `mapstructure:"test_budget"`

	// OpenAccess marks deployments where the canvas is reachable without
	// prior authentication.
	OpenAccess bool `mapstructure:"open_access"`

	// SessionTTL is the validity window of a cached session artifact.
	SessionTTL time.Duration `mapstructure:"session_ttl"`

	// RecordObservations enables persisting every produced page context
	// to the observation store.
	RecordObservations bool `mapstructure:"record_observations"`
}

// SelectorsConfig allows overriding the built-in selector registry.
// The registry is versioned configuration data, not embedded literals, so
// classification rules can be tuned without a rebuild.
type SelectorsConfig struct {
	Version   string              `mapstructure:"version"`
	Overrides map[string][]string `mapstructure:"overrides"`
}

// SetDefaults registers default values so the harness can run with a
// minimal config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "nifi-uiharness")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 60*time.Second)
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})

	v.SetDefault("harness.base_url", "https://localhost:8443/nifi")
	v.SetDefault("harness.wait_timeout", 30*time.Second)
	v.SetDefault("harness.poll_interval", 500*time.Millisecond)
	v.SetDefault("harness.test_budget", 2*time.Minute)
	v.SetDefault("harness.session_ttl", 25*time.Minute)
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior deep inside the polling loop.
func (c *Config) Validate() error {
	if c.Harness.BaseURL == "" {
		return fmt.Errorf("harness.base_url must be set")
	}
	if c.Harness.PollInterval <= 0 {
		return fmt.Errorf("harness.poll_interval must be positive, got %s", c.Harness.PollInterval)
	}
	if c.Harness.WaitTimeout <= 0 {
		return fmt.Errorf("harness.wait_timeout must be positive, got %s", c.Harness.WaitTimeout)
	}
	if c.Harness.PollInterval >= c.Harness.WaitTimeout {
		return fmt.Errorf("harness.poll_interval (%s) must be shorter than harness.wait_timeout (%s)",
			c.Harness.PollInterval, c.Harness.WaitTimeout)
	}
	if c.Harness.SessionTTL <= 0 {
		return fmt.Errorf("harness.session_ttl must be positive, got %s", c.Harness.SessionTTL)
	}
	if c.Harness.RecordObservations && c.Postgres.URL == "" {
		return fmt.Errorf("postgres.url must be set when harness.record_observations is enabled")
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	var loadErr error
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Set stores a fully built configuration, bypassing Viper. Used by tests
// and by the CLI after flag overrides have been applied.
func Set(cfg *Config) {
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
