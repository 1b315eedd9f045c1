// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Store() StoreConfig
	Network() NetworkConfig
	Server() ServerConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetStoreURL(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	StoreCfg    StoreConfig    `mapstructure:"store" yaml:"store"`
	NetworkCfg  NetworkConfig  `mapstructure:"network" yaml:"network"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Store() StoreConfig       { return c.StoreCfg }
func (c *Config) Network() NetworkConfig   { return c.NetworkCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetStoreURL(u string)      { c.StoreCfg.URL = u }

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

// DatabaseConfig holds the connection details for the attempt ledger.
// An empty URL disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig controls how Chrome is located and launched for a login attempt.
type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	WindowWidth    int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight   int           `mapstructure:"window_height" yaml:"window_height"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	ExecStrategies []string      `mapstructure:"exec_strategies" yaml:"exec_strategies"`
	ExecPath       string        `mapstructure:"exec_path" yaml:"exec_path"`
	ProfileDir     string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	ProfilePrefix  string        `mapstructure:"profile_prefix" yaml:"profile_prefix"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	SettleDelay    time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Args           []string      `mapstructure:"args" yaml:"args"`
}

// StoreConfig describes the storefront being authenticated against.
type StoreConfig struct {
	URL                string            `mapstructure:"url" yaml:"url"`
	LoginPath          string            `mapstructure:"login_path" yaml:"login_path"`
	CartPath           string            `mapstructure:"cart_path" yaml:"cart_path"`
	UpdatePath         string            `mapstructure:"update_path" yaml:"update_path"`
	LoginFrame         string            `mapstructure:"login_frame" yaml:"login_frame"`
	CartIndicatorClass string            `mapstructure:"cart_indicator_class" yaml:"cart_indicator_class"`
	SubmitSelector     string            `mapstructure:"submit_selector" yaml:"submit_selector"`
	StaticCookies      map[string]string `mapstructure:"static_cookies" yaml:"static_cookies"`
}

// LoginURL returns the absolute login page address.
func (s StoreConfig) LoginURL() string { return s.join(s.LoginPath) }

// CartURL returns the absolute cart page address.
func (s StoreConfig) CartURL() string { return s.join(s.CartPath) }

// UpdateURL returns the absolute cart update endpoint.
func (s StoreConfig) UpdateURL() string { return s.join(s.UpdatePath) }

func (s StoreConfig) join(path string) string {
	return strings.TrimRight(s.URL, "/") + "/" + strings.TrimLeft(path, "/")
}

// NetworkConfig tunes the plain HTTP client used for the cart refresh.
type NetworkConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Proxy           string        `mapstructure:"proxy" yaml:"proxy"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// Busy modes for the gateway when an acquisition or refresh is already running.
const (
	BusyModeQueue  = "queue"
	BusyModeReject = "reject"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	BusyMode        string        `mapstructure:"busy_mode" yaml:"busy_mode"`
	// LoginRate is the number of acquisitions allowed per minute. Zero disables the limit.
	LoginRate  float64 `mapstructure:"login_rate" yaml:"login_rate"`
	LoginBurst int     `mapstructure:"login_burst" yaml:"login_burst"`
}

// DefaultSubmitSelector matches the storefront's login button by its inline style.
const DefaultSubmitSelector = `button[style="width: 100%; margin-top: 1em; background-color: rgb(31, 69, 194) !important;"]`

// DefaultUserAgent is a realistic desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// NewDefaultConfig creates a configuration populated entirely from defaults.
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
	v.SetDefault("logger.service_name", "sessiongate")
	v.SetDefault("logger.log_file", "sessiongate.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Store --
	v.SetDefault("store.url", "https://www.uhs-hardware.com")
	v.SetDefault("store.login_path", "/account/login")
	v.SetDefault("store.cart_path", "/cart")
	v.SetDefault("store.update_path", "/cart/update.js")
	v.SetDefault("store.login_frame", "advancedRegForm")
	v.SetDefault("store.cart_indicator_class", "cart-count-bubble")
	v.SetDefault("store.submit_selector", DefaultSubmitSelector)
	v.SetDefault("store.static_cookies", map[string]string{
		"localization":  "US",
		"cart_currency": "USD",
	})

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1080)
	v.SetDefault("browser.window_height", 760)
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.exec_strategies", []string{"download", "path", "known"})
	v.SetDefault("browser.profile_prefix", "chrome_user_data_")
	v.SetDefault("browser.wait_timeout", "180s")
	v.SetDefault("browser.settle_delay", "10s")
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.poll_interval", "250ms")

	// -- Network --
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.ignore_tls_errors", false)

	// -- Server --
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.request_timeout", "15m")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.busy_mode", BusyModeQueue)
	v.SetDefault("server.login_rate", 0.0)
	v.SetDefault("server.login_burst", 1)
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "SESSIONGATE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	switch c.ServerCfg.BusyMode {
	case BusyModeQueue, BusyModeReject:
	default:
		return fmt.Errorf("server.busy_mode must be %q or %q, got %q", BusyModeQueue, BusyModeReject, c.ServerCfg.BusyMode)
	}
	if c.ServerCfg.LoginRate < 0 {
		return fmt.Errorf("server.login_rate cannot be negative")
	}
	if c.ServerCfg.LoginRate > 0 && c.ServerCfg.LoginBurst <= 0 {
		return fmt.Errorf("server.login_burst must be a positive integer when a login rate is set")
	}
	return nil
}

// Validate checks the storefront settings.
func (s *StoreConfig) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url must be an absolute URL, got %q", s.URL)
	}
	if s.CartIndicatorClass == "" {
		return fmt.Errorf("cart_indicator_class is required")
	}
	if s.SubmitSelector == "" {
		return fmt.Errorf("submit_selector is required")
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	if b.WindowWidth <= 0 || b.WindowHeight <= 0 {
		return fmt.Errorf("window_width and window_height must be positive integers")
	}
	if b.WaitTimeout <= 0 {
		return fmt.Errorf("wait_timeout must be positive")
	}
	if b.SettleDelay < 0 {
		return fmt.Errorf("settle_delay cannot be negative")
	}
	if len(b.ExecStrategies) == 0 && b.ExecPath == "" {
		return fmt.Errorf("at least one exec strategy or an exec_path is required")
	}
	return nil
}
