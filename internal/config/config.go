// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Site() SiteConfig
	Pipeline() PipelineConfig
	Style() StyleConfig
	Fetch() FetchConfig
	Engine() EngineConfig
	Server() ServerConfig
	Chat() ChatConfig
	Tracing() TracingConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserExecPath(string)

	// Style Setters
	SetStyleAssetPath(string)
	SetStyleName(string)

	// Pipeline Setters
	SetPipelineDeadline(time.Duration)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	SiteCfg     SiteConfig     `mapstructure:"site" yaml:"site"`
	PipelineCfg PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	StyleCfg    StyleConfig    `mapstructure:"style" yaml:"style"`
	FetchCfg    FetchConfig    `mapstructure:"fetch" yaml:"fetch"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	ServerCfg   ServerConfig   `mapstructure:"server" yaml:"server"`
	ChatCfg     ChatConfig     `mapstructure:"chat" yaml:"chat"`
	TracingCfg  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Site() SiteConfig         { return c.SiteCfg }
func (c *Config) Pipeline() PipelineConfig { return c.PipelineCfg }
func (c *Config) Style() StyleConfig       { return c.StyleCfg }
func (c *Config) Fetch() FetchConfig       { return c.FetchCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Server() ServerConfig     { return c.ServerCfg }
func (c *Config) Chat() ChatConfig         { return c.ChatCfg }
func (c *Config) Tracing() TracingConfig   { return c.TracingCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)           { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserExecPath(p string)         { c.BrowserCfg.ExecPath = p }
func (c *Config) SetStyleAssetPath(p string)          { c.StyleCfg.AssetPath = p }
func (c *Config) SetStyleName(n string)               { c.StyleCfg.Name = n }
func (c *Config) SetPipelineDeadline(d time.Duration) { c.PipelineCfg.Deadline = d }

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

// BrowserConfig holds settings for the per-request headless browser instances.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	DisableExtensions bool          `mapstructure:"disable_extensions" yaml:"disable_extensions"`
	DisableImages     bool          `mapstructure:"disable_images" yaml:"disable_images"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NormalizeFonts    bool          `mapstructure:"normalize_fonts" yaml:"normalize_fonts"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	PageLoadTimeout   time.Duration `mapstructure:"page_load_timeout" yaml:"page_load_timeout"`
	ScriptTimeout     time.Duration `mapstructure:"script_timeout" yaml:"script_timeout"`
	ReleaseTimeout    time.Duration `mapstructure:"release_timeout" yaml:"release_timeout"`
}

// SiteConfig identifies the table rendering application being driven.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// PipelineConfig tunes the waits and heuristics of one automation run.
type PipelineConfig struct {
	Deadline         time.Duration `mapstructure:"deadline" yaml:"deadline"`
	ShortWait        time.Duration `mapstructure:"short_wait" yaml:"short_wait"`
	RenderWait       time.Duration `mapstructure:"render_wait" yaml:"render_wait"`
	StepTimeout      time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	ImageWait        time.Duration `mapstructure:"image_wait" yaml:"image_wait"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MinImageWidth    float64       `mapstructure:"min_image_width" yaml:"min_image_width"`
	MinImageHeight   float64       `mapstructure:"min_image_height" yaml:"min_image_height"`
	MaxSpecLength    int           `mapstructure:"max_spec_length" yaml:"max_spec_length"`
	ConsentWords     []string      `mapstructure:"consent_words" yaml:"consent_words"`
	ConsentScanLimit int           `mapstructure:"consent_scan_limit" yaml:"consent_scan_limit"`
}

// StyleConfig points at the optional style asset imported before rendering.
type StyleConfig struct {
	AssetPath string `mapstructure:"asset_path" yaml:"asset_path"`
	Name      string `mapstructure:"name" yaml:"name"`
}

// FetchConfig configures the HTTP client used to download rendered images.
type FetchConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxBytes        int64         `mapstructure:"max_bytes" yaml:"max_bytes"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// EngineConfig configures the render worker pool.
type EngineConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	QueueSize   int `mapstructure:"queue_size" yaml:"queue_size"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	JWTSecret      string        `mapstructure:"jwt_secret" yaml:"-"`
}

// ChatConfig configures the chat command front end.
type ChatConfig struct {
	Command       string        `mapstructure:"command" yaml:"command"`
	ReplyTimeout  time.Duration `mapstructure:"reply_timeout" yaml:"reply_timeout"`
	RatePerMinute float64       `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	RateBurst     int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	OutputDir     string        `mapstructure:"output_dir" yaml:"output_dir"`
	MaxPending    int           `mapstructure:"max_pending" yaml:"max_pending"`
}

// TracingConfig toggles span export.
type TracingConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Output  string `mapstructure:"output" yaml:"output"`
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
	v.SetDefault("logger.service_name", "tablecast")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_extensions", true)
	v.SetDefault("browser.disable_images", false)
	v.SetDefault("browser.window_width", 1400)
	v.SetDefault("browser.window_height", 1000)
	v.SetDefault("browser.normalize_fonts", true)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.page_load_timeout", "30s")
	v.SetDefault("browser.script_timeout", "10s")
	v.SetDefault("browser.release_timeout", "5s")

	// -- Site --
	v.SetDefault("site.base_url", "https://gb2.hlorenzi.com/table")

	// -- Pipeline --
	v.SetDefault("pipeline.deadline", "60s")
	v.SetDefault("pipeline.short_wait", "200ms")
	v.SetDefault("pipeline.render_wait", "2s")
	v.SetDefault("pipeline.step_timeout", "3s")
	v.SetDefault("pipeline.image_wait", "3s")
	v.SetDefault("pipeline.poll_interval", "100ms")
	v.SetDefault("pipeline.min_image_width", 100)
	v.SetDefault("pipeline.min_image_height", 50)
	v.SetDefault("pipeline.max_spec_length", 2000)
	v.SetDefault("pipeline.consent_words", []string{"accept", "agree", "ok", "consent"})
	v.SetDefault("pipeline.consent_scan_limit", 10)

	// -- Style --
	v.SetDefault("style.asset_path", "")
	v.SetDefault("style.name", "")

	// -- Fetch --
	v.SetDefault("fetch.timeout", "10s")
	v.SetDefault("fetch.max_bytes", 16<<20)
	v.SetDefault("fetch.ignore_tls_errors", false)

	// -- Engine --
	v.SetDefault("engine.concurrency", 2)
	v.SetDefault("engine.queue_size", 16)

	// -- Server --
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.request_timeout", "90s")

	// -- Chat --
	v.SetDefault("chat.command", "maketable")
	v.SetDefault("chat.reply_timeout", "90s")
	v.SetDefault("chat.rate_per_minute", 6.0)
	v.SetDefault("chat.rate_burst", 2)
	v.SetDefault("chat.output_dir", "tables")
	v.SetDefault("chat.max_pending", 8)

	// -- Tracing --
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output", "stderr")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("server.jwt_secret", "TABLECAST_JWT_SECRET")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the secret if Unmarshal didn't pick it up
	if cfg.ServerCfg.JWTSecret == "" {
		cfg.ServerCfg.JWTSecret = os.Getenv("TABLECAST_JWT_SECRET")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.SiteCfg.Validate(); err != nil {
		return fmt.Errorf("site configuration invalid: %w", err)
	}
	if err := c.PipelineCfg.Validate(); err != nil {
		return fmt.Errorf("pipeline configuration invalid: %w", err)
	}
	if c.BrowserCfg.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if c.BrowserCfg.ReleaseTimeout <= 0 {
		return fmt.Errorf("browser.release_timeout must be a positive duration")
	}
	if c.EngineCfg.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be a positive integer")
	}
	if c.EngineCfg.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size must not be negative")
	}
	if c.FetchCfg.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be a positive duration")
	}
	return nil
}

// Validate checks the target site settings.
func (s *SiteConfig) Validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("base_url is not a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute http(s) URL")
	}
	return nil
}

// Validate checks the PipelineConfig settings.
func (p *PipelineConfig) Validate() error {
	if p.Deadline <= 0 {
		return fmt.Errorf("deadline must be a positive duration")
	}
	if p.RenderWait < 0 || p.ShortWait < 0 {
		return fmt.Errorf("wait budgets must not be negative")
	}
	if p.Deadline <= p.RenderWait {
		return fmt.Errorf("deadline must exceed render_wait")
	}
	if p.StepTimeout <= 0 {
		return fmt.Errorf("step_timeout must be a positive duration")
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if p.MinImageWidth < 0 || p.MinImageHeight < 0 {
		return fmt.Errorf("minimum image dimensions must not be negative")
	}
	if p.MaxSpecLength <= 0 {
		return fmt.Errorf("max_spec_length must be a positive integer")
	}
	return nil
}
