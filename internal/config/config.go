// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Device    DeviceConfig    `mapstructure:"device" yaml:"device"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DeviceConfig holds settings for the adb device transport.
type DeviceConfig struct {
	ADBPath        string        `mapstructure:"adb_path" yaml:"adb_path"`
	DeviceID       string        `mapstructure:"device_id" yaml:"device_id"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	// Fallback resolution used when `wm size` cannot be parsed.
	FallbackWidth  int `mapstructure:"fallback_width" yaml:"fallback_width"`
	FallbackHeight int `mapstructure:"fallback_height" yaml:"fallback_height"`
}

// AgentConfig tunes the control loop: step budget, history window, supervisor
// cadence, and settling delays.
type AgentConfig struct {
	MaxSteps      int `mapstructure:"max_steps" yaml:"max_steps"`
	HistoryWindow int `mapstructure:"history_window" yaml:"history_window"`
	// Supervisor checks start after CheckAfter steps and repeat every
	// CheckInterval steps to bound model cost.
	CheckAfter    int           `mapstructure:"check_after" yaml:"check_after"`
	CheckInterval int           `mapstructure:"check_interval" yaml:"check_interval"`
	TapSettle     time.Duration `mapstructure:"tap_settle" yaml:"tap_settle"`
	SwipeSettle   time.Duration `mapstructure:"swipe_settle" yaml:"swipe_settle"`
	DefaultWait   time.Duration `mapstructure:"default_wait" yaml:"default_wait"`
	MaxWait       time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	LaunchWait    time.Duration `mapstructure:"launch_wait" yaml:"launch_wait"`
	TestCaseDelay time.Duration `mapstructure:"test_case_delay" yaml:"test_case_delay"`
}

// LLMProvider defines the supported model backends.
type LLMProvider string

const (
	ProviderOpenRouter LLMProvider = "openrouter"
	ProviderGemini     LLMProvider = "gemini"
)

// LLMConfig defines the model backend and the shared-client policies: minimum
// inter-call delay and the bounded 429 backoff.
type LLMConfig struct {
	Provider     LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model        string        `mapstructure:"model" yaml:"model"`
	APIKey       string        `mapstructure:"api_key" yaml:"-"`
	Endpoint     string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout   time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature  float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MinCallDelay time.Duration `mapstructure:"min_call_delay" yaml:"min_call_delay"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffBase  time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	// Image payload preparation.
	ImageMaxDimension int `mapstructure:"image_max_dimension" yaml:"image_max_dimension"`
	ImageJPEGQuality  int `mapstructure:"image_jpeg_quality" yaml:"image_jpeg_quality"`
}

// ArtifactsConfig controls run-artifact persistence.
type ArtifactsConfig struct {
	Dir            string `mapstructure:"dir" yaml:"dir"`
	SaveStepFrames bool   `mapstructure:"save_step_frames" yaml:"save_step_frames"`
	RetentionDays  int    `mapstructure:"retention_days" yaml:"retention_days"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidprobe")
	v.SetDefault("logger.log_file", "droidprobe.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Device --
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.command_timeout", "10s")
	v.SetDefault("device.fallback_width", 1080)
	v.SetDefault("device.fallback_height", 2400)

	// -- Agent --
	v.SetDefault("agent.max_steps", 15)
	v.SetDefault("agent.history_window", 4)
	v.SetDefault("agent.check_after", 3)
	v.SetDefault("agent.check_interval", 2)
	v.SetDefault("agent.tap_settle", "1500ms")
	v.SetDefault("agent.swipe_settle", "1s")
	v.SetDefault("agent.default_wait", "2s")
	v.SetDefault("agent.max_wait", "60s")
	v.SetDefault("agent.launch_wait", "3s")
	v.SetDefault("agent.test_case_delay", "2s")

	// -- LLM --
	v.SetDefault("llm.provider", "openrouter")
	v.SetDefault("llm.model", "google/gemini-2.0-flash-exp:free")
	v.SetDefault("llm.api_timeout", "45s")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.min_call_delay", "2s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.backoff_base", "5s")
	v.SetDefault("llm.image_max_dimension", 1920)
	v.SetDefault("llm.image_jpeg_quality", 85)

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "runs")
	v.SetDefault("artifacts.save_step_frames", false)
	v.SetDefault("artifacts.retention_days", 7)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "DROIDPROBE_LLM_API_KEY", "OPENROUTER_API_KEY", "GEMINI_API_KEY")

	var cfg Config
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
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.Device.FallbackWidth <= 0 || c.Device.FallbackHeight <= 0 {
		return fmt.Errorf("device.fallback_width and device.fallback_height must be positive")
	}
	if c.Artifacts.RetentionDays < 0 {
		return fmt.Errorf("artifacts.retention_days must not be negative")
	}
	return nil
}

// Validate checks the control-loop settings.
func (a *AgentConfig) Validate() error {
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be a positive integer")
	}
	if a.HistoryWindow <= 0 {
		return fmt.Errorf("history_window must be a positive integer")
	}
	if a.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be a positive integer")
	}
	if a.MaxWait <= 0 {
		return fmt.Errorf("max_wait must be a positive duration")
	}
	return nil
}

// Validate checks the model backend settings.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case ProviderOpenRouter, ProviderGemini:
	default:
		return fmt.Errorf("unsupported provider: %q", c.Provider)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be a positive integer")
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("backoff_base must be a positive duration")
	}
	if c.MinCallDelay < 0 {
		return fmt.Errorf("min_call_delay must not be negative")
	}
	return nil
}
