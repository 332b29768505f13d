// Package config loads and validates the application configuration from a
// YAML file, environment variables, and built-in defaults.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Supported oracle providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Oracle    OracleConfig    `mapstructure:"oracle" yaml:"oracle"`
	Evolution EvolutionConfig `mapstructure:"evolution" yaml:"evolution"`
}

// LoggerConfig controls the zap logger and its file rotation.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // Megabytes before rotation.
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // Days.
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// OracleConfig selects and tunes the code-generation provider.
type OracleConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"` // "gemini" or "openai"
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"` // Empty uses the provider default.
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// RequestsPerMinute caps the call rate to the provider. Zero disables the limiter.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// EvolutionConfig is the immutable per-function policy attached at wrap time.
// A zero value is unusable; start from Defaults() or the loaded file.
type EvolutionConfig struct {
	// AllowImports is the ordered set of module roots a candidate may import.
	AllowImports []string `mapstructure:"allow_imports" yaml:"allow_imports"`
	// MaxBodyLines bounds the size of a candidate body. Zero means unbounded.
	MaxBodyLines int `mapstructure:"max_body_lines" yaml:"max_body_lines"`
	// AutoResynthesize widens the trigger from the not-implemented sentinel to
	// any error returned by the current implementation.
	AutoResynthesize bool `mapstructure:"auto_resynthesize_on_any_error" yaml:"auto_resynthesize_on_any_error"`
	// SandboxTimeout is the wall-clock deadline for one isolated execution.
	SandboxTimeout time.Duration `mapstructure:"sandbox_timeout" yaml:"sandbox_timeout"`
	// MaxAttempts bounds consecutive regeneration rounds per identity.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// CacheDir overrides the cache root. Empty resolves to ~/.lazarus/cache.
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`
	// NetworkAllowlist is forwarded to the sandbox environment as advisory
	// metadata; this engine does not enforce it at the network layer.
	NetworkAllowlist []string `mapstructure:"network_allowlist" yaml:"network_allowlist"`
	// PythonBin is the interpreter used by the sandbox executor.
	PythonBin string `mapstructure:"python_bin" yaml:"python_bin"`
}

// SetDefaults initializes default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "lazarus")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Oracle --
	v.SetDefault("oracle.provider", "gemini")
	v.SetDefault("oracle.model", "gemini-2.5-pro")
	v.SetDefault("oracle.api_timeout", "2m")
	v.SetDefault("oracle.temperature", 0.0)
	v.SetDefault("oracle.max_tokens", 4096)
	v.SetDefault("oracle.requests_per_minute", 0.0)

	// -- Evolution --
	v.SetDefault("evolution.allow_imports", []string{"json", "re", "math", "datetime", "time"})
	v.SetDefault("evolution.max_body_lines", 200)
	v.SetDefault("evolution.auto_resynthesize_on_any_error", false)
	v.SetDefault("evolution.sandbox_timeout", "10s")
	v.SetDefault("evolution.max_attempts", 3)
	v.SetDefault("evolution.cache_dir", "")
	v.SetDefault("evolution.python_bin", "python3")
}

// NewDefaultConfig returns a configuration populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults above.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load reads configuration from an optional file path, layering environment
// variables (LAZARUS_*) and defaults underneath.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("LAZARUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Sensitive values are expected from the environment, not the file.
	v.BindEnv("oracle.api_key", "LAZARUS_ORACLE_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	return NewConfigFromViper(v)
}

// NewConfigFromViper unmarshals and validates a configuration from viper.
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

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if err := c.Evolution.Validate(); err != nil {
		return fmt.Errorf("evolution configuration invalid: %w", err)
	}
	switch c.Oracle.Provider {
	case "", ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("oracle.provider must be \"gemini\" or \"openai\", got %q", c.Oracle.Provider)
	}
	if c.Oracle.RequestsPerMinute < 0 {
		return fmt.Errorf("oracle.requests_per_minute must not be negative")
	}
	return nil
}

// Validate checks the evolution policy settings.
func (e *EvolutionConfig) Validate() error {
	if e.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if e.SandboxTimeout <= 0 {
		return fmt.Errorf("sandbox_timeout must be a positive duration")
	}
	if e.MaxBodyLines < 0 {
		return fmt.Errorf("max_body_lines must not be negative")
	}
	return nil
}

// ResolveCacheDir returns the effective cache root: the configured directory
// if set, otherwise ~/.lazarus/cache.
func (e *EvolutionConfig) ResolveCacheDir() (string, error) {
	if e.CacheDir != "" {
		return filepath.Abs(e.CacheDir)
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory for cache root: %w", err)
	}
	return filepath.Join(home, ".lazarus", "cache"), nil
}
