// Package config loads and hot-reloads examsnip configuration via viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/examsnip/examsnip/internal/assemble"
)

// DetectorCfg configures the vision-model detector client.
type DetectorCfg struct {
	BaseURL    string  `mapstructure:"base_url" yaml:"base_url"`       // OpenAI-compatible endpoint
	Model      string  `mapstructure:"model" yaml:"model"`             // Vision model name
	APIKey     string  `mapstructure:"api_key" yaml:"api_key"`         // Supports ${ENV_VAR} syntax
	MaxRetries uint    `mapstructure:"max_retries" yaml:"max_retries"` // Retry attempts per page
	MaxEdge    int     `mapstructure:"max_edge" yaml:"max_edge"`       // Downscale pages to this max edge before upload
	RateLimit  float64 `mapstructure:"rate_limit" yaml:"rate_limit"`   // Requests per second
}

// Config holds examsnip configuration.
// Stored at: ~/.examsnip/config.yaml
type Config struct {
	Assembly  assemble.Settings `mapstructure:"assembly" yaml:"assembly"`
	Detector  DetectorCfg       `mapstructure:"detector" yaml:"detector"`
	RenderDPI int               `mapstructure:"render_dpi" yaml:"render_dpi"`
	LogLevel  string            `mapstructure:"log_level" yaml:"log_level"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Assembly: assemble.DefaultSettings(),
		Detector: DetectorCfg{
			Model:      "gpt-4o-mini",
			APIKey:     "${OPENAI_API_KEY}",
			MaxRetries: 3,
			MaxEdge:    2000,
			RateLimit:  2.0,
		},
		RenderDPI: 300,
		LogLevel:  "info",
	}
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("assembly", defaults.Assembly)
	viper.SetDefault("detector", defaults.Detector)
	viper.SetDefault("render_dpi", defaults.RenderDPI)
	viper.SetDefault("log_level", defaults.LogLevel)

	// Environment variables with EXAMSNIP_ prefix
	viper.SetEnvPrefix("EXAMSNIP")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.examsnip")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. Callers typically
// register an OnChange hook that pushes the new concurrency ceiling into
// the assembly pool.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# examsnip configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENAI_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
