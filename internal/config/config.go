package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Context ContextConfig `mapstructure:"context" yaml:"context"`
	Mirror  MirrorConfig  `mapstructure:"mirror" yaml:"mirror"`
}

// ContextConfig controls how much prior conversation accompanies each
// generation request.
type ContextConfig struct {
	// MaxMessages bounds the context window by message count. The
	// backend accepts 1..50.
	MaxMessages int `mapstructure:"max_messages" yaml:"max_messages"`

	// Policy is "count" (default) or "tokens". "tokens" trims by
	// TokenBudget instead of message count.
	Policy string `mapstructure:"policy" yaml:"policy"`

	// TokenBudget is the approximate token limit for policy "tokens".
	TokenBudget int `mapstructure:"token_budget" yaml:"token_budget"`
}

// MirrorConfig controls the local session mirror database.
type MirrorConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path,omitempty"`
}

func Load() (*Config, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(configDir, "locallm"))
	v.AddConfigPath(".")

	v.SetDefault("base_url", "http://localhost:8000")
	v.SetDefault("model", "llama3.1")
	v.SetDefault("context.max_messages", 10)
	v.SetDefault("context.policy", "count")
	v.SetDefault("context.token_budget", 2048)
	v.SetDefault("mirror.enabled", true)

	// Config file is optional.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	resolved, err := ResolveValue(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("resolve base_url: %w", err)
	}
	cfg.BaseURL = resolved
	if env := os.Getenv("LOCALLM_BASE_URL"); env != "" {
		cfg.BaseURL = env
	}
	if env := os.Getenv("LOCALLM_MODEL"); env != "" {
		cfg.Model = env
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Context.MaxMessages < 1 || c.Context.MaxMessages > 50 {
		return fmt.Errorf("context.max_messages must be between 1 and 50, got %d", c.Context.MaxMessages)
	}
	switch c.Context.Policy {
	case "count", "tokens":
	default:
		return fmt.Errorf("context.policy must be %q or %q, got %q", "count", "tokens", c.Context.Policy)
	}
	return nil
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "locallm", "config.yaml"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Save writes the config to disk
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0600)
}
