// ABOUTME: Configuration loading and parsing for desk-gateway
// ABOUTME: Supports YAML files with environment variable expansion and validation

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Defaults for AI generation parameters
const (
	DefaultAIBaseURL       = "https://openrouter.ai/api/v1"
	DefaultAIModel         = "deepseek/deepseek-r1-0528-qwen3-8b"
	DefaultAIMaxTokens     = 400
	DefaultAITemperature   = 0.7
	DefaultAIHistoryWindow = 20
)

// Config represents the complete desk-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	AI       AIConfig       `yaml:"ai"`
	Broker   BrokerConfig   `yaml:"broker"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// AIConfig holds upstream generator configuration
type AIConfig struct {
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	MaxTokens int `yaml:"max_tokens"`
	// Temperature is a pointer so an explicit 0 (greedy sampling) is
	// distinguishable from an absent value, which gets the default.
	Temperature   *float64 `yaml:"temperature"`
	HistoryWindow int      `yaml:"history_window"`
}

// BrokerConfig holds the optional AMQP event bridge configuration.
// When enabled, hub events are mirrored through a topic exchange so that
// multiple gateway instances share one logical event space.
type BrokerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in unset AI generation parameters.
func (c *Config) applyDefaults() {
	if c.AI.BaseURL == "" {
		c.AI.BaseURL = DefaultAIBaseURL
	}
	if c.AI.Model == "" {
		c.AI.Model = DefaultAIModel
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = DefaultAIMaxTokens
	}
	if c.AI.Temperature == nil {
		temp := DefaultAITemperature
		c.AI.Temperature = &temp
	}
	if c.AI.HistoryWindow == 0 {
		c.AI.HistoryWindow = DefaultAIHistoryWindow
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Broker.Enabled {
		if c.Broker.URL == "" {
			return fmt.Errorf("broker.url is required when broker is enabled")
		}
		if c.Broker.Exchange == "" {
			return fmt.Errorf("broker.exchange is required when broker is enabled")
		}
	}

	return nil
}
