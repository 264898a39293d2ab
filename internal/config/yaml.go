// Package config loads the YAML configuration file and applies defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/querylens/querylens/internal/collector"
)

// YAMLConfig represents the top-level querylens configuration file.
type YAMLConfig struct {
	Server  ServerConfig       `yaml:"server"`
	Auth    AuthConfig         `yaml:"auth"`
	Backend BackendConfig      `yaml:"backend"`
	Cache   CacheConfig        `yaml:"cache"`
	Budget  BudgetConfig       `yaml:"budget"`
	Targets []collector.Target `yaml:"targets"`
	MCP     MCPConfig          `yaml:"mcp"`
	Logging LoggingConfig      `yaml:"logging"`

	// DataDir holds the SQLite database. Empty means in-memory.
	DataDir string `yaml:"data_dir"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	RateLimitPerMin int        `yaml:"rate_limit_per_minute"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
	JWTExpiry string `yaml:"jwt_expiry"`
}

// BackendConfig selects and configures the generative backend.
type BackendConfig struct {
	// Kind is "remote" or "static".
	Kind      string `yaml:"kind"`
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Timeout   string `yaml:"timeout"`
}

// CacheConfig controls explanation caching.
type CacheConfig struct {
	TTLSeconds     int `yaml:"ttl_seconds"`
	LockTTLSeconds int `yaml:"lock_ttl_seconds"`
}

// BudgetConfig caps generative-backend spend.
type BudgetConfig struct {
	DailyTokens int `yaml:"daily_tokens"`
}

// MCPConfig controls the MCP (Model Context Protocol) server.
type MCPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"`
	HTTPAddr  string `yaml:"http_addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a YAML configuration file. Environment variables
// referenced as ${VAR_NAME} in the file are expanded before parsing.
func Load(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Default returns a YAMLConfig pre-filled with sensible defaults.
func Default() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			RateLimitPerMin: 60,
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Auth: AuthConfig{
			Enabled:   false,
			JWTExpiry: "1h",
		},
		Backend: BackendConfig{
			Kind:      "static",
			MaxTokens: 2048,
			Timeout:   "30s",
		},
		Cache: CacheConfig{
			TTLSeconds:     3600,
			LockTTLSeconds: 10,
		},
		MCP: MCPConfig{
			Enabled:   true,
			Transport: "stdio",
			HTTPAddr:  ":3001",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		DataDir: "./data",
	}
}

// WriteDefault writes the default configuration to a YAML file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
