// Package config loads application settings from a YAML file, environment
// variables, and an optional .env file.
//
// Precedence: explicit YAML values > environment variables > defaults.
// YAML string values support ${VAR} and ${VAR:-default} expansion.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost      = "0.0.0.0"
	DefaultPort      = 8000
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
	DefaultMaxTurns  = 10
)

// Settings holds all runtime configuration for the service.
type Settings struct {
	// Anthropic API
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	Model           string  `yaml:"model"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	MaxTurns        int     `yaml:"max_turns"`

	// Orders MCP server
	MCPBaseURL      string `yaml:"mcp_base_url"`
	MCPClientID     string `yaml:"mcp_client_id"`
	MCPClientSecret string `yaml:"mcp_client_secret"`

	// HTTP server
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// CORS
	CORSOrigins string `yaml:"cors_origins"`

	// File persistence
	DataDir string `yaml:"data_dir"`

	Debug bool `yaml:"debug"`
}

// Load builds Settings from the environment, loading a .env file first when
// present. path may be empty; when set, the YAML file at path overrides
// environment values.
func Load(path string) (*Settings, error) {
	// Best effort; a missing .env file is not an error.
	_ = godotenv.Load()

	s := &Settings{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		Model:           envOr("AGENT_MODEL", DefaultModel),
		MaxTokens:       envIntOr("AGENT_MAX_TOKENS", DefaultMaxTokens),
		Temperature:     envFloatOr("AGENT_TEMPERATURE", 0.7),
		MaxTurns:        envIntOr("AGENT_MAX_TURNS", DefaultMaxTurns),
		MCPBaseURL:      os.Getenv("MCP_BASE_URL"),
		MCPClientID:     os.Getenv("MCP_CLIENT_ID"),
		MCPClientSecret: os.Getenv("MCP_CLIENT_SECRET"),
		Host:            envOr("HOST", DefaultHost),
		Port:            envIntOr("PORT", DefaultPort),
		CORSOrigins:     envOr("CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000"),
		DataDir:         envOr("DATA_DIR", "data"),
		Debug:           envBool("DEBUG"),
	}

	if path != "" {
		if err := s.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var overlay Settings
	if err := yaml.Unmarshal([]byte(expanded), &overlay); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	mergeString(&s.AnthropicAPIKey, overlay.AnthropicAPIKey)
	mergeString(&s.Model, overlay.Model)
	mergeInt(&s.MaxTokens, overlay.MaxTokens)
	if overlay.Temperature != 0 {
		s.Temperature = overlay.Temperature
	}
	mergeInt(&s.MaxTurns, overlay.MaxTurns)
	mergeString(&s.MCPBaseURL, overlay.MCPBaseURL)
	mergeString(&s.MCPClientID, overlay.MCPClientID)
	mergeString(&s.MCPClientSecret, overlay.MCPClientSecret)
	mergeString(&s.Host, overlay.Host)
	mergeInt(&s.Port, overlay.Port)
	mergeString(&s.CORSOrigins, overlay.CORSOrigins)
	mergeString(&s.DataDir, overlay.DataDir)
	if overlay.Debug {
		s.Debug = true
	}
	return nil
}

// Validate checks settings that would otherwise fail at first use.
func (s *Settings) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}
	if s.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", s.MaxTokens)
	}
	if s.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive, got %d", s.MaxTurns)
	}
	return nil
}

// Address returns the host:port the HTTP server binds to.
func (s *Settings) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CORSOriginsList parses the comma-separated origins string.
func (s *Settings) CORSOriginsList() []string {
	parts := strings.Split(s.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
