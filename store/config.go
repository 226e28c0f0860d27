package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// sensitiveKeys are header-name fragments whose values are masked before
// configuration leaves the process.
var sensitiveKeys = []string{
	"authorization", "token", "secret", "password", "api_key", "apikey", "client_secret",
}

// MaskValue hides a sensitive value, keeping only the first and last two
// characters.
func MaskValue(value string) string {
	if len(value) <= 6 {
		return "••••••"
	}
	return value[:2] + "••••••" + value[len(value)-2:]
}

// MaskHeaders returns a copy of headers with sensitive values masked.
func MaskHeaders(headers map[string]string) map[string]string {
	masked := make(map[string]string, len(headers))
	for key, value := range headers {
		normalized := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToLower(key))
		hidden := false
		for _, sensitive := range sensitiveKeys {
			if strings.Contains(normalized, sensitive) {
				hidden = true
				break
			}
		}
		if hidden {
			masked[key] = MaskValue(value)
		} else {
			masked[key] = value
		}
	}
	return masked
}

// A2AConfig is the runtime configuration of the A2A endpoint.
type A2AConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	IsLocal bool              `json:"is_local"`
}

// MCPServerConfig is the runtime configuration of the orders MCP server.
type MCPServerConfig struct {
	Name     string            `json:"name"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers"`
	IsActive bool              `json:"is_active"`
}

// AppConfig bundles the mutable runtime configuration.
type AppConfig struct {
	A2A       A2AConfig       `json:"a2a"`
	MCP       MCPServerConfig `json:"mcp"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Masked returns a copy safe to return from an API.
func (c AppConfig) Masked() AppConfig {
	masked := c
	masked.A2A.Headers = MaskHeaders(c.A2A.Headers)
	masked.MCP.Headers = MaskHeaders(c.MCP.Headers)
	return masked
}

// ConfigStore persists AppConfig to a JSON file. Reads fall back to the
// provided defaults when the file is absent or corrupt.
type ConfigStore struct {
	mu       sync.Mutex
	path     string
	defaults AppConfig
}

// NewConfigStore opens a config store at path.
func NewConfigStore(path string, defaults AppConfig) (*ConfigStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &ConfigStore{path: path, defaults: defaults}, nil
}

// Load returns the stored configuration or the defaults.
func (s *ConfigStore) Load() AppConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *ConfigStore) loadLocked() AppConfig {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.defaults
	}

	var cfg AppConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		slog.Error("Config file is corrupt, using defaults", "path", s.path, "error", err)
		return s.defaults
	}
	return cfg
}

// Save persists the configuration, stamping updated_at.
func (s *ConfigStore) Save(cfg AppConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(cfg)
}

func (s *ConfigStore) saveLocked(cfg AppConfig) error {
	cfg.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	slog.Info("Saved config", "path", s.path)
	return nil
}

// UpdateA2A replaces the A2A section, preserving the MCP section.
func (s *ConfigStore) UpdateA2A(url string, headers map[string]string) (AppConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.loadLocked()
	cfg.A2A = A2AConfig{
		URL:     url,
		Headers: headers,
		IsLocal: strings.HasPrefix(url, "http://localhost"),
	}
	if err := s.saveLocked(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// UpdateMCP replaces the MCP section, preserving the A2A section.
func (s *ConfigStore) UpdateMCP(name, url string, headers map[string]string) (AppConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.loadLocked()
	cfg.MCP = MCPServerConfig{
		Name:     name,
		URL:      url,
		Headers:  headers,
		IsActive: true,
	}
	if err := s.saveLocked(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Reset deletes the config file, reverting to defaults.
func (s *ConfigStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("removing config file: %w", err)
	}
	slog.Info("Deleted config file", "path", s.path)
	return nil
}

// Watch reloads the configuration whenever the file changes on disk and
// invokes onChange with the fresh value. It blocks until ctx is done.
// External edits (or edits through another process) are picked up; writes
// through this store also trigger a notification.
func (s *ConfigStore) Watch(ctx context.Context, onChange func(AppConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and atomic writers replace the file,
	// which would silently detach a file-level watch.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("Config file changed, reloading", "op", event.Op.String())
			onChange(s.Load())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}
