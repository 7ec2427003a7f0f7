package home

import (
	"fmt"
	"os"
	"strings"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/pathutil"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Server     ServerConfig     `yaml:"server"`
	Stores     []StoreConfig    `yaml:"stores"`
	Sync       SyncConfig       `yaml:"sync"`
	Duplicates DuplicatesConfig `yaml:"duplicates"`
	Database   DatabaseConfig   `yaml:"database"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
}

// ServerConfig contains server settings
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"corsOrigins,omitempty"` // Empty allows any origin
}

// StoreConfig names one bookmark store
type StoreConfig struct {
	Name           string           `yaml:"name"`
	Kind           models.StoreKind `yaml:"kind"`
	Path           string           `yaml:"path"`
	OwnerProcesses []string         `yaml:"ownerProcesses,omitempty"`
	// AssumeOwnerRunning skips process inspection and treats the owner as live
	AssumeOwnerRunning bool `yaml:"assumeOwnerRunning,omitempty"`
}

// SyncConfig contains sync defaults
type SyncConfig struct {
	Limit             int `yaml:"limit"`
	MaxFailureDetails int `yaml:"maxFailureDetails"`
}

// DuplicatesConfig contains duplicate detection defaults
type DuplicatesConfig struct {
	Threshold   float64 `yaml:"threshold"`
	IgnoreQuery bool    `yaml:"ignoreQuery"`
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	BusyTimeoutMs int `yaml:"busyTimeoutMs"`
}

// LoadConfig loads configuration from config.yaml
func (m *Manager) LoadConfig() (*Config, error) {
	configPath := m.ConfigPath()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfig saves configuration to config.yaml
func (m *Manager) SaveConfig(config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configPath := m.ConfigPath()
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate checks store entries for missing fields, unknown kinds and duplicate names
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Stores))
	for i, s := range c.Stores {
		if s.Name == "" {
			return fmt.Errorf("stores[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("stores[%d]: duplicate store name %q", i, s.Name)
		}
		seen[s.Name] = true
		if !s.Kind.Valid() {
			return fmt.Errorf("store %q: unknown kind %q", s.Name, s.Kind)
		}
		if s.Path == "" {
			return fmt.Errorf("store %q: path is required", s.Name)
		}
	}
	if c.Duplicates.Threshold < 0 || c.Duplicates.Threshold > 1 {
		return fmt.Errorf("duplicates.threshold must be within [0,1], got %v", c.Duplicates.Threshold)
	}
	return nil
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			File:       "logs/mcp-bookmarks.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Server: ServerConfig{
			Port: 3000,
			Host: "localhost",
		},
		Sync: SyncConfig{
			Limit:             1000,
			MaxFailureDetails: 10,
		},
		Duplicates: DuplicatesConfig{
			Threshold: 1.0,
		},
		Database: DatabaseConfig{
			BusyTimeoutMs: 5000,
		},
	}
}

// ResolveStores returns the configured stores with paths expanded, or the
// discovered stores when none are configured
func (m *Manager) ResolveStores(config *Config) ([]StoreConfig, error) {
	if len(config.Stores) == 0 {
		return DiscoverStores(), nil
	}

	stores := make([]StoreConfig, 0, len(config.Stores))
	for _, s := range config.Stores {
		expanded, err := pathutil.ExpandPath(m.expandHomeRelative(s.Path))
		if err != nil {
			return nil, fmt.Errorf("store %q: %w", s.Name, err)
		}
		s.Path = expanded
		stores = append(stores, s)
	}
	return stores, nil
}

func (m *Manager) expandHomeRelative(p string) string {
	if strings.HasPrefix(p, "~") || strings.HasPrefix(p, "$") || strings.HasPrefix(p, "%") {
		return p
	}
	return m.ResolvePath(p)
}
