package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Manager handles the application home directory
type Manager struct {
	path string
}

// Subdirectories within home
const (
	TempDir    = "temp"
	LogsDir    = "logs"
	ExportsDir = "exports"
)

// Files within home
const (
	ConfigFile = "config.yaml"
)

// NewManager creates a new home directory manager
func NewManager(path string) (*Manager, error) {
	if path == "" {
		path = DefaultHomePath()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid home path: %w", err)
	}

	return &Manager{path: absPath}, nil
}

// DefaultHomePath returns the default home directory path
func DefaultHomePath() string {
	if path := os.Getenv("MCP_BOOKMARKS_HOME"); path != "" {
		return path
	}
	if path := os.Getenv("MCP_HOME"); path != "" {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".mcp-bookmarks"
	}
	return filepath.Join(home, ".mcp-bookmarks")
}

// Path returns the home directory path
func (m *Manager) Path() string {
	return m.path
}

// Initialize creates the home directory structure
func (m *Manager) Initialize() error {
	dirs := []string{
		"", // Home directory itself
		TempDir,
		LogsDir,
		ExportsDir,
	}

	for _, dir := range dirs {
		path := m.JoinPath(dir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}

	if err := m.initializeConfig(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	if err := m.createGitignore(); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}

	return nil
}

// Exists checks if the home directory exists
func (m *Manager) Exists() bool {
	info, err := os.Stat(m.path)
	return err == nil && info.IsDir()
}

// JoinPath joins path elements relative to home directory
func (m *Manager) JoinPath(elem ...string) string {
	parts := append([]string{m.path}, elem...)
	return filepath.Join(parts...)
}

// ConfigPath returns the path to config.yaml
func (m *Manager) ConfigPath() string {
	return m.JoinPath(ConfigFile)
}

// TempPath returns the path to the temp directory used for store snapshots
func (m *Manager) TempPath() string {
	return m.JoinPath(TempDir)
}

// LogsPath returns the path to logs directory
func (m *Manager) LogsPath() string {
	return m.JoinPath(LogsDir)
}

// ExportsPath returns the path to the HTML export directory
func (m *Manager) ExportsPath() string {
	return m.JoinPath(ExportsDir)
}

// ResolvePath makes a config-relative path absolute under the home directory
func (m *Manager) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return m.JoinPath(p)
}

// CleanTemp removes leftover snapshot copies from the temp directory
func (m *Manager) CleanTemp() error {
	tempPath := m.TempPath()

	if err := os.RemoveAll(tempPath); err != nil {
		return err
	}
	return os.MkdirAll(tempPath, 0755)
}

// initializeConfig creates a default config.yaml if it doesn't exist
func (m *Manager) initializeConfig() error {
	configPath := m.ConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return nil // Config exists, don't overwrite
	}

	defaultConfig := `# mcp-bookmarks configuration

# Logging settings
logging:
  level: info            # trace, debug, info, warn, error, silent
  file: logs/mcp-bookmarks.log
  maxSizeMB: 10
  maxBackups: 3

# Server settings
server:
  port: 3000
  host: localhost
  # corsOrigins: [http://localhost:5173]

# Bookmark stores. When empty, stores are discovered from the browsers'
# default profile locations.
#
# stores:
#   - name: firefox
#     kind: places
#     path: ~/.mozilla/firefox/abcd1234.default-release/places.sqlite
#     ownerProcesses: [firefox]
#   - name: chrome
#     kind: chromium
#     path: ~/.config/google-chrome/Default/Bookmarks
#     ownerProcesses: [chrome]
stores: []

# Sync settings
sync:
  limit: 1000
  maxFailureDetails: 10

# Duplicate detection
duplicates:
  threshold: 1.0         # 1.0 matches URLs only, (0,1) also compares titles
  ignoreQuery: false

# SQLite settings
database:
  busyTimeoutMs: 5000
`

	return os.WriteFile(configPath, []byte(defaultConfig), 0644)
}

// createGitignore creates a .gitignore file for the home directory
func (m *Manager) createGitignore() error {
	gitignorePath := m.JoinPath(".gitignore")

	if _, err := os.Stat(gitignorePath); err == nil {
		return nil
	}

	content := `# Snapshot copies of locked stores
temp/

# Log files
logs/
*.log

# HTML exports
exports/

# OS files
.DS_Store
Thumbs.db
`

	return os.WriteFile(gitignorePath, []byte(content), 0644)
}
