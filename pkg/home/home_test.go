package home

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	t.Run("creates manager with custom path", func(t *testing.T) {
		mgr, err := NewManager("/tmp/test-home")
		require.NoError(t, err)
		assert.Contains(t, mgr.Path(), "test-home")
	})

	t.Run("creates manager with default path when empty", func(t *testing.T) {
		mgr, err := NewManager("")
		require.NoError(t, err)
		assert.NotEmpty(t, mgr.Path())
	})
}

func TestDefaultHomePath(t *testing.T) {
	// Save original env vars
	t.Run("respects MCP_BOOKMARKS_HOME env var", func(t *testing.T) {
		t.Setenv("MCP_BOOKMARKS_HOME", "/custom/bookmarks/home")
		t.Setenv("MCP_HOME", "")

		assert.Equal(t, "/custom/bookmarks/home", DefaultHomePath())
	})

	t.Run("respects MCP_HOME env var", func(t *testing.T) {
		t.Setenv("MCP_BOOKMARKS_HOME", "")
		t.Setenv("MCP_HOME", "/custom/mcp/home")

		assert.Equal(t, "/custom/mcp/home", DefaultHomePath())
	})

	t.Run("MCP_BOOKMARKS_HOME takes precedence over MCP_HOME", func(t *testing.T) {
		t.Setenv("MCP_BOOKMARKS_HOME", "/bookmarks/home")
		t.Setenv("MCP_HOME", "/mcp/home")

		assert.Equal(t, "/bookmarks/home", DefaultHomePath())
	})

	t.Run("falls back to default when no env vars set", func(t *testing.T) {
		t.Setenv("MCP_BOOKMARKS_HOME", "")
		t.Setenv("MCP_HOME", "")

		assert.Contains(t, DefaultHomePath(), ".mcp-bookmarks")
	})
}

func TestManagerInitialize(t *testing.T) {
	// Create temporary directory
	tmpDir := t.TempDir()

	mgr, err := NewManager(tmpDir)
	require.NoError(t, err)

	// Initialize
	err = mgr.Initialize()
	require.NoError(t, err)

	// Verify all directories were created
	dirs := []string{
		TempDir,
		LogsDir,
		ExportsDir,
	}

	for _, dir := range dirs {
		path := mgr.JoinPath(dir)
		info, err := os.Stat(path)
		assert.NoError(t, err, "directory should exist: %s", dir)
		assert.True(t, info.IsDir(), "should be a directory: %s", dir)
	}

	// Verify config file was created
	configPath := mgr.ConfigPath()
	_, err = os.Stat(configPath)
	assert.NoError(t, err, "config.yaml should exist")

	// Verify .gitignore was created
	gitignorePath := mgr.JoinPath(".gitignore")
	_, err = os.Stat(gitignorePath)
	assert.NoError(t, err, ".gitignore should exist")
}

func TestManagerExists(t *testing.T) {
	t.Run("returns true for existing directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		mgr, err := NewManager(tmpDir)
		require.NoError(t, err)

		assert.True(t, mgr.Exists())
	})

	t.Run("returns false for non-existing directory", func(t *testing.T) {
		mgr, err := NewManager("/tmp/does-not-exist-12345")
		require.NoError(t, err)

		assert.False(t, mgr.Exists())
	})
}

func TestManagerPaths(t *testing.T) {
	tmpDir := t.TempDir()
	mgr, err := NewManager(tmpDir)
	require.NoError(t, err)

	tests := []struct {
		name     string
		method   func() string
		expected string
	}{
		{"ConfigPath", mgr.ConfigPath, filepath.Join(tmpDir, ConfigFile)},
		{"TempPath", mgr.TempPath, filepath.Join(tmpDir, TempDir)},
		{"LogsPath", mgr.LogsPath, filepath.Join(tmpDir, LogsDir)},
		{"ExportsPath", mgr.ExportsPath, filepath.Join(tmpDir, ExportsDir)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.method())
		})
	}
}

func TestManagerResolvePath(t *testing.T) {
	tmpDir := t.TempDir()
	mgr, err := NewManager(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmpDir, "logs", "x.log"), mgr.ResolvePath("logs/x.log"))
	assert.Equal(t, "/abs/x.log", mgr.ResolvePath("/abs/x.log"))
	assert.Equal(t, "", mgr.ResolvePath(""))
}

func TestManagerCleanTemp(t *testing.T) {
	tmpDir := t.TempDir()
	mgr, err := NewManager(tmpDir)
	require.NoError(t, err)

	// Create temp directory with some files
	err = mgr.Initialize()
	require.NoError(t, err)

	tempFile := filepath.Join(mgr.TempPath(), "test.txt")
	err = os.WriteFile(tempFile, []byte("test"), 0644)
	require.NoError(t, err)

	// Clean temp
	err = mgr.CleanTemp()
	require.NoError(t, err)

	// Verify temp directory exists but file is gone
	info, err := os.Stat(mgr.TempPath())
	assert.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = os.Stat(tempFile)
	assert.True(t, os.IsNotExist(err), "temp file should be deleted")
}

func TestManagerInitializeIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	mgr, err := NewManager(tmpDir)
	require.NoError(t, err)

	// Initialize twice
	err = mgr.Initialize()
	require.NoError(t, err)

	err = mgr.Initialize()
	require.NoError(t, err)

	// Should not error and files should still exist
	_, err = os.Stat(mgr.ConfigPath())
	assert.NoError(t, err)
}
