package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err, "Failed to get home directory")

	tests := []struct {
		name        string
		input       string
		wantErr     bool
		wantContain string // Check if result contains this string
	}{
		{
			name:        "expand tilde alone",
			input:       "~",
			wantErr:     false,
			wantContain: homeDir,
		},
		{
			name:        "expand tilde with path",
			input:       "~/Documents",
			wantErr:     false,
			wantContain: filepath.Join(homeDir, "Documents"),
		},
		{
			name:    "empty path",
			input:   "",
			wantErr: true,
		},
		{
			name:    "absolute path unchanged",
			input:   "/usr/local",
			wantErr: false,
		},
		{
			name:    "relative path converted",
			input:   "./test",
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ExpandPath(tt.input)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)

			if tt.wantContain != "" {
				assert.Equal(t, tt.wantContain, result)
			}

			// All expanded paths should be absolute
			if !tt.wantErr && tt.input != "" {
				assert.True(t, filepath.IsAbs(result), "Result should be absolute path")
			}
		})
	}
}

func TestExpandPathWithTilde(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	// Test tilde expansion
	result, err := ExpandPath("~/test")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result, homeDir))
	assert.True(t, strings.HasSuffix(result, "test"))
}

func TestValidateFile(t *testing.T) {
	tmpDir := t.TempDir()
	places := filepath.Join(tmpDir, "places.sqlite")
	require.NoError(t, os.WriteFile(places, []byte("test"), 0644))

	tests := []struct {
		name string
		path string
		code storeerr.Code
	}{
		{"existing file", places, ""},
		{"directory", tmpDir, storeerr.CodeValidation},
		{"missing file", filepath.Join(tmpDir, "Bookmarks"), storeerr.CodeNotFound},
		{"empty path", "", storeerr.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFile(tt.path)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, storeerr.CodeOf(err))
		})
	}
}

func TestExpandFile(t *testing.T) {
	tmpDir := t.TempDir()
	export := filepath.Join(tmpDir, "bookmarks.html")
	require.NoError(t, os.WriteFile(export, []byte("<DL></DL>"), 0644))
	t.Setenv("MCP_BOOKMARKS_TEST_DIR", tmpDir)

	result, err := ExpandFile("$MCP_BOOKMARKS_TEST_DIR/bookmarks.html")
	require.NoError(t, err)
	assert.Equal(t, export, result)
	assert.True(t, filepath.IsAbs(result))

	result, err = ExpandFile("$MCP_BOOKMARKS_TEST_DIR/missing.html")
	assert.Empty(t, result)
	assert.True(t, errors.Is(err, storeerr.ErrNotFound))

	_, err = ExpandFile("")
	assert.Equal(t, storeerr.CodeValidation, storeerr.CodeOf(err))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("BOOKMARKS_TEST_DIR", "/data/profiles")

	assert.Equal(t, "/data/profiles/places.sqlite", ExpandEnv("$BOOKMARKS_TEST_DIR/places.sqlite"))
	assert.Equal(t, "/data/profiles/places.sqlite", ExpandEnv("${BOOKMARKS_TEST_DIR}/places.sqlite"))
	assert.Equal(t, "/data/profiles/Default/Bookmarks", ExpandEnv("%BOOKMARKS_TEST_DIR%/Default/Bookmarks"))
	assert.Equal(t, "%BOOKMARKS_UNSET_VAR%/x", ExpandEnv("%BOOKMARKS_UNSET_VAR%/x"))
}

func TestExpandPathWithEnv(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("BOOKMARKS_TEST_HOME", tmpDir)

	result, err := ExpandPath("$BOOKMARKS_TEST_HOME/Bookmarks")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "Bookmarks"), result)
}
