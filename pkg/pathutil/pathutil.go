package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
)

var windowsVar = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// ExpandPath expands environment variables ($VAR, ${VAR} and %VAR%) and a
// leading tilde (~), then converts to an absolute path
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	path = ExpandEnv(path)

	// Handle tilde expansion
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) || path == "~" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}

		if path == "~" {
			path = homeDir
		} else {
			path = filepath.Join(homeDir, path[2:])
		}
	}

	// Convert to absolute path
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	return absPath, nil
}

// ValidateFile checks that path names an existing regular file
func ValidateFile(path string) error {
	if path == "" {
		return storeerr.Validation("path cannot be empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return storeerr.FromFS(err, path)
	}
	if info.IsDir() {
		return storeerr.Validation("%s is a directory, not a file", path)
	}
	return nil
}

// ExpandFile expands path and checks that the result is an existing file
func ExpandFile(path string) (string, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", storeerr.Validation("invalid path %q: %v", path, err)
	}
	if err := ValidateFile(expanded); err != nil {
		return "", err
	}
	return expanded, nil
}

// ExpandEnv substitutes $VAR, ${VAR} and windows-style %VAR% references.
// Unset %VAR% references are left as they are.
func ExpandEnv(path string) string {
	path = windowsVar.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return m
	})
	return os.ExpandEnv(path)
}
