// Package liveness answers whether the process that owns a bookmark store
// is currently running.
package liveness

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/logger"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

var log *logrus.Entry

func init() {
	log = logger.WithName("liveness")
}

// Checker reports whether any of the named owner processes is running
type Checker interface {
	OwnerRunning(ctx context.Context, names []string) (bool, error)
}

// DefaultOwners returns the process names that usually own a store of kind
func DefaultOwners(kind models.StoreKind) []string {
	switch kind {
	case models.StoreKindPlaces:
		return []string{"firefox"}
	case models.StoreKindChromium:
		return []string{"chrome", "chromium", "msedge", "brave"}
	}
	return nil
}

// processNames lists the names of all running processes. Replaced in tests.
var processNames = func(ctx context.Context) ([]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Processes exit between listing and inspection
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// ProcessChecker inspects the process table
type ProcessChecker struct {
	timeout time.Duration
}

// NewProcessChecker creates a checker that gives up after timeout
func NewProcessChecker(timeout time.Duration) *ProcessChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ProcessChecker{timeout: timeout}
}

// OwnerRunning matches process names case-insensitively, ignoring a .exe suffix
func (c *ProcessChecker) OwnerRunning(ctx context.Context, names []string) (bool, error) {
	if len(names) == 0 {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	running, err := processNames(ctx)
	if err != nil {
		return false, err
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[normalize(n)] = true
	}
	for _, name := range running {
		if want[normalize(name)] {
			log.WithField("process", name).Debug("Store owner is running")
			return true, nil
		}
	}
	return false, nil
}

func normalize(name string) string {
	name = strings.ToLower(filepath.Base(name))
	return strings.TrimSuffix(name, ".exe")
}

// Static is a Checker with a fixed answer
type Static bool

func (s Static) OwnerRunning(ctx context.Context, names []string) (bool, error) {
	return bool(s), nil
}
