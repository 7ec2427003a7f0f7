package bookmarks

import (
	"context"
	"errors"
	"testing"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/dedup"
	"github.com/prismon/mcp-bookmarks/pkg/home"
	"github.com/prismon/mcp-bookmarks/pkg/lockread"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChecker struct {
	names   [][]string
	running bool
	err     error
}

func (c *recordingChecker) OwnerRunning(ctx context.Context, names []string) (bool, error) {
	c.names = append(c.names, names)
	return c.running, c.err
}

func TestCatalogOpen(t *testing.T) {
	c := newCatalog(t, false)

	m, err := c.Open(context.Background(), "firefox")
	require.NoError(t, err)
	assert.Equal(t, "firefox", m.Name())
	assert.Equal(t, models.StoreKindPlaces, m.Kind())
	assert.True(t, m.Capabilities().Tags)

	_, err = c.Open(context.Background(), "safari")
	assert.ErrorIs(t, err, storeerr.ErrNotFound)
}

func TestCatalogOwnerRunning(t *testing.T) {
	c := newCatalog(t, true)
	ctx := context.Background()

	ff, err := c.Open(ctx, "firefox")
	require.NoError(t, err)
	list, err := ff.List(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, string(lockread.Immutable), list.AccessMethod)
	assert.True(t, list.PossiblyStale)

	_, err = ff.Add(ctx, models.AddRequest{URL: "https://x.example"})
	assert.ErrorIs(t, err, storeerr.ErrLocked)

	chrome, err := c.Open(ctx, "chrome")
	require.NoError(t, err)
	_, err = chrome.Add(ctx, models.AddRequest{URL: "https://x.example"})
	assert.ErrorIs(t, err, storeerr.ErrLocked)
}

func TestCatalogOwnerNames(t *testing.T) {
	stores := newStoreConfigs(t)
	stores[0].OwnerProcesses = []string{"firefox-esr"}
	stores = append(stores, home.StoreConfig{Name: "pinned", Kind: models.StoreKindChromium, Path: stores[1].Path, AssumeOwnerRunning: true})

	checker := &recordingChecker{}
	c := NewCatalog(stores, checker, lockread.NewReader(lockread.Options{TempDir: t.TempDir()}), dedup.Options{})

	infos := c.Describe(context.Background())
	require.Len(t, infos, 3)
	assert.True(t, infos[0].Exists)
	assert.True(t, infos[0].Capabilities.Tags)
	assert.False(t, infos[1].Capabilities.Tags)
	assert.True(t, infos[2].OwnerRunning, "assumed without asking")

	require.Len(t, checker.names, 2)
	assert.Equal(t, []string{"firefox-esr"}, checker.names[0])
	assert.Contains(t, checker.names[1], "chrome")
}

func TestCatalogCheckerFailureAssumesRunning(t *testing.T) {
	checker := &recordingChecker{err: errors.New("no process table")}
	c := NewCatalog(newStoreConfigs(t), checker, lockread.NewReader(lockread.Options{TempDir: t.TempDir()}), dedup.Options{})

	m, err := c.Open(context.Background(), "chrome")
	require.NoError(t, err)
	_, err = m.Add(context.Background(), models.AddRequest{URL: "https://x.example"})
	assert.ErrorIs(t, err, storeerr.ErrLocked)
}
