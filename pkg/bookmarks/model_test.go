package bookmarks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/dedup"
	"github.com/prismon/mcp-bookmarks/pkg/home"
	"github.com/prismon/mcp-bookmarks/pkg/liveness"
	"github.com/prismon/mcp-bookmarks/pkg/lockread"
	"github.com/prismon/mcp-bookmarks/pkg/places"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/prismon/mcp-bookmarks/pkg/treefile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	os.Setenv("GO_ENV", "test")
}

// newStoreConfigs creates one empty store of each kind
func newStoreConfigs(t *testing.T) []home.StoreConfig {
	t.Helper()
	dir := t.TempDir()

	placesPath := filepath.Join(dir, "places.sqlite")
	require.NoError(t, places.Create(placesPath))

	chromiumPath := filepath.Join(dir, "Bookmarks")
	require.NoError(t, treefile.NewDocument(time.Now()).Save(chromiumPath))

	return []home.StoreConfig{
		{Name: "firefox", Kind: models.StoreKindPlaces, Path: placesPath},
		{Name: "chrome", Kind: models.StoreKindChromium, Path: chromiumPath},
	}
}

func newCatalog(t *testing.T, running bool) *Catalog {
	t.Helper()
	reader := lockread.NewReader(lockread.Options{TempDir: t.TempDir()})
	return NewCatalog(newStoreConfigs(t), liveness.Static(running), reader, dedup.Options{Threshold: 1})
}

// forEachKind runs fn against a fresh empty store of each kind
func forEachKind(t *testing.T, fn func(t *testing.T, m *Model)) {
	for _, name := range []string{"firefox", "chrome"} {
		t.Run(name, func(t *testing.T) {
			m, err := newCatalog(t, false).Open(context.Background(), name)
			require.NoError(t, err)
			fn(t, m)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestAddScenario(t *testing.T) {
	forEachKind(t, func(t *testing.T, m *Model) {
		ctx := context.Background()
		req := models.AddRequest{Title: "Example", URL: "https://example.com", FolderPath: "Work/Docs"}

		first, err := m.Add(ctx, req)
		require.NoError(t, err)
		assert.False(t, first.Duplicate)
		assert.Equal(t, []string{"Work", "Docs"}, first.CreatedFolders)
		assert.True(t, strings.HasSuffix(first.Node.Path, "/Work/Docs"), first.Node.Path)

		before, err := m.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, before.Bookmarks)

		second, err := m.Add(ctx, req)
		require.NoError(t, err)
		assert.True(t, second.Duplicate)
		assert.Equal(t, first.Node.ID, second.Node.ID)
		assert.Empty(t, second.CreatedFolders)

		after, err := m.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after, "a duplicate add changes nothing")

		list, err := m.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, list.Nodes, 1)
		assert.Equal(t, "https://example.com", list.Nodes[0].URL)
	})
}

func TestAddAllowDuplicates(t *testing.T) {
	forEachKind(t, func(t *testing.T, m *Model) {
		ctx := context.Background()
		_, err := m.Add(ctx, models.AddRequest{URL: "https://example.com"})
		require.NoError(t, err)
		res, err := m.Add(ctx, models.AddRequest{URL: "https://example.com", AllowDuplicates: true})
		require.NoError(t, err)
		assert.False(t, res.Duplicate)
		assert.Equal(t, "https://example.com", res.Node.Title, "title falls back to the url")

		list, err := m.List(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, list.Nodes, 2)
	})
}

func TestAddValidation(t *testing.T) {
	forEachKind(t, func(t *testing.T, m *Model) {
		_, err := m.Add(context.Background(), models.AddRequest{Title: "No url", URL: "  "})
		assert.ErrorIs(t, err, storeerr.ErrValidation)
	})
}

func TestIDsStayUnique(t *testing.T) {
	forEachKind(t, func(t *testing.T, m *Model) {
		ctx := context.Background()
		for i := 0; i < 12; i++ {
			_, err := m.Add(ctx, models.AddRequest{
				Title:      fmt.Sprintf("b%d", i),
				URL:        fmt.Sprintf("https://b.example/%d", i),
				FolderPath: fmt.Sprintf("F%d/G%d", i%2, i%3),
			})
			require.NoError(t, err)
		}

		snap, err := m.backend.Snapshot(ctx)
		require.NoError(t, err)
		seen := map[int64]bool{}
		for _, n := range snap.Nodes.All() {
			assert.False(t, seen[n.ID], "duplicate id %d", n.ID)
			seen[n.ID] = true
		}
	})
}

func TestEditMoveInvariant(t *testing.T) {
	forEachKind(t, func(t *testing.T, m *Model) {
		ctx := context.Background()
		added, err := m.Add(ctx, models.AddRequest{Title: "Go", URL: "https://go.dev", FolderPath: "Lang"})
		require.NoError(t, err)

		res, err := m.Edit(ctx, models.EditRequest{Ref: models.Ref{ID: &added.Node.ID}, NewFolderPath: "Archive/2026", CreateFolders: ptr(true)})
		require.NoError(t, err)
		assert.True(t, res.Moved)
		assert.Equal(t, added.Node.ID, res.Node.ID)

		snap, err := m.backend.Snapshot(ctx)
		require.NoError(t, err)
		count := 0
		for _, n := range snap.Nodes.All() {
			for _, c := range n.Children {
				if c == added.Node.ID {
					count++
					assert.Equal(t, "2026", n.Title)
				}
			}
		}
		assert.Equal(t, 1, count)
	})
}

func TestEditRequiresChange(t *testing.T) {
	forEachKind(t, func(t *testing.T, m *Model) {
		_, err := m.Edit(context.Background(), models.EditRequest{Ref: models.Ref{ID: ptr(int64(1))}})
		assert.ErrorIs(t, err, storeerr.ErrValidation)

		_, err = m.Edit(context.Background(), models.EditRequest{NewTitle: ptr("x")})
		assert.ErrorIs(t, err, storeerr.ErrValidation)

		_, err = m.Delete(context.Background(), models.Ref{}, false)
		assert.ErrorIs(t, err, storeerr.ErrValidation)
	})
}

func TestGetAndDelete(t *testing.T) {
	forEachKind(t, func(t *testing.T, m *Model) {
		ctx := context.Background()
		added, err := m.Add(ctx, models.AddRequest{Title: "Go", URL: "https://go.dev"})
		require.NoError(t, err)

		got, err := m.Get(ctx, models.Ref{URL: "https://go.dev"})
		require.NoError(t, err)
		assert.Equal(t, added.Node.ID, got.ID)

		dry, err := m.Delete(ctx, models.Ref{URL: "https://go.dev"}, true)
		require.NoError(t, err)
		assert.True(t, dry.DryRun)
		_, err = m.Get(ctx, models.Ref{ID: &added.Node.ID})
		require.NoError(t, err, "dry run keeps the node")

		_, err = m.Delete(ctx, models.Ref{ID: &added.Node.ID}, false)
		require.NoError(t, err)
		_, err = m.Get(ctx, models.Ref{ID: &added.Node.ID})
		assert.ErrorIs(t, err, storeerr.ErrNotFound)

		_, err = m.List(ctx, ptr(int64(9999)))
		assert.ErrorIs(t, err, storeerr.ErrNotFound)
	})
}

func TestSearchRanking(t *testing.T) {
	forEachKind(t, func(t *testing.T, m *Model) {
		ctx := context.Background()
		for _, req := range []models.AddRequest{
			{Title: "Weather", URL: "https://golang-weather.example"},
			{Title: "Golang blog", URL: "https://blog.example"},
			{Title: "Unrelated", URL: "https://other.example"},
		} {
			_, err := m.Add(ctx, req)
			require.NoError(t, err)
		}

		hits, err := m.Search(ctx, "GOLANG", nil)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "Golang blog", hits[0].Node.Title)
		assert.Equal(t, FieldTitle, hits[0].Field)
		assert.Equal(t, FieldURL, hits[1].Field)

		hits, err = m.Search(ctx, "golang", []string{FieldURL})
		require.NoError(t, err)
		assert.Len(t, hits, 1)

		_, err = m.Search(ctx, "x", []string{"body"})
		assert.ErrorIs(t, err, storeerr.ErrValidation)

		hits, err = m.Search(ctx, " ", nil)
		require.NoError(t, err)
		require.Len(t, hits, 3, "an empty query matches every bookmark")
		assert.Equal(t, "Weather", hits[0].Node.Title)
	})
}

func TestFindDuplicates(t *testing.T) {
	forEachKind(t, func(t *testing.T, m *Model) {
		ctx := context.Background()
		_, err := m.Add(ctx, models.AddRequest{Title: "A", URL: "https://a.com", FolderPath: "One"})
		require.NoError(t, err)
		_, err = m.Add(ctx, models.AddRequest{Title: "Another title", URL: "https://a.com", FolderPath: "Two", AllowDuplicates: true})
		require.NoError(t, err)

		groups, err := m.FindDuplicates(ctx, dedup.Options{Threshold: 1})
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Len(t, groups[0].NodeIDs, 2)

		_, err = m.FindDuplicates(ctx, dedup.Options{Threshold: 1.5})
		assert.ErrorIs(t, err, storeerr.ErrValidation)
	})
}

func TestTagsUnsupportedForChromium(t *testing.T) {
	m, err := newCatalog(t, false).Open(context.Background(), "chrome")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = m.Tags(ctx)
	assert.ErrorIs(t, err, storeerr.ErrUnsupported)
	_, err = m.MergeTags(ctx, []string{"a"}, "b", true)
	assert.ErrorIs(t, err, storeerr.ErrUnsupported)
	_, err = m.Add(ctx, models.AddRequest{URL: "https://x.example", Tags: []string{"a"}})
	assert.ErrorIs(t, err, storeerr.ErrUnsupported)
}

func TestTagOperations(t *testing.T) {
	m, err := newCatalog(t, false).Open(context.Background(), "firefox")
	require.NoError(t, err)
	ctx := context.Background()

	for _, req := range []models.AddRequest{
		{Title: "Go", URL: "https://go.dev/", Tags: []string{"golang", "dev"}},
		{Title: "Tour", URL: "https://go.dev/tour/", Tags: []string{"go"}},
		{Title: "Rust", URL: "https://rust-lang.org/", Tags: []string{"dev", "rare"}},
	} {
		_, err := m.Add(ctx, req)
		require.NoError(t, err)
	}

	tags, err := m.Tags(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TagCount{Tag: "dev", Count: 2}, tags[0])

	dry, err := m.MergeTags(ctx, []string{"golang"}, "go", true)
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	require.Len(t, dry.Changes, 1)
	assert.Nil(t, dry.Applied)

	res, err := m.MergeTags(ctx, []string{"golang"}, "go", false)
	require.NoError(t, err)
	require.NotNil(t, res.Applied)
	assert.Equal(t, 1, res.Applied.Succeeded)

	again, err := m.MergeTags(ctx, []string{"golang"}, "go", false)
	require.NoError(t, err)
	assert.Empty(t, again.Changes, "merge is idempotent")

	cleanup, err := m.CleanUpTags(ctx, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []models.TagCount{{Tag: "rare", Count: 1}}, cleanup.Candidates)
	assert.Equal(t, 1, cleanup.Applied.Succeeded)

	tags, err = m.Tags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.TagCount{{Tag: "dev", Count: 2}, {Tag: "go", Count: 2}}, tags)

	_, err = m.CleanUpTags(ctx, 0, true)
	assert.ErrorIs(t, err, storeerr.ErrValidation)
	_, err = m.MergeTags(ctx, nil, "go", true)
	assert.ErrorIs(t, err, storeerr.ErrValidation)
}

func TestStats(t *testing.T) {
	forEachKind(t, func(t *testing.T, m *Model) {
		ctx := context.Background()
		_, err := m.Add(ctx, models.AddRequest{URL: "https://a.example", FolderPath: "A/B"})
		require.NoError(t, err)
		_, err = m.Add(ctx, models.AddRequest{URL: "https://a.example", FolderPath: "A", AllowDuplicates: true})
		require.NoError(t, err)

		stats, err := m.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Bookmarks)
		assert.Equal(t, 1, stats.UniqueURLs)
		assert.Equal(t, 3, stats.MaxDepth, "root / A / B / bookmark")
		assert.Equal(t, string(lockread.Direct), stats.AccessMethod)
	})
}
