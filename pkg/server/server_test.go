package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/bookmarks"
	"github.com/prismon/mcp-bookmarks/pkg/database"
	"github.com/prismon/mcp-bookmarks/pkg/dedup"
	"github.com/prismon/mcp-bookmarks/pkg/home"
	"github.com/prismon/mcp-bookmarks/pkg/liveness"
	"github.com/prismon/mcp-bookmarks/pkg/lockread"
	"github.com/prismon/mcp-bookmarks/pkg/places"
	"github.com/prismon/mcp-bookmarks/pkg/plans"
	"github.com/prismon/mcp-bookmarks/pkg/treefile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	os.Setenv("GO_ENV", "test")
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	tools      *tools
	placesPath string
	exportDir  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	placesPath := filepath.Join(dir, "places.sqlite")
	require.NoError(t, places.Create(placesPath))

	chromePath := filepath.Join(dir, "Bookmarks")
	now := time.Now()
	doc := treefile.NewDocument(now)
	reading, _ := doc.EnsureFolderPath("Reading", now)
	doc.AddBookmark(reading, "Go", "https://go.dev/", now)
	doc.AddBookmark(reading, "Example", "https://example.com/", now)
	require.NoError(t, doc.Save(chromePath))

	reader := lockread.NewReader(lockread.Options{TempDir: filepath.Join(dir, "temp")})
	catalog := bookmarks.NewCatalog([]home.StoreConfig{
		{Name: "firefox", Kind: models.StoreKindPlaces, Path: placesPath},
		{Name: "chrome", Kind: models.StoreKindChromium, Path: chromePath},
	}, liveness.Static(false), reader, dedup.Options{Threshold: 1})

	registry := database.NewRegistry(reader)
	t.Cleanup(func() { registry.CloseAll() })

	deps := &Deps{
		Catalog:   catalog,
		Sync:      plans.NewEngine(plans.Options{}, log),
		DBs:       registry,
		ExportDir: filepath.Join(dir, "exports"),
	}
	return &fixture{tools: &tools{deps: deps}, placesPath: placesPath, exportDir: deps.ExportDir}
}

// call runs handler with args and decodes the envelope
func call(t *testing.T, handler server.ToolHandlerFunc, args map[string]interface{}) (Response, *mcp.CallToolResult) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args

	res, err := handler(context.Background(), req)
	require.NoError(t, err, "tool errors are reported in the result")
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	assert.Equal(t, !resp.Success, res.IsError)
	return resp, res
}

// dataAs re-decodes the envelope data into v
func dataAs(t *testing.T, resp Response, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestToolDefinitions(t *testing.T) {
	defs := newFixture(t).tools.definitions()

	var names []string
	seen := map[string]bool{}
	for _, d := range defs {
		assert.False(t, seen[d.Tool.Name], "duplicate tool %s", d.Tool.Name)
		seen[d.Tool.Name] = true
		names = append(names, d.Tool.Name)
		assert.NotNil(t, d.Handler)
	}
	for _, want := range []string{
		"bookmark-stores", "bookmark-list", "bookmark-get", "bookmark-add", "bookmark-edit",
		"bookmark-delete", "bookmark-search", "bookmark-duplicates", "bookmark-tags",
		"bookmark-tags-merge", "bookmark-tags-cleanup", "bookmark-stats", "bookmark-sync",
		"bookmark-export", "bookmark-import", "db-connect", "db-query", "db-disconnect", "db-connections",
	} {
		assert.Contains(t, names, want)
	}
}

func TestStoresTool(t *testing.T) {
	f := newFixture(t)
	resp, _ := call(t, f.tools.handleStores, nil)
	require.True(t, resp.Success)

	var infos []models.StoreInfo
	dataAs(t, resp, &infos)
	require.Len(t, infos, 2)
	assert.Equal(t, "firefox", infos[0].Name)
	assert.True(t, infos[0].Exists)
	assert.False(t, infos[0].OwnerRunning)
}

func TestBookmarkLifecycle(t *testing.T) {
	f := newFixture(t)
	tl := f.tools

	resp, _ := call(t, tl.handleAdd, map[string]interface{}{
		"store": "firefox", "url": "https://go.dev/", "title": "Go", "folderPath": "Dev", "tags": "lang, go",
	})
	require.True(t, resp.Success, resp.Message)
	var added models.AddResult
	dataAs(t, resp, &added)
	require.NotNil(t, added.Node)
	assert.Equal(t, []string{"go", "lang"}, added.Node.Tags)
	id := added.Node.ID

	resp, _ = call(t, tl.handleAdd, map[string]interface{}{"store": "firefox", "url": "https://go.dev/"})
	require.True(t, resp.Success)
	assert.Contains(t, resp.Message, "already bookmarked")

	resp, _ = call(t, tl.handleGet, map[string]interface{}{"store": "firefox", "id": float64(id)})
	require.True(t, resp.Success)
	assert.Equal(t, "Go", resp.Message)

	resp, _ = call(t, tl.handleSearch, map[string]interface{}{"store": "firefox", "query": "GO", "fields": "title,tags"})
	require.True(t, resp.Success)
	var hits []models.SearchHit
	dataAs(t, resp, &hits)
	require.Len(t, hits, 1)
	assert.Equal(t, "title", hits[0].Field)

	resp, _ = call(t, tl.handleEdit, map[string]interface{}{
		"store": "firefox", "url": "https://go.dev/", "newTitle": "The Go site", "newFolderPath": "Toolbar/Dev", "createFolders": true,
	})
	require.True(t, resp.Success, resp.Message)
	var edited models.EditResult
	dataAs(t, resp, &edited)
	assert.True(t, edited.Renamed)
	assert.True(t, edited.Moved)

	resp, _ = call(t, tl.handleTags, map[string]interface{}{"store": "firefox"})
	require.True(t, resp.Success)
	var counts []models.TagCount
	dataAs(t, resp, &counts)
	assert.Len(t, counts, 2)

	resp, _ = call(t, tl.handleTagsMerge, map[string]interface{}{"store": "firefox", "sources": "lang", "target": "go"})
	require.True(t, resp.Success, resp.Message)

	resp, _ = call(t, tl.handleStats, map[string]interface{}{"store": "firefox"})
	require.True(t, resp.Success)
	var stats models.StoreStats
	dataAs(t, resp, &stats)
	assert.Equal(t, 1, stats.Bookmarks)
	assert.Equal(t, 1, stats.Tags)

	resp, _ = call(t, tl.handleDelete, map[string]interface{}{"store": "firefox", "id": float64(id), "dryRun": true})
	require.True(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.Message, "dry run"))

	resp, _ = call(t, tl.handleDelete, map[string]interface{}{"store": "firefox", "id": float64(id)})
	require.True(t, resp.Success)

	resp, _ = call(t, tl.handleList, map[string]interface{}{"store": "firefox"})
	require.True(t, resp.Success)
	var list models.ListResult
	dataAs(t, resp, &list)
	assert.Empty(t, list.Nodes)
}

func TestToolFailuresUseEnvelope(t *testing.T) {
	tl := newFixture(t).tools

	tests := []struct {
		name    string
		handler server.ToolHandlerFunc
		args    map[string]interface{}
		code    string
	}{
		{"unknown store", tl.handleList, map[string]interface{}{"store": "safari"}, "not_found"},
		{"missing store", tl.handleStats, map[string]interface{}{}, "validation_error"},
		{"empty url", tl.handleAdd, map[string]interface{}{"store": "chrome", "url": " "}, "validation_error"},
		{"tags on chromium", tl.handleTags, map[string]interface{}{"store": "chrome"}, "unsupported"},
		{"bad threshold", tl.handleDuplicates, map[string]interface{}{"store": "chrome", "threshold": 1.5}, "validation_error"},
		{"bad argument type", tl.handleList, map[string]interface{}{"store": "chrome", "folderId": "abc"}, "validation_error"},
		{"unknown connection", tl.handleDBQuery, map[string]interface{}{"name": "x", "query": "SELECT 1"}, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, res := call(t, tt.handler, tt.args)
			assert.False(t, resp.Success)
			assert.True(t, res.IsError)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestSyncTool(t *testing.T) {
	tl := newFixture(t).tools

	resp, _ := call(t, tl.handleSync, map[string]interface{}{"source": "chrome", "target": "firefox", "dryRun": true})
	require.True(t, resp.Success)
	var planned models.SyncResult
	dataAs(t, resp, &planned)
	assert.Equal(t, models.SyncStatusPlanned, planned.Status)
	assert.Len(t, planned.Plan.Entries, 2)

	resp, _ = call(t, tl.handleSync, map[string]interface{}{"source": "chrome", "target": "firefox", "folderPath": "From Chrome"})
	require.True(t, resp.Success)
	var done models.SyncResult
	dataAs(t, resp, &done)
	assert.Equal(t, models.SyncStatusDone, done.Status)
	assert.Equal(t, 2, done.Succeeded)

	resp, _ = call(t, tl.handleSync, map[string]interface{}{"source": "chrome", "target": "chrome"})
	require.True(t, resp.Success)
	var noop models.SyncResult
	dataAs(t, resp, &noop)
	assert.Equal(t, models.SyncStatusNoop, noop.Status)
}

func TestExportImportTools(t *testing.T) {
	f := newFixture(t)
	tl := f.tools

	resp, _ := call(t, tl.handleExport, map[string]interface{}{"store": "chrome"})
	require.True(t, resp.Success, resp.Message)
	var summary ExportSummary
	dataAs(t, resp, &summary)
	assert.Equal(t, 2, summary.Bookmarks)
	assert.Equal(t, f.exportDir, filepath.Dir(summary.Path))

	resp, _ = call(t, tl.handleImport, map[string]interface{}{"store": "firefox", "path": summary.Path, "folderPrefix": "Imported"})
	require.True(t, resp.Success, resp.Message)
	var batch models.BatchResult
	dataAs(t, resp, &batch)
	assert.Equal(t, 2, batch.Succeeded)

	resp, _ = call(t, tl.handleList, map[string]interface{}{"store": "firefox"})
	var list models.ListResult
	dataAs(t, resp, &list)
	require.Len(t, list.Nodes, 2)
	assert.True(t, strings.HasPrefix(list.Nodes[0].Path, "Other Bookmarks/Imported/"), list.Nodes[0].Path)

	resp, _ = call(t, tl.handleImport, map[string]interface{}{"store": "firefox", "path": filepath.Join(f.exportDir, "missing.html")})
	assert.False(t, resp.Success)
	assert.Equal(t, "not_found", resp.Code)
}

func TestDatabaseTools(t *testing.T) {
	f := newFixture(t)
	tl := f.tools

	resp, _ := call(t, tl.handleDBConnect, map[string]interface{}{"name": "ff", "path": f.placesPath})
	require.True(t, resp.Success, resp.Message)
	var info database.ConnectionInfo
	dataAs(t, resp, &info)
	assert.Contains(t, info.Tables, "moz_bookmarks")

	resp, _ = call(t, tl.handleDBQuery, map[string]interface{}{"name": "ff", "query": "SELECT guid FROM moz_bookmarks ORDER BY id", "maxRows": float64(2)})
	require.True(t, resp.Success, resp.Message)
	assert.Contains(t, resp.Message, "truncated")
	var rows database.QueryResult
	dataAs(t, resp, &rows)
	assert.Equal(t, "root________", rows.Rows[0]["guid"])

	resp, _ = call(t, tl.handleDBQuery, map[string]interface{}{"name": "ff", "query": "DELETE FROM moz_bookmarks"})
	assert.Equal(t, "validation_error", resp.Code)

	resp, _ = call(t, tl.handleDBConnections, nil)
	var conns []database.ConnectionInfo
	dataAs(t, resp, &conns)
	assert.Len(t, conns, 1)

	resp, _ = call(t, tl.handleDBDisconnect, map[string]interface{}{"name": "ff"})
	assert.True(t, resp.Success)
	resp, _ = call(t, tl.handleDBDisconnect, map[string]interface{}{"name": "ff"})
	assert.Equal(t, "not_found", resp.Code)
}

func TestRouterHealthz(t *testing.T) {
	f := newFixture(t)
	router := NewRouter(f.tools.deps, "test", nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["stores"])
}

func TestRouterServesMCP(t *testing.T) {
	f := newFixture(t)
	router := NewRouter(f.tools.deps, "test", nil)

	payload := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), Name)
}

func TestEditCreatesFoldersByDefault(t *testing.T) {
	tl := newFixture(t).tools

	resp, _ := call(t, tl.handleEdit, map[string]interface{}{
		"store": "chrome", "url": "https://example.com/", "newFolderPath": "Archive/New", "createFolders": false,
	})
	assert.Equal(t, "not_found", resp.Code)

	resp, _ = call(t, tl.handleEdit, map[string]interface{}{
		"store": "chrome", "url": "https://go.dev/", "newFolderPath": "Archive/Old",
	})
	require.True(t, resp.Success, resp.Message)
	var edited models.EditResult
	dataAs(t, resp, &edited)
	assert.True(t, edited.Moved)
	assert.Equal(t, []string{"Archive", "Old"}, edited.CreatedFolders)
	assert.True(t, strings.HasSuffix(edited.Node.Path, "Archive/Old"), edited.Node.Path)
}
