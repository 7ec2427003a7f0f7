package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/bookmarks"
	"github.com/prismon/mcp-bookmarks/pkg/netscape"
	"github.com/prismon/mcp-bookmarks/pkg/pathutil"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/sirupsen/logrus"
)

type tools struct {
	deps *Deps
}

// definitions lists every tool with its handler
func (t *tools) definitions() []server.ServerTool {
	return []server.ServerTool{
		{Tool: storesTool(), Handler: t.handleStores},
		{Tool: listTool(), Handler: t.handleList},
		{Tool: getTool(), Handler: t.handleGet},
		{Tool: addTool(), Handler: t.handleAdd},
		{Tool: editTool(), Handler: t.handleEdit},
		{Tool: deleteTool(), Handler: t.handleDelete},
		{Tool: searchTool(), Handler: t.handleSearch},
		{Tool: duplicatesTool(), Handler: t.handleDuplicates},
		{Tool: tagsTool(), Handler: t.handleTags},
		{Tool: tagsMergeTool(), Handler: t.handleTagsMerge},
		{Tool: tagsCleanupTool(), Handler: t.handleTagsCleanup},
		{Tool: statsTool(), Handler: t.handleStats},
		{Tool: syncTool(), Handler: t.handleSync},
		{Tool: exportTool(), Handler: t.handleExport},
		{Tool: importTool(), Handler: t.handleImport},
		{Tool: dbConnectTool(), Handler: t.handleDBConnect},
		{Tool: dbQueryTool(), Handler: t.handleDBQuery},
		{Tool: dbDisconnectTool(), Handler: t.handleDBDisconnect},
		{Tool: dbConnectionsTool(), Handler: t.handleDBConnections},
	}
}

func storeArg() mcp.ToolOption {
	return mcp.WithString("store",
		mcp.Required(),
		mcp.Description("Configured store name (see bookmark-stores)"),
	)
}

func (t *tools) open(ctx context.Context, store string) (*bookmarks.Model, error) {
	if strings.TrimSpace(store) == "" {
		return nil, storeerr.Validation("store is required")
	}
	return t.deps.Catalog.Open(ctx, store)
}

func refOf(id *int64, url string) models.Ref {
	return models.Ref{ID: id, URL: strings.TrimSpace(url)}
}

// Store tools

func storesTool() mcp.Tool {
	return mcp.NewTool("bookmark-stores",
		mcp.WithDescription("List the configured bookmark stores, whether their files exist and whether their browser is running"),
	)
}

func (t *tools) handleStores(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos := t.deps.Catalog.Describe(ctx)
	return success(fmt.Sprintf("%d stores configured", len(infos)), infos), nil
}

func listTool() mcp.Tool {
	return mcp.NewTool("bookmark-list",
		mcp.WithDescription("List bookmarks in tree order, optionally only those under one folder"),
		storeArg(),
		mcp.WithNumber("folderId",
			mcp.Description("Only list bookmarks below this folder"),
		),
	)
}

func (t *tools) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store    string `json:"store"`
		FolderID *int64 `json:"folderId,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}
	res, err := m.List(ctx, args.FolderID)
	if err != nil {
		return failure(err), nil
	}
	return success(fmt.Sprintf("%d bookmarks", len(res.Nodes)), res), nil
}

func getTool() mcp.Tool {
	return mcp.NewTool("bookmark-get",
		mcp.WithDescription("Get one bookmark or folder by id or url"),
		storeArg(),
		mcp.WithNumber("id", mcp.Description("Node id")),
		mcp.WithString("url", mcp.Description("Bookmark url, used when id is not given")),
	)
}

func (t *tools) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store string `json:"store"`
		ID    *int64 `json:"id,omitempty"`
		URL   string `json:"url,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}
	node, err := m.Get(ctx, refOf(args.ID, args.URL))
	if err != nil {
		return failure(err), nil
	}
	return success(node.Title, node), nil
}

func addTool() mcp.Tool {
	return mcp.NewTool("bookmark-add",
		mcp.WithDescription("Add a bookmark. Adding a url that is already bookmarked is a no-op unless allowDuplicates is set"),
		storeArg(),
		mcp.WithString("url", mcp.Required(), mcp.Description("Bookmark url")),
		mcp.WithString("title", mcp.Description("Title (default: the url)")),
		mcp.WithString("folderPath",
			mcp.Description("Slash-separated folder path; missing folders are created. The first segment may name a root"),
		),
		mcp.WithBoolean("allowDuplicates", mcp.Description("Add even if the url exists (default: false)")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags (places stores only)")),
	)
}

func (t *tools) handleAdd(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store           string `json:"store"`
		URL             string `json:"url"`
		Title           string `json:"title,omitempty"`
		FolderPath      string `json:"folderPath,omitempty"`
		AllowDuplicates bool   `json:"allowDuplicates,omitempty"`
		Tags            string `json:"tags,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}

	log.WithFields(logrus.Fields{"store": args.Store, "url": args.URL}).Info("Executing bookmark-add via MCP")
	res, err := m.Add(ctx, models.AddRequest{
		Title:           args.Title,
		URL:             args.URL,
		FolderPath:      args.FolderPath,
		AllowDuplicates: args.AllowDuplicates,
		Tags:            splitList(args.Tags),
	})
	if err != nil {
		return failure(err), nil
	}
	if res.Duplicate {
		return success("url is already bookmarked; nothing was added", res), nil
	}
	return success("bookmark added", res), nil
}

func editTool() mcp.Tool {
	return mcp.NewTool("bookmark-edit",
		mcp.WithDescription("Rename and/or move a bookmark or folder"),
		storeArg(),
		mcp.WithNumber("id", mcp.Description("Node id")),
		mcp.WithString("url", mcp.Description("Bookmark url, used when id is not given")),
		mcp.WithString("newTitle", mcp.Description("New title")),
		mcp.WithString("newFolderPath", mcp.Description("Destination folder path")),
		mcp.WithBoolean("createFolders", mcp.Description("Create missing destination folders (default: true)")),
		mcp.WithBoolean("dryRun", mcp.Description("Describe the change without writing (default: false)")),
	)
}

func (t *tools) handleEdit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store         string  `json:"store"`
		ID            *int64  `json:"id,omitempty"`
		URL           string  `json:"url,omitempty"`
		NewTitle      *string `json:"newTitle,omitempty"`
		NewFolderPath string  `json:"newFolderPath,omitempty"`
		CreateFolders *bool   `json:"createFolders,omitempty"`
		DryRun        bool    `json:"dryRun,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}
	res, err := m.Edit(ctx, models.EditRequest{
		Ref:           refOf(args.ID, args.URL),
		NewTitle:      args.NewTitle,
		NewFolderPath: args.NewFolderPath,
		CreateFolders: args.CreateFolders,
		DryRun:        args.DryRun,
	})
	if err != nil {
		return failure(err), nil
	}

	msg := "edit applied"
	if res.DryRun {
		msg = "dry run: nothing was written"
	}
	return success(msg, res), nil
}

func deleteTool() mcp.Tool {
	return mcp.NewTool("bookmark-delete",
		mcp.WithDescription("Delete a bookmark, or a folder with everything in it"),
		storeArg(),
		mcp.WithNumber("id", mcp.Description("Node id")),
		mcp.WithString("url", mcp.Description("Bookmark url, used when id is not given")),
		mcp.WithBoolean("dryRun", mcp.Description("Report what would be removed without writing (default: false)")),
	)
}

func (t *tools) handleDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store  string `json:"store"`
		ID     *int64 `json:"id,omitempty"`
		URL    string `json:"url,omitempty"`
		DryRun bool   `json:"dryRun,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}
	res, err := m.Delete(ctx, refOf(args.ID, args.URL), args.DryRun)
	if err != nil {
		return failure(err), nil
	}
	if res.DryRun {
		return success(fmt.Sprintf("dry run: %d nodes would be removed", res.Removed), res), nil
	}
	return success(fmt.Sprintf("%d nodes removed", res.Removed), res), nil
}

func searchTool() mcp.Tool {
	return mcp.NewTool("bookmark-search",
		mcp.WithDescription("Case-insensitive substring search. Title matches rank above url matches, which rank above tag matches"),
		storeArg(),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to look for; empty matches every bookmark")),
		mcp.WithString("fields", mcp.Description("Comma-separated fields: title, url, tags (default: title,url)")),
	)
}

func (t *tools) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store  string `json:"store"`
		Query  string `json:"query"`
		Fields string `json:"fields,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}
	hits, err := m.Search(ctx, args.Query, splitList(args.Fields))
	if err != nil {
		return failure(err), nil
	}
	return success(fmt.Sprintf("%d matches", len(hits)), hits), nil
}

func duplicatesTool() mcp.Tool {
	return mcp.NewTool("bookmark-duplicates",
		mcp.WithDescription("Group bookmarks that share a normalized url, or similar titles when a threshold below 1 is given"),
		storeArg(),
		mcp.WithNumber("threshold", mcp.Description("Title similarity from 0 to 1; 0 and 1 compare urls only")),
		mcp.WithBoolean("ignoreQuery", mcp.Description("Ignore url query strings when comparing")),
	)
}

func (t *tools) handleDuplicates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store       string   `json:"store"`
		Threshold   *float64 `json:"threshold,omitempty"`
		IgnoreQuery *bool    `json:"ignoreQuery,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}
	opts := m.DuplicateOptions()
	if args.Threshold != nil {
		opts.Threshold = *args.Threshold
	}
	if args.IgnoreQuery != nil {
		opts.IgnoreQuery = *args.IgnoreQuery
	}

	groups, err := m.FindDuplicates(ctx, opts)
	if err != nil {
		return failure(err), nil
	}
	return success(fmt.Sprintf("%d duplicate groups", len(groups)), groups), nil
}

// Tag tools

func tagsTool() mcp.Tool {
	return mcp.NewTool("bookmark-tags",
		mcp.WithDescription("List tags with the number of bookmarks using each"),
		storeArg(),
	)
}

func (t *tools) handleTags(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store string `json:"store"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}
	counts, err := m.Tags(ctx)
	if err != nil {
		return failure(err), nil
	}
	return success(fmt.Sprintf("%d tags", len(counts)), counts), nil
}

func tagsMergeTool() mcp.Tool {
	return mcp.NewTool("bookmark-tags-merge",
		mcp.WithDescription("Replace the source tags with the target tag on every bookmark"),
		storeArg(),
		mcp.WithString("sources", mcp.Required(), mcp.Description("Comma-separated tags to merge away")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Tag to merge into")),
		mcp.WithBoolean("dryRun", mcp.Description("Return the planned changes without writing (default: false)")),
	)
}

func (t *tools) handleTagsMerge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store   string `json:"store"`
		Sources string `json:"sources"`
		Target  string `json:"target"`
		DryRun  bool   `json:"dryRun,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}
	res, err := m.MergeTags(ctx, splitList(args.Sources), args.Target, args.DryRun)
	if err != nil {
		return failure(err), nil
	}
	return success(tagMessage(res), res), nil
}

func tagsCleanupTool() mcp.Tool {
	return mcp.NewTool("bookmark-tags-cleanup",
		mcp.WithDescription("Remove tags used by fewer than minCount bookmarks"),
		storeArg(),
		mcp.WithNumber("minCount", mcp.Description("Minimum usage to keep a tag (default: 2)")),
		mcp.WithBoolean("dryRun", mcp.Description("Return the planned changes without writing (default: false)")),
	)
}

func (t *tools) handleTagsCleanup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store    string `json:"store"`
		MinCount *int   `json:"minCount,omitempty"`
		DryRun   bool   `json:"dryRun,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}
	minCount := 2
	if args.MinCount != nil {
		minCount = *args.MinCount
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}
	res, err := m.CleanUpTags(ctx, minCount, args.DryRun)
	if err != nil {
		return failure(err), nil
	}
	return success(tagMessage(res), res), nil
}

func tagMessage(res *models.TagOperationResult) string {
	switch {
	case res.DryRun:
		return fmt.Sprintf("dry run: %d bookmarks would change", len(res.Changes))
	case res.Applied == nil:
		return "no changes needed"
	default:
		return fmt.Sprintf("%d of %d bookmarks updated", res.Applied.Succeeded, res.Applied.Attempted)
	}
}

func statsTool() mcp.Tool {
	return mcp.NewTool("bookmark-stats",
		mcp.WithDescription("Count bookmarks, folders, tags and unique urls in a store"),
		storeArg(),
	)
}

func (t *tools) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store string `json:"store"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}
	stats, err := m.Stats(ctx)
	if err != nil {
		return failure(err), nil
	}
	return success(fmt.Sprintf("%d bookmarks in %d folders", stats.Bookmarks, stats.Folders), stats), nil
}

// Sync and transfer tools

func syncTool() mcp.Tool {
	return mcp.NewTool("bookmark-sync",
		mcp.WithDescription("Copy bookmarks from one store into another. The full plan is computed before anything is written"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Store to copy from")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Store to copy into")),
		mcp.WithString("folderPath", mcp.Description("Folder in the target that receives the bookmarks")),
		mcp.WithBoolean("dryRun", mcp.Description("Return the plan without writing (default: false)")),
		mcp.WithBoolean("allowDuplicates", mcp.Description("Copy urls the target already has (default: false)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of bookmarks to copy")),
		mcp.WithNumber("maxFailureDetails", mcp.Description("Maximum number of failures reported in detail")),
	)
}

func (t *tools) handleSync(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Source            string `json:"source"`
		Target            string `json:"target"`
		FolderPath        string `json:"folderPath,omitempty"`
		DryRun            bool   `json:"dryRun,omitempty"`
		AllowDuplicates   bool   `json:"allowDuplicates,omitempty"`
		Limit             int    `json:"limit,omitempty"`
		MaxFailureDetails int    `json:"maxFailureDetails,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}
	req := models.SyncRequest{
		Source:            args.Source,
		Target:            args.Target,
		FolderPath:        args.FolderPath,
		DryRun:            args.DryRun,
		AllowDuplicates:   args.AllowDuplicates,
		Limit:             args.Limit,
		MaxFailureDetails: args.MaxFailureDetails,
	}

	source, err := t.open(ctx, req.Source)
	if err != nil {
		return failure(err), nil
	}
	target, err := t.open(ctx, req.Target)
	if err != nil {
		return failure(err), nil
	}

	res := t.deps.Sync.Sync(ctx, req, source, target)
	return render(Response{
		Success: res.Status != models.SyncStatusAborted,
		Message: res.Message,
		Code:    res.Code,
		Data:    res,
	}), nil
}

func exportTool() mcp.Tool {
	return mcp.NewTool("bookmark-export",
		mcp.WithDescription("Write a store to a Netscape bookmark HTML file that any browser can import"),
		storeArg(),
		mcp.WithString("path", mcp.Description("Output file (default: a timestamped file in the exports directory)")),
	)
}

func (t *tools) handleExport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store string `json:"store"`
		Path  string `json:"path,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}

	path := args.Path
	if path == "" {
		path = filepath.Join(t.deps.ExportDir, fmt.Sprintf("%s-%s.html", m.Name(), time.Now().Format("20060102-150405")))
	}
	written, err := ExportFile(ctx, m, path)
	if err != nil {
		return failure(err), nil
	}
	return success(fmt.Sprintf("exported %d bookmarks", written.Bookmarks), written), nil
}

// ExportSummary describes a written export
type ExportSummary struct {
	Path      string `json:"path"`
	Bookmarks int    `json:"bookmarks"`
}

// ExportFile writes the store behind m to path as Netscape HTML
func ExportFile(ctx context.Context, m *bookmarks.Model, path string) (*ExportSummary, error) {
	expanded, err := pathutil.ExpandPath(path)
	if err != nil {
		return nil, storeerr.Validation("invalid export path: %v", err)
	}
	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return nil, storeerr.FromFS(err, filepath.Dir(expanded))
	}
	f, err := os.Create(expanded)
	if err != nil {
		return nil, storeerr.FromFS(err, expanded)
	}
	n, err := netscape.Export(f, snap.Nodes)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, storeerr.FromFS(err, expanded)
	}

	log.WithFields(logrus.Fields{"store": m.Name(), "path": expanded, "bookmarks": n}).Info("Exported bookmarks")
	return &ExportSummary{Path: expanded, Bookmarks: n}, nil
}

func importTool() mcp.Tool {
	return mcp.NewTool("bookmark-import",
		mcp.WithDescription("Add the bookmarks of a Netscape bookmark HTML file to a store, keeping its folder structure"),
		storeArg(),
		mcp.WithString("path", mcp.Required(), mcp.Description("HTML file to import")),
		mcp.WithString("folderPrefix", mcp.Description("Folder path prepended to every imported folder")),
		mcp.WithBoolean("allowDuplicates", mcp.Description("Import urls the store already has (default: false)")),
		mcp.WithBoolean("dryRun", mcp.Description("Parse and count without writing (default: false)")),
	)
}

func (t *tools) handleImport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Store           string `json:"store"`
		Path            string `json:"path"`
		FolderPrefix    string `json:"folderPrefix,omitempty"`
		AllowDuplicates bool   `json:"allowDuplicates,omitempty"`
		DryRun          bool   `json:"dryRun,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	m, err := t.open(ctx, args.Store)
	if err != nil {
		return failure(err), nil
	}
	res, err := ImportFile(ctx, m, args.Path, netscape.ImportOptions{
		FolderPrefix:    args.FolderPrefix,
		AllowDuplicates: args.AllowDuplicates,
		DryRun:          args.DryRun,
	})
	if err != nil {
		return failure(err), nil
	}
	return success(fmt.Sprintf("imported %d of %d bookmarks", res.Succeeded, res.Attempted), res), nil
}

// ImportFile parses a Netscape HTML file and adds its bookmarks through m
func ImportFile(ctx context.Context, m *bookmarks.Model, path string, opts netscape.ImportOptions) (*models.BatchResult, error) {
	expanded, err := pathutil.ExpandFile(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(expanded)
	if err != nil {
		return nil, storeerr.FromFS(err, expanded)
	}
	defer f.Close()

	entries, err := netscape.Parse(f)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"store": m.Name(), "path": expanded, "entries": len(entries)}).Info("Importing bookmarks")
	return netscape.Import(ctx, m, entries, opts)
}
