package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/bookmarks"
	"github.com/prismon/mcp-bookmarks/pkg/home"
	"github.com/prismon/mcp-bookmarks/pkg/netscape"
	"github.com/prismon/mcp-bookmarks/pkg/server"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Mutation options
	title           string
	folderPath      string
	tags            string
	allowDuplicates bool
	createFolders   bool
	dryRun          bool

	// Query options
	folderID    int64
	fields      string
	threshold   float64
	ignoreQuery bool
	minCount    int
	limit       int
	outPath     string
)

func bookmarkCommands() []*cobra.Command {
	var storesCmd = &cobra.Command{
		Use:   "stores",
		Short: "List configured stores and whether their browser is running",
		Run:   runStores,
	}

	var discoverCmd = &cobra.Command{
		Use:   "discover",
		Short: "Find bookmark stores in the default browser profile locations",
		Run:   runDiscover,
	}

	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List bookmarks in tree order",
		Run:   runList,
	}
	listCmd.Flags().Int64Var(&folderID, "folder-id", 0, "Only list bookmarks below this folder")

	var addCmd = &cobra.Command{
		Use:   "add <url>",
		Short: "Add a bookmark",
		Args:  cobra.ExactArgs(1),
		Run:   runAdd,
	}
	addCmd.Flags().StringVar(&title, "title", "", "Title (default: the url)")
	addCmd.Flags().StringVar(&folderPath, "folder", "", "Slash-separated folder path, created as needed")
	addCmd.Flags().StringVar(&tags, "tags", "", "Comma-separated tags (places stores only)")
	addCmd.Flags().BoolVar(&allowDuplicates, "allow-duplicates", false, "Add even if the url is already bookmarked")

	var editCmd = &cobra.Command{
		Use:   "edit <id|url>",
		Short: "Rename and/or move a bookmark or folder",
		Args:  cobra.ExactArgs(1),
		Run:   runEdit,
	}
	editCmd.Flags().StringVar(&title, "title", "", "New title")
	editCmd.Flags().StringVar(&folderPath, "folder", "", "Destination folder path")
	editCmd.Flags().BoolVar(&createFolders, "create-folders", true, "Create missing destination folders")
	editCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Describe the change without writing")

	var deleteCmd = &cobra.Command{
		Use:   "delete <id|url>",
		Short: "Delete a bookmark, or a folder with its contents",
		Args:  cobra.ExactArgs(1),
		Run:   runDelete,
	}
	deleteCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be removed without writing")

	var searchCmd = &cobra.Command{
		Use:   "search <query>",
		Short: "Search titles and urls",
		Args:  cobra.ExactArgs(1),
		Run:   runSearch,
	}
	searchCmd.Flags().StringVar(&fields, "fields", "", "Comma-separated fields: title, url, tags")

	var dupesCmd = &cobra.Command{
		Use:   "dupes",
		Short: "Group duplicate bookmarks",
		Run:   runDupes,
	}
	dupesCmd.Flags().Float64Var(&threshold, "threshold", -1, "Title similarity from 0 to 1 (default: from config)")
	dupesCmd.Flags().BoolVar(&ignoreQuery, "ignore-query", false, "Ignore url query strings")

	var tagsCmd = &cobra.Command{
		Use:   "tags",
		Short: "List tags with usage counts",
		Run:   runTags,
	}
	var tagsMergeCmd = &cobra.Command{
		Use:   "merge <target> <source>...",
		Short: "Replace source tags with the target tag",
		Args:  cobra.MinimumNArgs(2),
		Run:   runTagsMerge,
	}
	tagsMergeCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the planned changes without writing")
	var tagsCleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove rarely used tags",
		Run:   runTagsCleanup,
	}
	tagsCleanupCmd.Flags().IntVar(&minCount, "min-count", 2, "Minimum usage to keep a tag")
	tagsCleanupCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the planned changes without writing")
	tagsCmd.AddCommand(tagsMergeCmd, tagsCleanupCmd)

	var statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Summarize a store",
		Run:   runStats,
	}

	var syncCmd = &cobra.Command{
		Use:   "sync <source> <target>",
		Short: "Copy bookmarks from one store into another",
		Args:  cobra.ExactArgs(2),
		Run:   runSync,
	}
	syncCmd.Flags().StringVar(&folderPath, "folder", "", "Folder in the target that receives the bookmarks")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without writing")
	syncCmd.Flags().BoolVar(&allowDuplicates, "allow-duplicates", false, "Copy urls the target already has")
	syncCmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of bookmarks to copy (default: from config)")

	var exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write a store as Netscape bookmark HTML",
		Run:   runExport,
	}
	exportCmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default: in the exports directory)")

	var importCmd = &cobra.Command{
		Use:   "import <file>",
		Short: "Add the bookmarks of a Netscape bookmark HTML file",
		Args:  cobra.ExactArgs(1),
		Run:   runImport,
	}
	importCmd.Flags().StringVar(&folderPath, "prefix", "", "Folder path prepended to every imported folder")
	importCmd.Flags().BoolVar(&allowDuplicates, "allow-duplicates", false, "Import urls the store already has")
	importCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Parse and count without writing")

	return []*cobra.Command{
		storesCmd, discoverCmd, listCmd, addCmd, editCmd, deleteCmd, searchCmd,
		dupesCmd, tagsCmd, statsCmd, syncCmd, exportCmd, importCmd,
	}
}

// openStore opens the store named by --store
func (a *app) openStore(cmd *cobra.Command) *bookmarks.Model {
	if store == "" {
		exitWith("No store selected", storeerr.Validation("pass --store; see the stores command"))
	}
	m, err := a.deps.Catalog.Open(cmd.Context(), store)
	if err != nil {
		exitWith("Failed to open store", err)
	}
	return m
}

// parseRef reads a node id, or a url when the argument is not a number
func parseRef(arg string) models.Ref {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return models.Ref{ID: &id}
	}
	return models.Ref{URL: arg}
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitWith("Failed to encode output", err)
	}
	fmt.Println(string(data))
}

func commandFailed(command string, err error) {
	msg := fmt.Sprintf("%s failed", command)
	if hint := storeerr.HintOf(err); hint != "" {
		msg += " (" + hint + ")"
	}
	exitWith(msg, err)
}

func runStores(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tEXISTS\tOWNER RUNNING\tPATH")
	for _, info := range a.deps.Catalog.Describe(cmd.Context()) {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", info.Name, info.Kind, info.Exists, info.OwnerRunning, info.Path)
	}
	w.Flush()
}

func runDiscover(cmd *cobra.Command, args []string) {
	found := home.DiscoverStores()
	if len(found) == 0 {
		fmt.Println("No bookmark stores found")
		return
	}
	printJSON(found)
}

func runList(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	var folder *int64
	if cmd.Flags().Changed("folder-id") {
		folder = &folderID
	}
	res, err := m.List(cmd.Context(), folder)
	if err != nil {
		commandFailed("list", err)
	}
	if res.PossiblyStale {
		fmt.Fprintf(os.Stderr, "Note: %s is in use; read via %s and may be stale\n", m.Name(), res.AccessMethod)
	}
	for _, n := range res.Nodes {
		fmt.Printf("%d\t%s\t%s\t%s\n", n.ID, n.Path, n.Title, n.URL)
	}
}

func runAdd(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	log.WithFields(logrus.Fields{"command": "add", "store": m.Name(), "url": args[0]}).Info("Executing command")
	res, err := m.Add(cmd.Context(), models.AddRequest{
		Title:           title,
		URL:             args[0],
		FolderPath:      folderPath,
		AllowDuplicates: allowDuplicates,
		Tags:            splitTags(tags),
	})
	if err != nil {
		commandFailed("add", err)
	}
	if res.Duplicate {
		fmt.Printf("Already bookmarked as %d in %s\n", res.Node.ID, res.Node.Path)
		return
	}
	fmt.Printf("Added %d in %s\n", res.Node.ID, res.Node.Path)
}

func splitTags(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func runEdit(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	req := models.EditRequest{
		Ref:           parseRef(args[0]),
		NewFolderPath: folderPath,
		CreateFolders: &createFolders,
		DryRun:        dryRun,
	}
	if title != "" {
		req.NewTitle = &title
	}
	res, err := m.Edit(cmd.Context(), req)
	if err != nil {
		commandFailed("edit", err)
	}
	printJSON(res)
}

func runDelete(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	res, err := m.Delete(cmd.Context(), parseRef(args[0]), dryRun)
	if err != nil {
		commandFailed("delete", err)
	}
	if res.DryRun {
		fmt.Printf("Would remove %d nodes (%s)\n", res.Removed, res.Node.Title)
		return
	}
	fmt.Printf("Removed %d nodes\n", res.Removed)
}

func runSearch(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	hits, err := m.Search(cmd.Context(), args[0], splitTags(fields))
	if err != nil {
		commandFailed("search", err)
	}
	for _, h := range hits {
		fmt.Printf("%d\t%s\t%s\t%s\n", h.Node.ID, h.Field, h.Node.Title, h.Node.URL)
	}
}

func runDupes(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	opts := m.DuplicateOptions()
	if threshold >= 0 {
		opts.Threshold = threshold
	}
	if ignoreQuery {
		opts.IgnoreQuery = true
	}
	groups, err := m.FindDuplicates(cmd.Context(), opts)
	if err != nil {
		commandFailed("dupes", err)
	}
	printJSON(groups)
}

func runTags(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	counts, err := m.Tags(cmd.Context())
	if err != nil {
		commandFailed("tags", err)
	}
	for _, c := range counts {
		fmt.Printf("%d\t%s\n", c.Count, c.Tag)
	}
}

func runTagsMerge(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	res, err := m.MergeTags(cmd.Context(), args[1:], args[0], dryRun)
	if err != nil {
		commandFailed("tags merge", err)
	}
	printJSON(res)
}

func runTagsCleanup(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	res, err := m.CleanUpTags(cmd.Context(), minCount, dryRun)
	if err != nil {
		commandFailed("tags cleanup", err)
	}
	printJSON(res)
}

func runStats(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	stats, err := m.Stats(cmd.Context())
	if err != nil {
		commandFailed("stats", err)
	}
	printJSON(stats)
}

func runSync(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()

	source, err := a.deps.Catalog.Open(ctx, args[0])
	if err != nil {
		commandFailed("sync", err)
	}
	target, err := a.deps.Catalog.Open(ctx, args[1])
	if err != nil {
		commandFailed("sync", err)
	}

	res := a.deps.Sync.Sync(ctx, models.SyncRequest{
		Source:          args[0],
		Target:          args[1],
		FolderPath:      folderPath,
		DryRun:          dryRun,
		AllowDuplicates: allowDuplicates,
		Limit:           limit,
	}, source, target)
	printJSON(res)
	if res.Status == models.SyncStatusAborted {
		os.Exit(1)
	}
}

func runExport(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	path := outPath
	if path == "" {
		path = filepath.Join(a.home.ExportsPath(), m.Name()+".html")
	}
	summary, err := server.ExportFile(cmd.Context(), m, path)
	if err != nil {
		commandFailed("export", err)
	}
	fmt.Printf("Exported %d bookmarks to %s\n", summary.Bookmarks, summary.Path)
}

func runImport(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()
	m := a.openStore(cmd)

	ctx, cancel := signalContext()
	defer cancel()

	res, err := server.ImportFile(ctx, m, args[0], netscape.ImportOptions{
		FolderPrefix:    folderPath,
		AllowDuplicates: allowDuplicates,
		DryRun:          dryRun,
	})
	if err != nil {
		commandFailed("import", err)
	}
	printJSON(res)
}
