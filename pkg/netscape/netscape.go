// Package netscape reads and writes the Netscape bookmark HTML format that
// every browser can import and export.
package netscape

import (
	"bufio"
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/prismon/mcp-bookmarks/internal/models"
	"github.com/prismon/mcp-bookmarks/pkg/nodeset"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	xhtml "golang.org/x/net/html"
)

const header = `<!DOCTYPE NETSCAPE-Bookmark-file-1>
<!-- This is an automatically generated file.
     It will be read and overwritten.
     DO NOT EDIT! -->
<META HTTP-EQUIV="Content-Type" CONTENT="text/html; charset=UTF-8">
<TITLE>Bookmarks</TITLE>
<H1>Bookmarks</H1>
`

// Export writes every root of set and everything below it. Returns the
// number of bookmarks written.
func Export(w io.Writer, set *nodeset.Set) (int, error) {
	bw := bufio.NewWriter(w)
	e := &exporter{w: bw, set: set}

	fmt.Fprint(bw, header)
	fmt.Fprint(bw, "<DL><p>\n")
	for _, root := range set.Roots() {
		e.folder(root, 1)
	}
	fmt.Fprint(bw, "</DL><p>\n")

	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return e.count, nil
}

type exporter struct {
	w     *bufio.Writer
	set   *nodeset.Set
	count int
}

func (e *exporter) folder(n models.BookmarkNode, depth int) {
	indent := strings.Repeat("    ", depth)
	fmt.Fprintf(e.w, "%s<DT><H3>%s</H3>\n", indent, html.EscapeString(n.Title))
	fmt.Fprintf(e.w, "%s<DL><p>\n", indent)
	for _, c := range e.set.Children(n.ID) {
		if c.IsFolder() {
			e.folder(c, depth+1)
			continue
		}
		e.bookmark(c, depth+1)
	}
	fmt.Fprintf(e.w, "%s</DL><p>\n", indent)
}

func (e *exporter) bookmark(n models.BookmarkNode, depth int) {
	indent := strings.Repeat("    ", depth)
	attrs := fmt.Sprintf(`HREF="%s"`, html.EscapeString(n.URL))
	if len(n.Tags) > 0 {
		attrs += fmt.Sprintf(` TAGS="%s"`, html.EscapeString(strings.Join(n.Tags, ",")))
	}
	fmt.Fprintf(e.w, "%s<DT><A %s>%s</A>\n", indent, attrs, html.EscapeString(n.Title))
	e.count++
}

// Entry is one bookmark read from an export file
type Entry struct {
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	FolderPath string   `json:"folder_path"`
	Tags       []string `json:"tags,omitempty"`
}

// Parse reads the bookmarks of an export file in document order. Each entry
// carries the slash-joined path of the folders enclosing it.
func Parse(r io.Reader) ([]Entry, error) {
	doc, err := xhtml.Parse(r)
	if err != nil {
		return nil, storeerr.Corrupt(err, "failed to parse bookmark html")
	}

	var entries []Entry
	var folders []string

	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode && n.Data == "h3" {
			folders = append(folders, strings.TrimSpace(textOf(n)))
		}

		if n.Type == xhtml.ElementNode && n.Data == "a" {
			e := Entry{Title: strings.TrimSpace(textOf(n)), FolderPath: strings.Join(folders, "/")}
			for _, attr := range n.Attr {
				switch attr.Key {
				case "href":
					e.URL = strings.TrimSpace(attr.Val)
				case "tags":
					for _, t := range strings.Split(attr.Val, ",") {
						if t = strings.TrimSpace(t); t != "" {
							e.Tags = append(e.Tags, t)
						}
					}
				}
			}
			if e.URL != "" {
				entries = append(entries, e)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		// Leaving a folder's list closes the folder
		if n.Type == xhtml.ElementNode && n.Data == "dl" && len(folders) > 0 {
			folders = folders[:len(folders)-1]
		}
	}
	walk(doc)

	return entries, nil
}

func textOf(n *xhtml.Node) string {
	var b strings.Builder
	var collect func(*xhtml.Node)
	collect = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return b.String()
}

// Adder receives imported bookmarks
type Adder interface {
	Add(ctx context.Context, req models.AddRequest) (*models.AddResult, error)
	Capabilities() models.Capabilities
}

// ImportOptions controls Import
type ImportOptions struct {
	// FolderPrefix is prepended to every entry's folder path
	FolderPrefix    string
	AllowDuplicates bool
	DryRun          bool
}

// Import adds entries one at a time and keeps going past failures. Tags are
// only passed on to stores that support them.
func Import(ctx context.Context, to Adder, entries []Entry, opts ImportOptions) (*models.BatchResult, error) {
	result := &models.BatchResult{}
	withTags := to.Capabilities().Tags

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Attempted++
		if opts.DryRun {
			result.Succeeded++
			continue
		}

		req := models.AddRequest{
			Title:           e.Title,
			URL:             e.URL,
			FolderPath:      joinPath(opts.FolderPrefix, e.FolderPath),
			AllowDuplicates: opts.AllowDuplicates,
		}
		if withTags {
			req.Tags = e.Tags
		}
		if _, err := to.Add(ctx, req); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, models.ItemFailure{
				URL:    e.URL,
				Code:   string(storeerr.CodeOf(err)),
				Reason: err.Error(),
			})
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

func joinPath(parts ...string) string {
	var segs []string
	for _, p := range parts {
		segs = append(segs, nodeset.SplitPath(p)...)
	}
	return strings.Join(segs, "/")
}
