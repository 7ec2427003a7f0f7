// Package database keeps named read-only connections to arbitrary SQLite
// files, opened through the lock-aware reader so that a database held by a
// running browser can still be inspected.
package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prismon/mcp-bookmarks/pkg/lockread"
	"github.com/prismon/mcp-bookmarks/pkg/logger"
	"github.com/prismon/mcp-bookmarks/pkg/pathutil"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
	"github.com/sirupsen/logrus"
)

var log *logrus.Entry

func init() {
	log = logger.WithName("db")
}

// DefaultMaxRows caps query results when the caller sets no limit
const DefaultMaxRows = 500

// readPrefixes are the statement keywords accepted by Query
var readPrefixes = []string{"select", "with", "explain", "pragma", "values"}

// Connection is a registered database
type Connection struct {
	Name        string
	Path        string
	ConnectedAt time.Time

	handle *lockread.Handle
}

// ConnectionInfo describes a registered connection
type ConnectionInfo struct {
	Name          string    `json:"name"`
	Path          string    `json:"path"`
	AccessMethod  string    `json:"access_method"`
	PossiblyStale bool      `json:"possibly_stale"`
	ConnectedAt   time.Time `json:"connected_at"`
	Tables        []string  `json:"tables,omitempty"`
}

// QueryResult holds the rows returned by a query
type QueryResult struct {
	Columns    []string                 `json:"columns"`
	Rows       []map[string]interface{} `json:"rows"`
	RowCount   int                      `json:"row_count"`
	Truncated  bool                     `json:"truncated"`
	DurationMs int64                    `json:"duration_ms"`
}

// Registry owns a set of named connections. The zero value is not usable;
// create one with NewRegistry and release it with CloseAll.
type Registry struct {
	reader *lockread.Reader
	conns  map[string]*Connection
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry that opens files through reader
func NewRegistry(reader *lockread.Reader) *Registry {
	return &Registry{
		reader: reader,
		conns:  make(map[string]*Connection),
	}
}

// Register opens path read-only under name. A file the owner holds locked
// is opened the way a running browser's store would be. Names are unique.
func (r *Registry) Register(ctx context.Context, name, path string, ownerRunning bool) (*ConnectionInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, storeerr.Validation("connection name is required")
	}
	if strings.TrimSpace(path) == "" {
		return nil, storeerr.Validation("database path is required")
	}

	r.mu.RLock()
	_, taken := r.conns[name]
	r.mu.RUnlock()
	if taken {
		return nil, storeerr.Validation("connection %q already exists", name)
	}

	expanded, err := pathutil.ExpandFile(path)
	if err != nil {
		return nil, err
	}

	h, err := r.reader.OpenForRead(ctx, expanded, ownerRunning)
	if errors.Is(err, storeerr.ErrLocked) && !ownerRunning {
		log.WithField("path", expanded).Debug("Database is locked, retrying as a locked store")
		h, err = r.reader.OpenForRead(ctx, expanded, true)
	}
	if err != nil {
		return nil, err
	}

	conn := &Connection{Name: name, Path: expanded, ConnectedAt: time.Now(), handle: h}

	r.mu.Lock()
	if _, taken := r.conns[name]; taken {
		r.mu.Unlock()
		h.Close()
		return nil, storeerr.Validation("connection %q already exists", name)
	}
	r.conns[name] = conn
	r.mu.Unlock()

	log.WithFields(logrus.Fields{
		"name":   name,
		"path":   expanded,
		"method": h.AccessMethod,
	}).Info("Registered database connection")

	info := conn.info()
	if tables, err := r.Tables(ctx, name); err == nil {
		info.Tables = tables
	}
	return &info, nil
}

func (c *Connection) info() ConnectionInfo {
	return ConnectionInfo{
		Name:          c.Name,
		Path:          c.Path,
		AccessMethod:  string(c.handle.AccessMethod),
		PossiblyStale: c.handle.PossiblyStale,
		ConnectedAt:   c.ConnectedAt,
	}
}

// Get returns the connection registered under name
func (r *Registry) Get(name string) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[name]
	if !ok {
		return nil, storeerr.NotFound("no connection named %q", name)
	}
	return conn, nil
}

// List describes every connection, sorted by name
func (r *Registry) List() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(r.conns))
	for _, c := range r.conns {
		infos = append(infos, c.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Tables lists the user tables of a connection
func (r *Registry) Tables(ctx context.Context, name string) ([]string, error) {
	conn, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	rows, err := conn.handle.DB().QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, lockread.Classify(err, conn.Path)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// Query runs a read-only statement and returns at most maxRows rows
func (r *Registry) Query(ctx context.Context, name, query string, args []interface{}, maxRows int) (*QueryResult, error) {
	if !isReadOnly(query) {
		return nil, storeerr.Validation("only read statements are allowed (%s)", strings.Join(readPrefixes, ", "))
	}
	conn, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	start := time.Now()
	rows, err := conn.handle.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError(err, conn.Path)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Columns: columns, Rows: []map[string]interface{}{}}
	for rows.Next() {
		if len(result.Rows) >= maxRows {
			result.Truncated = true
			break
		}
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(err, conn.Path)
	}

	result.RowCount = len(result.Rows)
	result.DurationMs = time.Since(start).Milliseconds()
	log.WithFields(logrus.Fields{
		"name":     name,
		"rows":     result.RowCount,
		"duration": result.DurationMs,
	}).Debug("Query executed")
	return result, nil
}

// queryError keeps SQL mistakes apart from file problems
func queryError(err error, path string) error {
	classified := lockread.Classify(err, path)
	if storeerr.CodeOf(classified) == storeerr.CodeInternal {
		return storeerr.Wrap(storeerr.CodeValidation, err, "query failed")
	}
	return classified
}

func isReadOnly(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, p := range readPrefixes {
		if strings.HasPrefix(q, p) {
			return true
		}
	}
	return false
}

// Close closes and unregisters one connection
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	conn, ok := r.conns[name]
	if ok {
		delete(r.conns, name)
	}
	r.mu.Unlock()

	if !ok {
		return storeerr.NotFound("no connection named %q", name)
	}
	log.WithField("name", name).Info("Closing database connection")
	return conn.handle.Close()
}

// CloseAll closes every connection and empties the registry
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	var errs []error
	for name, conn := range conns {
		if err := conn.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
